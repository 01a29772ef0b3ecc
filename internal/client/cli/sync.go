package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/openemail/internal/identity"
)

// Sync runs a full sync pass and prints what changed.
func (a *App) Sync(ctx context.Context, _ []string) error {
	s, err := a.session()
	if err != nil {
		return err
	}
	r, err := a.runSync(ctx, s)
	fmt.Fprintf(a.out, "contacts: %d, notifications: %d, processed: %d, messages: %d, deliveries: %d\n",
		r.Contacts, r.Notifications, r.Processed, r.Messages, r.Deliveries)
	if len(r.Synced) > 0 {
		fmt.Fprintf(a.out, "synced from: %s\n", identity.JoinAddresses(r.Synced))
	}
	return err
}

// Status prints the signed-in address, the unread count and the last
// successful sync.
func (a *App) Status(ctx context.Context, _ []string) error {
	s, err := a.session()
	if err != nil {
		fmt.Fprintln(a.out, "Not signed in")
		return nil
	}
	msgs, err := s.messages.List(ctx, "")
	if err != nil {
		return err
	}
	unread := 0
	for _, m := range msgs {
		if !m.IsRead {
			unread++
		}
	}
	last, err := s.sync.LastSync(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Signed in as %s\n", s.User.Address)
	fmt.Fprintf(a.out, "Messages: %d (%d unread)\n", len(msgs), unread)
	if last.IsZero() {
		fmt.Fprintln(a.out, "Last sync: never")
	} else {
		fmt.Fprintf(a.out, "Last sync: %s\n", last.Local().Format(time.RFC1123))
	}
	return nil
}
