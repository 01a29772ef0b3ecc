package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/openemail/internal/client/models"
	"github.com/dmitrijs2005/openemail/internal/client/services"
	"github.com/dmitrijs2005/openemail/internal/common"
	"github.com/dmitrijs2005/openemail/internal/identity"
)

var (
	ErrAmbiguousID = errors.New("ambiguous message id")

	getMultiline = GetMultiline
)

const shortIDLen = 12

// stringList collects a repeatable flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// Send writes a new message:
//
//	send -to a@x,b@y [-s subject] [-b body] [-a file]...
//	send -broadcast [-s subject] [-b body] [-a file]...
//
// A missing subject or body is asked for interactively.
func (a *App) Send(ctx context.Context, args []string) error {
	s, err := a.session()
	if err != nil {
		return err
	}
	fs := newFlagSet("send", a.out)
	to := fs.String("to", "", "comma separated readers")
	broadcast := fs.Bool("broadcast", false, "send to everyone following you")
	subject := fs.String("s", "", "subject")
	body := fs.String("b", "", "body")
	var files stringList
	fs.Var(&files, "a", "attach a file (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req := services.SendRequest{Broadcast: *broadcast, Subject: *subject, Body: *body, Attachments: files}
	if !req.Broadcast {
		if *to == "" {
			return usageError("send -to <addresses> | -broadcast [-s subject] [-b body] [-a file]")
		}
		if req.Readers, err = identity.ParseAddressList(*to); err != nil {
			return err
		}
	}
	if err := a.askContent(&req); err != nil {
		return err
	}
	return a.send(ctx, s, req)
}

// Reply answers a message: reply <id> [-all] [-b body] [-a file]...
//
// The reply goes to the author, or with -all to every reader as well.
func (a *App) Reply(ctx context.Context, args []string) error {
	s, err := a.session()
	if err != nil {
		return err
	}
	fs := newFlagSet("reply", a.out)
	all := fs.Bool("all", false, "reply to every reader")
	body := fs.String("b", "", "body")
	var files stringList
	fs.Var(&files, "a", "attach a file (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError("reply <id> [-all] [-b body] [-a file]")
	}
	parent, err := a.resolve(ctx, s, fs.Arg(0))
	if err != nil {
		return err
	}

	readers := []identity.EmailAddress{parent.Author}
	if *all || parent.IsOutgoing(s.User.Address) {
		readers = append(readers, parent.Readers...)
	}
	subject := parent.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	req := services.SendRequest{
		Readers:     readers,
		Broadcast:   parent.IsBroadcast && parent.IsOutgoing(s.User.Address),
		Subject:     subject,
		Body:        *body,
		ParentID:    parent.ID,
		Category:    parent.Category,
		Attachments: files,
	}
	if req.Broadcast {
		req.Readers = nil
	}
	if err := a.askContent(&req); err != nil {
		return err
	}
	return a.send(ctx, s, req)
}

func (a *App) askContent(req *services.SendRequest) error {
	var err error
	if req.Subject == "" {
		if req.Subject, err = getSimpleText(a.reader, "Subject", a.out); err != nil {
			return err
		}
	}
	if req.Body == "" {
		if req.Body, err = getMultiline(a.reader, "Message", a.out); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) send(ctx context.Context, s *session, req services.SendRequest) error {
	req.Progress = func(done, total int) {
		fmt.Fprintf(a.out, "uploaded part %d/%d\n", done, total)
	}
	msg, err := s.messages.Send(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Sent %s\n", shortID(msg.ID))
	return nil
}

// List prints stored messages, newest first: list [-q text] [-unread].
func (a *App) List(ctx context.Context, args []string) error {
	s, err := a.session()
	if err != nil {
		return err
	}
	fs := newFlagSet("list", a.out)
	query := fs.String("q", "", "search subject, body and addresses")
	unread := fs.Bool("unread", false, "only unread messages")
	if err := fs.Parse(args); err != nil {
		return err
	}

	msgs, err := s.messages.List(ctx, *query)
	if err != nil {
		return err
	}
	shown := 0
	for _, m := range msgs {
		if *unread && m.IsRead {
			continue
		}
		fmt.Fprintln(a.out, summary(&m, s.User.Address))
		shown++
	}
	if shown == 0 {
		fmt.Fprintln(a.out, "No messages")
	}
	return nil
}

func summary(m *models.Message, me identity.EmailAddress) string {
	flag := " "
	if !m.IsRead {
		flag = "*"
	}
	who := m.Author.String()
	switch {
	case m.IsOutgoing(me) && m.IsBroadcast:
		who = "to everyone"
	case m.IsOutgoing(me):
		who = "to " + identity.JoinAddresses(m.Readers)
	}
	clip := ""
	if len(m.Attachments) > 0 {
		clip = fmt.Sprintf(" [%d file(s)]", len(m.Attachments))
	}
	return fmt.Sprintf("%s %s  %s  %-30s %s%s", flag, shortID(m.ID), m.Date.Local().Format("2006-01-02 15:04"),
		who, m.Subject, clip)
}

// Read prints a message and marks it as read: read <id>.
func (a *App) Read(ctx context.Context, args []string) error {
	s, err := a.session()
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return usageError("read <id>")
	}
	m, err := a.resolve(ctx, s, args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Id:      %s\n", m.ID)
	fmt.Fprintf(a.out, "From:    %s\n", m.Author)
	if m.IsBroadcast {
		fmt.Fprintln(a.out, "To:      everyone")
	} else {
		fmt.Fprintf(a.out, "To:      %s\n", identity.JoinAddresses(m.Readers))
	}
	fmt.Fprintf(a.out, "Date:    %s\n", m.Date.Local().Format(time.RFC1123))
	fmt.Fprintf(a.out, "Subject: %s\n", m.Subject)
	if m.IsOutgoing(s.User.Address) && !m.IsBroadcast {
		if pending := m.PendingReaders(); len(pending) > 0 {
			fmt.Fprintf(a.out, "Pending: %s\n", identity.JoinAddresses(pending))
		}
	}
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, m.Body)
	for _, att := range m.Attachments {
		state := ""
		if !att.IsComplete() {
			state = " (incomplete)"
		}
		fmt.Fprintf(a.out, "  attachment: %s  %s  %d bytes%s\n", att.FileName, att.MimeType, att.Size, state)
	}

	if !m.IsRead {
		return s.messages.MarkAsRead(ctx, m.ID, true)
	}
	return nil
}

// Recall removes an outgoing message from every host: recall <id>.
func (a *App) Recall(ctx context.Context, args []string) error {
	s, err := a.session()
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return usageError("recall <id>")
	}
	m, err := a.resolve(ctx, s, args[0])
	if err != nil {
		return err
	}
	if err := s.messages.Recall(ctx, m.ID); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Recalled %s\n", shortID(m.ID))
	return nil
}

// Delete removes a message locally: delete <id>.
func (a *App) Delete(ctx context.Context, args []string) error {
	s, err := a.session()
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return usageError("delete <id>")
	}
	m, err := a.resolve(ctx, s, args[0])
	if err != nil {
		return err
	}
	if !confirm(a.reader, fmt.Sprintf("Delete %q?", m.Subject), a.out) {
		return nil
	}
	if err := s.messages.Delete(ctx, m.ID); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted %s\n", shortID(m.ID))
	return nil
}

// Download fetches an attachment and prints part progress: download <id> <file>.
func (a *App) Download(ctx context.Context, args []string) error {
	s, err := a.session()
	if err != nil {
		return err
	}
	if len(args) != 2 {
		return usageError("download <id> <file>")
	}
	m, err := a.resolve(ctx, s, args[0])
	if err != nil {
		return err
	}
	handle, err := s.attachments.Download(ctx, m.ID, args[1])
	if err != nil {
		return err
	}

	type result struct {
		p   services.DownloadProgress
		err error
	}
	done := make(chan result, 1)
	go func() {
		p, err := s.attachments.Wait(ctx, handle)
		done <- result{p, err}
	}()

	for {
		select {
		case p := <-s.attachments.Progress():
			if p.Handle == handle && !p.Done {
				fmt.Fprintf(a.out, "%s: part %d/%d\n", p.FileName, p.PartsDone, p.TotalParts)
			}
		case r := <-done:
			if r.err != nil {
				_ = s.attachments.Cancel(handle)
				return r.err
			}
			if r.p.Err != nil {
				return r.p.Err
			}
			fmt.Fprintf(a.out, "Saved %s\n", r.p.Path)
			return nil
		}
	}
}

// resolve finds a message by full id or by a unique id prefix.
func (a *App) resolve(ctx context.Context, s *session, id string) (*models.Message, error) {
	m, err := s.messages.Get(ctx, id)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}

	all, err := s.messages.List(ctx, "")
	if err != nil {
		return nil, err
	}
	var found *models.Message
	for i := range all {
		if !strings.HasPrefix(all[i].ID, id) {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%w: %s", ErrAmbiguousID, id)
		}
		found = &all[i]
	}
	if found == nil {
		return nil, fmt.Errorf("message %s: %w", id, common.ErrorNotFound)
	}
	return s.messages.Get(ctx, found.ID)
}

func shortID(id string) string {
	if len(id) > shortIDLen {
		return id[:shortIDLen]
	}
	return id
}
