package cli

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/openemail/internal/identity"
)

const contactsUsage = "contacts [list] | add <address> [-broadcasts] | remove <address>"

// Contacts manages the address book:
//
//	contacts [list]
//	contacts add <address> [-broadcasts]
//	contacts remove <address>
func (a *App) Contacts(ctx context.Context, args []string) error {
	s, err := a.session()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		args = []string{"list"}
	}

	switch args[0] {
	case "list", "ls":
		list, err := s.contacts.List(ctx)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(a.out, "No contacts")
			return nil
		}
		for _, c := range list {
			b := ""
			if c.ReceiveBroadcasts {
				b = "  (broadcasts)"
			}
			name := c.CachedName
			if name == "" {
				name = "-"
			}
			fmt.Fprintf(a.out, "%-30s %s%s\n", c.Address, name, b)
		}
		return nil

	case "add":
		fs := newFlagSet("contacts add", a.out)
		broadcasts := fs.Bool("broadcasts", false, "receive the contact's broadcasts")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return usageError(contactsUsage)
		}
		addr, err := identity.ParseEmailAddress(fs.Arg(0))
		if err != nil {
			return err
		}
		c, err := s.contacts.Add(ctx, addr, *broadcasts)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Added %s\n", c.Address)
		return nil

	case "remove", "rm":
		if len(args) != 2 {
			return usageError(contactsUsage)
		}
		addr, err := identity.ParseEmailAddress(args[1])
		if err != nil {
			return err
		}
		if err := s.contacts.Remove(ctx, addr); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Removed %s\n", addr)
		return nil
	}
	return usageError(contactsUsage)
}
