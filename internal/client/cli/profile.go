package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dmitrijs2005/openemail/internal/client/models"
	"github.com/dmitrijs2005/openemail/internal/identity"
)

const profileUsage = "profile [show [-f] [address]] | set <attribute> [value...] | image <file> | image -delete"

// Profile shows and edits published profiles:
//
//	profile show [-f] [address]
//	profile set <attribute> [value...]   (an empty value clears it)
//	profile image <file>
//	profile image -delete
func (a *App) Profile(ctx context.Context, args []string) error {
	s, err := a.session()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		args = []string{"show"}
	}

	switch args[0] {
	case "show":
		fs := newFlagSet("profile show", a.out)
		force := fs.Bool("f", false, "bypass the profile cache")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		addr := s.User.Address
		if fs.NArg() > 0 {
			if addr, err = identity.ParseEmailAddress(fs.Arg(0)); err != nil {
				return err
			}
		}
		p, err := s.profiles.Fetch(ctx, addr, *force)
		if err != nil {
			return err
		}
		a.printProfile(p)
		return nil

	case "set":
		if len(args) < 2 {
			return usageError(profileUsage)
		}
		attr, ok := models.LookupProfileAttribute(args[1])
		if !ok {
			return fmt.Errorf("unknown attribute %q", args[1])
		}
		p, err := s.profiles.UpdateOwn(ctx, map[models.ProfileAttribute]string{
			attr: strings.Join(args[2:], " "),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%s: %s\n", attr, p.Value(attr))
		return nil

	case "image":
		fs := newFlagSet("profile image", a.out)
		del := fs.Bool("delete", false, "remove the profile image")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *del {
			if err := s.profiles.DeleteImage(ctx); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Profile image removed")
			return nil
		}
		if fs.NArg() != 1 {
			return usageError(profileUsage)
		}
		data, err := os.ReadFile(fs.Arg(0))
		if err != nil {
			return fmt.Errorf("error reading image: %w", err)
		}
		if err := s.profiles.SetImage(ctx, data); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Profile image uploaded (%d bytes)\n", len(data))
		return nil
	}
	return usageError(profileUsage)
}

func (a *App) printProfile(p *models.Profile) {
	fmt.Fprintf(a.out, "%s <%s>\n", p.Name(), p.Address)
	for _, attr := range models.ProfileAttributes() {
		if attr == models.ProfileName {
			continue
		}
		if v := p.Value(attr); v != "" {
			fmt.Fprintf(a.out, "  %-20s %s\n", attr+":", v)
		}
	}
}
