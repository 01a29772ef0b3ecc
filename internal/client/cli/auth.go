package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/openemail/internal/common"
	"github.com/dmitrijs2005/openemail/internal/identity"
)

// getSimpleText and getSecret are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var (
	getSimpleText = GetSimpleText
	getSecret     = GetSecret
)

// newFlagSet returns a flag set that reports errors instead of exiting.
func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

// Register creates an account: register <address> [name].
//
// The address is checked for availability first. Fresh keys are generated,
// published and stored locally; the new session starts right away.
func (a *App) Register(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("register <address> [name]")
	}
	addr, err := identity.ParseEmailAddress(args[0])
	if err != nil {
		return err
	}
	name := joinWords(args[1:])

	ok, err := a.auth.IsAddressAvailable(ctx, addr)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", common.ErrAccountAlreadyExists, addr)
	}

	user, err := a.auth.Register(ctx, addr, name)
	if err != nil {
		return err
	}
	a.startSession(user)
	fmt.Fprintf(a.out, "Registered %s. Export your credentials with 'whoami -export' to sign in elsewhere.\n", addr)
	return nil
}

// Login signs in with exported credentials: login [-f file].
//
// Without -f the credentials JSON is read from the terminal without echo.
func (a *App) Login(ctx context.Context, args []string) error {
	fs := newFlagSet("login", a.out)
	file := fs.String("f", "", "credentials file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if *file != "" {
		data, err = os.ReadFile(*file)
	} else {
		data, err = getSecret(a.out, "Paste credentials")
	}
	if err != nil {
		return err
	}
	defer common.WipeByteArray(data)

	var creds identity.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return fmt.Errorf("bad credentials: %w", err)
	}
	user, err := a.auth.Authenticate(ctx, creds)
	if err != nil {
		return err
	}
	a.startSession(user)
	fmt.Fprintf(a.out, "Signed in as %s\n", user.Address)
	return nil
}

// Logout forgets the stored credentials and ends the session.
func (a *App) Logout(ctx context.Context, _ []string) error {
	if err := a.auth.Logout(ctx); err != nil {
		return err
	}
	a.endSession()
	fmt.Fprintln(a.out, "Signed out")
	return nil
}

// WhoAmI prints the signed-in identity: whoami [-export].
//
// With -export the full credentials, private keys included, are printed as
// JSON for 'login' on another device.
func (a *App) WhoAmI(_ context.Context, args []string) error {
	s, err := a.session()
	if err != nil {
		return err
	}
	fs := newFlagSet("whoami", a.out)
	export := fs.Bool("export", false, "print credentials JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	u := s.User
	if *export {
		data, err := json.MarshalIndent(u.Credentials(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, string(data))
		return nil
	}
	fmt.Fprintf(a.out, "Address:     %s\n", u.Address)
	if u.Name != "" {
		fmt.Fprintf(a.out, "Name:        %s\n", u.Name)
	}
	fmt.Fprintf(a.out, "Key id:      %s\n", u.PublicEncryptionKeyID)
	fmt.Fprintf(a.out, "Fingerprint: %s\n", u.SigningKeyFingerprint)
	return nil
}
