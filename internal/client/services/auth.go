package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/openemail/internal/client/client"
	"github.com/dmitrijs2005/openemail/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/openemail/internal/identity"
)

var ErrNotLoggedIn = errors.New("not logged in")

// AuthService manages the local user's identity.
//
// Contract:
//   - Register: generate fresh keys, provision the account on the user's
//     delegated hosts and persist the credentials locally.
//   - Authenticate: check existing credentials against the hosts and
//     persist them.
//   - CurrentUser: load the persisted credentials; ErrNotLoggedIn when
//     there are none.
//   - Logout: wipe locally cached metadata.
type AuthService interface {
	Register(ctx context.Context, addr identity.EmailAddress, name string) (*identity.LocalUser, error)
	Authenticate(ctx context.Context, creds identity.Credentials) (*identity.LocalUser, error)
	IsAddressAvailable(ctx context.Context, addr identity.EmailAddress) (bool, error)
	CurrentUser(ctx context.Context) (*identity.LocalUser, error)
	Logout(ctx context.Context) error
}

type authService struct {
	client client.Client
	db     *sql.DB
}

// NewAuthService constructs an AuthService bound to the given API client and DB.
func NewAuthService(client client.Client, db *sql.DB) AuthService {
	return &authService{client: client, db: db}
}

func (a *authService) getMetadataRepo() metadata.Repository {
	return metadata.NewSQLiteRepository(a.db)
}

func (a *authService) Register(ctx context.Context, addr identity.EmailAddress, name string) (*identity.LocalUser, error) {
	user, err := identity.GenerateLocalUser(addr, name)
	if err != nil {
		return nil, fmt.Errorf("key generation error: %w", err)
	}
	if err := a.client.Register(ctx, user); err != nil {
		return nil, fmt.Errorf("register error: %w", err)
	}
	if err := a.saveCredentials(ctx, user); err != nil {
		return nil, fmt.Errorf("credentials saving error: %w", err)
	}
	return user, nil
}

func (a *authService) Authenticate(ctx context.Context, creds identity.Credentials) (*identity.LocalUser, error) {
	user, err := identity.NewLocalUser(creds)
	if err != nil {
		return nil, err
	}
	if err := a.client.Authenticate(ctx, user); err != nil {
		return nil, fmt.Errorf("login error: %w", err)
	}
	if err := a.saveCredentials(ctx, user); err != nil {
		return nil, fmt.Errorf("credentials saving error: %w", err)
	}
	return user, nil
}

func (a *authService) IsAddressAvailable(ctx context.Context, addr identity.EmailAddress) (bool, error) {
	return a.client.IsAddressAvailable(ctx, addr)
}

func (a *authService) saveCredentials(ctx context.Context, user *identity.LocalUser) error {
	data, err := json.Marshal(user.Credentials())
	if err != nil {
		return err
	}
	return a.getMetadataRepo().Set(ctx, metadata.KeyCredentials, data)
}

func (a *authService) CurrentUser(ctx context.Context) (*identity.LocalUser, error) {
	data, err := a.getMetadataRepo().Get(ctx, metadata.KeyCredentials)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrNotLoggedIn
	}
	var creds identity.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("bad stored credentials: %w", err)
	}
	return identity.NewLocalUser(creds)
}

// Logout wipes locally cached metadata, credentials included.
func (a *authService) Logout(ctx context.Context) error {
	return a.getMetadataRepo().Clear(ctx)
}
