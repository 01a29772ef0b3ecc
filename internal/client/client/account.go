package client

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/openemail/internal/client/models"
	"github.com/dmitrijs2005/openemail/internal/common"
	"github.com/dmitrijs2005/openemail/internal/identity"
)

// Register provisions the account on every delegated host. A 409 from any
// host means the address is taken.
func (c *HTTPClient) Register(ctx context.Context, user *identity.LocalUser) error {
	hosts, err := c.hosts(ctx, user.Address)
	if err != nil {
		return err
	}

	body := models.NewOwnProfile(user, time.Now()).Serialize()
	path := "/account/" + user.Address.HostPart() + "/" + user.Address.LocalPart()

	results := WithAllRespondingHosts(ctx, hosts, func(ctx context.Context, host string) (struct{}, error) {
		return struct{}{}, c.exec(ctx, host, request{
			method: http.MethodPost,
			path:   path,
			body:   strings.NewReader(body),
			size:   int64(len(body)),
			signer: user,
		})
	})
	for _, r := range results {
		if errors.Is(r.Err, common.ErrAccountAlreadyExists) {
			return common.ErrAccountAlreadyExists
		}
	}
	return AnySucceeded(results, common.ErrRequestFailed)
}

// IsAddressAvailable reports whether no delegated host knows the address.
func (c *HTTPClient) IsAddressAvailable(ctx context.Context, addr identity.EmailAddress) (bool, error) {
	hosts, err := c.hosts(ctx, addr)
	if err != nil {
		return false, err
	}
	path := "/account/" + addr.HostPart() + "/" + addr.LocalPart()

	taken, err := WithFirstRespondingHost(ctx, hosts, func(ctx context.Context, host string) (bool, error) {
		err := c.exec(ctx, host, request{method: http.MethodHead, path: path})
		if errors.Is(err, common.ErrorNotFound) {
			return false, nil
		}
		return err == nil, err
	})
	if err != nil {
		return false, err
	}
	return !taken, nil
}

// Authenticate checks that a delegated host accepts the user's signed nonce.
func (c *HTTPClient) Authenticate(ctx context.Context, user *identity.LocalUser) error {
	hosts, err := c.hosts(ctx, user.Address)
	if err != nil {
		return err
	}
	_, err = WithFirstRespondingHost(ctx, hosts, func(ctx context.Context, host string) (struct{}, error) {
		return struct{}{}, c.exec(ctx, host, request{
			method: http.MethodHead,
			path:   homePath(user.Address),
			signer: user,
		})
	})
	if errors.Is(err, ErrUnauthorized) {
		return ErrUnauthorized
	}
	return err
}
