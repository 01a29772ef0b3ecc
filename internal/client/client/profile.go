package client

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/openemail/internal/client/models"
	"github.com/dmitrijs2005/openemail/internal/common"
	"github.com/dmitrijs2005/openemail/internal/identity"
)

const (
	maxProfileSize = 64 * 1024
	maxImageSize   = 8 * 1024 * 1024
)

// FetchProfile returns the published profile of addr, from cache unless
// force is set.
func (c *HTTPClient) FetchProfile(ctx context.Context, addr identity.EmailAddress, force bool) (*models.Profile, error) {
	key := addr.String()
	if !force {
		if p, ok := c.profiles.Get(key); ok {
			return p, nil
		}
	}

	hosts, err := c.hosts(ctx, addr)
	if err != nil {
		return nil, err
	}
	data, err := WithFirstRespondingHost(ctx, hosts, func(ctx context.Context, host string) ([]byte, error) {
		return c.readAll(ctx, host, request{method: http.MethodGet, path: mailPath(addr, "profile")}, maxProfileSize)
	})
	if err != nil {
		return nil, err
	}

	p := models.ParseProfile(addr, string(data))
	c.profiles.Add(key, p)
	return p, nil
}

func (c *HTTPClient) FetchProfileImage(ctx context.Context, addr identity.EmailAddress, force bool) ([]byte, error) {
	key := addr.String()
	if !force {
		if img, ok := c.images.Get(key); ok {
			return img, nil
		}
	}

	hosts, err := c.hosts(ctx, addr)
	if err != nil {
		return nil, err
	}
	img, err := WithFirstRespondingHost(ctx, hosts, func(ctx context.Context, host string) ([]byte, error) {
		return c.readAll(ctx, host, request{method: http.MethodGet, path: mailPath(addr, "image")}, maxImageSize)
	})
	if err != nil {
		return nil, err
	}
	c.images.Add(key, img)
	return img, nil
}

// UploadProfile publishes profile on every delegated host; one success is
// enough.
func (c *HTTPClient) UploadProfile(ctx context.Context, user *identity.LocalUser, profile *models.Profile) error {
	body := profile.Serialize()
	err := c.writeHome(ctx, user, http.MethodPut, func() request {
		return request{body: strings.NewReader(body), size: int64(len(body))}
	}, "profile")
	if err == nil {
		c.profiles.Remove(user.Address.String())
	}
	return err
}

func (c *HTTPClient) UploadProfileImage(ctx context.Context, user *identity.LocalUser, image []byte) error {
	err := c.writeHome(ctx, user, http.MethodPut, func() request {
		return request{body: bytes.NewReader(image), size: int64(len(image))}
	}, "image")
	if err == nil {
		c.images.Remove(user.Address.String())
	}
	return err
}

func (c *HTTPClient) DeleteProfileImage(ctx context.Context, user *identity.LocalUser) error {
	err := c.writeHome(ctx, user, http.MethodDelete, func() request { return request{} }, "image")
	if err == nil {
		c.images.Remove(user.Address.String())
	}
	return err
}

// writeHome sends an authenticated write under the user's home to every
// host and requires at least one success. mk builds a fresh body per host.
func (c *HTTPClient) writeHome(ctx context.Context, user *identity.LocalUser, method string, mk func() request, resource ...string) error {
	hosts, err := c.hosts(ctx, user.Address)
	if err != nil {
		return err
	}
	results := WithAllRespondingHosts(ctx, hosts, func(ctx context.Context, host string) (struct{}, error) {
		r := mk()
		r.method = method
		r.path = homePath(user.Address, resource...)
		r.signer = user
		return struct{}{}, c.exec(ctx, host, r)
	})
	return AnySucceeded(results, common.ErrRequestFailed)
}
