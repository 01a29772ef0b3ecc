package client

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/openemail/internal/attrs"
	"github.com/dmitrijs2005/openemail/internal/cryptox"
	"github.com/dmitrijs2005/openemail/internal/identity"
)

// StoreLink saves a contact on every delegated host. The address and
// broadcast preference are sealed to the user's own key so hosts only see
// the opaque link.
func (c *HTTPClient) StoreLink(ctx context.Context, user *identity.LocalUser, link RemoteLink) error {
	broadcasts := "No"
	if link.ReceiveBroadcasts {
		broadcasts = "Yes"
	}
	plain := attrs.Format(
		attrs.Pair{Key: "address", Value: link.Address.String()},
		attrs.Pair{Key: "broadcasts", Value: broadcasts},
	)
	sealed, err := cryptox.EncryptAnonymous([]byte(plain), user.PublicEncryptionKey)
	if err != nil {
		return err
	}
	body := base64.StdEncoding.EncodeToString(sealed)

	id := link.Link
	if id == "" {
		id = user.ConnectionLink(link.Address)
	}
	return c.writeHome(ctx, user, http.MethodPut, func() request {
		return request{body: strings.NewReader(body), size: int64(len(body))}
	}, "links", id)
}

// DeleteLink removes a contact link from every delegated host; one success
// is enough.
func (c *HTTPClient) DeleteLink(ctx context.Context, user *identity.LocalUser, contact identity.EmailAddress) error {
	return c.writeHome(ctx, user, http.MethodDelete, func() request { return request{} },
		"links", user.ConnectionLink(contact))
}

// FetchLinks lists the user's contact links from the first responding
// host. Links that fail to decrypt or parse are skipped.
func (c *HTTPClient) FetchLinks(ctx context.Context, user *identity.LocalUser) ([]RemoteLink, error) {
	hosts, err := c.hosts(ctx, user.Address)
	if err != nil {
		return nil, err
	}
	lines, err := WithFirstRespondingHost(ctx, hosts, func(ctx context.Context, host string) ([]string, error) {
		return c.lines(ctx, host, request{
			method: http.MethodGet,
			path:   homePath(user.Address, "links"),
			signer: user,
		})
	})
	if err != nil {
		return nil, err
	}

	out := make([]RemoteLink, 0, len(lines))
	for _, line := range lines {
		l, err := c.decodeLink(user, line)
		if err != nil {
			c.log.Warn(ctx, "skipping link", "error", err)
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (c *HTTPClient) decodeLink(user *identity.LocalUser, line string) (RemoteLink, error) {
	id, data, ok := strings.Cut(line, ",")
	if !ok || id == "" || data == "" {
		return RemoteLink{}, fmt.Errorf("%w: %q", ErrBadLinkAttributes, line)
	}
	sealed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data))
	if err != nil {
		return RemoteLink{}, fmt.Errorf("%w: %v", ErrBadLinkAttributes, err)
	}
	plain, err := user.DecryptAnonymous(sealed)
	if err != nil {
		return RemoteLink{}, err
	}
	a, err := attrs.Parse(string(plain))
	if err != nil {
		return RemoteLink{}, fmt.Errorf("%w: %v", ErrBadLinkAttributes, err)
	}
	addr, err := identity.ParseEmailAddress(a.Get("address"))
	if err != nil {
		return RemoteLink{}, fmt.Errorf("%w: %v", ErrBadLinkAttributes, err)
	}
	if user.ConnectionLink(addr) != strings.TrimSpace(id) {
		return RemoteLink{}, fmt.Errorf("%w: link does not match %s", ErrBadLinkAttributes, addr)
	}
	return RemoteLink{
		Link:              strings.TrimSpace(id),
		Address:           addr,
		ReceiveBroadcasts: strings.EqualFold(a.Get("broadcasts"), "Yes"),
	}, nil
}

