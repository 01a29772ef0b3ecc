package client

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/openemail/internal/common"
	"github.com/dmitrijs2005/openemail/internal/cryptox"
	"github.com/dmitrijs2005/openemail/internal/identity"
)

// FetchNotifications lists the notifications queued on every delegated
// host, deduplicated by id. Malformed lines are logged and skipped.
func (c *HTTPClient) FetchNotifications(ctx context.Context, user *identity.LocalUser) ([]RemoteNotification, error) {
	hosts, err := c.hosts(ctx, user.Address)
	if err != nil {
		return nil, err
	}

	results := WithAllRespondingHosts(ctx, hosts, func(ctx context.Context, host string) ([]string, error) {
		return c.lines(ctx, host, request{
			method: http.MethodGet,
			path:   homePath(user.Address, "notifications"),
			signer: user,
		})
	})
	if err := AnySucceeded(results, common.ErrRequestFailed); err != nil {
		return nil, err
	}

	var out []RemoteNotification
	seen := make(map[string]bool)
	for _, r := range results {
		if r.Err != nil {
			c.log.Warn(ctx, "notifications fetch failed", "host", r.Host, "error", r.Err)
			continue
		}
		for _, line := range r.Value {
			n, err := parseNotificationLine(line)
			if err != nil {
				c.log.Warn(ctx, "skipping notification", "host", r.Host, "error", err)
				continue
			}
			if seen[n.ID] {
				continue
			}
			seen[n.ID] = true
			out = append(out, n)
		}
	}
	return out, nil
}

func parseNotificationLine(line string) (RemoteNotification, error) {
	f := strings.Split(line, ",")
	if len(f) != 4 {
		return RemoteNotification{}, fmt.Errorf("%w: %d fields", ErrBadNotification, len(f))
	}
	n := RemoteNotification{
		ID:                strings.TrimSpace(f[0]),
		Link:              strings.TrimSpace(f[1]),
		SignerFingerprint: strings.TrimSpace(f[2]),
		Notifier:          strings.TrimSpace(f[3]),
	}
	if n.ID == "" || n.Link == "" || n.Notifier == "" {
		return RemoteNotification{}, fmt.Errorf("%w: empty field", ErrBadNotification)
	}
	return n, nil
}

// NotifyReader tells reader that user has new messages for it. The
// notifier is the user's address sealed to the reader's public key.
func (c *HTTPClient) NotifyReader(ctx context.Context, user *identity.LocalUser, reader identity.EmailAddress) error {
	profile, err := c.FetchProfile(ctx, reader, false)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", common.ErrInaccessibleReaders, reader, err)
	}
	if profile.EncryptionKey == nil {
		return fmt.Errorf("%w: %s has no encryption key", common.ErrInaccessibleReaders, reader)
	}

	sealed, err := cryptox.EncryptAnonymous([]byte(user.Address.String()), profile.EncryptionKey.Key)
	if err != nil {
		return err
	}
	body := base64.StdEncoding.EncodeToString(sealed)
	link := user.ConnectionLink(reader)

	hosts, err := c.hosts(ctx, reader)
	if err != nil {
		return err
	}
	results := WithAllRespondingHosts(ctx, hosts, func(ctx context.Context, host string) (struct{}, error) {
		return struct{}{}, c.exec(ctx, host, request{
			method: http.MethodPut,
			path:   mailPath(reader, "link", link, "notifications"),
			body:   strings.NewReader(body),
			size:   int64(len(body)),
			signer: user,
		})
	})
	return AnySucceeded(results, common.ErrRequestFailed)
}
