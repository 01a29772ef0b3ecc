package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/openemail/internal/client/models"
	"github.com/dmitrijs2005/openemail/internal/common"
	"github.com/dmitrijs2005/openemail/internal/envelope"
	"github.com/dmitrijs2005/openemail/internal/identity"
)

// Downloaded is an authenticated, decrypted message segment.
type Downloaded struct {
	Host      string
	Envelope  *envelope.Envelope
	Headers   *envelope.ContentHeaders
	AccessKey []byte
	// Path holds the plaintext payload.
	Path string
}

func (c *HTTPClient) backoff() retry.Backoff {
	return retry.WithMaxRetries(uint64(c.opts.RetryAttempts-1), retry.NewConstant(c.opts.RetryDelay))
}

// listIDs unions the id listings of every host, keeping first-seen order.
func (c *HTTPClient) listIDs(ctx context.Context, owner identity.EmailAddress, r request) ([]string, error) {
	hosts, err := c.hosts(ctx, owner)
	if err != nil {
		return nil, err
	}
	results := WithAllRespondingHosts(ctx, hosts, func(ctx context.Context, host string) ([]string, error) {
		return c.lines(ctx, host, r)
	})
	if err := AnySucceeded(results, common.ErrRequestFailed); err != nil {
		return nil, err
	}

	var ids []string
	seen := make(map[string]bool)
	for _, res := range results {
		for _, id := range res.Value {
			if !common.IsValidMessageID(id) {
				c.log.Warn(ctx, "skipping message id", "host", res.Host, "id", id)
				continue
			}
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// FetchLocalMessageIDs lists the user's own outbox.
func (c *HTTPClient) FetchLocalMessageIDs(ctx context.Context, user *identity.LocalUser) ([]string, error) {
	return c.listIDs(ctx, user.Address, request{
		method: http.MethodGet,
		path:   homePath(user.Address, "messages"),
		signer: user,
	})
}

// FetchLinkMessageIDs lists the messages author addressed to the user.
func (c *HTTPClient) FetchLinkMessageIDs(ctx context.Context, user *identity.LocalUser, author identity.EmailAddress) ([]string, error) {
	return c.listIDs(ctx, author, request{
		method: http.MethodGet,
		path:   mailPath(author, "link", user.ConnectionLink(author), "messages"),
		signer: user,
	})
}

// FetchBroadcastMessageIDs lists the public messages of author.
func (c *HTTPClient) FetchBroadcastMessageIDs(ctx context.Context, user *identity.LocalUser, author identity.EmailAddress) ([]string, error) {
	return c.listIDs(ctx, author, request{
		method: http.MethodGet,
		path:   mailPath(author, "messages"),
		signer: user,
	})
}

func messagePath(user *identity.LocalUser, loc Location, author identity.EmailAddress, id string) (string, identity.EmailAddress) {
	switch loc {
	case LocationLink:
		return mailPath(author, "link", user.ConnectionLink(author), "messages", id), author
	case LocationBroadcast:
		return mailPath(author, "messages", id), author
	default:
		return homePath(user.Address, "messages", id), user.Address
	}
}

// DownloadMessage fetches one message segment to destPath. The envelope is
// authenticated against the author's profile and the content headers are
// opened before the payload is requested. Network failures are retried;
// integrity failures are not.
func (c *HTTPClient) DownloadMessage(ctx context.Context, user *identity.LocalUser, loc Location, author identity.EmailAddress, id, destPath string) (*Downloaded, error) {
	return c.download(ctx, user, loc, author, id, destPath)
}

// FetchMessageHeaders authenticates and opens the envelope of a message
// without transferring its payload.
func (c *HTTPClient) FetchMessageHeaders(ctx context.Context, user *identity.LocalUser, loc Location, author identity.EmailAddress, id string) (*Downloaded, error) {
	return c.download(ctx, user, loc, author, id, "")
}

// download runs the envelope and payload sequence under retry. An empty
// destPath stops after the content headers.
func (c *HTTPClient) download(ctx context.Context, user *identity.LocalUser, loc Location, author identity.EmailAddress, id, destPath string) (*Downloaded, error) {
	if err := checkMessageID(id); err != nil {
		return nil, err
	}
	if loc == LocationLocal {
		author = user.Address
	}
	path, owner := messagePath(user, loc, author, id)

	hosts, err := c.hosts(ctx, owner)
	if err != nil {
		return nil, err
	}
	profile, err := c.FetchProfile(ctx, author, false)
	if err != nil {
		return nil, fmt.Errorf("author profile %s: %w", author, err)
	}

	var out *Downloaded
	err = retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		d, err := c.openEnvelope(ctx, user, hosts, path, profile, id)
		if err == nil && destPath != "" {
			err = c.downloadPayload(ctx, user, path, d, destPath)
		}
		if err == nil {
			out = d
			return nil
		}
		return c.retryDownload(ctx, id, err)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DownloadPayload fetches the payload of a segment whose envelope was
// already opened by FetchMessageHeaders, from the host that served it.
func (c *HTTPClient) DownloadPayload(ctx context.Context, user *identity.LocalUser, loc Location, author identity.EmailAddress, d *Downloaded, destPath string) error {
	if loc == LocationLocal {
		author = user.Address
	}
	id := d.Envelope.MessageID
	path, _ := messagePath(user, loc, author, id)

	return retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		err := c.downloadPayload(ctx, user, path, d, destPath)
		if err == nil {
			return nil
		}
		return c.retryDownload(ctx, id, err)
	})
}

// retryDownload marks transport failures retryable. Integrity, access and
// missing-message errors are final.
func (c *HTTPClient) retryDownload(ctx context.Context, id string, err error) error {
	if ctx.Err() != nil || envelope.IsIntegrityError(err) || errors.Is(err, common.ErrorNotFound) ||
		errors.Is(err, ErrUnauthorized) {
		return err
	}
	c.log.Debug(ctx, "message download failed, retrying", "id", id, "error", err)
	return retry.RetryableError(err)
}

func checkMessageID(id string) error {
	if !common.IsValidMessageID(id) {
		return fmt.Errorf("%w: %q", ErrBadMessageID, id)
	}
	return nil
}

// openEnvelope reads the envelope from the first responding host, asserts
// its authenticity and opens the content headers.
func (c *HTTPClient) openEnvelope(ctx context.Context, user *identity.LocalUser, hosts []string, path string,
	author *models.Profile, id string) (*Downloaded, error) {

	type head struct {
		host string
		env  *envelope.Envelope
	}
	h, err := WithFirstRespondingHost(ctx, hosts, func(ctx context.Context, host string) (head, error) {
		resp, err := c.do(ctx, host, request{method: http.MethodHead, path: path, signer: user})
		if err != nil {
			return head{}, err
		}
		resp.Body.Close()
		env, err := envelope.ParseHeaders(resp.Header)
		if err != nil {
			return head{}, err
		}
		return head{host: host, env: env}, nil
	})
	if err != nil {
		return nil, err
	}

	env := h.env
	if env.MessageID != id {
		return nil, fmt.Errorf("%w: envelope id %q for %q", envelope.ErrBadHeaderFormat, env.MessageID, id)
	}
	if err := env.AssertAuthenticity(author); err != nil {
		return nil, err
	}
	key, err := env.AccessKey(user, author.Address)
	if err != nil {
		return nil, err
	}
	headers, err := env.OpenContentHeaders(key)
	if err != nil {
		return nil, err
	}
	if headers.Author != author.Address {
		return nil, fmt.Errorf("%w: author %s, expected %s", envelope.ErrBadContentHeaders, headers.Author, author.Address)
	}
	return &Downloaded{Host: h.host, Envelope: env, Headers: headers, AccessKey: key}, nil
}

// downloadPayload streams the payload from the host that served the
// envelope, decrypts it to destPath and checks it against the content
// headers.
func (c *HTTPClient) downloadPayload(ctx context.Context, user *identity.LocalUser, path string, d *Downloaded, destPath string) error {
	tmp := filepath.Join(filepath.Dir(destPath), "."+uuid.NewString()+".download")
	defer os.Remove(tmp)
	if err := c.fetchPayload(ctx, d.Host, user, path, tmp); err != nil {
		return err
	}
	if err := d.Envelope.OpenPayload(tmp, destPath, d.AccessKey); err != nil {
		return err
	}
	if err := envelope.VerifyPayload(d.Headers, destPath); err != nil {
		os.Remove(destPath)
		return err
	}
	d.Path = destPath
	return nil
}

func (c *HTTPClient) fetchPayload(ctx context.Context, host string, user *identity.LocalUser, path, dst string) error {
	resp, err := c.do(ctx, host, request{method: http.MethodGet, path: path, signer: user})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	// Room for the cipher overhead of a full-size segment.
	limit := 2 * common.MaxMessageSize
	if _, err := io.Copy(f, io.LimitReader(resp.Body, limit)); err != nil {
		f.Close()
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return f.Close()
}

// UploadMessage posts the envelope and payload to every delegated host of
// the user. Each host is retried; one success is enough.
func (c *HTTPClient) UploadMessage(ctx context.Context, user *identity.LocalUser, env *envelope.Envelope, payload Payload) error {
	hosts, err := c.hosts(ctx, user.Address)
	if err != nil {
		return err
	}

	results := WithAllRespondingHosts(ctx, hosts, func(ctx context.Context, host string) (struct{}, error) {
		return struct{}{}, retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
			body, err := payload.Open()
			if err != nil {
				return err
			}
			defer body.Close()

			err = c.exec(ctx, host, request{
				method: http.MethodPost,
				path:   homePath(user.Address, "messages"),
				body:   body,
				size:   payload.Size(),
				header: env.Header(),
				signer: user,
			})
			if err == nil || ctx.Err() != nil || errors.Is(err, ErrUnauthorized) {
				return err
			}
			return retry.RetryableError(err)
		})
	})
	if err := ctx.Err(); err != nil {
		return err
	}
	return AnySucceeded(results, common.ErrUploadFailure)
}

// RecallMessage deletes a message from every delegated host. Any host
// failing fails the recall; a host that no longer holds the message counts
// as done so a failed recall can be repeated.
func (c *HTTPClient) RecallMessage(ctx context.Context, user *identity.LocalUser, id string) error {
	if err := checkMessageID(id); err != nil {
		return err
	}
	hosts, err := c.hosts(ctx, user.Address)
	if err != nil {
		return err
	}
	results := WithAllRespondingHosts(ctx, hosts, func(ctx context.Context, host string) (struct{}, error) {
		err := c.exec(ctx, host, request{
			method: http.MethodDelete,
			path:   homePath(user.Address, "messages", id),
			signer: user,
		})
		if errors.Is(err, common.ErrorNotFound) {
			err = nil
		}
		return struct{}{}, err
	})
	return AllSucceeded(results, common.ErrRequestFailed)
}

// FetchDeliveries merges the delivery receipts of a message across hosts,
// keeping the earliest time per link.
func (c *HTTPClient) FetchDeliveries(ctx context.Context, user *identity.LocalUser, id string) ([]models.Delivery, error) {
	if err := checkMessageID(id); err != nil {
		return nil, err
	}
	hosts, err := c.hosts(ctx, user.Address)
	if err != nil {
		return nil, err
	}
	results := WithAllRespondingHosts(ctx, hosts, func(ctx context.Context, host string) ([]string, error) {
		return c.lines(ctx, host, request{
			method: http.MethodGet,
			path:   homePath(user.Address, "messages", id, "deliveries"),
			signer: user,
		})
	})
	if err := AnySucceeded(results, common.ErrRequestFailed); err != nil {
		return nil, err
	}

	earliest := make(map[string]time.Time)
	var order []string
	for _, r := range results {
		for _, line := range r.Value {
			link, ts, ok := strings.Cut(line, ",")
			sec, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
			if !ok || err != nil || link == "" {
				c.log.Warn(ctx, "skipping delivery", "host", r.Host, "line", line)
				continue
			}
			at := time.Unix(sec, 0).UTC()
			prev, seen := earliest[link]
			if !seen {
				order = append(order, link)
			}
			if !seen || at.Before(prev) {
				earliest[link] = at
			}
		}
	}

	out := make([]models.Delivery, 0, len(order))
	for _, link := range order {
		out = append(out, models.Delivery{Link: link, At: earliest[link]})
	}
	return out, nil
}
