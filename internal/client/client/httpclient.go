package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dmitrijs2005/openemail/internal/client/discovery"
	"github.com/dmitrijs2005/openemail/internal/client/models"
	"github.com/dmitrijs2005/openemail/internal/common"
	"github.com/dmitrijs2005/openemail/internal/identity"
	"github.com/dmitrijs2005/openemail/internal/logging"
	"github.com/dmitrijs2005/openemail/internal/netx"
	"github.com/dmitrijs2005/openemail/internal/sotn"
)

const profileCacheSize = 512

// HTTPClient speaks the mail agent protocol over HTTP against the hosts a
// domain delegates to.
type HTTPClient struct {
	httpClient *http.Client
	resolver   discovery.Resolver
	log        logging.Logger
	opts       Options

	profiles *expirable.LRU[string, *models.Profile]
	images   *expirable.LRU[string, []byte]
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(httpClient *http.Client, resolver discovery.Resolver, log logging.Logger, opts Options) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if opts.Scheme == "" {
		opts.Scheme = "https"
	}
	if opts.ProfileCacheTTL <= 0 {
		opts.ProfileCacheTTL = common.ProfileCacheTTL
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = common.DefaultRetryAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = common.DefaultRetryDelay
	}

	return &HTTPClient{
		httpClient: httpClient,
		resolver:   resolver,
		log:        log,
		opts:       opts,
		profiles:   expirable.NewLRU[string, *models.Profile](profileCacheSize, nil, opts.ProfileCacheTTL),
		images:     expirable.NewLRU[string, []byte](profileCacheSize, nil, opts.ProfileCacheTTL),
	}
}

func (c *HTTPClient) hosts(ctx context.Context, addr identity.EmailAddress) ([]string, error) {
	hosts, err := c.resolver.LookupHostsDelegations(ctx, addr)
	if err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("%w: %s", common.ErrNoHostsAvailable, addr.HostPart())
	}
	return hosts, nil
}

func homePath(addr identity.EmailAddress, rest ...string) string {
	return agentPath("home", addr, rest...)
}

func mailPath(addr identity.EmailAddress, rest ...string) string {
	return agentPath("mail", addr, rest...)
}

func agentPath(root string, addr identity.EmailAddress, rest ...string) string {
	parts := append([]string{"", root, addr.HostPart(), addr.LocalPart()}, rest...)
	return strings.Join(parts, "/")
}

// request describes one call to a host.
type request struct {
	method string
	path   string
	body   io.Reader
	size   int64
	header http.Header
	// signer adds a SOTN Authorization header when set.
	signer *identity.LocalUser
}

// do sends r to host. The caller owns the response body on success; non-2xx
// responses are closed and mapped to errors.
func (c *HTTPClient) do(ctx context.Context, host string, r request) (*http.Response, error) {
	if !netx.IsValidHostname(host) {
		return nil, fmt.Errorf("%w: %q", common.ErrInvalidEndpoint, host)
	}
	u := url.URL{Scheme: c.opts.Scheme, Host: host, Path: r.path}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), r.body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidEndpoint, err)
	}
	for k, v := range r.header {
		req.Header[k] = v
	}
	if r.size > 0 {
		req.ContentLength = r.size
	}
	if r.signer != nil {
		auth, err := sotn.Header(r.signer, host)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", auth)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err := mapStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// exec sends r and discards the response body.
func (c *HTTPClient) exec(ctx context.Context, host string, r request) error {
	resp, err := c.do(ctx, host, r)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// lines sends r and reads a plain-text listing.
func (c *HTTPClient) lines(ctx context.Context, host string, r request) ([]string, error) {
	resp, err := c.do(ctx, host, r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	lines, err := netx.ReadLines(resp.Body, netx.MaxLineResponseSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidHTTPResponse, err)
	}
	return lines, nil
}

// readAll sends r and returns the response body, capped at limit bytes.
func (c *HTTPClient) readAll(ctx context.Context, host string, r request, limit int64) ([]byte, error) {
	resp, err := c.do(ctx, host, r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidHTTPResponse, err)
	}
	return b, nil
}
