// Package discovery resolves the mail agents a domain delegates to.
package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/openemail/internal/common"
	"github.com/dmitrijs2005/openemail/internal/identity"
	"github.com/dmitrijs2005/openemail/internal/logging"
	"github.com/dmitrijs2005/openemail/internal/netx"
)

const (
	cacheSize = 256

	// maxWellKnownSize caps the delegation file body.
	maxWellKnownSize = 64 * 1024
)

// Resolver returns the delegated hosts for an address, in preference order.
type Resolver interface {
	LookupHostsDelegations(ctx context.Context, addr identity.EmailAddress) ([]string, error)
}

// Discovery is a Resolver backed by the well-known delegation file with a
// per-domain TTL cache. It is safe for concurrent use.
type Discovery struct {
	httpClient *http.Client
	log        logging.Logger
	scheme     string
	verify     bool
	cache      *expirable.LRU[string, []string]
}

type Option func(*Discovery)

// WithScheme overrides "https", e.g. for plain-HTTP test agents.
func WithScheme(scheme string) Option {
	return func(d *Discovery) { d.scheme = scheme }
}

// WithVerifyDelegation makes every listed host prove it serves the domain.
func WithVerifyDelegation(verify bool) Option {
	return func(d *Discovery) { d.verify = verify }
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(d *Discovery) { d.cache = expirable.NewLRU[string, []string](cacheSize, nil, ttl) }
}

func New(httpClient *http.Client, log logging.Logger, opts ...Option) *Discovery {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	d := &Discovery{
		httpClient: httpClient,
		log:        log,
		scheme:     "https",
		cache:      expirable.NewLRU[string, []string](cacheSize, nil, common.DelegationCacheTTL),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// LookupHostsDelegations returns at most MaxDelegatedHosts hosts for the
// address domain. An empty result is returned as ErrNoHostsAvailable and is
// not cached.
func (d *Discovery) LookupHostsDelegations(ctx context.Context, addr identity.EmailAddress) ([]string, error) {
	domain := addr.HostPart()
	if domain == "" {
		return nil, fmt.Errorf("%w: empty domain", common.ErrInvalidEndpoint)
	}
	if hosts, ok := d.cache.Get(domain); ok {
		return append([]string(nil), hosts...), nil
	}

	hosts, err := d.wellKnownHosts(ctx, domain)
	if err != nil {
		d.log.Debug(ctx, "well-known lookup failed", "domain", domain, "error", err)
	}
	if len(hosts) > 0 && d.verify {
		hosts = d.verifiedHosts(ctx, domain, hosts)
	}
	if len(hosts) == 0 {
		fallback := "mail." + domain
		if d.delegates(ctx, fallback, domain) {
			hosts = []string{fallback}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("%w: %s", common.ErrNoHostsAvailable, domain)
	}

	d.cache.Add(domain, hosts)
	return append([]string(nil), hosts...), nil
}

// Invalidate drops the cached hosts of a domain.
func (d *Discovery) Invalidate(domain string) {
	d.cache.Remove(strings.ToLower(domain))
}

func (d *Discovery) url(host, path string) string {
	u := url.URL{Scheme: d.scheme, Host: host, Path: path}
	return u.String()
}

func (d *Discovery) wellKnownHosts(ctx context.Context, domain string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url(domain, common.WellKnownDelegationPath), nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, netx.StatusError(resp)
	}
	lines, err := netx.ReadLines(resp.Body, maxWellKnownSize)
	if err != nil {
		return nil, err
	}
	return ParseWellKnown(lines), nil
}

// ParseWellKnown keeps valid, unique hostnames in file order, skipping
// comments, and stops at MaxDelegatedHosts.
func ParseWellKnown(lines []string) []string {
	var hosts []string
	seen := make(map[string]bool)
	for _, line := range lines {
		line = strings.ToLower(strings.TrimSpace(line))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSuffix(line, ".")
		if seen[line] || !netx.IsValidHostname(line) {
			continue
		}
		seen[line] = true
		hosts = append(hosts, line)
		if len(hosts) == common.MaxDelegatedHosts {
			break
		}
	}
	return hosts
}

// verifiedHosts probes every host concurrently and keeps, in order, those
// that answer 200 for the domain.
func (d *Discovery) verifiedHosts(ctx context.Context, domain string, hosts []string) []string {
	ok := make([]bool, len(hosts))
	var g errgroup.Group
	for i, h := range hosts {
		g.Go(func() error {
			ok[i] = d.delegates(ctx, h, domain)
			return nil
		})
	}
	_ = g.Wait()

	var out []string
	for i, h := range hosts {
		if ok[i] {
			out = append(out, h)
		}
	}
	return out
}

// delegates reports whether host answers HEAD /mail/{domain} with 200.
func (d *Discovery) delegates(ctx context.Context, host, domain string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, d.url(host, "/mail/"+domain), nil)
	if err != nil {
		return false
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.log.Debug(ctx, "delegation probe failed", "host", host, "domain", domain, "error", err)
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
