package client

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/openemail/internal/client/discovery"
	"github.com/dmitrijs2005/openemail/internal/client/models"
	"github.com/dmitrijs2005/openemail/internal/common"
	"github.com/dmitrijs2005/openemail/internal/identity"
	"github.com/dmitrijs2005/openemail/internal/logging"
	"github.com/dmitrijs2005/openemail/internal/mailtest"
)

var comHosts = []string{"mail1.example.com", "mail2.example.com", "mail3.example.com"}

type fixture struct {
	net    *mailtest.Network
	client *HTTPClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	n := mailtest.NewNetwork()
	n.AddDomain("example.com", comHosts...)
	n.AddDomain("example.org", "mail1.example.org", "mail2.example.org")
	n.AddDomain("example.net", "mail.example.net")

	log := logging.Discard()
	d := discovery.New(n.Client(), log)
	c := NewHTTPClient(n.Client(), d, log, Options{RetryAttempts: 3, RetryDelay: time.Millisecond})
	return &fixture{net: n, client: c}
}

// user generates a user and provisions it on its domain's agents.
func (f *fixture) user(t *testing.T, addr, name string) *identity.LocalUser {
	t.Helper()
	u := newUser(t, addr, name)
	f.net.AddAccount(models.NewOwnProfile(u, time.Now()))
	return u
}

func newUser(t *testing.T, addr, name string) *identity.LocalUser {
	t.Helper()
	u, err := identity.GenerateLocalUser(identity.MustParseEmailAddress(addr), name)
	require.NoError(t, err)
	return u
}

func (f *fixture) requests(method, contains string, hosts ...string) int {
	n := 0
	for _, h := range hosts {
		n += f.net.Agent(h).RequestCount(method, contains)
	}
	return n
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := newUser(t, "alice@example.com", "Alice")

	available, err := f.client.IsAddressAvailable(ctx, alice.Address)
	require.NoError(t, err)
	assert.True(t, available)

	require.NoError(t, f.client.Register(ctx, alice))
	for _, h := range comHosts {
		assert.Equal(t, 1, f.net.Agent(h).RequestCount(http.MethodPost, "/account/example.com/alice"), h)
	}

	available, err = f.client.IsAddressAvailable(ctx, alice.Address)
	require.NoError(t, err)
	assert.False(t, available)

	again := newUser(t, "alice@example.com", "Impostor")
	assert.ErrorIs(t, f.client.Register(ctx, again), common.ErrAccountAlreadyExists)
}

func TestRegister_UnknownDomain(t *testing.T) {
	f := newFixture(t)
	ghost := newUser(t, "ghost@nowhere.test", "")

	err := f.client.Register(context.Background(), ghost)
	assert.ErrorIs(t, err, common.ErrNoHostsAvailable)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice@example.com", "Alice")

	require.NoError(t, f.client.Authenticate(ctx, alice))

	stolen := newUser(t, "alice@example.com", "Alice")
	assert.ErrorIs(t, f.client.Authenticate(ctx, stolen), ErrUnauthorized)
}

func TestFetchProfile_CacheAndForce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice@example.com", "Alice")

	p, err := f.client.FetchProfile(ctx, alice.Address, false)
	require.NoError(t, err)
	assert.Equal(t, "Alice", p.Name())
	require.NotNil(t, p.SigningKey)
	assert.Equal(t, []byte(alice.PublicSigningKey), p.SigningKey.Key)

	before := f.requests(http.MethodGet, "/profile", comHosts...)
	require.Positive(t, before)

	_, err = f.client.FetchProfile(ctx, alice.Address, false)
	require.NoError(t, err)
	assert.Equal(t, before, f.requests(http.MethodGet, "/profile", comHosts...))

	_, err = f.client.FetchProfile(ctx, alice.Address, true)
	require.NoError(t, err)
	assert.Greater(t, f.requests(http.MethodGet, "/profile", comHosts...), before)
}

func TestFetchProfile_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.client.FetchProfile(context.Background(), identity.MustParseEmailAddress("nobody@example.com"), false)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestUploadProfile_InvalidatesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice@example.com", "Alice")

	_, err := f.client.FetchProfile(ctx, alice.Address, false)
	require.NoError(t, err)

	p := models.NewOwnProfile(alice, time.Now())
	p.Set(models.ProfileName, "Alice Liddell")
	require.NoError(t, f.client.UploadProfile(ctx, alice, p))

	got, err := f.client.FetchProfile(ctx, alice.Address, false)
	require.NoError(t, err)
	assert.Equal(t, "Alice Liddell", got.Name())
}

func TestProfileImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice@example.com", "Alice")

	_, err := f.client.FetchProfileImage(ctx, alice.Address, false)
	require.ErrorIs(t, err, common.ErrorNotFound)

	img := []byte{0x89, 'P', 'N', 'G'}
	require.NoError(t, f.client.UploadProfileImage(ctx, alice, img))

	got, err := f.client.FetchProfileImage(ctx, alice.Address, false)
	require.NoError(t, err)
	assert.Equal(t, img, got)

	require.NoError(t, f.client.DeleteProfileImage(ctx, alice))
	_, err = f.client.FetchProfileImage(ctx, alice.Address, true)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestLinks_FanOutWithOneFailingHost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice@example.com", "Alice")
	bob := newUser(t, "bob@example.org", "Bob")

	f.net.Agent("mail3.example.com").Fail("", "/home/", http.StatusServiceUnavailable)

	require.NoError(t, f.client.StoreLink(ctx, alice, RemoteLink{Address: bob.Address, ReceiveBroadcasts: true}))
	assert.Len(t, f.net.Agent("mail1.example.com").Links(alice.Address), 1)
	assert.Empty(t, f.net.Agent("mail3.example.com").Links(alice.Address))

	links, err := f.client.FetchLinks(ctx, alice)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, bob.Address, links[0].Address)
	assert.Equal(t, alice.ConnectionLink(bob.Address), links[0].Link)
	assert.True(t, links[0].ReceiveBroadcasts)

	require.NoError(t, f.client.DeleteLink(ctx, alice, bob.Address))
	links, err = f.client.FetchLinks(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestFetchLinks_SkipsForeignEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice@example.com", "Alice")
	bob := newUser(t, "bob@example.org", "Bob")
	carol := newUser(t, "carol@example.net", "Carol")

	require.NoError(t, f.client.StoreLink(ctx, alice, RemoteLink{Address: bob.Address}))
	// A link id that does not match its sealed address is dropped.
	require.NoError(t, f.client.StoreLink(ctx, alice, RemoteLink{Link: "bogus", Address: carol.Address}))

	links, err := f.client.FetchLinks(ctx, alice)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, bob.Address, links[0].Address)
	assert.False(t, links[0].ReceiveBroadcasts)
}

func TestNotifyAndFetchNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice@example.com", "Alice")
	bob := f.user(t, "bob@example.net", "Bob")

	require.NoError(t, f.client.NotifyReader(ctx, alice, bob.Address))

	got, err := f.client.FetchNotifications(ctx, bob)
	require.NoError(t, err)
	require.Len(t, got, 1)
	n := got[0]
	assert.Equal(t, bob.ConnectionLink(alice.Address), n.Link)
	assert.Equal(t, alice.SigningKeyFingerprint, n.SignerFingerprint)

	sealed, err := base64.StdEncoding.DecodeString(n.Notifier)
	require.NoError(t, err)
	plain, err := bob.DecryptAnonymous(sealed)
	require.NoError(t, err)
	assert.Equal(t, alice.Address.String(), string(plain))
}

func TestFetchNotifications_DedupAndSkipMalformed(t *testing.T) {
	f := newFixture(t)
	bob := f.user(t, "bob@example.org", "Bob")

	shared := mailtest.StoredNotification{ID: "n1", Link: "l1", Fingerprint: "fp", Notifier: "x"}
	for _, h := range []string{"mail1.example.org", "mail2.example.org"} {
		f.net.Agent(h).AddNotification(bob.Address, shared)
	}
	f.net.Agent("mail2.example.org").AddNotification(bob.Address, mailtest.StoredNotification{ID: "n2", Fingerprint: "fp"})

	got, err := f.client.FetchNotifications(context.Background(), bob)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "n1", got[0].ID)
}

func TestNotifyReader_UnknownReader(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice@example.com", "Alice")

	err := f.client.NotifyReader(context.Background(), alice, identity.MustParseEmailAddress("ghost@example.org"))
	assert.ErrorIs(t, err, common.ErrInaccessibleReaders)
}

func TestDo_InvalidHost(t *testing.T) {
	f := newFixture(t)
	_, err := f.client.do(context.Background(), "bad host!", request{method: http.MethodGet, path: "/"})
	assert.ErrorIs(t, err, common.ErrInvalidEndpoint)
}

func TestMapStatus(t *testing.T) {
	cases := []struct {
		code int
		want error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrUnauthorized},
		{http.StatusNotFound, common.ErrorNotFound},
		{http.StatusConflict, common.ErrAccountAlreadyExists},
		{http.StatusBadGateway, ErrUnavailable},
		{http.StatusTeapot, common.ErrInvalidHTTPResponse},
	}
	for _, tc := range cases {
		err := mapStatus(&http.Response{
			StatusCode: tc.code,
			Status:     http.StatusText(tc.code),
			Body:       io.NopCloser(strings.NewReader("")),
		})
		assert.ErrorIs(t, err, tc.want, tc.code)
	}
	assert.NoError(t, mapStatus(&http.Response{StatusCode: http.StatusNoContent}))
}
