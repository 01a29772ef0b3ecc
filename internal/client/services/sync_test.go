package services

import (
	"context"
	"encoding/base64"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/openemail/internal/client/models"
	"github.com/dmitrijs2005/openemail/internal/client/repositories/notifications"
	"github.com/dmitrijs2005/openemail/internal/cryptox"
	"github.com/dmitrijs2005/openemail/internal/identity"
	"github.com/dmitrijs2005/openemail/internal/mailtest"
)

func TestSync_PrivateMessageEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.session(t, f.user(t, "alice@example.com", "Alice"))
	bob := f.session(t, f.user(t, "bob@example.org", "Bob"))

	path, data := writeFile(t, "photo.raw", 2*testPartSize+100)
	out := NewMessageService(alice)
	sent, err := out.Send(ctx, SendRequest{
		Readers:     []identity.EmailAddress{bob.User.Address},
		Subject:     "Holiday",
		Body:        "pictures from the trip",
		Attachments: []string{path},
	})
	require.NoError(t, err)
	out.Wait()

	sync := NewSyncService(bob)
	n, err := sync.FetchNotifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(orgHosts), n, "every host queues its own notification")

	res, err := sync.ExecuteNotifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(orgHosts), res.Processed)
	assert.Equal(t, 1, res.Messages)
	assert.Equal(t, []identity.EmailAddress{alice.User.Address}, res.Synced)

	got, err := NewMessageService(bob).Get(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, "Holiday", got.Subject)
	assert.Equal(t, "pictures from the trip", got.Body)
	assert.Equal(t, alice.User.Address, got.Author)
	assert.False(t, got.IsRead)
	assert.False(t, got.IsBroadcast)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, sent.Attachments[0].PartIDs, got.Attachments[0].PartIDs)

	// Part payloads were not transferred during sync.
	assert.Equal(t, 0, f.requests(http.MethodGet, sent.Attachments[0].PartIDs[0], comHosts...))

	atts := NewAttachmentService(bob)
	handle, err := atts.Download(ctx, sent.ID, "photo.raw")
	require.NoError(t, err)
	p := waitDownload(t, atts, handle)
	require.NoError(t, p.Err)
	assert.True(t, p.Done)
	assert.Equal(t, 3, p.PartsDone)
	plain, err := os.ReadFile(p.Path)
	require.NoError(t, err)
	assert.Equal(t, data, plain)

	// Processed notifications never trigger another fetch.
	heads := f.requests(http.MethodHead, "/messages/", comHosts...)
	res, err = sync.ExecuteNotifications(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	n, err = sync.FetchNotifications(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, heads, f.requests(http.MethodHead, "/messages/", comHosts...))
}

func TestFetchNotifications_DiscardsUntrusted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice@example.com", "Alice")
	carol := f.user(t, "carol@example.net", "Carol")
	bob := f.session(t, f.user(t, "bob@example.org", "Bob"))

	seal := func(addr identity.EmailAddress) string {
		ct, err := cryptox.EncryptAnonymous([]byte(addr.String()), bob.User.PublicEncryptionKey)
		require.NoError(t, err)
		return base64.StdEncoding.EncodeToString(ct)
	}
	agent := f.net.Agent("mail1.example.org")
	agent.AddNotification(bob.User.Address, mailtest.StoredNotification{
		Link: bob.User.ConnectionLink(alice.Address), Fingerprint: alice.SigningKeyFingerprint, Notifier: "%%%",
	})
	agent.AddNotification(bob.User.Address, mailtest.StoredNotification{
		Link: bob.User.ConnectionLink(carol.Address), Fingerprint: alice.SigningKeyFingerprint, Notifier: seal(alice.Address),
	})
	agent.AddNotification(bob.User.Address, mailtest.StoredNotification{
		Link: bob.User.ConnectionLink(alice.Address), Fingerprint: carol.SigningKeyFingerprint, Notifier: seal(alice.Address),
	})
	agent.AddNotification(bob.User.Address, mailtest.StoredNotification{
		ID: "good", Link: bob.User.ConnectionLink(alice.Address), Fingerprint: alice.SigningKeyFingerprint, Notifier: seal(alice.Address),
	})

	n, err := NewSyncService(bob).FetchNotifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := notifications.NewSQLiteRepository(bob.DB).AllNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "good", stored[0].ID)
	assert.Equal(t, alice.Address, stored[0].Address)
	assert.False(t, stored[0].IsProcessed)
}

func TestFetchNotifications_PurgesExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := f.session(t, f.user(t, "bob@example.org", "Bob"))
	repo := notifications.NewSQLiteRepository(bob.DB)

	require.NoError(t, repo.StoreNotification(ctx, &models.Notification{
		ID:         "old",
		ReceivedOn: time.Now().Add(-8 * 24 * time.Hour),
		Link:       "l",
		Address:    identity.MustParseEmailAddress("alice@example.com"),
	}))

	_, err := NewSyncService(bob).FetchNotifications(ctx)
	require.NoError(t, err)
	all, err := repo.AllNotifications(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestExecuteNotifications_FailureStaysPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.session(t, f.user(t, "alice@example.com", "Alice"))
	bob := f.session(t, f.user(t, "bob@example.org", "Bob"))

	out := NewMessageService(alice)
	_, err := out.Send(ctx, SendRequest{Readers: []identity.EmailAddress{bob.User.Address}, Subject: "ping"})
	require.NoError(t, err)
	out.Wait()

	sync := NewSyncService(bob)
	_, err = sync.FetchNotifications(ctx)
	require.NoError(t, err)

	for _, h := range comHosts {
		f.net.Agent(h).Fail(http.MethodGet, "/link/", http.StatusServiceUnavailable)
	}
	res, err := sync.ExecuteNotifications(ctx)
	require.Error(t, err)
	assert.Zero(t, res.Processed)
	pending, err := notifications.NewSQLiteRepository(bob.DB).PendingNotifications(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, len(orgHosts))

	for _, h := range comHosts {
		f.net.Agent(h).ClearFailures()
	}
	res, err = sync.ExecuteNotifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(orgHosts), res.Processed)
	assert.Equal(t, 1, res.Messages)
}

func TestFetchLinkMessages_SkipsTamperedMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.session(t, f.user(t, "alice@example.com", "Alice"))
	bob := f.session(t, f.user(t, "bob@example.org", "Bob"))

	out := NewMessageService(alice)
	for _, subject := range []string{"one", "two"} {
		_, err := out.Send(ctx, SendRequest{Readers: []identity.EmailAddress{bob.User.Address}, Subject: subject})
		require.NoError(t, err)
	}
	out.Wait()

	// A rotated key makes every stored signature unverifiable.
	rotated, err := identity.GenerateLocalUser(alice.User.Address, "Alice")
	require.NoError(t, err)
	require.NoError(t, f.client.UploadProfile(ctx, alice.User, models.NewOwnProfile(rotated, time.Now())))
	_, err = f.client.FetchProfile(ctx, alice.User.Address, true)
	require.NoError(t, err)

	n, err := NewSyncService(bob).FetchLinkMessages(ctx, alice.User.Address)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFetchLocalMessages_DeliveriesAndOtherDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	aliceUser := f.user(t, "alice@example.com", "Alice")
	alice := f.session(t, aliceUser)
	bob := f.session(t, f.user(t, "bob@example.org", "Bob"))

	out := NewMessageService(alice)
	sent, err := out.Send(ctx, SendRequest{Readers: []identity.EmailAddress{bob.User.Address}, Subject: "did you get this?"})
	require.NoError(t, err)
	out.Wait()

	sync := NewSyncService(alice)
	before := len(f.net.Agent("mail1.example.org").Notifications(bob.User.Address))
	_, delivered, err := sync.FetchLocalMessages(ctx)
	require.NoError(t, err)
	assert.Zero(t, delivered)
	assert.Greater(t, len(f.net.Agent("mail1.example.org").Notifications(bob.User.Address)), before,
		"unconfirmed readers are notified again")

	_, err = NewSyncService(bob).FetchLinkMessages(ctx, alice.User.Address)
	require.NoError(t, err)

	_, delivered, err = sync.FetchLocalMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	got, err := NewMessageService(alice).Get(ctx, sent.ID)
	require.NoError(t, err)
	assert.Contains(t, got.DeliveredTo, bob.User.Address.String())
	assert.Empty(t, got.PendingReaders())

	// A second device of the same user picks the message up from its outbox.
	laptop := f.session(t, aliceUser)
	fetched, _, err := NewSyncService(laptop).FetchLocalMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fetched)
	mine, err := NewMessageService(laptop).Get(ctx, sent.ID)
	require.NoError(t, err)
	assert.True(t, mine.IsRead)
	assert.Equal(t, "did you get this?", mine.Subject)
}

func TestRun_BroadcastsOfContacts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.session(t, f.user(t, "alice@example.com", "Alice"))
	bob := f.session(t, f.user(t, "bob@example.org", "Bob"))

	_, err := NewContactService(bob).Add(ctx, alice.User.Address, true)
	require.NoError(t, err)

	path, data := writeFile(t, "changelog.txt", testPartSize+10)
	sent, err := NewMessageService(alice).Send(ctx, SendRequest{
		Broadcast:   true,
		Subject:     "Release 2.0",
		Body:        "see the changelog",
		Attachments: []string{path},
	})
	require.NoError(t, err)

	sync := NewSyncService(bob)
	r, err := sync.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Contacts)
	assert.Equal(t, 1, r.Messages)

	got, err := NewMessageService(bob).Get(ctx, sent.ID)
	require.NoError(t, err)
	assert.True(t, got.IsBroadcast)
	assert.Empty(t, got.Readers)

	last, err := sync.LastSync(ctx)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), last, time.Minute)

	atts := NewAttachmentService(bob)
	handle, err := atts.Download(ctx, sent.ID, "changelog.txt")
	require.NoError(t, err)
	p := waitDownload(t, atts, handle)
	require.NoError(t, p.Err)
	plain, err := os.ReadFile(p.Path)
	require.NoError(t, err)
	assert.Equal(t, data, plain)

	r, err = sync.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, r.Messages)
}

func TestSyncContacts_FromAnotherDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bobUser := f.user(t, "bob@example.org", "Bob")
	alice := f.user(t, "alice@example.com", "Alice")
	carol := f.user(t, "carol@example.net", "Carol")

	phone := NewContactService(f.session(t, bobUser))
	_, err := phone.Add(ctx, alice.Address, true)
	require.NoError(t, err)
	_, err = phone.Add(ctx, carol.Address, false)
	require.NoError(t, err)

	laptop := f.session(t, bobUser)
	n, err := NewSyncService(laptop).SyncContacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := NewContactService(laptop).List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, alice.Address, list[0].Address)
	assert.Equal(t, "Alice", list[0].CachedName)
	assert.True(t, list[0].ReceiveBroadcasts)
	assert.Equal(t, carol.Address, list[1].Address)
	assert.False(t, list[1].ReceiveBroadcasts)
}
