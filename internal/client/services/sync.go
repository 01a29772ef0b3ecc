package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/openemail/internal/client/client"
	"github.com/dmitrijs2005/openemail/internal/client/models"
	"github.com/dmitrijs2005/openemail/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/openemail/internal/common"
	"github.com/dmitrijs2005/openemail/internal/cryptox"
	"github.com/dmitrijs2005/openemail/internal/dbx"
	"github.com/dmitrijs2005/openemail/internal/envelope"
	"github.com/dmitrijs2005/openemail/internal/identity"
)

// Report summarizes one sync pass.
type Report struct {
	Contacts      int
	Notifications int
	Processed     int
	Messages      int
	Deliveries    int

	// Synced lists authors fetched because of a notification.
	Synced []identity.EmailAddress
}

// ExecuteResult is the outcome of ExecuteNotifications.
type ExecuteResult struct {
	Processed int
	Messages  int
	Synced    []identity.EmailAddress
}

// SyncService reconciles local state with the remote hosts.
type SyncService interface {
	// SyncContacts mirrors the contact links stored on the hosts.
	SyncContacts(ctx context.Context) (int, error)
	// FetchNotifications stores new notifications that decrypt and verify,
	// and purges expired ones.
	FetchNotifications(ctx context.Context) (int, error)
	// ExecuteNotifications fetches the messages of every author with a
	// pending notification. Successful authors get their notifications
	// marked processed; failures stay pending for the next run.
	ExecuteNotifications(ctx context.Context) (ExecuteResult, error)
	// FetchLocalMessages fetches the user's own outbox written elsewhere
	// and reconciles deliveries of known outgoing messages.
	FetchLocalMessages(ctx context.Context) (messages, deliveries int, err error)
	FetchLinkMessages(ctx context.Context, author identity.EmailAddress) (int, error)
	FetchBroadcastMessages(ctx context.Context, author identity.EmailAddress) (int, error)
	// Run performs a full pass: contacts, notifications, their execution,
	// the local outbox and broadcasts of contacts that want them.
	Run(ctx context.Context) (Report, error)
	LastSync(ctx context.Context) (time.Time, error)
}

type syncService struct {
	s *Session
}

func NewSyncService(s *Session) SyncService {
	return &syncService{s: s}
}

func (y *syncService) SyncContacts(ctx context.Context) (int, error) {
	links, err := y.s.Client.FetchLinks(ctx, y.s.User)
	if err != nil {
		return 0, err
	}
	repo := y.s.contactRepo(y.s.DB)

	out := make([]models.Contact, 0, len(links))
	for _, l := range links {
		c := models.Contact{ID: l.Link, Address: l.Address, CachedName: l.Address.String()}
		if existing, err := repo.Contact(ctx, l.Link); err == nil {
			c = *existing
		} else if !errors.Is(err, common.ErrorNotFound) {
			return 0, err
		}
		if p, err := y.s.Client.FetchProfile(ctx, l.Address, false); err == nil {
			c.CachedName = p.Name()
		} else {
			y.s.Log.Debug(ctx, "contact profile unavailable", "address", l.Address.String(), "error", err)
		}
		c.ReceiveBroadcasts = l.ReceiveBroadcasts
		c.UpdatedAt = time.Now().UTC()
		out = append(out, c)
	}

	err = dbx.WithTx(ctx, y.s.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return y.s.contactRepo(tx).StoreContacts(ctx, out)
	})
	if err != nil {
		return 0, fmt.Errorf("saving error: %w", err)
	}
	return len(out), nil
}

func (y *syncService) FetchNotifications(ctx context.Context) (int, error) {
	remote, err := y.s.Client.FetchNotifications(ctx, y.s.User)
	if err != nil {
		return 0, err
	}
	repo := y.s.notificationRepo(y.s.DB)

	stored, err := repo.AllNotifications(ctx)
	if err != nil {
		return 0, err
	}
	known := make(map[string]bool, len(stored))
	for _, n := range stored {
		known[n.ID] = true
	}

	now := time.Now().UTC()
	var fresh []models.Notification
	for _, rn := range remote {
		if known[rn.ID] {
			continue
		}
		n, err := y.verify(ctx, rn, now)
		if err != nil {
			y.s.Log.Warn(ctx, "discarding notification", "id", rn.ID, "error", err)
			continue
		}
		fresh = append(fresh, *n)
	}

	if err := repo.StoreNotifications(ctx, fresh); err != nil {
		return 0, err
	}
	if _, err := repo.DeleteExpired(ctx, now.Add(-common.NotificationExpiry)); err != nil {
		return len(fresh), err
	}
	return len(fresh), nil
}

// verify decrypts the notifier, checks that the link is the one shared
// with it and that the signer fingerprint is one of its signing keys. A
// fingerprint miss refreshes the cached profile once to catch a rotation.
func (y *syncService) verify(ctx context.Context, rn client.RemoteNotification, now time.Time) (*models.Notification, error) {
	user := y.s.User
	sealed, err := base64.StdEncoding.DecodeString(rn.Notifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", client.ErrBadNotification, err)
	}
	plain, err := user.DecryptAnonymous(sealed)
	if err != nil {
		return nil, err
	}
	addr, err := identity.ParseEmailAddress(string(plain))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", client.ErrBadNotification, err)
	}
	if rn.Link != user.ConnectionLink(addr) {
		return nil, fmt.Errorf("%w: link does not match %s", client.ErrBadNotification, addr)
	}

	profile, err := y.s.Client.FetchProfile(ctx, addr, false)
	if err == nil && !profile.HasSigningFingerprint(rn.SignerFingerprint) {
		profile, err = y.s.Client.FetchProfile(ctx, addr, true)
	}
	if err != nil {
		return nil, fmt.Errorf("profile of %s: %w", addr, err)
	}
	if !profile.HasSigningFingerprint(rn.SignerFingerprint) {
		return nil, fmt.Errorf("%w: notification from %s", cryptox.ErrFingerprintMismatch, addr)
	}

	return &models.Notification{
		ID:                rn.ID,
		ReceivedOn:        now,
		Link:              rn.Link,
		Address:           addr,
		AuthorFingerprint: rn.SignerFingerprint,
	}, nil
}

func (y *syncService) ExecuteNotifications(ctx context.Context) (ExecuteResult, error) {
	var res ExecuteResult
	repo := y.s.notificationRepo(y.s.DB)
	pending, err := repo.PendingNotifications(ctx)
	if err != nil {
		return res, err
	}

	now := time.Now().UTC()
	var authors []identity.EmailAddress
	byAuthor := make(map[identity.EmailAddress][]string)
	for _, n := range pending {
		if n.IsExpired(now) {
			continue
		}
		if _, ok := byAuthor[n.Address]; !ok {
			authors = append(authors, n.Address)
		}
		byAuthor[n.Address] = append(byAuthor[n.Address], n.ID)
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(common.MaxConcurrentFetches)
	for _, author := range authors {
		g.Go(func() error {
			n, err := y.fetchAuthor(ctx, author)
			if err == nil {
				for _, id := range byAuthor[author] {
					if err = repo.MarkAsProcessed(ctx, id); err != nil {
						break
					}
				}
			}

			mu.Lock()
			defer mu.Unlock()
			res.Messages += n
			if err != nil {
				y.s.Log.Warn(ctx, "notification left pending", "author", author.String(), "error", err)
				errs = append(errs, fmt.Errorf("%s: %w", author, err))
				return nil
			}
			res.Processed += len(byAuthor[author])
			res.Synced = append(res.Synced, author)
			return nil
		})
	}
	_ = g.Wait()
	return res, errors.Join(errs...)
}

// fetchAuthor runs the direct and broadcast fetches of author concurrently.
func (y *syncService) fetchAuthor(ctx context.Context, author identity.EmailAddress) (int, error) {
	var link, broadcast int
	var linkErr, broadcastErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		link, linkErr = y.FetchLinkMessages(ctx, author)
	}()
	go func() {
		defer wg.Done()
		broadcast, broadcastErr = y.FetchBroadcastMessages(ctx, author)
	}()
	wg.Wait()
	return link + broadcast, errors.Join(linkErr, broadcastErr)
}

func (y *syncService) FetchLinkMessages(ctx context.Context, author identity.EmailAddress) (int, error) {
	ids, err := y.s.Client.FetchLinkMessageIDs(ctx, y.s.User, author)
	if err != nil {
		return 0, err
	}
	return y.fetchNew(ctx, client.LocationLink, author, ids)
}

func (y *syncService) FetchBroadcastMessages(ctx context.Context, author identity.EmailAddress) (int, error) {
	ids, err := y.s.Client.FetchBroadcastMessageIDs(ctx, y.s.User, author)
	if err != nil {
		return 0, err
	}
	return y.fetchNew(ctx, client.LocationBroadcast, author, ids)
}

func (y *syncService) FetchLocalMessages(ctx context.Context) (int, int, error) {
	user := y.s.User
	ids, err := y.s.Client.FetchLocalMessageIDs(ctx, user)
	if err != nil {
		return 0, 0, err
	}
	fetched, fetchErr := y.fetchNew(ctx, client.LocationLocal, user.Address, ids)

	remote := make(map[string]bool, len(ids))
	for _, id := range ids {
		remote[id] = true
	}
	delivered, deliveryErr := y.reconcileDeliveries(ctx, remote)
	return fetched, delivered, errors.Join(fetchErr, deliveryErr)
}

// reconcileDeliveries records delivery receipts of outgoing messages still
// held remotely and notifies again every reader that has not confirmed.
func (y *syncService) reconcileDeliveries(ctx context.Context, remote map[string]bool) (int, error) {
	user := y.s.User
	repo := y.s.messageRepo(y.s.DB)
	outgoing, err := repo.OutgoingMessages(ctx, user.Address)
	if err != nil {
		return 0, err
	}

	recorded := 0
	notify := make(map[identity.EmailAddress]bool)
	for _, m := range outgoing {
		if !remote[m.ID] || len(m.PendingReaders()) == 0 {
			continue
		}
		deliveries, err := y.s.Client.FetchDeliveries(ctx, user, m.ID)
		if err != nil {
			y.s.Log.Warn(ctx, "deliveries unavailable", "id", m.ID, "error", err)
			continue
		}
		byLink := make(map[string]identity.EmailAddress, len(m.Readers))
		for _, r := range m.Readers {
			byLink[user.ConnectionLink(r)] = r
		}
		for _, d := range deliveries {
			r, ok := byLink[d.Link]
			if !ok || r == user.Address {
				continue
			}
			if _, seen := m.DeliveredTo[r.String()]; !seen {
				recorded++
			}
			if err := repo.StoreDelivery(ctx, m.ID, r, d.At); err != nil {
				return recorded, err
			}
			if m.DeliveredTo == nil {
				m.DeliveredTo = make(map[string]time.Time)
			}
			m.DeliveredTo[r.String()] = d.At
		}
		for _, r := range m.PendingReaders() {
			notify[r] = true
		}
	}

	for r := range notify {
		if err := y.s.Client.NotifyReader(ctx, user, r); err != nil {
			y.s.Log.Warn(ctx, "reader notification failed", "reader", r.String(), "error", err)
		}
	}
	return recorded, nil
}

// fetchNew fetches the ids not yet held locally with at most
// MaxConcurrentFetches in flight. Untrustworthy messages are logged and
// skipped; other failures are returned joined.
func (y *syncService) fetchNew(ctx context.Context, loc client.Location, author identity.EmailAddress, ids []string) (int, error) {
	known, err := y.s.messageRepo(y.s.DB).KnownIDs(ctx)
	if err != nil {
		return 0, err
	}
	var todo []string
	for _, id := range ids {
		if !known[id] {
			todo = append(todo, id)
		}
	}
	if len(todo) == 0 {
		return 0, nil
	}

	var (
		mu     sync.Mutex
		stored int
		errs   []error
		g      errgroup.Group
	)
	g.SetLimit(min(common.MaxConcurrentFetches, len(todo)))
	for _, id := range todo {
		g.Go(func() error {
			ok, err := y.fetchMessage(ctx, loc, author, id)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && ok:
				stored++
			case err == nil:
			case envelope.IsIntegrityError(err) || errors.Is(err, common.ErrorNotFound):
				y.s.Log.Warn(ctx, "skipping message", "id", id, "author", author.String(), "error", err)
			default:
				errs = append(errs, fmt.Errorf("message %s: %w", id, err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return stored, errors.Join(errs...)
}

// fetchMessage opens the envelope of id and, for root messages, downloads
// the body from the same host and stores the message. File parts are only
// downloaded on demand by the attachment service.
func (y *syncService) fetchMessage(ctx context.Context, loc client.Location, author identity.EmailAddress, id string) (bool, error) {
	user := y.s.User
	head, err := y.s.Client.FetchMessageHeaders(ctx, user, loc, author, id)
	if err != nil {
		return false, err
	}
	if !head.Headers.IsRoot() {
		return false, nil
	}

	tmp, err := y.s.Layout.TempFile(user.Address)
	if err != nil {
		return false, err
	}
	defer os.Remove(tmp)

	if err := y.s.Client.DownloadPayload(ctx, user, loc, author, head, tmp); err != nil {
		return false, err
	}
	body, err := os.ReadFile(tmp)
	if err != nil {
		return false, err
	}

	msg := messageFromHeaders(head.Headers, string(body))
	msg.IsRead = loc == client.LocationLocal
	err = dbx.WithTx(ctx, y.s.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return y.s.messageRepo(tx).StoreMessage(ctx, msg)
	})
	if err != nil {
		return false, fmt.Errorf("saving error: %w", err)
	}
	y.s.Log.Debug(ctx, "message stored", "id", id, "location", loc.String())
	return true, nil
}

func messageFromHeaders(h *envelope.ContentHeaders, body string) *models.Message {
	subjectID := h.SubjectID
	if subjectID == "" {
		subjectID = h.MessageID
	}
	category := h.Category
	if category == "" {
		category = envelope.DefaultCategory
	}
	return &models.Message{
		ID:          h.MessageID,
		Author:      h.Author,
		Readers:     h.Readers,
		Subject:     h.Subject,
		SubjectID:   subjectID,
		Body:        body,
		Category:    category,
		Date:        h.Date,
		Size:        h.Size,
		Checksum:    h.Checksum,
		IsBroadcast: h.IsBroadcast(),
		Attachments: models.AttachmentsFromFiles(h.MessageID, h.Files),
	}
}

func (y *syncService) Run(ctx context.Context) (Report, error) {
	var (
		r    Report
		errs []error
	)
	stage := func(name string, err error) {
		if err != nil {
			y.s.Log.Warn(ctx, "sync stage failed", "stage", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	var err error
	r.Contacts, err = y.SyncContacts(ctx)
	stage("contacts", err)

	r.Notifications, err = y.FetchNotifications(ctx)
	stage("notifications", err)

	res, err := y.ExecuteNotifications(ctx)
	r.Processed, r.Messages, r.Synced = res.Processed, res.Messages, res.Synced
	stage("execute", err)

	n, d, err := y.FetchLocalMessages(ctx)
	r.Messages += n
	r.Deliveries = d
	stage("local", err)

	n, err = y.fetchContactBroadcasts(ctx, r.Synced)
	r.Messages += n
	stage("broadcasts", err)

	if err := ctx.Err(); err != nil {
		return r, err
	}
	if len(errs) == 0 {
		if err := metadata.SetTime(ctx, y.s.metadataRepo(y.s.DB), metadata.KeyLastSync, time.Now()); err != nil {
			return r, err
		}
	}
	y.s.Log.Info(ctx, "sync finished", "contacts", r.Contacts, "notifications", r.Notifications,
		"processed", r.Processed, "messages", r.Messages, "deliveries", r.Deliveries)
	return r, errors.Join(errs...)
}

// fetchContactBroadcasts fetches broadcasts of contacts that receive them,
// skipping authors already synced in this run.
func (y *syncService) fetchContactBroadcasts(ctx context.Context, synced []identity.EmailAddress) (int, error) {
	contacts, err := y.s.contactRepo(y.s.DB).AllContacts(ctx)
	if err != nil {
		return 0, err
	}
	done := make(map[identity.EmailAddress]bool, len(synced))
	for _, a := range synced {
		done[a] = true
	}

	var (
		mu    sync.Mutex
		total int
		errs  []error
		g     errgroup.Group
	)
	g.SetLimit(common.MaxConcurrentFetches)
	for _, c := range contacts {
		if !c.ReceiveBroadcasts || done[c.Address] {
			continue
		}
		g.Go(func() error {
			n, err := y.FetchBroadcastMessages(ctx, c.Address)
			mu.Lock()
			defer mu.Unlock()
			total += n
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", c.Address, err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return total, errors.Join(errs...)
}

func (y *syncService) LastSync(ctx context.Context) (time.Time, error) {
	return metadata.Time(ctx, y.s.metadataRepo(y.s.DB), metadata.KeyLastSync)
}
