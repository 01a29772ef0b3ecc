package client

import (
	"context"
	"time"

	"github.com/dmitrijs2005/openemail/internal/client/models"
	"github.com/dmitrijs2005/openemail/internal/envelope"
	"github.com/dmitrijs2005/openemail/internal/identity"
)

// Client is the mail agent protocol as used by the services.
type Client interface {
	Register(ctx context.Context, user *identity.LocalUser) error
	IsAddressAvailable(ctx context.Context, addr identity.EmailAddress) (bool, error)
	Authenticate(ctx context.Context, user *identity.LocalUser) error

	FetchProfile(ctx context.Context, addr identity.EmailAddress, force bool) (*models.Profile, error)
	FetchProfileImage(ctx context.Context, addr identity.EmailAddress, force bool) ([]byte, error)
	UploadProfile(ctx context.Context, user *identity.LocalUser, profile *models.Profile) error
	UploadProfileImage(ctx context.Context, user *identity.LocalUser, image []byte) error
	DeleteProfileImage(ctx context.Context, user *identity.LocalUser) error

	FetchNotifications(ctx context.Context, user *identity.LocalUser) ([]RemoteNotification, error)
	NotifyReader(ctx context.Context, user *identity.LocalUser, reader identity.EmailAddress) error

	FetchLocalMessageIDs(ctx context.Context, user *identity.LocalUser) ([]string, error)
	FetchLinkMessageIDs(ctx context.Context, user *identity.LocalUser, author identity.EmailAddress) ([]string, error)
	FetchBroadcastMessageIDs(ctx context.Context, user *identity.LocalUser, author identity.EmailAddress) ([]string, error)

	DownloadMessage(ctx context.Context, user *identity.LocalUser, loc Location, author identity.EmailAddress, id, destPath string) (*Downloaded, error)
	FetchMessageHeaders(ctx context.Context, user *identity.LocalUser, loc Location, author identity.EmailAddress, id string) (*Downloaded, error)
	DownloadPayload(ctx context.Context, user *identity.LocalUser, loc Location, author identity.EmailAddress, d *Downloaded, destPath string) error
	UploadMessage(ctx context.Context, user *identity.LocalUser, env *envelope.Envelope, payload Payload) error
	RecallMessage(ctx context.Context, user *identity.LocalUser, id string) error
	FetchDeliveries(ctx context.Context, user *identity.LocalUser, id string) ([]models.Delivery, error)

	StoreLink(ctx context.Context, user *identity.LocalUser, link RemoteLink) error
	DeleteLink(ctx context.Context, user *identity.LocalUser, contact identity.EmailAddress) error
	FetchLinks(ctx context.Context, user *identity.LocalUser) ([]RemoteLink, error)
}

// RemoteNotification is one line of the notifications listing. Notifier is
// still encrypted to the local user.
type RemoteNotification struct {
	ID                string
	Link              string
	SignerFingerprint string
	Notifier          string
}

// RemoteLink is a decrypted contact link stored on the user's agents.
type RemoteLink struct {
	Link              string
	Address           identity.EmailAddress
	ReceiveBroadcasts bool
}

// Location tells where a message is fetched from.
type Location int

const (
	// LocationLocal is the user's own outbox.
	LocationLocal Location = iota
	// LocationLink is an author's outbox seen through the pairwise link.
	LocationLink
	// LocationBroadcast is an author's public outbox.
	LocationBroadcast
)

func (l Location) String() string {
	switch l {
	case LocationLocal:
		return "local"
	case LocationLink:
		return "link"
	case LocationBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

// Options tunes an HTTPClient. Zero values take the protocol defaults.
type Options struct {
	Scheme          string
	ProfileCacheTTL time.Duration
	RetryAttempts   int
	RetryDelay      time.Duration
}
