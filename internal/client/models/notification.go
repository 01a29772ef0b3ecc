package models

import (
	"time"

	"github.com/dmitrijs2005/openemail/internal/common"
	"github.com/dmitrijs2005/openemail/internal/identity"
)

// Notification is a verified signal that Address has something new for the
// local user.
type Notification struct {
	ID         string
	ReceivedOn time.Time
	Link       string
	Address    identity.EmailAddress

	// AuthorFingerprint is the signing key fingerprint the server recorded
	// for the notifier.
	AuthorFingerprint string

	IsProcessed bool
}

// IsExpired reports whether the notification outlived NotificationExpiry.
func (n Notification) IsExpired(now time.Time) bool {
	return now.Sub(n.ReceivedOn) > common.NotificationExpiry
}

// Contact is a local address book entry keyed by connection link.
type Contact struct {
	// ID is the connection link between the local user and Address.
	ID                string
	Address           identity.EmailAddress
	CachedName        string
	ReceiveBroadcasts bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Delivery is a reader's receipt confirmation for an outgoing message.
type Delivery struct {
	Link string
	At   time.Time
}
