package messages

import (
	"context"
	"time"

	"github.com/dmitrijs2005/openemail/internal/client/models"
	"github.com/dmitrijs2005/openemail/internal/identity"
)

type Repository interface {
	// Message returns a message with attachments and deliveries, or
	// common.ErrorNotFound.
	Message(ctx context.Context, id string) (*models.Message, error)

	// Exists reports whether id is known locally, tombstones included.
	Exists(ctx context.Context, id string) (bool, error)

	// KnownIDs lists root and file-part ids already held locally.
	KnownIDs(ctx context.Context) (map[string]bool, error)
	// StoreMessage upserts m and replaces its attachments.
	StoreMessage(ctx context.Context, m *models.Message) error

	// StoreDelivery records that reader received message id at at. The
	// earliest time wins.
	StoreDelivery(ctx context.Context, id string, reader identity.EmailAddress, at time.Time) error

	MarkAsRead(ctx context.Context, id string, read bool) error

	// MarkAsDeleted tombstones a message.
	MarkAsDeleted(ctx context.Context, id string) error

	// DeleteMessage removes a message and its children permanently.
	DeleteMessage(ctx context.Context, id string) error

	// AllMessages lists non-deleted messages, newest first. A non-empty
	// search filters by subject, body or author.
	AllMessages(ctx context.Context, search string) ([]models.Message, error)

	// OutgoingMessages lists non-deleted private messages written by author.
	OutgoingMessages(ctx context.Context, author identity.EmailAddress) ([]models.Message, error)
}
