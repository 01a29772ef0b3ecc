// Package notifications persists notifications fetched from the home
// agents until the sync pipeline has processed them.
package notifications

import (
	"context"
	"time"

	"github.com/dmitrijs2005/openemail/internal/client/models"
)

type Repository interface {
	// Notification returns a notification by id or common.ErrorNotFound.
	Notification(ctx context.Context, id string) (*models.Notification, error)
	// StoreNotification inserts n. A known id keeps its stored state.
	StoreNotification(ctx context.Context, n *models.Notification) error
	StoreNotifications(ctx context.Context, ns []models.Notification) error
	// AllNotifications lists notifications ordered by receipt time.
	AllNotifications(ctx context.Context) ([]models.Notification, error)
	// PendingNotifications lists notifications not yet processed.
	PendingNotifications(ctx context.Context) ([]models.Notification, error)
	MarkAsProcessed(ctx context.Context, id string) error
	DeleteNotification(ctx context.Context, id string) error
	// DeleteExpired drops every notification received before cutoff and
	// returns the number of removed rows.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
