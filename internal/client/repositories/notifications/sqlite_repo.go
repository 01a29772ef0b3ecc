package notifications

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/openemail/internal/client/models"
	"github.com/dmitrijs2005/openemail/internal/common"
	"github.com/dmitrijs2005/openemail/internal/dbx"
	"github.com/dmitrijs2005/openemail/internal/identity"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const notificationColumns = `id, received_on, link, address, author_fingerprint, is_processed`

type scanner interface {
	Scan(dest ...any) error
}

func scanNotification(s scanner) (*models.Notification, error) {
	var (
		n          models.Notification
		receivedOn int64
		addr       string
	)
	if err := s.Scan(&n.ID, &receivedOn, &n.Link, &addr, &n.AuthorFingerprint, &n.IsProcessed); err != nil {
		return nil, err
	}
	a, err := identity.ParseEmailAddress(addr)
	if err != nil {
		return nil, fmt.Errorf("bad notifier address %q: %w", addr, err)
	}
	n.Address = a
	n.ReceivedOn = time.Unix(receivedOn, 0).UTC()
	return &n, nil
}

func (r *SQLiteRepository) Notification(ctx context.Context, id string) (*models.Notification, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification %s: %w", id, err)
	}
	return n, nil
}

func (r *SQLiteRepository) StoreNotification(ctx context.Context, n *models.Notification) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, n.ID, n.ReceivedOn.Unix(), n.Link, n.Address.String(), n.AuthorFingerprint, n.IsProcessed)
	if err != nil {
		return fmt.Errorf("failed to insert notification %s: %w", n.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) StoreNotifications(ctx context.Context, ns []models.Notification) error {
	for i := range ns {
		if err := r.StoreNotification(ctx, &ns[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLiteRepository) AllNotifications(ctx context.Context) ([]models.Notification, error) {
	return r.list(ctx, `SELECT `+notificationColumns+` FROM notifications ORDER BY received_on, id`)
}

func (r *SQLiteRepository) PendingNotifications(ctx context.Context) ([]models.Notification, error) {
	return r.list(ctx, `SELECT `+notificationColumns+` FROM notifications
		WHERE is_processed = 0 ORDER BY received_on, id`)
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]models.Notification, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select notifications: %w", err)
	}
	defer rows.Close()

	var result []models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		result = append(result, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) MarkAsProcessed(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE notifications SET is_processed = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to mark notification %s: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteNotification(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete notification %s: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE received_on < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired notifications: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
