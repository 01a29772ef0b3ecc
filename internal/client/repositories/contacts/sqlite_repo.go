package contacts

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

const contactColumns = `id, address, cached_name, receive_broadcasts, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanContact(s scanner) (*models.Contact, error) {
	var (
		c                models.Contact
		addr             string
		created, updated int64
	)
	if err := s.Scan(&c.ID, &addr, &c.CachedName, &c.ReceiveBroadcasts, &created, &updated); err != nil {
		return nil, err
	}
	a, err := identity.ParseEmailAddress(addr)
	if err != nil {
		return nil, fmt.Errorf("bad contact address %q: %w", addr, err)
	}
	c.Address = a
	c.CreatedAt = time.Unix(created, 0).UTC()
	c.UpdatedAt = time.Unix(updated, 0).UTC()
	return &c, nil
}

func (r *SQLiteRepository) one(ctx context.Context, where string, arg any) (*models.Contact, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE `+where+` = ?`, arg)
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return c, nil
}

func (r *SQLiteRepository) Contact(ctx context.Context, id string) (*models.Contact, error) {
	return r.one(ctx, "id", id)
}

func (r *SQLiteRepository) ContactByAddress(ctx context.Context, addr identity.EmailAddress) (*models.Contact, error) {
	return r.one(ctx, "address", addr.String())
}

// StoreContact upserts c by link. CreatedAt of an existing row is kept.
func (r *SQLiteRepository) StoreContact(ctx context.Context, c *models.Contact) error {
	now := time.Now().UTC()
	created := c.CreatedAt
	if created.IsZero() {
		created = now
	}
	updated := c.UpdatedAt
	if updated.IsZero() {
		updated = now
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO contacts (`+contactColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			address = excluded.address,
			cached_name = excluded.cached_name,
			receive_broadcasts = excluded.receive_broadcasts,
			updated_at = excluded.updated_at
	`, c.ID, c.Address.String(), c.CachedName, c.ReceiveBroadcasts, created.Unix(), updated.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert contact %s: %w", c.Address, err)
	}
	return nil
}

func (r *SQLiteRepository) StoreContacts(ctx context.Context, cs []models.Contact) error {
	for i := range cs {
		if err := r.StoreContact(ctx, &cs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLiteRepository) AllContacts(ctx context.Context) ([]models.Contact, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+contactColumns+` FROM contacts ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("failed to select contacts: %w", err)
	}
	defer rows.Close()

	var result []models.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		result = append(result, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) DeleteContact(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM contacts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete contact %s: %w", id, err)
	}
	return nil
}
