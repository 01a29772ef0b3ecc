package messages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/openemail/internal/client/models"
	"github.com/dmitrijs2005/openemail/internal/common"
	"github.com/dmitrijs2005/openemail/internal/dbx"
	"github.com/dmitrijs2005/openemail/internal/identity"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const messageColumns = `id, author, readers, subject, subject_id, body, category, date, size,
	checksum, is_broadcast, is_read, is_deleted`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (*models.Message, error) {
	var (
		m               models.Message
		author, readers string
		date            int64
	)
	err := s.Scan(&m.ID, &author, &readers, &m.Subject, &m.SubjectID, &m.Body, &m.Category,
		&date, &m.Size, &m.Checksum, &m.IsBroadcast, &m.IsRead, &m.IsDeleted)
	if err != nil {
		return nil, err
	}
	if m.Author, err = identity.ParseEmailAddress(author); err != nil {
		return nil, fmt.Errorf("bad author of message %s: %w", m.ID, err)
	}
	if m.Readers, err = identity.ParseAddressList(readers); err != nil {
		return nil, fmt.Errorf("bad readers of message %s: %w", m.ID, err)
	}
	m.Date = time.Unix(date, 0).UTC()
	return &m, nil
}

func (r *SQLiteRepository) Message(ctx context.Context, id string) (*models.Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	if err := r.loadChildren(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *SQLiteRepository) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check message %s: %w", id, err)
	}
	return n > 0, nil
}

// KnownIDs returns every message id held locally: root messages, tombstones
// included, and the file-part ids referenced by their attachments.
func (r *SQLiteRepository) KnownIDs(ctx context.Context) (map[string]bool, error) {
	known := make(map[string]bool)

	rows, err := r.db.QueryContext(ctx, `SELECT id FROM messages`)
	if err != nil {
		return nil, fmt.Errorf("failed to select message ids: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan message id: %w", err)
		}
		known[id] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = r.db.QueryContext(ctx, `SELECT part_ids FROM attachments`)
	if err != nil {
		return nil, fmt.Errorf("failed to select part ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var parts string
		if err := rows.Scan(&parts); err != nil {
			return nil, fmt.Errorf("failed to scan part ids: %w", err)
		}
		for _, id := range strings.Split(parts, ",") {
			if id != "" {
				known[id] = true
			}
		}
	}
	return known, rows.Err()
}

func (r *SQLiteRepository) StoreMessage(ctx context.Context, m *models.Message) error {
	category := m.Category
	if category == "" {
		category = "personal"
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			author = excluded.author,
			readers = excluded.readers,
			subject = excluded.subject,
			subject_id = excluded.subject_id,
			body = excluded.body,
			category = excluded.category,
			date = excluded.date,
			size = excluded.size,
			checksum = excluded.checksum,
			is_broadcast = excluded.is_broadcast,
			is_read = excluded.is_read,
			is_deleted = excluded.is_deleted
	`, m.ID, m.Author.String(), identity.JoinAddresses(m.Readers), m.Subject, m.SubjectID, m.Body,
		category, m.Date.Unix(), m.Size, m.Checksum, m.IsBroadcast, m.IsRead, m.IsDeleted)
	if err != nil {
		return fmt.Errorf("failed to upsert message %s: %w", m.ID, err)
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM attachments WHERE parent_id = ?`, m.ID); err != nil {
		return fmt.Errorf("failed to clear attachments of %s: %w", m.ID, err)
	}
	for i, a := range m.Attachments {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO attachments (parent_id, file_name, mime_type, size, modified, part_ids, total_parts, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, m.ID, a.FileName, a.MimeType, a.Size, a.Modified.Unix(), strings.Join(a.PartIDs, ","), a.TotalParts, i)
		if err != nil {
			return fmt.Errorf("failed to insert attachment %s of %s: %w", a.FileName, m.ID, err)
		}
	}

	for reader, at := range m.DeliveredTo {
		addr, err := identity.ParseEmailAddress(reader)
		if err != nil {
			return fmt.Errorf("bad delivery reader %q: %w", reader, err)
		}
		if err := r.StoreDelivery(ctx, m.ID, addr, at); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLiteRepository) StoreDelivery(ctx context.Context, id string, reader identity.EmailAddress, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO deliveries (message_id, reader, delivered_at) VALUES (?, ?, ?)
		ON CONFLICT(message_id, reader) DO UPDATE SET delivered_at = MIN(delivered_at, excluded.delivered_at)
	`, id, reader.String(), at.Unix())
	if err != nil {
		return fmt.Errorf("failed to store delivery of %s to %s: %w", id, reader, err)
	}
	return nil
}

func (r *SQLiteRepository) MarkAsRead(ctx context.Context, id string, read bool) error {
	return r.updateOne(ctx, `UPDATE messages SET is_read = ? WHERE id = ?`, read, id)
}

func (r *SQLiteRepository) MarkAsDeleted(ctx context.Context, id string) error {
	return r.updateOne(ctx, `UPDATE messages SET is_deleted = 1 WHERE id = ?`, id)
}

func (r *SQLiteRepository) updateOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLiteRepository) DeleteMessage(ctx context.Context, id string) error {
	for _, q := range []string{
		`DELETE FROM deliveries WHERE message_id = ?`,
		`DELETE FROM attachments WHERE parent_id = ?`,
		`DELETE FROM messages WHERE id = ?`,
	} {
		if _, err := r.db.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("failed to delete message %s: %w", id, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) AllMessages(ctx context.Context, search string) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE is_deleted = 0`
	var args []any
	if search = strings.TrimSpace(search); search != "" {
		like := "%" + search + "%"
		query += ` AND (subject LIKE ? OR body LIKE ? OR author LIKE ?)`
		args = append(args, like, like, like)
	}
	query += ` ORDER BY date DESC, id`
	return r.list(ctx, query, args...)
}

func (r *SQLiteRepository) OutgoingMessages(ctx context.Context, author identity.EmailAddress) ([]models.Message, error) {
	return r.list(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE is_deleted = 0 AND is_broadcast = 0 AND author = ? ORDER BY date DESC, id`, author.String())
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]models.Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select messages: %w", err)
	}

	var result []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		result = append(result, *m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range result {
		if err := r.loadChildren(ctx, &result[i]); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (r *SQLiteRepository) loadChildren(ctx context.Context, m *models.Message) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT file_name, mime_type, size, modified, part_ids, total_parts
		FROM attachments WHERE parent_id = ? ORDER BY position
	`, m.ID)
	if err != nil {
		return fmt.Errorf("failed to select attachments of %s: %w", m.ID, err)
	}
	for rows.Next() {
		a := models.Attachment{ParentID: m.ID}
		var (
			modified int64
			partIDs  string
		)
		if err := rows.Scan(&a.FileName, &a.MimeType, &a.Size, &modified, &partIDs, &a.TotalParts); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan attachment: %w", err)
		}
		a.Modified = time.Unix(modified, 0).UTC()
		if partIDs != "" {
			a.PartIDs = strings.Split(partIDs, ",")
		}
		m.Attachments = append(m.Attachments, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	rows, err = r.db.QueryContext(ctx, `SELECT reader, delivered_at FROM deliveries WHERE message_id = ?`, m.ID)
	if err != nil {
		return fmt.Errorf("failed to select deliveries of %s: %w", m.ID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			reader string
			at     int64
		)
		if err := rows.Scan(&reader, &at); err != nil {
			return fmt.Errorf("failed to scan delivery: %w", err)
		}
		if m.DeliveredTo == nil {
			m.DeliveredTo = make(map[string]time.Time)
		}
		m.DeliveredTo[reader] = time.Unix(at, 0).UTC()
	}
	return rows.Err()
}
