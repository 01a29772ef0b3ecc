package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/openemail/internal/client/models"
	"github.com/dmitrijs2005/openemail/internal/client/repositories/repotest"
	"github.com/dmitrijs2005/openemail/internal/common"
	"github.com/dmitrijs2005/openemail/internal/identity"
)

var bob = identity.MustParseEmailAddress("bob@example.org")

func notification(id string, at time.Time) models.Notification {
	return models.Notification{
		ID:                id,
		ReceivedOn:        at,
		Link:              "link-" + id,
		Address:           bob,
		AuthorFingerprint: "fp",
	}
}

func TestStoreAndGet(t *testing.T) {
	r := NewSQLiteRepository(repotest.OpenDB(t))
	ctx := context.Background()

	n := notification("n1", time.Unix(1700000000, 0).UTC())
	require.NoError(t, r.StoreNotification(ctx, &n))

	got, err := r.Notification(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, bob, got.Address)
	assert.Equal(t, "link-n1", got.Link)
	assert.True(t, n.ReceivedOn.Equal(got.ReceivedOn))

	_, err = r.Notification(ctx, "ghost")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestStoreNotification_KnownIDKeepsProcessedState(t *testing.T) {
	r := NewSQLiteRepository(repotest.OpenDB(t))
	ctx := context.Background()

	n := notification("n1", time.Unix(1700000000, 0).UTC())
	require.NoError(t, r.StoreNotification(ctx, &n))
	require.NoError(t, r.MarkAsProcessed(ctx, "n1"))
	require.NoError(t, r.StoreNotification(ctx, &n))

	pending, err := r.PendingNotifications(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	all, err := r.AllNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].IsProcessed)
}

func TestPendingOrderAndDelete(t *testing.T) {
	r := NewSQLiteRepository(repotest.OpenDB(t))
	ctx := context.Background()

	base := time.Unix(1700000000, 0).UTC()
	require.NoError(t, r.StoreNotifications(ctx, []models.Notification{
		notification("late", base.Add(time.Hour)),
		notification("early", base),
	}))

	pending, err := r.PendingNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "early", pending[0].ID)
	assert.Equal(t, "late", pending[1].ID)

	require.NoError(t, r.DeleteNotification(ctx, "early"))
	pending, err = r.PendingNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestDeleteExpired(t *testing.T) {
	r := NewSQLiteRepository(repotest.OpenDB(t))
	ctx := context.Background()

	now := time.Unix(1700000000, 0).UTC()
	require.NoError(t, r.StoreNotifications(ctx, []models.Notification{
		notification("old", now.Add(-8*24*time.Hour)),
		notification("fresh", now.Add(-time.Hour)),
	}))

	n, err := r.DeleteExpired(ctx, now.Add(-common.NotificationExpiry))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	all, err := r.AllNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "fresh", all[0].ID)
}

func TestDBErrors(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	mock.ExpectExec(`UPDATE notifications SET is_processed`).WithArgs("n1").WillReturnError(errors.New("busy"))
	assert.ErrorContains(t, r.MarkAsProcessed(ctx, "n1"), "failed to mark notification n1")

	mock.ExpectExec(`DELETE FROM notifications WHERE received_on`).
		WillReturnResult(sqlmock.NewErrorResult(errors.New("no count")))
	_, err = r.DeleteExpired(ctx, time.Now())
	assert.ErrorContains(t, err, "failed to get rows affected")

	assert.NoError(t, mock.ExpectationsWereMet())
}
