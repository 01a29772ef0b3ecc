package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/openemail/internal/identity"
)

func TestContactService_AddAndRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice@example.com", "Alice")
	bob := f.session(t, f.user(t, "bob@example.org", "Bob"))
	svc := NewContactService(bob)

	c, err := svc.Add(ctx, alice.Address, true)
	require.NoError(t, err)
	assert.Equal(t, bob.User.ConnectionLink(alice.Address), c.ID)
	assert.Equal(t, "Alice", c.CachedName)
	assert.True(t, c.ReceiveBroadcasts)

	for _, h := range orgHosts {
		links := f.net.Agent(h).Links(bob.User.Address)
		assert.Contains(t, links, c.ID, h)
	}

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, alice.Address, list[0].Address)

	// Adding again updates the existing entry.
	_, err = svc.Add(ctx, alice.Address, false)
	require.NoError(t, err)
	list, err = svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].ReceiveBroadcasts)

	require.NoError(t, svc.Remove(ctx, alice.Address))
	list, err = svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	for _, h := range orgHosts {
		assert.Empty(t, f.net.Agent(h).Links(bob.User.Address), h)
	}

	// Removing twice is not an error.
	require.NoError(t, svc.Remove(ctx, alice.Address))
}

func TestContactService_AddRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := f.session(t, f.user(t, "bob@example.org", "Bob"))
	svc := NewContactService(bob)

	_, err := svc.Add(ctx, bob.User.Address, false)
	assert.ErrorIs(t, err, ErrSelfContact)

	_, err = svc.Add(ctx, identity.MustParseEmailAddress("nobody@example.com"), false)
	assert.Error(t, err)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Zero(t, f.requests("PUT", "/links/", orgHosts...))
}
