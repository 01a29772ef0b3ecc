package services

import (
	"context"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/openemail/internal/common"
	"github.com/dmitrijs2005/openemail/internal/identity"
)

func TestSend_PrivateWithAttachment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.session(t, f.user(t, "alice@example.com", "Alice"))
	bob := f.user(t, "bob@example.org", "Bob")

	path, _ := writeFile(t, "report.bin", 2*testPartSize+1808)
	var progress [][2]int
	svc := NewMessageService(alice)

	msg, err := svc.Send(ctx, SendRequest{
		Readers:     []identity.EmailAddress{bob.Address, alice.User.Address, bob.Address},
		Subject:     "Quarterly report",
		Body:        "numbers attached",
		Attachments: []string{path},
		Progress:    func(done, total int) { progress = append(progress, [2]int{done, total}) },
	})
	require.NoError(t, err)
	svc.Wait()

	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, progress)
	assert.Equal(t, []identity.EmailAddress{bob.Address}, msg.Readers)
	assert.Equal(t, msg.ID, msg.SubjectID)
	assert.Len(t, msg.ID, 64)
	require.Len(t, msg.Attachments, 1)
	att := msg.Attachments[0]
	assert.Equal(t, "report.bin", att.FileName)
	assert.Equal(t, int64(2*testPartSize+1808), att.Size)
	assert.Equal(t, 3, att.TotalParts)
	assert.True(t, att.IsComplete())

	// Parts go up strictly before the root.
	for _, h := range comHosts {
		assert.Equal(t, append(append([]string(nil), att.PartIDs...), msg.ID), f.net.Agent(h).MessageIDs(alice.User.Address), h)
	}

	stored, err := svc.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsRead)
	assert.Equal(t, att.PartIDs, stored.Attachments[0].PartIDs)

	for _, h := range orgHosts {
		assert.Len(t, f.net.Agent(h).Notifications(bob.Address), 1, h)
	}
}

func TestSend_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.session(t, f.user(t, "alice@example.com", "Alice"))
	svc := NewMessageService(alice)
	bob := f.user(t, "bob@example.org", "Bob")

	tests := []struct {
		name string
		req  SendRequest
		want error
	}{
		{"empty", SendRequest{Readers: []identity.EmailAddress{bob.Address}}, common.ErrEmptyMessage},
		{"no readers", SendRequest{Subject: "hi"}, common.ErrNoValidReaders},
		{"only self", SendRequest{Subject: "hi", Readers: []identity.EmailAddress{alice.User.Address}}, common.ErrNoValidReaders},
		{"unknown parent", SendRequest{Subject: "hi", Readers: []identity.EmailAddress{bob.Address}, ParentID: "nope"}, common.ErrInvalidParentMessage},
		{"unknown reader", SendRequest{Subject: "hi", Readers: []identity.EmailAddress{bob.Address, identity.MustParseEmailAddress("nobody@example.net")}}, common.ErrInaccessibleReaders},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Send(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	path, _ := writeFile(t, "a.txt", 10)
	_, err := svc.Send(ctx, SendRequest{Subject: "dup", Broadcast: true, Attachments: []string{path, path}})
	assert.ErrorIs(t, err, ErrDuplicateAttachment)

	for _, h := range comHosts {
		assert.Empty(t, f.net.Agent(h).MessageIDs(alice.User.Address), h)
	}
	list, err := svc.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSend_ReplyKeepsThread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.session(t, f.user(t, "alice@example.com", "Alice"))
	bob := f.user(t, "bob@example.org", "Bob")
	svc := NewMessageService(alice)

	first, err := svc.Send(ctx, SendRequest{Readers: []identity.EmailAddress{bob.Address}, Subject: "Lunch?"})
	require.NoError(t, err)
	reply, err := svc.Send(ctx, SendRequest{Readers: []identity.EmailAddress{bob.Address}, Subject: "Re: Lunch?", ParentID: first.ID})
	require.NoError(t, err)
	svc.Wait()

	assert.Equal(t, first.ID, reply.SubjectID)
	assert.NotEqual(t, first.ID, reply.ID)
}

func TestSend_CancelStopsBeforeNextPart(t *testing.T) {
	f := newFixture(t)
	alice := f.session(t, f.user(t, "alice@example.com", "Alice"))
	bob := f.user(t, "bob@example.org", "Bob")
	svc := NewMessageService(alice)

	path, _ := writeFile(t, "big.bin", 3*testPartSize)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := svc.Send(ctx, SendRequest{
		Readers:     []identity.EmailAddress{bob.Address},
		Subject:     "big",
		Attachments: []string{path},
		Progress:    func(done, total int) { cancel() },
	})
	require.ErrorIs(t, err, context.Canceled)

	for _, h := range comHosts {
		assert.Len(t, f.net.Agent(h).MessageIDs(alice.User.Address), 1, h)
	}
	list, err := svc.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSend_UploadFailure(t *testing.T) {
	f := newFixture(t)
	alice := f.session(t, f.user(t, "alice@example.com", "Alice"))
	svc := NewMessageService(alice)
	for _, h := range comHosts {
		f.net.Agent(h).Fail(http.MethodPost, "/messages", http.StatusServiceUnavailable)
	}

	_, err := svc.Send(context.Background(), SendRequest{Broadcast: true, Subject: "hello"})
	assert.ErrorIs(t, err, common.ErrUploadFailure)
}

func TestRecall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.session(t, f.user(t, "alice@example.com", "Alice"))
	bob := f.user(t, "bob@example.org", "Bob")
	svc := NewMessageService(alice)

	path, _ := writeFile(t, "notes.txt", testPartSize+1)
	msg, err := svc.Send(ctx, SendRequest{Readers: []identity.EmailAddress{bob.Address}, Subject: "oops", Attachments: []string{path}})
	require.NoError(t, err)
	svc.Wait()

	f.net.Agent("mail2.example.com").Fail(http.MethodDelete, msg.ID, http.StatusServiceUnavailable)
	require.ErrorIs(t, svc.Recall(ctx, msg.ID), common.ErrRequestFailed)
	_, err = svc.Get(ctx, msg.ID)
	require.NoError(t, err, "a failed recall keeps the local copy")

	f.net.Agent("mail2.example.com").ClearFailures()
	require.NoError(t, svc.Recall(ctx, msg.ID))
	for _, h := range comHosts {
		assert.Empty(t, f.net.Agent(h).MessageIDs(alice.User.Address), h)
	}
	_, err = svc.Get(ctx, msg.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestRecall_OnlyOwnMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.session(t, f.user(t, "alice@example.com", "Alice"))
	bob := f.session(t, f.user(t, "bob@example.org", "Bob"))

	msg, err := NewMessageService(alice).Send(ctx, SendRequest{Readers: []identity.EmailAddress{bob.User.Address}, Subject: "hi"})
	require.NoError(t, err)
	_, err = NewSyncService(bob).FetchLinkMessages(ctx, alice.User.Address)
	require.NoError(t, err)

	assert.ErrorIs(t, NewMessageService(bob).Recall(ctx, msg.ID), ErrNotAuthor)
}

func TestMessageService_ReadAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.session(t, f.user(t, "alice@example.com", "Alice"))
	svc := NewMessageService(alice)

	msg, err := svc.Send(ctx, SendRequest{Broadcast: true, Subject: "Release notes", Body: "v2 is out"})
	require.NoError(t, err)

	require.NoError(t, svc.MarkAsRead(ctx, msg.ID, false))
	got, err := svc.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.False(t, got.IsRead)

	found, err := svc.List(ctx, "v2")
	require.NoError(t, err)
	require.Len(t, found, 1)

	dir, err := alice.Layout.EnsureMessageDir(alice.User.Address, msg.ID)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, msg.ID))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	found, err = svc.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, found)
}
