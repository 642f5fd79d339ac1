package database

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssau-fiit/cloudocs-sync/protocol"
	"github.com/ssau-fiit/cloudocs-sync/richtext"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb), mr
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := Connect(Options{Addr: mr.Addr()})
	require.NoError(t, err)
	_ = rdb.Close()

	mr.Close()
	_, err = Connect(Options{Addr: mr.Addr()})
	assert.Error(t, err)
}

func TestUsersAndTokens(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	user, err := s.PutUser(ctx, "alice", "hunter2")
	require.NoError(t, err)
	_, err = s.PutUser(ctx, "alice", "other")
	assert.ErrorIs(t, err, ErrExists)

	got, err := s.User(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, user, got)

	_, err = s.User(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	token, err := s.IssueToken(ctx, user, time.Hour)
	require.NoError(t, err)
	resolved, err := s.ResolveToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, resolved.ID)
	assert.Equal(t, "alice", resolved.Username)

	mr.FastForward(2 * time.Hour)
	_, err = s.ResolveToken(ctx, token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocumentLifecycle(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	doc, err := s.CreateDocument(ctx, "Plan", "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)

	snap, err := s.Snapshot(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, snap.Ops)

	require.NoError(t, s.SetTitle(ctx, doc.ID, "Roadmap"))
	got, err := s.Document(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, Document{ID: doc.ID, Title: "Roadmap", Author: "alice"}, got)

	require.NoError(t, s.SaveSnapshot(ctx, doc.ID, richtext.FromText("hello")))
	snap, err = s.Snapshot(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", snap.Text())

	assert.Error(t, s.SaveSnapshot(ctx, doc.ID, richtext.New().Retain(2, nil)))

	docs, err := s.Documents(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	require.NoError(t, s.DeleteDocument(ctx, doc.ID))
	_, err = s.Document(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteDocument(ctx, doc.ID), ErrNotFound)
	assert.ErrorIs(t, s.SetTitle(ctx, doc.ID, "x"), ErrNotFound)
}

func TestShares(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	share, err := s.CreateShare(ctx, "123456", protocol.PermissionViewer, time.Minute)
	require.NoError(t, err)

	got, err := s.Share(ctx, share.Token)
	require.NoError(t, err)
	assert.Equal(t, share, got)

	mr.FastForward(time.Hour)
	_, err = s.Share(ctx, share.Token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPresence(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Join(ctx, "d", "c1", protocol.ActiveUser{ID: "1", Name: "alice"}))
	time.Sleep(time.Millisecond)
	require.NoError(t, s.Join(ctx, "d", "c2", protocol.ActiveUser{ID: "2", Name: "bob"}))
	require.NoError(t, s.MoveCursor(ctx, "d", "c2", protocol.CursorRange{Index: 3, Length: 1}))

	roster, err := s.Roster(ctx, "d")
	require.NoError(t, err)
	require.Len(t, roster, 2)
	assert.Equal(t, "alice", roster[0].Name)
	require.NotNil(t, roster[1].Cursor)
	assert.Equal(t, 3, roster[1].Cursor.Index)

	require.NoError(t, s.Leave(ctx, "d", "c1"))
	roster, err = s.Roster(ctx, "d")
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, "bob", roster[0].Name)

	assert.ErrorIs(t, s.MoveCursor(ctx, "d", "c1", protocol.CursorRange{}), ErrNotFound)
}

func TestPublishSubscribe(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ps, err := s.Subscribe(ctx, "d")
	require.NoError(t, err)
	defer ps.Close()

	require.NoError(t, s.Publish(ctx, "d", []byte("one")))
	require.NoError(t, s.Publish(ctx, "d", []byte("two")))

	ch := ps.Channel()
	for _, want := range []string{"one", "two"} {
		select {
		case msg := <-ch:
			assert.Equal(t, want, msg.Payload)
		case <-time.After(2 * time.Second):
			t.Fatalf("no message %q", want)
		}
	}
}
