package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"fadeout/internal/errors"
	"fadeout/internal/models"
	"fadeout/internal/realtime"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, store *fakeStore) *SessionManager {
	t.Helper()

	clock := clockwork.NewFakeClockAt(sessionEpoch)
	logger := newTestLogger()
	hub := realtime.NewHub(64, logger)
	t.Cleanup(hub.Close)

	manager := NewSessionManager(context.Background(), SessionDeps{
		Store:     store,
		Committer: NewDeletionCommitter(store, NewArchiveWriter(store, clock), clock, logger),
		Bus:       hub,
		Clock:     clock,
		Logger:    logger,
	})
	t.Cleanup(func() { _ = manager.Shutdown(context.Background()) })
	return manager
}

func TestSessionManager_OpenIsIdempotent(t *testing.T) {
	manager := newTestManager(t, newFakeStore(textMessage("m1", "alice", "hi")))
	ctx := context.Background()

	first, err := manager.Open(ctx, "c1", "bob")
	require.NoError(t, err)
	second, err := manager.Open(ctx, "c1", "bob")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, manager.Count())

	other, err := manager.Open(ctx, "c1", "carol")
	require.NoError(t, err)
	assert.NotSame(t, first, other)
	assert.Equal(t, 2, manager.Count())

	got, ok := manager.Get("c1", "bob")
	assert.True(t, ok)
	assert.Same(t, first, got)
}

func TestSessionManager_SlowOpenDoesNotBlockOtherViewers(t *testing.T) {
	store := newFakeStore(textMessage("m1", "alice", "hi"))
	manager := newTestManager(t, store)
	ctx := context.Background()

	release := store.blockNextList()
	defer release()

	type openResult struct {
		session *Session
		err     error
	}
	slow := make(chan openResult, 2)
	for i := 0; i < 2; i++ {
		go func() {
			session, err := manager.Open(ctx, "c1", "bob")
			slow <- openResult{session, err}
		}()
	}
	require.Eventually(t, func() bool { return store.listCallCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	other, err := manager.Open(ctx, "c1", "carol")
	require.NoError(t, err)
	got, ok := manager.Get("c1", "carol")
	assert.True(t, ok)
	assert.Same(t, other, got)

	_, ok = manager.Get("c1", "bob")
	assert.False(t, ok, "a session is visible only once started")
	assert.Equal(t, 1, manager.Count())

	release()

	first := <-slow
	second := <-slow
	require.NoError(t, first.err)
	require.NoError(t, second.err)
	assert.Same(t, first.session, second.session)
	assert.Equal(t, 2, manager.Count())
	assert.Equal(t, 2, store.listCallCount(), "concurrent opens share one start")
}

func TestSessionManager_OpenWaiterHonoursContext(t *testing.T) {
	store := newFakeStore()
	manager := newTestManager(t, store)

	release := store.blockNextList()
	defer release()

	go func() { _, _ = manager.Open(context.Background(), "c1", "bob") }()
	require.Eventually(t, func() bool { return store.listCallCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := manager.Open(ctx, "c1", "bob")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeTimeout))
}

func TestSessionManager_OpenValidatesIDs(t *testing.T) {
	manager := newTestManager(t, newFakeStore())
	ctx := context.Background()

	_, err := manager.Open(ctx, "", "bob")
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))

	_, err = manager.Open(ctx, "c1", strings.Repeat("v", 200))
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))

	assert.Equal(t, 0, manager.Count())
}

func TestSessionManager_ReopenRestartsTimers(t *testing.T) {
	manager := newTestManager(t, newFakeStore(textMessage("m1", "alice", "hi")))
	ctx := context.Background()

	session, err := manager.Open(ctx, "c1", "bob")
	require.NoError(t, err)
	for i := 1; i <= 60; i++ {
		session.Tick(sessionEpoch.Add(time.Duration(i) * time.Second))
	}
	mv, _ := findView(session.View(), "m1")
	assert.Equal(t, 60, mv.Timer.TimeLeft)

	require.NoError(t, manager.Close(ctx, "c1", "bob"))
	_, ok := manager.Get("c1", "bob")
	assert.False(t, ok)

	reopened, err := manager.Open(ctx, "c1", "bob")
	require.NoError(t, err)
	mv, _ = findView(reopened.View(), "m1")
	assert.Equal(t, models.TimerStatusCounting, mv.Timer.Status)
	assert.Equal(t, 120, mv.Timer.TimeLeft, "viewing state is not durable across sessions")
}

func TestSessionManager_CloseUnknown(t *testing.T) {
	manager := newTestManager(t, newFakeStore())

	err := manager.Close(context.Background(), "c1", "nobody")
	assert.Equal(t, errors.ErrCodeNotFound, errors.GetCode(err))
}

func TestSessionManager_Shutdown(t *testing.T) {
	manager := newTestManager(t, newFakeStore())
	ctx := context.Background()

	_, err := manager.Open(ctx, "c1", "bob")
	require.NoError(t, err)
	_, err = manager.Open(ctx, "c2", "bob")
	require.NoError(t, err)

	require.NoError(t, manager.Shutdown(ctx))
	assert.Equal(t, 0, manager.Count())

	_, err = manager.Open(ctx, "c3", "bob")
	assert.Error(t, err)
}
