package service

import (
	"context"
	"testing"
	"time"

	"fadeout/internal/errors"
	"fadeout/internal/models"
	"fadeout/internal/realtime"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sessionEpoch = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type sessionHarness struct {
	store   *fakeStore
	clock   *clockwork.FakeClock
	hub     *realtime.Hub
	session *Session
}

func newSessionHarness(t *testing.T, store *fakeStore) *sessionHarness {
	t.Helper()
	return newSessionHarnessWithBuffer(t, store, 64)
}

func newSessionHarnessWithBuffer(t *testing.T, store *fakeStore, bufferSize int) *sessionHarness {
	t.Helper()

	clock := clockwork.NewFakeClockAt(sessionEpoch)
	logger := newTestLogger()
	hub := realtime.NewHub(bufferSize, logger)
	t.Cleanup(hub.Close)

	deps := SessionDeps{
		Store:         store,
		Committer:     NewDeletionCommitter(store, NewArchiveWriter(store, clock), clock, logger),
		Bus:           hub,
		Clock:         clock,
		Logger:        logger,
		CommitTimeout: time.Second,
	}

	session := NewSession(context.Background(), "c1", "bob", deps)
	require.NoError(t, session.Start(context.Background()))
	t.Cleanup(func() { _ = session.Close(context.Background()) })

	return &sessionHarness{store: store, clock: clock, hub: hub, session: session}
}

// tickTo drives the session tick by tick up to second `to` after the epoch,
// returning the batch produced by every tick that had one.
func (h *sessionHarness) tickTo(from, to int) map[int][]string {
	batches := make(map[int][]string)
	for i := from; i <= to; i++ {
		if batch := h.session.Tick(sessionEpoch.Add(time.Duration(i) * time.Second)); len(batch) > 0 {
			batches[i] = batch
		}
	}
	return batches
}

func findView(view View, id string) (MessageView, bool) {
	for _, mv := range view.Messages {
		if mv.ID == id {
			return mv, true
		}
	}
	return MessageView{}, false
}

func TestSession_ScenarioA_TextErodesThenDeletes(t *testing.T) {
	store := newFakeStore(textMessage("m1", "alice", "Oi, tudo bem?"))
	h := newSessionHarness(t, store)

	mv, ok := findView(h.session.View(), "m1")
	require.True(t, ok)
	require.NotNil(t, mv.Timer)
	assert.Equal(t, models.TimerStatusCounting, mv.Timer.Status)
	assert.Equal(t, 120, mv.Timer.TimeLeft)

	h.tickTo(1, 120)
	mv, _ = findView(h.session.View(), "m1")
	assert.Equal(t, models.TimerStatusDeleting, mv.Timer.Status)
	assert.Equal(t, "Oi, tudo bem?", *mv.Content)

	h.tickTo(121, 180)
	mv, _ = findView(h.session.View(), "m1")
	assert.Equal(t, "Oi, tu", *mv.Content)

	h.tickTo(181, 239)
	mv, _ = findView(h.session.View(), "m1")
	require.NotNil(t, mv.Content)
	assert.Equal(t, "", *mv.Content)

	h.tickTo(240, 240)
	mv, _ = findView(h.session.View(), "m1")
	assert.Equal(t, models.TimerStatusShowingUndoing, mv.Timer.Status)
	assert.Nil(t, mv.Content)

	batches := h.tickTo(241, 245)
	assert.Equal(t, map[int][]string{245: {"m1"}}, batches)

	_, visible := findView(h.session.View(), "m1")
	assert.False(t, visible, "message disappears the tick it is deleted")

	h.session.waitForCommits()

	stored := h.store.message("m1")
	assert.True(t, stored.IsDeleted())
	assert.Nil(t, stored.Content)

	record, ok := h.store.archived("m1")
	require.True(t, ok)
	assert.Equal(t, "Oi, tudo bem?", *record.ContentSnapshot)
	assert.Equal(t, "alice", record.UserID)
}

func TestSession_ScenarioB_UnplayedAudioNeverExpires(t *testing.T) {
	store := newFakeStore(mediaMessage("voice", "alice", models.MediaKindAudio))
	h := newSessionHarness(t, store)

	assert.Empty(t, h.tickTo(1, 600))

	mv, ok := findView(h.session.View(), "voice")
	require.True(t, ok)
	assert.Nil(t, mv.Timer)
	assert.True(t, mv.AwaitingPlayback)
	assert.Equal(t, 0, h.store.deleteCallCount())
}

func TestSession_ScenarioC_ImageSkipsErosion(t *testing.T) {
	store := newFakeStore(mediaMessage("photo", "alice", models.MediaKindImage))
	h := newSessionHarness(t, store)

	h.tickTo(1, 119)
	mv, _ := findView(h.session.View(), "photo")
	assert.Equal(t, models.TimerStatusCounting, mv.Timer.Status)

	h.tickTo(120, 120)
	mv, _ = findView(h.session.View(), "photo")
	assert.Equal(t, models.TimerStatusShowingUndoing, mv.Timer.Status)
	assert.Equal(t, 5, mv.Timer.TimeLeft)

	assert.Equal(t, map[int][]string{125: {"photo"}}, h.tickTo(121, 130))

	h.session.waitForCommits()
	stored := h.store.message("photo")
	assert.True(t, stored.IsDeleted())

	record, ok := h.store.archived("photo")
	require.True(t, ok)
	assert.Equal(t, models.ArchiveMessageTypeMedia, record.MessageType)
}

func TestSession_ScenarioD_ArchiveFailureStillDeletes(t *testing.T) {
	store := newFakeStore(mediaMessage("photo", "alice", models.MediaKindFile))
	store.setArchiveErr(assert.AnError)
	h := newSessionHarness(t, store)

	assert.Equal(t, map[int][]string{125: {"photo"}}, h.tickTo(1, 125))
	h.session.waitForCommits()

	stored := h.store.message("photo")
	assert.True(t, stored.IsDeleted(), "delete proceeds without an archive copy")
	_, archived := h.store.archived("photo")
	assert.False(t, archived)
}

func TestSession_AudioPlayed(t *testing.T) {
	store := newFakeStore(
		mediaMessage("voice", "alice", models.MediaKindAudio),
		mediaMessage("photo", "alice", models.MediaKindImage),
	)
	h := newSessionHarness(t, store)
	ctx := context.Background()

	h.tickTo(1, 30)
	require.NoError(t, h.session.OnAudioPlayed(ctx, "voice"))
	require.NoError(t, h.session.OnAudioPlayed(ctx, "voice"), "second play is a no-op")

	mv, _ := findView(h.session.View(), "voice")
	require.NotNil(t, mv.Timer)
	assert.Equal(t, 120, mv.Timer.TimeLeft)
	assert.False(t, mv.AwaitingPlayback)

	batches := h.tickTo(31, 160)
	assert.Equal(t, map[int][]string{125: {"photo"}, 155: {"voice"}}, batches)

	t.Run("unknown message", func(t *testing.T) {
		err := h.session.OnAudioPlayed(ctx, "ghost")
		assert.Equal(t, errors.ErrCodeNotFound, errors.GetCode(err))
	})

	t.Run("message from another conversation", func(t *testing.T) {
		other := mediaMessage("elsewhere", "alice", models.MediaKindAudio)
		other.ConversationID = "c2"
		h.store.add(other)
		err := h.session.OnAudioPlayed(ctx, "elsewhere")
		assert.Equal(t, errors.ErrCodeNotFound, errors.GetCode(err))
	})

	t.Run("non-audio message", func(t *testing.T) {
		h.store.add(textMessage("late-text", "alice", "hello"))
		err := h.session.OnAudioPlayed(ctx, "late-text")
		assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
	})
}

func TestSession_OwnMessagesAreNeverTimed(t *testing.T) {
	store := newFakeStore(textMessage("mine", "bob", "my words"))
	h := newSessionHarness(t, store)

	assert.Empty(t, h.tickTo(1, 300))
	mv, ok := findView(h.session.View(), "mine")
	require.True(t, ok)
	assert.True(t, mv.Own)
	assert.Nil(t, mv.Timer)
}

func TestSession_StoreDeletedRowsAreHidden(t *testing.T) {
	deletedAt := sessionEpoch.Add(-time.Minute)
	gone := textMessage("gone", "alice", "")
	gone.Content = nil
	gone.DeletedAt = &deletedAt
	store := newFakeStore(gone)
	h := newSessionHarness(t, store)

	_, visible := findView(h.session.View(), "gone")
	assert.False(t, visible)
	assert.Equal(t, 0, h.session.View().ActiveTimers)
}

func TestSession_MalformedTextSkipsErosion(t *testing.T) {
	store := newFakeStore(models.Message{ID: "blank", ConversationID: "c1", SenderID: "alice", CreatedAt: sessionEpoch})
	h := newSessionHarness(t, store)

	h.tickTo(1, 120)
	mv, _ := findView(h.session.View(), "blank")
	assert.Equal(t, models.TimerStatusShowingUndoing, mv.Timer.Status)
	assert.Equal(t, map[int][]string{125: {"blank"}}, h.tickTo(121, 125))
}

func TestSession_SameTickExpiriesShareOneBatch(t *testing.T) {
	store := newFakeStore(
		mediaMessage("a", "alice", models.MediaKindImage),
		mediaMessage("b", "alice", models.MediaKindFile),
	)
	h := newSessionHarness(t, store)

	assert.Equal(t, map[int][]string{125: {"a", "b"}}, h.tickTo(1, 125))
	h.session.waitForCommits()
	assert.Equal(t, 1, h.store.deleteCallCount())
}

func TestSession_FailedDeleteStaysHiddenLocally(t *testing.T) {
	store := newFakeStore(mediaMessage("photo", "alice", models.MediaKindImage))
	store.setDeleteErr(assert.AnError)
	h := newSessionHarness(t, store)

	h.tickTo(1, 130)
	h.session.waitForCommits()

	stored := h.store.message("photo")
	assert.False(t, stored.IsDeleted())
	_, visible := findView(h.session.View(), "photo")
	assert.False(t, visible)
	assert.Equal(t, 1, h.store.deleteCallCount(), "failed deletes are not retried")
}

func TestSession_RefetchOnMessagesChanged(t *testing.T) {
	store := newFakeStore()
	h := newSessionHarness(t, store)

	h.store.add(textMessage("late", "alice", "arrived later"))
	h.hub.Publish(realtime.Event{Type: realtime.EventMessagesChanged, ConversationID: "c1"})

	assert.Eventually(t, func() bool {
		mv, ok := findView(h.session.View(), "late")
		return ok && mv.Timer != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSession_ChangeDuringSlowRefetchIsNotLost(t *testing.T) {
	store := newFakeStore(textMessage("m1", "alice", "hello"))
	h := newSessionHarnessWithBuffer(t, store, 4)

	release := store.blockNextList()
	defer release()

	h.hub.Publish(realtime.Event{Type: realtime.EventMessagesChanged, ConversationID: "c1"})
	require.Eventually(t, func() bool { return store.listCallCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	// Snapshots from many ticks must not crowd out the next change.
	h.tickTo(1, 20)

	store.add(textMessage("m2", "alice", "second"))
	delivered := h.hub.Publish(realtime.Event{Type: realtime.EventMessagesChanged, ConversationID: "c1"})
	assert.Equal(t, 1, delivered)

	release()

	assert.Eventually(t, func() bool {
		mv, ok := findView(h.session.View(), "m2")
		return ok && mv.Timer != nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, store.listCallCount())
}

func TestSession_PublishesSnapshotsAndChanges(t *testing.T) {
	store := newFakeStore(mediaMessage("photo", "alice", models.MediaKindImage))
	h := newSessionHarness(t, store)

	sub := h.hub.Subscribe("c1")
	defer sub.Close()

	h.tickTo(1, 1)
	evt := <-sub.Events()
	assert.Equal(t, realtime.EventSessionSnapshot, evt.Type)
	assert.Equal(t, "bob", evt.ViewerID)
	view, ok := evt.Payload.(View)
	require.True(t, ok)
	assert.Equal(t, 1, view.ActiveTimers)

	sub.Close()
	h.tickTo(2, 124)

	changes := h.hub.Subscribe("c1")
	defer changes.Close()

	h.tickTo(125, 125)
	h.session.waitForCommits()

	sawChange := false
	for len(changes.Events()) > 0 {
		if e := <-changes.Events(); e.Type == realtime.EventMessagesChanged {
			sawChange = true
		}
	}
	assert.True(t, sawChange)
}

func TestSession_TickLoopFollowsClock(t *testing.T) {
	store := newFakeStore(textMessage("m1", "alice", "hello"))
	h := newSessionHarness(t, store)

	assert.Eventually(t, func() bool {
		h.clock.Advance(time.Second)
		mv, ok := findView(h.session.View(), "m1")
		return ok && mv.Timer != nil && mv.Timer.TimeLeft < 120
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSession_CloseDiscardsState(t *testing.T) {
	store := newFakeStore(textMessage("m1", "alice", "hello"))
	h := newSessionHarness(t, store)

	h.tickTo(1, 10)
	require.NoError(t, h.session.Close(context.Background()))
	require.NoError(t, h.session.Close(context.Background()), "close is idempotent")

	assert.Nil(t, h.session.Tick(sessionEpoch.Add(time.Hour)))
	view := h.session.View()
	assert.Empty(t, view.Messages)
	assert.Equal(t, 0, view.ActiveTimers)

	err := h.session.OnAudioPlayed(context.Background(), "m1")
	assert.Equal(t, errors.ErrCodeNotFound, errors.GetCode(err))
}
