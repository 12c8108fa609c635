package service

import (
	"context"
	"testing"
	"time"

	"fadeout/internal/errors"
	"fadeout/internal/models"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestCommitter(store MessageStore, clock clockwork.Clock) *DeletionCommitter {
	return NewDeletionCommitter(store, NewArchiveWriter(store, clock), clock, newTestLogger())
}

func TestDeletionCommitter_ArchivesThenDeletesBatch(t *testing.T) {
	store := &mockStore{}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		store.On("GetMessage", mock.Anything, id).Return(&models.Message{ID: id, SenderID: "alice", Content: strPtr(id)}, nil).Once()
		store.On("HasArchiveRecord", mock.Anything, id).Return(false, nil).Once()
	}
	store.On("InsertArchiveRecord", mock.Anything, mock.Anything).Return(nil).Twice()
	store.On("SoftDeleteMessages", mock.Anything, []string{"a", "b"}, clock.Now()).Return(int64(2), nil).Once()

	result, err := newTestCommitter(store, clock).Commit(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, result.Archived)
	assert.Empty(t, result.ArchiveFailed)
	assert.Equal(t, int64(2), result.RowsAffected)

	store.AssertExpectations(t)
	store.AssertNumberOfCalls(t, "SoftDeleteMessages", 1)
}

// Archive failures do not block the delete: the content is destroyed
// without an audit copy.
func TestDeletionCommitter_DeletesEvenWhenArchiveFails(t *testing.T) {
	store := &mockStore{}
	clock := clockwork.NewFakeClock()
	ctx := context.Background()

	store.On("GetMessage", mock.Anything, "a").Return(&models.Message{ID: "a", SenderID: "alice", Content: strPtr("a")}, nil)
	store.On("HasArchiveRecord", mock.Anything, "a").Return(false, nil)
	store.On("InsertArchiveRecord", mock.Anything, mock.Anything).Return(assert.AnError)
	store.On("SoftDeleteMessages", mock.Anything, []string{"a"}, mock.Anything).Return(int64(1), nil).Once()

	result, err := newTestCommitter(store, clock).Commit(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Empty(t, result.Archived)
	assert.Equal(t, []string{"a"}, result.ArchiveFailed)
	assert.Equal(t, int64(1), result.RowsAffected)

	store.AssertExpectations(t)
}

func TestDeletionCommitter_DeleteFailureIsNotRetried(t *testing.T) {
	store := &mockStore{}
	ctx := context.Background()

	store.On("GetMessage", mock.Anything, "a").Return(&models.Message{ID: "a", SenderID: "alice", Content: strPtr("a")}, nil)
	store.On("HasArchiveRecord", mock.Anything, "a").Return(false, nil)
	store.On("InsertArchiveRecord", mock.Anything, mock.Anything).Return(nil)
	store.On("SoftDeleteMessages", mock.Anything, []string{"a"}, mock.Anything).Return(int64(0), assert.AnError).Once()

	result, err := newTestCommitter(store, clockwork.NewFakeClock()).Commit(ctx, []string{"a"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeStoreWrite, errors.GetCode(err))
	assert.Equal(t, []string{"a"}, result.Archived)

	store.AssertNumberOfCalls(t, "SoftDeleteMessages", 1)
}

func TestDeletionCommitter_EmptyBatch(t *testing.T) {
	store := &mockStore{}

	result, err := newTestCommitter(store, clockwork.NewFakeClock()).Commit(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, CommitResult{}, result)
	store.AssertNotCalled(t, "SoftDeleteMessages", mock.Anything, mock.Anything, mock.Anything)
}
