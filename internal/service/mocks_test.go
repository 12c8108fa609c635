package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"fadeout/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func strPtr(s string) *string { return &s }

// mockStore is a testify mock of MessageStore for unit tests that assert on
// exact calls.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	args := m.Called(ctx, conversationID)
	if msgs := args.Get(0); msgs != nil {
		return msgs.([]models.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	args := m.Called(ctx, id)
	if msg := args.Get(0); msg != nil {
		return msg.(*models.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) SoftDeleteMessages(ctx context.Context, ids []string, deletedAt time.Time) (int64, error) {
	args := m.Called(ctx, ids, deletedAt)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) InsertArchiveRecord(ctx context.Context, record *models.ArchiveRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *mockStore) HasArchiveRecord(ctx context.Context, messageID string) (bool, error) {
	args := m.Called(ctx, messageID)
	return args.Bool(0), args.Error(1)
}

type mockPurger struct {
	mock.Mock
}

func (m *mockPurger) CleanupOldArchiveRecords(ctx context.Context, retentionDays int) (int64, error) {
	args := m.Called(ctx, retentionDays)
	return args.Get(0).(int64), args.Error(1)
}

// fakeStore is an in-memory MessageStore with the same soft-delete and
// archive semantics as the SQLite store, for session-level scenarios.
type fakeStore struct {
	mu          sync.Mutex
	messages    map[string]*models.Message
	archive     map[string]*models.ArchiveRecord
	archiveErr  error
	deleteErr   error
	listErr     error
	listCalls   int
	listBlock   chan struct{}
	deleteCalls [][]string
}

func newFakeStore(messages ...models.Message) *fakeStore {
	s := &fakeStore{
		messages: make(map[string]*models.Message),
		archive:  make(map[string]*models.ArchiveRecord),
	}
	for _, msg := range messages {
		s.add(msg)
	}
	return s
}

func (s *fakeStore) add(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := msg
	s.messages[msg.ID] = &copied
}

func (s *fakeStore) setArchiveErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archiveErr = err
}

func (s *fakeStore) setDeleteErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteErr = err
}

func (s *fakeStore) setListErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

// blockNextList makes the next ListMessages read its rows and then hold
// them until release is called, like a read stuck behind a write lock.
func (s *fakeStore) blockNextList() (release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	block := make(chan struct{})
	s.listBlock = block
	var once sync.Once
	return func() { once.Do(func() { close(block) }) }
}

func (s *fakeStore) listCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}

func (s *fakeStore) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	s.mu.Lock()
	out, err := s.listLocked(conversationID)
	block := s.listBlock
	s.listBlock = nil
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, err
}

func (s *fakeStore) listLocked(conversationID string) ([]models.Message, error) {
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}

	var out []models.Message
	for _, msg := range s.messages {
		if msg.ConversationID == conversationID {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *fakeStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	copied := *msg
	return &copied, nil
}

func (s *fakeStore) SoftDeleteMessages(ctx context.Context, ids []string, deletedAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteCalls = append(s.deleteCalls, append([]string(nil), ids...))
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}

	var affected int64
	for _, id := range ids {
		msg, ok := s.messages[id]
		if !ok || msg.DeletedAt != nil {
			continue
		}
		at := deletedAt
		msg.DeletedAt = &at
		msg.Content = nil
		msg.Media = nil
		affected++
	}
	return affected, nil
}

func (s *fakeStore) InsertArchiveRecord(ctx context.Context, record *models.ArchiveRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.archiveErr != nil {
		return s.archiveErr
	}
	copied := *record
	s.archive[record.OriginalMessageID] = &copied
	return nil
}

func (s *fakeStore) HasArchiveRecord(ctx context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.archive[messageID]
	return ok, nil
}

func (s *fakeStore) message(id string) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.messages[id]
}

func (s *fakeStore) archived(id string) (*models.ArchiveRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.archive[id]
	return record, ok
}

func (s *fakeStore) deleteCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deleteCalls)
}
