package service

import (
	"context"
	"sync"
	"time"

	"fadeout/internal/constants"
	"fadeout/internal/errors"
	"fadeout/internal/metrics"
	"fadeout/internal/models"
	"fadeout/internal/realtime"
	"fadeout/internal/timers"
	"fadeout/internal/tracing"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// MessageView is one message as the viewer currently sees it.
type MessageView struct {
	ID               string            `json:"id"`
	SenderID         string            `json:"sender_id"`
	Content          *string           `json:"content,omitempty"`
	Media            []models.MediaRef `json:"media,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	Own              bool              `json:"own"`
	AwaitingPlayback bool              `json:"awaiting_playback,omitempty"`
	Timer            *models.Timer     `json:"timer,omitempty"`
}

// View is a point-in-time rendering of a session.
type View struct {
	ConversationID string        `json:"conversation_id"`
	ViewerID       string        `json:"viewer_id"`
	Messages       []MessageView `json:"messages"`
	ActiveTimers   int           `json:"active_timers"`
	GeneratedAt    time.Time     `json:"generated_at"`
}

// SessionDeps are the collaborators shared by every session of a manager.
type SessionDeps struct {
	Store         MessageStore
	Committer     *DeletionCommitter
	Bus           EventBus
	Clock         clockwork.Clock
	Logger        *logrus.Logger
	CommitTimeout time.Duration
	// Breaker, when set, guards conversation refetches against a failing
	// store.
	Breaker *CircuitBreaker
}

// Session owns the lifecycle engine for one viewer looking at one
// conversation: the guard sets, the timer registry and the tick loop.
// Timers and sets live only as long as the session.
type Session struct {
	conversationID string
	viewerID       string

	store         MessageStore
	committer     *DeletionCommitter
	bus           EventBus
	clock         clockwork.Clock
	logger        *logrus.Logger
	errLogger     *errors.Logger
	commitTimeout time.Duration
	breaker       *CircuitBreaker

	mu       sync.Mutex
	registry *timers.Registry
	viewed   *timers.IDSet
	played   *timers.IDSet
	deleted  *timers.IDSet
	expired  *timers.IDSet
	gate     *ViewGate
	messages []models.Message
	sub      *realtime.Subscription
	started  bool
	closed   bool

	// ctx bounds the tick loop and refetches. commitCtx outlives the
	// session so closing the view never aborts a half-written batch.
	ctx       context.Context
	cancel    context.CancelFunc
	commitCtx context.Context

	loops   sync.WaitGroup
	commits sync.WaitGroup
}

func NewSession(parent context.Context, conversationID, viewerID string, deps SessionDeps) *Session {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.CommitTimeout <= 0 {
		deps.CommitTimeout = time.Duration(constants.DefaultCommitTimeoutSec) * time.Second
	}

	viewed := timers.NewIDSet()
	played := timers.NewIDSet()
	deleted := timers.NewIDSet()

	ctx, cancel := context.WithCancel(parent)

	return &Session{
		conversationID: conversationID,
		viewerID:       viewerID,
		store:          deps.Store,
		committer:      deps.Committer,
		bus:            deps.Bus,
		clock:          deps.Clock,
		logger:         deps.Logger,
		errLogger:      errors.WrapLogger(deps.Logger),
		commitTimeout:  deps.CommitTimeout,
		breaker:        deps.Breaker,
		registry:       timers.NewRegistry(deps.Logger),
		viewed:         viewed,
		played:         played,
		deleted:        deleted,
		expired:        timers.NewIDSet(),
		gate:           NewViewGate(viewerID, viewed, played, deleted),
		ctx:            ctx,
		cancel:         cancel,
		commitCtx:      parent,
	}
}

func (s *Session) ConversationID() string { return s.conversationID }
func (s *Session) ViewerID() string       { return s.viewerID }

// Start loads the conversation, starts timers for what is already viewed,
// and launches the tick loop and the refetch listener.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.NewNotFoundError("session", s.conversationID)
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if err := s.Refresh(ctx); err != nil {
		return err
	}

	if s.bus != nil {
		sub := s.bus.SubscribeFiltered(s.conversationID, realtime.OnlyChanges)
		s.mu.Lock()
		s.sub = sub
		s.mu.Unlock()

		refetch := make(chan struct{}, 1)
		s.loops.Add(2)
		go s.listen(sub, refetch)
		go s.refetchLoop(refetch)
	}

	ticker := s.clock.NewTicker(time.Duration(constants.TickIntervalMs) * time.Millisecond)
	s.loops.Add(1)
	go s.run(ticker)

	s.logger.WithFields(SessionFields(ctx, s.conversationID, s.viewerID)).Info("Started viewing session")
	return nil
}

func (s *Session) run(ticker clockwork.Ticker) {
	defer s.loops.Done()
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.Chan():
			s.Tick(now)
		}
	}
}

// listen drains the change subscription without waiting on the store. Any
// number of changes seen while a refetch runs collapse into one pending
// refetch.
func (s *Session) listen(sub *realtime.Subscription, refetch chan<- struct{}) {
	defer s.loops.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case _, ok := <-sub.Events():
			if !ok {
				return
			}
			select {
			case refetch <- struct{}{}:
			default:
			}
		}
	}
}

func (s *Session) refetchLoop(refetch <-chan struct{}) {
	defer s.loops.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-refetch:
			// Errors are logged inside Refresh; the next change retries.
			_ = s.Refresh(s.ctx)
		}
	}
}

// Refresh refetches the conversation and runs the view gate over it.
func (s *Session) Refresh(ctx context.Context) error {
	messages, err := s.listMessages(ctx)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeDatabaseConnection) {
			s.logger.WithFields(SessionFields(ctx, s.conversationID, s.viewerID)).Debug("Skipping refetch: store breaker open")
			return err
		}
		appErr := errors.NewDatabaseError("list_messages", err)
		s.errLogger.LogError(appErr, "Failed to refetch conversation", SessionFields(ctx, s.conversationID, s.viewerID))
		return appErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.messages = messages
	s.startTimersLocked(ctx, s.gate.Evaluate(messages))
	return nil
}

func (s *Session) listMessages(ctx context.Context) ([]models.Message, error) {
	if s.breaker == nil {
		return s.store.ListMessages(ctx, s.conversationID)
	}

	var messages []models.Message
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		messages, err = s.store.ListMessages(ctx, s.conversationID)
		return err
	})
	return messages, err
}

// OnAudioPlayed is the playback callback: the viewer finished (or started)
// playing an audio message, which counts as viewing it.
func (s *Session) OnAudioPlayed(ctx context.Context, messageID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.NewNotFoundError("session", s.conversationID)
	}
	msg := s.findLocked(messageID)
	s.mu.Unlock()

	if msg == nil {
		fetched, err := s.store.GetMessage(ctx, messageID)
		if err != nil {
			return errors.NewDatabaseError("get_message", err)
		}
		if fetched == nil || fetched.ConversationID != s.conversationID {
			return errors.NewNotFoundError("message", messageID)
		}
		msg = fetched
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.NewNotFoundError("session", s.conversationID)
	}

	req, ok, err := s.gate.AudioPlayed(msg)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if s.findLocked(msg.ID) == nil {
		s.messages = append(s.messages, *msg)
	}
	s.startTimersLocked(ctx, []TimerRequest{req})
	return nil
}

func (s *Session) findLocked(messageID string) *models.Message {
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			msg := s.messages[i]
			return &msg
		}
	}
	return nil
}

func (s *Session) startTimersLocked(ctx context.Context, requests []TimerRequest) {
	created := 0
	for _, req := range requests {
		if s.registry.Create(req.MessageID, req.Kind, req.Text) {
			created++
		}
	}
	if created == 0 {
		return
	}

	metrics.AddToCounter("timers_created_total", float64(created), nil, "Message timers started")
	fields := SessionFields(ctx, s.conversationID, s.viewerID)
	fields[LogFieldCount] = created
	s.logger.WithFields(fields).Debug("Started timers for viewed messages")
}

// Tick advances every timer by one second. Ids that expired in this tick
// are committed as one batch in the background. Tick returns that batch.
func (s *Session) Tick(now time.Time) []string {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}

	batch := s.registry.Advance(now)
	if len(batch) > 0 {
		s.expired.AddAll(batch)
		s.commits.Add(1)
	}
	view := s.viewLocked(now)
	s.mu.Unlock()

	if len(batch) > 0 {
		go s.commit(batch)
	}

	s.publish(realtime.Event{
		Type:           realtime.EventSessionSnapshot,
		ConversationID: s.conversationID,
		ViewerID:       s.viewerID,
		Payload:        view,
		At:             now,
	})

	return batch
}

func (s *Session) commit(batch []string) {
	defer s.commits.Done()

	ctx, cancel := context.WithTimeout(s.commitCtx, s.commitTimeout)
	defer cancel()

	ctx, span := tracing.StartSpan(ctx, "session.commit", tracing.SessionAttributes(s.conversationID, s.viewerID)...)
	defer span.End()

	if _, err := s.committer.Commit(ctx, batch); err != nil {
		// Timers stay Deleted locally; the next refetch reconciles.
		return
	}

	s.deleted.AddAll(batch)
	s.publish(realtime.Event{
		Type:           realtime.EventMessagesChanged,
		ConversationID: s.conversationID,
		At:             s.clock.Now(),
	})
}

func (s *Session) publish(evt realtime.Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(evt)
}

// View renders what the viewer sees right now.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked(s.clock.Now())
}

func (s *Session) viewLocked(now time.Time) View {
	view := View{
		ConversationID: s.conversationID,
		ViewerID:       s.viewerID,
		Messages:       make([]MessageView, 0, len(s.messages)),
		ActiveTimers:   s.registry.Len(),
		GeneratedAt:    now,
	}

	for i := range s.messages {
		msg := &s.messages[i]
		// Expired ids stay hidden even if their commit failed or the
		// timer was already pruned.
		if msg.IsDeleted() || s.deleted.Has(msg.ID) || s.expired.Has(msg.ID) {
			continue
		}

		mv := MessageView{
			ID:        msg.ID,
			SenderID:  msg.SenderID,
			Media:     msg.Media,
			CreatedAt: msg.CreatedAt,
			Own:       msg.SenderID == s.viewerID,
		}
		if msg.Content != nil {
			content := *msg.Content
			mv.Content = &content
		}

		if timer, ok := s.registry.Get(msg.ID); ok {
			if timer.Status == models.TimerStatusDeleted {
				continue
			}
			switch timer.Status {
			case models.TimerStatusDeleting:
				mv.Content = timer.CurrentText
			case models.TimerStatusShowingUndoing:
				if len(msg.Media) == 0 {
					mv.Content = nil
				}
			}
			mv.Timer = &timer
		} else if !mv.Own && msg.HasAudio() && !s.played.Has(msg.ID) {
			mv.AwaitingPlayback = true
		}

		view.Messages = append(view.Messages, mv)
	}

	return view
}

// Close stops the tick loop and discards every timer and guard set. It
// waits for in-flight commits until ctx is done.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sub := s.sub
	s.mu.Unlock()

	s.cancel()
	if sub != nil {
		sub.Close()
	}
	s.loops.Wait()

	s.mu.Lock()
	s.registry.Reset()
	s.viewed.Clear()
	s.played.Clear()
	s.deleted.Clear()
	s.expired.Clear()
	s.messages = nil
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.commits.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrCodeTimeout, "timed out waiting for in-flight commits")
	}

	s.logger.WithFields(SessionFields(ctx, s.conversationID, s.viewerID)).Info("Closed viewing session")
	return nil
}

// waitForCommits blocks until every dispatched batch has finished.
func (s *Session) waitForCommits() {
	s.commits.Wait()
}
