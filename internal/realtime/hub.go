// Package realtime fans conversation events out to in-process subscribers
// and to websocket clients.
package realtime

import (
	"sync"
	"time"

	"fadeout/internal/constants"
	"fadeout/internal/metrics"

	"github.com/sirupsen/logrus"
)

type EventType string

const (
	// EventMessagesChanged tells subscribers to refetch the conversation.
	EventMessagesChanged EventType = "messages_changed"
	// EventSessionSnapshot carries one viewer's session view after a tick.
	EventSessionSnapshot EventType = "session_snapshot"
)

type Event struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id"`
	ViewerID       string    `json:"viewer_id,omitempty"`
	Payload        any       `json:"payload,omitempty"`
	At             time.Time `json:"at"`
}

// Hub is an in-process pub/sub keyed by conversation id. Publish never
// blocks: a subscriber whose buffer is full misses the event.
type Hub struct {
	mu         sync.RWMutex
	subs       map[string]map[*Subscription]struct{}
	bufferSize int
	closed     bool
	logger     *logrus.Logger
}

// Filter selects which events a subscription receives.
type Filter func(Event) bool

// OnlyChanges passes messages_changed events and nothing else.
func OnlyChanges(evt Event) bool {
	return evt.Type == EventMessagesChanged
}

// ViewerStream passes messages_changed events and the snapshots of one
// viewer.
func ViewerStream(viewerID string) Filter {
	return func(evt Event) bool {
		return evt.Type == EventMessagesChanged || evt.ViewerID == viewerID
	}
}

type Subscription struct {
	hub            *Hub
	conversationID string
	accept         Filter
	ch             chan Event
	once           sync.Once
}

func NewHub(bufferSize int, logger *logrus.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = constants.DefaultSubscriberBufferSize
	}
	return &Hub{
		subs:       make(map[string]map[*Subscription]struct{}),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Subscribe registers interest in every event of one conversation. The
// returned subscription must be closed by the caller.
func (h *Hub) Subscribe(conversationID string) *Subscription {
	return h.SubscribeFiltered(conversationID, nil)
}

// SubscribeFiltered is Subscribe restricted to the events accept passes.
// Rejected events never take a slot in the subscription's buffer.
func (h *Hub) SubscribeFiltered(conversationID string, accept Filter) *Subscription {
	sub := &Subscription{
		hub:            h,
		conversationID: conversationID,
		accept:         accept,
		ch:             make(chan Event, h.bufferSize),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(sub.ch)
		sub.once.Do(func() {})
		return sub
	}

	if h.subs[conversationID] == nil {
		h.subs[conversationID] = make(map[*Subscription]struct{})
	}
	h.subs[conversationID][sub] = struct{}{}
	return sub
}

// Publish delivers evt to every subscriber of its conversation and returns
// how many received it.
func (h *Hub) Publish(evt Event) int {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return 0
	}

	delivered := 0
	for sub := range h.subs[evt.ConversationID] {
		if sub.accept != nil && !sub.accept(evt) {
			continue
		}
		select {
		case sub.ch <- evt:
			delivered++
		default:
			metrics.IncrementCounter("realtime_events_dropped_total", map[string]string{
				"type": string(evt.Type),
			}, "Events dropped because a subscriber buffer was full")
			if h.logger != nil {
				h.logger.WithFields(logrus.Fields{
					"event":           evt.Type,
					"conversation_id": evt.ConversationID,
				}).Debug("Dropping event for slow subscriber")
			}
		}
	}
	return delivered
}

func (h *Hub) SubscriberCount(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[conversationID])
}

// Close unsubscribes everyone and closes their channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for _, subs := range h.subs {
		for sub := range subs {
			sub.once.Do(func() { close(sub.ch) })
		}
	}
	h.subs = make(map[string]map[*Subscription]struct{})
}

func (s *Subscription) Events() <-chan Event {
	return s.ch
}

func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()

	if subs, ok := s.hub.subs[s.conversationID]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.hub.subs, s.conversationID)
		}
	}
	s.once.Do(func() { close(s.ch) })
}
