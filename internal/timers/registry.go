// Package timers holds the per-message countdown state machine.
package timers

import (
	"sort"
	"time"

	"fadeout/internal/constants"
	"fadeout/internal/erosion"
	"fadeout/internal/errors"
	"fadeout/internal/models"

	"github.com/sirupsen/logrus"
)

// Kind selects the path a timer takes once counting ends.
type Kind int

const (
	// KindText messages are eroded before the undo window.
	KindText Kind = iota
	// KindMedia messages go straight to the undo window.
	KindMedia
)

type entry struct {
	timer    models.Timer
	kind     Kind
	original string
}

// Registry owns the timers of one viewing session. It is not safe for
// concurrent use; the owning session serializes access.
type Registry struct {
	entries map[string]*entry
	logger  *errors.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		logger:  errors.WrapLogger(logger),
	}
}

// Create starts a Counting timer for messageID. An existing timer for the
// same id is never replaced; Create reports whether a new one was made.
func (r *Registry) Create(messageID string, kind Kind, text string) bool {
	if _, exists := r.entries[messageID]; exists {
		return false
	}
	r.entries[messageID] = &entry{
		timer: models.Timer{
			MessageID: messageID,
			TimeLeft:  constants.CountingWindowSec,
			Status:    models.TimerStatusCounting,
		},
		kind:     kind,
		original: text,
	}
	return true
}

// Advance moves every live timer forward by one tick and returns the ids
// that reached the end of their undo window during this tick, sorted. Timers
// that were already Deleted before the tick are pruned.
func (r *Registry) Advance(now time.Time) []string {
	for id, e := range r.entries {
		if e.timer.Status == models.TimerStatusDeleted {
			delete(r.entries, id)
		}
	}

	var batch []string
	for _, id := range r.sortedIDs() {
		e := r.entries[id]
		if r.step(e, now) {
			batch = append(batch, id)
		}
	}
	return batch
}

// step applies one tick to e and reports whether it was marked for deletion.
func (r *Registry) step(e *entry, now time.Time) bool {
	t := &e.timer

	switch t.Status {
	case models.TimerStatusCounting:
		if t.TimeLeft > 1 {
			t.TimeLeft--
			return false
		}
		if e.kind == KindText && e.original != "" {
			start := now
			text := e.original
			t.Status = models.TimerStatusDeleting
			t.TimeLeft = constants.DeletingWindowSec
			t.CurrentText = &text
			t.DeletionStart = &start
			return false
		}
		if e.kind == KindText {
			r.logger.LogWarn(errors.NewMalformedMessageError(t.MessageID), "Skipping erosion for message without text")
		}
		r.showUndo(t)

	case models.TimerStatusDeleting:
		if t.TimeLeft > 1 {
			t.TimeLeft--
			text := erosion.Erode(e.original, constants.DeletingWindowSec-t.TimeLeft)
			t.CurrentText = &text
			return false
		}
		r.showUndo(t)

	case models.TimerStatusShowingUndoing:
		if t.TimeLeft > 1 {
			t.TimeLeft--
			return false
		}
		t.Status = models.TimerStatusDeleted
		t.TimeLeft = 0
		return true
	}

	return false
}

func (r *Registry) showUndo(t *models.Timer) {
	t.Status = models.TimerStatusShowingUndoing
	t.TimeLeft = constants.UndoWindowSec
	t.CurrentText = nil
}

// Get returns a copy of the timer for messageID.
func (r *Registry) Get(messageID string) (models.Timer, bool) {
	e, ok := r.entries[messageID]
	if !ok {
		return models.Timer{}, false
	}
	return copyTimer(e.timer), true
}

// Snapshot returns copies of all timers ordered by message id.
func (r *Registry) Snapshot() []models.Timer {
	out := make([]models.Timer, 0, len(r.entries))
	for _, id := range r.sortedIDs() {
		out = append(out, copyTimer(r.entries[id].timer))
	}
	return out
}

// Len returns the number of timers, including Deleted ones not yet pruned.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Reset discards every timer.
func (r *Registry) Reset() {
	r.entries = make(map[string]*entry)
}

func (r *Registry) sortedIDs() []string {
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func copyTimer(t models.Timer) models.Timer {
	if t.CurrentText != nil {
		text := *t.CurrentText
		t.CurrentText = &text
	}
	if t.DeletionStart != nil {
		start := *t.DeletionStart
		t.DeletionStart = &start
	}
	return t
}
