package service

import (
	"fadeout/internal/errors"
	"fadeout/internal/models"
	"fadeout/internal/timers"
)

// TimerRequest asks the registry to start counting down one message.
type TimerRequest struct {
	MessageID string
	Kind      timers.Kind
	Text      string
}

// ViewGate decides when a message counts as viewed. Non-audio messages are
// viewed as soon as the conversation is shown; audio waits for playback.
// Own messages are never timed.
type ViewGate struct {
	viewerID string
	viewed   *timers.IDSet
	played   *timers.IDSet
	deleted  *timers.IDSet
}

func NewViewGate(viewerID string, viewed, played, deleted *timers.IDSet) *ViewGate {
	return &ViewGate{
		viewerID: viewerID,
		viewed:   viewed,
		played:   played,
		deleted:  deleted,
	}
}

// Evaluate returns a timer request for every message that became viewed by
// this call. Repeated calls over the same list return nothing new.
func (g *ViewGate) Evaluate(messages []models.Message) []TimerRequest {
	var requests []TimerRequest

	for i := range messages {
		msg := &messages[i]

		if msg.IsDeleted() {
			g.deleted.Add(msg.ID)
			continue
		}
		if !g.eligible(msg) {
			continue
		}
		if msg.HasAudio() {
			continue
		}
		if g.viewed.Add(msg.ID) {
			requests = append(requests, requestFor(msg))
		}
	}

	return requests
}

// AudioPlayed records that the viewer played an audio message. It returns
// ok=false without error when the message was already played.
func (g *ViewGate) AudioPlayed(msg *models.Message) (TimerRequest, bool, error) {
	if msg == nil {
		return TimerRequest{}, false, errors.NewNotFoundError("message", "")
	}
	if msg.IsDeleted() || g.deleted.Has(msg.ID) {
		return TimerRequest{}, false, errors.NewNotFoundError("message", msg.ID)
	}
	if msg.SenderID == g.viewerID {
		return TimerRequest{}, false, errors.NewInvalidInputError("message_id", "own messages are not timed")
	}
	if !msg.HasAudio() {
		return TimerRequest{}, false, errors.NewInvalidInputError("message_id", "message has no audio")
	}

	if !g.played.Add(msg.ID) {
		return TimerRequest{}, false, nil
	}
	if !g.viewed.Add(msg.ID) {
		return TimerRequest{}, false, nil
	}

	return requestFor(msg), true, nil
}

func (g *ViewGate) eligible(msg *models.Message) bool {
	return msg.SenderID != g.viewerID && !g.viewed.Has(msg.ID) && !g.deleted.Has(msg.ID)
}

// Messages without attachments erode, even when their text is missing; the
// registry reports those as malformed and skips erosion.
func requestFor(msg *models.Message) TimerRequest {
	kind := timers.KindMedia
	if len(msg.Media) == 0 {
		kind = timers.KindText
	}
	return TimerRequest{
		MessageID: msg.ID,
		Kind:      kind,
		Text:      msg.Text(),
	}
}
