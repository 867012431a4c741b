package domain

import (
	"encoding/json"
	"fmt"
)

// Realtime event names.
const (
	EventJoinRoom         = "join-poem-room"
	EventNewAnnotation    = "new-annotation"
	EventUpdateText       = "update-annotation-text"
	EventUpdatePosition   = "update-annotation-position"
	EventDeleteAnnotation = "delete-annotation"
)

// Envelope is one websocket frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an envelope for event.
func NewEnvelope(event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: data}, nil
}

// IsAnnotationEvent reports whether name is one of the relayed mutation events.
func IsAnnotationEvent(name string) bool {
	switch name {
	case EventNewAnnotation, EventUpdateText, EventUpdatePosition, EventDeleteAnnotation:
		return true
	default:
		return false
	}
}

// JoinRoom is the payload of join-poem-room.
type JoinRoom struct {
	PoemID string `json:"poemId"`
}

// NewAnnotationEvent announces a persisted annotation.
type NewAnnotationEvent struct {
	ID          string  `json:"id"`
	EphemeralID string  `json:"ephemeralId,omitempty"`
	PoemID      string  `json:"poemId"`
	Text        string  `json:"text"`
	Anchors     []int   `json:"anchors"`
	ColorTag    string  `json:"colorTag"`
	Offset      *Offset `json:"offset,omitempty"`
	UserID      *string `json:"userId,omitempty"`
}

// UpdateTextEvent announces a text edit.
type UpdateTextEvent struct {
	ID      string `json:"id"`
	PoemID  string `json:"poemId"`
	NewText string `json:"newText"`
}

// UpdatePositionEvent announces a moved annotation box.
type UpdatePositionEvent struct {
	ID     string `json:"id"`
	PoemID string `json:"poemId"`
	Offset Offset `json:"offset"`
}

// DeleteAnnotationEvent announces a deleted annotation.
type DeleteAnnotationEvent struct {
	ID     string `json:"id"`
	PoemID string `json:"poemId"`
}

// EventFromAnnotation builds the new-annotation payload for a stored record.
func EventFromAnnotation(a Annotation) NewAnnotationEvent {
	return NewAnnotationEvent{
		ID:          a.ID,
		EphemeralID: a.EphemeralID,
		PoemID:      a.PoemID,
		Text:        a.Text,
		Anchors:     a.Anchors,
		ColorTag:    a.ColorTag,
		Offset:      a.Offset,
		UserID:      a.UserID,
	}
}

// Annotation converts the payload back into an annotation record.
func (e NewAnnotationEvent) Annotation() Annotation {
	return Annotation{
		ID:          e.ID,
		EphemeralID: e.EphemeralID,
		PoemID:      e.PoemID,
		Text:        e.Text,
		Anchors:     append([]int(nil), e.Anchors...),
		ColorTag:    e.ColorTag,
		Offset:      e.Offset,
		UserID:      e.UserID,
	}
}
