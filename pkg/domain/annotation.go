package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidAnchor reports a word index outside the poem.
var ErrInvalidAnchor = errors.New("anchor outside poem")

// Offset is an annotation box position relative to the origin of its anchor
// span. Set once the box has been dragged.
type Offset struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// Annotation is a note attached to a set of word positions in a poem.
type Annotation struct {
	ID          string    `json:"id"`
	EphemeralID string    `json:"ephemeralId,omitempty"`
	PoemID      string    `json:"poemId"`
	Text        string    `json:"text"`
	Anchors     []int     `json:"anchors"`
	ColorTag    string    `json:"colorTag,omitempty"`
	Offset      *Offset   `json:"offset,omitempty"`
	UserID      *string   `json:"userId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// AnnotationDraft is the body of an annotation create request.
type AnnotationDraft struct {
	PoemID      string  `json:"poemId"`
	EphemeralID string  `json:"ephemeralId"`
	Text        string  `json:"text"`
	Anchors     []int   `json:"anchors"`
	ColorTag    string  `json:"colorTag,omitempty"`
	Offset      *Offset `json:"offset,omitempty"`
}

// AnnotationUpdate is the body of a partial annotation update.
type AnnotationUpdate struct {
	Text   *string `json:"text,omitempty"`
	Offset *Offset `json:"offset,omitempty"`
}

// WordCount counts whitespace-separated words, the unit anchors index into.
func WordCount(content string) int {
	return len(strings.Fields(content))
}

// ValidateAnchors checks that anchors is non-empty and every index falls
// inside a poem of wordCount words.
func ValidateAnchors(anchors []int, wordCount int) error {
	if len(anchors) == 0 {
		return fmt.Errorf("%w: no anchors", ErrInvalidAnchor)
	}
	for _, idx := range anchors {
		if idx < 0 || idx >= wordCount {
			return fmt.Errorf("%w: index %d not in [0,%d)", ErrInvalidAnchor, idx, wordCount)
		}
	}
	return nil
}
