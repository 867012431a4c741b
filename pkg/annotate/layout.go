package annotate

import (
	"strings"
	"unicode/utf8"

	"poetate/api/pkg/domain"
)

type Point struct {
	X, Y float64
}

type Size struct {
	W, H float64
}

type Rect struct {
	X, Y, W, H float64
}

func (r Rect) Origin() Point {
	return Point{X: r.X, Y: r.Y}
}

func (r Rect) Overlaps(o Rect) bool {
	return r.X < o.X+o.W && o.X < r.X+r.W && r.Y < o.Y+o.H && o.Y < r.Y+r.H
}

func (r Rect) union(o Rect) Rect {
	minX, minY := min(r.X, o.X), min(r.Y, o.Y)
	maxX, maxY := max(r.X+r.W, o.X+o.W), max(r.Y+r.H, o.Y+o.H)
	return Rect{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}
}

// Viewport reports where words of the poem currently sit on screen.
type Viewport interface {
	// AnchorRect is the bounding box of the given words. ok is false when any
	// index is outside the poem.
	AnchorRect(anchors []int) (rect Rect, ok bool)
	// Document is the bounding box of the whole poem.
	Document() Rect
	ViewportWidth() float64
}

// AbsoluteFromOffset places a box relative to its anchor's origin.
func AbsoluteFromOffset(anchor Rect, offset domain.Offset) Point {
	return Point{X: anchor.X + offset.DX, Y: anchor.Y + offset.DY}
}

// OffsetFrom is the inverse of AbsoluteFromOffset, used after a drag.
func OffsetFrom(anchor Rect, at Point) domain.Offset {
	return domain.Offset{DX: at.X - anchor.X, DY: at.Y - anchor.Y}
}

// Placer positions boxes that have no stored offset beside the document,
// pushing each one down past any box it would overlap.
type Placer struct {
	Padding     float64
	Spacing     float64
	Box         Size
	PreferRight bool
}

func DefaultPlacer() Placer {
	return Placer{
		Padding:     20,
		Spacing:     10,
		Box:         Size{W: 200, H: 60},
		PreferRight: true,
	}
}

// Place returns the box for an annotation anchored at anchor, given the boxes
// already placed. Boxes go right of the document when they fit inside
// viewportWidth, otherwise left; a non-positive width always fits.
func (p Placer) Place(anchor, document Rect, viewportWidth float64, placed []Rect) Rect {
	right := document.X + document.W + p.Padding
	left := document.X - p.Padding - p.Box.W
	fitsRight := viewportWidth <= 0 || right+p.Box.W <= viewportWidth

	x := right
	if (!p.PreferRight || !fitsRight) && left >= 0 {
		x = left
	}

	box := Rect{X: x, Y: anchor.Y, W: p.Box.W, H: p.Box.H}
	for moved := true; moved; {
		moved = false
		for _, other := range placed {
			if box.Overlaps(other) {
				box.Y = other.Y + other.H + p.Spacing
				moved = true
			}
		}
	}
	return box
}

// TextViewport lays a poem out on a fixed character grid: one row per line,
// every rune CharWidth wide. Words are whitespace-separated tokens, numbered
// across the whole poem.
type TextViewport struct {
	origin     Point
	charWidth  float64
	lineHeight float64
	width      float64

	words    []Rect
	columns  int
	rowCount int
}

func NewTextViewport(content string, charWidth, lineHeight, width float64) *TextViewport {
	v := &TextViewport{charWidth: charWidth, lineHeight: lineHeight, width: width}
	lines := strings.Split(content, "\n")
	v.rowCount = len(lines)
	for row, line := range lines {
		if n := utf8.RuneCountInString(line); n > v.columns {
			v.columns = n
		}
		col := 0
		for _, field := range strings.Fields(line) {
			idx := strings.Index(line, field)
			col += utf8.RuneCountInString(line[:idx])
			v.words = append(v.words, Rect{
				X: float64(col) * charWidth,
				Y: float64(row) * lineHeight,
				W: float64(utf8.RuneCountInString(field)) * charWidth,
				H: lineHeight,
			})
			col += utf8.RuneCountInString(field)
			line = line[idx+len(field):]
		}
	}
	return v
}

// ScrollTo moves the poem's top-left corner to origin.
func (v *TextViewport) ScrollTo(origin Point) {
	v.origin = origin
}

// Resize changes the width boxes may extend to.
func (v *TextViewport) Resize(width float64) {
	v.width = width
}

func (v *TextViewport) WordCount() int {
	return len(v.words)
}

func (v *TextViewport) AnchorRect(anchors []int) (Rect, bool) {
	if len(anchors) == 0 {
		return Rect{}, false
	}
	var out Rect
	for i, idx := range anchors {
		if idx < 0 || idx >= len(v.words) {
			return Rect{}, false
		}
		word := v.words[idx]
		word.X += v.origin.X
		word.Y += v.origin.Y
		if i == 0 {
			out = word
			continue
		}
		out = out.union(word)
	}
	return out, true
}

func (v *TextViewport) Document() Rect {
	return Rect{
		X: v.origin.X,
		Y: v.origin.Y,
		W: float64(v.columns) * v.charWidth,
		H: float64(v.rowCount) * v.lineHeight,
	}
}

func (v *TextViewport) ViewportWidth() float64 {
	return v.width
}
