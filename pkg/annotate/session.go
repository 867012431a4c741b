// Package annotate keeps one client's view of the annotations on a poem in
// step with the backing store and with the other clients in the poem's room.
//
// Local mutations are applied optimistically, persisted, and only then
// emitted on the realtime channel. Remote events are applied when they are
// new to this client and are never re-emitted.
package annotate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"slices"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"

	"poetate/api/pkg/client"
	"poetate/api/pkg/domain"
)

var (
	ErrReadOnly          = errors.New("poem is read-only")
	ErrUnknownAnnotation = errors.New("unknown annotation")
	ErrInvalidAnchor     = domain.ErrInvalidAnchor
	ErrNoViewport        = errors.New("session has no viewport")
)

// Store is the backing store. A delete of a missing record must return an
// error matching client.ErrNotFound.
type Store interface {
	CreateAnnotation(ctx context.Context, draft domain.AnnotationDraft) (*domain.Annotation, error)
	UpdateAnnotationText(ctx context.Context, id, text string) (*domain.Annotation, error)
	UpdateAnnotationPosition(ctx context.Context, id string, offset domain.Offset) (*domain.Annotation, error)
	DeleteAnnotation(ctx context.Context, id string) error
	ListAnnotations(ctx context.Context, poemID string) ([]domain.Annotation, error)
}

// Emitter publishes an event to the other members of the poem's room.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any) error
}

type Options struct {
	ReadOnly    bool
	PaletteSize int
	// Viewport enables box placement. Without one, Box always reports false.
	Viewport Viewport
	Placer   *Placer
	Logger   *log.Logger
}

// Change describes a remote event that altered local state.
type Change struct {
	Event string
	ID    string
}

type mark struct {
	key string
	tag string
	seq uint64
}

// Session is the annotation state of one open poem. Methods are safe for
// concurrent use; each runs to completion, network calls included, before
// the next starts.
type Session struct {
	mu sync.Mutex

	poem      domain.Poem
	wordCount int
	store     Store
	emitter   Emitter
	readOnly  bool
	viewport  Viewport
	placer    Placer
	logger    *log.Logger

	cache   *Cache
	palette *Palette
	marks   map[int][]mark

	newEphemeralID func() string
}

func NewSession(poem domain.Poem, store Store, emitter Emitter, opts Options) *Session {
	placer := DefaultPlacer()
	if opts.Placer != nil {
		placer = *opts.Placer
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Session{
		poem:      poem,
		wordCount: domain.WordCount(poem.Content),
		store:     store,
		emitter:   emitter,
		readOnly:  opts.ReadOnly,
		viewport:  opts.Viewport,
		placer:    placer,
		logger:    logger,
		cache:     NewCache(),
		palette:   NewPalette(opts.PaletteSize),
		marks:     make(map[int][]mark),
		newEphemeralID: func() string {
			return "eph_" + ulid.Make().String()
		},
	}
}

func (s *Session) PoemID() string {
	return s.poem.ID
}

// Load replaces local state with the store's annotations. Highlight tags are
// handed out again from the first palette slot in load order.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.store.ListAnnotations(ctx, s.poem.ID)
	if err != nil {
		return fmt.Errorf("load annotations: %w", err)
	}
	s.cache.Clear()
	s.marks = make(map[int][]mark)
	s.palette.Reset()
	for _, item := range items {
		item.ColorTag = s.palette.Next()
		s.render(item.ID, item)
	}
	return nil
}

// Create renders a new annotation immediately, persists it, then announces
// it. A failed create removes the optimistic copy and emits nothing.
func (s *Session) Create(ctx context.Context, text string, anchors []int) (domain.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readOnly {
		return domain.Annotation{}, ErrReadOnly
	}
	if err := domain.ValidateAnchors(anchors, s.wordCount); err != nil {
		return domain.Annotation{}, err
	}

	ephemeralID := s.newEphemeralID()
	draft := domain.Annotation{
		EphemeralID: ephemeralID,
		PoemID:      s.poem.ID,
		Text:        text,
		Anchors:     append([]int(nil), anchors...),
		ColorTag:    s.palette.Next(),
	}
	entry := s.render(ephemeralID, draft)

	created, err := s.store.CreateAnnotation(ctx, domain.AnnotationDraft{
		PoemID:      s.poem.ID,
		EphemeralID: ephemeralID,
		Text:        text,
		Anchors:     draft.Anchors,
		ColorTag:    draft.ColorTag,
	})
	if err != nil {
		s.discard(entry)
		s.logger.Printf(`{"event":"annotation_create_failed","poem":"%s","ephemeral_id":"%s","error":%q}`, s.poem.ID, ephemeralID, err.Error())
		return domain.Annotation{}, err
	}

	s.cache.Promote(ephemeralID, created.ID)
	s.rekeyMarks(ephemeralID, created.ID, draft.Anchors)
	entry.Annotation.ID = created.ID
	entry.Annotation.UserID = created.UserID
	entry.Annotation.CreatedAt = created.CreatedAt
	entry.Annotation.UpdatedAt = created.UpdatedAt

	s.emit(ctx, domain.EventNewAnnotation, domain.EventFromAnnotation(entry.Annotation))
	return entry.Annotation, nil
}

// UpdateText changes an annotation's body. On failure the previous text is
// restored.
func (s *Session) UpdateText(ctx context.Context, id, text string) (domain.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.mutable(id)
	if err != nil {
		return domain.Annotation{}, err
	}
	previous := entry.Annotation.Text
	entry.Annotation.Text = text

	updated, err := s.store.UpdateAnnotationText(ctx, entry.Annotation.ID, text)
	if err != nil {
		entry.Annotation.Text = previous
		return domain.Annotation{}, err
	}
	entry.Annotation.UpdatedAt = updated.UpdatedAt

	s.emit(ctx, domain.EventUpdateText, domain.UpdateTextEvent{
		ID:      entry.Annotation.ID,
		PoemID:  s.poem.ID,
		NewText: text,
	})
	return entry.Annotation, nil
}

// UpdatePosition stores a new offset from the anchor and repositions the box.
// On failure the previous offset and box are restored.
func (s *Session) UpdatePosition(ctx context.Context, id string, offset domain.Offset) (domain.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatePosition(ctx, id, offset)
}

// Move handles a drag: the box's new top-left corner becomes an offset from
// the anchor's origin.
func (s *Session) Move(ctx context.Context, id string, to Point) (domain.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.viewport == nil {
		return domain.Annotation{}, ErrNoViewport
	}
	entry, err := s.mutable(id)
	if err != nil {
		return domain.Annotation{}, err
	}
	anchor, ok := s.viewport.AnchorRect(entry.Annotation.Anchors)
	if !ok {
		return domain.Annotation{}, fmt.Errorf("%w: annotation %s", ErrInvalidAnchor, id)
	}
	return s.updatePosition(ctx, id, OffsetFrom(anchor, to))
}

func (s *Session) updatePosition(ctx context.Context, id string, offset domain.Offset) (domain.Annotation, error) {
	entry, err := s.mutable(id)
	if err != nil {
		return domain.Annotation{}, err
	}
	previousOffset, previousBox, previousPlaced := entry.Annotation.Offset, entry.Box, entry.Placed
	entry.Annotation.Offset = &offset
	s.position(entry)

	updated, err := s.store.UpdateAnnotationPosition(ctx, entry.Annotation.ID, offset)
	if err != nil {
		entry.Annotation.Offset = previousOffset
		entry.Box, entry.Placed = previousBox, previousPlaced
		return domain.Annotation{}, err
	}
	entry.Annotation.UpdatedAt = updated.UpdatedAt

	s.emit(ctx, domain.EventUpdatePosition, domain.UpdatePositionEvent{
		ID:     entry.Annotation.ID,
		PoemID: s.poem.ID,
		Offset: offset,
	})
	return entry.Annotation, nil
}

// Delete removes an annotation locally and from the store. A record already
// gone from the store counts as deleted but is not announced; any other
// failure puts the annotation back.
func (s *Session) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readOnly {
		return ErrReadOnly
	}
	entry, ok := s.cache.Remove(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAnnotation, id)
	}
	s.removeMarks(entry.key, entry.Annotation.Anchors)

	err := s.store.DeleteAnnotation(ctx, entry.Annotation.ID)
	if errors.Is(err, client.ErrNotFound) {
		s.logger.Printf(`{"event":"annotation_already_deleted","poem":"%s","id":"%s"}`, s.poem.ID, id)
		return nil
	}
	if err != nil {
		s.cache.restore(entry)
		s.addMarks(entry)
		return err
	}

	s.emit(ctx, domain.EventDeleteAnnotation, domain.DeleteAnnotationEvent{
		ID:     entry.Annotation.ID,
		PoemID: s.poem.ID,
	})
	return nil
}

// Apply merges one event received from the room. It reports whether local
// state changed. Events for other poems, unknown ids and already-known
// annotations are ignored.
func (s *Session) Apply(env domain.Envelope) (Change, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	change := Change{Event: env.Event}
	switch env.Event {
	case domain.EventNewAnnotation:
		var ev domain.NewAnnotationEvent
		if err := decodeEvent(env, &ev); err != nil {
			return change, false, err
		}
		change.ID = ev.ID
		if ev.PoemID != s.poem.ID || ev.ID == "" || s.cache.Has(ev.ID) {
			return change, false, nil
		}
		if err := domain.ValidateAnchors(ev.Anchors, s.wordCount); err != nil {
			return change, false, err
		}
		item := ev.Annotation()
		tag := s.palette.Next()
		if item.ColorTag == "" {
			item.ColorTag = tag
		}
		s.render(ev.ID, item)
		return change, true, nil

	case domain.EventUpdateText:
		var ev domain.UpdateTextEvent
		if err := decodeEvent(env, &ev); err != nil {
			return change, false, err
		}
		change.ID = ev.ID
		entry, ok := s.cache.Get(ev.ID)
		if ev.PoemID != s.poem.ID || !ok {
			return change, false, nil
		}
		entry.Annotation.Text = ev.NewText
		return change, true, nil

	case domain.EventUpdatePosition:
		var ev domain.UpdatePositionEvent
		if err := decodeEvent(env, &ev); err != nil {
			return change, false, err
		}
		change.ID = ev.ID
		entry, ok := s.cache.Get(ev.ID)
		if ev.PoemID != s.poem.ID || !ok {
			return change, false, nil
		}
		offset := ev.Offset
		entry.Annotation.Offset = &offset
		s.position(entry)
		return change, true, nil

	case domain.EventDeleteAnnotation:
		var ev domain.DeleteAnnotationEvent
		if err := decodeEvent(env, &ev); err != nil {
			return change, false, err
		}
		change.ID = ev.ID
		if ev.PoemID != s.poem.ID {
			return change, false, nil
		}
		entry, ok := s.cache.Remove(ev.ID)
		if !ok {
			return change, false, nil
		}
		s.removeMarks(entry.key, entry.Annotation.Anchors)
		return change, true, nil

	default:
		return change, false, nil
	}
}

// Run applies events until ctx ends or events is closed. onChange, when
// non-nil, is called after each event that changed local state.
func (s *Session) Run(ctx context.Context, events <-chan domain.Envelope, onChange func(Change)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-events:
			if !ok {
				return nil
			}
			change, applied, err := s.Apply(env)
			if err != nil {
				s.logger.Printf(`{"event":"remote_event_dropped","poem":"%s","type":"%s","error":%q}`, s.poem.ID, env.Event, err.Error())
				continue
			}
			if applied && onChange != nil {
				onChange(change)
			}
		}
	}
}

// Reflow recomputes every box after the viewport moved or resized. Boxes
// with an offset follow their anchor; the rest are placed again in creation
// order.
func (s *Session) Reflow() {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cache.Entries()
	for _, entry := range entries {
		entry.Placed = false
	}
	for _, entry := range entries {
		s.position(entry)
	}
}

func (s *Session) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Has(id)
}

func (s *Session) Get(id string) (domain.Annotation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache.Get(id)
	if !ok {
		return domain.Annotation{}, false
	}
	return entry.Annotation, true
}

// Box returns the rendered position of an annotation's box.
func (s *Session) Box(id string) (Rect, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache.Get(id)
	if !ok || !entry.Placed {
		return Rect{}, false
	}
	return entry.Box, true
}

// Highlights returns the tags highlighting word, oldest first.
func (s *Session) Highlights(word int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	marks := s.marks[word]
	tags := make([]string, 0, len(marks))
	for _, m := range marks {
		tags = append(tags, m.tag)
	}
	return tags
}

// Entries returns the cached annotations in the order they were rendered.
func (s *Session) Entries() []domain.Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.cache.Entries()
	out := make([]domain.Annotation, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Annotation)
	}
	return out
}

func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

func (s *Session) mutable(id string) (*Entry, error) {
	if s.readOnly {
		return nil, ErrReadOnly
	}
	entry, ok := s.cache.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAnnotation, id)
	}
	return entry, nil
}

// render caches the annotation before highlighting or placing it.
func (s *Session) render(key string, item domain.Annotation) *Entry {
	entry := s.cache.Upsert(key, item)
	s.addMarks(entry)
	s.position(entry)
	return entry
}

func (s *Session) discard(entry *Entry) {
	s.cache.Remove(entry.key)
	s.removeMarks(entry.key, entry.Annotation.Anchors)
}

func (s *Session) position(entry *Entry) {
	if s.viewport == nil {
		return
	}
	anchor, ok := s.viewport.AnchorRect(entry.Annotation.Anchors)
	if !ok {
		entry.Placed = false
		return
	}
	if entry.Annotation.Offset != nil {
		at := AbsoluteFromOffset(anchor, *entry.Annotation.Offset)
		entry.Box = Rect{X: at.X, Y: at.Y, W: s.placer.Box.W, H: s.placer.Box.H}
		entry.Placed = true
		return
	}

	placed := make([]Rect, 0, s.cache.Len())
	for _, other := range s.cache.Entries() {
		if other != entry && other.Placed {
			placed = append(placed, other.Box)
		}
	}
	entry.Box = s.placer.Place(anchor, s.viewport.Document(), s.viewport.ViewportWidth(), placed)
	entry.Placed = true
}

// addMarks highlights the entry's words, keeping each word's marks in render
// order so a restored entry returns to its old place.
func (s *Session) addMarks(entry *Entry) {
	m := mark{key: entry.key, tag: entry.Annotation.ColorTag, seq: entry.seq}
	for _, idx := range entry.Annotation.Anchors {
		marks := s.marks[idx]
		at := sort.Search(len(marks), func(i int) bool { return marks[i].seq > m.seq })
		s.marks[idx] = slices.Insert(marks, at, m)
	}
}

func (s *Session) removeMarks(key string, anchors []int) {
	for _, idx := range anchors {
		kept := s.marks[idx][:0]
		for _, m := range s.marks[idx] {
			if m.key != key {
				kept = append(kept, m)
			}
		}
		if len(kept) == 0 {
			delete(s.marks, idx)
			continue
		}
		s.marks[idx] = kept
	}
}

func (s *Session) rekeyMarks(from, to string, anchors []int) {
	for _, idx := range anchors {
		for i := range s.marks[idx] {
			if s.marks[idx][i].key == from {
				s.marks[idx][i].key = to
			}
		}
	}
}

// emit announces a persisted mutation. A failed emit is a delivery gap: the
// durable write stands and peers catch up on their next Load.
func (s *Session) emit(ctx context.Context, event string, payload any) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.Emit(ctx, event, payload); err != nil {
		s.logger.Printf(`{"event":"delivery_gap","poem":"%s","type":"%s","error":%q}`, s.poem.ID, event, err.Error())
	}
}

func decodeEvent(env domain.Envelope, target any) error {
	if err := json.Unmarshal(env.Data, target); err != nil {
		return fmt.Errorf("decode %s: %w", env.Event, err)
	}
	return nil
}
