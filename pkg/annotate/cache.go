package annotate

import (
	"sort"

	"poetate/api/pkg/domain"
)

// Entry is the local state of one annotation.
type Entry struct {
	Annotation domain.Annotation
	// Box is the rendered position; valid when Placed is true.
	Box    Rect
	Placed bool

	key string
	seq uint64
}

// Key is the id the entry is cached under: the ephemeral id while the
// create is in flight, the durable id afterwards.
func (e *Entry) Key() string {
	return e.key
}

// Cache maps annotation ids to entries. Every annotation has at most one
// entry. An entry is keyed by exactly one id at a time, so looking one up by
// its ephemeral id after Promote misses.
type Cache struct {
	entries map[string]*Entry
	seq     uint64
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]*Entry)}
}

// Upsert inserts or replaces the annotation cached under id and returns the
// entry. A replaced entry keeps its position in Entries order.
func (c *Cache) Upsert(id string, a domain.Annotation) *Entry {
	if entry, ok := c.entries[id]; ok {
		entry.Annotation = a
		return entry
	}
	c.seq++
	entry := &Entry{Annotation: a, key: id, seq: c.seq}
	c.entries[id] = entry
	return entry
}

func (c *Cache) Has(id string) bool {
	_, ok := c.entries[id]
	return ok
}

func (c *Cache) Get(id string) (*Entry, bool) {
	entry, ok := c.entries[id]
	return entry, ok
}

// Remove evicts the entry for id. The caller releases whatever was rendered
// for it.
func (c *Cache) Remove(id string) (*Entry, bool) {
	entry, ok := c.entries[id]
	if ok {
		delete(c.entries, id)
	}
	return entry, ok
}

// restore puts back an entry taken out by Remove.
func (c *Cache) restore(entry *Entry) {
	c.entries[entry.key] = entry
}

// Promote rekeys the entry cached under ephemeralID to durableID. The entry
// pointer is unchanged so holders of it see the new key.
func (c *Cache) Promote(ephemeralID, durableID string) (*Entry, bool) {
	entry, ok := c.entries[ephemeralID]
	if !ok {
		return nil, false
	}
	if ephemeralID == durableID {
		return entry, true
	}
	delete(c.entries, ephemeralID)
	entry.key = durableID
	c.entries[durableID] = entry
	return entry, true
}

func (c *Cache) Len() int {
	return len(c.entries)
}

// Entries returns entries in the order they were first cached.
func (c *Cache) Entries() []*Entry {
	out := make([]*Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (c *Cache) Clear() {
	c.entries = make(map[string]*Entry)
}
