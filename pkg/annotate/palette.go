package annotate

import "fmt"

// DefaultPaletteSize is the number of highlight colors cycled through.
const DefaultPaletteSize = 8

// Tag names the highlight class for palette slot i.
func Tag(i int) string {
	return fmt.Sprintf("highlight-%d", i)
}

// Palette hands out highlight tags round-robin. The counter advances on
// every render and wraps at size; it is never persisted.
type Palette struct {
	size int
	next int
}

func NewPalette(size int) *Palette {
	if size <= 0 {
		size = DefaultPaletteSize
	}
	return &Palette{size: size}
}

func (p *Palette) Next() string {
	tag := Tag(p.next)
	p.next = (p.next + 1) % p.size
	return tag
}

func (p *Palette) Reset() {
	p.next = 0
}
