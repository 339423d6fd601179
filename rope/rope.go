// Package rope is the minimal text buffer the merge driver replays ops
// into: an external collaborator satisfying insert-at-position,
// remove-range, and length-in-characters, standing in for
// original_source's JumpRopeBuf (github.com/josephg/jumprope-rs) dependency,
// which has no Go equivalent in this module's dependency pack - see
// DESIGN.md.
package rope

import (
	"fmt"
	"strings"
)

// Rope is a character buffer indexed by rune position.
type Rope struct {
	runes []rune
}

// New creates a rope seeded with the given text.
func New(text string) *Rope {
	return &Rope{runes: []rune(text)}
}

// LenChars returns the number of runes in the buffer.
func (r *Rope) LenChars() int { return len(r.runes) }

// Insert inserts text at rune position pos.
func (r *Rope) Insert(pos int, text string) error {
	if pos < 0 || pos > len(r.runes) {
		return fmt.Errorf("rope: insert position %d out of range [0,%d]", pos, len(r.runes))
	}
	ins := []rune(text)
	if len(ins) == 0 {
		return nil
	}
	out := make([]rune, 0, len(r.runes)+len(ins))
	out = append(out, r.runes[:pos]...)
	out = append(out, ins...)
	out = append(out, r.runes[pos:]...)
	r.runes = out
	return nil
}

// Remove deletes the rune range [start, end).
func (r *Rope) Remove(start, end int) error {
	if start < 0 || end > len(r.runes) || start > end {
		return fmt.Errorf("rope: remove range [%d,%d) out of range [0,%d]", start, end, len(r.runes))
	}
	r.runes = append(r.runes[:start:start], r.runes[end:]...)
	return nil
}

// String returns the buffer's current content.
func (r *Rope) String() string {
	var b strings.Builder
	b.Grow(len(r.runes))
	for _, c := range r.runes {
		b.WriteRune(c)
	}
	return b.String()
}
