// Package rangetree implements the content-indexed structure that holds
// every CRDT item (inserted or tombstoned character run) a replica knows
// about, indexed both by raw (including tombstones) and content-visible
// (tombstones excluded) position.
//
// Grounded in original_source/crates/diamond-types-positional/src/list/m2/yjsspan2.rs
// (the Item type and its state machine) and src/range_tree/cursor.rs (the
// cursor-based tree walk). The original is a pointer-chasing B+tree of
// fixed-capacity leaf and internal nodes; here the tree is a doubly linked
// chain of leaves only, which keeps the leaf-handle/notify-callback
// contract the space index relies on while staying idiomatic Go. See
// DESIGN.md for why the internal-node fan-out layer was dropped.
package rangetree

import (
	"fmt"
	"math"

	"github.com/listmerge/fugue/causalgraph"
)

// StateKind is the coarse insertion/deletion phase of an Item.
type StateKind int

const (
	NotInsertedYet StateKind = iota
	Inserted
	Deleted
)

// ItemState mirrors YjsSpanState: deletion is a counter, not a boolean, so
// concurrent deletes of the same character all survive an undo of any one
// of them.
type ItemState struct {
	Kind StateKind
	// Redundant counts concurrent deletes beyond the first (YjsSpanState::Deleted(u16)).
	Redundant uint16
}

// Delete records one more concurrent delete. Deleting a not-yet-inserted
// item is a programmer error: the merge driver must integrate an item
// before any op can target it for deletion.
func (s *ItemState) Delete() {
	switch s.Kind {
	case NotInsertedYet:
		panic("rangetree: cannot delete an item that has not been inserted yet")
	case Inserted:
		s.Kind = Deleted
		s.Redundant = 0
	case Deleted:
		s.Redundant++
	}
}

// Undelete reverses one Delete call (used when retreating past a delete op).
func (s *ItemState) Undelete() {
	if s.Kind != Deleted {
		panic("rangetree: cannot undelete an item that is not deleted")
	}
	if s.Redundant > 0 {
		s.Redundant--
	} else {
		s.Kind = Inserted
	}
}

// MarkInserted transitions NotInsertedYet -> Inserted (used when advancing
// past an insert op during tracker replay).
func (s *ItemState) MarkInserted() {
	if s.Kind != NotInsertedYet {
		panic("rangetree: item is already inserted")
	}
	s.Kind = Inserted
}

// MarkNotInsertedYet reverses MarkInserted (used when retreating).
func (s *ItemState) MarkNotInsertedYet() {
	if s.Kind != Inserted {
		panic("rangetree: item is not in the plain-inserted state")
	}
	s.Kind = NotInsertedYet
}

func (s ItemState) IsDeleted() bool { return s.Kind == Deleted }

// UnderwaterBase is the first LV of the reserved upper half of LV-space used
// by the tracker for integration scratch items that have no real causal
// graph identity.
const UnderwaterBase causalgraph.LV = math.MaxInt / 2

// Item is one run of CRDT-ordered characters sharing an origin and state:
// the Go analogue of YjsSpan2 plus an EverDeleted bookkeeping bit (the
// original tracks this implicitly through its Deleted(n) counter;
// EverDeleted is kept explicit here since nothing else in this port
// exposes that counter to callers).
type Item struct {
	ID          causalgraph.LVRange
	OriginLeft  causalgraph.LV
	OriginRight causalgraph.LV
	State       ItemState
	EverDeleted bool
}

// NewUnderwaterItem returns a single one-LV Inserted placeholder item at
// UnderwaterBase, used to seed a tracker's range tree before any real
// content exists.
func NewUnderwaterItem() Item {
	return Item{
		ID:         causalgraph.LVRange{Start: UnderwaterBase, End: UnderwaterBase + 1},
		OriginLeft: causalgraph.RootLV, OriginRight: causalgraph.RootLV,
		State: ItemState{Kind: Inserted},
	}
}

func (it Item) IsUnderwater() bool { return it.ID.Start >= UnderwaterBase }

func (it Item) Len() int { return it.ID.Len() }

func (it Item) ContentLen() int {
	if it.State.Kind == Inserted {
		return it.Len()
	}
	return 0
}

// OriginLeftAtOffset returns the origin-left to use as if this item were
// split at offset: 0 keeps the stored OriginLeft, anything else points at
// the character immediately before the split.
func (it Item) OriginLeftAtOffset(offset int) causalgraph.LV {
	if offset == 0 {
		return it.OriginLeft
	}
	return it.ID.Start + causalgraph.LV(offset) - 1
}

// CanAppend reports whether other can be merged onto the end of it.
func (it Item) CanAppend(other Item) bool {
	return it.ID.CanAppend(other.ID) &&
		other.OriginLeft == other.ID.Start-1 &&
		other.OriginRight == it.OriginRight &&
		other.State == it.State &&
		other.EverDeleted == it.EverDeleted
}

// Append merges other onto the end of it. Callers must check CanAppend first.
func (it *Item) Append(other Item) {
	it.ID.End = other.ID.End
}

// Truncate splits it at offset, shrinking it to [0, offset) and returning
// the [offset, len) remainder as a new Item.
func (it *Item) Truncate(offset int) Item {
	if offset <= 0 || offset >= it.Len() {
		panic(fmt.Sprintf("rangetree: truncate offset %d out of range for item of length %d", offset, it.Len()))
	}
	rest := Item{
		ID:          causalgraph.LVRange{Start: it.ID.Start + causalgraph.LV(offset), End: it.ID.End},
		OriginLeft:  it.ID.Start + causalgraph.LV(offset) - 1,
		OriginRight: it.OriginRight,
		State:       it.State,
		EverDeleted: it.EverDeleted,
	}
	it.ID.End = it.ID.Start + causalgraph.LV(offset)
	return rest
}

// GetOffset returns the offset of lv within the item, if it falls inside it.
func (it Item) GetOffset(lv causalgraph.LV) (int, bool) {
	if lv < it.ID.Start || lv >= it.ID.End {
		return 0, false
	}
	return int(lv - it.ID.Start), true
}

// AtOffset returns the LV at a given offset into the item.
func (it Item) AtOffset(offset int) causalgraph.LV { return it.ID.Start + causalgraph.LV(offset) }
