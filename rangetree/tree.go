package rangetree

import (
	"fmt"

	"github.com/listmerge/fugue/causalgraph"
)

// Leaf holds a contiguous run of Items in document order. It is the unit
// the space index keeps pointers to (an InsPtr marker), so that relocating
// within a leaf never requires rewriting the index - only a leaf split or
// merge does, which NotifyFunc exists to announce.
type Leaf struct {
	Items      []Item
	Next, Prev *Leaf
}

// NotifyFunc is called whenever an item's position moves to a different
// leaf (on insert-triggered leaf growth, or mutation in place keeping the
// same leaf - callers can tell the two apart by comparing the leaf
// pointer). Grounded in range_tree's notify_fn parameter threaded through
// every mutating call in original_source/src/range_tree/*.
type NotifyFunc func(item Item, leaf *Leaf)

// RangeTree is a content-indexed, doubly linked chain of leaves holding
// every CRDT item a replica has ever integrated, in document order.
type RangeTree struct {
	head, tail *Leaf
	notify     NotifyFunc
	maxLeaf    int
}

func nullNotify(Item, *Leaf) {}

// New creates an empty range tree. maxLeaf bounds how many items accumulate
// in a leaf before a new one is split off; notify may be nil.
func New(maxLeaf int, notify NotifyFunc) *RangeTree {
	if maxLeaf <= 0 {
		maxLeaf = 64
	}
	if notify == nil {
		notify = nullNotify
	}
	leaf := &Leaf{}
	return &RangeTree{head: leaf, tail: leaf, notify: notify, maxLeaf: maxLeaf}
}

// LeafSize returns the configured maximum items per leaf.
func (t *RangeTree) LeafSize() int { return t.maxLeaf }

// Cursor names a position in the tree: leaf, index of the item within the
// leaf, and an offset within that item (offset == item length means "just
// past the end of this item").
type Cursor struct {
	Leaf   *Leaf
	Idx    int
	Offset int
}

func (t *RangeTree) CursorAtStart() Cursor { return Cursor{Leaf: t.head} }

// CursorAtContentPos finds the cursor at content-visible position pos
// (tombstones excluded).
func (t *RangeTree) CursorAtContentPos(pos int) (Cursor, error) {
	return t.cursorAtPos(pos, func(it Item) int { return it.ContentLen() })
}

// CursorAtRawPos finds the cursor at raw position pos (tombstones included).
func (t *RangeTree) CursorAtRawPos(pos int) (Cursor, error) {
	return t.cursorAtPos(pos, func(it Item) int { return it.Len() })
}

func (t *RangeTree) cursorAtPos(pos int, measure func(Item) int) (Cursor, error) {
	if pos < 0 {
		return Cursor{}, fmt.Errorf("rangetree: negative position %d", pos)
	}
	remaining := pos
	for leaf := t.head; leaf != nil; leaf = leaf.Next {
		for i, it := range leaf.Items {
			l := measure(it)
			if remaining <= l {
				return Cursor{Leaf: leaf, Idx: i, Offset: remaining}, nil
			}
			remaining -= l
		}
	}
	if remaining == 0 {
		return t.cursorAtEnd(), nil
	}
	return Cursor{}, fmt.Errorf("rangetree: position %d out of range", pos)
}

// CursorAtChar returns a cursor pointing at the pos-th visible character
// (tombstones excluded). Unlike CursorAtContentPos, the returned cursor
// never rests on an item boundary: Offset always names a character inside
// the item. The underwater placeholder is not content and never matches.
func (t *RangeTree) CursorAtChar(pos int) (Cursor, error) {
	if pos < 0 {
		return Cursor{}, fmt.Errorf("rangetree: negative position %d", pos)
	}
	remaining := pos
	for leaf := t.head; leaf != nil; leaf = leaf.Next {
		for i, it := range leaf.Items {
			if it.IsUnderwater() {
				continue
			}
			l := it.ContentLen()
			if remaining < l {
				return Cursor{Leaf: leaf, Idx: i, Offset: remaining}, nil
			}
			remaining -= l
		}
	}
	return Cursor{}, fmt.Errorf("rangetree: no character at content position %d", pos)
}

func (t *RangeTree) cursorAtEnd() Cursor {
	return Cursor{Leaf: t.tail, Idx: len(t.tail.Items)}
}

// ItemAt returns the item the cursor points into (ignoring Offset).
func (t *RangeTree) ItemAt(c Cursor) (Item, bool) {
	if c.Idx < 0 || c.Idx >= len(c.Leaf.Items) {
		return Item{}, false
	}
	return c.Leaf.Items[c.Idx], true
}

// InsertAt inserts item immediately before the cursor's offset, splitting
// the item under the cursor if the cursor sits mid-item. Returns a cursor
// pointing just after the newly inserted item.
func (t *RangeTree) InsertAt(c Cursor, item Item) Cursor {
	leaf := c.Leaf
	if c.Idx < len(leaf.Items) && c.Offset > 0 && c.Offset < leaf.Items[c.Idx].Len() {
		cur := leaf.Items[c.Idx]
		rest := cur.Truncate(c.Offset)
		leaf.Items[c.Idx] = cur
		leaf.Items = append(leaf.Items, Item{})
		copy(leaf.Items[c.Idx+2:], leaf.Items[c.Idx+1:])
		leaf.Items[c.Idx+1] = rest
		t.notify(cur, leaf)
		t.notify(rest, leaf)
		c.Idx++
		c.Offset = 0
	}

	insertIdx := c.Idx
	if c.Offset > 0 {
		insertIdx = c.Idx + 1
	}
	if insertIdx > 0 && leaf.Items[insertIdx-1].CanAppend(item) {
		leaf.Items[insertIdx-1].Append(item)
		t.notify(leaf.Items[insertIdx-1], leaf)
		return Cursor{Leaf: leaf, Idx: insertIdx - 1, Offset: leaf.Items[insertIdx-1].Len()}
	}

	leaf.Items = append(leaf.Items, Item{})
	copy(leaf.Items[insertIdx+1:], leaf.Items[insertIdx:])
	leaf.Items[insertIdx] = item
	t.notify(item, leaf)

	if len(leaf.Items) > t.maxLeaf {
		t.splitLeaf(leaf)
		if insertIdx >= len(leaf.Items) {
			insertIdx -= len(leaf.Items)
			leaf = leaf.Next
		}
	}
	return Cursor{Leaf: leaf, Idx: insertIdx, Offset: item.Len()}
}

func (t *RangeTree) splitLeaf(leaf *Leaf) {
	mid := len(leaf.Items) / 2
	newLeaf := &Leaf{Items: append([]Item(nil), leaf.Items[mid:]...), Next: leaf.Next, Prev: leaf}
	if leaf.Next != nil {
		leaf.Next.Prev = newLeaf
	} else {
		t.tail = newLeaf
	}
	leaf.Next = newLeaf
	leaf.Items = leaf.Items[:mid:mid]
	for _, it := range newLeaf.Items {
		t.notify(it, newLeaf)
	}
}

// FindByLV searches for the item containing lv, starting at hint if given
// (the space index's InsPtr fast path) and falling back to a full scan of
// the chain otherwise - grounded in markers.rs's Marker::InsPtr design.
func (t *RangeTree) FindByLV(hint *Leaf, lv causalgraph.LV) (*Leaf, int, int, bool) {
	return t.findByLV(hint, lv)
}

func (t *RangeTree) findByLV(hint *Leaf, lv causalgraph.LV) (*Leaf, int, int, bool) {
	if hint != nil {
		if leaf, idx, offset, ok := scanLeaf(hint, lv); ok {
			return leaf, idx, offset, true
		}
	}
	for leaf := t.head; leaf != nil; leaf = leaf.Next {
		if leaf == hint {
			continue
		}
		if l, idx, offset, ok := scanLeaf(leaf, lv); ok {
			return l, idx, offset, true
		}
	}
	return nil, 0, 0, false
}

func scanLeaf(leaf *Leaf, lv causalgraph.LV) (*Leaf, int, int, bool) {
	for i, it := range leaf.Items {
		if offset, ok := it.GetOffset(lv); ok {
			return leaf, i, offset, true
		}
	}
	return nil, 0, 0, false
}

// MutateLVRange locates the item(s) spanning [lv, lv+length), splitting at
// the boundaries as needed, and applies fn to each whole item in the range
// in document order. hint is the space index's last-known leaf for lv, or
// nil to force a full scan.
func (t *RangeTree) MutateLVRange(hint *Leaf, lv causalgraph.LV, length int, fn func(*Item)) error {
	leaf, idx, offset, ok := t.findByLV(hint, lv)
	if !ok {
		return fmt.Errorf("rangetree: LV %d not found", lv)
	}
	remaining := length
	for remaining > 0 {
		item := &leaf.Items[idx]
		avail := item.Len() - offset
		if avail <= 0 {
			idx++
			if idx >= len(leaf.Items) {
				if leaf.Next == nil {
					return fmt.Errorf("rangetree: LV range [%d,%d) runs past end of tree", lv, int(lv)+length)
				}
				leaf = leaf.Next
				idx = 0
			}
			offset = 0
			continue
		}
		take := avail
		if take > remaining {
			take = remaining
		}
		if offset > 0 {
			rest := item.Truncate(offset)
			leaf.Items = append(leaf.Items, Item{})
			copy(leaf.Items[idx+2:], leaf.Items[idx+1:])
			leaf.Items[idx+1] = rest
			t.notify(*item, leaf)
			idx++
			item = &leaf.Items[idx]
			offset = 0
			avail = item.Len()
			take = avail
			if take > remaining {
				take = remaining
			}
		}
		if take < item.Len() {
			rest := item.Truncate(take)
			leaf.Items = append(leaf.Items, Item{})
			copy(leaf.Items[idx+2:], leaf.Items[idx+1:])
			leaf.Items[idx+1] = rest
			item = &leaf.Items[idx]
		}
		fn(item)
		t.notify(*item, leaf)
		remaining -= take
		idx++
		offset = 0
		if remaining > 0 && idx >= len(leaf.Items) {
			if leaf.Next == nil {
				return fmt.Errorf("rangetree: LV range [%d,%d) runs past end of tree", lv, int(lv)+length)
			}
			leaf = leaf.Next
			idx = 0
		}
	}
	return nil
}

// RawPositionOf returns the raw document position (tombstones included) of
// the start of the item at (leaf, idx). Grounded in the comparison the
// original performs via parent-pointer cursor arithmetic
// (content_tree::UnsafeCursor::unsafe_cmp in merge.rs's integrate); here it
// is a linear scan from the head of the chain, a documented simplification
// of the pointer-based B+tree's O(log n) cursor compare - see DESIGN.md.
func (t *RangeTree) RawPositionOf(leaf *Leaf, idx int) int {
	pos := 0
	for l := t.head; l != nil; l = l.Next {
		if l == leaf {
			for i := 0; i < idx && i < len(l.Items); i++ {
				pos += l.Items[i].Len()
			}
			return pos
		}
		for _, it := range l.Items {
			pos += it.Len()
		}
	}
	return pos
}

// ContentPositionOf returns the content-visible position (tombstones
// excluded) of the start of the item at (leaf, idx).
func (t *RangeTree) ContentPositionOf(leaf *Leaf, idx int) int {
	pos := 0
	for l := t.head; l != nil; l = l.Next {
		if l == leaf {
			for i := 0; i < idx && i < len(l.Items); i++ {
				pos += l.Items[i].ContentLen()
			}
			return pos
		}
		for _, it := range l.Items {
			pos += it.ContentLen()
		}
	}
	return pos
}

// DeleteContentRange marks the live (non-tombstone) items covering
// [contentPos, contentPos+length) as deleted, splitting item boundaries as
// needed, and returns the items touched in document order (post-split, each
// carrying its own now-Deleted state) alongside a parallel alreadyDeleted
// flag recording whether that item's ever_deleted bit was already set
// before this call - true once any causally concurrent delete has touched
// the run, even if a retreat has since put it back in Inserted state to
// compute this op's own context. Tombstone and not-yet-inserted runs in
// between are skipped without consuming length, since they contribute
// nothing to content position.
func (t *RangeTree) DeleteContentRange(contentPos, length int) ([]Item, []bool, error) {
	if length <= 0 {
		return nil, nil, nil
	}
	c, err := t.CursorAtContentPos(contentPos)
	if err != nil {
		return nil, nil, err
	}
	leaf, idx, offset := c.Leaf, c.Idx, c.Offset
	var touched []Item
	var alreadyDeleted []bool
	remaining := length
	for remaining > 0 {
		if leaf == nil {
			return touched, alreadyDeleted, fmt.Errorf("rangetree: delete range runs past end of content")
		}
		if idx >= len(leaf.Items) {
			leaf, idx, offset = leaf.Next, 0, 0
			continue
		}
		item := &leaf.Items[idx]
		if offset >= item.Len() {
			idx++
			offset = 0
			continue
		}
		if item.IsUnderwater() {
			return touched, alreadyDeleted, fmt.Errorf("rangetree: delete range runs past end of content")
		}
		if item.State.Kind != Inserted {
			idx++
			offset = 0
			continue
		}

		if offset > 0 {
			rest := item.Truncate(offset)
			leaf.Items = append(leaf.Items, Item{})
			copy(leaf.Items[idx+2:], leaf.Items[idx+1:])
			leaf.Items[idx+1] = rest
			t.notify(*item, leaf)
			idx++
			item = &leaf.Items[idx]
			offset = 0
		}

		take := item.Len()
		if take > remaining {
			take = remaining
		}
		if take < item.Len() {
			rest := item.Truncate(take)
			leaf.Items = append(leaf.Items, Item{})
			copy(leaf.Items[idx+2:], leaf.Items[idx+1:])
			leaf.Items[idx+1] = rest
			item = &leaf.Items[idx]
		}

		wasAlready := item.EverDeleted
		item.State.Delete()
		item.EverDeleted = true
		touched = append(touched, *item)
		alreadyDeleted = append(alreadyDeleted, wasAlready)
		t.notify(*item, leaf)

		remaining -= take
		idx++
		offset = 0
	}
	return touched, alreadyDeleted, nil
}

// Len returns the raw length of the whole document (tombstones included).
// The underwater placeholder item never counts: it exists only to give
// advance/retreat and cursor-at-end a real tree slot, not to represent
// document content.
func (t *RangeTree) Len() int {
	total := 0
	for leaf := t.head; leaf != nil; leaf = leaf.Next {
		for _, it := range leaf.Items {
			if it.IsUnderwater() {
				continue
			}
			total += it.Len()
		}
	}
	return total
}

// ContentLen returns the visible content length of the document, excluding
// the underwater placeholder.
func (t *RangeTree) ContentLen() int {
	total := 0
	for leaf := t.head; leaf != nil; leaf = leaf.Next {
		for _, it := range leaf.Items {
			if it.IsUnderwater() {
				continue
			}
			total += it.ContentLen()
		}
	}
	return total
}

// Items returns every item in document order. Intended for debug checks and
// tests, not for hot paths.
func (t *RangeTree) Items() []Item {
	var out []Item
	for leaf := t.head; leaf != nil; leaf = leaf.Next {
		out = append(out, leaf.Items...)
	}
	return out
}
