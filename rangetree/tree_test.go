package rangetree

import (
	"testing"

	"github.com/listmerge/fugue/causalgraph"
)

func ins(start, end int) Item {
	return Item{
		ID:         causalgraph.LVRange{Start: causalgraph.LV(start), End: causalgraph.LV(end)},
		OriginLeft: causalgraph.LV(start - 1), OriginRight: causalgraph.RootLV,
		State: ItemState{Kind: Inserted},
	}
}

func TestInsertAtAppendsContiguousItem(t *testing.T) {
	tree := New(4, nil)
	c := tree.CursorAtStart()
	c = tree.InsertAt(c, ins(0, 3))
	c = tree.InsertAt(c, ins(3, 5))

	items := tree.Items()
	if len(items) != 1 {
		t.Fatalf("expected the two contiguous items to merge into one, got %d: %+v", len(items), items)
	}
	if items[0].Len() != 5 {
		t.Fatalf("expected merged length 5, got %d", items[0].Len())
	}
	_ = c
}

func TestInsertAtSplitsMidItem(t *testing.T) {
	tree := New(4, nil)
	c := tree.CursorAtStart()
	c = tree.InsertAt(c, ins(0, 5))

	mid, err := tree.CursorAtRawPos(2)
	if err != nil {
		t.Fatalf("CursorAtRawPos: %v", err)
	}
	other := Item{
		ID:         causalgraph.LVRange{Start: 100, End: 101},
		OriginLeft: causalgraph.LV(1), OriginRight: causalgraph.LV(2),
		State: ItemState{Kind: Inserted},
	}
	tree.InsertAt(mid, other)

	items := tree.Items()
	if len(items) != 3 {
		t.Fatalf("expected 3 items after mid-split insert, got %d: %+v", len(items), items)
	}
	if items[0].Len() != 2 || items[1].ID.Start != 100 || items[2].Len() != 3 {
		t.Fatalf("unexpected split layout: %+v", items)
	}
	_ = c
}

func TestContentLenExcludesDeleted(t *testing.T) {
	tree := New(4, nil)
	c := tree.CursorAtStart()
	tree.InsertAt(c, ins(0, 10))

	if tree.Len() != 10 || tree.ContentLen() != 10 {
		t.Fatalf("expected raw=10 content=10 before delete, got raw=%d content=%d", tree.Len(), tree.ContentLen())
	}

	if err := tree.MutateLVRange(nil, 3, 4, func(it *Item) { it.State.Delete() }); err != nil {
		t.Fatalf("MutateLVRange: %v", err)
	}

	if tree.Len() != 10 {
		t.Fatalf("raw length should be unchanged by delete, got %d", tree.Len())
	}
	if tree.ContentLen() != 6 {
		t.Fatalf("expected content length 6 after deleting 4 chars, got %d", tree.ContentLen())
	}
}

func TestMutateLVRangeNotifies(t *testing.T) {
	var notified []*Leaf
	tree := New(4, func(it Item, leaf *Leaf) { notified = append(notified, leaf) })
	c := tree.CursorAtStart()
	tree.InsertAt(c, ins(0, 10))

	notified = nil
	if err := tree.MutateLVRange(nil, 2, 3, func(it *Item) { it.State.Delete() }); err != nil {
		t.Fatalf("MutateLVRange: %v", err)
	}
	if len(notified) == 0 {
		t.Fatalf("expected MutateLVRange to notify at least once")
	}
}

func TestMutateLVRangeUnknownLV(t *testing.T) {
	tree := New(4, nil)
	tree.InsertAt(tree.CursorAtStart(), ins(0, 3))
	if err := tree.MutateLVRange(nil, 50, 1, func(it *Item) {}); err == nil {
		t.Fatalf("expected error mutating an LV outside the tree")
	}
}

func TestCursorAtContentPosSkipsTombstones(t *testing.T) {
	tree := New(4, nil)
	tree.InsertAt(tree.CursorAtStart(), ins(0, 10))
	if err := tree.MutateLVRange(nil, 0, 5, func(it *Item) { it.State.Delete() }); err != nil {
		t.Fatalf("MutateLVRange: %v", err)
	}

	c, err := tree.CursorAtContentPos(2)
	if err != nil {
		t.Fatalf("CursorAtContentPos: %v", err)
	}
	it, ok := tree.ItemAt(c)
	if !ok {
		t.Fatalf("expected an item at content position 2")
	}
	if it.ID.Start != 5 {
		t.Fatalf("expected content position 2 to land in the still-live run starting at LV 5, got item %+v", it)
	}
}
