package spaceindex

import (
	"testing"

	"github.com/listmerge/fugue/causalgraph"
	"github.com/listmerge/fugue/rangetree"
)

func rng(start, end int) causalgraph.LVRange {
	return causalgraph.LVRange{Start: causalgraph.LV(start), End: causalgraph.LV(end)}
}

func TestSetInsertAndGet(t *testing.T) {
	si := New()
	leaf := &rangetree.Leaf{}
	si.SetInsert(rng(0, 5), leaf)

	m, offset, err := si.Get(3)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.Kind != MarkerInsPtr || m.Leaf != leaf {
		t.Fatalf("expected InsPtr marker pointing at leaf, got %+v", m)
	}
	if offset != 3 {
		t.Fatalf("expected offset 3, got %d", offset)
	}
}

func TestSetInsertMergesAdjacentRunsToSameLeaf(t *testing.T) {
	si := New()
	leaf := &rangetree.Leaf{}
	si.SetInsert(rng(0, 5), leaf)
	si.SetInsert(rng(5, 10), leaf)

	if si.tree.Len() != 1 {
		t.Fatalf("expected adjacent runs pointing at the same leaf to merge into one entry, got %d", si.tree.Len())
	}
	m, offset, err := si.Get(7)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.Leaf != leaf || offset != 7 {
		t.Fatalf("unexpected marker after merge: %+v offset=%d", m, offset)
	}
}

func TestSetInsertDoesNotMergeDifferentLeaves(t *testing.T) {
	si := New()
	leafA, leafB := &rangetree.Leaf{}, &rangetree.Leaf{}
	si.SetInsert(rng(0, 5), leafA)
	si.SetInsert(rng(5, 10), leafB)

	if si.tree.Len() != 2 {
		t.Fatalf("expected distinct leaves to stay as separate entries, got %d", si.tree.Len())
	}
}

func TestSetDeleteOverwritesInsert(t *testing.T) {
	si := New()
	leaf := &rangetree.Leaf{}
	si.SetInsert(rng(0, 10), leaf)
	si.SetDelete(rng(3, 6), DelRange{Target: 100, Fwd: true})

	m, offset, err := si.Get(4)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.Kind != MarkerDel || m.Del.TargetAt(offset) != 101 {
		t.Fatalf("expected delete marker targeting LV 101, got %+v offset=%d", m, offset)
	}

	before, _, err := si.Get(1)
	if err != nil || before.Kind != MarkerInsPtr || before.Leaf != leaf {
		t.Fatalf("expected untouched prefix to keep its insert marker, got %+v err=%v", before, err)
	}
	after, _, err := si.Get(8)
	if err != nil || after.Kind != MarkerInsPtr || after.Leaf != leaf {
		t.Fatalf("expected untouched suffix to keep its insert marker, got %+v err=%v", after, err)
	}
}

func TestSetDeleteMergesForwardRun(t *testing.T) {
	si := New()
	si.SetDelete(rng(0, 3), DelRange{Target: 50, Fwd: true})
	si.SetDelete(rng(3, 6), DelRange{Target: 53, Fwd: true})

	if si.tree.Len() != 1 {
		t.Fatalf("expected contiguous forward delete runs to merge, got %d entries", si.tree.Len())
	}
	m, offset, err := si.Get(4)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.Del.TargetAt(offset) != 54 {
		t.Fatalf("expected merged run to resolve LV 4 to target 54, got %d", m.Del.TargetAt(offset))
	}
}

func TestSetDeleteMergesBackspaceRun(t *testing.T) {
	si := New()
	si.SetDelete(rng(0, 1), DelRange{Target: 50, Fwd: false})
	si.SetDelete(rng(1, 2), DelRange{Target: 49, Fwd: false})

	if si.tree.Len() != 1 {
		t.Fatalf("expected contiguous backspace runs to merge, got %d entries", si.tree.Len())
	}
	m, offset, err := si.Get(1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.Del.TargetAt(offset) != 49 {
		t.Fatalf("expected merged backspace run to resolve LV 1 to target 49, got %d", m.Del.TargetAt(offset))
	}
}

func TestLeafForFollowsDeleteIndirection(t *testing.T) {
	si := New()
	leaf := &rangetree.Leaf{}
	si.SetInsert(rng(0, 10), leaf)
	si.SetDelete(rng(20, 21), DelRange{Target: 3, Fwd: true})

	resolved, origLV, err := si.LeafFor(20)
	if err != nil {
		t.Fatalf("LeafFor: %v", err)
	}
	if resolved != leaf || origLV != 3 {
		t.Fatalf("expected LeafFor to follow the delete to LV 3 in leaf, got leaf=%v lv=%d", resolved, origLV)
	}
}

func TestGetMissingLV(t *testing.T) {
	si := New()
	if _, _, err := si.Get(0); err == nil {
		t.Fatalf("expected an error for an LV with no marker")
	}
}
