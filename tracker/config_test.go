package tracker

import (
	"testing"

	"github.com/listmerge/fugue/causalgraph"
	"github.com/listmerge/fugue/rangetree"
)

func TestNewWithOptionsAppliesLeafSize(t *testing.T) {
	tr := NewWithOptions(WithLeafSize(2))
	if tr.Tree.LeafSize() != 2 {
		t.Fatalf("expected configured leaf size 2, got %d", tr.Tree.LeafSize())
	}
}

func TestNewWithOptionsDefaultsMatchNew(t *testing.T) {
	tr := NewWithOptions()
	if tr.Tree.LeafSize() != defaultLeafSize {
		t.Fatalf("expected default leaf size %d, got %d", defaultLeafSize, tr.Tree.LeafSize())
	}
}

func TestDebugCheckPassesAfterNormalIntegration(t *testing.T) {
	cg := causalgraph.CreateCG()
	lvA := mustAddRaw(t, cg, "A", 0, 3, nil)

	tr := NewWithOptions(WithDebugCheck(true))
	item := rangetree.Item{
		ID:         causalgraph.LVRange{Start: lvA, End: lvA + 3},
		OriginLeft: causalgraph.RootLV, OriginRight: causalgraph.RootLV,
		State: rangetree.ItemState{Kind: rangetree.Inserted},
	}
	ctx, err := tr.FindInsertionContext(0)
	if err != nil {
		t.Fatalf("FindInsertionContext: %v", err)
	}
	if _, err := tr.Integrate(cg, "A", 0, item, ctx); err != nil {
		t.Fatalf("Integrate: %v", err)
	}
	if err := tr.DebugCheck(); err != nil {
		t.Fatalf("expected DebugCheck to pass after a normal integration, got %v", err)
	}
}

func TestDebugCheckCatchesStaleSpaceIndexMarker(t *testing.T) {
	tr := New()
	tr.Tree.InsertAt(tr.Tree.CursorAtStart(), rangetree.Item{
		ID:         causalgraph.LVRange{Start: 0, End: 5},
		OriginLeft: causalgraph.RootLV, OriginRight: causalgraph.RootLV,
		State: rangetree.ItemState{Kind: rangetree.Inserted},
	})
	if err := tr.DebugCheck(); err != nil {
		t.Fatalf("expected a cleanly inserted item to pass DebugCheck, got %v", err)
	}

	// Corrupt the space index directly so the item's own LV no longer
	// resolves to the leaf that actually holds it.
	tr.Index.SetInsert(causalgraph.LVRange{Start: 0, End: 5}, &rangetree.Leaf{})
	if err := tr.DebugCheck(); err == nil {
		t.Fatalf("expected DebugCheck to catch a stale space index marker")
	}
}
