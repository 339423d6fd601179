package oplog

import (
	"testing"

	"github.com/listmerge/fugue/causalgraph"
)

func TestPushInsertMergesContiguousRun(t *testing.T) {
	ol := New()
	if _, err := ol.PushInsert("A", nil, 0, "ab"); err != nil {
		t.Fatalf("PushInsert: %v", err)
	}
	if _, err := ol.PushInsert("A", ol.Heads(), 2, "cd"); err != nil {
		t.Fatalf("PushInsert: %v", err)
	}
	if len(ol.Ops) != 1 {
		t.Fatalf("expected the two contiguous inserts to merge into one op, got %d", len(ol.Ops))
	}
	if ol.Ops[0].Content != "abcd" {
		t.Fatalf("expected merged content %q, got %q", "abcd", ol.Ops[0].Content)
	}
}

func TestPushInsertDoesNotMergeNonContiguous(t *testing.T) {
	ol := New()
	if _, err := ol.PushInsert("A", nil, 0, "ab"); err != nil {
		t.Fatalf("PushInsert: %v", err)
	}
	if _, err := ol.PushInsert("A", ol.Heads(), 0, "xy"); err != nil {
		t.Fatalf("PushInsert: %v", err)
	}
	if len(ol.Ops) != 2 {
		t.Fatalf("expected two separate ops, got %d", len(ol.Ops))
	}
}

func TestOpsInRangeSplitsMergedRun(t *testing.T) {
	ol := New()
	r, err := ol.PushInsert("A", nil, 0, "hello")
	if err != nil {
		t.Fatalf("PushInsert: %v", err)
	}
	sub := causalgraph.LVRange{Start: r.Start + 1, End: r.Start + 3}
	ops := ol.OpsInRange(sub)
	if len(ops) != 1 {
		t.Fatalf("expected one op in range, got %d", len(ops))
	}
	if ops[0].Content != "el" {
		t.Fatalf("expected sliced content %q, got %q", "el", ops[0].Content)
	}
	if ops[0].Pos != 1 {
		t.Fatalf("expected sliced position 1, got %d", ops[0].Pos)
	}
}

func TestOpsInRangeSplitsReverseDeleteRun(t *testing.T) {
	ol := New()
	if _, err := ol.PushInsert("A", nil, 0, "abcde"); err != nil {
		t.Fatalf("PushInsert: %v", err)
	}
	for pos := 4; pos >= 2; pos-- {
		if _, err := ol.PushDelete("A", ol.Heads(), pos, 1, false); err != nil {
			t.Fatalf("PushDelete %d: %v", pos, err)
		}
	}
	if len(ol.Ops) != 2 {
		t.Fatalf("expected the backspaces to RLE-merge into one run, got %d ops", len(ol.Ops))
	}

	head := ol.OpsInRange(causalgraph.LVRange{Start: 5, End: 7})
	if len(head) != 1 || head[0].Pos != 3 || head[0].ID.Len() != 2 {
		t.Fatalf("expected the first two backspaces to cover [3,5) as one op, got %+v", head)
	}
	tail := ol.OpsInRange(causalgraph.LVRange{Start: 6, End: 8})
	if len(tail) != 1 || tail[0].Pos != 2 || tail[0].ID.Len() != 2 {
		t.Fatalf("expected the last two backspaces to cover [2,4) as one op, got %+v", tail)
	}
}

func TestRemoteIDRoundTrip(t *testing.T) {
	ol := New()
	if _, err := ol.PushInsert("seph", nil, 0, "hi"); err != nil {
		t.Fatalf("PushInsert: %v", err)
	}
	if _, err := ol.PushInsert("mike", ol.Heads(), 0, "yo"); err != nil {
		t.Fatalf("PushInsert: %v", err)
	}

	for lv := causalgraph.LV(0); lv < ol.CG.NextLV; lv++ {
		id, err := ol.LVToRemoteID(lv)
		if err != nil {
			t.Fatalf("LVToRemoteID(%d): %v", lv, err)
		}
		back, err := ol.RemoteIDToLV(id)
		if err != nil {
			t.Fatalf("RemoteIDToLV(%v): %v", id, err)
		}
		if back != lv {
			t.Fatalf("round trip mismatch for LV %d: got %d via %v", lv, back, id)
		}
	}

	rootID, err := ol.LVToRemoteID(causalgraph.RootLV)
	if err != nil {
		t.Fatalf("LVToRemoteID(root): %v", err)
	}
	if rootID.Agent != causalgraph.RootAgent {
		t.Fatalf("expected root LV to map to the root agent, got %v", rootID)
	}
}

func TestPushBatchChainsOps(t *testing.T) {
	ol := New()
	r, err := ol.Push("A", nil, []PushOp{
		{Kind: OpInsert, Pos: 0, Content: "abc"},
		{Kind: OpInsert, Pos: 3, Content: "def"},
		{Kind: OpDelete, Pos: 0, Len: 2, Fwd: true},
	})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if r.Start != 0 || r.End != 8 {
		t.Fatalf("expected the batch to cover LVs [0,8), got %+v", r)
	}
	if !compare(ol.Heads(), causalgraph.Frontier{7}) {
		t.Fatalf("expected heads {7} after a chained batch, got %v", ol.Heads())
	}
	// The second insert extends the first and must RLE-merge with it.
	if len(ol.Ops) != 2 {
		t.Fatalf("expected 2 RLE runs (merged inserts + delete), got %d", len(ol.Ops))
	}
}

func compare(a, b causalgraph.Frontier) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestLVRangeToRemoteSpans(t *testing.T) {
	ol := New()
	if _, err := ol.PushInsert("seph", nil, 0, "abc"); err != nil {
		t.Fatalf("PushInsert: %v", err)
	}
	if _, err := ol.PushInsert("mike", ol.Heads(), 3, "de"); err != nil {
		t.Fatalf("PushInsert: %v", err)
	}

	spans, err := ol.LVRangeToRemoteSpans(causalgraph.LVRange{Start: 1, End: 5})
	if err != nil {
		t.Fatalf("LVRangeToRemoteSpans: %v", err)
	}
	want := []RemoteIDSpan{
		{Agent: "seph", SeqStart: 1, SeqEnd: 3},
		{Agent: "mike", SeqStart: 0, SeqEnd: 2},
	}
	if len(spans) != len(want) {
		t.Fatalf("expected %d spans, got %d: %+v", len(want), len(spans), spans)
	}
	for i := range want {
		if spans[i] != want[i] {
			t.Fatalf("span %d = %+v, want %+v", i, spans[i], want[i])
		}
	}

	if _, err := ol.LVRangeToRemoteSpans(causalgraph.LVRange{Start: 3, End: 9}); err == nil {
		t.Fatalf("expected an error for a range past the end of the log")
	}
}

func TestPushInsertRejectsRootAgent(t *testing.T) {
	ol := New()
	if _, err := ol.PushInsert(causalgraph.RootAgent, nil, 0, "x"); err == nil {
		t.Fatalf("expected an error authoring an op as the root agent")
	}
}
