// Package tracker implements the replay engine that advances or retreats a
// range tree through causal-graph time and, when advancing past a fresh
// insert, resolves concurrent-insert conflicts with the Yjs/Fugue
// integrate algorithm. This is the piece the merge driver runs once per
// branch of its spanning-tree walk.
//
// Grounded in original_source/src/listmerge/merge.rs (M2Tracker::integrate,
// ::apply, ::apply_to) and original_source/crates/diamond-types-positional/
// src/list/m2/advance_retreat.rs (advance_by_range / retreat_by_range).
package tracker

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/listmerge/fugue/causalgraph"
	"github.com/listmerge/fugue/rangetree"
	"github.com/listmerge/fugue/spaceindex"
)

// Tracker holds one replica's working copy of the document as it is
// replayed through causal time: a range tree of every item ever integrated,
// plus the space index that lets advance/retreat and integrate jump
// straight to the right leaf.
type Tracker struct {
	Tree  *rangetree.RangeTree
	Index *spaceindex.SpaceIndex

	log        *zap.Logger
	debugCheck bool
}

// defaultLeafSize is the leaf capacity New/NewWithLogger use when callers
// don't need the tuning surface NewWithOptions exposes.
const defaultLeafSize = 64

// New creates a tracker seeded with the underwater placeholder item, so
// that advance/retreat always has real tree content to address, even before
// any real op has been integrated. Conflict resolution is logged nowhere;
// use NewWithLogger to observe it.
func New() *Tracker {
	return NewWithLogger(nil)
}

// NewWithLogger is New, logging every concurrent-insert tie-break through
// log at debug level (or discarding them if log is nil).
func NewWithLogger(log *zap.Logger) *Tracker {
	return newTracker(defaultLeafSize, false, log)
}

func newTracker(leafSize int, debugCheck bool, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	idx := spaceindex.New()
	tr := &Tracker{Index: idx, log: log, debugCheck: debugCheck}
	tr.Tree = rangetree.New(leafSize, func(it rangetree.Item, leaf *rangetree.Leaf) {
		if it.State.Kind != rangetree.Deleted {
			idx.SetInsert(it.ID, leaf)
		}
	})
	tr.Tree.InsertAt(tr.Tree.CursorAtStart(), rangetree.NewUnderwaterItem())
	return tr
}

// maybeDebugCheck runs DebugCheck after a mutating call when the tracker
// was built with WithDebugCheck(true), panicking on the first invariant
// violation found - these are always a programmer error, never recoverable
// input, so release builds (debugCheck left false) skip the cost entirely.
func (t *Tracker) maybeDebugCheck() {
	if !t.debugCheck {
		return
	}
	if err := t.DebugCheck(); err != nil {
		t.log.Error("tracker: debug check failed", zap.Error(err))
		panic(fmt.Sprintf("tracker: debug check failed: %v", err))
	}
}

// InsertionContext is the origin-left/origin-right pair an insert at a
// given content position needs before it can be integrated.
type InsertionContext struct {
	OriginLeft  causalgraph.LV
	OriginRight causalgraph.LV
	RightParent causalgraph.LV
	start       rangetree.Cursor
}

// FindInsertionContext locates the origin-left (the character immediately
// before contentPos) and origin-right (the first character after it that is
// in any state but NotInsertedYet) needed to integrate a fresh insert
// at contentPos. Mirrors the ListOpKind::Ins branch of merge.rs's apply.
func (t *Tracker) FindInsertionContext(contentPos int) (InsertionContext, error) {
	var ctx InsertionContext
	ctx.OriginLeft = causalgraph.RootLV
	ctx.OriginRight = causalgraph.RootLV
	ctx.RightParent = causalgraph.RootLV

	if contentPos == 0 {
		ctx.start = t.Tree.CursorAtStart()
	} else {
		c, err := t.Tree.CursorAtChar(contentPos - 1)
		if err != nil {
			return ctx, err
		}
		item, ok := t.Tree.ItemAt(c)
		if !ok {
			return ctx, fmt.Errorf("tracker: no item at content position %d", contentPos-1)
		}
		ctx.OriginLeft = item.AtOffset(c.Offset)
		ctx.start = rangetree.Cursor{Leaf: c.Leaf, Idx: c.Idx, Offset: c.Offset + 1}
	}

	// Origin-right is the first character after the insertion point the op's
	// author could see: any state but NotInsertedYet. A start cursor resting
	// inside an item means the rest of that run qualifies directly, since the
	// whole run shares the origin-left character's visible state.
	leaf, idx, offset := ctx.start.Leaf, ctx.start.Idx, ctx.start.Offset
	for leaf != nil {
		if idx >= len(leaf.Items) {
			leaf, idx, offset = leaf.Next, 0, 0
			continue
		}
		e := leaf.Items[idx]
		if offset >= e.Len() {
			idx, offset = idx+1, 0
			continue
		}
		if e.IsUnderwater() {
			// The underwater placeholder is a permanent sentinel, not a
			// real character; an insert at the document's tail has no
			// origin-right neighbor, so leave ctx.OriginRight at its
			// RootLV default.
			break
		}
		if offset > 0 || e.State.Kind != rangetree.NotInsertedYet {
			originRight := e.AtOffset(offset)
			ctx.OriginRight = originRight
			if e.OriginLeftAtOffset(offset) == ctx.OriginLeft {
				ctx.RightParent = originRight
			} else {
				ctx.RightParent = causalgraph.RootLV
			}
			break
		}
		idx++
		offset = 0
	}
	return ctx, nil
}

func (t *Tracker) rawPosAfterLV(lv causalgraph.LV) (int, error) {
	if lv == causalgraph.RootLV {
		return -1, nil
	}
	leaf, idx, offset, ok := t.Tree.FindByLV(nil, lv)
	if !ok {
		return 0, fmt.Errorf("tracker: origin LV %d not found in tree", lv)
	}
	return t.Tree.RawPositionOf(leaf, idx) + offset + 1, nil
}

func (t *Tracker) rawPosBeforeLV(lv causalgraph.LV) (int, error) {
	if lv == causalgraph.RootLV {
		return t.Tree.Len(), nil
	}
	leaf, idx, _, ok := t.Tree.FindByLV(nil, lv)
	if !ok {
		return 0, fmt.Errorf("tracker: origin LV %d not found in tree", lv)
	}
	return t.Tree.RawPositionOf(leaf, idx), nil
}

// Integrate runs the Yjs/Fugue conflict-resolution walk to find
// where item belongs among any concurrently inserted neighbors, inserts it
// there, and returns the content position it landed at. agent/seq name the
// inserting op, used only to break ties between two concurrent inserts at
// the same position by comparing agent identity.
func (t *Tracker) Integrate(cg *causalgraph.CausalGraph, agent causalgraph.AgentID, seq int, item rangetree.Item, ctx InsertionContext) (int, error) {
	leftPos, err := t.rawPosAfterLV(ctx.OriginLeft)
	if err != nil {
		return 0, err
	}

	leaf, idx, offset := ctx.start.Leaf, ctx.start.Idx, ctx.start.Offset
	scanning := false
	var scanLeaf *rangetree.Leaf
	var scanIdx int

scan:
	for leaf != nil {
		if idx >= len(leaf.Items) {
			leaf, idx, offset = leaf.Next, 0, 0
			continue
		}
		other := leaf.Items[idx]
		if offset >= other.Len() {
			idx, offset = idx+1, 0
			continue
		}
		if offset > 0 {
			// Mid-item: the rest of this run was authored with its own
			// predecessor as origin-left and cannot be concurrent with us,
			// so the new item belongs right here, splitting the run.
			break
		}
		if other.State.Kind != rangetree.NotInsertedYet {
			break
		}

		otherLeftPos, err := t.rawPosAfterLV(other.OriginLeftAtOffset(0))
		if err != nil {
			return 0, err
		}

		switch {
		case otherLeftPos < leftPos:
			break scan
		case otherLeftPos > leftPos:
			// Bottom row: keep scanning past other.
		default:
			if item.OriginRight == other.OriginRight {
				otherRaw, ok := causalgraph.LVToRaw(cg, other.ID.Start)
				if !ok {
					return 0, fmt.Errorf("tracker: LV %d has no raw identity", other.ID.Start)
				}
				insHere := agent < otherRaw.Agent || (agent == otherRaw.Agent && seq < otherRaw.Seq)
				t.log.Debug("concurrent insert tie-break",
					zap.String("agent", string(agent)), zap.Int("seq", seq),
					zap.String("other_agent", string(otherRaw.Agent)), zap.Int("other_seq", otherRaw.Seq),
					zap.Bool("ins_here", insHere))
				if insHere {
					break scan
				}
				scanning = false
			} else {
				myRightPos, err := t.rawPosBeforeLV(item.OriginRight)
				if err != nil {
					return 0, err
				}
				otherRightPos, err := t.rawPosBeforeLV(other.OriginRight)
				if err != nil {
					return 0, err
				}
				if otherRightPos < myRightPos {
					if !scanning {
						scanning = true
						scanLeaf, scanIdx = leaf, idx
					}
				} else {
					scanning = false
				}
			}
		}
		idx++
	}

	if scanning {
		leaf, idx, offset = scanLeaf, scanIdx, 0
	}

	contentPos := t.Tree.ContentPositionOf(leaf, idx)
	if offset > 0 {
		// A mid-item stop only happens inside an Inserted run (the run
		// holding our origin-left character), where every raw position is
		// also a content position.
		contentPos += offset
	}
	t.Tree.InsertAt(rangetree.Cursor{Leaf: leaf, Idx: idx, Offset: offset}, item)
	t.maybeDebugCheck()
	return contentPos, nil
}

// Delete marks the live content in [contentPos, contentPos+length) as
// deleted and records a Del marker in the space index for each touched run,
// targeting the run's own identity LV. opID names the LV range the delete
// op itself was assigned in the causal graph. fwd carries the originating
// op's direction (oplog.Op.Fwd) through to the space index's Del marker, so
// a run of backspace deletes can later RLE-merge in spaceindex.canAppend.
// The returned alreadyDeleted slice parallels touched, recording per run
// whether it had already been deleted by a causally concurrent op (see
// DeleteContentRange).
func (t *Tracker) Delete(opID causalgraph.LVRange, contentPos, length int, fwd bool) ([]rangetree.Item, []bool, error) {
	touched, alreadyDeleted, err := t.Tree.DeleteContentRange(contentPos, length)
	if err != nil {
		return nil, nil, err
	}
	offset := 0
	if fwd {
		for _, it := range touched {
			n := it.Len()
			sub := causalgraph.LVRange{Start: opID.Start + causalgraph.LV(offset), End: opID.Start + causalgraph.LV(offset+n)}
			t.Index.SetDelete(sub, spaceindex.DelRange{Target: it.ID.Start, Fwd: true})
			offset += n
		}
	} else {
		// A backspace run consumed its targets right-to-left: the op's first
		// LV deleted the last character, so ascending delete LVs map onto the
		// touched items in reverse document order, targets descending within
		// each item.
		for i := len(touched) - 1; i >= 0; i-- {
			it := touched[i]
			n := it.Len()
			sub := causalgraph.LVRange{Start: opID.Start + causalgraph.LV(offset), End: opID.Start + causalgraph.LV(offset+n)}
			t.Index.SetDelete(sub, spaceindex.DelRange{Target: it.ID.End - 1, Fwd: false})
			offset += n
		}
	}
	t.maybeDebugCheck()
	return touched, alreadyDeleted, nil
}

// Advance replays [r.Start, r.End) forward: every LV in the range is looked
// up in the space index and its underlying item is moved one step forward
// in its state machine (NotInsertedYet->Inserted, or Inserted->Deleted).
// Grounded in advance_retreat.rs's advance_by_range.
func (t *Tracker) Advance(r causalgraph.LVRange) error {
	pos := r.Start
	for pos < r.End {
		er, m, err := t.Index.GetEntry(pos)
		if err != nil {
			return err
		}
		// Chunks never cross an index entry boundary: a delete run's
		// targets only follow DelRange arithmetic inside one entry.
		remaining := minInt(int(r.End-pos), int(er.End-pos))
		switch m.Kind {
		case spaceindex.MarkerInsPtr:
			leaf, idx, itemOffset, ok := t.Tree.FindByLV(m.Leaf, pos)
			if !ok {
				return fmt.Errorf("tracker: advance could not locate LV %d", pos)
			}
			item := leaf.Items[idx]
			take := minInt(item.Len()-itemOffset, remaining)
			if err := t.Tree.MutateLVRange(m.Leaf, pos, take, func(it *rangetree.Item) { it.State.MarkInserted() }); err != nil {
				return err
			}
			pos += causalgraph.LV(take)
		case spaceindex.MarkerDel:
			target := m.Del.TargetAt(int(pos - er.Start))
			leaf, idx, itemOffset, ok := t.Tree.FindByLV(nil, target)
			if !ok {
				return fmt.Errorf("tracker: advance could not locate delete target LV %d", target)
			}
			item := leaf.Items[idx]
			markDeleted := func(it *rangetree.Item) {
				it.State.Delete()
				it.EverDeleted = true
			}
			var take int
			if m.Del.Fwd {
				take = minInt(item.Len()-itemOffset, remaining)
				err = t.Tree.MutateLVRange(leaf, target, take, markDeleted)
			} else {
				// Reverse runs walk their targets downward; this chunk's
				// lowest target is bounded by the item's own start.
				take = minInt(itemOffset+1, remaining)
				err = t.Tree.MutateLVRange(leaf, target-causalgraph.LV(take-1), take, markDeleted)
			}
			if err != nil {
				return err
			}
			pos += causalgraph.LV(take)
		default:
			return fmt.Errorf("tracker: unknown marker kind at LV %d", pos)
		}
	}
	t.maybeDebugCheck()
	return nil
}

// Retreat undoes Advance over [r.Start, r.End), processing the range from
// its end backwards so that an item inserted and then deleted within the
// range is un-deleted before it is un-inserted.
func (t *Tracker) Retreat(r causalgraph.LVRange) error {
	end := r.End
	for end > r.Start {
		lastLV := end - 1
		er, m, err := t.Index.GetEntry(lastLV)
		if err != nil {
			return err
		}
		low := maxLV(er.Start, r.Start)
		switch m.Kind {
		case spaceindex.MarkerInsPtr:
			_, _, itemOffset, ok := t.Tree.FindByLV(m.Leaf, lastLV)
			if !ok {
				return fmt.Errorf("tracker: retreat could not locate LV %d", lastLV)
			}
			runStart := maxLV(lastLV-causalgraph.LV(itemOffset), low)
			take := int(end - runStart)
			if err := t.Tree.MutateLVRange(m.Leaf, runStart, take, func(it *rangetree.Item) { it.State.MarkNotInsertedYet() }); err != nil {
				return err
			}
			end = runStart
		case spaceindex.MarkerDel:
			target := m.Del.TargetAt(int(lastLV - er.Start))
			leaf, idx, itemOffset, ok := t.Tree.FindByLV(nil, target)
			if !ok {
				return fmt.Errorf("tracker: retreat could not locate delete target LV %d", target)
			}
			item := leaf.Items[idx]
			if m.Del.Fwd {
				// lastLV holds this chunk's highest target; earlier delete
				// LVs walk backward toward the item's start.
				runStart := maxLV(lastLV-causalgraph.LV(itemOffset), low)
				take := int(end - runStart)
				if err := t.Tree.MutateLVRange(leaf, target-causalgraph.LV(take-1), take, func(it *rangetree.Item) { it.State.Undelete() }); err != nil {
					return err
				}
				end = runStart
			} else {
				// Reverse: lastLV holds the chunk's lowest target; earlier
				// delete LVs walk upward toward the item's end.
				runStart := maxLV(lastLV-causalgraph.LV(item.Len()-1-itemOffset), low)
				take := int(end - runStart)
				if err := t.Tree.MutateLVRange(leaf, target, take, func(it *rangetree.Item) { it.State.Undelete() }); err != nil {
					return err
				}
				end = runStart
			}
		default:
			return fmt.Errorf("tracker: unknown marker kind at LV %d", lastLV)
		}
	}
	t.maybeDebugCheck()
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxLV(a, b causalgraph.LV) causalgraph.LV {
	if a > b {
		return a
	}
	return b
}
