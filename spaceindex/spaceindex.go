// Package spaceindex implements the LV -> marker acceleration structure
// that lets the tracker jump straight to the range tree leaf holding a
// given LV instead of walking the whole document.
//
// Grounded in original_source/crates/diamond-types-positional/src/listmerge/markers.rs:
// its Marker enum (InsPtr(leaf) / Del(DelRange)) and the IndexContent
// try_append merge rules (forward runs merge when contiguous targets line
// up; reverse/backspace runs merge the opposite direction) are ported
// directly. The backing BTreeG (github.com/google/btree) replaces the
// original's custom pointer-based content-tree index - see DESIGN.md.
package spaceindex

import (
	"fmt"

	"github.com/google/btree"
	"github.com/listmerge/fugue/causalgraph"
	"github.com/listmerge/fugue/rangetree"
)

// DelRange names a run of deleted LVs by the LV they deleted (Target) and
// whether Target increases (Fwd, a plain forward delete) or decreases
// (backspacing one character at a time to the left) as the run progresses.
type DelRange struct {
	Target causalgraph.LV
	Fwd    bool
}

// TargetAt returns the LV targeted by the delete at the given offset into
// the run.
func (d DelRange) TargetAt(offset int) causalgraph.LV {
	if d.Fwd {
		return d.Target + causalgraph.LV(offset)
	}
	return d.Target - causalgraph.LV(offset)
}

// MarkerKind distinguishes the two marker shapes: a direct pointer to the
// range tree leaf holding still-live content, or a pointer to the LV that a
// deletion targeted.
type MarkerKind int

const (
	MarkerInsPtr MarkerKind = iota
	MarkerDel
)

// Marker is what the space index stores for a run of LVs.
type Marker struct {
	Kind MarkerKind
	Leaf *rangetree.Leaf
	Del  DelRange
}

type entry struct {
	Start, End causalgraph.LV
	Marker     Marker
}

func entryLess(a, b entry) bool { return a.Start < b.Start }

// SpaceIndex maps every known LV to a Marker, merging adjacent runs that
// share a marker shape the way original_source's IndexContent does.
type SpaceIndex struct {
	tree *btree.BTreeG[entry]
}

func New() *SpaceIndex {
	return &SpaceIndex{tree: btree.NewG(32, entryLess)}
}

func canAppend(a, b entry) bool {
	if a.End != b.Start {
		return false
	}
	switch a.Marker.Kind {
	case MarkerInsPtr:
		return b.Marker.Kind == MarkerInsPtr && a.Marker.Leaf == b.Marker.Leaf
	case MarkerDel:
		if b.Marker.Kind != MarkerDel {
			return false
		}
		ad, bd := a.Marker.Del, b.Marker.Del
		if ad.Fwd != bd.Fwd {
			return false
		}
		length := causalgraph.LV(a.End - a.Start)
		if ad.Fwd {
			return ad.Target+length == bd.Target
		}
		return ad.Target-length == bd.Target
	}
	return false
}

func sliceMarker(m Marker, subStart int) Marker {
	if m.Kind == MarkerInsPtr {
		return m
	}
	return Marker{Kind: MarkerDel, Del: DelRange{Target: m.Del.TargetAt(subStart), Fwd: m.Del.Fwd}}
}

func (si *SpaceIndex) entryContaining(lv causalgraph.LV) (entry, bool) {
	var found entry
	ok := false
	si.tree.DescendLessOrEqual(entry{Start: lv}, func(e entry) bool {
		if e.Start <= lv && lv < e.End {
			found, ok = e, true
		}
		return false
	})
	return found, ok
}

// clearRange removes any marker coverage over [start,end), trimming the
// boundary entries that only partially overlap instead of deleting them
// outright.
func (si *SpaceIndex) clearRange(start, end causalgraph.LV) {
	var toDelete []entry
	var toAdd []entry

	if e, ok := si.entryContaining(start); ok && e.Start < start {
		toDelete = append(toDelete, e)
		toAdd = append(toAdd, entry{Start: e.Start, End: start, Marker: e.Marker})
		if e.End > end {
			toAdd = append(toAdd, entry{Start: end, End: e.End, Marker: sliceMarker(e.Marker, int(end-e.Start))})
		}
	}
	si.tree.AscendRange(entry{Start: start}, entry{Start: end}, func(e entry) bool {
		toDelete = append(toDelete, e)
		if e.End > end {
			toAdd = append(toAdd, entry{Start: end, End: e.End, Marker: sliceMarker(e.Marker, int(end-e.Start))})
		}
		return true
	})
	for _, e := range toDelete {
		si.tree.Delete(e)
	}
	for _, e := range toAdd {
		si.tree.ReplaceOrInsert(e)
	}
}

// Set records marker m as covering [r.Start, r.End), overwriting whatever
// was there before and merging with adjacent runs when possible.
func (si *SpaceIndex) Set(r causalgraph.LVRange, m Marker) {
	if r.IsEmpty() {
		return
	}
	si.clearRange(r.Start, r.End)
	e := entry{Start: r.Start, End: r.End, Marker: m}

	if prev, ok := si.entryContaining(r.Start - 1); ok && prev.End == r.Start && canAppend(prev, e) {
		si.tree.Delete(prev)
		e.Start = prev.Start
		e.Marker = prev.Marker
	}
	if next, ok := si.lookupExactStart(r.End); ok && canAppend(e, next) {
		si.tree.Delete(next)
		e.End = next.End
	}
	si.tree.ReplaceOrInsert(e)
}

func (si *SpaceIndex) lookupExactStart(start causalgraph.LV) (entry, bool) {
	var found entry
	ok := false
	si.tree.AscendGreaterOrEqual(entry{Start: start}, func(e entry) bool {
		if e.Start == start {
			found, ok = e, true
		}
		return false
	})
	return found, ok
}

// SetInsert records that [r.Start, r.End) lives in leaf.
func (si *SpaceIndex) SetInsert(r causalgraph.LVRange, leaf *rangetree.Leaf) {
	si.Set(r, Marker{Kind: MarkerInsPtr, Leaf: leaf})
}

// SetDelete records that [r.Start, r.End) deleted the LVs described by d.
func (si *SpaceIndex) SetDelete(r causalgraph.LVRange, d DelRange) {
	si.Set(r, Marker{Kind: MarkerDel, Del: d})
}

// Get returns the marker covering lv and the offset of lv within its run.
func (si *SpaceIndex) Get(lv causalgraph.LV) (Marker, int, error) {
	e, ok := si.entryContaining(lv)
	if !ok {
		return Marker{}, 0, fmt.Errorf("spaceindex: no marker covers LV %d", lv)
	}
	return e.Marker, int(lv - e.Start), nil
}

// GetEntry returns the whole run covering lv: its LV range and marker. The
// range bounds matter to callers chunking an advance or retreat - a delete
// run's targets only follow DelRange arithmetic inside a single entry.
func (si *SpaceIndex) GetEntry(lv causalgraph.LV) (causalgraph.LVRange, Marker, error) {
	e, ok := si.entryContaining(lv)
	if !ok {
		return causalgraph.LVRange{}, Marker{}, fmt.Errorf("spaceindex: no marker covers LV %d", lv)
	}
	return causalgraph.LVRange{Start: e.Start, End: e.End}, e.Marker, nil
}

// LeafFor resolves lv all the way to the range tree leaf holding it,
// following one level of Del indirection when lv was itself deleted by a
// later op (the marker then points at the LV it deleted, which is where
// the live content originally lived).
func (si *SpaceIndex) LeafFor(lv causalgraph.LV) (*rangetree.Leaf, causalgraph.LV, error) {
	m, offset, err := si.Get(lv)
	if err != nil {
		return nil, 0, err
	}
	switch m.Kind {
	case MarkerInsPtr:
		return m.Leaf, lv, nil
	case MarkerDel:
		target := m.Del.TargetAt(offset)
		return si.LeafFor(target)
	}
	return nil, 0, fmt.Errorf("spaceindex: unknown marker kind for LV %d", lv)
}
