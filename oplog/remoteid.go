package oplog

import (
	"fmt"
	"sort"

	"github.com/listmerge/fugue/causalgraph"
)

// RemoteID is the wire-safe, replica-independent name for a single
// operation - what you'd hand to another peer instead of a local LV.
// External equivalent of causalgraph.RawVersion, grounded in
// original_source's RemoteId.
type RemoteID struct {
	Agent causalgraph.AgentID
	Seq   int
}

// RemoteIDSpan names a contiguous run of one agent's operations: the wire
// analogue of a whole history run rather than a single op.
type RemoteIDSpan struct {
	Agent    causalgraph.AgentID
	SeqStart int
	SeqEnd   int // exclusive
}

// LVRangeToRemoteSpans converts a contiguous LV range to the RemoteIDSpans
// covering it, one per underlying agent run.
func (ol *OpLog) LVRangeToRemoteSpans(r causalgraph.LVRange) ([]RemoteIDSpan, error) {
	var out []RemoteIDSpan
	lv := r.Start
	for lv < r.End {
		entry, offset, ok := causalgraph.EntryContaining(ol.CG, lv)
		if !ok {
			return nil, fmt.Errorf("oplog: LV %d has no raw identity", lv)
		}
		n := int(entry.End - lv)
		if rem := int(r.End - lv); rem < n {
			n = rem
		}
		out = append(out, RemoteIDSpan{Agent: entry.Agent, SeqStart: entry.Seq + offset, SeqEnd: entry.Seq + offset + n})
		lv += causalgraph.LV(n)
	}
	return out, nil
}

// RemoteIDToLV resolves a RemoteID to this log's local LV numbering.
func (ol *OpLog) RemoteIDToLV(id RemoteID) (causalgraph.LV, error) {
	if id.Agent == causalgraph.RootAgent {
		return causalgraph.RootLV, nil
	}
	return causalgraph.RawToLV(ol.CG, id.Agent, id.Seq)
}

// LVToRemoteID converts a local LV to its wire-safe RemoteID.
func (ol *OpLog) LVToRemoteID(lv causalgraph.LV) (RemoteID, error) {
	if lv == causalgraph.RootLV {
		return RemoteID{Agent: causalgraph.RootAgent}, nil
	}
	raw, ok := causalgraph.LVToRaw(ol.CG, lv)
	if !ok {
		return RemoteID{}, fmt.Errorf("oplog: LV %d has no raw identity", lv)
	}
	return RemoteID{Agent: raw.Agent, Seq: raw.Seq}, nil
}

// FrontierToRemoteIDs converts every LV in a frontier to its RemoteID.
func (ol *OpLog) FrontierToRemoteIDs(f causalgraph.Frontier) ([]RemoteID, error) {
	out := make([]RemoteID, 0, len(f))
	for _, lv := range f {
		id, err := ol.LVToRemoteID(lv)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// RemoteIDsToFrontier resolves a set of RemoteIDs to a sorted, deduplicated
// local frontier. A RemoteID naming the root agent resolves to "no parent"
// and is dropped rather than stored, keeping every frontier in this
// implementation consistent with the empty-frontier-is-root convention
// (see DESIGN.md's frontier sentinel decision).
func (ol *OpLog) RemoteIDsToFrontier(ids []RemoteID) (causalgraph.Frontier, error) {
	out := make(causalgraph.Frontier, 0, len(ids))
	for _, id := range ids {
		if id.Agent == causalgraph.RootAgent {
			continue
		}
		lv, err := ol.RemoteIDToLV(id)
		if err != nil {
			return nil, err
		}
		out = append(out, lv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	deduped := out[:0]
	for i, lv := range out {
		if i == 0 || lv != deduped[len(deduped)-1] {
			deduped = append(deduped, lv)
		}
	}
	return deduped, nil
}
