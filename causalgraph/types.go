// Package causalgraph implements the time/identity layer and the causal
// graph (time DAG) of a replicated list CRDT: the mapping between an
// agent's local edits and the process-local LVs used everywhere else in
// the engine, and the run-length DAG of "who happened after whom".
package causalgraph

// AgentID names a replica. The reserved name "ROOT" is never assigned to
// a real replica; RawVersion{Agent: RootAgent} denotes the root version.
type AgentID string

// RootAgent is the reserved sentinel agent naming the root version.
const RootAgent AgentID = "ROOT"

// LV (local version) is a process-local, monotonically increasing integer
// naming a single unit of work: one character inserted, or one character
// deleted. LVs are dense and start at 0.
type LV int

// RootLV is the sentinel "before time" LV. It is never assigned to a real
// operation and never appears inside a stored frontier; it only appears as
// a function parameter or return value meaning "the root version".
const RootLV LV = -1

// ShadowRoot marks a history entry whose linear ancestor chain runs all the
// way back to the root without being interrupted by a merge.
const ShadowRoot LV = -1

// RawVersion is the stable, replica-independent identity of a single
// operation: an agent and that agent's sequence number for it.
type RawVersion struct {
	Agent AgentID
	Seq   int
}

// LVRange is a contiguous, half-open range of LVs: [Start, End).
type LVRange struct {
	Start LV
	End   LV
}

// Len returns the number of LVs covered by the range.
func (r LVRange) Len() int { return int(r.End - r.Start) }

// IsEmpty reports whether the range covers no LVs.
func (r LVRange) IsEmpty() bool { return r.End <= r.Start }

// CanAppend reports whether other directly extends r.
func (r LVRange) CanAppend(other LVRange) bool { return r.End == other.Start }

// Frontier is a sorted, deduplicated antichain of LVs summarizing a
// version: no element is an ancestor of another. The empty frontier is
// the root version; RootLV is never stored inside a frontier.
type Frontier []LV

// Clone returns an independent copy of the frontier.
func (f Frontier) Clone() Frontier {
	if len(f) == 0 {
		return nil
	}
	out := make(Frontier, len(f))
	copy(out, f)
	return out
}

// Contains reports whether target is literally an element of the frontier.
func (f Frontier) Contains(target LV) bool {
	for _, v := range f {
		if v == target {
			return true
		}
	}
	return false
}

// CGEntry stores metadata for one run of LVs contributed by a single
// agent, contiguous both in LV-space and in that agent's sequence space.
type CGEntry struct {
	Start LV // first LV in this run
	End   LV // exclusive
	Agent AgentID
	Seq   int // sequence number of the first LV in this run

	// Parents is the sorted frontier of the direct causal predecessors of
	// Start. Internal LVs within the run (all but Start) have an implicit
	// single parent, lv-1; Parents only describes Start.
	Parents Frontier

	// Shadow is the smallest LV s such that [s, End) is a linear ancestor
	// chain (no merges interrupt it), or ShadowRoot if that chain runs
	// back to the root.
	Shadow LV

	// ChildIndexes names the entries (by index into CausalGraph.Entries)
	// that have an LV in [Start, End) among their Parents.
	ChildIndexes []int
}

// Len returns the number of LVs in the entry's span.
func (e *CGEntry) Len() int { return int(e.End - e.Start) }

// Contains reports whether lv falls inside the entry's span.
func (e *CGEntry) Contains(lv LV) bool { return lv >= e.Start && lv < e.End }

// ShadowContains reports whether target lies on this entry's linear
// ancestor chain, for a target known to be <= the entry's last LV.
func (e *CGEntry) ShadowContains(target LV) bool {
	return e.Shadow == ShadowRoot || target >= e.Shadow
}

// ParentsAt returns the direct parents of lv, which must lie in the
// entry's span: Parents for the first LV, or [lv-1] for any internal LV.
func (e *CGEntry) ParentsAt(lv LV) Frontier {
	if lv > e.Start {
		return Frontier{lv - 1}
	}
	return e.Parents
}

// ClientEntry stores metadata for a run of sequence numbers contributed by
// one agent, along with the LV where that run begins.
type ClientEntry struct {
	SeqStart int
	SeqEnd   int // exclusive
	Version  LV  // LV of the first sequence number in this run
}

// VersionSummary maps an agent to the sorted, non-overlapping [seq, seq)
// ranges of that agent's operations contained in some version.
type VersionSummary map[AgentID][][2]int

// CausalGraph is the run-length DAG of all known operations, plus the two
// RLE identity mappings between LVs and per-agent sequence numbers.
type CausalGraph struct {
	// Entries is sorted by Start and covers [0, NextLV) with no gaps.
	Entries []CGEntry
	// Heads is the current frontier of the whole graph.
	Heads Frontier
	// AgentToVersion maps an agent to its ClientEntry runs, sorted by SeqStart.
	AgentToVersion map[AgentID][]ClientEntry
	// NextLV is the next LV that will be allocated.
	NextLV LV
}
