package causalgraph

import (
	"container/heap"
	"fmt"
	"sort"
)

// CreateCG creates and returns a new, empty CausalGraph.
func CreateCG() *CausalGraph {
	return &CausalGraph{
		AgentToVersion: make(map[AgentID][]ClientEntry),
	}
}

// NextSeqForAgent returns the next sequence number for a given agent.
// If the agent is new, it returns 0.
func NextSeqForAgent(cg *CausalGraph, agent AgentID) int {
	entries, ok := cg.AgentToVersion[agent]
	if !ok || len(entries) == 0 {
		return 0
	}
	return entries[len(entries)-1].SeqEnd
}

func findEntryContainingRaw(cg *CausalGraph, agent AgentID, seq int) (*CGEntry, int, bool) {
	clientEntries, ok := cg.AgentToVersion[agent]
	if !ok {
		return nil, -1, false
	}
	idx := sort.Search(len(clientEntries), func(i int) bool {
		return clientEntries[i].SeqEnd > seq
	})
	if idx >= len(clientEntries) || clientEntries[idx].SeqStart > seq {
		return nil, -1, false
	}
	entryLV := clientEntries[idx].Version
	i, found := findEntryIndex(cg, entryLV)
	if !found {
		return nil, -1, false
	}
	offset := seq - cg.Entries[i].Seq
	return &cg.Entries[i], offset, true
}

// findEntryIndex returns the index into cg.Entries of the entry containing v.
func findEntryIndex(cg *CausalGraph, v LV) (int, bool) {
	if v < 0 || v >= cg.NextLV {
		return -1, false
	}
	idx := sort.Search(len(cg.Entries), func(i int) bool {
		return cg.Entries[i].End > v
	})
	if idx < len(cg.Entries) && cg.Entries[idx].Start <= v {
		return idx, true
	}
	return -1, false
}

func findEntryContaining(cg *CausalGraph, v LV) (*CGEntry, int, bool) {
	idx, found := findEntryIndex(cg, v)
	if !found {
		return nil, -1, false
	}
	entry := &cg.Entries[idx]
	return entry, int(v - entry.Start), true
}

// EntryContaining returns the history entry whose span covers v, along with
// v's offset within it.
func EntryContaining(cg *CausalGraph, v LV) (*CGEntry, int, bool) {
	return findEntryContaining(cg, v)
}

// LVToRaw converts an LV to its corresponding RawVersion (agent, seq).
func LVToRaw(cg *CausalGraph, v LV) (RawVersion, bool) {
	entry, offset, found := findEntryContaining(cg, v)
	if !found {
		return RawVersion{}, false
	}
	return RawVersion{Agent: entry.Agent, Seq: entry.Seq + offset}, true
}

// RawToLV converts a RawVersion (agent, seq) to its corresponding LV.
func RawToLV(cg *CausalGraph, agent AgentID, seq int) (LV, error) {
	entry, offset, found := findEntryContainingRaw(cg, agent, seq)
	if !found || entry == nil {
		return RootLV, fmt.Errorf("raw version %s:%d not found in causal graph", agent, seq)
	}
	return entry.Start + LV(offset), nil
}

// LVToRawList converts a list of LVs to a list of RawVersions.
func LVToRawList(cg *CausalGraph, lvs Frontier) ([]RawVersion, error) {
	if len(lvs) == 0 {
		return nil, nil
	}
	raws := make([]RawVersion, len(lvs))
	for i, lv := range lvs {
		rv, found := LVToRaw(cg, lv)
		if !found {
			return nil, fmt.Errorf("failed to convert LV %d to RawVersion: not found", lv)
		}
		raws[i] = rv
	}
	return raws, nil
}

// computeShadow implements the history-push shadow rule: the
// shadow extends through the parent's shadow only when this entry is a
// simple, unbranched continuation of exactly one parent; any merge or
// discontiguous parent resets the shadow boundary to this entry's own start.
func computeShadow(cg *CausalGraph, start LV, parents Frontier) LV {
	if len(parents) == 0 {
		return ShadowRoot
	}
	if len(parents) == 1 && parents[0] == start-1 {
		if parentEntry, _, found := findEntryContaining(cg, parents[0]); found {
			return parentEntry.Shadow
		}
	}
	return start
}

// AddRaw adds a new version span to the causal graph, computing its shadow
// and registering it as a child of each of its parent entries. A nil or
// empty rawParents means the span descends directly from the root version.
func AddRaw(cg *CausalGraph, id RawVersion, length int, rawParents []RawVersion) (*CGEntry, error) {
	if length <= 0 {
		return nil, fmt.Errorf("length must be positive")
	}
	if _, err := RawToLV(cg, id.Agent, id.Seq); err == nil {
		return nil, nil // duplicate
	}

	parentLVs := make(Frontier, 0, len(rawParents))
	for _, rp := range rawParents {
		lv, err := RawToLV(cg, rp.Agent, rp.Seq)
		if err != nil {
			return nil, fmt.Errorf("parent %s:%d not found: %w", rp.Agent, rp.Seq, err)
		}
		parentLVs = append(parentLVs, lv)
	}
	parentLVs = sortLVsAndDedup(parentLVs)

	startLV := cg.NextLV
	endLV := startLV + LV(length)

	// A span that linearly continues the previous entry (same agent,
	// contiguous seq and LV, sole parent the previous LV) extends it in
	// place instead of opening a new entry; the shadow is unchanged since
	// the linear chain just grows.
	if len(cg.Entries) > 0 && len(parentLVs) == 1 && parentLVs[0] == startLV-1 {
		last := &cg.Entries[len(cg.Entries)-1]
		if last.End == startLV && last.Agent == id.Agent && last.Seq+last.Len() == id.Seq {
			last.End = endLV
			cg.NextLV = endLV
			runs := cg.AgentToVersion[id.Agent]
			for i := len(runs) - 1; i >= 0; i-- {
				if runs[i].SeqEnd == id.Seq && runs[i].Version == last.Start {
					runs[i].SeqEnd = id.Seq + length
					break
				}
			}
			cg.Heads = advanceHeads(cg.Heads, parentLVs, endLV-1)
			return last, nil
		}
	}

	newEntry := CGEntry{
		Agent:   id.Agent,
		Seq:     id.Seq,
		Start:   startLV,
		End:     endLV,
		Parents: parentLVs,
		Shadow:  computeShadow(cg, startLV, parentLVs),
	}
	cg.Entries = append(cg.Entries, newEntry)
	newIdx := len(cg.Entries) - 1
	cg.NextLV = endLV

	for _, p := range parentLVs {
		if pIdx, found := findEntryIndex(cg, p); found && pIdx != newIdx {
			cg.Entries[pIdx].ChildIndexes = append(cg.Entries[pIdx].ChildIndexes, newIdx)
		}
	}

	clientEntries := cg.AgentToVersion[id.Agent]
	clientEntries = append(clientEntries, ClientEntry{
		SeqStart: id.Seq,
		SeqEnd:   id.Seq + length,
		Version:  startLV,
	})
	sort.Slice(clientEntries, func(i, j int) bool { return clientEntries[i].SeqStart < clientEntries[j].SeqStart })
	cg.AgentToVersion[id.Agent] = clientEntries

	cg.Heads = advanceHeads(cg.Heads, parentLVs, endLV-1)

	return &cg.Entries[newIdx], nil
}

// advanceHeads replaces the consumed parents with the new span's tip,
// keeping the heads a sorted antichain: internal LVs of the span are
// ancestors of the tip and never appear.
func advanceHeads(heads, parents Frontier, tip LV) Frontier {
	newHeads := make(Frontier, 0, len(heads)+1)
	for _, h := range heads {
		if !parents.Contains(h) {
			newHeads = append(newHeads, h)
		}
	}
	newHeads = append(newHeads, tip)
	return sortLVsAndDedup(newHeads)
}

func sortLVsAndDedup(lvs Frontier) Frontier {
	if len(lvs) <= 1 {
		return lvs
	}
	sort.Slice(lvs, func(i, j int) bool { return lvs[i] < lvs[j] })
	j := 1
	for i := 1; i < len(lvs); i++ {
		if lvs[i] != lvs[i-1] {
			lvs[j] = lvs[i]
			j++
		}
	}
	return lvs[:j]
}

func parentsAt(cg *CausalGraph, v LV) (Frontier, error) {
	entry, offset, found := findEntryContaining(cg, v)
	if !found {
		return nil, fmt.Errorf("LV %d not found in causal graph", v)
	}
	if offset == 0 {
		return entry.Parents, nil
	}
	return Frontier{v - 1}, nil
}

// ParentsAt returns the direct parent frontier of the op occupying v - the
// version immediately before v was assigned. Used by the merge driver to
// retreat/advance a tracker to exactly one op's own causal context before
// replaying it. Grounded in original_source's Order::parents_at (history.rs).
func ParentsAt(cg *CausalGraph, v LV) (Frontier, error) {
	return parentsAt(cg, v)
}

// FrontierContains reports whether targetLV is an ancestor of (or equal to)
// any LV in frontier. When the target lies in the entry of a visited LV, at
// or below it, the walk stops there instead of stepping back one LV at a time.
func FrontierContains(cg *CausalGraph, frontier Frontier, targetLV LV) (bool, error) {
	if targetLV < 0 || targetLV >= cg.NextLV {
		return false, fmt.Errorf("targetLV %d is out of bounds for graph with %d LVs", targetLV, cg.NextLV)
	}
	for _, fv := range frontier {
		if fv == targetLV {
			return true, nil
		}
	}
	if len(frontier) == 0 {
		return false, nil
	}

	queue := append(Frontier(nil), frontier...)
	visited := make(map[LV]struct{})

	for len(queue) > 0 {
		curr := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if curr < 0 {
			continue
		}
		if _, ok := visited[curr]; ok {
			continue
		}
		visited[curr] = struct{}{}
		if curr == targetLV {
			return true, nil
		}

		entry, _, found := findEntryContaining(cg, curr)
		if !found {
			return false, fmt.Errorf("LV %d not found in graph during FrontierContains", curr)
		}
		if curr >= targetLV && entry.ShadowContains(targetLV) && targetLV >= entry.Start {
			return true, nil
		}

		parents, err := parentsAt(cg, curr)
		if err != nil {
			return false, err
		}
		for _, p := range parents {
			if p == targetLV {
				return true, nil
			}
			if _, seen := visited[p]; !seen && p >= 0 {
				queue = append(queue, p)
			}
		}
	}
	return false, nil
}

// SummarizeVersion creates a VersionSummary for a given frontier: every LV
// in the history of frontier contributes a [seq, seq+1) range.
func SummarizeVersion(cg *CausalGraph, frontier Frontier) (VersionSummary, error) {
	summary := make(VersionSummary)
	if len(frontier) == 0 {
		return summary, nil
	}
	for _, fv := range frontier {
		if fv < 0 || fv >= cg.NextLV {
			return nil, fmt.Errorf("frontier LV %d is out of bounds for graph with %d LVs", fv, cg.NextLV)
		}
	}

	allHistoryLVs := make(map[LV]struct{})
	queue := append(Frontier(nil), frontier...)
	visited := make(map[LV]struct{})

	for len(queue) > 0 {
		curr := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if _, ok := visited[curr]; ok {
			continue
		}
		visited[curr] = struct{}{}
		if curr < 0 {
			continue
		}
		allHistoryLVs[curr] = struct{}{}

		parents, err := parentsAt(cg, curr)
		if err != nil {
			return nil, err
		}
		for _, p := range parents {
			if _, seen := visited[p]; !seen && p >= 0 {
				queue = append(queue, p)
			}
		}
	}

	agentSeqs := make(map[AgentID][]int)
	for lv := range allHistoryLVs {
		raw, found := LVToRaw(cg, lv)
		if !found {
			return nil, fmt.Errorf("failed to convert LV %d to RawVersion during SummarizeVersion", lv)
		}
		agentSeqs[raw.Agent] = append(agentSeqs[raw.Agent], raw.Seq)
	}
	for agent, seqs := range agentSeqs {
		sort.Ints(seqs)
		ranges := make([][2]int, 0, len(seqs))
		for _, s := range seqs {
			ranges = append(ranges, [2]int{s, s + 1})
		}
		summary[agent] = ranges
	}
	return summary, nil
}

func summaryCovers(to VersionSummary, agent AgentID, seq int) bool {
	ranges, ok := to[agent]
	if !ok {
		return false
	}
	for _, r := range ranges {
		if seq >= r[0] && seq < r[1] {
			return true
		}
	}
	return false
}

// lvHeap is a max-heap of LVs, used by Diff to walk the causal graph in
// descending order so that every queued LV is processed only once its
// potential descendants have already been resolved.
type lvHeap []LV

func (h lvHeap) Len() int            { return len(h) }
func (h lvHeap) Less(i, j int) bool  { return h[i] > h[j] }
func (h lvHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *lvHeap) Push(x interface{}) { *h = append(*h, x.(LV)) }
func (h *lvHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// Diff computes the LV ranges reachable from `from` that are not covered by
// the version summary `to`: the versions only `from` knows about. It walks
// the graph in descending LV order via a max-heap so that each LV is visited
// once, batching the walk by the history entry it falls in rather than
// the literal TimePoint/visitor design in
// original_source/src/causal_graph.rs — a documented simplification with
// the same result, see DESIGN.md.
func Diff(cg *CausalGraph, from Frontier, to VersionSummary) ([]LVRange, error) {
	h := &lvHeap{}
	seen := make(map[LV]struct{})
	for _, v := range from {
		if _, ok := seen[v]; !ok && v >= 0 {
			seen[v] = struct{}{}
			heap.Push(h, v)
		}
	}

	var result []LVRange
	for h.Len() > 0 {
		v := heap.Pop(h).(LV)
		entry, _, found := findEntryContaining(cg, v)
		if !found {
			return nil, fmt.Errorf("LV %d not found in graph during Diff", v)
		}

		runEnd := v + 1
		runStart := v
		for runStart > entry.Start {
			seqAtPrev := entry.Seq + int(runStart-1-entry.Start)
			if summaryCovers(to, entry.Agent, seqAtPrev) {
				break
			}
			runStart--
		}
		if !summaryCovers(to, entry.Agent, entry.Seq+int(v-entry.Start)) {
			result = append(result, LVRange{Start: runStart, End: runEnd})
		}

		if runStart == entry.Start {
			for _, p := range entry.Parents {
				if p < 0 {
					continue
				}
				if _, ok := seen[p]; !ok {
					seen[p] = struct{}{}
					heap.Push(h, p)
				}
			}
		} else if runStart > entry.Start {
			p := runStart - 1
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				heap.Push(h, p)
			}
		}
	}

	if len(result) == 0 {
		return result, nil
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Start < result[j].Start })
	merged := []LVRange{result[0]}
	for i := 1; i < len(result); i++ {
		last := &merged[len(merged)-1]
		cur := result[i]
		if cur.Start <= last.End {
			if cur.End > last.End {
				last.End = cur.End
			}
		} else {
			merged = append(merged, cur)
		}
	}
	return merged, nil
}

// FindDominators finds the heads within the set of given versions: a
// version is a dominator if no other given version is its descendant.
func FindDominators(cg *CausalGraph, versions Frontier) (Frontier, error) {
	if len(versions) == 0 {
		return Frontier{}, nil
	}
	unique := sortLVsAndDedup(append(Frontier(nil), versions...))
	if len(unique) == 1 {
		v := unique[0]
		if v < 0 || v >= cg.NextLV {
			return nil, fmt.Errorf("version %d not found in graph", v)
		}
		return Frontier{v}, nil
	}

	dominators := make(Frontier, 0, len(unique))
	for _, v := range unique {
		if v < 0 || v >= cg.NextLV {
			return nil, fmt.Errorf("version %d not found in graph", v)
		}
		isAncestorOfOther := false
		for _, other := range unique {
			if v == other {
				continue
			}
			contained, err := FrontierContains(cg, Frontier{other}, v)
			if err != nil {
				return nil, fmt.Errorf("error checking ancestry for dominator filtering: %w", err)
			}
			if contained {
				isAncestorOfOther = true
				break
			}
		}
		if !isAncestorOfOther {
			dominators = append(dominators, v)
		}
	}
	return sortLVsAndDedup(dominators), nil
}

// FindConflicting returns the LV ranges in the history of `versions` that
// are not in the history of `commonAncestors`: the region a three-way merge
// must actually reconcile.
func FindConflicting(cg *CausalGraph, versions Frontier, commonAncestors Frontier) ([]LVRange, error) {
	summary, err := SummarizeVersion(cg, commonAncestors)
	if err != nil {
		return nil, fmt.Errorf("FindConflicting: could not summarize commonAncestors: %w", err)
	}
	return Diff(cg, versions, summary)
}

// Relation describes the relationship between two versions.
type Relation string

const (
	RelationEqual      Relation = "eq"
	RelationAncestor   Relation = "ancestor"
	RelationDescendant Relation = "descendant"
	RelationConcurrent Relation = "concurrent"
)

// CompareVersions determines the relationship between a and b.
func CompareVersions(cg *CausalGraph, a, b LV) (Relation, error) {
	if a == b {
		return RelationEqual, nil
	}
	aIsAncestor, err := FrontierContains(cg, Frontier{b}, a)
	if err != nil {
		return "", fmt.Errorf("error checking if %d is ancestor of %d: %w", a, b, err)
	}
	if aIsAncestor {
		return RelationAncestor, nil
	}
	bIsAncestor, err := FrontierContains(cg, Frontier{a}, b)
	if err != nil {
		return "", fmt.Errorf("error checking if %d is ancestor of %d: %w", b, a, err)
	}
	if bIsAncestor {
		return RelationDescendant, nil
	}
	return RelationConcurrent, nil
}

// SpanVisit describes one step of a spanning-tree walk: the LV reached,
// whether it is the first parent of the previous step (so the walk can be
// applied incrementally rather than retreating and re-advancing), and
// whether the step is a merge point (more than one parent).
type SpanVisit struct {
	V              LV
	IsParentOfPrev bool
	IsMerge        bool
}

func isMergeAt(entry *CGEntry, offset int) bool {
	return offset == 0 && len(entry.Parents) > 1
}

// iterVersionsBetweenBP walks (from, to] depth-first from `to` back through
// parents, visiting each LV's first parent before its other parents, so
// that a step flagged IsParentOfPrev directly continues the one before it.
func iterVersionsBetweenBP(cg *CausalGraph, from Frontier, to LV, fn func(SpanVisit) (stop bool, err error)) error {
	type item struct {
		v              LV
		isParentOfPrev bool
	}
	stack := []item{{v: to}}
	visited := make(map[LV]struct{}, len(from))
	for _, fv := range from {
		visited[fv] = struct{}{}
	}
	for _, fv := range from {
		if fv == to {
			return nil
		}
	}

	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[it.v]; ok {
			continue
		}

		entry, offset, found := findEntryContaining(cg, it.v)
		if !found {
			return fmt.Errorf("iterVersionsBetweenBP: LV %d not found in CG", it.v)
		}
		stop, err := fn(SpanVisit{V: it.v, IsParentOfPrev: it.isParentOfPrev, IsMerge: isMergeAt(entry, offset)})
		if err != nil {
			return fmt.Errorf("iterVersionsBetweenBP: callback error at LV %d: %w", it.v, err)
		}
		if stop {
			return nil
		}
		visited[it.v] = struct{}{}

		var parents Frontier
		if offset == 0 {
			parents = entry.Parents
		} else {
			parents = Frontier{it.v - 1}
		}
		for i := len(parents) - 1; i >= 0; i-- {
			p := parents[i]
			if _, ok := visited[p]; !ok && p >= 0 {
				stack = append(stack, item{v: p, isParentOfPrev: i == 0 && len(parents) > 0})
			}
		}
	}
	return nil
}

// IterVersionsBetween iterates over LVs in the range (from, to] using a
// spanning-tree walk.
func IterVersionsBetween(cg *CausalGraph, from Frontier, to LV, fn func(SpanVisit) (stop bool, err error)) error {
	if to < 0 || to >= cg.NextLV {
		return fmt.Errorf("IterVersionsBetween: 'to' LV %d is out of bounds for graph with %d LVs", to, cg.NextLV)
	}
	for _, fv := range from {
		if fv < 0 || fv >= cg.NextLV {
			return fmt.Errorf("IterVersionsBetween: 'from' LV %d is out of bounds for graph with %d LVs", fv, cg.NextLV)
		}
		if fv == to {
			return nil
		}
		toIsAncestor, err := FrontierContains(cg, Frontier{fv}, to)
		if err != nil {
			return fmt.Errorf("IterVersionsBetween: error checking ancestry for 'from' LV %d: %w", fv, err)
		}
		if toIsAncestor {
			return nil
		}
	}
	return iterVersionsBetweenBP(cg, from, to, fn)
}

// IntersectWithSummaryFull finds the entries reachable from cg.Heads that
// summary does not cover.
func IntersectWithSummaryFull(cg *CausalGraph, summary VersionSummary) ([]CGEntry, error) {
	var result []CGEntry
	visited := make(map[LV]struct{})
	queue := sortLVsAndDedup(append(Frontier(nil), cg.Heads...))
	processed := make(map[int]struct{})

	for len(queue) > 0 {
		v := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if v < 0 {
			continue
		}
		if _, ok := visited[v]; ok {
			continue
		}

		idx, found := findEntryIndex(cg, v)
		if !found {
			return nil, fmt.Errorf("IntersectWithSummaryFull: LV %d not found in CG", v)
		}
		if _, ok := processed[idx]; ok {
			continue
		}
		entry := &cg.Entries[idx]

		runEnd := LV(-1)
		var runParents Frontier
		for lv := entry.End - 1; lv >= entry.Start; lv-- {
			if _, ok := visited[lv]; ok {
				if runEnd != -1 {
					result = append(result, CGEntry{
						Agent: entry.Agent, Seq: entry.Seq + int((lv+1)-entry.Start),
						Start: lv + 1, End: runEnd, Parents: runParents,
					})
					runEnd = -1
				}
				continue
			}
			seq := entry.Seq + int(lv-entry.Start)
			if !summaryCovers(summary, entry.Agent, seq) {
				if runEnd == -1 {
					runEnd = lv + 1
				}
				runParents = entry.ParentsAt(lv)
			} else {
				if runEnd != -1 {
					result = append(result, CGEntry{
						Agent: entry.Agent, Seq: entry.Seq + int((lv+1)-entry.Start),
						Start: lv + 1, End: runEnd, Parents: runParents,
					})
					runEnd = -1
				}
				visited[lv] = struct{}{}
			}
		}
		if runEnd != -1 {
			result = append(result, CGEntry{Agent: entry.Agent, Seq: entry.Seq, Start: entry.Start, End: runEnd, Parents: entry.Parents})
		}
		processed[idx] = struct{}{}

		for _, p := range entry.Parents {
			if p >= 0 {
				if _, ok := visited[p]; !ok {
					queue = append(queue, p)
				}
			}
		}
	}

	for _, r := range result {
		for v := r.Start; v < r.End; v++ {
			visited[v] = struct{}{}
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Start != result[j].Start {
			return result[i].Start < result[j].Start
		}
		return result[i].Agent < result[j].Agent
	})
	return result, nil
}

// IntersectWithSummary is the flattened-to-LVs form of IntersectWithSummaryFull.
func IntersectWithSummary(cg *CausalGraph, summary VersionSummary) (Frontier, error) {
	entries, err := IntersectWithSummaryFull(cg, summary)
	if err != nil {
		return nil, err
	}
	var lvs Frontier
	for _, e := range entries {
		for v := e.Start; v < e.End; v++ {
			lvs = append(lvs, v)
		}
	}
	return sortLVsAndDedup(lvs), nil
}
