package causalgraph

import (
	"reflect"
	"sort"
	"testing"
)

func compareLVSlices(a, b Frontier) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	acopy := append(Frontier(nil), a...)
	bcopy := append(Frontier(nil), b...)
	sort.Slice(acopy, func(i, j int) bool { return acopy[i] < acopy[j] })
	sort.Slice(bcopy, func(i, j int) bool { return bcopy[i] < bcopy[j] })
	return reflect.DeepEqual(acopy, bcopy)
}

func compareLVRangeSlices(t *testing.T, got, want []LVRange) {
	t.Helper()
	if len(got) == 0 && len(want) == 0 {
		return
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LVRange slice mismatch:\ngot:  %v\nwant: %v", got, want)
	}
}

func TestCreateCG(t *testing.T) {
	cg := CreateCG()
	if len(cg.Heads) != 0 || len(cg.Entries) != 0 || len(cg.AgentToVersion) != 0 {
		t.Fatalf("expected empty graph, got %+v", cg)
	}
}

func TestAddRaw_SingleEntry(t *testing.T) {
	cg := CreateCG()
	agentA := AgentID("agentA")
	idA0 := RawVersion{Agent: agentA, Seq: 0}

	entry, err := AddRaw(cg, idA0, 1, nil)
	if err != nil {
		t.Fatalf("AddRaw failed: %v", err)
	}
	if entry.Agent != agentA || entry.Seq != 0 || entry.Start != 0 || entry.End != 1 {
		t.Errorf("unexpected entry fields: %+v", entry)
	}
	if len(entry.Parents) != 0 {
		t.Errorf("expected empty parents for first entry, got %v", entry.Parents)
	}
	if entry.Shadow != ShadowRoot {
		t.Errorf("expected shadow root for first entry, got %v", entry.Shadow)
	}
	if cg.NextLV != 1 {
		t.Errorf("expected NextLV 1, got %d", cg.NextLV)
	}
	if NextSeqForAgent(cg, agentA) != 1 {
		t.Errorf("expected NextSeqForAgent 1, got %d", NextSeqForAgent(cg, agentA))
	}
	if !compareLVSlices(cg.Heads, Frontier{0}) {
		t.Errorf("expected Heads [0], got %v", cg.Heads)
	}
}

func TestAddRaw_ShadowExtendsOnLinearChain(t *testing.T) {
	cg := CreateCG()
	agentA := AgentID("agentA")
	_, _ = AddRaw(cg, RawVersion{agentA, 0}, 1, nil)
	e1, _ := AddRaw(cg, RawVersion{agentA, 1}, 1, []RawVersion{{agentA, 0}})
	if e1.Shadow != ShadowRoot {
		t.Errorf("expected linear chain shadow to stay at root, got %v", e1.Shadow)
	}
}

func TestAddRaw_ShadowResetsOnMerge(t *testing.T) {
	cg := CreateCG()
	agentA, agentB, agentC := AgentID("agentA"), AgentID("agentB"), AgentID("agentC")
	_, _ = AddRaw(cg, RawVersion{agentA, 0}, 1, nil)
	_, _ = AddRaw(cg, RawVersion{agentB, 0}, 1, []RawVersion{})
	c0, _ := AddRaw(cg, RawVersion{agentC, 0}, 1, []RawVersion{{agentA, 0}, {agentB, 0}})
	if c0.Shadow != c0.Start {
		t.Errorf("expected merge entry's shadow to reset to its own start, got %v want %v", c0.Shadow, c0.Start)
	}
}

func TestAddRaw_ChildIndexesRecorded(t *testing.T) {
	cg := CreateCG()
	agentA, agentB := AgentID("agentA"), AgentID("agentB")
	_, _ = AddRaw(cg, RawVersion{agentA, 0}, 1, nil)
	_, _ = AddRaw(cg, RawVersion{agentB, 0}, 1, []RawVersion{{agentA, 0}})
	if len(cg.Entries[0].ChildIndexes) != 1 || cg.Entries[0].ChildIndexes[0] != 1 {
		t.Errorf("expected entry 0 to record entry 1 as child, got %v", cg.Entries[0].ChildIndexes)
	}
}

func TestAddRaw_RejectsDuplicateAndInvalid(t *testing.T) {
	cg := CreateCG()
	agentA := AgentID("agentA")
	if _, err := AddRaw(cg, RawVersion{agentA, 0}, 0, nil); err == nil {
		t.Error("expected error for zero length")
	}
	if _, err := AddRaw(cg, RawVersion{agentA, 0}, 3, nil); err != nil {
		t.Fatalf("setup AddRaw failed: %v", err)
	}
	entry, err := AddRaw(cg, RawVersion{agentA, 1}, 1, nil)
	if err != nil {
		t.Fatalf("duplicate add returned error instead of nil-nil: %v", err)
	}
	if entry != nil {
		t.Errorf("expected nil entry for duplicate raw version, got %+v", entry)
	}
}

func setupTestGraphG1(t *testing.T) *CausalGraph {
	t.Helper()
	cg := CreateCG()
	agentA, agentB, agentC := AgentID("agentA"), AgentID("agentB"), AgentID("agentC")
	mustAdd(t, cg, RawVersion{agentA, 0}, 1, nil)
	mustAdd(t, cg, RawVersion{agentB, 0}, 1, []RawVersion{{agentA, 0}})
	mustAdd(t, cg, RawVersion{agentA, 1}, 1, []RawVersion{{agentA, 0}})
	mustAdd(t, cg, RawVersion{agentC, 0}, 1, []RawVersion{{agentB, 0}, {agentA, 1}})
	return cg
}

func setupTestGraphG2(t *testing.T) *CausalGraph {
	t.Helper()
	cg := CreateCG()
	agentA, agentB := AgentID("agentA"), AgentID("agentB")
	mustAdd(t, cg, RawVersion{agentA, 0}, 3, nil)
	mustAdd(t, cg, RawVersion{agentB, 0}, 2, []RawVersion{{agentA, 2}})
	return cg
}

func setupTestGraphG4(t *testing.T) *CausalGraph {
	t.Helper()
	cg := CreateCG()
	agentA, agentB := AgentID("agentA"), AgentID("agentB")
	mustAdd(t, cg, RawVersion{agentA, 0}, 1, []RawVersion{})
	mustAdd(t, cg, RawVersion{agentB, 0}, 1, []RawVersion{})
	return cg
}

func mustAdd(t *testing.T, cg *CausalGraph, id RawVersion, length int, parents []RawVersion) {
	t.Helper()
	if _, err := AddRaw(cg, id, length, parents); err != nil {
		t.Fatalf("AddRaw(%+v) failed: %v", id, err)
	}
}

func TestLVToRawAndRawToLV(t *testing.T) {
	cg := setupTestGraphG2(t)
	agentA, agentB := AgentID("agentA"), AgentID("agentB")
	tests := []struct {
		lv     LV
		wantRV RawVersion
	}{
		{0, RawVersion{agentA, 0}},
		{2, RawVersion{agentA, 2}},
		{3, RawVersion{agentB, 0}},
		{4, RawVersion{agentB, 1}},
	}
	for _, tt := range tests {
		rv, ok := LVToRaw(cg, tt.lv)
		if !ok || rv != tt.wantRV {
			t.Errorf("LVToRaw(%d) = %+v, %v, want %+v", tt.lv, rv, ok, tt.wantRV)
		}
		lv, err := RawToLV(cg, tt.wantRV.Agent, tt.wantRV.Seq)
		if err != nil || lv != tt.lv {
			t.Errorf("RawToLV(%+v) = %d, %v, want %d", tt.wantRV, lv, err, tt.lv)
		}
	}
	if _, ok := LVToRaw(cg, 100); ok {
		t.Error("expected LVToRaw(100) to fail")
	}
}

func TestSummarizeVersion(t *testing.T) {
	g1 := setupTestGraphG1(t)
	summary, err := SummarizeVersion(g1, Frontier{1, 2})
	if err != nil {
		t.Fatalf("SummarizeVersion failed: %v", err)
	}
	want := VersionSummary{
		AgentID("agentA"): [][2]int{{0, 1}, {1, 2}},
		AgentID("agentB"): [][2]int{{0, 1}},
	}
	if !reflect.DeepEqual(summary, want) {
		t.Errorf("SummarizeVersion = %v, want %v", summary, want)
	}
}

func TestDiff(t *testing.T) {
	g1 := setupTestGraphG1(t)
	g2 := setupTestGraphG2(t)
	agentA := AgentID("agentA")

	tests := []struct {
		name string
		cg   *CausalGraph
		from Frontier
		to   VersionSummary
		want []LVRange
	}{
		{"FullyCovered", g1, Frontier{0}, VersionSummary{agentA: [][2]int{{0, 1}}}, nil},
		{"OneItemMissing", g1, Frontier{1}, VersionSummary{agentA: [][2]int{{0, 1}}}, []LVRange{{1, 2}}},
		{"ComplexDiff", g1, Frontier{3}, VersionSummary{agentA: [][2]int{{0, 1}}}, []LVRange{{1, 4}}},
		{"EmptyToSummary", g1, Frontier{0}, VersionSummary{}, []LVRange{{0, 1}}},
		{"EmptyFrom", g1, Frontier{}, VersionSummary{agentA: [][2]int{{0, 1}}}, nil},
		{"G2LongerEntries", g2, Frontier{4}, VersionSummary{agentA: [][2]int{{0, 2}}}, []LVRange{{2, 5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Diff(tt.cg, tt.from, tt.to)
			if err != nil {
				t.Fatalf("Diff error: %v", err)
			}
			compareLVRangeSlices(t, got, tt.want)
		})
	}
}

func TestFindDominators(t *testing.T) {
	g1 := setupTestGraphG1(t)
	g4 := setupTestGraphG4(t)

	tests := []struct {
		name     string
		cg       *CausalGraph
		versions Frontier
		want     Frontier
	}{
		{"Single", g1, Frontier{0}, Frontier{0}},
		{"ConcurrentSiblings", g1, Frontier{1, 2}, Frontier{1, 2}},
		{"SingleHead", g1, Frontier{3}, Frontier{3}},
		{"AncestorDescendant", g1, Frontier{3, 1}, Frontier{3}},
		{"Independent", g4, Frontier{0, 1}, Frontier{0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FindDominators(tt.cg, tt.versions)
			if err != nil {
				t.Fatalf("FindDominators error: %v", err)
			}
			if !compareLVSlices(got, tt.want) {
				t.Errorf("FindDominators(%v) = %v, want %v", tt.versions, got, tt.want)
			}
		})
	}
}

func TestFindConflicting(t *testing.T) {
	g1 := setupTestGraphG1(t)
	got, err := FindConflicting(g1, Frontier{1, 2}, Frontier{0})
	if err != nil {
		t.Fatalf("FindConflicting error: %v", err)
	}
	compareLVRangeSlices(t, got, []LVRange{{1, 3}})
}

func TestCompareVersions(t *testing.T) {
	g1 := setupTestGraphG1(t)
	g4 := setupTestGraphG4(t)

	tests := []struct {
		name string
		cg   *CausalGraph
		a, b LV
		want Relation
	}{
		{"Equal", g1, 1, 1, RelationEqual},
		{"Ancestor", g1, 0, 3, RelationAncestor},
		{"Descendant", g1, 3, 0, RelationDescendant},
		{"Concurrent", g1, 1, 2, RelationConcurrent},
		{"IndependentConcurrent", g4, 0, 1, RelationConcurrent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CompareVersions(tt.cg, tt.a, tt.b)
			if err != nil {
				t.Fatalf("CompareVersions error: %v", err)
			}
			if got != tt.want {
				t.Errorf("CompareVersions(%d, %d) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestIterVersionsBetween(t *testing.T) {
	g1 := setupTestGraphG1(t)

	var visits []SpanVisit
	err := IterVersionsBetween(g1, Frontier{0}, 3, func(v SpanVisit) (bool, error) {
		visits = append(visits, v)
		return false, nil
	})
	if err != nil {
		t.Fatalf("IterVersionsBetween error: %v", err)
	}
	want := []SpanVisit{
		{V: 3, IsParentOfPrev: false, IsMerge: true},
		{V: 1, IsParentOfPrev: true, IsMerge: false},
		{V: 2, IsParentOfPrev: false, IsMerge: false},
	}
	if !reflect.DeepEqual(visits, want) {
		t.Errorf("IterVersionsBetween order mismatch:\ngot:  %+v\nwant: %+v", visits, want)
	}
}

func TestIterVersionsBetween_FromEqualsTo(t *testing.T) {
	g1 := setupTestGraphG1(t)
	var visits []SpanVisit
	err := IterVersionsBetween(g1, Frontier{0}, 0, func(v SpanVisit) (bool, error) {
		visits = append(visits, v)
		return false, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(visits) != 0 {
		t.Errorf("expected no visits when from == to, got %+v", visits)
	}
}

// setupDiamond builds two three-op runs off the root, a merge run joining
// the middle of each, and a final run joining a head of each side:
//
//	E1 0..2 parents {}     E2 3..5 parents {}
//	E3 6..8 parents {1,4}
//	E4 9..10 parents {2,8}
func setupDiamond(t *testing.T) *CausalGraph {
	t.Helper()
	cg := CreateCG()
	a, b, c, d := AgentID("a"), AgentID("b"), AgentID("c"), AgentID("d")
	mustAdd(t, cg, RawVersion{a, 0}, 3, nil)
	mustAdd(t, cg, RawVersion{b, 0}, 3, nil)
	mustAdd(t, cg, RawVersion{c, 0}, 3, []RawVersion{{a, 1}, {b, 1}})
	mustAdd(t, cg, RawVersion{d, 0}, 2, []RawVersion{{a, 2}, {c, 2}})
	return cg
}

func TestDiffDiamond(t *testing.T) {
	cg := setupDiamond(t)

	sumB, err := SummarizeVersion(cg, Frontier{5})
	if err != nil {
		t.Fatalf("SummarizeVersion({5}): %v", err)
	}
	onlyA, err := Diff(cg, Frontier{8}, sumB)
	if err != nil {
		t.Fatalf("Diff({8}, summary({5})): %v", err)
	}
	compareLVRangeSlices(t, onlyA, []LVRange{{0, 2}, {6, 9}})

	sumA, err := SummarizeVersion(cg, Frontier{8})
	if err != nil {
		t.Fatalf("SummarizeVersion({8}): %v", err)
	}
	onlyB, err := Diff(cg, Frontier{5}, sumA)
	if err != nil {
		t.Fatalf("Diff({5}, summary({8})): %v", err)
	}
	compareLVRangeSlices(t, onlyB, []LVRange{{5, 6}})
}

// TestDiffSymmetry: swapping the two sides of a diff swaps the outputs; an
// LV is in neither output iff it is an ancestor of both.
func TestDiffSymmetry(t *testing.T) {
	cg := setupDiamond(t)
	pairs := [][2]Frontier{
		{{8}, {5}},
		{{10}, {8}},
		{{2}, {5}},
		{{10}, {2, 5}},
	}
	for _, p := range pairs {
		sumA, err := SummarizeVersion(cg, p[0])
		if err != nil {
			t.Fatalf("SummarizeVersion(%v): %v", p[0], err)
		}
		sumB, err := SummarizeVersion(cg, p[1])
		if err != nil {
			t.Fatalf("SummarizeVersion(%v): %v", p[1], err)
		}
		ab, err := Diff(cg, p[0], sumB)
		if err != nil {
			t.Fatalf("Diff(%v, %v): %v", p[0], p[1], err)
		}
		ba, err := Diff(cg, p[1], sumA)
		if err != nil {
			t.Fatalf("Diff(%v, %v): %v", p[1], p[0], err)
		}
		for _, r := range ab {
			for lv := r.Start; lv < r.End; lv++ {
				for _, r2 := range ba {
					if lv >= r2.Start && lv < r2.End {
						t.Fatalf("LV %d appears on both sides of diff(%v, %v)", lv, p[0], p[1])
					}
				}
			}
		}
	}
}

func TestFrontierContainsDiamond(t *testing.T) {
	cg := setupDiamond(t)
	tests := []struct {
		frontier Frontier
		target   LV
		want     bool
	}{
		{Frontier{8}, 1, true},
		{Frontier{8}, 5, false},
		{Frontier{8}, 4, true},
		{Frontier{10}, 3, true},
		{Frontier{10}, 5, false},
		{Frontier{5}, 0, false},
	}
	for _, tt := range tests {
		got, err := FrontierContains(cg, tt.frontier, tt.target)
		if err != nil {
			t.Fatalf("FrontierContains(%v, %d): %v", tt.frontier, tt.target, err)
		}
		if got != tt.want {
			t.Errorf("FrontierContains(%v, %d) = %v, want %v", tt.frontier, tt.target, got, tt.want)
		}
	}
}

// TestGraphStructuralInvariants: every parent precedes its entry's span and
// is back-registered as a child of the entry containing it, and the heads
// are a strictly increasing antichain.
func TestGraphStructuralInvariants(t *testing.T) {
	for name, cg := range map[string]*CausalGraph{
		"g1":      setupTestGraphG1(t),
		"diamond": setupDiamond(t),
	} {
		for i, e := range cg.Entries {
			for _, p := range e.Parents {
				if p >= e.Start {
					t.Errorf("%s: entry %d has parent %d >= span start %d", name, i, p, e.Start)
				}
				pe, _, ok := EntryContaining(cg, p)
				if !ok {
					t.Fatalf("%s: parent %d of entry %d not in graph", name, p, i)
				}
				registered := false
				for _, ci := range pe.ChildIndexes {
					if ci == i {
						registered = true
						break
					}
				}
				if !registered {
					t.Errorf("%s: entry %d not registered as child of parent entry containing %d", name, i, p)
				}
			}
		}
		for i := 1; i < len(cg.Heads); i++ {
			if cg.Heads[i] <= cg.Heads[i-1] {
				t.Errorf("%s: heads not strictly increasing: %v", name, cg.Heads)
			}
		}
		for _, h := range cg.Heads {
			for _, other := range cg.Heads {
				if h == other {
					continue
				}
				contained, err := FrontierContains(cg, Frontier{other}, h)
				if err != nil {
					t.Fatalf("%s: FrontierContains: %v", name, err)
				}
				if contained {
					t.Errorf("%s: head %d is an ancestor of head %d", name, h, other)
				}
			}
		}
	}
}

func TestIntersectWithSummary(t *testing.T) {
	g1 := setupTestGraphG1(t)
	agentA := AgentID("agentA")

	got, err := IntersectWithSummary(g1, VersionSummary{agentA: [][2]int{{0, 1}}})
	if err != nil {
		t.Fatalf("IntersectWithSummary error: %v", err)
	}
	want := Frontier{1, 2, 3}
	if !compareLVSlices(got, want) {
		t.Errorf("IntersectWithSummary = %v, want %v", got, want)
	}
}
