package merge

import (
	"fmt"
	"sort"

	"github.com/listmerge/fugue/causalgraph"
	"github.com/listmerge/fugue/oplog"
	"github.com/listmerge/fugue/rope"
	"github.com/listmerge/fugue/tracker"
)

// Branch is one replica's working checkout: the frontier its document
// reflects, and the document itself. Branches are advanced incrementally by
// MergeTo, which applies only the ops the branch hasn't seen yet.
type Branch struct {
	Frontier causalgraph.Frontier
	Doc      *rope.Rope
}

// NewBranch returns an empty branch at the root version.
func NewBranch() *Branch {
	return &Branch{Doc: rope.New("")}
}

// CheckoutBranch builds a fresh branch advanced to frontier.
func CheckoutBranch(ol *oplog.OpLog, frontier causalgraph.Frontier, opts ...tracker.EngineOption) (*Branch, error) {
	b := NewBranch()
	if _, err := b.MergeTo(ol, frontier, opts...); err != nil {
		return nil, err
	}
	return b, nil
}

// MergeTo advances b to cover every op that is an ancestor of target,
// keeping everything the branch already has. The branch's own history is
// replayed first to seed the tracker, then each new op is applied at its
// author's intended position; the resulting transformed ops are applied to
// b.Doc and returned. Merging disjoint op sets in either order produces the
// same branch state, and re-merging an already-covered target is a no-op.
func (b *Branch) MergeTo(ol *oplog.OpLog, target causalgraph.Frontier, opts ...tracker.EngineOption) ([]XfOp, error) {
	combined := append(b.Frontier.Clone(), target...)
	newFrontier, err := causalgraph.FindDominators(ol.CG, combined)
	if err != nil {
		return nil, fmt.Errorf("merge: combining branch and target frontiers: %w", err)
	}
	if frontierEqual(newFrontier, b.Frontier) {
		return nil, nil
	}

	seedOps, err := dominatingOpsUpTo(ol, b.Frontier)
	if err != nil {
		return nil, fmt.Errorf("merge: collecting the branch's own history: %w", err)
	}
	branchSummary, err := causalgraph.SummarizeVersion(ol.CG, b.Frontier)
	if err != nil {
		return nil, fmt.Errorf("merge: summarizing branch frontier: %w", err)
	}
	newRanges, err := causalgraph.Diff(ol.CG, newFrontier, branchSummary)
	if err != nil {
		return nil, fmt.Errorf("merge: diffing target against branch: %w", err)
	}
	sort.Slice(newRanges, func(i, j int) bool { return newRanges[i].Start < newRanges[j].Start })
	var newOps []oplog.Op
	for _, r := range newRanges {
		newOps = append(newOps, ol.OpsInRange(r)...)
	}

	xfs, err := replayXf(ol, seedOps, newOps, opts...)
	if err != nil {
		return nil, err
	}
	for _, xf := range xfs {
		switch xf.Kind {
		case oplog.OpInsert:
			if err := b.Doc.Insert(xf.Pos, xf.Content); err != nil {
				return nil, fmt.Errorf("merge: applying insert %v: %w", xf.ID, err)
			}
		case oplog.OpDelete:
			if xf.Result != DeleteAlreadyHappened {
				if err := b.Doc.Remove(xf.Pos, xf.Pos+xf.ID.Len()); err != nil {
					return nil, fmt.Errorf("merge: applying delete %v: %w", xf.ID, err)
				}
			}
		}
	}
	b.Frontier = newFrontier
	return xfs, nil
}
