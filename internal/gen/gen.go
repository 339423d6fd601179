// Package gen generates random but causally valid operation logs across
// several concurrently editing branches, merging pairs of branches together
// periodically - the Go analogue of original_source's
// src/list/gen_random.rs::gen_oplog, used to property-test convergence
// instead of hand-writing every interleaving.
package gen

import (
	"fmt"
	"unicode/utf8"

	fuzz "github.com/google/gofuzz"
	"github.com/listmerge/fugue/causalgraph"
	"github.com/listmerge/fugue/merge"
	"github.com/listmerge/fugue/oplog"
)

var alphabet = []rune("abcdefghijklmnopqrstuvwxyz .,!?\n")

type branch struct {
	frontier causalgraph.Frontier
	content  string
}

// GenerateOpLog produces numAgents concurrent branches of random edits over
// steps rounds, merging a random pair of branches every round (and all of
// them every 50th round, mirroring the original's periodic full merge to
// keep the trace from growing quadratically and to exercise n-way merges).
func GenerateOpLog(seed int64, steps, numAgents int) (*oplog.OpLog, error) {
	if numAgents < 2 {
		numAgents = 2
	}
	f := fuzz.NewWithSeed(seed)
	ol := oplog.New()
	branches := make([]branch, numAgents)

	randIntn := func(n int) int {
		if n <= 0 {
			return 0
		}
		var x uint32
		f.Fuzz(&x)
		return int(x % uint32(n))
	}
	randContent := func() string {
		var n uint8
		f.Fuzz(&n)
		length := int(n%5) + 1
		runes := make([]rune, length)
		for i := range runes {
			runes[i] = alphabet[randIntn(len(alphabet))]
		}
		return string(runes)
	}
	agentName := func(i int) causalgraph.AgentID {
		return causalgraph.AgentID(fmt.Sprintf("agent-%d", i))
	}
	refreshContent := func(idx int) error {
		content, err := merge.Checkout(ol, branches[idx].frontier)
		if err != nil {
			return err
		}
		branches[idx].content = content
		return nil
	}

	for step := 0; step < steps; step++ {
		for j := 0; j < 2; j++ {
			idx := randIntn(numAgents)
			b := &branches[idx]
			contentLen := utf8.RuneCountInString(b.content)

			if contentLen == 0 || randIntn(3) != 0 {
				pos := randIntn(contentLen + 1)
				r, err := ol.PushInsert(agentName(idx), b.frontier, pos, randContent())
				if err != nil {
					return nil, err
				}
				b.frontier = causalgraph.Frontier{r.End - 1}
			} else {
				pos := randIntn(contentLen)
				length := randIntn(contentLen-pos) + 1
				fwd := randIntn(2) == 0
				r, err := ol.PushDelete(agentName(idx), b.frontier, pos, length, fwd)
				if err != nil {
					return nil, err
				}
				b.frontier = causalgraph.Frontier{r.End - 1}
			}
			if err := refreshContent(idx); err != nil {
				return nil, err
			}
		}

		a, c := randIntn(numAgents), randIntn(numAgents)
		if a == c {
			c = (c + 1) % numAgents
		}
		merged, err := mergeFrontiers(ol, branches[a].frontier, branches[c].frontier)
		if err != nil {
			return nil, err
		}
		branches[a].frontier, branches[c].frontier = merged, merged
		if err := refreshContent(a); err != nil {
			return nil, err
		}
		if err := refreshContent(c); err != nil {
			return nil, err
		}

		if step%50 == 0 {
			all := ol.Heads()
			for i := range branches {
				branches[i].frontier = all
				if err := refreshContent(i); err != nil {
					return nil, err
				}
			}
		}
	}

	return ol, nil
}

func mergeFrontiers(ol *oplog.OpLog, a, b causalgraph.Frontier) (causalgraph.Frontier, error) {
	combined := make(causalgraph.Frontier, 0, len(a)+len(b))
	combined = append(combined, a...)
	combined = append(combined, b...)
	return causalgraph.FindDominators(ol.CG, combined)
}
