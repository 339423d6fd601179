// Package oplog is the operation-log facade: the append-only record of
// every insert and delete an agent has authored, keyed into the causal
// graph. Grounded in original_source/.../list/oplog.rs (get_or_create_agent,
// push_insert, push_delete) and list/remote_ids.rs (RemoteId conversions).
package oplog

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/listmerge/fugue/causalgraph"
	"github.com/listmerge/fugue/internal/rle"
)

// OpLog pairs the causal graph with the RLE run list of operation content.
type OpLog struct {
	CG  *causalgraph.CausalGraph
	Ops []Op

	log *zap.Logger
}

// New creates an empty operation log that logs nothing.
func New() *OpLog {
	return NewWithLogger(nil)
}

// NewWithLogger creates an empty operation log, logging every pushed op at
// debug level through log (or discarding them if log is nil) - grounded in
// the other_examples ObjectStore constructor's nil-logger-to-NewNop pattern.
func NewWithLogger(log *zap.Logger) *OpLog {
	if log == nil {
		log = zap.NewNop()
	}
	return &OpLog{CG: causalgraph.CreateCG(), log: log}
}

// NewAnonymousAgent mints a fresh, globally unique agent name for a
// session that hasn't been given one - grounded in the uuid-based anonymous
// IDs original_source assigns to ephemeral editing sessions.
func NewAnonymousAgent() causalgraph.AgentID {
	return causalgraph.AgentID(uuid.NewString())
}

// GetOrCreateAgent resolves name to an AgentID. Agents are identified by
// name directly, so there is no table to install into; the reserved name
// "ROOT" resolves to the root sentinel, which no op may be authored as.
// An empty name gets a fresh anonymous identity instead of colliding with
// every other unnamed session.
func (ol *OpLog) GetOrCreateAgent(name string) causalgraph.AgentID {
	if name == "" {
		return NewAnonymousAgent()
	}
	return causalgraph.AgentID(name)
}

// PushInsert appends an insert of content at content position pos, authored
// by agent against parents, and returns the LV range it was assigned.
func (ol *OpLog) PushInsert(agent causalgraph.AgentID, parents causalgraph.Frontier, pos int, content string) (causalgraph.LVRange, error) {
	if agent == causalgraph.RootAgent {
		return causalgraph.LVRange{}, fmt.Errorf("oplog: cannot author an op as the root agent")
	}
	length := len([]rune(content))
	r, err := ol.push(agent, parents, length)
	if err != nil {
		return causalgraph.LVRange{}, err
	}
	ol.Ops = rle.Push(ol.Ops, Op{ID: r, Kind: OpInsert, Pos: pos, Content: content, Fwd: true})
	ol.log.Debug("pushed insert", zap.String("agent", string(agent)), zap.Int("pos", pos), zap.Int("len", length))
	return r, nil
}

// PushDelete appends a delete of length characters starting at content
// position pos (fwd = left-to-right; !fwd = backspacing so pos is the
// position of the LAST character deleted), authored by agent against
// parents, and returns the LV range it was assigned.
func (ol *OpLog) PushDelete(agent causalgraph.AgentID, parents causalgraph.Frontier, pos, length int, fwd bool) (causalgraph.LVRange, error) {
	if agent == causalgraph.RootAgent {
		return causalgraph.LVRange{}, fmt.Errorf("oplog: cannot author an op as the root agent")
	}
	r, err := ol.push(agent, parents, length)
	if err != nil {
		return causalgraph.LVRange{}, err
	}
	ol.Ops = rle.Push(ol.Ops, Op{ID: r, Kind: OpDelete, Pos: pos, Fwd: fwd})
	ol.log.Debug("pushed delete", zap.String("agent", string(agent)), zap.Int("pos", pos), zap.Int("len", length), zap.Bool("fwd", fwd))
	return r, nil
}

// PushOp is one operation in a Push batch: the caller-facing wire shape of
// an edit before it has an LV identity. Len is ignored for inserts, where
// the content itself carries the length.
type PushOp struct {
	Kind    OpKind
	Pos     int
	Len     int
	Fwd     bool
	Content string
}

// Push appends a batch of ops authored by agent, the first against parents
// and each subsequent op chained off the previous one's version, and
// returns the whole LV range assigned.
func (ol *OpLog) Push(agent causalgraph.AgentID, parents causalgraph.Frontier, ops []PushOp) (causalgraph.LVRange, error) {
	var result causalgraph.LVRange
	cur := parents
	for i, op := range ops {
		var r causalgraph.LVRange
		var err error
		switch op.Kind {
		case OpInsert:
			r, err = ol.PushInsert(agent, cur, op.Pos, op.Content)
		case OpDelete:
			r, err = ol.PushDelete(agent, cur, op.Pos, op.Len, op.Fwd)
		default:
			err = fmt.Errorf("oplog: unknown op kind %d", op.Kind)
		}
		if err != nil {
			return causalgraph.LVRange{}, fmt.Errorf("oplog: pushing op %d of %d: %w", i, len(ops), err)
		}
		if i == 0 {
			result = r
		} else {
			result.End = r.End
		}
		cur = causalgraph.Frontier{r.End - 1}
	}
	return result, nil
}

func (ol *OpLog) push(agent causalgraph.AgentID, parents causalgraph.Frontier, length int) (causalgraph.LVRange, error) {
	seq := causalgraph.NextSeqForAgent(ol.CG, agent)
	rawParents, err := causalgraph.LVToRawList(ol.CG, parents)
	if err != nil {
		return causalgraph.LVRange{}, fmt.Errorf("oplog: resolving parents: %w", err)
	}
	start := ol.CG.NextLV
	if _, err := causalgraph.AddRaw(ol.CG, causalgraph.RawVersion{Agent: agent, Seq: seq}, length, rawParents); err != nil {
		return causalgraph.LVRange{}, err
	}
	return causalgraph.LVRange{Start: start, End: start + causalgraph.LV(length)}, nil
}

// OpsInRange returns the slice of ops covering r, splitting any merged RLE
// run at the boundaries. Ops are assumed sorted by ID.Start (true for any
// log built purely through Push{Insert,Delete}).
func (ol *OpLog) OpsInRange(r causalgraph.LVRange) []Op {
	var out []Op
	for _, op := range ol.Ops {
		lo, hi := op.ID.Start, op.ID.End
		if lo < r.Start {
			lo = r.Start
		}
		if hi > r.End {
			hi = r.End
		}
		if lo >= hi {
			continue
		}
		out = append(out, op.slice(lo, hi))
	}
	return out
}

// Heads returns the current frontier of the whole log.
func (ol *OpLog) Heads() causalgraph.Frontier { return ol.CG.Heads }
