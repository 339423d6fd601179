package merge

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/listmerge/fugue/causalgraph"
	"github.com/listmerge/fugue/oplog"
)

// Sentinel errors for the "remote input malformed" taxonomy: a rejected
// transaction never mutates ol. Checked with errors.Is.
var (
	ErrRootAgentTxn       = errors.New("merge: transaction authored by the root agent")
	ErrDuplicateOp        = errors.New("merge: duplicate (agent, seq)")
	ErrUnknownParent      = errors.New("merge: parent names an unknown remote id")
	ErrPositionOutOfRange = errors.New("merge: operation position outside the document at its parents")
)

// placeholderRune fills in for content a partially-replicated remote
// transaction didn't carry: positions downstream must still line up even
// though the original characters are unknown.
const placeholderRune = '￼'

// RemoteOp is one op inside a RemoteTxn. Content is nil when the sending
// replica didn't have the original characters available (e.g. a partially
// synced oplog) - see placeholderRune.
type RemoteOp struct {
	Kind    oplog.OpKind
	Pos     int
	Len     int
	Fwd     bool
	Content *string
}

// RemoteTxn is a self-contained unit of remote work: one agent's run of
// ops, named by the RemoteIDs of its causal parents rather than local LVs.
type RemoteTxn struct {
	Agent   causalgraph.AgentID
	Seq     int
	Parents []oplog.RemoteID
	Ops     []RemoteOp
}

func placeholderContent(op RemoteOp) string {
	if op.Content != nil {
		return *op.Content
	}
	runes := make([]rune, op.Len)
	for i := range runes {
		runes[i] = placeholderRune
	}
	return string(runes)
}

// IngestRemoteTxn validates txn against ol's current state and, only if
// every op is well-formed, appends it and returns the LV range it was
// assigned. Validation replays the transaction against a throwaway
// checkout of its stated parents before touching ol at all, so a rejected
// transaction leaves ol completely unchanged. log may be nil, in which
// case rejections are simply not reported anywhere.
func IngestRemoteTxn(ol *oplog.OpLog, log *zap.Logger, txn RemoteTxn) (causalgraph.LVRange, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if txn.Agent == causalgraph.RootAgent {
		err := fmt.Errorf("%w", ErrRootAgentTxn)
		log.Warn("rejected remote transaction", zap.Error(err))
		return causalgraph.LVRange{}, err
	}
	if _, err := causalgraph.RawToLV(ol.CG, txn.Agent, txn.Seq); err == nil {
		werr := fmt.Errorf("%w: %s:%d", ErrDuplicateOp, txn.Agent, txn.Seq)
		log.Warn("rejected remote transaction", zap.Error(werr))
		return causalgraph.LVRange{}, werr
	}

	parents, err := ol.RemoteIDsToFrontier(txn.Parents)
	if err != nil {
		werr := fmt.Errorf("%w: %v", ErrUnknownParent, err)
		log.Warn("rejected remote transaction", zap.Error(werr))
		return causalgraph.LVRange{}, werr
	}

	doc, err := Checkout(ol, parents)
	if err != nil {
		return causalgraph.LVRange{}, fmt.Errorf("merge: checking out parents to validate transaction: %w", err)
	}
	runes := []rune(doc)

	for _, op := range txn.Ops {
		switch op.Kind {
		case oplog.OpInsert:
			if op.Pos < 0 || op.Pos > len(runes) {
				werr := fmt.Errorf("%w: insert at %d in a %d-rune document", ErrPositionOutOfRange, op.Pos, len(runes))
				log.Warn("rejected remote transaction", zap.Error(werr))
				return causalgraph.LVRange{}, werr
			}
			ins := []rune(placeholderContent(op))
			out := make([]rune, 0, len(runes)+len(ins))
			out = append(out, runes[:op.Pos]...)
			out = append(out, ins...)
			out = append(out, runes[op.Pos:]...)
			runes = out
		case oplog.OpDelete:
			lo, hi := op.Pos, op.Pos+op.Len
			if lo < 0 || hi > len(runes) {
				werr := fmt.Errorf("%w: delete [%d,%d) in a %d-rune document", ErrPositionOutOfRange, lo, hi, len(runes))
				log.Warn("rejected remote transaction", zap.Error(werr))
				return causalgraph.LVRange{}, werr
			}
			runes = append(runes[:lo:lo], runes[hi:]...)
		}
	}

	// Every op validated cleanly against the simulated document; commit
	// the whole run for real, chaining each op off the previous one's LV.
	var result causalgraph.LVRange
	cur := parents
	for i, op := range txn.Ops {
		var r causalgraph.LVRange
		var err error
		switch op.Kind {
		case oplog.OpInsert:
			r, err = ol.PushInsert(txn.Agent, cur, op.Pos, placeholderContent(op))
		case oplog.OpDelete:
			r, err = ol.PushDelete(txn.Agent, cur, op.Pos, op.Len, op.Fwd)
		}
		if err != nil {
			return causalgraph.LVRange{}, fmt.Errorf("merge: committing op %d of an already-validated transaction: %w", i, err)
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
