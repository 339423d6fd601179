package oplog

import "github.com/listmerge/fugue/causalgraph"

// OpKind distinguishes an insert from a delete operation.
type OpKind int

const (
	OpInsert OpKind = iota
	OpDelete
)

func (k OpKind) String() string {
	if k == OpInsert {
		return "Ins"
	}
	return "Del"
}

// Op is one run of same-kind, contiguously-positioned edits by a single
// agent - the Go analogue of ListOpMetrics plus its associated content,
// grounded in original_source/.../list/op_metrics.rs and list/operation.rs.
type Op struct {
	ID causalgraph.LVRange
	// Kind is whether this run inserted or deleted characters.
	Kind OpKind
	// Pos is the content position of the first character in the run, at
	// the time the op was authored.
	Pos int
	// Content holds the inserted text. Unused for deletes.
	Content string
	// Fwd is true for a plain left-to-right run; false for a delete run
	// produced by repeated backspacing (positions decrease as Seq increases).
	Fwd bool
}

// CanAppend reports whether other directly continues this run - same kind,
// contiguous LVs, and a position that keeps the run monotonic.
func (o Op) CanAppend(other Op) bool {
	if o.Kind != other.Kind || !o.ID.CanAppend(other.ID) {
		return false
	}
	n := o.ID.Len()
	switch o.Kind {
	case OpInsert:
		return other.Fwd && other.Pos == o.Pos+n
	case OpDelete:
		if o.Fwd != other.Fwd {
			return false
		}
		if o.Fwd {
			return other.Pos == o.Pos+n
		}
		return other.Pos == o.Pos-other.ID.Len()
	}
	return false
}

// Append merges other onto the end of o. Callers must check CanAppend first.
func (o *Op) Append(other Op) {
	o.ID.End = other.ID.End
	if o.Kind == OpInsert {
		o.Content += other.Content
	}
	if o.Kind == OpDelete && !o.Fwd {
		o.Pos = other.Pos
	}
}

// slice returns the portion of o covering [lo, hi), which must fall inside
// o.ID. Used to split a merged RLE run back into the piece a particular
// causal-graph diff range actually needs.
func (o Op) slice(lo, hi causalgraph.LV) Op {
	if lo == o.ID.Start && hi == o.ID.End {
		return o
	}
	offsetStart := int(lo - o.ID.Start)
	offsetEnd := int(hi - o.ID.Start)
	out := Op{ID: causalgraph.LVRange{Start: lo, End: hi}, Kind: o.Kind, Fwd: o.Fwd}
	switch o.Kind {
	case OpInsert:
		runes := []rune(o.Content)
		out.Content = string(runes[offsetStart:offsetEnd])
		out.Pos = o.Pos + offsetStart
	case OpDelete:
		if o.Fwd {
			out.Pos = o.Pos + offsetStart
		} else {
			// Pos tracks the lowest position a reverse run reaches, so a
			// slice ending at offsetEnd bottoms out (run length - offsetEnd)
			// positions above the whole run's own floor.
			out.Pos = o.Pos + (o.ID.Len() - offsetEnd)
		}
	}
	return out
}
