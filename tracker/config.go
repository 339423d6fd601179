package tracker

import (
	"fmt"

	"go.uber.org/zap"
)

// config holds the tuning knobs EngineOption sets: leaf size, whether
// DebugCheck runs on every mutating call, and logging.
type config struct {
	leafSize   int
	debugCheck bool
	log        *zap.Logger
}

// EngineOption configures a Tracker built with NewWithOptions. There is no
// config file or flag surface to parse here (the engine has no deployment
// surface) - functional options are the whole configuration story.
type EngineOption func(*config)

// WithLeafSize sets the range tree's leaf capacity. Smaller leaves shrink
// split/merge cost at the expense of more leaves to walk; the default (64)
// matches what New's unconfigured tree already used.
func WithLeafSize(n int) EngineOption {
	return func(c *config) { c.leafSize = n }
}

// WithDebugCheck toggles running DebugCheck after every mutating Tracker
// call. Off by default: these checks are O(n) per call and are meant for
// development/fuzzing, not every production op.
func WithDebugCheck(enabled bool) EngineOption {
	return func(c *config) { c.debugCheck = enabled }
}

// WithLogger attaches a zap logger for concurrent-insert tie-break
// messages and (if WithDebugCheck is also set) failed self-checks.
func WithLogger(log *zap.Logger) EngineOption {
	return func(c *config) { c.log = log }
}

// NewWithOptions builds a Tracker tuned by opts. With no options it behaves
// exactly like New().
func NewWithOptions(opts ...EngineOption) *Tracker {
	cfg := config{leafSize: defaultLeafSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	return newTracker(cfg.leafSize, cfg.debugCheck, cfg.log)
}

// DebugCheck walks the range tree and space index cross-checking the
// invariants that must hold after every mutation: content length matches
// the sum of each live item's own visible length, and every
// currently-inserted item's own LV still resolves through the space index
// to the leaf that genuinely holds it. Grounded in original_source's
// list/check.rs walk of the equivalent two structures. A non-nil return is
// always a programmer error, never a malformed-input one.
func (t *Tracker) DebugCheck() error {
	items := t.Tree.Items()
	sum := 0
	for _, it := range items {
		if it.IsUnderwater() {
			continue
		}
		sum += it.ContentLen()
		if it.State.IsDeleted() {
			continue
		}

		leaf, origLV, err := t.Index.LeafFor(it.ID.Start)
		if err != nil {
			return fmt.Errorf("no space index marker for live item %v: %w", it.ID, err)
		}
		if origLV != it.ID.Start {
			return fmt.Errorf("space index redirected live item %v to LV %d", it.ID, origLV)
		}
		holds := false
		for _, leafItem := range leaf.Items {
			if leafItem.ID.Start == it.ID.Start {
				holds = true
				break
			}
		}
		if !holds {
			return fmt.Errorf("space index leaf for item %v does not actually hold it", it.ID)
		}
	}
	if sum != t.Tree.ContentLen() {
		return fmt.Errorf("content length mismatch: summed %d, ContentLen() %d", sum, t.Tree.ContentLen())
	}
	return nil
}
