// Package rle holds small generic helpers for the run-length patterns used
// throughout the engine: causal graph entries, operation log spans, and
// space index markers all follow the same "can this be appended to that"
// shape, grounded in original_source's pervasive `rle` crate.
package rle

// Mergeable is implemented by *T for any run-length span T that can decide
// whether it directly extends another span of the same kind. Append is a
// pointer-receiver method (it mutates the span in place), so the interface
// is expressed over *T rather than T; Push below recovers T via Go's
// constraint type inference from *T back to T.
type Mergeable[T any] interface {
	*T
	CanAppend(other T) bool
	Append(other T)
}

// Push appends item to spans, merging it into the last span when possible.
func Push[T any, PT Mergeable[T]](spans []T, item T) []T {
	if len(spans) > 0 {
		last := PT(&spans[len(spans)-1])
		if last.CanAppend(item) {
			last.Append(item)
			return spans
		}
	}
	return append(spans, item)
}

// Last returns a pointer to the final span, or nil if spans is empty.
func Last[T any](spans []T) *T {
	if len(spans) == 0 {
		return nil
	}
	return &spans[len(spans)-1]
}
