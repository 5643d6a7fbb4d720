// Package object implements the on-heap layouts boxed by a BOXED or CONS
// term: tuples, conses, bignums, floats, closures, exports, imports,
// binaries (in all three storage strategies), binary match states, maps,
// jump tables, and external pids/refs/ports. Every constructor here
// allocates through a *heap.Heap that the caller has already Ensure'd.
package object

import (
	"fmt"

	"beamrt/internal/heap"
	"beamrt/internal/term"
)

// ErrHeaderMismatch is a fatal condition: a BOXED term's target word was
// not a HEADER, or its subtype didn't match what the caller expected.
type ErrHeaderMismatch struct {
	Ptr      uint64
	Expected term.Subtype
	Got      term.Term
}

func (e *ErrHeaderMismatch) Error() string {
	return fmt.Sprintf("object: header mismatch at @%d: expected subtype %v, found word %#v", e.Ptr, e.Expected, e.Got)
}

// header reads and validates the header word at ptr, returning its
// arity. On a mismatch it returns a typed *ErrHeaderMismatch, which
// callers that cannot recover panic with (rather than with a string) so
// the dispatcher's fatal path can format it with the usual context dump.
func header(h *heap.Heap, ptr uint64, want term.Subtype) (arity uint64, err error) {
	w := h.Word(ptr)
	if !term.IsHeader(w) {
		return 0, &ErrHeaderMismatch{Ptr: ptr, Expected: want, Got: w}
	}
	if term.HeaderSubtype(w) != want {
		return 0, &ErrHeaderMismatch{Ptr: ptr, Expected: want, Got: w}
	}
	return term.HeaderArity(w), nil
}

// SubtypeOf returns the subtype of a BOXED term by dereferencing its
// header, used by the is-boxed-of-subtype(T) family of predicates.
func SubtypeOf(h *heap.Heap, t term.Term) (term.Subtype, bool) {
	if !term.IsBoxed(t) || term.IsCP(t) {
		return 0, false
	}
	w := h.Word(term.AsBoxed(t))
	if !term.IsHeader(w) {
		return 0, false
	}
	return term.HeaderSubtype(w), true
}

func IsBoxedOfSubtype(h *heap.Heap, t term.Term, want term.Subtype) bool {
	s, ok := SubtypeOf(h, t)
	return ok && s == want
}
