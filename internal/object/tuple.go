package object

import (
	"beamrt/internal/heap"
	"beamrt/internal/term"
)

// NewTuple allocates a tuple of the given arity, heap-filled with NIL,
// and returns its BOXED term. Elements are filled in afterward with
// SetTupleElement (mirroring put_tuple/put: the opcode pair allocates
// the shell, then streams elements in one at a time).
func NewTuple(h *heap.Heap, arity int) (term.Term, error) {
	if arity == 0 {
		return term.EmptyTuple, nil
	}
	ptr, err := h.Alloc(arity+1, heap.FillUninitialized)
	if err != nil {
		return 0, err
	}
	h.SetWord(ptr, term.MakeHeader(uint64(arity), term.SubtypeTuple))
	for i := 0; i < arity; i++ {
		h.SetWord(ptr+1+uint64(i), term.Nil)
	}
	return term.FromBoxed(ptr), nil
}

// NewTupleFrom allocates and immediately fills a tuple from elems.
func NewTupleFrom(h *heap.Heap, elems []term.Term) (term.Term, error) {
	if len(elems) == 0 {
		return term.EmptyTuple, nil
	}
	ptr, err := h.Alloc(len(elems)+1, heap.FillUninitialized)
	if err != nil {
		return 0, err
	}
	h.SetWord(ptr, term.MakeHeader(uint64(len(elems)), term.SubtypeTuple))
	for i, e := range elems {
		h.SetWord(ptr+1+uint64(i), e)
	}
	return term.FromBoxed(ptr), nil
}

func IsTuple(h *heap.Heap, t term.Term) bool {
	return term.IsEmptyTuple(t) || IsBoxedOfSubtype(h, t, term.SubtypeTuple)
}

func TupleArity(h *heap.Heap, t term.Term) int {
	if term.IsEmptyTuple(t) {
		return 0
	}
	arity, err := header(h, term.AsBoxed(t), term.SubtypeTuple)
	if err != nil {
		panic(err)
	}
	return int(arity)
}

// GetTupleElement returns the element at 0-based index i;
// get_tuple_element passes its index operand through unchanged.
func GetTupleElement(h *heap.Heap, t term.Term, i int) term.Term {
	ptr := term.AsBoxed(t)
	return h.Word(ptr + 1 + uint64(i))
}

func SetTupleElement(h *heap.Heap, t term.Term, i int, v term.Term) {
	ptr := term.AsBoxed(t)
	h.SetWord(ptr+1+uint64(i), v)
}

// TupleElements copies out all elements, used by comparison and by
// native functions that want a Go-level view.
func TupleElements(h *heap.Heap, t term.Term) []term.Term {
	n := TupleArity(h, t)
	out := make([]term.Term, n)
	for i := 0; i < n; i++ {
		out[i] = GetTupleElement(h, t, i)
	}
	return out
}
