package object

import (
	"fmt"

	"beamrt/internal/heap"
	"beamrt/internal/term"
)

// NewCons allocates a single cons cell (no header, just two raw words)
// and returns its CONS term, implementing put_list.
func NewCons(h *heap.Heap, head, tail term.Term) (term.Term, error) {
	ptr, err := h.Alloc(2, heap.FillUninitialized)
	if err != nil {
		return 0, err
	}
	h.SetWord(ptr, head)
	h.SetWord(ptr+1, tail)
	return term.FromCons(ptr), nil
}

func IsList(t term.Term) bool { return term.IsNil(t) || term.IsCons(t) }

func IsNonEmptyList(t term.Term) bool { return term.IsCons(t) }

// GetList implements get_list(cons,h,t): split a cons into its head and
// tail.
func GetList(h *heap.Heap, cons term.Term) (head, tail term.Term) {
	ptr := term.AsCons(cons)
	return h.Word(ptr), h.Word(ptr + 1)
}

// ListFromSlice builds a proper list from xs, tail-first so the result
// needs no mutation after construction.
func ListFromSlice(h *heap.Heap, xs []term.Term) (term.Term, error) {
	list := term.Term(term.Nil)
	for i := len(xs) - 1; i >= 0; i-- {
		var err error
		list, err = NewCons(h, xs[i], list)
		if err != nil {
			return 0, err
		}
	}
	return list, nil
}

// ListToSlice walks a proper list into a Go slice; ok is false if the
// list is improper (does not terminate in NIL).
func ListToSlice(h *heap.Heap, list term.Term) (xs []term.Term, ok bool) {
	for {
		if term.IsNil(list) {
			return xs, true
		}
		if !term.IsCons(list) {
			return xs, false
		}
		var head term.Term
		head, list = GetList(h, list)
		xs = append(xs, head)
	}
}

// ListLength counts a proper list's elements; ok is false for improper
// lists (mirrors the language's own list_length/1 failure mode).
func ListLength(h *heap.Heap, list term.Term) (n int, ok bool) {
	for {
		if term.IsNil(list) {
			return n, true
		}
		if !term.IsCons(list) {
			return n, false
		}
		_, list = GetList(h, list)
		n++
	}
}

// Concat implements `++`: appends ys after a fresh copy of xs's spine,
// so ys (possibly another process's term, already copied in) is shared
// rather than duplicated.
func Concat(h *heap.Heap, xs, ys term.Term) (term.Term, error) {
	elems, ok := ListToSlice(h, xs)
	if !ok {
		return 0, fmt.Errorf("object: Concat: improper list")
	}
	list := ys
	for i := len(elems) - 1; i >= 0; i-- {
		var err error
		list, err = NewCons(h, elems[i], list)
		if err != nil {
			return 0, err
		}
	}
	return list, nil
}
