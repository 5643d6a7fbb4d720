package object

import (
	"beamrt/internal/heap"
	"beamrt/internal/term"
)

// closure field offsets, relative to the boxed pointer (the header
// itself occupies offset 0).
const (
	closureModule   = 1
	closureFunction = 2
	closureArity    = 3
	closureCodePtr  = 4
	closureNFrozen  = 5
	closureFrozen0  = 6
)

// NewClosure allocates a closure (`make_fun2`): module/function/arity
// identify the target for first-call resolution; codePtr is NonValue
// until the code server has resolved it once, after which the resolved
// value is cached in place. frozen is copied by value into the closure
// body, matching the "frozen variable" semantics.
func NewClosure(h *heap.Heap, module, function term.Term, arity int, frozen []term.Term) (term.Term, error) {
	n := len(frozen)
	payload := 5 + n
	ptr, err := h.Alloc(payload+1, heap.FillUninitialized)
	if err != nil {
		return 0, err
	}
	h.SetWord(ptr, term.MakeHeader(uint64(payload), term.SubtypeClosure))
	h.SetWord(ptr+closureModule, module)
	h.SetWord(ptr+closureFunction, function)
	h.SetWord(ptr+closureArity, term.FromSmall(int64(arity)))
	h.SetWord(ptr+closureCodePtr, term.NonValue)
	h.SetWord(ptr+closureNFrozen, term.FromSmall(int64(n)))
	for i, f := range frozen {
		h.SetWord(ptr+closureFrozen0+uint64(i), f)
	}
	return term.FromBoxed(ptr), nil
}

func IsClosure(h *heap.Heap, t term.Term) bool { return IsBoxedOfSubtype(h, t, term.SubtypeClosure) }

func ClosureModule(h *heap.Heap, t term.Term) term.Term {
	return h.Word(term.AsBoxed(t) + closureModule)
}

func ClosureFunction(h *heap.Heap, t term.Term) term.Term {
	return h.Word(term.AsBoxed(t) + closureFunction)
}

func ClosureArity(h *heap.Heap, t term.Term) int {
	return int(term.AsSmall(h.Word(term.AsBoxed(t) + closureArity)))
}

func ClosureCodePtr(h *heap.Heap, t term.Term) (idx uint64, resolved bool) {
	w := h.Word(term.AsBoxed(t) + closureCodePtr)
	if term.IsNonValue(w) {
		return 0, false
	}
	return uint64(term.AsSmall(w)), true
}

func SetClosureCodePtr(h *heap.Heap, t term.Term, idx uint64) {
	h.SetWord(term.AsBoxed(t)+closureCodePtr, term.FromSmall(int64(idx)))
}

func ClosureNFrozen(h *heap.Heap, t term.Term) int {
	return int(term.AsSmall(h.Word(term.AsBoxed(t) + closureNFrozen)))
}

func ClosureFrozen(h *heap.Heap, t term.Term, i int) term.Term {
	return h.Word(term.AsBoxed(t) + closureFrozen0 + uint64(i))
}

// --- Export ----------------------------------------------------------

const (
	exportModule   = 1
	exportFunction = 2
	exportArity    = 3
	exportCodePtr  = 4
)

// NewExport allocates a resolvable module:function/arity reference with
// a cache slot for the code pointer, filled in lazily on first call.
func NewExport(h *heap.Heap, module, function term.Term, arity int) (term.Term, error) {
	ptr, err := h.Alloc(5, heap.FillUninitialized)
	if err != nil {
		return 0, err
	}
	h.SetWord(ptr, term.MakeHeader(4, term.SubtypeExport))
	h.SetWord(ptr+exportModule, module)
	h.SetWord(ptr+exportFunction, function)
	h.SetWord(ptr+exportArity, term.FromSmall(int64(arity)))
	h.SetWord(ptr+exportCodePtr, term.NonValue)
	return term.FromBoxed(ptr), nil
}

func IsExport(h *heap.Heap, t term.Term) bool { return IsBoxedOfSubtype(h, t, term.SubtypeExport) }

func ExportMFA(h *heap.Heap, t term.Term) (module, function term.Term, arity int) {
	ptr := term.AsBoxed(t)
	return h.Word(ptr + exportModule), h.Word(ptr + exportFunction), int(term.AsSmall(h.Word(ptr + exportArity)))
}

func ExportCodePtr(h *heap.Heap, t term.Term) (uint64, bool) {
	w := h.Word(term.AsBoxed(t) + exportCodePtr)
	if term.IsNonValue(w) {
		return 0, false
	}
	return uint64(term.AsSmall(w)), true
}

func SetExportCodePtr(h *heap.Heap, t term.Term, idx uint64) {
	h.SetWord(term.AsBoxed(t)+exportCodePtr, term.FromSmall(int64(idx)))
}

// --- Import ------------------------------------------------------------

const (
	importModule   = 1
	importFunction = 2
	importArity    = 3
	importIsNative = 4
)

// NewImport allocates an as-yet-unresolved MFA reference as it appears
// in a module's import table before the loader (external collaborator)
// decides whether it resolves to a native function or Erlang code.
func NewImport(h *heap.Heap, module, function term.Term, arity int, isNative bool) (term.Term, error) {
	ptr, err := h.Alloc(5, heap.FillUninitialized)
	if err != nil {
		return 0, err
	}
	h.SetWord(ptr, term.MakeHeader(4, term.SubtypeImport))
	h.SetWord(ptr+importModule, module)
	h.SetWord(ptr+importFunction, function)
	h.SetWord(ptr+importArity, term.FromSmall(int64(arity)))
	nativeFlag := int64(0)
	if isNative {
		nativeFlag = 1
	}
	h.SetWord(ptr+importIsNative, term.FromSmall(nativeFlag))
	return term.FromBoxed(ptr), nil
}

func IsImport(h *heap.Heap, t term.Term) bool { return IsBoxedOfSubtype(h, t, term.SubtypeImport) }

func ImportMFA(h *heap.Heap, t term.Term) (module, function term.Term, arity int, isNative bool) {
	ptr := term.AsBoxed(t)
	return h.Word(ptr + importModule), h.Word(ptr + importFunction),
		int(term.AsSmall(h.Word(ptr + importArity))), term.AsSmall(h.Word(ptr+importIsNative)) != 0
}

// IsFunction reports whether t is a callable (closure or export).
func IsFunction(h *heap.Heap, t term.Term) bool {
	return IsClosure(h, t) || IsExport(h, t)
}

// IsFunctionOfArity reports whether t is callable with exactly n
// arguments.
func IsFunctionOfArity(h *heap.Heap, t term.Term, n int) bool {
	switch {
	case IsClosure(h, t):
		return ClosureArity(h, t)-ClosureNFrozen(h, t) == n
	case IsExport(h, t):
		_, _, arity := ExportMFA(h, t)
		return arity == n
	default:
		return false
	}
}
