package object

import (
	"beamrt/internal/heap"
	"beamrt/internal/term"
)

const jtCount = 1
const jtPairs0 = 2

// NewJumpTable allocates a dense (value, code-target) table, used by
// `select_val`-style multi-way branches compiled from case/switch
// expressions. pairs must already be sorted by value ascending
// (CmpTerms order) so lookups can binary-search.
func NewJumpTable(h *heap.Heap, values []term.Term, targets []uint64) (term.Term, error) {
	n := len(values)
	payload := 1 + 2*n
	ptr, err := h.Alloc(payload+1, heap.FillUninitialized)
	if err != nil {
		return 0, err
	}
	h.SetWord(ptr, term.MakeHeader(uint64(payload), term.SubtypeJumpTable))
	h.SetWord(ptr+jtCount, term.FromSmall(int64(n)))
	for i := 0; i < n; i++ {
		h.SetWord(ptr+jtPairs0+uint64(2*i), values[i])
		h.SetWord(ptr+jtPairs0+uint64(2*i)+1, term.FromSmall(int64(targets[i])))
	}
	return term.FromBoxed(ptr), nil
}

func IsJumpTable(h *heap.Heap, t term.Term) bool {
	return IsBoxedOfSubtype(h, t, term.SubtypeJumpTable)
}

func JumpTableCount(h *heap.Heap, t term.Term) int {
	return int(term.AsSmall(h.Word(term.AsBoxed(t) + jtCount)))
}

// JumpTableLookup binary-searches for value, returning its code target.
func JumpTableLookup(h *heap.Heap, t, value term.Term) (uint64, bool) {
	ptr := term.AsBoxed(t)
	n := JumpTableCount(h, t)
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		v := h.Word(ptr + jtPairs0 + uint64(2*mid))
		c := CmpTerms(h, value, v, true)
		switch {
		case c == 0:
			return uint64(term.AsSmall(h.Word(ptr + jtPairs0 + uint64(2*mid) + 1))), true
		case c < 0:
			hi = mid
		default:
			lo = mid + 1
		}
	}
	return 0, false
}
