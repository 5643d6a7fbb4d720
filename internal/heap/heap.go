// Package heap implements the per-process heap: a single contiguous word
// array with a data area growing up from the bottom and a stack area
// growing down from the top, plus the copying garbage collector that
// keeps the two from colliding.
package heap

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"beamrt/internal/term"
)

// Fill selects how newly allocated words are initialized.
type Fill int

const (
	FillNil Fill = iota
	FillUninitialized
)

// ErrHeapIsFull is returned by Alloc when the heap cannot satisfy a
// request even after the caller's Ensure/GC cycle; it should be treated
// as a fatal condition by the dispatcher (system_limit / panic).
type ErrHeapIsFull struct {
	Requested int
	Available int
}

func (e *ErrHeapIsFull) Error() string {
	return fmt.Sprintf("heap is full: requested %d words, %d available", e.Requested, e.Available)
}

// Root supplies the GC with the live set: X-registers up to the live
// count, the current exception term, and the binary-construction cursor
// target, in addition to the Y-cells already resident on the stack.
type Root struct {
	XRegisters []term.Term // only the first Live entries are scanned
	Live       int
	Extra      []*term.Term // addresses of other scalar roots (cp, exception, etc.)
}

// Heap is one process's (or the shared binary heap's) word array.
type Heap struct {
	words []term.Term
	htop  int // data area cursor, grows upward from 0
	stop  int // stack area cursor, grows downward from len(words)

	// growth policy
	minWords    int
	growthNum   int
	growthDenom int

	gcCount int
}

// New allocates a heap of the given word capacity.
func New(words int) *Heap {
	if words < 16 {
		words = 16
	}
	h := &Heap{
		words:       make([]term.Term, words),
		htop:        0,
		stop:        words,
		minWords:    words,
		growthNum:   3,
		growthDenom: 2,
	}
	return h
}

func (h *Heap) Len() int       { return len(h.words) }
func (h *Heap) HTop() int      { return h.htop }
func (h *Heap) STop() int      { return h.stop }
func (h *Heap) Free() int      { return h.stop - h.htop }
func (h *Heap) GCCount() int   { return h.gcCount }

// Word returns the raw word at index i (either a data-area or stack-area
// cell), used by the dispatcher to dereference boxed/cons pointers.
func (h *Heap) Word(i uint64) term.Term { return h.words[i] }

func (h *Heap) SetWord(i uint64, v term.Term) { h.words[i] = v }

// Words exposes the backing array for bulk copy operations (message
// passing, GC). Callers must not retain the slice across a GC.
func (h *Heap) Words() []term.Term { return h.words }

// BelongsToHeap reports whether idx currently falls within the live data
// area, used by the GC and by fatal-dump diagnostics to sanity check a
// pointer before dereferencing it.
func (h *Heap) BelongsToHeap(idx uint64) bool {
	return idx < uint64(h.htop)
}

// Ensure pre-flight-checks that n more words are available in the data
// area; if not, it triggers a copying GC rooted at root. It must be
// called before the first heap write of an opcode that may allocate.
func (h *Heap) Ensure(n int, root Root) error {
	if h.Free() >= n {
		return nil
	}
	h.collect(root)
	if h.Free() >= n {
		return nil
	}
	return &ErrHeapIsFull{Requested: n, Available: h.Free()}
}

// Alloc reserves n words in the data area, optionally filling them, and
// returns the index of the first word. Callers must have already called
// Ensure for at least n words; Alloc itself never triggers GC.
func (h *Heap) Alloc(n int, fill Fill) (uint64, error) {
	if h.Free() < n {
		return 0, &ErrHeapIsFull{Requested: n, Available: h.Free()}
	}
	base := h.htop
	h.htop += n
	if fill == FillNil {
		for i := base; i < h.htop; i++ {
			h.words[i] = term.Nil
		}
	}
	return uint64(base), nil
}

// --- stack ------------------------------------------------------------

// StackAlloc reserves n Y-register cells plus extra scratch words on the
// stack (growing down from stop), optionally filling the Y-cells.
func (h *Heap) StackAlloc(n, extra int, fill Fill) error {
	total := n + extra
	if h.Free() < total {
		return &ErrHeapIsFull{Requested: total, Available: h.Free()}
	}
	h.stop -= total
	if fill == FillNil {
		for i := h.stop; i < h.stop+n; i++ {
			h.words[i] = term.Nil
		}
	}
	return nil
}

// Push writes t onto the top of the stack area (used for CPs and catch
// frames), growing the stack area down by one word.
func (h *Heap) Push(t term.Term) error {
	if h.Free() < 1 {
		return &ErrHeapIsFull{Requested: 1, Available: h.Free()}
	}
	h.stop--
	h.words[h.stop] = t
	return nil
}

// Deallocate drops n Y-register cells plus the CP word above them,
// returning the CP that was stored at the stack top.
func (h *Heap) Deallocate(n int) term.Term {
	cp := h.words[h.stop]
	h.stop += n + 1
	return cp
}

// StackDepth returns the number of words currently in the stack area.
func (h *Heap) StackDepth() int { return len(h.words) - h.stop }

// yIndex converts a 0-based Y-register index into an absolute word
// index, skipping the reserved CP slot just above the Y-cells.
func (h *Heap) yIndex(i int) int { return h.stop + 1 + i }

func (h *Heap) SetY(i int, v term.Term) { h.words[h.yIndex(i)] = v }
func (h *Heap) GetY(i int) term.Term    { return h.words[h.yIndex(i)] }

// UnrollStackUntilCatch scans upward from the stack top dropping cells
// until it finds a catch-frame marker, returning its code target and the
// number of cells dropped, or ok=false if the stack is exhausted first.
func (h *Heap) UnrollStackUntilCatch() (target uint64, dropped int, ok bool) {
	i := h.stop
	n := 0
	for i < len(h.words) {
		w := h.words[i]
		if term.IsCatch(w) {
			h.stop = i + 1
			return term.AsCatchTarget(w), n, true
		}
		i++
		n++
	}
	h.stop = len(h.words)
	return 0, n, false
}

// --- iteration ----------------------------------------------------------

// HeapIter walks the data area calling fn with each object's starting
// index, stepping by a header's arity+1 at header words and by 1
// otherwise (conses and raw payload words of the preceding object).
func (h *Heap) HeapIter(fn func(idx uint64, w term.Term)) {
	i := 0
	for i < h.htop {
		w := h.words[i]
		fn(uint64(i), w)
		if term.IsHeader(w) {
			i += int(term.HeaderArity(w)) + 1
		} else {
			i++
		}
	}
}

// --- copying GC -----------------------------------------------------------

// forwardingMarker is a reserved tag that no term construction
// produces. collect does not write it: it forwards moved objects
// through a side map instead of through old-space words.
const forwardingMarker = term.Tag(0xff)

func (h *Heap) growthTarget(minWords int) int {
	target := len(h.words) * h.growthNum / h.growthDenom
	if target < minWords {
		target = minWords
	}
	if target < h.minWords {
		target = h.minWords
	}
	return target
}

// collect runs one half-space copying collection rooted at root. It
// follows boxed and cons pointers depth-first by recursion into a
// to-space of fixed size (growthTarget), records each moved object's
// new index in a side map rather than writing a forwarding word into
// the old slot, and finally swaps the spaces.
func (h *Heap) collect(root Root) {
	h.gcCount++
	target := h.growthTarget(len(h.words))
	to := make([]term.Term, target)
	toTop := 0
	forward := make(map[uint64]uint64)

	var copyTerm func(t term.Term) term.Term
	copyObject := func(srcIdx uint64) uint64 {
		if dst, ok := forward[srcIdx]; ok {
			return dst
		}
		hdr := h.words[srcIdx]
		var size int
		if term.IsHeader(hdr) {
			size = int(term.HeaderArity(hdr)) + 1
		} else {
			// cons cell: two raw words, no header
			size = 2
		}
		dst := uint64(toTop)
		for k := 0; k < size; k++ {
			to[toTop+k] = h.words[int(srcIdx)+k]
		}
		toTop += size
		forward[srcIdx] = dst
		// recursively rewrite the copied object's own pointer fields
		for k := 0; k < size; k++ {
			to[int(dst)+k] = copyTerm(to[int(dst)+k])
		}
		return dst
	}

	copyTerm = func(t term.Term) term.Term {
		switch t.PrimaryTag() {
		case term.TagBoxed:
			if term.IsCP(t) {
				return t // code pointers are not heap objects
			}
			src := term.AsBoxed(t)
			dst := copyObject(src)
			return term.FromBoxed(dst)
		case term.TagCons:
			src := term.AsCons(t)
			dst := copyObject(src)
			return term.FromCons(dst)
		default:
			return t
		}
	}

	for i := 0; i < root.Live && i < len(root.XRegisters); i++ {
		root.XRegisters[i] = copyTerm(root.XRegisters[i])
	}
	for i := h.stop; i < len(h.words); i++ {
		to2 := copyTerm(h.words[i])
		h.words[i] = to2
	}
	for _, p := range root.Extra {
		if p != nil {
			*p = copyTerm(*p)
		}
	}

	// relocate the stack area itself into the new space, preserving its
	// distance from the top
	stackLen := len(h.words) - h.stop
	newStop := len(to) - stackLen
	copy(to[newStop:], h.words[h.stop:])
	h.words = to
	h.htop = toTop
	h.stop = newStop
}

// DebugDump renders a forensic summary of the heap used when a fatal
// condition (heap corruption, header mismatch) is detected; sizes are
// humanized since these dumps are read by a person, not a machine.
func (h *Heap) DebugDump() string {
	wordSize := uint64(8)
	return fmt.Sprintf(
		"heap{words=%s htop=%d stop=%d free=%s gc_count=%d}",
		humanize.Bytes(uint64(len(h.words))*wordSize),
		h.htop, h.stop,
		humanize.Bytes(uint64(h.Free())*wordSize),
		h.gcCount,
	)
}
