package heap

import (
	"testing"

	"beamrt/internal/term"
)

func TestAllocFillNil(t *testing.T) {
	h := New(64)
	ptr, err := h.Alloc(4, FillNil)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	for i := uint64(0); i < 4; i++ {
		if h.Word(ptr+i) != term.Nil {
			t.Fatalf("word %d not NIL-filled", i)
		}
	}
	if h.HTop() != 4 {
		t.Fatalf("HTop = %d, want 4", h.HTop())
	}
}

func TestStackAndDeallocate(t *testing.T) {
	h := New(64)
	if err := h.StackAlloc(3, 0, FillNil); err != nil {
		t.Fatalf("StackAlloc: %v", err)
	}
	cp := term.FromCP(77)
	if err := h.Push(cp); err != nil {
		t.Fatalf("Push: %v", err)
	}
	h.SetY(0, term.FromSmall(1))
	h.SetY(1, term.FromSmall(2))
	h.SetY(2, term.FromSmall(3))
	if h.GetY(0) != term.FromSmall(1) || h.GetY(2) != term.FromSmall(3) {
		t.Fatalf("Y registers did not round-trip")
	}
	gotCP := h.Deallocate(3)
	if gotCP != cp {
		t.Fatalf("Deallocate returned %v, want %v", gotCP, cp)
	}
	if h.StackDepth() != 0 {
		t.Fatalf("StackDepth = %d after full deallocate, want 0", h.StackDepth())
	}
}

func TestHeapIsFull(t *testing.T) {
	h := New(16)
	_, err := h.Alloc(1000, FillUninitialized)
	if err == nil {
		t.Fatalf("expected ErrHeapIsFull for an over-large request")
	}
	if _, ok := err.(*ErrHeapIsFull); !ok {
		t.Fatalf("expected *ErrHeapIsFull, got %T", err)
	}
}

func TestHTopLessThanSTop(t *testing.T) {
	h := New(32)
	if _, err := h.Alloc(2, FillNil); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := h.StackAlloc(2, 0, FillNil); err != nil {
		t.Fatalf("StackAlloc: %v", err)
	}
	if h.HTop() >= h.STop() {
		t.Fatalf("invariant violated: htop=%d stop=%d", h.HTop(), h.STop())
	}
}

func TestUnrollStackUntilCatch(t *testing.T) {
	h := New(32)
	h.Push(term.FromSmall(1))
	h.Push(term.FromSmall(2))
	h.Push(term.FromCatch(55))
	h.Push(term.FromSmall(3))

	target, dropped, ok := h.UnrollStackUntilCatch()
	if !ok {
		t.Fatalf("expected to find a catch frame")
	}
	if target != 55 {
		t.Fatalf("target = %d, want 55", target)
	}
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1 (the single cell above the catch)", dropped)
	}
}

func TestUnrollStackNoCatch(t *testing.T) {
	h := New(32)
	h.Push(term.FromSmall(1))
	h.Push(term.FromSmall(2))
	_, dropped, ok := h.UnrollStackUntilCatch()
	if ok {
		t.Fatalf("expected no catch frame to be found")
	}
	if dropped != 2 {
		t.Fatalf("dropped = %d, want 2", dropped)
	}
}

func TestHeapIterStepsByHeaderArity(t *testing.T) {
	h := New(32)
	// tuple of arity 2
	tupPtr, _ := h.Alloc(3, FillUninitialized)
	h.SetWord(tupPtr, term.MakeHeader(2, term.SubtypeTuple))
	h.SetWord(tupPtr+1, term.FromSmall(10))
	h.SetWord(tupPtr+2, term.FromSmall(20))
	// cons cell (no header)
	consPtr, _ := h.Alloc(2, FillUninitialized)
	h.SetWord(consPtr, term.FromSmall(30))
	h.SetWord(consPtr+1, term.Nil)

	var starts []uint64
	h.HeapIter(func(idx uint64, w term.Term) {
		starts = append(starts, idx)
	})
	// Expect to visit the tuple header at 0 (stepped over by arity+1),
	// then the cons words 3 and 4 one at a time, without walking past
	// htop.
	if len(starts) == 0 {
		t.Fatalf("HeapIter visited nothing")
	}
	if starts[0] != 0 {
		t.Fatalf("first visited index = %d, want 0", starts[0])
	}
	last := starts[len(starts)-1]
	if last >= uint64(h.HTop()) {
		t.Fatalf("HeapIter visited index %d >= htop %d", last, h.HTop())
	}
	if len(starts) != 3 || starts[1] != 3 || starts[2] != 4 {
		t.Fatalf("HeapIter visited %v, want [0 3 4]", starts)
	}
}

func TestCopyingGCPreservesRootValue(t *testing.T) {
	h := New(32)
	ptr, _ := h.Alloc(3, FillUninitialized)
	h.SetWord(ptr, term.MakeHeader(2, term.SubtypeTuple))
	h.SetWord(ptr+1, term.FromSmall(111))
	h.SetWord(ptr+2, term.FromSmall(222))
	tup := term.FromBoxed(ptr)

	xregs := []term.Term{tup}
	root := Root{XRegisters: xregs, Live: 1}

	// Force a GC by asking for more than is free.
	if err := h.Ensure(h.Free()+1, root); err != nil {
		t.Fatalf("Ensure triggered GC but still failed: %v", err)
	}
	moved := xregs[0]
	if !term.IsBoxed(moved) {
		t.Fatalf("root no longer boxed after GC")
	}
	newPtr := term.AsBoxed(moved)
	if term.HeaderSubtype(h.Word(newPtr)) != term.SubtypeTuple {
		t.Fatalf("copied object lost its header/subtype")
	}
	if h.Word(newPtr+1) != term.FromSmall(111) || h.Word(newPtr+2) != term.FromSmall(222) {
		t.Fatalf("copied object's fields changed value across GC")
	}
	if h.GCCount() == 0 {
		t.Fatalf("expected GCCount to have incremented")
	}
}

func TestCopyingGCImmediatesUnaffected(t *testing.T) {
	h := New(32)
	xregs := []term.Term{term.FromSmall(42), term.FromAtomIndex(1)}
	root := Root{XRegisters: xregs, Live: 2}
	h.collect(root)
	if xregs[0] != term.FromSmall(42) || xregs[1] != term.FromAtomIndex(1) {
		t.Fatalf("GC mutated immediate root values: %v", xregs)
	}
}

func TestBelongsToHeap(t *testing.T) {
	h := New(32)
	ptr, _ := h.Alloc(2, FillNil)
	if !h.BelongsToHeap(ptr) {
		t.Fatalf("expected allocated index to belong to heap")
	}
	if h.BelongsToHeap(uint64(h.Len() + 5)) {
		t.Fatalf("expected out-of-range index to not belong to heap")
	}
}
