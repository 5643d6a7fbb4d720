package object

import (
	"beamrt/internal/heap"
	"beamrt/internal/term"
)

// CopyTerm deep-copies t from src into dst, allocating fresh boxed
// objects and cons cells on dst. Immediates are returned unchanged.
// This is the mechanism behind message passing and spawn's initial
// argument copy: per-process heaps are exclusively owned, so handing a
// term to another process always copies it rather than sharing
// structure.
func CopyTerm(dst, src *heap.Heap, t term.Term) (term.Term, error) {
	switch t.PrimaryTag() {
	case term.TagCons:
		head, tail := GetList(src, t)
		newHead, err := CopyTerm(dst, src, head)
		if err != nil {
			return 0, err
		}
		newTail, err := CopyTerm(dst, src, tail)
		if err != nil {
			return 0, err
		}
		return NewCons(dst, newHead, newTail)
	case term.TagBoxed:
		if term.IsCP(t) {
			return t, nil // code pointers never cross a process boundary
		}
		return copyBoxed(dst, src, t)
	default:
		return t, nil
	}
}

func copyBoxed(dst, src *heap.Heap, t term.Term) (term.Term, error) {
	sub, ok := SubtypeOf(src, t)
	if !ok {
		return 0, &ErrHeaderMismatch{Ptr: term.AsBoxed(t)}
	}
	switch sub {
	case term.SubtypeTuple:
		elems := TupleElements(src, t)
		out := make([]term.Term, len(elems))
		for i, e := range elems {
			v, err := CopyTerm(dst, src, e)
			if err != nil {
				return 0, err
			}
			out[i] = v
		}
		return NewTupleFrom(dst, out)
	case term.SubtypeBignum:
		return NewBignum(dst, BignumValue(src, t))
	case term.SubtypeFloat:
		return NewFloat(dst, FloatValue(src, t))
	case term.SubtypeClosure:
		n := ClosureNFrozen(src, t)
		frozen := make([]term.Term, n)
		for i := 0; i < n; i++ {
			v, err := CopyTerm(dst, src, ClosureFrozen(src, t, i))
			if err != nil {
				return 0, err
			}
			frozen[i] = v
		}
		nc, err := NewClosure(dst, ClosureModule(src, t), ClosureFunction(src, t), ClosureArity(src, t), frozen)
		if err != nil {
			return 0, err
		}
		if idx, resolved := ClosureCodePtr(src, t); resolved {
			SetClosureCodePtr(dst, nc, idx)
		}
		return nc, nil
	case term.SubtypeExport:
		module, function, arity := ExportMFA(src, t)
		ne, err := NewExport(dst, module, function, arity)
		if err != nil {
			return 0, err
		}
		if idx, resolved := ExportCodePtr(src, t); resolved {
			SetExportCodePtr(dst, ne, idx)
		}
		return ne, nil
	case term.SubtypeImport:
		module, function, arity, isNative := ImportMFA(src, t)
		return NewImport(dst, module, function, arity, isNative)
	case term.SubtypeMap:
		keys, values := MapPairs(src, t)
		newKeys := make([]term.Term, len(keys))
		newValues := make([]term.Term, len(values))
		for i := range keys {
			k, err := CopyTerm(dst, src, keys[i])
			if err != nil {
				return 0, err
			}
			v, err := CopyTerm(dst, src, values[i])
			if err != nil {
				return 0, err
			}
			newKeys[i], newValues[i] = k, v
		}
		return NewMap(dst, newKeys, newValues)
	case term.SubtypeExternalPid:
		return newExternal(dst, term.SubtypeExternalPid, ExternalNode(src, t), ExternalID(src, t))
	case term.SubtypeExternalRef:
		return newExternal(dst, term.SubtypeExternalRef, ExternalNode(src, t), ExternalID(src, t))
	case term.SubtypeExternalPort:
		return newExternal(dst, term.SubtypeExternalPort, ExternalNode(src, t), ExternalID(src, t))
	case term.SubtypeBinary:
		// Heap-bins are copied by value; ref-bins are copied by
		// reference-count bump by the caller (the shared binary heap
		// is process-independent), so the boxed shell here is rebuilt
		// pointing at the same handle.
		return copyBinaryShell(dst, src, t)
	default:
		return 0, &ErrHeaderMismatch{Ptr: term.AsBoxed(t), Expected: sub}
	}
}

func copyBinaryShell(dst, src *heap.Heap, t term.Term) (term.Term, error) {
	bitSize := BitSize(src, t)
	switch BinKindOf(src, t) {
	case BinKindHeap:
		ptr := term.AsBoxed(t)
		nWords := (bitSize + 63) / 64
		payload := 2 + nWords
		newPtr, err := dst.Alloc(payload+1, heap.FillUninitialized)
		if err != nil {
			return 0, err
		}
		dst.SetWord(newPtr, term.MakeHeader(uint64(payload), term.SubtypeBinary))
		dst.SetWord(newPtr+binKind, term.FromSmall(int64(BinKindHeap)))
		dst.SetWord(newPtr+binBitSize, term.FromSmall(int64(bitSize)))
		for i := 0; i < nWords; i++ {
			dst.SetWord(newPtr+binHeapBytes0+uint64(i), src.Word(ptr+binHeapBytes0+uint64(i)))
		}
		return term.FromBoxed(newPtr), nil
	case BinKindRef:
		ptr := term.AsBoxed(t)
		handle := src.Word(ptr + binRefHandle)
		newPtr, err := dst.Alloc(4, heap.FillUninitialized)
		if err != nil {
			return 0, err
		}
		dst.SetWord(newPtr, term.MakeHeader(3, term.SubtypeBinary))
		dst.SetWord(newPtr+binKind, term.FromSmall(int64(BinKindRef)))
		dst.SetWord(newPtr+binBitSize, term.FromSmall(int64(bitSize)))
		dst.SetWord(newPtr+binRefHandle, handle)
		return term.FromBoxed(newPtr), nil
	default: // slice
		ptr := term.AsBoxed(t)
		origin := src.Word(ptr + binSliceOrigin)
		newOrigin, err := CopyTerm(dst, src, origin)
		if err != nil {
			return 0, err
		}
		return NewBinarySlice(dst, newOrigin, MatchStateOffsetRaw(src, t), bitSize)
	}
}

// MatchStateOffsetRaw reads a slice's bit offset; named distinctly from
// MatchStateOffset since it operates on a Binary shell, not a
// BinaryMatchState, even though both store an offset in the same slot
// layout.
func MatchStateOffsetRaw(h *heap.Heap, t term.Term) int {
	return int(term.AsSmall(h.Word(term.AsBoxed(t) + binSliceOffset)))
}
