package object

import (
	"math/big"

	"beamrt/internal/heap"
	"beamrt/internal/term"
)

// class implements the total order's class precedence:
// number < atom < reference < fun < port < pid < tuple < map < nil < cons < binary.
type class int

const (
	classNumber class = iota
	classAtom
	classReference
	classFun
	classPort
	classPid
	classTuple
	classMap
	classNil
	classCons
	classBinary
)

func classOf(h *heap.Heap, t term.Term) class {
	switch t.PrimaryTag() {
	case term.TagSmallInt:
		return classNumber
	case term.TagAtom:
		return classAtom
	case term.TagLocalPid:
		return classPid
	case term.TagLocalPort:
		return classPort
	case term.TagCons:
		return classCons
	case term.TagSpecial:
		switch {
		case term.IsNil(t):
			return classNil
		case term.IsEmptyTuple(t):
			return classTuple
		case term.IsEmptyBinary(t):
			return classBinary
		}
	case term.TagBoxed:
		sub, ok := SubtypeOf(h, t)
		if !ok {
			break
		}
		switch sub {
		case term.SubtypeBignum, term.SubtypeFloat:
			return classNumber
		case term.SubtypeExternalRef:
			return classReference
		case term.SubtypeClosure, term.SubtypeExport, term.SubtypeImport:
			return classFun
		case term.SubtypeExternalPort:
			return classPort
		case term.SubtypeExternalPid:
			return classPid
		case term.SubtypeTuple:
			return classTuple
		case term.SubtypeMap:
			return classMap
		case term.SubtypeBinary, term.SubtypeBinaryMatchState:
			return classBinary
		}
	}
	panic("object: classOf: term has no defined comparison class")
}

// CmpTerms implements cmp_terms(a, b, exact): a total order over all
// term classes. exact=true disallows cross-class numeric equality (a
// float never compares equal to an integer of the same value); with
// exact=false, 1 == 1.0.
func CmpTerms(h *heap.Heap, a, b term.Term, exact bool) int {
	ca, cb := classOf(h, a), classOf(h, b)
	if ca != cb {
		if ca < cb {
			return -1
		}
		return 1
	}
	switch ca {
	case classNumber:
		return cmpNumbers(h, a, b, exact)
	case classAtom:
		return cmpUint(uint64(term.AsAtomIndex(a)), uint64(term.AsAtomIndex(b)))
	case classReference:
		return cmpExternal(h, a, b)
	case classFun:
		return cmpFun(h, a, b)
	case classPort:
		return cmpPort(h, a, b)
	case classPid:
		return cmpPid(h, a, b)
	case classTuple:
		return cmpTuple(h, a, b)
	case classMap:
		return cmpMap(h, a, b)
	case classNil:
		return 0
	case classCons:
		return cmpCons(h, a, b)
	case classBinary:
		return cmpBinary(h, a, b)
	default:
		return 0
	}
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpNumbers(h *heap.Heap, a, b term.Term, exact bool) int {
	aFloat, bFloat := IsFloat(h, a), IsFloat(h, b)
	if exact && aFloat != bFloat {
		if aFloat {
			return 1
		}
		return -1
	}
	if !aFloat && !bFloat {
		return BigValue(h, a).Cmp(BigValue(h, b))
	}
	af := numAsFloat(h, a)
	bf := numAsFloat(h, b)
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	default:
		return 0
	}
}

func numAsFloat(h *heap.Heap, t term.Term) float64 {
	if IsFloat(h, t) {
		return FloatValue(h, t)
	}
	f := new(big.Float).SetInt(BigValue(h, t))
	v, _ := f.Float64()
	return v
}

func cmpExternal(h *heap.Heap, a, b term.Term) int {
	if c := CmpTerms(h, ExternalNode(h, a), ExternalNode(h, b), true); c != 0 {
		return c
	}
	return cmpUint(ExternalID(h, a), ExternalID(h, b))
}

func cmpPort(h *heap.Heap, a, b term.Term) int {
	if term.IsLocalPort(a) && term.IsLocalPort(b) {
		return cmpUint(term.AsPortCounter(a), term.AsPortCounter(b))
	}
	if term.IsLocalPort(a) != term.IsLocalPort(b) {
		if term.IsLocalPort(a) {
			return -1
		}
		return 1
	}
	return cmpExternal(h, a, b)
}

func cmpPid(h *heap.Heap, a, b term.Term) int {
	if term.IsLocalPid(a) && term.IsLocalPid(b) {
		return cmpUint(term.AsPidCounter(a), term.AsPidCounter(b))
	}
	if term.IsLocalPid(a) != term.IsLocalPid(b) {
		if term.IsLocalPid(a) {
			return -1
		}
		return 1
	}
	return cmpExternal(h, a, b)
}

func cmpFun(h *heap.Heap, a, b term.Term) int {
	moda, funa, aritya := funMFA(h, a)
	modb, funb, arityb := funMFA(h, b)
	if c := CmpTerms(h, moda, modb, true); c != 0 {
		return c
	}
	if c := CmpTerms(h, funa, funb, true); c != 0 {
		return c
	}
	return cmpUint(uint64(aritya), uint64(arityb))
}

func funMFA(h *heap.Heap, t term.Term) (module, function term.Term, arity int) {
	switch {
	case IsClosure(h, t):
		return ClosureModule(h, t), ClosureFunction(h, t), ClosureArity(h, t)
	case IsExport(h, t):
		return ExportMFA(h, t)
	default:
		m, f, a, _ := ImportMFA(h, t)
		return m, f, a
	}
}

func cmpTuple(h *heap.Heap, a, b term.Term) int {
	na, nb := TupleArity(h, a), TupleArity(h, b)
	if na != nb {
		return cmpUint(uint64(na), uint64(nb))
	}
	for i := 0; i < na; i++ {
		if c := CmpTerms(h, GetTupleElement(h, a, i), GetTupleElement(h, b, i), true); c != 0 {
			return c
		}
	}
	return 0
}

func cmpMap(h *heap.Heap, a, b term.Term) int {
	na, nb := MapSize(h, a), MapSize(h, b)
	if na != nb {
		return cmpUint(uint64(na), uint64(nb))
	}
	ka, va := MapPairs(h, a)
	kb, vb := MapPairs(h, b)
	for i := range ka {
		if c := CmpTerms(h, ka[i], kb[i], true); c != 0 {
			return c
		}
	}
	for i := range va {
		if c := CmpTerms(h, va[i], vb[i], true); c != 0 {
			return c
		}
	}
	return 0
}

func cmpCons(h *heap.Heap, a, b term.Term) int {
	for {
		ha, ta := GetList(h, a)
		hb, tb := GetList(h, b)
		if c := CmpTerms(h, ha, hb, true); c != 0 {
			return c
		}
		aIsCons, bIsCons := term.IsCons(ta), term.IsCons(tb)
		switch {
		case aIsCons && bIsCons:
			a, b = ta, tb
			continue
		case !aIsCons && !bIsCons:
			return CmpTerms(h, ta, tb, true)
		case aIsCons:
			return 1
		default:
			return -1
		}
	}
}

func cmpBinary(h *heap.Heap, a, b term.Term) int {
	// binaries compare as bit-strings using byte-level comparison of
	// their byte_size, falling back to a full byte compare; exact
	// bit-level tail comparison only matters when byte_size is equal
	// and the trailing partial byte differs, which a direct byte
	// compare already captures since padding bits are always zero.
	ba, bb := binaryBytesForCompare(h, a), binaryBytesForCompare(h, b)
	n := len(ba)
	if len(bb) < n {
		n = len(bb)
	}
	for i := 0; i < n; i++ {
		if ba[i] != bb[i] {
			return cmpUint(uint64(ba[i]), uint64(bb[i]))
		}
	}
	return cmpUint(uint64(len(ba)), uint64(len(bb)))
}

// binaryBytesForCompare has no BinHeap: it returns a heap-bin's own
// bytes, and turns a ref-bin or slice into zero bytes of its byte size,
// so those compare by length only.
func binaryBytesForCompare(h *heap.Heap, t term.Term) []byte {
	if term.IsEmptyBinary(t) {
		return nil
	}
	if BinKindOf(h, t) == BinKindHeap {
		return Bytes(h, nil, t)
	}
	// ref-bin/slice: fall back to length-only ordering when no BinHeap
	// is available; callers needing exact bit comparison across ref
	// binaries should use CmpTermsWithBinHeap instead.
	n := ByteSize(h, t)
	return make([]byte, n)
}

// CmpTermsWithBinHeap is CmpTerms with full binary-content comparison
// for ref-bin and slice values, which need the shared binary heap to
// read their bytes. This applies only when a and b are both binaries at
// top level; binaries nested in tuples, lists or maps go through CmpTerms.
func CmpTermsWithBinHeap(h *heap.Heap, bh *BinHeap, a, b term.Term, exact bool) int {
	if classOf(h, a) == classBinary && classOf(h, b) == classBinary {
		ba, bb := Bytes(h, bh, a), Bytes(h, bh, b)
		n := len(ba)
		if len(bb) < n {
			n = len(bb)
		}
		for i := 0; i < n; i++ {
			if ba[i] != bb[i] {
				return cmpUint(uint64(ba[i]), uint64(bb[i]))
			}
		}
		return cmpUint(uint64(len(ba)), uint64(len(bb)))
	}
	return CmpTerms(h, a, b, exact)
}
