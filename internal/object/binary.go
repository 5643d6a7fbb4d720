package object

import (
	"fmt"

	"modernc.org/memory"

	"beamrt/internal/heap"
	"beamrt/internal/term"
)

// HeapBinThreshold is the byte size at or below which a binary is
// stored inline after its header (heap-bin); larger binaries go through
// the shared, refcounted binary heap (ref-bin) instead.
const HeapBinThreshold = 64

// BinKind distinguishes the three storage strategies sharing the
// BINARY subtype.
type BinKind int

const (
	BinKindHeap BinKind = iota
	BinKindRef
	BinKindSlice
)

const (
	binKind    = 1
	binBitSize = 2
	binHeapBytes0 = 3 // heap-bin: raw bytes start here
	binRefHandle  = 3 // ref-bin: handle into the shared BinHeap
	binSliceOrigin = 3 // slice: origin term
	binSliceOffset = 4 // slice: bit offset into origin
)

// BinHeap is the shared, refcounted store for ref-bin payloads, backed
// by an arena allocator rather than the tagged-word heap: binary bytes
// are not terms and don't belong in a []term.Term array.
type BinHeap struct {
	alloc  memory.Allocator
	blocks map[uint64]*binBlock
	nextID uint64
}

type binBlock struct {
	data     []byte
	refcount int
}

func NewBinHeap() *BinHeap {
	return &BinHeap{blocks: make(map[uint64]*binBlock)}
}

// intern copies data into the arena and returns a fresh handle with
// refcount 1.
func (bh *BinHeap) intern(data []byte) (uint64, error) {
	buf, err := bh.alloc.Malloc(len(data))
	if err != nil {
		return 0, err
	}
	copy(buf, data)
	id := bh.nextID
	bh.nextID++
	bh.blocks[id] = &binBlock{data: buf, refcount: 1}
	return id, nil
}

func (bh *BinHeap) IncRef(handle uint64) {
	if b, ok := bh.blocks[handle]; ok {
		b.refcount++
	}
}

// DecRef drops a reference, freeing the underlying arena block once
// the count reaches zero. Safe without locking: the scheduler is
// single-threaded, so no two processes ever touch the binary heap
// concurrently.
func (bh *BinHeap) DecRef(handle uint64) {
	b, ok := bh.blocks[handle]
	if !ok {
		return
	}
	b.refcount--
	if b.refcount <= 0 {
		bh.alloc.Free(b.data)
		delete(bh.blocks, handle)
	}
}

func (bh *BinHeap) Bytes(handle uint64) []byte {
	b, ok := bh.blocks[handle]
	if !ok {
		return nil
	}
	return b.data
}

// NewBinaryFromBytes builds a binary term holding data, choosing
// heap-bin or ref-bin storage by HeapBinThreshold.
func NewBinaryFromBytes(h *heap.Heap, bh *BinHeap, data []byte, bitSize int) (term.Term, error) {
	if bitSize == 0 {
		return term.EmptyBinary, nil
	}
	if len(data) <= HeapBinThreshold {
		return newHeapBin(h, data, bitSize)
	}
	return newRefBin(h, bh, data, bitSize)
}

func newHeapBin(h *heap.Heap, data []byte, bitSize int) (term.Term, error) {
	nWords := (len(data) + 7) / 8
	payload := 2 + nWords
	ptr, err := h.Alloc(payload+1, heap.FillUninitialized)
	if err != nil {
		return 0, err
	}
	h.SetWord(ptr, term.MakeHeader(uint64(payload), term.SubtypeBinary))
	h.SetWord(ptr+binKind, term.FromSmall(int64(BinKindHeap)))
	h.SetWord(ptr+binBitSize, term.FromSmall(int64(bitSize)))
	for i := 0; i < nWords; i++ {
		var w uint64
		for k := 0; k < 8; k++ {
			bi := i*8 + k
			if bi < len(data) {
				w |= uint64(data[bi]) << (8 * k)
			}
		}
		h.SetWord(ptr+binHeapBytes0+uint64(i), term.Term(w))
	}
	return term.FromBoxed(ptr), nil
}

func newRefBin(h *heap.Heap, bh *BinHeap, data []byte, bitSize int) (term.Term, error) {
	handle, err := bh.intern(data)
	if err != nil {
		return 0, err
	}
	ptr, err := h.Alloc(4, heap.FillUninitialized)
	if err != nil {
		return 0, err
	}
	h.SetWord(ptr, term.MakeHeader(3, term.SubtypeBinary))
	h.SetWord(ptr+binKind, term.FromSmall(int64(BinKindRef)))
	h.SetWord(ptr+binBitSize, term.FromSmall(int64(bitSize)))
	h.SetWord(ptr+binRefHandle, term.Term(handle))
	return term.FromBoxed(ptr), nil
}

// NewBinarySlice builds a slice view: offsetBits into origin, bitSize
// long, sharing origin's storage rather than copying.
func NewBinarySlice(h *heap.Heap, origin term.Term, offsetBits, bitSize int) (term.Term, error) {
	ptr, err := h.Alloc(5, heap.FillUninitialized)
	if err != nil {
		return 0, err
	}
	h.SetWord(ptr, term.MakeHeader(4, term.SubtypeBinary))
	h.SetWord(ptr+binKind, term.FromSmall(int64(BinKindSlice)))
	h.SetWord(ptr+binBitSize, term.FromSmall(int64(bitSize)))
	h.SetWord(ptr+binSliceOrigin, origin)
	h.SetWord(ptr+binSliceOffset, term.FromSmall(int64(offsetBits)))
	return term.FromBoxed(ptr), nil
}

func IsBinary(t term.Term) bool { return term.IsEmptyBinary(t) }

func IsBinaryBoxed(h *heap.Heap, t term.Term) bool {
	return term.IsEmptyBinary(t) || IsBoxedOfSubtype(h, t, term.SubtypeBinary)
}

func BinKindOf(h *heap.Heap, t term.Term) BinKind {
	return BinKind(term.AsSmall(h.Word(term.AsBoxed(t) + binKind)))
}

func BitSize(h *heap.Heap, t term.Term) int {
	if term.IsEmptyBinary(t) {
		return 0
	}
	return int(term.AsSmall(h.Word(term.AsBoxed(t) + binBitSize)))
}

// ByteSize rounds BitSize up to whole bytes, per the bit_size/byte_size
// bookkeeping invariant: byte_size*8 - bit_size is the padding, in
// [0,8).
func ByteSize(h *heap.Heap, t term.Term) int {
	bits := BitSize(h, t)
	return (bits + 7) / 8
}

// Padding returns the number of padding bits in the binary's last byte.
func Padding(h *heap.Heap, t term.Term) int {
	bits := BitSize(h, t)
	return ByteSize(h, t)*8 - bits
}

// Bytes materializes a binary's contents as a Go byte slice, following
// slices back to their origin as needed.
func Bytes(h *heap.Heap, bh *BinHeap, t term.Term) []byte {
	if term.IsEmptyBinary(t) {
		return nil
	}
	bitSize := BitSize(h, t)
	byteSize := (bitSize + 7) / 8
	switch BinKindOf(h, t) {
	case BinKindHeap:
		ptr := term.AsBoxed(t)
		out := make([]byte, byteSize)
		for i := 0; i < byteSize; i++ {
			w := uint64(h.Word(ptr + binHeapBytes0 + uint64(i/8)))
			out[i] = byte(w >> (8 * (i % 8)))
		}
		return out
	case BinKindRef:
		handle := uint64(h.Word(term.AsBoxed(t) + binRefHandle))
		return bh.Bytes(handle)[:byteSize]
	case BinKindSlice:
		ptr := term.AsBoxed(t)
		origin := h.Word(ptr + binSliceOrigin)
		offset := int(term.AsSmall(h.Word(ptr + binSliceOffset)))
		full := Bytes(h, bh, origin)
		return sliceBits(full, offset, bitSize)
	default:
		panic(fmt.Sprintf("object: unknown binary kind in term %v", t))
	}
}

// sliceBits extracts bitSize bits starting at bit offset off from src,
// byte-aligning the result (fractional trailing bits are zero-padded,
// matching a fresh binary's own padding convention).
func sliceBits(src []byte, off, bitSize int) []byte {
	byteOff := off / 8
	bitShift := off % 8
	outLen := (bitSize + 7) / 8
	out := make([]byte, outLen)
	if bitShift == 0 {
		copy(out, src[byteOff:byteOff+outLen])
	} else {
		for i := 0; i < outLen; i++ {
			lo := src[byteOff+i] << bitShift
			var hi byte
			if byteOff+i+1 < len(src) {
				hi = src[byteOff+i+1] >> (8 - bitShift)
			}
			out[i] = lo | hi
		}
	}
	if r := bitSize % 8; r != 0 {
		out[outLen-1] &= 0xff << uint(8-r)
	}
	return out
}

// --- BinaryMatchState ----------------------------------------------------

const (
	bmsOrigin    = 1
	bmsByteBase  = 2
	bmsBitOffset = 3
	bmsRemaining = 4
)

// NewMatchState implements bs_start_match2: wraps a binary in a cursor
// used by the bs_get_* family to slice it incrementally.
func NewMatchState(h *heap.Heap, bin term.Term) (term.Term, error) {
	ptr, err := h.Alloc(5, heap.FillUninitialized)
	if err != nil {
		return 0, err
	}
	bitSize := BitSize(h, bin)
	h.SetWord(ptr, term.MakeHeader(4, term.SubtypeBinaryMatchState))
	h.SetWord(ptr+bmsOrigin, bin)
	h.SetWord(ptr+bmsByteBase, term.FromSmall(0))
	h.SetWord(ptr+bmsBitOffset, term.FromSmall(0))
	h.SetWord(ptr+bmsRemaining, term.FromSmall(int64(bitSize)))
	return term.FromBoxed(ptr), nil
}

func IsMatchState(h *heap.Heap, t term.Term) bool {
	return IsBoxedOfSubtype(h, t, term.SubtypeBinaryMatchState)
}

func MatchStateOrigin(h *heap.Heap, t term.Term) term.Term {
	return h.Word(term.AsBoxed(t) + bmsOrigin)
}

func MatchStateOffset(h *heap.Heap, t term.Term) int {
	return int(term.AsSmall(h.Word(term.AsBoxed(t) + bmsBitOffset)))
}

func MatchStateRemaining(h *heap.Heap, t term.Term) int {
	return int(term.AsSmall(h.Word(term.AsBoxed(t) + bmsRemaining)))
}

// Advance moves the cursor forward by n bits after a successful
// bs_get_*, shrinking the remaining count.
func Advance(h *heap.Heap, t term.Term, n int) {
	ptr := term.AsBoxed(t)
	off := int(term.AsSmall(h.Word(ptr + bmsBitOffset)))
	rem := int(term.AsSmall(h.Word(ptr + bmsRemaining)))
	h.SetWord(ptr+bmsBitOffset, term.FromSmall(int64(off+n)))
	h.SetWord(ptr+bmsRemaining, term.FromSmall(int64(rem-n)))
}

// GetBinary implements bs_get_binary2: slices sizeBits starting at the
// cursor out of the match state's origin binary, advancing the cursor.
func GetBinary(h *heap.Heap, bh *BinHeap, ms term.Term, sizeBits int) (term.Term, bool) {
	if MatchStateRemaining(h, ms) < sizeBits {
		return 0, false
	}
	origin := MatchStateOrigin(h, ms)
	off := MatchStateOffset(h, ms)
	full := Bytes(h, bh, origin)
	out := sliceBits(full, off, sizeBits)
	bin, err := NewBinaryFromBytes(h, bh, out, sizeBits)
	if err != nil {
		return 0, false
	}
	Advance(h, ms, sizeBits)
	return bin, true
}

// TestTail reports whether exactly n bits remain unconsumed (bs_test_tail2).
func TestTail(h *heap.Heap, ms term.Term, n int) bool {
	return MatchStateRemaining(h, ms) == n
}

// CurrentBin is the binary-construction cursor referenced by the
// runtime context: the destination binary under construction (grown
// lazily as a plain Go byte buffer, boxed into a real Binary only once
// construction finishes) plus the current bit offset.
type CurrentBin struct {
	Buf    []byte
	Bits   int
}

// PutInteger appends size*unit bits of v to cb, big-endian unless
// little is set, two's-complement when signed is set. Exceeding
// MaxBinaryBits is the system_limit boundary.
func (cb *CurrentBin) PutInteger(v int64, sizeBits int, little, signed bool) error {
	if cb.Bits+sizeBits > MaxBinaryBits {
		return errSystemLimit
	}
	raw := make([]byte, (sizeBits+7)/8)
	uv := uint64(v)
	if !signed && v < 0 {
		return fmt.Errorf("object: negative value in unsigned bs_put_integer")
	}
	if !little {
		uv <<= uint(len(raw)*8 - sizeBits)
	}
	for i := range raw {
		shift := uint(i * 8)
		if !little {
			shift = uint((len(raw) - 1 - i) * 8)
		}
		raw[i] = byte(uv >> shift)
	}
	cb.appendBits(raw, sizeBits)
	return nil
}

// PutBinary appends the bits of src to cb (bs_put_binary).
func (cb *CurrentBin) PutBinary(src []byte, sizeBits int) error {
	if cb.Bits+sizeBits > MaxBinaryBits {
		return errSystemLimit
	}
	cb.appendBits(src, sizeBits)
	return nil
}

func (cb *CurrentBin) appendBits(src []byte, sizeBits int) {
	if cb.Bits%8 == 0 {
		need := (sizeBits + 7) / 8
		cb.Buf = append(cb.Buf, src[:need]...)
		cb.Bits += sizeBits
		return
	}
	// unaligned append: shift src into place bit by bit.
	for i := 0; i < sizeBits; i++ {
		byteIdx := i / 8
		bit := (src[byteIdx] >> (7 - uint(i%8))) & 1
		cb.appendBit(bit)
	}
}

func (cb *CurrentBin) appendBit(bit byte) {
	if cb.Bits%8 == 0 {
		cb.Buf = append(cb.Buf, 0)
	}
	idx := cb.Bits / 8
	cb.Buf[idx] |= bit << (7 - uint(cb.Bits%8))
	cb.Bits++
}

// MaxBinaryBits bounds a single binary-construction operation, the
// system_limit boundary named in the opcode group for binary writes.
const MaxBinaryBits = 1 << 34

var errSystemLimit = fmt.Errorf("object: system_limit")

// ErrSystemLimit exposes the sentinel for callers that branch on it.
func ErrSystemLimit() error { return errSystemLimit }
