// External pid/ref/port: a remote identity this node can hold and
// compare but never dial, since distribution/networking is out of
// scope. The node's "creation" stamp comes from google/uuid, standing
// in for the real distribution layer's node-restart disambiguation.
package object

import (
	"github.com/google/uuid"

	"beamrt/internal/heap"
	"beamrt/internal/term"
)

const (
	extNode     = 1
	extID       = 2
	extCreation = 3
)

func newExternal(h *heap.Heap, sub term.Subtype, node term.Term, id uint64) (term.Term, error) {
	ptr, err := h.Alloc(4, heap.FillUninitialized)
	if err != nil {
		return 0, err
	}
	creation := uuidCreation()
	h.SetWord(ptr, term.MakeHeader(3, sub))
	h.SetWord(ptr+extNode, node)
	h.SetWord(ptr+extID, term.Term(id))
	h.SetWord(ptr+extCreation, term.Term(creation))
	return term.FromBoxed(ptr), nil
}

// uuidCreation derives a 32-bit creation stamp from a fresh random
// UUID's low bits; the full 128 bits would not fit a single header
// field, and only uniqueness across restarts matters here, not the
// full identifier.
func uuidCreation() uint32 {
	id := uuid.New()
	b := id[:]
	return uint32(b[12])<<24 | uint32(b[13])<<16 | uint32(b[14])<<8 | uint32(b[15])
}

func NewExternalPid(h *heap.Heap, node term.Term, id uint64) (term.Term, error) {
	return newExternal(h, term.SubtypeExternalPid, node, id)
}

func NewExternalRef(h *heap.Heap, node term.Term, id uint64) (term.Term, error) {
	return newExternal(h, term.SubtypeExternalRef, node, id)
}

func NewExternalPort(h *heap.Heap, node term.Term, id uint64) (term.Term, error) {
	return newExternal(h, term.SubtypeExternalPort, node, id)
}

func IsExternalPid(h *heap.Heap, t term.Term) bool {
	return IsBoxedOfSubtype(h, t, term.SubtypeExternalPid)
}

func IsExternalRef(h *heap.Heap, t term.Term) bool {
	return IsBoxedOfSubtype(h, t, term.SubtypeExternalRef)
}

func IsExternalPort(h *heap.Heap, t term.Term) bool {
	return IsBoxedOfSubtype(h, t, term.SubtypeExternalPort)
}

// IsPid reports whether t is any kind of process identifier, local or
// external.
func IsPid(h *heap.Heap, t term.Term) bool {
	return term.IsLocalPid(t) || IsExternalPid(h, t)
}

func ExternalNode(h *heap.Heap, t term.Term) term.Term { return h.Word(term.AsBoxed(t) + extNode) }
func ExternalID(h *heap.Heap, t term.Term) uint64      { return uint64(h.Word(term.AsBoxed(t) + extID)) }
func ExternalCreation(h *heap.Heap, t term.Term) uint32 {
	return uint32(h.Word(term.AsBoxed(t) + extCreation))
}
