package object

import (
	"golang.org/x/exp/slices"

	"beamrt/internal/heap"
	"beamrt/internal/term"
)

const (
	mapSize   = 1
	mapKeys   = 2
	mapValues = 3
)

// NewMap builds a map from unordered key/value pairs, sorting the keys
// array once at construction the way the header table describes ("size,
// sorted keys array, values array"); lookups binary-search the keys
// array and index the parallel values array.
func NewMap(h *heap.Heap, keys, values []term.Term) (term.Term, error) {
	n := len(keys)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int { return CmpTerms(h, keys[a], keys[b], true) })

	sortedKeys := make([]term.Term, n)
	sortedValues := make([]term.Term, n)
	for i, idx := range order {
		sortedKeys[i] = keys[idx]
		sortedValues[i] = values[idx]
	}

	keysTerm, err := NewTupleFrom(h, sortedKeys)
	if err != nil {
		return 0, err
	}
	valuesTerm, err := NewTupleFrom(h, sortedValues)
	if err != nil {
		return 0, err
	}
	ptr, err := h.Alloc(4, heap.FillUninitialized)
	if err != nil {
		return 0, err
	}
	h.SetWord(ptr, term.MakeHeader(3, term.SubtypeMap))
	h.SetWord(ptr+mapSize, term.FromSmall(int64(n)))
	h.SetWord(ptr+mapKeys, keysTerm)
	h.SetWord(ptr+mapValues, valuesTerm)
	return term.FromBoxed(ptr), nil
}

func IsMap(h *heap.Heap, t term.Term) bool { return IsBoxedOfSubtype(h, t, term.SubtypeMap) }

func MapSize(h *heap.Heap, t term.Term) int {
	return int(term.AsSmall(h.Word(term.AsBoxed(t) + mapSize)))
}

func mapArrays(h *heap.Heap, t term.Term) (keys, values term.Term) {
	ptr := term.AsBoxed(t)
	return h.Word(ptr + mapKeys), h.Word(ptr + mapValues)
}

// MapGet binary-searches the sorted keys array for key, returning its
// value and true on a hit.
func MapGet(h *heap.Heap, t, key term.Term) (term.Term, bool) {
	n := MapSize(h, t)
	keysArr, valuesArr := mapArrays(h, t)
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		k := GetTupleElement(h, keysArr, mid)
		c := CmpTerms(h, key, k, true)
		switch {
		case c == 0:
			return GetTupleElement(h, valuesArr, mid), true
		case c < 0:
			hi = mid
		default:
			lo = mid + 1
		}
	}
	return 0, false
}

// MapPut returns a new map with key bound to value, replacing any
// existing binding; maps are immutable once built, matching the
// language's persistent-map semantics.
func MapPut(h *heap.Heap, t, key, value term.Term) (term.Term, error) {
	n := MapSize(h, t)
	keysArr, valuesArr := mapArrays(h, t)
	keys := make([]term.Term, 0, n+1)
	values := make([]term.Term, 0, n+1)
	replaced := false
	for i := 0; i < n; i++ {
		k := GetTupleElement(h, keysArr, i)
		v := GetTupleElement(h, valuesArr, i)
		if !replaced && CmpTerms(h, k, key, true) == 0 {
			v = value
			replaced = true
		}
		keys = append(keys, k)
		values = append(values, v)
	}
	if !replaced {
		keys = append(keys, key)
		values = append(values, value)
	}
	return NewMap(h, keys, values)
}

// MapPairs returns the map's (key,value) pairs in sorted-key order.
func MapPairs(h *heap.Heap, t term.Term) (keys, values []term.Term) {
	n := MapSize(h, t)
	keysArr, valuesArr := mapArrays(h, t)
	keys = make([]term.Term, n)
	values = make([]term.Term, n)
	for i := 0; i < n; i++ {
		keys[i] = GetTupleElement(h, keysArr, i)
		values[i] = GetTupleElement(h, valuesArr, i)
	}
	return keys, values
}
