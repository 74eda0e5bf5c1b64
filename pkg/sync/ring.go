package sync

import (
	"encoding/binary"
	"sort"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
	"github.com/spaolacci/murmur3"
)

// Ring is a consistent hash ring mapping keys onto a fixed set of named
// members. Adding or removing a member only moves the keys it owned.
type Ring[T any] struct {
	hashRing *treemap.Map
	names    []string

	// minEntryValue caches the value at the smallest hash so that wrapping
	// around the ring does not cost an O(log n) lookup.
	minEntryValue T
}

// NewRing returns a ring where every member appears replicationFactor times.
func NewRing[T any](members map[string]T, replicationFactor uint) *Ring[T] {
	hashRing := treemap.NewWith(utils.Int64Comparator)

	names := make([]string, 0, len(members))
	for name, member := range members {
		names = append(names, name)

		nameHash, _ := murmur3.Sum128([]byte(name))
		seed := make([]byte, 12)
		binary.LittleEndian.PutUint64(seed, nameHash)
		for i := uint32(0); i < uint32(replicationFactor); i++ {
			binary.LittleEndian.PutUint32(seed[8:], i)
			hash, _ := murmur3.Sum128(seed)
			hashRing.Put(int64(hash), member)
		}
	}
	sort.Strings(names)

	r := &Ring[T]{
		hashRing: hashRing,
		names:    names,
	}
	if _, first := hashRing.Min(); first != nil {
		r.minEntryValue = first.(T)
	}
	return r
}

// Shard returns the member owning key. An empty ring returns the zero value.
func (r *Ring[T]) Shard(key []byte) T {
	hash, _ := murmur3.Sum128(key)
	if _, member := r.hashRing.Ceiling(int64(hash)); member != nil {
		return member.(T)
	}
	return r.minEntryValue
}

// Members returns the member names in sorted order.
func (r *Ring[T]) Members() []string {
	return append([]string(nil), r.names...)
}
