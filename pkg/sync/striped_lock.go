package sync

import (
	"strconv"
	base "sync"
)

const (
	hashEntriesPerLock = 200
)

// StripedLock is a partitioned locking mechanism that consistently maps a key
// space to a set of locks. This provides concurrent data access while also
// limiting the total memory footprint.
type StripedLock struct {
	locks    []base.RWMutex
	hashRing *Ring[int]
}

// NewStripedLock returns a new StripedLock with a static number of stripes.
func NewStripedLock(stripes uint) *StripedLock {
	members := make(map[string]int, stripes)
	for i := 0; i < int(stripes); i++ {
		members["lock"+strconv.Itoa(i)] = i
	}

	return &StripedLock{
		locks:    make([]base.RWMutex, stripes),
		hashRing: NewRing(members, hashEntriesPerLock),
	}
}

// Get gets the lock for a key
func (l *StripedLock) Get(key []byte) *base.RWMutex {
	return &l.locks[l.hashRing.Shard(key)]
}

// GetString gets the lock for a string key
func (l *StripedLock) GetString(key string) *base.RWMutex {
	return l.Get([]byte(key))
}
