package registry

import (
	base "sync"
	"sync/atomic"
	"time"

	"github.com/lendsdk/lendsdk/pkg/sync"
)

const arenaStripes = 64

// arena holds immutable entries behind per-key atomic pointers. Readers never
// lock and always observe a complete entry; writers of the same key are
// serialized by a striped lock so the timestamp comparison and the swap are
// one step.
type arena[T any] struct {
	fetchedAt func(*T) time.Time

	locks   *sync.StripedLock
	entries base.Map // string -> *atomic.Pointer[T]
	size    atomic.Int64
}

func newArena[T any](fetchedAt func(*T) time.Time) *arena[T] {
	return &arena[T]{
		fetchedAt: fetchedAt,
		locks:     sync.NewStripedLock(arenaStripes),
	}
}

func (a *arena[T]) get(key string) (*T, bool) {
	slot, ok := a.entries.Load(key)
	if !ok {
		return nil, false
	}
	entry := slot.(*atomic.Pointer[T]).Load()
	return entry, entry != nil
}

// put replaces the entry for key unless the stored one was fetched later.
// It reports false for such a stale write.
func (a *arena[T]) put(key string, entry *T) bool {
	mu := a.locks.GetString(key)
	mu.Lock()
	defer mu.Unlock()

	slot, _ := a.entries.LoadOrStore(key, &atomic.Pointer[T]{})
	ptr := slot.(*atomic.Pointer[T])

	current := ptr.Load()
	if current != nil && a.fetchedAt(entry).Before(a.fetchedAt(current)) {
		return false
	}
	if current == nil {
		a.size.Add(1)
	}
	ptr.Store(entry)
	return true
}

func (a *arena[T]) delete(key string) bool {
	mu := a.locks.GetString(key)
	mu.Lock()
	defer mu.Unlock()

	slot, ok := a.entries.LoadAndDelete(key)
	if !ok {
		return false
	}
	if slot.(*atomic.Pointer[T]).Load() != nil {
		a.size.Add(-1)
	}
	return true
}

func (a *arena[T]) each(fn func(key string, entry *T) bool) {
	a.entries.Range(func(k, v interface{}) bool {
		entry := v.(*atomic.Pointer[T]).Load()
		if entry == nil {
			return true
		}
		return fn(k.(string), entry)
	})
}

func (a *arena[T]) len() int {
	return int(a.size.Load())
}
