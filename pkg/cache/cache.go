// Package cache provides a weight bounded least recently used cache.
package cache

import (
	"container/list"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrOverBudget is returned when a single entry weighs more than the whole
// budget.
var ErrOverBudget = errors.New("cache: entry exceeds budget")

// Cache evicts least recently used entries once the summed weight of its
// entries exceeds the budget. It is safe for concurrent use.
type Cache[K comparable, V any] struct {
	log *logrus.Entry

	mu      sync.Mutex
	order   *list.List
	lookup  map[K]*list.Element
	weight  int
	budget  int
	verbose bool
}

type entry[K comparable, V any] struct {
	key    K
	value  V
	weight int
}

func New[K comparable, V any](budget int) *Cache[K, V] {
	return &Cache[K, V]{
		log:    logrus.StandardLogger().WithField("type", "cache"),
		order:  list.New(),
		lookup: make(map[K]*list.Element),
		budget: budget,
	}
}

// SetVerbose logs each eviction at debug level.
func (c *Cache[K, V]) SetVerbose(verbose bool) {
	c.mu.Lock()
	c.verbose = verbose
	c.mu.Unlock()
}

func (c *Cache[K, V]) Weight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.weight
}

func (c *Cache[K, V]) Budget() int {
	return c.budget
}

func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lookup)
}

// Insert stores value under key, replacing any previous entry, and evicts
// from the cold end until the cache fits its budget again.
func (c *Cache[K, V]) Insert(key K, value V, weight int) error {
	if weight > c.budget {
		return ErrOverBudget
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.lookup[key]; ok {
		c.remove(existing)
	}

	c.lookup[key] = c.order.PushFront(&entry[K, V]{key: key, value: value, weight: weight})
	c.weight += weight

	for c.weight > c.budget {
		coldest := c.order.Back()
		evicted := coldest.Value.(*entry[K, V])
		c.remove(coldest)

		if c.verbose {
			c.log.WithFields(logrus.Fields{
				"key":    evicted.key,
				"weight": evicted.weight,
				"spare":  c.budget - c.weight,
			}).Debug("evicted cache entry")
		}
	}
	return nil
}

// Retrieve returns the entry for key and marks it as most recently used.
func (c *Cache[K, V]) Retrieve(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.lookup[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(element)
	return element.Value.(*entry[K, V]).value, true
}

func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.lookup = make(map[K]*list.Element)
	c.weight = 0
}

func (c *Cache[K, V]) remove(element *list.Element) {
	e := c.order.Remove(element).(*entry[K, V])
	delete(c.lookup, e.key)
	c.weight -= e.weight
}
