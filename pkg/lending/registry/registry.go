// Package registry caches normalized markets and positions keyed by protocol
// and address. Entries are replaced as a whole on refresh and never evicted.
package registry

import (
	"bytes"
	"context"
	"crypto/ed25519"
	base "sync"
	"time"

	"github.com/mr-tron/base58/base58"
	"github.com/sirupsen/logrus"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/metrics"
)

const (
	defaultConcurrency = 8

	metricsStructName = "registry"
)

// Registry is safe for concurrent use. Reads are lock free.
type Registry struct {
	log *logrus.Entry

	fetcher     lending.Fetcher
	adapters    map[lending.Protocol]lending.Adapter
	concurrency int
	now         func() time.Time
	metrics     *registryMetrics

	markets   *arena[lending.Market]
	positions *arena[lending.Position]

	// index maps an (owner, market set) key to the address of the position
	// account served for it.
	indexMu base.RWMutex
	index   map[string]string
}

type Option func(*Registry)

// WithConcurrency bounds the number of fetches in flight during a refresh.
func WithConcurrency(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithClock overrides the time source used for accounts applied without a
// fetch timestamp.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithIsolatedMetrics keeps the registry's collectors out of the default
// prometheus registerer.
func WithIsolatedMetrics() Option {
	return func(r *Registry) {
		r.metrics = newRegistryMetrics()
	}
}

// New returns a registry decoding with the given adapters. The fetcher may be
// nil for registries fed only through Apply.
func New(fetcher lending.Fetcher, adapters []lending.Adapter, opts ...Option) *Registry {
	r := &Registry{
		log:         logrus.StandardLogger().WithField("type", "lending/registry"),
		fetcher:     fetcher,
		adapters:    make(map[lending.Protocol]lending.Adapter),
		concurrency: defaultConcurrency,
		now:         time.Now,
		markets:     newArena(func(m *lending.Market) time.Time { return m.FetchedAt }),
		positions:   newArena(func(p *lending.Position) time.Time { return p.FetchedAt }),
		index:       make(map[string]string),
	}
	for _, adapter := range adapters {
		r.adapters[adapter.Protocol()] = adapter
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = sharedMetrics()
	}
	return r
}

// Adapter returns the adapter registered for a protocol.
func (r *Registry) Adapter(protocol lending.Protocol) (lending.Adapter, error) {
	adapter, ok := r.adapters[protocol]
	if !ok {
		return nil, lending.NewParameterError("protocol", protocol.String(), "no adapter registered")
	}
	return adapter, nil
}

// GetMarket returns the cached market. It never fetches.
func (r *Registry) GetMarket(protocol lending.Protocol, address ed25519.PublicKey) (*lending.Market, error) {
	market, ok := r.markets.get(entryKey(protocol, address))
	r.metrics.observeLookup("market", ok)
	if !ok {
		return nil, &lending.NotCachedError{Protocol: protocol, Key: base58.Encode(address)}
	}
	return market, nil
}

// Markets returns every cached market of a protocol, in no particular order.
func (r *Registry) Markets(protocol lending.Protocol) []*lending.Market {
	var res []*lending.Market
	r.markets.each(func(_ string, m *lending.Market) bool {
		if m.Protocol == protocol {
			res = append(res, m)
		}
		return true
	})
	return res
}

// MarketSet returns the cached markets of one group, in no particular order.
func (r *Registry) MarketSet(protocol lending.Protocol, group ed25519.PublicKey) []*lending.Market {
	var res []*lending.Market
	r.markets.each(func(_ string, m *lending.Market) bool {
		if m.Protocol == protocol && bytes.Equal(m.Group, group) {
			res = append(res, m)
		}
		return true
	})
	return res
}

// GetPosition returns the position of an owner within a market set, with a
// snapshot of every leg's market attached. A leg market missing from the
// cache fails the whole read.
func (r *Registry) GetPosition(protocol lending.Protocol, owner, marketSet ed25519.PublicKey) (*lending.Position, error) {
	key := lending.PositionKey(owner, marketSet)

	r.indexMu.RLock()
	address, ok := r.index[indexKey(protocol, key)]
	r.indexMu.RUnlock()
	if !ok {
		r.metrics.observeLookup("position", false)
		return nil, &lending.NotCachedError{Protocol: protocol, Key: key}
	}

	position, ok := r.positions.get(address)
	r.metrics.observeLookup("position", ok)
	if !ok {
		return nil, &lending.NotCachedError{Protocol: protocol, Key: key}
	}
	return r.withSnapshots(position)
}

// GetPositionByAddress returns the position stored for an account address,
// with leg snapshots attached.
func (r *Registry) GetPositionByAddress(protocol lending.Protocol, address ed25519.PublicKey) (*lending.Position, error) {
	position, ok := r.positions.get(entryKey(protocol, address))
	r.metrics.observeLookup("position", ok)
	if !ok {
		return nil, &lending.NotCachedError{Protocol: protocol, Key: base58.Encode(address)}
	}
	return r.withSnapshots(position)
}

// Position resolves a reference the way the facade does: a pinned address
// first, the owner and market set otherwise.
func (r *Registry) Position(protocol lending.Protocol, ref lending.PositionRef) (*lending.Position, error) {
	if len(ref.Address) > 0 {
		return r.GetPositionByAddress(protocol, ref.Address)
	}
	return r.GetPosition(protocol, ref.Owner, ref.MarketSet)
}

// Forget drops a market or position entry.
func (r *Registry) Forget(protocol lending.Protocol, address ed25519.PublicKey) bool {
	key := entryKey(protocol, address)
	removed := r.markets.delete(key)

	if position, ok := r.positions.get(key); ok {
		r.indexMu.Lock()
		idx := indexKey(protocol, position.Key())
		if r.index[idx] == key {
			delete(r.index, idx)
		}
		r.indexMu.Unlock()
	}
	if r.positions.delete(key) {
		removed = true
	}

	r.reportSize()
	return removed
}

// Len returns the number of cached markets and positions.
func (r *Registry) Len() (markets, positions int) {
	return r.markets.len(), r.positions.len()
}

func (r *Registry) withSnapshots(position *lending.Position) (*lending.Position, error) {
	res := position.Clone()
	for _, legs := range [][]lending.PositionLeg{res.Deposits, res.Borrows} {
		for i := range legs {
			market, err := r.GetMarket(position.Protocol, legs[i].Market)
			if err != nil {
				return nil, err
			}
			legs[i].Snapshot = market
		}
	}
	return res, nil
}

func (r *Registry) storeMarket(market *lending.Market) bool {
	ok := r.markets.put(entryKey(market.Protocol, market.Address), market)
	r.reportSize()
	return ok
}

// storePosition saves the position and points its (owner, market set) index
// at it when no other account is indexed there yet, or when pin is set.
func (r *Registry) storePosition(position *lending.Position, pin bool) bool {
	key := entryKey(position.Protocol, position.Address)
	if !r.positions.put(key, position) {
		return false
	}

	idx := indexKey(position.Protocol, position.Key())
	r.indexMu.Lock()
	if _, ok := r.index[idx]; !ok || pin {
		r.index[idx] = key
	}
	r.indexMu.Unlock()

	r.reportSize()
	return true
}

func (r *Registry) reportSize() {
	r.metrics.entries.WithLabelValues("market").Set(float64(r.markets.len()))
	r.metrics.entries.WithLabelValues("position").Set(float64(r.positions.len()))
}

func (r *Registry) trace(ctx context.Context, method string) *metrics.MethodTracer {
	return metrics.TraceMethodCall(ctx, metricsStructName, method)
}

func entryKey(protocol lending.Protocol, address ed25519.PublicKey) string {
	return protocol.String() + "/" + base58.Encode(address)
}

func indexKey(protocol lending.Protocol, positionKey string) string {
	return protocol.String() + "/" + positionKey
}
