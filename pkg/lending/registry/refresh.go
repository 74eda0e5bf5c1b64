package registry

import (
	"bytes"
	"context"
	"crypto/ed25519"
	base "sync"
	"time"

	"github.com/mr-tron/base58/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/metrics"
	"github.com/lendsdk/lendsdk/pkg/solana"
)

// RefreshResult reports the outcome of every address in a refresh. Failures
// are per address and never abort the rest of the batch.
type RefreshResult struct {
	Updated []ed25519.PublicKey

	// Stale lists accounts older than the cached entry. They were dropped.
	Stale []ed25519.PublicKey

	// Ignored lists accounts of kinds the registry does not cache, such as
	// lending market configuration.
	Ignored []ed25519.PublicKey

	// Missing lists accounts that do not exist on chain.
	Missing []ed25519.PublicKey

	Failed map[string]error

	mu     base.Mutex
	failed []string
}

func newRefreshResult() *RefreshResult {
	return &RefreshResult{Failed: make(map[string]error)}
}

// Err returns the failure of the first failed address, or nil.
func (r *RefreshResult) Err() error {
	if len(r.failed) == 0 {
		return nil
	}
	return r.Failed[r.failed[0]]
}

func (r *RefreshResult) add(list *[]ed25519.PublicKey, address ed25519.PublicKey) {
	r.mu.Lock()
	*list = append(*list, address)
	r.mu.Unlock()
}

func (r *RefreshResult) fail(address ed25519.PublicKey, err error) {
	key := base58.Encode(address)

	r.mu.Lock()
	if _, ok := r.Failed[key]; !ok {
		r.failed = append(r.failed, key)
	}
	r.Failed[key] = err
	r.mu.Unlock()
}

// Refresh fetches and decodes each address, replacing the cached entry when
// the fetched account is at least as recent. Markets and positions are told
// apart by the adapter.
func (r *Registry) Refresh(ctx context.Context, protocol lending.Protocol, addresses ...ed25519.PublicKey) (*RefreshResult, error) {
	tracer := r.trace(ctx, "Refresh")
	defer tracer.End()

	adapter, err := r.Adapter(protocol)
	if err != nil {
		tracer.OnError(err)
		return nil, err
	}
	if r.fetcher == nil {
		err := errors.New("registry has no fetcher")
		tracer.OnError(err)
		return nil, err
	}

	start := time.Now()
	res := newRefreshResult()

	if batch, ok := r.fetcher.(lending.BatchFetcher); ok {
		r.refreshBatch(ctx, batch, adapter, addresses, res)
	} else {
		r.refreshEach(ctx, adapter, addresses, res)
	}

	metrics.RecordDuration(ctx, "lending.registry.refresh."+protocol.String(), time.Since(start))
	r.log.WithFields(logrus.Fields{
		"method":   "Refresh",
		"protocol": protocol.String(),
		"updated":  len(res.Updated),
		"stale":    len(res.Stale),
		"missing":  len(res.Missing),
		"failed":   len(res.Failed),
	}).Debug("refreshed accounts")

	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

func (r *Registry) refreshEach(ctx context.Context, adapter lending.Adapter, addresses []ed25519.PublicKey, res *RefreshResult) {
	protocol := adapter.Protocol()

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for _, address := range addresses {
		address := address
		g.Go(func() error {
			raw, err := r.fetcher.FetchRaw(ctx, address)
			switch {
			case errors.Is(err, lending.ErrAccountNotFound):
				r.metrics.observeRefresh(protocol.String(), outcomeMissing)
				res.add(&res.Missing, address)
				return nil
			case err != nil:
				r.metrics.observeRefresh(protocol.String(), outcomeFailed)
				res.fail(address, toFetchError(address, err))
				return nil
			}

			r.apply(adapter, raw, res)
			return nil
		})
	}
	_ = g.Wait()
}

// refreshBatch reads every address in one call. A failed call fails every
// address of the batch.
func (r *Registry) refreshBatch(ctx context.Context, fetcher lending.BatchFetcher, adapter lending.Adapter, addresses []ed25519.PublicKey, res *RefreshResult) {
	protocol := adapter.Protocol()
	if len(addresses) == 0 {
		return
	}

	raws, err := fetcher.FetchRawBatch(ctx, addresses)
	if err == nil && len(raws) != len(addresses) {
		err = errors.Errorf("read %d accounts for %d addresses", len(raws), len(addresses))
	}
	if err != nil {
		for _, address := range addresses {
			r.metrics.observeRefresh(protocol.String(), outcomeFailed)
			res.fail(address, toFetchError(address, err))
		}
		return
	}

	for i, raw := range raws {
		if raw == nil {
			r.metrics.observeRefresh(protocol.String(), outcomeMissing)
			res.add(&res.Missing, addresses[i])
			continue
		}
		r.apply(adapter, raw, res)
	}
}

// MarketSetScanner is implemented by adapters whose markets can be listed by
// scanning their program for the accounts of one market set.
type MarketSetScanner interface {
	MarketSetFilters(group ed25519.PublicKey) ([]solana.ProgramAccountsFilter, error)
}

// RefreshMarketSet scans the program of the protocol for every market of the
// group and applies what it finds as Refresh does. Cached markets the scan no
// longer returns are kept.
func (r *Registry) RefreshMarketSet(ctx context.Context, protocol lending.Protocol, group ed25519.PublicKey) (*RefreshResult, error) {
	tracer := r.trace(ctx, "RefreshMarketSet")
	defer tracer.End()

	adapter, err := r.Adapter(protocol)
	if err != nil {
		tracer.OnError(err)
		return nil, err
	}
	discoverer, ok := adapter.(MarketSetScanner)
	if !ok {
		err := errors.Wrapf(lending.ErrUnsupportedProtocol, "%s markets cannot be discovered", protocol)
		tracer.OnError(err)
		return nil, err
	}
	scanner, ok := r.fetcher.(ProgramScanner)
	if !ok {
		err := errors.New("registry fetcher cannot scan programs")
		tracer.OnError(err)
		return nil, err
	}

	filters, err := discoverer.MarketSetFilters(group)
	if err != nil {
		tracer.OnError(err)
		return nil, err
	}

	start := time.Now()
	raws, err := scanner.ScanProgram(ctx, adapter.ProgramID(), filters...)
	if err != nil {
		err = toFetchError(group, err)
		tracer.OnError(err)
		return nil, err
	}

	res := newRefreshResult()
	for _, raw := range raws {
		r.apply(adapter, raw, res)
	}

	metrics.RecordDuration(ctx, "lending.registry.refresh_market_set."+protocol.String(), time.Since(start))
	r.log.WithFields(logrus.Fields{
		"method":   "RefreshMarketSet",
		"protocol": protocol.String(),
		"group":    base58.Encode(group),
		"scanned":  len(raws),
		"updated":  len(res.Updated),
		"failed":   len(res.Failed),
	}).Debug("refreshed market set")

	return res, nil
}

// Apply decodes raw accounts the caller already holds, with the same
// replacement rules as Refresh.
func (r *Registry) Apply(protocol lending.Protocol, raws ...*lending.RawAccount) (*RefreshResult, error) {
	adapter, err := r.Adapter(protocol)
	if err != nil {
		return nil, err
	}

	res := newRefreshResult()
	for _, raw := range raws {
		r.apply(adapter, raw, res)
	}
	return res, nil
}

func (r *Registry) apply(adapter lending.Adapter, raw *lending.RawAccount, res *RefreshResult) {
	protocol := adapter.Protocol()
	log := r.log.WithFields(logrus.Fields{
		"method":   "apply",
		"protocol": protocol.String(),
		"address":  base58.Encode(raw.Address),
	})

	stored, err := r.decode(adapter, raw)
	switch {
	case err != nil:
		log.WithError(err).Warn("failed to decode account")
		r.metrics.observeRefresh(protocol.String(), outcomeFailed)
		res.fail(raw.Address, err)
	case stored == nil:
		r.metrics.observeRefresh(protocol.String(), outcomeIgnored)
		res.add(&res.Ignored, raw.Address)
	case !*stored:
		log.Debug("dropping stale account")
		r.metrics.observeRefresh(protocol.String(), outcomeStale)
		res.add(&res.Stale, raw.Address)
	default:
		r.metrics.observeRefresh(protocol.String(), outcomeUpdated)
		res.add(&res.Updated, raw.Address)
	}
}

// decode stores the account and reports whether the write was accepted. A
// nil result without error means the kind is not cached.
func (r *Registry) decode(adapter lending.Adapter, raw *lending.RawAccount) (*bool, error) {
	protocol := adapter.Protocol()
	if len(raw.Owner) > 0 && !bytes.Equal(raw.Owner, adapter.ProgramID()) {
		return nil, &lending.MalformedAccountError{
			Protocol: protocol,
			Address:  raw.Address,
			Field:    "owner",
			Reason:   "account is owned by " + base58.Encode(raw.Owner),
		}
	}

	fetchedAt := raw.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = r.now()
	}

	kind, err := adapter.Identify(raw.Data)
	if err != nil {
		return nil, withAddress(err, raw.Address)
	}

	var stored bool
	switch kind {
	case lending.KindMarket:
		market, err := adapter.DecodeMarket(raw.Address, raw.Data)
		if err != nil {
			return nil, err
		}
		market.FetchedAt = fetchedAt
		if raw.Slot > 0 {
			market.Slot = raw.Slot
		}
		stored = r.storeMarket(market)

	case lending.KindPosition:
		position, err := adapter.DecodePosition(raw.Address, raw.Data)
		if err != nil {
			return nil, err
		}
		position.FetchedAt = fetchedAt
		if raw.Slot > 0 {
			position.Slot = raw.Slot
		}
		stored = r.storePosition(position, false)

	default:
		return nil, nil
	}
	return &stored, nil
}

// RefreshPosition fetches the position account behind ref. When the account
// does not exist yet, an empty position is cached so adapters can emit the
// setup instructions.
func (r *Registry) RefreshPosition(ctx context.Context, protocol lending.Protocol, ref lending.PositionRef) (*lending.Position, error) {
	tracer := r.trace(ctx, "RefreshPosition")
	defer tracer.End()

	position, err := r.refreshPosition(ctx, protocol, ref)
	if err != nil {
		tracer.OnError(err)
		return nil, err
	}
	return position, nil
}

func (r *Registry) refreshPosition(ctx context.Context, protocol lending.Protocol, ref lending.PositionRef) (*lending.Position, error) {
	adapter, err := r.Adapter(protocol)
	if err != nil {
		return nil, err
	}
	if r.fetcher == nil {
		return nil, errors.New("registry has no fetcher")
	}

	address, err := adapter.PositionAddress(ref)
	if err != nil {
		return nil, err
	}

	raw, err := r.fetcher.FetchRaw(ctx, address)
	switch {
	case errors.Is(err, lending.ErrAccountNotFound):
		pinned := ref
		pinned.Address = address
		position := lending.NewEmptyPosition(protocol, pinned, r.now())
		r.metrics.observeRefresh(protocol.String(), outcomeMissing)
		return r.storeOrCurrent(position)
	case err != nil:
		r.metrics.observeRefresh(protocol.String(), outcomeFailed)
		return nil, toFetchError(address, err)
	}

	if len(raw.Owner) > 0 && !bytes.Equal(raw.Owner, adapter.ProgramID()) {
		return nil, &lending.MalformedAccountError{
			Protocol: protocol,
			Address:  address,
			Field:    "owner",
			Reason:   "account is owned by " + base58.Encode(raw.Owner),
		}
	}

	position, err := adapter.DecodePosition(address, raw.Data)
	if err != nil {
		r.metrics.observeRefresh(protocol.String(), outcomeFailed)
		return nil, err
	}
	if !bytes.Equal(position.Owner, ref.Owner) {
		return nil, lending.NewParameterError("position.owner", base58.Encode(ref.Owner), "account "+base58.Encode(address)+" belongs to "+base58.Encode(position.Owner))
	}
	if len(ref.MarketSet) > 0 && len(position.MarketSet) > 0 && !bytes.Equal(position.MarketSet, ref.MarketSet) {
		return nil, lending.NewParameterError("position.market_set", base58.Encode(ref.MarketSet), "account "+base58.Encode(address)+" is in "+base58.Encode(position.MarketSet))
	}

	position.FetchedAt = raw.FetchedAt
	if position.FetchedAt.IsZero() {
		position.FetchedAt = r.now()
	}
	if raw.Slot > 0 {
		position.Slot = raw.Slot
	}

	r.metrics.observeRefresh(protocol.String(), outcomeUpdated)
	return r.storeOrCurrent(position)
}

// storeOrCurrent stores the position and returns it, or returns the newer
// entry already cached when the write is stale.
func (r *Registry) storeOrCurrent(position *lending.Position) (*lending.Position, error) {
	if r.storePosition(position, true) {
		return position, nil
	}
	current, ok := r.positions.get(entryKey(position.Protocol, position.Address))
	if !ok {
		return nil, &lending.NotCachedError{Protocol: position.Protocol, Key: position.Key(), Stale: true}
	}
	return current, nil
}

func toFetchError(address ed25519.PublicKey, err error) error {
	var fetchErr *lending.FetchError
	if errors.As(err, &fetchErr) {
		return err
	}
	return &lending.FetchError{Address: address, Err: err}
}

func withAddress(err error, address ed25519.PublicKey) error {
	var malformed *lending.MalformedAccountError
	if errors.As(err, &malformed) {
		return malformed.WithAddress(address)
	}
	return err
}
