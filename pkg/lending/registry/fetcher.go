package registry

import (
	"context"
	"crypto/ed25519"
	base "sync"
	"time"

	"github.com/mr-tron/base58/base58"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/rate"
	"github.com/lendsdk/lendsdk/pkg/solana"
	"github.com/lendsdk/lendsdk/pkg/sync"
)

const shardReplication = 100

// AccountReader is the part of solana.Client the RPC fetcher needs.
type AccountReader interface {
	GetAccountInfo(ctx context.Context, account ed25519.PublicKey, commitment solana.Commitment) (solana.AccountInfo, error)
	GetMultipleAccounts(ctx context.Context, accounts []ed25519.PublicKey, commitment solana.Commitment) ([]*solana.AccountInfo, error)
}

// ProgramReader is the part of solana.Client that scans a program.
type ProgramReader interface {
	GetProgramAccounts(ctx context.Context, program ed25519.PublicKey, commitment solana.Commitment, filters ...solana.ProgramAccountsFilter) ([]solana.ProgramAccount, error)
}

// ProgramScanner is a fetcher able to list the accounts of a program that
// match a set of filters.
type ProgramScanner interface {
	ScanProgram(ctx context.Context, program ed25519.PublicKey, filters ...solana.ProgramAccountsFilter) ([]*lending.RawAccount, error)
}

// RPCFetcher reads accounts over JSON RPC, throttled by a rate limiter keyed
// by endpoint.
type RPCFetcher struct {
	reader     AccountReader
	limiter    rate.Limiter
	endpoint   string
	commitment solana.Commitment
	now        func() time.Time
}

// NewRPCFetcher returns a fetcher reading at confirmed commitment. A nil
// limiter disables throttling.
func NewRPCFetcher(reader AccountReader, limiter rate.Limiter, endpoint string) *RPCFetcher {
	if limiter == nil {
		limiter = &rate.NoLimiter{}
	}
	return &RPCFetcher{
		reader:     reader,
		limiter:    limiter,
		endpoint:   endpoint,
		commitment: solana.CommitmentConfirmed,
		now:        time.Now,
	}
}

// WithCommitment returns a copy of the fetcher reading at another commitment.
func (f *RPCFetcher) WithCommitment(commitment solana.Commitment) *RPCFetcher {
	cloned := *f
	cloned.commitment = commitment
	return &cloned
}

// FetchRaw implements lending.Fetcher.FetchRaw.
func (f *RPCFetcher) FetchRaw(ctx context.Context, address ed25519.PublicKey) (*lending.RawAccount, error) {
	if err := f.limiter.Wait(ctx, f.endpoint); err != nil {
		return nil, &lending.FetchError{Address: address, Err: err}
	}

	info, err := f.reader.GetAccountInfo(ctx, address, f.commitment)
	if errors.Is(err, solana.ErrNoAccountInfo) {
		return nil, errors.Wrapf(lending.ErrAccountNotFound, "account %s", base58.Encode(address))
	} else if err != nil {
		return nil, &lending.FetchError{Address: address, Err: err}
	}

	return &lending.RawAccount{
		Address:   address,
		Owner:     info.Owner,
		Data:      info.Data,
		Slot:      info.Slot,
		FetchedAt: f.now(),
	}, nil
}

// FetchRawBatch implements lending.BatchFetcher.FetchRawBatch. The limiter
// is waited on once per batch.
func (f *RPCFetcher) FetchRawBatch(ctx context.Context, addresses []ed25519.PublicKey) ([]*lending.RawAccount, error) {
	if err := f.limiter.Wait(ctx, f.endpoint); err != nil {
		return nil, err
	}

	infos, err := f.reader.GetMultipleAccounts(ctx, addresses, f.commitment)
	if err != nil {
		return nil, err
	}
	if len(infos) != len(addresses) {
		return nil, errors.Errorf("read %d accounts for %d addresses", len(infos), len(addresses))
	}

	now := f.now()
	raws := make([]*lending.RawAccount, len(addresses))
	for i, info := range infos {
		if info == nil {
			continue
		}
		raws[i] = &lending.RawAccount{
			Address:   addresses[i],
			Owner:     info.Owner,
			Data:      info.Data,
			Slot:      info.Slot,
			FetchedAt: now,
		}
	}
	return raws, nil
}

// ScanProgram implements ProgramScanner.ScanProgram. It fails when the reader
// cannot scan programs.
func (f *RPCFetcher) ScanProgram(ctx context.Context, program ed25519.PublicKey, filters ...solana.ProgramAccountsFilter) ([]*lending.RawAccount, error) {
	reader, ok := f.reader.(ProgramReader)
	if !ok {
		return nil, errors.Errorf("endpoint %s cannot scan programs", f.endpoint)
	}
	if err := f.limiter.Wait(ctx, f.endpoint); err != nil {
		return nil, err
	}

	accounts, err := reader.GetProgramAccounts(ctx, program, f.commitment, filters...)
	if err != nil {
		return nil, err
	}

	now := f.now()
	raws := make([]*lending.RawAccount, len(accounts))
	for i, account := range accounts {
		raws[i] = &lending.RawAccount{
			Address:   account.Address,
			Owner:     account.Info.Owner,
			Data:      account.Info.Data,
			Slot:      account.Info.Slot,
			FetchedAt: now,
		}
	}
	return raws, nil
}

// MemoryFetcher serves accounts from memory. It is used by tests and by
// callers replaying captured account data.
type MemoryFetcher struct {
	mu       base.RWMutex
	accounts map[string]lending.RawAccount
	errs     map[string]error
	calls    int
}

func NewMemoryFetcher() *MemoryFetcher {
	return &MemoryFetcher{
		accounts: make(map[string]lending.RawAccount),
		errs:     make(map[string]error),
	}
}

// Put stores an account. The stored copy is served on every fetch.
func (f *MemoryFetcher) Put(raw *lending.RawAccount) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cloned := *raw
	cloned.Data = append([]byte(nil), raw.Data...)
	f.accounts[string(raw.Address)] = cloned
	delete(f.errs, string(raw.Address))
}

// FailWith makes fetches of the address return err.
func (f *MemoryFetcher) FailWith(address ed25519.PublicKey, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.errs[string(address)] = err
}

// Delete removes an account so that fetches report it as not found.
func (f *MemoryFetcher) Delete(address ed25519.PublicKey) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.accounts, string(address))
	delete(f.errs, string(address))
}

// Calls returns the number of fetches served.
func (f *MemoryFetcher) Calls() int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.calls
}

// FetchRaw implements lending.Fetcher.FetchRaw.
func (f *MemoryFetcher) FetchRaw(ctx context.Context, address ed25519.PublicKey) (*lending.RawAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, &lending.FetchError{Address: address, Err: err}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if err, ok := f.errs[string(address)]; ok {
		return nil, err
	}
	raw, ok := f.accounts[string(address)]
	if !ok {
		return nil, errors.Wrapf(lending.ErrAccountNotFound, "account %s", base58.Encode(address))
	}

	raw.Data = append([]byte(nil), raw.Data...)
	return &raw, nil
}

// ShardedFetcher spreads reads over several fetchers, typically one per RPC
// endpoint. An address is always read through the same fetcher, so slots
// observed for one account never go backwards because of endpoint lag.
type ShardedFetcher struct {
	ring     *sync.Ring[string]
	fetchers map[string]lending.Fetcher
}

func NewShardedFetcher(fetchers map[string]lending.Fetcher) (*ShardedFetcher, error) {
	if len(fetchers) == 0 {
		return nil, errors.New("at least one fetcher is required")
	}

	names := make(map[string]string, len(fetchers))
	for name, fetcher := range fetchers {
		if fetcher == nil {
			return nil, errors.Errorf("fetcher %q is nil", name)
		}
		names[name] = name
	}
	return &ShardedFetcher{
		ring:     sync.NewRing(names, shardReplication),
		fetchers: fetchers,
	}, nil
}

// NewEndpointFetcher returns a fetcher reading through one RPC client per
// named endpoint URL. Each endpoint is throttled under its own name.
func NewEndpointFetcher(endpoints map[string]string, limiter rate.Limiter) (*ShardedFetcher, error) {
	fetchers := make(map[string]lending.Fetcher, len(endpoints))
	for name, url := range endpoints {
		if len(url) == 0 {
			return nil, errors.Errorf("endpoint %q has no url", name)
		}
		fetchers[name] = NewRPCFetcher(solana.New(url), limiter, name)
	}
	return NewShardedFetcher(fetchers)
}

// Endpoints returns the names of the underlying fetchers.
func (f *ShardedFetcher) Endpoints() []string {
	return f.ring.Members()
}

// FetchRaw implements lending.Fetcher.FetchRaw.
func (f *ShardedFetcher) FetchRaw(ctx context.Context, address ed25519.PublicKey) (*lending.RawAccount, error) {
	return f.fetchers[f.ring.Shard(address)].FetchRaw(ctx, address)
}

// FetchRawBatch implements lending.BatchFetcher.FetchRawBatch. Addresses are
// grouped by shard and the shards are read concurrently. Shards that cannot
// batch are read address by address; any failure fails the whole batch.
func (f *ShardedFetcher) FetchRawBatch(ctx context.Context, addresses []ed25519.PublicKey) ([]*lending.RawAccount, error) {
	groups := make(map[string][]int)
	for i, address := range addresses {
		name := f.ring.Shard(address)
		groups[name] = append(groups[name], i)
	}

	raws := make([]*lending.RawAccount, len(addresses))

	var g errgroup.Group
	for name, indexes := range groups {
		fetcher, indexes := f.fetchers[name], indexes
		g.Go(func() error {
			batch := make([]ed25519.PublicKey, len(indexes))
			for i, index := range indexes {
				batch[i] = addresses[index]
			}

			results, err := fetchBatch(ctx, fetcher, batch)
			if err != nil {
				return err
			}
			for i, index := range indexes {
				raws[index] = results[i]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return raws, nil
}

// ScanProgram implements ProgramScanner.ScanProgram on the shard owning the
// program address.
func (f *ShardedFetcher) ScanProgram(ctx context.Context, program ed25519.PublicKey, filters ...solana.ProgramAccountsFilter) ([]*lending.RawAccount, error) {
	name := f.ring.Shard(program)
	scanner, ok := f.fetchers[name].(ProgramScanner)
	if !ok {
		return nil, errors.Errorf("fetcher %q cannot scan programs", name)
	}
	return scanner.ScanProgram(ctx, program, filters...)
}

func fetchBatch(ctx context.Context, fetcher lending.Fetcher, addresses []ed25519.PublicKey) ([]*lending.RawAccount, error) {
	if batch, ok := fetcher.(lending.BatchFetcher); ok {
		raws, err := batch.FetchRawBatch(ctx, addresses)
		if err == nil && len(raws) != len(addresses) {
			err = errors.Errorf("read %d accounts for %d addresses", len(raws), len(addresses))
		}
		return raws, err
	}

	raws := make([]*lending.RawAccount, len(addresses))
	for i, address := range addresses {
		raw, err := fetcher.FetchRaw(ctx, address)
		switch {
		case errors.Is(err, lending.ErrAccountNotFound):
			continue
		case err != nil:
			return nil, err
		}
		raws[i] = raw
	}
	return raws, nil
}
