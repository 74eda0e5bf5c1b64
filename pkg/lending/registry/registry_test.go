package registry

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	base "sync"
	"testing"
	"time"

	"github.com/mr-tron/base58/base58"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/solana"
	"github.com/lendsdk/lendsdk/pkg/testutil"
)

const (
	testKindMarket        = 1
	testKindPosition      = 2
	testKindLendingMarket = 3
)

// testAdapter decodes a toy layout: a kind byte followed by keys. Markets
// carry their mint; positions carry owner, market set and deposit markets.
type testAdapter struct {
	program ed25519.PublicKey
}

func (a *testAdapter) Protocol() lending.Protocol {
	return lending.ProtocolSolend
}

func (a *testAdapter) ProgramID() ed25519.PublicKey {
	return a.program
}

func (a *testAdapter) Identify(data []byte) (lending.AccountKind, error) {
	if len(data) == 0 {
		return lending.KindUnknown, &lending.MalformedAccountError{Protocol: lending.ProtocolSolend, Reason: "empty"}
	}
	switch data[0] {
	case testKindMarket:
		return lending.KindMarket, nil
	case testKindPosition:
		return lending.KindPosition, nil
	case testKindLendingMarket:
		return lending.KindLendingMarket, nil
	}
	return lending.KindUnknown, &lending.MalformedAccountError{Protocol: lending.ProtocolSolend, Reason: "unknown kind"}
}

func (a *testAdapter) DecodeMarket(address ed25519.PublicKey, data []byte) (*lending.Market, error) {
	if len(data) != 1+32 && len(data) != 1+64 {
		return nil, &lending.MalformedAccountError{Protocol: lending.ProtocolSolend, Address: address, Reason: "bad size"}
	}
	market := &lending.Market{
		Protocol: lending.ProtocolSolend,
		Address:  address,
		Mint:     ed25519.PublicKey(data[1:33]),
		Price:    decimal.NewFromInt(1),
		Active:   true,
	}
	if len(data) == 1+64 {
		market.Group = ed25519.PublicKey(data[33:65])
	}
	return market, nil
}

// MarketSetFilters selects grouped markets: a kind byte, the mint and the
// group.
func (a *testAdapter) MarketSetFilters(group ed25519.PublicKey) ([]solana.ProgramAccountsFilter, error) {
	if len(group) != ed25519.PublicKeySize {
		return nil, lending.NewParameterError("group", "", "must be a 32 byte address")
	}
	return []solana.ProgramAccountsFilter{
		solana.DataSize(1 + 64),
		solana.Memcmp(0, []byte{testKindMarket}),
		solana.Memcmp(33, group),
	}, nil
}

func (a *testAdapter) DecodePosition(address ed25519.PublicKey, data []byte) (*lending.Position, error) {
	if len(data) < 1+64 || (len(data)-65)%32 != 0 {
		return nil, &lending.MalformedAccountError{Protocol: lending.ProtocolSolend, Address: address, Reason: "bad size"}
	}
	position := &lending.Position{
		Protocol:  lending.ProtocolSolend,
		Address:   address,
		Owner:     ed25519.PublicKey(data[1:33]),
		MarketSet: ed25519.PublicKey(data[33:65]),
		Exists:    true,
	}
	for offset := 65; offset < len(data); offset += 32 {
		position.Deposits = append(position.Deposits, lending.PositionLeg{
			Market: ed25519.PublicKey(data[offset : offset+32]),
			Amount: decimal.NewFromInt(1),
		})
	}
	return position, nil
}

func (a *testAdapter) PositionAddress(ref lending.PositionRef) (ed25519.PublicKey, error) {
	if len(ref.Address) > 0 {
		return ref.Address, nil
	}
	h := sha256.Sum256(append(append([]byte(nil), ref.Owner...), ref.MarketSet...))
	return ed25519.PublicKey(h[:]), nil
}

func (a *testAdapter) RequiredAccounts(op *lending.Operation) ([]lending.AddressRole, error) {
	return nil, nil
}

func (a *testAdapter) Prepare(op *lending.Operation, market *lending.Market, position *lending.Position) ([]*lending.InstructionSpec, error) {
	return nil, nil
}

type testEnv struct {
	adapter  *testAdapter
	fetcher  *MemoryFetcher
	registry *Registry
	owner    ed25519.PublicKey
	set      ed25519.PublicKey
	base     time.Time
}

func setup(t *testing.T) *testEnv {
	adapter := &testAdapter{program: testutil.NewRandomKey(t)}
	fetcher := NewMemoryFetcher()
	now := time.Now()

	return &testEnv{
		adapter:  adapter,
		fetcher:  fetcher,
		registry: New(fetcher, []lending.Adapter{adapter}, WithIsolatedMetrics(), WithClock(func() time.Time { return now })),
		owner:    testutil.NewRandomKey(t),
		set:      testutil.NewRandomKey(t),
		base:     now,
	}
}

func (e *testEnv) marketRaw(t *testing.T, address ed25519.PublicKey, mint ed25519.PublicKey, age time.Duration) *lending.RawAccount {
	return &lending.RawAccount{
		Address:   address,
		Owner:     e.adapter.program,
		Data:      append([]byte{testKindMarket}, mint...),
		FetchedAt: e.base.Add(-age),
	}
}

func (e *testEnv) positionRaw(address ed25519.PublicKey, markets ...ed25519.PublicKey) *lending.RawAccount {
	data := []byte{testKindPosition}
	data = append(data, e.owner...)
	data = append(data, e.set...)
	for _, market := range markets {
		data = append(data, market...)
	}
	return &lending.RawAccount{
		Address:   address,
		Owner:     e.adapter.program,
		Data:      data,
		FetchedAt: e.base,
	}
}

func TestApply_Market(t *testing.T) {
	env := setup(t)
	address := testutil.NewRandomKey(t)
	mint := testutil.NewRandomKey(t)

	raw := env.marketRaw(t, address, mint, 0)
	raw.Slot = 77
	res, err := env.registry.Apply(lending.ProtocolSolend, raw)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	require.Len(t, res.Updated, 1)

	market, err := env.registry.GetMarket(lending.ProtocolSolend, address)
	require.NoError(t, err)
	assert.EqualValues(t, mint, market.Mint)
	assert.EqualValues(t, 77, market.Slot)
	assert.Equal(t, env.base, market.FetchedAt)
	assert.Len(t, env.registry.Markets(lending.ProtocolSolend), 1)
	assert.Empty(t, env.registry.Markets(lending.ProtocolKamino))

	_, err = env.registry.GetMarket(lending.ProtocolKamino, address)
	testutil.AssertErrorIs(t, err, lending.ErrNotCached)
	_, err = env.registry.GetMarket(lending.ProtocolSolend, testutil.NewRandomKey(t))
	testutil.AssertErrorIs(t, err, lending.ErrNotCached)

	markets, positions := env.registry.Len()
	assert.Equal(t, 1, markets)
	assert.Equal(t, 0, positions)
}

func TestApply_LastWriteWins(t *testing.T) {
	env := setup(t)
	address := testutil.NewRandomKey(t)
	newer := testutil.NewRandomKey(t)
	older := testutil.NewRandomKey(t)

	_, err := env.registry.Apply(lending.ProtocolSolend, env.marketRaw(t, address, newer, time.Second))
	require.NoError(t, err)

	res, err := env.registry.Apply(lending.ProtocolSolend, env.marketRaw(t, address, older, time.Minute))
	require.NoError(t, err)
	require.Len(t, res.Stale, 1)
	assert.Empty(t, res.Updated)

	market, err := env.registry.GetMarket(lending.ProtocolSolend, address)
	require.NoError(t, err)
	assert.EqualValues(t, newer, market.Mint)

	// Equal timestamps replace.
	same := testutil.NewRandomKey(t)
	res, err = env.registry.Apply(lending.ProtocolSolend, env.marketRaw(t, address, same, time.Second))
	require.NoError(t, err)
	require.Len(t, res.Updated, 1)

	market, err = env.registry.GetMarket(lending.ProtocolSolend, address)
	require.NoError(t, err)
	assert.EqualValues(t, same, market.Mint)
}

func TestApply_Rejections(t *testing.T) {
	env := setup(t)

	foreign := env.marketRaw(t, testutil.NewRandomKey(t), testutil.NewRandomKey(t), 0)
	foreign.Owner = testutil.NewRandomKey(t)

	malformed := &lending.RawAccount{Address: testutil.NewRandomKey(t), Data: []byte{testKindMarket, 1, 2}}
	unknown := &lending.RawAccount{Address: testutil.NewRandomKey(t), Data: []byte{9}}
	config := &lending.RawAccount{Address: testutil.NewRandomKey(t), Data: []byte{testKindLendingMarket}}

	res, err := env.registry.Apply(lending.ProtocolSolend, foreign, malformed, unknown, config)
	require.NoError(t, err)
	assert.Empty(t, res.Updated)
	require.Len(t, res.Failed, 3)
	require.Len(t, res.Ignored, 1)
	assert.EqualValues(t, config.Address, res.Ignored[0])

	testutil.AssertErrorIs(t, res.Err(), lending.ErrMalformedAccount)
	var owner *lending.MalformedAccountError
	require.True(t, errors.As(res.Err(), &owner))
	assert.Equal(t, "owner", owner.Field)

	var addressed *lending.MalformedAccountError
	require.True(t, errors.As(res.Failed[base58.Encode(unknown.Address)], &addressed))
	assert.EqualValues(t, unknown.Address, addressed.Address)

	_, err = env.registry.Apply(lending.ProtocolDrift, config)
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)
}

func TestGetPosition_AttachesSnapshots(t *testing.T) {
	env := setup(t)
	first := testutil.NewRandomKey(t)
	second := testutil.NewRandomKey(t)
	address := testutil.NewRandomKey(t)

	_, err := env.registry.Apply(lending.ProtocolSolend,
		env.marketRaw(t, first, testutil.NewRandomKey(t), 0),
		env.positionRaw(address, first, second),
	)
	require.NoError(t, err)

	// The second leg's market is not cached yet.
	_, err = env.registry.GetPosition(lending.ProtocolSolend, env.owner, env.set)
	testutil.AssertErrorIs(t, err, lending.ErrNotCached)
	var notCached *lending.NotCachedError
	require.True(t, errors.As(err, &notCached))
	assert.Equal(t, base58.Encode(second), notCached.Key)

	_, err = env.registry.Apply(lending.ProtocolSolend, env.marketRaw(t, second, testutil.NewRandomKey(t), 0))
	require.NoError(t, err)

	position, err := env.registry.GetPosition(lending.ProtocolSolend, env.owner, env.set)
	require.NoError(t, err)
	require.Len(t, position.Deposits, 2)
	for _, leg := range position.Deposits {
		require.NotNil(t, leg.Snapshot)
		assert.EqualValues(t, leg.Market, leg.Snapshot.Address)
	}

	byAddress, err := env.registry.GetPositionByAddress(lending.ProtocolSolend, address)
	require.NoError(t, err)
	assert.EqualValues(t, position.Address, byAddress.Address)

	pinned, err := env.registry.Position(lending.ProtocolSolend, lending.PositionRef{Address: address})
	require.NoError(t, err)
	assert.EqualValues(t, address, pinned.Address)

	// The cached entry is not mutated by reads.
	stored, ok := env.registry.positions.get(entryKey(lending.ProtocolSolend, address))
	require.True(t, ok)
	for _, leg := range stored.Deposits {
		assert.Nil(t, leg.Snapshot)
	}

	_, err = env.registry.GetPosition(lending.ProtocolSolend, testutil.NewRandomKey(t), env.set)
	testutil.AssertErrorIs(t, err, lending.ErrNotCached)
}

func TestRefresh(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	present := testutil.NewRandomKey(t)
	missing := testutil.NewRandomKey(t)
	failing := testutil.NewRandomKey(t)

	env.fetcher.Put(env.marketRaw(t, present, testutil.NewRandomKey(t), 0))
	env.fetcher.FailWith(failing, errors.New("connection reset"))

	res, err := env.registry.Refresh(ctx, lending.ProtocolSolend, present, missing, failing)
	require.NoError(t, err)
	assert.Len(t, res.Updated, 1)
	require.Len(t, res.Missing, 1)
	assert.EqualValues(t, missing, res.Missing[0])
	require.Len(t, res.Failed, 1)
	testutil.AssertErrorIs(t, res.Failed[base58.Encode(failing)], lending.ErrFetch)
	assert.Equal(t, 3, env.fetcher.Calls())

	_, err = env.registry.GetMarket(lending.ProtocolSolend, present)
	require.NoError(t, err)
	_, err = env.registry.GetMarket(lending.ProtocolSolend, failing)
	testutil.AssertErrorIs(t, err, lending.ErrNotCached)

	_, err = env.registry.Refresh(ctx, lending.ProtocolMarginfi, present)
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)

	detached := New(nil, []lending.Adapter{env.adapter}, WithIsolatedMetrics())
	_, err = detached.Refresh(ctx, lending.ProtocolSolend, present)
	assert.Error(t, err)
}

func TestRefresh_Concurrency(t *testing.T) {
	env := setup(t)
	env.registry.concurrency = 2

	var addresses []ed25519.PublicKey
	for i := 0; i < 20; i++ {
		address := testutil.NewRandomKey(t)
		env.fetcher.Put(env.marketRaw(t, address, testutil.NewRandomKey(t), 0))
		addresses = append(addresses, address)
	}

	res, err := env.registry.Refresh(context.Background(), lending.ProtocolSolend, addresses...)
	require.NoError(t, err)
	assert.Len(t, res.Updated, 20)
	assert.Len(t, env.registry.Markets(lending.ProtocolSolend), 20)
}

func TestRefreshPosition(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	ref := lending.PositionRef{Owner: env.owner, MarketSet: env.set}

	position, err := env.registry.RefreshPosition(ctx, lending.ProtocolSolend, ref)
	require.NoError(t, err)
	assert.False(t, position.Exists)
	expected, err := env.adapter.PositionAddress(ref)
	require.NoError(t, err)
	assert.EqualValues(t, expected, position.Address)

	cached, err := env.registry.GetPosition(lending.ProtocolSolend, env.owner, env.set)
	require.NoError(t, err)
	assert.False(t, cached.Exists)

	market := testutil.NewRandomKey(t)
	env.fetcher.Put(env.marketRaw(t, market, testutil.NewRandomKey(t), 0))
	_, err = env.registry.Refresh(ctx, lending.ProtocolSolend, market)
	require.NoError(t, err)

	env.registry.now = func() time.Time { return env.base.Add(time.Second) }
	raw := env.positionRaw(expected, market)
	raw.FetchedAt = env.base.Add(time.Second)
	env.fetcher.Put(raw)

	position, err = env.registry.RefreshPosition(ctx, lending.ProtocolSolend, ref)
	require.NoError(t, err)
	assert.True(t, position.Exists)

	cached, err = env.registry.GetPosition(lending.ProtocolSolend, env.owner, env.set)
	require.NoError(t, err)
	assert.True(t, cached.Exists)
	require.Len(t, cached.Deposits, 1)
	assert.NotNil(t, cached.Deposits[0].Snapshot)

	// An account held by someone else is refused.
	other := lending.PositionRef{Owner: testutil.NewRandomKey(t), MarketSet: env.set, Address: expected}
	_, err = env.registry.RefreshPosition(ctx, lending.ProtocolSolend, other)
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)

	env.fetcher.FailWith(expected, errors.New("timeout"))
	_, err = env.registry.RefreshPosition(ctx, lending.ProtocolSolend, ref)
	testutil.AssertErrorIs(t, err, lending.ErrFetch)
}

func TestForget(t *testing.T) {
	env := setup(t)
	market := testutil.NewRandomKey(t)
	position := testutil.NewRandomKey(t)

	_, err := env.registry.Apply(lending.ProtocolSolend,
		env.marketRaw(t, market, testutil.NewRandomKey(t), 0),
		env.positionRaw(position, market),
	)
	require.NoError(t, err)

	assert.True(t, env.registry.Forget(lending.ProtocolSolend, position))
	_, err = env.registry.GetPosition(lending.ProtocolSolend, env.owner, env.set)
	testutil.AssertErrorIs(t, err, lending.ErrNotCached)

	assert.True(t, env.registry.Forget(lending.ProtocolSolend, market))
	_, err = env.registry.GetMarket(lending.ProtocolSolend, market)
	testutil.AssertErrorIs(t, err, lending.ErrNotCached)

	assert.False(t, env.registry.Forget(lending.ProtocolSolend, market))

	markets, positions := env.registry.Len()
	assert.Zero(t, markets)
	assert.Zero(t, positions)
}

func TestConcurrentReplace(t *testing.T) {
	env := setup(t)
	address := testutil.NewRandomKey(t)

	const writers = 8
	const writes = 50

	// The mint of every write encodes its age so readers can check that a
	// market is never observed half replaced.
	mints := make(map[string]time.Duration)
	raws := make([][]*lending.RawAccount, writers)
	for w := 0; w < writers; w++ {
		for i := 0; i < writes; i++ {
			age := time.Duration(w*writes+i) * time.Millisecond
			mint := testutil.NewRandomKey(t)
			mints[string(mint)] = age
			raws[w] = append(raws[w], env.marketRaw(t, address, mint, age))
		}
	}

	var wg base.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(batch []*lending.RawAccount) {
			defer wg.Done()
			for _, raw := range batch {
				_, _ = env.registry.Apply(lending.ProtocolSolend, raw)
			}
		}(raws[w])
	}

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < writes; i++ {
				market, err := env.registry.GetMarket(lending.ProtocolSolend, address)
				if err != nil {
					continue
				}
				age, ok := mints[string(market.Mint)]
				assert.True(t, ok)
				assert.Equal(t, env.base.Add(-age), market.FetchedAt)
			}
		}()
	}
	wg.Wait()

	// The youngest write always wins regardless of interleaving.
	market, err := env.registry.GetMarket(lending.ProtocolSolend, address)
	require.NoError(t, err)
	assert.Equal(t, env.base, market.FetchedAt)
}
