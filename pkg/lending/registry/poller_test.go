package registry

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/rate"
	"github.com/lendsdk/lendsdk/pkg/solana"
	"github.com/lendsdk/lendsdk/pkg/testutil"
)

func TestPoller_Poll(t *testing.T) {
	env := setup(t)
	poller := NewPoller(env.registry, time.Second)

	market := testutil.NewRandomKey(t)
	env.fetcher.Put(env.marketRaw(t, market, testutil.NewRandomKey(t), 0))

	poller.Track(lending.ProtocolSolend, market)
	poller.TrackPosition(lending.ProtocolSolend, lending.PositionRef{Owner: env.owner, MarketSet: env.set})

	require.NoError(t, poller.Poll(context.Background()))

	_, err := env.registry.GetMarket(lending.ProtocolSolend, market)
	require.NoError(t, err)
	position, err := env.registry.GetPosition(lending.ProtocolSolend, env.owner, env.set)
	require.NoError(t, err)
	assert.False(t, position.Exists)

	failing := testutil.NewRandomKey(t)
	env.fetcher.FailWith(failing, errors.New("unavailable"))
	poller.Track(lending.ProtocolSolend, failing)
	testutil.AssertErrorIs(t, poller.Poll(context.Background()), lending.ErrFetch)

	poller.Untrack(lending.ProtocolSolend, failing)
	require.NoError(t, poller.Poll(context.Background()))
}

func TestPoller_StartStop(t *testing.T) {
	env := setup(t)
	poller := NewPoller(env.registry, time.Second)

	market := testutil.NewRandomKey(t)
	env.fetcher.Put(env.marketRaw(t, market, testutil.NewRandomKey(t), 0))
	poller.Track(lending.ProtocolSolend, market)

	assert.Error(t, poller.Start("not a schedule"))

	require.NoError(t, poller.Start("@every 1s"))
	assert.Error(t, poller.Start("@every 1s"))

	require.NoError(t, testutil.WaitFor(5*time.Second, 50*time.Millisecond, func() bool {
		_, err := env.registry.GetMarket(lending.ProtocolSolend, market)
		return err == nil
	}))
	poller.Stop()
	poller.Stop()
}

type testAccountReader struct {
	info     solana.AccountInfo
	accounts map[string]*solana.AccountInfo
	err      error
}

func (r *testAccountReader) GetAccountInfo(context.Context, ed25519.PublicKey, solana.Commitment) (solana.AccountInfo, error) {
	return r.info, r.err
}

func (r *testAccountReader) GetMultipleAccounts(_ context.Context, accounts []ed25519.PublicKey, _ solana.Commitment) ([]*solana.AccountInfo, error) {
	if r.err != nil {
		return nil, r.err
	}
	infos := make([]*solana.AccountInfo, len(accounts))
	for i, account := range accounts {
		infos[i] = r.accounts[string(account)]
	}
	return infos, nil
}

func TestRPCFetcher(t *testing.T) {
	address := testutil.NewRandomKey(t)
	owner := testutil.NewRandomKey(t)
	reader := &testAccountReader{info: solana.AccountInfo{Data: []byte{1, 2, 3}, Owner: owner, Slot: 99}}

	fetcher := NewRPCFetcher(reader, nil, "mainnet")
	raw, err := fetcher.FetchRaw(context.Background(), address)
	require.NoError(t, err)
	assert.EqualValues(t, address, raw.Address)
	assert.EqualValues(t, owner, raw.Owner)
	assert.Equal(t, []byte{1, 2, 3}, raw.Data)
	assert.EqualValues(t, 99, raw.Slot)
	assert.False(t, raw.FetchedAt.IsZero())

	reader.err = solana.ErrNoAccountInfo
	_, err = fetcher.FetchRaw(context.Background(), address)
	testutil.AssertErrorIs(t, err, lending.ErrAccountNotFound)

	reader.err = errors.New("503")
	_, err = fetcher.WithCommitment(solana.CommitmentFinalized).FetchRaw(context.Background(), address)
	testutil.AssertErrorIs(t, err, lending.ErrFetch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reader.err = nil
	_, err = fetcher.FetchRaw(ctx, address)
	testutil.AssertErrorIs(t, err, lending.ErrFetch)
}

func TestRefresh_Batch(t *testing.T) {
	env := setup(t)

	market := testutil.NewRandomKey(t)
	missing := testutil.NewRandomKey(t)
	raw := env.marketRaw(t, market, testutil.NewRandomKey(t), 0)

	reader := &testAccountReader{accounts: map[string]*solana.AccountInfo{
		string(market): {Data: raw.Data, Owner: raw.Owner, Slot: 12},
	}}
	registry := New(NewRPCFetcher(reader, nil, "mainnet"), []lending.Adapter{env.adapter}, WithIsolatedMetrics())

	res, err := registry.Refresh(context.Background(), lending.ProtocolSolend, market, missing)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	require.Len(t, res.Updated, 1)
	require.Len(t, res.Missing, 1)
	assert.EqualValues(t, missing, res.Missing[0])

	cached, err := registry.GetMarket(lending.ProtocolSolend, market)
	require.NoError(t, err)
	assert.EqualValues(t, 12, cached.Slot)

	reader.err = errors.New("node unavailable")
	res, err = registry.Refresh(context.Background(), lending.ProtocolSolend, market, missing)
	require.NoError(t, err)
	assert.Len(t, res.Failed, 2)
	testutil.AssertErrorIs(t, res.Err(), lending.ErrFetch)

	// The failed batch leaves the cached entry in place.
	_, err = registry.GetMarket(lending.ProtocolSolend, market)
	require.NoError(t, err)
}

type shortBatchFetcher struct {
	*MemoryFetcher
}

func (f *shortBatchFetcher) FetchRawBatch(ctx context.Context, addresses []ed25519.PublicKey) ([]*lending.RawAccount, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	raw, err := f.FetchRaw(ctx, addresses[0])
	if err != nil {
		return nil, err
	}
	return []*lending.RawAccount{raw}, nil
}

func TestRefresh_ShortBatch(t *testing.T) {
	env := setup(t)

	market := testutil.NewRandomKey(t)
	dropped := testutil.NewRandomKey(t)
	env.fetcher.Put(env.marketRaw(t, market, testutil.NewRandomKey(t), 0))

	registry := New(&shortBatchFetcher{env.fetcher}, []lending.Adapter{env.adapter}, WithIsolatedMetrics())

	res, err := registry.Refresh(context.Background(), lending.ProtocolSolend, market, dropped)
	require.NoError(t, err)
	assert.Empty(t, res.Updated)
	assert.Empty(t, res.Missing)
	assert.Len(t, res.Failed, 2)
	testutil.AssertErrorIs(t, res.Err(), lending.ErrFetch)

	_, err = registry.GetMarket(lending.ProtocolSolend, market)
	testutil.AssertErrorIs(t, err, lending.ErrNotCached)
}

func TestMemoryFetcher(t *testing.T) {
	fetcher := NewMemoryFetcher()
	address := testutil.NewRandomKey(t)

	_, err := fetcher.FetchRaw(context.Background(), address)
	testutil.AssertErrorIs(t, err, lending.ErrAccountNotFound)

	data := []byte{1, 2}
	fetcher.Put(&lending.RawAccount{Address: address, Data: data})
	data[0] = 9

	raw, err := fetcher.FetchRaw(context.Background(), address)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, raw.Data)

	fetcher.Delete(address)
	_, err = fetcher.FetchRaw(context.Background(), address)
	testutil.AssertErrorIs(t, err, lending.ErrAccountNotFound)
	assert.Equal(t, 3, fetcher.Calls())
}

func TestShardedFetcher(t *testing.T) {
	_, err := NewShardedFetcher(nil)
	assert.Error(t, err)

	primary := NewMemoryFetcher()
	secondary := NewMemoryFetcher()
	fetcher, err := NewShardedFetcher(map[string]lending.Fetcher{
		"primary":   primary,
		"secondary": secondary,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"primary", "secondary"}, fetcher.Endpoints())

	addresses := make([]ed25519.PublicKey, 32)
	for i := range addresses {
		addresses[i] = testutil.NewRandomKey(t)
		primary.Put(&lending.RawAccount{Address: addresses[i], Data: []byte{1}})
		secondary.Put(&lending.RawAccount{Address: addresses[i], Data: []byte{2}})
	}

	seen := make(map[byte]int)
	for _, address := range addresses {
		raw, err := fetcher.FetchRaw(context.Background(), address)
		require.NoError(t, err)
		seen[raw.Data[0]]++

		again, err := fetcher.FetchRaw(context.Background(), address)
		require.NoError(t, err)
		assert.Equal(t, raw.Data, again.Data)
	}
	assert.Equal(t, 2*len(addresses), primary.Calls()+secondary.Calls())
	assert.Len(t, seen, 2)
}

func TestShardedFetcher_Batch(t *testing.T) {
	primary := NewMemoryFetcher()
	secondary := NewMemoryFetcher()
	fetcher, err := NewShardedFetcher(map[string]lending.Fetcher{
		"primary":   primary,
		"secondary": secondary,
	})
	require.NoError(t, err)

	addresses := make([]ed25519.PublicKey, 16)
	for i := range addresses {
		addresses[i] = testutil.NewRandomKey(t)
		if i%4 == 0 {
			continue
		}
		primary.Put(&lending.RawAccount{Address: addresses[i], Data: []byte{byte(i)}})
		secondary.Put(&lending.RawAccount{Address: addresses[i], Data: []byte{byte(i)}})
	}

	raws, err := fetcher.FetchRawBatch(context.Background(), addresses)
	require.NoError(t, err)
	require.Len(t, raws, len(addresses))
	for i, raw := range raws {
		if i%4 == 0 {
			assert.Nil(t, raw)
			continue
		}
		require.NotNil(t, raw)
		assert.EqualValues(t, addresses[i], raw.Address)
		assert.Equal(t, []byte{byte(i)}, raw.Data)
	}
	assert.Equal(t, len(addresses), primary.Calls()+secondary.Calls())

	primary.FailWith(addresses[1], errors.New("unavailable"))
	secondary.FailWith(addresses[1], errors.New("unavailable"))
	_, err = fetcher.FetchRawBatch(context.Background(), addresses)
	assert.Error(t, err)
}

func TestNewEndpointFetcher(t *testing.T) {
	_, err := NewEndpointFetcher(nil, nil)
	assert.Error(t, err)

	_, err = NewEndpointFetcher(map[string]string{"primary": ""}, nil)
	assert.Error(t, err)

	fetcher, err := NewEndpointFetcher(map[string]string{
		"primary":   "http://127.0.0.1:8899",
		"secondary": "http://127.0.0.1:8900",
	}, rate.NewLocalRateLimiter(10, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"primary", "secondary"}, fetcher.Endpoints())
}

// plainAdapter hides every method but those of lending.Adapter.
type plainAdapter struct {
	lending.Adapter
}

func groupedMarketData(mint, group ed25519.PublicKey) []byte {
	data := []byte{testKindMarket}
	data = append(data, mint...)
	return append(data, group...)
}

func TestRefreshMarketSet(t *testing.T) {
	env := setup(t)
	group := testutil.NewRandomKey(t)
	other := testutil.NewRandomKey(t)

	node := testutil.NewProgramNode(t, env.adapter.program, 55)
	keys := testutil.GenerateSolanaKeys(t, 4)
	node.Put(keys[0], groupedMarketData(testutil.NewRandomKey(t), group))
	node.Put(keys[1], groupedMarketData(testutil.NewRandomKey(t), group))
	node.Put(keys[2], groupedMarketData(testutil.NewRandomKey(t), other))
	node.Put(keys[3], env.positionRaw(keys[3]).Data)

	fetcher := NewRPCFetcher(solana.New(node.URL), nil, "mainnet")
	registry := New(fetcher, []lending.Adapter{env.adapter}, WithIsolatedMetrics())

	res, err := registry.RefreshMarketSet(context.Background(), lending.ProtocolSolend, group)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Len(t, res.Updated, 2)
	assert.Equal(t, 1, node.Calls())

	markets := registry.MarketSet(lending.ProtocolSolend, group)
	require.Len(t, markets, 2)
	for _, market := range markets {
		assert.EqualValues(t, group, market.Group)
		assert.EqualValues(t, 55, market.Slot)
		assert.Contains(t, []string{string(keys[0]), string(keys[1])}, string(market.Address))
	}
	assert.Empty(t, registry.MarketSet(lending.ProtocolSolend, other))

	_, err = registry.RefreshMarketSet(context.Background(), lending.ProtocolSolend, []byte{1})
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)

	node.FailWith(true)
	_, err = registry.RefreshMarketSet(context.Background(), lending.ProtocolSolend, group)
	testutil.AssertErrorIs(t, err, lending.ErrFetch)

	// A failed scan keeps what was discovered before.
	assert.Len(t, registry.MarketSet(lending.ProtocolSolend, group), 2)
}

func TestRefreshMarketSet_Unsupported(t *testing.T) {
	env := setup(t)
	group := testutil.NewRandomKey(t)

	plain := New(NewRPCFetcher(&testAccountReader{}, nil, "mainnet"), []lending.Adapter{&plainAdapter{env.adapter}}, WithIsolatedMetrics())
	_, err := plain.RefreshMarketSet(context.Background(), lending.ProtocolSolend, group)
	testutil.AssertErrorIs(t, err, lending.ErrUnsupportedProtocol)

	// The memory fetcher cannot scan programs.
	_, err = env.registry.RefreshMarketSet(context.Background(), lending.ProtocolSolend, group)
	assert.Error(t, err)

	// Neither can a reader without getProgramAccounts.
	reader := New(NewRPCFetcher(&testAccountReader{}, nil, "mainnet"), []lending.Adapter{env.adapter}, WithIsolatedMetrics())
	_, err = reader.RefreshMarketSet(context.Background(), lending.ProtocolSolend, group)
	testutil.AssertErrorIs(t, err, lending.ErrFetch)

	_, err = env.registry.RefreshMarketSet(context.Background(), lending.ProtocolKamino, group)
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)
}

func TestShardedFetcher_ScanProgram(t *testing.T) {
	program := testutil.NewRandomKey(t)
	node := testutil.NewProgramNode(t, program, 3)
	address := testutil.NewRandomKey(t)
	node.Put(address, []byte{1, 2, 3})

	fetcher, err := NewEndpointFetcher(map[string]string{"a": node.URL, "b": node.URL}, nil)
	require.NoError(t, err)

	raws, err := fetcher.ScanProgram(context.Background(), program, solana.DataSize(3))
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.EqualValues(t, address, raws[0].Address)
	assert.EqualValues(t, program, raws[0].Owner)
	assert.EqualValues(t, 3, raws[0].Slot)

	raws, err = fetcher.ScanProgram(context.Background(), program, solana.DataSize(4))
	require.NoError(t, err)
	assert.Empty(t, raws)
}

func TestPoller_TrackMarketSet(t *testing.T) {
	env := setup(t)
	group := testutil.NewRandomKey(t)

	node := testutil.NewProgramNode(t, env.adapter.program, 9)
	fetcher := NewRPCFetcher(solana.New(node.URL), nil, "mainnet")
	registry := New(fetcher, []lending.Adapter{env.adapter}, WithIsolatedMetrics())

	poller := NewPoller(registry, time.Second)
	poller.TrackMarketSet(lending.ProtocolSolend, group)

	require.NoError(t, poller.Poll(context.Background()))
	assert.Empty(t, registry.MarketSet(lending.ProtocolSolend, group))

	listed := testutil.NewRandomKey(t)
	node.Put(listed, groupedMarketData(testutil.NewRandomKey(t), group))

	require.NoError(t, poller.Poll(context.Background()))
	markets := registry.MarketSet(lending.ProtocolSolend, group)
	require.Len(t, markets, 1)
	assert.EqualValues(t, listed, markets[0].Address)
}
