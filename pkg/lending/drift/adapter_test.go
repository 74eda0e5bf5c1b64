package drift

import (
	"crypto/ed25519"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/solana/token"
	"github.com/lendsdk/lendsdk/pkg/testutil"
)

// Scaled units of one whole token of a six decimal mint at an index of one.
const scaledPerToken = 1_000_000_000

type testEnv struct {
	adapter    *Adapter
	owner      ed25519.PublicKey
	state      ed25519.PublicKey
	collateral *lending.Market
	debt       *lending.Market
}

func setup(t *testing.T) *testEnv {
	adapter := New()
	state, err := adapter.State()
	require.NoError(t, err)

	env := &testEnv{
		adapter: adapter,
		owner:   testutil.NewRandomKey(t),
		state:   state,
	}
	env.collateral = env.market(t, newTestSpotMarket(t, 1))
	env.debt = env.market(t, newTestSpotMarket(t, 2))
	return env
}

func newTestSpotMarket(t *testing.T, index uint16) *SpotMarket {
	keys := testutil.GenerateSolanaKeys(t, 3)
	address, err := SpotMarketAddress(ProgramKey, index)
	require.NoError(t, err)

	m := &SpotMarket{
		Pubkey:                     address,
		Oracle:                     keys[0],
		Mint:                       keys[1],
		Vault:                      keys[2],
		MarketIndex:                index,
		Decimals:                   6,
		Status:                     MarketStatusActive,
		InitialAssetWeight:         8_000,
		MaintenanceAssetWeight:     9_000,
		InitialLiabilityWeight:     12_000,
		MaintenanceLiabilityWeight: 11_000,
	}
	m.HistoricalOracleData.LastOraclePrice = 1_000_000
	m.CumulativeDepositInterest.SetUint64(10_000_000_000)
	m.CumulativeBorrowInterest.SetUint64(10_000_000_000)
	m.DepositBalance.SetUint64(1_000_000_000_000_000)
	return m
}

func (e *testEnv) market(t *testing.T, m *SpotMarket) *lending.Market {
	return m.ToMarket(m.Pubkey, e.state)
}

func (e *testEnv) ref() lending.PositionRef {
	return lending.PositionRef{Owner: e.owner, MarketSet: e.state}
}

func (e *testEnv) position(t *testing.T, deposits, borrows []lending.PositionLeg) *lending.Position {
	address, err := e.adapter.PositionAddress(e.ref())
	require.NoError(t, err)

	return &lending.Position{
		Protocol:           lending.ProtocolDrift,
		Address:            address,
		Owner:              e.owner,
		MarketSet:          e.state,
		Exists:             true,
		Deposits:           deposits,
		Borrows:            borrows,
		DepositedValue:     decimal.Zero,
		AllowedBorrowValue: decimal.Zero,
		BorrowedValue:      decimal.Zero,
		LiquidationValue:   decimal.Zero,
		MaxLegs:            MaxSpotPositions,
		FetchedAt:          time.Now(),
	}
}

func (e *testEnv) op(kind lending.OperationKind, market *lending.Market, amount uint64) *lending.Operation {
	return &lending.Operation{
		Protocol: lending.ProtocolDrift,
		Kind:     kind,
		Amount:   amount,
		Asset:    market.Mint,
		Market:   market.Address,
		Position: e.ref(),
	}
}

// leg builds a position leg holding whole tokens.
func leg(market *lending.Market, tokens int64) lending.PositionLeg {
	return lending.PositionLeg{
		Market:   market.Address,
		Amount:   decimal.NewFromInt(tokens * scaledPerToken),
		Snapshot: market,
	}
}

func labels(specs []*lending.InstructionSpec) []string {
	res := make([]string, len(specs))
	for i, spec := range specs {
		res[i] = spec.Label
	}
	return res
}

func assertRejected(t *testing.T, err error, reason lending.ReasonCode) {
	testutil.AssertErrorIs(t, err, lending.ErrOperationRejected)
	actual, ok := lending.ReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, reason, actual)
}

type balanceData struct {
	marketIndex uint16
	amount      uint64
	reduceOnly  bool
}

func decodeBalanceArgs(t *testing.T, data []byte) balanceData {
	require.Len(t, data, 8+2+8+1)
	return balanceData{
		marketIndex: binary.LittleEndian.Uint16(data[8:]),
		amount:      binary.LittleEndian.Uint64(data[10:]),
		reduceOnly:  data[18] == 1,
	}
}

func TestPositionAddress(t *testing.T) {
	env := setup(t)

	derived, err := env.adapter.PositionAddress(env.ref())
	require.NoError(t, err)

	expected, err := UserAddress(ProgramKey, env.owner, 0)
	require.NoError(t, err)
	assert.EqualValues(t, expected, derived)

	pinned := testutil.NewRandomKey(t)
	ref := env.ref()
	ref.Address = pinned
	actual, err := env.adapter.PositionAddress(ref)
	require.NoError(t, err)
	assert.Equal(t, pinned, actual)
}

func TestDecode(t *testing.T) {
	env := setup(t)

	m := newTestSpotMarket(t, 4)
	market, err := env.adapter.DecodeMarket(m.Pubkey, m.Marshal())
	require.NoError(t, err)
	assert.EqualValues(t, env.state, market.Group)
	assert.EqualValues(t, m.Mint, market.Mint)
	assert.EqualValues(t, 4, market.Native.(*SpotMarket).MarketIndex)

	user := &User{Authority: env.owner}
	user.SpotPositions[0] = SpotPosition{ScaledBalance: 10, MarketIndex: 4}
	address, err := env.adapter.PositionAddress(env.ref())
	require.NoError(t, err)

	position, err := env.adapter.DecodePosition(address, user.Marshal())
	require.NoError(t, err)
	require.Len(t, position.Deposits, 1)
	assert.EqualValues(t, m.Pubkey, position.Deposits[0].Market)

	_, err = env.adapter.DecodePosition(address, m.Marshal())
	testutil.AssertErrorIs(t, err, lending.ErrMalformedAccount)

	var malformed *lending.MalformedAccountError
	require.ErrorAs(t, err, &malformed)
	assert.EqualValues(t, address, malformed.Address)
}

func TestPrepare_DepositCreatesUser(t *testing.T) {
	env := setup(t)
	position := lending.NewEmptyPosition(lending.ProtocolDrift, env.ref(), time.Now())

	specs, err := env.adapter.Prepare(env.op(lending.OperationDeposit, env.collateral, 1_000_000), env.collateral, position)
	require.NoError(t, err)

	assert.Equal(t, []string{
		InstructionInitializeUserStats,
		InstructionInitializeUser,
		InstructionUpdateInterest,
		InstructionDeposit,
	}, labels(specs))

	user, err := UserAddress(ProgramKey, env.owner, 0)
	require.NoError(t, err)
	stats, err := UserStatsAddress(ProgramKey, env.owner)
	require.NoError(t, err)

	initStats := specs[0]
	assert.Equal(t, initializeUserStatsDiscriminator, initStats.Data)
	assert.EqualValues(t, stats, initStats.Accounts[0].Address)
	assert.True(t, initStats.Accounts[3].Role.Signer)

	initUser := specs[1]
	assert.EqualValues(t, user, initUser.Accounts[0].Address)
	assert.EqualValues(t, []byte{0, 0}, initUser.Data[8:10])
	assert.Equal(t, "Main Account", string(initUser.Data[10:22]))

	deposit := specs[3]
	assert.EqualValues(t, ProgramKey, deposit.Program)
	assert.Equal(t, balanceData{marketIndex: 1, amount: 1_000_000}, decodeBalanceArgs(t, deposit.Data))
	require.Len(t, deposit.Accounts, 9)
	assert.EqualValues(t, env.state, deposit.Accounts[0].Address)
	assert.EqualValues(t, user, deposit.Accounts[1].Address)
	assert.EqualValues(t, env.owner, deposit.Accounts[3].Address)
	assert.True(t, deposit.Accounts[3].Role.Signer)

	ata, err := token.GetAssociatedAccount(env.owner, env.collateral.Mint)
	require.NoError(t, err)
	assert.EqualValues(t, ata, deposit.Accounts[5].Address)
	assert.EqualValues(t, token.ProgramKey, deposit.Accounts[6].Address)

	// Oracle first, then the writable spot market.
	assert.EqualValues(t, env.collateral.Oracles[0], deposit.Accounts[7].Address)
	assert.EqualValues(t, env.collateral.Address, deposit.Accounts[8].Address)
	assert.True(t, deposit.Accounts[8].Role.Writable)

	for _, spec := range specs {
		assert.NotZero(t, spec.ComputeUnits)
	}
}

func TestPrepare_SubAccountSetup(t *testing.T) {
	env := setup(t)

	user, err := env.adapter.UserAddress(env.owner, 2)
	require.NoError(t, err)

	ref := env.ref()
	ref.Address = user
	position := lending.NewEmptyPosition(lending.ProtocolDrift, ref, time.Now())

	op := env.op(lending.OperationDeposit, env.collateral, 1)
	op.Position = ref

	specs, err := env.adapter.Prepare(op, env.collateral, position)
	require.NoError(t, err)
	assert.Equal(t, []string{
		InstructionInitializeUser,
		InstructionUpdateInterest,
		InstructionDeposit,
	}, labels(specs))
	assert.EqualValues(t, []byte{2, 0}, specs[0].Data[8:10])

	op.Position.Address = testutil.NewRandomKey(t)
	position = lending.NewEmptyPosition(lending.ProtocolDrift, op.Position, time.Now())
	_, err = env.adapter.Prepare(op, env.collateral, position)
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)
}

func TestPrepare_Borrow(t *testing.T) {
	env := setup(t)
	position := env.position(t, []lending.PositionLeg{leg(env.collateral, 100)}, nil)

	specs, err := env.adapter.Prepare(env.op(lending.OperationBorrow, env.debt, 10_000_000), env.debt, position)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"create_associated_token_account_idempotent",
		InstructionUpdateInterest,
		InstructionWithdraw,
	}, labels(specs))

	withdraw := specs[2]
	assert.Equal(t, balanceData{marketIndex: 2, amount: 10_000_000}, decodeBalanceArgs(t, withdraw.Data))

	signer, err := SignerAddress(ProgramKey)
	require.NoError(t, err)
	require.Len(t, withdraw.Accounts, 12)
	assert.EqualValues(t, signer, withdraw.Accounts[5].Address)

	// Oracles of the held and the target market, then both markets with only
	// the target writable.
	assert.EqualValues(t, env.collateral.Oracles[0], withdraw.Accounts[8].Address)
	assert.EqualValues(t, env.debt.Oracles[0], withdraw.Accounts[9].Address)
	assert.EqualValues(t, env.collateral.Address, withdraw.Accounts[10].Address)
	assert.False(t, withdraw.Accounts[10].Role.Writable)
	assert.EqualValues(t, env.debt.Address, withdraw.Accounts[11].Address)
	assert.True(t, withdraw.Accounts[11].Role.Writable)
	assert.EqualValues(t, computeWithdraw+2*computePerMarket, withdraw.ComputeUnits)
}

func TestPrepare_BorrowInsufficientCollateral(t *testing.T) {
	env := setup(t)
	position := env.position(t, []lending.PositionLeg{leg(env.collateral, 100)}, nil)

	// 100 tokens allow 80; 70 tokens of debt weigh 84.
	_, err := env.adapter.Prepare(env.op(lending.OperationBorrow, env.debt, 70_000_000), env.debt, position)
	assertRejected(t, err, lending.ReasonInsufficientCollateral)

	_, err = env.adapter.Prepare(env.op(lending.OperationBorrow, env.debt, 60_000_000), env.debt, position)
	require.NoError(t, err)

	empty := lending.NewEmptyPosition(lending.ProtocolDrift, env.ref(), time.Now())
	_, err = env.adapter.Prepare(env.op(lending.OperationBorrow, env.debt, 1), env.debt, empty)
	assertRejected(t, err, lending.ReasonInsufficientCollateral)
}

func TestPrepare_Withdraw(t *testing.T) {
	env := setup(t)
	position := env.position(t, []lending.PositionLeg{leg(env.collateral, 100)}, nil)

	specs, err := env.adapter.Prepare(env.op(lending.OperationWithdraw, env.collateral, 40_000_000), env.collateral, position)
	require.NoError(t, err)
	assert.Equal(t, balanceData{marketIndex: 1, amount: 40_000_000, reduceOnly: true}, decodeBalanceArgs(t, specs[len(specs)-1].Data))

	_, err = env.adapter.Prepare(env.op(lending.OperationWithdraw, env.collateral, 101_000_000), env.collateral, position)
	assertRejected(t, err, lending.ReasonNoDeposit)

	op := env.op(lending.OperationWithdraw, env.collateral, 0)
	op.All = true
	specs, err = env.adapter.Prepare(op, env.collateral, position)
	require.NoError(t, err)
	assert.Equal(t, balanceData{marketIndex: 1, amount: math.MaxUint64, reduceOnly: true}, decodeBalanceArgs(t, specs[len(specs)-1].Data))

	_, err = env.adapter.Prepare(env.op(lending.OperationWithdraw, env.debt, 1), env.debt, position)
	assertRejected(t, err, lending.ReasonNoDeposit)
}

func TestPrepare_Repay(t *testing.T) {
	env := setup(t)
	position := env.position(t,
		[]lending.PositionLeg{leg(env.collateral, 100)},
		[]lending.PositionLeg{leg(env.debt, 10)},
	)

	specs, err := env.adapter.Prepare(env.op(lending.OperationRepay, env.debt, 5_000_000), env.debt, position)
	require.NoError(t, err)
	assert.Equal(t, []string{InstructionUpdateInterest, InstructionDeposit}, labels(specs))
	assert.Equal(t, balanceData{marketIndex: 2, amount: 5_000_000, reduceOnly: true}, decodeBalanceArgs(t, specs[1].Data))

	op := env.op(lending.OperationRepay, env.debt, 10_000_000)
	op.All = true
	specs, err = env.adapter.Prepare(op, env.debt, position)
	require.NoError(t, err)
	assert.Equal(t, balanceData{marketIndex: 2, amount: math.MaxUint64, reduceOnly: true}, decodeBalanceArgs(t, specs[1].Data))

	_, err = env.adapter.Prepare(env.op(lending.OperationRepay, env.collateral, 1), env.collateral, position)
	assertRejected(t, err, lending.ReasonNoBorrow)
}

func TestPrepare_PausedOperations(t *testing.T) {
	env := setup(t)
	position := env.position(t, []lending.PositionLeg{leg(env.collateral, 100)}, nil)

	paused := newTestSpotMarket(t, 5)
	paused.PausedOperations = PausedDeposit
	market := env.market(t, paused)
	_, err := env.adapter.Prepare(env.op(lending.OperationDeposit, market, 1), market, position)
	assertRejected(t, err, lending.ReasonMarketInactive)

	paused.PausedOperations = PausedWithdraw
	market = env.market(t, paused)
	_, err = env.adapter.Prepare(env.op(lending.OperationBorrow, market, 1), market, position)
	assertRejected(t, err, lending.ReasonMarketInactive)
	_, err = env.adapter.Prepare(env.op(lending.OperationDeposit, market, 1), market, position)
	require.NoError(t, err)

	paused.PausedOperations = 0
	paused.Status = MarketStatusWithdrawPaused
	market = env.market(t, paused)
	_, err = env.adapter.Prepare(env.op(lending.OperationBorrow, market, 1), market, position)
	assertRejected(t, err, lending.ReasonMarketInactive)

	paused.Status = MarketStatusDelisted
	market = env.market(t, paused)
	_, err = env.adapter.Prepare(env.op(lending.OperationDeposit, market, 1), market, position)
	assertRejected(t, err, lending.ReasonMarketInactive)
}

func TestPrepare_UserStatus(t *testing.T) {
	env := setup(t)
	position := env.position(t, []lending.PositionLeg{leg(env.collateral, 100)}, nil)
	position.Native = &User{Authority: env.owner, Status: UserBeingLiquidated}

	_, err := env.adapter.Prepare(env.op(lending.OperationBorrow, env.debt, 1), env.debt, position)
	assertRejected(t, err, lending.ReasonUnsupportedOperation)

	_, err = env.adapter.Prepare(env.op(lending.OperationDeposit, env.debt, 1), env.debt, position)
	require.NoError(t, err)
}

func TestPrepare_PositionFull(t *testing.T) {
	env := setup(t)

	var deposits []lending.PositionLeg
	for i := 0; i < MaxSpotPositions; i++ {
		deposits = append(deposits, leg(env.market(t, newTestSpotMarket(t, uint16(10+i))), 1))
	}
	position := env.position(t, deposits, nil)

	_, err := env.adapter.Prepare(env.op(lending.OperationDeposit, env.collateral, 1), env.collateral, position)
	assertRejected(t, err, lending.ReasonPositionFull)

	existing := deposits[0].Snapshot
	_, err = env.adapter.Prepare(env.op(lending.OperationDeposit, existing, 1), existing, position)
	require.NoError(t, err)
}

func TestPrepare_MissingLegSnapshot(t *testing.T) {
	env := setup(t)
	deposit := leg(env.collateral, 100)
	deposit.Snapshot = nil
	position := env.position(t, []lending.PositionLeg{deposit}, nil)

	_, err := env.adapter.Prepare(env.op(lending.OperationDeposit, env.debt, 1), env.debt, position)
	testutil.AssertErrorIs(t, err, lending.ErrNotCached)
}

func TestPrepare_MarketChecks(t *testing.T) {
	env := setup(t)
	position := lending.NewEmptyPosition(lending.ProtocolDrift, env.ref(), time.Now())

	foreign := *env.collateral
	foreign.Native = nil
	_, err := env.adapter.Prepare(env.op(lending.OperationDeposit, &foreign, 1), &foreign, position)
	assertRejected(t, err, lending.ReasonMarketMismatch)

	limited := newTestSpotMarket(t, 6)
	limited.MaxTokenDeposits = 1_000_000_000_000
	market := env.market(t, limited)
	_, err = env.adapter.Prepare(env.op(lending.OperationDeposit, market, 1), market, position)
	assertRejected(t, err, lending.ReasonDepositLimitExceeded)

	dry := newTestSpotMarket(t, 7)
	dry.BorrowBalance = dry.DepositBalance
	market = env.market(t, dry)
	owned := env.position(t, []lending.PositionLeg{leg(env.collateral, 100)}, nil)
	_, err = env.adapter.Prepare(env.op(lending.OperationBorrow, market, 1), market, owned)
	assertRejected(t, err, lending.ReasonInsufficientLiquidity)
}

func TestPrepare_Liquidate(t *testing.T) {
	env := setup(t)
	liquidator := testutil.NewRandomKey(t)

	violatorRef := env.ref()
	violator := env.position(t,
		[]lending.PositionLeg{leg(env.collateral, 100)},
		[]lending.PositionLeg{leg(env.debt, 80)},
	)

	op := &lending.Operation{
		Protocol: lending.ProtocolDrift,
		Kind:     lending.OperationLiquidate,
		Amount:   10_000_000,
		Market:   env.debt.Address,
		Position: lending.PositionRef{Owner: liquidator, MarketSet: env.state},
		Liquidation: &lending.LiquidationParams{
			Violator:         violatorRef,
			CollateralMarket: env.collateral.Address,
		},
	}

	// Debt of 80 weighs 96 against a maintenance allowance of 90.
	specs, err := env.adapter.Prepare(op, env.debt, violator)
	require.NoError(t, err)
	assert.Equal(t, []string{
		InstructionUpdateInterest,
		InstructionUpdateInterest,
		InstructionLiquidateSpot,
	}, labels(specs))

	liquidate := specs[2]
	assert.Equal(t, liquidateSpotDiscriminator, liquidate.Data[:8])
	assert.EqualValues(t, 1, binary.LittleEndian.Uint16(liquidate.Data[8:]))
	assert.EqualValues(t, 2, binary.LittleEndian.Uint16(liquidate.Data[10:]))
	assert.EqualValues(t, 10_000_000, binary.LittleEndian.Uint64(liquidate.Data[12:]))
	assert.EqualValues(t, 0, liquidate.Data[len(liquidate.Data)-1])

	liquidatorUser, err := UserAddress(ProgramKey, liquidator, 0)
	require.NoError(t, err)
	assert.True(t, liquidate.Accounts[1].Role.Signer)
	assert.EqualValues(t, liquidator, liquidate.Accounts[1].Address)
	assert.EqualValues(t, liquidatorUser, liquidate.Accounts[2].Address)
	assert.EqualValues(t, violator.Address, liquidate.Accounts[4].Address)

	// Two oracles and two writable markets.
	require.Len(t, liquidate.Accounts, 6+4)
	assert.True(t, liquidate.Accounts[8].Role.Writable)
	assert.True(t, liquidate.Accounts[9].Role.Writable)

	op.Liquidation.MinReceived = 5
	_, err = env.adapter.Prepare(op, env.debt, violator)
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)
	op.Liquidation.MinReceived = 0

	healthy := env.position(t,
		[]lending.PositionLeg{leg(env.collateral, 100)},
		[]lending.PositionLeg{leg(env.debt, 10)},
	)
	_, err = env.adapter.Prepare(op, env.debt, healthy)
	assertRejected(t, err, lending.ReasonPositionHealthy)

	op.Liquidation.CollateralMarket = testutil.NewRandomKey(t)
	_, err = env.adapter.Prepare(op, env.debt, violator)
	assertRejected(t, err, lending.ReasonNoDeposit)
}

func TestPrepare_RefreshState(t *testing.T) {
	env := setup(t)
	position := env.position(t,
		[]lending.PositionLeg{leg(env.collateral, 100)},
		[]lending.PositionLeg{leg(env.debt, 10)},
	)

	op := &lending.Operation{
		Protocol: lending.ProtocolDrift,
		Kind:     lending.OperationRefreshState,
		Market:   env.debt.Address,
		Position: env.ref(),
	}

	specs, err := env.adapter.Prepare(op, env.debt, position)
	require.NoError(t, err)
	assert.Equal(t, []string{InstructionUpdateInterest, InstructionUpdateInterest}, labels(specs))
	assert.EqualValues(t, env.collateral.Address, specs[0].Accounts[1].Address)
	assert.EqualValues(t, env.debt.Address, specs[1].Accounts[1].Address)
	assert.EqualValues(t, env.debt.Native.(*SpotMarket).Vault, specs[1].Accounts[3].Address)

	empty := lending.NewEmptyPosition(lending.ProtocolDrift, env.ref(), time.Now())
	specs, err = env.adapter.Prepare(op, env.debt, empty)
	require.NoError(t, err)
	assert.Len(t, specs, 1)
}

func TestRequiredAccounts(t *testing.T) {
	env := setup(t)

	accounts, err := env.adapter.RequiredAccounts(env.op(lending.OperationDeposit, env.collateral, 1))
	require.NoError(t, err)

	user, err := env.adapter.PositionAddress(env.ref())
	require.NoError(t, err)
	stats, err := UserStatsAddress(ProgramKey, env.owner)
	require.NoError(t, err)

	assert.True(t, accounts[0].Role.Signer)
	assert.EqualValues(t, env.state, accounts[1].Address)
	assert.EqualValues(t, user, accounts[2].Address)
	assert.EqualValues(t, stats, accounts[3].Address)
	assert.EqualValues(t, env.collateral.Address, accounts[4].Address)
	assert.Len(t, accounts, 6)
}

func TestExtensions(t *testing.T) {
	env := setup(t)

	spec, err := env.adapter.InitializeUserStats(env.owner, nil)
	require.NoError(t, err)
	assert.Equal(t, InstructionInitializeUserStats, spec.Label)
	assert.EqualValues(t, env.owner, spec.Accounts[3].Address)

	_, err = env.adapter.InitializeUserStats(nil, nil)
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)

	amount, err := env.adapter.TokenAmount(decimal.NewFromInt(2*scaledPerToken), env.collateral, BalanceDeposit)
	require.NoError(t, err)
	assert.Equal(t, "2000000", amount.String())

	_, err = env.adapter.TokenAmount(decimal.NewFromInt(-1), env.collateral, BalanceDeposit)
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)

	specs, err := env.adapter.UpdateInterest(env.collateral, env.debt)
	require.NoError(t, err)
	assert.Len(t, specs, 2)

	paused := newTestSpotMarket(t, 9)
	paused.PausedOperations = PausedUpdateCumulativeInterest
	_, err = env.adapter.UpdateInterest(env.market(t, paused))
	assertRejected(t, err, lending.ReasonMarketInactive)
}

func TestPrepare_WithdrawAllWithDebt(t *testing.T) {
	env := setup(t)
	position := env.position(t,
		[]lending.PositionLeg{leg(env.collateral, 100)},
		[]lending.PositionLeg{leg(env.debt, 10)},
	)

	op := env.op(lending.OperationWithdraw, env.collateral, 0)
	op.All = true

	specs, err := env.adapter.Prepare(op, env.collateral, position)
	assertRejected(t, err, lending.ReasonInsufficientCollateral)
	assert.Nil(t, specs)
}
