package marginfi

import (
	"crypto/ed25519"
	"encoding/binary"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/testutil"
)

type testEnv struct {
	adapter    *Adapter
	owner      ed25519.PublicKey
	account    ed25519.PublicKey
	group      ed25519.PublicKey
	collateral *lending.Market
	debt       *lending.Market
}

func setup(t *testing.T) *testEnv {
	group := testutil.NewRandomKey(t)

	env := &testEnv{
		adapter: New(),
		owner:   testutil.NewRandomKey(t),
		account: testutil.NewRandomKey(t),
		group:   group,
	}
	env.collateral = newTestBank(t, group).ToMarket(testutil.NewRandomKey(t))
	env.debt = newTestBank(t, group).ToMarket(testutil.NewRandomKey(t))
	return env
}

// i80 encodes a whole number as I80F48.
func i80(v uint64) *uint256.Int {
	return new(uint256.Int).Lsh(uint256.NewInt(v), 48)
}

func newTestBank(t *testing.T, group ed25519.PublicKey) *Bank {
	keys := testutil.GenerateSolanaKeys(t, 4)

	bank := &Bank{
		Mint:                keys[0],
		MintDecimals:        6,
		Group:               group,
		AssetShareValue:     *i80(1),
		LiabilityShareValue: *i80(1),
		LiquidityVault:      keys[1],
		InsuranceVault:      keys[2],
		TotalAssetShares:    *i80(1_000_000_000_000),
	}
	bank.Config.AssetWeightInit = *new(uint256.Int).Lsh(uint256.NewInt(3), 46)
	bank.Config.AssetWeightMaint = *new(uint256.Int).Lsh(uint256.NewInt(7), 45)
	bank.Config.LiabilityWeightInit = *i80(1)
	bank.Config.LiabilityWeightMaint = *i80(1)
	bank.Config.OperationalState = BankOperational
	bank.Config.OracleKeys[0] = keys[3]
	return bank
}

func bankOfMarket(market *lending.Market) *Bank {
	return market.Native.(*Bank)
}

func (e *testEnv) ref() lending.PositionRef {
	return lending.PositionRef{Owner: e.owner, MarketSet: e.group, Address: e.account}
}

func (e *testEnv) position(deposits, borrows []lending.PositionLeg) *lending.Position {
	return &lending.Position{
		Protocol:           lending.ProtocolMarginfi,
		Address:            e.account,
		Owner:              e.owner,
		MarketSet:          e.group,
		Exists:             true,
		Deposits:           deposits,
		Borrows:            borrows,
		DepositedValue:     decimal.Zero,
		AllowedBorrowValue: decimal.Zero,
		BorrowedValue:      decimal.Zero,
		LiquidationValue:   decimal.Zero,
		MaxLegs:            MaxBalances,
		FetchedAt:          time.Now(),
	}
}

func (e *testEnv) op(kind lending.OperationKind, market *lending.Market, amount uint64) *lending.Operation {
	return &lending.Operation{
		Protocol: lending.ProtocolMarginfi,
		Kind:     kind,
		Amount:   amount,
		Asset:    market.Mint,
		Market:   market.Address,
		Position: e.ref(),
	}
}

// leg holds share amounts, as produced by MarginfiAccount.ToPosition.
func leg(market *lending.Market, shares int64) lending.PositionLeg {
	return lending.PositionLeg{
		Market:   market.Address,
		Amount:   decimal.NewFromInt(shares),
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

func TestPositionAddress(t *testing.T) {
	env := setup(t)

	address, err := env.adapter.PositionAddress(env.ref())
	require.NoError(t, err)
	assert.EqualValues(t, env.account, address)

	_, err = env.adapter.PositionAddress(lending.PositionRef{Owner: env.owner, MarketSet: env.group})
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)
}

func TestPrepare_DepositCreatesAccount(t *testing.T) {
	env := setup(t)
	position := lending.NewEmptyPosition(lending.ProtocolMarginfi, env.ref(), time.Now())

	specs, err := env.adapter.Prepare(env.op(lending.OperationDeposit, env.collateral, 1_000_000), env.collateral, position)
	require.NoError(t, err)

	assert.Equal(t, []string{
		InstructionInitializeAccount,
		InstructionDeposit,
	}, labels(specs))

	init := specs[0]
	assert.Equal(t, initializeAccountDiscriminator, init.Data)
	assert.EqualValues(t, env.group, init.Accounts[0].Address)
	assert.EqualValues(t, env.account, init.Accounts[1].Address)
	assert.True(t, init.Accounts[1].Role.Writable)
	assert.True(t, init.Accounts[1].Role.Signer)

	deposit := specs[1]
	assert.Equal(t, depositDiscriminator, deposit.Data[:8])
	assert.EqualValues(t, 1_000_000, binary.LittleEndian.Uint64(deposit.Data[8:16]))
	assert.Equal(t, []byte{0}, deposit.Data[16:])
	assert.EqualValues(t, env.account, deposit.Accounts[1].Address)
	assert.EqualValues(t, env.owner, deposit.Accounts[2].Address)
	assert.True(t, deposit.Accounts[2].Role.Signer)
	assert.EqualValues(t, env.collateral.Address, deposit.Accounts[3].Address)
	assert.EqualValues(t, bankOfMarket(env.collateral).LiquidityVault, deposit.Accounts[5].Address)
	assert.Len(t, deposit.Accounts, 7)

	// Without a pinned address there is no account to initialize.
	op := env.op(lending.OperationDeposit, env.collateral, 1_000_000)
	op.Position.Address = nil
	_, err = env.adapter.Prepare(op, env.collateral, lending.NewEmptyPosition(lending.ProtocolMarginfi, op.Position, time.Now()))
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)
}

func TestPrepare_Borrow(t *testing.T) {
	env := setup(t)
	position := env.position([]lending.PositionLeg{leg(env.collateral, 100_000_000)}, nil)

	specs, err := env.adapter.Prepare(env.op(lending.OperationBorrow, env.debt, 10_000_000), env.debt, position)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"create_associated_token_account_idempotent",
		InstructionBorrow,
	}, labels(specs))

	borrow := specs[1]
	assert.Equal(t, borrowDiscriminator, borrow.Data[:8])
	assert.Len(t, borrow.Data, 16)
	assert.EqualValues(t, 10_000_000, binary.LittleEndian.Uint64(borrow.Data[8:]))

	vaultAuthority, err := LiquidityVaultAuthority(ProgramKey, env.debt.Address)
	require.NoError(t, err)
	assert.EqualValues(t, vaultAuthority, borrow.Accounts[5].Address)

	// Observations: the existing collateral balance, then the new debt bank.
	require.Len(t, borrow.Accounts, 12)
	assert.EqualValues(t, env.collateral.Address, borrow.Accounts[8].Address)
	assert.EqualValues(t, bankOfMarket(env.collateral).Oracle(), borrow.Accounts[9].Address)
	assert.EqualValues(t, env.debt.Address, borrow.Accounts[10].Address)
	assert.EqualValues(t, bankOfMarket(env.debt).Oracle(), borrow.Accounts[11].Address)
	assert.False(t, borrow.Accounts[8].Role.Writable)
	assert.EqualValues(t, computeBorrow+2*computePerObservation, borrow.ComputeUnits)
}

func TestPrepare_BorrowWithoutCollateral(t *testing.T) {
	env := setup(t)

	_, err := env.adapter.Prepare(env.op(lending.OperationBorrow, env.debt, 1), env.debt, env.position(nil, nil))
	assertRejected(t, err, lending.ReasonInsufficientCollateral)

	empty := lending.NewEmptyPosition(lending.ProtocolMarginfi, env.ref(), time.Now())
	_, err = env.adapter.Prepare(env.op(lending.OperationBorrow, env.debt, 1), env.debt, empty)
	assertRejected(t, err, lending.ReasonInsufficientCollateral)
}

func TestPrepare_PricedHealth(t *testing.T) {
	env := setup(t)
	collateral := PricedMarket(env.collateral, decimal.NewFromInt(1))
	debt := PricedMarket(env.debt, decimal.NewFromInt(1))
	assert.False(t, env.collateral.HasPrice())

	// One whole token of collateral at a 0.75 weight.
	position := env.position([]lending.PositionLeg{leg(collateral, 1_000_000)}, nil)

	_, err := env.adapter.Prepare(env.op(lending.OperationBorrow, debt, 1_000_000), debt, position)
	assertRejected(t, err, lending.ReasonInsufficientCollateral)

	_, err = env.adapter.Prepare(env.op(lending.OperationBorrow, debt, 500_000), debt, position)
	require.NoError(t, err)

	// An unpriced debt leg leaves the decision to the risk engine.
	position = env.position([]lending.PositionLeg{leg(collateral, 1_000_000)}, []lending.PositionLeg{leg(env.debt, 5_000_000)})
	_, err = env.adapter.Prepare(env.op(lending.OperationBorrow, env.debt, 1_000_000), env.debt, position)
	require.NoError(t, err)
}

func TestPrepare_ShareConversion(t *testing.T) {
	env := setup(t)
	bank := bankOfMarket(env.collateral)
	bank.AssetShareValue = *i80(2)
	collateral := bank.ToMarket(env.collateral.Address)

	// 100 shares are worth 200 native units.
	position := env.position([]lending.PositionLeg{leg(collateral, 100)}, nil)

	_, err := env.adapter.Prepare(env.op(lending.OperationWithdraw, collateral, 200), collateral, position)
	require.NoError(t, err)
}

func TestPrepare_WithdrawAll(t *testing.T) {
	env := setup(t)
	position := env.position([]lending.PositionLeg{leg(env.collateral, 5_000_000)}, nil)

	op := env.op(lending.OperationWithdraw, env.collateral, 0)
	op.All = true
	op.TokenAccount = testutil.NewRandomKey(t)

	specs, err := env.adapter.Prepare(op, env.collateral, position)
	require.NoError(t, err)
	require.Equal(t, []string{InstructionWithdraw}, labels(specs))

	withdraw := specs[0]
	assert.Equal(t, withdrawDiscriminator, withdraw.Data[:8])
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0, 1, 1}, withdraw.Data[8:])
	assert.EqualValues(t, op.TokenAccount, withdraw.Accounts[4].Address)

	// The closed balance is not observed.
	assert.Len(t, withdraw.Accounts, 8)
	assert.EqualValues(t, computeWithdraw, withdraw.ComputeUnits)
}

func TestPrepare_WithdrawWithoutDeposit(t *testing.T) {
	env := setup(t)
	position := env.position([]lending.PositionLeg{leg(env.debt, 1_000)}, nil)

	_, err := env.adapter.Prepare(env.op(lending.OperationWithdraw, env.collateral, 1), env.collateral, position)
	assertRejected(t, err, lending.ReasonNoDeposit)
}

func TestPrepare_RepayAll(t *testing.T) {
	env := setup(t)
	bankOfMarket(env.debt).Config.OperationalState = BankPaused
	debt := bankOfMarket(env.debt).ToMarket(env.debt.Address)
	require.False(t, debt.Active)

	position := env.position(
		[]lending.PositionLeg{leg(env.collateral, 5_000_000)},
		[]lending.PositionLeg{leg(debt, 1_000_000)},
	)

	op := env.op(lending.OperationRepay, debt, 1_000_000)
	op.All = true

	specs, err := env.adapter.Prepare(op, debt, position)
	require.NoError(t, err)
	require.Equal(t, []string{InstructionRepay}, labels(specs))
	assert.Equal(t, []byte{1, 1}, specs[0].Data[16:])
	assert.Len(t, specs[0].Accounts, 7)

	_, err = env.adapter.Prepare(env.op(lending.OperationRepay, env.collateral, 1), env.collateral, position)
	assertRejected(t, err, lending.ReasonNoBorrow)
}

func TestPrepare_BankState(t *testing.T) {
	env := setup(t)
	position := env.position([]lending.PositionLeg{leg(env.collateral, 5_000_000)}, nil)

	bankOfMarket(env.debt).Config.OperationalState = BankPaused
	paused := bankOfMarket(env.debt).ToMarket(env.debt.Address)
	_, err := env.adapter.Prepare(env.op(lending.OperationDeposit, paused, 1), paused, position)
	assertRejected(t, err, lending.ReasonMarketInactive)

	bankOfMarket(env.debt).Config.OperationalState = BankReduceOnly
	reduceOnly := bankOfMarket(env.debt).ToMarket(env.debt.Address)
	_, err = env.adapter.Prepare(env.op(lending.OperationDeposit, reduceOnly, 1), reduceOnly, position)
	assertRejected(t, err, lending.ReasonMarketInactive)
	_, err = env.adapter.Prepare(env.op(lending.OperationBorrow, reduceOnly, 1), reduceOnly, position)
	assertRejected(t, err, lending.ReasonMarketInactive)

	_, err = env.adapter.Prepare(env.op(lending.OperationWithdraw, env.collateral, 1), env.collateral, position)
	require.NoError(t, err)
}

func TestPrepare_MarketChecks(t *testing.T) {
	env := setup(t)
	position := env.position(nil, nil)

	foreign := *env.collateral
	foreign.Native = nil
	_, err := env.adapter.Prepare(env.op(lending.OperationDeposit, &foreign, 1), &foreign, position)
	assertRejected(t, err, lending.ReasonMarketMismatch)

	op := env.op(lending.OperationDeposit, env.collateral, 1)
	op.Asset = testutil.NewRandomKey(t)
	_, err = env.adapter.Prepare(op, env.collateral, position)
	assertRejected(t, err, lending.ReasonMarketMismatch)

	other := newTestBank(t, testutil.NewRandomKey(t)).ToMarket(testutil.NewRandomKey(t))
	_, err = env.adapter.Prepare(env.op(lending.OperationDeposit, other, 1), other, position)
	assertRejected(t, err, lending.ReasonMarketMismatch)

	bankOfMarket(env.collateral).Config.DepositLimit = 1_000_000_000_000
	limited := bankOfMarket(env.collateral).ToMarket(env.collateral.Address)
	_, err = env.adapter.Prepare(env.op(lending.OperationDeposit, limited, 1), limited, position)
	assertRejected(t, err, lending.ReasonDepositLimitExceeded)

	_, err = env.adapter.Prepare(env.op(lending.OperationBorrow, env.debt, 2_000_000_000_000), env.debt, position)
	assertRejected(t, err, lending.ReasonInsufficientLiquidity)
}

func TestPrepare_AccountChecks(t *testing.T) {
	env := setup(t)

	var deposits []lending.PositionLeg
	for i := 0; i < MaxBalances; i++ {
		market := newTestBank(t, env.group).ToMarket(testutil.NewRandomKey(t))
		deposits = append(deposits, leg(market, 1_000))
	}
	full := env.position(deposits, nil)

	_, err := env.adapter.Prepare(env.op(lending.OperationDeposit, env.collateral, 1), env.collateral, full)
	assertRejected(t, err, lending.ReasonPositionFull)

	_, err = env.adapter.Prepare(env.op(lending.OperationDeposit, deposits[0].Snapshot, 1), deposits[0].Snapshot, full)
	require.NoError(t, err)

	disabled := env.position([]lending.PositionLeg{leg(env.collateral, 1_000)}, nil)
	disabled.Native = &MarginfiAccount{AccountFlags: AccountDisabled}
	_, err = env.adapter.Prepare(env.op(lending.OperationDeposit, env.collateral, 1), env.collateral, disabled)
	assertRejected(t, err, lending.ReasonUnsupportedOperation)

	bankOfMarket(env.debt).Config.RiskTier = RiskTierIsolated
	isolated := bankOfMarket(env.debt).ToMarket(env.debt.Address)
	other := newTestBank(t, env.group).ToMarket(testutil.NewRandomKey(t))
	position := env.position(
		[]lending.PositionLeg{leg(env.collateral, 5_000_000)},
		[]lending.PositionLeg{leg(isolated, 1_000)},
	)
	_, err = env.adapter.Prepare(env.op(lending.OperationBorrow, other, 1), other, position)
	assertRejected(t, err, lending.ReasonUnsupportedOperation)

	_, err = env.adapter.Prepare(env.op(lending.OperationBorrow, isolated, 1), isolated, position)
	require.NoError(t, err)
}

func TestPrepare_MissingLegSnapshot(t *testing.T) {
	env := setup(t)
	uncached := lending.PositionLeg{Market: testutil.NewRandomKey(t), Amount: decimal.NewFromInt(1)}
	position := env.position([]lending.PositionLeg{leg(env.collateral, 1_000), uncached}, nil)

	_, err := env.adapter.Prepare(env.op(lending.OperationBorrow, env.debt, 1), env.debt, position)
	testutil.AssertErrorIs(t, err, lending.ErrNotCached)
}

func TestPrepare_InvalidParameters(t *testing.T) {
	env := setup(t)
	position := env.position(nil, nil)

	op := env.op(lending.OperationDeposit, env.collateral, 0)
	_, err := env.adapter.Prepare(op, env.collateral, position)
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)

	op = env.op(lending.OperationDeposit, env.collateral, 1)
	op.Protocol = lending.ProtocolKamino
	_, err = env.adapter.Prepare(op, env.collateral, position)
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)

	_, err = env.adapter.Prepare(env.op(lending.OperationDeposit, env.collateral, 1), env.collateral, nil)
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)

	_, err = env.adapter.Prepare(env.op(lending.OperationDeposit, env.collateral, 1), nil, position)
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)
}

func TestPrepare_Liquidate(t *testing.T) {
	env := setup(t)
	liquidator := lending.PositionRef{
		Owner:     testutil.NewRandomKey(t),
		MarketSet: env.group,
		Address:   testutil.NewRandomKey(t),
	}
	violator := env.position(
		[]lending.PositionLeg{leg(env.collateral, 5_000_000)},
		[]lending.PositionLeg{leg(env.debt, 4_000_000)},
	)

	op := &lending.Operation{
		Protocol: lending.ProtocolMarginfi,
		Kind:     lending.OperationLiquidate,
		Amount:   1_000_000,
		Market:   env.debt.Address,
		Position: liquidator,
		Liquidation: &lending.LiquidationParams{
			Violator:         env.ref(),
			CollateralMarket: env.collateral.Address,
		},
	}

	specs, err := env.adapter.Prepare(op, env.debt, violator)
	require.NoError(t, err)
	require.Equal(t, []string{InstructionLiquidate}, labels(specs))

	liquidate := specs[0]
	assert.Equal(t, liquidateDiscriminator, liquidate.Data[:8])
	assert.EqualValues(t, 1_000_000, binary.LittleEndian.Uint64(liquidate.Data[8:]))
	require.Len(t, liquidate.Accounts, 12+4+4)
	assert.EqualValues(t, env.collateral.Address, liquidate.Accounts[1].Address)
	assert.EqualValues(t, env.debt.Address, liquidate.Accounts[2].Address)
	assert.EqualValues(t, liquidator.Address, liquidate.Accounts[3].Address)
	assert.EqualValues(t, liquidator.Owner, liquidate.Accounts[4].Address)
	assert.True(t, liquidate.Accounts[4].Role.Signer)
	assert.EqualValues(t, env.account, liquidate.Accounts[5].Address)
	assert.EqualValues(t, bankOfMarket(env.debt).InsuranceVault, liquidate.Accounts[8].Address)
	assert.EqualValues(t, bankOfMarket(env.collateral).Oracle(), liquidate.Accounts[10].Address)
	assert.EqualValues(t, bankOfMarket(env.debt).Oracle(), liquidate.Accounts[11].Address)
	assert.EqualValues(t, env.collateral.Address, liquidate.Accounts[12].Address)
	assert.EqualValues(t, env.debt.Address, liquidate.Accounts[14].Address)
	assert.EqualValues(t, env.collateral.Address, liquidate.Accounts[16].Address)
	assert.EqualValues(t, env.debt.Address, liquidate.Accounts[18].Address)

	// A priced, healthy violator cannot be liquidated.
	collateral := PricedMarket(env.collateral, decimal.NewFromInt(1))
	debt := PricedMarket(env.debt, decimal.NewFromInt(1))
	healthy := env.position(
		[]lending.PositionLeg{leg(collateral, 5_000_000)},
		[]lending.PositionLeg{leg(debt, 100_000)},
	)
	_, err = env.adapter.Prepare(op, debt, healthy)
	assertRejected(t, err, lending.ReasonPositionHealthy)

	noCollateral := env.position(nil, []lending.PositionLeg{leg(env.debt, 4_000_000)})
	_, err = env.adapter.Prepare(op, env.debt, noCollateral)
	assertRejected(t, err, lending.ReasonNoDeposit)

	op.Position.Address = nil
	_, err = env.adapter.Prepare(op, env.debt, violator)
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)
}

func TestPrepare_RefreshState(t *testing.T) {
	env := setup(t)
	target := newTestBank(t, env.group).ToMarket(testutil.NewRandomKey(t))
	position := env.position(
		[]lending.PositionLeg{leg(env.collateral, 1)},
		[]lending.PositionLeg{leg(env.debt, 1), {Market: env.collateral.Address}},
	)

	op := env.op(lending.OperationRefreshState, target, 0)
	specs, err := env.adapter.Prepare(op, target, position)
	require.NoError(t, err)
	require.Equal(t, []string{InstructionAccrueInterest, InstructionAccrueInterest, InstructionAccrueInterest}, labels(specs))

	assert.EqualValues(t, env.collateral.Address, specs[0].Accounts[1].Address)
	assert.EqualValues(t, env.debt.Address, specs[1].Accounts[1].Address)
	assert.EqualValues(t, target.Address, specs[2].Accounts[1].Address)
	assert.True(t, specs[2].Accounts[1].Role.Writable)
}

func TestRequiredAccounts(t *testing.T) {
	env := setup(t)

	roles, err := env.adapter.RequiredAccounts(env.op(lending.OperationDeposit, env.collateral, 1))
	require.NoError(t, err)
	require.Len(t, roles, 5)
	assert.EqualValues(t, env.owner, roles[0].Address)
	assert.True(t, roles[0].Role.Signer)
	assert.EqualValues(t, env.account, roles[2].Address)
	assert.EqualValues(t, env.collateral.Address, roles[3].Address)

	op := env.op(lending.OperationDeposit, env.collateral, 1)
	op.Position.Address = nil
	_, err = env.adapter.RequiredAccounts(op)
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)
}

func TestExtensions(t *testing.T) {
	env := setup(t)

	specs, err := env.adapter.AccrueInterest(env.collateral, env.debt)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.EqualValues(t, env.group, specs[0].Accounts[0].Address)
	assert.EqualValues(t, env.debt.Address, specs[1].Accounts[1].Address)

	spec, err := env.adapter.CloseBalance(env.account, env.owner, env.collateral)
	require.NoError(t, err)
	assert.Equal(t, InstructionCloseBalance, spec.Label)
	assert.Equal(t, closeBalanceDiscriminator, spec.Data)

	_, err = env.adapter.CloseBalance(nil, env.owner, env.collateral)
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)

	group := &Group{Admin: testutil.NewRandomKey(t)}
	decoded, err := env.adapter.DecodeGroup(env.group, group.Marshal())
	require.NoError(t, err)
	assert.EqualValues(t, group.Admin, decoded.Admin)

	vault, err := LiquidityVaultAddress(ProgramKey, env.collateral.Address)
	require.NoError(t, err)
	insurance, err := InsuranceVaultAddress(ProgramKey, env.collateral.Address)
	require.NoError(t, err)
	assert.NotEqual(t, vault, insurance)
}

func TestPrepare_WithdrawAllWithDebt(t *testing.T) {
	env := setup(t)

	// Unpriced banks still cannot leave debt without any collateral.
	position := env.position(
		[]lending.PositionLeg{leg(env.collateral, 5_000_000)},
		[]lending.PositionLeg{leg(env.debt, 1_000_000)},
	)

	op := env.op(lending.OperationWithdraw, env.collateral, 0)
	op.All = true

	specs, err := env.adapter.Prepare(op, env.collateral, position)
	assertRejected(t, err, lending.ReasonInsufficientCollateral)
	assert.Nil(t, specs)
}
