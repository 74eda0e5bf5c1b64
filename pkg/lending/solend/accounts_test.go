package solend

import (
	"strings"
	"testing"

	"github.com/holiman/uint256"
	"github.com/mr-tron/base58/base58"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/lending/codec"
	"github.com/lendsdk/lendsdk/pkg/testutil"
)

func wadOf(v uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(v), uint256.NewInt(1_000_000_000_000_000_000))
}

// newRandomObligationData returns random obligation bytes whose leg counts
// fit the data block.
func newRandomObligationData(t *testing.T, deposits, borrows uint8) []byte {
	data := testutil.NewRandomAccountData(t, ObligationAccountSize, versionTag, 0)
	lens := ObligationAccountSize - obligationDataFlatSize - 2
	data[lens] = deposits
	data[lens+1] = borrows
	return data
}

func TestAccountSizes(t *testing.T) {
	assert.Equal(t, 619, ReserveAccountSize)
	assert.Equal(t, 1300, ObligationAccountSize)
	assert.Equal(t, 290, LendingMarketAccountSize)
	assert.Equal(t, 88, ObligationCollateralSize)
	assert.Equal(t, 112, ObligationLiquiditySize)
	assert.Equal(t, 56, RateLimiterSize)
}

func TestRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name string
		data func(t *testing.T) []byte
	}{
		{AccountReserve, func(t *testing.T) []byte {
			return testutil.NewRandomAccountData(t, ReserveAccountSize, versionTag, 0)
		}},
		{AccountObligation, func(t *testing.T) []byte {
			return newRandomObligationData(t, 3, 4)
		}},
		{AccountLendingMarket, func(t *testing.T) []byte {
			return testutil.NewRandomAccountData(t, LendingMarketAccountSize, versionTag, 0)
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			for i := 0; i < 10; i++ {
				data := tc.data(t)

				record, err := codec.Default.DecodeAccount(lending.ProtocolSolend, tc.name, data)
				require.NoError(t, err)
				assert.Equal(t, data, record.Marshal())
			}
		})
	}
}

func TestObligation_Legs(t *testing.T) {
	keys := testutil.GenerateSolanaKeys(t, 3)

	obligation := &Obligation{Version: ProgramVersion}
	obligation.Deposits = []ObligationCollateral{
		{DepositReserve: keys[0], DepositedAmount: 500},
	}
	obligation.Borrows = []ObligationLiquidity{
		{BorrowReserve: keys[1], BorrowedAmountWads: *wadOf(7)},
		{BorrowReserve: keys[2], BorrowedAmountWads: *wadOf(9)},
	}

	var decoded Obligation
	require.NoError(t, decoded.Unmarshal(obligation.Marshal()))
	require.Len(t, decoded.Deposits, 1)
	require.Len(t, decoded.Borrows, 2)
	assert.EqualValues(t, keys[0], decoded.Deposits[0].DepositReserve)
	assert.EqualValues(t, 500, decoded.Deposits[0].DepositedAmount)
	assert.EqualValues(t, keys[2], decoded.Borrows[1].BorrowReserve)
	assert.Equal(t, wadOf(9), &decoded.Borrows[1].BorrowedAmountWads)

	deposits, borrows := decoded.Reserves()
	assert.Len(t, deposits, 1)
	assert.Len(t, borrows, 2)
}

func TestDecode_Malformed(t *testing.T) {
	data := testutil.NewRandomAccountData(t, ReserveAccountSize, versionTag, 0)

	record, err := codec.Default.DecodeAccount(lending.ProtocolSolend, AccountReserve, data[:ReserveAccountSize-1])
	testutil.AssertErrorIs(t, err, lending.ErrMalformedAccount)
	assert.Nil(t, record)

	record, err = codec.Default.DecodeAccount(lending.ProtocolSolend, AccountObligation, newRandomObligationData(t, 6, 5))
	testutil.AssertErrorIs(t, err, lending.ErrMalformedAccount)
	assert.Nil(t, record)

	_, err = New().DecodePosition(testutil.NewRandomKey(t), newRandomObligationData(t, 0, 10))
	testutil.AssertErrorIs(t, err, lending.ErrMalformedAccount)

	var malformed *lending.MalformedAccountError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "borrows_len", malformed.Field)
	assert.Len(t, malformed.Address, 32)

	var market LendingMarket
	testutil.AssertErrorIs(t, market.Unmarshal(data), lending.ErrMalformedAccount)
}

func TestDecode_UnknownVersion(t *testing.T) {
	for _, tc := range []struct {
		name string
		size int
	}{
		{AccountReserve, ReserveAccountSize},
		{AccountObligation, ObligationAccountSize},
		{AccountLendingMarket, LendingMarketAccountSize},
	} {
		t.Run(tc.name, func(t *testing.T) {
			for _, version := range []byte{0, 2, 255} {
				data := testutil.NewRandomAccountData(t, tc.size, []byte{version}, 0)

				record, err := codec.Default.DecodeAccount(lending.ProtocolSolend, tc.name, data)
				testutil.AssertErrorIs(t, err, lending.ErrMalformedAccount)
				assert.Nil(t, record)

				_, err = New().Identify(data)
				testutil.AssertErrorIs(t, err, lending.ErrMalformedAccount)
			}
		})
	}
}

func TestIdentify(t *testing.T) {
	a := New()

	kind, err := a.Identify(testutil.NewRandomAccountData(t, ReserveAccountSize, versionTag, 0))
	require.NoError(t, err)
	assert.Equal(t, lending.KindMarket, kind)

	kind, err = a.Identify(newRandomObligationData(t, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, lending.KindPosition, kind)

	kind, err = a.Identify(testutil.NewRandomAccountData(t, LendingMarketAccountSize, versionTag, 0))
	require.NoError(t, err)
	assert.Equal(t, lending.KindLendingMarket, kind)

	_, err = a.Identify(make([]byte, 100))
	testutil.AssertErrorIs(t, err, lending.ErrMalformedAccount)
}

func TestReserve_ToMarket(t *testing.T) {
	lendingMarket := testutil.NewRandomKey(t)
	reserve := newTestReserve(t, lendingMarket)
	reserve.Liquidity.AvailableAmount = 600
	reserve.Liquidity.BorrowedAmountWads = *wadOf(400)
	reserve.Liquidity.MarketPrice = *wadOf(2)
	reserve.Config.AddedBorrowWeightBps = 2_500
	reserve.Config.OptimalUtilizationRate = 80
	reserve.Config.MinBorrowRate = 0
	reserve.Config.OptimalBorrowRate = 8
	reserve.Config.MaxBorrowRate = 100
	reserve.LastUpdate.Slot = 42

	address := testutil.NewRandomKey(t)
	market := reserve.ToMarket(address)

	assert.Equal(t, lending.ProtocolSolend, market.Protocol)
	assert.Equal(t, AccountReserve, market.NativeKind)
	assert.EqualValues(t, address, market.Address)
	assert.EqualValues(t, lendingMarket, market.Group)
	assert.EqualValues(t, 42, market.Slot)
	assert.True(t, market.Active)

	assert.True(t, market.Price.Equal(decimal.NewFromInt(2)), market.Price.String())
	assert.True(t, market.TotalSupply.Equal(decimal.NewFromInt(1_000)), market.TotalSupply.String())
	assert.True(t, market.TotalBorrows.Equal(decimal.NewFromInt(400)))
	assert.True(t, market.Utilization().Equal(decimal.RequireFromString("0.4")))
	assert.True(t, market.LoanToValue.Equal(decimal.RequireFromString("0.75")))
	assert.True(t, market.LiquidationThreshold.Equal(decimal.RequireFromString("0.8")))
	assert.True(t, market.BorrowFactor.Equal(decimal.RequireFromString("1.25")))
	assert.True(t, market.BorrowRate().Equal(decimal.RequireFromString("0.04")), market.BorrowRate().String())
	assert.Len(t, market.Oracles, 1)

	reserve.Version = 0
	assert.False(t, reserve.ToMarket(address).Active)
}

func TestReserve_CollateralExchange(t *testing.T) {
	reserve := newTestReserve(t, testutil.NewRandomKey(t))
	reserve.Liquidity.AvailableAmount = 1_000
	reserve.Collateral.MintTotalSupply = 500

	assert.EqualValues(t, 50, reserve.LiquidityToCollateral(100))
	assert.True(t, reserve.CollateralToLiquidity(50).Equal(decimal.NewFromInt(100)))
}

func TestObligation_ToPosition(t *testing.T) {
	keys := testutil.GenerateSolanaKeys(t, 4)

	obligation := &Obligation{
		Version:              ProgramVersion,
		LendingMarket:        keys[0],
		Owner:                keys[1],
		DepositedValue:       *wadOf(100),
		BorrowedValue:        *wadOf(40),
		AllowedBorrowValue:   *wadOf(75),
		UnhealthyBorrowValue: *wadOf(80),
	}
	obligation.Deposits = []ObligationCollateral{{DepositReserve: keys[2], DepositedAmount: 1_000, MarketValue: *wadOf(100)}}
	obligation.Borrows = []ObligationLiquidity{{BorrowReserve: keys[3], BorrowedAmountWads: *wadOf(40), MarketValue: *wadOf(40)}}

	address := testutil.NewRandomKey(t)
	position := obligation.ToPosition(address)

	assert.Equal(t, lending.ProtocolSolend, position.Protocol)
	assert.True(t, position.Exists)
	assert.EqualValues(t, keys[1], position.Owner)
	assert.EqualValues(t, keys[0], position.MarketSet)
	assert.Equal(t, MaxObligationReserves, position.MaxLegs)
	assert.True(t, position.BorrowedValue.Equal(decimal.NewFromInt(40)))
	assert.True(t, position.LiquidationValue.Equal(decimal.NewFromInt(80)))
	assert.True(t, position.HealthFactor().Equal(decimal.RequireFromString("1.875")))

	require.Len(t, position.Deposits, 1)
	assert.True(t, position.Deposits[0].Amount.Equal(decimal.NewFromInt(1_000)))
	require.Len(t, position.Borrows, 1)
	assert.True(t, position.Borrows[0].Amount.Equal(decimal.NewFromInt(40)))
}

func TestRateLimiter_RemainingOutflow(t *testing.T) {
	assert.Nil(t, RateLimiter{}.RemainingOutflow(100))

	limiter := RateLimiter{
		WindowDuration:  10,
		MaxOutflow:      100,
		WindowStart:     0,
		CurrentQuantity: *wadOf(30),
	}

	for _, tc := range []struct {
		slot     uint64
		expected string
	}{
		{5, "70"},
		{12, "79"},
		{25, "100"},
	} {
		remaining := limiter.RemainingOutflow(tc.slot)
		require.NotNil(t, remaining)
		assert.True(t, remaining.Equal(decimal.RequireFromString(tc.expected)), "slot %d: %s", tc.slot, remaining.String())
	}

	limiter.CurrentQuantity = *wadOf(150)
	remaining := limiter.RemainingOutflow(5)
	require.NotNil(t, remaining)
	assert.True(t, remaining.IsZero())
}

func TestLendingMarket_CanLiquidate(t *testing.T) {
	keys := testutil.GenerateSolanaKeys(t, 2)

	market := &LendingMarket{WhitelistedLiquidator: make([]byte, 32)}
	assert.True(t, market.CanLiquidate(keys[0]))

	market.WhitelistedLiquidator = keys[0]
	assert.True(t, market.CanLiquidate(keys[0]))
	assert.False(t, market.CanLiquidate(keys[1]))
}

func TestObligationSeed(t *testing.T) {
	lendingMarket := testutil.NewRandomKey(t)

	seed := ObligationSeed(lendingMarket)
	assert.LessOrEqual(t, len(seed), 32)
	assert.True(t, strings.HasPrefix(base58.Encode(lendingMarket), seed))

	owner := testutil.NewRandomKey(t)
	a, err := ObligationAddress(ProgramKey, owner, lendingMarket)
	require.NoError(t, err)
	b, err := ObligationAddress(ProgramKey, owner, lendingMarket)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestInstructionSchemas(t *testing.T) {
	data, err := codec.Default.EncodeInstruction(lending.ProtocolSolend, InstructionDeposit, &AmountArgs{Amount: 5})
	require.NoError(t, err)
	assert.Equal(t, []byte{14, 5, 0, 0, 0, 0, 0, 0, 0}, data)

	data, err = codec.Default.EncodeInstruction(lending.ProtocolSolend, InstructionRepay, &AmountArgs{Amount: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 11, data[0])

	data, err = codec.Default.EncodeInstruction(lending.ProtocolSolend, InstructionRefreshObligation, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, data)

	_, err = codec.Default.EncodeInstruction(lending.ProtocolSolend, InstructionBorrow, &AmountArgs{})
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)

	_, err = codec.Default.EncodeInstruction(lending.ProtocolSolend, InstructionInitObligation, &AmountArgs{Amount: 1})
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)

	_, err = codec.Default.EncodeInstruction(lending.ProtocolSolend, "flash_borrow_reserve_liquidity", nil)
	testutil.AssertErrorIs(t, err, lending.ErrUnsupportedProtocol)
}

func TestMarketSetFilters(t *testing.T) {
	lendingMarket := testutil.NewRandomKey(t)
	filters, err := New().MarketSetFilters(lendingMarket)
	require.NoError(t, err)

	assert.True(t, testutil.MatchesProgramFilters(t, newTestReserve(t, lendingMarket).Marshal(), filters))
	assert.False(t, testutil.MatchesProgramFilters(t, newTestReserve(t, testutil.NewRandomKey(t)).Marshal(), filters))

	outdated := newTestReserve(t, lendingMarket)
	outdated.Version = 2
	assert.False(t, testutil.MatchesProgramFilters(t, outdated.Marshal(), filters))

	_, err = New().MarketSetFilters(nil)
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)
}
