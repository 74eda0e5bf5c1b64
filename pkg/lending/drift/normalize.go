package drift

import (
	"crypto/ed25519"
	"math"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/lending/codec"
	"github.com/lendsdk/lendsdk/pkg/solana/token"
)

// Fixed precisions of the Drift program.
const (
	PriceDecimals       = 6
	WeightPrecision     = 10_000
	RatePrecision       = 1_000_000
	UtilizationDecimals = 6

	// Token amount = scaled balance * cumulative interest / 10^(19 - decimals).
	balancePrecisionDecimals = 19
)

// minBorrowRateStep is the unit of SpotMarket.MinBorrowRate, half a percent.
var minBorrowRateStep = decimal.New(5, -3)

// TokenAmount converts a scaled balance into native token units. Deposits
// round down and borrows round up, as on chain.
func (m *SpotMarket) TokenAmount(scaled decimal.Decimal, kind BalanceType) decimal.Decimal {
	cumulative := &m.CumulativeDepositInterest
	if kind == BalanceBorrow {
		cumulative = &m.CumulativeBorrowInterest
	}

	precision := decimal.New(1, balancePrecisionDecimals-int32(m.Decimals))
	amount := scaled.Mul(decimal.NewFromBigInt(cumulative.ToBig(), 0)).DivRound(precision, 18)
	if kind == BalanceBorrow {
		return amount.Ceil()
	}
	return amount.Floor()
}

// ScaledBalance is the inverse of TokenAmount.
func (m *SpotMarket) ScaledBalance(amount decimal.Decimal, kind BalanceType) decimal.Decimal {
	cumulative := &m.CumulativeDepositInterest
	if kind == BalanceBorrow {
		cumulative = &m.CumulativeBorrowInterest
	}
	if cumulative.IsZero() {
		return decimal.Zero
	}

	precision := decimal.New(1, balancePrecisionDecimals-int32(m.Decimals))
	scaled := amount.Mul(precision).DivRound(decimal.NewFromBigInt(cumulative.ToBig(), 0), 18)
	if kind == BalanceBorrow {
		return scaled.Ceil()
	}
	return scaled.Floor()
}

func (m *SpotMarket) TotalSupply() decimal.Decimal {
	return m.TokenAmount(u128(&m.DepositBalance), BalanceDeposit)
}

func (m *SpotMarket) TotalBorrows() decimal.Decimal {
	return m.TokenAmount(u128(&m.BorrowBalance), BalanceBorrow)
}

// Price is the last oracle price seen by the program, zero when unset.
func (m *SpotMarket) Price() decimal.Decimal {
	if m.HistoricalOracleData.LastOraclePrice <= 0 {
		return decimal.Zero
	}
	return decimal.New(m.HistoricalOracleData.LastOraclePrice, -PriceDecimals)
}

// BorrowLimit is the maximum of outstanding borrows, zero when unbounded. A
// limit past u64 saturates at math.MaxUint64.
func (m *SpotMarket) BorrowLimit() uint64 {
	if m.MaxTokenDeposits == 0 || m.MaxTokenBorrowsFactor == 0 {
		return 0
	}
	limit := new(uint256.Int).Mul(
		uint256.NewInt(m.MaxTokenDeposits),
		uint256.NewInt(uint64(m.MaxTokenBorrowsFactor)),
	)
	limit.Div(limit, uint256.NewInt(WeightPrecision))

	narrowed, err := codec.CheckedUint64("max_token_borrows", limit)
	if err != nil {
		return math.MaxUint64
	}
	return narrowed
}

// IsActive reports whether the market accepts new deposits.
func (m *SpotMarket) IsActive() bool {
	switch m.Status {
	case MarketStatusActive, MarketStatusFundingPaused, MarketStatusAmmPaused, MarketStatusFillPaused, MarketStatusWithdrawPaused:
		return true
	}
	return false
}

// TokenProgramKey is the token program owning the market's mint.
func (m *SpotMarket) TokenProgramKey() ed25519.PublicKey {
	if m.TokenProgram == TokenProgram2022 {
		return token.Program2022Key
	}
	return token.ProgramKey
}

func (m *SpotMarket) interestModel() lending.InterestModel {
	return lending.InterestModel{
		OptimalUtilization: decimal.New(int64(m.OptimalUtilization), -UtilizationDecimals),
		MinRate:            decimal.NewFromInt(int64(m.MinBorrowRate)).Mul(minBorrowRateStep),
		OptimalRate:        weight(m.OptimalBorrowRate, RatePrecision),
		MaxRate:            weight(m.MaxBorrowRate, RatePrecision),
	}
}

func weight(v uint32, precision int64) decimal.Decimal {
	return decimal.NewFromInt(int64(v)).Div(decimal.NewFromInt(precision))
}

func u128(v *uint256.Int) decimal.Decimal {
	return decimal.NewFromBigInt(v.ToBig(), 0)
}

// ToMarket normalizes the spot market. Drift markets are scoped by the
// program's state account.
func (m *SpotMarket) ToMarket(address, state ed25519.PublicKey) *lending.Market {
	supply := m.TotalSupply()
	borrows := m.TotalBorrows()

	return &lending.Market{
		Protocol:             lending.ProtocolDrift,
		Address:              address,
		NativeKind:           AccountSpotMarket,
		Mint:                 m.Mint,
		MintDecimals:         uint8(m.Decimals),
		Group:                state,
		Oracles:              codec.NonZeroKeys(m.Oracle),
		Price:                m.Price(),
		LoanToValue:          weight(m.InitialAssetWeight, WeightPrecision),
		LiquidationThreshold: weight(m.MaintenanceAssetWeight, WeightPrecision),
		BorrowFactor:         weight(m.InitialLiabilityWeight, WeightPrecision),
		AvailableLiquidity:   decimal.Max(decimal.Zero, supply.Sub(borrows)),
		TotalSupply:          supply,
		TotalBorrows:         borrows,
		DepositLimit:         m.MaxTokenDeposits,
		BorrowLimit:          m.BorrowLimit(),
		InterestModel:        m.interestModel(),
		Active:               m.IsActive(),
		Native:               m,
	}
}

// ToPosition normalizes the user. Leg amounts are scaled balances; the
// adapter converts them to tokens with the leg snapshots.
func (u *User) ToPosition(program, address, state ed25519.PublicKey) (*lending.Position, error) {
	position := &lending.Position{
		Protocol:           lending.ProtocolDrift,
		Address:            address,
		Owner:              u.Authority,
		MarketSet:          state,
		Exists:             true,
		DepositedValue:     decimal.Zero,
		BorrowedValue:      decimal.Zero,
		AllowedBorrowValue: decimal.Zero,
		LiquidationValue:   decimal.Zero,
		MaxLegs:            MaxSpotPositions,
		Slot:               u.LastActiveSlot,
		Native:             u,
	}

	for _, p := range u.ActiveSpotPositions() {
		if p.ScaledBalance == 0 {
			continue
		}
		market, err := SpotMarketAddress(program, p.MarketIndex)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to derive spot market %d", p.MarketIndex)
		}

		leg := lending.PositionLeg{
			Market:      market,
			Amount:      codec.NativeAmount(p.ScaledBalance),
			MarketValue: decimal.Zero,
		}
		if p.BalanceType == BalanceBorrow {
			position.Borrows = append(position.Borrows, leg)
		} else {
			position.Deposits = append(position.Deposits, leg)
		}
	}
	return position, nil
}
