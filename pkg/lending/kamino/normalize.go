package kamino

import (
	"crypto/ed25519"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/lending/codec"
)

func fraction(v *uint256.Int) decimal.Decimal {
	return codec.FractionToDecimal(v, codec.KaminoFractionBits)
}

// TotalBorrows is the outstanding debt of the reserve in native units.
func (r *Reserve) TotalBorrows() decimal.Decimal {
	return fraction(&r.Liquidity.BorrowedAmountSf)
}

// TotalSupply is available liquidity plus borrows, net of unclaimed fees.
func (r *Reserve) TotalSupply() decimal.Decimal {
	fees := fraction(&r.Liquidity.AccumulatedProtocolFeesSf).
		Add(fraction(&r.Liquidity.AccumulatedReferrerFeesSf)).
		Add(fraction(&r.Liquidity.PendingReferrerFeesSf))

	total := codec.NativeAmount(r.Liquidity.AvailableAmount).Add(r.TotalBorrows()).Sub(fees)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// CollateralExchangeRate is collateral tokens minted per liquidity token.
func (r *Reserve) CollateralExchangeRate() decimal.Decimal {
	supply := r.TotalSupply()
	if r.Collateral.MintTotalSupply == 0 || !supply.IsPositive() {
		return decimal.NewFromInt(1)
	}
	return codec.NativeAmount(r.Collateral.MintTotalSupply).DivRound(supply, 18)
}

// LiquidityToCollateral converts a liquidity amount into collateral tokens,
// rounding down.
func (r *Reserve) LiquidityToCollateral(amount uint64) uint64 {
	return codec.NativeAmount(amount).Mul(r.CollateralExchangeRate()).Floor().BigInt().Uint64()
}

// CollateralToLiquidity converts collateral tokens into liquidity, rounding
// down.
func (r *Reserve) CollateralToLiquidity(amount uint64) decimal.Decimal {
	return codec.NativeAmount(amount).DivRound(r.CollateralExchangeRate(), 18).Floor()
}

func (r *Reserve) interestModel() lending.InterestModel {
	curve := r.Config.BorrowRateCurve
	model := lending.InterestModel{
		MinRate: codec.BasisPoints(uint64(curve[0].BorrowRateBps)),
		MaxRate: codec.BasisPoints(uint64(curve[len(curve)-1].BorrowRateBps)),
	}

	// The first interior point of the curve is treated as the kink.
	for _, point := range curve[1:] {
		if point.UtilizationRateBps > 0 && point.UtilizationRateBps < 10_000 {
			model.OptimalUtilization = codec.BasisPoints(uint64(point.UtilizationRateBps))
			model.OptimalRate = codec.BasisPoints(uint64(point.BorrowRateBps))
			break
		}
	}
	return model
}

// ToMarket normalizes the reserve.
func (r *Reserve) ToMarket(address ed25519.PublicKey) *lending.Market {
	return &lending.Market{
		Protocol:             lending.ProtocolKamino,
		Address:              address,
		NativeKind:           AccountReserve,
		LayoutVersion:        r.Version,
		Mint:                 r.Liquidity.MintPubkey,
		MintDecimals:         uint8(r.Liquidity.MintDecimals),
		Group:                r.LendingMarket,
		Oracles:              r.Oracles(),
		Price:                fraction(&r.Liquidity.MarketPriceSf),
		LoanToValue:          codec.Percent(uint64(r.Config.LoanToValuePct)),
		LiquidationThreshold: codec.Percent(uint64(r.Config.LiquidationThresholdPct)),
		BorrowFactor:         codec.Percent(r.Config.BorrowFactorPct),
		AvailableLiquidity:   codec.NativeAmount(r.Liquidity.AvailableAmount),
		TotalSupply:          r.TotalSupply(),
		TotalBorrows:         r.TotalBorrows(),
		DepositLimit:         r.Config.DepositLimit,
		BorrowLimit:          r.Config.BorrowLimit,
		InterestModel:        r.interestModel(),
		Active:               r.IsActive(),
		Slot:                 r.LastUpdate.Slot,
		Native:               r,
	}
}

// ToPosition normalizes the obligation. Deposit amounts are collateral token
// amounts; borrow amounts are liquidity amounts.
func (o *Obligation) ToPosition(address ed25519.PublicKey) *lending.Position {
	position := &lending.Position{
		Protocol:           lending.ProtocolKamino,
		Address:            address,
		Owner:              o.Owner,
		MarketSet:          o.LendingMarket,
		Exists:             true,
		DepositedValue:     fraction(&o.DepositedValueSf),
		BorrowedValue:      fraction(&o.BorrowFactorAdjustedDebtValueSf),
		AllowedBorrowValue: fraction(&o.AllowedBorrowValueSf),
		LiquidationValue:   fraction(&o.UnhealthyBorrowValueSf),
		MaxDeposits:        MaxObligationDeposits,
		MaxBorrows:         MaxObligationBorrows,
		Slot:               o.LastUpdate.Slot,
		Native:             o,
	}

	for _, deposit := range o.ActiveDeposits() {
		position.Deposits = append(position.Deposits, lending.PositionLeg{
			Market:      deposit.DepositReserve,
			Amount:      codec.NativeAmount(deposit.DepositedAmount),
			MarketValue: fraction(&deposit.MarketValueSf),
		})
	}
	for _, borrow := range o.ActiveBorrows() {
		position.Borrows = append(position.Borrows, lending.PositionLeg{
			Market:      borrow.BorrowReserve,
			Amount:      fraction(&borrow.BorrowedAmountSf),
			MarketValue: fraction(&borrow.MarketValueSf),
		})
	}
	return position
}
