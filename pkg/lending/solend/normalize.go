package solend

import (
	"crypto/ed25519"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/lending/codec"
)

func wad(v *uint256.Int) decimal.Decimal {
	return codec.WadToDecimal(v)
}

// TotalBorrows is the outstanding debt of the reserve in native units.
func (r *Reserve) TotalBorrows() decimal.Decimal {
	return wad(&r.Liquidity.BorrowedAmountWads)
}

// TotalSupply is available liquidity plus borrows, net of unclaimed protocol
// fees.
func (r *Reserve) TotalSupply() decimal.Decimal {
	total := codec.NativeAmount(r.Liquidity.AvailableAmount).
		Add(r.TotalBorrows()).
		Sub(wad(&r.Liquidity.AccumulatedProtocolFees))
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// CollateralExchangeRate is cTokens minted per liquidity token.
func (r *Reserve) CollateralExchangeRate() decimal.Decimal {
	supply := r.TotalSupply()
	if r.Collateral.MintTotalSupply == 0 || !supply.IsPositive() {
		return decimal.NewFromInt(1)
	}
	return codec.NativeAmount(r.Collateral.MintTotalSupply).DivRound(supply, 18)
}

// LiquidityToCollateral converts a liquidity amount into cTokens, rounding
// down.
func (r *Reserve) LiquidityToCollateral(amount uint64) uint64 {
	return codec.NativeAmount(amount).Mul(r.CollateralExchangeRate()).Floor().BigInt().Uint64()
}

// CollateralToLiquidity converts cTokens into liquidity, rounding down.
func (r *Reserve) CollateralToLiquidity(amount uint64) decimal.Decimal {
	return codec.NativeAmount(amount).DivRound(r.CollateralExchangeRate(), 18).Floor()
}

// BorrowWeight scales debt in this reserve when valuing an obligation.
func (r *Reserve) BorrowWeight() decimal.Decimal {
	return decimal.NewFromInt(1).Add(codec.BasisPoints(r.Config.AddedBorrowWeightBps))
}

func (r *Reserve) interestModel() lending.InterestModel {
	return lending.InterestModel{
		OptimalUtilization: codec.Percent(uint64(r.Config.OptimalUtilizationRate)),
		MinRate:            codec.Percent(uint64(r.Config.MinBorrowRate)),
		OptimalRate:        codec.Percent(uint64(r.Config.OptimalBorrowRate)),
		MaxRate:            codec.Percent(uint64(r.Config.MaxBorrowRate)),
	}
}

// ToMarket normalizes the reserve.
func (r *Reserve) ToMarket(address ed25519.PublicKey) *lending.Market {
	return &lending.Market{
		Protocol:             lending.ProtocolSolend,
		Address:              address,
		NativeKind:           AccountReserve,
		LayoutVersion:        uint64(r.Version),
		Mint:                 r.Liquidity.MintPubkey,
		MintDecimals:         r.Liquidity.MintDecimals,
		Group:                r.LendingMarket,
		Oracles:              r.Oracles(),
		Price:                wad(&r.Liquidity.MarketPrice),
		LoanToValue:          codec.Percent(uint64(r.Config.LoanToValueRatio)),
		LiquidationThreshold: codec.Percent(uint64(r.Config.LiquidationThreshold)),
		BorrowFactor:         r.BorrowWeight(),
		AvailableLiquidity:   codec.NativeAmount(r.Liquidity.AvailableAmount),
		TotalSupply:          r.TotalSupply(),
		TotalBorrows:         r.TotalBorrows(),
		DepositLimit:         r.Config.DepositLimit,
		BorrowLimit:          r.Config.BorrowLimit,
		InterestModel:        r.interestModel(),
		Active:               r.IsInitialized(),
		Slot:                 r.LastUpdate.Slot,
		Native:               r,
	}
}

// ToPosition normalizes the obligation. Deposit amounts are cToken amounts;
// borrow amounts are liquidity amounts.
func (o *Obligation) ToPosition(address ed25519.PublicKey) *lending.Position {
	position := &lending.Position{
		Protocol:           lending.ProtocolSolend,
		Address:            address,
		Owner:              o.Owner,
		MarketSet:          o.LendingMarket,
		Exists:             true,
		DepositedValue:     wad(&o.DepositedValue),
		BorrowedValue:      wad(&o.BorrowedValue),
		AllowedBorrowValue: wad(&o.AllowedBorrowValue),
		LiquidationValue:   wad(&o.UnhealthyBorrowValue),
		MaxLegs:            MaxObligationReserves,
		Slot:               o.LastUpdate.Slot,
		Native:             o,
	}

	for _, deposit := range o.Deposits {
		position.Deposits = append(position.Deposits, lending.PositionLeg{
			Market:      deposit.DepositReserve,
			Amount:      codec.NativeAmount(deposit.DepositedAmount),
			MarketValue: wad(&deposit.MarketValue),
		})
	}
	for _, borrow := range o.Borrows {
		position.Borrows = append(position.Borrows, lending.PositionLeg{
			Market:      borrow.BorrowReserve,
			Amount:      wad(&borrow.BorrowedAmountWads),
			MarketValue: wad(&borrow.MarketValue),
		})
	}
	return position
}
