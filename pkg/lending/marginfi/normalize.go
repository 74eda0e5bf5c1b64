package marginfi

import (
	"crypto/ed25519"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/lending/codec"
)

func i80f48(v *uint256.Int) decimal.Decimal {
	return codec.SignedFractionToDecimal(v, codec.MarginfiFractionBits)
}

// TotalSupply is the value of all asset shares in native units.
func (b *Bank) TotalSupply() decimal.Decimal {
	return i80f48(&b.TotalAssetShares).Mul(i80f48(&b.AssetShareValue))
}

// TotalBorrows is the value of all liability shares in native units.
func (b *Bank) TotalBorrows() decimal.Decimal {
	return i80f48(&b.TotalLiabilityShares).Mul(i80f48(&b.LiabilityShareValue))
}

// AssetAmount converts asset shares into native units.
func (b *Bank) AssetAmount(shares decimal.Decimal) decimal.Decimal {
	return shares.Mul(i80f48(&b.AssetShareValue))
}

// LiabilityAmount converts liability shares into native units.
func (b *Bank) LiabilityAmount(shares decimal.Decimal) decimal.Decimal {
	return shares.Mul(i80f48(&b.LiabilityShareValue))
}

// IsActive reports whether the bank accepts operations other than repay.
func (b *Bank) IsActive() bool {
	return b.Config.OperationalState != BankPaused
}

// IsReduceOnly reports whether the bank only accepts withdrawals and repays.
func (b *Bank) IsReduceOnly() bool {
	return b.Config.OperationalState == BankReduceOnly
}

func (b *Bank) interestModel() lending.InterestModel {
	ir := &b.Config.InterestRateConfig
	return lending.InterestModel{
		OptimalUtilization: i80f48(&ir.OptimalUtilizationRate),
		MinRate:            decimal.Zero,
		OptimalRate:        i80f48(&ir.PlateauInterestRate),
		MaxRate:            i80f48(&ir.MaxInterestRate),
	}
}

// ToMarket normalizes the bank. Banks carry no price; callers that want local
// health checks attach one with PricedMarket.
func (b *Bank) ToMarket(address ed25519.PublicKey) *lending.Market {
	supply := b.TotalSupply()
	borrows := b.TotalBorrows()

	return &lending.Market{
		Protocol:             lending.ProtocolMarginfi,
		Address:              address,
		NativeKind:           AccountBank,
		Mint:                 b.Mint,
		MintDecimals:         b.MintDecimals,
		Group:                b.Group,
		Oracles:              b.Oracles(),
		Price:                decimal.Zero,
		LoanToValue:          i80f48(&b.Config.AssetWeightInit),
		LiquidationThreshold: i80f48(&b.Config.AssetWeightMaint),
		BorrowFactor:         i80f48(&b.Config.LiabilityWeightInit),
		AvailableLiquidity:   decimal.Max(decimal.Zero, supply.Sub(borrows)).Floor(),
		TotalSupply:          supply,
		TotalBorrows:         borrows,
		DepositLimit:         b.Config.DepositLimit,
		BorrowLimit:          b.Config.BorrowLimit,
		InterestModel:        b.interestModel(),
		Active:               b.IsActive(),
		Native:               b,
	}
}

// ToPosition normalizes the account. Leg amounts are shares, not native
// units; the adapter converts them once bank snapshots are attached.
func (a *MarginfiAccount) ToPosition(address ed25519.PublicKey) *lending.Position {
	position := &lending.Position{
		Protocol:           lending.ProtocolMarginfi,
		Address:            address,
		Owner:              a.Authority,
		MarketSet:          a.Group,
		Exists:             true,
		DepositedValue:     decimal.Zero,
		BorrowedValue:      decimal.Zero,
		AllowedBorrowValue: decimal.Zero,
		LiquidationValue:   decimal.Zero,
		MaxLegs:            MaxBalances,
		Native:             a,
	}

	for _, balance := range a.ActiveBalances() {
		balance := balance
		if assets := i80f48(&balance.AssetShares); assets.IsPositive() {
			position.Deposits = append(position.Deposits, lending.PositionLeg{
				Market:      balance.BankPk,
				Amount:      assets,
				MarketValue: decimal.Zero,
			})
		}
		if liabilities := i80f48(&balance.LiabilityShares); liabilities.IsPositive() {
			position.Borrows = append(position.Borrows, lending.PositionLeg{
				Market:      balance.BankPk,
				Amount:      liabilities,
				MarketValue: decimal.Zero,
			})
		}
	}
	return position
}
