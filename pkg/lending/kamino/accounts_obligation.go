package kamino

import (
	"crypto/ed25519"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/mr-tron/base58/base58"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/lending/codec"
	"github.com/lendsdk/lendsdk/pkg/solana/binary"
)

var ObligationAccountDiscriminator = codec.AccountDiscriminator("Obligation")

const (
	MaxObligationDeposits = 8
	MaxObligationBorrows  = 5

	obligationCollateralPaddingSize = 72
	obligationLiquidityPaddingSize  = 56
	obligationReservedSize          = 1023
)

const (
	ObligationCollateralSize = (32 + // deposit_reserve
		8 + // deposited_amount
		16 + // market_value_sf
		8 + // borrowed_amount_against_this_collateral_in_elevation_group
		obligationCollateralPaddingSize)

	ObligationLiquiditySize = (32 + // borrow_reserve
		48 + // cumulative_borrow_rate_bsf
		8 + // padding
		16 + // borrowed_amount_sf
		16 + // market_value_sf
		16 + // borrow_factor_adjusted_market_value_sf
		8 + // borrowed_amount_outside_elevation_groups
		obligationLiquidityPaddingSize)

	ObligationAccountSize = (8 + // discriminator
		8 + // tag
		LastUpdateSize +
		32 + // lending_market
		32 + // owner
		MaxObligationDeposits*ObligationCollateralSize +
		8 + // lowest_reserve_deposit_liquidation_ltv
		16 + // deposited_value_sf
		MaxObligationBorrows*ObligationLiquiditySize +
		16 + // borrow_factor_adjusted_debt_value_sf
		16 + // borrowed_assets_market_value_sf
		16 + // allowed_borrow_value_sf
		16 + // unhealthy_borrow_value_sf
		MaxObligationDeposits + // deposits_asset_tiers
		MaxObligationBorrows + // borrows_asset_tiers
		1 + // elevation_group
		1 + // num_of_obsolete_reserves
		1 + // has_debt
		32 + // referrer
		1 + // borrowing_disabled
		obligationReservedSize)
)

type ObligationCollateral struct {
	DepositReserve                  ed25519.PublicKey
	DepositedAmount                 uint64
	MarketValueSf                   uint256.Int
	BorrowedAgainstInElevationGroup uint64
	Padding                         [obligationCollateralPaddingSize]byte
}

type ObligationLiquidity struct {
	BorrowReserve                        ed25519.PublicKey
	CumulativeBorrowRateBsf              [48]byte
	Padding                              uint64
	BorrowedAmountSf                     uint256.Int
	MarketValueSf                        uint256.Int
	BorrowFactorAdjustedMarketValueSf    uint256.Int
	BorrowedAmountOutsideElevationGroups uint64
	Padding2                             [obligationLiquidityPaddingSize]byte
}

// Obligation is a user's collateral and debt within one lending market.
type Obligation struct {
	Tag           uint64
	LastUpdate    LastUpdate
	LendingMarket ed25519.PublicKey
	Owner         ed25519.PublicKey

	Deposits                           [MaxObligationDeposits]ObligationCollateral
	LowestReserveDepositLiquidationLtv uint64
	DepositedValueSf                   uint256.Int

	Borrows                         [MaxObligationBorrows]ObligationLiquidity
	BorrowFactorAdjustedDebtValueSf uint256.Int
	BorrowedAssetsMarketValueSf     uint256.Int
	AllowedBorrowValueSf            uint256.Int
	UnhealthyBorrowValueSf          uint256.Int

	DepositsAssetTiers    [MaxObligationDeposits]uint8
	BorrowsAssetTiers     [MaxObligationBorrows]uint8
	ElevationGroup        uint8
	NumOfObsoleteReserves uint8
	HasDebt               uint8
	Referrer              ed25519.PublicKey
	BorrowingDisabled     uint8
	Reserved              [obligationReservedSize]byte
}

func (o *Obligation) Unmarshal(data []byte) error {
	if len(data) != ObligationAccountSize {
		return &lending.MalformedAccountError{
			Protocol: lending.ProtocolKamino,
			Kind:     "Obligation",
			Reason:   fmt.Sprintf("expected %d bytes, got %d", ObligationAccountSize, len(data)),
		}
	}

	var offset int
	var discriminator []byte
	binary.GetDiscriminator(data, &discriminator, &offset)
	if string(discriminator) != string(ObligationAccountDiscriminator) {
		return &lending.MalformedAccountError{
			Protocol: lending.ProtocolKamino,
			Kind:     "Obligation",
			Field:    "discriminator",
			Reason:   fmt.Sprintf("unexpected %x", discriminator),
		}
	}

	binary.GetUint64(data, &o.Tag, &offset)
	getLastUpdate(data, &o.LastUpdate, &offset)
	binary.GetKey(data, &o.LendingMarket, &offset)
	binary.GetKey(data, &o.Owner, &offset)

	for i := range o.Deposits {
		d := &o.Deposits[i]
		binary.GetKey(data, &d.DepositReserve, &offset)
		binary.GetUint64(data, &d.DepositedAmount, &offset)
		binary.GetUint128(data, &d.MarketValueSf, &offset)
		binary.GetUint64(data, &d.BorrowedAgainstInElevationGroup, &offset)
		binary.GetBytes(data, d.Padding[:], &offset)
	}
	binary.GetUint64(data, &o.LowestReserveDepositLiquidationLtv, &offset)
	binary.GetUint128(data, &o.DepositedValueSf, &offset)

	for i := range o.Borrows {
		b := &o.Borrows[i]
		binary.GetKey(data, &b.BorrowReserve, &offset)
		binary.GetBytes(data, b.CumulativeBorrowRateBsf[:], &offset)
		binary.GetUint64(data, &b.Padding, &offset)
		binary.GetUint128(data, &b.BorrowedAmountSf, &offset)
		binary.GetUint128(data, &b.MarketValueSf, &offset)
		binary.GetUint128(data, &b.BorrowFactorAdjustedMarketValueSf, &offset)
		binary.GetUint64(data, &b.BorrowedAmountOutsideElevationGroups, &offset)
		binary.GetBytes(data, b.Padding2[:], &offset)
	}
	binary.GetUint128(data, &o.BorrowFactorAdjustedDebtValueSf, &offset)
	binary.GetUint128(data, &o.BorrowedAssetsMarketValueSf, &offset)
	binary.GetUint128(data, &o.AllowedBorrowValueSf, &offset)
	binary.GetUint128(data, &o.UnhealthyBorrowValueSf, &offset)

	binary.GetBytes(data, o.DepositsAssetTiers[:], &offset)
	binary.GetBytes(data, o.BorrowsAssetTiers[:], &offset)
	binary.GetUint8(data, &o.ElevationGroup, &offset)
	binary.GetUint8(data, &o.NumOfObsoleteReserves, &offset)
	binary.GetUint8(data, &o.HasDebt, &offset)
	binary.GetKey(data, &o.Referrer, &offset)
	binary.GetUint8(data, &o.BorrowingDisabled, &offset)
	binary.GetBytes(data, o.Reserved[:], &offset)

	return nil
}

func (o *Obligation) Marshal() []byte {
	data := make([]byte, ObligationAccountSize)

	var offset int
	binary.PutDiscriminator(data, ObligationAccountDiscriminator, &offset)
	binary.PutUint64(data, o.Tag, &offset)
	putLastUpdate(data, &o.LastUpdate, &offset)
	binary.PutKey(data, o.LendingMarket, &offset)
	binary.PutKey(data, o.Owner, &offset)

	for i := range o.Deposits {
		d := &o.Deposits[i]
		binary.PutKey(data, d.DepositReserve, &offset)
		binary.PutUint64(data, d.DepositedAmount, &offset)
		binary.PutUint128(data, &d.MarketValueSf, &offset)
		binary.PutUint64(data, d.BorrowedAgainstInElevationGroup, &offset)
		binary.PutBytes(data, d.Padding[:], &offset)
	}
	binary.PutUint64(data, o.LowestReserveDepositLiquidationLtv, &offset)
	binary.PutUint128(data, &o.DepositedValueSf, &offset)

	for i := range o.Borrows {
		b := &o.Borrows[i]
		binary.PutKey(data, b.BorrowReserve, &offset)
		binary.PutBytes(data, b.CumulativeBorrowRateBsf[:], &offset)
		binary.PutUint64(data, b.Padding, &offset)
		binary.PutUint128(data, &b.BorrowedAmountSf, &offset)
		binary.PutUint128(data, &b.MarketValueSf, &offset)
		binary.PutUint128(data, &b.BorrowFactorAdjustedMarketValueSf, &offset)
		binary.PutUint64(data, b.BorrowedAmountOutsideElevationGroups, &offset)
		binary.PutBytes(data, b.Padding2[:], &offset)
	}
	binary.PutUint128(data, &o.BorrowFactorAdjustedDebtValueSf, &offset)
	binary.PutUint128(data, &o.BorrowedAssetsMarketValueSf, &offset)
	binary.PutUint128(data, &o.AllowedBorrowValueSf, &offset)
	binary.PutUint128(data, &o.UnhealthyBorrowValueSf, &offset)

	binary.PutBytes(data, o.DepositsAssetTiers[:], &offset)
	binary.PutBytes(data, o.BorrowsAssetTiers[:], &offset)
	binary.PutUint8(data, o.ElevationGroup, &offset)
	binary.PutUint8(data, o.NumOfObsoleteReserves, &offset)
	binary.PutUint8(data, o.HasDebt, &offset)
	binary.PutKey(data, o.Referrer, &offset)
	binary.PutUint8(data, o.BorrowingDisabled, &offset)
	binary.PutBytes(data, o.Reserved[:], &offset)

	return data
}

func (o *Obligation) String() string {
	return fmt.Sprintf(
		"Obligation{tag=%d,lending_market=%s,owner=%s,deposits=%d,borrows=%d}",
		o.Tag,
		base58.Encode(o.LendingMarket),
		base58.Encode(o.Owner),
		len(o.ActiveDeposits()),
		len(o.ActiveBorrows()),
	)
}

// ActiveDeposits returns the used deposit slots.
func (o *Obligation) ActiveDeposits() []ObligationCollateral {
	var res []ObligationCollateral
	for _, d := range o.Deposits {
		if !codec.IsZeroKey(d.DepositReserve) {
			res = append(res, d)
		}
	}
	return res
}

// ActiveBorrows returns the used borrow slots.
func (o *Obligation) ActiveBorrows() []ObligationLiquidity {
	var res []ObligationLiquidity
	for _, b := range o.Borrows {
		if !codec.IsZeroKey(b.BorrowReserve) {
			res = append(res, b)
		}
	}
	return res
}
