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

var ReserveAccountDiscriminator = codec.AccountDiscriminator("Reserve")

const (
	borrowRateCurvePoints = 11
	elevationGroupSlots   = 20
	elevationGroupBorrows = 32

	reserveLiquidityReservedSize  = 920
	reserveLiquidityPaddingSize   = 1200
	reserveCollateralReservedSize = 1024
	reserveCollateralPaddingSize  = 1200
	reserveConfigTailSize         = 274
	reserveConfigPaddingSize      = 928
	reservePaddingSize            = 1656
	tokenInfoPaddingSize          = 152
)

const (
	LastUpdateSize = (8 + // slot
		1 + // stale
		1 + // price_status
		6) // placeholder

	ReserveLiquiditySize = (32 + // mint_pubkey
		32 + // supply_vault
		32 + // fee_vault
		8 + // available_amount
		16 + // borrowed_amount_sf
		16 + // market_price_sf
		8 + // market_price_last_updated_ts
		8 + // mint_decimals
		8 + // deposit_limit_crossed_timestamp
		8 + // borrow_limit_crossed_timestamp
		48 + // cumulative_borrow_rate_bsf
		16 + // accumulated_protocol_fees_sf
		16 + // accumulated_referrer_fees_sf
		16 + // pending_referrer_fees_sf
		16 + // absolute_referral_rate_sf
		32 + // token_program
		reserveLiquidityReservedSize)

	ReserveCollateralSize = (32 + // mint_pubkey
		8 + // mint_total_supply
		32 + // supply_vault
		reserveCollateralReservedSize)

	TokenInfoSize = (32 + // name
		3*8 + // heuristic
		8 + // max_twap_divergence_bps
		8 + // max_age_price_seconds
		8 + // max_age_twap_seconds
		32 + 2*4 + 2*4 + // scope_configuration
		32 + 32 + // switchboard_configuration
		32 + // pyth_configuration
		1 + // block_price_usage
		7 + // reserved
		tokenInfoPaddingSize)

	WithdrawalCapsSize = 4 * 8

	ReserveConfigSize = (1 + // status
		1 + // asset_tier
		2 + // host_fixed_interest_rate_bps
		10 + // reserved
		1 + // protocol_take_rate_pct
		1 + // protocol_liquidation_fee_pct
		1 + // loan_to_value_pct
		1 + // liquidation_threshold_pct
		2 + // min_liquidation_bonus_bps
		2 + // max_liquidation_bonus_bps
		2 + // bad_debt_liquidation_bonus_bps
		8 + // deleveraging_margin_call_period_secs
		8 + // deleveraging_threshold_slots_per_bps
		8 + 8 + 8 + // fees
		borrowRateCurvePoints*8 + // borrow_rate_curve
		8 + // borrow_factor_pct
		8 + // deposit_limit
		8 + // borrow_limit
		TokenInfoSize +
		WithdrawalCapsSize + // deposit_withdrawal_cap
		WithdrawalCapsSize + // debt_withdrawal_cap
		elevationGroupSlots + // elevation_groups
		1 + // disable_usage_as_coll_outside_emode
		1 + // utilization_limit_block_borrowing_above_pct
		reserveConfigTailSize)

	ReserveAccountSize = (8 + // discriminator
		8 + // version
		LastUpdateSize +
		32 + // lending_market
		32 + // farm_collateral
		32 + // farm_debt
		ReserveLiquiditySize +
		reserveLiquidityPaddingSize +
		ReserveCollateralSize +
		reserveCollateralPaddingSize +
		ReserveConfigSize +
		reserveConfigPaddingSize +
		8 + // borrowed_amount_outside_elevation_group
		elevationGroupBorrows*8 + // borrowed_amounts_against_this_reserve_in_elevation_groups
		reservePaddingSize)
)

// Reserve status values of ReserveConfig.Status.
const (
	ReserveStatusActive uint8 = iota
	ReserveStatusObsolete
	ReserveStatusHidden
)

type LastUpdate struct {
	Slot        uint64
	Stale       uint8
	PriceStatus uint8
	Placeholder [6]byte
}

type ReserveLiquidity struct {
	MintPubkey                   ed25519.PublicKey
	SupplyVault                  ed25519.PublicKey
	FeeVault                     ed25519.PublicKey
	AvailableAmount              uint64
	BorrowedAmountSf             uint256.Int
	MarketPriceSf                uint256.Int
	MarketPriceLastUpdatedTs     uint64
	MintDecimals                 uint64
	DepositLimitCrossedTimestamp uint64
	BorrowLimitCrossedTimestamp  uint64
	CumulativeBorrowRateBsf      [48]byte
	AccumulatedProtocolFeesSf    uint256.Int
	AccumulatedReferrerFeesSf    uint256.Int
	PendingReferrerFeesSf        uint256.Int
	AbsoluteReferralRateSf       uint256.Int
	TokenProgram                 ed25519.PublicKey
	Reserved                     [reserveLiquidityReservedSize]byte
}

type ReserveCollateral struct {
	MintPubkey      ed25519.PublicKey
	MintTotalSupply uint64
	SupplyVault     ed25519.PublicKey
	Reserved        [reserveCollateralReservedSize]byte
}

type CurvePoint struct {
	UtilizationRateBps uint32
	BorrowRateBps      uint32
}

type PriceHeuristic struct {
	Lower uint64
	Upper uint64
	Exp   uint64
}

type TokenInfo struct {
	Name                 [32]byte
	Heuristic            PriceHeuristic
	MaxTwapDivergenceBps uint64
	MaxAgePriceSeconds   uint64
	MaxAgeTwapSeconds    uint64
	ScopePriceFeed       ed25519.PublicKey
	ScopePriceChain      [4]uint16
	ScopeTwapChain       [4]uint16
	SwitchboardPrice     ed25519.PublicKey
	SwitchboardTwap      ed25519.PublicKey
	PythPrice            ed25519.PublicKey
	BlockPriceUsage      uint8
	Reserved             [7]byte
	Padding              [tokenInfoPaddingSize]byte
}

type WithdrawalCaps struct {
	ConfigCapacity              int64
	CurrentTotal                int64
	LastIntervalStartTimestamp  uint64
	ConfigIntervalLengthSeconds uint64
}

type ReserveConfig struct {
	Status                                 uint8
	AssetTier                              uint8
	HostFixedInterestRateBps               uint16
	Reserved                               [10]byte
	ProtocolTakeRatePct                    uint8
	ProtocolLiquidationFeePct              uint8
	LoanToValuePct                         uint8
	LiquidationThresholdPct                uint8
	MinLiquidationBonusBps                 uint16
	MaxLiquidationBonusBps                 uint16
	BadDebtLiquidationBonusBps             uint16
	DeleveragingMarginCallPeriodSecs       uint64
	DeleveragingThresholdSlotsPerBps       uint64
	BorrowFeeSf                            uint64
	FlashLoanFeeSf                         uint64
	FeesPadding                            uint64
	BorrowRateCurve                        [borrowRateCurvePoints]CurvePoint
	BorrowFactorPct                        uint64
	DepositLimit                           uint64
	BorrowLimit                            uint64
	TokenInfo                              TokenInfo
	DepositWithdrawalCap                   WithdrawalCaps
	DebtWithdrawalCap                      WithdrawalCaps
	ElevationGroups                        [elevationGroupSlots]byte
	DisableUsageAsCollOutsideEmode         uint8
	UtilizationLimitBlockBorrowingAbovePct uint8
	Tail                                   [reserveConfigTailSize]byte
}

// Reserve is the klend account describing one lendable asset of a lending
// market.
type Reserve struct {
	Version        uint64
	LastUpdate     LastUpdate
	LendingMarket  ed25519.PublicKey
	FarmCollateral ed25519.PublicKey
	FarmDebt       ed25519.PublicKey

	Liquidity        ReserveLiquidity
	LiquidityPadding [reserveLiquidityPaddingSize]byte

	Collateral        ReserveCollateral
	CollateralPadding [reserveCollateralPaddingSize]byte

	Config        ReserveConfig
	ConfigPadding [reserveConfigPaddingSize]byte

	BorrowedAmountOutsideElevationGroup uint64
	BorrowedAmountsInElevationGroups    [elevationGroupBorrows]uint64
	Padding                             [reservePaddingSize]byte
}

func (r *Reserve) Unmarshal(data []byte) error {
	if len(data) != ReserveAccountSize {
		return &lending.MalformedAccountError{
			Protocol: lending.ProtocolKamino,
			Kind:     "Reserve",
			Reason:   fmt.Sprintf("expected %d bytes, got %d", ReserveAccountSize, len(data)),
		}
	}

	var offset int
	var discriminator []byte
	binary.GetDiscriminator(data, &discriminator, &offset)
	if string(discriminator) != string(ReserveAccountDiscriminator) {
		return &lending.MalformedAccountError{
			Protocol: lending.ProtocolKamino,
			Kind:     "Reserve",
			Field:    "discriminator",
			Reason:   fmt.Sprintf("unexpected %x", discriminator),
		}
	}

	binary.GetUint64(data, &r.Version, &offset)
	getLastUpdate(data, &r.LastUpdate, &offset)
	binary.GetKey(data, &r.LendingMarket, &offset)
	binary.GetKey(data, &r.FarmCollateral, &offset)
	binary.GetKey(data, &r.FarmDebt, &offset)

	l := &r.Liquidity
	binary.GetKey(data, &l.MintPubkey, &offset)
	binary.GetKey(data, &l.SupplyVault, &offset)
	binary.GetKey(data, &l.FeeVault, &offset)
	binary.GetUint64(data, &l.AvailableAmount, &offset)
	binary.GetUint128(data, &l.BorrowedAmountSf, &offset)
	binary.GetUint128(data, &l.MarketPriceSf, &offset)
	binary.GetUint64(data, &l.MarketPriceLastUpdatedTs, &offset)
	binary.GetUint64(data, &l.MintDecimals, &offset)
	binary.GetUint64(data, &l.DepositLimitCrossedTimestamp, &offset)
	binary.GetUint64(data, &l.BorrowLimitCrossedTimestamp, &offset)
	binary.GetBytes(data, l.CumulativeBorrowRateBsf[:], &offset)
	binary.GetUint128(data, &l.AccumulatedProtocolFeesSf, &offset)
	binary.GetUint128(data, &l.AccumulatedReferrerFeesSf, &offset)
	binary.GetUint128(data, &l.PendingReferrerFeesSf, &offset)
	binary.GetUint128(data, &l.AbsoluteReferralRateSf, &offset)
	binary.GetKey(data, &l.TokenProgram, &offset)
	binary.GetBytes(data, l.Reserved[:], &offset)
	binary.GetBytes(data, r.LiquidityPadding[:], &offset)

	c := &r.Collateral
	binary.GetKey(data, &c.MintPubkey, &offset)
	binary.GetUint64(data, &c.MintTotalSupply, &offset)
	binary.GetKey(data, &c.SupplyVault, &offset)
	binary.GetBytes(data, c.Reserved[:], &offset)
	binary.GetBytes(data, r.CollateralPadding[:], &offset)

	getReserveConfig(data, &r.Config, &offset)
	binary.GetBytes(data, r.ConfigPadding[:], &offset)

	binary.GetUint64(data, &r.BorrowedAmountOutsideElevationGroup, &offset)
	for i := range r.BorrowedAmountsInElevationGroups {
		binary.GetUint64(data, &r.BorrowedAmountsInElevationGroups[i], &offset)
	}
	binary.GetBytes(data, r.Padding[:], &offset)

	return nil
}

func (r *Reserve) Marshal() []byte {
	data := make([]byte, ReserveAccountSize)

	var offset int
	binary.PutDiscriminator(data, ReserveAccountDiscriminator, &offset)
	binary.PutUint64(data, r.Version, &offset)
	putLastUpdate(data, &r.LastUpdate, &offset)
	binary.PutKey(data, r.LendingMarket, &offset)
	binary.PutKey(data, r.FarmCollateral, &offset)
	binary.PutKey(data, r.FarmDebt, &offset)

	l := &r.Liquidity
	binary.PutKey(data, l.MintPubkey, &offset)
	binary.PutKey(data, l.SupplyVault, &offset)
	binary.PutKey(data, l.FeeVault, &offset)
	binary.PutUint64(data, l.AvailableAmount, &offset)
	binary.PutUint128(data, &l.BorrowedAmountSf, &offset)
	binary.PutUint128(data, &l.MarketPriceSf, &offset)
	binary.PutUint64(data, l.MarketPriceLastUpdatedTs, &offset)
	binary.PutUint64(data, l.MintDecimals, &offset)
	binary.PutUint64(data, l.DepositLimitCrossedTimestamp, &offset)
	binary.PutUint64(data, l.BorrowLimitCrossedTimestamp, &offset)
	binary.PutBytes(data, l.CumulativeBorrowRateBsf[:], &offset)
	binary.PutUint128(data, &l.AccumulatedProtocolFeesSf, &offset)
	binary.PutUint128(data, &l.AccumulatedReferrerFeesSf, &offset)
	binary.PutUint128(data, &l.PendingReferrerFeesSf, &offset)
	binary.PutUint128(data, &l.AbsoluteReferralRateSf, &offset)
	binary.PutKey(data, l.TokenProgram, &offset)
	binary.PutBytes(data, l.Reserved[:], &offset)
	binary.PutBytes(data, r.LiquidityPadding[:], &offset)

	c := &r.Collateral
	binary.PutKey(data, c.MintPubkey, &offset)
	binary.PutUint64(data, c.MintTotalSupply, &offset)
	binary.PutKey(data, c.SupplyVault, &offset)
	binary.PutBytes(data, c.Reserved[:], &offset)
	binary.PutBytes(data, r.CollateralPadding[:], &offset)

	putReserveConfig(data, &r.Config, &offset)
	binary.PutBytes(data, r.ConfigPadding[:], &offset)

	binary.PutUint64(data, r.BorrowedAmountOutsideElevationGroup, &offset)
	for _, v := range r.BorrowedAmountsInElevationGroups {
		binary.PutUint64(data, v, &offset)
	}
	binary.PutBytes(data, r.Padding[:], &offset)

	return data
}

func (r *Reserve) String() string {
	return fmt.Sprintf(
		"Reserve{version=%d,lending_market=%s,mint=%s,available=%d,status=%d,ltv=%d}",
		r.Version,
		base58.Encode(r.LendingMarket),
		base58.Encode(r.Liquidity.MintPubkey),
		r.Liquidity.AvailableAmount,
		r.Config.Status,
		r.Config.LoanToValuePct,
	)
}

// IsActive reports whether the reserve accepts new deposits and borrows.
func (r *Reserve) IsActive() bool {
	return r.Config.Status == ReserveStatusActive
}

// Oracles returns the configured price sources, unset ones omitted.
func (r *Reserve) Oracles() []ed25519.PublicKey {
	info := &r.Config.TokenInfo
	return codec.NonZeroKeys(info.PythPrice, info.SwitchboardPrice, info.SwitchboardTwap, info.ScopePriceFeed)
}

func getLastUpdate(src []byte, dst *LastUpdate, offset *int) {
	binary.GetUint64(src, &dst.Slot, offset)
	binary.GetUint8(src, &dst.Stale, offset)
	binary.GetUint8(src, &dst.PriceStatus, offset)
	binary.GetBytes(src, dst.Placeholder[:], offset)
}

func putLastUpdate(dst []byte, v *LastUpdate, offset *int) {
	binary.PutUint64(dst, v.Slot, offset)
	binary.PutUint8(dst, v.Stale, offset)
	binary.PutUint8(dst, v.PriceStatus, offset)
	binary.PutBytes(dst, v.Placeholder[:], offset)
}

func getReserveConfig(src []byte, dst *ReserveConfig, offset *int) {
	binary.GetUint8(src, &dst.Status, offset)
	binary.GetUint8(src, &dst.AssetTier, offset)
	binary.GetUint16(src, &dst.HostFixedInterestRateBps, offset)
	binary.GetBytes(src, dst.Reserved[:], offset)
	binary.GetUint8(src, &dst.ProtocolTakeRatePct, offset)
	binary.GetUint8(src, &dst.ProtocolLiquidationFeePct, offset)
	binary.GetUint8(src, &dst.LoanToValuePct, offset)
	binary.GetUint8(src, &dst.LiquidationThresholdPct, offset)
	binary.GetUint16(src, &dst.MinLiquidationBonusBps, offset)
	binary.GetUint16(src, &dst.MaxLiquidationBonusBps, offset)
	binary.GetUint16(src, &dst.BadDebtLiquidationBonusBps, offset)
	binary.GetUint64(src, &dst.DeleveragingMarginCallPeriodSecs, offset)
	binary.GetUint64(src, &dst.DeleveragingThresholdSlotsPerBps, offset)
	binary.GetUint64(src, &dst.BorrowFeeSf, offset)
	binary.GetUint64(src, &dst.FlashLoanFeeSf, offset)
	binary.GetUint64(src, &dst.FeesPadding, offset)
	for i := range dst.BorrowRateCurve {
		binary.GetUint32(src, &dst.BorrowRateCurve[i].UtilizationRateBps, offset)
		binary.GetUint32(src, &dst.BorrowRateCurve[i].BorrowRateBps, offset)
	}
	binary.GetUint64(src, &dst.BorrowFactorPct, offset)
	binary.GetUint64(src, &dst.DepositLimit, offset)
	binary.GetUint64(src, &dst.BorrowLimit, offset)

	info := &dst.TokenInfo
	binary.GetBytes(src, info.Name[:], offset)
	binary.GetUint64(src, &info.Heuristic.Lower, offset)
	binary.GetUint64(src, &info.Heuristic.Upper, offset)
	binary.GetUint64(src, &info.Heuristic.Exp, offset)
	binary.GetUint64(src, &info.MaxTwapDivergenceBps, offset)
	binary.GetUint64(src, &info.MaxAgePriceSeconds, offset)
	binary.GetUint64(src, &info.MaxAgeTwapSeconds, offset)
	binary.GetKey(src, &info.ScopePriceFeed, offset)
	for i := range info.ScopePriceChain {
		binary.GetUint16(src, &info.ScopePriceChain[i], offset)
	}
	for i := range info.ScopeTwapChain {
		binary.GetUint16(src, &info.ScopeTwapChain[i], offset)
	}
	binary.GetKey(src, &info.SwitchboardPrice, offset)
	binary.GetKey(src, &info.SwitchboardTwap, offset)
	binary.GetKey(src, &info.PythPrice, offset)
	binary.GetUint8(src, &info.BlockPriceUsage, offset)
	binary.GetBytes(src, info.Reserved[:], offset)
	binary.GetBytes(src, info.Padding[:], offset)

	getWithdrawalCaps(src, &dst.DepositWithdrawalCap, offset)
	getWithdrawalCaps(src, &dst.DebtWithdrawalCap, offset)
	binary.GetBytes(src, dst.ElevationGroups[:], offset)
	binary.GetUint8(src, &dst.DisableUsageAsCollOutsideEmode, offset)
	binary.GetUint8(src, &dst.UtilizationLimitBlockBorrowingAbovePct, offset)
	binary.GetBytes(src, dst.Tail[:], offset)
}

func putReserveConfig(dst []byte, v *ReserveConfig, offset *int) {
	binary.PutUint8(dst, v.Status, offset)
	binary.PutUint8(dst, v.AssetTier, offset)
	binary.PutUint16(dst, v.HostFixedInterestRateBps, offset)
	binary.PutBytes(dst, v.Reserved[:], offset)
	binary.PutUint8(dst, v.ProtocolTakeRatePct, offset)
	binary.PutUint8(dst, v.ProtocolLiquidationFeePct, offset)
	binary.PutUint8(dst, v.LoanToValuePct, offset)
	binary.PutUint8(dst, v.LiquidationThresholdPct, offset)
	binary.PutUint16(dst, v.MinLiquidationBonusBps, offset)
	binary.PutUint16(dst, v.MaxLiquidationBonusBps, offset)
	binary.PutUint16(dst, v.BadDebtLiquidationBonusBps, offset)
	binary.PutUint64(dst, v.DeleveragingMarginCallPeriodSecs, offset)
	binary.PutUint64(dst, v.DeleveragingThresholdSlotsPerBps, offset)
	binary.PutUint64(dst, v.BorrowFeeSf, offset)
	binary.PutUint64(dst, v.FlashLoanFeeSf, offset)
	binary.PutUint64(dst, v.FeesPadding, offset)
	for _, point := range v.BorrowRateCurve {
		binary.PutUint32(dst, point.UtilizationRateBps, offset)
		binary.PutUint32(dst, point.BorrowRateBps, offset)
	}
	binary.PutUint64(dst, v.BorrowFactorPct, offset)
	binary.PutUint64(dst, v.DepositLimit, offset)
	binary.PutUint64(dst, v.BorrowLimit, offset)

	info := &v.TokenInfo
	binary.PutBytes(dst, info.Name[:], offset)
	binary.PutUint64(dst, info.Heuristic.Lower, offset)
	binary.PutUint64(dst, info.Heuristic.Upper, offset)
	binary.PutUint64(dst, info.Heuristic.Exp, offset)
	binary.PutUint64(dst, info.MaxTwapDivergenceBps, offset)
	binary.PutUint64(dst, info.MaxAgePriceSeconds, offset)
	binary.PutUint64(dst, info.MaxAgeTwapSeconds, offset)
	binary.PutKey(dst, info.ScopePriceFeed, offset)
	for _, v := range info.ScopePriceChain {
		binary.PutUint16(dst, v, offset)
	}
	for _, v := range info.ScopeTwapChain {
		binary.PutUint16(dst, v, offset)
	}
	binary.PutKey(dst, info.SwitchboardPrice, offset)
	binary.PutKey(dst, info.SwitchboardTwap, offset)
	binary.PutKey(dst, info.PythPrice, offset)
	binary.PutUint8(dst, info.BlockPriceUsage, offset)
	binary.PutBytes(dst, info.Reserved[:], offset)
	binary.PutBytes(dst, info.Padding[:], offset)

	putWithdrawalCaps(dst, &v.DepositWithdrawalCap, offset)
	putWithdrawalCaps(dst, &v.DebtWithdrawalCap, offset)
	binary.PutBytes(dst, v.ElevationGroups[:], offset)
	binary.PutUint8(dst, v.DisableUsageAsCollOutsideEmode, offset)
	binary.PutUint8(dst, v.UtilizationLimitBlockBorrowingAbovePct, offset)
	binary.PutBytes(dst, v.Tail[:], offset)
}

func getWithdrawalCaps(src []byte, dst *WithdrawalCaps, offset *int) {
	binary.GetInt64(src, &dst.ConfigCapacity, offset)
	binary.GetInt64(src, &dst.CurrentTotal, offset)
	binary.GetUint64(src, &dst.LastIntervalStartTimestamp, offset)
	binary.GetUint64(src, &dst.ConfigIntervalLengthSeconds, offset)
}

func putWithdrawalCaps(dst []byte, v *WithdrawalCaps, offset *int) {
	binary.PutInt64(dst, v.ConfigCapacity, offset)
	binary.PutInt64(dst, v.CurrentTotal, offset)
	binary.PutUint64(dst, v.LastIntervalStartTimestamp, offset)
	binary.PutUint64(dst, v.ConfigIntervalLengthSeconds, offset)
}
