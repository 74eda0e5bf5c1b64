package solend

import (
	"crypto/ed25519"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/mr-tron/base58/base58"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/lending/codec"
	"github.com/lendsdk/lendsdk/pkg/solana/binary"
)

const reservePaddingSize = 105

const (
	LastUpdateSize = (8 + // slot
		1) // stale

	ReserveAccountSize = (1 + // version
		LastUpdateSize +
		32 + // lending_market
		32 + // liquidity_mint_pubkey
		1 + // liquidity_mint_decimals
		32 + // liquidity_supply_pubkey
		32 + // liquidity_pyth_oracle_pubkey
		32 + // liquidity_switchboard_oracle_pubkey
		8 + // liquidity_available_amount
		16 + // liquidity_borrowed_amount_wads
		16 + // liquidity_cumulative_borrow_rate_wads
		16 + // liquidity_market_price
		32 + // collateral_mint_pubkey
		8 + // collateral_mint_total_supply
		32 + // collateral_supply_pubkey
		7 + // rate and ratio config bytes
		8 + // borrow_fee_wad
		8 + // flash_loan_fee_wad
		1 + // host_fee_percentage
		8 + // deposit_limit
		8 + // borrow_limit
		32 + // fee_receiver
		1 + // protocol_liquidation_fee
		1 + // protocol_take_rate
		16 + // liquidity_accumulated_protocol_fees_wads
		8 + // added_borrow_weight_bps
		16 + // liquidity_smoothed_market_price
		1 + // asset_type
		1 + // max_utilization_rate
		8 + // super_max_borrow_rate
		1 + // max_liquidation_bonus
		1 + // max_liquidation_threshold
		8 + // scaled_price_offset_bps
		32 + // extra_oracle_pubkey
		1 + // liquidity_extra_market_price_flag
		16 + // liquidity_extra_market_price
		16 + // attributed_borrow_value
		8 + // attributed_borrow_limit_open
		8 + // attributed_borrow_limit_close
		reservePaddingSize)
)

type LastUpdate struct {
	Slot  uint64
	Stale uint8
}

// ReserveLiquidity values ending in Wads, and MarketPrice, are WAD decimals.
type ReserveLiquidity struct {
	MintPubkey               ed25519.PublicKey
	MintDecimals             uint8
	SupplyPubkey             ed25519.PublicKey
	PythOracle               ed25519.PublicKey
	SwitchboardOracle        ed25519.PublicKey
	AvailableAmount          uint64
	BorrowedAmountWads       uint256.Int
	CumulativeBorrowRateWads uint256.Int
	MarketPrice              uint256.Int
	AccumulatedProtocolFees  uint256.Int
	SmoothedMarketPrice      uint256.Int
	ExtraMarketPriceFlag     uint8
	ExtraMarketPrice         uint256.Int
}

type ReserveCollateral struct {
	MintPubkey      ed25519.PublicKey
	MintTotalSupply uint64
	SupplyPubkey    ed25519.PublicKey
}

type ReserveFees struct {
	BorrowFeeWad      uint64
	FlashLoanFeeWad   uint64
	HostFeePercentage uint8
}

// ReserveConfig rates and ratios are whole percentages.
type ReserveConfig struct {
	OptimalUtilizationRate     uint8
	LoanToValueRatio           uint8
	LiquidationBonus           uint8
	LiquidationThreshold       uint8
	MinBorrowRate              uint8
	OptimalBorrowRate          uint8
	MaxBorrowRate              uint8
	Fees                       ReserveFees
	DepositLimit               uint64
	BorrowLimit                uint64
	FeeReceiver                ed25519.PublicKey
	ProtocolLiquidationFee     uint8
	ProtocolTakeRate           uint8
	AddedBorrowWeightBps       uint64
	AssetType                  uint8
	MaxUtilizationRate         uint8
	SuperMaxBorrowRate         uint64
	MaxLiquidationBonus        uint8
	MaxLiquidationThreshold    uint8
	ScaledPriceOffsetBps       int64
	ExtraOracle                ed25519.PublicKey
	AttributedBorrowLimitOpen  uint64
	AttributedBorrowLimitClose uint64
}

// Reserve is one lendable asset of a Solend lending market.
type Reserve struct {
	Version       uint8
	LastUpdate    LastUpdate
	LendingMarket ed25519.PublicKey

	Liquidity  ReserveLiquidity
	Collateral ReserveCollateral
	Config     ReserveConfig

	AttributedBorrowValue uint256.Int
	Padding               [reservePaddingSize]byte
}

func (r *Reserve) Unmarshal(data []byte) error {
	if len(data) != ReserveAccountSize {
		return &lending.MalformedAccountError{
			Protocol: lending.ProtocolSolend,
			Kind:     AccountReserve,
			Reason:   fmt.Sprintf("expected %d bytes, got %d", ReserveAccountSize, len(data)),
		}
	}

	var offset int
	binary.GetUint8(data, &r.Version, &offset)
	getLastUpdate(data, &r.LastUpdate, &offset)
	binary.GetKey(data, &r.LendingMarket, &offset)

	l := &r.Liquidity
	binary.GetKey(data, &l.MintPubkey, &offset)
	binary.GetUint8(data, &l.MintDecimals, &offset)
	binary.GetKey(data, &l.SupplyPubkey, &offset)
	binary.GetKey(data, &l.PythOracle, &offset)
	binary.GetKey(data, &l.SwitchboardOracle, &offset)
	binary.GetUint64(data, &l.AvailableAmount, &offset)
	binary.GetUint128(data, &l.BorrowedAmountWads, &offset)
	binary.GetUint128(data, &l.CumulativeBorrowRateWads, &offset)
	binary.GetUint128(data, &l.MarketPrice, &offset)

	c := &r.Collateral
	binary.GetKey(data, &c.MintPubkey, &offset)
	binary.GetUint64(data, &c.MintTotalSupply, &offset)
	binary.GetKey(data, &c.SupplyPubkey, &offset)

	cfg := &r.Config
	binary.GetUint8(data, &cfg.OptimalUtilizationRate, &offset)
	binary.GetUint8(data, &cfg.LoanToValueRatio, &offset)
	binary.GetUint8(data, &cfg.LiquidationBonus, &offset)
	binary.GetUint8(data, &cfg.LiquidationThreshold, &offset)
	binary.GetUint8(data, &cfg.MinBorrowRate, &offset)
	binary.GetUint8(data, &cfg.OptimalBorrowRate, &offset)
	binary.GetUint8(data, &cfg.MaxBorrowRate, &offset)
	binary.GetUint64(data, &cfg.Fees.BorrowFeeWad, &offset)
	binary.GetUint64(data, &cfg.Fees.FlashLoanFeeWad, &offset)
	binary.GetUint8(data, &cfg.Fees.HostFeePercentage, &offset)
	binary.GetUint64(data, &cfg.DepositLimit, &offset)
	binary.GetUint64(data, &cfg.BorrowLimit, &offset)
	binary.GetKey(data, &cfg.FeeReceiver, &offset)
	binary.GetUint8(data, &cfg.ProtocolLiquidationFee, &offset)
	binary.GetUint8(data, &cfg.ProtocolTakeRate, &offset)

	binary.GetUint128(data, &l.AccumulatedProtocolFees, &offset)
	binary.GetUint64(data, &cfg.AddedBorrowWeightBps, &offset)
	binary.GetUint128(data, &l.SmoothedMarketPrice, &offset)
	binary.GetUint8(data, &cfg.AssetType, &offset)
	binary.GetUint8(data, &cfg.MaxUtilizationRate, &offset)
	binary.GetUint64(data, &cfg.SuperMaxBorrowRate, &offset)
	binary.GetUint8(data, &cfg.MaxLiquidationBonus, &offset)
	binary.GetUint8(data, &cfg.MaxLiquidationThreshold, &offset)
	binary.GetInt64(data, &cfg.ScaledPriceOffsetBps, &offset)
	binary.GetKey(data, &cfg.ExtraOracle, &offset)
	binary.GetUint8(data, &l.ExtraMarketPriceFlag, &offset)
	binary.GetUint128(data, &l.ExtraMarketPrice, &offset)
	binary.GetUint128(data, &r.AttributedBorrowValue, &offset)
	binary.GetUint64(data, &cfg.AttributedBorrowLimitOpen, &offset)
	binary.GetUint64(data, &cfg.AttributedBorrowLimitClose, &offset)
	binary.GetBytes(data, r.Padding[:], &offset)

	return nil
}

func (r *Reserve) Marshal() []byte {
	data := make([]byte, ReserveAccountSize)

	var offset int
	binary.PutUint8(data, r.Version, &offset)
	putLastUpdate(data, &r.LastUpdate, &offset)
	binary.PutKey(data, r.LendingMarket, &offset)

	l := &r.Liquidity
	binary.PutKey(data, l.MintPubkey, &offset)
	binary.PutUint8(data, l.MintDecimals, &offset)
	binary.PutKey(data, l.SupplyPubkey, &offset)
	binary.PutKey(data, l.PythOracle, &offset)
	binary.PutKey(data, l.SwitchboardOracle, &offset)
	binary.PutUint64(data, l.AvailableAmount, &offset)
	binary.PutUint128(data, &l.BorrowedAmountWads, &offset)
	binary.PutUint128(data, &l.CumulativeBorrowRateWads, &offset)
	binary.PutUint128(data, &l.MarketPrice, &offset)

	c := &r.Collateral
	binary.PutKey(data, c.MintPubkey, &offset)
	binary.PutUint64(data, c.MintTotalSupply, &offset)
	binary.PutKey(data, c.SupplyPubkey, &offset)

	cfg := &r.Config
	binary.PutUint8(data, cfg.OptimalUtilizationRate, &offset)
	binary.PutUint8(data, cfg.LoanToValueRatio, &offset)
	binary.PutUint8(data, cfg.LiquidationBonus, &offset)
	binary.PutUint8(data, cfg.LiquidationThreshold, &offset)
	binary.PutUint8(data, cfg.MinBorrowRate, &offset)
	binary.PutUint8(data, cfg.OptimalBorrowRate, &offset)
	binary.PutUint8(data, cfg.MaxBorrowRate, &offset)
	binary.PutUint64(data, cfg.Fees.BorrowFeeWad, &offset)
	binary.PutUint64(data, cfg.Fees.FlashLoanFeeWad, &offset)
	binary.PutUint8(data, cfg.Fees.HostFeePercentage, &offset)
	binary.PutUint64(data, cfg.DepositLimit, &offset)
	binary.PutUint64(data, cfg.BorrowLimit, &offset)
	binary.PutKey(data, cfg.FeeReceiver, &offset)
	binary.PutUint8(data, cfg.ProtocolLiquidationFee, &offset)
	binary.PutUint8(data, cfg.ProtocolTakeRate, &offset)

	binary.PutUint128(data, &l.AccumulatedProtocolFees, &offset)
	binary.PutUint64(data, cfg.AddedBorrowWeightBps, &offset)
	binary.PutUint128(data, &l.SmoothedMarketPrice, &offset)
	binary.PutUint8(data, cfg.AssetType, &offset)
	binary.PutUint8(data, cfg.MaxUtilizationRate, &offset)
	binary.PutUint64(data, cfg.SuperMaxBorrowRate, &offset)
	binary.PutUint8(data, cfg.MaxLiquidationBonus, &offset)
	binary.PutUint8(data, cfg.MaxLiquidationThreshold, &offset)
	binary.PutInt64(data, cfg.ScaledPriceOffsetBps, &offset)
	binary.PutKey(data, cfg.ExtraOracle, &offset)
	binary.PutUint8(data, l.ExtraMarketPriceFlag, &offset)
	binary.PutUint128(data, &l.ExtraMarketPrice, &offset)
	binary.PutUint128(data, &r.AttributedBorrowValue, &offset)
	binary.PutUint64(data, cfg.AttributedBorrowLimitOpen, &offset)
	binary.PutUint64(data, cfg.AttributedBorrowLimitClose, &offset)
	binary.PutBytes(data, r.Padding[:], &offset)

	return data
}

func (r *Reserve) String() string {
	return fmt.Sprintf(
		"Reserve{version=%d,lending_market=%s,mint=%s,available=%d}",
		r.Version,
		base58.Encode(r.LendingMarket),
		base58.Encode(r.Liquidity.MintPubkey),
		r.Liquidity.AvailableAmount,
	)
}

// Oracles returns the configured price feeds, unset ones omitted.
func (r *Reserve) Oracles() []ed25519.PublicKey {
	return codec.NonZeroKeys(r.Liquidity.PythOracle, r.Liquidity.SwitchboardOracle, r.Config.ExtraOracle)
}

// IsInitialized reports whether the reserve was written by the current
// program version.
func (r *Reserve) IsInitialized() bool {
	return r.Version == ProgramVersion
}

func getLastUpdate(src []byte, dst *LastUpdate, offset *int) {
	binary.GetUint64(src, &dst.Slot, offset)
	binary.GetUint8(src, &dst.Stale, offset)
}

func putLastUpdate(dst []byte, v *LastUpdate, offset *int) {
	binary.PutUint64(dst, v.Slot, offset)
	binary.PutUint8(dst, v.Stale, offset)
}
