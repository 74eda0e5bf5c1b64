package drift

import (
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/mr-tron/base58/base58"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/lending/codec"
	"github.com/lendsdk/lendsdk/pkg/solana/binary"
)

var SpotMarketAccountDiscriminator = codec.AccountDiscriminator("SpotMarket")

const spotMarketPaddingSize = 40

const (
	HistoricalOracleDataSize = 6 * 8
	HistoricalIndexDataSize  = 5 * 8
	PoolBalanceSize          = 16 + 2 + 6
	InsuranceFundSize        = 32 + 3*16 + 3*8 + 2*4

	SpotMarketAccountSize = (8 + // discriminator
		32 + // pubkey
		32 + // oracle
		32 + // mint
		32 + // vault
		32 + // name
		HistoricalOracleDataSize +
		HistoricalIndexDataSize +
		PoolBalanceSize + // revenue_pool
		PoolBalanceSize + // spot_fee_pool
		InsuranceFundSize +
		7*16 + // total_spot_fee .. total_quote_social_loss
		14*8 + // withdraw_guard_threshold .. next_deposit_record_id
		11*4 + // weights, fees, rates, decimals
		2 + // market_index
		6 + // orders_enabled .. if_paused_operations
		2 + // fee_adjustment
		2 + // max_token_borrows_factor
		4*8 + // flash loan, swap fee, scale_initial_asset_weight_start
		8 + // min_borrow_rate, fuel boosts, token_program, pool_id
		spotMarketPaddingSize)
)

// MarketStatus is the lifecycle state of a spot market.
type MarketStatus uint8

const (
	MarketStatusInitialized MarketStatus = iota
	MarketStatusActive
	MarketStatusFundingPaused
	MarketStatusAmmPaused
	MarketStatusFillPaused
	MarketStatusWithdrawPaused
	MarketStatusReduceOnly
	MarketStatusSettlement
	MarketStatusDelisted
)

// Paused spot operation flags.
const (
	PausedUpdateCumulativeInterest uint8 = 1 << 0
	PausedFill                     uint8 = 1 << 1
	PausedDeposit                  uint8 = 1 << 2
	PausedWithdraw                 uint8 = 1 << 3
	PausedLiquidation              uint8 = 1 << 4
)

// Token programs a spot market mint can belong to.
const (
	TokenProgramSpl  uint8 = 0
	TokenProgram2022 uint8 = 1
)

type HistoricalOracleData struct {
	LastOraclePrice         int64
	LastOracleConf          uint64
	LastOracleDelay         int64
	LastOraclePriceTwap     int64
	LastOraclePriceTwap5Min int64
	LastOraclePriceTwapTs   int64
}

type HistoricalIndexData struct {
	LastIndexBidPrice      uint64
	LastIndexAskPrice      uint64
	LastIndexPriceTwap     uint64
	LastIndexPriceTwap5Min uint64
	LastIndexPriceTwapTs   int64
}

type PoolBalance struct {
	ScaledBalance uint256.Int
	MarketIndex   uint16
	Padding       [6]byte
}

type InsuranceFund struct {
	Vault               ed25519.PublicKey
	TotalShares         uint256.Int
	UserShares          uint256.Int
	SharesBase          uint256.Int
	UnstakingPeriod     int64
	LastRevenueSettleTs int64
	RevenueSettlePeriod int64
	TotalFactor         uint32
	UserFactor          uint32
}

// SpotMarket is one Drift spot market. Balances are scaled by the
// cumulative interest indexes.
type SpotMarket struct {
	Pubkey ed25519.PublicKey
	Oracle ed25519.PublicKey
	Mint   ed25519.PublicKey
	Vault  ed25519.PublicKey
	Name   [32]byte

	HistoricalOracleData HistoricalOracleData
	HistoricalIndexData  HistoricalIndexData
	RevenuePool          PoolBalance
	SpotFeePool          PoolBalance
	InsuranceFund        InsuranceFund

	TotalSpotFee              uint256.Int
	DepositBalance            uint256.Int
	BorrowBalance             uint256.Int
	CumulativeDepositInterest uint256.Int
	CumulativeBorrowInterest  uint256.Int
	TotalSocialLoss           uint256.Int
	TotalQuoteSocialLoss      uint256.Int

	WithdrawGuardThreshold uint64
	MaxTokenDeposits       uint64
	DepositTokenTwap       uint64
	BorrowTokenTwap        uint64
	UtilizationTwap        uint64
	LastInterestTs         uint64
	LastTwapTs             uint64
	ExpiryTs               int64
	OrderStepSize          uint64
	OrderTickSize          uint64
	MinOrderSize           uint64
	MaxPositionSize        uint64
	NextFillRecordID       uint64
	NextDepositRecordID    uint64

	InitialAssetWeight         uint32
	MaintenanceAssetWeight     uint32
	InitialLiabilityWeight     uint32
	MaintenanceLiabilityWeight uint32
	ImfFactor                  uint32
	LiquidatorFee              uint32
	IfLiquidationFee           uint32
	OptimalUtilization         uint32
	OptimalBorrowRate          uint32
	MaxBorrowRate              uint32
	Decimals                   uint32

	MarketIndex           uint16
	OrdersEnabled         uint8
	OracleSource          uint8
	Status                MarketStatus
	AssetTier             uint8
	PausedOperations      uint8
	IfPausedOperations    uint8
	FeeAdjustment         int16
	MaxTokenBorrowsFactor uint16

	FlashLoanAmount              uint64
	FlashLoanInitialTokenAmount  uint64
	TotalSwapFee                 uint64
	ScaleInitialAssetWeightStart uint64

	MinBorrowRate      uint8
	FuelBoostDeposits  uint8
	FuelBoostBorrows   uint8
	FuelBoostTaker     uint8
	FuelBoostMaker     uint8
	FuelBoostInsurance uint8
	TokenProgram       uint8
	PoolID             uint8

	Padding [spotMarketPaddingSize]byte
}

func (m *SpotMarket) Unmarshal(data []byte) error {
	if len(data) != SpotMarketAccountSize {
		return &lending.MalformedAccountError{
			Protocol: lending.ProtocolDrift,
			Kind:     AccountSpotMarket,
			Reason:   fmt.Sprintf("expected %d bytes, got %d", SpotMarketAccountSize, len(data)),
		}
	}

	var offset int
	var discriminator []byte
	binary.GetDiscriminator(data, &discriminator, &offset)
	if string(discriminator) != string(SpotMarketAccountDiscriminator) {
		return &lending.MalformedAccountError{
			Protocol: lending.ProtocolDrift,
			Kind:     AccountSpotMarket,
			Field:    "discriminator",
			Reason:   fmt.Sprintf("unexpected %x", discriminator),
		}
	}

	binary.GetKey(data, &m.Pubkey, &offset)
	binary.GetKey(data, &m.Oracle, &offset)
	binary.GetKey(data, &m.Mint, &offset)
	binary.GetKey(data, &m.Vault, &offset)
	binary.GetBytes(data, m.Name[:], &offset)

	getHistoricalOracleData(data, &m.HistoricalOracleData, &offset)
	getHistoricalIndexData(data, &m.HistoricalIndexData, &offset)
	getPoolBalance(data, &m.RevenuePool, &offset)
	getPoolBalance(data, &m.SpotFeePool, &offset)
	getInsuranceFund(data, &m.InsuranceFund, &offset)

	binary.GetUint128(data, &m.TotalSpotFee, &offset)
	binary.GetUint128(data, &m.DepositBalance, &offset)
	binary.GetUint128(data, &m.BorrowBalance, &offset)
	binary.GetUint128(data, &m.CumulativeDepositInterest, &offset)
	binary.GetUint128(data, &m.CumulativeBorrowInterest, &offset)
	binary.GetUint128(data, &m.TotalSocialLoss, &offset)
	binary.GetUint128(data, &m.TotalQuoteSocialLoss, &offset)

	binary.GetUint64(data, &m.WithdrawGuardThreshold, &offset)
	binary.GetUint64(data, &m.MaxTokenDeposits, &offset)
	binary.GetUint64(data, &m.DepositTokenTwap, &offset)
	binary.GetUint64(data, &m.BorrowTokenTwap, &offset)
	binary.GetUint64(data, &m.UtilizationTwap, &offset)
	binary.GetUint64(data, &m.LastInterestTs, &offset)
	binary.GetUint64(data, &m.LastTwapTs, &offset)
	binary.GetInt64(data, &m.ExpiryTs, &offset)
	binary.GetUint64(data, &m.OrderStepSize, &offset)
	binary.GetUint64(data, &m.OrderTickSize, &offset)
	binary.GetUint64(data, &m.MinOrderSize, &offset)
	binary.GetUint64(data, &m.MaxPositionSize, &offset)
	binary.GetUint64(data, &m.NextFillRecordID, &offset)
	binary.GetUint64(data, &m.NextDepositRecordID, &offset)

	binary.GetUint32(data, &m.InitialAssetWeight, &offset)
	binary.GetUint32(data, &m.MaintenanceAssetWeight, &offset)
	binary.GetUint32(data, &m.InitialLiabilityWeight, &offset)
	binary.GetUint32(data, &m.MaintenanceLiabilityWeight, &offset)
	binary.GetUint32(data, &m.ImfFactor, &offset)
	binary.GetUint32(data, &m.LiquidatorFee, &offset)
	binary.GetUint32(data, &m.IfLiquidationFee, &offset)
	binary.GetUint32(data, &m.OptimalUtilization, &offset)
	binary.GetUint32(data, &m.OptimalBorrowRate, &offset)
	binary.GetUint32(data, &m.MaxBorrowRate, &offset)
	binary.GetUint32(data, &m.Decimals, &offset)

	binary.GetUint16(data, &m.MarketIndex, &offset)
	binary.GetUint8(data, &m.OrdersEnabled, &offset)
	binary.GetUint8(data, &m.OracleSource, &offset)
	var status uint8
	binary.GetUint8(data, &status, &offset)
	m.Status = MarketStatus(status)
	binary.GetUint8(data, &m.AssetTier, &offset)
	binary.GetUint8(data, &m.PausedOperations, &offset)
	binary.GetUint8(data, &m.IfPausedOperations, &offset)
	var feeAdjustment uint16
	binary.GetUint16(data, &feeAdjustment, &offset)
	m.FeeAdjustment = int16(feeAdjustment)
	binary.GetUint16(data, &m.MaxTokenBorrowsFactor, &offset)

	binary.GetUint64(data, &m.FlashLoanAmount, &offset)
	binary.GetUint64(data, &m.FlashLoanInitialTokenAmount, &offset)
	binary.GetUint64(data, &m.TotalSwapFee, &offset)
	binary.GetUint64(data, &m.ScaleInitialAssetWeightStart, &offset)

	binary.GetUint8(data, &m.MinBorrowRate, &offset)
	binary.GetUint8(data, &m.FuelBoostDeposits, &offset)
	binary.GetUint8(data, &m.FuelBoostBorrows, &offset)
	binary.GetUint8(data, &m.FuelBoostTaker, &offset)
	binary.GetUint8(data, &m.FuelBoostMaker, &offset)
	binary.GetUint8(data, &m.FuelBoostInsurance, &offset)
	binary.GetUint8(data, &m.TokenProgram, &offset)
	binary.GetUint8(data, &m.PoolID, &offset)

	binary.GetBytes(data, m.Padding[:], &offset)

	return nil
}

func (m *SpotMarket) Marshal() []byte {
	data := make([]byte, SpotMarketAccountSize)

	var offset int
	binary.PutDiscriminator(data, SpotMarketAccountDiscriminator, &offset)
	binary.PutKey(data, m.Pubkey, &offset)
	binary.PutKey(data, m.Oracle, &offset)
	binary.PutKey(data, m.Mint, &offset)
	binary.PutKey(data, m.Vault, &offset)
	binary.PutBytes(data, m.Name[:], &offset)

	putHistoricalOracleData(data, &m.HistoricalOracleData, &offset)
	putHistoricalIndexData(data, &m.HistoricalIndexData, &offset)
	putPoolBalance(data, &m.RevenuePool, &offset)
	putPoolBalance(data, &m.SpotFeePool, &offset)
	putInsuranceFund(data, &m.InsuranceFund, &offset)

	binary.PutUint128(data, &m.TotalSpotFee, &offset)
	binary.PutUint128(data, &m.DepositBalance, &offset)
	binary.PutUint128(data, &m.BorrowBalance, &offset)
	binary.PutUint128(data, &m.CumulativeDepositInterest, &offset)
	binary.PutUint128(data, &m.CumulativeBorrowInterest, &offset)
	binary.PutUint128(data, &m.TotalSocialLoss, &offset)
	binary.PutUint128(data, &m.TotalQuoteSocialLoss, &offset)

	binary.PutUint64(data, m.WithdrawGuardThreshold, &offset)
	binary.PutUint64(data, m.MaxTokenDeposits, &offset)
	binary.PutUint64(data, m.DepositTokenTwap, &offset)
	binary.PutUint64(data, m.BorrowTokenTwap, &offset)
	binary.PutUint64(data, m.UtilizationTwap, &offset)
	binary.PutUint64(data, m.LastInterestTs, &offset)
	binary.PutUint64(data, m.LastTwapTs, &offset)
	binary.PutInt64(data, m.ExpiryTs, &offset)
	binary.PutUint64(data, m.OrderStepSize, &offset)
	binary.PutUint64(data, m.OrderTickSize, &offset)
	binary.PutUint64(data, m.MinOrderSize, &offset)
	binary.PutUint64(data, m.MaxPositionSize, &offset)
	binary.PutUint64(data, m.NextFillRecordID, &offset)
	binary.PutUint64(data, m.NextDepositRecordID, &offset)

	binary.PutUint32(data, m.InitialAssetWeight, &offset)
	binary.PutUint32(data, m.MaintenanceAssetWeight, &offset)
	binary.PutUint32(data, m.InitialLiabilityWeight, &offset)
	binary.PutUint32(data, m.MaintenanceLiabilityWeight, &offset)
	binary.PutUint32(data, m.ImfFactor, &offset)
	binary.PutUint32(data, m.LiquidatorFee, &offset)
	binary.PutUint32(data, m.IfLiquidationFee, &offset)
	binary.PutUint32(data, m.OptimalUtilization, &offset)
	binary.PutUint32(data, m.OptimalBorrowRate, &offset)
	binary.PutUint32(data, m.MaxBorrowRate, &offset)
	binary.PutUint32(data, m.Decimals, &offset)

	binary.PutUint16(data, m.MarketIndex, &offset)
	binary.PutUint8(data, m.OrdersEnabled, &offset)
	binary.PutUint8(data, m.OracleSource, &offset)
	binary.PutUint8(data, uint8(m.Status), &offset)
	binary.PutUint8(data, m.AssetTier, &offset)
	binary.PutUint8(data, m.PausedOperations, &offset)
	binary.PutUint8(data, m.IfPausedOperations, &offset)
	binary.PutUint16(data, uint16(m.FeeAdjustment), &offset)
	binary.PutUint16(data, m.MaxTokenBorrowsFactor, &offset)

	binary.PutUint64(data, m.FlashLoanAmount, &offset)
	binary.PutUint64(data, m.FlashLoanInitialTokenAmount, &offset)
	binary.PutUint64(data, m.TotalSwapFee, &offset)
	binary.PutUint64(data, m.ScaleInitialAssetWeightStart, &offset)

	binary.PutUint8(data, m.MinBorrowRate, &offset)
	binary.PutUint8(data, m.FuelBoostDeposits, &offset)
	binary.PutUint8(data, m.FuelBoostBorrows, &offset)
	binary.PutUint8(data, m.FuelBoostTaker, &offset)
	binary.PutUint8(data, m.FuelBoostMaker, &offset)
	binary.PutUint8(data, m.FuelBoostInsurance, &offset)
	binary.PutUint8(data, m.TokenProgram, &offset)
	binary.PutUint8(data, m.PoolID, &offset)

	binary.PutBytes(data, m.Padding[:], &offset)

	return data
}

func (m *SpotMarket) String() string {
	return fmt.Sprintf(
		"SpotMarket{index=%d,name=%s,mint=%s,oracle=%s,status=%d,decimals=%d}",
		m.MarketIndex,
		m.MarketName(),
		base58.Encode(m.Mint),
		base58.Encode(m.Oracle),
		m.Status,
		m.Decimals,
	)
}

// MarketName is the space padded market name without trailing padding.
func (m *SpotMarket) MarketName() string {
	return strings.TrimRight(string(m.Name[:]), " \x00")
}

// IsPaused reports whether any of the given operation flags is paused.
func (m *SpotMarket) IsPaused(flags uint8) bool {
	return m.PausedOperations&flags != 0
}

func getHistoricalOracleData(src []byte, dst *HistoricalOracleData, offset *int) {
	binary.GetInt64(src, &dst.LastOraclePrice, offset)
	binary.GetUint64(src, &dst.LastOracleConf, offset)
	binary.GetInt64(src, &dst.LastOracleDelay, offset)
	binary.GetInt64(src, &dst.LastOraclePriceTwap, offset)
	binary.GetInt64(src, &dst.LastOraclePriceTwap5Min, offset)
	binary.GetInt64(src, &dst.LastOraclePriceTwapTs, offset)
}

func putHistoricalOracleData(dst []byte, v *HistoricalOracleData, offset *int) {
	binary.PutInt64(dst, v.LastOraclePrice, offset)
	binary.PutUint64(dst, v.LastOracleConf, offset)
	binary.PutInt64(dst, v.LastOracleDelay, offset)
	binary.PutInt64(dst, v.LastOraclePriceTwap, offset)
	binary.PutInt64(dst, v.LastOraclePriceTwap5Min, offset)
	binary.PutInt64(dst, v.LastOraclePriceTwapTs, offset)
}

func getHistoricalIndexData(src []byte, dst *HistoricalIndexData, offset *int) {
	binary.GetUint64(src, &dst.LastIndexBidPrice, offset)
	binary.GetUint64(src, &dst.LastIndexAskPrice, offset)
	binary.GetUint64(src, &dst.LastIndexPriceTwap, offset)
	binary.GetUint64(src, &dst.LastIndexPriceTwap5Min, offset)
	binary.GetInt64(src, &dst.LastIndexPriceTwapTs, offset)
}

func putHistoricalIndexData(dst []byte, v *HistoricalIndexData, offset *int) {
	binary.PutUint64(dst, v.LastIndexBidPrice, offset)
	binary.PutUint64(dst, v.LastIndexAskPrice, offset)
	binary.PutUint64(dst, v.LastIndexPriceTwap, offset)
	binary.PutUint64(dst, v.LastIndexPriceTwap5Min, offset)
	binary.PutInt64(dst, v.LastIndexPriceTwapTs, offset)
}

func getPoolBalance(src []byte, dst *PoolBalance, offset *int) {
	binary.GetUint128(src, &dst.ScaledBalance, offset)
	binary.GetUint16(src, &dst.MarketIndex, offset)
	binary.GetBytes(src, dst.Padding[:], offset)
}

func putPoolBalance(dst []byte, v *PoolBalance, offset *int) {
	binary.PutUint128(dst, &v.ScaledBalance, offset)
	binary.PutUint16(dst, v.MarketIndex, offset)
	binary.PutBytes(dst, v.Padding[:], offset)
}

func getInsuranceFund(src []byte, dst *InsuranceFund, offset *int) {
	binary.GetKey(src, &dst.Vault, offset)
	binary.GetUint128(src, &dst.TotalShares, offset)
	binary.GetUint128(src, &dst.UserShares, offset)
	binary.GetUint128(src, &dst.SharesBase, offset)
	binary.GetInt64(src, &dst.UnstakingPeriod, offset)
	binary.GetInt64(src, &dst.LastRevenueSettleTs, offset)
	binary.GetInt64(src, &dst.RevenueSettlePeriod, offset)
	binary.GetUint32(src, &dst.TotalFactor, offset)
	binary.GetUint32(src, &dst.UserFactor, offset)
}

func putInsuranceFund(dst []byte, v *InsuranceFund, offset *int) {
	binary.PutKey(dst, v.Vault, offset)
	binary.PutUint128(dst, &v.TotalShares, offset)
	binary.PutUint128(dst, &v.UserShares, offset)
	binary.PutUint128(dst, &v.SharesBase, offset)
	binary.PutInt64(dst, v.UnstakingPeriod, offset)
	binary.PutInt64(dst, v.LastRevenueSettleTs, offset)
	binary.PutInt64(dst, v.RevenueSettlePeriod, offset)
	binary.PutUint32(dst, v.TotalFactor, offset)
	binary.PutUint32(dst, v.UserFactor, offset)
}
