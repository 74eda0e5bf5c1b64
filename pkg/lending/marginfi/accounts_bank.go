package marginfi

import (
	"crypto/ed25519"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/mr-tron/base58/base58"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/lending/codec"
	"github.com/lendsdk/lendsdk/pkg/solana/binary"
)

var BankAccountDiscriminator = codec.AccountDiscriminator("Bank")

const (
	maxOracleKeys = 5

	interestRatePaddingSize = 128
	bankConfigReservedSize  = 1054
)

const (
	InterestRateConfigSize = (7*binary.Uint128Size + // rates and fees
		interestRatePaddingSize)

	BankAccountSize = (8 + // discriminator
		32 + // mint
		1 + // mint_decimals
		32 + // group
		7 + // padding
		16 + // asset_share_value
		16 + // liability_share_value
		32 + // liquidity_vault
		1 + 1 + // liquidity vault bumps
		32 + // insurance_vault
		1 + 1 + // insurance vault bumps
		4 + // padding
		16 + // collected_insurance_fees_outstanding
		32 + // fee_vault
		1 + 1 + // fee vault bumps
		6 + // padding
		16 + // collected_group_fees_outstanding
		16 + // total_liability_shares
		16 + // total_asset_shares
		8 + // last_update
		4*16 + // asset and liability weights
		8 + // deposit_limit
		InterestRateConfigSize +
		1 + // operational_state
		7 + // padding
		1 + // oracle_setup
		maxOracleKeys*32 + // oracle_keys
		7 + // padding
		8 + // borrow_limit
		1 + // risk_tier
		7 + // padding
		8 + // total_asset_value_init_limit
		2 + // oracle_max_age
		bankConfigReservedSize)
)

// Operational states of a bank.
const (
	BankPaused uint8 = iota
	BankOperational
	BankReduceOnly
)

// Risk tiers of a bank.
const (
	RiskTierCollateral uint8 = iota
	RiskTierIsolated
)

// InterestRateConfig holds I80F48 rates.
type InterestRateConfig struct {
	OptimalUtilizationRate uint256.Int
	PlateauInterestRate    uint256.Int
	MaxInterestRate        uint256.Int
	InsuranceFeeFixedApr   uint256.Int
	InsuranceIrFee         uint256.Int
	ProtocolFixedFeeApr    uint256.Int
	ProtocolIrFee          uint256.Int
	Padding                [interestRatePaddingSize]byte
}

type BankConfig struct {
	AssetWeightInit          uint256.Int
	AssetWeightMaint         uint256.Int
	LiabilityWeightInit      uint256.Int
	LiabilityWeightMaint     uint256.Int
	DepositLimit             uint64
	InterestRateConfig       InterestRateConfig
	OperationalState         uint8
	Padding0                 [7]byte
	OracleSetup              uint8
	OracleKeys               [maxOracleKeys]ed25519.PublicKey
	Padding1                 [7]byte
	BorrowLimit              uint64
	RiskTier                 uint8
	Padding2                 [7]byte
	TotalAssetValueInitLimit uint64
	OracleMaxAge             uint16
	Reserved                 [bankConfigReservedSize]byte
}

// Bank is one lendable asset of a marginfi group. Share values are I80F48.
type Bank struct {
	Mint         ed25519.PublicKey
	MintDecimals uint8
	Group        ed25519.PublicKey
	Padding0     [7]byte

	AssetShareValue     uint256.Int
	LiabilityShareValue uint256.Int

	LiquidityVault                    ed25519.PublicKey
	LiquidityVaultBump                uint8
	LiquidityVaultAuthorityBump       uint8
	InsuranceVault                    ed25519.PublicKey
	InsuranceVaultBump                uint8
	InsuranceVaultAuthorityBump       uint8
	Padding1                          [4]byte
	CollectedInsuranceFeesOutstanding uint256.Int
	FeeVault                          ed25519.PublicKey
	FeeVaultBump                      uint8
	FeeVaultAuthorityBump             uint8
	Padding2                          [6]byte
	CollectedGroupFeesOutstanding     uint256.Int

	TotalLiabilityShares uint256.Int
	TotalAssetShares     uint256.Int
	LastUpdate           int64

	Config BankConfig
}

func (b *Bank) Unmarshal(data []byte) error {
	if len(data) != BankAccountSize {
		return &lending.MalformedAccountError{
			Protocol: lending.ProtocolMarginfi,
			Kind:     AccountBank,
			Reason:   fmt.Sprintf("expected %d bytes, got %d", BankAccountSize, len(data)),
		}
	}

	var offset int
	var discriminator []byte
	binary.GetDiscriminator(data, &discriminator, &offset)
	if string(discriminator) != string(BankAccountDiscriminator) {
		return &lending.MalformedAccountError{
			Protocol: lending.ProtocolMarginfi,
			Kind:     AccountBank,
			Field:    "discriminator",
			Reason:   fmt.Sprintf("unexpected %x", discriminator),
		}
	}

	binary.GetKey(data, &b.Mint, &offset)
	binary.GetUint8(data, &b.MintDecimals, &offset)
	binary.GetKey(data, &b.Group, &offset)
	binary.GetBytes(data, b.Padding0[:], &offset)
	binary.GetUint128(data, &b.AssetShareValue, &offset)
	binary.GetUint128(data, &b.LiabilityShareValue, &offset)
	binary.GetKey(data, &b.LiquidityVault, &offset)
	binary.GetUint8(data, &b.LiquidityVaultBump, &offset)
	binary.GetUint8(data, &b.LiquidityVaultAuthorityBump, &offset)
	binary.GetKey(data, &b.InsuranceVault, &offset)
	binary.GetUint8(data, &b.InsuranceVaultBump, &offset)
	binary.GetUint8(data, &b.InsuranceVaultAuthorityBump, &offset)
	binary.GetBytes(data, b.Padding1[:], &offset)
	binary.GetUint128(data, &b.CollectedInsuranceFeesOutstanding, &offset)
	binary.GetKey(data, &b.FeeVault, &offset)
	binary.GetUint8(data, &b.FeeVaultBump, &offset)
	binary.GetUint8(data, &b.FeeVaultAuthorityBump, &offset)
	binary.GetBytes(data, b.Padding2[:], &offset)
	binary.GetUint128(data, &b.CollectedGroupFeesOutstanding, &offset)
	binary.GetUint128(data, &b.TotalLiabilityShares, &offset)
	binary.GetUint128(data, &b.TotalAssetShares, &offset)
	binary.GetInt64(data, &b.LastUpdate, &offset)

	c := &b.Config
	binary.GetUint128(data, &c.AssetWeightInit, &offset)
	binary.GetUint128(data, &c.AssetWeightMaint, &offset)
	binary.GetUint128(data, &c.LiabilityWeightInit, &offset)
	binary.GetUint128(data, &c.LiabilityWeightMaint, &offset)
	binary.GetUint64(data, &c.DepositLimit, &offset)

	ir := &c.InterestRateConfig
	binary.GetUint128(data, &ir.OptimalUtilizationRate, &offset)
	binary.GetUint128(data, &ir.PlateauInterestRate, &offset)
	binary.GetUint128(data, &ir.MaxInterestRate, &offset)
	binary.GetUint128(data, &ir.InsuranceFeeFixedApr, &offset)
	binary.GetUint128(data, &ir.InsuranceIrFee, &offset)
	binary.GetUint128(data, &ir.ProtocolFixedFeeApr, &offset)
	binary.GetUint128(data, &ir.ProtocolIrFee, &offset)
	binary.GetBytes(data, ir.Padding[:], &offset)

	binary.GetUint8(data, &c.OperationalState, &offset)
	binary.GetBytes(data, c.Padding0[:], &offset)
	binary.GetUint8(data, &c.OracleSetup, &offset)
	for i := range c.OracleKeys {
		binary.GetKey(data, &c.OracleKeys[i], &offset)
	}
	binary.GetBytes(data, c.Padding1[:], &offset)
	binary.GetUint64(data, &c.BorrowLimit, &offset)
	binary.GetUint8(data, &c.RiskTier, &offset)
	binary.GetBytes(data, c.Padding2[:], &offset)
	binary.GetUint64(data, &c.TotalAssetValueInitLimit, &offset)
	binary.GetUint16(data, &c.OracleMaxAge, &offset)
	binary.GetBytes(data, c.Reserved[:], &offset)

	return nil
}

func (b *Bank) Marshal() []byte {
	data := make([]byte, BankAccountSize)

	var offset int
	binary.PutDiscriminator(data, BankAccountDiscriminator, &offset)
	binary.PutKey(data, b.Mint, &offset)
	binary.PutUint8(data, b.MintDecimals, &offset)
	binary.PutKey(data, b.Group, &offset)
	binary.PutBytes(data, b.Padding0[:], &offset)
	binary.PutUint128(data, &b.AssetShareValue, &offset)
	binary.PutUint128(data, &b.LiabilityShareValue, &offset)
	binary.PutKey(data, b.LiquidityVault, &offset)
	binary.PutUint8(data, b.LiquidityVaultBump, &offset)
	binary.PutUint8(data, b.LiquidityVaultAuthorityBump, &offset)
	binary.PutKey(data, b.InsuranceVault, &offset)
	binary.PutUint8(data, b.InsuranceVaultBump, &offset)
	binary.PutUint8(data, b.InsuranceVaultAuthorityBump, &offset)
	binary.PutBytes(data, b.Padding1[:], &offset)
	binary.PutUint128(data, &b.CollectedInsuranceFeesOutstanding, &offset)
	binary.PutKey(data, b.FeeVault, &offset)
	binary.PutUint8(data, b.FeeVaultBump, &offset)
	binary.PutUint8(data, b.FeeVaultAuthorityBump, &offset)
	binary.PutBytes(data, b.Padding2[:], &offset)
	binary.PutUint128(data, &b.CollectedGroupFeesOutstanding, &offset)
	binary.PutUint128(data, &b.TotalLiabilityShares, &offset)
	binary.PutUint128(data, &b.TotalAssetShares, &offset)
	binary.PutInt64(data, b.LastUpdate, &offset)

	c := &b.Config
	binary.PutUint128(data, &c.AssetWeightInit, &offset)
	binary.PutUint128(data, &c.AssetWeightMaint, &offset)
	binary.PutUint128(data, &c.LiabilityWeightInit, &offset)
	binary.PutUint128(data, &c.LiabilityWeightMaint, &offset)
	binary.PutUint64(data, c.DepositLimit, &offset)

	ir := &c.InterestRateConfig
	binary.PutUint128(data, &ir.OptimalUtilizationRate, &offset)
	binary.PutUint128(data, &ir.PlateauInterestRate, &offset)
	binary.PutUint128(data, &ir.MaxInterestRate, &offset)
	binary.PutUint128(data, &ir.InsuranceFeeFixedApr, &offset)
	binary.PutUint128(data, &ir.InsuranceIrFee, &offset)
	binary.PutUint128(data, &ir.ProtocolFixedFeeApr, &offset)
	binary.PutUint128(data, &ir.ProtocolIrFee, &offset)
	binary.PutBytes(data, ir.Padding[:], &offset)

	binary.PutUint8(data, c.OperationalState, &offset)
	binary.PutBytes(data, c.Padding0[:], &offset)
	binary.PutUint8(data, c.OracleSetup, &offset)
	for i := range c.OracleKeys {
		binary.PutKey(data, c.OracleKeys[i], &offset)
	}
	binary.PutBytes(data, c.Padding1[:], &offset)
	binary.PutUint64(data, c.BorrowLimit, &offset)
	binary.PutUint8(data, c.RiskTier, &offset)
	binary.PutBytes(data, c.Padding2[:], &offset)
	binary.PutUint64(data, c.TotalAssetValueInitLimit, &offset)
	binary.PutUint16(data, c.OracleMaxAge, &offset)
	binary.PutBytes(data, c.Reserved[:], &offset)

	return data
}

func (b *Bank) String() string {
	return fmt.Sprintf(
		"Bank{mint=%s,group=%s,state=%d,risk_tier=%d}",
		base58.Encode(b.Mint),
		base58.Encode(b.Group),
		b.Config.OperationalState,
		b.Config.RiskTier,
	)
}

// Oracles returns the configured oracle accounts, unset ones omitted.
func (b *Bank) Oracles() []ed25519.PublicKey {
	return codec.NonZeroKeys(b.Config.OracleKeys[:]...)
}

// Oracle is the primary oracle passed in risk engine observations.
func (b *Bank) Oracle() ed25519.PublicKey {
	return b.Config.OracleKeys[0]
}
