package kamino

import (
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/mr-tron/base58/base58"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/lending/codec"
	"github.com/lendsdk/lendsdk/pkg/solana/binary"
)

var LendingMarketAccountDiscriminator = codec.AccountDiscriminator("LendingMarket")

const lendingMarketReservedSize = 4520

const LendingMarketAccountSize = (8 + // discriminator
	8 + // version
	8 + // bump_seed
	32 + // lending_market_owner
	32 + // lending_market_owner_cached
	32 + // quote_currency
	2 + // referral_fee_bps
	1 + // emergency_mode
	1 + // autodeleverage_enabled
	1 + // borrow_disabled
	1 + // price_refresh_trigger_to_max_age_pct
	1 + // liquidation_max_debt_close_factor_pct
	1 + // insolvency_risk_unhealthy_ltv_pct
	8 + // min_full_liquidation_value_threshold
	8 + // max_liquidatable_debt_market_value_at_once
	lendingMarketReservedSize)

// LendingMarket is the klend account grouping reserves under one owner.
type LendingMarket struct {
	Version                              uint64
	BumpSeed                             uint64
	Owner                                ed25519.PublicKey
	OwnerCached                          ed25519.PublicKey
	QuoteCurrency                        [32]byte
	ReferralFeeBps                       uint16
	EmergencyMode                        uint8
	AutodeleverageEnabled                uint8
	BorrowDisabled                       uint8
	PriceRefreshTriggerToMaxAgePct       uint8
	LiquidationMaxDebtCloseFactorPct     uint8
	InsolvencyRiskUnhealthyLtvPct        uint8
	MinFullLiquidationValueThreshold     uint64
	MaxLiquidatableDebtMarketValueAtOnce uint64
	Reserved                             [lendingMarketReservedSize]byte
}

func (m *LendingMarket) Unmarshal(data []byte) error {
	if len(data) != LendingMarketAccountSize {
		return &lending.MalformedAccountError{
			Protocol: lending.ProtocolKamino,
			Kind:     "LendingMarket",
			Reason:   fmt.Sprintf("expected %d bytes, got %d", LendingMarketAccountSize, len(data)),
		}
	}

	var offset int
	var discriminator []byte
	binary.GetDiscriminator(data, &discriminator, &offset)
	if string(discriminator) != string(LendingMarketAccountDiscriminator) {
		return &lending.MalformedAccountError{
			Protocol: lending.ProtocolKamino,
			Kind:     "LendingMarket",
			Field:    "discriminator",
			Reason:   fmt.Sprintf("unexpected %x", discriminator),
		}
	}

	binary.GetUint64(data, &m.Version, &offset)
	binary.GetUint64(data, &m.BumpSeed, &offset)
	binary.GetKey(data, &m.Owner, &offset)
	binary.GetKey(data, &m.OwnerCached, &offset)
	binary.GetBytes(data, m.QuoteCurrency[:], &offset)
	binary.GetUint16(data, &m.ReferralFeeBps, &offset)
	binary.GetUint8(data, &m.EmergencyMode, &offset)
	binary.GetUint8(data, &m.AutodeleverageEnabled, &offset)
	binary.GetUint8(data, &m.BorrowDisabled, &offset)
	binary.GetUint8(data, &m.PriceRefreshTriggerToMaxAgePct, &offset)
	binary.GetUint8(data, &m.LiquidationMaxDebtCloseFactorPct, &offset)
	binary.GetUint8(data, &m.InsolvencyRiskUnhealthyLtvPct, &offset)
	binary.GetUint64(data, &m.MinFullLiquidationValueThreshold, &offset)
	binary.GetUint64(data, &m.MaxLiquidatableDebtMarketValueAtOnce, &offset)
	binary.GetBytes(data, m.Reserved[:], &offset)

	return nil
}

func (m *LendingMarket) Marshal() []byte {
	data := make([]byte, LendingMarketAccountSize)

	var offset int
	binary.PutDiscriminator(data, LendingMarketAccountDiscriminator, &offset)
	binary.PutUint64(data, m.Version, &offset)
	binary.PutUint64(data, m.BumpSeed, &offset)
	binary.PutKey(data, m.Owner, &offset)
	binary.PutKey(data, m.OwnerCached, &offset)
	binary.PutBytes(data, m.QuoteCurrency[:], &offset)
	binary.PutUint16(data, m.ReferralFeeBps, &offset)
	binary.PutUint8(data, m.EmergencyMode, &offset)
	binary.PutUint8(data, m.AutodeleverageEnabled, &offset)
	binary.PutUint8(data, m.BorrowDisabled, &offset)
	binary.PutUint8(data, m.PriceRefreshTriggerToMaxAgePct, &offset)
	binary.PutUint8(data, m.LiquidationMaxDebtCloseFactorPct, &offset)
	binary.PutUint8(data, m.InsolvencyRiskUnhealthyLtvPct, &offset)
	binary.PutUint64(data, m.MinFullLiquidationValueThreshold, &offset)
	binary.PutUint64(data, m.MaxLiquidatableDebtMarketValueAtOnce, &offset)
	binary.PutBytes(data, m.Reserved[:], &offset)

	return data
}

// Quote returns the quote currency symbol without padding.
func (m *LendingMarket) Quote() string {
	return strings.TrimRight(string(m.QuoteCurrency[:]), "\x00")
}

func (m *LendingMarket) String() string {
	return fmt.Sprintf(
		"LendingMarket{version=%d,owner=%s,quote=%s,emergency=%d,borrow_disabled=%d}",
		m.Version,
		base58.Encode(m.Owner),
		m.Quote(),
		m.EmergencyMode,
		m.BorrowDisabled,
	)
}
