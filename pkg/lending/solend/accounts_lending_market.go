package solend

import (
	"crypto/ed25519"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/mr-tron/base58/base58"
	"github.com/shopspring/decimal"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/lending/codec"
	"github.com/lendsdk/lendsdk/pkg/solana/binary"
)

const lendingMarketPaddingSize = 8

const (
	RateLimiterSize = (8 + // window_duration
		8 + // max_outflow
		16 + // previous_quantity
		8 + // window_start
		16) // current_quantity

	LendingMarketAccountSize = (1 + // version
		1 + // bump_seed
		32 + // owner
		32 + // quote_currency
		32 + // token_program_id
		32 + // oracle_program_id
		32 + // switchboard_oracle_program_id
		RateLimiterSize +
		32 + // whitelisted_liquidator
		32 + // risk_authority
		lendingMarketPaddingSize)
)

// RateLimiter caps outflows over a sliding window of slots. Quantities are
// WAD scaled values in the quote currency.
type RateLimiter struct {
	WindowDuration   uint64
	MaxOutflow       uint64
	PreviousQuantity uint256.Int
	WindowStart      uint64
	CurrentQuantity  uint256.Int
}

// RemainingOutflow is the outflow still allowed at slot, or nil when the
// limiter is disabled.
func (l RateLimiter) RemainingOutflow(slot uint64) *decimal.Decimal {
	if l.WindowDuration == 0 {
		return nil
	}

	previous := codec.WadToDecimal(&l.PreviousQuantity)
	current := codec.WadToDecimal(&l.CurrentQuantity)
	windowStart := l.WindowStart

	currentStart := slot / l.WindowDuration * l.WindowDuration
	switch {
	case currentStart == windowStart+l.WindowDuration:
		previous = current
		current = decimal.Zero
		windowStart = currentStart
	case currentStart > windowStart+l.WindowDuration:
		previous = decimal.Zero
		current = decimal.Zero
		windowStart = currentStart
	}

	duration := decimal.NewFromUint64(l.WindowDuration)
	elapsed := decimal.NewFromUint64(slot).Sub(decimal.NewFromUint64(windowStart)).Add(decimal.NewFromInt(1))
	weight := duration.Sub(elapsed).Div(duration)
	if weight.IsNegative() {
		weight = decimal.Zero
	}

	outflow := weight.Mul(previous).Add(current)
	remaining := decimal.NewFromUint64(l.MaxOutflow).Sub(outflow)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return &remaining
}

// LendingMarket is the Solend account grouping reserves under one owner.
type LendingMarket struct {
	Version                    uint8
	BumpSeed                   uint8
	Owner                      ed25519.PublicKey
	QuoteCurrency              [32]byte
	TokenProgramID             ed25519.PublicKey
	OracleProgramID            ed25519.PublicKey
	SwitchboardOracleProgramID ed25519.PublicKey
	RateLimiter                RateLimiter
	WhitelistedLiquidator      ed25519.PublicKey
	RiskAuthority              ed25519.PublicKey
	Padding                    [lendingMarketPaddingSize]byte
}

func (m *LendingMarket) Unmarshal(data []byte) error {
	if len(data) != LendingMarketAccountSize {
		return &lending.MalformedAccountError{
			Protocol: lending.ProtocolSolend,
			Kind:     AccountLendingMarket,
			Reason:   fmt.Sprintf("expected %d bytes, got %d", LendingMarketAccountSize, len(data)),
		}
	}

	var offset int
	binary.GetUint8(data, &m.Version, &offset)
	binary.GetUint8(data, &m.BumpSeed, &offset)
	binary.GetKey(data, &m.Owner, &offset)
	binary.GetBytes(data, m.QuoteCurrency[:], &offset)
	binary.GetKey(data, &m.TokenProgramID, &offset)
	binary.GetKey(data, &m.OracleProgramID, &offset)
	binary.GetKey(data, &m.SwitchboardOracleProgramID, &offset)

	l := &m.RateLimiter
	binary.GetUint64(data, &l.WindowDuration, &offset)
	binary.GetUint64(data, &l.MaxOutflow, &offset)
	binary.GetUint128(data, &l.PreviousQuantity, &offset)
	binary.GetUint64(data, &l.WindowStart, &offset)
	binary.GetUint128(data, &l.CurrentQuantity, &offset)

	binary.GetKey(data, &m.WhitelistedLiquidator, &offset)
	binary.GetKey(data, &m.RiskAuthority, &offset)
	binary.GetBytes(data, m.Padding[:], &offset)

	return nil
}

func (m *LendingMarket) Marshal() []byte {
	data := make([]byte, LendingMarketAccountSize)

	var offset int
	binary.PutUint8(data, m.Version, &offset)
	binary.PutUint8(data, m.BumpSeed, &offset)
	binary.PutKey(data, m.Owner, &offset)
	binary.PutBytes(data, m.QuoteCurrency[:], &offset)
	binary.PutKey(data, m.TokenProgramID, &offset)
	binary.PutKey(data, m.OracleProgramID, &offset)
	binary.PutKey(data, m.SwitchboardOracleProgramID, &offset)

	l := &m.RateLimiter
	binary.PutUint64(data, l.WindowDuration, &offset)
	binary.PutUint64(data, l.MaxOutflow, &offset)
	binary.PutUint128(data, &l.PreviousQuantity, &offset)
	binary.PutUint64(data, l.WindowStart, &offset)
	binary.PutUint128(data, &l.CurrentQuantity, &offset)

	binary.PutKey(data, m.WhitelistedLiquidator, &offset)
	binary.PutKey(data, m.RiskAuthority, &offset)
	binary.PutBytes(data, m.Padding[:], &offset)

	return data
}

func (m *LendingMarket) String() string {
	return fmt.Sprintf(
		"LendingMarket{version=%d,owner=%s,whitelisted_liquidator=%s}",
		m.Version,
		base58.Encode(m.Owner),
		base58.Encode(m.WhitelistedLiquidator),
	)
}

// CanLiquidate reports whether liquidator may liquidate in this market. A zero
// whitelist admits anyone.
func (m *LendingMarket) CanLiquidate(liquidator ed25519.PublicKey) bool {
	if codec.IsZeroKey(m.WhitelistedLiquidator) {
		return true
	}
	return string(m.WhitelistedLiquidator) == string(liquidator)
}
