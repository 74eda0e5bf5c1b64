package lending

import (
	"crypto/ed25519"
	"time"

	"github.com/mr-tron/base58/base58"
	"github.com/shopspring/decimal"
)

// Market is the protocol-agnostic view of one lendable asset. Values are
// normalized when the raw account is decoded and never patched afterwards; a
// refresh produces a new Market.
type Market struct {
	Protocol      Protocol
	Address       ed25519.PublicKey
	NativeKind    string
	LayoutVersion uint64

	Mint         ed25519.PublicKey
	MintDecimals uint8

	// Group is the account that scopes positions for this market: a Kamino or
	// Solend lending market, a Marginfi group, or the Drift state account.
	Group   ed25519.PublicKey
	Oracles []ed25519.PublicKey

	// Price is quoted per whole token. A zero price means the account does
	// not carry one.
	Price decimal.Decimal

	LoanToValue          decimal.Decimal
	LiquidationThreshold decimal.Decimal
	BorrowFactor         decimal.Decimal

	// Totals are in native units of the mint.
	AvailableLiquidity decimal.Decimal
	TotalSupply        decimal.Decimal
	TotalBorrows       decimal.Decimal

	DepositLimit uint64
	BorrowLimit  uint64

	InterestModel InterestModel
	Active        bool

	Slot      uint64
	FetchedAt time.Time

	// Native is the decoded protocol record backing this market. It must be
	// treated as read-only.
	Native interface{}
}

// AddressString returns the base58 form of the market address.
func (m *Market) AddressString() string {
	return base58.Encode(m.Address)
}

// HasPrice reports whether the market carries a usable price.
func (m *Market) HasPrice() bool {
	return m.Price.IsPositive()
}

// Scale returns 10^decimals, the factor between native units and whole
// tokens.
func (m *Market) Scale() decimal.Decimal {
	return decimal.New(1, int32(m.MintDecimals))
}

// Value converts a native amount into a quote value using the market price.
func (m *Market) Value(native decimal.Decimal) decimal.Decimal {
	if m.MintDecimals == 0 {
		return native.Mul(m.Price)
	}
	return native.Div(m.Scale()).Mul(m.Price)
}

// Utilization is borrows over total supply.
func (m *Market) Utilization() decimal.Decimal {
	return m.InterestModel.Utilization(m.TotalBorrows, m.TotalSupply)
}

// BorrowRate is the annualized borrow rate at the current utilization.
func (m *Market) BorrowRate() decimal.Decimal {
	return m.InterestModel.BorrowRate(m.Utilization())
}

// Age is how long ago the market was fetched.
func (m *Market) Age(now time.Time) time.Duration {
	return now.Sub(m.FetchedAt)
}

// InterestModel is a two-slope utilization curve. All rates are annualized
// fractions.
type InterestModel struct {
	OptimalUtilization decimal.Decimal
	MinRate            decimal.Decimal
	OptimalRate        decimal.Decimal
	MaxRate            decimal.Decimal
}

// Utilization returns borrows/supply, clamped to [0, 1].
func (im InterestModel) Utilization(borrows, supply decimal.Decimal) decimal.Decimal {
	if !supply.IsPositive() {
		return decimal.Zero
	}
	u := borrows.Div(supply)
	if u.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	if u.IsNegative() {
		return decimal.Zero
	}
	return u
}

// BorrowRate interpolates the curve at the given utilization.
func (im InterestModel) BorrowRate(utilization decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if !im.OptimalUtilization.IsPositive() {
		return im.MaxRate
	}

	if utilization.LessThanOrEqual(im.OptimalUtilization) {
		slope := im.OptimalRate.Sub(im.MinRate).Div(im.OptimalUtilization)
		return im.MinRate.Add(slope.Mul(utilization))
	}

	excess := one.Sub(im.OptimalUtilization)
	if !excess.IsPositive() {
		return im.MaxRate
	}
	slope := im.MaxRate.Sub(im.OptimalRate).Div(excess)
	return im.OptimalRate.Add(slope.Mul(utilization.Sub(im.OptimalUtilization)))
}
