package lending

import (
	"bytes"
	"crypto/ed25519"
	"time"

	"github.com/mr-tron/base58/base58"
	"github.com/shopspring/decimal"
)

// PositionRef identifies a user position by owner and market set. Address is
// optional and pins a specific account when the protocol allows several
// positions per owner.
type PositionRef struct {
	Owner     ed25519.PublicKey
	MarketSet ed25519.PublicKey
	Address   ed25519.PublicKey
}

// Key is the registry key of the referenced position.
func (r PositionRef) Key() string {
	return PositionKey(r.Owner, r.MarketSet)
}

// PositionKey builds the registry key for an (owner, market set) pair.
func PositionKey(owner, marketSet ed25519.PublicKey) string {
	return base58.Encode(owner) + "/" + base58.Encode(marketSet)
}

// PositionLeg is one asset leg of a position.
type PositionLeg struct {
	Market ed25519.PublicKey

	// Amount is in native units of the market mint.
	Amount      decimal.Decimal
	MarketValue decimal.Decimal

	// Snapshot is the cached market for this leg. It is attached by the
	// registry when the position is read.
	Snapshot *Market
}

// Position is a user's collateral and debt within one market set. It is
// replaced as a whole on every refresh.
type Position struct {
	Protocol  Protocol
	Address   ed25519.PublicKey
	Owner     ed25519.PublicKey
	MarketSet ed25519.PublicKey

	// Exists is false when the position account has not been created yet.
	Exists bool

	Deposits []PositionLeg
	Borrows  []PositionLeg

	DepositedValue     decimal.Decimal
	BorrowedValue      decimal.Decimal
	AllowedBorrowValue decimal.Decimal
	LiquidationValue   decimal.Decimal

	// MaxDeposits and MaxBorrows bound the number of legs, zero when the
	// protocol shares one pool of slots.
	MaxDeposits int
	MaxBorrows  int
	MaxLegs     int

	Slot      uint64
	FetchedAt time.Time

	Native interface{}
}

// NewEmptyPosition returns the placeholder stored for a position account that
// does not exist on chain.
func NewEmptyPosition(protocol Protocol, ref PositionRef, fetchedAt time.Time) *Position {
	return &Position{
		Protocol:           protocol,
		Address:            ref.Address,
		Owner:              ref.Owner,
		MarketSet:          ref.MarketSet,
		Exists:             false,
		DepositedValue:     decimal.Zero,
		BorrowedValue:      decimal.Zero,
		AllowedBorrowValue: decimal.Zero,
		LiquidationValue:   decimal.Zero,
		FetchedAt:          fetchedAt,
	}
}

func (p *Position) Key() string {
	return PositionKey(p.Owner, p.MarketSet)
}

// Deposit returns the deposit leg for a market.
func (p *Position) Deposit(market ed25519.PublicKey) (PositionLeg, bool) {
	return findLeg(p.Deposits, market)
}

// Borrow returns the borrow leg for a market.
func (p *Position) Borrow(market ed25519.PublicKey) (PositionLeg, bool) {
	return findLeg(p.Borrows, market)
}

// Markets returns every distinct market referenced by the position, deposits
// first.
func (p *Position) Markets() []ed25519.PublicKey {
	var res []ed25519.PublicKey
	seen := make(map[string]struct{})
	for _, legs := range [][]PositionLeg{p.Deposits, p.Borrows} {
		for _, leg := range legs {
			key := string(leg.Market)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			res = append(res, leg.Market)
		}
	}
	return res
}

// HasDebt reports whether any borrow leg is non-zero.
func (p *Position) HasDebt() bool {
	for _, leg := range p.Borrows {
		if leg.Amount.IsPositive() {
			return true
		}
	}
	return false
}

// HealthFactor is the allowed borrow value over the weighted debt. A position
// without debt reports the maximum decimal.
func (p *Position) HealthFactor() decimal.Decimal {
	return HealthFactor(p.AllowedBorrowValue, p.BorrowedValue)
}

// Clone returns a shallow copy with independent leg slices, used by the
// registry to attach snapshots without mutating the stored entry.
func (p *Position) Clone() *Position {
	cloned := *p
	cloned.Deposits = append([]PositionLeg(nil), p.Deposits...)
	cloned.Borrows = append([]PositionLeg(nil), p.Borrows...)
	return &cloned
}

// HealthFactor computes allowed/debt.
func HealthFactor(allowed, debt decimal.Decimal) decimal.Decimal {
	if !debt.IsPositive() {
		return MaxHealth
	}
	return allowed.DivRound(debt, 18)
}

// MaxHealth is reported for positions without debt.
var MaxHealth = decimal.New(1, 18)

func findLeg(legs []PositionLeg, market ed25519.PublicKey) (PositionLeg, bool) {
	for _, leg := range legs {
		if bytes.Equal(leg.Market, market) {
			return leg, true
		}
	}
	return PositionLeg{}, false
}
