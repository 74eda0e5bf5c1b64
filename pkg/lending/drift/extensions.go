package drift

import (
	"bytes"
	"crypto/ed25519"

	"github.com/mr-tron/base58/base58"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/solana"
)

// UserAddress derives the user account of one of the authority's sub
// accounts.
func (a *Adapter) UserAddress(authority ed25519.PublicKey, subAccount uint16) (ed25519.PublicKey, error) {
	user, err := UserAddress(a.program, authority, subAccount)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive user")
	}
	return user, nil
}

// InitializeUserStats creates the per-authority stats account that every
// sub account of the authority shares.
func (a *Adapter) InitializeUserStats(authority, payer ed25519.PublicKey) (*lending.InstructionSpec, error) {
	if len(authority) != ed25519.PublicKeySize {
		return nil, lending.NewParameterError("authority", "", "must be a 32 byte address")
	}
	if len(payer) == 0 {
		payer = authority
	}

	state, err := a.State()
	if err != nil {
		return nil, err
	}
	stats, err := UserStatsAddress(a.program, authority)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive user stats")
	}

	return NewInitializeUserStatsInstruction(a.program, &InitializeUserStatsAccounts{
		UserStats: stats,
		State:     state,
		Authority: authority,
		Payer:     payer,
	}), nil
}

// TokenAmount converts a scaled spot balance into native token units of the
// market.
func (a *Adapter) TokenAmount(scaled decimal.Decimal, market *lending.Market, kind BalanceType) (decimal.Decimal, error) {
	if scaled.IsNegative() {
		return decimal.Zero, lending.NewParameterError("scaled", scaled.String(), "must not be negative")
	}
	spotMarket, err := spotMarketOf(market)
	if err != nil {
		return decimal.Zero, err
	}
	return spotMarket.TokenAmount(scaled, kind), nil
}

// UpdateInterest refreshes the cumulative interest of a batch of spot
// markets, for keepers.
func (a *Adapter) UpdateInterest(markets ...*lending.Market) ([]*lending.InstructionSpec, error) {
	state, err := a.State()
	if err != nil {
		return nil, err
	}

	specs := make([]*lending.InstructionSpec, 0, len(markets))
	for _, market := range markets {
		spotMarket, err := spotMarketOf(market)
		if err != nil {
			return nil, err
		}
		if spotMarket.IsPaused(PausedUpdateCumulativeInterest) {
			return nil, lending.Reject(lending.ProtocolDrift, lending.ReasonMarketInactive, "interest updates are paused in %s", market.AddressString())
		}
		specs = append(specs, a.updateInterest(state, market.Address, spotMarket))
	}
	return specs, nil
}

// MarketSetFilters selects every spot market in a program scan. All spot
// markets belong to the single state account, so group must be the state.
func (a *Adapter) MarketSetFilters(group ed25519.PublicKey) ([]solana.ProgramAccountsFilter, error) {
	state, err := a.State()
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(group, state) {
		return nil, lending.NewParameterError("group", base58.Encode(group), "must be the drift state")
	}
	return []solana.ProgramAccountsFilter{
		solana.DataSize(SpotMarketAccountSize),
		solana.Memcmp(0, SpotMarketAccountDiscriminator),
	}, nil
}
