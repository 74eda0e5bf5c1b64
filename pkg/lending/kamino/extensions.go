package kamino

import (
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/solana"
)

// InitUserMetadata creates the per-owner metadata account klend requires
// before the first obligation. It is not emitted automatically because the
// account outlives any single obligation.
func (a *Adapter) InitUserMetadata(owner, payer ed25519.PublicKey, lookupTable ed25519.PublicKey) (*lending.InstructionSpec, error) {
	if len(owner) != ed25519.PublicKeySize {
		return nil, lending.NewParameterError("owner", "", "must be a 32 byte address")
	}
	if len(payer) == 0 {
		payer = owner
	}

	metadata, err := UserMetadataAddress(a.program, owner)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive user metadata address")
	}
	return NewInitUserMetadataInstruction(a.program, &InitUserMetadataAccounts{
		Owner:        owner,
		FeePayer:     payer,
		UserMetadata: metadata,
	}, &InitUserMetadataArgs{UserLookupTable: lookupTable})
}

// ObligationFor derives a non-vanilla obligation address.
func (a *Adapter) ObligationFor(seeds ObligationSeeds) (ed25519.PublicKey, error) {
	if seeds.Type > ObligationLeverage {
		return nil, lending.NewParameterError("type", seeds.Type.String(), "unknown obligation type")
	}
	return ObligationAddress(a.program, seeds)
}

// RefreshReserves refreshes a batch of reserves without touching any
// obligation, for keepers that crank prices.
func (a *Adapter) RefreshReserves(markets ...*lending.Market) ([]*lending.InstructionSpec, error) {
	specs := make([]*lending.InstructionSpec, 0, len(markets))
	for _, market := range markets {
		reserve, err := reserveOf(market)
		if err != nil {
			return nil, err
		}
		specs = append(specs, a.refreshReserve(market.Address, reserve))
	}
	return specs, nil
}

// DecodeLendingMarket decodes the klend lending market account.
func (a *Adapter) DecodeLendingMarket(address ed25519.PublicKey, data []byte) (*LendingMarket, error) {
	record, err := a.codecs.DecodeAccount(lending.ProtocolKamino, AccountLendingMarket, data)
	if err != nil {
		return nil, withAddress(err, address)
	}
	return record.(*LendingMarket), nil
}

// ActiveReserves filters out obsolete and hidden reserves.
func ActiveReserves(markets []*lending.Market) []*lending.Market {
	var res []*lending.Market
	for _, market := range markets {
		reserve, ok := market.Native.(*Reserve)
		if ok && reserve.IsActive() {
			res = append(res, market)
		}
	}
	return res
}

// reserveLendingMarketOffset is the offset of lending_market in a reserve,
// after the discriminator, the version and the last update.
const reserveLendingMarketOffset = 8 + 8 + LastUpdateSize

// MarketSetFilters selects the reserves of a lending market in a program
// scan. Pair the refreshed markets with ActiveReserves to drop obsolete and
// hidden reserves.
func (a *Adapter) MarketSetFilters(lendingMarket ed25519.PublicKey) ([]solana.ProgramAccountsFilter, error) {
	if len(lendingMarket) != ed25519.PublicKeySize {
		return nil, lending.NewParameterError("lending_market", "", "must be a 32 byte address")
	}
	return []solana.ProgramAccountsFilter{
		solana.DataSize(ReserveAccountSize),
		solana.Memcmp(0, ReserveAccountDiscriminator),
		solana.Memcmp(reserveLendingMarketOffset, lendingMarket),
	}, nil
}
