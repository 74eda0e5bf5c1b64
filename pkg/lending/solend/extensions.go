package solend

import (
	"crypto/ed25519"
	"fmt"

	"github.com/pkg/errors"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/lending/codec"
	"github.com/lendsdk/lendsdk/pkg/solana"
	"github.com/lendsdk/lendsdk/pkg/solana/token"
)

// DecodeLendingMarket decodes the Solend lending market account, which holds
// the outflow rate limiter and the liquidator whitelist.
func (a *Adapter) DecodeLendingMarket(address ed25519.PublicKey, data []byte) (*LendingMarket, error) {
	record, err := a.codecs.DecodeAccount(lending.ProtocolSolend, AccountLendingMarket, data)
	if err != nil {
		return nil, withAddress(err, address)
	}
	return record.(*LendingMarket), nil
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

// DepositReserveLiquidity mints cTokens for amount of liquidity into the
// owner's collateral token account, without pledging them to an obligation.
func (a *Adapter) DepositReserveLiquidity(owner, payer ed25519.PublicKey, market *lending.Market, amount uint64) ([]*lending.InstructionSpec, error) {
	if len(owner) != ed25519.PublicKeySize {
		return nil, lending.NewParameterError("owner", "", "must be a 32 byte address")
	}
	if amount == 0 {
		return nil, lending.NewParameterError("amount", fmt.Sprint(amount), "must be positive")
	}
	if len(payer) == 0 {
		payer = owner
	}

	reserve, err := reserveOf(market)
	if err != nil {
		return nil, err
	}
	if !market.Active {
		return nil, lending.Reject(lending.ProtocolSolend, lending.ReasonMarketInactive, "reserve %s is not initialized", market.AddressString())
	}

	authority, err := LendingMarketAuthority(a.program, reserve.LendingMarket)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive lending market authority")
	}
	source, err := lending.TokenAccount(nil, owner, reserve.Liquidity.MintPubkey, token.ProgramKey)
	if err != nil {
		return nil, err
	}
	setup, collateral, err := lending.CreateTokenAccount(payer, owner, reserve.Collateral.MintPubkey, token.ProgramKey)
	if err != nil {
		return nil, err
	}

	deposit, err := NewDepositReserveLiquidityInstruction(a.program, &DepositReserveLiquidityAccounts{
		SourceLiquidity:        source,
		DestinationCollateral:  collateral,
		Reserve:                market.Address,
		ReserveLiquiditySupply: reserve.Liquidity.SupplyPubkey,
		ReserveCollateralMint:  reserve.Collateral.MintPubkey,
		LendingMarket:          reserve.LendingMarket,
		LendingMarketAuthority: authority,
		TransferAuthority:      owner,
	}, &AmountArgs{Amount: amount})
	if err != nil {
		return nil, err
	}
	return []*lending.InstructionSpec{setup, a.refreshReserve(market.Address, reserve), deposit}, nil
}

// CheckOutflow rejects a borrow or withdrawal whose quote value exceeds what
// the lending market's rate limiter still allows at slot.
func CheckOutflow(lendingMarket *LendingMarket, op *lending.Operation, market *lending.Market, slot uint64) error {
	if op.Kind != lending.OperationBorrow && op.Kind != lending.OperationWithdraw {
		return nil
	}
	if !market.HasPrice() {
		return nil
	}

	remaining := lendingMarket.RateLimiter.RemainingOutflow(slot)
	if remaining == nil {
		return nil
	}

	value := market.Value(codec.NativeAmount(op.Amount))
	if value.GreaterThan(*remaining) {
		return lending.Reject(lending.ProtocolSolend, lending.ReasonInsufficientLiquidity, "outflow of %s exceeds the remaining %s", value.StringFixed(2), remaining.StringFixed(2))
	}
	return nil
}

// reserveLendingMarketOffset is the offset of lending_market in a reserve,
// after the version and the last update.
const reserveLendingMarketOffset = 1 + 8 + 1

// MarketSetFilters selects the reserves of a lending market in a program
// scan.
func (a *Adapter) MarketSetFilters(lendingMarket ed25519.PublicKey) ([]solana.ProgramAccountsFilter, error) {
	if len(lendingMarket) != ed25519.PublicKeySize {
		return nil, lending.NewParameterError("lending_market", "", "must be a 32 byte address")
	}
	return []solana.ProgramAccountsFilter{
		solana.DataSize(ReserveAccountSize),
		solana.Memcmp(0, versionTag),
		solana.Memcmp(reserveLendingMarketOffset, lendingMarket),
	}, nil
}
