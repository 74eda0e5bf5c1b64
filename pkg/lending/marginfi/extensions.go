package marginfi

import (
	"crypto/ed25519"

	"github.com/shopspring/decimal"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/solana"
)

// AccrueInterest accrues interest on a batch of banks, for keepers that keep
// share values current.
func (a *Adapter) AccrueInterest(markets ...*lending.Market) ([]*lending.InstructionSpec, error) {
	specs := make([]*lending.InstructionSpec, 0, len(markets))
	for _, market := range markets {
		bank, err := bankOf(market)
		if err != nil {
			return nil, err
		}
		specs = append(specs, NewAccrueInterestInstruction(a.program, &AccrueInterestAccounts{
			Group: bank.Group,
			Bank:  market.Address,
		}))
	}
	return specs, nil
}

// CloseBalance frees the slot of a balance whose shares are dust.
func (a *Adapter) CloseBalance(account, authority ed25519.PublicKey, market *lending.Market) (*lending.InstructionSpec, error) {
	if len(account) != ed25519.PublicKeySize {
		return nil, lending.NewParameterError("account", "", "must be a 32 byte address")
	}
	if len(authority) != ed25519.PublicKeySize {
		return nil, lending.NewParameterError("authority", "", "must be a 32 byte address")
	}
	bank, err := bankOf(market)
	if err != nil {
		return nil, err
	}
	return NewCloseBalanceInstruction(a.program, &CloseBalanceAccounts{
		Group:           bank.Group,
		MarginfiAccount: account,
		Authority:       authority,
		Bank:            market.Address,
	}), nil
}

// DecodeGroup decodes the marginfi group account.
func (a *Adapter) DecodeGroup(address ed25519.PublicKey, data []byte) (*Group, error) {
	record, err := a.codecs.DecodeAccount(lending.ProtocolMarginfi, AccountGroup, data)
	if err != nil {
		return nil, withAddress(err, address)
	}
	return record.(*Group), nil
}

// PricedMarket returns a copy of a bank market with an externally sourced
// price per whole token attached, enabling local health checks.
func PricedMarket(market *lending.Market, price decimal.Decimal) *lending.Market {
	priced := *market
	priced.Price = price
	return &priced
}

// bankGroupOffset is the offset of group in a bank, after the discriminator,
// the mint and its decimals.
const bankGroupOffset = 8 + 32 + 1

// MarketSetFilters selects the banks of a group in a program scan.
func (a *Adapter) MarketSetFilters(group ed25519.PublicKey) ([]solana.ProgramAccountsFilter, error) {
	if len(group) != ed25519.PublicKeySize {
		return nil, lending.NewParameterError("group", "", "must be a 32 byte address")
	}
	return []solana.ProgramAccountsFilter{
		solana.DataSize(BankAccountSize),
		solana.Memcmp(0, BankAccountDiscriminator),
		solana.Memcmp(bankGroupOffset, group),
	}, nil
}
