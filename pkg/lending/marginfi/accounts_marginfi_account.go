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

var MarginfiAccountDiscriminator = codec.AccountDiscriminator("MarginfiAccount")

// MaxBalances is the number of balance slots shared by deposits and borrows.
const MaxBalances = 16

const (
	lendingAccountPaddingSize  = 8 * 8
	marginfiAccountPaddingSize = 63 * 8
)

const (
	BalanceSize = (1 + // active
		32 + // bank_pk
		7 + // padding
		16 + // asset_shares
		16 + // liability_shares
		16 + // emissions_outstanding
		8 + // last_update
		8) // padding

	MarginfiAccountSize = (8 + // discriminator
		32 + // group
		32 + // authority
		MaxBalances*BalanceSize +
		lendingAccountPaddingSize +
		8 + // account_flags
		marginfiAccountPaddingSize)
)

// Account flags.
const (
	AccountDisabled    uint64 = 1 << 0
	AccountInFlashloan uint64 = 1 << 1
)

// Balance is one slot of a marginfi account. Shares are I80F48.
type Balance struct {
	Active               uint8
	BankPk               ed25519.PublicKey
	Padding0             [7]byte
	AssetShares          uint256.Int
	LiabilityShares      uint256.Int
	EmissionsOutstanding uint256.Int
	LastUpdate           uint64
	Padding1             uint64
}

func (b *Balance) IsActive() bool {
	return b.Active != 0
}

// MarginfiAccount is a user's set of balances within one group.
type MarginfiAccount struct {
	Group     ed25519.PublicKey
	Authority ed25519.PublicKey

	Balances              [MaxBalances]Balance
	LendingAccountPadding [lendingAccountPaddingSize]byte

	AccountFlags uint64
	Padding      [marginfiAccountPaddingSize]byte
}

func (a *MarginfiAccount) Unmarshal(data []byte) error {
	if len(data) != MarginfiAccountSize {
		return &lending.MalformedAccountError{
			Protocol: lending.ProtocolMarginfi,
			Kind:     AccountMarginfiAccount,
			Reason:   fmt.Sprintf("expected %d bytes, got %d", MarginfiAccountSize, len(data)),
		}
	}

	var offset int
	var discriminator []byte
	binary.GetDiscriminator(data, &discriminator, &offset)
	if string(discriminator) != string(MarginfiAccountDiscriminator) {
		return &lending.MalformedAccountError{
			Protocol: lending.ProtocolMarginfi,
			Kind:     AccountMarginfiAccount,
			Field:    "discriminator",
			Reason:   fmt.Sprintf("unexpected %x", discriminator),
		}
	}

	binary.GetKey(data, &a.Group, &offset)
	binary.GetKey(data, &a.Authority, &offset)
	for i := range a.Balances {
		b := &a.Balances[i]
		binary.GetUint8(data, &b.Active, &offset)
		binary.GetKey(data, &b.BankPk, &offset)
		binary.GetBytes(data, b.Padding0[:], &offset)
		binary.GetUint128(data, &b.AssetShares, &offset)
		binary.GetUint128(data, &b.LiabilityShares, &offset)
		binary.GetUint128(data, &b.EmissionsOutstanding, &offset)
		binary.GetUint64(data, &b.LastUpdate, &offset)
		binary.GetUint64(data, &b.Padding1, &offset)
	}
	binary.GetBytes(data, a.LendingAccountPadding[:], &offset)
	binary.GetUint64(data, &a.AccountFlags, &offset)
	binary.GetBytes(data, a.Padding[:], &offset)

	return nil
}

func (a *MarginfiAccount) Marshal() []byte {
	data := make([]byte, MarginfiAccountSize)

	var offset int
	binary.PutDiscriminator(data, MarginfiAccountDiscriminator, &offset)
	binary.PutKey(data, a.Group, &offset)
	binary.PutKey(data, a.Authority, &offset)
	for i := range a.Balances {
		b := &a.Balances[i]
		binary.PutUint8(data, b.Active, &offset)
		binary.PutKey(data, b.BankPk, &offset)
		binary.PutBytes(data, b.Padding0[:], &offset)
		binary.PutUint128(data, &b.AssetShares, &offset)
		binary.PutUint128(data, &b.LiabilityShares, &offset)
		binary.PutUint128(data, &b.EmissionsOutstanding, &offset)
		binary.PutUint64(data, b.LastUpdate, &offset)
		binary.PutUint64(data, b.Padding1, &offset)
	}
	binary.PutBytes(data, a.LendingAccountPadding[:], &offset)
	binary.PutUint64(data, a.AccountFlags, &offset)
	binary.PutBytes(data, a.Padding[:], &offset)

	return data
}

func (a *MarginfiAccount) String() string {
	return fmt.Sprintf(
		"MarginfiAccount{group=%s,authority=%s,balances=%d,flags=%d}",
		base58.Encode(a.Group),
		base58.Encode(a.Authority),
		len(a.ActiveBalances()),
		a.AccountFlags,
	)
}

// ActiveBalances returns the used balance slots in slot order.
func (a *MarginfiAccount) ActiveBalances() []Balance {
	var res []Balance
	for _, b := range a.Balances {
		if b.IsActive() {
			res = append(res, b)
		}
	}
	return res
}

// IsDisabled reports whether the group admin disabled the account.
func (a *MarginfiAccount) IsDisabled() bool {
	return a.AccountFlags&AccountDisabled != 0
}
