package drift

import (
	"crypto/ed25519"

	"github.com/holiman/uint256"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/lending/codec"
	"github.com/lendsdk/lendsdk/pkg/solana"
	"github.com/lendsdk/lendsdk/pkg/solana/binary"
	"github.com/lendsdk/lendsdk/pkg/solana/system"
)

const (
	InstructionInitializeUserStats = "initialize_user_stats"
	InstructionInitializeUser      = "initialize_user"
	InstructionUpdateInterest      = "update_spot_market_cumulative_interest"
	InstructionDeposit             = "deposit"
	InstructionWithdraw            = "withdraw"
	InstructionLiquidateSpot       = "liquidate_spot"
)

var (
	initializeUserStatsDiscriminator = codec.InstructionDiscriminator(InstructionInitializeUserStats)
	initializeUserDiscriminator      = codec.InstructionDiscriminator(InstructionInitializeUser)
	updateInterestDiscriminator      = codec.InstructionDiscriminator(InstructionUpdateInterest)
	depositDiscriminator             = codec.InstructionDiscriminator(InstructionDeposit)
	withdrawDiscriminator            = codec.InstructionDiscriminator(InstructionWithdraw)
	liquidateSpotDiscriminator       = codec.InstructionDiscriminator(InstructionLiquidateSpot)
)

func ixnData(discriminator, args []byte) []byte {
	data := make([]byte, 0, len(discriminator)+len(args))
	data = append(data, discriminator...)
	return append(data, args...)
}

// InitializeUserArgs names the new sub account.
type InitializeUserArgs struct {
	SubAccountID uint16
	Name         [32]byte
}

func (a *InitializeUserArgs) encode() []byte {
	data := make([]byte, 2+32)
	var offset int
	binary.PutUint16(data, a.SubAccountID, &offset)
	binary.PutBytes(data, a.Name[:], &offset)
	return data
}

// DefaultUserName is the space padded name the Drift app gives the first
// sub account.
func DefaultUserName() [32]byte {
	var name [32]byte
	for i := range name {
		name[i] = ' '
	}
	copy(name[:], "Main Account")
	return name
}

// BalanceArgs are the arguments of deposit and withdraw. ReduceOnly caps the
// transfer at the opposite balance: a reduce only deposit only repays debt
// and a reduce only withdraw never borrows.
type BalanceArgs struct {
	MarketIndex uint16
	Amount      uint64
	ReduceOnly  bool
}

func (a *BalanceArgs) encode() []byte {
	data := make([]byte, 2+8+1)
	var offset int
	binary.PutUint16(data, a.MarketIndex, &offset)
	binary.PutUint64(data, a.Amount, &offset)
	binary.PutBool(data, a.ReduceOnly, &offset)
	return data
}

// LiquidateSpotArgs transfers up to MaxLiabilityTransfer of the liability
// market's tokens from the user to the liquidator.
type LiquidateSpotArgs struct {
	AssetMarketIndex     uint16
	LiabilityMarketIndex uint16
	MaxLiabilityTransfer uint256.Int
	LimitPrice           *uint64
}

func (a *LiquidateSpotArgs) encode() []byte {
	data := make([]byte, 2+2+binary.Uint128Size+binary.OptionalUint64Size(a.LimitPrice))
	var offset int
	binary.PutUint16(data, a.AssetMarketIndex, &offset)
	binary.PutUint16(data, a.LiabilityMarketIndex, &offset)
	binary.PutUint128(data, &a.MaxLiabilityTransfer, &offset)
	binary.PutOptionalUint64(data, a.LimitPrice, &offset)
	return data
}

// MarketAccount is a spot market and its oracle, passed as remaining
// accounts so the program can value the user.
type MarketAccount struct {
	Market   ed25519.PublicKey
	Oracle   ed25519.PublicKey
	Writable bool
}

// remainingMetas lists oracles first and spot markets second, each once.
func remainingMetas(markets []MarketAccount) []solana.AccountMeta {
	var oracles, spotMarkets []solana.AccountMeta
	seenOracles := make(map[string]struct{})
	seenMarkets := make(map[string]int)

	for _, m := range markets {
		if _, ok := seenOracles[string(m.Oracle)]; !ok && !codec.IsZeroKey(m.Oracle) {
			seenOracles[string(m.Oracle)] = struct{}{}
			oracles = append(oracles, solana.NewReadonlyAccountMeta(m.Oracle, false))
		}

		if i, ok := seenMarkets[string(m.Market)]; ok {
			if m.Writable {
				spotMarkets[i].IsWritable = true
			}
			continue
		}
		seenMarkets[string(m.Market)] = len(spotMarkets)
		if m.Writable {
			spotMarkets = append(spotMarkets, solana.NewAccountMeta(m.Market, false))
		} else {
			spotMarkets = append(spotMarkets, solana.NewReadonlyAccountMeta(m.Market, false))
		}
	}
	return append(oracles, spotMarkets...)
}

func marketUnits(base int, markets []MarketAccount) uint32 {
	return uint32(base + len(markets)*computePerMarket)
}

type InitializeUserStatsAccounts struct {
	UserStats ed25519.PublicKey
	State     ed25519.PublicKey
	Authority ed25519.PublicKey
	Payer     ed25519.PublicKey
}

func NewInitializeUserStatsInstruction(program ed25519.PublicKey, accounts *InitializeUserStatsAccounts) *lending.InstructionSpec {
	ixn := solana.NewInstruction(
		program,
		ixnData(initializeUserStatsDiscriminator, nil),
		solana.NewAccountMeta(accounts.UserStats, false),
		solana.NewAccountMeta(accounts.State, false),
		solana.NewReadonlyAccountMeta(accounts.Authority, true),
		solana.NewAccountMeta(accounts.Payer, true),
		solana.NewReadonlyAccountMeta(system.RentSysVar, false),
		solana.NewReadonlyAccountMeta(system.ProgramKey[:], false),
	)
	return lending.FromInstruction(InstructionInitializeUserStats, ixn, computeInitializeUserStats)
}

type InitializeUserAccounts struct {
	User      ed25519.PublicKey
	UserStats ed25519.PublicKey
	State     ed25519.PublicKey
	Authority ed25519.PublicKey
	Payer     ed25519.PublicKey
}

func NewInitializeUserInstruction(program ed25519.PublicKey, accounts *InitializeUserAccounts, args *InitializeUserArgs) (*lending.InstructionSpec, error) {
	data, err := encodeInstruction(InstructionInitializeUser, args)
	if err != nil {
		return nil, err
	}

	ixn := solana.NewInstruction(
		program,
		data,
		solana.NewAccountMeta(accounts.User, false),
		solana.NewAccountMeta(accounts.UserStats, false),
		solana.NewAccountMeta(accounts.State, false),
		solana.NewReadonlyAccountMeta(accounts.Authority, true),
		solana.NewAccountMeta(accounts.Payer, true),
		solana.NewReadonlyAccountMeta(system.RentSysVar, false),
		solana.NewReadonlyAccountMeta(system.ProgramKey[:], false),
	)
	return lending.FromInstruction(InstructionInitializeUser, ixn, computeInitializeUser), nil
}

type UpdateInterestAccounts struct {
	State           ed25519.PublicKey
	SpotMarket      ed25519.PublicKey
	Oracle          ed25519.PublicKey
	SpotMarketVault ed25519.PublicKey
}

func NewUpdateInterestInstruction(program ed25519.PublicKey, accounts *UpdateInterestAccounts) *lending.InstructionSpec {
	ixn := solana.NewInstruction(
		program,
		ixnData(updateInterestDiscriminator, nil),
		solana.NewReadonlyAccountMeta(accounts.State, false),
		solana.NewAccountMeta(accounts.SpotMarket, false),
		solana.NewReadonlyAccountMeta(accounts.Oracle, false),
		solana.NewReadonlyAccountMeta(accounts.SpotMarketVault, false),
	)
	return lending.FromInstruction(InstructionUpdateInterest, ixn, computeUpdateInterest)
}

type DepositAccounts struct {
	State            ed25519.PublicKey
	User             ed25519.PublicKey
	UserStats        ed25519.PublicKey
	Authority        ed25519.PublicKey
	SpotMarketVault  ed25519.PublicKey
	UserTokenAccount ed25519.PublicKey
	TokenProgram     ed25519.PublicKey
	Markets          []MarketAccount

	// Mint is passed after the remaining markets for token-2022 mints.
	Mint ed25519.PublicKey
}

func NewDepositInstruction(program ed25519.PublicKey, accounts *DepositAccounts, args *BalanceArgs) (*lending.InstructionSpec, error) {
	data, err := encodeInstruction(InstructionDeposit, args)
	if err != nil {
		return nil, err
	}

	metas := []solana.AccountMeta{
		solana.NewReadonlyAccountMeta(accounts.State, false),
		solana.NewAccountMeta(accounts.User, false),
		solana.NewAccountMeta(accounts.UserStats, false),
		solana.NewReadonlyAccountMeta(accounts.Authority, true),
		solana.NewAccountMeta(accounts.SpotMarketVault, false),
		solana.NewAccountMeta(accounts.UserTokenAccount, false),
		solana.NewReadonlyAccountMeta(accounts.TokenProgram, false),
	}
	metas = append(metas, remainingMetas(accounts.Markets)...)
	if len(accounts.Mint) > 0 {
		metas = append(metas, solana.NewReadonlyAccountMeta(accounts.Mint, false))
	}

	ixn := solana.NewInstruction(program, data, metas...)
	return lending.FromInstruction(InstructionDeposit, ixn, marketUnits(computeDeposit, accounts.Markets)), nil
}

type WithdrawAccounts struct {
	State            ed25519.PublicKey
	User             ed25519.PublicKey
	UserStats        ed25519.PublicKey
	Authority        ed25519.PublicKey
	SpotMarketVault  ed25519.PublicKey
	DriftSigner      ed25519.PublicKey
	UserTokenAccount ed25519.PublicKey
	TokenProgram     ed25519.PublicKey
	Markets          []MarketAccount
	Mint             ed25519.PublicKey
}

func NewWithdrawInstruction(program ed25519.PublicKey, accounts *WithdrawAccounts, args *BalanceArgs) (*lending.InstructionSpec, error) {
	data, err := encodeInstruction(InstructionWithdraw, args)
	if err != nil {
		return nil, err
	}

	metas := []solana.AccountMeta{
		solana.NewReadonlyAccountMeta(accounts.State, false),
		solana.NewAccountMeta(accounts.User, false),
		solana.NewAccountMeta(accounts.UserStats, false),
		solana.NewReadonlyAccountMeta(accounts.Authority, true),
		solana.NewAccountMeta(accounts.SpotMarketVault, false),
		solana.NewReadonlyAccountMeta(accounts.DriftSigner, false),
		solana.NewAccountMeta(accounts.UserTokenAccount, false),
		solana.NewReadonlyAccountMeta(accounts.TokenProgram, false),
	}
	metas = append(metas, remainingMetas(accounts.Markets)...)
	if len(accounts.Mint) > 0 {
		metas = append(metas, solana.NewReadonlyAccountMeta(accounts.Mint, false))
	}

	ixn := solana.NewInstruction(program, data, metas...)
	return lending.FromInstruction(InstructionWithdraw, ixn, marketUnits(computeWithdraw, accounts.Markets)), nil
}

type LiquidateSpotAccounts struct {
	State           ed25519.PublicKey
	Authority       ed25519.PublicKey
	Liquidator      ed25519.PublicKey
	LiquidatorStats ed25519.PublicKey
	User            ed25519.PublicKey
	UserStats       ed25519.PublicKey
	Markets         []MarketAccount
}

func NewLiquidateSpotInstruction(program ed25519.PublicKey, accounts *LiquidateSpotAccounts, args *LiquidateSpotArgs) (*lending.InstructionSpec, error) {
	data, err := encodeInstruction(InstructionLiquidateSpot, args)
	if err != nil {
		return nil, err
	}

	metas := []solana.AccountMeta{
		solana.NewReadonlyAccountMeta(accounts.State, false),
		solana.NewReadonlyAccountMeta(accounts.Authority, true),
		solana.NewAccountMeta(accounts.Liquidator, false),
		solana.NewAccountMeta(accounts.LiquidatorStats, false),
		solana.NewAccountMeta(accounts.User, false),
		solana.NewAccountMeta(accounts.UserStats, false),
	}
	metas = append(metas, remainingMetas(accounts.Markets)...)

	ixn := solana.NewInstruction(program, data, metas...)
	return lending.FromInstruction(InstructionLiquidateSpot, ixn, marketUnits(computeLiquidate, accounts.Markets)), nil
}

// encodeInstruction builds instruction data through the registered schema so
// its argument checks apply.
func encodeInstruction(name string, args interface{}) ([]byte, error) {
	return codec.Default.EncodeInstruction(lending.ProtocolDrift, name, args)
}
