package marginfi

import (
	"crypto/ed25519"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/lending/codec"
	"github.com/lendsdk/lendsdk/pkg/solana"
	"github.com/lendsdk/lendsdk/pkg/solana/binary"
	"github.com/lendsdk/lendsdk/pkg/solana/system"
	"github.com/lendsdk/lendsdk/pkg/solana/token"
)

const (
	InstructionInitializeAccount = "marginfi_account_initialize"
	InstructionAccrueInterest    = "lending_pool_accrue_bank_interest"
	InstructionDeposit           = "lending_account_deposit"
	InstructionWithdraw          = "lending_account_withdraw"
	InstructionBorrow            = "lending_account_borrow"
	InstructionRepay             = "lending_account_repay"
	InstructionLiquidate         = "lending_account_liquidate"
	InstructionCloseBalance      = "lending_account_close_balance"
)

var (
	initializeAccountDiscriminator = codec.InstructionDiscriminator(InstructionInitializeAccount)
	accrueInterestDiscriminator    = codec.InstructionDiscriminator(InstructionAccrueInterest)
	depositDiscriminator           = codec.InstructionDiscriminator(InstructionDeposit)
	withdrawDiscriminator          = codec.InstructionDiscriminator(InstructionWithdraw)
	borrowDiscriminator            = codec.InstructionDiscriminator(InstructionBorrow)
	repayDiscriminator             = codec.InstructionDiscriminator(InstructionRepay)
	liquidateDiscriminator         = codec.InstructionDiscriminator(InstructionLiquidate)
	closeBalanceDiscriminator      = codec.InstructionDiscriminator(InstructionCloseBalance)
)

// AmountArgs carries the amount and the optional "all" flag of deposit,
// withdraw and repay. Borrow and liquidate encode the amount only.
type AmountArgs struct {
	Amount uint64
	All    *bool
}

func (a *AmountArgs) encode(withFlag bool) []byte {
	size := 8
	if withFlag {
		size += 1
		if a.All != nil {
			size += 1
		}
	}

	data := make([]byte, size)
	var offset int
	binary.PutUint64(data, a.Amount, &offset)
	if withFlag {
		binary.PutOptionalBool(data, a.All, &offset)
	}
	return data
}

func ixnData(discriminator, args []byte) []byte {
	data := make([]byte, 0, len(discriminator)+len(args))
	data = append(data, discriminator...)
	return append(data, args...)
}

// Observation is a bank and its oracle, passed as remaining accounts so the
// risk engine can value the account.
type Observation struct {
	Bank   ed25519.PublicKey
	Oracle ed25519.PublicKey
}

func observationMetas(observations []Observation) []solana.AccountMeta {
	metas := make([]solana.AccountMeta, 0, 2*len(observations))
	for _, o := range observations {
		metas = append(metas,
			solana.NewReadonlyAccountMeta(o.Bank, false),
			solana.NewReadonlyAccountMeta(o.Oracle, false),
		)
	}
	return metas
}

func observationUnits(base int, observations []Observation) uint32 {
	return uint32(base + len(observations)*computePerObservation)
}

type InitializeAccountAccounts struct {
	Group           ed25519.PublicKey
	MarginfiAccount ed25519.PublicKey
	Authority       ed25519.PublicKey
	FeePayer        ed25519.PublicKey
}

// NewInitializeAccountInstruction creates a marginfi account. The account
// address is a fresh keypair that must sign the transaction.
func NewInitializeAccountInstruction(program ed25519.PublicKey, accounts *InitializeAccountAccounts) *lending.InstructionSpec {
	ixn := solana.NewInstruction(
		program,
		ixnData(initializeAccountDiscriminator, nil),
		solana.NewReadonlyAccountMeta(accounts.Group, false),
		solana.NewAccountMeta(accounts.MarginfiAccount, true),
		solana.NewReadonlyAccountMeta(accounts.Authority, true),
		solana.NewAccountMeta(accounts.FeePayer, true),
		solana.NewReadonlyAccountMeta(system.ProgramKey[:], false),
	)
	return lending.FromInstruction(InstructionInitializeAccount, ixn, computeInitializeAccount)
}

type AccrueInterestAccounts struct {
	Group ed25519.PublicKey
	Bank  ed25519.PublicKey
}

func NewAccrueInterestInstruction(program ed25519.PublicKey, accounts *AccrueInterestAccounts) *lending.InstructionSpec {
	ixn := solana.NewInstruction(
		program,
		ixnData(accrueInterestDiscriminator, nil),
		solana.NewReadonlyAccountMeta(accounts.Group, false),
		solana.NewAccountMeta(accounts.Bank, false),
	)
	return lending.FromInstruction(InstructionAccrueInterest, ixn, computeAccrueInterest)
}

type DepositAccounts struct {
	Group              ed25519.PublicKey
	MarginfiAccount    ed25519.PublicKey
	Authority          ed25519.PublicKey
	Bank               ed25519.PublicKey
	SignerTokenAccount ed25519.PublicKey
	LiquidityVault     ed25519.PublicKey
	TokenProgram       ed25519.PublicKey
}

func NewDepositInstruction(program ed25519.PublicKey, accounts *DepositAccounts, args *AmountArgs) (*lending.InstructionSpec, error) {
	data, err := encodeInstruction(InstructionDeposit, args)
	if err != nil {
		return nil, err
	}

	ixn := solana.NewInstruction(
		program,
		data,
		solana.NewReadonlyAccountMeta(accounts.Group, false),
		solana.NewAccountMeta(accounts.MarginfiAccount, false),
		solana.NewReadonlyAccountMeta(accounts.Authority, true),
		solana.NewAccountMeta(accounts.Bank, false),
		solana.NewAccountMeta(accounts.SignerTokenAccount, false),
		solana.NewAccountMeta(accounts.LiquidityVault, false),
		solana.NewReadonlyAccountMeta(tokenProgram(accounts.TokenProgram), false),
	)
	return lending.FromInstruction(InstructionDeposit, ixn, computeDeposit), nil
}

type WithdrawAccounts struct {
	Group                   ed25519.PublicKey
	MarginfiAccount         ed25519.PublicKey
	Authority               ed25519.PublicKey
	Bank                    ed25519.PublicKey
	DestinationTokenAccount ed25519.PublicKey
	LiquidityVaultAuthority ed25519.PublicKey
	LiquidityVault          ed25519.PublicKey
	TokenProgram            ed25519.PublicKey
	Observations            []Observation
}

func NewWithdrawInstruction(program ed25519.PublicKey, accounts *WithdrawAccounts, args *AmountArgs) (*lending.InstructionSpec, error) {
	data, err := encodeInstruction(InstructionWithdraw, args)
	if err != nil {
		return nil, err
	}

	metas := []solana.AccountMeta{
		solana.NewReadonlyAccountMeta(accounts.Group, false),
		solana.NewAccountMeta(accounts.MarginfiAccount, false),
		solana.NewReadonlyAccountMeta(accounts.Authority, true),
		solana.NewAccountMeta(accounts.Bank, false),
		solana.NewAccountMeta(accounts.DestinationTokenAccount, false),
		solana.NewReadonlyAccountMeta(accounts.LiquidityVaultAuthority, false),
		solana.NewAccountMeta(accounts.LiquidityVault, false),
		solana.NewReadonlyAccountMeta(tokenProgram(accounts.TokenProgram), false),
	}
	metas = append(metas, observationMetas(accounts.Observations)...)

	ixn := solana.NewInstruction(program, data, metas...)
	return lending.FromInstruction(InstructionWithdraw, ixn, observationUnits(computeWithdraw, accounts.Observations)), nil
}

type BorrowAccounts struct {
	Group                   ed25519.PublicKey
	MarginfiAccount         ed25519.PublicKey
	Authority               ed25519.PublicKey
	Bank                    ed25519.PublicKey
	DestinationTokenAccount ed25519.PublicKey
	LiquidityVaultAuthority ed25519.PublicKey
	LiquidityVault          ed25519.PublicKey
	TokenProgram            ed25519.PublicKey
	Observations            []Observation
}

func NewBorrowInstruction(program ed25519.PublicKey, accounts *BorrowAccounts, args *AmountArgs) (*lending.InstructionSpec, error) {
	data, err := encodeInstruction(InstructionBorrow, args)
	if err != nil {
		return nil, err
	}

	metas := []solana.AccountMeta{
		solana.NewReadonlyAccountMeta(accounts.Group, false),
		solana.NewAccountMeta(accounts.MarginfiAccount, false),
		solana.NewReadonlyAccountMeta(accounts.Authority, true),
		solana.NewAccountMeta(accounts.Bank, false),
		solana.NewAccountMeta(accounts.DestinationTokenAccount, false),
		solana.NewReadonlyAccountMeta(accounts.LiquidityVaultAuthority, false),
		solana.NewAccountMeta(accounts.LiquidityVault, false),
		solana.NewReadonlyAccountMeta(tokenProgram(accounts.TokenProgram), false),
	}
	metas = append(metas, observationMetas(accounts.Observations)...)

	ixn := solana.NewInstruction(program, data, metas...)
	return lending.FromInstruction(InstructionBorrow, ixn, observationUnits(computeBorrow, accounts.Observations)), nil
}

type RepayAccounts struct {
	Group              ed25519.PublicKey
	MarginfiAccount    ed25519.PublicKey
	Authority          ed25519.PublicKey
	Bank               ed25519.PublicKey
	SignerTokenAccount ed25519.PublicKey
	LiquidityVault     ed25519.PublicKey
	TokenProgram       ed25519.PublicKey
}

func NewRepayInstruction(program ed25519.PublicKey, accounts *RepayAccounts, args *AmountArgs) (*lending.InstructionSpec, error) {
	data, err := encodeInstruction(InstructionRepay, args)
	if err != nil {
		return nil, err
	}

	ixn := solana.NewInstruction(
		program,
		data,
		solana.NewReadonlyAccountMeta(accounts.Group, false),
		solana.NewAccountMeta(accounts.MarginfiAccount, false),
		solana.NewReadonlyAccountMeta(accounts.Authority, true),
		solana.NewAccountMeta(accounts.Bank, false),
		solana.NewAccountMeta(accounts.SignerTokenAccount, false),
		solana.NewAccountMeta(accounts.LiquidityVault, false),
		solana.NewReadonlyAccountMeta(tokenProgram(accounts.TokenProgram), false),
	)
	return lending.FromInstruction(InstructionRepay, ixn, computeRepay), nil
}

type LiquidateAccounts struct {
	Group                     ed25519.PublicKey
	AssetBank                 ed25519.PublicKey
	LiabilityBank             ed25519.PublicKey
	LiquidatorMarginfiAccount ed25519.PublicKey
	Authority                 ed25519.PublicKey
	LiquidateeMarginfiAccount ed25519.PublicKey
	LiquidityVaultAuthority   ed25519.PublicKey
	LiquidityVault            ed25519.PublicKey
	InsuranceVault            ed25519.PublicKey
	TokenProgram              ed25519.PublicKey
	AssetOracle               ed25519.PublicKey
	LiabilityOracle           ed25519.PublicKey
	LiquidatorObservations    []Observation
	LiquidateeObservations    []Observation
}

// NewLiquidateInstruction seizes AssetAmount of the liquidatee's asset bank
// balance in exchange for taking over the matching liability.
func NewLiquidateInstruction(program ed25519.PublicKey, accounts *LiquidateAccounts, args *AmountArgs) (*lending.InstructionSpec, error) {
	data, err := encodeInstruction(InstructionLiquidate, args)
	if err != nil {
		return nil, err
	}

	metas := []solana.AccountMeta{
		solana.NewReadonlyAccountMeta(accounts.Group, false),
		solana.NewAccountMeta(accounts.AssetBank, false),
		solana.NewAccountMeta(accounts.LiabilityBank, false),
		solana.NewAccountMeta(accounts.LiquidatorMarginfiAccount, false),
		solana.NewReadonlyAccountMeta(accounts.Authority, true),
		solana.NewAccountMeta(accounts.LiquidateeMarginfiAccount, false),
		solana.NewReadonlyAccountMeta(accounts.LiquidityVaultAuthority, false),
		solana.NewAccountMeta(accounts.LiquidityVault, false),
		solana.NewAccountMeta(accounts.InsuranceVault, false),
		solana.NewReadonlyAccountMeta(tokenProgram(accounts.TokenProgram), false),
		solana.NewReadonlyAccountMeta(accounts.AssetOracle, false),
		solana.NewReadonlyAccountMeta(accounts.LiabilityOracle, false),
	}
	metas = append(metas, observationMetas(accounts.LiquidatorObservations)...)
	metas = append(metas, observationMetas(accounts.LiquidateeObservations)...)

	observations := len(accounts.LiquidatorObservations) + len(accounts.LiquidateeObservations)
	ixn := solana.NewInstruction(program, data, metas...)
	return lending.FromInstruction(InstructionLiquidate, ixn, uint32(computeLiquidate+observations*computePerObservation)), nil
}

type CloseBalanceAccounts struct {
	Group           ed25519.PublicKey
	MarginfiAccount ed25519.PublicKey
	Authority       ed25519.PublicKey
	Bank            ed25519.PublicKey
}

func NewCloseBalanceInstruction(program ed25519.PublicKey, accounts *CloseBalanceAccounts) *lending.InstructionSpec {
	ixn := solana.NewInstruction(
		program,
		ixnData(closeBalanceDiscriminator, nil),
		solana.NewReadonlyAccountMeta(accounts.Group, false),
		solana.NewAccountMeta(accounts.MarginfiAccount, false),
		solana.NewReadonlyAccountMeta(accounts.Authority, true),
		solana.NewAccountMeta(accounts.Bank, false),
	)
	return lending.FromInstruction(InstructionCloseBalance, ixn, computeCloseBalance)
}

func tokenProgram(key ed25519.PublicKey) ed25519.PublicKey {
	return codec.OptionalKey(key, token.ProgramKey)
}

// encodeInstruction builds instruction data through the registered schema so
// its argument checks apply.
func encodeInstruction(name string, args interface{}) ([]byte, error) {
	return codec.Default.EncodeInstruction(lending.ProtocolMarginfi, name, args)
}
