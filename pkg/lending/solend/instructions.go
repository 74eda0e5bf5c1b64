package solend

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
	InstructionRefreshReserve          = "refresh_reserve"
	InstructionDepositReserveLiquidity = "deposit_reserve_liquidity"
	InstructionInitObligation          = "init_obligation"
	InstructionRefreshObligation       = "refresh_obligation"
	InstructionBorrow                  = "borrow_obligation_liquidity"
	InstructionRepay                   = "repay_obligation_liquidity"
	InstructionDeposit                 = "deposit_reserve_liquidity_and_obligation_collateral"
	InstructionWithdraw                = "withdraw_obligation_collateral_and_redeem_reserve_collateral"
	InstructionLiquidate               = "liquidate_obligation_and_redeem_reserve_collateral"
)

type instructionTag uint8

// Reference: https://github.com/solendprotocol/solana-program-library/blob/master/token-lending/sdk/src/instruction.rs
const (
	tagRefreshReserve          instructionTag = 3
	tagDepositReserveLiquidity instructionTag = 4
	tagInitObligation          instructionTag = 6
	tagRefreshObligation       instructionTag = 7
	tagBorrow                  instructionTag = 10
	tagRepay                   instructionTag = 11
	tagDeposit                 instructionTag = 14
	tagWithdraw                instructionTag = 15
	tagLiquidate               instructionTag = 17
)

func (t instructionTag) bytes() []byte {
	return []byte{byte(t)}
}

// AmountArgs is the argument of every single amount instruction.
type AmountArgs struct {
	Amount uint64
}

func (a *AmountArgs) encode() []byte {
	data := make([]byte, 8)
	var offset int
	binary.PutUint64(data, a.Amount, &offset)
	return data
}

func ixnData(tag instructionTag, args []byte) []byte {
	data := make([]byte, 0, 1+len(args))
	data = append(data, byte(tag))
	return append(data, args...)
}

type RefreshReserveAccounts struct {
	Reserve           ed25519.PublicKey
	PythOracle        ed25519.PublicKey
	SwitchboardOracle ed25519.PublicKey
	ExtraOracle       ed25519.PublicKey
}

func NewRefreshReserveInstruction(program ed25519.PublicKey, accounts *RefreshReserveAccounts) *lending.InstructionSpec {
	metas := []solana.AccountMeta{
		solana.NewAccountMeta(accounts.Reserve, false),
		solana.NewReadonlyAccountMeta(accounts.PythOracle, false),
		solana.NewReadonlyAccountMeta(accounts.SwitchboardOracle, false),
	}
	if !codec.IsZeroKey(accounts.ExtraOracle) {
		metas = append(metas, solana.NewReadonlyAccountMeta(accounts.ExtraOracle, false))
	}

	ixn := solana.NewInstruction(program, ixnData(tagRefreshReserve, nil), metas...)
	return lending.FromInstruction(InstructionRefreshReserve, ixn, computeRefreshReserve)
}

type InitObligationAccounts struct {
	Obligation    ed25519.PublicKey
	LendingMarket ed25519.PublicKey
	Owner         ed25519.PublicKey
}

// NewInitObligationInstruction initializes an obligation account created
// beforehand with CreateAccountWithSeed.
func NewInitObligationInstruction(program ed25519.PublicKey, accounts *InitObligationAccounts) *lending.InstructionSpec {
	ixn := solana.NewInstruction(
		program,
		ixnData(tagInitObligation, nil),
		solana.NewAccountMeta(accounts.Obligation, false),
		solana.NewReadonlyAccountMeta(accounts.LendingMarket, false),
		solana.NewReadonlyAccountMeta(accounts.Owner, true),
		solana.NewReadonlyAccountMeta(system.RentSysVar, false),
		solana.NewReadonlyAccountMeta(token.ProgramKey, false),
	)
	return lending.FromInstruction(InstructionInitObligation, ixn, computeInitObligation)
}

type RefreshObligationAccounts struct {
	Obligation      ed25519.PublicKey
	DepositReserves []ed25519.PublicKey
	BorrowReserves  []ed25519.PublicKey
}

func NewRefreshObligationInstruction(program ed25519.PublicKey, accounts *RefreshObligationAccounts) *lending.InstructionSpec {
	metas := []solana.AccountMeta{
		solana.NewAccountMeta(accounts.Obligation, false),
	}
	for _, reserve := range accounts.DepositReserves {
		metas = append(metas, solana.NewReadonlyAccountMeta(reserve, false))
	}
	for _, reserve := range accounts.BorrowReserves {
		metas = append(metas, solana.NewReadonlyAccountMeta(reserve, false))
	}

	reserves := len(accounts.DepositReserves) + len(accounts.BorrowReserves)
	ixn := solana.NewInstruction(program, ixnData(tagRefreshObligation, nil), metas...)
	return lending.FromInstruction(InstructionRefreshObligation, ixn, uint32(computeRefreshObligation+reserves*computeRefreshPerReserve))
}

type DepositReserveLiquidityAccounts struct {
	SourceLiquidity        ed25519.PublicKey
	DestinationCollateral  ed25519.PublicKey
	Reserve                ed25519.PublicKey
	ReserveLiquiditySupply ed25519.PublicKey
	ReserveCollateralMint  ed25519.PublicKey
	LendingMarket          ed25519.PublicKey
	LendingMarketAuthority ed25519.PublicKey
	TransferAuthority      ed25519.PublicKey
}

// NewDepositReserveLiquidityInstruction mints cTokens to the user without
// pledging them to an obligation.
func NewDepositReserveLiquidityInstruction(program ed25519.PublicKey, accounts *DepositReserveLiquidityAccounts, args *AmountArgs) (*lending.InstructionSpec, error) {
	data, err := encodeInstruction(InstructionDepositReserveLiquidity, args)
	if err != nil {
		return nil, err
	}

	ixn := solana.NewInstruction(
		program,
		data,
		solana.NewAccountMeta(accounts.SourceLiquidity, false),
		solana.NewAccountMeta(accounts.DestinationCollateral, false),
		solana.NewAccountMeta(accounts.Reserve, false),
		solana.NewAccountMeta(accounts.ReserveLiquiditySupply, false),
		solana.NewAccountMeta(accounts.ReserveCollateralMint, false),
		solana.NewReadonlyAccountMeta(accounts.LendingMarket, false),
		solana.NewReadonlyAccountMeta(accounts.LendingMarketAuthority, false),
		solana.NewReadonlyAccountMeta(accounts.TransferAuthority, true),
		solana.NewReadonlyAccountMeta(token.ProgramKey, false),
	)
	return lending.FromInstruction(InstructionDepositReserveLiquidity, ixn, computeDepositReserveLiquidity), nil
}

type DepositAccounts struct {
	SourceLiquidity         ed25519.PublicKey
	UserCollateral          ed25519.PublicKey
	Reserve                 ed25519.PublicKey
	ReserveLiquiditySupply  ed25519.PublicKey
	ReserveCollateralMint   ed25519.PublicKey
	LendingMarket           ed25519.PublicKey
	LendingMarketAuthority  ed25519.PublicKey
	ReserveCollateralSupply ed25519.PublicKey
	Obligation              ed25519.PublicKey
	ObligationOwner         ed25519.PublicKey
	PythOracle              ed25519.PublicKey
	SwitchboardOracle       ed25519.PublicKey
	TransferAuthority       ed25519.PublicKey
}

func NewDepositInstruction(program ed25519.PublicKey, accounts *DepositAccounts, args *AmountArgs) (*lending.InstructionSpec, error) {
	data, err := encodeInstruction(InstructionDeposit, args)
	if err != nil {
		return nil, err
	}

	ixn := solana.NewInstruction(
		program,
		data,
		solana.NewAccountMeta(accounts.SourceLiquidity, false),
		solana.NewAccountMeta(accounts.UserCollateral, false),
		solana.NewAccountMeta(accounts.Reserve, false),
		solana.NewAccountMeta(accounts.ReserveLiquiditySupply, false),
		solana.NewAccountMeta(accounts.ReserveCollateralMint, false),
		solana.NewReadonlyAccountMeta(accounts.LendingMarket, false),
		solana.NewReadonlyAccountMeta(accounts.LendingMarketAuthority, false),
		solana.NewAccountMeta(accounts.ReserveCollateralSupply, false),
		solana.NewAccountMeta(accounts.Obligation, false),
		solana.NewReadonlyAccountMeta(accounts.ObligationOwner, true),
		solana.NewReadonlyAccountMeta(accounts.PythOracle, false),
		solana.NewReadonlyAccountMeta(accounts.SwitchboardOracle, false),
		solana.NewReadonlyAccountMeta(accounts.TransferAuthority, true),
		solana.NewReadonlyAccountMeta(token.ProgramKey, false),
	)
	return lending.FromInstruction(InstructionDeposit, ixn, computeDeposit), nil
}

type WithdrawAccounts struct {
	ReserveCollateralSupply ed25519.PublicKey
	UserCollateral          ed25519.PublicKey
	Reserve                 ed25519.PublicKey
	Obligation              ed25519.PublicKey
	LendingMarket           ed25519.PublicKey
	LendingMarketAuthority  ed25519.PublicKey
	UserLiquidity           ed25519.PublicKey
	ReserveCollateralMint   ed25519.PublicKey
	ReserveLiquiditySupply  ed25519.PublicKey
	ObligationOwner         ed25519.PublicKey
	TransferAuthority       ed25519.PublicKey
}

// NewWithdrawInstruction withdraws Amount collateral tokens and redeems them
// for liquidity.
func NewWithdrawInstruction(program ed25519.PublicKey, accounts *WithdrawAccounts, args *AmountArgs) (*lending.InstructionSpec, error) {
	data, err := encodeInstruction(InstructionWithdraw, args)
	if err != nil {
		return nil, err
	}

	ixn := solana.NewInstruction(
		program,
		data,
		solana.NewAccountMeta(accounts.ReserveCollateralSupply, false),
		solana.NewAccountMeta(accounts.UserCollateral, false),
		solana.NewAccountMeta(accounts.Reserve, false),
		solana.NewAccountMeta(accounts.Obligation, false),
		solana.NewReadonlyAccountMeta(accounts.LendingMarket, false),
		solana.NewReadonlyAccountMeta(accounts.LendingMarketAuthority, false),
		solana.NewAccountMeta(accounts.UserLiquidity, false),
		solana.NewAccountMeta(accounts.ReserveCollateralMint, false),
		solana.NewAccountMeta(accounts.ReserveLiquiditySupply, false),
		solana.NewReadonlyAccountMeta(accounts.ObligationOwner, true),
		solana.NewReadonlyAccountMeta(accounts.TransferAuthority, true),
		solana.NewReadonlyAccountMeta(token.ProgramKey, false),
	)
	return lending.FromInstruction(InstructionWithdraw, ixn, computeWithdraw), nil
}

type BorrowAccounts struct {
	ReserveLiquiditySupply ed25519.PublicKey
	UserLiquidity          ed25519.PublicKey
	Reserve                ed25519.PublicKey
	FeeReceiver            ed25519.PublicKey
	Obligation             ed25519.PublicKey
	LendingMarket          ed25519.PublicKey
	LendingMarketAuthority ed25519.PublicKey
	ObligationOwner        ed25519.PublicKey
}

func NewBorrowInstruction(program ed25519.PublicKey, accounts *BorrowAccounts, args *AmountArgs) (*lending.InstructionSpec, error) {
	data, err := encodeInstruction(InstructionBorrow, args)
	if err != nil {
		return nil, err
	}

	ixn := solana.NewInstruction(
		program,
		data,
		solana.NewAccountMeta(accounts.ReserveLiquiditySupply, false),
		solana.NewAccountMeta(accounts.UserLiquidity, false),
		solana.NewAccountMeta(accounts.Reserve, false),
		solana.NewAccountMeta(accounts.FeeReceiver, false),
		solana.NewAccountMeta(accounts.Obligation, false),
		solana.NewReadonlyAccountMeta(accounts.LendingMarket, false),
		solana.NewReadonlyAccountMeta(accounts.LendingMarketAuthority, false),
		solana.NewReadonlyAccountMeta(accounts.ObligationOwner, true),
		solana.NewReadonlyAccountMeta(token.ProgramKey, false),
	)
	return lending.FromInstruction(InstructionBorrow, ixn, computeBorrow), nil
}

type RepayAccounts struct {
	SourceLiquidity        ed25519.PublicKey
	ReserveLiquiditySupply ed25519.PublicKey
	Reserve                ed25519.PublicKey
	Obligation             ed25519.PublicKey
	LendingMarket          ed25519.PublicKey
	TransferAuthority      ed25519.PublicKey
}

// NewRepayInstruction repays Amount liquidity. u64::MAX repays the whole debt.
func NewRepayInstruction(program ed25519.PublicKey, accounts *RepayAccounts, args *AmountArgs) (*lending.InstructionSpec, error) {
	data, err := encodeInstruction(InstructionRepay, args)
	if err != nil {
		return nil, err
	}

	ixn := solana.NewInstruction(
		program,
		data,
		solana.NewAccountMeta(accounts.SourceLiquidity, false),
		solana.NewAccountMeta(accounts.ReserveLiquiditySupply, false),
		solana.NewAccountMeta(accounts.Reserve, false),
		solana.NewAccountMeta(accounts.Obligation, false),
		solana.NewReadonlyAccountMeta(accounts.LendingMarket, false),
		solana.NewReadonlyAccountMeta(accounts.TransferAuthority, true),
		solana.NewReadonlyAccountMeta(token.ProgramKey, false),
	)
	return lending.FromInstruction(InstructionRepay, ixn, computeRepay), nil
}

type LiquidateAccounts struct {
	SourceLiquidity                 ed25519.PublicKey
	DestinationCollateral           ed25519.PublicKey
	DestinationLiquidity            ed25519.PublicKey
	RepayReserve                    ed25519.PublicKey
	RepayReserveLiquiditySupply     ed25519.PublicKey
	WithdrawReserve                 ed25519.PublicKey
	WithdrawReserveCollateralMint   ed25519.PublicKey
	WithdrawReserveCollateralSupply ed25519.PublicKey
	WithdrawReserveLiquiditySupply  ed25519.PublicKey
	WithdrawReserveFeeReceiver      ed25519.PublicKey
	Obligation                      ed25519.PublicKey
	LendingMarket                   ed25519.PublicKey
	LendingMarketAuthority          ed25519.PublicKey
	TransferAuthority               ed25519.PublicKey
}

// NewLiquidateInstruction repays Amount of the obligation's debt and redeems
// the seized collateral into liquidity.
func NewLiquidateInstruction(program ed25519.PublicKey, accounts *LiquidateAccounts, args *AmountArgs) (*lending.InstructionSpec, error) {
	data, err := encodeInstruction(InstructionLiquidate, args)
	if err != nil {
		return nil, err
	}

	ixn := solana.NewInstruction(
		program,
		data,
		solana.NewAccountMeta(accounts.SourceLiquidity, false),
		solana.NewAccountMeta(accounts.DestinationCollateral, false),
		solana.NewAccountMeta(accounts.DestinationLiquidity, false),
		solana.NewAccountMeta(accounts.RepayReserve, false),
		solana.NewAccountMeta(accounts.RepayReserveLiquiditySupply, false),
		solana.NewAccountMeta(accounts.WithdrawReserve, false),
		solana.NewAccountMeta(accounts.WithdrawReserveCollateralMint, false),
		solana.NewAccountMeta(accounts.WithdrawReserveCollateralSupply, false),
		solana.NewAccountMeta(accounts.WithdrawReserveLiquiditySupply, false),
		solana.NewAccountMeta(accounts.WithdrawReserveFeeReceiver, false),
		solana.NewAccountMeta(accounts.Obligation, false),
		solana.NewReadonlyAccountMeta(accounts.LendingMarket, false),
		solana.NewReadonlyAccountMeta(accounts.LendingMarketAuthority, false),
		solana.NewReadonlyAccountMeta(accounts.TransferAuthority, true),
		solana.NewReadonlyAccountMeta(token.ProgramKey, false),
	)
	return lending.FromInstruction(InstructionLiquidate, ixn, computeLiquidate), nil
}

// NewCreateObligationAccountInstruction allocates the obligation account at
// its seed derived address, ahead of init_obligation.
func NewCreateObligationAccountInstruction(program, payer, owner, obligation, lendingMarket ed25519.PublicKey) (*lending.InstructionSpec, error) {
	ixn, err := system.CreateAccountWithSeed(
		payer,
		obligation,
		owner,
		ObligationSeed(lendingMarket),
		system.RentExemptMinimum(ObligationAccountSize),
		ObligationAccountSize,
		program,
	)
	if err != nil {
		return nil, err
	}
	return lending.FromInstruction("create_account_with_seed", ixn, computeCreateObligationAccount), nil
}

// encodeInstruction builds instruction data through the registered schema so
// its argument checks apply.
func encodeInstruction(name string, args interface{}) ([]byte, error) {
	return codec.Default.EncodeInstruction(lending.ProtocolSolend, name, args)
}
