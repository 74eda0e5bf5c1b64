package kamino

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
	InstructionInitUserMetadata  = "init_user_metadata"
	InstructionInitObligation    = "init_obligation"
	InstructionRefreshReserve    = "refresh_reserve"
	InstructionRefreshObligation = "refresh_obligation"
	InstructionDeposit           = "deposit_reserve_liquidity_and_obligation_collateral"
	InstructionWithdraw          = "withdraw_obligation_collateral_and_redeem_reserve_collateral"
	InstructionBorrow            = "borrow_obligation_liquidity"
	InstructionRepay             = "repay_obligation_liquidity"
	InstructionLiquidate         = "liquidate_obligation_and_redeem_reserve_collateral"
)

var (
	initUserMetadataDiscriminator  = codec.InstructionDiscriminator(InstructionInitUserMetadata)
	initObligationDiscriminator    = codec.InstructionDiscriminator(InstructionInitObligation)
	refreshReserveDiscriminator    = codec.InstructionDiscriminator(InstructionRefreshReserve)
	refreshObligationDiscriminator = codec.InstructionDiscriminator(InstructionRefreshObligation)
	depositDiscriminator           = codec.InstructionDiscriminator(InstructionDeposit)
	withdrawDiscriminator          = codec.InstructionDiscriminator(InstructionWithdraw)
	borrowDiscriminator            = codec.InstructionDiscriminator(InstructionBorrow)
	repayDiscriminator             = codec.InstructionDiscriminator(InstructionRepay)
	liquidateDiscriminator         = codec.InstructionDiscriminator(InstructionLiquidate)
)

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

type InitUserMetadataArgs struct {
	UserLookupTable ed25519.PublicKey
}

func (a *InitUserMetadataArgs) encode() []byte {
	data := make([]byte, ed25519.PublicKeySize)
	var offset int
	binary.PutKey(data, codec.OptionalKey(a.UserLookupTable, system.ProgramKey[:]), &offset)
	return data
}

type InitObligationArgs struct {
	Tag uint8
	ID  uint8
}

func (a *InitObligationArgs) encode() []byte {
	data := make([]byte, 2)
	var offset int
	binary.PutUint8(data, a.Tag, &offset)
	binary.PutUint8(data, a.ID, &offset)
	return data
}

type LiquidateArgs struct {
	LiquidityAmount              uint64
	MinAcceptableReceivedAmount  uint64
	MaxAllowedLtvOverridePercent uint64
}

func (a *LiquidateArgs) encode() []byte {
	data := make([]byte, 3*8)
	var offset int
	binary.PutUint64(data, a.LiquidityAmount, &offset)
	binary.PutUint64(data, a.MinAcceptableReceivedAmount, &offset)
	binary.PutUint64(data, a.MaxAllowedLtvOverridePercent, &offset)
	return data
}

func ixnData(discriminator, args []byte) []byte {
	data := make([]byte, 0, len(discriminator)+len(args))
	data = append(data, discriminator...)
	return append(data, args...)
}

type InitUserMetadataAccounts struct {
	Owner        ed25519.PublicKey
	FeePayer     ed25519.PublicKey
	UserMetadata ed25519.PublicKey
}

func NewInitUserMetadataInstruction(program ed25519.PublicKey, accounts *InitUserMetadataAccounts, args *InitUserMetadataArgs) (*lending.InstructionSpec, error) {
	data, err := encodeInstruction(InstructionInitUserMetadata, args)
	if err != nil {
		return nil, err
	}

	ixn := solana.NewInstruction(
		program,
		data,
		solana.NewReadonlyAccountMeta(accounts.Owner, true),
		solana.NewAccountMeta(accounts.FeePayer, true),
		solana.NewAccountMeta(accounts.UserMetadata, false),
		solana.NewReadonlyAccountMeta(program, false), // referrer_user_metadata: none
		solana.NewReadonlyAccountMeta(system.RentSysVar, false),
		solana.NewReadonlyAccountMeta(system.ProgramKey[:], false),
	)
	return lending.FromInstruction(InstructionInitUserMetadata, ixn, computeInitUserMetadata), nil
}

type InitObligationAccounts struct {
	ObligationOwner ed25519.PublicKey
	FeePayer        ed25519.PublicKey
	Obligation      ed25519.PublicKey
	LendingMarket   ed25519.PublicKey
	Seed1           ed25519.PublicKey
	Seed2           ed25519.PublicKey
	OwnerMetadata   ed25519.PublicKey
}

func NewInitObligationInstruction(program ed25519.PublicKey, accounts *InitObligationAccounts, args *InitObligationArgs) (*lending.InstructionSpec, error) {
	data, err := encodeInstruction(InstructionInitObligation, args)
	if err != nil {
		return nil, err
	}

	ixn := solana.NewInstruction(
		program,
		data,
		solana.NewReadonlyAccountMeta(accounts.ObligationOwner, true),
		solana.NewAccountMeta(accounts.FeePayer, true),
		solana.NewAccountMeta(accounts.Obligation, false),
		solana.NewReadonlyAccountMeta(accounts.LendingMarket, false),
		solana.NewReadonlyAccountMeta(codec.OptionalKey(accounts.Seed1, system.ProgramKey[:]), false),
		solana.NewReadonlyAccountMeta(codec.OptionalKey(accounts.Seed2, system.ProgramKey[:]), false),
		solana.NewReadonlyAccountMeta(accounts.OwnerMetadata, false),
		solana.NewReadonlyAccountMeta(system.RentSysVar, false),
		solana.NewReadonlyAccountMeta(system.ProgramKey[:], false),
	)
	return lending.FromInstruction(InstructionInitObligation, ixn, computeInitObligation), nil
}

type RefreshReserveAccounts struct {
	Reserve                ed25519.PublicKey
	LendingMarket          ed25519.PublicKey
	PythOracle             ed25519.PublicKey
	SwitchboardPriceOracle ed25519.PublicKey
	SwitchboardTwapOracle  ed25519.PublicKey
	ScopePrices            ed25519.PublicKey
}

// NewRefreshReserveInstruction refreshes the price and accrued interest of a
// reserve. Unset oracles are passed as the program id.
func NewRefreshReserveInstruction(program ed25519.PublicKey, accounts *RefreshReserveAccounts) *lending.InstructionSpec {
	ixn := solana.NewInstruction(
		program,
		ixnData(refreshReserveDiscriminator, nil),
		solana.NewAccountMeta(accounts.Reserve, false),
		solana.NewReadonlyAccountMeta(accounts.LendingMarket, false),
		solana.NewReadonlyAccountMeta(codec.OptionalKey(accounts.PythOracle, program), false),
		solana.NewReadonlyAccountMeta(codec.OptionalKey(accounts.SwitchboardPriceOracle, program), false),
		solana.NewReadonlyAccountMeta(codec.OptionalKey(accounts.SwitchboardTwapOracle, program), false),
		solana.NewReadonlyAccountMeta(codec.OptionalKey(accounts.ScopePrices, program), false),
	)
	return lending.FromInstruction(InstructionRefreshReserve, ixn, computeRefreshReserve)
}

type RefreshObligationAccounts struct {
	LendingMarket   ed25519.PublicKey
	Obligation      ed25519.PublicKey
	DepositReserves []ed25519.PublicKey
	BorrowReserves  []ed25519.PublicKey
}

// NewRefreshObligationInstruction recomputes obligation values. Deposit
// reserves and then borrow reserves follow as remaining accounts, in slot
// order.
func NewRefreshObligationInstruction(program ed25519.PublicKey, accounts *RefreshObligationAccounts) *lending.InstructionSpec {
	metas := []solana.AccountMeta{
		solana.NewReadonlyAccountMeta(accounts.LendingMarket, false),
		solana.NewAccountMeta(accounts.Obligation, false),
	}
	for _, reserve := range accounts.DepositReserves {
		metas = append(metas, solana.NewReadonlyAccountMeta(reserve, false))
	}
	for _, reserve := range accounts.BorrowReserves {
		metas = append(metas, solana.NewReadonlyAccountMeta(reserve, false))
	}

	reserves := len(accounts.DepositReserves) + len(accounts.BorrowReserves)
	ixn := solana.NewInstruction(program, ixnData(refreshObligationDiscriminator, nil), metas...)
	return lending.FromInstruction(InstructionRefreshObligation, ixn, uint32(computeRefreshObligation+reserves*computeRefreshPerReserve))
}

type DepositAccounts struct {
	Owner                   ed25519.PublicKey
	Obligation              ed25519.PublicKey
	LendingMarket           ed25519.PublicKey
	LendingMarketAuthority  ed25519.PublicKey
	Reserve                 ed25519.PublicKey
	ReserveLiquidityMint    ed25519.PublicKey
	ReserveLiquiditySupply  ed25519.PublicKey
	ReserveCollateralMint   ed25519.PublicKey
	ReserveCollateralSupply ed25519.PublicKey
	UserSourceLiquidity     ed25519.PublicKey
	LiquidityTokenProgram   ed25519.PublicKey
}

func NewDepositInstruction(program ed25519.PublicKey, accounts *DepositAccounts, args *AmountArgs) (*lending.InstructionSpec, error) {
	data, err := encodeInstruction(InstructionDeposit, args)
	if err != nil {
		return nil, err
	}

	ixn := solana.NewInstruction(
		program,
		data,
		solana.NewAccountMeta(accounts.Owner, true),
		solana.NewAccountMeta(accounts.Obligation, false),
		solana.NewReadonlyAccountMeta(accounts.LendingMarket, false),
		solana.NewReadonlyAccountMeta(accounts.LendingMarketAuthority, false),
		solana.NewAccountMeta(accounts.Reserve, false),
		solana.NewReadonlyAccountMeta(accounts.ReserveLiquidityMint, false),
		solana.NewAccountMeta(accounts.ReserveLiquiditySupply, false),
		solana.NewAccountMeta(accounts.ReserveCollateralMint, false),
		solana.NewAccountMeta(accounts.ReserveCollateralSupply, false),
		solana.NewAccountMeta(accounts.UserSourceLiquidity, false),
		solana.NewReadonlyAccountMeta(program, false), // placeholder_user_destination_collateral
		solana.NewReadonlyAccountMeta(token.ProgramKey, false),
		solana.NewReadonlyAccountMeta(liquidityTokenProgram(accounts.LiquidityTokenProgram), false),
		solana.NewReadonlyAccountMeta(system.InstructionsSysVar, false),
	)
	return lending.FromInstruction(InstructionDeposit, ixn, computeDeposit), nil
}

type WithdrawAccounts struct {
	Owner                    ed25519.PublicKey
	Obligation               ed25519.PublicKey
	LendingMarket            ed25519.PublicKey
	LendingMarketAuthority   ed25519.PublicKey
	WithdrawReserve          ed25519.PublicKey
	ReserveLiquidityMint     ed25519.PublicKey
	ReserveSourceCollateral  ed25519.PublicKey
	ReserveCollateralMint    ed25519.PublicKey
	ReserveLiquiditySupply   ed25519.PublicKey
	UserDestinationLiquidity ed25519.PublicKey
	LiquidityTokenProgram    ed25519.PublicKey
}

// NewWithdrawInstruction takes a collateral token amount, not a liquidity
// amount.
func NewWithdrawInstruction(program ed25519.PublicKey, accounts *WithdrawAccounts, args *AmountArgs) (*lending.InstructionSpec, error) {
	data, err := encodeInstruction(InstructionWithdraw, args)
	if err != nil {
		return nil, err
	}

	ixn := solana.NewInstruction(
		program,
		data,
		solana.NewAccountMeta(accounts.Owner, true),
		solana.NewAccountMeta(accounts.Obligation, false),
		solana.NewReadonlyAccountMeta(accounts.LendingMarket, false),
		solana.NewReadonlyAccountMeta(accounts.LendingMarketAuthority, false),
		solana.NewAccountMeta(accounts.WithdrawReserve, false),
		solana.NewReadonlyAccountMeta(accounts.ReserveLiquidityMint, false),
		solana.NewAccountMeta(accounts.ReserveSourceCollateral, false),
		solana.NewAccountMeta(accounts.ReserveCollateralMint, false),
		solana.NewAccountMeta(accounts.ReserveLiquiditySupply, false),
		solana.NewAccountMeta(accounts.UserDestinationLiquidity, false),
		solana.NewReadonlyAccountMeta(program, false), // placeholder_user_destination_collateral
		solana.NewReadonlyAccountMeta(token.ProgramKey, false),
		solana.NewReadonlyAccountMeta(liquidityTokenProgram(accounts.LiquidityTokenProgram), false),
		solana.NewReadonlyAccountMeta(system.InstructionsSysVar, false),
	)
	return lending.FromInstruction(InstructionWithdraw, ixn, computeWithdraw), nil
}

type BorrowAccounts struct {
	Owner                      ed25519.PublicKey
	Obligation                 ed25519.PublicKey
	LendingMarket              ed25519.PublicKey
	LendingMarketAuthority     ed25519.PublicKey
	BorrowReserve              ed25519.PublicKey
	BorrowReserveLiquidityMint ed25519.PublicKey
	ReserveSourceLiquidity     ed25519.PublicKey
	BorrowReserveFeeReceiver   ed25519.PublicKey
	UserDestinationLiquidity   ed25519.PublicKey
	LiquidityTokenProgram      ed25519.PublicKey
}

func NewBorrowInstruction(program ed25519.PublicKey, accounts *BorrowAccounts, args *AmountArgs) (*lending.InstructionSpec, error) {
	data, err := encodeInstruction(InstructionBorrow, args)
	if err != nil {
		return nil, err
	}

	ixn := solana.NewInstruction(
		program,
		data,
		solana.NewReadonlyAccountMeta(accounts.Owner, true),
		solana.NewAccountMeta(accounts.Obligation, false),
		solana.NewReadonlyAccountMeta(accounts.LendingMarket, false),
		solana.NewReadonlyAccountMeta(accounts.LendingMarketAuthority, false),
		solana.NewAccountMeta(accounts.BorrowReserve, false),
		solana.NewReadonlyAccountMeta(accounts.BorrowReserveLiquidityMint, false),
		solana.NewAccountMeta(accounts.ReserveSourceLiquidity, false),
		solana.NewAccountMeta(accounts.BorrowReserveFeeReceiver, false),
		solana.NewAccountMeta(accounts.UserDestinationLiquidity, false),
		solana.NewReadonlyAccountMeta(program, false), // referrer_token_state: none
		solana.NewReadonlyAccountMeta(liquidityTokenProgram(accounts.LiquidityTokenProgram), false),
		solana.NewReadonlyAccountMeta(system.InstructionsSysVar, false),
	)
	return lending.FromInstruction(InstructionBorrow, ixn, computeBorrow), nil
}

type RepayAccounts struct {
	Owner                       ed25519.PublicKey
	Obligation                  ed25519.PublicKey
	LendingMarket               ed25519.PublicKey
	RepayReserve                ed25519.PublicKey
	ReserveLiquidityMint        ed25519.PublicKey
	ReserveDestinationLiquidity ed25519.PublicKey
	UserSourceLiquidity         ed25519.PublicKey
	LiquidityTokenProgram       ed25519.PublicKey
}

func NewRepayInstruction(program ed25519.PublicKey, accounts *RepayAccounts, args *AmountArgs) (*lending.InstructionSpec, error) {
	data, err := encodeInstruction(InstructionRepay, args)
	if err != nil {
		return nil, err
	}

	ixn := solana.NewInstruction(
		program,
		data,
		solana.NewReadonlyAccountMeta(accounts.Owner, true),
		solana.NewAccountMeta(accounts.Obligation, false),
		solana.NewReadonlyAccountMeta(accounts.LendingMarket, false),
		solana.NewAccountMeta(accounts.RepayReserve, false),
		solana.NewReadonlyAccountMeta(accounts.ReserveLiquidityMint, false),
		solana.NewAccountMeta(accounts.ReserveDestinationLiquidity, false),
		solana.NewAccountMeta(accounts.UserSourceLiquidity, false),
		solana.NewReadonlyAccountMeta(liquidityTokenProgram(accounts.LiquidityTokenProgram), false),
		solana.NewReadonlyAccountMeta(system.InstructionsSysVar, false),
	)
	return lending.FromInstruction(InstructionRepay, ixn, computeRepay), nil
}

type LiquidateAccounts struct {
	Liquidator                      ed25519.PublicKey
	Obligation                      ed25519.PublicKey
	LendingMarket                   ed25519.PublicKey
	LendingMarketAuthority          ed25519.PublicKey
	RepayReserve                    ed25519.PublicKey
	RepayReserveLiquidityMint       ed25519.PublicKey
	RepayReserveLiquiditySupply     ed25519.PublicKey
	WithdrawReserve                 ed25519.PublicKey
	WithdrawReserveLiquidityMint    ed25519.PublicKey
	WithdrawReserveCollateralMint   ed25519.PublicKey
	WithdrawReserveCollateralSupply ed25519.PublicKey
	WithdrawReserveLiquiditySupply  ed25519.PublicKey
	WithdrawReserveFeeReceiver      ed25519.PublicKey
	UserSourceLiquidity             ed25519.PublicKey
	UserDestinationCollateral       ed25519.PublicKey
	UserDestinationLiquidity        ed25519.PublicKey
	RepayTokenProgram               ed25519.PublicKey
	WithdrawTokenProgram            ed25519.PublicKey
}

func NewLiquidateInstruction(program ed25519.PublicKey, accounts *LiquidateAccounts, args *LiquidateArgs) (*lending.InstructionSpec, error) {
	data, err := encodeInstruction(InstructionLiquidate, args)
	if err != nil {
		return nil, err
	}

	ixn := solana.NewInstruction(
		program,
		data,
		solana.NewReadonlyAccountMeta(accounts.Liquidator, true),
		solana.NewAccountMeta(accounts.Obligation, false),
		solana.NewReadonlyAccountMeta(accounts.LendingMarket, false),
		solana.NewReadonlyAccountMeta(accounts.LendingMarketAuthority, false),
		solana.NewAccountMeta(accounts.RepayReserve, false),
		solana.NewReadonlyAccountMeta(accounts.RepayReserveLiquidityMint, false),
		solana.NewAccountMeta(accounts.RepayReserveLiquiditySupply, false),
		solana.NewAccountMeta(accounts.WithdrawReserve, false),
		solana.NewReadonlyAccountMeta(accounts.WithdrawReserveLiquidityMint, false),
		solana.NewAccountMeta(accounts.WithdrawReserveCollateralMint, false),
		solana.NewAccountMeta(accounts.WithdrawReserveCollateralSupply, false),
		solana.NewAccountMeta(accounts.WithdrawReserveLiquiditySupply, false),
		solana.NewAccountMeta(accounts.WithdrawReserveFeeReceiver, false),
		solana.NewAccountMeta(accounts.UserSourceLiquidity, false),
		solana.NewAccountMeta(accounts.UserDestinationCollateral, false),
		solana.NewAccountMeta(accounts.UserDestinationLiquidity, false),
		solana.NewReadonlyAccountMeta(token.ProgramKey, false),
		solana.NewReadonlyAccountMeta(liquidityTokenProgram(accounts.RepayTokenProgram), false),
		solana.NewReadonlyAccountMeta(liquidityTokenProgram(accounts.WithdrawTokenProgram), false),
		solana.NewReadonlyAccountMeta(system.InstructionsSysVar, false),
	)
	return lending.FromInstruction(InstructionLiquidate, ixn, computeLiquidate), nil
}

func liquidityTokenProgram(key ed25519.PublicKey) ed25519.PublicKey {
	return codec.OptionalKey(key, token.ProgramKey)
}

// encodeInstruction builds instruction data through the registered schema so
// its argument checks apply.
func encodeInstruction(name string, args interface{}) ([]byte, error) {
	return codec.Default.EncodeInstruction(lending.ProtocolKamino, name, args)
}
