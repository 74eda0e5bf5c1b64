package kamino

import (
	"bytes"
	"crypto/ed25519"
	"math"

	"github.com/mr-tron/base58/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/lending/codec"
	"github.com/lendsdk/lendsdk/pkg/solana/token"
)

// Adapter implements lending.Adapter for klend.
type Adapter struct {
	log     *logrus.Entry
	program ed25519.PublicKey
	codecs  *codec.Registry
}

type Option func(*Adapter)

// WithProgram overrides the klend program id, for forks and test clusters.
func WithProgram(program ed25519.PublicKey) Option {
	return func(a *Adapter) {
		a.program = program
	}
}

// WithCodecs decodes with a registry other than codec.Default.
func WithCodecs(r *codec.Registry) Option {
	return func(a *Adapter) {
		a.codecs = r
	}
}

func New(opts ...Option) *Adapter {
	a := &Adapter{
		log:     logrus.StandardLogger().WithField("type", "lending/kamino"),
		program: ProgramKey,
		codecs:  codec.Default,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Protocol() lending.Protocol {
	return lending.ProtocolKamino
}

func (a *Adapter) ProgramID() ed25519.PublicKey {
	return a.program
}

func (a *Adapter) Identify(data []byte) (lending.AccountKind, error) {
	schema, err := a.codecs.Identify(lending.ProtocolKamino, data)
	if err != nil {
		return lending.KindUnknown, err
	}
	return schema.Kind, nil
}

func (a *Adapter) DecodeMarket(address ed25519.PublicKey, data []byte) (*lending.Market, error) {
	record, err := a.codecs.DecodeAccount(lending.ProtocolKamino, AccountReserve, data)
	if err != nil {
		return nil, withAddress(err, address)
	}
	return record.(*Reserve).ToMarket(address), nil
}

func (a *Adapter) DecodePosition(address ed25519.PublicKey, data []byte) (*lending.Position, error) {
	record, err := a.codecs.DecodeAccount(lending.ProtocolKamino, AccountObligation, data)
	if err != nil {
		return nil, withAddress(err, address)
	}
	return record.(*Obligation).ToPosition(address), nil
}

// PositionAddress returns ref.Address when set, otherwise the vanilla
// obligation of the owner in the lending market.
func (a *Adapter) PositionAddress(ref lending.PositionRef) (ed25519.PublicKey, error) {
	if len(ref.Address) > 0 {
		return ref.Address, nil
	}
	addr, err := ObligationAddress(a.program, VanillaObligation(ref.Owner, ref.MarketSet))
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive obligation address")
	}
	return addr, nil
}

func (a *Adapter) RequiredAccounts(op *lending.Operation) ([]lending.AddressRole, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}

	obligation, err := a.PositionAddress(op.Position)
	if err != nil {
		return nil, err
	}
	authority, err := LendingMarketAuthority(a.program, op.Position.MarketSet)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive lending market authority")
	}

	res := []lending.AddressRole{
		lending.WritableSigner(op.Signer()),
		lending.Readonly(op.Position.MarketSet),
		lending.Readonly(authority),
	}

	switch op.Kind {
	case lending.OperationLiquidate:
		violator, err := a.PositionAddress(op.Liquidation.Violator)
		if err != nil {
			return nil, err
		}
		res = append(res,
			lending.Writable(violator),
			lending.Writable(op.Market),
			lending.Writable(op.Liquidation.CollateralMarket),
		)
	case lending.OperationRefreshState:
		res = append(res, lending.Writable(obligation))
		if len(op.Market) > 0 {
			res = append(res, lending.Writable(op.Market))
		}
	default:
		res = append(res, lending.Writable(obligation), lending.Writable(op.Market))
		if len(op.Asset) > 0 {
			ata, err := lending.TokenAccount(op.TokenAccount, op.Signer(), op.Asset, nil)
			if err != nil {
				return nil, err
			}
			res = append(res, lending.Writable(ata))
		}
	}
	return res, nil
}

func (a *Adapter) Prepare(op *lending.Operation, market *lending.Market, position *lending.Position) ([]*lending.InstructionSpec, error) {
	if op.Protocol != lending.ProtocolKamino {
		return nil, lending.NewParameterError("protocol", op.Protocol.String(), "not a kamino operation")
	}
	if err := op.Validate(); err != nil {
		return nil, err
	}
	if position == nil {
		return nil, lending.NewParameterError("position", "", "position snapshot is required")
	}

	reserve, err := reserveOf(market)
	if err != nil {
		return nil, err
	}
	if err := lending.Validate(op, market, position); err != nil {
		return nil, err
	}

	var specs []*lending.InstructionSpec
	switch op.Kind {
	case lending.OperationRefreshState:
		specs, err = a.prepareRefresh(market, reserve, position)
	case lending.OperationLiquidate:
		specs, err = a.prepareLiquidate(op, market, reserve, position)
	default:
		specs, err = a.prepareAction(op, market, reserve, position)
	}
	if err != nil {
		return nil, err
	}

	a.log.WithFields(logrus.Fields{
		"method":       "Prepare",
		"operation":    op.Kind.String(),
		"reserve":      market.AddressString(),
		"instructions": len(specs),
	}).Debug("prepared kamino instructions")

	return specs, nil
}

func (a *Adapter) prepareAction(op *lending.Operation, market *lending.Market, reserve *Reserve, position *lending.Position) ([]*lending.InstructionSpec, error) {
	owner := op.Position.Owner
	signer := op.Signer()

	obligation, err := a.obligationOf(op.Position, position)
	if err != nil {
		return nil, err
	}
	authority, err := LendingMarketAuthority(a.program, reserve.LendingMarket)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive lending market authority")
	}

	if err := checkSlots(op, market, position); err != nil {
		return nil, err
	}

	var specs []*lending.InstructionSpec
	if !position.Exists {
		metadata, err := UserMetadataAddress(a.program, owner)
		if err != nil {
			return nil, errors.Wrap(err, "failed to derive user metadata address")
		}
		seeds := VanillaObligation(owner, reserve.LendingMarket)
		create, err := NewInitObligationInstruction(a.program, &InitObligationAccounts{
			ObligationOwner: owner,
			FeePayer:        op.FeePayer(),
			Obligation:      obligation,
			LendingMarket:   reserve.LendingMarket,
			Seed1:           seeds.Seed1,
			Seed2:           seeds.Seed2,
			OwnerMetadata:   metadata,
		}, &InitObligationArgs{Tag: uint8(seeds.Type), ID: seeds.ID})
		if err != nil {
			return nil, err
		}
		specs = append(specs, create)
	}

	mint := reserve.Liquidity.MintPubkey
	tokenProgram := reserve.Liquidity.TokenProgram

	var userLiquidity ed25519.PublicKey
	switch op.Kind {
	case lending.OperationBorrow, lending.OperationWithdraw:
		setup, addr, err := lending.ReceivingTokenAccount(op, signer, mint, tokenProgram)
		if err != nil {
			return nil, err
		}
		specs = append(specs, setup...)
		userLiquidity = addr
	default:
		userLiquidity, err = lending.TokenAccount(op.TokenAccount, signer, mint, tokenProgram)
		if err != nil {
			return nil, err
		}
	}

	refresh, err := a.refreshInstructions(obligation, market, reserve, position)
	if err != nil {
		return nil, err
	}
	specs = append(specs, refresh...)

	switch op.Kind {
	case lending.OperationDeposit:
		deposit, err := NewDepositInstruction(a.program, &DepositAccounts{
			Owner:                   signer,
			Obligation:              obligation,
			LendingMarket:           reserve.LendingMarket,
			LendingMarketAuthority:  authority,
			Reserve:                 market.Address,
			ReserveLiquidityMint:    mint,
			ReserveLiquiditySupply:  reserve.Liquidity.SupplyVault,
			ReserveCollateralMint:   reserve.Collateral.MintPubkey,
			ReserveCollateralSupply: reserve.Collateral.SupplyVault,
			UserSourceLiquidity:     userLiquidity,
			LiquidityTokenProgram:   tokenProgram,
		}, &AmountArgs{Amount: op.Amount})
		if err != nil {
			return nil, err
		}
		specs = append(specs, deposit)

	case lending.OperationWithdraw:
		collateral, err := withdrawCollateral(op, market, reserve, position)
		if err != nil {
			return nil, err
		}
		withdraw, err := NewWithdrawInstruction(a.program, &WithdrawAccounts{
			Owner:                    signer,
			Obligation:               obligation,
			LendingMarket:            reserve.LendingMarket,
			LendingMarketAuthority:   authority,
			WithdrawReserve:          market.Address,
			ReserveLiquidityMint:     mint,
			ReserveSourceCollateral:  reserve.Collateral.SupplyVault,
			ReserveCollateralMint:    reserve.Collateral.MintPubkey,
			ReserveLiquiditySupply:   reserve.Liquidity.SupplyVault,
			UserDestinationLiquidity: userLiquidity,
			LiquidityTokenProgram:    tokenProgram,
		}, &AmountArgs{Amount: collateral})
		if err != nil {
			return nil, err
		}
		specs = append(specs, withdraw)

	case lending.OperationBorrow:
		borrow, err := NewBorrowInstruction(a.program, &BorrowAccounts{
			Owner:                      signer,
			Obligation:                 obligation,
			LendingMarket:              reserve.LendingMarket,
			LendingMarketAuthority:     authority,
			BorrowReserve:              market.Address,
			BorrowReserveLiquidityMint: mint,
			ReserveSourceLiquidity:     reserve.Liquidity.SupplyVault,
			BorrowReserveFeeReceiver:   reserve.Liquidity.FeeVault,
			UserDestinationLiquidity:   userLiquidity,
			LiquidityTokenProgram:      tokenProgram,
		}, &AmountArgs{Amount: op.Amount})
		if err != nil {
			return nil, err
		}
		specs = append(specs, borrow)

	case lending.OperationRepay:
		amount := op.Amount
		if op.All {
			amount = math.MaxUint64
		}
		repay, err := NewRepayInstruction(a.program, &RepayAccounts{
			Owner:                       signer,
			Obligation:                  obligation,
			LendingMarket:               reserve.LendingMarket,
			RepayReserve:                market.Address,
			ReserveLiquidityMint:        mint,
			ReserveDestinationLiquidity: reserve.Liquidity.SupplyVault,
			UserSourceLiquidity:         userLiquidity,
			LiquidityTokenProgram:       tokenProgram,
		}, &AmountArgs{Amount: amount})
		if err != nil {
			return nil, err
		}
		specs = append(specs, repay)

	default:
		return nil, lending.Reject(lending.ProtocolKamino, lending.ReasonUnsupportedOperation, "%s", op.Kind)
	}

	return specs, nil
}

func (a *Adapter) prepareRefresh(market *lending.Market, reserve *Reserve, position *lending.Position) ([]*lending.InstructionSpec, error) {
	if !position.Exists {
		return []*lending.InstructionSpec{a.refreshReserve(market.Address, reserve)}, nil
	}
	return a.refreshInstructions(position.Address, market, reserve, position)
}

func (a *Adapter) prepareLiquidate(op *lending.Operation, market *lending.Market, repayReserve *Reserve, violator *lending.Position) ([]*lending.InstructionSpec, error) {
	if !violator.Exists || len(violator.Address) == 0 {
		return nil, lending.Reject(lending.ProtocolKamino, lending.ReasonNoBorrow, "obligation does not exist")
	}
	if _, ok := violator.Borrow(market.Address); !ok {
		return nil, lending.Reject(lending.ProtocolKamino, lending.ReasonNoBorrow, "obligation has no debt in %s", market.AddressString())
	}
	leg, ok := violator.Deposit(op.Liquidation.CollateralMarket)
	if !ok {
		return nil, lending.Reject(lending.ProtocolKamino, lending.ReasonNoDeposit, "obligation has no collateral in %s", base58.Encode(op.Liquidation.CollateralMarket))
	}
	if err := lending.CheckLiquidatable(op, violator); err != nil {
		return nil, err
	}
	withdrawReserve, err := snapshotReserve(leg)
	if err != nil {
		return nil, err
	}

	authority, err := LendingMarketAuthority(a.program, repayReserve.LendingMarket)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive lending market authority")
	}

	liquidator := op.Signer()
	source, err := lending.TokenAccount(op.TokenAccount, liquidator, repayReserve.Liquidity.MintPubkey, repayReserve.Liquidity.TokenProgram)
	if err != nil {
		return nil, err
	}

	var specs []*lending.InstructionSpec

	collateralSetup, destinationCollateral, err := lending.CreateTokenAccount(op.FeePayer(), liquidator, withdrawReserve.Collateral.MintPubkey, token.ProgramKey)
	if err != nil {
		return nil, err
	}
	specs = append(specs, collateralSetup)

	destinationLiquidity := op.Liquidation.CollateralTokenAccount
	if len(destinationLiquidity) == 0 {
		liquiditySetup, addr, err := lending.CreateTokenAccount(op.FeePayer(), liquidator, withdrawReserve.Liquidity.MintPubkey, withdrawReserve.Liquidity.TokenProgram)
		if err != nil {
			return nil, err
		}
		specs = append(specs, liquiditySetup)
		destinationLiquidity = addr
	}

	refresh, err := a.refreshInstructions(violator.Address, market, repayReserve, violator)
	if err != nil {
		return nil, err
	}
	specs = append(specs, refresh...)

	liquidate, err := NewLiquidateInstruction(a.program, &LiquidateAccounts{
		Liquidator:                      liquidator,
		Obligation:                      violator.Address,
		LendingMarket:                   repayReserve.LendingMarket,
		LendingMarketAuthority:          authority,
		RepayReserve:                    market.Address,
		RepayReserveLiquidityMint:       repayReserve.Liquidity.MintPubkey,
		RepayReserveLiquiditySupply:     repayReserve.Liquidity.SupplyVault,
		WithdrawReserve:                 leg.Market,
		WithdrawReserveLiquidityMint:    withdrawReserve.Liquidity.MintPubkey,
		WithdrawReserveCollateralMint:   withdrawReserve.Collateral.MintPubkey,
		WithdrawReserveCollateralSupply: withdrawReserve.Collateral.SupplyVault,
		WithdrawReserveLiquiditySupply:  withdrawReserve.Liquidity.SupplyVault,
		WithdrawReserveFeeReceiver:      withdrawReserve.Liquidity.FeeVault,
		UserSourceLiquidity:             source,
		UserDestinationCollateral:       destinationCollateral,
		UserDestinationLiquidity:        destinationLiquidity,
		RepayTokenProgram:               repayReserve.Liquidity.TokenProgram,
		WithdrawTokenProgram:            withdrawReserve.Liquidity.TokenProgram,
	}, &LiquidateArgs{
		LiquidityAmount:             op.Amount,
		MinAcceptableReceivedAmount: op.Liquidation.MinReceived,
	})
	if err != nil {
		return nil, err
	}
	specs = append(specs, liquidate)

	return specs, nil
}

// refreshInstructions refreshes every reserve of the obligation plus the
// target reserve, then the obligation itself.
func (a *Adapter) refreshInstructions(obligation ed25519.PublicKey, market *lending.Market, reserve *Reserve, position *lending.Position) ([]*lending.InstructionSpec, error) {
	var specs []*lending.InstructionSpec
	seen := make(map[string]struct{})

	add := func(address ed25519.PublicKey, r *Reserve) {
		if _, ok := seen[string(address)]; ok {
			return
		}
		seen[string(address)] = struct{}{}
		specs = append(specs, a.refreshReserve(address, r))
	}

	var depositReserves, borrowReserves []ed25519.PublicKey
	for _, legs := range []struct {
		legs []lending.PositionLeg
		dst  *[]ed25519.PublicKey
	}{
		{position.Deposits, &depositReserves},
		{position.Borrows, &borrowReserves},
	} {
		for _, leg := range legs.legs {
			legReserve, err := snapshotReserve(leg)
			if err != nil {
				return nil, err
			}
			add(leg.Market, legReserve)
			*legs.dst = append(*legs.dst, leg.Market)
		}
	}
	add(market.Address, reserve)

	specs = append(specs, NewRefreshObligationInstruction(a.program, &RefreshObligationAccounts{
		LendingMarket:   reserve.LendingMarket,
		Obligation:      obligation,
		DepositReserves: depositReserves,
		BorrowReserves:  borrowReserves,
	}))
	return specs, nil
}

func (a *Adapter) refreshReserve(address ed25519.PublicKey, reserve *Reserve) *lending.InstructionSpec {
	info := &reserve.Config.TokenInfo
	return NewRefreshReserveInstruction(a.program, &RefreshReserveAccounts{
		Reserve:                address,
		LendingMarket:          reserve.LendingMarket,
		PythOracle:             info.PythPrice,
		SwitchboardPriceOracle: info.SwitchboardPrice,
		SwitchboardTwapOracle:  info.SwitchboardTwap,
		ScopePrices:            info.ScopePriceFeed,
	})
}

func (a *Adapter) obligationOf(ref lending.PositionRef, position *lending.Position) (ed25519.PublicKey, error) {
	if len(position.Address) > 0 {
		return position.Address, nil
	}
	return a.PositionAddress(ref)
}

func withdrawCollateral(op *lending.Operation, market *lending.Market, reserve *Reserve, position *lending.Position) (uint64, error) {
	leg, _ := position.Deposit(market.Address)
	deposited := leg.Amount.BigInt().Uint64()
	if op.All {
		return deposited, nil
	}

	collateral := reserve.LiquidityToCollateral(op.Amount)
	if collateral > deposited {
		return 0, lending.Reject(lending.ProtocolKamino, lending.ReasonNoDeposit, "withdrawal of %d collateral exceeds deposit of %d", collateral, deposited)
	}
	return collateral, nil
}

func checkSlots(op *lending.Operation, market *lending.Market, position *lending.Position) error {
	switch op.Kind {
	case lending.OperationDeposit:
		if _, ok := position.Deposit(market.Address); !ok && len(position.Deposits) >= MaxObligationDeposits {
			return lending.Reject(lending.ProtocolKamino, lending.ReasonPositionFull, "obligation has %d deposits", len(position.Deposits))
		}
	case lending.OperationBorrow:
		if _, ok := position.Borrow(market.Address); !ok && len(position.Borrows) >= MaxObligationBorrows {
			return lending.Reject(lending.ProtocolKamino, lending.ReasonPositionFull, "obligation has %d borrows", len(position.Borrows))
		}
	}
	return nil
}

func reserveOf(market *lending.Market) (*Reserve, error) {
	if market == nil {
		return nil, lending.NewParameterError("market", "", "market snapshot is required")
	}
	reserve, ok := market.Native.(*Reserve)
	if !ok || market.Protocol != lending.ProtocolKamino {
		return nil, lending.Reject(lending.ProtocolKamino, lending.ReasonMarketMismatch, "market %s is not a kamino reserve", market.AddressString())
	}
	return reserve, nil
}

func snapshotReserve(leg lending.PositionLeg) (*Reserve, error) {
	if leg.Snapshot == nil {
		return nil, &lending.NotCachedError{Protocol: lending.ProtocolKamino, Key: base58.Encode(leg.Market)}
	}
	reserve, ok := leg.Snapshot.Native.(*Reserve)
	if !ok || !bytes.Equal(leg.Snapshot.Address, leg.Market) {
		return nil, lending.Reject(lending.ProtocolKamino, lending.ReasonMarketMismatch, "snapshot for %s is not a kamino reserve", base58.Encode(leg.Market))
	}
	return reserve, nil
}

func withAddress(err error, address ed25519.PublicKey) error {
	var malformed *lending.MalformedAccountError
	if errors.As(err, &malformed) {
		return malformed.WithAddress(address)
	}
	return err
}
