package marginfi

import (
	"bytes"
	"crypto/ed25519"

	"github.com/mr-tron/base58/base58"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/lending/codec"
	"github.com/lendsdk/lendsdk/pkg/pointer"
)

// Adapter implements lending.Adapter for marginfi v2.
type Adapter struct {
	log     *logrus.Entry
	program ed25519.PublicKey
	codecs  *codec.Registry
}

type Option func(*Adapter)

// WithProgram overrides the marginfi program id.
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
		log:     logrus.StandardLogger().WithField("type", "lending/marginfi"),
		program: ProgramKey,
		codecs:  codec.Default,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Protocol() lending.Protocol {
	return lending.ProtocolMarginfi
}

func (a *Adapter) ProgramID() ed25519.PublicKey {
	return a.program
}

func (a *Adapter) Identify(data []byte) (lending.AccountKind, error) {
	schema, err := a.codecs.Identify(lending.ProtocolMarginfi, data)
	if err != nil {
		return lending.KindUnknown, err
	}
	return schema.Kind, nil
}

func (a *Adapter) DecodeMarket(address ed25519.PublicKey, data []byte) (*lending.Market, error) {
	record, err := a.codecs.DecodeAccount(lending.ProtocolMarginfi, AccountBank, data)
	if err != nil {
		return nil, withAddress(err, address)
	}
	return record.(*Bank).ToMarket(address), nil
}

func (a *Adapter) DecodePosition(address ed25519.PublicKey, data []byte) (*lending.Position, error) {
	record, err := a.codecs.DecodeAccount(lending.ProtocolMarginfi, AccountMarginfiAccount, data)
	if err != nil {
		return nil, withAddress(err, address)
	}
	return record.(*MarginfiAccount).ToPosition(address), nil
}

// PositionAddress returns ref.Address. Marginfi accounts are keypair
// accounts, so there is nothing to derive.
func (a *Adapter) PositionAddress(ref lending.PositionRef) (ed25519.PublicKey, error) {
	if len(ref.Address) != ed25519.PublicKeySize {
		return nil, lending.NewParameterError("position.address", base58.Encode(ref.Address), "marginfi accounts are not derivable, an address is required")
	}
	return ref.Address, nil
}

func (a *Adapter) RequiredAccounts(op *lending.Operation) ([]lending.AddressRole, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}

	account, err := a.PositionAddress(op.Position)
	if err != nil {
		return nil, err
	}

	res := []lending.AddressRole{
		lending.WritableSigner(op.Signer()),
		lending.Readonly(op.Position.MarketSet),
		lending.Writable(account),
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
		if len(op.Market) > 0 {
			res = append(res, lending.Writable(op.Market))
		}
	default:
		res = append(res, lending.Writable(op.Market))
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
	if op.Protocol != lending.ProtocolMarginfi {
		return nil, lending.NewParameterError("protocol", op.Protocol.String(), "not a marginfi operation")
	}
	if err := op.Validate(); err != nil {
		return nil, err
	}
	if position == nil {
		return nil, lending.NewParameterError("position", "", "position snapshot is required")
	}

	bank, err := bankOf(market)
	if err != nil {
		return nil, err
	}

	if op.Kind == lending.OperationRefreshState {
		specs := a.prepareRefresh(market, bank, position)
		a.logPrepared(op, market, specs)
		return specs, nil
	}

	valued, banks, err := valuePosition(position)
	if err != nil {
		return nil, err
	}
	if err := lending.Validate(op, market, valued); err != nil {
		return nil, err
	}

	var specs []*lending.InstructionSpec
	switch op.Kind {
	case lending.OperationLiquidate:
		specs, err = a.prepareLiquidate(op, market, bank, valued, banks)
	default:
		specs, err = a.prepareAction(op, market, bank, valued, banks)
	}
	if err != nil {
		return nil, err
	}

	a.logPrepared(op, market, specs)
	return specs, nil
}

func (a *Adapter) logPrepared(op *lending.Operation, market *lending.Market, specs []*lending.InstructionSpec) {
	a.log.WithFields(logrus.Fields{
		"method":       "Prepare",
		"operation":    op.Kind.String(),
		"bank":         market.AddressString(),
		"instructions": len(specs),
	}).Debug("prepared marginfi instructions")
}

func (a *Adapter) prepareAction(op *lending.Operation, market *lending.Market, bank *Bank, position *lending.Position, banks map[string]*Bank) ([]*lending.InstructionSpec, error) {
	signer := op.Signer()

	account, err := a.accountOf(op.Position, position)
	if err != nil {
		return nil, err
	}
	if err := checkAccount(op, market, bank, position, banks); err != nil {
		return nil, err
	}

	var specs []*lending.InstructionSpec
	if !position.Exists {
		specs = append(specs, NewInitializeAccountInstruction(a.program, &InitializeAccountAccounts{
			Group:           bank.Group,
			MarginfiAccount: account,
			Authority:       signer,
			FeePayer:        op.FeePayer(),
		}))
	}

	switch op.Kind {
	case lending.OperationDeposit, lending.OperationRepay:
		source, err := lending.TokenAccount(op.TokenAccount, signer, bank.Mint, nil)
		if err != nil {
			return nil, err
		}

		if op.Kind == lending.OperationDeposit {
			deposit, err := NewDepositInstruction(a.program, &DepositAccounts{
				Group:              bank.Group,
				MarginfiAccount:    account,
				Authority:          signer,
				Bank:               market.Address,
				SignerTokenAccount: source,
				LiquidityVault:     bank.LiquidityVault,
			}, &AmountArgs{Amount: op.Amount})
			if err != nil {
				return nil, err
			}
			specs = append(specs, deposit)
		} else {
			all := pointer.IfValid(op.All, true)
			repay, err := NewRepayInstruction(a.program, &RepayAccounts{
				Group:              bank.Group,
				MarginfiAccount:    account,
				Authority:          signer,
				Bank:               market.Address,
				SignerTokenAccount: source,
				LiquidityVault:     bank.LiquidityVault,
			}, &AmountArgs{Amount: op.Amount, All: all})
			if err != nil {
				return nil, err
			}
			specs = append(specs, repay)
		}

	case lending.OperationWithdraw, lending.OperationBorrow:
		setup, destination, err := lending.ReceivingTokenAccount(op, signer, bank.Mint, nil)
		if err != nil {
			return nil, err
		}
		specs = append(specs, setup...)

		vaultAuthority, err := LiquidityVaultAuthority(a.program, market.Address)
		if err != nil {
			return nil, errors.Wrap(err, "failed to derive liquidity vault authority")
		}

		closing := op.Kind == lending.OperationWithdraw && op.All
		observations, err := accountObservations(position, banks, market.Address, bank, closing)
		if err != nil {
			return nil, err
		}

		if op.Kind == lending.OperationWithdraw {
			all := pointer.IfValid(op.All, true)
			withdraw, err := NewWithdrawInstruction(a.program, &WithdrawAccounts{
				Group:                   bank.Group,
				MarginfiAccount:         account,
				Authority:               signer,
				Bank:                    market.Address,
				DestinationTokenAccount: destination,
				LiquidityVaultAuthority: vaultAuthority,
				LiquidityVault:          bank.LiquidityVault,
				Observations:            observations,
			}, &AmountArgs{Amount: op.Amount, All: all})
			if err != nil {
				return nil, err
			}
			specs = append(specs, withdraw)
		} else {
			borrow, err := NewBorrowInstruction(a.program, &BorrowAccounts{
				Group:                   bank.Group,
				MarginfiAccount:         account,
				Authority:               signer,
				Bank:                    market.Address,
				DestinationTokenAccount: destination,
				LiquidityVaultAuthority: vaultAuthority,
				LiquidityVault:          bank.LiquidityVault,
				Observations:            observations,
			}, &AmountArgs{Amount: op.Amount})
			if err != nil {
				return nil, err
			}
			specs = append(specs, borrow)
		}

	default:
		return nil, lending.Reject(lending.ProtocolMarginfi, lending.ReasonUnsupportedOperation, "%s", op.Kind)
	}

	return specs, nil
}

// prepareRefresh accrues interest on every bank of the account plus the
// target bank.
func (a *Adapter) prepareRefresh(market *lending.Market, bank *Bank, position *lending.Position) []*lending.InstructionSpec {
	var specs []*lending.InstructionSpec
	seen := make(map[string]struct{})

	add := func(address ed25519.PublicKey) {
		if _, ok := seen[string(address)]; ok {
			return
		}
		seen[string(address)] = struct{}{}
		specs = append(specs, NewAccrueInterestInstruction(a.program, &AccrueInterestAccounts{
			Group: bank.Group,
			Bank:  address,
		}))
	}

	for _, address := range position.Markets() {
		add(address)
	}
	add(market.Address)
	return specs
}

// prepareLiquidate seizes collateral from the violator's asset bank. The
// operation amount is the asset amount, the liability taken over follows
// from the oracle prices on chain.
func (a *Adapter) prepareLiquidate(op *lending.Operation, market *lending.Market, liabilityBank *Bank, violator *lending.Position, banks map[string]*Bank) ([]*lending.InstructionSpec, error) {
	if !violator.Exists || len(violator.Address) == 0 {
		return nil, lending.Reject(lending.ProtocolMarginfi, lending.ReasonNoBorrow, "marginfi account does not exist")
	}
	if _, ok := violator.Borrow(market.Address); !ok {
		return nil, lending.Reject(lending.ProtocolMarginfi, lending.ReasonNoBorrow, "account has no liability in %s", market.AddressString())
	}
	leg, ok := violator.Deposit(op.Liquidation.CollateralMarket)
	if !ok {
		return nil, lending.Reject(lending.ProtocolMarginfi, lending.ReasonNoDeposit, "account has no asset in %s", base58.Encode(op.Liquidation.CollateralMarket))
	}
	if priced(violator) {
		if err := lending.CheckLiquidatable(op, violator); err != nil {
			return nil, err
		}
	}
	assetBank := banks[string(leg.Market)]

	liquidator, err := a.PositionAddress(op.Position)
	if err != nil {
		return nil, err
	}
	vaultAuthority, err := LiquidityVaultAuthority(a.program, market.Address)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive liquidity vault authority")
	}

	liquidateeObservations, err := accountObservations(violator, banks, nil, nil, false)
	if err != nil {
		return nil, err
	}
	liquidatorObservations := []Observation{
		{Bank: leg.Market, Oracle: assetBank.Oracle()},
		{Bank: market.Address, Oracle: liabilityBank.Oracle()},
	}

	liquidate, err := NewLiquidateInstruction(a.program, &LiquidateAccounts{
		Group:                     liabilityBank.Group,
		AssetBank:                 leg.Market,
		LiabilityBank:             market.Address,
		LiquidatorMarginfiAccount: liquidator,
		Authority:                 op.Signer(),
		LiquidateeMarginfiAccount: violator.Address,
		LiquidityVaultAuthority:   vaultAuthority,
		LiquidityVault:            liabilityBank.LiquidityVault,
		InsuranceVault:            liabilityBank.InsuranceVault,
		AssetOracle:               assetBank.Oracle(),
		LiabilityOracle:           liabilityBank.Oracle(),
		LiquidatorObservations:    liquidatorObservations,
		LiquidateeObservations:    liquidateeObservations,
	}, &AmountArgs{Amount: op.Amount})
	if err != nil {
		return nil, err
	}
	return []*lending.InstructionSpec{liquidate}, nil
}

func (a *Adapter) accountOf(ref lending.PositionRef, position *lending.Position) (ed25519.PublicKey, error) {
	if len(position.Address) > 0 {
		return position.Address, nil
	}
	return a.PositionAddress(ref)
}

func checkAccount(op *lending.Operation, market *lending.Market, bank *Bank, position *lending.Position, banks map[string]*Bank) error {
	if account, ok := position.Native.(*MarginfiAccount); ok && account.IsDisabled() {
		return lending.Reject(lending.ProtocolMarginfi, lending.ReasonUnsupportedOperation, "marginfi account %s is disabled", base58.Encode(position.Address))
	}

	switch op.Kind {
	case lending.OperationDeposit, lending.OperationBorrow:
		if bank.IsReduceOnly() {
			return lending.Reject(lending.ProtocolMarginfi, lending.ReasonMarketInactive, "bank %s is reduce only", market.AddressString())
		}
	default:
		return nil
	}

	held := position.Markets()
	if !containsKey(held, market.Address) && len(held) >= MaxBalances {
		return lending.Reject(lending.ProtocolMarginfi, lending.ReasonPositionFull, "account has %d balances", len(held))
	}

	if op.Kind == lending.OperationBorrow {
		for _, leg := range position.Borrows {
			if bytes.Equal(leg.Market, market.Address) {
				continue
			}
			other := banks[string(leg.Market)]
			if bank.Config.RiskTier == RiskTierIsolated || (other != nil && other.Config.RiskTier == RiskTierIsolated) {
				return lending.Reject(lending.ProtocolMarginfi, lending.ReasonUnsupportedOperation, "isolated liabilities cannot be combined")
			}
		}
	}
	return nil
}

// valuePosition converts share amounts into native units using the leg
// snapshots. Values and health inputs are only filled in when every snapshot
// carries a price; otherwise the risk engine is left to decide on chain.
func valuePosition(position *lending.Position) (*lending.Position, map[string]*Bank, error) {
	valued := position.Clone()
	banks := make(map[string]*Bank)
	allPriced := true

	deposited := decimal.Zero
	allowed := decimal.Zero
	liquidation := decimal.Zero
	borrowed := decimal.Zero

	for i := range valued.Deposits {
		leg := &valued.Deposits[i]
		bank, err := snapshotBank(*leg)
		if err != nil {
			return nil, nil, err
		}
		banks[string(leg.Market)] = bank

		leg.Amount = bank.AssetAmount(leg.Amount).Floor()
		if !leg.Snapshot.HasPrice() {
			allPriced = false
			continue
		}
		leg.MarketValue = leg.Snapshot.Value(leg.Amount)
		deposited = deposited.Add(leg.MarketValue)
		allowed = allowed.Add(leg.MarketValue.Mul(leg.Snapshot.LoanToValue))
		liquidation = liquidation.Add(leg.MarketValue.Mul(leg.Snapshot.LiquidationThreshold))
	}
	for i := range valued.Borrows {
		leg := &valued.Borrows[i]
		bank, err := snapshotBank(*leg)
		if err != nil {
			return nil, nil, err
		}
		banks[string(leg.Market)] = bank

		leg.Amount = bank.LiabilityAmount(leg.Amount).Ceil()
		if !leg.Snapshot.HasPrice() {
			allPriced = false
			continue
		}
		leg.MarketValue = leg.Snapshot.Value(leg.Amount)
		borrowed = borrowed.Add(leg.MarketValue.Mul(leg.Snapshot.BorrowFactor))
	}

	if allPriced {
		valued.DepositedValue = deposited
		valued.AllowedBorrowValue = allowed
		valued.LiquidationValue = liquidation
		valued.BorrowedValue = borrowed
	}
	return valued, banks, nil
}

func priced(position *lending.Position) bool {
	for _, legs := range [][]lending.PositionLeg{position.Deposits, position.Borrows} {
		for _, leg := range legs {
			if leg.Snapshot == nil || !leg.Snapshot.HasPrice() {
				return false
			}
		}
	}
	return true
}

// accountObservations lists the (bank, oracle) pairs of every active balance
// in slot order, followed by the target bank when it is new. A target that is
// being closed is left out.
func accountObservations(position *lending.Position, banks map[string]*Bank, target ed25519.PublicKey, targetBank *Bank, closing bool) ([]Observation, error) {
	var order []ed25519.PublicKey
	if account, ok := position.Native.(*MarginfiAccount); ok {
		for _, balance := range account.ActiveBalances() {
			order = append(order, balance.BankPk)
		}
	} else {
		order = position.Markets()
	}

	var res []Observation
	var hasTarget bool
	for _, address := range order {
		if len(target) > 0 && bytes.Equal(address, target) {
			hasTarget = true
			if closing {
				continue
			}
			res = append(res, Observation{Bank: address, Oracle: targetBank.Oracle()})
			continue
		}

		bank, ok := banks[string(address)]
		if !ok {
			return nil, &lending.NotCachedError{Protocol: lending.ProtocolMarginfi, Key: base58.Encode(address)}
		}
		res = append(res, Observation{Bank: address, Oracle: bank.Oracle()})
	}

	if len(target) > 0 && !hasTarget && !closing {
		res = append(res, Observation{Bank: target, Oracle: targetBank.Oracle()})
	}
	return res, nil
}

func bankOf(market *lending.Market) (*Bank, error) {
	if market == nil {
		return nil, lending.NewParameterError("market", "", "market snapshot is required")
	}
	bank, ok := market.Native.(*Bank)
	if !ok || market.Protocol != lending.ProtocolMarginfi {
		return nil, lending.Reject(lending.ProtocolMarginfi, lending.ReasonMarketMismatch, "market %s is not a marginfi bank", market.AddressString())
	}
	return bank, nil
}

func snapshotBank(leg lending.PositionLeg) (*Bank, error) {
	if leg.Snapshot == nil {
		return nil, &lending.NotCachedError{Protocol: lending.ProtocolMarginfi, Key: base58.Encode(leg.Market)}
	}
	bank, ok := leg.Snapshot.Native.(*Bank)
	if !ok || !bytes.Equal(leg.Snapshot.Address, leg.Market) {
		return nil, lending.Reject(lending.ProtocolMarginfi, lending.ReasonMarketMismatch, "snapshot for %s is not a marginfi bank", base58.Encode(leg.Market))
	}
	return bank, nil
}

func containsKey(keys []ed25519.PublicKey, key ed25519.PublicKey) bool {
	for _, k := range keys {
		if bytes.Equal(k, key) {
			return true
		}
	}
	return false
}

func withAddress(err error, address ed25519.PublicKey) error {
	var malformed *lending.MalformedAccountError
	if errors.As(err, &malformed) {
		return malformed.WithAddress(address)
	}
	return err
}
