package drift

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"math"

	"github.com/mr-tron/base58/base58"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/lending/codec"
)

// Adapter implements lending.Adapter for Drift v2 spot markets.
type Adapter struct {
	log     *logrus.Entry
	program ed25519.PublicKey
	codecs  *codec.Registry
}

type Option func(*Adapter)

// WithProgram overrides the Drift program id.
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
		log:     logrus.StandardLogger().WithField("type", "lending/drift"),
		program: ProgramKey,
		codecs:  codec.Default,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Protocol() lending.Protocol {
	return lending.ProtocolDrift
}

func (a *Adapter) ProgramID() ed25519.PublicKey {
	return a.program
}

// State is the Drift state account, the market set of every Drift position.
func (a *Adapter) State() (ed25519.PublicKey, error) {
	state, err := StateAddress(a.program)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive drift state")
	}
	return state, nil
}

func (a *Adapter) Identify(data []byte) (lending.AccountKind, error) {
	schema, err := a.codecs.Identify(lending.ProtocolDrift, data)
	if err != nil {
		return lending.KindUnknown, err
	}
	return schema.Kind, nil
}

func (a *Adapter) DecodeMarket(address ed25519.PublicKey, data []byte) (*lending.Market, error) {
	record, err := a.codecs.DecodeAccount(lending.ProtocolDrift, AccountSpotMarket, data)
	if err != nil {
		return nil, withAddress(err, address)
	}
	state, err := a.State()
	if err != nil {
		return nil, err
	}
	return record.(*SpotMarket).ToMarket(address, state), nil
}

func (a *Adapter) DecodePosition(address ed25519.PublicKey, data []byte) (*lending.Position, error) {
	record, err := a.codecs.DecodeAccount(lending.ProtocolDrift, AccountUser, data)
	if err != nil {
		return nil, withAddress(err, address)
	}
	state, err := a.State()
	if err != nil {
		return nil, err
	}
	return record.(*User).ToPosition(a.program, address, state)
}

// PositionAddress returns ref.Address when set, otherwise the owner's first
// sub account.
func (a *Adapter) PositionAddress(ref lending.PositionRef) (ed25519.PublicKey, error) {
	if len(ref.Address) > 0 {
		return ref.Address, nil
	}
	return a.UserAddress(ref.Owner, 0)
}

func (a *Adapter) RequiredAccounts(op *lending.Operation) ([]lending.AddressRole, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}

	user, err := a.PositionAddress(op.Position)
	if err != nil {
		return nil, err
	}
	stats, err := UserStatsAddress(a.program, op.Position.Owner)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive user stats")
	}

	res := []lending.AddressRole{
		lending.WritableSigner(op.Signer()),
		lending.Readonly(op.Position.MarketSet),
		lending.Writable(user),
		lending.Writable(stats),
	}

	switch op.Kind {
	case lending.OperationLiquidate:
		violator, err := a.PositionAddress(op.Liquidation.Violator)
		if err != nil {
			return nil, err
		}
		violatorStats, err := UserStatsAddress(a.program, op.Liquidation.Violator.Owner)
		if err != nil {
			return nil, errors.Wrap(err, "failed to derive user stats")
		}
		res = append(res,
			lending.Writable(violator),
			lending.Writable(violatorStats),
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
	if op.Protocol != lending.ProtocolDrift {
		return nil, lending.NewParameterError("protocol", op.Protocol.String(), "not a drift operation")
	}
	if err := op.Validate(); err != nil {
		return nil, err
	}
	if position == nil {
		return nil, lending.NewParameterError("position", "", "position snapshot is required")
	}

	spotMarket, err := spotMarketOf(market)
	if err != nil {
		return nil, err
	}
	state, err := a.State()
	if err != nil {
		return nil, err
	}

	if op.Kind == lending.OperationRefreshState {
		specs, err := a.prepareRefresh(state, market, spotMarket, position)
		if err != nil {
			return nil, err
		}
		a.logPrepared(op, market, specs)
		return specs, nil
	}

	valued, err := valuePosition(position)
	if err != nil {
		return nil, err
	}
	if err := lending.Validate(op, market, valued); err != nil {
		return nil, err
	}
	if err := checkOperation(op, market, spotMarket); err != nil {
		return nil, err
	}

	var specs []*lending.InstructionSpec
	switch op.Kind {
	case lending.OperationLiquidate:
		specs, err = a.prepareLiquidate(op, state, market, spotMarket, valued)
	default:
		specs, err = a.prepareAction(op, state, market, spotMarket, valued)
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
		"spot_market":  market.AddressString(),
		"instructions": len(specs),
	}).Debug("prepared drift instructions")
}

func (a *Adapter) prepareAction(op *lending.Operation, state ed25519.PublicKey, market *lending.Market, spotMarket *SpotMarket, position *lending.Position) ([]*lending.InstructionSpec, error) {
	owner := op.Position.Owner
	signer := op.Signer()

	user, err := a.userOf(op.Position, position)
	if err != nil {
		return nil, err
	}
	stats, err := UserStatsAddress(a.program, owner)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive user stats")
	}
	if err := checkUser(op, market, position); err != nil {
		return nil, err
	}

	var specs []*lending.InstructionSpec
	if !position.Exists {
		setup, err := a.setupInstructions(op, state, user, stats)
		if err != nil {
			return nil, err
		}
		specs = append(specs, setup...)
	}

	tokenProgram := spotMarket.TokenProgramKey()
	var mint ed25519.PublicKey
	if spotMarket.TokenProgram == TokenProgram2022 {
		mint = spotMarket.Mint
	}

	var userToken ed25519.PublicKey
	switch op.Kind {
	case lending.OperationWithdraw, lending.OperationBorrow:
		setup, addr, err := lending.ReceivingTokenAccount(op, signer, spotMarket.Mint, tokenProgram)
		if err != nil {
			return nil, err
		}
		specs = append(specs, setup...)
		userToken = addr
	default:
		userToken, err = lending.TokenAccount(op.TokenAccount, signer, spotMarket.Mint, tokenProgram)
		if err != nil {
			return nil, err
		}
	}

	specs = append(specs, a.updateInterest(state, market.Address, spotMarket))

	args := &BalanceArgs{MarketIndex: spotMarket.MarketIndex, Amount: op.Amount}
	switch op.Kind {
	case lending.OperationDeposit, lending.OperationRepay:
		args.ReduceOnly = op.Kind == lending.OperationRepay
		if op.All {
			args.Amount = math.MaxUint64
		}
		deposit, err := NewDepositInstruction(a.program, &DepositAccounts{
			State:            state,
			User:             user,
			UserStats:        stats,
			Authority:        signer,
			SpotMarketVault:  spotMarket.Vault,
			UserTokenAccount: userToken,
			TokenProgram:     tokenProgram,
			Markets:          []MarketAccount{{Market: market.Address, Oracle: spotMarket.Oracle, Writable: true}},
			Mint:             mint,
		}, args)
		if err != nil {
			return nil, err
		}
		specs = append(specs, deposit)

	case lending.OperationWithdraw, lending.OperationBorrow:
		args.ReduceOnly = op.Kind == lending.OperationWithdraw
		if op.Kind == lending.OperationWithdraw {
			if err := checkWithdrawal(op, market, position); err != nil {
				return nil, err
			}
			if op.All {
				args.Amount = math.MaxUint64
			}
		}

		signerPDA, err := SignerAddress(a.program)
		if err != nil {
			return nil, errors.Wrap(err, "failed to derive drift signer")
		}
		markets, err := positionMarkets(position, market.Address, spotMarket)
		if err != nil {
			return nil, err
		}
		withdraw, err := NewWithdrawInstruction(a.program, &WithdrawAccounts{
			State:            state,
			User:             user,
			UserStats:        stats,
			Authority:        signer,
			SpotMarketVault:  spotMarket.Vault,
			DriftSigner:      signerPDA,
			UserTokenAccount: userToken,
			TokenProgram:     tokenProgram,
			Markets:          markets,
			Mint:             mint,
		}, args)
		if err != nil {
			return nil, err
		}
		specs = append(specs, withdraw)

	default:
		return nil, lending.Reject(lending.ProtocolDrift, lending.ReasonUnsupportedOperation, "%s", op.Kind)
	}

	return specs, nil
}

// setupInstructions creates the user account. The first sub account of an
// authority also needs the stats account, which Drift creates once per
// authority.
func (a *Adapter) setupInstructions(op *lending.Operation, state, user, stats ed25519.PublicKey) ([]*lending.InstructionSpec, error) {
	subAccount, err := a.subAccountOf(op.Position.Owner, user)
	if err != nil {
		return nil, err
	}

	var specs []*lending.InstructionSpec
	if subAccount == 0 {
		specs = append(specs, NewInitializeUserStatsInstruction(a.program, &InitializeUserStatsAccounts{
			UserStats: stats,
			State:     state,
			Authority: op.Position.Owner,
			Payer:     op.FeePayer(),
		}))
	}

	name := DefaultUserName()
	if subAccount > 0 {
		name = subAccountName(subAccount)
	}
	initUser, err := NewInitializeUserInstruction(a.program, &InitializeUserAccounts{
		User:      user,
		UserStats: stats,
		State:     state,
		Authority: op.Position.Owner,
		Payer:     op.FeePayer(),
	}, &InitializeUserArgs{SubAccountID: subAccount, Name: name})
	if err != nil {
		return nil, err
	}
	specs = append(specs, initUser)
	return specs, nil
}

// prepareRefresh updates the cumulative interest of every market the user
// holds plus the target market.
func (a *Adapter) prepareRefresh(state ed25519.PublicKey, market *lending.Market, spotMarket *SpotMarket, position *lending.Position) ([]*lending.InstructionSpec, error) {
	var specs []*lending.InstructionSpec
	seen := make(map[string]struct{})

	add := func(address ed25519.PublicKey, m *SpotMarket) {
		if _, ok := seen[string(address)]; ok {
			return
		}
		seen[string(address)] = struct{}{}
		specs = append(specs, a.updateInterest(state, address, m))
	}

	for _, legs := range [][]lending.PositionLeg{position.Deposits, position.Borrows} {
		for _, leg := range legs {
			legMarket, err := snapshotSpotMarket(leg)
			if err != nil {
				return nil, err
			}
			add(leg.Market, legMarket)
		}
	}
	add(market.Address, spotMarket)
	return specs, nil
}

// prepareLiquidate takes over up to op.Amount of the violator's liability in
// the operation market, paid for with collateral from the collateral market.
// Both sides settle inside the liquidator's own Drift account.
func (a *Adapter) prepareLiquidate(op *lending.Operation, state ed25519.PublicKey, market *lending.Market, liabilityMarket *SpotMarket, violator *lending.Position) ([]*lending.InstructionSpec, error) {
	if op.Liquidation.MinReceived > 0 {
		return nil, lending.NewParameterError("liquidation.min_received", fmt.Sprint(op.Liquidation.MinReceived), "drift liquidations are bounded by the liability transfer")
	}
	if op.All {
		return nil, lending.NewParameterError("all", "true", "drift liquidations take an explicit amount")
	}
	if !violator.Exists || len(violator.Address) == 0 {
		return nil, lending.Reject(lending.ProtocolDrift, lending.ReasonNoBorrow, "user does not exist")
	}
	if _, ok := violator.Borrow(market.Address); !ok {
		return nil, lending.Reject(lending.ProtocolDrift, lending.ReasonNoBorrow, "user has no borrow in %s", market.AddressString())
	}
	leg, ok := violator.Deposit(op.Liquidation.CollateralMarket)
	if !ok {
		return nil, lending.Reject(lending.ProtocolDrift, lending.ReasonNoDeposit, "user has no deposit in %s", base58.Encode(op.Liquidation.CollateralMarket))
	}
	if priced(violator) {
		if err := lending.CheckLiquidatable(op, violator); err != nil {
			return nil, err
		}
	}
	assetMarket, err := snapshotSpotMarket(leg)
	if err != nil {
		return nil, err
	}
	if assetMarket.IsPaused(PausedLiquidation) {
		return nil, lending.Reject(lending.ProtocolDrift, lending.ReasonMarketInactive, "liquidations are paused in %s", base58.Encode(leg.Market))
	}

	liquidator, err := a.PositionAddress(op.Position)
	if err != nil {
		return nil, err
	}
	liquidatorStats, err := UserStatsAddress(a.program, op.Position.Owner)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive user stats")
	}
	violatorStats, err := UserStatsAddress(a.program, violator.Owner)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive user stats")
	}

	markets, err := positionMarkets(violator, nil, nil)
	if err != nil {
		return nil, err
	}
	markets = append(markets,
		MarketAccount{Market: leg.Market, Oracle: assetMarket.Oracle, Writable: true},
		MarketAccount{Market: market.Address, Oracle: liabilityMarket.Oracle, Writable: true},
	)

	args := &LiquidateSpotArgs{
		AssetMarketIndex:     assetMarket.MarketIndex,
		LiabilityMarketIndex: liabilityMarket.MarketIndex,
	}
	args.MaxLiabilityTransfer.SetUint64(op.Amount)

	liquidate, err := NewLiquidateSpotInstruction(a.program, &LiquidateSpotAccounts{
		State:           state,
		Authority:       op.Signer(),
		Liquidator:      liquidator,
		LiquidatorStats: liquidatorStats,
		User:            violator.Address,
		UserStats:       violatorStats,
		Markets:         markets,
	}, args)
	if err != nil {
		return nil, err
	}

	return []*lending.InstructionSpec{
		a.updateInterest(state, leg.Market, assetMarket),
		a.updateInterest(state, market.Address, liabilityMarket),
		liquidate,
	}, nil
}

func (a *Adapter) updateInterest(state, address ed25519.PublicKey, m *SpotMarket) *lending.InstructionSpec {
	return NewUpdateInterestInstruction(a.program, &UpdateInterestAccounts{
		State:           state,
		SpotMarket:      address,
		Oracle:          m.Oracle,
		SpotMarketVault: m.Vault,
	})
}

func (a *Adapter) userOf(ref lending.PositionRef, position *lending.Position) (ed25519.PublicKey, error) {
	if len(position.Address) > 0 {
		return position.Address, nil
	}
	return a.PositionAddress(ref)
}

// subAccountOf finds the sub account id behind a user address.
func (a *Adapter) subAccountOf(authority, user ed25519.PublicKey) (uint16, error) {
	for id := uint16(0); id < maxSubAccountSearch; id++ {
		candidate, err := UserAddress(a.program, authority, id)
		if err != nil {
			return 0, errors.Wrap(err, "failed to derive user")
		}
		if bytes.Equal(candidate, user) {
			return id, nil
		}
	}
	return 0, lending.NewParameterError("position.address", base58.Encode(user), "not a drift user of the owner")
}

func subAccountName(id uint16) [32]byte {
	var name [32]byte
	for i := range name {
		name[i] = ' '
	}
	copy(name[:], fmt.Sprintf("Subaccount %d", id+1))
	return name
}

// checkOperation applies the market's paused operation flags.
func checkOperation(op *lending.Operation, market *lending.Market, spotMarket *SpotMarket) error {
	switch op.Kind {
	case lending.OperationDeposit, lending.OperationRepay:
		if spotMarket.IsPaused(PausedDeposit) {
			return lending.Reject(lending.ProtocolDrift, lending.ReasonMarketInactive, "deposits are paused in %s", market.AddressString())
		}
	case lending.OperationWithdraw, lending.OperationBorrow:
		if spotMarket.IsPaused(PausedWithdraw) || spotMarket.Status == MarketStatusWithdrawPaused {
			return lending.Reject(lending.ProtocolDrift, lending.ReasonMarketInactive, "withdrawals are paused in %s", market.AddressString())
		}
	case lending.OperationLiquidate:
		if spotMarket.IsPaused(PausedLiquidation) {
			return lending.Reject(lending.ProtocolDrift, lending.ReasonMarketInactive, "liquidations are paused in %s", market.AddressString())
		}
	}
	return nil
}

// checkUser enforces the user's status and the spot slot capacity.
func checkUser(op *lending.Operation, market *lending.Market, position *lending.Position) error {
	if user, ok := position.Native.(*User); ok {
		if user.IsBeingLiquidated() && op.Kind != lending.OperationDeposit && op.Kind != lending.OperationRepay {
			return lending.Reject(lending.ProtocolDrift, lending.ReasonUnsupportedOperation, "user %s is being liquidated", base58.Encode(position.Address))
		}
		if user.IsReduceOnly() && (op.Kind == lending.OperationBorrow || op.Kind == lending.OperationDeposit) {
			return lending.Reject(lending.ProtocolDrift, lending.ReasonUnsupportedOperation, "user %s is reduce only", base58.Encode(position.Address))
		}
	}

	if op.Kind != lending.OperationDeposit && op.Kind != lending.OperationBorrow {
		return nil
	}
	held := position.Markets()
	for _, address := range held {
		if bytes.Equal(address, market.Address) {
			return nil
		}
	}
	if len(held) >= MaxSpotPositions {
		return lending.Reject(lending.ProtocolDrift, lending.ReasonPositionFull, "user holds %d spot positions", len(held))
	}
	return nil
}

// checkWithdrawal rejects a partial withdrawal larger than the deposit. A
// reduce only withdraw would silently cap it.
func checkWithdrawal(op *lending.Operation, market *lending.Market, position *lending.Position) error {
	if op.All {
		return nil
	}
	leg, _ := position.Deposit(market.Address)
	if decimal.NewFromUint64(op.Amount).GreaterThan(leg.Amount) {
		return lending.Reject(lending.ProtocolDrift, lending.ReasonNoDeposit, "withdrawal of %d exceeds deposit of %s", op.Amount, leg.Amount.String())
	}
	return nil
}

// valuePosition converts scaled balances into token amounts using the leg
// snapshots. Values are only filled in when every snapshot carries a price.
func valuePosition(position *lending.Position) (*lending.Position, error) {
	valued := position.Clone()
	allPriced := true

	deposited := decimal.Zero
	allowed := decimal.Zero
	liquidation := decimal.Zero
	borrowed := decimal.Zero

	for i := range valued.Deposits {
		leg := &valued.Deposits[i]
		m, err := snapshotSpotMarket(*leg)
		if err != nil {
			return nil, err
		}

		leg.Amount = m.TokenAmount(leg.Amount, BalanceDeposit)
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
		m, err := snapshotSpotMarket(*leg)
		if err != nil {
			return nil, err
		}

		leg.Amount = m.TokenAmount(leg.Amount, BalanceBorrow)
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
	return valued, nil
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

// positionMarkets lists the markets the program needs to value the user,
// with the target market writable.
func positionMarkets(position *lending.Position, target ed25519.PublicKey, targetMarket *SpotMarket) ([]MarketAccount, error) {
	var res []MarketAccount
	for _, address := range position.Markets() {
		if len(target) > 0 && bytes.Equal(address, target) {
			continue
		}
		leg, ok := position.Deposit(address)
		if !ok {
			leg, _ = position.Borrow(address)
		}
		m, err := snapshotSpotMarket(leg)
		if err != nil {
			return nil, err
		}
		res = append(res, MarketAccount{Market: address, Oracle: m.Oracle})
	}
	if len(target) > 0 {
		res = append(res, MarketAccount{Market: target, Oracle: targetMarket.Oracle, Writable: true})
	}
	return res, nil
}

func spotMarketOf(market *lending.Market) (*SpotMarket, error) {
	if market == nil {
		return nil, lending.NewParameterError("market", "", "market snapshot is required")
	}
	m, ok := market.Native.(*SpotMarket)
	if !ok || market.Protocol != lending.ProtocolDrift {
		return nil, lending.Reject(lending.ProtocolDrift, lending.ReasonMarketMismatch, "market %s is not a drift spot market", market.AddressString())
	}
	return m, nil
}

func snapshotSpotMarket(leg lending.PositionLeg) (*SpotMarket, error) {
	if leg.Snapshot == nil {
		return nil, &lending.NotCachedError{Protocol: lending.ProtocolDrift, Key: base58.Encode(leg.Market)}
	}
	m, ok := leg.Snapshot.Native.(*SpotMarket)
	if !ok || !bytes.Equal(leg.Snapshot.Address, leg.Market) {
		return nil, lending.Reject(lending.ProtocolDrift, lending.ReasonMarketMismatch, "snapshot for %s is not a drift spot market", base58.Encode(leg.Market))
	}
	return m, nil
}

func withAddress(err error, address ed25519.PublicKey) error {
	var malformed *lending.MalformedAccountError
	if errors.As(err, &malformed) {
		return malformed.WithAddress(address)
	}
	return err
}
