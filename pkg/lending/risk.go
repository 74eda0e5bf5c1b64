package lending

import (
	"bytes"
	"crypto/ed25519"

	"github.com/mr-tron/base58/base58"
	"github.com/shopspring/decimal"
)

// MinHealth is the health factor below which a position may not take on more
// risk.
var MinHealth = decimal.NewFromInt(1)

// Projection is the estimated position state after an operation.
type Projection struct {
	AllowedBorrowValue decimal.Decimal
	BorrowedValue      decimal.Decimal
}

func (p Projection) HealthFactor() decimal.Decimal {
	return HealthFactor(p.AllowedBorrowValue, p.BorrowedValue)
}

// Project estimates the allowed borrow value and the weighted debt of the
// position after applying the operation to the given market. Operations on a
// market without a price leave the values unchanged, except a withdrawal of
// the last deposit which leaves nothing to borrow against.
func Project(op *Operation, market *Market, position *Position) Projection {
	res := Projection{
		AllowedBorrowValue: position.AllowedBorrowValue,
		BorrowedValue:      position.BorrowedValue,
	}
	if op.Kind == OperationWithdraw && op.All {
		return projectWithdrawAll(res, market, position)
	}
	if !market.HasPrice() {
		return res
	}

	value := market.Value(decimal.NewFromUint64(op.Amount))
	borrowFactor := market.BorrowFactor
	if !borrowFactor.IsPositive() {
		borrowFactor = decimal.NewFromInt(1)
	}

	switch op.Kind {
	case OperationBorrow:
		res.BorrowedValue = res.BorrowedValue.Add(value.Mul(borrowFactor))
	case OperationRepay:
		res.BorrowedValue = decimal.Max(decimal.Zero, res.BorrowedValue.Sub(value.Mul(borrowFactor)))
	case OperationDeposit:
		res.AllowedBorrowValue = res.AllowedBorrowValue.Add(value.Mul(market.LoanToValue))
	case OperationWithdraw:
		res.AllowedBorrowValue = decimal.Max(decimal.Zero, res.AllowedBorrowValue.Sub(value.Mul(market.LoanToValue)))
	}
	return res
}

// projectWithdrawAll removes the whole deposit leg of the market. The leg's
// recorded market value is used when present, otherwise its amount is priced
// with the market.
func projectWithdrawAll(res Projection, market *Market, position *Position) Projection {
	if !hasOtherDeposits(position, market.Address) {
		res.AllowedBorrowValue = decimal.Zero
		return res
	}

	leg, ok := position.Deposit(market.Address)
	if !ok {
		return res
	}
	value := leg.MarketValue
	if !value.IsPositive() && market.HasPrice() {
		value = market.Value(leg.Amount)
	}
	res.AllowedBorrowValue = decimal.Max(decimal.Zero, res.AllowedBorrowValue.Sub(value.Mul(market.LoanToValue)))
	return res
}

// CheckHealth rejects an operation that would leave or keep the position
// below MinHealth.
func CheckHealth(op *Operation, market *Market, position *Position) error {
	if op.Kind != OperationBorrow && op.Kind != OperationWithdraw {
		return nil
	}

	if op.Kind == OperationBorrow && (!position.Exists || len(position.Deposits) == 0) {
		return Reject(op.Protocol, ReasonInsufficientCollateral, "position has no collateral")
	}

	if position.HasDebt() || position.BorrowedValue.IsPositive() {
		current := position.HealthFactor()
		if current.LessThan(MinHealth) {
			return Reject(op.Protocol, ReasonInsufficientCollateral, "health factor %s is below %s", current.StringFixed(4), MinHealth.String())
		}
	}

	if op.Kind == OperationWithdraw && op.All && position.HasDebt() && !hasOtherDeposits(position, market.Address) {
		return Reject(op.Protocol, ReasonInsufficientCollateral, "withdrawing all of %s leaves debt without collateral", market.AddressString())
	}

	projected := Project(op, market, position)
	if !projected.BorrowedValue.IsPositive() {
		return nil
	}
	if health := projected.HealthFactor(); health.LessThan(MinHealth) {
		return Reject(op.Protocol, ReasonInsufficientCollateral, "projected health factor %s is below %s", health.StringFixed(4), MinHealth.String())
	}
	return nil
}

func hasOtherDeposits(position *Position, market ed25519.PublicKey) bool {
	for _, leg := range position.Deposits {
		if !bytes.Equal(leg.Market, market) && leg.Amount.IsPositive() {
			return true
		}
	}
	return false
}

// CheckMarket validates that the market belongs to the operation's protocol,
// is active and matches the requested asset.
func CheckMarket(op *Operation, market *Market) error {
	if market.Protocol != op.Protocol {
		return Reject(op.Protocol, ReasonMarketMismatch, "market %s belongs to %s", market.AddressString(), market.Protocol)
	}
	if len(op.Asset) > 0 && !bytes.Equal(op.Asset, market.Mint) {
		return Reject(op.Protocol, ReasonMarketMismatch, "market %s lends %s, not %s", market.AddressString(), base58.Encode(market.Mint), base58.Encode(op.Asset))
	}
	if len(op.Position.MarketSet) > 0 && len(market.Group) > 0 && !bytes.Equal(op.Position.MarketSet, market.Group) {
		return Reject(op.Protocol, ReasonMarketMismatch, "market %s is not part of %s", market.AddressString(), base58.Encode(op.Position.MarketSet))
	}
	if !market.Active && op.Kind != OperationRepay && op.Kind != OperationRefreshState {
		return Reject(op.Protocol, ReasonMarketInactive, "market %s is not active", market.AddressString())
	}
	return nil
}

// CheckLimits validates liquidity and deposit or borrow caps.
func CheckLimits(op *Operation, market *Market) error {
	amount := decimal.NewFromUint64(op.Amount)

	switch op.Kind {
	case OperationBorrow, OperationWithdraw:
		if amount.GreaterThan(market.AvailableLiquidity) {
			return Reject(op.Protocol, ReasonInsufficientLiquidity, "requested %s, available %s", amount.String(), market.AvailableLiquidity.String())
		}
	}

	switch op.Kind {
	case OperationDeposit:
		if market.DepositLimit > 0 && market.TotalSupply.Add(amount).GreaterThan(decimal.NewFromUint64(market.DepositLimit)) {
			return Reject(op.Protocol, ReasonDepositLimitExceeded, "deposit limit %d", market.DepositLimit)
		}
	case OperationBorrow:
		if market.BorrowLimit > 0 && market.TotalBorrows.Add(amount).GreaterThan(decimal.NewFromUint64(market.BorrowLimit)) {
			return Reject(op.Protocol, ReasonBorrowLimitExceeded, "borrow limit %d", market.BorrowLimit)
		}
	}
	return nil
}

// CheckLegs validates that withdrawals and repayments target an existing leg.
func CheckLegs(op *Operation, market *Market, position *Position) error {
	switch op.Kind {
	case OperationWithdraw:
		leg, ok := position.Deposit(market.Address)
		if !ok || !leg.Amount.IsPositive() {
			return Reject(op.Protocol, ReasonNoDeposit, "no deposit in %s", market.AddressString())
		}
	case OperationRepay:
		leg, ok := position.Borrow(market.Address)
		if !ok || !leg.Amount.IsPositive() {
			return Reject(op.Protocol, ReasonNoBorrow, "no borrow in %s", market.AddressString())
		}
	}
	return nil
}

// CheckLiquidatable rejects liquidation of a position that is still healthy.
func CheckLiquidatable(op *Operation, violator *Position) error {
	if !violator.BorrowedValue.IsPositive() {
		return Reject(op.Protocol, ReasonPositionHealthy, "position has no debt")
	}
	if violator.LiquidationValue.IsPositive() && violator.BorrowedValue.LessThanOrEqual(violator.LiquidationValue) {
		return Reject(op.Protocol, ReasonPositionHealthy, "debt %s is within liquidation threshold %s", violator.BorrowedValue.String(), violator.LiquidationValue.String())
	}
	return nil
}

// Validate runs the checks shared by every adapter.
func Validate(op *Operation, market *Market, position *Position) error {
	if op.Kind == OperationRefreshState {
		return nil
	}
	if err := CheckMarket(op, market); err != nil {
		return err
	}
	if err := CheckLimits(op, market); err != nil {
		return err
	}
	if op.Kind == OperationLiquidate {
		return nil
	}
	if err := CheckLegs(op, market, position); err != nil {
		return err
	}
	return CheckHealth(op, market, position)
}
