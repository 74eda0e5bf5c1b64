package lending

import (
	"crypto/ed25519"
	"strconv"
)

// Operation is a protocol-agnostic lending intent. It is the unit accepted by
// the client.
type Operation struct {
	Protocol Protocol
	Kind     OperationKind

	// Amount is in native units of the asset mint.
	Amount uint64

	// All requests the protocol's withdraw-all or repay-all variant when one
	// exists. Amount is still used for local validation.
	All bool

	Asset  ed25519.PublicKey
	Market ed25519.PublicKey

	Position PositionRef

	// Authority signs for the position. Defaults to the position owner.
	Authority ed25519.PublicKey

	// Payer funds account creation. Defaults to the authority.
	Payer ed25519.PublicKey

	// TokenAccount overrides the user's associated token account for Asset.
	TokenAccount ed25519.PublicKey

	Liquidation *LiquidationParams
}

// LiquidationParams carries the extra inputs of a Liquidate operation. The
// operation's Market is the debt being repaid, Position is the liquidator.
type LiquidationParams struct {
	Violator         PositionRef
	CollateralMarket ed25519.PublicKey

	// CollateralTokenAccount receives the seized collateral. Defaults to the
	// liquidator's associated token account.
	CollateralTokenAccount ed25519.PublicKey
	MinReceived            uint64
}

// Validate checks the operation for missing or out of range fields.
func (op *Operation) Validate() error {
	if op.Protocol == ProtocolUnknown {
		return NewParameterError("protocol", op.Protocol.String(), "protocol is required")
	}

	switch op.Kind {
	case OperationDeposit, OperationWithdraw, OperationBorrow, OperationRepay, OperationLiquidate:
		if op.Amount == 0 && !op.All {
			return NewParameterError("amount", strconv.FormatUint(op.Amount, 10), "must be positive")
		}
		if err := requireKey("market", op.Market); err != nil {
			return err
		}
	case OperationRefreshState:
	default:
		return NewParameterError("kind", op.Kind.String(), "unsupported operation kind")
	}

	if err := requireKey("position.owner", op.Position.Owner); err != nil {
		return err
	}
	if err := requireKey("position.market_set", op.Position.MarketSet); err != nil {
		return err
	}
	if err := optionalKey("asset", op.Asset); err != nil {
		return err
	}
	if err := optionalKey("authority", op.Authority); err != nil {
		return err
	}
	if err := optionalKey("payer", op.Payer); err != nil {
		return err
	}
	if err := optionalKey("token_account", op.TokenAccount); err != nil {
		return err
	}

	if op.Kind == OperationLiquidate {
		if op.Liquidation == nil {
			return NewParameterError("liquidation", "", "liquidation parameters are required")
		}
		if err := requireKey("liquidation.violator.owner", op.Liquidation.Violator.Owner); err != nil {
			return err
		}
		if err := requireKey("liquidation.collateral_market", op.Liquidation.CollateralMarket); err != nil {
			return err
		}
	}
	return nil
}

// Signer returns the authority, falling back to the owner.
func (op *Operation) Signer() ed25519.PublicKey {
	if len(op.Authority) > 0 {
		return op.Authority
	}
	return op.Position.Owner
}

// FeePayer returns the payer, falling back to the signer.
func (op *Operation) FeePayer() ed25519.PublicKey {
	if len(op.Payer) > 0 {
		return op.Payer
	}
	return op.Signer()
}

func requireKey(field string, key ed25519.PublicKey) error {
	if len(key) != ed25519.PublicKeySize {
		return NewParameterError(field, "", "must be a 32 byte address")
	}
	return nil
}

func optionalKey(field string, key ed25519.PublicKey) error {
	if len(key) == 0 {
		return nil
	}
	return requireKey(field, key)
}
