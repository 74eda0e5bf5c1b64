package lending

import (
	"strings"

	"github.com/pkg/errors"
)

// Protocol identifies a backing lending system. It is the routing key used by
// the registry, the adapters and the client.
type Protocol uint8

const (
	ProtocolUnknown Protocol = iota
	ProtocolKamino
	ProtocolMarginfi
	ProtocolSolend
	ProtocolDrift
)

// Protocols lists every supported protocol in routing order.
var Protocols = []Protocol{
	ProtocolKamino,
	ProtocolMarginfi,
	ProtocolSolend,
	ProtocolDrift,
}

func (p Protocol) String() string {
	switch p {
	case ProtocolKamino:
		return "kamino"
	case ProtocolMarginfi:
		return "marginfi"
	case ProtocolSolend:
		return "solend"
	case ProtocolDrift:
		return "drift"
	}
	return "unknown"
}

// ParseProtocol parses the lower case protocol name used in configuration.
func ParseProtocol(name string) (Protocol, error) {
	for _, p := range Protocols {
		if strings.EqualFold(p.String(), strings.TrimSpace(name)) {
			return p, nil
		}
	}
	return ProtocolUnknown, errors.Errorf("unknown protocol: %q", name)
}

// AccountKind classifies a decoded account independently of its native name.
type AccountKind string

const (
	KindUnknown       AccountKind = ""
	KindMarket        AccountKind = "market"
	KindPosition      AccountKind = "position"
	KindLendingMarket AccountKind = "lending_market"
)

// OperationKind is the abstract lending action requested by a caller.
type OperationKind uint8

const (
	OperationUnknown OperationKind = iota
	OperationDeposit
	OperationWithdraw
	OperationBorrow
	OperationRepay
	OperationLiquidate
	OperationRefreshState
)

func (k OperationKind) String() string {
	switch k {
	case OperationDeposit:
		return "deposit"
	case OperationWithdraw:
		return "withdraw"
	case OperationBorrow:
		return "borrow"
	case OperationRepay:
		return "repay"
	case OperationLiquidate:
		return "liquidate"
	case OperationRefreshState:
		return "refresh_state"
	}
	return "unknown"
}
