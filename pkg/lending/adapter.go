package lending

import (
	"context"
	"crypto/ed25519"
	"time"
)

// Adapter translates abstract operations into protocol-native instructions.
// Implementations never perform I/O: every piece of state they need arrives
// through the market and position snapshots.
type Adapter interface {
	Protocol() Protocol

	// ProgramID is the on-chain program the adapter targets.
	ProgramID() ed25519.PublicKey

	// Prepare validates the operation against protocol rules and returns the
	// setup, refresh, core and cleanup instructions in execution order.
	Prepare(op *Operation, market *Market, position *Position) ([]*InstructionSpec, error)

	// PositionAddress resolves the account backing a position reference.
	PositionAddress(ref PositionRef) (ed25519.PublicKey, error)

	// RequiredAccounts lists the accounts the operation touches, derived
	// from the operation alone.
	RequiredAccounts(op *Operation) ([]AddressRole, error)

	AccountDecoder
}

// AccountDecoder turns raw account bytes into normalized records.
type AccountDecoder interface {
	Protocol() Protocol
	ProgramID() ed25519.PublicKey

	// Identify returns the kind of a raw account without fully decoding it.
	Identify(data []byte) (AccountKind, error)

	DecodeMarket(address ed25519.PublicKey, data []byte) (*Market, error)
	DecodePosition(address ed25519.PublicKey, data []byte) (*Position, error)
}

// RawAccount is account data as returned by the network collaborator.
type RawAccount struct {
	Address   ed25519.PublicKey
	Owner     ed25519.PublicKey
	Data      []byte
	Slot      uint64
	FetchedAt time.Time
}

// Fetcher supplies raw account bytes. Implementations return an error
// matching ErrAccountNotFound when the account does not exist.
type Fetcher interface {
	FetchRaw(ctx context.Context, address ed25519.PublicKey) (*RawAccount, error)
}

// BatchFetcher is a Fetcher able to read many accounts in one round trip.
// The result has one entry per address, nil where the account does not
// exist.
type BatchFetcher interface {
	Fetcher
	FetchRawBatch(ctx context.Context, addresses []ed25519.PublicKey) ([]*RawAccount, error)
}
