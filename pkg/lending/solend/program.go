// Package solend implements the Solend (SPL token-lending fork) adapter.
//
// Reference: https://github.com/solendprotocol/solana-program-library/tree/master/token-lending
package solend

import (
	"crypto/ed25519"

	"github.com/mr-tron/base58/base58"
	"github.com/pkg/errors"

	"github.com/lendsdk/lendsdk/pkg/lending/codec"
	"github.com/lendsdk/lendsdk/pkg/solana"
	"github.com/lendsdk/lendsdk/pkg/solana/system"
)

// ProgramKey is the mainnet Solend program.
var ProgramKey = codec.MustAddress("So1endDq2YkqhipRh3WViPa8hdiSpxWy6z3Z6tMCpAo")

// ProgramVersion is the layout version written by the current program.
const ProgramVersion = 1

// Compute unit estimates per instruction.
const (
	computeCreateObligationAccount = 5_000
	computeInitObligation          = 15_000
	computeRefreshReserve          = 40_000
	computeRefreshObligation       = 30_000
	computeRefreshPerReserve       = 8_000
	computeDepositReserveLiquidity = 50_000
	computeDeposit                 = 90_000
	computeWithdraw                = 100_000
	computeBorrow                  = 90_000
	computeRepay                   = 60_000
	computeLiquidate               = 180_000
)

// LendingMarketAuthority derives the PDA that owns reserve vaults.
func LendingMarketAuthority(program, lendingMarket ed25519.PublicKey) (ed25519.PublicKey, error) {
	return solana.FindProgramAddress(program, lendingMarket)
}

// ObligationSeed is the create-with-seed seed of an owner's obligation: the
// first 32 characters of the base58 lending market address.
func ObligationSeed(lendingMarket ed25519.PublicKey) string {
	seed := base58.Encode(lendingMarket)
	if len(seed) > 32 {
		seed = seed[:32]
	}
	return seed
}

// ObligationAddress derives the obligation an owner holds in a lending
// market.
func ObligationAddress(program, owner, lendingMarket ed25519.PublicKey) (ed25519.PublicKey, error) {
	addr, err := system.CreateWithSeed(owner, ObligationSeed(lendingMarket), program)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive obligation address")
	}
	return addr, nil
}
