// Package kamino implements the Kamino Lending (klend) adapter.
//
// Reference: https://github.com/Kamino-Finance/klend
package kamino

import (
	"crypto/ed25519"

	"github.com/lendsdk/lendsdk/pkg/lending/codec"
	"github.com/lendsdk/lendsdk/pkg/solana"
	"github.com/lendsdk/lendsdk/pkg/solana/system"
)

// ProgramKey is the mainnet klend program.
var ProgramKey = codec.MustAddress("KLend2g3cP87fffoy8q1mQqGKjrxjC8boSyAYavgmjD")

var (
	lendingMarketAuthSeed = []byte("lma")
	userMetadataSeed      = []byte("user_meta")
)

// ObligationType selects the obligation PDA scheme.
type ObligationType uint8

const (
	ObligationVanilla ObligationType = iota
	ObligationMultiply
	ObligationLending
	ObligationLeverage
)

func (t ObligationType) String() string {
	switch t {
	case ObligationVanilla:
		return "vanilla"
	case ObligationMultiply:
		return "multiply"
	case ObligationLending:
		return "lending"
	case ObligationLeverage:
		return "leverage"
	}
	return "unknown"
}

// Compute unit estimates per instruction.
const (
	computeInitUserMetadata  = 40_000
	computeInitObligation    = 40_000
	computeRefreshReserve    = 45_000
	computeRefreshObligation = 35_000
	computeRefreshPerReserve = 10_000
	computeDeposit           = 110_000
	computeWithdraw          = 120_000
	computeBorrow            = 130_000
	computeRepay             = 80_000
	computeLiquidate         = 260_000
)

// LendingMarketAuthority derives the PDA that owns reserve vaults.
func LendingMarketAuthority(program, lendingMarket ed25519.PublicKey) (ed25519.PublicKey, error) {
	return solana.FindProgramAddress(program, lendingMarketAuthSeed, lendingMarket)
}

// UserMetadataAddress derives the per-owner metadata account.
func UserMetadataAddress(program, owner ed25519.PublicKey) (ed25519.PublicKey, error) {
	return solana.FindProgramAddress(program, userMetadataSeed, owner)
}

// ObligationSeeds are the inputs of an obligation PDA.
type ObligationSeeds struct {
	Type          ObligationType
	ID            uint8
	Owner         ed25519.PublicKey
	LendingMarket ed25519.PublicKey

	// Seed1 and Seed2 are token mints for multiply and leverage obligations,
	// the lending mint for lending obligations, and unset for vanilla ones.
	Seed1 ed25519.PublicKey
	Seed2 ed25519.PublicKey
}

// VanillaObligation returns the seeds of the default obligation.
func VanillaObligation(owner, lendingMarket ed25519.PublicKey) ObligationSeeds {
	return ObligationSeeds{
		Type:          ObligationVanilla,
		Owner:         owner,
		LendingMarket: lendingMarket,
	}
}

func (s ObligationSeeds) seed1() ed25519.PublicKey {
	return codec.OptionalKey(s.Seed1, system.ProgramKey[:])
}

func (s ObligationSeeds) seed2() ed25519.PublicKey {
	return codec.OptionalKey(s.Seed2, system.ProgramKey[:])
}

// ObligationAddress derives the obligation PDA from
// [tag, id, owner, lending_market, seed1, seed2].
func ObligationAddress(program ed25519.PublicKey, seeds ObligationSeeds) (ed25519.PublicKey, error) {
	return solana.FindProgramAddress(
		program,
		[]byte{byte(seeds.Type)},
		[]byte{seeds.ID},
		seeds.Owner,
		seeds.LendingMarket,
		seeds.seed1(),
		seeds.seed2(),
	)
}
