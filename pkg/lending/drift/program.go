// Package drift implements the Drift v2 spot lending adapter. Perp markets
// and orders are carried through as opaque bytes.
//
// Reference: https://github.com/drift-labs/protocol-v2
package drift

import (
	"crypto/ed25519"
	"encoding/binary"

	"github.com/lendsdk/lendsdk/pkg/lending/codec"
	"github.com/lendsdk/lendsdk/pkg/solana"
)

// ProgramKey is the mainnet Drift v2 program.
var ProgramKey = codec.MustAddress("dRiftyHA39MWEi3m9aunc5MzRF1JYuBsbn6VPcn33UH")

var (
	stateSeed           = []byte("drift_state")
	signerSeed          = []byte("drift_signer")
	userSeed            = []byte("user")
	userStatsSeed       = []byte("user_stats")
	spotMarketSeed      = []byte("spot_market")
	spotMarketVaultSeed = []byte("spot_market_vault")
)

// maxSubAccountSearch bounds the reverse lookup of a sub account id from a
// pinned user address.
const maxSubAccountSearch = 32

// Compute unit estimates per instruction.
const (
	computeInitializeUserStats = 30_000
	computeInitializeUser      = 40_000
	computeUpdateInterest      = 30_000
	computeDeposit             = 70_000
	computeWithdraw            = 120_000
	computeLiquidate           = 250_000
	computePerMarket           = 6_000
)

// StateAddress derives the program's global state account, which scopes
// every Drift user.
func StateAddress(program ed25519.PublicKey) (ed25519.PublicKey, error) {
	return solana.FindProgramAddress(program, stateSeed)
}

// SignerAddress derives the PDA that signs vault transfers.
func SignerAddress(program ed25519.PublicKey) (ed25519.PublicKey, error) {
	return solana.FindProgramAddress(program, signerSeed)
}

// UserAddress derives the user account of an authority's sub account.
func UserAddress(program, authority ed25519.PublicKey, subAccount uint16) (ed25519.PublicKey, error) {
	return solana.FindProgramAddress(program, userSeed, authority, u16Seed(subAccount))
}

// UserStatsAddress derives the per-authority stats account.
func UserStatsAddress(program, authority ed25519.PublicKey) (ed25519.PublicKey, error) {
	return solana.FindProgramAddress(program, userStatsSeed, authority)
}

// SpotMarketAddress derives a spot market from its index.
func SpotMarketAddress(program ed25519.PublicKey, marketIndex uint16) (ed25519.PublicKey, error) {
	return solana.FindProgramAddress(program, spotMarketSeed, u16Seed(marketIndex))
}

// SpotMarketVaultAddress derives the token vault of a spot market.
func SpotMarketVaultAddress(program ed25519.PublicKey, marketIndex uint16) (ed25519.PublicKey, error) {
	return solana.FindProgramAddress(program, spotMarketVaultSeed, u16Seed(marketIndex))
}

func u16Seed(v uint16) []byte {
	seed := make([]byte, 2)
	binary.LittleEndian.PutUint16(seed, v)
	return seed
}
