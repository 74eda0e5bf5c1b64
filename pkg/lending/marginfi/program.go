// Package marginfi implements the marginfi v2 adapter.
//
// Reference: https://github.com/mrgnlabs/marginfi-v2
package marginfi

import (
	"crypto/ed25519"

	"github.com/lendsdk/lendsdk/pkg/lending/codec"
	"github.com/lendsdk/lendsdk/pkg/solana"
)

// ProgramKey is the mainnet marginfi v2 program.
var ProgramKey = codec.MustAddress("MFv2hWf31Z9kbCa1snEPYctwafyhdvnV7FZnsebVacA")

var (
	liquidityVaultSeed          = []byte("liquidity_vault")
	liquidityVaultAuthoritySeed = []byte("liquidity_vault_auth")
	insuranceVaultSeed          = []byte("insurance_vault")
	insuranceVaultAuthoritySeed = []byte("insurance_vault_auth")
)

// Compute unit estimates per instruction.
const (
	computeInitializeAccount = 30_000
	computeAccrueInterest    = 25_000
	computeDeposit           = 60_000
	computeWithdraw          = 90_000
	computeBorrow            = 110_000
	computeRepay             = 60_000
	computeLiquidate         = 200_000
	computeCloseBalance      = 20_000
	computePerObservation    = 8_000
)

// LiquidityVaultAddress derives the vault holding a bank's deposits.
func LiquidityVaultAddress(program, bank ed25519.PublicKey) (ed25519.PublicKey, error) {
	return solana.FindProgramAddress(program, liquidityVaultSeed, bank)
}

// LiquidityVaultAuthority derives the signer of a bank's liquidity vault.
func LiquidityVaultAuthority(program, bank ed25519.PublicKey) (ed25519.PublicKey, error) {
	return solana.FindProgramAddress(program, liquidityVaultAuthoritySeed, bank)
}

// InsuranceVaultAddress derives the vault collecting a bank's insurance fees.
func InsuranceVaultAddress(program, bank ed25519.PublicKey) (ed25519.PublicKey, error) {
	return solana.FindProgramAddress(program, insuranceVaultSeed, bank)
}

// InsuranceVaultAuthority derives the signer of a bank's insurance vault.
func InsuranceVaultAuthority(program, bank ed25519.PublicKey) (ed25519.PublicKey, error) {
	return solana.FindProgramAddress(program, insuranceVaultAuthoritySeed, bank)
}
