package token

import (
	"crypto/ed25519"

	"github.com/lendsdk/lendsdk/pkg/solana"
	"github.com/lendsdk/lendsdk/pkg/solana/system"
)

// AssociatedTokenAccountProgramKey  is the address of the associated token account program that should be used.
//
// Current key: ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL
var AssociatedTokenAccountProgramKey = ed25519.PublicKey{140, 151, 37, 143, 78, 36, 137, 241, 187, 61, 16, 41, 20, 142, 13, 131, 11, 90, 19, 153, 218, 255, 16, 132, 4, 142, 123, 216, 219, 233, 248, 89}

const (
	commandCreate byte = iota
	commandCreateIdempotent
)

// GetAssociatedAccount returns the associated account address for an SPL token.
//
// Reference: https://spl.solana.com/associated-token-account#finding-the-associated-token-account-address
func GetAssociatedAccount(wallet, mint ed25519.PublicKey) (ed25519.PublicKey, error) {
	return GetAssociatedAccountWithProgram(wallet, mint, ProgramKey)
}

// GetAssociatedAccountWithProgram derives the associated account for a mint
// owned by the given token program.
func GetAssociatedAccountWithProgram(wallet, mint, tokenProgram ed25519.PublicKey) (ed25519.PublicKey, error) {
	if len(tokenProgram) == 0 {
		tokenProgram = ProgramKey
	}

	return solana.FindProgramAddress(
		AssociatedTokenAccountProgramKey,
		wallet,
		tokenProgram,
		mint,
	)
}

// CreateAssociatedTokenAccountIdempotent creates the associated account if it
// does not exist yet, and succeeds without changes otherwise.
//
// Reference: https://github.com/solana-labs/solana-program-library/blob/master/associated-token-account/program/src/instruction.rs
func CreateAssociatedTokenAccountIdempotent(subsidizer, wallet, mint, tokenProgram ed25519.PublicKey) (solana.Instruction, ed25519.PublicKey, error) {
	if len(tokenProgram) == 0 {
		tokenProgram = ProgramKey
	}

	addr, err := GetAssociatedAccountWithProgram(wallet, mint, tokenProgram)
	if err != nil {
		return solana.Instruction{}, nil, err
	}

	return solana.NewInstruction(
		AssociatedTokenAccountProgramKey,
		[]byte{commandCreateIdempotent},
		solana.NewAccountMeta(subsidizer, true),
		solana.NewAccountMeta(addr, false),
		solana.NewReadonlyAccountMeta(wallet, false),
		solana.NewReadonlyAccountMeta(mint, false),
		solana.NewReadonlyAccountMeta(system.ProgramKey[:], false),
		solana.NewReadonlyAccountMeta(tokenProgram, false),
	), addr, nil
}
