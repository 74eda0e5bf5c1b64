package lending

import (
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/lendsdk/lendsdk/pkg/solana/token"
)

const computeCreateTokenAccount = 25_000

// TokenAccount returns override when set, otherwise the owner's associated
// token account for the mint.
func TokenAccount(override, owner, mint, tokenProgram ed25519.PublicKey) (ed25519.PublicKey, error) {
	if len(override) > 0 {
		return override, nil
	}

	addr, err := token.GetAssociatedAccountWithProgram(owner, mint, tokenProgram)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive associated token account")
	}
	return addr, nil
}

// CreateTokenAccount returns an idempotent associated token account creation
// for owner and mint, funded by payer.
func CreateTokenAccount(payer, owner, mint, tokenProgram ed25519.PublicKey) (*InstructionSpec, ed25519.PublicKey, error) {
	ixn, addr, err := token.CreateAssociatedTokenAccountIdempotent(payer, owner, mint, tokenProgram)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to derive associated token account")
	}
	return FromInstruction("create_associated_token_account_idempotent", ixn, computeCreateTokenAccount), addr, nil
}

// ReceivingTokenAccount resolves the account that receives tokens for an
// operation. Without an override, the associated account is created in the
// same transaction when missing.
func ReceivingTokenAccount(op *Operation, owner, mint, tokenProgram ed25519.PublicKey) ([]*InstructionSpec, ed25519.PublicKey, error) {
	if len(op.TokenAccount) > 0 {
		return nil, op.TokenAccount, nil
	}

	spec, addr, err := CreateTokenAccount(op.FeePayer(), owner, mint, tokenProgram)
	if err != nil {
		return nil, nil, err
	}
	return []*InstructionSpec{spec}, addr, nil
}
