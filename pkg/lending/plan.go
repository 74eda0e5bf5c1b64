package lending

import (
	"crypto/ed25519"
	"time"

	"github.com/google/uuid"

	"github.com/lendsdk/lendsdk/pkg/solana"
)

// PlanAccount is a deduplicated account slot in a transaction plan.
type PlanAccount struct {
	Address ed25519.PublicKey
	Role    AccountRole

	// Program is set for accounts that appear as an instruction program.
	Program bool
}

// TransactionPlan is the output of the composer: an ordered set of
// instructions with the merged account list, the signers and the budget
// hints. It is never modified after it is built.
type TransactionPlan struct {
	ID        uuid.UUID
	CreatedAt time.Time

	Instructions []*InstructionSpec
	Accounts     []PlanAccount
	Signers      []ed25519.PublicKey

	ComputeUnits     uint32
	ComputeUnitPrice uint64

	// LookupTables are the address lookup tables the plan was sized
	// against. When set, Transaction compiles a v0 transaction.
	LookupTables []solana.AddressLookupTable

	// EstimatedSize is the serialized size in bytes of the unsigned
	// transaction, zero when no payer was known at composition time.
	EstimatedSize int
}

// Account returns the plan slot for an address.
func (p *TransactionPlan) Account(address ed25519.PublicKey) (PlanAccount, bool) {
	for _, account := range p.Accounts {
		if string(account.Address) == string(address) {
			return account, true
		}
	}
	return PlanAccount{}, false
}

// Transaction builds the unsigned transaction for the plan.
func (p *TransactionPlan) Transaction(payer ed25519.PublicKey) solana.Transaction {
	ixns := make([]solana.Instruction, len(p.Instructions))
	for i, spec := range p.Instructions {
		ixns[i] = spec.ToInstruction()
	}
	if len(p.LookupTables) > 0 {
		return solana.NewVersionedTransaction(payer, p.LookupTables, ixns)
	}
	return solana.NewTransaction(payer, ixns...)
}
