package lending

import (
	"crypto/ed25519"

	"github.com/mr-tron/base58/base58"

	"github.com/lendsdk/lendsdk/pkg/solana"
)

// DefaultComputeUnits is charged for an instruction that does not declare its
// own estimate.
const DefaultComputeUnits uint32 = 200_000

// AccountRole is the access an instruction needs on an account.
type AccountRole struct {
	Writable bool
	Signer   bool
}

// Union merges two roles: write dominates read and the signer flag is OR'd.
func (r AccountRole) Union(other AccountRole) AccountRole {
	return AccountRole{
		Writable: r.Writable || other.Writable,
		Signer:   r.Signer || other.Signer,
	}
}

// AddressRole pairs an address with the role an instruction requires on it.
type AddressRole struct {
	Address ed25519.PublicKey
	Role    AccountRole
}

func Writable(address ed25519.PublicKey) AddressRole {
	return AddressRole{Address: address, Role: AccountRole{Writable: true}}
}

func Readonly(address ed25519.PublicKey) AddressRole {
	return AddressRole{Address: address}
}

func WritableSigner(address ed25519.PublicKey) AddressRole {
	return AddressRole{Address: address, Role: AccountRole{Writable: true, Signer: true}}
}

func ReadonlySigner(address ed25519.PublicKey) AddressRole {
	return AddressRole{Address: address, Role: AccountRole{Signer: true}}
}

func (a AddressRole) String() string {
	flags := "r"
	if a.Role.Writable {
		flags = "w"
	}
	if a.Role.Signer {
		flags += "s"
	}
	return base58.Encode(a.Address) + ":" + flags
}

// InstructionSpec is one protocol-native instruction together with its
// account access list and compute estimate.
type InstructionSpec struct {
	Program      ed25519.PublicKey
	Accounts     []AddressRole
	Data         []byte
	ComputeUnits uint32

	// Label names the native instruction, for logs and debugging.
	Label string
}

// NewInstructionSpec copies its inputs so the returned spec shares no memory
// with the caller.
func NewInstructionSpec(label string, program ed25519.PublicKey, data []byte, computeUnits uint32, accounts ...AddressRole) *InstructionSpec {
	copied := make([]AddressRole, len(accounts))
	for i, account := range accounts {
		copied[i] = AddressRole{
			Address: append(ed25519.PublicKey(nil), account.Address...),
			Role:    account.Role,
		}
	}

	return &InstructionSpec{
		Program:      append(ed25519.PublicKey(nil), program...),
		Accounts:     copied,
		Data:         append([]byte(nil), data...),
		ComputeUnits: computeUnits,
		Label:        label,
	}
}

// FromInstruction converts a solana.Instruction into a spec.
func FromInstruction(label string, ixn solana.Instruction, computeUnits uint32) *InstructionSpec {
	accounts := make([]AddressRole, len(ixn.Accounts))
	for i, meta := range ixn.Accounts {
		accounts[i] = AddressRole{
			Address: meta.PublicKey,
			Role: AccountRole{
				Writable: meta.IsWritable,
				Signer:   meta.IsSigner,
			},
		}
	}
	return NewInstructionSpec(label, ixn.Program, ixn.Data, computeUnits, accounts...)
}

// EstimatedComputeUnits returns the declared estimate or the default.
func (s *InstructionSpec) EstimatedComputeUnits() uint32 {
	if s.ComputeUnits == 0 {
		return DefaultComputeUnits
	}
	return s.ComputeUnits
}

// ToInstruction converts the spec into a solana.Instruction.
func (s *InstructionSpec) ToInstruction() solana.Instruction {
	metas := make([]solana.AccountMeta, len(s.Accounts))
	for i, account := range s.Accounts {
		if account.Role.Writable {
			metas[i] = solana.NewAccountMeta(account.Address, account.Role.Signer)
		} else {
			metas[i] = solana.NewReadonlyAccountMeta(account.Address, account.Role.Signer)
		}
	}
	return solana.NewInstruction(s.Program, s.Data, metas...)
}
