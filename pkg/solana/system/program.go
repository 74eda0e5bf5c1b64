package system

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/lendsdk/lendsdk/pkg/solana"
)

var ProgramKey [32]byte

const (
	commandCreateAccount uint32 = iota
	// nolint:varcheck,deadcode,unused
	commandAssign
	// nolint:varcheck,deadcode,unused
	commandTransfer
	commandCreateAccountWithSeed
)

const (
	maxSeedLength = 32

	// Rent parameters of the default cluster configuration.
	lamportsPerByteYear    = 3480
	exemptionThresholdYear = 2
	accountStorageOverhead = 128
)

var ErrSeedTooLong = errors.New("seed exceeds 32 bytes")

// RentExemptMinimum is the balance that makes an account of the given data
// size rent exempt.
func RentExemptMinimum(size uint64) uint64 {
	return (size + accountStorageOverhead) * lamportsPerByteYear * exemptionThresholdYear
}

// Reference: https://github.com/solana-labs/solana/blob/f02a78d8fff2dd7297dc6ce6eb5a68a3002f5359/sdk/src/system_instruction.rs#L58-L72
func CreateAccount(funder, address, owner ed25519.PublicKey, lamports, size uint64) solana.Instruction {
	// # Account references
	//   0. [WRITE, SIGNER] Funding account
	//   1. [WRITE, SIGNER] New account
	//
	// CreateAccount {
	//   // Number of lamports to transfer to the new account
	//   lamports: u64,
	//   // Number of bytes of memory to allocate
	//   space: u64,
	//
	//   //Address of program that will own the new account
	//   owner: Pubkey,
	// }
	//
	data := make([]byte, 4+2*8+32)
	binary.LittleEndian.PutUint32(data, commandCreateAccount)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	binary.LittleEndian.PutUint64(data[4+8:], size)
	copy(data[4+2*8:], owner)

	return solana.NewInstruction(
		ProgramKey[:],
		data,
		solana.NewAccountMeta(funder, true),
		solana.NewAccountMeta(address, true),
	)
}

// CreateWithSeed derives the address of an account created with
// CreateAccountWithSeed.
//
// Reference: https://github.com/solana-labs/solana/blob/master/sdk/program/src/pubkey.rs (create_with_seed)
func CreateWithSeed(base ed25519.PublicKey, seed string, owner ed25519.PublicKey) (ed25519.PublicKey, error) {
	if len(seed) > maxSeedLength {
		return nil, ErrSeedTooLong
	}

	h := sha256.New()
	h.Write(base)
	h.Write([]byte(seed))
	h.Write(owner)
	return h.Sum(nil), nil
}

// CreateAccountWithSeed creates an account at an address derived from a base
// key and a seed. The base must sign when it differs from the funder.
func CreateAccountWithSeed(funder, address, base ed25519.PublicKey, seed string, lamports, size uint64, owner ed25519.PublicKey) (solana.Instruction, error) {
	// # Account references
	//   0. [WRITE, SIGNER] Funding account
	//   1. [WRITE] Created account
	//   2. [SIGNER] (optional) Base account
	//
	// CreateAccountWithSeed {
	//   base: Pubkey,
	//   seed: String,
	//   lamports: u64,
	//   space: u64,
	//   owner: Pubkey,
	// }
	if len(seed) > maxSeedLength {
		return solana.Instruction{}, ErrSeedTooLong
	}

	data := make([]byte, 4+32+8+len(seed)+8+8+32)
	var offset int
	binary.LittleEndian.PutUint32(data[offset:], commandCreateAccountWithSeed)
	offset += 4
	copy(data[offset:], base)
	offset += 32
	binary.LittleEndian.PutUint64(data[offset:], uint64(len(seed)))
	offset += 8
	copy(data[offset:], seed)
	offset += len(seed)
	binary.LittleEndian.PutUint64(data[offset:], lamports)
	offset += 8
	binary.LittleEndian.PutUint64(data[offset:], size)
	offset += 8
	copy(data[offset:], owner)

	accounts := []solana.AccountMeta{
		solana.NewAccountMeta(funder, true),
		solana.NewAccountMeta(address, false),
	}
	if string(base) != string(funder) {
		accounts = append(accounts, solana.NewReadonlyAccountMeta(base, true))
	}

	return solana.NewInstruction(ProgramKey[:], data, accounts...), nil
}
