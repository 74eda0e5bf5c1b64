// Package computebudget builds instructions of the compute budget program,
// which set the compute unit limit and priority fee of a transaction.
package computebudget

import (
	"crypto/ed25519"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/lendsdk/lendsdk/pkg/solana"
)

// ComputeBudget111111111111111111111111111111
var ProgramKey = ed25519.PublicKey{3, 6, 70, 111, 229, 33, 23, 50, 255, 236, 173, 186, 114, 195, 155, 231, 188, 140, 229, 187, 197, 247, 18, 107, 44, 67, 155, 58, 64, 0, 0, 0}

// Command is the first byte of a compute budget instruction.
type Command uint8

const (
	CommandRequestUnits Command = iota
	CommandRequestHeapFrame
	CommandSetComputeUnitLimit
	CommandSetComputeUnitPrice
)

var ErrInvalidInstruction = errors.New("invalid compute budget instruction")

// SetComputeUnitLimit caps the compute units the transaction may consume.
func SetComputeUnitLimit(units uint32) solana.Instruction {
	data := make([]byte, 5)
	data[0] = byte(CommandSetComputeUnitLimit)
	binary.LittleEndian.PutUint32(data[1:], units)
	return solana.NewInstruction(ProgramKey, data)
}

// SetComputeUnitPrice sets the priority fee in micro lamports per unit.
func SetComputeUnitPrice(microLamports uint64) solana.Instruction {
	data := make([]byte, 9)
	data[0] = byte(CommandSetComputeUnitPrice)
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return solana.NewInstruction(ProgramKey, data)
}

// DecodeComputeUnitLimit returns the limit encoded by SetComputeUnitLimit.
func DecodeComputeUnitLimit(data []byte) (uint32, error) {
	if len(data) != 5 || Command(data[0]) != CommandSetComputeUnitLimit {
		return 0, ErrInvalidInstruction
	}
	return binary.LittleEndian.Uint32(data[1:]), nil
}

// DecodeComputeUnitPrice returns the price encoded by SetComputeUnitPrice.
func DecodeComputeUnitPrice(data []byte) (uint64, error) {
	if len(data) != 9 || Command(data[0]) != CommandSetComputeUnitPrice {
		return 0, ErrInvalidInstruction
	}
	return binary.LittleEndian.Uint64(data[1:]), nil
}
