package token

import (
	"crypto/ed25519"

	"github.com/mr-tron/base58/base58"
)

// ProgramKey is the address of the token program.
//
// Current key: TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA
var ProgramKey = ed25519.PublicKey{6, 221, 246, 225, 215, 101, 161, 147, 217, 203, 225, 70, 206, 235, 121, 172, 28, 180, 133, 237, 95, 91, 55, 145, 58, 140, 245, 133, 126, 255, 0, 169}

// Program2022Key is the address of the token extensions program. Reserves
// declare which of the two programs owns their mint.
//
// Current key: TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb
var Program2022Key ed25519.PublicKey

func init() {
	var err error

	Program2022Key, err = base58.Decode("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")
	if err != nil {
		panic(err)
	}
}

// IsTokenProgram reports whether key is one of the two token programs.
func IsTokenProgram(key ed25519.PublicKey) bool {
	return string(key) == string(ProgramKey) || string(key) == string(Program2022Key)
}
