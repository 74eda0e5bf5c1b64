package codec

import (
	"bytes"
	"crypto/ed25519"

	"github.com/mr-tron/base58/base58"
)

var zeroKey = make([]byte, ed25519.PublicKeySize)

// MustAddress decodes a base58 address and panics on failure. It is meant for
// program ids and other compile time constants.
func MustAddress(value string) ed25519.PublicKey {
	decoded, err := base58.Decode(value)
	if err != nil {
		panic(err)
	}
	if len(decoded) != ed25519.PublicKeySize {
		panic("codec: address " + value + " is not 32 bytes")
	}
	return decoded
}

// IsZeroKey reports whether a key field is unset.
func IsZeroKey(key ed25519.PublicKey) bool {
	return len(key) == 0 || bytes.Equal(key, zeroKey)
}

// OptionalKey returns key, or fallback when the key is unset. Anchor programs
// take the program id in place of an absent optional account.
func OptionalKey(key, fallback ed25519.PublicKey) ed25519.PublicKey {
	if IsZeroKey(key) {
		return fallback
	}
	return key
}

// NonZeroKeys drops unset keys.
func NonZeroKeys(keys ...ed25519.PublicKey) []ed25519.PublicKey {
	var res []ed25519.PublicKey
	for _, key := range keys {
		if !IsZeroKey(key) {
			res = append(res, key)
		}
	}
	return res
}
