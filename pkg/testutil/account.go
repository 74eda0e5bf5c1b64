package testutil

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// NewRandomAccountData returns size random bytes with the discriminator
// written at offset.
func NewRandomAccountData(t *testing.T, size int, discriminator []byte, offset int) []byte {
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)

	copy(data[offset:], discriminator)
	return data
}
