package solana

import (
	"crypto/ed25519"
	"crypto/sha256"
	"math"

	"github.com/jdgcs/ed25519/edwards25519"
	"github.com/pkg/errors"

	"github.com/lendsdk/lendsdk/pkg/cache"
)

const (
	maxSeeds      = 16
	maxSeedLength = 32

	pdaMarker = "ProgramDerivedAddress"

	derivedAddressCacheSize = 8192
)

type derivedAddress struct {
	address ed25519.PublicKey
	bump    uint8
}

// Adapters derive the same vault and authority addresses for every
// operation, and each search costs up to 255 hashes and curve checks.
var derivedAddresses = cache.New[string, derivedAddress](derivedAddressCacheSize)

var (
	ErrTooManySeeds          = errors.New("too many seeds")
	ErrMaxSeedLengthExceeded = errors.New("max seed length exceeded")

	// ErrInvalidPublicKey is returned when the derived address lies on the
	// ed25519 curve and could therefore have a private key.
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrNoViableBump is returned when no bump seed yields an address off
	// the curve.
	ErrNoViableBump = errors.New("no viable bump seed")
)

// CreateProgramAddress derives sha256(seeds || program || marker) and
// rejects the result when it is a valid curve point.
func CreateProgramAddress(program ed25519.PublicKey, seeds ...[]byte) (ed25519.PublicKey, error) {
	if len(seeds) > maxSeeds {
		return nil, ErrTooManySeeds
	}

	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > maxSeedLength {
			return nil, ErrMaxSeedLengthExceeded
		}
		h.Write(seed)
	}
	h.Write(program)
	h.Write([]byte(pdaMarker))

	var candidate [ed25519.PublicKeySize]byte
	copy(candidate[:], h.Sum(nil))

	// FromBytes succeeds exactly for compressed points on the curve.
	var point edwards25519.ExtendedGroupElement
	if point.FromBytes(&candidate) {
		return nil, ErrInvalidPublicKey
	}
	return candidate[:], nil
}

// FindProgramAddressAndBump searches bump seeds from 255 down and returns the
// first address off the curve together with its bump. Results are memoized.
func FindProgramAddressAndBump(program ed25519.PublicKey, seeds ...[]byte) (ed25519.PublicKey, uint8, error) {
	if len(seeds) >= maxSeeds {
		return nil, 0, ErrTooManySeeds
	}
	for _, seed := range seeds {
		if len(seed) > maxSeedLength {
			return nil, 0, ErrMaxSeedLengthExceeded
		}
	}

	key := derivationKey(program, seeds)
	if cached, ok := derivedAddresses.Retrieve(key); ok {
		return append(ed25519.PublicKey(nil), cached.address...), cached.bump, nil
	}

	address, bump, err := findProgramAddressAndBump(program, seeds)
	if err != nil {
		return nil, 0, err
	}

	_ = derivedAddresses.Insert(key, derivedAddress{address: address, bump: bump}, 1)
	return append(ed25519.PublicKey(nil), address...), bump, nil
}

func findProgramAddressAndBump(program ed25519.PublicKey, seeds [][]byte) (ed25519.PublicKey, uint8, error) {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := math.MaxUint8; bump > 0; bump-- {
		withBump[len(seeds)] = []byte{uint8(bump)}

		address, err := CreateProgramAddress(program, withBump...)
		switch {
		case err == nil:
			return address, uint8(bump), nil
		case !errors.Is(err, ErrInvalidPublicKey):
			return nil, 0, err
		}
	}
	return nil, 0, ErrNoViableBump
}

// derivationKey length prefixes each seed so that distinct seed lists never
// share a key.
func derivationKey(program ed25519.PublicKey, seeds [][]byte) string {
	b := make([]byte, 0, len(program)+len(seeds)*(maxSeedLength+1))
	b = append(b, program...)
	for _, seed := range seeds {
		b = append(b, byte(len(seed)))
		b = append(b, seed...)
	}
	return string(b)
}

// FindProgramAddress is FindProgramAddressAndBump without the bump.
func FindProgramAddress(program ed25519.PublicKey, seeds ...[]byte) (ed25519.PublicKey, error) {
	address, _, err := FindProgramAddressAndBump(program, seeds...)
	return address, err
}
