// Package binary reads and writes fixed little-endian layouts. Every helper
// operates on the full buffer at *offset and advances the offset by the width
// of the field, so layouts read top to bottom in field order.
package binary

import (
	"crypto/ed25519"
	"encoding/binary"

	"github.com/holiman/uint256"
)

const (
	DiscriminatorSize = 8
	Uint128Size       = 16
)

func PutDiscriminator(dst []byte, v []byte, offset *int) {
	copy(dst[*offset:*offset+DiscriminatorSize], v)
	*offset += DiscriminatorSize
}

func GetDiscriminator(src []byte, dst *[]byte, offset *int) {
	*dst = make([]byte, DiscriminatorSize)
	copy(*dst, src[*offset:])
	*offset += DiscriminatorSize
}

func PutKey(dst []byte, v ed25519.PublicKey, offset *int) {
	copy(dst[*offset:*offset+ed25519.PublicKeySize], v)
	*offset += ed25519.PublicKeySize
}

func GetKey(src []byte, dst *ed25519.PublicKey, offset *int) {
	*dst = make([]byte, ed25519.PublicKeySize)
	copy(*dst, src[*offset:])
	*offset += ed25519.PublicKeySize
}

// PutBytes writes exactly len(v) bytes.
func PutBytes(dst []byte, v []byte, offset *int) {
	copy(dst[*offset:*offset+len(v)], v)
	*offset += len(v)
}

// GetBytes fills dst, which must already have the field length.
func GetBytes(src []byte, dst []byte, offset *int) {
	copy(dst, src[*offset:*offset+len(dst)])
	*offset += len(dst)
}

func PutUint8(dst []byte, v uint8, offset *int) {
	dst[*offset] = v
	*offset += 1
}

func GetUint8(src []byte, dst *uint8, offset *int) {
	*dst = src[*offset]
	*offset += 1
}

func PutUint16(dst []byte, v uint16, offset *int) {
	binary.LittleEndian.PutUint16(dst[*offset:], v)
	*offset += 2
}

func GetUint16(src []byte, dst *uint16, offset *int) {
	*dst = binary.LittleEndian.Uint16(src[*offset:])
	*offset += 2
}

func PutUint32(dst []byte, v uint32, offset *int) {
	binary.LittleEndian.PutUint32(dst[*offset:], v)
	*offset += 4
}

func GetUint32(src []byte, dst *uint32, offset *int) {
	*dst = binary.LittleEndian.Uint32(src[*offset:])
	*offset += 4
}

func PutUint64(dst []byte, v uint64, offset *int) {
	binary.LittleEndian.PutUint64(dst[*offset:], v)
	*offset += 8
}

func GetUint64(src []byte, dst *uint64, offset *int) {
	*dst = binary.LittleEndian.Uint64(src[*offset:])
	*offset += 8
}

func PutInt64(dst []byte, v int64, offset *int) {
	PutUint64(dst, uint64(v), offset)
}

func GetInt64(src []byte, dst *int64, offset *int) {
	var raw uint64
	GetUint64(src, &raw, offset)
	*dst = int64(raw)
}

// PutUint128 writes the low 128 bits of v. Callers validate the width before
// encoding caller supplied values.
func PutUint128(dst []byte, v *uint256.Int, offset *int) {
	binary.LittleEndian.PutUint64(dst[*offset:], v[0])
	binary.LittleEndian.PutUint64(dst[*offset+8:], v[1])
	*offset += Uint128Size
}

func GetUint128(src []byte, dst *uint256.Int, offset *int) {
	dst[0] = binary.LittleEndian.Uint64(src[*offset:])
	dst[1] = binary.LittleEndian.Uint64(src[*offset+8:])
	dst[2] = 0
	dst[3] = 0
	*offset += Uint128Size
}

// FitsUint128 reports whether v can be written with PutUint128 without
// truncation.
func FitsUint128(v *uint256.Int) bool {
	return v[2] == 0 && v[3] == 0
}

// PutOptionalUint64 writes a one byte Borsh option tag followed by the value
// when present.
func PutOptionalUint64(dst []byte, v *uint64, offset *int) {
	if v == nil {
		PutUint8(dst, 0, offset)
		return
	}
	PutUint8(dst, 1, offset)
	PutUint64(dst, *v, offset)
}

// OptionalUint64Size is the encoded width of an optional u64.
func OptionalUint64Size(v *uint64) int {
	if v == nil {
		return 1
	}
	return 9
}

// PutOptionalBool writes a Borsh Option<bool>.
func PutOptionalBool(dst []byte, v *bool, offset *int) {
	if v == nil {
		PutUint8(dst, 0, offset)
		return
	}
	PutUint8(dst, 1, offset)
	PutBool(dst, *v, offset)
}

func PutBool(dst []byte, v bool, offset *int) {
	if v {
		PutUint8(dst, 1, offset)
	} else {
		PutUint8(dst, 0, offset)
	}
}
