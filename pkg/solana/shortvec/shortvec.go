// Package shortvec implements the compact-u16 length prefix used by the
// Solana wire format: little endian base 128, at most three bytes.
package shortvec

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

const maxEncodedLen = 3

// EncodeLen writes n to w and returns the number of bytes written.
func EncodeLen(w io.Writer, n int) (int, error) {
	if n < 0 || n > math.MaxUint16 {
		return 0, errors.Errorf("length %d out of range [0, %d]", n, math.MaxUint16)
	}

	var buf [maxEncodedLen]byte
	return w.Write(buf[:binary.PutUvarint(buf[:], uint64(n))])
}

// AppendLen appends the encoding of n to b. It panics when n is out of range.
func AppendLen(b []byte, n int) []byte {
	if n < 0 || n > math.MaxUint16 {
		panic(errors.Errorf("length %d out of range [0, %d]", n, math.MaxUint16))
	}
	return binary.AppendUvarint(b, uint64(n))
}

// DecodeLen reads a length written by EncodeLen.
func DecodeLen(r io.ByteReader) (int, error) {
	var value uint64
	for i := 0; i < maxEncodedLen; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}

		value |= uint64(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			if value > math.MaxUint16 {
				return 0, errors.Errorf("length %d out of range", value)
			}
			return int(value), nil
		}
	}
	return 0, errors.Errorf("length prefix longer than %d bytes", maxEncodedLen)
}
