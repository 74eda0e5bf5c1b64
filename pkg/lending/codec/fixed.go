package codec

import (
	"crypto/sha256"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/solana/binary"
)

// Scales of the fixed point formats used by the supported protocols.
const (
	// Kamino stores U68F60 values ("_sf" fields).
	KaminoFractionBits = 60

	// Marginfi stores I80F48 values.
	MarginfiFractionBits = 48

	// Solend stores decimals scaled by one WAD.
	WadDecimals = 18

	divisionPrecision = 24
)

var two128 = new(big.Int).Lsh(big.NewInt(1), 128)

// AccountDiscriminator is the Anchor account discriminator for a type name.
func AccountDiscriminator(name string) []byte {
	return anchorHash("account:" + name)
}

// InstructionDiscriminator is the Anchor instruction discriminator for a
// snake case instruction name.
func InstructionDiscriminator(name string) []byte {
	return anchorHash("global:" + name)
}

func anchorHash(preimage string) []byte {
	sum := sha256.Sum256([]byte(preimage))
	return append([]byte(nil), sum[:binary.DiscriminatorSize]...)
}

// FractionToDecimal converts an unsigned binary fixed point value with the
// given number of fractional bits.
func FractionToDecimal(raw *uint256.Int, bits int) decimal.Decimal {
	value := decimal.NewFromBigInt(raw.ToBig(), 0)
	return value.DivRound(decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), uint(bits)), 0), divisionPrecision)
}

// DecimalToFraction converts a non-negative decimal into an unsigned binary
// fixed point value, truncating bits beyond the scale.
func DecimalToFraction(field string, d decimal.Decimal, bits int) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, lending.NewParameterError(field, d.String(), "must not be negative")
	}

	scaled := d.Mul(decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), uint(bits)), 0)).Truncate(0)
	raw, overflow := uint256.FromBig(scaled.BigInt())
	if overflow || !binary.FitsUint128(raw) {
		return nil, lending.NewParameterError(field, d.String(), "overflows u128")
	}
	return raw, nil
}

// WadToDecimal converts a Solend WAD scaled value.
func WadToDecimal(raw *uint256.Int) decimal.Decimal {
	return decimal.NewFromBigInt(raw.ToBig(), -WadDecimals)
}

// SignedFractionToDecimal converts a two's complement 128 bit fixed point
// value, as used by Marginfi's I80F48.
func SignedFractionToDecimal(raw *uint256.Int, bits int) decimal.Decimal {
	value := raw.ToBig()
	if value.Bit(127) == 1 {
		value.Sub(value, two128)
	}
	scale := decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), uint(bits)), 0)
	return decimal.NewFromBigInt(value, 0).DivRound(scale, divisionPrecision)
}

// CheckedUint64 narrows a 256 bit value to a u64 field.
func CheckedUint64(field string, v *uint256.Int) (uint64, error) {
	if !v.IsUint64() {
		return 0, lending.NewParameterError(field, v.Dec(), "overflows u64")
	}
	return v.Uint64(), nil
}

// CheckedUint32 narrows a u64 to a u32 field.
func CheckedUint32(field string, v uint64) (uint32, error) {
	if v > uint64(^uint32(0)) {
		return 0, lending.NewParameterError(field, decimal.NewFromUint64(v).String(), "overflows u32")
	}
	return uint32(v), nil
}

// CheckedUint16 narrows a u64 to a u16 field.
func CheckedUint16(field string, v uint64) (uint16, error) {
	if v > uint64(^uint16(0)) {
		return 0, lending.NewParameterError(field, decimal.NewFromUint64(v).String(), "overflows u16")
	}
	return uint16(v), nil
}

// CheckedUint8 narrows a u64 to a u8 field.
func CheckedUint8(field string, v uint64) (uint8, error) {
	if v > uint64(^uint8(0)) {
		return 0, lending.NewParameterError(field, decimal.NewFromUint64(v).String(), "overflows u8")
	}
	return uint8(v), nil
}

// Uint128FromDecimal parses a non-negative integral decimal into a u128.
func Uint128FromDecimal(field string, d decimal.Decimal) (*uint256.Int, error) {
	if d.IsNegative() || !d.Equal(d.Truncate(0)) {
		return nil, lending.NewParameterError(field, d.String(), "must be a non-negative integer")
	}
	raw, overflow := uint256.FromBig(d.BigInt())
	if overflow || !binary.FitsUint128(raw) {
		return nil, lending.NewParameterError(field, d.String(), "overflows u128")
	}
	return raw, nil
}

// NativeAmount converts a u64 native amount into a decimal.
func NativeAmount(v uint64) decimal.Decimal {
	return decimal.NewFromUint64(v)
}

// Percent converts a whole percentage into a fraction.
func Percent(v uint64) decimal.Decimal {
	return decimal.NewFromUint64(v).Div(decimal.NewFromInt(100))
}

// BasisPoints converts basis points into a fraction.
func BasisPoints(v uint64) decimal.Decimal {
	return decimal.NewFromUint64(v).Div(decimal.NewFromInt(10_000))
}
