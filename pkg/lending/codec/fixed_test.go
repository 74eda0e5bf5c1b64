package codec

import (
	"crypto/sha256"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/testutil"
)

func TestDiscriminators(t *testing.T) {
	assert.Equal(t, []byte{43, 242, 204, 202, 26, 247, 59, 127}, AccountDiscriminator("Reserve"))

	sum := sha256.Sum256([]byte("global:deposit_reserve_liquidity"))
	assert.Equal(t, sum[:8], InstructionDiscriminator("deposit_reserve_liquidity"))
	assert.NotEqual(t, AccountDiscriminator("User"), InstructionDiscriminator("User"))
}

func TestFractions(t *testing.T) {
	for _, tc := range []struct {
		raw      *uint256.Int
		bits     int
		expected string
	}{
		{new(uint256.Int).Lsh(uint256.NewInt(1), 60), KaminoFractionBits, "1"},
		{new(uint256.Int).Lsh(uint256.NewInt(3), 59), KaminoFractionBits, "1.5"},
		{new(uint256.Int).Lsh(uint256.NewInt(1), 46), MarginfiFractionBits, "0.25"},
		{uint256.NewInt(0), MarginfiFractionBits, "0"},
	} {
		actual := FractionToDecimal(tc.raw, tc.bits)
		assert.True(t, decimal.RequireFromString(tc.expected).Equal(actual), "%s != %s", tc.expected, actual)

		back, err := DecimalToFraction("value", actual, tc.bits)
		require.NoError(t, err)
		assert.Equal(t, tc.raw.Dec(), back.Dec())
	}

	_, err := DecimalToFraction("value", decimal.NewFromInt(-1), KaminoFractionBits)
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)

	_, err = DecimalToFraction("value", decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 70), 0), KaminoFractionBits)
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)
}

func TestSignedFractionToDecimal(t *testing.T) {
	positive := new(uint256.Int).Lsh(uint256.NewInt(3), 47)
	assert.True(t, decimal.RequireFromString("1.5").Equal(SignedFractionToDecimal(positive, MarginfiFractionBits)))

	negative := new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), positive)
	assert.True(t, decimal.RequireFromString("-1.5").Equal(SignedFractionToDecimal(negative, MarginfiFractionBits)))
}

func TestWadToDecimal(t *testing.T) {
	wad := uint256.NewInt(1_000_000_000_000_000_000)
	assert.True(t, decimal.NewFromInt(1).Equal(WadToDecimal(wad)))

	half := uint256.NewInt(500_000_000_000_000_000)
	assert.True(t, decimal.RequireFromString("0.5").Equal(WadToDecimal(half)))
}

func TestCheckedNarrowing(t *testing.T) {
	v, err := CheckedUint64("amount", uint256.NewInt(42))
	require.NoError(t, err)
	assert.EqualValues(t, 42, v)

	_, err = CheckedUint64("amount", new(uint256.Int).Lsh(uint256.NewInt(1), 64))
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)

	_, err = CheckedUint32("amount", 1<<32)
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)
	_, err = CheckedUint16("amount", 1<<16)
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)
	_, err = CheckedUint8("amount", 256)
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)

	u8, err := CheckedUint8("amount", 255)
	require.NoError(t, err)
	assert.EqualValues(t, 255, u8)
}

func TestUint128FromDecimal(t *testing.T) {
	limit := decimal.NewFromBigInt(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1)), 0)
	raw, err := Uint128FromDecimal("value", limit)
	require.NoError(t, err)
	assert.Equal(t, limit.String(), raw.Dec())

	_, err = Uint128FromDecimal("value", limit.Add(decimal.NewFromInt(1)))
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)

	_, err = Uint128FromDecimal("value", decimal.RequireFromString("1.5"))
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)
}

func TestRatios(t *testing.T) {
	assert.True(t, decimal.RequireFromString("0.8").Equal(Percent(80)))
	assert.True(t, decimal.RequireFromString("0.25").Equal(BasisPoints(2_500)))
	assert.True(t, decimal.NewFromInt(7).Equal(NativeAmount(7)))
}
