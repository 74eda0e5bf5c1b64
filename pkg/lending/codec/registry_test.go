package codec

import (
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/testutil"
)

type counter struct {
	raw   []byte
	value uint64
}

func (c *counter) Marshal() []byte {
	return append([]byte(nil), c.raw...)
}

func newTestRegistry() *Registry {
	r := NewRegistry()
	r.RegisterAccount(&AccountSchema{
		Protocol:      lending.ProtocolKamino,
		Name:          "Counter",
		Kind:          lending.KindMarket,
		Size:          16,
		Discriminator: AccountDiscriminator("Counter"),
		Decode: func(data []byte) (Record, error) {
			return &counter{raw: append([]byte(nil), data...), value: binary.LittleEndian.Uint64(data[8:])}, nil
		},
	})
	r.RegisterAccount(&AccountSchema{
		Protocol: lending.ProtocolSolend,
		Name:     "Sized",
		Kind:     lending.KindPosition,
		Size:     4,
		Decode: func(data []byte) (Record, error) {
			if data[0] == 0xff {
				return nil, errors.New("bad version")
			}
			return &counter{raw: append([]byte(nil), data...)}, nil
		},
	})
	r.RegisterInstruction(&InstructionSchema{
		Protocol:      lending.ProtocolKamino,
		Name:          "bump",
		Discriminator: InstructionDiscriminator("bump"),
		Encode: func(params interface{}) ([]byte, error) {
			amount, ok := params.(uint64)
			if !ok {
				return nil, lending.NewParameterError("amount", "", "expected u64")
			}
			b := make([]byte, 8)
			binary.LittleEndian.PutUint64(b, amount)
			return b, nil
		},
	})
	return r
}

func counterBytes(value uint64) []byte {
	b := make([]byte, 16)
	copy(b, AccountDiscriminator("Counter"))
	binary.LittleEndian.PutUint64(b[8:], value)
	return b
}

func TestRegistry_DecodeAccount(t *testing.T) {
	r := newTestRegistry()

	raw := counterBytes(7)
	record, err := r.DecodeAccount(lending.ProtocolKamino, "Counter", raw)
	require.NoError(t, err)
	assert.EqualValues(t, 7, record.(*counter).value)
	assert.Equal(t, raw, record.Marshal())

	_, err = r.DecodeAccount(lending.ProtocolKamino, "Counter", raw[:15])
	testutil.AssertErrorIs(t, err, lending.ErrMalformedAccount)

	corrupted := counterBytes(7)
	corrupted[0] ^= 0xff
	record, err = r.DecodeAccount(lending.ProtocolKamino, "Counter", corrupted)
	testutil.AssertErrorIs(t, err, lending.ErrMalformedAccount)
	assert.Nil(t, record)

	malformed, ok := err.(*lending.MalformedAccountError)
	require.True(t, ok)
	assert.Equal(t, "discriminator", malformed.Field)

	_, err = r.DecodeAccount(lending.ProtocolKamino, "Missing", raw)
	testutil.AssertErrorIs(t, err, lending.ErrUnsupportedProtocol)

	_, err = r.DecodeAccount(lending.ProtocolSolend, "Sized", []byte{0xff, 0, 0, 0})
	assert.Error(t, err)
}

func TestRegistry_Identify(t *testing.T) {
	r := newTestRegistry()

	schema, err := r.Identify(lending.ProtocolKamino, counterBytes(1))
	require.NoError(t, err)
	assert.Equal(t, "Counter", schema.Name)
	assert.Equal(t, lending.KindMarket, schema.Kind)

	schema, err = r.Identify(lending.ProtocolSolend, []byte{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, "Sized", schema.Name)

	_, err = r.Identify(lending.ProtocolSolend, []byte{1, 2, 3})
	testutil.AssertErrorIs(t, err, lending.ErrMalformedAccount)

	// Schemas are scoped by protocol.
	_, err = r.Identify(lending.ProtocolDrift, counterBytes(1))
	testutil.AssertErrorIs(t, err, lending.ErrMalformedAccount)

	require.Len(t, r.Accounts(lending.ProtocolKamino), 1)
	assert.Empty(t, r.Accounts(lending.ProtocolMarginfi))
}

func TestRegistry_EncodeInstruction(t *testing.T) {
	r := newTestRegistry()

	data, err := r.EncodeInstruction(lending.ProtocolKamino, "bump", uint64(5))
	require.NoError(t, err)
	require.Len(t, data, 16)
	assert.Equal(t, InstructionDiscriminator("bump"), data[:8])
	assert.EqualValues(t, 5, binary.LittleEndian.Uint64(data[8:]))

	_, err = r.EncodeInstruction(lending.ProtocolKamino, "bump", "five")
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)

	_, err = r.EncodeInstruction(lending.ProtocolMarginfi, "bump", uint64(5))
	testutil.AssertErrorIs(t, err, lending.ErrUnsupportedProtocol)
}

func TestRegistry_DuplicateSchema(t *testing.T) {
	r := newTestRegistry()

	assert.Panics(t, func() {
		r.RegisterAccount(&AccountSchema{Protocol: lending.ProtocolKamino, Name: "Counter"})
	})
	assert.Panics(t, func() {
		r.RegisterInstruction(&InstructionSchema{Protocol: lending.ProtocolKamino, Name: "bump"})
	})
}

func TestKeys(t *testing.T) {
	key := testutil.NewRandomKey(t)
	zero := make([]byte, 32)

	assert.True(t, IsZeroKey(nil))
	assert.True(t, IsZeroKey(zero))
	assert.False(t, IsZeroKey(key))

	fallback := testutil.NewRandomKey(t)
	assert.EqualValues(t, fallback, OptionalKey(zero, fallback))
	assert.EqualValues(t, key, OptionalKey(key, fallback))

	keys := NonZeroKeys(zero, key, nil)
	require.Len(t, keys, 1)
	assert.EqualValues(t, key, keys[0])

	assert.Len(t, MustAddress("11111111111111111111111111111111"), 32)
	assert.Panics(t, func() { MustAddress("0OIl") })
	assert.Panics(t, func() { MustAddress("1111") })
}
