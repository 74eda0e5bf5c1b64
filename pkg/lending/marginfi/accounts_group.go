package marginfi

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58/base58"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/lending/codec"
	"github.com/lendsdk/lendsdk/pkg/solana/binary"
)

var GroupAccountDiscriminator = codec.AccountDiscriminator("MarginfiGroup")

const groupReservedSize = 2 * 32 * 16

const GroupAccountSize = (8 + // discriminator
	32 + // admin
	groupReservedSize)

// Group scopes banks and accounts under one admin.
type Group struct {
	Admin    ed25519.PublicKey
	Reserved [groupReservedSize]byte
}

func (g *Group) Unmarshal(data []byte) error {
	if len(data) != GroupAccountSize {
		return &lending.MalformedAccountError{
			Protocol: lending.ProtocolMarginfi,
			Kind:     AccountGroup,
			Reason:   fmt.Sprintf("expected %d bytes, got %d", GroupAccountSize, len(data)),
		}
	}

	var offset int
	var discriminator []byte
	binary.GetDiscriminator(data, &discriminator, &offset)
	if string(discriminator) != string(GroupAccountDiscriminator) {
		return &lending.MalformedAccountError{
			Protocol: lending.ProtocolMarginfi,
			Kind:     AccountGroup,
			Field:    "discriminator",
			Reason:   fmt.Sprintf("unexpected %x", discriminator),
		}
	}

	binary.GetKey(data, &g.Admin, &offset)
	binary.GetBytes(data, g.Reserved[:], &offset)
	return nil
}

func (g *Group) Marshal() []byte {
	data := make([]byte, GroupAccountSize)

	var offset int
	binary.PutDiscriminator(data, GroupAccountDiscriminator, &offset)
	binary.PutKey(data, g.Admin, &offset)
	binary.PutBytes(data, g.Reserved[:], &offset)
	return data
}

func (g *Group) String() string {
	return fmt.Sprintf("MarginfiGroup{admin=%s}", base58.Encode(g.Admin))
}
