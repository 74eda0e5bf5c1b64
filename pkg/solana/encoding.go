package solana

import (
	"bytes"
	"crypto/ed25519"
	"io"

	"github.com/pkg/errors"

	"github.com/lendsdk/lendsdk/pkg/solana/shortvec"
)

// versionPrefix is set on the first byte of versioned messages. A legacy
// message starts with its signature count, which never has the bit set.
const versionPrefix = 0x80

func (t Transaction) Marshal() []byte {
	b := shortvec.AppendLen(nil, len(t.Signatures))
	for _, s := range t.Signatures {
		b = append(b, s[:]...)
	}
	return append(b, t.Message.Marshal()...)
}

func (t *Transaction) Unmarshal(b []byte) error {
	r := bytes.NewReader(b)

	count, err := shortvec.DecodeLen(r)
	if err != nil {
		return errors.Wrap(err, "failed to read signature count")
	}

	t.Signatures = make([]Signature, count)
	for i := range t.Signatures {
		if _, err := io.ReadFull(r, t.Signatures[i][:]); err != nil {
			return errors.Wrapf(err, "failed to read signature %d", i)
		}
	}

	rest := b[len(b)-r.Len():]
	return t.Message.Unmarshal(rest)
}

func (m Message) Marshal() []byte {
	var b []byte
	switch m.Version {
	case MessageVersionLegacy:
	case MessageVersion0:
		b = append(b, versionPrefix|byte(m.Version-1))
	default:
		panic("unsupported message version " + m.Version.String())
	}

	b = append(b, m.Header.NumSignatures, m.Header.NumReadonlySigned, m.Header.NumReadOnly)

	b = shortvec.AppendLen(b, len(m.Accounts))
	for _, account := range m.Accounts {
		b = append(b, account...)
	}
	b = append(b, m.RecentBlockhash[:]...)

	b = shortvec.AppendLen(b, len(m.Instructions))
	for _, ixn := range m.Instructions {
		b = append(b, ixn.ProgramIndex)
		b = appendBytes(b, ixn.Accounts)
		b = appendBytes(b, ixn.Data)
	}

	if m.Version == MessageVersion0 {
		b = shortvec.AppendLen(b, len(m.AddressTableLookups))
		for _, lookup := range m.AddressTableLookups {
			b = append(b, lookup.PublicKey...)
			b = appendBytes(b, lookup.WritableIndexes)
			b = appendBytes(b, lookup.ReadonlyIndexes)
		}
	}
	return b
}

func appendBytes(b, data []byte) []byte {
	return append(shortvec.AppendLen(b, len(data)), data...)
}

// Unmarshal decodes a legacy or v0 message. Account indexes of a v0 message
// may point past the static accounts into the loaded ones.
func (m *Message) Unmarshal(b []byte) error {
	if len(b) == 0 {
		return errors.New("empty message")
	}

	r := bytes.NewReader(b)
	*m = Message{}

	if b[0]&versionPrefix != 0 {
		version := MessageVersion(b[0]&^versionPrefix) + 1
		if version != MessageVersion0 {
			return errors.Errorf("unsupported message version %d", b[0]&^versionPrefix)
		}
		m.Version = version
		_, _ = r.ReadByte()
	}

	header := make([]byte, 3)
	if _, err := io.ReadFull(r, header); err != nil {
		return errors.Wrap(err, "failed to read header")
	}
	m.Header = Header{NumSignatures: header[0], NumReadonlySigned: header[1], NumReadOnly: header[2]}

	count, err := shortvec.DecodeLen(r)
	if err != nil {
		return errors.Wrap(err, "failed to read account count")
	}
	m.Accounts = make([]ed25519.PublicKey, count)
	for i := range m.Accounts {
		m.Accounts[i] = make(ed25519.PublicKey, ed25519.PublicKeySize)
		if _, err := io.ReadFull(r, m.Accounts[i]); err != nil {
			return errors.Wrapf(err, "failed to read account %d", i)
		}
	}

	if _, err := io.ReadFull(r, m.RecentBlockhash[:]); err != nil {
		return errors.Wrap(err, "failed to read recent blockhash")
	}

	count, err = shortvec.DecodeLen(r)
	if err != nil {
		return errors.Wrap(err, "failed to read instruction count")
	}
	m.Instructions = make([]CompiledInstruction, count)
	for i := range m.Instructions {
		ixn := &m.Instructions[i]
		if ixn.ProgramIndex, err = r.ReadByte(); err != nil {
			return errors.Wrapf(err, "failed to read instruction %d program", i)
		}
		if ixn.Accounts, err = readBytes(r); err != nil {
			return errors.Wrapf(err, "failed to read instruction %d accounts", i)
		}
		if ixn.Data, err = readBytes(r); err != nil {
			return errors.Wrapf(err, "failed to read instruction %d data", i)
		}
	}

	loaded := 0
	if m.Version == MessageVersion0 {
		count, err = shortvec.DecodeLen(r)
		if err != nil {
			return errors.Wrap(err, "failed to read lookup count")
		}
		m.AddressTableLookups = make([]MessageAddressTableLookup, count)
		for i := range m.AddressTableLookups {
			lookup := &m.AddressTableLookups[i]
			lookup.PublicKey = make(ed25519.PublicKey, ed25519.PublicKeySize)
			if _, err := io.ReadFull(r, lookup.PublicKey); err != nil {
				return errors.Wrapf(err, "failed to read lookup %d table", i)
			}
			if lookup.WritableIndexes, err = readBytes(r); err != nil {
				return errors.Wrapf(err, "failed to read lookup %d writable indexes", i)
			}
			if lookup.ReadonlyIndexes, err = readBytes(r); err != nil {
				return errors.Wrapf(err, "failed to read lookup %d readonly indexes", i)
			}
			loaded += len(lookup.WritableIndexes) + len(lookup.ReadonlyIndexes)
		}
	}

	total := len(m.Accounts) + loaded
	for i, ixn := range m.Instructions {
		if int(ixn.ProgramIndex) >= len(m.Accounts) {
			return errors.Errorf("instruction %d program index %d out of range", i, ixn.ProgramIndex)
		}
		for _, index := range ixn.Accounts {
			if int(index) >= total {
				return errors.Errorf("instruction %d account index %d out of range", i, index)
			}
		}
	}
	return nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := shortvec.DecodeLen(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
