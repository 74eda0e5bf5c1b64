package solana

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"math"
	"sort"

	"github.com/mr-tron/base58/base58"
	"github.com/pkg/errors"
)

// MaxTransactionSize is the largest serialized transaction a validator
// accepts: the IPv6 MTU minus headers.
const MaxTransactionSize = 1232

type Signature [ed25519.SignatureSize]byte
type Blockhash [sha256.Size]byte

type MessageVersion uint8

const (
	MessageVersionLegacy MessageVersion = iota
	MessageVersion0
)

func (v MessageVersion) String() string {
	switch v {
	case MessageVersionLegacy:
		return "legacy"
	case MessageVersion0:
		return "v0"
	default:
		return "unknown"
	}
}

type Header struct {
	NumSignatures     byte
	NumReadonlySigned byte
	NumReadOnly       byte
}

// AddressLookupTable is the on chain content of a lookup table, as needed to
// compile a v0 message against it.
type AddressLookupTable struct {
	PublicKey ed25519.PublicKey
	Addresses []ed25519.PublicKey
}

type MessageAddressTableLookup struct {
	PublicKey       ed25519.PublicKey
	WritableIndexes []byte
	ReadonlyIndexes []byte
}

type Message struct {
	Version             MessageVersion
	Header              Header
	Accounts            []ed25519.PublicKey
	RecentBlockhash     Blockhash
	Instructions        []CompiledInstruction
	AddressTableLookups []MessageAddressTableLookup
}

type Transaction struct {
	Signatures []Signature
	Message    Message
}

// NewTransaction compiles a legacy transaction paid for by payer.
func NewTransaction(payer ed25519.PublicKey, instructions ...Instruction) Transaction {
	return compile(payer, nil, instructions)
}

// NewVersionedTransaction compiles a v0 transaction that loads eligible
// accounts from the lookup tables. When no account can be loaded the result
// is a legacy transaction.
func NewVersionedTransaction(payer ed25519.PublicKey, tables []AddressLookupTable, instructions []Instruction) Transaction {
	return compile(payer, tables, instructions)
}

// messageKey is an account of the message being compiled with its merged
// permissions.
type messageKey struct {
	key      ed25519.PublicKey
	signer   bool
	writable bool
	payer    bool
	program  bool
}

// section orders keys the way the runtime expects them: the payer, writable
// signers, readonly signers, writable accounts, then readonly accounts with
// invoked programs at the very end.
func (k *messageKey) section() int {
	switch {
	case k.payer:
		return 0
	case k.signer && k.writable:
		return 1
	case k.signer:
		return 2
	case k.writable:
		return 3
	case !k.program:
		return 4
	default:
		return 5
	}
}

// loadable reports whether the key may come from a lookup table.
func (k *messageKey) loadable() bool {
	return !k.payer && !k.signer && !k.program
}

type keySet struct {
	index map[string]*messageKey
	keys  []*messageKey
}

func (s *keySet) add(pub ed25519.PublicKey, signer, writable, program bool) {
	pub = normalizeKey(pub)
	if k, ok := s.index[string(pub)]; ok {
		k.signer = k.signer || signer
		k.writable = k.writable || writable
		k.program = k.program || program
		return
	}

	k := &messageKey{key: pub, signer: signer, writable: writable, program: program}
	s.index[string(pub)] = k
	s.keys = append(s.keys, k)
}

func normalizeKey(pub ed25519.PublicKey) ed25519.PublicKey {
	if len(pub) == 0 {
		return make(ed25519.PublicKey, ed25519.PublicKeySize)
	}
	return pub
}

func compile(payer ed25519.PublicKey, tables []AddressLookupTable, instructions []Instruction) Transaction {
	set := &keySet{index: make(map[string]*messageKey)}
	set.add(payer, true, true, false)
	set.index[string(normalizeKey(payer))].payer = true

	for _, ixn := range instructions {
		set.add(ixn.Program, false, false, true)
		for _, meta := range ixn.Accounts {
			set.add(meta.PublicKey, meta.IsSigner, meta.IsWritable, false)
		}
	}

	keys := set.keys
	sort.SliceStable(keys, func(i, j int) bool {
		if si, sj := keys[i].section(), keys[j].section(); si != sj {
			return si < sj
		}
		return bytes.Compare(keys[i].key, keys[j].key) < 0
	})

	sorted := append([]AddressLookupTable(nil), tables...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].PublicKey, sorted[j].PublicKey) < 0
	})
	lookups := make([]MessageAddressTableLookup, len(sorted))

	var m Message
	for _, k := range keys {
		if k.loadable() {
			if table, position, ok := findInTables(sorted, k.key); ok {
				if k.writable {
					lookups[table].WritableIndexes = append(lookups[table].WritableIndexes, position)
				} else {
					lookups[table].ReadonlyIndexes = append(lookups[table].ReadonlyIndexes, position)
				}
				continue
			}
		}

		m.Accounts = append(m.Accounts, k.key)
		switch {
		case k.signer && !k.writable:
			m.Header.NumSignatures++
			m.Header.NumReadonlySigned++
		case k.signer:
			m.Header.NumSignatures++
		case !k.writable:
			m.Header.NumReadOnly++
		}
	}

	// Loaded accounts are indexed after the static ones: every writable
	// address across tables, then every readonly one.
	positions := make(map[string]byte)
	var next int
	assign := func(pub ed25519.PublicKey) {
		positions[string(pub)] = byte(next)
		next++
	}
	for _, pub := range m.Accounts {
		assign(pub)
	}
	for i, lookup := range lookups {
		for _, position := range lookup.WritableIndexes {
			assign(sorted[i].Addresses[position])
		}
	}
	for i, lookup := range lookups {
		for _, position := range lookup.ReadonlyIndexes {
			assign(sorted[i].Addresses[position])
		}
	}

	for _, ixn := range instructions {
		compiled := CompiledInstruction{
			ProgramIndex: positions[string(normalizeKey(ixn.Program))],
			Data:         ixn.Data,
		}
		for _, meta := range ixn.Accounts {
			compiled.Accounts = append(compiled.Accounts, positions[string(normalizeKey(meta.PublicKey))])
		}
		m.Instructions = append(m.Instructions, compiled)
	}

	for i, lookup := range lookups {
		if len(lookup.WritableIndexes) == 0 && len(lookup.ReadonlyIndexes) == 0 {
			continue
		}
		lookup.PublicKey = sorted[i].PublicKey
		m.AddressTableLookups = append(m.AddressTableLookups, lookup)
	}
	if len(m.AddressTableLookups) > 0 {
		m.Version = MessageVersion0
	}

	return Transaction{
		Signatures: make([]Signature, m.Header.NumSignatures),
		Message:    m,
	}
}

// findInTables returns the first table holding pub and its position there.
// Only the first 256 addresses of a table are addressable.
func findInTables(tables []AddressLookupTable, pub ed25519.PublicKey) (int, byte, bool) {
	for i, table := range tables {
		for j, address := range table.Addresses {
			if j > math.MaxUint8 {
				break
			}
			if bytes.Equal(address, pub) {
				return i, byte(j), true
			}
		}
	}
	return 0, 0, false
}

// Signature returns the first signature, which identifies the transaction.
func (t *Transaction) Signature() []byte {
	return t.Signatures[0][:]
}

func (t *Transaction) SetBlockhash(bh Blockhash) {
	t.Message.RecentBlockhash = bh
}

// Sign signs the message with each key. Every key must belong to one of the
// message's signer slots.
func (t *Transaction) Sign(signers ...ed25519.PrivateKey) error {
	message := t.Message.Marshal()

	for _, signer := range signers {
		pub := signer.Public().(ed25519.PublicKey)

		slot := -1
		for i := 0; i < len(t.Signatures) && i < len(t.Message.Accounts); i++ {
			if bytes.Equal(t.Message.Accounts[i], pub) {
				slot = i
				break
			}
		}
		if slot < 0 {
			return errors.Errorf("account %s is not a signer of the transaction", base58.Encode(pub))
		}

		copy(t.Signatures[slot][:], ed25519.Sign(signer, message))
	}
	return nil
}
