// Package codec holds the fixed byte layouts of every supported protocol.
// Protocol packages register their account and instruction schemas at init
// time; decoding and encoding are pure functions of the input bytes.
package codec

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/lendsdk/lendsdk/pkg/lending"
)

// Record is a decoded account that can reproduce its raw bytes.
type Record interface {
	Marshal() []byte
}

// AccountSchema describes one fixed size account layout.
type AccountSchema struct {
	Protocol lending.Protocol
	Name     string
	Kind     lending.AccountKind
	Size     int

	// Discriminator is matched at DiscriminatorOffset. Layouts without a
	// discriminator leave it empty and are identified by size. Solend puts its
	// version byte here.
	Discriminator       []byte
	DiscriminatorOffset int

	Decode func(data []byte) (Record, error)
}

// Check validates the size and discriminator of raw bytes against the schema.
func (s *AccountSchema) Check(data []byte) error {
	if len(data) != s.Size {
		return &lending.MalformedAccountError{
			Protocol: s.Protocol,
			Kind:     s.Name,
			Reason:   fmt.Sprintf("expected %d bytes, got %d", s.Size, len(data)),
		}
	}

	if len(s.Discriminator) > 0 {
		end := s.DiscriminatorOffset + len(s.Discriminator)
		if !bytes.Equal(data[s.DiscriminatorOffset:end], s.Discriminator) {
			return &lending.MalformedAccountError{
				Protocol: s.Protocol,
				Kind:     s.Name,
				Field:    "discriminator",
				Reason:   fmt.Sprintf("expected %x, got %x", s.Discriminator, data[s.DiscriminatorOffset:end]),
			}
		}
	}
	return nil
}

// InstructionSchema describes how to encode one native instruction payload.
type InstructionSchema struct {
	Protocol      lending.Protocol
	Name          string
	Discriminator []byte

	// Encode returns the argument bytes that follow the discriminator.
	Encode func(params interface{}) ([]byte, error)
}

type schemaKey struct {
	protocol lending.Protocol
	name     string
}

// Registry maps (protocol, kind) to account schemas and (protocol, name) to
// instruction schemas.
type Registry struct {
	mu           sync.RWMutex
	accounts     map[schemaKey]*AccountSchema
	instructions map[schemaKey]*InstructionSchema
}

// Default is the process wide registry populated by the protocol packages.
var Default = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{
		accounts:     make(map[schemaKey]*AccountSchema),
		instructions: make(map[schemaKey]*InstructionSchema),
	}
}

// RegisterAccount adds an account schema. Registering the same name twice
// panics, as it indicates two conflicting layouts.
func (r *Registry) RegisterAccount(schema *AccountSchema) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := schemaKey{schema.Protocol, schema.Name}
	if _, ok := r.accounts[key]; ok {
		panic(fmt.Sprintf("codec: duplicate account schema %s/%s", schema.Protocol, schema.Name))
	}
	r.accounts[key] = schema
}

// RegisterInstruction adds an instruction schema.
func (r *Registry) RegisterInstruction(schema *InstructionSchema) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := schemaKey{schema.Protocol, schema.Name}
	if _, ok := r.instructions[key]; ok {
		panic(fmt.Sprintf("codec: duplicate instruction schema %s/%s", schema.Protocol, schema.Name))
	}
	r.instructions[key] = schema
}

// Account returns the schema registered for a native account name.
func (r *Registry) Account(protocol lending.Protocol, name string) (*AccountSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schema, ok := r.accounts[schemaKey{protocol, name}]
	return schema, ok
}

// Accounts returns the schemas of a protocol sorted by name.
func (r *Registry) Accounts(protocol lending.Protocol) []*AccountSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []*AccountSchema
	for key, schema := range r.accounts {
		if key.protocol == protocol {
			res = append(res, schema)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Name < res[j].Name
	})
	return res
}

// DecodeAccount decodes raw bytes with the schema registered for the native
// account name. It never returns a partially populated record.
func (r *Registry) DecodeAccount(protocol lending.Protocol, name string, data []byte) (Record, error) {
	schema, ok := r.Account(protocol, name)
	if !ok {
		return nil, errors.Wrapf(lending.ErrUnsupportedProtocol, "no %s account schema named %q", protocol, name)
	}
	if err := schema.Check(data); err != nil {
		return nil, err
	}

	record, err := schema.Decode(data)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Identify finds the schema matching the size and discriminator of raw bytes.
func (r *Registry) Identify(protocol lending.Protocol, data []byte) (*AccountSchema, error) {
	for _, schema := range r.Accounts(protocol) {
		if schema.Check(data) == nil {
			return schema, nil
		}
	}
	return nil, &lending.MalformedAccountError{
		Protocol: protocol,
		Kind:     "unknown",
		Reason:   fmt.Sprintf("no layout matches %d bytes", len(data)),
	}
}

// EncodeInstruction returns the discriminator followed by the encoded
// arguments.
func (r *Registry) EncodeInstruction(protocol lending.Protocol, name string, params interface{}) ([]byte, error) {
	r.mu.RLock()
	schema, ok := r.instructions[schemaKey{protocol, name}]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(lending.ErrUnsupportedProtocol, "no %s instruction schema named %q", protocol, name)
	}

	args, err := schema.Encode(params)
	if err != nil {
		return nil, err
	}

	data := make([]byte, 0, len(schema.Discriminator)+len(args))
	data = append(data, schema.Discriminator...)
	return append(data, args...), nil
}
