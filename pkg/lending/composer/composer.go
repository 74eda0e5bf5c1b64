// Package composer merges the instruction specs of one or more prepared
// operations into a single transaction plan.
package composer

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/google/uuid"
	"github.com/mr-tron/base58/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/lending/codec"
	"github.com/lendsdk/lendsdk/pkg/pointer"
	"github.com/lendsdk/lendsdk/pkg/solana"
	"github.com/lendsdk/lendsdk/pkg/solana/computebudget"
)

// budgetInstructionUnits is charged by the runtime for each compute budget
// instruction. It is not counted against the ceiling.
const budgetInstructionUnits = 150

// Composer is stateless apart from its configuration and is safe for
// concurrent use.
type Composer struct {
	log  *logrus.Entry
	conf *conf
	now  func() time.Time
}

func New(configProvider ConfigProvider) *Composer {
	return &Composer{
		log:  logrus.StandardLogger().WithField("type", "lending/composer"),
		conf: configProvider(),
		now:  time.Now,
	}
}

type composeOptions struct {
	payer                     ed25519.PublicKey
	budgetCeiling             uint64
	computeUnitPrice          uint64
	includeBudgetInstructions *bool
	lookupTables              []solana.AddressLookupTable
}

// Option overrides configuration for a single composition.
type Option func(*composeOptions)

// WithPayer sets the fee payer. The payer becomes the first plan account and
// the serialized size of the transaction is checked.
func WithPayer(payer ed25519.PublicKey) Option {
	return func(o *composeOptions) {
		o.payer = payer
	}
}

func WithBudgetCeiling(ceiling uint64) Option {
	return func(o *composeOptions) {
		o.budgetCeiling = ceiling
	}
}

func WithComputeUnitPrice(price uint64) Option {
	return func(o *composeOptions) {
		o.computeUnitPrice = price
	}
}

// WithBudgetInstructions controls whether SetComputeUnitLimit and
// SetComputeUnitPrice are prepended to the plan.
func WithBudgetInstructions(include bool) Option {
	return func(o *composeOptions) {
		o.includeBudgetInstructions = pointer.To(include)
	}
}

// WithLookupTables sizes the plan as a v0 transaction loading accounts from
// the given tables.
func WithLookupTables(tables ...solana.AddressLookupTable) Option {
	return func(o *composeOptions) {
		o.lookupTables = append(o.lookupTables, tables...)
	}
}

// Compose flattens the instruction lists in the order given and builds the
// plan with the configured defaults.
func (c *Composer) Compose(specs ...[]*lending.InstructionSpec) (*lending.TransactionPlan, error) {
	return c.ComposeWithOptions(nil, specs...)
}

// ComposeWithOptions is Compose with per call overrides.
func (c *Composer) ComposeWithOptions(opts []Option, specs ...[]*lending.InstructionSpec) (*lending.TransactionPlan, error) {
	ctx := context.Background()

	options := &composeOptions{
		budgetCeiling:    c.conf.budgetCeiling.Get(ctx),
		computeUnitPrice: c.conf.computeUnitPrice.Get(ctx),
	}
	for _, opt := range opts {
		opt(options)
	}
	includeBudget := pointer.OrDefault(options.includeBudgetInstructions, c.conf.includeBudgetInstructions.Get(ctx))

	var flattened []*lending.InstructionSpec
	for _, list := range specs {
		for _, spec := range list {
			if spec == nil {
				continue
			}
			flattened = append(flattened, spec)
		}
	}
	if len(flattened) == 0 {
		return nil, lending.NewParameterError("specs", "0", "nothing to compose")
	}

	var requested uint64
	for _, spec := range flattened {
		if len(spec.Program) != ed25519.PublicKeySize {
			return nil, lending.NewParameterError("spec.program", spec.Label, "invalid program address")
		}
		requested += uint64(spec.EstimatedComputeUnits())
	}
	if requested > options.budgetCeiling {
		return nil, &lending.BudgetError{Requested: requested, Ceiling: options.budgetCeiling}
	}
	units, err := codec.CheckedUint32("compute_units", requested)
	if err != nil {
		return nil, err
	}

	instructions := flattened
	if includeBudget {
		limit := lending.FromInstruction(
			"SetComputeUnitLimit",
			computebudget.SetComputeUnitLimit(units),
			budgetInstructionUnits,
		)
		price := lending.FromInstruction(
			"SetComputeUnitPrice",
			computebudget.SetComputeUnitPrice(options.computeUnitPrice),
			budgetInstructionUnits,
		)
		instructions = append([]*lending.InstructionSpec{limit, price}, flattened...)
	}

	plan := &lending.TransactionPlan{
		ID:               uuid.New(),
		CreatedAt:        c.now(),
		Instructions:     instructions,
		Accounts:         mergeAccounts(options.payer, instructions),
		ComputeUnits:     units,
		ComputeUnitPrice: options.computeUnitPrice,
		LookupTables:     options.lookupTables,
	}
	for _, account := range plan.Accounts {
		if account.Role.Signer {
			plan.Signers = append(plan.Signers, account.Address)
		}
	}

	if len(options.payer) > 0 {
		size := len(plan.Transaction(options.payer).Marshal())
		if size > solana.MaxTransactionSize {
			return nil, errors.Wrapf(lending.ErrTransactionTooLarge, "%d bytes exceeds %d", size, solana.MaxTransactionSize)
		}
		plan.EstimatedSize = size
	}

	c.log.WithFields(logrus.Fields{
		"method":       "Compose",
		"plan":         plan.ID.String(),
		"instructions": len(plan.Instructions),
		"accounts":     len(plan.Accounts),
		"units":        plan.ComputeUnits,
	}).Debug("composed transaction plan")

	return plan, nil
}

// mergeAccounts deduplicates addresses in first seen order. Roles are unioned
// so that any writer makes the slot writable and any signer makes it a signer.
func mergeAccounts(payer ed25519.PublicKey, instructions []*lending.InstructionSpec) []lending.PlanAccount {
	merged := linkedhashmap.New()
	add := func(address ed25519.PublicKey, role lending.AccountRole, program bool) {
		key := base58.Encode(address)
		if existing, ok := merged.Get(key); ok {
			account := existing.(*lending.PlanAccount)
			account.Role = account.Role.Union(role)
			account.Program = account.Program || program
			return
		}
		merged.Put(key, &lending.PlanAccount{
			Address: append(ed25519.PublicKey(nil), address...),
			Role:    role,
			Program: program,
		})
	}

	if len(payer) > 0 {
		add(payer, lending.AccountRole{Writable: true, Signer: true}, false)
	}
	for _, ixn := range instructions {
		for _, account := range ixn.Accounts {
			add(account.Address, account.Role, false)
		}
		add(ixn.Program, lending.AccountRole{}, true)
	}

	accounts := make([]lending.PlanAccount, 0, merged.Size())
	for _, value := range merged.Values() {
		accounts = append(accounts, *value.(*lending.PlanAccount))
	}
	return accounts
}
