package composer

import (
	"crypto/ed25519"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/solana"
	"github.com/lendsdk/lendsdk/pkg/solana/computebudget"
	"github.com/lendsdk/lendsdk/pkg/testutil"
)

func setup(t *testing.T, overrides Overrides) *Composer {
	return New(WithOverrides(overrides))
}

func TestCompose_WriteDominance(t *testing.T) {
	c := setup(t, Overrides{})

	program := testutil.NewRandomKey(t)
	owner := testutil.NewRandomKey(t)
	shared := testutil.NewRandomKey(t)
	other := testutil.NewRandomKey(t)

	first := []*lending.InstructionSpec{
		lending.NewInstructionSpec("refresh", program, []byte{1}, 10_000, lending.Readonly(shared), lending.Readonly(other)),
	}
	second := []*lending.InstructionSpec{
		lending.NewInstructionSpec("deposit", program, []byte{2}, 0, lending.ReadonlySigner(owner), lending.Writable(shared)),
	}

	plan, err := c.Compose(first, second)
	require.NoError(t, err)

	require.Len(t, plan.Instructions, 2)
	assert.Equal(t, "refresh", plan.Instructions[0].Label)
	assert.Equal(t, "deposit", plan.Instructions[1].Label)

	require.Len(t, plan.Accounts, 4)
	assert.EqualValues(t, shared, plan.Accounts[0].Address)
	assert.EqualValues(t, other, plan.Accounts[1].Address)
	assert.EqualValues(t, program, plan.Accounts[2].Address)
	assert.EqualValues(t, owner, plan.Accounts[3].Address)

	account, ok := plan.Account(shared)
	require.True(t, ok)
	assert.True(t, account.Role.Writable)
	assert.False(t, account.Role.Signer)

	account, ok = plan.Account(program)
	require.True(t, ok)
	assert.True(t, account.Program)
	assert.False(t, account.Role.Writable)

	require.Len(t, plan.Signers, 1)
	assert.EqualValues(t, owner, plan.Signers[0])

	assert.EqualValues(t, 10_000+lending.DefaultComputeUnits, plan.ComputeUnits)
	assert.EqualValues(t, defaultComputeUnitPrice, plan.ComputeUnitPrice)
	assert.Zero(t, plan.EstimatedSize)
	assert.NotEqual(t, plan.ID.String(), "")
}

func TestCompose_SignerUnion(t *testing.T) {
	c := setup(t, Overrides{})

	program := testutil.NewRandomKey(t)
	authority := testutil.NewRandomKey(t)

	plan, err := c.Compose([]*lending.InstructionSpec{
		lending.NewInstructionSpec("a", program, nil, 1, lending.Writable(authority)),
		lending.NewInstructionSpec("b", program, nil, 1, lending.ReadonlySigner(authority)),
	})
	require.NoError(t, err)

	account, ok := plan.Account(authority)
	require.True(t, ok)
	assert.Equal(t, lending.AccountRole{Writable: true, Signer: true}, account.Role)
	require.Len(t, plan.Signers, 1)
}

func TestCompose_BudgetExceeded(t *testing.T) {
	c := setup(t, Overrides{BudgetCeiling: 1_000_000})
	program := testutil.NewRandomKey(t)

	specs := []*lending.InstructionSpec{
		lending.NewInstructionSpec("a", program, nil, 600_000),
		lending.NewInstructionSpec("b", program, nil, 600_000),
	}

	_, err := c.Compose(specs)
	testutil.AssertErrorIs(t, err, lending.ErrBudgetExceeded)

	budgetErr, ok := err.(*lending.BudgetError)
	require.True(t, ok)
	assert.EqualValues(t, 1_200_000, budgetErr.Requested)
	assert.EqualValues(t, 1_000_000, budgetErr.Ceiling)

	plan, err := c.ComposeWithOptions([]Option{WithBudgetCeiling(1_200_000)}, specs)
	require.NoError(t, err)
	assert.EqualValues(t, 1_200_000, plan.ComputeUnits)

	_, err = c.Compose(specs[:1], specs[1:], specs[:1])
	testutil.AssertErrorIs(t, err, lending.ErrBudgetExceeded)
}

func TestCompose_UnitsOverflow(t *testing.T) {
	c := setup(t, Overrides{})
	program := testutil.NewRandomKey(t)

	specs := []*lending.InstructionSpec{
		lending.NewInstructionSpec("a", program, nil, math.MaxUint32),
		lending.NewInstructionSpec("b", program, nil, 1),
	}

	plan, err := c.ComposeWithOptions([]Option{WithBudgetCeiling(math.MaxUint64)}, specs)
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)
	assert.Nil(t, plan)

	plan, err = c.ComposeWithOptions([]Option{WithBudgetCeiling(math.MaxUint64)}, specs[:1])
	require.NoError(t, err)
	assert.EqualValues(t, math.MaxUint32, plan.ComputeUnits)
}

func TestCompose_BudgetInstructions(t *testing.T) {
	c := setup(t, Overrides{ComputeUnitPrice: 1_000, IncludeBudgetInstructions: true})
	program := testutil.NewRandomKey(t)

	plan, err := c.Compose([]*lending.InstructionSpec{
		lending.NewInstructionSpec("a", program, nil, 90_000),
	})
	require.NoError(t, err)

	require.Len(t, plan.Instructions, 3)
	assert.EqualValues(t, computebudget.ProgramKey, plan.Instructions[0].Program)

	limit, err := computebudget.DecodeComputeUnitLimit(plan.Instructions[0].Data)
	require.NoError(t, err)
	assert.EqualValues(t, 90_000, limit)

	price, err := computebudget.DecodeComputeUnitPrice(plan.Instructions[1].Data)
	require.NoError(t, err)
	assert.EqualValues(t, 1_000, price)
	assert.EqualValues(t, 1_000, plan.ComputeUnitPrice)
	assert.EqualValues(t, 90_000, plan.ComputeUnits)

	account, ok := plan.Account(computebudget.ProgramKey)
	require.True(t, ok)
	assert.True(t, account.Program)

	plan, err = c.ComposeWithOptions([]Option{WithBudgetInstructions(false), WithComputeUnitPrice(7)}, []*lending.InstructionSpec{
		lending.NewInstructionSpec("a", program, nil, 90_000),
	})
	require.NoError(t, err)
	require.Len(t, plan.Instructions, 1)
	assert.EqualValues(t, 7, plan.ComputeUnitPrice)
}

func TestCompose_Size(t *testing.T) {
	c := setup(t, Overrides{})
	payer := testutil.NewRandomKey(t)
	program := testutil.NewRandomKey(t)

	plan, err := c.ComposeWithOptions([]Option{WithPayer(payer)}, []*lending.InstructionSpec{
		lending.NewInstructionSpec("a", program, []byte{1, 2, 3}, 0, lending.Writable(testutil.NewRandomKey(t))),
	})
	require.NoError(t, err)
	assert.True(t, plan.EstimatedSize > 0)
	assert.EqualValues(t, payer, plan.Accounts[0].Address)
	assert.Equal(t, lending.AccountRole{Writable: true, Signer: true}, plan.Accounts[0].Role)
	require.Len(t, plan.Signers, 1)
	assert.EqualValues(t, payer, plan.Signers[0])
	assert.Len(t, plan.Transaction(payer).Marshal(), plan.EstimatedSize)

	accounts := make([]lending.AddressRole, 40)
	for i := range accounts {
		accounts[i] = lending.Writable(testutil.NewRandomKey(t))
	}
	_, err = c.ComposeWithOptions([]Option{WithPayer(payer)}, []*lending.InstructionSpec{
		lending.NewInstructionSpec("wide", program, nil, 1_000, accounts...),
	})
	testutil.AssertErrorIs(t, err, lending.ErrTransactionTooLarge)

	// Without a payer the size is not known.
	plan, err = c.Compose([]*lending.InstructionSpec{
		lending.NewInstructionSpec("wide", program, nil, 1_000, accounts...),
	})
	require.NoError(t, err)
	assert.Zero(t, plan.EstimatedSize)
}

func TestCompose_LookupTables(t *testing.T) {
	c := setup(t, Overrides{})
	payer := testutil.NewRandomKey(t)
	program := testutil.NewRandomKey(t)

	table := solana.AddressLookupTable{PublicKey: testutil.NewRandomKey(t)}
	accounts := make([]lending.AddressRole, 40)
	for i := range accounts {
		accounts[i] = lending.Writable(testutil.NewRandomKey(t))
		table.Addresses = append(table.Addresses, accounts[i].Address)
	}

	plan, err := c.ComposeWithOptions([]Option{WithPayer(payer), WithLookupTables(table)}, []*lending.InstructionSpec{
		lending.NewInstructionSpec("wide", program, nil, 1_000, accounts...),
	})
	require.NoError(t, err)
	assert.True(t, plan.EstimatedSize <= solana.MaxTransactionSize)
	require.Len(t, plan.LookupTables, 1)

	txn := plan.Transaction(payer)
	assert.Equal(t, solana.MessageVersion0, txn.Message.Version)
	assert.Len(t, txn.Message.Accounts, 2)
	assert.Len(t, txn.Marshal(), plan.EstimatedSize)
}

func TestCompose_InvalidInput(t *testing.T) {
	c := setup(t, Overrides{})

	_, err := c.Compose()
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)

	_, err = c.Compose([]*lending.InstructionSpec{nil})
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)

	_, err = c.Compose([]*lending.InstructionSpec{
		{Program: ed25519.PublicKey{1, 2, 3}, Label: "broken"},
	})
	testutil.AssertErrorIs(t, err, lending.ErrInvalidParameter)
}

func TestWithEnvConfigs(t *testing.T) {
	t.Setenv(BudgetCeilingConfigEnvName, "1000")
	t.Setenv(IncludeBudgetInstructionsConfigEnvName, "true")

	c := New(WithEnvConfigs())
	program := testutil.NewRandomKey(t)

	_, err := c.Compose([]*lending.InstructionSpec{lending.NewInstructionSpec("a", program, nil, 1_001)})
	testutil.AssertErrorIs(t, err, lending.ErrBudgetExceeded)

	plan, err := c.Compose([]*lending.InstructionSpec{lending.NewInstructionSpec("a", program, nil, 1_000)})
	require.NoError(t, err)
	assert.Len(t, plan.Instructions, 3)
	assert.EqualValues(t, defaultComputeUnitPrice, plan.ComputeUnitPrice)
}
