package composer

import (
	"github.com/lendsdk/lendsdk/pkg/config"
	"github.com/lendsdk/lendsdk/pkg/config/env"
	"github.com/lendsdk/lendsdk/pkg/config/memory"
	"github.com/lendsdk/lendsdk/pkg/config/wrapper"
)

const (
	envConfigPrefix = "COMPOSER_"

	BudgetCeilingConfigEnvName = envConfigPrefix + "BUDGET_CEILING"
	defaultBudgetCeiling       = 1_400_000

	ComputeUnitPriceConfigEnvName = envConfigPrefix + "COMPUTE_UNIT_PRICE"
	defaultComputeUnitPrice       = 50_000

	IncludeBudgetInstructionsConfigEnvName = envConfigPrefix + "INCLUDE_BUDGET_INSTRUCTIONS"
	defaultIncludeBudgetInstructions       = false
)

type conf struct {
	budgetCeiling             config.Uint64
	computeUnitPrice          config.Uint64
	includeBudgetInstructions config.Bool
}

// ConfigProvider defines how config values are pulled
type ConfigProvider func() *conf

// WithEnvConfigs returns configuration pulled from environment variables
func WithEnvConfigs() ConfigProvider {
	return func() *conf {
		return &conf{
			budgetCeiling:             env.NewUint64Config(BudgetCeilingConfigEnvName, defaultBudgetCeiling),
			computeUnitPrice:          env.NewUint64Config(ComputeUnitPriceConfigEnvName, defaultComputeUnitPrice),
			includeBudgetInstructions: env.NewBoolConfig(IncludeBudgetInstructionsConfigEnvName, defaultIncludeBudgetInstructions),
		}
	}
}

// Overrides are static composer settings. Zero values fall back to the
// defaults.
type Overrides struct {
	BudgetCeiling             uint64
	ComputeUnitPrice          uint64
	IncludeBudgetInstructions bool
}

// WithOverrides returns configuration backed by in memory values.
func WithOverrides(overrides Overrides) ConfigProvider {
	return func() *conf {
		ceiling := overrides.BudgetCeiling
		if ceiling == 0 {
			ceiling = defaultBudgetCeiling
		}
		price := overrides.ComputeUnitPrice
		if price == 0 {
			price = defaultComputeUnitPrice
		}

		return &conf{
			budgetCeiling:             wrapper.NewUint64Config(memory.NewConfig(ceiling), defaultBudgetCeiling),
			computeUnitPrice:          wrapper.NewUint64Config(memory.NewConfig(price), defaultComputeUnitPrice),
			includeBudgetInstructions: wrapper.NewBoolConfig(memory.NewConfig(overrides.IncludeBudgetInstructions), defaultIncludeBudgetInstructions),
		}
	}
}
