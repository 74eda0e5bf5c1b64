package client

import (
	"crypto/ed25519"
	"os"
	"time"

	"github.com/mr-tron/base58/base58"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	xrate "golang.org/x/time/rate"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/lending/composer"
	"github.com/lendsdk/lendsdk/pkg/lending/drift"
	"github.com/lendsdk/lendsdk/pkg/lending/kamino"
	"github.com/lendsdk/lendsdk/pkg/lending/marginfi"
	"github.com/lendsdk/lendsdk/pkg/lending/registry"
	"github.com/lendsdk/lendsdk/pkg/lending/solend"
	"github.com/lendsdk/lendsdk/pkg/rate"
)

// Config is the client configuration, loaded from a file and the
// environment.
type Config struct {
	// ProtocolEndpoints overrides program addresses by protocol name, for
	// forks and test clusters. Values are base58.
	ProtocolEndpoints map[string]string `mapstructure:"protocol_endpoints"`

	// BudgetCeiling caps the compute units of a composed plan. Zero uses the
	// composer's configured ceiling.
	BudgetCeiling uint64 `mapstructure:"budget_ceiling"`

	// ComputeUnitPrice is the priority fee in micro-lamports. Zero uses the
	// composer's configured price.
	ComputeUnitPrice uint64 `mapstructure:"compute_unit_price"`

	StalenessPolicy StalenessPolicy `mapstructure:"staleness_policy"`

	// RPCEndpoints names the JSON RPC URLs the registry reads accounts from.
	RPCEndpoints map[string]string `mapstructure:"rpc_endpoints"`

	// RPCRateLimit caps requests per second to each endpoint. Zero disables
	// throttling.
	RPCRateLimit float64 `mapstructure:"rpc_rate_limit"`
}

// StalenessPolicy bounds the age of the cached state an operation is
// prepared against. A zero duration disables the check.
type StalenessPolicy struct {
	Execution  time.Duration `mapstructure:"execution"`
	Simulation time.Duration `mapstructure:"simulation"`
}

var defaultConfig = Config{
	StalenessPolicy: StalenessPolicy{
		Execution:  30 * time.Second,
		Simulation: 5 * time.Minute,
	},
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	config := defaultConfig
	return &config
}

// LoadConfig reads the configuration file at path, if it exists, and
// applies LENDING_ environment overrides on top.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	_ = v.BindEnv("budget_ceiling", "LENDING_BUDGET_CEILING")
	_ = v.BindEnv("compute_unit_price", "LENDING_COMPUTE_UNIT_PRICE")
	_ = v.BindEnv("staleness_policy.execution", "LENDING_STALENESS_EXECUTION")
	_ = v.BindEnv("staleness_policy.simulation", "LENDING_STALENESS_SIMULATION")
	_ = v.BindEnv("rpc_rate_limit", "LENDING_RPC_RATE_LIMIT")

	if len(path) > 0 {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, errors.Wrapf(err, "failed to read config %s", path)
			}
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "failed to check if config %s exists", path)
		}
	}

	config := defaultConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if _, err := config.ProgramOverrides(); err != nil {
		return nil, err
	}
	return &config, nil
}

// ProgramOverrides parses ProtocolEndpoints.
func (c *Config) ProgramOverrides() (map[lending.Protocol]ed25519.PublicKey, error) {
	res := make(map[lending.Protocol]ed25519.PublicKey, len(c.ProtocolEndpoints))
	for name, encoded := range c.ProtocolEndpoints {
		protocol, err := lending.ParseProtocol(name)
		if err != nil {
			return nil, lending.NewParameterError("protocol_endpoints", name, err.Error())
		}
		program, err := base58.Decode(encoded)
		if err != nil || len(program) != ed25519.PublicKeySize {
			return nil, lending.NewParameterError("protocol_endpoints."+name, encoded, "not a base58 address")
		}
		res[protocol] = program
	}
	return res, nil
}

// MaxStaleness returns the policy bound for execution or simulation.
func (p StalenessPolicy) MaxStaleness(simulation bool) time.Duration {
	if simulation {
		return p.Simulation
	}
	return p.Execution
}

func (c *Config) composeOptions() []composer.Option {
	var opts []composer.Option
	if c.BudgetCeiling > 0 {
		opts = append(opts, composer.WithBudgetCeiling(c.BudgetCeiling))
	}
	if c.ComputeUnitPrice > 0 {
		opts = append(opts, composer.WithComputeUnitPrice(c.ComputeUnitPrice))
	}
	return opts
}

// DefaultAdapters builds an adapter for every supported protocol with the
// configured program overrides applied.
func DefaultAdapters(c *Config) ([]lending.Adapter, error) {
	overrides, err := c.ProgramOverrides()
	if err != nil {
		return nil, err
	}

	var kaminoOpts []kamino.Option
	if program, ok := overrides[lending.ProtocolKamino]; ok {
		kaminoOpts = append(kaminoOpts, kamino.WithProgram(program))
	}
	var marginfiOpts []marginfi.Option
	if program, ok := overrides[lending.ProtocolMarginfi]; ok {
		marginfiOpts = append(marginfiOpts, marginfi.WithProgram(program))
	}
	var solendOpts []solend.Option
	if program, ok := overrides[lending.ProtocolSolend]; ok {
		solendOpts = append(solendOpts, solend.WithProgram(program))
	}
	var driftOpts []drift.Option
	if program, ok := overrides[lending.ProtocolDrift]; ok {
		driftOpts = append(driftOpts, drift.WithProgram(program))
	}

	return []lending.Adapter{
		kamino.New(kaminoOpts...),
		marginfi.New(marginfiOpts...),
		solend.New(solendOpts...),
		drift.New(driftOpts...),
	}, nil
}

// NewRegistry builds a registry over the configured RPC endpoints with the
// default adapters.
func NewRegistry(c *Config, opts ...registry.Option) (*registry.Registry, error) {
	if len(c.RPCEndpoints) == 0 {
		return nil, lending.NewParameterError("rpc_endpoints", "", "at least one endpoint is required")
	}

	adapters, err := DefaultAdapters(c)
	if err != nil {
		return nil, err
	}

	var limiter rate.Limiter
	if c.RPCRateLimit > 0 {
		limiter = rate.NewLocalRateLimiter(xrate.Limit(c.RPCRateLimit), 0)
	}

	fetcher, err := registry.NewEndpointFetcher(c.RPCEndpoints, limiter)
	if err != nil {
		return nil, lending.NewParameterError("rpc_endpoints", "", err.Error())
	}
	return registry.New(fetcher, adapters, opts...), nil
}
