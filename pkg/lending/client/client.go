// Package client is the entry point of the SDK. It routes protocol agnostic
// operations to the adapter of their protocol, prepares them against cached
// registry state and composes the result into a transaction plan.
package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"time"

	"github.com/mr-tron/base58/base58"
	"github.com/sirupsen/logrus"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/lending/composer"
	"github.com/lendsdk/lendsdk/pkg/metrics"
	"github.com/lendsdk/lendsdk/pkg/pointer"
)

const (
	metricsStructName   = "lending.client"
	planEventName       = "LendingPlanComposed"
	planCountMetricName = "lending.client.plans"
)

// Registry is the read side of the account cache.
type Registry interface {
	GetMarket(protocol lending.Protocol, address ed25519.PublicKey) (*lending.Market, error)
	Position(protocol lending.Protocol, ref lending.PositionRef) (*lending.Position, error)
}

// Client never fetches and never caches. Everything it needs comes from the
// injected registry, so it is safe for concurrent use.
type Client struct {
	log      *logrus.Entry
	registry Registry
	composer *composer.Composer
	config   *Config
	adapters map[lending.Protocol]lending.Adapter
	now      func() time.Time
}

// New returns a client routing to the given adapters. A program override in
// the configuration must match the adapter registered for its protocol.
func New(registry Registry, composer *composer.Composer, config *Config, adapters ...lending.Adapter) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	overrides, err := config.ProgramOverrides()
	if err != nil {
		return nil, err
	}

	byProtocol := make(map[lending.Protocol]lending.Adapter, len(adapters))
	for _, adapter := range adapters {
		protocol := adapter.Protocol()
		if _, ok := byProtocol[protocol]; ok {
			return nil, lending.NewParameterError("adapters", protocol.String(), "duplicate adapter")
		}
		if program, ok := overrides[protocol]; ok && !bytes.Equal(program, adapter.ProgramID()) {
			return nil, lending.NewParameterError(
				"protocol_endpoints."+protocol.String(),
				base58.Encode(program),
				"adapter targets "+base58.Encode(adapter.ProgramID()),
			)
		}
		byProtocol[protocol] = adapter
	}

	return &Client{
		log:      logrus.StandardLogger().WithField("type", "lending/client"),
		registry: registry,
		composer: composer,
		config:   config,
		adapters: byProtocol,
		now:      time.Now,
	}, nil
}

type executeOptions struct {
	maxStaleness   *time.Duration
	simulation     bool
	composeOptions []composer.Option
}

// Option changes how a single Execute call is carried out.
type Option func(*executeOptions)

// WithMaxStaleness overrides the staleness policy for one call. Zero disables
// the check.
func WithMaxStaleness(d time.Duration) Option {
	return func(o *executeOptions) {
		o.maxStaleness = pointer.To(d)
	}
}

// ForSimulation applies the simulation staleness bound instead of the
// execution one.
func ForSimulation() Option {
	return func(o *executeOptions) {
		o.simulation = true
	}
}

// WithComposeOptions forwards options to the composer.
func WithComposeOptions(opts ...composer.Option) Option {
	return func(o *executeOptions) {
		o.composeOptions = append(o.composeOptions, opts...)
	}
}

// Extend returns the adapter of a protocol for protocol specific calls.
func (c *Client) Extend(protocol lending.Protocol) (lending.Adapter, error) {
	adapter, ok := c.adapters[protocol]
	if !ok {
		return nil, lending.NewParameterError("protocol", protocol.String(), lending.ErrUnsupportedProtocol.Error())
	}
	return adapter, nil
}

// Execute prepares one operation and composes it into a plan paid for by the
// operation's fee payer.
func (c *Client) Execute(ctx context.Context, op *lending.Operation, opts ...Option) (*lending.TransactionPlan, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "Execute")
	defer tracer.End()
	traceOperation(tracer, op)

	plan, err := c.execute(ctx, []*lending.Operation{op}, opts)
	if err != nil {
		tracer.OnError(err)
		return nil, err
	}
	return plan, nil
}

// ExecuteAll prepares several operations and composes them into one plan, in
// the order given. The first operation's fee payer pays for the plan.
func (c *Client) ExecuteAll(ctx context.Context, ops []*lending.Operation, opts ...Option) (*lending.TransactionPlan, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "ExecuteAll")
	defer tracer.End()
	tracer.AddAttribute("operations", len(ops))

	plan, err := c.execute(ctx, ops, opts)
	if err != nil {
		tracer.OnError(err)
		return nil, err
	}
	return plan, nil
}

// Prepare returns the instructions of an operation without composing them.
func (c *Client) Prepare(ctx context.Context, op *lending.Operation, opts ...Option) ([]*lending.InstructionSpec, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "Prepare")
	defer tracer.End()
	traceOperation(tracer, op)

	specs, err := c.prepare(op, c.options(opts))
	if err != nil {
		tracer.OnError(err)
		return nil, err
	}
	return specs, nil
}

func traceOperation(tracer *metrics.MethodTracer, op *lending.Operation) {
	if op == nil {
		return
	}
	tracer.AddAttributes(map[string]interface{}{
		"protocol":  op.Protocol.String(),
		"operation": op.Kind.String(),
	})
}

func (c *Client) options(opts []Option) *executeOptions {
	options := &executeOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

func (c *Client) execute(ctx context.Context, ops []*lending.Operation, opts []Option) (*lending.TransactionPlan, error) {
	if len(ops) == 0 {
		return nil, lending.NewParameterError("operations", "0", "nothing to execute")
	}

	options := c.options(opts)

	prepared := make([][]*lending.InstructionSpec, len(ops))
	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		specs, err := c.prepare(op, options)
		if err != nil {
			return nil, err
		}
		prepared[i] = specs
	}

	composeOpts := []composer.Option{composer.WithPayer(ops[0].FeePayer())}
	composeOpts = append(composeOpts, c.config.composeOptions()...)
	composeOpts = append(composeOpts, options.composeOptions...)

	plan, err := c.composer.ComposeWithOptions(composeOpts, prepared...)
	if err != nil {
		return nil, err
	}

	metrics.RecordCount(ctx, planCountMetricName, 1)
	metrics.RecordEvent(ctx, planEventName, map[string]interface{}{
		"protocol":      ops[0].Protocol.String(),
		"operations":    len(ops),
		"instructions":  len(plan.Instructions),
		"compute_units": plan.ComputeUnits,
		"size":          plan.EstimatedSize,
	})

	c.log.WithFields(logrus.Fields{
		"method":     "Execute",
		"protocol":   ops[0].Protocol.String(),
		"operations": len(ops),
		"plan":       plan.ID.String(),
	}).Debug("built transaction plan")

	return plan, nil
}

func (c *Client) prepare(op *lending.Operation, options *executeOptions) ([]*lending.InstructionSpec, error) {
	if op == nil {
		return nil, lending.NewParameterError("operation", "", "operation is required")
	}
	if err := op.Validate(); err != nil {
		return nil, err
	}

	adapter, err := c.Extend(op.Protocol)
	if err != nil {
		return nil, err
	}

	var market *lending.Market
	if len(op.Market) > 0 {
		market, err = c.registry.GetMarket(op.Protocol, op.Market)
		if err != nil {
			return nil, err
		}
	}

	ref := op.Position
	if op.Kind == lending.OperationLiquidate {
		ref = op.Liquidation.Violator
	}
	position, err := c.registry.Position(op.Protocol, ref)
	if err != nil {
		return nil, err
	}

	if err := c.checkStaleness(op.Protocol, market, position, options); err != nil {
		return nil, err
	}

	specs, err := adapter.Prepare(op, market, position)
	if err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{
			"method":    "prepare",
			"protocol":  op.Protocol.String(),
			"operation": op.Kind.String(),
		}).Debug("operation not prepared")
		return nil, err
	}
	return specs, nil
}

// checkStaleness rejects state older than the policy allows. Leg snapshots
// count too since they feed the health check.
func (c *Client) checkStaleness(protocol lending.Protocol, market *lending.Market, position *lending.Position, options *executeOptions) error {
	maxAge := pointer.OrDefault(options.maxStaleness, c.config.StalenessPolicy.MaxStaleness(options.simulation))
	if maxAge <= 0 {
		return nil
	}

	now := c.now()
	stale := func(fetchedAt time.Time) bool {
		return now.Sub(fetchedAt) > maxAge
	}

	if market != nil && stale(market.FetchedAt) {
		return &lending.NotCachedError{Protocol: protocol, Key: market.AddressString(), Stale: true}
	}
	if position == nil {
		return nil
	}
	if stale(position.FetchedAt) {
		return &lending.NotCachedError{Protocol: protocol, Key: position.Key(), Stale: true}
	}
	for _, legs := range [][]lending.PositionLeg{position.Deposits, position.Borrows} {
		for _, leg := range legs {
			if leg.Snapshot != nil && stale(leg.Snapshot.FetchedAt) {
				return &lending.NotCachedError{Protocol: protocol, Key: leg.Snapshot.AddressString(), Stale: true}
			}
		}
	}
	return nil
}
