package registry

import (
	"context"
	"crypto/ed25519"
	base "sync"
	"time"

	"github.com/mr-tron/base58/base58"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/lendsdk/lendsdk/pkg/lending"
)

// DefaultPollSchedule refreshes tracked accounts roughly every 25 slots.
const DefaultPollSchedule = "@every 10s"

// Poller periodically refreshes a tracked set of markets and positions.
type Poller struct {
	log      *logrus.Entry
	registry *Registry
	timeout  time.Duration

	mu        base.Mutex
	accounts  map[lending.Protocol]map[string]ed25519.PublicKey
	positions map[string]trackedPosition
	sets      map[string]trackedMarketSet

	cron    *cron.Cron
	running bool
}

type trackedMarketSet struct {
	protocol lending.Protocol
	group    ed25519.PublicKey
}

type trackedPosition struct {
	protocol lending.Protocol
	ref      lending.PositionRef
}

// NewPoller returns a poller that bounds each round by timeout.
func NewPoller(registry *Registry, timeout time.Duration) *Poller {
	return &Poller{
		log:       logrus.StandardLogger().WithField("type", "lending/registry/poller"),
		registry:  registry,
		timeout:   timeout,
		accounts:  make(map[lending.Protocol]map[string]ed25519.PublicKey),
		positions: make(map[string]trackedPosition),
		sets:      make(map[string]trackedMarketSet),
	}
}

// Track adds market or position addresses to every round.
func (p *Poller) Track(protocol lending.Protocol, addresses ...ed25519.PublicKey) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tracked, ok := p.accounts[protocol]
	if !ok {
		tracked = make(map[string]ed25519.PublicKey)
		p.accounts[protocol] = tracked
	}
	for _, address := range addresses {
		tracked[string(address)] = address
	}
}

// TrackPosition adds a position reference, refreshed through
// Registry.RefreshPosition so missing accounts are cached as empty.
func (p *Poller) TrackPosition(protocol lending.Protocol, ref lending.PositionRef) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.positions[indexKey(protocol, ref.Key())+"/"+string(ref.Address)] = trackedPosition{protocol: protocol, ref: ref}
}

// TrackMarketSet rediscovers every market of a group on each round through
// Registry.RefreshMarketSet, so markets listed after tracking started are
// picked up.
func (p *Poller) TrackMarketSet(protocol lending.Protocol, group ed25519.PublicKey) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sets[indexKey(protocol, base58.Encode(group))] = trackedMarketSet{protocol: protocol, group: group}
}

// Untrack removes addresses from the tracked set.
func (p *Poller) Untrack(protocol lending.Protocol, addresses ...ed25519.PublicKey) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, address := range addresses {
		delete(p.accounts[protocol], string(address))
	}
}

// Start schedules rounds with a cron spec such as DefaultPollSchedule.
func (p *Poller) Start(schedule string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return errors.New("poller already started")
	}

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(schedule, p.round); err != nil {
		return errors.Wrapf(err, "invalid poll schedule %q", schedule)
	}
	c.Start()

	p.cron = c
	p.running = true
	return nil
}

// Stop cancels future rounds and waits for a running one to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.running = false
	p.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

func (p *Poller) round() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.Poll(ctx); err != nil {
		p.log.WithError(err).Warn("poll round failed")
	}
}

// Poll runs one round synchronously. Per account failures are logged; the
// returned error is the first failure of the round.
func (p *Poller) Poll(ctx context.Context) error {
	p.mu.Lock()
	accounts := make(map[lending.Protocol][]ed25519.PublicKey, len(p.accounts))
	for protocol, tracked := range p.accounts {
		for _, address := range tracked {
			accounts[protocol] = append(accounts[protocol], address)
		}
	}
	sets := make([]trackedMarketSet, 0, len(p.sets))
	for _, tracked := range p.sets {
		sets = append(sets, tracked)
	}
	positions := make([]trackedPosition, 0, len(p.positions))
	for _, tracked := range p.positions {
		positions = append(positions, tracked)
	}
	p.mu.Unlock()

	var first error
	record := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	for _, tracked := range sets {
		res, err := p.registry.RefreshMarketSet(ctx, tracked.protocol, tracked.group)
		if err != nil {
			p.log.WithError(err).WithFields(logrus.Fields{
				"protocol": tracked.protocol.String(),
				"group":    base58.Encode(tracked.group),
			}).Warn("failed to discover market set")
			record(err)
			continue
		}
		record(res.Err())
	}

	for protocol, addresses := range accounts {
		res, err := p.registry.Refresh(ctx, protocol, addresses...)
		if err != nil {
			record(err)
			continue
		}
		for address, err := range res.Failed {
			p.log.WithError(err).WithFields(logrus.Fields{
				"protocol": protocol.String(),
				"address":  address,
			}).Warn("failed to refresh account")
		}
		record(res.Err())
	}

	for _, tracked := range positions {
		_, err := p.registry.RefreshPosition(ctx, tracked.protocol, tracked.ref)
		if err != nil {
			p.log.WithError(err).WithFields(logrus.Fields{
				"protocol": tracked.protocol.String(),
				"position": tracked.ref.Key(),
			}).Warn("failed to refresh position")
		}
		record(err)
	}
	return first
}
