// Package loyalty assembles a ready LoyaltyService from functional options.
package loyalty

import (
	"context"

	"go.uber.org/zap"

	"loyaltykit/adapters/memory"
	"loyaltykit/core"
	"loyaltykit/engine"
	"loyaltykit/realtime"
)

// EventHandler receives every event the service publishes. The webhook sink,
// leaderboard tracker and analytics hooks all satisfy it.
type EventHandler interface {
	Handle(ctx context.Context, e core.Event)
}

// Option configures the service builder.
type Option func(*config)

type config struct {
	store     engine.Store
	perks     engine.PerkCatalog
	seed      []core.Perk
	mode      engine.DispatchMode
	queueSize int
	hub       *realtime.Hub
	handlers  []EventHandler
	log       *zap.Logger
	svcOpts   []engine.ServiceOption
}

// WithStore sets the persistence adapter.
func WithStore(s engine.Store) Option { return func(c *config) { c.store = s } }

// WithPerkCatalog sets the perk source.
func WithPerkCatalog(p engine.PerkCatalog) Option { return func(c *config) { c.perks = p } }

// WithPerks seeds the default in-memory catalog. Ignored when a catalog is set.
func WithPerks(perks ...core.Perk) Option {
	return func(c *config) { c.seed = append(c.seed, perks...) }
}

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

func WithQueueSize(n int) Option { return func(c *config) { c.queueSize = n } }

// WithRealtime wires a realtime hub to receive all engine events.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithHandlers subscribes each handler to every event type.
func WithHandlers(hs ...EventHandler) Option {
	return func(c *config) { c.handlers = append(c.handlers, hs...) }
}

func WithLogger(l *zap.Logger) Option { return func(c *config) { c.log = l } }

func WithRuleTable(t *core.RuleTable) Option {
	return func(c *config) { c.svcOpts = append(c.svcOpts, engine.WithRuleTable(t)) }
}

func WithRules(r engine.RuleEngine) Option {
	return func(c *config) { c.svcOpts = append(c.svcOpts, engine.WithRules(r)) }
}

func WithTokenIssuer(i engine.TokenIssuer) Option {
	return func(c *config) { c.svcOpts = append(c.svcOpts, engine.WithTokenIssuer(i)) }
}

func WithBlobResolver(r engine.BlobResolver) Option {
	return func(c *config) { c.svcOpts = append(c.svcOpts, engine.WithBlobResolver(r)) }
}

func WithRetryPolicy(p engine.RetryPolicy) Option {
	return func(c *config) { c.svcOpts = append(c.svcOpts, engine.WithRetryPolicy(p)) }
}

// New builds a configured LoyaltyService. If not provided, defaults are used:
//   - store and perk catalog: in-memory
//   - rules: DefaultRuleEngine
//   - dispatch: async
func New(opts ...Option) *engine.LoyaltyService {
	cfg := &config{mode: engine.DispatchAsync, log: zap.NewNop()}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.store == nil {
		cfg.store = memory.New()
	}
	if cfg.perks == nil {
		cfg.perks = memory.NewPerkCatalog(cfg.seed...)
	}

	busOpts := []engine.BusOption{engine.WithBusLogger(cfg.log)}
	if cfg.queueSize > 0 {
		busOpts = append(busOpts, engine.WithQueueSize(cfg.queueSize))
	}
	bus := engine.NewEventBus(cfg.mode, busOpts...)
	if cfg.hub != nil {
		bus.SubscribeAll(cfg.hub.Broadcast)
	}
	for _, h := range cfg.handlers {
		bus.SubscribeAll(h.Handle)
	}

	svcOpts := append([]engine.ServiceOption{engine.WithLogger(cfg.log)}, cfg.svcOpts...)
	return engine.NewLoyaltyService(cfg.store, cfg.perks, bus, svcOpts...)
}
