package main

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"loyaltykit/adapters/jsonfile"
	mem "loyaltykit/adapters/memory"
	redisAdapter "loyaltykit/adapters/redis"
	sqlxAdapter "loyaltykit/adapters/sqlx"
	"loyaltykit/analytics"
	"loyaltykit/api/httpapi"
	"loyaltykit/config"
	"loyaltykit/core"
	"loyaltykit/engine"
	"loyaltykit/integrations/ipfs"
	"loyaltykit/integrations/mint"
	"loyaltykit/integrations/webhook"
	"loyaltykit/leaderboard"
	"loyaltykit/loyalty"
	"loyaltykit/realtime"
)

// ConfigPath is the optional config file given on the command line.
type ConfigPath string

// Storage pairs the vector store with the perk catalog of the same backend.
type Storage struct {
	Store engine.Store
	Perks engine.PerkCatalog
}

// MetricsServer serves /metrics on its own listener. Server is nil when metrics
// are disabled.
type MetricsServer struct {
	Server *http.Server
}

// App aggregates the assembled server components.
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Hub        *realtime.Hub
	Service    *engine.LoyaltyService
	Aggregator *analytics.Aggregator
	Server     *http.Server
	Metrics    MetricsServer
}

func provideConfig(path ConfigPath) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(string(path))
	}
	return config.Load()
}

// provideLogger builds a zap logger from the logging section.
func provideLogger(cfg *config.Config) (*zap.Logger, func(), error) {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{cfg.Logging.Output}
	zc.ErrorOutputPaths = []string{"stderr"}
	if cfg.Logging.Format == "text" {
		zc.Encoding = "console"
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	if len(cfg.Logging.Attributes) > 0 {
		zc.InitialFields = make(map[string]interface{}, len(cfg.Logging.Attributes))
		for k, v := range cfg.Logging.Attributes {
			zc.InitialFields[k] = v
		}
	}
	log, err := zc.Build()
	if err != nil {
		return nil, nil, err
	}
	log = log.With(zap.String("environment", string(cfg.Environment)))
	return log, func() { _ = log.Sync() }, nil
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

// provideStorage opens the configured backend and its perk catalog.
func provideStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Storage, func(), error) {
	noop := func() {}
	switch cfg.Storage.Adapter {
	case "memory":
		return &Storage{Store: mem.New(), Perks: mem.NewPerkCatalog()}, noop, nil
	case "file":
		st, err := jsonfile.New(cfg.Storage.File.Path)
		if err != nil {
			return nil, nil, err
		}
		return &Storage{Store: st, Perks: mem.NewPerkCatalog()}, noop, nil
	case "redis":
		st, err := redisAdapter.New(cfg.Storage.Redis)
		if err != nil {
			return nil, nil, err
		}
		perks := redisAdapter.NewPerkCatalog(st.Client(), cfg.Storage.Redis.KeyPrefix)
		return &Storage{Store: st, Perks: perks}, func() {
			if err := st.Close(); err != nil {
				log.Warn("redis close failed", zap.Error(err))
			}
		}, nil
	case "sql":
		st, err := sqlxAdapter.New(cfg.Storage.SQL)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Storage.EnsureSchema {
			if err := st.EnsureSchema(ctx); err != nil {
				_ = st.Close()
				return nil, nil, err
			}
		}
		return &Storage{Store: st, Perks: sqlxAdapter.NewPerkCatalog(st.DB())}, func() {
			if err := st.Close(); err != nil {
				log.Warn("sql close failed", zap.Error(err))
			}
		}, nil
	default:
		return nil, nil, core.E(core.KindConfiguration, "storage", "unknown storage adapter %q", cfg.Storage.Adapter)
	}
}

func provideRegistry(cfg *config.Config) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	if cfg.Metrics.CollectSystem {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return reg
}

func provideProgramMetrics() *analytics.ProgramMetrics {
	return analytics.NewProgramMetrics()
}

func providePrometheusHook(reg *prometheus.Registry) (*analytics.PrometheusHook, error) {
	return analytics.NewPrometheusHook(reg)
}

func provideAggregator(cfg *config.Config, m *analytics.ProgramMetrics, log *zap.Logger) *analytics.Aggregator {
	return analytics.NewAggregator(m, cfg.Metrics.SnapshotInterval, log.Named("analytics"))
}

func provideBoard() *leaderboard.SkipList {
	return leaderboard.NewSkipList()
}

func provideTracker(b *leaderboard.SkipList) *leaderboard.Tracker {
	return leaderboard.NewTracker(b)
}

func provideWebhook(cfg *config.Config, log *zap.Logger) *webhook.Sink {
	wc := cfg.Integrations.Webhook
	opts := []webhook.Option{
		webhook.WithClient(&http.Client{Timeout: wc.Timeout}),
		webhook.WithLogger(log.Named("webhook")),
	}
	if wc.Secret != "" {
		opts = append(opts, webhook.WithSecret(wc.Secret))
	}
	if len(wc.EventTypes) > 0 {
		types := make([]core.EventType, 0, len(wc.EventTypes))
		for _, t := range wc.EventTypes {
			types = append(types, core.EventType(t))
		}
		opts = append(opts, webhook.WithEventTypes(types...))
	}
	return webhook.New(wc.Endpoints, opts...)
}

// provideIssuer returns nil when no mint endpoint is configured; RequestMint
// then answers with a Configuration error.
func provideIssuer(cfg *config.Config) (engine.TokenIssuer, error) {
	mc := cfg.Integrations.Mint
	if mc.Endpoint == "" {
		return nil, nil
	}
	c, err := mint.New(mint.Config{Endpoint: mc.Endpoint, Token: mc.Token, Timeout: mc.Timeout})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func provideResolver(cfg *config.Config) (engine.BlobResolver, error) {
	r, err := ipfs.NewResolver(cfg.Integrations.IPFS.Gateway)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func dispatchMode(cfg *config.Config) engine.DispatchMode {
	return engine.ParseDispatchMode(cfg.Engine.DispatchMode)
}

func ruleEngine(cfg *config.Config) engine.RuleEngine {
	rules := []core.Rule{core.TierChangeRule{}}
	if len(cfg.Engine.Milestones) > 0 {
		ms := append([]int64(nil), cfg.Engine.Milestones...)
		sort.Slice(ms, func(i, j int) bool { return ms[i] < ms[j] })
		rules = append(rules, core.MilestoneRule{Thresholds: ms})
	}
	return engine.NewRuleEngine(rules...)
}

// provideService assembles the LoyaltyService and fans its events out to the
// realtime hub, leaderboard, analytics hooks and webhook sink.
func provideService(
	cfg *config.Config,
	log *zap.Logger,
	storage *Storage,
	hub *realtime.Hub,
	issuer engine.TokenIssuer,
	resolver engine.BlobResolver,
	metrics *analytics.ProgramMetrics,
	prom *analytics.PrometheusHook,
	tracker *leaderboard.Tracker,
	sink *webhook.Sink,
) (*engine.LoyaltyService, func()) {
	opts := []loyalty.Option{
		loyalty.WithStore(storage.Store),
		loyalty.WithPerkCatalog(storage.Perks),
		loyalty.WithDispatchMode(dispatchMode(cfg)),
		loyalty.WithQueueSize(cfg.Engine.QueueSize),
		loyalty.WithRealtime(hub),
		loyalty.WithHandlers(tracker, analytics.NewBridge(metrics, prom), sink),
		loyalty.WithLogger(log.Named("engine")),
		loyalty.WithRules(ruleEngine(cfg)),
		loyalty.WithBlobResolver(resolver),
		loyalty.WithRetryPolicy(engine.RetryPolicy{MaxAttempts: cfg.Engine.MaxAttempts, Backoff: cfg.Engine.RetryBackoff}),
	}
	if issuer != nil {
		opts = append(opts, loyalty.WithTokenIssuer(issuer))
	}
	svc := loyalty.New(opts...)
	return svc, svc.Close
}

func provideHandler(svc *engine.LoyaltyService, hub *realtime.Hub, board *leaderboard.SkipList, cfg *config.Config, log *zap.Logger) http.Handler {
	return httpapi.NewMux(svc, hub, httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		Leaderboard:      board,
		MaxBodyBytes:     cfg.Server.MaxBodyBytes,
		WSAllowedOrigins: cfg.Security.AllowedOrigins,
		Logger:           log.Named("http"),
	})
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

func provideMetricsServer(cfg *config.Config, reg *prometheus.Registry) MetricsServer {
	if !cfg.Metrics.Enabled {
		return MetricsServer{}
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return MetricsServer{Server: &http.Server{
		Addr:              cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}}
}
