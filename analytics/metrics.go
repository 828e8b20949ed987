package analytics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"loyaltykit/core"
)

// BridgeHook fans one event out to several hooks.
type BridgeHook struct{ hooks []Hook }

func NewBridge(hooks ...Hook) *BridgeHook { return &BridgeHook{hooks: hooks} }

func (b *BridgeHook) Handle(ctx context.Context, e core.Event) {
	for _, h := range b.hooks {
		h.Handle(ctx, e)
	}
}

// PrometheusHook exports loyalty events as Prometheus series.
type PrometheusHook struct {
	actions    *prometheus.CounterVec
	points     *prometheus.CounterVec
	levelMoves *prometheus.CounterVec
	mints      *prometheus.CounterVec
	milestones prometheus.Counter
}

// NewPrometheusHook registers the loyalty collectors on reg.
func NewPrometheusHook(reg prometheus.Registerer) (*PrometheusHook, error) {
	h := &PrometheusHook{
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loyalty", Name: "actions_applied_total",
			Help: "Actions applied to member vectors.",
		}, []string{"action"}),
		points: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loyalty", Name: "points_awarded_total",
			Help: "Points awarded by action type.",
		}, []string{"action"}),
		levelMoves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loyalty", Name: "level_changes_total",
			Help: "Derived level changes by direction and target level.",
		}, []string{"direction", "level"}),
		mints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loyalty", Name: "mints_total",
			Help: "Mint requests by outcome.",
		}, []string{"outcome"}),
		milestones: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loyalty", Name: "milestones_reached_total",
			Help: "Point milestones crossed.",
		}),
	}
	for _, c := range []prometheus.Collector{h.actions, h.points, h.levelMoves, h.mints, h.milestones} {
		if err := reg.Register(c); err != nil {
			return nil, core.Wrap(core.KindConfiguration, "register metrics", err)
		}
	}
	return h, nil
}

func (h *PrometheusHook) Handle(_ context.Context, e core.Event) {
	switch e.Type {
	case core.EventActionApplied:
		h.actions.WithLabelValues(string(e.Action)).Inc()
		if e.Delta > 0 {
			h.points.WithLabelValues(string(e.Action)).Add(float64(e.Delta))
		}
	case core.EventTierChanged:
		dir := "up"
		if e.Level < e.PreviousLevel {
			dir = "down"
		}
		h.levelMoves.WithLabelValues(dir, strconv.Itoa(e.Level)).Inc()
	case core.EventMintCompleted:
		h.mints.WithLabelValues("completed").Inc()
	case core.EventMintFailed:
		h.mints.WithLabelValues("failed").Inc()
	case core.EventMilestone:
		h.milestones.Inc()
	}
}
