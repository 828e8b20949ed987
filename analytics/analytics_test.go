package analytics

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loyaltykit/core"
)

func appliedAt(user core.UserID, action core.ActionType, points int64, level int, at time.Time) core.Event {
	return core.Event{Type: core.EventActionApplied, UserID: user, Action: action, Delta: points, Level: level, Time: at}
}

func TestProgramMetrics_Handle(t *testing.T) {
	m := NewProgramMetrics()
	ctx := context.Background()
	now := time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)

	m.Handle(ctx, appliedAt("alice", core.ActionFlightBooking, 100, 0, now))
	m.Handle(ctx, appliedAt("alice", core.ActionPurchase, 5, 1, now))
	m.Handle(ctx, appliedAt("bob", core.ActionFlightBooking, 40, 0, now))
	m.Handle(ctx, core.Event{Type: core.EventTierChanged, UserID: "alice", PreviousLevel: 0, Level: 1, Time: now})
	m.Handle(ctx, core.Event{Type: core.EventMintCompleted, UserID: "alice", Time: now})
	m.Handle(ctx, core.Event{Type: core.EventMintFailed, UserID: "bob", Time: now})

	day := "2024-01-03"
	assert.Equal(t, 2, m.DailyActive(day))
	assert.Equal(t, 2, m.WeeklyActive("2024-W01"))
	assert.Equal(t, 2, m.MonthlyActive("2024-01"))
	assert.Equal(t, int64(145), m.PointsAwardedOn(day))
	assert.Equal(t, int64(140), m.PointsByAction(core.ActionFlightBooking))

	ups, downs := m.LevelMoves(day)
	assert.Equal(t, int64(1), ups)
	assert.Equal(t, int64(0), downs)
	assert.Equal(t, map[int]int{0: 1, 1: 1}, m.LevelDistribution())

	completed, failed := m.Mints()
	assert.Equal(t, int64(1), completed)
	assert.Equal(t, int64(1), failed)

	top := m.TopActions(1)
	require.Len(t, top, 1)
	assert.Equal(t, ActionCount{Action: core.ActionFlightBooking, Count: 2, Points: 140}, top[0])
}

func TestAggregatorWeeklyMonthly(t *testing.T) {
	m := NewProgramMetrics()
	ctx := context.Background()
	base := time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC) // Wednesday
	m.Handle(ctx, appliedAt("alice", core.ActionReferral, 10, 0, base))
	m.Handle(ctx, appliedAt("bob", core.ActionReferral, 20, 0, base.AddDate(0, 0, 1)))
	m.Handle(ctx, core.Event{Type: core.EventTierChanged, UserID: "bob", PreviousLevel: 1, Level: 0, Time: base.AddDate(0, 0, 2)})

	agg := NewAggregator(m, time.Hour, nil)
	agg.AggregateAt(base)

	daily, ok := agg.Get(PeriodDaily, "2024-01-03")
	require.True(t, ok)
	assert.Equal(t, int64(10), daily.PointsAwarded)
	assert.Equal(t, 1, daily.ActiveMembers)

	weekly, ok := agg.Get(PeriodWeekly, "2024-W01")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), weekly.StartTime)
	assert.Equal(t, int64(30), weekly.PointsAwarded)
	assert.Equal(t, int64(1), weekly.LevelDowns)
	assert.Equal(t, 2, weekly.ActiveMembers)

	monthly, ok := agg.Get(PeriodMonthly, "2024-01")
	require.True(t, ok)
	assert.Equal(t, int64(30), monthly.PointsAwarded)
	assert.Equal(t, 2, monthly.ActiveMembers)

	path := filepath.Join(t.TempDir(), "daily.json")
	require.NoError(t, agg.ExportToFile(PeriodDaily, path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"key": "2024-01-03"`)
}

func TestPrometheusHook(t *testing.T) {
	reg := prometheus.NewRegistry()
	h, err := NewPrometheusHook(reg)
	require.NoError(t, err)
	ctx := context.Background()
	now := time.Now()

	bridge := NewBridge(h, NewProgramMetrics())
	bridge.Handle(ctx, appliedAt("alice", core.ActionPurchase, 7, 0, now))
	bridge.Handle(ctx, appliedAt("alice", core.ActionPurchase, 3, 0, now))
	bridge.Handle(ctx, core.Event{Type: core.EventTierChanged, PreviousLevel: 0, Level: 1})
	bridge.Handle(ctx, core.Event{Type: core.EventMintFailed})

	assert.Equal(t, 2.0, testutil.ToFloat64(h.actions.WithLabelValues("purchase")))
	assert.Equal(t, 10.0, testutil.ToFloat64(h.points.WithLabelValues("purchase")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.levelMoves.WithLabelValues("up", "1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.mints.WithLabelValues("failed")))

	_, err = NewPrometheusHook(reg)
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func BenchmarkProgramMetrics(b *testing.B) {
	m := NewProgramMetrics()
	ev := appliedAt("user123", core.ActionFlightBooking, 10, 0, time.Now())
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Handle(ctx, ev)
	}
}
