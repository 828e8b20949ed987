package analytics

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AggregationPeriod represents different time periods for aggregation
type AggregationPeriod string

const (
	PeriodDaily   AggregationPeriod = "daily"
	PeriodWeekly  AggregationPeriod = "weekly"
	PeriodMonthly AggregationPeriod = "monthly"
)

// Snapshot is a rolled-up view of one period.
type Snapshot struct {
	Period        AggregationPeriod `json:"period"`
	Key           string            `json:"key"` // "2024-01-01", "2024-W01" or "2024-01"
	StartTime     time.Time         `json:"start_time"`
	EndTime       time.Time         `json:"end_time"`
	ActiveMembers int               `json:"active_members"`
	PointsAwarded int64             `json:"points_awarded"`
	LevelUps      int64             `json:"level_ups"`
	LevelDowns    int64             `json:"level_downs"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Aggregator periodically rolls ProgramMetrics up into snapshots.
type Aggregator struct {
	mu        sync.RWMutex
	metrics   *ProgramMetrics
	snapshots map[AggregationPeriod]map[string]*Snapshot
	interval  time.Duration
	log       *zap.Logger
	now       func() time.Time
}

func NewAggregator(metrics *ProgramMetrics, interval time.Duration, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{
		metrics: metrics,
		snapshots: map[AggregationPeriod]map[string]*Snapshot{
			PeriodDaily: {}, PeriodWeekly: {}, PeriodMonthly: {},
		},
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

// AggregateAt rolls up the day, ISO week and month containing now.
func (a *Aggregator) AggregateAt(now time.Time) {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	weekStart := day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	daily := a.rollup(PeriodDaily, dayKey(now), day, day.AddDate(0, 0, 1), now)
	daily.ActiveMembers = a.metrics.DailyActive(daily.Key)
	weekly := a.rollup(PeriodWeekly, weekKey(now), weekStart, weekStart.AddDate(0, 0, 7), now)
	weekly.ActiveMembers = a.metrics.WeeklyActive(weekly.Key)
	monthly := a.rollup(PeriodMonthly, monthKey(now), monthStart, monthStart.AddDate(0, 1, 0), now)
	monthly.ActiveMembers = a.metrics.MonthlyActive(monthly.Key)

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range []*Snapshot{daily, weekly, monthly} {
		a.snapshots[s.Period][s.Key] = s
	}
}

func (a *Aggregator) rollup(period AggregationPeriod, key string, start, end, now time.Time) *Snapshot {
	s := &Snapshot{Period: period, Key: key, StartTime: start, EndTime: end, CreatedAt: now}
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		k := dayKey(d)
		s.PointsAwarded += a.metrics.PointsAwardedOn(k)
		ups, downs := a.metrics.LevelMoves(k)
		s.LevelUps += ups
		s.LevelDowns += downs
	}
	return s
}

func (a *Aggregator) Get(period AggregationPeriod, key string) (*Snapshot, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.snapshots[period][key]
	return s, ok
}

// All returns the snapshots of period ordered by key.
func (a *Aggregator) All(period AggregationPeriod) []*Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Snapshot, 0, len(a.snapshots[period]))
	for _, s := range a.snapshots[period] {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Run aggregates immediately and then on every tick until ctx ends.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	a.AggregateAt(a.now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.AggregateAt(a.now())
			a.log.Debug("analytics aggregated", zap.Int("daily_snapshots", len(a.All(PeriodDaily))))
		}
	}
}

func (a *Aggregator) ExportJSON(period AggregationPeriod) ([]byte, error) {
	return json.MarshalIndent(a.All(period), "", "  ")
}

// ExportToFile writes the JSON export of period to path.
func (a *Aggregator) ExportToFile(period AggregationPeriod, path string) error {
	b, err := a.ExportJSON(period)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
