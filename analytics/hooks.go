package analytics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"loyaltykit/core"
)

// Hook receives loyalty events for KPI aggregation. The signature matches
// engine.Handler so hooks subscribe to the bus directly.
type Hook interface {
	Handle(ctx context.Context, e core.Event)
}

// ProgramMetrics aggregates programme KPIs in memory: active members per
// day/week/month, points awarded, level movements and mint outcomes.
type ProgramMetrics struct {
	mu sync.RWMutex

	dailyActive   map[string]map[core.UserID]struct{}
	weeklyActive  map[string]map[core.UserID]struct{}
	monthlyActive map[string]map[core.UserID]struct{}

	pointsByDay    map[string]int64
	pointsByAction map[core.ActionType]int64
	actionsByType  map[core.ActionType]int64

	levelUpsByDay   map[string]int64
	levelDownsByDay map[string]int64
	// current level of every member seen, for the distribution
	memberLevel map[core.UserID]int

	mintsCompleted int64
	mintsFailed    int64
	milestones     int64
}

func NewProgramMetrics() *ProgramMetrics {
	return &ProgramMetrics{
		dailyActive:     make(map[string]map[core.UserID]struct{}),
		weeklyActive:    make(map[string]map[core.UserID]struct{}),
		monthlyActive:   make(map[string]map[core.UserID]struct{}),
		pointsByDay:     make(map[string]int64),
		pointsByAction:  make(map[core.ActionType]int64),
		actionsByType:   make(map[core.ActionType]int64),
		levelUpsByDay:   make(map[string]int64),
		levelDownsByDay: make(map[string]int64),
		memberLevel:     make(map[core.UserID]int),
	}
}

func (m *ProgramMetrics) Handle(_ context.Context, e core.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	day := dayKey(e.Time)
	switch e.Type {
	case core.EventActionApplied:
		markActive(m.dailyActive, day, e.UserID)
		markActive(m.weeklyActive, weekKey(e.Time), e.UserID)
		markActive(m.monthlyActive, monthKey(e.Time), e.UserID)
		m.actionsByType[e.Action]++
		if e.Delta > 0 {
			m.pointsByDay[day] += e.Delta
			m.pointsByAction[e.Action] += e.Delta
		}
		m.memberLevel[e.UserID] = e.Level
	case core.EventTierChanged:
		if e.Level > e.PreviousLevel {
			m.levelUpsByDay[day]++
		} else {
			m.levelDownsByDay[day]++
		}
		m.memberLevel[e.UserID] = e.Level
	case core.EventMintCompleted:
		m.mintsCompleted++
	case core.EventMintFailed:
		m.mintsFailed++
	case core.EventMilestone:
		m.milestones++
	}
}

func markActive(buckets map[string]map[core.UserID]struct{}, key string, user core.UserID) {
	set := buckets[key]
	if set == nil {
		set = make(map[core.UserID]struct{})
		buckets[key] = set
	}
	set[user] = struct{}{}
}

func (m *ProgramMetrics) DailyActive(day string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.dailyActive[day])
}

func (m *ProgramMetrics) WeeklyActive(week string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.weeklyActive[week])
}

func (m *ProgramMetrics) MonthlyActive(month string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.monthlyActive[month])
}

func (m *ProgramMetrics) PointsAwardedOn(day string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pointsByDay[day]
}

func (m *ProgramMetrics) PointsByAction(a core.ActionType) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pointsByAction[a]
}

// LevelMoves returns level ups and downs recorded on day.
func (m *ProgramMetrics) LevelMoves(day string) (ups, downs int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.levelUpsByDay[day], m.levelDownsByDay[day]
}

// LevelDistribution counts members by their last seen level.
func (m *ProgramMetrics) LevelDistribution() map[int]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int]int)
	for _, lvl := range m.memberLevel {
		out[lvl]++
	}
	return out
}

func (m *ProgramMetrics) Mints() (completed, failed int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mintsCompleted, m.mintsFailed
}

// ActionCount pairs an action type with how often it was applied.
type ActionCount struct {
	Action core.ActionType `json:"action"`
	Count  int64           `json:"count"`
	Points int64           `json:"points"`
}

// TopActions returns the most frequent action types, at most limit.
func (m *ProgramMetrics) TopActions(limit int) []ActionCount {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ActionCount, 0, len(m.actionsByType))
	for a, n := range m.actionsByType {
		out = append(out, ActionCount{Action: a, Count: n, Points: m.pointsByAction[a]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Action < out[j].Action
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

func weekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func monthKey(t time.Time) string { return t.UTC().Format("2006-01") }
