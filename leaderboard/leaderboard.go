package leaderboard

import (
	"context"
	"sync"
	"time"

	"loyaltykit/core"
)

// Entry is one user's standing. Entries rank by level, then points, then user ID.
type Entry struct {
	User   core.UserID `json:"user_id"`
	Level  int         `json:"level"`
	Points int64       `json:"points"`
}

// Board abstracts leaderboard operations.
type Board interface {
	Update(e Entry)
	Remove(user core.UserID)
	TopN(n int) []Entry
	Get(user core.UserID) (Entry, bool)
	// Rank is the 1-based position of user, or 0 when absent.
	Rank(user core.UserID) int
}

// Tracker keeps a Board in step with applied actions. Subscribe Handle to
// action_applied events. Points never decrease, so an event carrying a lower
// total than the board already holds arrived late and is ignored; equal
// totals fall back to event time.
type Tracker struct {
	mu    sync.Mutex
	board Board
	seen  map[core.UserID]time.Time
}

func NewTracker(b Board) *Tracker { return &Tracker{board: b, seen: map[core.UserID]time.Time{}} }

func (t *Tracker) Handle(_ context.Context, ev core.Event) {
	if ev.Type != core.EventActionApplied || ev.UserID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.board.Get(ev.UserID); ok {
		if ev.Total < cur.Points || ev.Total == cur.Points && ev.Time.Before(t.seen[ev.UserID]) {
			return
		}
	}
	t.board.Update(Entry{User: ev.UserID, Level: ev.Level, Points: ev.Total})
	t.seen[ev.UserID] = ev.Time
}

func (t *Tracker) Board() Board { return t.board }
