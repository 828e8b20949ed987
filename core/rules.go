package core

import "context"

// Rule inspects a state transition and emits derived events.
type Rule interface {
	Evaluate(ctx context.Context, before, after AttributeVector, trigger Event) []Event
}

// TierChangeRule emits a tier change whenever the derived level moved.
type TierChangeRule struct{}

func (TierChangeRule) Evaluate(_ context.Context, before, after AttributeVector, trigger Event) []Event {
	if trigger.Type != EventActionApplied || before.DerivedLevel == after.DerivedLevel {
		return nil
	}
	return []Event{NewTierChanged(after.UserID, before.DerivedLevel, after.DerivedLevel)}
}

// MilestoneRule emits a milestone event when an action carries points across
// one of Thresholds.
type MilestoneRule struct{ Thresholds []int64 }

func (r MilestoneRule) Evaluate(_ context.Context, before, after AttributeVector, trigger Event) []Event {
	if trigger.Type != EventActionApplied {
		return nil
	}
	var out []Event
	for _, th := range r.Thresholds {
		if before.Points < th && after.Points >= th {
			e := newEvent(EventMilestone, after.UserID)
			e.Total, e.Level = after.Points, after.DerivedLevel
			e.Metadata = map[string]any{"threshold": th}
			out = append(out, e)
		}
	}
	return out
}
