package core

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// ConditionType tags the shape of a perk unlock condition.
type ConditionType string

const (
	ConditionMinPoints          ConditionType = "min_points"
	ConditionMinCategoricalTier ConditionType = "min_categorical_tier"
	ConditionMinActivityCount   ConditionType = "min_activity_count"
	ConditionMinCumulativeSpend ConditionType = "min_cumulative_spend"
	ConditionCombined           ConditionType = "combined"
)

// maxConditionDepth bounds nesting of combined conditions.
const maxConditionDepth = 8

// Condition is a structured perk unlock predicate. Only the fields relevant to
// Type are read.
type Condition struct {
	Type      ConditionType    `json:"type"`
	Threshold *int64           `json:"threshold,omitempty"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Tier      CategoricalTier  `json:"tier,omitempty"`
	All       []Condition      `json:"all,omitempty"`
}

func MinPoints(n int64) Condition { return Condition{Type: ConditionMinPoints, Threshold: &n} }

func MinActivityCount(n int64) Condition {
	return Condition{Type: ConditionMinActivityCount, Threshold: &n}
}

func MinCategoricalTier(t CategoricalTier) Condition {
	return Condition{Type: ConditionMinCategoricalTier, Tier: t}
}

func MinCumulativeSpend(d decimal.Decimal) Condition {
	return Condition{Type: ConditionMinCumulativeSpend, Amount: &d}
}

// Combined holds when every sub-condition holds.
func Combined(all ...Condition) Condition { return Condition{Type: ConditionCombined, All: all} }

// Validate reports a malformed condition as InvalidInput.
func (c Condition) Validate() error { return c.validate(0) }

func (c Condition) validate(depth int) error {
	const op = "perk condition"
	if depth > maxConditionDepth {
		return E(KindInvalidInput, op, "combined conditions nested deeper than %d", maxConditionDepth)
	}
	switch c.Type {
	case ConditionMinPoints, ConditionMinActivityCount:
		if c.Threshold == nil || *c.Threshold < 0 {
			return E(KindInvalidInput, op, "%s needs a non-negative threshold", c.Type)
		}
	case ConditionMinCategoricalTier:
		if !c.Tier.Valid() {
			return E(KindInvalidInput, op, "unknown categorical tier %q", c.Tier)
		}
	case ConditionMinCumulativeSpend:
		if c.Amount == nil || c.Amount.IsNegative() {
			return E(KindInvalidInput, op, "min_cumulative_spend needs a non-negative amount")
		}
	case ConditionCombined:
		if len(c.All) == 0 {
			return E(KindInvalidInput, op, "combined condition has no sub-conditions")
		}
		for _, sub := range c.All {
			if err := sub.validate(depth + 1); err != nil {
				return err
			}
		}
	default:
		return E(KindInvalidInput, op, "unknown condition type %q", c.Type)
	}
	return nil
}

func (c Condition) holds(v AttributeVector) bool {
	switch c.Type {
	case ConditionMinPoints:
		return v.Points >= *c.Threshold
	case ConditionMinActivityCount:
		return v.ActivityCount >= *c.Threshold
	case ConditionMinCategoricalTier:
		return v.CategoricalTier.AtLeast(c.Tier)
	case ConditionMinCumulativeSpend:
		return v.CumulativeSpend.GreaterThanOrEqual(*c.Amount)
	case ConditionCombined:
		for _, sub := range c.All {
			if !sub.holds(v) {
				return false
			}
		}
		return true
	}
	return false
}

// IsUnlocked evaluates c against v. Missing or malformed conditions are locked.
func IsUnlocked(c *Condition, v AttributeVector) bool {
	if c == nil || c.Validate() != nil {
		return false
	}
	return c.holds(v)
}

// ParseCondition strictly decodes and validates a stored condition. Unknown
// fields are rejected so a misspelled key cannot decay into a zero threshold.
func ParseCondition(raw []byte) (Condition, error) {
	var c Condition
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return Condition{}, Wrap(KindInvalidInput, "perk condition", err)
	}
	if err := c.Validate(); err != nil {
		return Condition{}, err
	}
	return c, nil
}

// DecodeStoredCondition is the lenient read path for catalog rows: anything that
// does not parse becomes a nil condition, which evaluates as locked.
func DecodeStoredCondition(raw []byte) *Condition {
	if len(raw) == 0 {
		return nil
	}
	c, err := ParseCondition(raw)
	if err != nil {
		return nil
	}
	return &c
}

// Perk is a reward gated by an unlock condition.
type Perk struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	IsActive        bool       `json:"is_active"`
	BrandID         string     `json:"brand_id,omitempty"`
	UnlockCondition *Condition `json:"unlock_condition,omitempty"`
}

// PerkEligibilityResult is computed on demand and never stored.
type PerkEligibilityResult struct {
	PerkID   string `json:"perk_id"`
	Unlocked bool   `json:"unlocked"`
}

// EvaluatePerks returns one result per perk, in order. Inactive perks are locked.
func EvaluatePerks(perks []Perk, v AttributeVector) []PerkEligibilityResult {
	out := make([]PerkEligibilityResult, 0, len(perks))
	for _, p := range perks {
		out = append(out, PerkEligibilityResult{
			PerkID:   p.ID,
			Unlocked: p.IsActive && IsUnlocked(p.UnlockCondition, v),
		})
	}
	return out
}
