package core

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// UserID uniquely identifies a user in the loyalty domain.
type UserID string

// CategoricalTier is the externally assigned qualitative tier of a user.
type CategoricalTier string

const (
	TierStandard CategoricalTier = "standard"
	TierSilver   CategoricalTier = "silver"
	TierGold     CategoricalTier = "gold"
	TierPlatinum CategoricalTier = "platinum"
	TierDiamond  CategoricalTier = "diamond"
)

var tierOrder = []CategoricalTier{TierStandard, TierSilver, TierGold, TierPlatinum, TierDiamond}

// Tiers returns the categorical tiers in ascending order.
func Tiers() []CategoricalTier {
	return append([]CategoricalTier(nil), tierOrder...)
}

// Ordinal is the position of t in the fixed tier order, or -1 for unknown tiers.
func (t CategoricalTier) Ordinal() int {
	for i, v := range tierOrder {
		if v == t {
			return i
		}
	}
	return -1
}

func (t CategoricalTier) Valid() bool { return t.Ordinal() >= 0 }

// AtLeast reports whether t ranks at or above min. An empty min is no constraint.
func (t CategoricalTier) AtLeast(min CategoricalTier) bool {
	if min == "" {
		return true
	}
	mo := min.Ordinal()
	return mo >= 0 && t.Ordinal() >= mo
}

// DisplayName is the capitalized tier name used in metadata traits.
func (t CategoricalTier) DisplayName() string {
	if t == "" {
		return ""
	}
	return strings.ToUpper(string(t[:1])) + string(t[1:])
}

// ParseCategoricalTier accepts tier names case-insensitively.
func ParseCategoricalTier(s string) (CategoricalTier, error) {
	t := CategoricalTier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", E(KindInvalidInput, "parse tier", "unknown categorical tier %q", s)
	}
	return t, nil
}

// AttributeVector is the per-user loyalty state. DerivedLevel always equals the
// rule table evaluation of the other fields as of LastUpdated.
type AttributeVector struct {
	UserID          UserID          `json:"user_id"`
	Points          int64           `json:"points"`
	ActivityCount   int64           `json:"activity_count"`
	CumulativeSpend decimal.Decimal `json:"cumulative_spend"`
	CategoricalTier CategoricalTier `json:"categorical_tier"`
	DerivedLevel    int             `json:"derived_level"`
	LastUpdated     time.Time       `json:"last_updated"`
}

// NewAttributeVector returns the registration-time vector for user.
func NewAttributeVector(user UserID, table *RuleTable, now time.Time) AttributeVector {
	v := AttributeVector{
		UserID:          user,
		CumulativeSpend: decimal.Zero,
		CategoricalTier: TierStandard,
		LastUpdated:     now.UTC(),
	}
	v.DerivedLevel = table.Evaluate(v)
	return v
}

// Validate checks the non-negativity and enum preconditions of the vector.
func (v AttributeVector) Validate() error {
	const op = "validate vector"
	switch {
	case v.Points < 0:
		return E(KindInvalidInput, op, "points must be >= 0, got %d", v.Points)
	case v.ActivityCount < 0:
		return E(KindInvalidInput, op, "activity count must be >= 0, got %d", v.ActivityCount)
	case v.CumulativeSpend.IsNegative():
		return E(KindInvalidInput, op, "cumulative spend must be >= 0, got %s", v.CumulativeSpend)
	case !v.CategoricalTier.Valid():
		return E(KindInvalidInput, op, "unknown categorical tier %q", v.CategoricalTier)
	}
	return nil
}

// Delta is a validated change to an attribute vector.
type Delta struct {
	Points   int64
	Activity int64
	Spend    decimal.Decimal
	// Tier replaces the categorical tier when non-empty.
	Tier CategoricalTier
}

// Apply returns the vector after d with DerivedLevel recomputed from the
// post-update fields. It is the only way a stored vector changes.
func (v AttributeVector) Apply(d Delta, table *RuleTable, now time.Time) (AttributeVector, error) {
	const op = "apply delta"
	if d.Points < 0 || d.Activity < 0 || d.Spend.IsNegative() {
		return v, E(KindInvalidInput, op, "negative delta")
	}
	if d.Tier != "" && !d.Tier.Valid() {
		return v, E(KindInvalidInput, op, "unknown categorical tier %q", d.Tier)
	}
	next := v
	var err error
	if next.Points, err = AddSafe(v.Points, d.Points); err != nil {
		return v, Wrap(KindInvalidInput, op, err)
	}
	if next.ActivityCount, err = AddSafe(v.ActivityCount, d.Activity); err != nil {
		return v, Wrap(KindInvalidInput, op, err)
	}
	next.CumulativeSpend = v.CumulativeSpend.Add(d.Spend)
	if d.Tier != "" {
		next.CategoricalTier = d.Tier
	}
	next.DerivedLevel = table.Evaluate(next)
	next.LastUpdated = now.UTC()
	return next, nil
}

// UpdateFunc maps the current stored vector to its successor inside an atomic update.
type UpdateFunc func(current AttributeVector) (AttributeVector, error)

// AddSafe adds delta to base ensuring no signed overflow occurs.
func AddSafe(base int64, delta int64) (int64, error) {
	if (delta > 0 && base > math.MaxInt64-delta) || (delta < 0 && base < math.MinInt64-delta) {
		return 0, errors.New("integer overflow in AddSafe")
	}
	return base + delta, nil
}

// NormalizeUserID trims and lowercases user identifiers.
func NormalizeUserID(id UserID) (UserID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", E(KindInvalidInput, "normalize user id", "empty user id")
	}
	return UserID(strings.ToLower(s)), nil
}
