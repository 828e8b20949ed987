package core

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

const (
	MinLevel = 0
	MaxLevel = 6

	// Rarity thresholds belong to the rule table, not to configuration.
	RareLevel  = 3
	EliteLevel = 5
)

// Requirements is the minimum vector a level demands. Zero values are no constraint.
type Requirements struct {
	Points             int64           `json:"points,omitempty"`
	ActivityCount      int64           `json:"activity_count,omitempty"`
	CumulativeSpend    decimal.Decimal `json:"cumulative_spend"`
	MinCategoricalTier CategoricalTier `json:"min_categorical_tier,omitempty"`
}

// SatisfiedBy is the conjunctive gate: every constrained dimension must hold.
func (r Requirements) SatisfiedBy(v AttributeVector) bool {
	return v.Points >= r.Points &&
		v.ActivityCount >= r.ActivityCount &&
		v.CumulativeSpend.GreaterThanOrEqual(r.CumulativeSpend) &&
		v.CategoricalTier.AtLeast(r.MinCategoricalTier)
}

func (r Requirements) unconstrained() bool {
	return r.Points == 0 && r.ActivityCount == 0 && r.CumulativeSpend.IsZero() && r.MinCategoricalTier == ""
}

// LevelDefinition describes one rung of the level ladder.
type LevelDefinition struct {
	Level        int          `json:"level"`
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	ImageLocator string       `json:"image_locator"`
	Requirements Requirements `json:"requirements"`
}

// RuleTable is an immutable, ascending list of level definitions.
type RuleTable struct {
	defs []LevelDefinition
}

// NewRuleTable validates defs and builds a table. Levels must run contiguously
// from MinLevel and the floor level must be unconstrained.
func NewRuleTable(defs []LevelDefinition) (*RuleTable, error) {
	const op = "rule table"
	if len(defs) == 0 {
		return nil, E(KindConfiguration, op, "no level definitions")
	}
	sorted := append([]LevelDefinition(nil), defs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Level < sorted[j].Level })
	for i, d := range sorted {
		if d.Level != MinLevel+i {
			return nil, E(KindConfiguration, op, "levels must be contiguous from %d, found %d at position %d", MinLevel, d.Level, i)
		}
		r := d.Requirements
		if r.Points < 0 || r.ActivityCount < 0 || r.CumulativeSpend.IsNegative() {
			return nil, E(KindConfiguration, op, "level %d has a negative requirement", d.Level)
		}
		if r.MinCategoricalTier != "" && !r.MinCategoricalTier.Valid() {
			return nil, E(KindConfiguration, op, "level %d requires unknown tier %q", d.Level, r.MinCategoricalTier)
		}
	}
	if !sorted[0].Requirements.unconstrained() {
		return nil, E(KindConfiguration, op, "floor level %d must have no requirements", MinLevel)
	}
	return &RuleTable{defs: sorted}, nil
}

// MustRuleTable is NewRuleTable for static tables; it panics on a bad table.
func MustRuleTable(defs []LevelDefinition) *RuleTable {
	t, err := NewRuleTable(defs)
	if err != nil {
		panic(err)
	}
	return t
}

// MaxLevel is the highest level in the table.
func (t *RuleTable) MaxLevel() int { return t.defs[len(t.defs)-1].Level }

// Levels returns a copy of the definitions in ascending order.
func (t *RuleTable) Levels() []LevelDefinition {
	return append([]LevelDefinition(nil), t.defs...)
}

// Definition returns the definition of level, or a Configuration error.
func (t *RuleTable) Definition(level int) (LevelDefinition, error) {
	if level < MinLevel || level > t.MaxLevel() {
		return LevelDefinition{}, E(KindConfiguration, "rule table", "no definition for level %d", level)
	}
	return t.defs[level-MinLevel], nil
}

// Next returns the definition above level, if any.
func (t *RuleTable) Next(level int) (LevelDefinition, bool) {
	if level < MinLevel || level >= t.MaxLevel() {
		return LevelDefinition{}, false
	}
	return t.defs[level-MinLevel+1], true
}

// Evaluate returns the highest level whose requirements v satisfies in every
// dimension. It never fails; the floor level always matches.
func (t *RuleTable) Evaluate(v AttributeVector) int {
	level := MinLevel
	for i := len(t.defs) - 1; i >= 0; i-- {
		if t.defs[i].Requirements.SatisfiedBy(v) {
			level = t.defs[i].Level
			break
		}
	}
	return clamp(level, MinLevel, t.MaxLevel())
}

// CheckMonotonic reports requirement dimensions that decrease between
// consecutive constrained levels. Evaluate does not depend on it.
func (t *RuleTable) CheckMonotonic() error {
	var prev Requirements
	var seen [4]bool
	for _, d := range t.defs {
		r := d.Requirements
		if r.Points != 0 {
			if seen[0] && r.Points < prev.Points {
				return monotonicErr(d.Level, "points")
			}
			prev.Points, seen[0] = r.Points, true
		}
		if r.ActivityCount != 0 {
			if seen[1] && r.ActivityCount < prev.ActivityCount {
				return monotonicErr(d.Level, "activity_count")
			}
			prev.ActivityCount, seen[1] = r.ActivityCount, true
		}
		if !r.CumulativeSpend.IsZero() {
			if seen[2] && r.CumulativeSpend.LessThan(prev.CumulativeSpend) {
				return monotonicErr(d.Level, "cumulative_spend")
			}
			prev.CumulativeSpend, seen[2] = r.CumulativeSpend, true
		}
		if r.MinCategoricalTier != "" {
			if seen[3] && r.MinCategoricalTier.Ordinal() < prev.MinCategoricalTier.Ordinal() {
				return monotonicErr(d.Level, "min_categorical_tier")
			}
			prev.MinCategoricalTier, seen[3] = r.MinCategoricalTier, true
		}
	}
	return nil
}

func monotonicErr(level int, field string) error {
	return E(KindConfiguration, "rule table", "level %d lowers the %s requirement", level, field)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func spend(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func levelImage(level int) string {
	return fmt.Sprintf("ipfs://bafybeiloyaltylevels/%d.png", level)
}

var defaultLevels = []LevelDefinition{
	{
		Level:        0,
		Name:         "Explorer",
		Description:  "Every journey starts somewhere. Book your first trips to begin climbing.",
		ImageLocator: levelImage(0),
	},
	{
		Level:        1,
		Name:         "Bronze",
		Description:  "A regular traveller with a couple of trips behind them.",
		ImageLocator: levelImage(1),
		Requirements: Requirements{Points: 1000, ActivityCount: 2, CumulativeSpend: spend(5_000_000)},
	},
	{
		Level:        2,
		Name:         "Silver",
		Description:  "Frequent flyer recognised by partner brands.",
		ImageLocator: levelImage(2),
		Requirements: Requirements{Points: 5000, ActivityCount: 5, CumulativeSpend: spend(20_000_000), MinCategoricalTier: TierSilver},
	},
	{
		Level:        3,
		Name:         "Gold",
		Description:  "Seasoned traveller with priority treatment across the network.",
		ImageLocator: levelImage(3),
		Requirements: Requirements{Points: 15000, ActivityCount: 10, CumulativeSpend: spend(50_000_000), MinCategoricalTier: TierGold},
	},
	{
		Level:        4,
		Name:         "Platinum",
		Description:  "Top-percentile member with lounge access everywhere.",
		ImageLocator: levelImage(4),
		Requirements: Requirements{Points: 40000, ActivityCount: 20, CumulativeSpend: spend(100_000_000), MinCategoricalTier: TierGold},
	},
	{
		Level:        5,
		Name:         "Diamond",
		Description:  "Elite member. Upgrades are the rule, not the exception.",
		ImageLocator: levelImage(5),
		Requirements: Requirements{Points: 100000, ActivityCount: 40, CumulativeSpend: spend(250_000_000), MinCategoricalTier: TierPlatinum},
	},
	{
		Level:        6,
		Name:         "Legend",
		Description:  "The rarest rank in the programme.",
		ImageLocator: levelImage(6),
		Requirements: Requirements{Points: 250000, ActivityCount: 80, CumulativeSpend: spend(500_000_000), MinCategoricalTier: TierDiamond},
	},
}

var defaultTable = MustRuleTable(defaultLevels)

// DefaultRuleTable returns the built-in level ladder.
func DefaultRuleTable() *RuleTable { return defaultTable }
