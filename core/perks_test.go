package core

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinPointsBoundary(t *testing.T) {
	c := MinPoints(500)
	assert.False(t, IsUnlocked(&c, vec(499, 0, 0, TierStandard)))
	assert.True(t, IsUnlocked(&c, vec(500, 0, 0, TierStandard)))
}

func TestSingleConditions(t *testing.T) {
	v := vec(100, 3, 2000, TierGold)
	tests := []struct {
		name string
		c    Condition
		want bool
	}{
		{"activity met", MinActivityCount(3), true},
		{"activity unmet", MinActivityCount(4), false},
		{"tier met", MinCategoricalTier(TierSilver), true},
		{"tier equal", MinCategoricalTier(TierGold), true},
		{"tier unmet", MinCategoricalTier(TierPlatinum), false},
		{"spend met", MinCumulativeSpend(decimal.NewFromInt(2000)), true},
		{"spend unmet", MinCumulativeSpend(decimal.RequireFromString("2000.01")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUnlocked(&tt.c, v))
		})
	}
}

func TestCombinedIsConjunctive(t *testing.T) {
	v := vec(800, 5, 0, TierSilver)
	a, b := MinPoints(500), MinCategoricalTier(TierSilver)
	both := Combined(a, b)
	require.True(t, IsUnlocked(&a, v))
	require.True(t, IsUnlocked(&b, v))
	assert.True(t, IsUnlocked(&both, v))

	falseB := Combined(a, MinCategoricalTier(TierGold))
	assert.False(t, IsUnlocked(&falseB, v))
	falseA := Combined(MinPoints(900), b)
	assert.False(t, IsUnlocked(&falseA, v))

	nested := Combined(a, Combined(b, MinActivityCount(5)))
	assert.True(t, IsUnlocked(&nested, v))
}

func TestMalformedConditionsAreLocked(t *testing.T) {
	rich := vec(1_000_000, 1000, 1_000_000_000, TierDiamond)
	assert.False(t, IsUnlocked(nil, rich))
	for _, c := range []Condition{
		{},
		{Type: "max_points", Threshold: ptr(10)},
		{Type: ConditionMinPoints, Threshold: ptr(-1)},
		{Type: ConditionMinPoints},
		{Type: ConditionMinActivityCount},
		{Type: ConditionMinCategoricalTier, Tier: "bronze"},
		{Type: ConditionMinCumulativeSpend},
		Combined(),
		Combined(MinPoints(1), Condition{Type: "nope"}),
	} {
		c := c
		assert.False(t, IsUnlocked(&c, rich), "%+v", c)
		assert.ErrorIs(t, c.Validate(), ErrInvalidInput)
	}
}

func TestDecodeStoredCondition(t *testing.T) {
	c := DecodeStoredCondition([]byte(`{"type":"combined","all":[{"type":"min_points","threshold":500},{"type":"min_categorical_tier","tier":"gold"}]}`))
	require.NotNil(t, c)
	assert.True(t, IsUnlocked(c, vec(500, 0, 0, TierGold)))

	assert.Nil(t, DecodeStoredCondition(nil))
	assert.Nil(t, DecodeStoredCondition([]byte(`{not json`)))
	assert.Nil(t, DecodeStoredCondition([]byte(`{"type":"min_cumulative_spend"}`)))

	_, err := ParseCondition([]byte(`{"type":"min_points","threshold":-4}`))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestStoredConditionWithoutThresholdIsLocked(t *testing.T) {
	fresh := vec(0, 0, 0, TierStandard)
	for _, raw := range []string{
		`{"type":"min_points","treshold":500}`,
		`{"type":"min_points"}`,
		`{"type":"min_activity_count"}`,
		`{"type":"combined","all":[{"type":"min_points","threshold":1},{"type":"min_activity_count","count":3}]}`,
	} {
		c := DecodeStoredCondition([]byte(raw))
		assert.Nil(t, c, raw)
		assert.False(t, IsUnlocked(c, fresh), raw)
	}

	zero := DecodeStoredCondition([]byte(`{"type":"min_points","threshold":0}`))
	require.NotNil(t, zero)
	assert.True(t, IsUnlocked(zero, fresh))
}

func ptr(n int64) *int64 { return &n }

func TestEvaluatePerks(t *testing.T) {
	cond := MinPoints(100)
	perks := []Perk{
		{ID: "lounge", IsActive: true, UnlockCondition: &cond},
		{ID: "retired", IsActive: false, UnlockCondition: &cond},
		{ID: "broken", IsActive: true},
	}
	got := EvaluatePerks(perks, vec(150, 0, 0, TierStandard))
	assert.Equal(t, []PerkEligibilityResult{
		{PerkID: "lounge", Unlocked: true},
		{PerkID: "retired", Unlocked: false},
		{PerkID: "broken", Unlocked: false},
	}, got)
}
