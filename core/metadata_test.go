package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDescriptor(t *testing.T) {
	table := DefaultRuleTable()
	v := vec(1000, 2, 5_000_000, TierStandard)
	v.DerivedLevel = table.Evaluate(v)

	d, err := table.Generate(v)
	require.NoError(t, err)
	assert.Equal(t, "Bronze", d.Name)
	assert.Equal(t, "ipfs://bafybeiloyaltylevels/1.png", d.ImageLocator)
	assert.Empty(t, d.Image)
	assert.Equal(t, 20, d.ProgressToNext) // 1000 of 5000

	types := make([]string, 0, len(d.Traits))
	for _, tr := range d.Traits {
		types = append(types, tr.TraitType)
	}
	assert.Equal(t, []string{"Level", "Level Name", "Points", "Activity Count", "Cumulative Spend", "Tier", "Rarity"}, types)
	assert.Equal(t, "5000000", d.Traits[4].Value)
	assert.Equal(t, "Standard", d.Traits[5].Value)
	assert.Equal(t, RarityCommon, d.Traits[6].Value)
}

func TestGenerateIsDeterministic(t *testing.T) {
	table := DefaultRuleTable()
	v := vec(42000, 21, 120_000_000, TierGold)
	v.DerivedLevel = table.Evaluate(v)
	a, err := table.Generate(v)
	require.NoError(t, err)
	b, err := table.Generate(v)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, 42000, int(v.Points), "generate must not touch the vector")
}

func TestGenerateUnknownLevel(t *testing.T) {
	v := vec(0, 0, 0, TierStandard)
	v.DerivedLevel = 99
	_, err := DefaultRuleTable().Generate(v)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestRarity(t *testing.T) {
	assert.Equal(t, RarityCommon, Rarity(0))
	assert.Equal(t, RarityCommon, Rarity(2))
	assert.Equal(t, RarityRare, Rarity(3))
	assert.Equal(t, RarityRare, Rarity(4))
	assert.Equal(t, RarityElite, Rarity(5))
	assert.Equal(t, RarityElite, Rarity(6))
}

func TestProgressToNext(t *testing.T) {
	table := DefaultRuleTable()
	at := func(points int64, level int) int {
		v := vec(points, 0, 0, TierStandard)
		v.DerivedLevel = level
		return table.ProgressToNext(v)
	}
	assert.Equal(t, 0, at(0, 0))
	assert.Equal(t, 50, at(500, 0))
	assert.Equal(t, 100, at(999_999, 0), "capped at 100 when other dimensions hold the level back")
	assert.Equal(t, 1, at(5, 0))  // 0.5 rounds up
	assert.Equal(t, 0, at(4, 0))  // 0.4 rounds down
	assert.Equal(t, 100, at(0, MaxLevel))

	noPoints := MustRuleTable([]LevelDefinition{{Level: 0}, {Level: 1, Requirements: Requirements{ActivityCount: 3}}})
	assert.Equal(t, 100, noPoints.ProgressToNext(vec(0, 0, 0, TierStandard)))
}
