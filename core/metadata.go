package core

import "math"

// Rarity buckets derived from the level.
const (
	RarityCommon = "Common"
	RarityRare   = "Rare"
	RarityElite  = "Elite"
)

// Trait is one display attribute of a descriptor.
type Trait struct {
	TraitType   string `json:"trait_type"`
	Value       any    `json:"value"`
	DisplayType string `json:"display_type,omitempty"`
}

// Descriptor is the display-facing metadata for a user's current level. Image is
// the fetchable URL for ImageLocator and is filled by the service, not Generate.
type Descriptor struct {
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	ImageLocator   string  `json:"image_locator"`
	Image          string  `json:"image,omitempty"`
	Traits         []Trait `json:"attributes"`
	ProgressToNext int     `json:"progress_to_next"`
}

// Rarity maps a level to its rarity bucket.
func Rarity(level int) string {
	switch {
	case level >= EliteLevel:
		return RarityElite
	case level >= RareLevel:
		return RarityRare
	default:
		return RarityCommon
	}
}

// Generate builds the descriptor for v's stored level. It reads v only and is
// deterministic for a given table and vector.
func (t *RuleTable) Generate(v AttributeVector) (Descriptor, error) {
	def, err := t.Definition(v.DerivedLevel)
	if err != nil {
		return Descriptor{}, err
	}
	return Descriptor{
		Name:         def.Name,
		Description:  def.Description,
		ImageLocator: def.ImageLocator,
		Traits: []Trait{
			{TraitType: "Level", Value: v.DerivedLevel, DisplayType: "number"},
			{TraitType: "Level Name", Value: def.Name},
			{TraitType: "Points", Value: v.Points, DisplayType: "number"},
			{TraitType: "Activity Count", Value: v.ActivityCount, DisplayType: "number"},
			{TraitType: "Cumulative Spend", Value: v.CumulativeSpend.String()},
			{TraitType: "Tier", Value: v.CategoricalTier.DisplayName()},
			{TraitType: "Rarity", Value: Rarity(v.DerivedLevel)},
		},
		ProgressToNext: t.ProgressToNext(v),
	}, nil
}

// ProgressToNext is the percentage of the next level's points requirement that v
// has reached. Only points count; other dimensions are ignored.
func (t *RuleTable) ProgressToNext(v AttributeVector) int {
	next, ok := t.Next(v.DerivedLevel)
	if !ok || next.Requirements.Points <= 0 {
		return 100
	}
	if v.Points >= next.Requirements.Points {
		return 100
	}
	if v.Points <= 0 {
		return 0
	}
	p := math.Round(100 * float64(v.Points) / float64(next.Requirements.Points))
	return int(math.Min(100, p))
}
