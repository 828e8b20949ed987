package redis

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"loyaltykit/core"
)

// PerkCatalog stores perks in a single hash, {prefix}:perks, keyed by perk ID.
// Conditions are stored raw and decoded leniently on read.
type PerkCatalog struct {
	client *redis.Client
	key    string
}

type perkRecord struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	IsActive        bool            `json:"is_active"`
	BrandID         string          `json:"brand_id,omitempty"`
	UnlockCondition json.RawMessage `json:"unlock_condition,omitempty"`
}

func NewPerkCatalog(client *redis.Client, prefix string) *PerkCatalog {
	return &PerkCatalog{client: client, key: prefixOrDefault(prefix) + ":perks"}
}

// Upsert validates the condition before writing.
func (c *PerkCatalog) Upsert(ctx context.Context, p core.Perk) (core.Perk, error) {
	if p.UnlockCondition == nil {
		return core.Perk{}, core.E(core.KindInvalidInput, "upsert perk", "perk %q has no unlock condition", p.Name)
	}
	if err := p.UnlockCondition.Validate(); err != nil {
		return core.Perk{}, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	cond, err := json.Marshal(p.UnlockCondition)
	if err != nil {
		return core.Perk{}, core.Wrap(core.KindInvalidInput, "upsert perk", err)
	}
	return p, c.put(ctx, perkRecord{
		ID: p.ID, Name: p.Name, Description: p.Description,
		IsActive: p.IsActive, BrandID: p.BrandID, UnlockCondition: cond,
	})
}

func (c *PerkCatalog) put(ctx context.Context, rec perkRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return core.Wrap(core.KindInvalidInput, "upsert perk", err)
	}
	if err := c.client.HSet(ctx, c.key, rec.ID, data).Err(); err != nil {
		return classify("upsert perk", err)
	}
	return nil
}

func (c *PerkCatalog) Deactivate(ctx context.Context, id string) error {
	data, err := c.client.HGet(ctx, c.key, id).Bytes()
	if err == redis.Nil {
		return core.E(core.KindNotFound, "deactivate perk", "perk %q not found", id)
	}
	if err != nil {
		return classify("deactivate perk", err)
	}
	var rec perkRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return core.Wrap(core.KindConfiguration, "deactivate perk", err)
	}
	rec.IsActive = false
	return c.put(ctx, rec)
}

// ListActivePerks returns active perks ordered by ID. Rows that do not decode
// are skipped; rows whose condition does not parse are returned locked.
func (c *PerkCatalog) ListActivePerks(ctx context.Context) ([]core.Perk, error) {
	all, err := c.client.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, classify("list perks", err)
	}
	out := make([]core.Perk, 0, len(all))
	for _, raw := range all {
		var rec perkRecord
		if json.Unmarshal([]byte(raw), &rec) != nil || !rec.IsActive {
			continue
		}
		out = append(out, core.Perk{
			ID:              rec.ID,
			Name:            rec.Name,
			Description:     rec.Description,
			IsActive:        true,
			BrandID:         rec.BrandID,
			UnlockCondition: core.DecodeStoredCondition(rec.UnlockCondition),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
