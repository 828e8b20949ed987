package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"loyaltykit/core"
)

// PerkCatalog keeps perks in insertion order.
type PerkCatalog struct {
	mu    sync.RWMutex
	order []string
	perks map[string]core.Perk
}

func NewPerkCatalog(perks ...core.Perk) *PerkCatalog {
	c := &PerkCatalog{perks: map[string]core.Perk{}}
	for _, p := range perks {
		c.put(p)
	}
	return c
}

// Upsert stores p after validating its condition. An empty ID gets a fresh one.
func (c *PerkCatalog) Upsert(_ context.Context, p core.Perk) (core.Perk, error) {
	if p.UnlockCondition == nil {
		return core.Perk{}, core.E(core.KindInvalidInput, "upsert perk", "perk %q has no unlock condition", p.Name)
	}
	if err := p.UnlockCondition.Validate(); err != nil {
		return core.Perk{}, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	c.put(p)
	return p, nil
}

func (c *PerkCatalog) put(p core.Perk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.perks[p.ID]; !ok {
		c.order = append(c.order, p.ID)
	}
	c.perks[p.ID] = p
}

// Deactivate hides a perk from listings.
func (c *PerkCatalog) Deactivate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.perks[id]
	if !ok {
		return core.E(core.KindNotFound, "deactivate perk", "perk %q not found", id)
	}
	p.IsActive = false
	c.perks[id] = p
	return nil
}

func (c *PerkCatalog) ListActivePerks(_ context.Context) ([]core.Perk, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]core.Perk, 0, len(c.order))
	for _, id := range c.order {
		if p := c.perks[id]; p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}
