package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"loyaltykit/core"
)

func TestMemoryStore(t *testing.T) {
	s := New()
	ctx := context.Background()
	table := core.DefaultRuleTable()
	if err := s.Create(ctx, core.NewAttributeVector("u", table, time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, core.NewAttributeVector("u", table, time.Now())); !errors.Is(err, core.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := s.Get(ctx, "ghost"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	v, err := s.AtomicUpdate(ctx, "u", func(cur core.AttributeVector) (core.AttributeVector, error) {
		return cur.Apply(core.Delta{Points: 5}, table, time.Now())
	})
	if err != nil || v.Points != 5 {
		t.Fatalf("got %v %v", v.Points, err)
	}
}

func TestMemoryStoreFailedUpdateLeavesVector(t *testing.T) {
	s := New()
	ctx := context.Background()
	table := core.DefaultRuleTable()
	_ = s.Create(ctx, core.NewAttributeVector("u", table, time.Now()))
	boom := errors.New("boom")
	if _, err := s.AtomicUpdate(ctx, "u", func(cur core.AttributeVector) (core.AttributeVector, error) {
		return cur, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := s.AtomicUpdate(ctx, "u", func(cur core.AttributeVector) (core.AttributeVector, error) {
		cur.Points = -1
		return cur, nil
	}); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	v, _ := s.Get(ctx, "u")
	if v.Points != 0 {
		t.Fatalf("vector changed after failed update: %+v", v)
	}
}

func TestMemoryStoreConcurrentUpdates(t *testing.T) {
	s := New()
	ctx := context.Background()
	table := core.DefaultRuleTable()
	_ = s.Create(ctx, core.NewAttributeVector("u", table, time.Now()))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.AtomicUpdate(ctx, "u", func(cur core.AttributeVector) (core.AttributeVector, error) {
				return cur.Apply(core.Delta{Points: 2}, table, time.Now())
			})
		}()
	}
	wg.Wait()
	v, _ := s.Get(ctx, "u")
	if v.Points != 100 {
		t.Fatalf("lost update: want 100 got %d", v.Points)
	}
}

func TestPerkCatalog(t *testing.T) {
	ctx := context.Background()
	cond := core.MinPoints(10)
	c := NewPerkCatalog(core.Perk{ID: "a", IsActive: true, UnlockCondition: &cond})
	p, err := c.Upsert(ctx, core.Perk{Name: "b", IsActive: true, UnlockCondition: &cond})
	if err != nil || p.ID == "" {
		t.Fatalf("upsert: %+v %v", p, err)
	}
	bad := core.Condition{Type: "whatever"}
	if _, err := c.Upsert(ctx, core.Perk{Name: "c", UnlockCondition: &bad}); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if err := c.Deactivate(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	list, _ := c.ListActivePerks(ctx)
	if len(list) != 1 || list[0].ID != p.ID {
		t.Fatalf("unexpected listing %+v", list)
	}
}
