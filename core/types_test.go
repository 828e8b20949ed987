package core

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestAddSafe(t *testing.T) {
	if v, err := AddSafe(10, 5); err != nil || v != 15 {
		t.Fatalf("got %v %v", v, err)
	}
	if _, err := AddSafe(math.MaxInt64, 1); err == nil {
		t.Fatalf("expected overflow")
	}
}

func TestNormalizeUserID(t *testing.T) {
	id, err := NormalizeUserID(" Alice ")
	if err != nil || id != "alice" {
		t.Fatalf("got %v %v", id, err)
	}
	if _, err := NormalizeUserID("   "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestTierOrdering(t *testing.T) {
	if !TierGold.AtLeast(TierSilver) || TierSilver.AtLeast(TierGold) {
		t.Fatal("gold should rank above silver")
	}
	if !TierStandard.AtLeast("") {
		t.Fatal("empty minimum is no constraint")
	}
	if TierDiamond.AtLeast("bogus") {
		t.Fatal("unknown minimum must not be satisfied")
	}
	if tier, err := ParseCategoricalTier(" PLATINUM "); err != nil || tier != TierPlatinum {
		t.Fatalf("got %v %v", tier, err)
	}
	if _, err := ParseCategoricalTier("bronze"); err == nil {
		t.Fatal("expected unknown tier error")
	}
}

func TestApplyRecomputesLevel(t *testing.T) {
	table := DefaultRuleTable()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	v := NewAttributeVector("u1", table, now)
	if v.DerivedLevel != 0 || v.CategoricalTier != TierStandard {
		t.Fatalf("unexpected fresh vector %+v", v)
	}

	next, err := v.Apply(Delta{Points: 1000, Activity: 2, Spend: decimal.NewFromInt(5_000_000)}, table, now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if next.DerivedLevel != 1 {
		t.Fatalf("want level 1 got %d", next.DerivedLevel)
	}
	if !next.LastUpdated.Equal(now.Add(time.Hour)) {
		t.Fatalf("last updated not bumped: %v", next.LastUpdated)
	}
	if v.Points != 0 {
		t.Fatal("apply must not mutate the receiver")
	}
}

func TestApplyRejectsBadDelta(t *testing.T) {
	table := DefaultRuleTable()
	v := NewAttributeVector("u1", table, time.Now())
	if _, err := v.Apply(Delta{Points: -1}, table, time.Now()); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := v.Apply(Delta{Tier: "bronze"}, table, time.Now()); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	v.Points = math.MaxInt64
	if _, err := v.Apply(Delta{Points: 1}, table, time.Now()); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected overflow rejection, got %v", err)
	}
}

func TestErrorKinds(t *testing.T) {
	err := E(KindNotFound, "get vector", "user %q", "u1")
	wrapped := Wrap(KindTransient, "update", errors.New("conn reset"))
	if !errors.Is(err, ErrNotFound) || errors.Is(err, ErrTransient) {
		t.Fatalf("kind matching broken: %v", err)
	}
	if KindOf(wrapped) != KindTransient || !IsTransient(wrapped) {
		t.Fatalf("expected transient, got %q", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatal("untagged errors have no kind")
	}
	if err.Error() != `get vector: user "u1"` {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
