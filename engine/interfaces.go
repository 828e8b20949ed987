package engine

import (
	"context"

	"loyaltykit/core"
)

// Store persists attribute vectors. AtomicUpdate must run read, fn and write as
// one serializable unit per user; it is the only mutation path after Create.
type Store interface {
	Create(ctx context.Context, v core.AttributeVector) error
	Get(ctx context.Context, user core.UserID) (core.AttributeVector, error)
	AtomicUpdate(ctx context.Context, user core.UserID, fn core.UpdateFunc) (core.AttributeVector, error)
}

// PerkCatalog is the read-only, externally maintained list of perks.
type PerkCatalog interface {
	ListActivePerks(ctx context.Context) ([]core.Perk, error)
}

// TokenIssuer mints loyalty tokens. Confirmation and retries are its concern.
type TokenIssuer interface {
	Mint(ctx context.Context, req core.MintRequest) (core.MintReceipt, error)
}

// BlobResolver turns a content locator into a fetchable URL.
type BlobResolver interface {
	Resolve(locator string) (string, error)
}

// RuleEngine evaluates rules and emits derived events.
type RuleEngine interface {
	Evaluate(ctx context.Context, before, after core.AttributeVector, trigger core.Event) []core.Event
}
