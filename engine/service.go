package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"loyaltykit/core"
)

// LoyaltyService is the action processor and read API over a Store.
type LoyaltyService struct {
	store    Store
	perks    PerkCatalog
	bus      *EventBus
	rules    RuleEngine
	table    *core.RuleTable
	issuer   TokenIssuer
	resolver BlobResolver
	retry    RetryPolicy
	log      *zap.Logger
	now      func() time.Time
}

// ServiceOption configures optional collaborators.
type ServiceOption func(*LoyaltyService)

func WithRuleTable(t *core.RuleTable) ServiceOption {
	return func(s *LoyaltyService) {
		if t != nil {
			s.table = t
		}
	}
}

func WithRules(r RuleEngine) ServiceOption {
	return func(s *LoyaltyService) {
		if r != nil {
			s.rules = r
		}
	}
}

func WithTokenIssuer(i TokenIssuer) ServiceOption { return func(s *LoyaltyService) { s.issuer = i } }

func WithBlobResolver(r BlobResolver) ServiceOption {
	return func(s *LoyaltyService) { s.resolver = r }
}

func WithRetryPolicy(p RetryPolicy) ServiceOption { return func(s *LoyaltyService) { s.retry = p } }

func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *LoyaltyService) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the time source used for LastUpdated.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *LoyaltyService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewLoyaltyService(store Store, perks PerkCatalog, bus *EventBus, opts ...ServiceOption) *LoyaltyService {
	if store == nil || perks == nil || bus == nil {
		panic("NewLoyaltyService requires non-nil store, perk catalog, and bus")
	}
	s := &LoyaltyService{
		store: store,
		perks: perks,
		bus:   bus,
		rules: DefaultRuleEngine(),
		table: core.DefaultRuleTable(),
		retry: DefaultRetryPolicy(),
		log:   zap.NewNop(),
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func DefaultRuleEngine() RuleEngine {
	return &simpleRuleEngine{rules: []core.Rule{core.TierChangeRule{}}}
}

// NewRuleEngine combines rules in evaluation order.
func NewRuleEngine(rules ...core.Rule) RuleEngine {
	return &simpleRuleEngine{rules: rules}
}

// RuleTable exposes the level ladder in use.
func (s *LoyaltyService) RuleTable() *core.RuleTable { return s.table }

// Subscribe convenience method.
func (s *LoyaltyService) Subscribe(typ core.EventType, handler Handler) func() {
	return s.bus.Subscribe(typ, handler)
}

func (s *LoyaltyService) Publish(ctx context.Context, ev core.Event) {
	s.bus.Publish(ctx, ev)
}

// Register creates the zero vector for a new user.
func (s *LoyaltyService) Register(ctx context.Context, user core.UserID) (core.AttributeVector, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return core.AttributeVector{}, err
	}
	v := core.NewAttributeVector(normalized, s.table, s.now())
	err = s.retry.do(ctx, s.log, "register", func() error {
		return s.store.Create(ctx, v)
	})
	if err != nil {
		return core.AttributeVector{}, err
	}
	s.log.Info("user registered", zap.String("user_id", string(normalized)))
	return v, nil
}

// ProcessAction validates the action, applies its delta atomically and reports
// whether the derived level moved. Invalid input never reaches the store.
func (s *LoyaltyService) ProcessAction(ctx context.Context, user core.UserID, action core.Action) (core.ActionResult, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return core.ActionResult{}, err
	}
	delta, err := core.DeltaFor(action)
	if err != nil {
		s.log.Warn("action rejected", zap.String("user_id", string(normalized)), zap.Error(err))
		return core.ActionResult{}, err
	}

	var before, after core.AttributeVector
	err = s.retry.do(ctx, s.log, "process action", func() error {
		var uerr error
		after, uerr = s.store.AtomicUpdate(ctx, normalized, func(current core.AttributeVector) (core.AttributeVector, error) {
			before = current
			return current.Apply(delta, s.table, s.now())
		})
		return uerr
	})
	if err != nil {
		if core.IsTransient(err) {
			s.log.Error("action not applied", zap.String("user_id", string(normalized)), zap.Error(err))
		}
		return core.ActionResult{}, err
	}

	result := core.ActionResult{
		UserID:        normalized,
		PointsEarned:  delta.Points,
		PreviousLevel: before.DerivedLevel,
		NewLevel:      after.DerivedLevel,
		LevelChanged:  before.DerivedLevel != after.DerivedLevel,
	}
	if result.LevelChanged {
		s.log.Info("level changed",
			zap.String("user_id", string(normalized)),
			zap.Int("from", result.PreviousLevel),
			zap.Int("to", result.NewLevel))
	}

	ev := core.NewActionApplied(action.Type(), delta.Points, after)
	s.bus.Publish(ctx, ev)
	for _, d := range s.rules.Evaluate(ctx, before, after, ev) {
		s.bus.Publish(ctx, d)
	}
	return result, nil
}

// ProcessActionJSON decodes a raw payload for actionType and processes it.
func (s *LoyaltyService) ProcessActionJSON(ctx context.Context, user core.UserID, actionType core.ActionType, payload json.RawMessage) (core.ActionResult, error) {
	action, err := core.DecodeAction(actionType, payload)
	if err != nil {
		s.log.Warn("action rejected",
			zap.String("user_id", string(user)),
			zap.String("action", string(actionType)),
			zap.Error(err))
		return core.ActionResult{}, err
	}
	return s.ProcessAction(ctx, user, action)
}

// GetVector returns the stored vector. Missing users are NotFound.
func (s *LoyaltyService) GetVector(ctx context.Context, user core.UserID) (core.AttributeVector, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return core.AttributeVector{}, err
	}
	return s.store.Get(ctx, normalized)
}

// GetLevel returns the stored level and its name.
func (s *LoyaltyService) GetLevel(ctx context.Context, user core.UserID) (core.LevelInfo, error) {
	v, err := s.GetVector(ctx, user)
	if err != nil {
		return core.LevelInfo{}, err
	}
	def, err := s.table.Definition(v.DerivedLevel)
	if err != nil {
		return core.LevelInfo{}, err
	}
	return core.LevelInfo{UserID: v.UserID, Level: def.Level, Name: def.Name, Rarity: core.Rarity(def.Level)}, nil
}

// GetMetadata generates the descriptor for the user's stored level and resolves
// its image locator when a resolver is configured.
func (s *LoyaltyService) GetMetadata(ctx context.Context, user core.UserID) (core.Descriptor, error) {
	v, err := s.GetVector(ctx, user)
	if err != nil {
		return core.Descriptor{}, err
	}
	d, err := s.table.Generate(v)
	if err != nil {
		return core.Descriptor{}, err
	}
	if s.resolver != nil && d.ImageLocator != "" {
		url, err := s.resolver.Resolve(d.ImageLocator)
		if err != nil {
			return core.Descriptor{}, core.Wrap(core.KindConfiguration, "resolve image", err)
		}
		d.Image = url
	}
	return d, nil
}

// GetPerkEligibility evaluates every active perk against the user's vector.
func (s *LoyaltyService) GetPerkEligibility(ctx context.Context, user core.UserID) ([]core.PerkEligibilityResult, error) {
	return s.perkEligibility(ctx, user, func(core.Perk) bool { return true })
}

// GetPerkEligibilityForBrand restricts evaluation to perks of one brand.
func (s *LoyaltyService) GetPerkEligibilityForBrand(ctx context.Context, user core.UserID, brandID string) ([]core.PerkEligibilityResult, error) {
	return s.perkEligibility(ctx, user, func(p core.Perk) bool { return p.BrandID == brandID })
}

func (s *LoyaltyService) perkEligibility(ctx context.Context, user core.UserID, keep func(core.Perk) bool) ([]core.PerkEligibilityResult, error) {
	v, err := s.GetVector(ctx, user)
	if err != nil {
		return nil, err
	}
	var perks []core.Perk
	err = s.retry.do(ctx, s.log, "list perks", func() error {
		var lerr error
		perks, lerr = s.perks.ListActivePerks(ctx)
		return lerr
	})
	if err != nil {
		return nil, err
	}
	selected := make([]core.Perk, 0, len(perks))
	for _, p := range perks {
		if keep(p) {
			selected = append(selected, p)
		}
	}
	return core.EvaluatePerks(selected, v), nil
}

// RequestMint asks the token issuer to mint for the user's current level. The
// issuer outcome is returned as is; no retries happen here.
func (s *LoyaltyService) RequestMint(ctx context.Context, user core.UserID) (core.MintReceipt, error) {
	if s.issuer == nil {
		return core.MintReceipt{}, core.E(core.KindConfiguration, "mint", "no token issuer configured")
	}
	v, err := s.GetVector(ctx, user)
	if err != nil {
		return core.MintReceipt{}, err
	}
	req := core.MintRequest{RequestID: uuid.NewString(), UserID: v.UserID, Level: v.DerivedLevel}
	receipt, err := s.issuer.Mint(ctx, req)
	if err != nil {
		s.log.Error("mint failed", zap.String("user_id", string(v.UserID)), zap.String("request_id", req.RequestID), zap.Error(err))
		s.bus.Publish(ctx, core.NewMintFailed(v.UserID, v.DerivedLevel, err.Error()))
		return core.MintReceipt{}, err
	}
	receipt.UserID = v.UserID
	s.log.Info("mint completed", zap.String("user_id", string(v.UserID)), zap.String("token_id", receipt.TokenID))
	s.bus.Publish(ctx, core.NewMintCompleted(v.UserID, v.DerivedLevel, receipt.TokenID))
	return receipt, nil
}

// Ping checks that the store answers. A NotFound for the probe user is healthy.
func (s *LoyaltyService) Ping(ctx context.Context) error {
	_, err := s.store.Get(ctx, core.UserID("healthcheck_probe"))
	if err != nil && core.KindOf(err) != core.KindNotFound {
		return err
	}
	return nil
}

func (s *LoyaltyService) Close() { s.bus.Close() }

type simpleRuleEngine struct{ rules []core.Rule }

func (r *simpleRuleEngine) Evaluate(ctx context.Context, before, after core.AttributeVector, trigger core.Event) []core.Event {
	var out []core.Event
	for _, rule := range r.rules {
		out = append(out, rule.Evaluate(ctx, before, after, trigger)...)
	}
	return out
}
