package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// ActionType names an inbound loyalty action.
type ActionType string

const (
	ActionFlightBooking ActionType = "flight_booking"
	ActionPurchase      ActionType = "purchase"
	ActionHotelStay     ActionType = "hotel_stay"
	ActionReferral      ActionType = "referral"
	ActionTierChange    ActionType = "tier_change"
)

// SpendScale is the number of decimal places kept for spend amounts on every
// backend.
const SpendScale = 6

// PointRule says how an action type turns into points.
type PointRule struct {
	// Denominator divides the payload amount into points. Zero means the payload
	// states its own points.
	Denominator int64
	// ActivityBearing actions bump ActivityCount by one.
	ActivityBearing bool
}

var pointTable = map[ActionType]PointRule{
	ActionFlightBooking: {ActivityBearing: true},
	ActionPurchase:      {Denominator: 1000},
	ActionHotelStay:     {Denominator: 500},
	ActionReferral:      {},
	ActionTierChange:    {},
}

// PointRuleFor looks up the point rule for typ. A missing row is a deployment
// error, not bad input.
func PointRuleFor(typ ActionType) (PointRule, error) {
	r, ok := pointTable[typ]
	if !ok {
		return PointRule{}, E(KindConfiguration, "point table", "no point rule for action type %q", typ)
	}
	return r, nil
}

// Action is one of the payload variants below.
type Action interface {
	Type() ActionType
	delta(rule PointRule) (Delta, error)
}

// FlightBooking awards the points the booking states.
type FlightBooking struct {
	PointsEarned int64           `json:"points_earned" validate:"gte=0"`
	Spend        decimal.Decimal `json:"spend" validate:"gte=0"`
}

func (FlightBooking) Type() ActionType { return ActionFlightBooking }

func (a FlightBooking) delta(rule PointRule) (Delta, error) {
	return Delta{Points: a.PointsEarned, Activity: activity(rule), Spend: a.Spend}, nil
}

// UnmarshalJSON accepts pointsEarned as well as points_earned.
func (a *FlightBooking) UnmarshalJSON(raw []byte) error {
	var w struct {
		PointsEarned *int64          `json:"points_earned"`
		PointsCamel  *int64          `json:"pointsEarned"`
		Spend        decimal.Decimal `json:"spend"`
	}
	if err := decodeStrict(raw, &w); err != nil {
		return err
	}
	pts, err := pickPoints(w.PointsEarned, w.PointsCamel)
	if err != nil {
		return err
	}
	*a = FlightBooking{PointsEarned: pts, Spend: w.Spend}
	return nil
}

// Purchase awards one point per Denominator units of currency spent.
type Purchase struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
}

func (Purchase) Type() ActionType { return ActionPurchase }

func (a Purchase) delta(rule PointRule) (Delta, error) {
	pts, err := divide(a.Amount, rule)
	if err != nil {
		return Delta{}, err
	}
	return Delta{Points: pts, Activity: activity(rule), Spend: a.Amount}, nil
}

// HotelStay awards points on the amount paid for the stay.
type HotelStay struct {
	Nights int64           `json:"nights" validate:"gte=1"`
	Amount decimal.Decimal `json:"amount" validate:"gte=0"`
}

func (HotelStay) Type() ActionType { return ActionHotelStay }

func (a HotelStay) delta(rule PointRule) (Delta, error) {
	pts, err := divide(a.Amount, rule)
	if err != nil {
		return Delta{}, err
	}
	return Delta{Points: pts, Activity: activity(rule), Spend: a.Amount}, nil
}

// Referral awards the points the referral programme states.
type Referral struct {
	PointsEarned int64 `json:"points_earned" validate:"gte=0"`
}

func (Referral) Type() ActionType { return ActionReferral }

func (a Referral) delta(rule PointRule) (Delta, error) {
	return Delta{Points: a.PointsEarned, Activity: activity(rule)}, nil
}

// UnmarshalJSON accepts pointsEarned as well as points_earned.
func (a *Referral) UnmarshalJSON(raw []byte) error {
	var w struct {
		PointsEarned *int64 `json:"points_earned"`
		PointsCamel  *int64 `json:"pointsEarned"`
	}
	if err := decodeStrict(raw, &w); err != nil {
		return err
	}
	pts, err := pickPoints(w.PointsEarned, w.PointsCamel)
	if err != nil {
		return err
	}
	*a = Referral{PointsEarned: pts}
	return nil
}

func pickPoints(snake, camel *int64) (int64, error) {
	switch {
	case snake != nil && camel != nil:
		return 0, fmt.Errorf("both points_earned and pointsEarned given")
	case snake != nil:
		return *snake, nil
	case camel != nil:
		return *camel, nil
	}
	return 0, nil
}

func decodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// TierChange records an externally decided categorical tier.
type TierChange struct {
	Tier CategoricalTier `json:"tier" validate:"required,tier"`
}

func (TierChange) Type() ActionType { return ActionTierChange }

func (a TierChange) delta(rule PointRule) (Delta, error) {
	return Delta{Activity: activity(rule), Tier: a.Tier}, nil
}

func activity(rule PointRule) int64 {
	if rule.ActivityBearing {
		return 1
	}
	return 0
}

var maxPoints = decimal.NewFromInt(math.MaxInt64)

// divide floors amount/Denominator in decimal so amounts beyond int64 still
// earn the right points; a quotient that does not fit is rejected.
func divide(amount decimal.Decimal, rule PointRule) (int64, error) {
	if rule.Denominator <= 0 {
		return 0, nil
	}
	q := amount.Floor().Div(decimal.NewFromInt(rule.Denominator)).Floor()
	if q.GreaterThan(maxPoints) {
		return 0, E(KindInvalidInput, "action", "amount %s earns more points than can be stored", amount.String())
	}
	return q.IntPart(), nil
}

// DeltaFor validates a and maps it to the delta it applies.
func DeltaFor(a Action) (Delta, error) {
	const op = "action"
	if a == nil || reflect.ValueOf(a).Kind() == reflect.Ptr && reflect.ValueOf(a).IsNil() {
		return Delta{}, E(KindInvalidInput, op, "missing action payload")
	}
	if _, known := actionFactories[a.Type()]; !known {
		return Delta{}, E(KindInvalidInput, op, "unknown action type %q", a.Type())
	}
	if err := validate.Struct(a); err != nil {
		return Delta{}, &Error{Kind: KindInvalidInput, Op: op, Msg: string(a.Type()), Err: err}
	}
	rule, err := PointRuleFor(a.Type())
	if err != nil {
		return Delta{}, err
	}
	d, err := a.delta(rule)
	if err != nil {
		return Delta{}, err
	}
	if !d.Spend.Equal(d.Spend.Truncate(SpendScale)) {
		return Delta{}, E(KindInvalidInput, op, "spend %s has more than %d decimal places", d.Spend.String(), SpendScale)
	}
	return d, nil
}

var actionFactories = map[ActionType]func() Action{
	ActionFlightBooking: func() Action { return &FlightBooking{} },
	ActionPurchase:      func() Action { return &Purchase{} },
	ActionHotelStay:     func() Action { return &HotelStay{} },
	ActionReferral:      func() Action { return &Referral{} },
	ActionTierChange:    func() Action { return &TierChange{} },
}

// ActionTypes lists the accepted action types.
func ActionTypes() []ActionType {
	return []ActionType{ActionFlightBooking, ActionPurchase, ActionHotelStay, ActionReferral, ActionTierChange}
}

// DecodeAction parses raw into the variant for typ. Unknown types and fields are
// rejected; the result is validated.
func DecodeAction(typ ActionType, raw json.RawMessage) (Action, error) {
	const op = "decode action"
	factory, ok := actionFactories[typ]
	if !ok {
		return nil, E(KindInvalidInput, op, "unknown action type %q", typ)
	}
	ptr := factory()
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := decodeStrict(raw, ptr); err != nil {
			return nil, &Error{Kind: KindInvalidInput, Op: op, Msg: string(typ), Err: err}
		}
	}
	a := reflect.ValueOf(ptr).Elem().Interface().(Action)
	if _, err := DeltaFor(a); err != nil {
		return nil, err
	}
	return a, nil
}

// ActionResult is returned from processing an action.
type ActionResult struct {
	UserID        UserID `json:"user_id"`
	PointsEarned  int64  `json:"points_earned"`
	PreviousLevel int    `json:"previous_level"`
	NewLevel      int    `json:"new_level"`
	LevelChanged  bool   `json:"level_changed"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	_ = v.RegisterValidation("tier", func(fl validator.FieldLevel) bool {
		return CategoricalTier(fl.Field().String()).Valid()
	})
	return v
}
