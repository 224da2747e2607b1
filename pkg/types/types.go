// Package types defines the canonical vocabulary shared by every GRINDER
// component: scaled-integer numerics, tick events, feature snapshots, grid
// plans, order records, account snapshots, and FSM states. It has no
// dependency on any internal package, so any layer may import it.
package types

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order or position: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == BUY {
		return SELL
	}
	return BUY
}

// OrderType enumerates the order types the exchange port accepts.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// TimeInForce enumerates the supported order lifecycles.
type TimeInForce string

const (
	TIFGTC      TimeInForce = "GTC"
	TIFIOC      TimeInForce = "IOC"
	TIFPostOnly TimeInForce = "POST_ONLY"
)

// OrderStatus is the exchange-reported lifecycle state of a resting order.
type OrderStatus string

const (
	OrderNew            OrderStatus = "NEW"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled         OrderStatus = "FILLED"
	OrderCanceled       OrderStatus = "CANCELED"
	OrderRejected       OrderStatus = "REJECTED"
	OrderExpired        OrderStatus = "EXPIRED"
)

// ————————————————————————————————————————————————————————————————————————
// Scaled-integer numerics (§3, §9 "Decimals")
// ————————————————————————————————————————————————————————————————————————

// Amount is an arbitrary-precision fixed-point number: Value scaled by
// 10^-Scale. All monetary math on the decision path (prices, sizes,
// notionals) uses Amount instead of float64, so results are bit-identical
// across runs regardless of platform. Scale is fixed per symbol from its
// tick_size/step_size; arithmetic between two Amounts of different Scale
// rescales the coarser operand up before combining, never down, so no
// precision is silently lost.
type Amount struct {
	Value *big.Int
	Scale int32
}

// ZeroAmount returns a zero-valued Amount at the given scale.
func ZeroAmount(scale int32) Amount {
	return Amount{Value: big.NewInt(0), Scale: scale}
}

// AmountFromInt64 builds an Amount from an already-scaled integer.
func AmountFromInt64(v int64, scale int32) Amount {
	return Amount{Value: big.NewInt(v), Scale: scale}
}

// ParseAmount parses a decimal string into an Amount at the given scale,
// e.g. ParseAmount("64952.10", 2) -> Value=6495210, Scale=2.
func ParseAmount(s string, scale int32) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	rescaled := d.Shift(scale).Truncate(0)
	bi, ok := new(big.Int).SetString(rescaled.String(), 10)
	if !ok {
		return Amount{}, fmt.Errorf("parse amount %q: internal conversion failed", s)
	}
	return Amount{Value: bi, Scale: scale}, nil
}

// rescaleTo returns a Value equivalent to a but expressed at scale `to`.
// Only ever called with to >= a.Scale so no truncation occurs.
func rescaleTo(a Amount, to int32) *big.Int {
	if a.Scale == to {
		return new(big.Int).Set(a.Value)
	}
	diff := to - a.Scale
	factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(diff)), nil)
	return new(big.Int).Mul(a.Value, factor)
}

func maxScale(a, b Amount) int32 {
	if a.Scale > b.Scale {
		return a.Scale
	}
	return b.Scale
}

// Add returns a+b, rescaled to the finer of the two scales.
func (a Amount) Add(b Amount) Amount {
	s := maxScale(a, b)
	return Amount{Value: new(big.Int).Add(rescaleTo(a, s), rescaleTo(b, s)), Scale: s}
}

// Sub returns a-b, rescaled to the finer of the two scales.
func (a Amount) Sub(b Amount) Amount {
	s := maxScale(a, b)
	return Amount{Value: new(big.Int).Sub(rescaleTo(a, s), rescaleTo(b, s)), Scale: s}
}

// Mul returns a*b at combined scale a.Scale+b.Scale (the exact product,
// no rounding). Callers that need notional at a specific scale should call
// Rescale afterward.
func (a Amount) Mul(b Amount) Amount {
	return Amount{Value: new(big.Int).Mul(a.Value, b.Value), Scale: a.Scale + b.Scale}
}

// Cmp compares a and b after rescaling to a common scale.
func (a Amount) Cmp(b Amount) int {
	s := maxScale(a, b)
	return rescaleTo(a, s).Cmp(rescaleTo(b, s))
}

// Sign returns -1, 0 or 1.
func (a Amount) Sign() int { return a.Value.Sign() }

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool { return a.Value.Sign() == 0 }

// Rescale truncates (never rounds up) a to a coarser or finer scale.
func (a Amount) Rescale(to int32) Amount {
	if to >= a.Scale {
		return Amount{Value: rescaleTo(a, to), Scale: to}
	}
	diff := a.Scale - to
	factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(diff)), nil)
	q := new(big.Int).Quo(a.Value, factor)
	return Amount{Value: q, Scale: to}
}

// FloorToStep truncates a down to the nearest multiple of step (same scale
// family as a). Used for qty floor_to_step(qty, step_size).
func (a Amount) FloorToStep(step Amount) Amount {
	s := maxScale(a, step)
	av := rescaleTo(a, s)
	sv := rescaleTo(step, s)
	if sv.Sign() == 0 {
		return Amount{Value: new(big.Int).Set(av), Scale: s}
	}
	q := new(big.Int).Quo(av, sv)
	return Amount{Value: new(big.Int).Mul(q, sv), Scale: s}
}

// ModTick returns av mod tick (same scale family), used for the SOR
// constraint check `price % tick_size == 0`.
func (a Amount) ModTick(tick Amount) Amount {
	s := maxScale(a, tick)
	av := rescaleTo(a, s)
	tv := rescaleTo(tick, s)
	if tv.Sign() == 0 {
		return Amount{Value: big.NewInt(0), Scale: s}
	}
	m := new(big.Int).Mod(av, tv)
	return Amount{Value: m, Scale: s}
}

// String renders the canonical decimal-string form used at every
// serialization boundary (order payloads, evidence artifacts, logs).
func (a Amount) String() string {
	if a.Value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(a.Value, -a.Scale).String()
}

// MarshalJSON renders Amount as its canonical decimal string, never as a
// JSON number, so precision is never silently truncated by a float64 parser
// downstream.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts the canonical decimal-string form.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("unmarshal amount %q: %w", s, err)
	}
	scale := -d.Exponent()
	if scale < 0 {
		scale = 0
	}
	parsed, err := ParseAmount(s, scale)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Integer scaled helpers (bps ×1, multipliers ×1000)
// ————————————————————————————————————————————————————————————————————————

// ClampI64 clamps v into [lo, hi].
func ClampI64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// EMAInt computes an integer exponential moving average:
// next = prev + (cur-prev)*alphaX1000/1000, truncated toward zero.
// alphaX1000 is alpha scaled by 1000 (e.g. 300 == alpha 0.3).
func EMAInt(prev, cur, alphaX1000 int64) int64 {
	delta := cur - prev
	adj := (delta * alphaX1000) / 1000
	return prev + adj
}

// SymbolConstraints carries the exchange-reported precision rules for one
// trading symbol, cached by the exchange port and consulted by the SOR's
// constraint checks (§4.9) and the feature engine's scale decisions.
type SymbolConstraints struct {
	Symbol      string
	TickSize    Amount // minimum price increment
	StepSize    Amount // minimum qty increment
	MinQty      Amount
	MinNotional Amount
	PriceScale  int32
	QtyScale    int32
}
