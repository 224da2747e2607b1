// Package router implements the smart order router (C10): a per-level pure
// function deciding PLACE/AMEND/CANCEL_REPLACE/NOOP/BLOCK against one
// resting order, grounded on the teacher's Maker.reconcileOrders
// (price-delta thresholding, cancel-then-place on large moves) but
// generalized to the explicit nine-row decision table of §4.9.
package router

import (
	"grinder/pkg/types"
)

// Decision is the SOR's verdict for one level.
type Decision string

const (
	Noop          Decision = "NOOP"
	Amend         Decision = "AMEND"
	CancelReplace Decision = "CANCEL_REPLACE"
	Block         Decision = "BLOCK"
)

// Action is one concrete instruction the execution engine sends to the
// exchange port.
type Action struct {
	Kind   string // "PLACE" | "CANCEL" | "AMEND"
	Order  types.OrderRequest
	Cancel string // client_id to cancel, when Kind == "CANCEL"
}

// Desired is the policy-derived target for one grid level.
type Desired struct {
	Side  types.Side
	Price types.Amount
	Qty   types.Amount
}

// Config holds the router's tunables.
type Config struct {
	AmendThresholdBps int64
	AmendCapable      bool // I6: AMEND only offered if the exchange port supports it
}

func DefaultConfig() Config {
	return Config{AmendThresholdBps: 5, AmendCapable: true}
}

// Decide implements the §4.9 decision table for a single level. existing
// is nil when no order currently rests at this level. Pure: no I/O, no
// mutation, deterministic on (intent, desired, existing, constraints,
// drawdownBreached).
func Decide(
	cfg Config,
	intent types.OrderIntent,
	desired Desired,
	existing *types.OrderRecord,
	constraints types.SymbolConstraints,
	drawdownBreached bool,
) (Decision, string, []Action) {
	if drawdownBreached && intent == types.IntentIncreaseRisk {
		return Block, "DRAWDOWN_GATE_ACTIVE", nil
	}

	if intent == types.IntentCancel {
		if existing == nil {
			return Noop, "NO_CHANGE", nil
		}
		return CancelReplace, "EXPLICIT_CANCEL", []Action{{Kind: "CANCEL", Cancel: existing.ClientID}}
	}

	ok := constraintsOK(desired, constraints)

	if existing == nil {
		if !ok {
			return Block, "CONSTRAINT_VIOLATION", nil
		}
		return CancelReplace, "NO_EXISTING_ORDER", []Action{{Kind: "PLACE", Order: placeRequest(desired, constraints, intent)}}
	}

	if !ok {
		return Block, "CONSTRAINT_VIOLATION", nil
	}

	deltaBps := priceDeltaBps(existing.Price, desired.Price)
	qtyChanged := existing.Qty.Cmp(desired.Qty) != 0

	if deltaBps == 0 && !qtyChanged {
		return Noop, "NO_CHANGE", nil
	}

	if deltaBps > 0 && deltaBps <= cfg.AmendThresholdBps {
		if cfg.AmendCapable {
			return Amend, "SMALL_PRICE_DELTA", []Action{{Kind: "AMEND", Order: placeRequest(desired, constraints, intent)}}
		}
		return cancelReplaceAction(existing.ClientID, desired, constraints, intent, "SMALL_PRICE_DELTA")
	}

	if deltaBps > cfg.AmendThresholdBps {
		return cancelReplaceAction(existing.ClientID, desired, constraints, intent, "LARGE_PRICE_DELTA")
	}

	// deltaBps == 0 but qty changed.
	if cfg.AmendCapable {
		return Amend, "QTY_CHANGE_ONLY", []Action{{Kind: "AMEND", Order: placeRequest(desired, constraints, intent)}}
	}
	return cancelReplaceAction(existing.ClientID, desired, constraints, intent, "QTY_CHANGE_ONLY")
}

func cancelReplaceAction(clientID string, desired Desired, constraints types.SymbolConstraints, intent types.OrderIntent, reason string) (Decision, string, []Action) {
	return CancelReplace, reason, []Action{
		{Kind: "CANCEL", Cancel: clientID},
		{Kind: "PLACE", Order: placeRequest(desired, constraints, intent)},
	}
}

func placeRequest(desired Desired, constraints types.SymbolConstraints, intent types.OrderIntent) types.OrderRequest {
	return types.OrderRequest{
		Symbol:     constraints.Symbol,
		Side:       desired.Side,
		Price:      desired.Price,
		Qty:        desired.Qty,
		Type:       types.OrderTypeLimit,
		TIF:        types.TIFGTC,
		ReduceOnly: intent == types.IntentReduceRisk,
	}
}

// constraintsOK implements the §4.9 constraint check: price on tick, qty on
// step and >= min_qty, notional >= min_notional.
func constraintsOK(d Desired, c types.SymbolConstraints) bool {
	if !d.Price.ModTick(c.TickSize).IsZero() {
		return false
	}
	floored := d.Qty.FloorToStep(c.StepSize)
	if floored.Cmp(d.Qty) != 0 {
		return false
	}
	if d.Qty.Cmp(c.MinQty) < 0 {
		return false
	}
	notional := d.Qty.Mul(d.Price)
	if notional.Cmp(c.MinNotional) < 0 {
		return false
	}
	return true
}

// priceDeltaBps returns |desired - existing| / existing * 10000, truncated
// to an integer. Zero when prices are identical.
func priceDeltaBps(existing, desired types.Amount) int64 {
	if existing.Cmp(desired) == 0 {
		return 0
	}
	diff := existing.Sub(desired)
	if diff.Sign() < 0 {
		diff = desired.Sub(existing)
	}
	return bpsOf(diff, existing)
}
