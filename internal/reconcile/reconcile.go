// Package reconcile implements the account reconciler (C13): a periodic,
// throttled poll of the exchange's authoritative account state, compared
// deterministically against the engine's own view of positions and resting
// orders.
//
// No direct teacher analogue exists for this component, since the
// teacher's Polymarket CLOB tracks per-market inventory locally without a
// cross-checked exchange-side snapshot. It is grounded on
// internal/store.Store's atomic write-temp-then-rename discipline (applied
// here to evidence-artifact writes) and on types.AccountSnapshot's
// canonical ordering (C1).
package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"grinder/internal/exchange"
	"grinder/pkg/types"
)

// MismatchRule names one of the four closed reconciliation failure modes.
type MismatchRule string

const (
	RuleDuplicateKey MismatchRule = "duplicate_key"
	RuleTsRegression MismatchRule = "ts_regression"
	RuleNegativeQty  MismatchRule = "negative_qty"
	RuleOrphanOrder  MismatchRule = "orphan_order"
)

// Mismatch is one detected inconsistency between the exchange snapshot and
// the engine's local view.
type Mismatch struct {
	Rule    MismatchRule `json:"rule"`
	Detail  string       `json:"detail"`
	Symbol  string       `json:"symbol,omitempty"`
	OrderID string       `json:"order_id,omitempty"`
}

// LocalView is the engine's own belief about resting orders, keyed by
// client id, supplied by the caller (the engine holds one SymbolWorker per
// symbol; Reconciler has no access to worker internals by design — it only
// ever reads from the port, never from engine state directly).
type LocalView struct {
	ClientIDs map[string]bool
}

// Config tunes the reconciler's poll cadence.
type Config struct {
	MinSyncInterval time.Duration // throttle floor per §4.12, default 5s
}

// DefaultConfig returns the spec's 5-second floor.
func DefaultConfig() Config {
	return Config{MinSyncInterval: 5 * time.Second}
}

// Reconciler is the single writer of last-accepted-snapshot state (one
// reconciler worker per account, §5).
type Reconciler struct {
	cfg  Config
	port exchange.Port

	lastAcceptedTsMs int64
	lastSyncAt       time.Time
}

// New constructs a Reconciler.
func New(cfg Config, port exchange.Port) *Reconciler {
	return &Reconciler{cfg: cfg, port: port}
}

// Sync fetches one account snapshot, throttled to at most one call per
// MinSyncInterval, and checks it against the supplied local view. now is
// caller-supplied so callers can drive this deterministically in tests.
// ok is false when the sync was skipped due to throttling; no snapshot was
// fetched in that case.
func (r *Reconciler) Sync(now time.Time, local LocalView) (types.AccountSnapshot, []Mismatch, bool, error) {
	if !r.lastSyncAt.IsZero() && now.Sub(r.lastSyncAt) < r.cfg.MinSyncInterval {
		return types.AccountSnapshot{}, nil, false, nil
	}

	snap, outcome, err := r.port.FetchAccountSnapshot()
	if err != nil || outcome != exchange.Ok {
		return types.AccountSnapshot{}, nil, false, fmt.Errorf("fetch_account_snapshot: outcome=%v err=%w", outcome, err)
	}
	r.lastSyncAt = now

	snap.Canonicalize()
	mismatches := r.check(snap, local)

	if len(mismatches) == 0 || !hasRule(mismatches, RuleTsRegression) {
		r.lastAcceptedTsMs = snap.TsMs
	}

	return snap, mismatches, true, nil
}

func hasRule(mismatches []Mismatch, rule MismatchRule) bool {
	for _, m := range mismatches {
		if m.Rule == rule {
			return true
		}
	}
	return false
}

// check runs the four mismatch rules against a canonicalized snapshot.
func (r *Reconciler) check(snap types.AccountSnapshot, local LocalView) []Mismatch {
	var mismatches []Mismatch

	if snap.TsMs < r.lastAcceptedTsMs {
		mismatches = append(mismatches, Mismatch{
			Rule:   RuleTsRegression,
			Detail: fmt.Sprintf("snapshot ts_ms=%d older than last accepted %d", snap.TsMs, r.lastAcceptedTsMs),
		})
	}

	seenPos := make(map[string]bool, len(snap.Positions))
	for _, p := range snap.Positions {
		key := p.Symbol + "|" + string(p.Side)
		if seenPos[key] {
			mismatches = append(mismatches, Mismatch{Rule: RuleDuplicateKey, Detail: "duplicate position " + key, Symbol: p.Symbol})
		}
		seenPos[key] = true
		if p.Qty.Sign() < 0 {
			mismatches = append(mismatches, Mismatch{Rule: RuleNegativeQty, Detail: "negative position qty", Symbol: p.Symbol})
		}
	}

	seenOrd := make(map[string]bool, len(snap.Orders))
	for _, o := range snap.Orders {
		key := o.OrderID
		if key != "" && seenOrd[key] {
			mismatches = append(mismatches, Mismatch{Rule: RuleDuplicateKey, Detail: "duplicate order id " + key, Symbol: o.Symbol, OrderID: o.OrderID})
		}
		seenOrd[key] = true
		if o.Qty.Sign() < 0 {
			mismatches = append(mismatches, Mismatch{Rule: RuleNegativeQty, Detail: "negative order qty", Symbol: o.Symbol, OrderID: o.OrderID})
		}
		if local.ClientIDs != nil && o.ClientID != "" && !local.ClientIDs[o.ClientID] {
			mismatches = append(mismatches, Mismatch{Rule: RuleOrphanOrder, Detail: "order on exchange absent from engine", Symbol: o.Symbol, OrderID: o.OrderID})
		}
	}

	return mismatches
}

// canonicalRecord is AccountSnapshot flattened into the exact field order
// Render serializes, so Load's json.Unmarshal round-trips byte-for-byte
// regardless of struct tag ordering changes elsewhere.
type canonicalRecord struct {
	TsMs      int64               `json:"ts_ms"`
	EquityUsd string              `json:"equity_usd"`
	Positions []canonicalPosition `json:"positions"`
	Orders    []canonicalOrder    `json:"orders"`
}

type canonicalPosition struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Qty           string `json:"qty"`
	EntryPrice    string `json:"entry_price"`
	MarkPrice     string `json:"mark_price"`
	UnrealizedPnL string `json:"unrealized_pnl"`
}

type canonicalOrder struct {
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	OrderType string `json:"order_type"`
	Price     string `json:"price"`
	Qty       string `json:"qty"`
	OrderID   string `json:"order_id"`
	ClientID  string `json:"client_id"`
}

// Render deterministically serializes an already-canonicalized snapshot:
// decimals become strings (never floats) and every key has a fixed
// position, so two runs over identical input produce byte-identical
// output (§4.12 "serializes deterministically").
func Render(snap types.AccountSnapshot) ([]byte, error) {
	rec := canonicalRecord{
		TsMs:      snap.TsMs,
		EquityUsd: snap.EquityUsd.String(),
		Positions: make([]canonicalPosition, len(snap.Positions)),
		Orders:    make([]canonicalOrder, len(snap.Orders)),
	}
	for i, p := range snap.Positions {
		rec.Positions[i] = canonicalPosition{
			Symbol: p.Symbol, Side: string(p.Side), Qty: p.Qty.String(),
			EntryPrice: p.EntryPrice.String(), MarkPrice: p.MarkPrice.String(),
			UnrealizedPnL: p.UnrealizedPnL.String(),
		}
	}
	for i, o := range snap.Orders {
		rec.Orders[i] = canonicalOrder{
			Symbol: o.Symbol, Side: string(o.Side), OrderType: string(o.OrderType),
			Price: o.Price.String(), Qty: o.Qty.String(), OrderID: o.OrderID, ClientID: o.ClientID,
		}
	}
	return json.Marshal(rec)
}

// Digest returns the lowercase-hex SHA-256 of Render's output.
func Digest(snap types.AccountSnapshot) (string, error) {
	data, err := Render(snap)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Load reverses Render, for the round-trip property load(render(s)) == s
// (up to Amount scale, since canonical strings don't carry the original
// internal scale — callers compare via types.Amount.Cmp, not ==).
func Load(data []byte, priceScale, qtyScale int32) (types.AccountSnapshot, error) {
	var rec canonicalRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return types.AccountSnapshot{}, fmt.Errorf("unmarshal canonical record: %w", err)
	}

	equity, err := types.ParseAmount(rec.EquityUsd, priceScale)
	if err != nil {
		return types.AccountSnapshot{}, fmt.Errorf("parse equity_usd: %w", err)
	}

	snap := types.AccountSnapshot{TsMs: rec.TsMs, EquityUsd: equity}
	for _, p := range rec.Positions {
		qty, err := types.ParseAmount(p.Qty, qtyScale)
		if err != nil {
			return types.AccountSnapshot{}, fmt.Errorf("parse position qty: %w", err)
		}
		entry, _ := types.ParseAmount(p.EntryPrice, priceScale)
		mark, _ := types.ParseAmount(p.MarkPrice, priceScale)
		pnl, _ := types.ParseAmount(p.UnrealizedPnL, priceScale)
		snap.Positions = append(snap.Positions, types.PositionSnap{
			Symbol: p.Symbol, Side: types.Side(p.Side), Qty: qty,
			EntryPrice: entry, MarkPrice: mark, UnrealizedPnL: pnl,
		})
	}
	for _, o := range rec.Orders {
		price, err := types.ParseAmount(o.Price, priceScale)
		if err != nil {
			return types.AccountSnapshot{}, fmt.Errorf("parse order price: %w", err)
		}
		qty, _ := types.ParseAmount(o.Qty, qtyScale)
		snap.Orders = append(snap.Orders, types.OpenOrderSnap{
			Symbol: o.Symbol, Side: types.Side(o.Side), OrderType: types.OrderType(o.OrderType),
			Price: price, Qty: qty, OrderID: o.OrderID, ClientID: o.ClientID,
		})
	}
	return snap, nil
}
