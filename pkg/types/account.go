package types

import "sort"

// PositionSnap is a frozen view of one symbol/side position.
type PositionSnap struct {
	Symbol      string
	Side        Side
	Qty         Amount
	EntryPrice  Amount
	MarkPrice   Amount
	UnrealizedPnL Amount
}

// OpenOrderSnap is a frozen view of one exchange-reported resting order.
type OpenOrderSnap struct {
	Symbol    string
	Side      Side
	OrderType OrderType
	Price     Amount
	Qty       Amount
	OrderID   string
	ClientID  string
}

// AccountSnapshot is the canonical, deterministically-ordered view of
// exchange truth produced by the account reconciler (C13). Positions are
// sorted by (symbol, side); orders by (symbol, side, order_type, price,
// qty, order_id) per §3.
type AccountSnapshot struct {
	TsMs      int64
	Positions []PositionSnap
	Orders    []OpenOrderSnap
	EquityUsd Amount
}

// Canonicalize sorts Positions and Orders into the deterministic order
// required for stable serialization and SHA-256 digesting (§4.12).
func (a *AccountSnapshot) Canonicalize() {
	sort.SliceStable(a.Positions, func(i, j int) bool {
		pi, pj := a.Positions[i], a.Positions[j]
		if pi.Symbol != pj.Symbol {
			return pi.Symbol < pj.Symbol
		}
		return pi.Side < pj.Side
	})
	sort.SliceStable(a.Orders, func(i, j int) bool {
		oi, oj := a.Orders[i], a.Orders[j]
		if oi.Symbol != oj.Symbol {
			return oi.Symbol < oj.Symbol
		}
		if oi.Side != oj.Side {
			return oi.Side < oj.Side
		}
		if oi.OrderType != oj.OrderType {
			return oi.OrderType < oj.OrderType
		}
		if c := oi.Price.Cmp(oj.Price); c != 0 {
			return c < 0
		}
		if c := oi.Qty.Cmp(oj.Qty); c != 0 {
			return c < 0
		}
		return oi.OrderID < oj.OrderID
	})
}
