package types

// OrderRecord is the execution engine's view of one resting or completed
// order, indexed by its client-generated id (pattern
// "<strategy>_<symbol>_<level_idx>_<seq>").
type OrderRecord struct {
	ClientID   string
	Symbol     string
	Side       Side
	Price      Amount
	Qty        Amount
	FilledQty  Amount
	Status     OrderStatus
	ReduceOnly bool
	TsMs       int64
}

// IsLive reports whether the order still rests on the book.
func (o OrderRecord) IsLive() bool {
	return o.Status == OrderNew || o.Status == OrderPartiallyFilled
}

// OrderRequest is what the execution engine sends to the exchange port for
// a PLACE action (§6 "Outbound exchange calls").
type OrderRequest struct {
	ClientID   string
	Symbol     string
	Side       Side
	Price      Amount
	Qty        Amount
	Type       OrderType
	TIF        TimeInForce
	ReduceOnly bool
}

// OrderAck is the exchange port's response to place/cancel/amend.
type OrderAck struct {
	ClientID string
	OrderID  string
	Status   OrderStatus
	Accepted bool
	Reason   string
}
