package types

// TickEventKind enumerates the inbound event variants a feed adapter may
// produce. Each kind carries a monotonic ts_ms and a sequence hint and is
// consumed exactly once by the feature engine, then dropped.
type TickEventKind string

const (
	EventAggTrade     TickEventKind = "AGG_TRADE"
	EventBookTicker   TickEventKind = "BOOK_TICKER"
	EventDepthDiff    TickEventKind = "DEPTH_DIFF"
	EventForceOrder   TickEventKind = "FORCE_ORDER"
	EventMarkPrice    TickEventKind = "MARK_PRICE"
	EventUserData     TickEventKind = "USER_DATA_EVENT"
)

// PriceLevel is a single bid or ask level in a depth update or snapshot.
type PriceLevel struct {
	Price Amount
	Qty   Amount
}

// TickEvent is the immutable normalized message every feed adapter emits.
// Exactly one of the payload fields is populated, selected by Kind; this
// mirrors a tagged union via a closed set of optional pointer fields rather
// than a class hierarchy (§9 "Classes with inheritance -> polymorphic
// values").
type TickEvent struct {
	Kind     TickEventKind
	Symbol   string
	TsMs     int64
	SeqHint  int64

	AggTrade   *AggTradeEvent
	BookTicker *BookTickerEvent
	DepthDiff  *DepthDiffEvent
	ForceOrder *ForceOrderEvent
	MarkPrice  *MarkPriceEvent
	UserData   *UserDataEvent
}

// AggTradeEvent is a single aggregated trade print.
type AggTradeEvent struct {
	Price    Amount
	Qty      Amount
	Side     Side // taker side
	TradeID  int64
}

// BookTickerEvent is a best-bid/best-ask update.
type BookTickerEvent struct {
	BidPrice Amount
	BidQty   Amount
	AskPrice Amount
	AskQty   Amount
}

// DepthDiffEvent carries incremental L2 book changes. Bids/Asks levels with
// Qty == 0 mean "remove this level".
type DepthDiffEvent struct {
	FirstUpdateID int64
	FinalUpdateID int64
	Bids          []PriceLevel
	Asks          []PriceLevel
}

// ForceOrderEvent reports a liquidation print, consumed by the toxicity
// evaluator's liquidation-surge component.
type ForceOrderEvent struct {
	Side  Side
	Price Amount
	Qty   Amount
}

// MarkPriceEvent reports the exchange's mark price and funding rate.
type MarkPriceEvent struct {
	MarkPrice     Amount
	IndexPrice    Amount
	FundingRateX1e6 int64 // funding rate scaled x1,000,000
	NextFundingMs int64
}

// UserDataEvent carries account-scoped events (order updates, fills,
// balance/position changes) from the user-data stream.
type UserDataEvent struct {
	EventKind    string // "ORDER_TRADE_UPDATE", "ACCOUNT_UPDATE", ...
	ClientID     string
	OrderID      string
	Status       OrderStatus
	FilledQty    Amount
	FillPrice    Amount
	RealizedPnL  Amount
}

// MidBar is a completed OHLC bar derived from the tick stream; the feature
// engine's ATR/NATR computation consumes a rolling window of these.
type MidBar struct {
	Symbol    string
	OpenMs    int64
	CloseMs   int64
	Open      Amount
	High      Amount
	Low       Amount
	Close     Amount
	TradeCount int64
}
