// Package feature computes per-symbol microstructure features from the raw
// tick stream: rolling mid-bars, ATR(14)/NATR, L1 spread, and a throttled
// L2 depth snapshot. No L1 imbalance is computed: FeatureSnapshot's
// ImbalanceL1Bps is always 0. It is a deterministic pure function of the
// prefix of the tick stream — no clock reads; all time comes from event
// ts_ms.
package feature

import (
	"grinder/pkg/types"
)

const atrPeriod = 14

// DepthUpdateMs is the default throttle for L2FeatureSnapshot emission.
const DepthUpdateMs int64 = 250

// Engine owns one symbol's rolling feature state. It is the single writer
// for that state under the single-writer-per-symbol concurrency model;
// callers must not share an Engine across goroutines.
type Engine struct {
	symbol string

	bars       []types.MidBar // rolling window, oldest first
	trueRanges []int64        // scaled by price precision, aligned with bars[1:]

	lastBid, lastAsk types.Amount
	haveBook         bool

	lastL2EmitMs int64

	prevClose     types.Amount
	warmupBars    int64
	lastNatrBps   int64

	curBarOpenMs int64
	curBar       *types.MidBar
	barIntervalMs int64
}

// New creates a feature Engine for one symbol with the given bar interval
// (e.g. 60_000 for 1-minute bars).
func New(symbol string, barIntervalMs int64) *Engine {
	return &Engine{symbol: symbol, barIntervalMs: barIntervalMs}
}

// OnTick folds one TickEvent into the rolling state and returns the
// FeatureSnapshot iff at least one L1 field changed (else ok is false).
func (e *Engine) OnTick(ev types.TickEvent) (snap types.FeatureSnapshot, ok bool) {
	changed := false

	switch ev.Kind {
	case types.EventBookTicker:
		if ev.BookTicker == nil {
			return types.FeatureSnapshot{}, false
		}
		if !e.haveBook || ev.BookTicker.BidPrice.Cmp(e.lastBid) != 0 || ev.BookTicker.AskPrice.Cmp(e.lastAsk) != 0 {
			changed = true
		}
		e.lastBid = ev.BookTicker.BidPrice
		e.lastAsk = ev.BookTicker.AskPrice
		e.haveBook = true
		e.rollBar(ev.TsMs, e.midLocked())
	case types.EventAggTrade:
		if ev.AggTrade == nil {
			return types.FeatureSnapshot{}, false
		}
		e.rollBar(ev.TsMs, ev.AggTrade.Price)
		changed = true
	default:
		return types.FeatureSnapshot{}, false
	}

	if !changed {
		return types.FeatureSnapshot{}, false
	}

	mid := e.midLocked()
	natr := e.computeNatr(mid)

	snap = types.FeatureSnapshot{
		Symbol:           e.symbol,
		TsMs:             ev.TsMs,
		MidPrice:         mid,
		SpreadBps:        spreadBps(e.lastBid, e.lastAsk),
		ImbalanceL1Bps:   0,
		ThinL1:           false,
		NatrBps:          natr,
		WarmupBars:       e.warmupBars,
	}
	return snap, true
}

func (e *Engine) midLocked() types.Amount {
	if !e.haveBook {
		return types.ZeroAmount(2)
	}
	return e.lastBid.Add(e.lastAsk).Mul(types.AmountFromInt64(5, 1)).Rescale(e.lastBid.Scale)
}

func spreadBps(bid, ask types.Amount) int64 {
	if bid.IsZero() && ask.IsZero() {
		return 0
	}
	mid := bid.Add(ask).Mul(types.AmountFromInt64(5, 1)).Rescale(bid.Scale)
	if mid.IsZero() {
		return 0
	}
	diff := ask.Sub(bid)
	// bps = diff/mid * 10000, computed via big.Int to stay on the integer path
	num := diff.Value
	den := mid.Value
	if den.Sign() == 0 {
		return 0
	}
	scaled := new(bigInt).Mul(num, big10000)
	scaled.Quo(scaled, den)
	return scaled.Int64()
}

// rollBar folds a price observation at tsMs into the current bar, closing
// and appending it when the interval elapses.
func (e *Engine) rollBar(tsMs int64, price types.Amount) {
	if e.curBar == nil {
		e.startBar(tsMs, price)
		return
	}
	if tsMs-e.curBarOpenMs >= e.barIntervalMs {
		e.closeBar()
		e.startBar(tsMs, price)
		return
	}
	if price.Cmp(e.curBar.High) > 0 {
		e.curBar.High = price
	}
	if price.Cmp(e.curBar.Low) < 0 {
		e.curBar.Low = price
	}
	e.curBar.Close = price
	e.curBar.CloseMs = tsMs
	e.curBar.TradeCount++
}

func (e *Engine) startBar(tsMs int64, price types.Amount) {
	e.curBarOpenMs = tsMs
	e.curBar = &types.MidBar{
		Symbol: e.symbol, OpenMs: tsMs, CloseMs: tsMs,
		Open: price, High: price, Low: price, Close: price, TradeCount: 1,
	}
}

func (e *Engine) closeBar() {
	if e.curBar == nil {
		return
	}
	bar := *e.curBar
	e.curBar = nil
	e.bars = append(e.bars, bar)
	if len(e.bars) > atrPeriod+1 {
		e.bars = e.bars[len(e.bars)-(atrPeriod+1):]
	}
	if !e.prevClose.IsZero() || len(e.bars) == 1 {
		tr := trueRange(bar, e.prevClose)
		e.trueRanges = append(e.trueRanges, tr)
		if len(e.trueRanges) > atrPeriod {
			e.trueRanges = e.trueRanges[len(e.trueRanges)-atrPeriod:]
		}
	}
	e.prevClose = bar.Close
	if e.warmupBars < atrPeriod+1 {
		e.warmupBars++
	}
}

// trueRange computes the bar's true range scaled by the bar's own price
// scale: max(high-low, |high-prevClose|, |low-prevClose|).
func trueRange(bar types.MidBar, prevClose types.Amount) int64 {
	hl := bar.High.Sub(bar.Low)
	best := absAmount(hl)
	if !prevClose.IsZero() {
		hc := absAmount(bar.High.Sub(prevClose))
		if hc.Cmp(best) > 0 {
			best = hc
		}
		lc := absAmount(bar.Low.Sub(prevClose))
		if lc.Cmp(best) > 0 {
			best = lc
		}
	}
	return best.Value.Int64()
}

func absAmount(a types.Amount) types.Amount {
	if a.Sign() < 0 {
		return types.Amount{Value: new(bigInt).Neg(a.Value), Scale: a.Scale}
	}
	return a
}

// computeNatr returns the SSOT-encoded natr_bps: int(round((ATR(14)/close)*10000)).
// Returns 0 during warmup or when close == 0.
func (e *Engine) computeNatr(mid types.Amount) int64 {
	if e.warmupBars < atrPeriod+1 || len(e.trueRanges) < atrPeriod || mid.IsZero() {
		e.lastNatrBps = 0
		return 0
	}
	var sum int64
	for _, tr := range e.trueRanges {
		sum += tr
	}
	atr := roundDivI64(sum, atrPeriod) // SMA-based ATR(14), round-to-nearest

	atrAmt := types.AmountFromInt64(atr, mid.Scale)
	num := new(bigInt).Mul(atrAmt.Value, big10000)
	e.lastNatrBps = roundDivBigInt(num, mid.Value).Int64()
	return e.lastNatrBps
}

// roundDivI64 divides two non-negative int64s, rounding to the nearest
// integer (half rounds up), matching int(round(x)) rather than int(x).
func roundDivI64(num, den int64) int64 {
	return (num + den/2) / den
}

// roundDivBigInt divides two non-negative big.Ints, rounding to the
// nearest integer (half rounds up). num and den are both non-negative
// here: ATR and mid price are never negative.
func roundDivBigInt(num, den *bigInt) *bigInt {
	q, r := new(bigInt).QuoRem(num, den, new(bigInt))
	if new(bigInt).Lsh(r, 1).Cmp(den) >= 0 {
		q.Add(q, big1)
	}
	return q
}

// L2Snapshot computes the throttled L2FeatureSnapshot from a depth ladder.
// Returns ok=false if called before DepthUpdateMs has elapsed since the
// last emission.
func (e *Engine) L2Snapshot(tsMs int64, bids, asks []types.PriceLevel, topN int) (types.L2FeatureSnapshot, bool) {
	if tsMs-e.lastL2EmitMs < DepthUpdateMs {
		return types.L2FeatureSnapshot{}, false
	}
	e.lastL2EmitMs = tsMs

	if len(bids) < topN || len(asks) < topN {
		return types.L2FeatureSnapshot{Symbol: e.symbol, TsMs: tsMs, InsufficientDepth: true}, true
	}

	var bidQty, askQty bigInt
	for i := 0; i < topN; i++ {
		bidQty.Add(&bidQty, bids[i].Qty.Value)
		askQty.Add(&askQty, asks[i].Qty.Value)
	}
	total := new(bigInt).Add(&bidQty, &askQty)
	var imbBps int64
	if total.Sign() != 0 {
		diff := new(bigInt).Sub(&bidQty, &askQty)
		scaled := new(bigInt).Mul(diff, big10000)
		scaled.Quo(scaled, total)
		imbBps = scaled.Int64()
	}

	return types.L2FeatureSnapshot{
		Symbol:                e.symbol,
		TsMs:                  tsMs,
		DepthImbalanceTopNBps: imbBps,
	}, true
}
