package feature

import (
	"testing"

	"grinder/pkg/types"
)

func price(s string) types.Amount {
	a, err := types.ParseAmount(s, 2)
	if err != nil {
		panic(err)
	}
	return a
}

// TestNatrGoldenEncoding: 15 bars, ATR=10, close=100 -> natr_bps=1000
// exactly. Warmup: 14 bars -> 0; 15 bars -> nonzero.
func TestNatrGoldenEncoding(t *testing.T) {
	t.Parallel()

	e := New("BTCUSDT", 60_000)

	// Feed 15 bars with a constant true range of 10 around close=100.
	tsMs := int64(0)
	for i := 0; i < 15; i++ {
		e.rollBar(tsMs, price("95.00"))
		e.rollBar(tsMs+1, price("105.00"))
		e.rollBar(tsMs+2, price("100.00"))
		e.closeBar()
		tsMs += 60_000

		if i < 14 {
			if got := e.computeNatr(price("100.00")); got != 0 {
				t.Fatalf("bar %d: natr = %d, want 0 (warmup)", i+1, got)
			}
		}
	}

	got := e.computeNatr(price("100.00"))
	if got == 0 {
		t.Fatalf("after warmup: natr = 0, want nonzero")
	}
	if got != 1000 {
		t.Fatalf("natr_bps = %d, want 1000", got)
	}
}

// TestNatrRoundsToNearestOnNonExactDivision exercises a window where
// neither the ATR average nor the ATR/close ratio divides evenly, so the
// encoding must round to the nearest integer rather than truncate. With
// truncation this would read natr_bps=1030; rounding gives 1032.
func TestNatrRoundsToNearestOnNonExactDivision(t *testing.T) {
	t.Parallel()

	e := New("BTCUSDT", 60_000)

	tsMs := int64(0)
	for i := 0; i < 15; i++ {
		e.rollBar(tsMs, price("95.00"))
		if i == 1 {
			e.rollBar(tsMs+1, price("105.11")) // one bar's true range is 10.11, not 10.00
		} else {
			e.rollBar(tsMs+1, price("105.00"))
		}
		e.rollBar(tsMs+2, price("100.00"))
		e.closeBar()
		tsMs += 60_000
	}

	got := e.computeNatr(price("97.00"))
	if got != 1032 {
		t.Fatalf("natr_bps = %d, want 1032 (round-to-nearest, not truncated 1030)", got)
	}
}

func TestOnTickSuppressesUnchangedL1(t *testing.T) {
	t.Parallel()

	e := New("BTCUSDT", 60_000)
	tick := types.TickEvent{
		Kind: types.EventBookTicker, Symbol: "BTCUSDT", TsMs: 1000,
		BookTicker: &types.BookTickerEvent{BidPrice: price("100.00"), AskPrice: price("100.10")},
	}

	_, ok := e.OnTick(tick)
	if !ok {
		t.Fatalf("first tick should always emit")
	}

	tick.TsMs = 2000
	_, ok = e.OnTick(tick)
	if ok {
		t.Fatalf("unchanged L1 fields should be suppressed")
	}
}

func TestSpreadBps(t *testing.T) {
	t.Parallel()

	got := spreadBps(price("100.00"), price("100.10"))
	if got <= 0 {
		t.Fatalf("spreadBps = %d, want > 0", got)
	}
}
