package router

import (
	"testing"

	"grinder/pkg/types"
)

func amt(s string, scale int32) types.Amount {
	a, err := types.ParseAmount(s, scale)
	if err != nil {
		panic(err)
	}
	return a
}

func constraints() types.SymbolConstraints {
	return types.SymbolConstraints{
		Symbol:      "BTCUSDT",
		TickSize:    amt("0.10", 2),
		StepSize:    amt("0.001", 3),
		MinQty:      amt("0.001", 3),
		MinNotional: amt("1", 2),
		PriceScale:  2,
		QtyScale:    3,
	}
}

func TestDrawdownBlocksIncreaseRisk(t *testing.T) {
	t.Parallel()

	d, reason, actions := Decide(DefaultConfig(), types.IntentIncreaseRisk,
		Desired{Side: types.BUY, Price: amt("100.00", 2), Qty: amt("0.01", 3)},
		nil, constraints(), true)

	if d != Block || reason != "DRAWDOWN_GATE_ACTIVE" || actions != nil {
		t.Fatalf("got (%s,%s,%v)", d, reason, actions)
	}
}

func TestExplicitCancel(t *testing.T) {
	t.Parallel()

	existing := &types.OrderRecord{ClientID: "c1", Price: amt("100.00", 2), Qty: amt("0.01", 3)}
	d, reason, actions := Decide(DefaultConfig(), types.IntentCancel, Desired{}, existing, constraints(), false)

	if d != CancelReplace || reason != "EXPLICIT_CANCEL" || len(actions) != 1 || actions[0].Kind != "CANCEL" {
		t.Fatalf("got (%s,%s,%v)", d, reason, actions)
	}
}

func TestNoExistingOrderPlaces(t *testing.T) {
	t.Parallel()

	d, reason, actions := Decide(DefaultConfig(), types.IntentIncreaseRisk,
		Desired{Side: types.BUY, Price: amt("100.00", 2), Qty: amt("0.01", 3)},
		nil, constraints(), false)

	if d != CancelReplace || reason != "NO_EXISTING_ORDER" || len(actions) != 1 || actions[0].Kind != "PLACE" {
		t.Fatalf("got (%s,%s,%v)", d, reason, actions)
	}
}

func TestConstraintViolationBlocksNewOrder(t *testing.T) {
	t.Parallel()

	d, reason, _ := Decide(DefaultConfig(), types.IntentIncreaseRisk,
		Desired{Side: types.BUY, Price: amt("100.05", 2), Qty: amt("0.01", 3)}, // off-tick
		nil, constraints(), false)

	if d != Block || reason != "CONSTRAINT_VIOLATION" {
		t.Fatalf("got (%s,%s)", d, reason)
	}
}

func TestNoChangeIsNoop(t *testing.T) {
	t.Parallel()

	existing := &types.OrderRecord{ClientID: "c1", Price: amt("100.00", 2), Qty: amt("0.01", 3)}
	d, reason, actions := Decide(DefaultConfig(), types.IntentIncreaseRisk,
		Desired{Side: types.BUY, Price: amt("100.00", 2), Qty: amt("0.01", 3)},
		existing, constraints(), false)

	if d != Noop || reason != "NO_CHANGE" || actions != nil {
		t.Fatalf("got (%s,%s,%v)", d, reason, actions)
	}
}

func TestSmallPriceDeltaAmends(t *testing.T) {
	t.Parallel()

	existing := &types.OrderRecord{ClientID: "c1", Price: amt("1000.00", 2), Qty: amt("0.01", 3)}
	// One 0.10 tick at 100.00 is already 10bps, so use a 1000.00 price:
	// 0.40 / 1000.00 = 4bps, on tick and under the 5bps threshold.
	d, reason, actions := Decide(DefaultConfig(), types.IntentIncreaseRisk,
		Desired{Side: types.BUY, Price: amt("1000.40", 2), Qty: amt("0.01", 3)},
		existing, constraints(), false)

	if d != Amend || reason != "SMALL_PRICE_DELTA" || len(actions) != 1 || actions[0].Kind != "AMEND" {
		t.Fatalf("got (%s,%s,%v)", d, reason, actions)
	}
}

func TestLargePriceDeltaCancelReplaces(t *testing.T) {
	t.Parallel()

	existing := &types.OrderRecord{ClientID: "c1", Price: amt("100.00", 2), Qty: amt("0.01", 3)}
	d, reason, actions := Decide(DefaultConfig(), types.IntentIncreaseRisk,
		Desired{Side: types.BUY, Price: amt("101.00", 2), Qty: amt("0.01", 3)},
		existing, constraints(), false)

	if d != CancelReplace || reason != "LARGE_PRICE_DELTA" || len(actions) != 2 {
		t.Fatalf("got (%s,%s,%v)", d, reason, actions)
	}
	if actions[0].Kind != "CANCEL" || actions[1].Kind != "PLACE" {
		t.Fatalf("expected CANCEL then PLACE, got %v", actions)
	}
}

func TestQtyChangeOnlyAmends(t *testing.T) {
	t.Parallel()

	existing := &types.OrderRecord{ClientID: "c1", Price: amt("100.00", 2), Qty: amt("0.01", 3)}
	d, reason, actions := Decide(DefaultConfig(), types.IntentIncreaseRisk,
		Desired{Side: types.BUY, Price: amt("100.00", 2), Qty: amt("0.02", 3)},
		existing, constraints(), false)

	if d != Amend || reason != "QTY_CHANGE_ONLY" || len(actions) != 1 {
		t.Fatalf("got (%s,%s,%v)", d, reason, actions)
	}
}

func TestAmendNotCapableFallsBackToCancelReplace(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.AmendCapable = false
	existing := &types.OrderRecord{ClientID: "c1", Price: amt("1000.00", 2), Qty: amt("0.01", 3)}
	d, reason, actions := Decide(cfg, types.IntentIncreaseRisk,
		Desired{Side: types.BUY, Price: amt("1000.40", 2), Qty: amt("0.01", 3)},
		existing, constraints(), false)

	if d != CancelReplace || reason != "SMALL_PRICE_DELTA" || len(actions) != 2 {
		t.Fatalf("got (%s,%s,%v)", d, reason, actions)
	}
}
