package risk

import (
	"log/slog"
	"os"
	"testing"

	"grinder/pkg/types"
)

func newTestGuard() *Guard {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewGuard(DefaultConfig(), logger)
}

func usd(s string) types.Amount {
	a, err := types.ParseAmount(s, 2)
	if err != nil {
		panic(err)
	}
	return a
}

// TestDrawdownLatchSequence is the spec.md §8 sequence: equity drops 5% ->
// NORMAL; then 12% -> DRAWDOWN; equity recovers -> still DRAWDOWN;
// operator reset -> NORMAL.
func TestDrawdownLatchSequence(t *testing.T) {
	t.Parallel()

	g := newTestGuard()

	g.ReportEquity(EquityReport{Symbol: "BTCUSDT", EquityUsd: usd("100000"), TsMs: 1})
	g.ReportEquity(EquityReport{Symbol: "BTCUSDT", EquityUsd: usd("95000"), TsMs: 2}) // -5%

	if g.View().DdState != Normal {
		t.Fatalf("5%% drawdown: state = %s, want NORMAL", g.View().DdState)
	}
	if d, _ := g.DecideIntent(types.IntentIncreaseRisk); d != types.Allow {
		t.Fatalf("NORMAL: INCREASE_RISK = %s, want ALLOW", d)
	}

	g.ReportEquity(EquityReport{Symbol: "BTCUSDT", EquityUsd: usd("88000"), TsMs: 3}) // -12%
	if g.View().DdState != Drawdown {
		t.Fatalf("12%% drawdown: state = %s, want DRAWDOWN", g.View().DdState)
	}
	if d, reason := g.DecideIntent(types.IntentIncreaseRisk); d != types.Block || reason != "DD_PORTFOLIO_BREACH" {
		t.Fatalf("DRAWDOWN: INCREASE_RISK = (%s,%s), want (BLOCK,DD_PORTFOLIO_BREACH)", d, reason)
	}
	if d, _ := g.DecideIntent(types.IntentReduceRisk); d != types.Allow {
		t.Fatalf("DRAWDOWN: REDUCE_RISK = %s, want ALLOW", d)
	}
	if d, _ := g.DecideIntent(types.IntentCancel); d != types.Allow {
		t.Fatalf("DRAWDOWN: CANCEL = %s, want ALLOW", d)
	}

	// Equity recovers fully — latch must NOT clear on its own.
	g.ReportEquity(EquityReport{Symbol: "BTCUSDT", EquityUsd: usd("120000"), TsMs: 4})
	if g.View().DdState != Drawdown {
		t.Fatalf("equity recovery should not clear the latch, got %s", g.View().DdState)
	}

	g.OperatorReset()
	if g.View().DdState != Normal {
		t.Fatalf("after operator reset: state = %s, want NORMAL", g.View().DdState)
	}
	if d, _ := g.DecideIntent(types.IntentIncreaseRisk); d != types.Allow {
		t.Fatalf("after reset: INCREASE_RISK = %s, want ALLOW", d)
	}
}

func TestKillSwitchIdempotent(t *testing.T) {
	t.Parallel()

	g := newTestGuard()
	g.TripKillSwitch(KillManual)
	g.TripKillSwitch(KillOperator) // second trip must not overwrite the reason

	v := g.View()
	if !v.KillSwitchActive {
		t.Fatalf("kill switch should be active")
	}
	if v.KillSwitchReason != KillManual {
		t.Fatalf("kill switch reason = %s, want MANUAL (first trip wins)", v.KillSwitchReason)
	}
}

func TestConsecutiveLossGuard(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.ConsecutiveLossThreshold = 2
	g := NewGuard(cfg, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))

	loss := usd("-10")
	g.ReportEquity(EquityReport{Symbol: "ETHUSDT", EquityUsd: usd("1000"), TsMs: 1, RoundTripPnl: &loss})
	g.ReportEquity(EquityReport{Symbol: "ETHUSDT", EquityUsd: usd("990"), TsMs: 2, RoundTripPnl: &loss})

	if g.View().OperatorOverride != types.OverridePause {
		t.Fatalf("consecutive-loss threshold hit: override = %s, want PAUSE", g.View().OperatorOverride)
	}
}
