package safety

import (
	"testing"
	"time"

	"grinder/pkg/types"
)

func allowInputs() Inputs {
	return Inputs{
		Armed:             true,
		Mode:              ModeLiveTrade,
		SymbolWhitelisted: true,
		FsmState:          types.StateActive,
		PredictedFillProb: 900,
		FillProbThreshold: 400,
	}
}

func TestGateOrderFirstMatchBlocks(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		mutate     func(*Inputs)
		wantReason string
	}{
		{"not armed", func(in *Inputs) { in.Armed = false }, "NOT_ARMED"},
		{"dry run mode", func(in *Inputs) { in.Mode = ModeDryRun }, "MODE_NOT_LIVE_TRADE"},
		{"kill switch", func(in *Inputs) { in.KillSwitchActive = true }, "KILL_SWITCH_ACTIVE"},
		{"not whitelisted", func(in *Inputs) { in.SymbolWhitelisted = false }, "SYMBOL_NOT_WHITELISTED"},
		{"drawdown", func(in *Inputs) { in.DrawdownActive = true }, "DRAWDOWN_BLOCKED"},
		{"fsm blocked", func(in *Inputs) { in.FsmState = types.StateInit }, "FSM_STATE_BLOCKED"},
		{"fill prob low", func(in *Inputs) { in.PredictedFillProb = 100 }, "FILL_PROB_LOW"},
	}

	now := time.Unix(1700000000, 0)
	for _, c := range cases {
		in := allowInputs()
		c.mutate(&in)
		e := NewEnvelope(DefaultCircuitBreakerConfig())
		d, reason := e.Evaluate(now, in, types.IntentIncreaseRisk)
		if d != types.Block || reason != c.wantReason {
			t.Errorf("%s: got (%s,%s), want (BLOCK,%s)", c.name, d, reason, c.wantReason)
		}
	}
}

func TestKillSwitchAllowsCancel(t *testing.T) {
	t.Parallel()

	in := allowInputs()
	in.KillSwitchActive = true
	e := NewEnvelope(DefaultCircuitBreakerConfig())

	d, _ := e.Evaluate(time.Unix(1700000000, 0), in, types.IntentCancel)
	if d != types.Allow {
		t.Fatalf("kill switch + CANCEL = %s, want ALLOW", d)
	}
}

func TestDrawdownNeverBlocksReduceOrCancel(t *testing.T) {
	t.Parallel()

	in := allowInputs()
	in.DrawdownActive = true
	e := NewEnvelope(DefaultCircuitBreakerConfig())
	now := time.Unix(1700000000, 0)

	if d, _ := e.Evaluate(now, in, types.IntentReduceRisk); d != types.Allow {
		t.Fatalf("DRAWDOWN + REDUCE_RISK = %s, want ALLOW", d)
	}
	if d, _ := e.Evaluate(now, in, types.IntentCancel); d != types.Allow {
		t.Fatalf("DRAWDOWN + CANCEL = %s, want ALLOW", d)
	}
}

func TestAllowWhenAllGatesPass(t *testing.T) {
	t.Parallel()

	e := NewEnvelope(DefaultCircuitBreakerConfig())
	d, reason := e.Evaluate(time.Unix(1700000000, 0), allowInputs(), types.IntentIncreaseRisk)
	if d != types.Allow || reason != "" {
		t.Fatalf("got (%s,%s), want (ALLOW,\"\")", d, reason)
	}
}

func TestFillProbCircuitBreakerBypassesAfterHighBlockRate(t *testing.T) {
	t.Parallel()

	cfg := CircuitBreakerConfig{Window: 5 * time.Minute, BlockRateX1000: 300}
	e := NewEnvelope(cfg)

	tick := time.Unix(1000, 0)

	low := allowInputs()
	low.PredictedFillProb = 100 // always below threshold -> blocks gate 7

	blockedCount := 0
	for i := 0; i < 10; i++ {
		d, reason := e.Evaluate(tick, low, types.IntentIncreaseRisk)
		if d == types.Block && reason == "FILL_PROB_LOW" {
			blockedCount++
		}
		tick = tick.Add(time.Second)
	}
	if blockedCount == 0 {
		t.Fatalf("expected some FILL_PROB_LOW blocks before breaker opens")
	}

	// Once block-rate has crossed the threshold, the gate must start
	// auto-bypassing even though PredictedFillProb is still below the
	// configured threshold.
	d, _ := e.Evaluate(tick, low, types.IntentIncreaseRisk)
	if d != types.Allow {
		t.Fatalf("after sustained blocking, breaker should bypass gate 7, got %s", d)
	}
}
