package regime

import "testing"

func TestClassifyPrecedence(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MinHoldTicks = 0
	cfg.SwitchCooldownTicks = 0

	tests := []struct {
		name string
		in   Inputs
		want string
	}{
		{"toxic wins over everything", Inputs{ToxScore: 90, SpreadBps: 100, PriceJump1mBps: 500}, "TOXIC"},
		{"thin book over shock", Inputs{SpreadBps: 80, PriceJump1mBps: 500}, "THIN_BOOK"},
		{"vol shock over trend", Inputs{DepthTop5Usd: 10_000, PriceJump1mBps: 300, TrendSlope5mBps: 50}, "VOL_SHOCK"},
		{"trend up", Inputs{DepthTop5Usd: 10_000, TrendSlope5mBps: 40}, "TREND_UP"},
		{"trend down", Inputs{DepthTop5Usd: 10_000, TrendSlope5mBps: -40}, "TREND_DOWN"},
		{"range default", Inputs{DepthTop5Usd: 10_000}, "RANGE"},
	}

	for _, tt := range tests {
		c := New(cfg)
		got := string(c.Classify(tt.in))
		if got != tt.want {
			t.Errorf("%s: Classify() = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestHysteresisBlocksEarlySwitch(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MinHoldTicks = 3
	cfg.SwitchCooldownTicks = 2
	c := New(cfg)

	if c.Current() != "RANGE" {
		t.Fatalf("initial regime = %s, want RANGE", c.Current())
	}

	got := c.Classify(Inputs{TrendSlope5mBps: 40})
	if got != "RANGE" {
		t.Fatalf("switch before min hold should be blocked, got %s", got)
	}
}

func TestToxicPreemptsCooldown(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MinHoldTicks = 1
	cfg.SwitchCooldownTicks = 100
	c := New(cfg)

	// Satisfy the hold requirement, then switch into TREND_UP, which arms
	// the cooldown.
	c.heldTicks = cfg.MinHoldTicks
	if got := c.Classify(Inputs{DepthTop5Usd: 10_000, TrendSlope5mBps: 40}); got != "TREND_UP" {
		t.Fatalf("switch into TREND_UP = %s, want TREND_UP", got)
	}

	// Still within the long cooldown, but TOXIC must preempt it.
	got := c.Classify(Inputs{ToxScore: 90})
	if got != "TOXIC" {
		t.Fatalf("TOXIC should preempt cooldown, got %s", got)
	}
}
