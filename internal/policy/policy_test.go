package policy

import (
	"testing"

	"grinder/pkg/types"
)

func baseSize() types.Amount {
	a, _ := types.ParseAmount("0.01", 3)
	return a
}

func TestStepMonotonicity(t *testing.T) {
	t.Parallel()

	// Fixing regime, compute_step(natr_bps) must be non-decreasing on
	// [0, 5000], and natr_bps=0 must yield STEP_MIN exactly (§8).
	cfg := DefaultConfig(baseSize())
	mid, _ := types.ParseAmount("64952.10", 2)

	prevSpacing := int64(-1)
	for natr := int64(0); natr <= 5000; natr += 250 {
		p := NewAdaptive(cfg)
		in := Inputs{
			Feature: types.FeatureSnapshot{MidPrice: mid, NatrBps: natr},
			Regime:  types.RegimeRange,
		}
		plan := p.Plan(in)
		if natr == 0 && plan.SpacingBps != cfg.StepMinBps {
			t.Fatalf("natr=0: spacing=%d, want STEP_MIN=%d", plan.SpacingBps, cfg.StepMinBps)
		}
		if plan.SpacingBps < prevSpacing {
			t.Fatalf("spacing decreased: natr=%d spacing=%d < prev=%d", natr, plan.SpacingBps, prevSpacing)
		}
		prevSpacing = plan.SpacingBps
	}
}

func TestPlanInvariants(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig(baseSize())
	p := NewAdaptive(cfg)
	mid, _ := types.ParseAmount("64952.10", 2)

	plan := p.Plan(Inputs{
		Feature: types.FeatureSnapshot{MidPrice: mid, NatrBps: 100},
		Regime:  types.RegimeRange,
	})

	if err := plan.Validate(); err != nil {
		t.Fatalf("plan failed invariants: %v", err)
	}
}

func TestHardResetOnRegimeChange(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig(baseSize())
	p := NewAdaptive(cfg)
	mid, _ := types.ParseAmount("64952.10", 2)

	p.Plan(Inputs{Feature: types.FeatureSnapshot{MidPrice: mid, NatrBps: 100}, Regime: types.RegimeRange})
	plan := p.Plan(Inputs{Feature: types.FeatureSnapshot{MidPrice: mid, NatrBps: 100}, Regime: types.RegimeToxic})

	if plan.ResetAction != types.ResetHard {
		t.Fatalf("RANGE->TOXIC should trigger HARD reset, got %s", plan.ResetAction)
	}
}

func TestDeterministic(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig(baseSize())
	mid, _ := types.ParseAmount("64952.10", 2)
	in := Inputs{Feature: types.FeatureSnapshot{MidPrice: mid, NatrBps: 250}, Regime: types.RegimeTrendUp}

	p1 := NewAdaptive(cfg)
	p2 := NewAdaptive(cfg)

	plan1 := p1.Plan(in)
	plan2 := p2.Plan(in)

	if plan1.SpacingBps != plan2.SpacingBps || plan1.WidthBps != plan2.WidthBps || plan1.Mode != plan2.Mode {
		t.Fatalf("identical inputs produced different plans: %+v vs %+v", plan1, plan2)
	}
}
