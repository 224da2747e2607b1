package fsm

import (
	"testing"

	"grinder/pkg/types"
)

func bootstrap(d *Driver, ts int64) {
	d.Tick(types.FsmInputs{TsMs: ts, HealthOK: true})
	d.Tick(types.FsmInputs{TsMs: ts + 1, HealthOK: true, FeedsReady: true, TopKReady: true})
}

func TestBootSequence(t *testing.T) {
	t.Parallel()

	d := NewDriver(1000)
	if d.State() != types.StateInit {
		t.Fatalf("initial state = %s, want INIT", d.State())
	}

	bootstrap(d, 0)
	if d.State() != types.StateActive {
		t.Fatalf("after boot sequence: state = %s, want ACTIVE", d.State())
	}
}

func TestKillSwitchPreemptsEverything(t *testing.T) {
	t.Parallel()

	d := NewDriver(1000)
	bootstrap(d, 0)

	ev, ok := d.Tick(types.FsmInputs{TsMs: 100, KillSwitchActive: true, Toxicity: types.ToxLow})
	if !ok || ev.To != types.StateEmergency {
		t.Fatalf("kill switch should force EMERGENCY, got %+v ok=%v", ev, ok)
	}
}

func TestKillSwitchReasonDistinguishesCause(t *testing.T) {
	t.Parallel()

	cases := []struct {
		cause      string
		wantReason string
	}{
		{"", "KILL_SWITCH"},
		{"DD_BREACH", "KILL_SWITCH_DD_BREACH"},
		{"MANUAL", "KILL_SWITCH_MANUAL"},
		{"OPERATOR", "KILL_SWITCH_OPERATOR"},
	}
	for _, c := range cases {
		d := NewDriver(1000)
		bootstrap(d, 0)
		ev, ok := d.Tick(types.FsmInputs{TsMs: 100, KillSwitchActive: true, KillSwitchReason: c.cause})
		if !ok || ev.To != types.StateEmergency || ev.Reason != c.wantReason {
			t.Fatalf("cause %q: got %+v ok=%v, want reason %q", c.cause, ev, ok, c.wantReason)
		}
	}
}

func TestToxHighPausesFromActive(t *testing.T) {
	t.Parallel()

	d := NewDriver(1000)
	bootstrap(d, 0)

	ev, ok := d.Tick(types.FsmInputs{TsMs: 100, Toxicity: types.ToxHigh})
	if !ok || ev.To != types.StatePaused || ev.Reason != "TOX_HIGH" {
		t.Fatalf("tox high: got %+v ok=%v", ev, ok)
	}
}

func TestToxMidThrottlesFromActive(t *testing.T) {
	t.Parallel()

	d := NewDriver(1000)
	bootstrap(d, 0)

	ev, ok := d.Tick(types.FsmInputs{TsMs: 100, Toxicity: types.ToxMid})
	if !ok || ev.To != types.StateThrottled {
		t.Fatalf("tox mid: got %+v ok=%v", ev, ok)
	}
}

func TestCooldownBlocksEarlyRecovery(t *testing.T) {
	t.Parallel()

	d := NewDriver(1000)
	bootstrap(d, 0)
	d.Tick(types.FsmInputs{TsMs: 100, Toxicity: types.ToxHigh}) // -> PAUSED at ts=100

	// Immediately after entering PAUSED, tox drops to LOW but cooldown
	// (1000ms) has not elapsed: must stay PAUSED.
	ev, ok := d.Tick(types.FsmInputs{TsMs: 150, Toxicity: types.ToxLow})
	if ok {
		t.Fatalf("recovery should be blocked during cooldown, got transition %+v", ev)
	}
	if d.State() != types.StatePaused {
		t.Fatalf("state = %s, want still PAUSED", d.State())
	}

	// After cooldown elapses, LOW toxicity recovers to ACTIVE.
	ev, ok = d.Tick(types.FsmInputs{TsMs: 1200, Toxicity: types.ToxLow})
	if !ok || ev.To != types.StateActive {
		t.Fatalf("after cooldown: got %+v ok=%v, want ACTIVE", ev, ok)
	}
}

func TestFeedStalePreemptsFromAnyState(t *testing.T) {
	t.Parallel()

	d := NewDriver(1000)
	bootstrap(d, 0)

	ev, ok := d.Tick(types.FsmInputs{TsMs: 100, FeedStaleMs: 5000, MaxFeedStalenessMs: 2000})
	if !ok || ev.To != types.StateDegraded {
		t.Fatalf("feed stale: got %+v ok=%v", ev, ok)
	}
}

func TestEmergencyRecoversOnlyAfterPositionReduced(t *testing.T) {
	t.Parallel()

	d := NewDriver(1000)
	bootstrap(d, 0)
	d.Tick(types.FsmInputs{TsMs: 100, KillSwitchActive: true})

	notional, _ := types.ParseAmount("5000", 2)
	thresh, _ := types.ParseAmount("100", 2)

	ev, ok := d.Tick(types.FsmInputs{TsMs: 200, KillSwitchActive: true, PositionNotional: notional, PositionCloseThresh: thresh})
	if ok {
		t.Fatalf("should remain in EMERGENCY while position exceeds close threshold, got %+v", ev)
	}

	small, _ := types.ParseAmount("50", 2)
	ev, ok = d.Tick(types.FsmInputs{TsMs: 300, PositionNotional: small, PositionCloseThresh: thresh})
	if !ok || ev.To != types.StatePaused {
		t.Fatalf("position reduced: got %+v ok=%v, want PAUSED", ev, ok)
	}
}

func TestIsActionAllowedPermissionMatrix(t *testing.T) {
	t.Parallel()

	cases := []struct {
		state  types.FsmState
		intent types.OrderIntent
		want   types.Decision
	}{
		{types.StateInit, types.IntentCancel, types.Block},
		{types.StateReady, types.IntentCancel, types.Allow},
		{types.StateReady, types.IntentIncreaseRisk, types.Block},
		{types.StateActive, types.IntentIncreaseRisk, types.Allow},
		{types.StateThrottled, types.IntentIncreaseRisk, types.Block},
		{types.StateThrottled, types.IntentReduceRisk, types.Allow},
		{types.StatePaused, types.IntentIncreaseRisk, types.Block},
		{types.StatePaused, types.IntentCancel, types.Allow},
		{types.StateEmergency, types.IntentIncreaseRisk, types.Block},
		{types.StateEmergency, types.IntentCancel, types.Allow},
	}

	for _, c := range cases {
		if got := IsActionAllowed(c.state, c.intent); got != c.want {
			t.Errorf("IsActionAllowed(%s, %s) = %s, want %s", c.state, c.intent, got, c.want)
		}
	}
}
