// Package fsm implements the lifecycle state machine (C8): a pure function
// tick(state, inputs) -> Option<TransitionEvent>, with a fixed transition
// table, priority ordering on simultaneous triggers, and anti-flap
// cooldowns (§4.7). No teacher analogue exists (the teacher has no state
// machine); built fresh in the shape the corpus's adaptive-decision
// engines use for rule-based decisions (context struct in, decision out),
// but as a strictly pure, I/O-free function per design note §9.
package fsm

import "grinder/pkg/types"

// Driver owns the current FsmState and the anti-flap cooldown timer. It is
// the single writer of FSM state (the per-symbol decision worker, §5).
type Driver struct {
	state      types.FsmState
	enteredTs  int64
	cooldownMs int64 // T_COOLDOWN, the anti-flap hold duration
}

// NewDriver creates a Driver starting in INIT.
func NewDriver(cooldownMs int64) *Driver {
	return &Driver{state: types.StateInit, cooldownMs: cooldownMs}
}

// State returns the current state.
func (d *Driver) State() types.FsmState { return d.state }

// Tick evaluates one set of inputs against the current state and returns
// the TransitionEvent if a transition occurs, else ok=false. Pure:
// consumes only d.state/d.enteredTs and in; performs no I/O.
func (d *Driver) Tick(in types.FsmInputs) (types.TransitionEvent, bool) {
	to, reason := d.decide(in)
	if to == d.state {
		return types.TransitionEvent{}, false
	}
	ev := types.TransitionEvent{From: d.state, To: to, Reason: reason, TsMs: in.TsMs}
	d.state = to
	d.enteredTs = in.TsMs
	return ev, true
}

// decide implements the priority-ordered trigger table of §4.7. Highest
// priority wins on simultaneous triggers: kill-switch, operator-emergency,
// feed-stale, operator-pause, tox-high, tox-mid, recoveries. The drawdown
// guard's own DRAWDOWN latch is enforced by the risk package's
// DecideIntent, not by a state transition here — DrawdownPct is carried in
// FsmInputs but not consumed by decide; the safety envelope gates on the
// risk view's DRAWDOWN state instead.
func (d *Driver) decide(in types.FsmInputs) (types.FsmState, string) {
	inCooldown := in.TsMs-d.enteredTs < d.cooldownMs

	// Priority 1: kill-switch. The reason distinguishes a drawdown breach
	// from a manual or operator-initiated trip; TransitionEvent.Reason is
	// what a post-mortem reads to tell those apart.
	if in.KillSwitchActive && d.state != types.StateEmergency {
		return types.StateEmergency, killSwitchReason(in.KillSwitchReason)
	}
	// Priority 2: operator emergency override.
	if in.OperatorOverride == types.OverrideEmergency && d.state != types.StateEmergency {
		return types.StateEmergency, "OPERATOR_EMERGENCY"
	}

	// Priority 3: feed staleness -> DEGRADED (from any state).
	if in.FeedStaleMs >= in.MaxFeedStalenessMs && in.MaxFeedStalenessMs > 0 && d.state != types.StateDegraded {
		return types.StateDegraded, "FEED_STALE"
	}

	// Priority 4: operator pause.
	if in.OperatorOverride == types.OverridePause && (d.state == types.StateActive || d.state == types.StateThrottled) {
		return types.StatePaused, "OPERATOR_PAUSE"
	}

	// Priority 5/6: toxicity high/mid.
	if in.Toxicity == types.ToxHigh && (d.state == types.StateActive || d.state == types.StateThrottled) {
		return types.StatePaused, "TOX_HIGH"
	}
	if in.Toxicity == types.ToxMid && d.state == types.StateActive {
		return types.StateThrottled, "TOX_MID"
	}

	// EMERGENCY can only recover to PAUSED once position is reduced.
	if d.state == types.StateEmergency && in.PositionNotional.Cmp(in.PositionCloseThresh) <= 0 {
		return types.StatePaused, "POSITION_REDUCED"
	}

	// Recoveries (anti-flap: cannot leave PAUSED/THROTTLED before cooldown).
	if (d.state == types.StatePaused || d.state == types.StateThrottled) && !inCooldown {
		if in.Toxicity == types.ToxLow {
			return types.StateActive, "TOX_LOW_COOLDOWN"
		}
	}

	// Forward progress through INIT/READY, no state may be skipped.
	switch d.state {
	case types.StateInit:
		if in.HealthOK {
			return types.StateReady, "HEALTH_OK"
		}
	case types.StateReady:
		if in.FeedsReady && in.TopKReady {
			return types.StateActive, "FEEDS_READY"
		}
	}

	return d.state, ""
}

// killSwitchReason builds the EMERGENCY transition reason from the risk
// worker's latch cause, falling back to a generic tag if the cause wasn't
// forwarded (e.g. a test driving KillSwitchActive directly).
func killSwitchReason(cause string) string {
	if cause == "" {
		return "KILL_SWITCH"
	}
	return "KILL_SWITCH_" + cause
}

// IsActionAllowed implements the permission matrix referenced by both
// §4.7 and §4.8's FSM gate. It is a pure lookup over (state, intent).
func IsActionAllowed(state types.FsmState, intent types.OrderIntent) types.Decision {
	switch state {
	case types.StateInit:
		return types.Block
	case types.StateReady:
		if intent == types.IntentCancel {
			return types.Allow
		}
		return types.Block
	case types.StateActive:
		return types.Allow
	case types.StateThrottled:
		if intent == types.IntentIncreaseRisk {
			return types.Block
		}
		return types.Allow
	case types.StatePaused, types.StateDegraded, types.StateEmergency:
		if intent == types.IntentIncreaseRisk {
			return types.Block
		}
		return types.Allow
	default:
		return types.Block
	}
}
