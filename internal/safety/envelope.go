// Package safety implements the pre-trade safety envelope (C9): a sequential
// chain of seven gates, first-match-blocks, consolidating the teacher's
// scattered pre-flight checks (Maker.quoteUpdate's kill-switch/budget early
// returns, Manager.IsKillSwitchActive/RemainingBudget) into one explicit,
// typed decision chain per §4.8.
package safety

import (
	"fmt"
	"time"

	"grinder/internal/fsm"
	"grinder/pkg/types"
)

// TradingMode mirrors GRINDER_TRADING_MODE.
type TradingMode string

const (
	ModeDryRun     TradingMode = "DRY_RUN"
	ModeLiveTrade  TradingMode = "LIVE_TRADE"
)

// Inputs is the immutable snapshot the envelope evaluates on every intent.
type Inputs struct {
	Armed              bool
	Mode               TradingMode
	KillSwitchActive   bool
	SymbolWhitelisted  bool
	DrawdownActive     bool
	FsmState           types.FsmState
	PredictedFillProb  int64 // x1000, e.g. 400 = 0.40
	FillProbThreshold  int64 // x1000
}

// CircuitBreakerConfig controls the fill-probability gate's auto-bypass.
type CircuitBreakerConfig struct {
	Window        time.Duration // 5 minutes per §4.8
	BlockRateX1000 int64        // bypass once block-rate >= this, x1000
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{Window: 5 * time.Minute, BlockRateX1000: 300}
}

// breakerSample is one fill-probability-gate evaluation outcome.
type breakerSample struct {
	ts      time.Time
	blocked bool
}

// Envelope evaluates intents against the seven gates and tracks the
// fill-probability circuit breaker's rolling block-rate.
type Envelope struct {
	cfg            CircuitBreakerConfig
	samples        []breakerSample
	breakerOpenTil time.Time
}

// NewEnvelope constructs an Envelope.
func NewEnvelope(cfg CircuitBreakerConfig) *Envelope {
	return &Envelope{cfg: cfg}
}

// Evaluate runs intent through the seven gates in order and returns the
// first blocking verdict, or ALLOW if every gate passes. now must be the
// timestamp of the event driving this tick, not time.Now: the
// fill-probability circuit breaker's rolling window is a function of event
// time, so replaying the same event trace reproduces the same breaker
// state and the same decisions.
func (e *Envelope) Evaluate(now time.Time, in Inputs, intent types.OrderIntent) (types.Decision, string) {
	if !in.Armed {
		return types.Block, "NOT_ARMED"
	}
	if in.Mode != ModeLiveTrade {
		return types.Block, "MODE_NOT_LIVE_TRADE"
	}
	if in.KillSwitchActive {
		if intent == types.IntentCancel {
			return types.Allow, ""
		}
		return types.Block, "KILL_SWITCH_ACTIVE"
	}
	if !in.SymbolWhitelisted {
		return types.Block, "SYMBOL_NOT_WHITELISTED"
	}
	if in.DrawdownActive && intent == types.IntentIncreaseRisk {
		return types.Block, "DRAWDOWN_BLOCKED"
	}
	if d := fsm.IsActionAllowed(in.FsmState, intent); d == types.Block {
		return types.Block, "FSM_STATE_BLOCKED"
	}

	if e.fillProbGateBlocks(now, in) {
		return types.Block, "FILL_PROB_LOW"
	}
	return types.Allow, ""
}

// fillProbGateBlocks evaluates gate 7. While the breaker is latched open
// (block-rate crossed the configured limit within the last Window), the
// gate is bypassed for the remainder of the window and no sample is
// recorded, so a run of bypassed-allows cannot dilute the rate back down.
func (e *Envelope) fillProbGateBlocks(now time.Time, in Inputs) bool {
	e.prune(now)

	if !e.breakerOpenTil.IsZero() && now.Before(e.breakerOpenTil) {
		return false
	}

	blocked := in.PredictedFillProb < in.FillProbThreshold
	e.samples = append(e.samples, breakerSample{ts: now, blocked: blocked})

	if e.blockRateX1000() >= e.cfg.BlockRateX1000 {
		e.breakerOpenTil = now.Add(e.cfg.Window)
	}
	return blocked
}

func (e *Envelope) prune(now time.Time) {
	cutoff := now.Add(-e.cfg.Window)
	i := 0
	for ; i < len(e.samples); i++ {
		if e.samples[i].ts.After(cutoff) {
			break
		}
	}
	e.samples = e.samples[i:]
}

func (e *Envelope) blockRateX1000() int64 {
	if len(e.samples) == 0 {
		return 0
	}
	blocked := 0
	for _, s := range e.samples {
		if s.blocked {
			blocked++
		}
	}
	return int64(blocked) * 1000 / int64(len(e.samples))
}

// Reason formats a human-readable diagnostic for logging.
func Reason(decision types.Decision, reason string) string {
	if decision == types.Allow {
		return "ALLOW"
	}
	return fmt.Sprintf("BLOCK:%s", reason)
}
