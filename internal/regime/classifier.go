// Package regime maps feature snapshots to a market Regime with
// precedence-ordered rules and hysteresis (§4.2). Grounded on the
// context-struct-drives-pure-decision shape used across the example pack's
// adaptive trading engines, generalized into a single closed-form
// classifier with explicit hold/cooldown state rather than a learned model.
package regime

import "grinder/pkg/types"

// Config holds the classifier's thresholds, all in the scaled-integer
// units §3 mandates.
type Config struct {
	ToxPauseScore      int64 // tox_score >= this -> TOXIC
	SpreadPauseBps     int64 // spread_bps >= this -> THIN_BOOK
	DepthMinUsd        int64 // depth_top5_usd <= this -> THIN_BOOK
	ShockBps           int64 // |price_jump_bps_1m| >= this -> VOL_SHOCK
	TrendSlopeThBps    int64 // |trend_slope_5m| >= this -> TREND_*
	MinHoldTicks       int64
	SwitchCooldownTicks int64
}

// DefaultConfig returns spec-reasonable defaults.
func DefaultConfig() Config {
	return Config{
		ToxPauseScore:       60,
		SpreadPauseBps:      50,
		DepthMinUsd:         5_000,
		ShockBps:            150,
		TrendSlopeThBps:     20,
		MinHoldTicks:        5,
		SwitchCooldownTicks: 10,
	}
}

// Inputs is the feature-derived evidence the classifier evaluates each tick.
type Inputs struct {
	ToxScore       int64
	SpreadBps      int64
	DepthTop5Usd   int64
	PriceJump1mBps int64 // signed
	TrendSlope5mBps int64 // signed
}

// Classifier holds the hysteresis state for one symbol. It is the single
// writer of this state (per the per-symbol decision worker in §5).
type Classifier struct {
	cfg Config

	current      types.Regime
	heldTicks    int64
	cooldownLeft int64
}

// New creates a Classifier starting in RANGE.
func New(cfg Config) *Classifier {
	return &Classifier{cfg: cfg, current: types.RegimeRange}
}

// Current returns the currently-held regime.
func (c *Classifier) Current() types.Regime { return c.current }

// Classify evaluates one tick's inputs, applies precedence rules (§4.2),
// and returns the regime to use for this tick after hysteresis.
func (c *Classifier) Classify(in Inputs) types.Regime {
	raw := c.rawClassify(in)

	if c.cooldownLeft > 0 {
		c.cooldownLeft--
	}

	preempts := raw == types.RegimeToxic || raw == types.RegimeVolShock

	if raw == c.current {
		c.heldTicks++
		return c.current
	}

	canSwitch := c.heldTicks >= c.cfg.MinHoldTicks && (c.cooldownLeft == 0 || preempts)
	if !canSwitch {
		c.heldTicks++
		return c.current
	}

	c.current = raw
	c.heldTicks = 1
	c.cooldownLeft = c.cfg.SwitchCooldownTicks
	return c.current
}

func (c *Classifier) rawClassify(in Inputs) types.Regime {
	switch {
	case in.ToxScore >= c.cfg.ToxPauseScore:
		return types.RegimeToxic
	case in.SpreadBps >= c.cfg.SpreadPauseBps || in.DepthTop5Usd <= c.cfg.DepthMinUsd:
		return types.RegimeThinBook
	case absI64(in.PriceJump1mBps) >= c.cfg.ShockBps:
		return types.RegimeVolShock
	case absI64(in.TrendSlope5mBps) >= c.cfg.TrendSlopeThBps:
		if in.TrendSlope5mBps > 0 {
			return types.RegimeTrendUp
		}
		return types.RegimeTrendDown
	default:
		return types.RegimeRange
	}
}

func absI64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
