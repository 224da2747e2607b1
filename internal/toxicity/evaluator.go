// Package toxicity computes the composite adverse-selection score used to
// widen spreads and gate trading (§4.3). Directly grounded on the teacher's
// internal/strategy/flow_tracker.go FlowTracker: a rolling window over
// recent fills/prints feeding a composite score with asymmetric decay and
// a post-spike cooldown latch, generalized from a two-component score to
// the six weighted components §4.3 names.
package toxicity

import "grinder/pkg/types"

// Config holds the evaluator's weights and thresholds (all ×1000 scaled
// integers, consistent with the rest of the decision path).
type Config struct {
	WeightVpinX1000        int64
	WeightKyleX1000        int64
	WeightAmihudX1000      int64
	WeightSpreadX1000      int64
	WeightOfiX1000         int64
	WeightLiquidationX1000 int64

	DecayAlphaX1000 int64 // 950 == 0.95
	CooldownTicks   int64 // T_COOLDOWN, default 60s worth of ticks
	LowBand         int64 // < this -> LOW
	MidBand         int64 // < this -> MID, else HIGH
}

// DefaultConfig matches the weights implied by spec.md §4.3 (equal-ish
// weighting with a same-order-of-magnitude composite in [0,100]).
func DefaultConfig() Config {
	return Config{
		WeightVpinX1000:        200,
		WeightKyleX1000:        200,
		WeightAmihudX1000:      150,
		WeightSpreadX1000:      150,
		WeightOfiX1000:         200,
		WeightLiquidationX1000: 100,
		DecayAlphaX1000:        950,
		CooldownTicks:          60,
		LowBand:                30,
		MidBand:                60,
	}
}

// RawComponents is the unweighted, already-z-score-clipped input to one
// evaluation tick, each scaled x1000 and clipped by the caller (feature
// engine / feed-derived) to a sane range before being passed in.
type RawComponents struct {
	VpinImbalanceX1000     int64
	KyleLambdaX1000        int64
	AmihudIlliquidityX1000 int64
	SpreadWideningX1000    int64
	OfiShockX1000          int64
	LiquidationSurgeX1000  int64
}

// Evaluator owns one symbol's toxicity state: the decayed score and the
// cooldown-after-HIGH latch. Single writer per the per-symbol decision
// worker model (§5).
type Evaluator struct {
	cfg   Config
	score int64 // current decayed score, [0,100]
	cooldownLeft int64
	everHigh     bool
}

// New creates an Evaluator with the given config.
func New(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Evaluate folds one tick's raw components into the evaluator's decayed
// score and returns the ToxicityResult for this tick.
func (e *Evaluator) Evaluate(symbol string, tsMs int64, in RawComponents) types.ToxicityResult {
	raw := e.composite(in)

	// Asymmetric decay: spikes immediately (raw above current score wins
	// outright), otherwise decays toward the new (lower) value by alpha
	// per tick — mirrors FlowTracker.GetSpreadMultiplier's
	// spike-then-cooldown-decay shape.
	if raw > e.score {
		e.score = raw
	} else {
		e.score = e.score - ((e.score - raw) * (1000 - e.cfg.DecayAlphaX1000) / 1000)
	}
	e.score = types.ClampI64(e.score, 0, 100)

	band := e.bandFor(e.score)

	if band == types.ToxHigh {
		e.cooldownLeft = e.cfg.CooldownTicks
		e.everHigh = true
	} else if e.cooldownLeft > 0 {
		e.cooldownLeft--
	}

	inCooldown := e.cooldownLeft > 0
	if inCooldown && band == types.ToxLow {
		band = types.ToxMid // cooldown blocks the return to LOW (§4.3)
	}

	return types.ToxicityResult{
		Symbol: symbol,
		TsMs:   tsMs,
		Score:  e.score,
		Band:   band,
		Components: types.ToxicityComponents{
			VpinImbalanceX1000:     in.VpinImbalanceX1000,
			KyleLambdaX1000:        in.KyleLambdaX1000,
			AmihudIlliquidityX1000: in.AmihudIlliquidityX1000,
			SpreadWideningX1000:    in.SpreadWideningX1000,
			OfiShockX1000:          in.OfiShockX1000,
			LiquidationSurgeX1000:  in.LiquidationSurgeX1000,
		},
		InCooldown: inCooldown,
	}
}

func (e *Evaluator) composite(in RawComponents) int64 {
	weighted := e.cfg.WeightVpinX1000*clip(in.VpinImbalanceX1000) +
		e.cfg.WeightKyleX1000*clip(in.KyleLambdaX1000) +
		e.cfg.WeightAmihudX1000*clip(in.AmihudIlliquidityX1000) +
		e.cfg.WeightSpreadX1000*clip(in.SpreadWideningX1000) +
		e.cfg.WeightOfiX1000*clip(in.OfiShockX1000) +
		e.cfg.WeightLiquidationX1000*clip(in.LiquidationSurgeX1000)

	totalWeight := e.cfg.WeightVpinX1000 + e.cfg.WeightKyleX1000 + e.cfg.WeightAmihudX1000 +
		e.cfg.WeightSpreadX1000 + e.cfg.WeightOfiX1000 + e.cfg.WeightLiquidationX1000
	if totalWeight == 0 {
		return 0
	}
	// weighted is in units of (x1000 component * x1000 weight); normalize
	// to a [0,100] score by dividing by totalWeight*1000/100.
	return types.ClampI64(weighted/(totalWeight*10), 0, 100)
}

// clip clamps a z-score-like component (x1000 scaled) to [0, 1000] so a
// single blown-up input cannot dominate the composite.
func clip(v int64) int64 {
	return types.ClampI64(v, 0, 1000)
}

func (e *Evaluator) bandFor(score int64) types.ToxicityBand {
	switch {
	case score < e.cfg.LowBand:
		return types.ToxLow
	case score < e.cfg.MidBand:
		return types.ToxMid
	default:
		return types.ToxHigh
	}
}
