// Package policy implements the adaptive grid policy (C6): deterministic
// integer math that turns a FeatureSnapshot + Regime + ToxicityResult (+
// optional MlSignalSnapshot) into a GridPlan. Structurally grounded on the
// teacher's internal/strategy/maker.go computeQuotes (per-tick compute
// step, tick-size clamping, toxicity-driven spread multiplier), but every
// formula is replaced: Avellaneda-Stoikov float reservation-price math ->
// GRINDER's integer step/width/levels/skew/reset model (§4.5). GridPolicy
// is a sum type (Static | Adaptive), per design note §9, modeled as a
// small interface rather than a class hierarchy.
package policy

import "grinder/pkg/types"

// Policy is the closed interface every grid policy variant implements.
type Policy interface {
	Plan(in Inputs) types.GridPlan
}

// Config holds the adaptive policy's tunables, all scaled integers.
type Config struct {
	StepAlphaX1000  int64 // step_alpha
	StepMinBps      int64
	StepMaxBps      int64
	StepEmaAlphaX1000 int64 // STEP_EMA_ALPHA

	LevelsUpDefault   int64
	LevelsDownDefault int64
	BaseSizePerLevel  types.Amount

	MaxSkewBps int64

	CenterDriftBps    int64 // not read: computeReset checks step drift only
	StepResetDeltaBps int64 // reset SOFT threshold

	DdBudgetThrottleRatio int64 // x1000; below this, mode becomes THROTTLE
}

// DefaultConfig returns spec-reasonable defaults.
func DefaultConfig(baseSize types.Amount) Config {
	return Config{
		StepAlphaX1000:    1000,
		StepMinBps:        5,
		StepMaxBps:        500,
		StepEmaAlphaX1000: 300,
		LevelsUpDefault:   3,
		LevelsDownDefault: 3,
		BaseSizePerLevel:  baseSize,
		MaxSkewBps:        100,
		CenterDriftBps:    50,
		StepResetDeltaBps: 100,
		DdBudgetThrottleRatio: 500,
	}
}

// regimeMultX100 implements the regime_mult table from §4.5 (scaled /100).
func regimeMultX100(r types.Regime) int64 {
	switch r {
	case types.RegimeVolShock:
		return 150
	case types.RegimeThinBook, types.RegimeToxic:
		return 200
	default:
		return 100
	}
}

// Inputs bundles everything the adaptive policy needs for one tick.
type Inputs struct {
	Feature       types.FeatureSnapshot
	L2            *types.L2FeatureSnapshot
	Regime        types.Regime
	Toxicity      types.ToxicityResult
	Ml            *types.MlSignalSnapshot
	DdBudgetRatioX1000 int64 // dd_budget_ratio, x1000
	InventoryPctX1000 int64 // signed inventory percentage, x1000
}

// Adaptive is the regime-aware integer-math policy variant.
type Adaptive struct {
	cfg Config

	prevSpacingBps int64
	prevRegime     types.Regime
	haveState      bool
}

// NewAdaptive creates an Adaptive policy.
func NewAdaptive(cfg Config) *Adaptive {
	return &Adaptive{cfg: cfg}
}

// Plan implements Policy. It is a pure function of (state, Inputs, cfg):
// identical inputs against identical accumulated state produce a
// bit-identical GridPlan, per §4.5's determinism requirement.
func (p *Adaptive) Plan(in Inputs) types.GridPlan {
	var reasons []string

	mode, gateReason := p.resolveMode(in)
	if gateReason != "" {
		reasons = append(reasons, gateReason)
	}

	spacing, stepReasons := p.computeSpacing(in)
	reasons = append(reasons, stepReasons...)

	levelsUp, levelsDown := p.cfg.LevelsUpDefault, p.cfg.LevelsDownDefault
	if mode == types.ModePause || mode == types.ModeEmergency {
		levelsUp, levelsDown = 0, 0
	} else if mode == types.ModeThrottle {
		levelsUp = maxI64(levelsUp/2, 1)
		levelsDown = maxI64(levelsDown/2, 1)
	}

	width := computeWidth(spacing, levelsUp, levelsDown)

	skew := computeSkew(in.InventoryPctX1000, p.cfg.MaxSkewBps)

	sizeSchedule := buildSizeSchedule(p.cfg.BaseSizePerLevel, levelsUp, levelsDown)

	reset := p.computeReset(in.Regime, spacing)

	reasons = append(reasons, regimeReason(in.Regime))
	if reset != types.ResetNone {
		if reset == types.ResetSoft {
			reasons = append(reasons, types.ReasonResetSoft)
		} else {
			reasons = append(reasons, types.ReasonResetHard)
		}
	}

	p.prevSpacingBps = spacing
	p.prevRegime = in.Regime
	p.haveState = true

	center := in.Feature.MidPrice
	if center.Sign() <= 0 {
		center = types.AmountFromInt64(1, in.Feature.MidPrice.Scale) // never let center_price hit the invariant floor at 0
	}

	plan := types.GridPlan{
		Mode:         mode,
		CenterPrice:  center,
		SpacingBps:   spacing,
		LevelsUp:     levelsUp,
		LevelsDown:   levelsDown,
		SizeSchedule: sizeSchedule,
		SkewBps:      skew,
		Regime:       in.Regime,
		WidthBps:     width,
		ResetAction:  reset,
		ReasonCodes:  reasons,
	}
	return plan
}

func (p *Adaptive) resolveMode(in Inputs) (types.GridMode, string) {
	switch in.Regime {
	case types.RegimeEmergency:
		return types.ModeEmergency, types.ReasonGateEmergency
	case types.RegimePaused:
		return types.ModePause, types.ReasonGatePaused
	}
	if in.Toxicity.Band == types.ToxHigh {
		return types.ModePause, types.ReasonGatePaused
	}
	if in.DdBudgetRatioX1000 < p.cfg.DdBudgetThrottleRatio {
		return types.ModeThrottle, ""
	}
	if in.InventoryPctX1000 > 0 {
		return types.ModeUniShort, ""
	}
	if in.InventoryPctX1000 < 0 {
		return types.ModeUniLong, ""
	}
	return types.ModeBilateral, ""
}

// computeSpacing implements the §4.5 step formula exactly:
//
//	step_raw = (step_alpha * natr_bps * regime_mult) // 10000
//	step_clamped = clamp(step_raw, STEP_MIN, STEP_MAX)
//	spacing_bps = EMA_int(prev, step_clamped, alpha=STEP_EMA_ALPHA)
func (p *Adaptive) computeSpacing(in Inputs) (int64, []string) {
	var reasons []string

	mult := regimeMultX100(in.Regime)
	stepRaw := (p.cfg.StepAlphaX1000 * in.Feature.NatrBps * mult) / 10000

	mlMultiplier := int64(1000)
	if in.Ml != nil && in.Ml.SpacingMultiplierX1000 > 0 {
		mlMultiplier = types.ClampI64(in.Ml.SpacingMultiplierX1000, 500, 2000)
	}
	if mlMultiplier != 1000 {
		stepRaw = (stepRaw * mlMultiplier) / 1000
		reasons = append(reasons, types.ReasonStepVolAdj)
	}

	stepClamped := types.ClampI64(stepRaw, p.cfg.StepMinBps, p.cfg.StepMaxBps)
	if stepClamped == p.cfg.StepMinBps && stepRaw < p.cfg.StepMinBps {
		reasons = append(reasons, types.ReasonStepSpreadFloor)
	}

	prev := stepClamped
	if p.haveState {
		prev = p.prevSpacingBps
	}
	spacing := types.EMAInt(prev, stepClamped, p.cfg.StepEmaAlphaX1000)
	if spacing < p.cfg.StepMinBps {
		spacing = p.cfg.StepMinBps
	}
	if p.haveState && spacing != stepClamped {
		reasons = append(reasons, types.ReasonStepSmoothing)
	}

	return spacing, reasons
}

// computeWidth implements width_bps = spacing_bps * (levels_up+levels_down)
// / 2, ties broken toward the smaller integer (integer division truncates
// toward zero for non-negative operands, which already rounds down).
func computeWidth(spacingBps, levelsUp, levelsDown int64) int64 {
	return (spacingBps * (levelsUp + levelsDown)) / 2
}

// computeSkew returns a center shift in bps proportional to inventory
// percentage, clamped to maxSkewBps.
func computeSkew(inventoryPctX1000, maxSkewBps int64) int64 {
	raw := inventoryPctX1000 / 10 // pct(x1000) -> bps-scale proportionality
	return types.ClampI64(raw, -maxSkewBps, maxSkewBps)
}

// buildSizeSchedule produces one size entry per active level, currently
// flat (uniform base size); a future policy variant may taper by level
// without changing the GridPlan contract.
func buildSizeSchedule(base types.Amount, levelsUp, levelsDown int64) []types.Amount {
	n := levelsUp + levelsDown
	if n <= 0 {
		return nil
	}
	out := make([]types.Amount, n)
	for i := range out {
		out[i] = base
	}
	return out
}

// computeReset implements the §4.5 reset-action rule: HARD on a regime
// change crossing the reset table, SOFT when spacing moved by at least
// StepResetDeltaBps since the previous plan, NONE otherwise. Center-price
// drift is not checked.
func (p *Adaptive) computeReset(regime types.Regime, spacing int64) types.ResetAction {
	if !p.haveState {
		return types.ResetNone
	}
	if crossesHardResetTable(p.prevRegime, regime) {
		return types.ResetHard
	}
	stepDrift := absI64(spacing - p.prevSpacingBps)
	if stepDrift >= p.cfg.StepResetDeltaBps {
		return types.ResetSoft
	}
	return types.ResetNone
}

// crossesHardResetTable implements: RANGE<->TREND_*, any->TOXIC/VOL_SHOCK,
// TREND_UP<->TREND_DOWN.
func crossesHardResetTable(from, to types.Regime) bool {
	if from == to {
		return false
	}
	if to == types.RegimeToxic || to == types.RegimeVolShock {
		return true
	}
	rangeOrTrend := func(r types.Regime) bool {
		return r == types.RegimeRange || r == types.RegimeTrendUp || r == types.RegimeTrendDown
	}
	if rangeOrTrend(from) && rangeOrTrend(to) {
		return true
	}
	return false
}

func regimeReason(r types.Regime) string {
	switch r {
	case types.RegimeRange:
		return types.ReasonRegimeRange
	case types.RegimeTrendUp:
		return types.ReasonRegimeTrendUp
	case types.RegimeTrendDown:
		return types.ReasonRegimeTrendDown
	case types.RegimeVolShock:
		return types.ReasonRegimeVolShock
	case types.RegimeThinBook:
		return types.ReasonRegimeThinBook
	case types.RegimeToxic:
		return types.ReasonRegimeToxic
	default:
		return types.ReasonRegimeRange
	}
}

func absI64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// Static is the non-adaptive policy variant: a fixed GridPlan regardless
// of feature input, used for dry-run smoke tests and manual overrides.
type Static struct {
	Plan_ types.GridPlan
}

// Plan implements Policy by returning the configured plan verbatim, after
// stamping the current regime/reason codes so it still satisfies the
// non-empty reason_codes invariant.
func (s Static) Plan(in Inputs) types.GridPlan {
	plan := s.Plan_
	plan.Regime = in.Regime
	if len(plan.ReasonCodes) == 0 {
		plan.ReasonCodes = []string{regimeReason(in.Regime)}
	}
	return plan
}
