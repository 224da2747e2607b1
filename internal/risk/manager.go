// Package risk implements the drawdown guard and kill-switch (C7): a
// latched DRAWDOWN state that never auto-recovers, a separately-latched
// idempotent kill-switch, and a per-symbol consecutive-loss guard.
// Grounded on the teacher's internal/risk/manager.go Manager (kill-switch
// cooldown latch, rolling price-anchor shock detection, per-market/global
// exposure totals recomputed on each report), generalized per §4.6: the
// teacher's auto-expiring kill-switch cooldown becomes two distinct
// mechanisms here — an operator-latched DRAWDOWN state and a separately
// idempotent kill-switch latch, neither of which auto-clears.
package risk

import (
	"log/slog"
	"math/big"
	"sync"

	"grinder/pkg/types"
)

// DrawdownState is the guard's top-level latch.
type DrawdownState string

const (
	Normal    DrawdownState = "NORMAL"
	Drawdown  DrawdownState = "DRAWDOWN"
)

// KillSwitchReason enumerates why the separate kill-switch latch tripped.
type KillSwitchReason string

const (
	KillManual   KillSwitchReason = "MANUAL"
	KillDdBreach KillSwitchReason = "DD_BREACH"
	KillOperator KillSwitchReason = "OPERATOR"
)

// EquityReport is submitted on every equity-relevant event (fill, mark
// update) and drives the high-water-mark / drawdown-pct computation.
type EquityReport struct {
	Symbol    string
	EquityUsd types.Amount
	TsMs      int64
	RoundTripPnl *types.Amount // non-nil on a closed round-trip
}

// Config holds the guard's thresholds.
type Config struct {
	SessionDdBpsLimit int64 // dd_pct (bps) that latches DRAWDOWN
	DailyDdBpsLimit   int64
	ConsecutiveLossThreshold int
}

// DefaultConfig returns spec-reasonable defaults.
func DefaultConfig() Config {
	return Config{SessionDdBpsLimit: 1000, DailyDdBpsLimit: 1000, ConsecutiveLossThreshold: 5}
}

// Guard owns the drawdown/kill-switch/consecutive-loss state. It is the
// single risk worker in the concurrency model (§5); symbol workers read
// its published RiskView rather than locking it directly.
type Guard struct {
	cfg    Config
	logger *slog.Logger

	mu sync.RWMutex

	sessionHighWaterUsd types.Amount
	dailyHighWaterUsd   types.Amount
	ddState             DrawdownState
	ddBps               int64

	killActive bool
	killReason KillSwitchReason

	operatorOverride types.OperatorOverride

	consecutiveLoss map[string]int
}

// NewGuard creates a Guard in NORMAL with no kill-switch latched. A latch
// state recovered from disk is re-applied afterwards with RestoreLatch (§9
// "Global state" — kill-switch/budgets are process-wide singletons
// persisted atomically).
func NewGuard(cfg Config, logger *slog.Logger) *Guard {
	return &Guard{
		cfg:                 cfg,
		logger:              logger.With("component", "risk"),
		sessionHighWaterUsd: types.ZeroAmount(2),
		dailyHighWaterUsd:   types.ZeroAmount(2),
		ddState:             Normal,
		consecutiveLoss:     make(map[string]int),
	}
}

// RestoreLatch re-applies a persisted DRAWDOWN/kill-switch state after
// process restart, since §6 says the kill-switch latch is optional
// persisted state (otherwise in-memory: restart resets).
func (g *Guard) RestoreLatch(ddActive bool, killActive bool, reason KillSwitchReason) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ddActive {
		g.ddState = Drawdown
	}
	g.killActive = killActive
	g.killReason = reason
}

// ReportEquity folds one equity observation into the high-water marks and
// latches DRAWDOWN if the session or daily limit is breached. DRAWDOWN
// never auto-clears: an explicit OperatorReset call is required (§4.6).
func (g *Guard) ReportEquity(r EquityReport) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.sessionHighWaterUsd.IsZero() || r.EquityUsd.Cmp(g.sessionHighWaterUsd) > 0 {
		g.sessionHighWaterUsd = r.EquityUsd
	}
	if g.dailyHighWaterUsd.IsZero() || r.EquityUsd.Cmp(g.dailyHighWaterUsd) > 0 {
		g.dailyHighWaterUsd = r.EquityUsd
	}

	sessionDd := ddBps(g.sessionHighWaterUsd, r.EquityUsd)
	dailyDd := ddBps(g.dailyHighWaterUsd, r.EquityUsd)
	if sessionDd > g.ddBps {
		g.ddBps = sessionDd
	}
	if dailyDd > g.ddBps {
		g.ddBps = dailyDd
	}

	if g.ddState == Normal && (sessionDd >= g.cfg.SessionDdBpsLimit || dailyDd >= g.cfg.DailyDdBpsLimit) {
		g.ddState = Drawdown
		g.logger.Error("drawdown limit breached, latching DRAWDOWN",
			"session_dd_bps", sessionDd, "daily_dd_bps", dailyDd)
		if !g.killActive {
			g.killActive = true
			g.killReason = KillDdBreach
		}
	}

	if r.RoundTripPnl != nil {
		if r.RoundTripPnl.Sign() < 0 {
			g.consecutiveLoss[r.Symbol]++
		} else {
			g.consecutiveLoss[r.Symbol] = 0
		}
		if g.consecutiveLoss[r.Symbol] >= g.cfg.ConsecutiveLossThreshold {
			g.operatorOverride = types.OverridePause
			g.logger.Warn("consecutive-loss guard tripped",
				"symbol", r.Symbol, "count", g.consecutiveLoss[r.Symbol])
		}
	}
}

func ddBps(highWater, current types.Amount) int64 {
	if highWater.IsZero() {
		return 0
	}
	drop := highWater.Sub(current)
	if drop.Sign() <= 0 {
		return 0
	}
	num := new(big.Int).Mul(drop.Value, big10000)
	den := rescaleForDiv(highWater, drop.Scale)
	if den.Sign() == 0 {
		return 0
	}
	num.Quo(num, den)
	return num.Int64()
}

// TripKillSwitch idempotently latches the kill-switch with the given
// reason. A second trip with a different reason does not overwrite the
// first reason (idempotent per §4.6).
func (g *Guard) TripKillSwitch(reason KillSwitchReason) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.killActive {
		return
	}
	g.killActive = true
	g.killReason = reason
	g.logger.Error("KILL_SWITCH_TRIPPED", "reason", reason)
}

// OperatorReset clears the DRAWDOWN latch and kill-switch. This is the
// only path back to NORMAL; it must be called only in response to an
// explicit operator action (never automatically).
func (g *Guard) OperatorReset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ddState = Normal
	g.ddBps = 0
	g.killActive = false
	g.killReason = ""
	g.operatorOverride = types.OverrideNone
}

// View returns the immutable RiskView snapshot symbol workers read (§5).
type View struct {
	DdState          DrawdownState
	DdBps            int64
	KillSwitchActive bool
	KillSwitchReason KillSwitchReason
	OperatorOverride types.OperatorOverride
}

// View publishes the current immutable risk snapshot.
func (g *Guard) View() View {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return View{
		DdState:          g.ddState,
		DdBps:            g.ddBps,
		KillSwitchActive: g.killActive,
		KillSwitchReason: g.killReason,
		OperatorOverride: g.operatorOverride,
	}
}

// DecideIntent implements the §4.6 decision table for INCREASE_RISK /
// REDUCE_RISK / CANCEL against the current DRAWDOWN state. Kill-switch is
// checked separately by the safety envelope (gate 3); this method only
// encodes the drawdown-guard row of the table.
func (g *Guard) DecideIntent(intent types.OrderIntent) (types.Decision, string) {
	v := g.View()
	if v.DdState == Drawdown && intent == types.IntentIncreaseRisk {
		return types.Block, "DD_PORTFOLIO_BREACH"
	}
	return types.Allow, ""
}
