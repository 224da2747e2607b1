// Package engine is the central orchestrator (C11): it wires the feed
// adapters, the shared exchange port, one decision worker per symbol, the
// top-K prefilter, and the drawdown/kill-switch risk worker together, and
// supervises their lifecycles.
//
// Lifecycle: New() -> Start() -> [runs until ctx canceled] -> Stop().
// Grounded on the teacher's engine.Engine (per-market goroutine-owned slot
// map, two WS feed dispatchers, context-based shutdown, wg.Wait drain),
// generalized from one goroutine-per-binary-market to one
// goroutine-per-futures-symbol. Only the market-data feed passed to New is
// consumed; no user-data feed is connected, so usrFeed stays nil.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"grinder/internal/config"
	"grinder/internal/evidence"
	"grinder/internal/exchange"
	"grinder/internal/feed"
	"grinder/internal/metrics"
	"grinder/internal/policy"
	"grinder/internal/prefilter"
	"grinder/internal/reconcile"
	"grinder/internal/regime"
	"grinder/internal/risk"
	"grinder/internal/router"
	"grinder/internal/safety"
	"grinder/internal/store"
	"grinder/internal/toxicity"
	"grinder/pkg/types"
)

const strategyTag = "grinder"

const inboxSize = 256

// Engine orchestrates every GRINDER subsystem for one trading session. It
// owns the lifecycle of all goroutines and the per-symbol worker map.
type Engine struct {
	cfg     config.Config
	port    exchange.Port
	mktFeed feed.Feed
	usrFeed feed.Feed

	selector   *prefilter.Selector
	guard      *risk.Guard
	reconciler *reconcile.Reconciler
	universe   *exchange.Universe
	metrics    *metrics.Registry
	evidence   *evidence.Recorder

	universeMu    sync.RWMutex
	universeStats map[string]prefilter.Candidate

	prefilterMu    sync.Mutex
	lastRerankTsMs int64

	logger *slog.Logger

	portSem chan struct{}

	workersMu sync.RWMutex
	workers   map[string]*SymbolWorker
	inboxes   map[string]chan types.TickEvent

	tradeCountMu sync.Mutex
	tradeCount1m map[string]int64

	equityMu sync.RWMutex
	equity   types.Amount

	mlHistory map[string][]types.MlSignalSnapshot

	budgetMu        sync.Mutex
	budgetOrders    int64
	budgetNotional  types.Amount
	budgetDayStamp  string
	maxOrdersPerRun int

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New wires every component from cfg but starts nothing. reg may be nil, in
// which case the engine and its workers run without metrics instrumentation
// (e.g. unit tests). mktFeed is caller-supplied so cmd/grinder can choose
// between a live WSFeed and a deterministic FixtureFeed (§6 --fixture)
// without the engine knowing which. initialBudget seeds the day's
// order/notional counters from whatever cmd/grinder loaded off disk (zero
// after --reset-budget or a UTC day rollover).
func New(cfg config.Config, port exchange.Port, mktFeed feed.Feed, logger *slog.Logger, reg *metrics.Registry, initialBudget store.BudgetState, rec *evidence.Recorder) (*Engine, error) {
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("engine: no symbols configured")
	}

	selCfg := prefilter.DefaultConfig()
	selCfg.TopK = cfg.Prefilter.TopK
	selCfg.MaxCorrelated = cfg.Prefilter.MaxCorrelated
	if selCfg.TopK <= 0 {
		selCfg.TopK = len(cfg.Symbols)
	}

	guard := risk.NewGuard(risk.Config{
		SessionDdBpsLimit:        cfg.Risk.SessionDdBpsLimit,
		DailyDdBpsLimit:          cfg.Risk.DailyDdBpsLimit,
		ConsecutiveLossThreshold: cfg.Risk.ConsecutiveLossThreshold,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	return &Engine{
		cfg:             cfg,
		port:            port,
		mktFeed:         mktFeed,
		selector:        prefilter.New(selCfg),
		guard:           guard,
		reconciler:      reconcile.New(reconcile.DefaultConfig(), port),
		universe:        exchange.NewUniverse(cfg.Exchange.BaseURL, logger),
		universeStats:   make(map[string]prefilter.Candidate),
		metrics:         reg,
		evidence:        rec,
		logger:          logger.With("component", "engine"),
		portSem:         make(chan struct{}, maxInt(cfg.Engine.PortWorkerPoolSize, 1)),
		workers:         make(map[string]*SymbolWorker),
		inboxes:         make(map[string]chan types.TickEvent),
		tradeCount1m:    make(map[string]int64),
		mlHistory:       make(map[string][]types.MlSignalSnapshot),
		equity:          types.ZeroAmount(2),
		budgetOrders:    initialBudget.OrdersToday,
		budgetNotional:  initialBudget.NotionalTodayUsd,
		budgetDayStamp:  initialBudget.DayStamp,
		maxOrdersPerRun: cfg.Exchange.MaxOrdersPerRun,
		ctx:             gctx,
		cancel:          cancel,
		group:           group,
	}, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Start launches the feed, dispatch and per-symbol worker goroutines.
func (e *Engine) Start() error {
	for _, symbol := range e.cfg.Symbols {
		e.startSymbol(symbol)
	}

	e.group.Go(func() error {
		if err := e.mktFeed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("market feed error", "error", err)
			return err
		}
		return nil
	})

	if err := e.mktFeed.Subscribe(e.ctx, e.cfg.Symbols); err != nil {
		e.logger.Warn("initial subscribe failed", "error", err)
	}

	e.group.Go(func() error {
		e.dispatchMarketEvents()
		return nil
	})

	e.group.Go(func() error {
		e.runEquityLoop()
		return nil
	})

	e.group.Go(func() error {
		e.runUniverseLoop()
		return nil
	})

	return nil
}

// Stop cancels every worker, drains in-flight port calls, and waits for
// all goroutines to exit. A cancel-all-orders safety net mirrors the
// teacher's Stop (graceful shutdown still allows REDUCE_RISK/CANCEL per
// §5 "Cancellation & timeouts").
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")
	e.cancel()

	e.workersMu.RLock()
	for _, w := range e.workers {
		w.CancelAll()
	}
	e.workersMu.RUnlock()

	if err := e.group.Wait(); err != nil {
		e.logger.Error("worker group exited with error", "error", err)
	}
	e.mktFeed.Close()
	if e.usrFeed != nil {
		e.usrFeed.Close()
	}
	e.logger.Info("shutdown complete")
}

func (e *Engine) startSymbol(symbol string) {
	constraints, ok := e.port.SymbolConstraints(symbol)
	if !ok {
		constraints = types.SymbolConstraints{
			Symbol: symbol, PriceScale: 2, QtyScale: 3,
			TickSize: types.AmountFromInt64(1, 2), StepSize: types.AmountFromInt64(1, 3),
			MinQty: types.ZeroAmount(3), MinNotional: types.ZeroAmount(2),
		}
	}

	baseSize, _ := types.ParseAmount(e.cfg.Policy.PaperSizePerLevel, constraints.QtyScale)
	if baseSize.IsZero() {
		baseSize = types.AmountFromInt64(1, constraints.QtyScale)
	}

	polCfg := policy.DefaultConfig(baseSize)
	if e.cfg.Policy.StepMinBps > 0 {
		polCfg.StepMinBps = e.cfg.Policy.StepMinBps
		polCfg.StepMaxBps = e.cfg.Policy.StepMaxBps
		polCfg.StepAlphaX1000 = e.cfg.Policy.StepAlphaX1000
		polCfg.StepEmaAlphaX1000 = e.cfg.Policy.StepEmaAlphaX1000
		polCfg.LevelsUpDefault = e.cfg.Policy.LevelsUpDefault
		polCfg.LevelsDownDefault = e.cfg.Policy.LevelsDownDefault
		polCfg.MaxSkewBps = e.cfg.Policy.MaxSkewBps
	}

	closeThresh, _ := types.ParseAmount(e.cfg.Engine.PositionCloseThreshUsd, 2)

	swCfg := SymbolWorkerConfig{
		Symbol:                 symbol,
		Strategy:               strategyTag,
		DepthTopN:              maxInt(e.cfg.Engine.DepthTopN, 1),
		MaxFeedStalenessMs:     e.cfg.Engine.MaxFeedStalenessMs,
		FillProbThresholdX1000: e.cfg.Engine.FillProbThresholdX1000,
		PositionCloseThreshUsd: closeThresh,
		Constraints:            constraints,
		RegimeCfg:              regime.DefaultConfig(),
		ToxicityCfg:            toxicity.DefaultConfig(),
		PolicyCfg:              polCfg,
		RouterCfg:              router.DefaultConfig(),
		BreakerCfg:             safety.DefaultCircuitBreakerConfig(),
		FsmCooldownMs:          e.cfg.Engine.FsmCooldownMs,
	}

	reportRT := func(sym string, pnl types.Amount) {
		e.guard.ReportEquity(risk.EquityReport{
			Symbol:       sym,
			EquityUsd:    e.currentEquity(),
			TsMs:         time.Now().UnixMilli(),
			RoundTripPnl: &pnl,
		})
	}

	reportOrder := func(notionalUsd types.Amount) {
		e.recordOrderPlaced(notionalUsd)
	}

	worker := NewSymbolWorker(swCfg, e.port, e.portSem, policy.NewAdaptive(polCfg), e.logger, e.metrics, e.evidence, reportRT, reportOrder)

	inbox := make(chan types.TickEvent, inboxSize)

	e.workersMu.Lock()
	e.workers[symbol] = worker
	e.inboxes[symbol] = inbox
	e.workersMu.Unlock()

	gate := SafetyGate{
		Armed:             e.cfg.Armed,
		Mode:              safety.TradingMode(e.cfg.Mode),
		SymbolWhitelisted: contains(e.cfg.Symbols, symbol),
	}

	e.group.Go(func() error {
		for {
			select {
			case <-e.ctx.Done():
				return nil
			case ev, ok := <-inbox:
				if !ok {
					return nil
				}
				rv := e.guard.View()
				ml := types.SelectMlSignal(e.mlHistory[symbol], symbol, ev.TsMs)
				worker.HandleTick(ev, rv, gate, ml)
			}
		}
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// dispatchMarketEvents routes every normalized TickEvent to its symbol's
// inbox, dropping the oldest tick on backpressure (§5 "Inter-worker
// communication": saturated queues drop oldest, not newest, and increment
// a feed-drop counter).
func (e *Engine) dispatchMarketEvents() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case ev, ok := <-e.mktFeed.Events():
			if !ok {
				return
			}
			if ev.Kind == types.EventAggTrade {
				e.bumpTradeCount(ev.Symbol)
			}
			e.route(ev)
			e.maybeRerankPrefilter(ev.TsMs)
		}
	}
}

func (e *Engine) route(ev types.TickEvent) {
	e.workersMu.RLock()
	inbox, ok := e.inboxes[ev.Symbol]
	e.workersMu.RUnlock()
	if !ok {
		return
	}
	select {
	case inbox <- ev:
	default:
		select {
		case <-inbox:
		default:
		}
		select {
		case inbox <- ev:
		default:
		}
		e.logger.Warn("feed_drop_total", "symbol", ev.Symbol)
		e.incMetric("feed_drop_total", map[string]string{"symbol": ev.Symbol})
	}
}

func (e *Engine) bumpTradeCount(symbol string) {
	e.tradeCountMu.Lock()
	e.tradeCount1m[symbol]++
	e.tradeCountMu.Unlock()
}

// currentEquity returns the last account-wide equity figure observed by
// the equity-poll loop.
func (e *Engine) currentEquity() types.Amount {
	e.equityMu.RLock()
	defer e.equityMu.RUnlock()
	return e.equity
}

// runEquityLoop periodically syncs the account reconciler and feeds the
// risk worker's high-water-mark tracking off the returned snapshot. Any
// mismatch the reconciler finds is logged as RECONCILE_MISMATCH (§6's
// closed log-event-name set) rather than blocking equity reporting —
// reconciliation is read-only and advisory to the hot path.
func (e *Engine) runEquityLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			snap, mismatches, ok, err := e.reconciler.Sync(time.Now(), e.localOrderView())
			if err != nil {
				e.logger.Warn("account sync failed", "error", err)
				e.incMetric("account_sync_errors_total", map[string]string{"reason": "fetch_failed"})
				continue
			}
			if !ok {
				continue
			}
			for _, m := range mismatches {
				e.logger.Warn("RECONCILE_MISMATCH", "rule", m.Rule, "detail", m.Detail, "symbol", m.Symbol, "order_id", m.OrderID)
				e.incMetric("account_sync_mismatches_total", map[string]string{"rule": string(m.Rule)})
			}
			e.equityMu.Lock()
			e.equity = snap.EquityUsd
			e.equityMu.Unlock()
			e.setMetric("account_sync_age_seconds", nil, time.Since(time.UnixMilli(snap.TsMs)).Seconds())
			e.guard.ReportEquity(risk.EquityReport{EquityUsd: snap.EquityUsd, TsMs: snap.TsMs})
			rv := e.guard.View()
			e.setMetric("drawdown_pct", nil, float64(rv.DdBps)/100.0)
			killVal := 0.0
			if rv.KillSwitchActive {
				killVal = 1.0
			}
			e.setMetric("kill_switch_triggered", nil, killVal)
		}
	}
}

// localOrderView snapshots every worker's resting client ids, so the
// reconciler can flag orphan_order without reaching into worker internals
// itself.
func (e *Engine) localOrderView() reconcile.LocalView {
	e.workersMu.RLock()
	defer e.workersMu.RUnlock()
	ids := make(map[string]bool)
	for _, w := range e.workers {
		for _, cid := range w.RestingClientIDs() {
			ids[cid] = true
		}
	}
	return reconcile.LocalView{ClientIDs: ids}
}

// runUniverseLoop refreshes the exchange-wide volume/open-interest cache
// that runPrefilterOnce merges into each candidate's hard-filter fields.
// Polled on a slower cadence than the prefilter's own rerank timer since
// 24hr ticker/open-interest figures move far more slowly than spread or
// trade count.
func (e *Engine) runUniverseLoop() {
	e.refreshUniverse()
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.refreshUniverse()
		}
	}
}

func (e *Engine) refreshUniverse() {
	ctx, cancel := context.WithTimeout(e.ctx, 15*time.Second)
	defer cancel()
	candidates, err := e.universe.Scan(ctx)
	if err != nil {
		e.logger.Warn("universe scan failed, keeping stale stats", "error", err)
		return
	}
	stats := make(map[string]prefilter.Candidate, len(candidates))
	for _, c := range candidates {
		stats[c.Symbol] = c
	}
	e.universeMu.Lock()
	e.universeStats = stats
	e.universeMu.Unlock()
}

// rerankIntervalMs is the minimum event-time gap between Top-K rerank
// cycles. Unlike a wall-clock ticker, this is measured against ev.TsMs so
// replaying the same event trace drives the selector's enter/hold timers
// through the exact same sequence of rerank cycles every time, keeping the
// prefilter stage on event time rather than the wall clock.
const rerankIntervalMs = 30_000

// maybeRerankPrefilter runs the Top-K selector once enough event time has
// passed since the last cycle. It is called from the market-event dispatch
// loop rather than a time.Ticker so the only clock driving it is the one
// already present in the event stream.
func (e *Engine) maybeRerankPrefilter(evTsMs int64) {
	e.prefilterMu.Lock()
	due := evTsMs-e.lastRerankTsMs >= rerankIntervalMs
	if due {
		e.lastRerankTsMs = evTsMs
	}
	e.prefilterMu.Unlock()
	if !due {
		return
	}
	e.runPrefilterOnce(evTsMs)
}

// runPrefilterOnce runs one rerank cycle, built from the per-symbol
// aggregates the engine can cheaply observe (spread from the last plan,
// trade count from the trailing minute) merged with the slower-moving
// volume/open-interest figures runUniverseLoop polls. nowMs is the
// triggering event's timestamp, not the wall clock, so the selector's
// hysteresis timers are a pure function of the event trace.
func (e *Engine) runPrefilterOnce(nowMs int64) {
	e.universeMu.RLock()
	universeStats := e.universeStats
	e.universeMu.RUnlock()

	defaults := prefilter.DefaultConfig()

	e.workersMu.RLock()
	candidates := make([]prefilter.Candidate, 0, len(e.workers))
	for symbol, w := range e.workers {
		plan := w.LastPlan()
		e.tradeCountMu.Lock()
		trades := e.tradeCount1m[symbol]
		e.tradeCount1m[symbol] = 0
		e.tradeCountMu.Unlock()

		vol24h, vol1h, oi := defaults.VolMin24h, defaults.VolMin1h, defaults.OpenInterestMin
		if u, ok := universeStats[symbol]; ok {
			vol24h, vol1h, oi = u.Volume24h, u.Volume1h, u.OpenInterest
		}

		candidates = append(candidates, prefilter.Candidate{
			Symbol:           symbol,
			SpreadBps:        plan.SpacingBps,
			Volume24h:        vol24h,
			Volume1h:         vol1h,
			TradeCount1m:     trades,
			OpenInterest:     oi,
			Blacklisted:      false,
			Delisting:        false,
			CorrelationX1000: map[string]int64{},
		})
	}
	e.workersMu.RUnlock()

	selected := e.selector.Select(time.UnixMilli(nowMs), candidates)
	e.logger.Debug("prefilter_selected", "symbols", selected)
}

func (e *Engine) incMetric(name string, labels map[string]string) {
	if e.metrics == nil {
		return
	}
	e.metrics.Inc(name, labels)
}

func (e *Engine) setMetric(name string, labels map[string]string, value float64) {
	if e.metrics == nil {
		return
	}
	e.metrics.Set(name, labels, value)
}

// recordOrderPlaced folds one successfully-placed order into the day's
// budget counters (§5 "Budget counters ... are held by the port worker and
// incremented ... they are authoritative"). The Engine is the port
// worker's owner here (it holds portSem), so the counters live alongside
// it rather than in a separate package.
func (e *Engine) recordOrderPlaced(notionalUsd types.Amount) {
	e.budgetMu.Lock()
	defer e.budgetMu.Unlock()
	today := time.Now().UTC().Format("2006-01-02")
	if e.budgetDayStamp != today {
		e.budgetDayStamp = today
		e.budgetOrders = 0
		e.budgetNotional = types.ZeroAmount(notionalUsd.Scale)
	}
	e.budgetOrders++
	e.budgetNotional = e.budgetNotional.Add(notionalUsd)
	if e.maxOrdersPerRun > 0 && e.budgetOrders > int64(e.maxOrdersPerRun) {
		e.logger.Warn("daily order budget exceeded", "orders_today", e.budgetOrders, "max_orders_per_run", e.maxOrdersPerRun)
	}
}

// BudgetSnapshot returns the current day's order/notional counters for
// cmd/grinder to persist on shutdown.
func (e *Engine) BudgetSnapshot() store.BudgetState {
	e.budgetMu.Lock()
	defer e.budgetMu.Unlock()
	return store.BudgetState{
		OrdersToday:      e.budgetOrders,
		NotionalTodayUsd: e.budgetNotional,
		DayStamp:         e.budgetDayStamp,
	}
}

// RestoreKillSwitch re-applies a kill-switch latch recovered from disk
// before Start runs any symbol worker.
func (e *Engine) RestoreKillSwitch(reason risk.KillSwitchReason) {
	e.guard.RestoreLatch(false, true, reason)
}

// GuardView exposes the current risk snapshot for dashboard/metrics use.
func (e *Engine) GuardView() risk.View { return e.guard.View() }

// Workers returns a snapshot of the active symbol set, for dashboard use.
func (e *Engine) Workers() []string {
	e.workersMu.RLock()
	defer e.workersMu.RUnlock()
	out := make([]string, 0, len(e.workers))
	for s := range e.workers {
		out = append(out, s)
	}
	return out
}
