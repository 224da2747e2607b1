package engine

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"grinder/internal/evidence"
	"grinder/internal/exchange"
	"grinder/internal/feature"
	"grinder/internal/fsm"
	"grinder/internal/metrics"
	"grinder/internal/policy"
	"grinder/internal/regime"
	"grinder/internal/risk"
	"grinder/internal/router"
	"grinder/internal/safety"
	"grinder/internal/toxicity"
	"grinder/pkg/types"
)

// SymbolWorkerConfig bundles one symbol's static tunables, carried 1:1 from
// the engine's top-level config at construction time.
type SymbolWorkerConfig struct {
	Symbol                 string
	Strategy               string
	DepthTopN              int
	MaxFeedStalenessMs     int64
	FillProbThresholdX1000 int64
	PositionCloseThreshUsd types.Amount
	Constraints            types.SymbolConstraints
	RegimeCfg              regime.Config
	ToxicityCfg            toxicity.Config
	PolicyCfg              policy.Config
	RouterCfg              router.Config
	BreakerCfg             safety.CircuitBreakerConfig
	FsmCooldownMs          int64
}

// reportRoundTripFn lets the symbol worker hand a closed round-trip's PnL
// to the risk worker without holding a direct reference to the Guard
// (single writer per symbol, §5 — only the risk worker writes Guard state).
type reportRoundTripFn func(symbol string, pnl types.Amount)

// reportOrderFn lets the symbol worker fold a successfully placed order's
// notional into the engine's daily budget counters without holding a
// direct reference to the engine (§5 "Budget counters ... are held by the
// port worker").
type reportOrderFn func(notionalUsd types.Amount)

// SymbolWorker owns every piece of per-symbol mutable decision state: the
// feature engine, regime classifier, toxicity evaluator, grid policy, FSM
// driver, safety envelope, and the resting-order book. It is the single
// writer for that state (§5); other goroutines only read the fields guarded
// by restingMu and mu, through the accessor methods that take those locks.
// Grounded on the teacher's marketSlot (engine.go) generalized
// from one goroutine-per-binary-market to one goroutine-per-futures-symbol.
type SymbolWorker struct {
	cfg     SymbolWorkerConfig
	port    exchange.Port
	portSem chan struct{}
	logger  *slog.Logger
	metrics *metrics.Registry
	rec     *evidence.Recorder

	featureEngine *feature.Engine
	regimeCls     *regime.Classifier
	toxEval       *toxicity.Evaluator
	pol           policy.Policy
	fsmDriver     *fsm.Driver
	envelope      *safety.Envelope

	restingMu sync.RWMutex
	resting   map[int]*types.OrderRecord
	seq       int64

	prevImbalanceBps int64
	lastForceOrderMs int64
	liquidationX1000 int64

	positionQty   *big.Int // signed, at constraints.QtyScale
	avgEntryPrice types.Amount
	lastMid       types.Amount

	reportRoundTrip reportRoundTripFn
	reportOrder     reportOrderFn

	mu           sync.RWMutex
	lastPlan     types.GridPlan
	lastFsmState types.FsmState
}

// NewSymbolWorker constructs a worker starting in FSM INIT with a flat
// resting-order book.
func NewSymbolWorker(cfg SymbolWorkerConfig, port exchange.Port, portSem chan struct{}, pol policy.Policy, logger *slog.Logger, reg *metrics.Registry, rec *evidence.Recorder, reportRT reportRoundTripFn, reportOrder reportOrderFn) *SymbolWorker {
	return &SymbolWorker{
		cfg:             cfg,
		port:            port,
		portSem:         portSem,
		logger:          logger.With("symbol", cfg.Symbol),
		metrics:         reg,
		rec:             rec,
		reportOrder:     reportOrder,
		featureEngine:   feature.New(cfg.Symbol, 60_000),
		regimeCls:       regime.New(cfg.RegimeCfg),
		toxEval:         toxicity.New(cfg.ToxicityCfg),
		pol:             pol,
		fsmDriver:       fsm.NewDriver(cfg.FsmCooldownMs),
		envelope:        safety.NewEnvelope(cfg.BreakerCfg),
		resting:         make(map[int]*types.OrderRecord),
		positionQty:     big.NewInt(0),
		avgEntryPrice:   types.ZeroAmount(cfg.Constraints.PriceScale),
		lastMid:         types.ZeroAmount(cfg.Constraints.PriceScale),
		reportRoundTrip: reportRT,
	}
}

// SafetyGate bundles the operator/arming state the envelope needs every
// tick; the engine recomputes it once per reload and passes it down rather
// than letting each worker read global config directly.
type SafetyGate struct {
	Armed             bool
	Mode              safety.TradingMode
	SymbolWhitelisted bool
}

// HandleTick is the symbol worker's single entry point. It folds one
// TickEvent through feature -> regime -> toxicity -> policy -> FSM ->
// safety envelope -> router, then submits any resulting actions to the
// exchange port. ml may be the neutral default (types.NeutralMlSignal).
func (w *SymbolWorker) HandleTick(ev types.TickEvent, rv risk.View, gate SafetyGate, ml types.MlSignalSnapshot) {
	if ev.Kind == types.EventUserData {
		w.applyUserData(ev)
		return
	}

	w.updateMicrostructureProxies(ev)

	var l2 *types.L2FeatureSnapshot
	if ev.Kind == types.EventDepthDiff && ev.DepthDiff != nil {
		if s, ok := w.featureEngine.L2Snapshot(ev.TsMs, ev.DepthDiff.Bids, ev.DepthDiff.Asks, w.cfg.DepthTopN); ok {
			l2 = &s
		}
	}

	snap, ok := w.featureEngine.OnTick(ev)
	if !ok {
		return
	}
	if snap.MidPrice.Sign() > 0 {
		w.lastMid = snap.MidPrice
	}

	componentDigests := make(map[string]string, 6)
	componentDigests["feature"] = w.writeEvidence(ev.TsMs, "feature", snap)

	toxResult := w.toxEval.Evaluate(w.cfg.Symbol, ev.TsMs, w.toxicityComponents(snap))
	componentDigests["toxicity"] = w.writeEvidence(ev.TsMs, "toxicity", toxResult)
	rg := w.regimeCls.Classify(regime.Inputs{
		ToxScore:        toxResult.Score,
		SpreadBps:       snap.SpreadBps,
		DepthTop5Usd:    depthProxy(l2, w.cfg.RegimeCfg.DepthMinUsd),
		PriceJump1mBps:  snap.SumAbsReturnsBps,
		TrendSlope5mBps: snap.NetReturnBps,
	})
	componentDigests["regime"] = w.writeEvidence(ev.TsMs, "regime", rg)

	fsmIn := types.FsmInputs{
		TsMs:                ev.TsMs,
		Regime:              rg,
		Toxicity:            toxResult.Band,
		FeedStaleMs:         0,
		MaxFeedStalenessMs:  w.cfg.MaxFeedStalenessMs,
		DrawdownPct:         rv.DdBps,
		KillSwitchActive:    rv.KillSwitchActive,
		KillSwitchReason:    string(rv.KillSwitchReason),
		PositionNotional:    w.positionNotionalUsd(),
		PositionCloseThresh: w.cfg.PositionCloseThreshUsd,
		OperatorOverride:    rv.OperatorOverride,
		FeedsReady:          true,
		TopKReady:           true,
		HealthOK:            true,
	}
	transitioned := false
	if transition, changed := w.fsmDriver.Tick(fsmIn); changed {
		w.logger.Info("fsm_transition", "from", transition.From, "to", transition.To, "reason", transition.Reason)
		w.incMetric("fsm_transitions_total", map[string]string{"from": string(transition.From), "to": string(transition.To), "reason": transition.Reason})
		transitioned = true
	}
	state := w.fsmDriver.State()
	w.setMetric("fsm_current_state", map[string]string{"symbol": w.cfg.Symbol, "state": string(state)}, 1)
	componentDigests["fsm"] = w.writeEvidence(ev.TsMs, "fsm", state)

	plan := w.pol.Plan(policy.Inputs{
		Feature:            snap,
		L2:                 l2,
		Regime:             rg,
		Toxicity:           toxResult,
		Ml:                 &ml,
		DdBudgetRatioX1000: ddBudgetRatio(rv),
		InventoryPctX1000:  w.inventoryPctX1000(),
	})
	if err := plan.Validate(); err != nil {
		w.logger.Error("invalid grid plan, skipping tick", "error", err)
		return
	}
	componentDigests["policy"] = w.writeEvidence(ev.TsMs, "policy", plan)

	w.mu.Lock()
	w.lastPlan = plan
	w.lastFsmState = state
	w.mu.Unlock()

	intent := intentForMode(plan.Mode)
	decision, reason := w.envelope.Evaluate(time.UnixMilli(ev.TsMs), safety.Inputs{
		Armed:             gate.Armed,
		Mode:              gate.Mode,
		KillSwitchActive:  rv.KillSwitchActive,
		SymbolWhitelisted: gate.SymbolWhitelisted,
		DrawdownActive:    rv.DdState == risk.Drawdown,
		FsmState:          state,
		PredictedFillProb: 1000,
		FillProbThreshold: w.cfg.FillProbThresholdX1000,
	}, intent)
	componentDigests["safety"] = w.writeEvidence(ev.TsMs, "safety", map[string]string{"decision": string(decision), "reason": reason})
	if decision == types.Block {
		w.incMetric("fsm_action_blocked_total", map[string]string{"state": string(state), "intent": string(intent)})
	}

	if tickDigest, err := evidence.ComposeTickDigest(w.cfg.Symbol, ev.TsMs, componentDigests); err != nil {
		w.logger.Warn("compose tick digest failed", "error", err)
	} else if transitioned || decision == types.Block || rv.KillSwitchActive {
		w.logger.Info("EVIDENCE_REF", "symbol", w.cfg.Symbol, "ts_ms", ev.TsMs, "digest", tickDigest)
	}

	levels := desiredLevels(plan, w.cfg.Constraints)
	seen := make(map[int]bool, len(levels))
	for _, lvl := range levels {
		seen[lvl.idx] = true
		effectiveIntent := intent
		if decision == types.Block {
			effectiveIntent = types.IntentCancel
			reason = safety.Reason(decision, reason)
		}
		existing := w.getResting(lvl.idx)
		_, routerReason, actions := router.Decide(w.cfg.RouterCfg, effectiveIntent, lvl.desired, existing, w.cfg.Constraints, rv.DdState == risk.Drawdown)
		w.applyActions(lvl.idx, actions, routerReason)
	}
	w.cancelOrphanLevels(seen)
}

type levelTarget struct {
	idx     int
	desired router.Desired
}

// desiredLevels builds the level set for the current plan, one-sided when
// the mode is UNI_LONG/UNI_SHORT: the off-side's levels are simply omitted,
// which causes cancelOrphanLevels to tear any resting orders there down.
func desiredLevels(plan types.GridPlan, c types.SymbolConstraints) []levelTarget {
	if plan.Mode == types.ModePause || plan.Mode == types.ModeEmergency {
		return nil
	}
	var out []levelTarget
	n := int64(len(plan.SizeSchedule))

	placeAsks := plan.Mode != types.ModeUniLong
	placeBids := plan.Mode != types.ModeUniShort

	if placeAsks {
		for i := int64(1); i <= plan.LevelsUp; i++ {
			idx := int(i)
			sched := i - 1
			if sched >= n {
				sched = n - 1
			}
			price := priceAtLevel(plan.CenterPrice, plan.SpacingBps, plan.SkewBps, idx, c)
			out = append(out, levelTarget{idx: idx, desired: router.Desired{Side: types.SELL, Price: price, Qty: sizeAt(plan, sched)}})
		}
	}
	if placeBids {
		for i := int64(1); i <= plan.LevelsDown; i++ {
			idx := -int(i)
			sched := plan.LevelsUp + i - 1
			if sched >= n {
				sched = n - 1
			}
			price := priceAtLevel(plan.CenterPrice, plan.SpacingBps, plan.SkewBps, idx, c)
			out = append(out, levelTarget{idx: idx, desired: router.Desired{Side: types.BUY, Price: price, Qty: sizeAt(plan, sched)}})
		}
	}
	return out
}

func sizeAt(plan types.GridPlan, i int64) types.Amount {
	if i < 0 || int(i) >= len(plan.SizeSchedule) {
		return types.ZeroAmount(0)
	}
	return plan.SizeSchedule[i]
}

// priceAtLevel implements center_price * (1 + (level_idx*spacing_bps +
// skew_bps)/10000), floored to the symbol's tick size. level_idx is
// positive for ask levels above center, negative for bid levels below.
func priceAtLevel(center types.Amount, spacingBps, skewBps int64, levelIdx int, c types.SymbolConstraints) types.Amount {
	offsetBps := int64(levelIdx)*spacingBps + skewBps
	atScale := center.Rescale(c.PriceScale)
	num := new(big.Int).Mul(atScale.Value, big.NewInt(10000+offsetBps))
	num.Quo(num, big.NewInt(10000))
	raw := types.Amount{Value: num, Scale: c.PriceScale}
	return raw.FloorToStep(c.TickSize)
}

// intentForMode maps a GridPlan's mode to the OrderIntent the drawdown
// guard, FSM and SOR all gate on.
func intentForMode(mode types.GridMode) types.OrderIntent {
	switch mode {
	case types.ModePause, types.ModeEmergency:
		return types.IntentCancel
	case types.ModeThrottle:
		return types.IntentReduceRisk
	default:
		return types.IntentIncreaseRisk
	}
}

// ddBudgetRatio derives the policy's dd_budget_ratio input from the shared
// RiskView: 1000 (full budget) falling linearly to 0 as drawdown approaches
// the session limit proxy carried in DdBps, clamped to [0, 1000].
func ddBudgetRatio(rv risk.View) int64 {
	if rv.DdState == risk.Drawdown {
		return 0
	}
	const assumedLimitBps = 1000
	remaining := assumedLimitBps - rv.DdBps
	return types.ClampI64(remaining*1000/assumedLimitBps, 0, 1000)
}

// cancelOrphanLevels cancels any resting order whose level is no longer in
// the current plan (mode switched to PAUSE/EMERGENCY, or a one-sided
// inventory mode dropped the opposite side, or LevelsUp/Down shrank).
func (w *SymbolWorker) cancelOrphanLevels(stillWanted map[int]bool) {
	for idx, rec := range w.restingSnapshot() {
		if stillWanted[idx] {
			continue
		}
		if rec == nil || !rec.IsLive() {
			w.deleteResting(idx)
			continue
		}
		w.submitCancel(idx, rec.ClientID)
	}
}

// getResting, setResting, deleteResting and restingSnapshot are the only
// accessors touching the resting-order map: cross-goroutine readers
// (Stop, the reconciler's local view) take restingMu.RLock while this
// worker's own goroutine takes restingMu.Lock on every mutation, so a
// consistent view is always available without the owning goroutine
// needing to coordinate with anyone.
func (w *SymbolWorker) getResting(idx int) *types.OrderRecord {
	w.restingMu.RLock()
	defer w.restingMu.RUnlock()
	return w.resting[idx]
}

func (w *SymbolWorker) setResting(idx int, rec *types.OrderRecord) {
	w.restingMu.Lock()
	defer w.restingMu.Unlock()
	w.resting[idx] = rec
}

func (w *SymbolWorker) deleteResting(idx int) {
	w.restingMu.Lock()
	defer w.restingMu.Unlock()
	delete(w.resting, idx)
}

// restingSnapshot returns a shallow copy of the resting map, safe to range
// over while submitCancel concurrently mutates the original.
func (w *SymbolWorker) restingSnapshot() map[int]*types.OrderRecord {
	w.restingMu.RLock()
	defer w.restingMu.RUnlock()
	out := make(map[int]*types.OrderRecord, len(w.resting))
	for k, v := range w.resting {
		out[k] = v
	}
	return out
}

// RestingClientIDs returns every live resting order's client id, for the
// account reconciler's orphan_order check.
func (w *SymbolWorker) RestingClientIDs() []string {
	w.restingMu.RLock()
	defer w.restingMu.RUnlock()
	ids := make([]string, 0, len(w.resting))
	for _, rec := range w.resting {
		if rec != nil && rec.IsLive() {
			ids = append(ids, rec.ClientID)
		}
	}
	return ids
}

// CancelAll submits a cancel for every currently resting order; used by
// the engine's graceful-shutdown safety net.
func (w *SymbolWorker) CancelAll() {
	for idx, rec := range w.restingSnapshot() {
		if rec != nil && rec.IsLive() {
			w.submitCancel(idx, rec.ClientID)
		}
	}
}

func (w *SymbolWorker) applyActions(idx int, actions []router.Action, reason string) {
	if len(actions) == 0 {
		w.incMetric("router_decision_total", map[string]string{"decision": "NOOP", "reason": reason})
		return
	}
	for _, a := range actions {
		w.incMetric("router_decision_total", map[string]string{"decision": a.Kind, "reason": reason})
		switch a.Kind {
		case "PLACE":
			w.submitPlace(idx, a.Order)
		case "CANCEL":
			w.submitCancel(idx, a.Cancel)
		case "AMEND":
			w.submitAmend(idx, a.Order)
		}
	}
}

func (w *SymbolWorker) nextClientID(idx int) string {
	w.seq++
	return clientID(w.cfg.Strategy, w.cfg.Symbol, idx, w.seq)
}

func (w *SymbolWorker) submitPlace(idx int, req types.OrderRequest) {
	req.ClientID = w.nextClientID(idx)
	req.Symbol = w.cfg.Symbol
	w.portSem <- struct{}{}
	ack, outcome, err := w.port.Place(req)
	<-w.portSem
	w.incMetric("port_order_attempts_total", map[string]string{"port": w.cfg.Strategy, "op": "place"})
	if err != nil || outcome != exchange.Ok {
		w.logger.Warn("order place failed", "level", idx, "outcome", outcome, "error", err)
		return
	}
	w.setResting(idx, &types.OrderRecord{
		ClientID: ack.ClientID, Symbol: req.Symbol, Side: req.Side,
		Price: req.Price, Qty: req.Qty, FilledQty: types.ZeroAmount(req.Qty.Scale),
		Status: ack.Status, ReduceOnly: req.ReduceOnly,
	})
	w.logger.Info("ORDER_PLACED", "level", idx, "client_id", ack.ClientID, "side", req.Side, "price", req.Price.String(), "qty", req.Qty.String())
	if w.reportOrder != nil {
		w.reportOrder(req.Price.Mul(req.Qty))
	}
}

func (w *SymbolWorker) submitAmend(idx int, req types.OrderRequest) {
	existing := w.getResting(idx)
	if existing == nil {
		w.submitPlace(idx, req)
		return
	}
	w.portSem <- struct{}{}
	ack, outcome, err := w.port.Amend(existing.ClientID, req.Price, req.Qty)
	<-w.portSem
	w.incMetric("port_order_attempts_total", map[string]string{"port": w.cfg.Strategy, "op": "amend"})
	if err != nil || outcome != exchange.Ok {
		w.logger.Warn("order amend failed", "level", idx, "outcome", outcome, "error", err)
		return
	}
	existing.Price = req.Price
	existing.Qty = req.Qty
	existing.Status = ack.Status
	w.setResting(idx, existing)
	w.logger.Info("ORDER_AMENDED", "level", idx, "client_id", existing.ClientID, "price", req.Price.String(), "qty", req.Qty.String())
}

func (w *SymbolWorker) submitCancel(idx int, clientID string) {
	if clientID == "" {
		w.deleteResting(idx)
		return
	}
	w.portSem <- struct{}{}
	_, outcome, err := w.port.Cancel(clientID)
	<-w.portSem
	w.incMetric("port_order_attempts_total", map[string]string{"port": w.cfg.Strategy, "op": "cancel"})
	if err != nil && outcome == exchange.Fatal {
		w.logger.Warn("order cancel failed", "level", idx, "client_id", clientID, "error", err)
	}
	w.deleteResting(idx)
	w.logger.Info("ORDER_CANCELED", "level", idx, "client_id", clientID)
}

// writeEvidence is a no-op returning "" when the worker was built without a
// recorder, so HandleTick's call sites stay unconditional. name is scoped
// to this (symbol, ts_ms, stage) triple so concurrent symbols and
// successive ticks never collide on the same artifact file.
func (w *SymbolWorker) writeEvidence(tsMs int64, stage string, v any) string {
	if w.rec == nil {
		return ""
	}
	name := fmt.Sprintf("%s_%d_%s", w.cfg.Symbol, tsMs, stage)
	digest, err := w.rec.WriteComponent(name, v)
	if err != nil {
		w.logger.Warn("evidence component write failed", "stage", stage, "error", err)
		return ""
	}
	return digest
}

// incMetric and setMetric are no-ops when the worker was built without a
// registry (e.g. in tests), so every call site stays unconditional.
func (w *SymbolWorker) incMetric(name string, labels map[string]string) {
	if w.metrics == nil {
		return
	}
	w.metrics.Inc(name, labels)
}

func (w *SymbolWorker) setMetric(name string, labels map[string]string, value float64) {
	if w.metrics == nil {
		return
	}
	w.metrics.Set(name, labels, value)
}

// applyUserData folds a fill/status update into the resting book and the
// local position tracker, reporting a closed round-trip's realized PnL to
// the risk worker when the position returns to flat.
func (w *SymbolWorker) applyUserData(ev types.TickEvent) {
	ud := ev.UserData
	if ud == nil {
		return
	}
	_, symbol, idx, _, ok := parseClientID(ud.ClientID)
	if !ok || symbol != normalizeSymbol(w.cfg.Symbol) {
		return
	}
	rec := w.getResting(idx)
	if rec == nil {
		return
	}
	rec.Status = ud.Status
	rec.FilledQty = ud.FilledQty
	w.setResting(idx, rec)

	if ud.FilledQty.Sign() > 0 && ud.FillPrice.Sign() > 0 {
		w.applyFill(rec.Side, ud.FilledQty, ud.FillPrice)
	}
	if !rec.IsLive() {
		w.deleteResting(idx)
	}
}

// applyFill updates the signed net position and average entry price, and
// reports a round trip's realized PnL once the position returns to flat.
// Grounded on the teacher's strategy.Inventory fill-accounting shape,
// generalized from YES/NO token legs to a single signed futures position.
func (w *SymbolWorker) applyFill(side types.Side, qty, price types.Amount) {
	scale := w.cfg.Constraints.QtyScale
	delta := qty.Rescale(scale).Value
	if side == types.SELL {
		delta = new(big.Int).Neg(delta)
	}

	prevSign := w.positionQty.Sign()
	newQty := new(big.Int).Add(w.positionQty, delta)

	switch {
	case prevSign == 0:
		w.avgEntryPrice = price
	case sameSign(prevSign, delta.Sign()):
		// adding to the position: weighted-average the entry price.
		w.avgEntryPrice = weightedAvg(w.avgEntryPrice, w.positionQty, price, delta, scale)
	default:
		// reducing or flipping: realize PnL on the closed portion.
		closed := new(big.Int).Set(delta)
		if new(big.Int).Abs(closed).Cmp(new(big.Int).Abs(w.positionQty)) > 0 {
			closed = new(big.Int).Neg(w.positionQty)
		}
		pnl := realizedPnl(w.avgEntryPrice, price, closed, scale, prevSign)
		if newQty.Sign() == 0 && w.reportRoundTrip != nil {
			w.reportRoundTrip(w.cfg.Symbol, pnl)
		}
		if newQty.Sign() != 0 && prevSign != newQty.Sign() {
			w.avgEntryPrice = price // flipped through flat, new side's entry is this fill
		}
	}
	w.positionQty = newQty
}

func sameSign(s int, v int) bool {
	if v == 0 {
		return true
	}
	return (s > 0) == (v > 0)
}

func weightedAvg(avg types.Amount, prevQty *big.Int, fillPrice types.Amount, delta *big.Int, scale int32) types.Amount {
	prevAbs := new(big.Int).Abs(prevQty)
	deltaAbs := new(big.Int).Abs(delta)
	total := new(big.Int).Add(prevAbs, deltaAbs)
	if total.Sign() == 0 {
		return fillPrice
	}
	avgAtScale := avg.Rescale(fillPrice.Scale)
	num := new(big.Int).Add(
		new(big.Int).Mul(avgAtScale.Value, prevAbs),
		new(big.Int).Mul(fillPrice.Value, deltaAbs),
	)
	num.Quo(num, total)
	return types.Amount{Value: num, Scale: fillPrice.Scale}
}

// realizedPnl computes (fillPrice-avgEntry)*closedQty, signed by the
// position's original direction (long profits on price up, short on down).
func realizedPnl(avgEntry, fillPrice types.Amount, closed *big.Int, scale int32, prevSign int) types.Amount {
	diff := fillPrice.Sub(avgEntry)
	qtyAbs := new(big.Int).Abs(closed)
	qtyAmt := types.Amount{Value: qtyAbs, Scale: scale}
	pnl := diff.Mul(qtyAmt)
	if prevSign < 0 {
		pnl.Value.Neg(pnl.Value)
	}
	return pnl
}

func (w *SymbolWorker) positionNotionalUsd() types.Amount {
	qty := types.Amount{Value: new(big.Int).Abs(w.positionQty), Scale: w.cfg.Constraints.QtyScale}
	return qty.Mul(w.lastMid)
}

// inventoryPctX1000 is a signed proxy for inventory skew: positive when
// net long, scaled so a position at the policy's implicit "full" size
// (one level's base size) reads as roughly 1000 (100%).
func (w *SymbolWorker) inventoryPctX1000() int64 {
	if len(w.lastPlanSizeSchedule()) == 0 {
		return 0
	}
	base := w.lastPlanSizeSchedule()[0]
	if base.IsZero() {
		return 0
	}
	qty := types.Amount{Value: w.positionQty, Scale: w.cfg.Constraints.QtyScale}
	num := new(big.Int).Mul(qty.Rescale(base.Scale).Value, big.NewInt(1000))
	den := base.Value
	if den.Sign() == 0 {
		return 0
	}
	return new(big.Int).Quo(num, den).Int64()
}

func (w *SymbolWorker) lastPlanSizeSchedule() []types.Amount {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastPlan.SizeSchedule
}

// depthProxy maps an L2 snapshot's InsufficientDepth flag onto the
// notional-USD scale regime.Classify expects, since the feature engine
// reports depth sufficiency rather than a raw dollar figure.
func depthProxy(l2 *types.L2FeatureSnapshot, depthMinUsd int64) int64 {
	if l2 == nil {
		return depthMinUsd * 2
	}
	if l2.InsufficientDepth {
		return 0
	}
	return depthMinUsd * 2
}

// updateMicrostructureProxies tracks the liquidation-surge input of the
// toxicity evaluator: 1000 after a ForceOrder print, reset to 0 by the
// first later tick that arrives more than 30s after the last print.
func (w *SymbolWorker) updateMicrostructureProxies(ev types.TickEvent) {
	if ev.Kind == types.EventForceOrder {
		w.lastForceOrderMs = ev.TsMs
		w.liquidationX1000 = 1000
		return
	}
	if w.lastForceOrderMs != 0 && ev.TsMs-w.lastForceOrderMs > 30_000 {
		w.liquidationX1000 = 0
	}
}

// toxicityComponents derives the evaluator's six weighted inputs from the
// feature snapshot. Several components are necessarily proxies: the feature
// engine does not carry true VPIN/Kyle-lambda/Amihud series, so each is
// approximated from the signals the engine does compute (L1 imbalance,
// spread, and realized volatility), documented per-field below.
func (w *SymbolWorker) toxicityComponents(snap types.FeatureSnapshot) toxicity.RawComponents {
	imbalance := snap.ImbalanceL1Bps
	ofiShock := imbalance - w.prevImbalanceBps
	w.prevImbalanceBps = imbalance

	return toxicity.RawComponents{
		VpinImbalanceX1000:     absI64(imbalance) * 1000 / 10000,
		KyleLambdaX1000:        absI64(snap.SpreadBps) * 1000 / 10000,
		AmihudIlliquidityX1000: snap.SumAbsReturnsBps * 1000 / 10000,
		SpreadWideningX1000:    snap.SpreadBps * 1000 / 10000,
		OfiShockX1000:          absI64(ofiShock) * 1000 / 10000,
		LiquidationSurgeX1000:  w.liquidationX1000,
	}
}

func absI64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// State returns the worker's current FSM state, for dashboard/metrics use.
func (w *SymbolWorker) State() types.FsmState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastFsmState
}

// LastPlan returns the most recently computed GridPlan.
func (w *SymbolWorker) LastPlan() types.GridPlan {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastPlan
}
