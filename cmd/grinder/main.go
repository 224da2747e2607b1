// Grinder — an adaptive grid-trading engine for perpetual-futures markets.
//
// Architecture:
//
//	main.go                 — entry point: loads config, wires the port/feed
//	                           pair the flags select, starts the engine, waits
//	                           for SIGINT/SIGTERM.
//	internal/engine          — orchestrator: one decision worker per symbol,
//	                           the top-K prefilter, the drawdown/kill-switch
//	                           risk worker.
//	internal/feature/regime/toxicity/policy/fsm/safety/router
//	                         — the per-symbol decision pipeline (§4 C2-C10).
//	internal/exchange        — REST port (HMAC-signed futures API) and the
//	                           in-memory NoopPort used for fixture/paper runs.
//	internal/feed            — live WebSocket feed and deterministic
//	                           JSON-lines fixture replay.
//	internal/reconcile       — account snapshot reconciliation.
//	internal/evidence        — canonical digests and evidence artifacts.
//	internal/metrics         — counter/gauge registry + /metrics, /health.
//	internal/store           — JSON file persistence for the daily budget
//	                           counters and the kill-switch latch.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"grinder/internal/config"
	"grinder/internal/engine"
	"grinder/internal/evidence"
	"grinder/internal/exchange"
	"grinder/internal/feed"
	"grinder/internal/metrics"
	"grinder/internal/risk"
	"grinder/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath       = pflag.String("config", envOr("GRINDER_CONFIG", "configs/config.yaml"), "path to config YAML")
		fixturePath      = pflag.String("fixture", "", "replay market events from a JSON-lines fixture file instead of the live feed")
		armed            = pflag.Bool("armed", false, "override config: allow the safety envelope to pass live intents through")
		exchangePortKind = pflag.String("exchange-port", "", "override the exchange port: noop|futures (default: noop with --fixture, futures otherwise)")
		mainnet          = pflag.Bool("mainnet", false, "override config: allow live order placement against the configured exchange")
		symbolsFlag      = pflag.String("symbols", "", "comma-separated symbol list, overriding config")
		paperSizeFlag    = pflag.String("paper-size-per-level", "", "override config: policy.paper_size_per_level")
		maxNotionalFlag  = pflag.String("max-notional-per-order", "", "override config: exchange.max_notional_per_order")
		metricsPortFlag  = pflag.Int("metrics-port", 0, "override config: metrics.port (0 = use config)")
		resetBudget      = pflag.Bool("reset-budget", false, "zero the persisted daily order/notional budget counters on startup")
		evidenceEnabled  = pflag.Bool("evidence", false, "persist canonical evidence artifacts under store.data_dir/evidence")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	applyFlagOverrides(cfg, *armed, *mainnet, *symbolsFlag, *paperSizeFlag, *maxNotionalFlag, *metricsPortFlag)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		return 1
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		return 1
	}
	defer st.Close()

	budget, err := st.LoadBudget(*resetBudget)
	if err != nil {
		logger.Error("failed to load budget state", "error", err)
		return 1
	}
	logger.Info("budget state loaded", "orders_today", budget.OrdersToday, "notional_today_usd", budget.NotionalTodayUsd.String(), "day_stamp", budget.DayStamp)

	latch, err := st.LoadKillSwitch()
	if err != nil {
		logger.Error("failed to load kill-switch latch", "error", err)
		return 1
	}

	port, mktFeed, err := buildPortAndFeed(*cfg, *exchangePortKind, *fixturePath, logger)
	if err != nil {
		logger.Error("failed to build exchange port/feed", "error", err)
		return 1
	}

	reg := metrics.New()

	rec, err := evidence.NewRecorder(cfg.Store.DataDir+"/evidence", *evidenceEnabled)
	if err != nil {
		logger.Error("failed to create evidence recorder", "error", err)
		return 1
	}

	eng, err := engine.New(*cfg, port, mktFeed, logger, reg, budget, rec)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		return 1
	}
	if latch.Active {
		eng.RestoreKillSwitch(risk.KillSwitchReason(latch.Reason))
		logger.Warn("KILL_SWITCH_TRIPPED", "reason", latch.Reason, "restored_from_disk", true)
	}

	metricsPort := cfg.Metrics.Port
	if metricsPort <= 0 {
		metricsPort = 9090
	}
	metricsSrv := metrics.NewServer(metricsPort, reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := metricsSrv.Run(ctx); err != nil {
			logger.Error("metrics server error", "error", err)
		}
	}()

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		return 1
	}

	logger.Info("grinder started",
		"run_id", rec.RunID(),
		"mode", cfg.Mode,
		"armed", cfg.Armed,
		"symbols", cfg.Symbols,
		"fixture", *fixturePath != "",
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("received shutdown signal")

	eng.Stop()
	cancel()

	saveState(st, eng, logger)
	if err := rec.Close(logger); err != nil {
		logger.Error("failed to finalize evidence artifacts", "error", err)
	}

	return 0
}

// applyFlagOverrides mutates cfg in place with any explicitly-set CLI flag,
// leaving the YAML value untouched when a flag is empty/zero — matching
// the teacher's env-overrides-file pattern in config.Load, one layer up.
func applyFlagOverrides(cfg *config.Config, armed, mainnet bool, symbols, paperSize, maxNotional string, metricsPort int) {
	if armed {
		cfg.Armed = true
	}
	if mainnet {
		cfg.Exchange.AllowMainnetTrade = true
	}
	if symbols != "" {
		cfg.Symbols = strings.Split(symbols, ",")
	}
	if paperSize != "" {
		cfg.Policy.PaperSizePerLevel = paperSize
	}
	if maxNotional != "" {
		cfg.Exchange.MaxNotionalPerOrder = maxNotional
	}
	if metricsPort > 0 {
		cfg.Metrics.Port = metricsPort
	}
}

// buildPortAndFeed resolves --exchange-port and --fixture into a concrete
// exchange.Port and feed.Feed pair. Fixture runs default to NoopPort
// (nothing to place live orders against); live runs default to
// FuturesPort.
func buildPortAndFeed(cfg config.Config, portKind, fixturePath string, logger *slog.Logger) (exchange.Port, feed.Feed, error) {
	if portKind == "" {
		if fixturePath != "" {
			portKind = "noop"
		} else {
			portKind = "futures"
		}
	}

	var port exchange.Port
	switch portKind {
	case "noop":
		port = exchange.NewNoopPort()
	case "futures":
		auth := exchange.NewAuth(cfg.Exchange.ApiKey, cfg.Exchange.Secret)
		exCfg := exchange.DefaultConfig(cfg.Exchange.BaseURL)
		exCfg.DryRun = !cfg.Exchange.AllowMainnetTrade
		exCfg.DeadlinePlaceMs = cfg.Exchange.DeadlinePlaceMs
		exCfg.DeadlineCancelMs = cfg.Exchange.DeadlineCancelMs
		exCfg.DeadlineFetchMs = cfg.Exchange.DeadlineFetchMs
		exCfg.MaxAttemptsPlace = cfg.Exchange.MaxAttemptsPlace
		exCfg.MaxAttemptsCancel = cfg.Exchange.MaxAttemptsCancel
		exCfg.MaxAttemptsFetch = cfg.Exchange.MaxAttemptsFetch
		exCfg.CircuitOpenFor = cfg.Exchange.CircuitOpenFor
		port = exchange.NewFuturesPort(exCfg, auth, logger)
	default:
		return nil, nil, fmt.Errorf("unknown --exchange-port %q (want noop|futures)", portKind)
	}

	var mf feed.Feed
	if fixturePath != "" {
		mf = feed.NewFixtureFeed(fixturePath, false)
	} else {
		mf = feed.NewMarketFeed(cfg.Exchange.WSURL, logger)
	}
	return port, mf, nil
}

// saveState persists the two pieces of process-restart-surviving state
// named in the risk/budget module: the daily order/notional budget and
// the kill-switch latch, both read from the engine's authoritative state.
func saveState(st *store.Store, eng *engine.Engine, logger *slog.Logger) {
	if err := st.SaveBudget(eng.BudgetSnapshot()); err != nil {
		logger.Error("failed to persist budget state", "error", err)
	}

	view := eng.GuardView()
	latch := store.KillSwitchLatch{
		Active: view.KillSwitchActive,
		Reason: string(view.KillSwitchReason),
	}
	if latch.Active {
		latch.TrippedAt = time.Now().UnixMilli()
	}
	if err := st.SaveKillSwitch(latch); err != nil {
		logger.Error("failed to persist kill-switch latch", "error", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
