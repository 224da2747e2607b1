// Package exchange implements the futures-exchange REST client: an HMAC
// signed resty-based client with idempotent order placement, a per-category
// rate limiter, jittered-backoff retry, and a sustained-5xx/429 circuit
// breaker, grounded on the teacher's internal/exchange/client.go (resty
// wrapping, rate-limit-then-request-then-status-check pattern) generalized
// from Polymarket's CLOB endpoints to a Binance-style futures REST surface.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"grinder/pkg/types"
)

// Deadlines and retry tuning per endpoint category (§4.11).
type Config struct {
	BaseURL           string
	DryRun            bool
	DeadlinePlaceMs   int
	DeadlineCancelMs  int
	DeadlineFetchMs   int
	MaxAttemptsPlace  int
	MaxAttemptsCancel int
	MaxAttemptsFetch  int
	CircuitOpenFor    time.Duration
}

func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:           baseURL,
		DeadlinePlaceMs:   2000,
		DeadlineCancelMs:  2000,
		DeadlineFetchMs:   3000,
		MaxAttemptsPlace:  3,
		MaxAttemptsCancel: 3,
		MaxAttemptsFetch:  3,
		CircuitOpenFor:    5 * time.Minute,
	}
}

// FuturesPort is the live/dry-run implementation of Port against a
// Binance-style USDT-margined perpetual-futures REST API.
type FuturesPort struct {
	cfg    Config
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	logger *slog.Logger

	mu          sync.RWMutex
	constraints map[string]types.SymbolConstraints
	idempotency map[string]types.OrderAck

	breakerMu    sync.Mutex
	consecutive5xx int
	breakerUntil   time.Time
}

// NewFuturesPort creates a REST client with rate limiting, retry and HMAC
// signing. dryRun, if true, makes every mutating call return a synthetic
// ack without any network I/O (§4.11 "Dry-run mode").
func NewFuturesPort(cfg Config, auth *Auth, logger *slog.Logger) *FuturesPort {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(time.Duration(cfg.DeadlineFetchMs) * time.Millisecond).
		SetHeader("Content-Type", "application/x-www-form-urlencoded")

	return &FuturesPort{
		cfg:         cfg,
		http:        httpClient,
		auth:        auth,
		rl:          NewRateLimiter(),
		logger:      logger.With("component", "exchange_port"),
		constraints: make(map[string]types.SymbolConstraints),
		idempotency: make(map[string]types.OrderAck),
	}
}

// SetSymbolConstraints caches exchange-reported precision rules, normally
// populated from an exchangeInfo bootstrap call.
func (p *FuturesPort) SetSymbolConstraints(c types.SymbolConstraints) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.constraints[c.Symbol] = c
}

func (p *FuturesPort) SymbolConstraints(symbol string) (types.SymbolConstraints, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.constraints[symbol]
	return c, ok
}

// Place submits an order idempotently: a repeated ClientID returns the
// prior ack without re-issuing the request (§4.11 "Idempotency").
func (p *FuturesPort) Place(req types.OrderRequest) (types.OrderAck, PortOutcome, error) {
	if ack, ok := p.cachedAck(req.ClientID); ok {
		return ack, Ok, nil
	}
	if p.cfg.DryRun {
		ack := types.OrderAck{ClientID: req.ClientID, OrderID: "dry-" + req.ClientID, Status: types.OrderNew, Accepted: true}
		p.storeAck(req.ClientID, ack)
		return ack, Ok, nil
	}
	if open, reason := p.breakerOpen(); open {
		return types.OrderAck{}, Retryable, fmt.Errorf("place: %s", reason)
	}

	params := url.Values{
		"symbol":      {req.Symbol},
		"side":        {string(req.Side)},
		"type":        {string(req.Type)},
		"timeInForce": {string(req.TIF)},
		"price":       {req.Price.String()},
		"quantity":    {req.Qty.String()},
		"newClientOrderId": {req.ClientID},
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}

	var result struct {
		OrderID int64  `json:"orderId"`
		Status  string `json:"status"`
	}
	outcome, err := p.doSigned(context.Background(), "POST", "/fapi/v1/order", params,
		time.Duration(p.cfg.DeadlinePlaceMs)*time.Millisecond, p.cfg.MaxAttemptsPlace, p.rl.Order, &result)
	if err != nil {
		return types.OrderAck{}, outcome, err
	}

	ack := types.OrderAck{
		ClientID: req.ClientID,
		OrderID:  strconv.FormatInt(result.OrderID, 10),
		Status:   MapStatus(result.Status),
		Accepted: true,
	}
	p.storeAck(req.ClientID, ack)
	return ack, Ok, nil
}

// Cancel cancels a resting order by client id.
func (p *FuturesPort) Cancel(clientID string) (types.OrderAck, PortOutcome, error) {
	if p.cfg.DryRun {
		return types.OrderAck{ClientID: clientID, Status: types.OrderCanceled, Accepted: true}, Ok, nil
	}
	if open, reason := p.breakerOpen(); open {
		return types.OrderAck{}, Retryable, fmt.Errorf("cancel: %s", reason)
	}

	params := url.Values{"origClientOrderId": {clientID}}
	var result struct {
		Status string `json:"status"`
	}
	outcome, err := p.doSigned(context.Background(), "DELETE", "/fapi/v1/order", params,
		time.Duration(p.cfg.DeadlineCancelMs)*time.Millisecond, p.cfg.MaxAttemptsCancel, p.rl.Cancel, &result)
	if err != nil {
		return types.OrderAck{}, outcome, err
	}
	return types.OrderAck{ClientID: clientID, Status: MapStatus(result.Status), Accepted: true}, Ok, nil
}

// Amend modifies a resting order's price/qty in place. Some futures
// exchanges lack a native amend endpoint; callers should check a
// capability flag before offering AMEND (I6) and fall back to cancel+place.
func (p *FuturesPort) Amend(clientID string, price, qty types.Amount) (types.OrderAck, PortOutcome, error) {
	if p.cfg.DryRun {
		return types.OrderAck{ClientID: clientID, Status: types.OrderNew, Accepted: true}, Ok, nil
	}
	if open, reason := p.breakerOpen(); open {
		return types.OrderAck{}, Retryable, fmt.Errorf("amend: %s", reason)
	}

	params := url.Values{
		"origClientOrderId": {clientID},
		"price":             {price.String()},
		"quantity":          {qty.String()},
	}
	var result struct {
		Status string `json:"status"`
	}
	outcome, err := p.doSigned(context.Background(), "PUT", "/fapi/v1/order", params,
		time.Duration(p.cfg.DeadlinePlaceMs)*time.Millisecond, p.cfg.MaxAttemptsPlace, p.rl.Order, &result)
	if err != nil {
		return types.OrderAck{}, outcome, err
	}
	return types.OrderAck{ClientID: clientID, Status: MapStatus(result.Status), Accepted: true}, Ok, nil
}

func (p *FuturesPort) FetchOpenOrders(symbol string) ([]types.OrderRecord, PortOutcome, error) {
	if p.cfg.DryRun {
		return nil, Ok, nil
	}
	if open, reason := p.breakerOpen(); open {
		return nil, Retryable, fmt.Errorf("fetch_open_orders: %s", reason)
	}

	var raw []struct {
		ClientID string `json:"clientOrderId"`
		Symbol   string `json:"symbol"`
		Side     string `json:"side"`
		Price    string `json:"price"`
		OrigQty  string `json:"origQty"`
		ExecQty  string `json:"executedQty"`
		Status   string `json:"status"`
	}
	outcome, err := p.doSigned(context.Background(), "GET", "/fapi/v1/openOrders", url.Values{"symbol": {symbol}},
		time.Duration(p.cfg.DeadlineFetchMs)*time.Millisecond, p.cfg.MaxAttemptsFetch, p.rl.Fetch, &raw)
	if err != nil {
		return nil, outcome, err
	}

	out := make([]types.OrderRecord, 0, len(raw))
	for _, r := range raw {
		price, _ := types.ParseAmount(r.Price, 8)
		qty, _ := types.ParseAmount(r.OrigQty, 8)
		filled, _ := types.ParseAmount(r.ExecQty, 8)
		out = append(out, types.OrderRecord{
			ClientID:  r.ClientID,
			Symbol:    r.Symbol,
			Side:      types.Side(r.Side),
			Price:     price,
			Qty:       qty,
			FilledQty: filled,
			Status:    MapStatus(r.Status),
		})
	}
	return out, Ok, nil
}

func (p *FuturesPort) FetchPositions(symbol string) ([]types.PositionSnap, PortOutcome, error) {
	if p.cfg.DryRun {
		return nil, Ok, nil
	}
	if open, reason := p.breakerOpen(); open {
		return nil, Retryable, fmt.Errorf("fetch_positions: %s", reason)
	}

	var raw []struct {
		Symbol        string `json:"symbol"`
		PositionAmt   string `json:"positionAmt"`
		EntryPrice    string `json:"entryPrice"`
		MarkPrice     string `json:"markPrice"`
		UnrealizedPnl string `json:"unRealizedProfit"`
	}
	outcome, err := p.doSigned(context.Background(), "GET", "/fapi/v2/positionRisk", url.Values{"symbol": {symbol}},
		time.Duration(p.cfg.DeadlineFetchMs)*time.Millisecond, p.cfg.MaxAttemptsFetch, p.rl.Fetch, &raw)
	if err != nil {
		return nil, outcome, err
	}

	out := make([]types.PositionSnap, 0, len(raw))
	for _, r := range raw {
		qty, _ := types.ParseAmount(r.PositionAmt, 8)
		side := types.BUY
		if qty.Sign() < 0 {
			side = types.SELL
		}
		entry, _ := types.ParseAmount(r.EntryPrice, 8)
		mark, _ := types.ParseAmount(r.MarkPrice, 8)
		pnl, _ := types.ParseAmount(r.UnrealizedPnl, 8)
		out = append(out, types.PositionSnap{Symbol: r.Symbol, Side: side, Qty: qty, EntryPrice: entry, MarkPrice: mark, UnrealizedPnL: pnl})
	}
	return out, Ok, nil
}

func (p *FuturesPort) FetchAccountSnapshot() (types.AccountSnapshot, PortOutcome, error) {
	if p.cfg.DryRun {
		return types.AccountSnapshot{TsMs: time.Now().UnixMilli()}, Ok, nil
	}
	if open, reason := p.breakerOpen(); open {
		return types.AccountSnapshot{}, Retryable, fmt.Errorf("fetch_account_snapshot: %s", reason)
	}

	var raw struct {
		TotalWalletBalance string `json:"totalWalletBalance"`
	}
	outcome, err := p.doSigned(context.Background(), "GET", "/fapi/v2/account", url.Values{},
		time.Duration(p.cfg.DeadlineFetchMs)*time.Millisecond, p.cfg.MaxAttemptsFetch, p.rl.Fetch, &raw)
	if err != nil {
		return types.AccountSnapshot{}, outcome, err
	}

	equity, _ := types.ParseAmount(raw.TotalWalletBalance, 8)
	snap := types.AccountSnapshot{TsMs: time.Now().UnixMilli(), EquityUsd: equity}
	snap.Canonicalize()
	return snap, Ok, nil
}

// doSigned issues one HMAC-signed request with rate limiting, jittered
// exponential backoff across maxAttempts, and circuit-breaker bookkeeping.
func (p *FuturesPort) doSigned(ctx context.Context, method, path string, params url.Values, deadline time.Duration, maxAttempts int, bucket *TokenBucket, result any) (PortOutcome, error) {
	if err := bucket.Wait(ctx); err != nil {
		return Retryable, fmt.Errorf("rate limit wait: %w", err)
	}

	signed, err := p.auth.Sign(params)
	if err != nil {
		return Fatal, err
	}
	apiKeyHeader, apiKeyVal := p.auth.ApiKeyHeader()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, deadline)
		resp, err := p.http.R().
			SetContext(reqCtx).
			SetHeader(apiKeyHeader, apiKeyVal).
			SetQueryParamsFromValues(signed).
			SetResult(result).
			Execute(method, path)
		cancel()

		if err != nil {
			lastErr = err
			p.recordFailure(false)
			p.backoff(attempt)
			continue
		}
		if resp.StatusCode() == http.StatusOK {
			p.recordSuccess()
			return Ok, nil
		}
		if resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500 {
			lastErr = fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode(), resp.String())
			p.recordFailure(true)
			p.backoff(attempt)
			continue
		}
		// 4xx other than 429 is not retryable.
		p.recordSuccess()
		return Fatal, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode(), resp.String())
	}
	return Retryable, fmt.Errorf("%s %s: exhausted %d attempts: %w", method, path, maxAttempts, lastErr)
}

func (p *FuturesPort) backoff(attempt int) {
	base := time.Duration(1<<attempt) * 100 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(base)))
	time.Sleep(base + jitter)
}

func (p *FuturesPort) recordFailure(serverSide bool) {
	if !serverSide {
		return
	}
	p.breakerMu.Lock()
	defer p.breakerMu.Unlock()
	p.consecutive5xx++
	if p.consecutive5xx >= 5 {
		p.breakerUntil = time.Now().Add(p.cfg.CircuitOpenFor)
		p.logger.Error("PORT_CIRCUIT_OPEN", "consecutive_failures", p.consecutive5xx)
	}
}

func (p *FuturesPort) recordSuccess() {
	p.breakerMu.Lock()
	defer p.breakerMu.Unlock()
	p.consecutive5xx = 0
}

func (p *FuturesPort) breakerOpen() (bool, string) {
	p.breakerMu.Lock()
	defer p.breakerMu.Unlock()
	if time.Now().Before(p.breakerUntil) {
		return true, "PORT_CIRCUIT_OPEN"
	}
	return false, ""
}

func (p *FuturesPort) cachedAck(clientID string) (types.OrderAck, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ack, ok := p.idempotency[clientID]
	return ack, ok
}

func (p *FuturesPort) storeAck(clientID string, ack types.OrderAck) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idempotency[clientID] = ack
}

// MapStatus translates an exchange-reported order status string into the
// closed OrderStatus enum, defaulting unknown values to NEW.
func MapStatus(s string) types.OrderStatus {
	switch s {
	case "NEW":
		return types.OrderNew
	case "PARTIALLY_FILLED":
		return types.OrderPartiallyFilled
	case "FILLED":
		return types.OrderFilled
	case "CANCELED", "CANCELLED":
		return types.OrderCanceled
	case "REJECTED":
		return types.OrderRejected
	case "EXPIRED":
		return types.OrderExpired
	default:
		return types.OrderNew
	}
}
