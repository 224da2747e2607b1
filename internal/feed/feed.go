// Package feed implements the market-data and user-data WebSocket feeds for
// the futures exchange, normalizing raw stream payloads into
// types.TickEvent (§2 "Inbound event normalization"). Grounded on
// internal/exchange's prior ws.go (teacher's exponential-backoff
// auto-reconnect, ping loop, non-blocking dispatch pattern), split into its
// own package since feed adapters are a distinct concern from the order-
// entry REST port.
//
// Two independent feeds run concurrently:
//
//   - Market feed (public): a combined-stream connection subscribed to
//     aggTrade/bookTicker/depth/markPrice/forceOrder per symbol.
//
//   - User feed (authenticated): a listen-key-based stream carrying order
//     and account update events.
//
// Both feeds auto-reconnect with exponential backoff (1s -> 30s max) and
// re-subscribe to all tracked symbols on reconnection. A read deadline (90s)
// ensures silent server failures are detected within ~2 missed pings.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"grinder/internal/exchange"
	"grinder/pkg/types"
)

const (
	pingInterval     = 50 * time.Second // how often we send PING to keep alive
	readTimeout      = 90 * time.Second // ~2 missed pings triggers reconnect
	maxReconnectWait = 30 * time.Second // cap on exponential backoff
	writeTimeout     = 10 * time.Second // deadline for outgoing messages
	eventBufferSize  = 1024             // buffer for the normalized event channel
)

// Feed is the minimal surface the engine needs from a market-data source,
// satisfied both by WSFeed (live exchange connection) and FixtureFeed
// (deterministic JSON-lines replay for paper/backtest runs).
type Feed interface {
	Events() <-chan types.TickEvent
	Run(ctx context.Context) error
	Subscribe(ctx context.Context, symbols []string) error
	Close() error
}

// WSFeed manages a single WebSocket connection (market or user channel).
// It handles connection lifecycle, subscription tracking, message routing,
// and automatic reconnection with exponential backoff.
type WSFeed struct {
	url         string
	conn        *websocket.Conn
	connMu      sync.Mutex // protects conn reads/writes
	channelType string     // "market" or "user"

	subscribedMu sync.RWMutex
	subscribed   map[string]bool // symbols (market) or listen key (user)

	events chan types.TickEvent

	logger *slog.Logger
}

// NewMarketFeed creates a WebSocket feed for the public combined-stream
// channel.
func NewMarketFeed(wsURL string, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:         wsURL,
		channelType: "market",
		subscribed:  make(map[string]bool),
		events:      make(chan types.TickEvent, eventBufferSize),
		logger:      logger.With("component", "ws_market"),
	}
}

// NewUserFeed creates a WebSocket feed for the authenticated user-data
// stream, identified by a REST-obtained listen key.
func NewUserFeed(wsURL, listenKey string, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:         wsURL + "/" + listenKey,
		channelType: "user",
		subscribed:  map[string]bool{listenKey: true},
		events:      make(chan types.TickEvent, eventBufferSize),
		logger:      logger.With("component", "ws_user"),
	}
}

// Events returns a read-only channel of normalized tick events.
func (f *WSFeed) Events() <-chan types.TickEvent { return f.events }

// Run connects and maintains the WebSocket connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Subscribe adds symbols to the market channel's combined stream.
func (f *WSFeed) Subscribe(ctx context.Context, symbols []string) error {
	if f.channelType != "market" {
		return fmt.Errorf("subscribe: only valid on market channel")
	}
	f.subscribedMu.Lock()
	for _, s := range symbols {
		f.subscribed[strings.ToLower(s)] = true
	}
	f.subscribedMu.Unlock()

	streams := f.streamNames()
	return f.writeJSON(map[string]any{
		"method": "SUBSCRIBE",
		"params": streams,
		"id":     time.Now().UnixMilli(),
	})
}

// Unsubscribe removes symbols from the market channel.
func (f *WSFeed) Unsubscribe(ctx context.Context, symbols []string) error {
	if f.channelType != "market" {
		return fmt.Errorf("unsubscribe: only valid on market channel")
	}
	f.subscribedMu.Lock()
	for _, s := range symbols {
		delete(f.subscribed, strings.ToLower(s))
	}
	f.subscribedMu.Unlock()
	return nil
}

// Close gracefully closes the connection.
func (f *WSFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *WSFeed) streamNames() []string {
	f.subscribedMu.RLock()
	defer f.subscribedMu.RUnlock()
	streams := make([]string, 0, len(f.subscribed)*4)
	for sym := range f.subscribed {
		streams = append(streams,
			sym+"@aggTrade",
			sym+"@bookTicker",
			sym+"@depth@100ms",
			sym+"@markPrice@1s",
			sym+"@forceOrder",
		)
	}
	return streams
}

func (f *WSFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if f.channelType == "market" {
		if streams := f.streamNames(); len(streams) > 0 {
			if err := f.writeJSON(map[string]any{
				"method": "SUBSCRIBE",
				"params": streams,
				"id":     time.Now().UnixMilli(),
			}); err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}
		}
	}

	f.logger.Info("websocket connected", "channel", f.channelType)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

// combinedEnvelope is the wrapper Binance-style combined streams use:
// {"stream": "btcusdt@aggTrade", "data": {...}}.
type combinedEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

func (f *WSFeed) dispatchMessage(data []byte) {
	if f.channelType == "user" {
		f.dispatchUserEvent(data)
		return
	}

	var env combinedEnvelope
	payload := data
	if err := json.Unmarshal(data, &env); err == nil && env.Stream != "" {
		payload = env.Data
	}

	var peek struct {
		EventType string `json:"e"`
	}
	if err := json.Unmarshal(payload, &peek); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	now := time.Now().UnixMilli()
	switch peek.EventType {
	case "aggTrade":
		var raw struct {
			Symbol  string `json:"s"`
			Price   string `json:"p"`
			Qty     string `json:"q"`
			Maker   bool   `json:"m"`
			TradeID int64  `json:"a"`
		}
		if err := json.Unmarshal(payload, &raw); err != nil {
			f.logger.Error("unmarshal aggTrade", "error", err)
			return
		}
		price, _ := types.ParseAmount(raw.Price, 8)
		qty, _ := types.ParseAmount(raw.Qty, 8)
		// isBuyerMaker=true means the taker (aggressor) sold into the bid.
		side := types.BUY
		if raw.Maker {
			side = types.SELL
		}
		f.emit(types.TickEvent{
			Kind: types.EventAggTrade, Symbol: raw.Symbol, TsMs: now,
			AggTrade: &types.AggTradeEvent{Price: price, Qty: qty, Side: side, TradeID: raw.TradeID},
		})

	case "bookTicker":
		var raw struct {
			Symbol   string `json:"s"`
			BidPrice string `json:"b"`
			BidQty   string `json:"B"`
			AskPrice string `json:"a"`
			AskQty   string `json:"A"`
		}
		if err := json.Unmarshal(payload, &raw); err != nil {
			f.logger.Error("unmarshal bookTicker", "error", err)
			return
		}
		bidP, _ := types.ParseAmount(raw.BidPrice, 8)
		bidQ, _ := types.ParseAmount(raw.BidQty, 8)
		askP, _ := types.ParseAmount(raw.AskPrice, 8)
		askQ, _ := types.ParseAmount(raw.AskQty, 8)
		f.emit(types.TickEvent{
			Kind: types.EventBookTicker, Symbol: raw.Symbol, TsMs: now,
			BookTicker: &types.BookTickerEvent{BidPrice: bidP, BidQty: bidQ, AskPrice: askP, AskQty: askQ},
		})

	case "depthUpdate":
		var raw struct {
			Symbol  string      `json:"s"`
			FirstID int64       `json:"U"`
			FinalID int64       `json:"u"`
			Bids    [][2]string `json:"b"`
			Asks    [][2]string `json:"a"`
		}
		if err := json.Unmarshal(payload, &raw); err != nil {
			f.logger.Error("unmarshal depthUpdate", "error", err)
			return
		}
		f.emit(types.TickEvent{
			Kind: types.EventDepthDiff, Symbol: raw.Symbol, TsMs: now,
			DepthDiff: &types.DepthDiffEvent{
				FirstUpdateID: raw.FirstID,
				FinalUpdateID: raw.FinalID,
				Bids:          levelsFrom(raw.Bids),
				Asks:          levelsFrom(raw.Asks),
			},
		})

	case "markPriceUpdate":
		var raw struct {
			Symbol      string `json:"s"`
			MarkPrice   string `json:"p"`
			IndexPrice  string `json:"i"`
			FundingRate string `json:"r"`
			NextFunding int64  `json:"T"`
		}
		if err := json.Unmarshal(payload, &raw); err != nil {
			f.logger.Error("unmarshal markPriceUpdate", "error", err)
			return
		}
		mark, _ := types.ParseAmount(raw.MarkPrice, 8)
		index, _ := types.ParseAmount(raw.IndexPrice, 8)
		rateX1e6 := fundingRateX1e6(raw.FundingRate)
		f.emit(types.TickEvent{
			Kind: types.EventMarkPrice, Symbol: raw.Symbol, TsMs: now,
			MarkPrice: &types.MarkPriceEvent{MarkPrice: mark, IndexPrice: index, FundingRateX1e6: rateX1e6, NextFundingMs: raw.NextFunding},
		})

	case "forceOrder":
		var raw struct {
			Order struct {
				Symbol string `json:"s"`
				Side   string `json:"S"`
				Price  string `json:"p"`
				Qty    string `json:"q"`
			} `json:"o"`
		}
		if err := json.Unmarshal(payload, &raw); err != nil {
			f.logger.Error("unmarshal forceOrder", "error", err)
			return
		}
		price, _ := types.ParseAmount(raw.Order.Price, 8)
		qty, _ := types.ParseAmount(raw.Order.Qty, 8)
		f.emit(types.TickEvent{
			Kind: types.EventForceOrder, Symbol: raw.Order.Symbol, TsMs: now,
			ForceOrder: &types.ForceOrderEvent{Side: types.Side(raw.Order.Side), Price: price, Qty: qty},
		})

	default:
		f.logger.Debug("unknown ws event type", "type", peek.EventType)
	}
}

func (f *WSFeed) dispatchUserEvent(data []byte) {
	var raw struct {
		EventType string `json:"e"`
		Order     struct {
			Symbol        string `json:"s"`
			ClientID      string `json:"c"`
			OrderID       int64  `json:"i"`
			Status        string `json:"X"`
			FilledQty     string `json:"z"`
			LastFillPrice string `json:"L"`
			RealizedPnL   string `json:"rp"`
		} `json:"o"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		f.logger.Debug("ignoring non-json user event", "data", string(data))
		return
	}
	if raw.EventType != "ORDER_TRADE_UPDATE" {
		f.logger.Debug("ignoring user event", "type", raw.EventType)
		return
	}

	filled, _ := types.ParseAmount(raw.Order.FilledQty, 8)
	fillPrice, _ := types.ParseAmount(raw.Order.LastFillPrice, 8)
	pnl, _ := types.ParseAmount(raw.Order.RealizedPnL, 8)
	f.emit(types.TickEvent{
		Kind: types.EventUserData, Symbol: raw.Order.Symbol, TsMs: time.Now().UnixMilli(),
		UserData: &types.UserDataEvent{
			EventKind:   raw.EventType,
			ClientID:    raw.Order.ClientID,
			OrderID:     strconv.FormatInt(raw.Order.OrderID, 10),
			Status:      exchange.MapStatus(raw.Order.Status),
			FilledQty:   filled,
			FillPrice:   fillPrice,
			RealizedPnL: pnl,
		},
	})
}

func (f *WSFeed) emit(evt types.TickEvent) {
	select {
	case f.events <- evt:
	default:
		f.logger.Warn("event channel full, dropping event", "kind", evt.Kind, "symbol", evt.Symbol)
	}
}

func levelsFrom(raw [][2]string) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		price, _ := types.ParseAmount(pair[0], 8)
		qty, _ := types.ParseAmount(pair[1], 8)
		out = append(out, types.PriceLevel{Price: price, Qty: qty})
	}
	return out
}

// fundingRateX1e6 parses a decimal funding rate string (e.g. "0.0001") into
// an integer scaled by 1,000,000, matching MarkPriceEvent's fixed-point
// convention.
func fundingRateX1e6(s string) int64 {
	amt, err := types.ParseAmount(s, 6)
	if err != nil {
		return 0
	}
	return amt.Value.Int64()
}

func (f *WSFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.PingMessage, nil); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *WSFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *WSFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
