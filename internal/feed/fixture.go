package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"grinder/pkg/types"
)

// fixtureLine is the on-disk JSON-lines record shape: one TickEvent per
// line, in replay order. Amount fields round-trip through their canonical
// decimal-string MarshalJSON/UnmarshalJSON, so fixtures are plain text.
type fixtureLine struct {
	Kind       types.TickEventKind     `json:"kind"`
	Symbol     string                  `json:"symbol"`
	TsMs       int64                   `json:"ts_ms"`
	SeqHint    int64                   `json:"seq_hint"`
	AggTrade   *types.AggTradeEvent    `json:"agg_trade,omitempty"`
	BookTicker *types.BookTickerEvent  `json:"book_ticker,omitempty"`
	DepthDiff  *types.DepthDiffEvent   `json:"depth_diff,omitempty"`
	ForceOrder *types.ForceOrderEvent  `json:"force_order,omitempty"`
	MarkPrice  *types.MarkPriceEvent   `json:"mark_price,omitempty"`
	UserData   *types.UserDataEvent    `json:"user_data,omitempty"`
}

// FixtureFeed replays a recorded sequence of TickEvents from a JSON-lines
// file instead of a live WebSocket connection, so the whole engine can be
// driven deterministically for paper runs and evidence capture (§6
// --fixture). Pacing follows the recorded ts_ms deltas unless RealTime is
// false, in which case events are emitted as fast as the consumer drains
// them.
type FixtureFeed struct {
	path     string
	realTime bool
	events   chan types.TickEvent
	closed   chan struct{}
}

// NewFixtureFeed opens path lazily on Run; construction never touches disk
// so a bad path surfaces as a Run() error, matching WSFeed's Run-returns-
// error convention.
func NewFixtureFeed(path string, realTime bool) *FixtureFeed {
	return &FixtureFeed{
		path:     path,
		realTime: realTime,
		events:   make(chan types.TickEvent, eventBufferSize),
		closed:   make(chan struct{}),
	}
}

func (f *FixtureFeed) Events() <-chan types.TickEvent { return f.events }

// Subscribe is a no-op: a fixture file already carries whichever symbols it
// was recorded for.
func (f *FixtureFeed) Subscribe(ctx context.Context, symbols []string) error { return nil }

func (f *FixtureFeed) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

// Run streams every line of the fixture file onto Events() in order, then
// closes the channel. It returns nil on EOF (a fixture run finishing is not
// an error) and ctx.Err() if canceled mid-replay.
func (f *FixtureFeed) Run(ctx context.Context) error {
	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("fixture: open %s: %w", f.path, err)
	}
	defer file.Close()
	defer close(f.events)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lastTsMs int64
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var fl fixtureLine
		if err := json.Unmarshal(line, &fl); err != nil {
			return fmt.Errorf("fixture: decode line: %w", err)
		}

		if f.realTime && lastTsMs != 0 && fl.TsMs > lastTsMs {
			delay := time.Duration(fl.TsMs-lastTsMs) * time.Millisecond
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			case <-f.closed:
				return nil
			}
		}
		lastTsMs = fl.TsMs

		ev := types.TickEvent{
			Kind: fl.Kind, Symbol: fl.Symbol, TsMs: fl.TsMs, SeqHint: fl.SeqHint,
			AggTrade: fl.AggTrade, BookTicker: fl.BookTicker, DepthDiff: fl.DepthDiff,
			ForceOrder: fl.ForceOrder, MarkPrice: fl.MarkPrice, UserData: fl.UserData,
		}
		select {
		case f.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		case <-f.closed:
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("fixture: scan: %w", err)
	}
	return nil
}
