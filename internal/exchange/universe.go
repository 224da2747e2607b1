package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"grinder/internal/prefilter"
)

// tickerStat is the JSON shape of a single entry in the exchange's 24hr
// ticker-statistics endpoint.
type tickerStat struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	QuoteVolume        string `json:"quoteVolume"`        // 24h USD volume
	Count              int64  `json:"count"`               // 24h trade count
	WeightedAvgPrice   string `json:"weightedAvgPrice"`
	BidPrice           string `json:"bidPrice"`
	AskPrice           string `json:"askPrice"`
}

// openInterestStat is the JSON shape of a single entry in the exchange's
// open-interest endpoint.
type openInterestStat struct {
	Symbol       string `json:"symbol"`
	OpenInterest string `json:"openInterest"`
}

// Universe periodically polls the exchange's symbol-wide REST endpoints
// and turns the result into prefilter.Candidate rows, grounded on the
// teacher's market.Scanner poll-then-rank loop (internal/market/scanner.go)
// but adapted from a single-call Gamma market rank to the pair of calls
// (24hr ticker + open interest) a futures venue splits this data across,
// merged by symbol into the volume/open-interest fields internal/prefilter
// otherwise has no way to populate.
type Universe struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewUniverse creates a symbol-universe poller against baseURL.
func NewUniverse(baseURL string, logger *slog.Logger) *Universe {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	return &Universe{http: client, logger: logger.With("component", "universe")}
}

// Scan fetches 24hr ticker stats and open interest for every perpetual
// symbol and merges them into prefilter.Candidate rows. Candidates
// missing from one endpoint keep a zero value for that field rather than
// being dropped — the hard filter in prefilter.Selector.Select rejects
// them on its own thresholds.
func (u *Universe) Scan(ctx context.Context) ([]prefilter.Candidate, error) {
	var tickers []tickerStat
	tickerResp, err := u.http.R().SetContext(ctx).SetResult(&tickers).Get("/fapi/v1/ticker/24hr")
	if err != nil {
		return nil, fmt.Errorf("universe: fetch 24hr ticker: %w", err)
	}
	if tickerResp.IsError() {
		return nil, fmt.Errorf("universe: 24hr ticker status %d", tickerResp.StatusCode())
	}

	var oiRows []openInterestStat
	oiResp, err := u.http.R().SetContext(ctx).SetResult(&oiRows).Get("/fapi/v1/openInterest")
	if err != nil {
		u.logger.Warn("open interest fetch failed, continuing with zero OI", "error", err)
	} else if oiResp.IsError() {
		u.logger.Warn("open interest fetch non-2xx, continuing with zero OI", "status", oiResp.StatusCode())
	}
	oiBySymbol := make(map[string]int64, len(oiRows))
	for _, row := range oiRows {
		oiBySymbol[row.Symbol] = parseUsd(row.OpenInterest)
	}

	candidates := make([]prefilter.Candidate, 0, len(tickers))
	for _, t := range tickers {
		bid, _ := strconv.ParseFloat(t.BidPrice, 64)
		ask, _ := strconv.ParseFloat(t.AskPrice, 64)
		var spreadBps int64
		if bid > 0 && ask > 0 {
			spreadBps = int64((ask - bid) * 10_000 / ask)
		}
		vol := parseUsd(t.QuoteVolume)
		candidates = append(candidates, prefilter.Candidate{
			Symbol:       t.Symbol,
			SpreadBps:    spreadBps,
			Volume24h:    vol,
			Volume1h:     vol / 24,
			TradeCount1m: t.Count / (24 * 60),
			OpenInterest: oiBySymbol[t.Symbol],
		})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Symbol < candidates[j].Symbol })
	return candidates, nil
}

func parseUsd(s string) int64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(v)
}
