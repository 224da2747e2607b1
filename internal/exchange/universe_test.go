package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestUniverseScanMergesTickerAndOpenInterest(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/ticker/24hr", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]tickerStat{
			{Symbol: "BTCUSDT", QuoteVolume: "2400000", Count: 2400, BidPrice: "100.00", AskPrice: "100.10"},
			{Symbol: "ETHUSDT", QuoteVolume: "1200000", Count: 1200, BidPrice: "50.00", AskPrice: "50.10"},
		})
	})
	mux.HandleFunc("/fapi/v1/openInterest", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]openInterestStat{
			{Symbol: "BTCUSDT", OpenInterest: "900000"},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	u := NewUniverse(srv.URL, testLogger())
	candidates, err := u.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("len(candidates) = %d, want 2", len(candidates))
	}

	bySymbol := make(map[string]int, len(candidates))
	for i, c := range candidates {
		bySymbol[c.Symbol] = i
	}

	btc := candidates[bySymbol["BTCUSDT"]]
	if btc.Volume24h != 2_400_000 {
		t.Errorf("BTCUSDT Volume24h = %d, want 2400000", btc.Volume24h)
	}
	if btc.OpenInterest != 900_000 {
		t.Errorf("BTCUSDT OpenInterest = %d, want 900000", btc.OpenInterest)
	}
	if btc.SpreadBps <= 0 {
		t.Errorf("BTCUSDT SpreadBps = %d, want > 0", btc.SpreadBps)
	}

	eth := candidates[bySymbol["ETHUSDT"]]
	if eth.OpenInterest != 0 {
		t.Errorf("ETHUSDT OpenInterest = %d, want 0 (absent from open-interest feed)", eth.OpenInterest)
	}
}

func TestUniverseScanToleratesOpenInterestFailure(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/ticker/24hr", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]tickerStat{
			{Symbol: "BTCUSDT", QuoteVolume: "100", Count: 24, BidPrice: "1", AskPrice: "1.01"},
		})
	})
	mux.HandleFunc("/fapi/v1/openInterest", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	u := NewUniverse(srv.URL, testLogger())
	candidates, err := u.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(candidates) != 1 || candidates[0].OpenInterest != 0 {
		t.Errorf("candidates = %+v, want one BTCUSDT row with zero OpenInterest", candidates)
	}
}

func TestUniverseScanPropagatesTickerFetchError(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/ticker/24hr", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	u := NewUniverse(srv.URL, testLogger())
	if _, err := u.Scan(context.Background()); err == nil {
		t.Error("expected an error when the 24hr ticker endpoint fails")
	}
}
