package prefilter

import (
	"testing"
	"time"
)

func baseCandidate(symbol string) Candidate {
	return Candidate{
		Symbol: symbol, Sector: "L1",
		SpreadBps: 5, Volume24h: 2_000_000, Volume1h: 100_000,
		TradeCount1m: 10, OpenInterest: 1_000_000,
		ActivityZX1000: 500, VolatilityZX1000: 500, CostZX1000: 100, IdioZX1000: 0,
	}
}

func TestHardFilterExcludesBlacklisted(t *testing.T) {
	t.Parallel()

	s := New(DefaultConfig())
	c := baseCandidate("AAAUSDT")
	c.Blacklisted = true

	now := time.Now()
	got := s.Select(now, []Candidate{c})
	if len(got) != 0 {
		t.Fatalf("blacklisted candidate should never be selected, got %v", got)
	}
}

func TestEnterHoldDelaysSelection(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.EnterHold = time.Minute
	s := New(cfg)

	c := baseCandidate("AAAUSDT")
	now := time.Now()

	got := s.Select(now, []Candidate{c})
	if len(got) != 0 {
		t.Fatalf("candidate should not be selected before T_ENTER elapses, got %v", got)
	}

	later := now.Add(2 * time.Minute)
	got = s.Select(later, []Candidate{c})
	if len(got) != 1 || got[0] != "AAAUSDT" {
		t.Fatalf("candidate should be selected after T_ENTER elapses, got %v", got)
	}
}

func TestDiversityCapLimitsPerSector(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.EnterHold = 0
	cfg.MaxCorrelated = 1
	s := New(cfg)

	a := baseCandidate("AAAUSDT")
	b := baseCandidate("BBBUSDT")
	b.ActivityZX1000 = 400 // ranked below a

	now := time.Now()
	got := s.Select(now, []Candidate{a, b})
	if len(got) != 1 {
		t.Fatalf("sector cap of 1 should admit only one symbol, got %v", got)
	}
	if got[0] != "AAAUSDT" {
		t.Fatalf("higher-scored candidate should win the sector slot, got %v", got)
	}
}
