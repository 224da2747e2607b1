// Package prefilter selects and ranks the tradable symbol universe: hard
// filter, z-score composite scoring, enter/hold/rerank hysteresis timers,
// and a pairwise-correlation diversity cap (§4.4). Grounded on the
// teacher's internal/market/scanner.go poll-filter-rank-cap loop,
// generalized from a one-shot Gamma-market rank to a hysteresis-aware
// Top-K selector with the enter/hold timers and diversity cap the
// teacher's scanner does not implement.
package prefilter

import (
	"sort"
	"time"
)

// Config holds the hard-filter thresholds, scoring weights and timers.
type Config struct {
	SpreadMaxBps      int64 // SPREAD_MAX_BPS, default 15 per §9 open question
	VolMin24h         int64 // USD
	VolMin1h          int64 // USD
	TradeCountMin1m   int64
	OpenInterestMin   int64 // USD

	WeightActivityX1000   int64
	WeightVolatilityX1000 int64
	WeightCostX1000       int64
	WeightIdioX1000       int64

	TopK           int
	EnterHold      time.Duration // T_ENTER
	Hold           time.Duration // T_HOLD
	Rerank         time.Duration // T_RERANK
	MaxCorrelated  int
	CorrelationCap int64 // x1000, e.g. 800 == 0.8
}

// DefaultConfig returns spec-reasonable defaults.
func DefaultConfig() Config {
	return Config{
		SpreadMaxBps:    15,
		VolMin24h:       1_000_000,
		VolMin1h:        50_000,
		TradeCountMin1m: 5,
		OpenInterestMin: 500_000,

		WeightActivityX1000:   300,
		WeightVolatilityX1000: 300,
		WeightCostX1000:       200,
		WeightIdioX1000:       200,

		TopK:           20,
		EnterHold:      30 * time.Second,
		Hold:           5 * time.Minute,
		Rerank:         15 * time.Second,
		MaxCorrelated:  3,
		CorrelationCap: 800,
	}
}

// Candidate is one symbol's raw attributes for one scoring pass.
type Candidate struct {
	Symbol          string
	Sector          string
	SpreadBps       int64
	Volume24h       int64
	Volume1h        int64
	TradeCount1m    int64
	OpenInterest    int64
	Blacklisted     bool
	Delisting       bool
	ActivityZX1000  int64 // pre-computed z-scores, caller-supplied
	VolatilityZX1000 int64
	CostZX1000      int64
	IdioZX1000      int64
	// CorrelationX1000 maps another already-selected symbol to the
	// pairwise correlation (x1000) against this candidate.
	CorrelationX1000 map[string]int64
}

type timerState struct {
	firstSeenCandidate time.Time
	enabledAt          time.Time
	enabled            bool
}

// Selector owns the enter/hold timer state across rerank cycles. It is the
// single writer of this state (the one prefilter worker in §5).
type Selector struct {
	cfg    Config
	timers map[string]*timerState
}

// New creates a Selector.
func New(cfg Config) *Selector {
	return &Selector{cfg: cfg, timers: make(map[string]*timerState)}
}

// scored pairs a candidate with its composite score for ranking.
type scored struct {
	c     Candidate
	score int64
}

// Select runs one full filter->score->hysteresis->diversity pass and
// returns the Top-K symbol set for this rerank cycle.
func (s *Selector) Select(now time.Time, candidates []Candidate) []string {
	passed := s.hardFilter(candidates)
	ranked := s.score(passed)

	// Candidate set = ranked top 2K, used to gate enter_ts per §4.4 rule 3.
	candidateSetSize := s.cfg.TopK * 2
	if candidateSetSize > len(ranked) {
		candidateSetSize = len(ranked)
	}
	candidateSet := ranked[:candidateSetSize]

	s.advanceTimers(now, candidateSet)

	eligible := s.eligible(now)

	// Keep only eligible symbols, preserving rank order.
	var ordered []scored
	for _, r := range ranked {
		if _, ok := eligible[r.c.Symbol]; ok {
			ordered = append(ordered, r)
		}
	}

	selected := s.applyDiversityCap(ordered)
	if len(selected) > s.cfg.TopK {
		selected = selected[:s.cfg.TopK]
	}

	out := make([]string, len(selected))
	for i, sc := range selected {
		out[i] = sc.c.Symbol
	}
	return out
}

func (s *Selector) hardFilter(candidates []Candidate) []Candidate {
	var out []Candidate
	for _, c := range candidates {
		if c.Blacklisted || c.Delisting {
			continue
		}
		if c.SpreadBps > s.cfg.SpreadMaxBps {
			continue
		}
		if c.Volume24h < s.cfg.VolMin24h || c.Volume1h < s.cfg.VolMin1h {
			continue
		}
		if c.TradeCount1m < s.cfg.TradeCountMin1m {
			continue
		}
		if c.OpenInterest < s.cfg.OpenInterestMin {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (s *Selector) score(candidates []Candidate) []scored {
	out := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		score := s.cfg.WeightActivityX1000*c.ActivityZX1000 +
			s.cfg.WeightVolatilityX1000*c.VolatilityZX1000 -
			s.cfg.WeightCostX1000*c.CostZX1000 +
			s.cfg.WeightIdioX1000*c.IdioZX1000
		out = append(out, scored{c: c, score: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

func (s *Selector) advanceTimers(now time.Time, candidateSet []scored) {
	inSet := make(map[string]bool, len(candidateSet))
	for _, sc := range candidateSet {
		inSet[sc.c.Symbol] = true
		t, ok := s.timers[sc.c.Symbol]
		if !ok {
			t = &timerState{firstSeenCandidate: now}
			s.timers[sc.c.Symbol] = t
		}
		if !t.enabled && now.Sub(t.firstSeenCandidate) >= s.cfg.EnterHold {
			t.enabled = true
			t.enabledAt = now
		}
	}
	// Symbols that fell out of the candidate set reset their enter timer
	// (enabled symbols keep their timer and stay eligible).
	for sym, t := range s.timers {
		if !inSet[sym] && !t.enabled {
			delete(s.timers, sym)
		}
	}
}

// eligible returns the set of symbols currently allowed into Top-K: those
// whose enter timer has fired. Select applies no hold protection: an
// enabled symbol can leave the result at any rerank (hard filter,
// diversity cap or Top-K cut). CanDrop reports whether T_HOLD has elapsed
// since a symbol was enabled; no caller in this repository uses it.
func (s *Selector) eligible(now time.Time) map[string]bool {
	out := make(map[string]bool)
	for sym, t := range s.timers {
		if t.enabled {
			out[sym] = true
		}
	}
	return out
}

// CanDrop reports whether enough time (T_HOLD) has elapsed since symbol
// entered Top-K that it may now be dropped from the selection.
func (s *Selector) CanDrop(now time.Time, symbol string) bool {
	t, ok := s.timers[symbol]
	if !ok || !t.enabled {
		return true
	}
	return now.Sub(t.enabledAt) >= s.cfg.Hold
}

// applyDiversityCap enforces MAX_CORRELATED per sector and skips
// candidates with pairwise correlation above CorrelationCap to an
// already-selected symbol.
func (s *Selector) applyDiversityCap(ranked []scored) []scored {
	var selected []scored
	sectorCount := make(map[string]int)

	for _, sc := range ranked {
		if sectorCount[sc.c.Sector] >= s.cfg.MaxCorrelated {
			continue
		}
		correlated := false
		for _, pick := range selected {
			if corr, ok := sc.c.CorrelationX1000[pick.c.Symbol]; ok && corr > s.cfg.CorrelationCap {
				correlated = true
				break
			}
		}
		if correlated {
			continue
		}
		selected = append(selected, sc)
		sectorCount[sc.c.Sector]++
	}
	return selected
}
