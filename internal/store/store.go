// Package store provides crash-safe persistence for the two bits of state
// GRINDER must survive a restart: the daily order/notional budget counters
// and the kill-switch latch. Writes use atomic file replacement (write to
// .tmp, then rename) so a crash mid-save never leaves a corrupt file.
// Grounded on the teacher's internal/store/store.go (same dir-backed,
// mutex-serialized, write-temp-then-rename pattern), generalized from one
// file per market's YES/NO position to one file per concern: budget state
// and kill-switch latch, each keyed by the strategy run rather than by
// market (§6 "Persisted state").
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"grinder/pkg/types"
)

const (
	budgetFile = "budget.json"
	latchFile  = "kill_switch.json"
)

// BudgetState is the daily order/notional counters, reset at UTC day
// rollover or on an explicit --reset-budget.
type BudgetState struct {
	OrdersToday      int64        `json:"orders_today"`
	NotionalTodayUsd types.Amount `json:"notional_today_usd_scaled"`
	DayStamp         string       `json:"day_stamp"` // YYYY-MM-DD, UTC
}

// KillSwitchLatch records a tripped kill switch so it survives a restart
// until an operator explicitly clears it.
type KillSwitchLatch struct {
	Active    bool   `json:"active"`
	Reason    string `json:"reason"`
	TrippedAt int64  `json:"tripped_at_ms"`
}

// Store persists budget and kill-switch state to JSON files in a
// designated directory. All operations are mutex-protected to prevent
// concurrent file corruption.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open creates a store backed by the given directory, creating it if
// necessary.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

func (s *Store) writeAtomic(name string, data []byte) error {
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return os.Rename(tmp, path)
}

// SaveBudget atomically persists today's order/notional counters.
func (s *Store) SaveBudget(b BudgetState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal budget: %w", err)
	}
	return s.writeAtomic(budgetFile, data)
}

// LoadBudget restores the budget state from disk, resetting it to a fresh
// zero state if the stamped day doesn't match today (UTC) or reset is
// requested explicitly (--reset-budget). Returns a fresh zero state, not
// an error, when no file exists yet.
func (s *Store) LoadBudget(reset bool) (BudgetState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := time.Now().UTC().Format("2006-01-02")
	zero := BudgetState{DayStamp: today, NotionalTodayUsd: types.ZeroAmount(2)}

	if reset {
		return zero, nil
	}

	path := filepath.Join(s.dir, budgetFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return zero, nil
		}
		return zero, fmt.Errorf("read budget: %w", err)
	}

	var b BudgetState
	if err := json.Unmarshal(data, &b); err != nil {
		return zero, fmt.Errorf("unmarshal budget: %w", err)
	}
	if b.DayStamp != today {
		return zero, nil
	}
	return b, nil
}

// SaveKillSwitch atomically persists the kill-switch latch.
func (s *Store) SaveKillSwitch(l KillSwitchLatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshal kill switch: %w", err)
	}
	return s.writeAtomic(latchFile, data)
}

// LoadKillSwitch restores the kill-switch latch. Returns a cleared latch,
// not an error, if no file exists yet (fresh install).
func (s *Store) LoadKillSwitch() (KillSwitchLatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, latchFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return KillSwitchLatch{}, nil
		}
		return KillSwitchLatch{}, fmt.Errorf("read kill switch: %w", err)
	}

	var l KillSwitchLatch
	if err := json.Unmarshal(data, &l); err != nil {
		return KillSwitchLatch{}, fmt.Errorf("unmarshal kill switch: %w", err)
	}
	return l, nil
}
