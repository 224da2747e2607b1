package store

import (
	"testing"
	"time"

	"grinder/pkg/types"
)

func TestSaveAndLoadBudget(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	today := time.Now().UTC().Format("2006-01-02")
	notional, _ := types.ParseAmount("1234.56", 2)
	b := BudgetState{OrdersToday: 7, NotionalTodayUsd: notional, DayStamp: today}

	if err := s.SaveBudget(b); err != nil {
		t.Fatalf("SaveBudget: %v", err)
	}

	loaded, err := s.LoadBudget(false)
	if err != nil {
		t.Fatalf("LoadBudget: %v", err)
	}
	if loaded.OrdersToday != 7 {
		t.Errorf("OrdersToday = %v, want 7", loaded.OrdersToday)
	}
	if loaded.NotionalTodayUsd.Cmp(notional) != 0 {
		t.Errorf("NotionalTodayUsd = %v, want %v", loaded.NotionalTodayUsd, notional)
	}
}

func TestLoadBudgetMissingReturnsZero(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	loaded, err := s.LoadBudget(false)
	if err != nil {
		t.Fatalf("LoadBudget: %v", err)
	}
	if loaded.OrdersToday != 0 || !loaded.NotionalTodayUsd.IsZero() {
		t.Errorf("expected zero budget, got %+v", loaded)
	}
}

func TestLoadBudgetResetsOnDayRollover(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	stale := BudgetState{OrdersToday: 99, NotionalTodayUsd: types.ZeroAmount(2), DayStamp: "2000-01-01"}
	if err := s.SaveBudget(stale); err != nil {
		t.Fatalf("SaveBudget: %v", err)
	}

	loaded, err := s.LoadBudget(false)
	if err != nil {
		t.Fatalf("LoadBudget: %v", err)
	}
	if loaded.OrdersToday != 0 {
		t.Errorf("expected budget reset across day rollover, got OrdersToday=%d", loaded.OrdersToday)
	}
}

func TestLoadBudgetExplicitReset(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	today := time.Now().UTC().Format("2006-01-02")
	_ = s.SaveBudget(BudgetState{OrdersToday: 12, NotionalTodayUsd: types.ZeroAmount(2), DayStamp: today})

	loaded, err := s.LoadBudget(true)
	if err != nil {
		t.Fatalf("LoadBudget: %v", err)
	}
	if loaded.OrdersToday != 0 {
		t.Errorf("expected --reset-budget to zero counters, got OrdersToday=%d", loaded.OrdersToday)
	}
}

func TestSaveAndLoadKillSwitch(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	latch := KillSwitchLatch{Active: true, Reason: "DD_BREACH", TrippedAt: 1700000000000}
	if err := s.SaveKillSwitch(latch); err != nil {
		t.Fatalf("SaveKillSwitch: %v", err)
	}

	loaded, err := s.LoadKillSwitch()
	if err != nil {
		t.Fatalf("LoadKillSwitch: %v", err)
	}
	if loaded != latch {
		t.Errorf("LoadKillSwitch = %+v, want %+v", loaded, latch)
	}
}

func TestLoadKillSwitchMissingIsCleared(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	loaded, err := s.LoadKillSwitch()
	if err != nil {
		t.Fatalf("LoadKillSwitch: %v", err)
	}
	if loaded.Active {
		t.Errorf("expected cleared latch on fresh store, got %+v", loaded)
	}
}
