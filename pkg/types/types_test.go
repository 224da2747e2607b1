package types

import "testing"

func TestParseAmountRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in    string
		scale int32
		want  string
	}{
		{"64952.10", 2, "64952.1"},
		{"0.001", 3, "0.001"},
		{"100", 0, "100"},
	}

	for _, tt := range tests {
		a, err := ParseAmount(tt.in, tt.scale)
		if err != nil {
			t.Fatalf("ParseAmount(%q) error: %v", tt.in, err)
		}
		if got := a.String(); got != tt.want {
			t.Errorf("ParseAmount(%q).String() = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAmountArithmetic(t *testing.T) {
	t.Parallel()

	price, _ := ParseAmount("64952.10", 2)
	qty, _ := ParseAmount("0.002", 3)
	notional := price.Mul(qty)

	if got := notional.String(); got != "129.9042" {
		t.Errorf("notional = %s, want 129.9042", got)
	}
}

func TestAmountFloorToStep(t *testing.T) {
	t.Parallel()

	qty, _ := ParseAmount("0.0027", 4)
	step, _ := ParseAmount("0.001", 3)

	floored := qty.FloorToStep(step)
	if got := floored.String(); got != "0.002" {
		t.Errorf("FloorToStep = %s, want 0.002", got)
	}
}

func TestAmountModTick(t *testing.T) {
	t.Parallel()

	price, _ := ParseAmount("64952.15", 2)
	tick, _ := ParseAmount("0.10", 2)

	mod := price.ModTick(tick)
	if mod.IsZero() {
		t.Errorf("64952.15 mod 0.10 = %s, want nonzero (misaligned)", mod.String())
	}

	aligned, _ := ParseAmount("64952.10", 2)
	if m := aligned.ModTick(tick); !m.IsZero() {
		t.Errorf("64952.10 mod 0.10 = %s, want 0", m.String())
	}
}

func TestClampI64(t *testing.T) {
	t.Parallel()

	if got := ClampI64(5, 10, 20); got != 10 {
		t.Errorf("ClampI64(5,10,20) = %d, want 10", got)
	}
	if got := ClampI64(25, 10, 20); got != 20 {
		t.Errorf("ClampI64(25,10,20) = %d, want 20", got)
	}
	if got := ClampI64(15, 10, 20); got != 15 {
		t.Errorf("ClampI64(15,10,20) = %d, want 15", got)
	}
}

func TestEMAInt(t *testing.T) {
	t.Parallel()

	got := EMAInt(100, 200, 300) // alpha 0.3
	want := int64(130)
	if got != want {
		t.Errorf("EMAInt(100,200,300) = %d, want %d", got, want)
	}
}

func TestSelectMlSignal(t *testing.T) {
	t.Parallel()

	history := []MlSignalSnapshot{
		{TsMs: 100, SpacingMultiplierX1000: 1200},
		{TsMs: 200, SpacingMultiplierX1000: 1500},
	}

	got := SelectMlSignal(history, "BTCUSDT", 150)
	if got.SpacingMultiplierX1000 != 1200 {
		t.Errorf("SelectMlSignal(150) = %+v, want ts=100 snapshot", got)
	}

	none := SelectMlSignal(history, "BTCUSDT", 50)
	if none.SpacingMultiplierX1000 != 1000 {
		t.Errorf("SelectMlSignal(50) = %+v, want neutral default", none)
	}
}
