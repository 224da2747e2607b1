package evidence

import (
	"encoding/json"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeComponent struct {
	Symbol string `json:"symbol"`
	Value  int64  `json:"value"`
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestWriteComponentDeterministicDigest(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	r1, err := NewRecorder(dir, true)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	r2, err := NewRecorder(dir, true)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	v := fakeComponent{Symbol: "BTCUSDT", Value: 42}
	d1, err := r1.WriteComponent("feature", v)
	if err != nil {
		t.Fatalf("WriteComponent: %v", err)
	}
	d2, err := r2.WriteComponent("feature", v)
	if err != nil {
		t.Fatalf("WriteComponent: %v", err)
	}
	if d1 != d2 {
		t.Errorf("digest not deterministic across runs: %q != %q", d1, d2)
	}

	data, err := os.ReadFile(filepath.Join(dir, r1.RunID(), "feature.json"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var roundTrip fakeComponent
	if err := json.Unmarshal(data, &roundTrip); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if roundTrip != v {
		t.Errorf("round-trip mismatch: %+v != %+v", roundTrip, v)
	}
}

func TestWriteComponentDisabledSkipsDisk(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	r, err := NewRecorder(dir, false)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	digest, err := r.WriteComponent("feature", fakeComponent{Symbol: "BTCUSDT", Value: 1})
	if err != nil {
		t.Fatalf("WriteComponent: %v", err)
	}
	if digest == "" {
		t.Error("expected a non-empty digest even when disabled")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no files written when disabled, found %v", entries)
	}
}

func TestComposeTickDigestOrderIndependent(t *testing.T) {
	t.Parallel()
	a := map[string]string{"feature": "abc", "policy": "def"}
	b := map[string]string{"policy": "def", "feature": "abc"}
	d1, err := ComposeTickDigest("BTCUSDT", 1000, a)
	if err != nil {
		t.Fatalf("ComposeTickDigest: %v", err)
	}
	d2, err := ComposeTickDigest("BTCUSDT", 1000, b)
	if err != nil {
		t.Fatalf("ComposeTickDigest: %v", err)
	}
	if d1 != d2 {
		t.Error("TickDigest hash should not depend on map insertion order")
	}
}

func TestCloseWritesSummaryAndChecksums(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	r, err := NewRecorder(dir, true)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	if _, err := r.WriteComponent("feature", fakeComponent{Symbol: "BTCUSDT", Value: 1}); err != nil {
		t.Fatalf("WriteComponent: %v", err)
	}
	if _, err := r.WriteComponent("policy", fakeComponent{Symbol: "BTCUSDT", Value: 2}); err != nil {
		t.Fatalf("WriteComponent: %v", err)
	}
	if err := r.Close(discardLogger()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sums, err := os.ReadFile(filepath.Join(dir, r.RunID(), "sha256sums.txt"))
	if err != nil {
		t.Fatalf("ReadFile sha256sums.txt: %v", err)
	}
	if !strings.Contains(string(sums), "feature.json") || !strings.Contains(string(sums), "policy.json") {
		t.Errorf("sha256sums.txt missing expected entries: %s", sums)
	}

	var found bool
	_ = filepath.WalkDir(filepath.Join(dir, r.RunID()), func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.Name() == "summary.txt" {
			found = true
		}
		return nil
	})
	if !found {
		t.Error("expected summary.txt in run directory")
	}
}
