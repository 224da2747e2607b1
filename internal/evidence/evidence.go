// Package evidence implements the determinism/evidence substrate (C14):
// every decision is a pure function of an ordered event prefix plus frozen
// config, so the engine can compose a canonical per-tick digest and, when
// enabled, persist artifacts proving what it decided and why. Grounded on
// internal/store.Store's atomic write-temp-then-rename discipline and on
// internal/reconcile's canonical-JSON + SHA-256 digesting, generalized from
// one snapshot type to an arbitrary named set of per-component records.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Recorder accumulates component digests for the run and, on Close,
// flushes a summary + checksum manifest that ties every written artifact
// back to the run id logged via EVIDENCE_REF.
type Recorder struct {
	dir     string
	runID   string
	enabled bool

	mu      sync.Mutex
	digests map[string]string // relative filename -> sha256 hex
}

// NewRecorder creates (or reuses) dir/<runID>/ as the artifact directory
// for this run. enabled=false skips every artifact write (WriteComponent
// still computes and returns digests, RunID still reports the id),
// matching spec.md's "when enabled" qualifier on artifact writing without
// branching at every call site.
func NewRecorder(baseDir string, enabled bool) (*Recorder, error) {
	runID := uuid.New().String()
	r := &Recorder{
		dir:     filepath.Join(baseDir, runID),
		runID:   runID,
		enabled: enabled,
		digests: make(map[string]string),
	}
	if !enabled {
		return r, nil
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, fmt.Errorf("evidence: create run dir: %w", err)
	}
	return r, nil
}

// RunID returns the UUID identifying this run's evidence artifacts.
func (r *Recorder) RunID() string { return r.runID }

func (r *Recorder) writeAtomic(name string, data []byte) error {
	path := filepath.Join(r.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("evidence: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("evidence: rename %s: %w", tmp, err)
	}
	return nil
}

// Digest returns the canonical sha256 hex digest of v's JSON encoding. v's
// type must use a fixed field order; map fields are fine because
// encoding/json sorts map keys, so the digest is reproducible across runs
// of an identical event prefix.
func Digest(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("evidence: marshal: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// WriteComponent serializes v as canonical JSON under name+".json" and
// records its digest for the final checksum manifest. A disabled recorder
// still computes and returns the digest (useful for per-tick digest
// composition even when artifact persistence is off).
func (r *Recorder) WriteComponent(name string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("evidence: marshal %s: %w", name, err)
	}
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	if !r.enabled {
		return digest, nil
	}
	fname := name + ".json"
	if err := r.writeAtomic(fname, data); err != nil {
		return "", err
	}
	r.mu.Lock()
	r.digests[fname] = digest
	r.mu.Unlock()
	return digest, nil
}

// TickDigest composes one digest covering every component digest observed
// for a single (symbol, ts_ms) decision point, keyed by component name;
// encoding/json sorts the map keys, so the digest does not depend on the
// order in which the caller inserted them.
type TickDigest struct {
	Symbol           string            `json:"symbol"`
	TsMs             int64             `json:"ts_ms"`
	ComponentDigests map[string]string `json:"component_digests"`
}

// ComposeTickDigest hashes a TickDigest built from componentDigests, which
// must be a complete map for this tick — Go's encoding/json sorts map keys
// alphabetically on marshal, so the result is deterministic regardless of
// insertion order.
func ComposeTickDigest(symbol string, tsMs int64, componentDigests map[string]string) (string, error) {
	return Digest(TickDigest{Symbol: symbol, TsMs: tsMs, ComponentDigests: componentDigests})
}

// summary is the content of summary.txt: a human-readable manifest of what
// this run produced, independent of the machine-checkable sha256sums.txt.
type summary struct {
	RunID          string   `json:"run_id"`
	ComponentFiles []string `json:"component_files"`
}

// Close flushes summary.txt and sha256sums.txt and logs a final EVIDENCE_REF
// line summarizing the whole run. No-op on a disabled recorder beyond the
// log line, since there is nothing on disk to reference.
func (r *Recorder) Close(logger *slog.Logger) error {
	if !r.enabled {
		logger.Info("EVIDENCE_REF", "run_id", r.runID, "enabled", false)
		return nil
	}

	r.mu.Lock()
	names := make([]string, 0, len(r.digests))
	for name := range r.digests {
		names = append(names, name)
	}
	sort.Strings(names)
	digestsCopy := make(map[string]string, len(r.digests))
	for k, v := range r.digests {
		digestsCopy[k] = v
	}
	r.mu.Unlock()

	var sums []byte
	for _, name := range names {
		sums = append(sums, []byte(fmt.Sprintf("%s  %s\n", digestsCopy[name], name))...)
	}
	if err := r.writeAtomic("sha256sums.txt", sums); err != nil {
		return err
	}

	sumData, err := json.MarshalIndent(summary{RunID: r.runID, ComponentFiles: names}, "", "  ")
	if err != nil {
		return fmt.Errorf("evidence: marshal summary: %w", err)
	}
	if err := r.writeAtomic("summary.txt", sumData); err != nil {
		return err
	}

	logger.Info("EVIDENCE_REF", "run_id", r.runID, "dir", r.dir, "files", len(names)+2)
	return nil
}
