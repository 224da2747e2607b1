// Package metrics implements the fixed counter/gauge surface and HTTP
// exposition named in §6: a small in-process registry plus the serving
// loop that exposes it. Grounded on the teacher's internal/api/server.go
// (http.Server construction, mux registration, graceful Shutdown) and
// internal/api/handlers.go's JSON-snapshot handler pattern, generalized
// from the teacher's WebSocket dashboard push to a pull-based JSON metrics
// endpoint — Prometheus text exposition is out of scope, so the counters
// and gauges are served as one JSON document rather than wire-format
// samples.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry holds every counter and gauge the engine emits, keyed by a
// name+sorted-labels string so the same metric name with different label
// values (e.g. router_decision_total{decision="AMEND"} vs {"NOOP"}) is
// tracked independently.
type Registry struct {
	mu       sync.Mutex
	counters map[string]float64
	gauges   map[string]float64
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		counters: make(map[string]float64),
		gauges:   make(map[string]float64),
	}
}

func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

// Inc increments a counter by 1.
func (r *Registry) Inc(name string, labels map[string]string) {
	r.Add(name, labels, 1)
}

// Add increments a counter by delta.
func (r *Registry) Add(name string, labels map[string]string, delta float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[metricKey(name, labels)] += delta
}

// Set overwrites a gauge's current value.
func (r *Registry) Set(name string, labels map[string]string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges[metricKey(name, labels)] = value
}

// Snapshot is the JSON document served at /metrics.
type Snapshot struct {
	TsMs     int64              `json:"ts_ms"`
	Counters map[string]float64 `json:"counters"`
	Gauges   map[string]float64 `json:"gauges"`
}

func (r *Registry) snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	counters := make(map[string]float64, len(r.counters))
	for k, v := range r.counters {
		counters[k] = v
	}
	gauges := make(map[string]float64, len(r.gauges))
	for k, v := range r.gauges {
		gauges[k] = v
	}
	return Snapshot{Counters: counters, Gauges: gauges}
}

// Server exposes a Registry over plain HTTP, mirroring the teacher's
// dashboard Server's lifecycle (construct with mux, ListenAndServe in a
// goroutine, graceful Shutdown).
type Server struct {
	registry *Registry
	http     *http.Server
}

// NewServer builds the metrics HTTP server listening on port.
func NewServer(port int, registry *Registry) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		snap := registry.snapshot()
		snap.TsMs = time.Now().UnixMilli()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
	})

	return &Server{
		registry: registry,
		http: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Run blocks serving HTTP until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
