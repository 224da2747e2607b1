package metrics

import "testing"

func TestIncAccumulates(t *testing.T) {
	t.Parallel()
	r := New()
	r.Inc("router_decision_total", map[string]string{"decision": "AMEND", "reason": "reprice"})
	r.Inc("router_decision_total", map[string]string{"decision": "AMEND", "reason": "reprice"})
	r.Inc("router_decision_total", map[string]string{"decision": "NOOP", "reason": "unchanged"})

	snap := r.snapshot()
	if got := snap.Counters[metricKey("router_decision_total", map[string]string{"decision": "AMEND", "reason": "reprice"})]; got != 2 {
		t.Errorf("AMEND counter = %v, want 2", got)
	}
	if got := snap.Counters[metricKey("router_decision_total", map[string]string{"decision": "NOOP", "reason": "unchanged"})]; got != 1 {
		t.Errorf("NOOP counter = %v, want 1", got)
	}
}

func TestAddWithDelta(t *testing.T) {
	t.Parallel()
	r := New()
	r.Add("router_amend_savings_total", nil, 3.5)
	r.Add("router_amend_savings_total", nil, 1.5)

	snap := r.snapshot()
	if got := snap.Counters["router_amend_savings_total"]; got != 5 {
		t.Errorf("router_amend_savings_total = %v, want 5", got)
	}
}

func TestSetOverwritesGauge(t *testing.T) {
	t.Parallel()
	r := New()
	r.Set("drawdown_pct", nil, 1.2)
	r.Set("drawdown_pct", nil, 0.8)

	snap := r.snapshot()
	if got := snap.Gauges["drawdown_pct"]; got != 0.8 {
		t.Errorf("drawdown_pct = %v, want 0.8", got)
	}
}

func TestMetricKeyOrdersLabelsDeterministically(t *testing.T) {
	t.Parallel()
	a := metricKey("fsm_transitions_total", map[string]string{"from": "QUOTING", "to": "PAUSED", "reason": "toxicity"})
	b := metricKey("fsm_transitions_total", map[string]string{"reason": "toxicity", "to": "PAUSED", "from": "QUOTING"})
	if a != b {
		t.Errorf("metricKey not order-independent: %q != %q", a, b)
	}
}

func TestMetricKeyDistinguishesLabelSets(t *testing.T) {
	t.Parallel()
	a := metricKey("port_order_attempts_total", map[string]string{"port": "futures", "op": "place"})
	b := metricKey("port_order_attempts_total", map[string]string{"port": "futures", "op": "cancel"})
	if a == b {
		t.Error("expected distinct keys for distinct label values")
	}
}
