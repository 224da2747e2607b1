package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// clientID renders the execution engine's order-id pattern
// "<strategy>_<symbol>_<level_idx>_<seq>". level_idx is positive for ask
// levels, negative for bid levels; seq is a per-level monotonic counter
// so a re-placed order at the same level gets a fresh id. The exchange
// caps client order ids at 36 characters, so every caller-controlled field
// (strategy tag, symbol) must stay short enough that the rendered id never
// exceeds that bound.
func clientID(strategy, symbol string, levelIdx int, seq int64) string {
	return fmt.Sprintf("%s_%s_%d_%d", strategy, normalizeSymbol(symbol), levelIdx, seq)
}

// normalizeSymbol lower-cases a symbol for client-id embedding, since
// exchange client-id charsets are case-sensitive and the engine otherwise
// carries symbols upper-cased (e.g. "BTCUSDT").
func normalizeSymbol(symbol string) string {
	return strings.ToLower(symbol)
}

// parseClientID reverses clientID. ok is false if cid does not match the
// expected four-field pattern, e.g. a stray id left by a previous strategy
// version and surfaced by FetchOpenOrders during reconciliation.
func parseClientID(cid string) (strategy, symbol string, levelIdx int, seq int64, ok bool) {
	parts := strings.Split(cid, "_")
	if len(parts) != 4 {
		return "", "", 0, 0, false
	}
	lvl, err := strconv.Atoi(parts[2])
	if err != nil {
		return "", "", 0, 0, false
	}
	sq, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return "", "", 0, 0, false
	}
	return parts[0], parts[1], lvl, sq, true
}
