// Package exchange implements the futures-exchange port contract (C12): a
// Binance-style HMAC REST client with idempotent order placement, jittered
// retry, a circuit breaker, and a dry-run mode that performs zero I/O.
// Grounded on the teacher's internal/exchange/client.go (resty-based REST
// client, rate-limited per endpoint category, retry-on-5xx) and ratelimit.go
// (token-bucket rate limiting), with auth.go's two-layer EIP-712/HMAC scheme
// collapsed to the single HMAC-SHA256 layer a centralized futures exchange
// actually uses.
package exchange

import (
	"grinder/pkg/types"
)

// PortOutcome is the three-valued result of every exchange-port call, so
// retry and circuit-breaker logic can switch on it instead of string-
// matching errors.
type PortOutcome int

const (
	Ok PortOutcome = iota
	Retryable
	Fatal
)

// Port is the exchange port contract every execution-engine action flows
// through (§4.11).
type Port interface {
	Place(req types.OrderRequest) (types.OrderAck, PortOutcome, error)
	Cancel(clientID string) (types.OrderAck, PortOutcome, error)
	Amend(clientID string, price, qty types.Amount) (types.OrderAck, PortOutcome, error)
	FetchOpenOrders(symbol string) ([]types.OrderRecord, PortOutcome, error)
	FetchPositions(symbol string) ([]types.PositionSnap, PortOutcome, error)
	FetchAccountSnapshot() (types.AccountSnapshot, PortOutcome, error)
	SymbolConstraints(symbol string) (types.SymbolConstraints, bool)
}
