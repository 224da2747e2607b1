package exchange

import (
	"fmt"
	"sync"
	"time"

	"grinder/pkg/types"
)

// NoopPort is a pure in-memory Port implementation used for fixture/paper
// runs and tests: every Place is accepted immediately, and Cancel/Amend of
// a known client id succeed, all reflected in an in-memory order book with
// no network I/O whatsoever. Cancel/Amend of an unknown id return Fatal.
type NoopPort struct {
	mu          sync.Mutex
	orders      map[string]types.OrderRecord
	constraints map[string]types.SymbolConstraints
	seq         int64
}

// NewNoopPort creates an empty in-memory port, optionally seeded with
// symbol constraints (tick/step/min-qty/min-notional) for fixture runs.
func NewNoopPort(constraints ...types.SymbolConstraints) *NoopPort {
	p := &NoopPort{
		orders:      make(map[string]types.OrderRecord),
		constraints: make(map[string]types.SymbolConstraints),
	}
	for _, c := range constraints {
		p.constraints[c.Symbol] = c
	}
	return p
}

func (p *NoopPort) Place(req types.OrderRequest) (types.OrderAck, PortOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	rec := types.OrderRecord{
		ClientID:   req.ClientID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Price:      req.Price,
		Qty:        req.Qty,
		Status:     types.OrderNew,
		ReduceOnly: req.ReduceOnly,
		TsMs:       time.Now().UnixMilli(),
	}
	p.orders[req.ClientID] = rec
	return types.OrderAck{ClientID: req.ClientID, OrderID: fmt.Sprintf("noop-%d", p.seq), Status: types.OrderNew, Accepted: true}, Ok, nil
}

func (p *NoopPort) Cancel(clientID string) (types.OrderAck, PortOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.orders[clientID]
	if !ok {
		return types.OrderAck{}, Fatal, fmt.Errorf("cancel: unknown client id %q", clientID)
	}
	rec.Status = types.OrderCanceled
	p.orders[clientID] = rec
	return types.OrderAck{ClientID: clientID, OrderID: rec.ClientID, Status: types.OrderCanceled, Accepted: true}, Ok, nil
}

func (p *NoopPort) Amend(clientID string, price, qty types.Amount) (types.OrderAck, PortOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.orders[clientID]
	if !ok {
		return types.OrderAck{}, Fatal, fmt.Errorf("amend: unknown client id %q", clientID)
	}
	rec.Price = price
	rec.Qty = qty
	p.orders[clientID] = rec
	return types.OrderAck{ClientID: clientID, OrderID: rec.ClientID, Status: types.OrderNew, Accepted: true}, Ok, nil
}

func (p *NoopPort) FetchOpenOrders(symbol string) ([]types.OrderRecord, PortOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.OrderRecord, 0, len(p.orders))
	for _, rec := range p.orders {
		if rec.Symbol == symbol && rec.IsLive() {
			out = append(out, rec)
		}
	}
	return out, Ok, nil
}

func (p *NoopPort) FetchPositions(symbol string) ([]types.PositionSnap, PortOutcome, error) {
	return nil, Ok, nil
}

func (p *NoopPort) FetchAccountSnapshot() (types.AccountSnapshot, PortOutcome, error) {
	snap := types.AccountSnapshot{TsMs: time.Now().UnixMilli()}
	snap.Canonicalize()
	return snap, Ok, nil
}

func (p *NoopPort) SymbolConstraints(symbol string) (types.SymbolConstraints, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.constraints[symbol]
	return c, ok
}

var _ Port = (*NoopPort)(nil)
var _ Port = (*FuturesPort)(nil)
