package oracle

import (
	"context"
	"sync"
)

// MemoryOracle is an in-memory Oracle for tests and development.
type MemoryOracle struct {
	mu    sync.RWMutex
	ticks map[string]Tick
}

// NewMemoryOracle creates an empty in-memory oracle.
func NewMemoryOracle() *MemoryOracle {
	return &MemoryOracle{ticks: make(map[string]Tick)}
}

// Set stores or replaces the tick for symbol.
func (o *MemoryOracle) Set(symbol string, t Tick) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t.Symbol = symbol
	o.ticks[symbol] = t
}

// Delete removes the tick for symbol.
func (o *MemoryOracle) Delete(symbol string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.ticks, symbol)
}

func (o *MemoryOracle) Get(_ context.Context, symbol string) (Tick, bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	t, ok := o.ticks[symbol]
	return t, ok, nil
}

func (o *MemoryOracle) GetAll(_ context.Context) (map[string]Tick, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]Tick, len(o.ticks))
	for k, v := range o.ticks {
		out[k] = v
	}
	return out, nil
}
