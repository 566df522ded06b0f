// Package oracle provides read access to the last-traded-price cache kept
// up to date by the external market-data feeders. The engine only ever reads
// it; a missing symbol is absent data, not an error.
package oracle

import (
	"context"

	"github.com/shopspring/decimal"
)

// Tick is the latest known market state for one symbol.
type Tick struct {
	Symbol            string          `json:"symbol"`
	LastPrice         decimal.Decimal `json:"last_price"`
	ChangePct         decimal.Decimal `json:"change"`
	LastTradeTime     string          `json:"last_trade_time,omitempty"`
	ExchangeTimestamp string          `json:"exchange_timestamp,omitempty"`
}

// Oracle is the price cache interface. Implementations include Redis
// (production, fed by exchange listeners) and in-memory (tests).
type Oracle interface {
	// Get returns the tick for symbol. ok is false when the oracle has no
	// entry for the symbol; err is reserved for transport failures.
	Get(ctx context.Context, symbol string) (Tick, bool, error)

	// GetAll returns every tracked symbol's tick.
	GetAll(ctx context.Context) (map[string]Tick, error)
}
