package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrValidation is returned for malformed or out-of-range trade input.
	ErrValidation = errors.New("ledger: invalid trade request")

	// ErrMarketClosed is returned when the market-hours gate rejects the
	// asset at the current wall-clock time.
	ErrMarketClosed = errors.New("ledger: market closed")

	// ErrAgentNotFound is returned when no agent matches the code name.
	ErrAgentNotFound = errors.New("ledger: agent not found")

	// ErrPriceUnavailable is returned when the oracle has no entry for the
	// asset and the caller supplied no price.
	ErrPriceUnavailable = errors.New("ledger: price unavailable")

	// ErrCashAccountMissing is returned on a BUY for an agent that has no
	// CASH position to draw from.
	ErrCashAccountMissing = errors.New("ledger: no cash position to draw from")
)

// InsufficientFundsError reports a BUY that would push cash negative. The
// booking is rolled back in full; nothing is persisted.
type InsufficientFundsError struct {
	CurrentCash decimal.Decimal
	Required    decimal.Decimal
	Shortfall   decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("ledger: insufficient cash balance: current %s, required %s, shortfall %s",
		e.CurrentCash.StringFixed(2), e.Required.StringFixed(2), e.Shortfall.StringFixed(2))
}
