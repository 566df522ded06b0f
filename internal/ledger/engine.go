// Package ledger implements the consistency engine that books trades: one
// immutable trade record, the affected asset position, and the agent's CASH
// position, committed as a single atomic unit.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arenalabs/arena-engine/internal/marketclock"
	"github.com/arenalabs/arena-engine/internal/model"
	"github.com/arenalabs/arena-engine/internal/oracle"
	"github.com/arenalabs/arena-engine/internal/store"
)

// PriceTransform converts an oracle raw tick value into an effective price.
// Registered per symbol at configuration time; unregistered symbols use the
// raw value directly.
type PriceTransform func(raw decimal.Decimal) decimal.Decimal

// TradeRequest is the input to BookTrade. Price and NotionalValue are
// optional: an unset price is resolved from the oracle, an unset notional is
// computed as price × quantity.
type TradeRequest struct {
	CodeName      string              `json:"code_name"`
	Asset         string              `json:"asset"`
	Side          model.Side          `json:"side"`
	Quantity      decimal.Decimal     `json:"quantity"`
	Price         decimal.NullDecimal `json:"price"`
	NotionalValue decimal.NullDecimal `json:"notional_value"`
}

// Engine books trades against the persistent store with the price oracle as
// input. Safe for concurrent use; concurrent bookings for one agent are
// serialized by the store's row locking on the CASH position.
type Engine struct {
	store      store.Store
	oracle     oracle.Oracle
	gate       *marketclock.Gate
	transforms map[string]PriceTransform
	now        func() time.Time
}

// New creates a ledger engine. transforms may be nil when every symbol's
// oracle value is already a price.
func New(st store.Store, orc oracle.Oracle, gate *marketclock.Gate, transforms map[string]PriceTransform) *Engine {
	if transforms == nil {
		transforms = map[string]PriceTransform{}
	}
	return &Engine{
		store:      st,
		oracle:     orc,
		gate:       gate,
		transforms: transforms,
		now:        time.Now,
	}
}

// WithNow replaces the clock used for trade timestamps. For tests.
func (e *Engine) WithNow(now func() time.Time) *Engine {
	e.now = now
	return e
}

// BookTrade validates and books one trade. On success the persisted Trade is
// returned; on any failure the transaction is rolled back in full, so a
// trade row is never observable without its position and cash effects.
func (e *Engine) BookTrade(ctx context.Context, req TradeRequest) (*model.Trade, error) {
	if err := e.validate(req); err != nil {
		return nil, err
	}

	// Market-hours gate runs before any price lookup or mutation.
	if err := e.gate.Check(req.Asset); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMarketClosed, err)
	}

	agent, err := e.store.GetAgentByCodeName(ctx, req.CodeName)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: no agent with code name %q", ErrAgentNotFound, req.CodeName)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve agent %q: %w", req.CodeName, err)
	}

	price, notional, err := e.resolvePricing(ctx, req)
	if err != nil {
		return nil, err
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	trade := &model.Trade{
		DisplayName:   agent.DisplayName,
		CodeName:      agent.CodeName,
		AgentID:       agent.ID,
		Asset:         req.Asset,
		Side:          req.Side,
		Quantity:      req.Quantity,
		Price:         price,
		NotionalValue: notional,
		ExecutedAt:    e.now().UTC(),
	}
	if err := tx.InsertTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("insert trade: %w", err)
	}

	if err := e.applyAssetPosition(ctx, tx, agent, trade); err != nil {
		return nil, err
	}

	if err := e.settleCash(ctx, tx, agent, trade); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit booking: %w", err)
	}

	slog.Info("trade booked",
		"trade_id", trade.ID,
		"agent", agent.CodeName,
		"asset", trade.Asset,
		"side", trade.Side,
		"qty", trade.Quantity.String(),
		"price", trade.Price.String(),
		"notional", trade.NotionalValue.String(),
	)
	return trade, nil
}

func (e *Engine) validate(req TradeRequest) error {
	switch {
	case req.CodeName == "":
		return fmt.Errorf("%w: code_name is required", ErrValidation)
	case req.Asset == "":
		return fmt.Errorf("%w: asset is required", ErrValidation)
	case req.Asset == model.CashAsset:
		return fmt.Errorf("%w: %s is not a tradeable asset", ErrValidation, model.CashAsset)
	case !req.Side.Valid():
		return fmt.Errorf("%w: side must be BUY or SELL", ErrValidation)
	case !req.Quantity.IsPositive():
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	case req.Price.Valid && !req.Price.Decimal.IsPositive():
		return fmt.Errorf("%w: price must be positive", ErrValidation)
	case req.NotionalValue.Valid && !req.NotionalValue.Decimal.IsPositive():
		return fmt.Errorf("%w: notional_value must be positive", ErrValidation)
	}
	return nil
}

// resolvePricing fills in price and notional. The oracle is consulted only
// when the caller left one of them unset; a caller-supplied price always
// wins over the resolved one.
func (e *Engine) resolvePricing(ctx context.Context, req TradeRequest) (price, notional decimal.Decimal, err error) {
	resolved := decimal.Decimal{}
	if !req.Price.Valid || !req.NotionalValue.Valid {
		tick, ok, err := e.oracle.Get(ctx, req.Asset)
		if err != nil {
			return price, notional, fmt.Errorf("oracle lookup for %s: %w", req.Asset, err)
		}
		if !ok {
			return price, notional, fmt.Errorf("%w: no oracle entry for asset %q", ErrPriceUnavailable, req.Asset)
		}
		resolved = tick.LastPrice
		if transform, ok := e.transforms[req.Asset]; ok {
			resolved = transform(resolved)
		}
	}

	price = resolved
	if req.Price.Valid {
		price = req.Price.Decimal
	}
	notional = resolved.Mul(req.Quantity)
	if req.NotionalValue.Valid {
		notional = req.NotionalValue.Decimal
	}
	return price, notional, nil
}

// applyAssetPosition upserts the agent's position for the traded asset. BUY
// increases quantity, SELL decreases it; an absent row starts from zero.
func (e *Engine) applyAssetPosition(ctx context.Context, tx store.Tx, agent *model.Agent, trade *model.Trade) error {
	lastPrice := decimal.NullDecimal{Decimal: trade.Price, Valid: true}

	delta := trade.Quantity
	if trade.Side == model.SideSell {
		delta = delta.Neg()
	}

	pos, err := tx.GetPositionForUpdate(ctx, agent.ID, trade.Asset)
	if errors.Is(err, store.ErrNotFound) {
		created := &model.Position{
			Asset:       trade.Asset,
			DisplayName: agent.DisplayName,
			CodeName:    agent.CodeName,
			AgentID:     agent.ID,
			Percentage:  decimal.Zero,
			Value:       decimal.Zero,
			Quantity:    decimal.NullDecimal{Decimal: delta, Valid: true},
			LastPrice:   lastPrice,
			LastUpdated: e.now().UTC(),
		}
		if err := tx.InsertPosition(ctx, created); err != nil {
			return fmt.Errorf("create position for %s: %w", trade.Asset, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("load position for %s: %w", trade.Asset, err)
	}

	return tx.UpdatePositionQuantity(ctx, pos.ID, pos.QuantityOrZero().Add(delta), lastPrice)
}

// settleCash applies the trade's notional to the agent's CASH position. BUY
// spends cash and must not push the balance negative; SELL receives cash. A
// SELL against a missing CASH row is a logged no-op — nothing to validate
// against, but worth seeding at agent creation.
func (e *Engine) settleCash(ctx context.Context, tx store.Tx, agent *model.Agent, trade *model.Trade) error {
	cash, err := tx.GetPositionForUpdate(ctx, agent.ID, model.CashAsset)
	if errors.Is(err, store.ErrNotFound) {
		if trade.Side == model.SideBuy {
			return fmt.Errorf("%w: agent %q", ErrCashAccountMissing, agent.CodeName)
		}
		slog.Warn("sell without cash position, settlement skipped",
			"agent", agent.CodeName, "asset", trade.Asset)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load cash position: %w", err)
	}

	current := cash.QuantityOrZero()
	var after decimal.Decimal
	if trade.Side == model.SideBuy {
		after = current.Sub(trade.NotionalValue)
		if after.IsNegative() {
			return &InsufficientFundsError{
				CurrentCash: current,
				Required:    trade.NotionalValue,
				Shortfall:   after.Neg(),
			}
		}
	} else {
		after = current.Add(trade.NotionalValue)
	}

	return tx.UpdatePositionQuantity(ctx, cash.ID, after, decimal.NullDecimal{})
}
