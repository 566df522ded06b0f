// Package store defines the persistence interface for the arena engine.
// Implementations include PostgreSQL (source of truth) and in-memory (for
// testing). The ledger books trades inside a Tx so a trade row is never
// observable without its matching position and cash effects.
package store

import (
	"context"
	"errors"

	"github.com/arenalabs/arena-engine/internal/model"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// PositionRevaluation is a partial update pushed by the external revaluation
// job. A field with Valid == false is left unchanged.
type PositionRevaluation struct {
	ID         int64               `json:"id"`
	Value      decimal.NullDecimal `json:"value"`
	Percentage decimal.NullDecimal `json:"percentage"`
	PnL        decimal.NullDecimal `json:"pnl"`
	Quantity   decimal.NullDecimal `json:"quantity"`
	LastPrice  decimal.NullDecimal `json:"last_price"`
}

// Store is the persistence interface. PostgreSQL is the source of truth.
type Store interface {
	// --- Agents ---

	// GetAgentByCodeName resolves an agent by its unique code name.
	GetAgentByCodeName(ctx context.Context, codeName string) (*model.Agent, error)

	// ListAgents returns all agents ordered by rank.
	ListAgents(ctx context.Context) ([]model.Agent, error)

	// --- Broadcast reads ---

	// ListPositions returns every position row across all agents.
	ListPositions(ctx context.Context) ([]model.Position, error)

	// ListRecentTrades returns the latest trades, newest first.
	ListRecentTrades(ctx context.Context, limit int) ([]model.Trade, error)

	// ListRecentChat returns the latest chat entries, newest first.
	ListRecentChat(ctx context.Context, limit int) ([]model.ChatEntry, error)

	// ListEquityHistory returns an agent's equity snapshots in
	// chronological order.
	ListEquityHistory(ctx context.Context, agentID int64) ([]model.EquitySnapshot, error)

	// --- External-collaborator writes ---

	// InsertChatEntry appends a chat entry and assigns its ID.
	InsertChatEntry(ctx context.Context, entry *model.ChatEntry) error

	// InsertEquitySnapshot appends an equity snapshot and assigns its ID.
	InsertEquitySnapshot(ctx context.Context, snap *model.EquitySnapshot) error

	// RevaluePosition applies a partial revaluation update to one position.
	RevaluePosition(ctx context.Context, rev PositionRevaluation) (*model.Position, error)

	// --- Trade booking ---

	// Begin opens a transaction for booking one trade. The caller must
	// Commit or Rollback.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a trade-booking transaction. Position reads through a Tx lock the
// row (or equivalent) for the transaction's lifetime, so two concurrent BUYs
// cannot both read the same stale cash balance.
type Tx interface {
	// GetPositionForUpdate returns the agent's position for asset, locked
	// for the duration of the transaction. ErrNotFound when absent.
	GetPositionForUpdate(ctx context.Context, agentID int64, asset string) (*model.Position, error)

	// InsertTrade appends an immutable trade record and assigns its ID.
	InsertTrade(ctx context.Context, trade *model.Trade) error

	// InsertPosition creates a position row and assigns its ID.
	InsertPosition(ctx context.Context, pos *model.Position) error

	// UpdatePositionQuantity sets quantity and last price on one position.
	UpdatePositionQuantity(ctx context.Context, id int64, quantity decimal.Decimal, lastPrice decimal.NullDecimal) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
