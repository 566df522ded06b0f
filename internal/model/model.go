// Package model defines the core domain types shared across the arena engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is a recognized trade side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// CashAsset is the reserved position symbol holding an agent's spendable
// balance. Modeling cash as a position keeps listing and revaluation uniform
// across holdings; solvency checks special-case this symbol.
const CashAsset = "CASH"

// Agent is the identity of one autonomous trading entity on the leaderboard.
// Created out-of-band (seed data); the ledger only resolves it by code name.
type Agent struct {
	ID          int64               `json:"id"`
	CodeName    string              `json:"code_name"`
	DisplayName string              `json:"display_name"`
	Provider    string              `json:"provider"`
	Color       string              `json:"color,omitempty"`
	Icon        string              `json:"icon,omitempty"`
	AccountVal  decimal.NullDecimal `json:"account_value"`
	ReturnPct   decimal.NullDecimal `json:"return_pct"`
	PnL         decimal.NullDecimal `json:"pnl"`
	TradingCost decimal.NullDecimal `json:"trading_cost"`
	WinRate     decimal.NullDecimal `json:"winrate"`
	BiggestWin  decimal.NullDecimal `json:"biggest_win"`
	BiggestLoss decimal.NullDecimal `json:"biggest_loss"`
	Sharpe      decimal.NullDecimal `json:"sharpe"`
	Trades      int                 `json:"trades"`
	Rank        int                 `json:"rank"`
}

// Position is one row per (agent, asset) pair. The asset "CASH" is the
// agent's spendable balance. Quantity is nullable: an unset quantity is
// treated as zero by the ledger.
type Position struct {
	ID          int64               `json:"id"`
	Asset       string              `json:"asset"`
	DisplayName string              `json:"display_name,omitempty"`
	CodeName    string              `json:"code_name"`
	AgentID     int64               `json:"agent_id"`
	Percentage  decimal.Decimal     `json:"percentage"`
	Value       decimal.Decimal     `json:"value"`
	PnL         decimal.NullDecimal `json:"pnl"`
	Quantity    decimal.NullDecimal `json:"quantity"`
	LastPrice   decimal.NullDecimal `json:"last_price"`
	LastUpdated time.Time           `json:"last_updated"`
}

// QuantityOrZero returns the position quantity, treating an unset (null)
// quantity as zero.
func (p *Position) QuantityOrZero() decimal.Decimal {
	if p.Quantity.Valid {
		return p.Quantity.Decimal
	}
	return decimal.Zero
}

// Trade is an immutable record of an executed order. Once created, these are
// never modified or deleted. DisplayName and AgentID are a write-time
// snapshot of the agent row — an agent rename does not rewrite history.
type Trade struct {
	ID            int64           `json:"id"`
	DisplayName   string          `json:"display_name,omitempty"`
	CodeName      string          `json:"code_name"`
	AgentID       int64           `json:"agent_id"`
	Asset         string          `json:"asset"`
	Side          Side            `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	NotionalValue decimal.Decimal `json:"notional_value"`
	ExecutedAt    time.Time       `json:"executed_at"`
}

// EquitySnapshot is a periodic point-in-time rollup of one agent's account.
// Written by the external aggregation job; read-only to the engine. This is
// the only entity the downsampler operates on.
type EquitySnapshot struct {
	ID           int64               `json:"id"`
	AgentID      int64               `json:"agent_id"`
	CodeName     string              `json:"code_name"`
	DisplayName  string              `json:"display_name"`
	AccountValue decimal.NullDecimal `json:"account_value"`
	ReturnValue  decimal.NullDecimal `json:"return_value"`
	TotalPnL     decimal.NullDecimal `json:"total_pnl"`
	Fees         decimal.NullDecimal `json:"fees"`
	TradeCount   int                 `json:"trade_count"`
	CreatedAt    time.Time           `json:"created_at"`
}

// ChatEntry is one logged prompt/response exchange with an agent. Fed into
// the combined broadcast payload alongside positions and trades.
type ChatEntry struct {
	ID           int64     `json:"id"`
	DisplayName  string    `json:"display_name,omitempty"`
	CodeName     string    `json:"code_name"`
	AgentID      int64     `json:"agent_id"`
	InputPrompt  string    `json:"input_prompt,omitempty"`
	OutputPrompt string    `json:"output_prompt,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
