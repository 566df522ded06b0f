package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/arenalabs/arena-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const agentColumns = `id, code_name, display_name, provider,
	COALESCE(color, ''), COALESCE(icon, ''),
	account_value::TEXT, return_pct::TEXT, pnl::TEXT, trading_cost::TEXT,
	winrate::TEXT, biggest_win::TEXT, biggest_loss::TEXT, sharpe::TEXT,
	COALESCE(trades, 0), COALESCE(rank, 0)`

func scanAgent(row pgx.Row) (*model.Agent, error) {
	var a model.Agent
	var accountVal, returnPct, pnl, tradingCost, winrate, bigWin, bigLoss, sharpe *string

	err := row.Scan(&a.ID, &a.CodeName, &a.DisplayName, &a.Provider,
		&a.Color, &a.Icon,
		&accountVal, &returnPct, &pnl, &tradingCost,
		&winrate, &bigWin, &bigLoss, &sharpe,
		&a.Trades, &a.Rank)
	if err != nil {
		return nil, err
	}

	a.AccountVal = nullDecimal(accountVal)
	a.ReturnPct = nullDecimal(returnPct)
	a.PnL = nullDecimal(pnl)
	a.TradingCost = nullDecimal(tradingCost)
	a.WinRate = nullDecimal(winrate)
	a.BiggestWin = nullDecimal(bigWin)
	a.BiggestLoss = nullDecimal(bigLoss)
	a.Sharpe = nullDecimal(sharpe)
	return &a, nil
}

func (s *PostgresStore) GetAgentByCodeName(ctx context.Context, codeName string) (*model.Agent, error) {
	a, err := scanAgent(s.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE code_name = $1`, codeName))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", codeName, err)
	}
	return a, nil
}

func (s *PostgresStore) ListAgents(ctx context.Context) ([]model.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM agents ORDER BY COALESCE(rank, 2147483647), id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

const positionColumns = `id, asset, COALESCE(display_name, ''), code_name, agent_id,
	percentage::TEXT, value::TEXT, pnl::TEXT, quantity::TEXT, last_price::TEXT,
	last_updated`

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var percentage, value string
	var pnl, quantity, lastPrice *string

	err := row.Scan(&p.ID, &p.Asset, &p.DisplayName, &p.CodeName, &p.AgentID,
		&percentage, &value, &pnl, &quantity, &lastPrice,
		&p.LastUpdated)
	if err != nil {
		return nil, err
	}

	p.Percentage, _ = decimal.NewFromString(percentage)
	p.Value, _ = decimal.NewFromString(value)
	p.PnL = nullDecimal(pnl)
	p.Quantity = nullDecimal(quantity)
	p.LastPrice = nullDecimal(lastPrice)
	return &p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions ORDER BY agent_id, asset`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) ListRecentTrades(ctx context.Context, limit int) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, COALESCE(display_name, ''), code_name, agent_id, asset, side,
		        quantity::TEXT, price::TEXT, notional_value::TEXT, executed_at
		 FROM trades ORDER BY executed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var qty, price, notional string
		if err := rows.Scan(&t.ID, &t.DisplayName, &t.CodeName, &t.AgentID, &t.Asset, &t.Side,
			&qty, &price, &notional, &t.ExecutedAt); err != nil {
			return nil, err
		}
		t.Quantity, _ = decimal.NewFromString(qty)
		t.Price, _ = decimal.NewFromString(price)
		t.NotionalValue, _ = decimal.NewFromString(notional)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) ListRecentChat(ctx context.Context, limit int) ([]model.ChatEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, COALESCE(display_name, ''), code_name, agent_id,
		        COALESCE(input_prompt, ''), COALESCE(output_prompt, ''), created_at
		 FROM chat_entries ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.ChatEntry
	for rows.Next() {
		var e model.ChatEntry
		if err := rows.Scan(&e.ID, &e.DisplayName, &e.CodeName, &e.AgentID,
			&e.InputPrompt, &e.OutputPrompt, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) ListEquityHistory(ctx context.Context, agentID int64) ([]model.EquitySnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, agent_id, code_name, display_name,
		        account_value::TEXT, return_value::TEXT, total_pnl::TEXT, fees::TEXT,
		        COALESCE(trade_count, 0), created_at
		 FROM equity_snapshots WHERE agent_id = $1 ORDER BY created_at`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.EquitySnapshot
	for rows.Next() {
		var s model.EquitySnapshot
		var accountValue, returnValue, totalPnL, fees *string
		if err := rows.Scan(&s.ID, &s.AgentID, &s.CodeName, &s.DisplayName,
			&accountValue, &returnValue, &totalPnL, &fees,
			&s.TradeCount, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.AccountValue = nullDecimal(accountValue)
		s.ReturnValue = nullDecimal(returnValue)
		s.TotalPnL = nullDecimal(totalPnL)
		s.Fees = nullDecimal(fees)
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}

func (s *PostgresStore) InsertChatEntry(ctx context.Context, e *model.ChatEntry) error {
	return s.pool.QueryRow(ctx,
		`INSERT INTO chat_entries (display_name, code_name, agent_id, input_prompt, output_prompt, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		e.DisplayName, e.CodeName, e.AgentID, e.InputPrompt, e.OutputPrompt, e.CreatedAt,
	).Scan(&e.ID)
}

func (s *PostgresStore) InsertEquitySnapshot(ctx context.Context, snap *model.EquitySnapshot) error {
	return s.pool.QueryRow(ctx,
		`INSERT INTO equity_snapshots (agent_id, code_name, display_name, account_value, return_value, total_pnl, fees, trade_count, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9) RETURNING id`,
		snap.AgentID, snap.CodeName, snap.DisplayName,
		nullString(snap.AccountValue), nullString(snap.ReturnValue),
		nullString(snap.TotalPnL), nullString(snap.Fees),
		snap.TradeCount, snap.CreatedAt,
	).Scan(&snap.ID)
}

func (s *PostgresStore) RevaluePosition(ctx context.Context, rev PositionRevaluation) (*model.Position, error) {
	// COALESCE keeps columns whose revaluation field is unset.
	p, err := scanPosition(s.pool.QueryRow(ctx,
		`UPDATE positions SET
		     value      = COALESCE($2::NUMERIC, value),
		     percentage = COALESCE($3::NUMERIC, percentage),
		     pnl        = COALESCE($4::NUMERIC, pnl),
		     quantity   = COALESCE($5::NUMERIC, quantity),
		     last_price = COALESCE($6::NUMERIC, last_price),
		     last_updated = NOW()
		 WHERE id = $1
		 RETURNING `+positionColumns,
		rev.ID,
		nullString(rev.Value), nullString(rev.Percentage), nullString(rev.PnL),
		nullString(rev.Quantity), nullString(rev.LastPrice)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("revalue position %d: %w", rev.ID, err)
	}
	return p, nil
}

// Begin opens a read-committed transaction; the cash row lock acquired by
// GetPositionForUpdate serializes concurrent bookings for one agent.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin booking tx: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetPositionForUpdate(ctx context.Context, agentID int64, asset string) (*model.Position, error) {
	p, err := scanPosition(t.tx.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE agent_id = $1 AND asset = $2 FOR UPDATE`, agentID, asset))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock position %d/%s: %w", agentID, asset, err)
	}
	return p, nil
}

func (t *pgTx) InsertTrade(ctx context.Context, tr *model.Trade) error {
	return t.tx.QueryRow(ctx,
		`INSERT INTO trades (display_name, code_name, agent_id, asset, side, quantity, price, notional_value, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9) RETURNING id`,
		tr.DisplayName, tr.CodeName, tr.AgentID, tr.Asset, string(tr.Side),
		tr.Quantity.String(), tr.Price.String(), tr.NotionalValue.String(),
		tr.ExecutedAt,
	).Scan(&tr.ID)
}

func (t *pgTx) InsertPosition(ctx context.Context, p *model.Position) error {
	return t.tx.QueryRow(ctx,
		`INSERT INTO positions (asset, display_name, code_name, agent_id, percentage, value, pnl, quantity, last_price, last_updated)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10) RETURNING id`,
		p.Asset, p.DisplayName, p.CodeName, p.AgentID,
		p.Percentage.String(), p.Value.String(),
		nullString(p.PnL), nullString(p.Quantity), nullString(p.LastPrice),
		p.LastUpdated,
	).Scan(&p.ID)
}

func (t *pgTx) UpdatePositionQuantity(ctx context.Context, id int64, quantity decimal.Decimal, lastPrice decimal.NullDecimal) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE positions
		 SET quantity = $2::NUMERIC, last_price = COALESCE($3::NUMERIC, last_price), last_updated = NOW()
		 WHERE id = $1`,
		id, quantity.String(), nullString(lastPrice))
	return err
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// --- NUMERIC <-> decimal helpers ---

func nullDecimal(s *string) decimal.NullDecimal {
	if s == nil {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func nullString(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}
