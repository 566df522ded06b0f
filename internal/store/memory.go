package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arenalabs/arena-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.Mutex
	agents    map[int64]*model.Agent
	positions map[int64]*model.Position
	trades    []model.Trade
	chat      []model.ChatEntry
	equity    []model.EquitySnapshot
	nextID    int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:    make(map[int64]*model.Agent),
		positions: make(map[int64]*model.Position),
		nextID:    1,
	}
}

// SeedAgent inserts an agent row, assigning its ID. Test/seed helper.
func (s *MemoryStore) SeedAgent(a *model.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.nextID
	s.nextID++
	copied := *a
	s.agents[a.ID] = &copied
}

// SeedPosition inserts a position row, assigning its ID. Test/seed helper.
func (s *MemoryStore) SeedPosition(p *model.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.nextID
	s.nextID++
	copied := *p
	s.positions[p.ID] = &copied
}

func (s *MemoryStore) GetAgentByCodeName(_ context.Context, codeName string) (*model.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.agents {
		if a.CodeName == codeName {
			copied := *a
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListAgents(_ context.Context) ([]model.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agents := make([]model.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		agents = append(agents, *a)
	}
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].Rank != agents[j].Rank {
			return agents[i].Rank < agents[j].Rank
		}
		return agents[i].ID < agents[j].ID
	})
	return agents, nil
}

func (s *MemoryStore) ListPositions(_ context.Context) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	positions := make([]model.Position, 0, len(s.positions))
	for _, p := range s.positions {
		positions = append(positions, *p)
	}
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].AgentID != positions[j].AgentID {
			return positions[i].AgentID < positions[j].AgentID
		}
		return positions[i].Asset < positions[j].Asset
	})
	return positions, nil
}

func (s *MemoryStore) ListRecentTrades(_ context.Context, limit int) ([]model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trades := make([]model.Trade, len(s.trades))
	copy(trades, s.trades)
	sort.Slice(trades, func(i, j int) bool {
		return trades[i].ExecutedAt.After(trades[j].ExecutedAt)
	})
	if len(trades) > limit {
		trades = trades[:limit]
	}
	return trades, nil
}

func (s *MemoryStore) ListRecentChat(_ context.Context, limit int) ([]model.ChatEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]model.ChatEntry, len(s.chat))
	copy(entries, s.chat)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *MemoryStore) ListEquityHistory(_ context.Context, agentID int64) ([]model.EquitySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snaps []model.EquitySnapshot
	for _, snap := range s.equity {
		if snap.AgentID == agentID {
			snaps = append(snaps, snap)
		}
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.Before(snaps[j].CreatedAt)
	})
	return snaps, nil
}

func (s *MemoryStore) InsertChatEntry(_ context.Context, e *model.ChatEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = s.nextID
	s.nextID++
	s.chat = append(s.chat, *e)
	return nil
}

func (s *MemoryStore) InsertEquitySnapshot(_ context.Context, snap *model.EquitySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap.ID = s.nextID
	s.nextID++
	s.equity = append(s.equity, *snap)
	return nil
}

func (s *MemoryStore) RevaluePosition(_ context.Context, rev PositionRevaluation) (*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[rev.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if rev.Value.Valid {
		p.Value = rev.Value.Decimal
	}
	if rev.Percentage.Valid {
		p.Percentage = rev.Percentage.Decimal
	}
	if rev.PnL.Valid {
		p.PnL = rev.PnL
	}
	if rev.Quantity.Valid {
		p.Quantity = rev.Quantity
	}
	if rev.LastPrice.Valid {
		p.LastPrice = rev.LastPrice
	}
	p.LastUpdated = time.Now().UTC()
	copied := *p
	return &copied, nil
}

// Begin locks the whole store for the transaction's lifetime. Mutations are
// staged and applied on Commit, so a Rollback leaves no trace.
func (s *MemoryStore) Begin(_ context.Context) (Tx, error) {
	s.mu.Lock()
	return &memTx{store: s}, nil
}

type memTx struct {
	store  *MemoryStore
	staged []func()
	done   bool
}

func (t *memTx) GetPositionForUpdate(_ context.Context, agentID int64, asset string) (*model.Position, error) {
	for _, p := range t.store.positions {
		if p.AgentID == agentID && p.Asset == asset {
			copied := *p
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) InsertTrade(_ context.Context, tr *model.Trade) error {
	tr.ID = t.store.nextID
	t.store.nextID++
	staged := *tr
	t.staged = append(t.staged, func() {
		t.store.trades = append(t.store.trades, staged)
	})
	return nil
}

func (t *memTx) InsertPosition(_ context.Context, p *model.Position) error {
	p.ID = t.store.nextID
	t.store.nextID++
	staged := *p
	t.staged = append(t.staged, func() {
		t.store.positions[staged.ID] = &staged
	})
	return nil
}

func (t *memTx) UpdatePositionQuantity(_ context.Context, id int64, quantity decimal.Decimal, lastPrice decimal.NullDecimal) error {
	if _, ok := t.store.positions[id]; !ok {
		return fmt.Errorf("position %d not found", id)
	}
	t.staged = append(t.staged, func() {
		p := t.store.positions[id]
		p.Quantity = decimal.NullDecimal{Decimal: quantity, Valid: true}
		if lastPrice.Valid {
			p.LastPrice = lastPrice
		}
		p.LastUpdated = time.Now().UTC()
	})
	return nil
}

func (t *memTx) Commit(_ context.Context) error {
	if t.done {
		return fmt.Errorf("transaction already closed")
	}
	for _, apply := range t.staged {
		apply()
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	if t.done {
		return nil // rollback after commit is a no-op, matching pgx
	}
	t.staged = nil
	t.done = true
	t.store.mu.Unlock()
	return nil
}
