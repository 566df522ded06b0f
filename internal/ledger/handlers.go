package ledger

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arenalabs/arena-engine/internal/metrics"
	"github.com/arenalabs/arena-engine/internal/model"
	"github.com/arenalabs/arena-engine/internal/store"
)

// Handlers exposes the mutation and read API over the ledger engine and the
// store. Register on a chi router in main.
type Handlers struct {
	engine *Engine
	store  store.Store
}

// NewHandlers creates the HTTP handler set.
func NewHandlers(engine *Engine, st store.Store) *Handlers {
	return &Handlers{engine: engine, store: st}
}

// BookTrade handles POST /api/v1/trade.
func (h *Handlers) BookTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	start := time.Now()
	trade, err := h.engine.BookTrade(r.Context(), req)
	if err != nil {
		metrics.TradesRejected.WithLabelValues(rejectReason(err)).Inc()
		writeError(w, err.Error(), statusFor(err))
		return
	}
	metrics.TradesBooked.WithLabelValues(string(trade.Side)).Inc()
	metrics.BookingLatency.Observe(time.Since(start).Seconds())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(trade)
}

// ListAgents handles GET /api/v1/agents. Agents come back in leaderboard
// order (rank ascending).
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.store.ListAgents(r.Context())
	if err != nil {
		writeError(w, "failed to list agents", http.StatusInternalServerError)
		return
	}
	if agents == nil {
		agents = []model.Agent{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(agents)
}

// ListPositions handles GET /api/v1/positions.
func (h *Handlers) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.store.ListPositions(r.Context())
	if err != nil {
		writeError(w, "failed to list positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(positions)
}

// ChatRequest is the JSON body for POST /api/v1/chat.
type ChatRequest struct {
	CodeName     string `json:"code_name"`
	InputPrompt  string `json:"input_prompt"`
	OutputPrompt string `json:"output_prompt"`
}

// CreateChat handles POST /api/v1/chat. The entry is stamped with the agent's
// current display name and feeds into the combined broadcast payload.
func (h *Handlers) CreateChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.CodeName == "" {
		writeError(w, "code_name is required", http.StatusBadRequest)
		return
	}
	if req.InputPrompt == "" && req.OutputPrompt == "" {
		writeError(w, "input_prompt or output_prompt is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	agent, err := h.store.GetAgentByCodeName(ctx, req.CodeName)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "no agent with code name "+req.CodeName, http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to resolve agent", http.StatusInternalServerError)
		return
	}

	entry := &model.ChatEntry{
		DisplayName:  agent.DisplayName,
		CodeName:     agent.CodeName,
		AgentID:      agent.ID,
		InputPrompt:  req.InputPrompt,
		OutputPrompt: req.OutputPrompt,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.store.InsertChatEntry(ctx, entry); err != nil {
		writeError(w, "failed to store chat entry", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(entry)
}

// EquityRequest is the JSON body for POST /api/v1/equity, appended by the
// external aggregation job.
type EquityRequest struct {
	CodeName     string              `json:"code_name"`
	AccountValue decimal.NullDecimal `json:"account_value"`
	ReturnValue  decimal.NullDecimal `json:"return_value"`
	TotalPnL     decimal.NullDecimal `json:"total_pnl"`
	Fees         decimal.NullDecimal `json:"fees"`
	TradeCount   int                 `json:"trade_count"`
}

// CreateEquitySnapshot handles POST /api/v1/equity.
func (h *Handlers) CreateEquitySnapshot(w http.ResponseWriter, r *http.Request) {
	var req EquityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.CodeName == "" {
		writeError(w, "code_name is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	agent, err := h.store.GetAgentByCodeName(ctx, req.CodeName)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "no agent with code name "+req.CodeName, http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to resolve agent", http.StatusInternalServerError)
		return
	}

	snap := &model.EquitySnapshot{
		AgentID:      agent.ID,
		CodeName:     agent.CodeName,
		DisplayName:  agent.DisplayName,
		AccountValue: req.AccountValue,
		ReturnValue:  req.ReturnValue,
		TotalPnL:     req.TotalPnL,
		Fees:         req.Fees,
		TradeCount:   req.TradeCount,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.store.InsertEquitySnapshot(ctx, snap); err != nil {
		writeError(w, "failed to store equity snapshot", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(snap)
}

// BulkRevalueRequest is the JSON body for PUT /api/v1/positions/bulk. Each
// item addresses one position row; unset fields are left unchanged.
type BulkRevalueRequest struct {
	Positions []store.PositionRevaluation `json:"positions"`
}

// BulkRevalueResult reports per-item accounting for a bulk revaluation.
type BulkRevalueResult struct {
	Updated int     `json:"updated"`
	Failed  int     `json:"failed"`
	Errors  []int64 `json:"errors,omitempty"`
}

// BulkRevaluePositions handles PUT /api/v1/positions/bulk. The external
// revaluation job pushes recomputed value, percentage, pnl, and last price.
// Items are independent; one bad row does not abort the rest.
func (h *Handlers) BulkRevaluePositions(w http.ResponseWriter, r *http.Request) {
	var req BulkRevalueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Positions) == 0 {
		writeError(w, "positions is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	result := BulkRevalueResult{}
	for _, rev := range req.Positions {
		if _, err := h.store.RevaluePosition(ctx, rev); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, rev.ID)
			slog.Warn("position revaluation failed", "position_id", rev.ID, "err", err)
			continue
		}
		result.Updated++
	}

	slog.Info("bulk revaluation applied", "updated", result.Updated, "failed", result.Failed)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// statusFor maps booking errors to HTTP status codes.
func statusFor(err error) int {
	var insufficient *InsufficientFundsError
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrMarketClosed), errors.As(err, &insufficient):
		return http.StatusBadRequest
	case errors.Is(err, ErrAgentNotFound), errors.Is(err, ErrPriceUnavailable), errors.Is(err, ErrCashAccountMissing):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// rejectReason labels a booking failure for the rejection counter.
func rejectReason(err error) string {
	var insufficient *InsufficientFundsError
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrMarketClosed):
		return "market_closed"
	case errors.Is(err, ErrAgentNotFound):
		return "agent_not_found"
	case errors.Is(err, ErrPriceUnavailable):
		return "price_unavailable"
	case errors.Is(err, ErrCashAccountMissing):
		return "cash_missing"
	case errors.As(err, &insufficient):
		return "insufficient_funds"
	default:
		return "internal"
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
