package broadcast

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/arenalabs/arena-engine/internal/downsample"
	"github.com/arenalabs/arena-engine/internal/model"
	"github.com/arenalabs/arena-engine/internal/oracle"
	"github.com/shopspring/decimal"
)

// Message type discriminants, one per payload shape.
const (
	TypeCombinedUpdate = "combined_update"
	TypePriceUpdate    = "price_update"
	TypeInitialPrices  = "initial_prices"
	TypeEquityUpdate   = "modeldata_update"
	TypeInitialEquity  = "initial_modeldata"
	TypeEcho           = "echo"
)

// How much history the combined feed carries per tick.
const (
	recentTradeLimit = 30
	recentChatLimit  = 30
)

func isoNow() string { return time.Now().UTC().Format(time.RFC3339) }

// section is one typed sub-payload inside the combined message.
type section struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

type combinedUpdate struct {
	Type            string  `json:"type"`
	Timestamp       string  `json:"timestamp"`
	TradeUpdates    section `json:"trade_updates"`
	PositionUpdates section `json:"position_updates"`
	ChatUpdates     section `json:"chat_updates"`
}

// buildCombined bundles all positions, the latest trades, and the latest
// chat entries into one message sharing a single timestamp.
func (r *Registry) buildCombined(ctx context.Context) ([]byte, error) {
	positions, err := r.store.ListPositions(ctx)
	if err != nil {
		return nil, err
	}
	trades, err := r.store.ListRecentTrades(ctx, recentTradeLimit)
	if err != nil {
		return nil, err
	}
	chat, err := r.store.ListRecentChat(ctx, recentChatLimit)
	if err != nil {
		return nil, err
	}

	if positions == nil {
		positions = []model.Position{}
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	if chat == nil {
		chat = []model.ChatEntry{}
	}

	ts := isoNow()
	return json.Marshal(combinedUpdate{
		Type:            TypeCombinedUpdate,
		Timestamp:       ts,
		TradeUpdates:    section{Type: "trade_updates", Timestamp: ts, Data: trades},
		PositionUpdates: section{Type: "position_updates", Timestamp: ts, Data: positions},
		ChatUpdates:     section{Type: "chat_updates", Timestamp: ts, Data: chat},
	})
}

// Ticker is the per-symbol entry of the price feed.
type Ticker struct {
	Symbol            string          `json:"symbol"`
	Price             decimal.Decimal `json:"price"`
	ChangePercent     decimal.Decimal `json:"change_percent"`
	ChangeDirection   string          `json:"change_direction"`
	LastTradeTime     string          `json:"last_trade_time,omitempty"`
	ExchangeTimestamp string          `json:"exchange_timestamp,omitempty"`
}

type priceMessage struct {
	Type      string            `json:"type"`
	Timestamp string            `json:"timestamp"`
	Data      map[string]Ticker `json:"data"`
}

func direction(change decimal.Decimal) string {
	switch change.Sign() {
	case 1:
		return "up"
	case -1:
		return "down"
	default:
		return "neutral"
	}
}

func tickerFrom(t oracle.Tick) Ticker {
	change := t.ChangePct.Round(2)
	return Ticker{
		Symbol:            t.Symbol,
		Price:             t.LastPrice.Round(2),
		ChangePercent:     change,
		ChangeDirection:   direction(change),
		LastTradeTime:     t.LastTradeTime,
		ExchangeTimestamp: t.ExchangeTimestamp,
	}
}

func (r *Registry) buildPrices(ctx context.Context, msgType string) ([]byte, error) {
	ticks, err := r.oracle.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	data := make(map[string]Ticker, len(ticks))
	for symbol, tick := range ticks {
		data[symbol] = tickerFrom(tick)
	}
	return json.Marshal(priceMessage{Type: msgType, Timestamp: isoNow(), Data: data})
}

// EquityGroup is one agent's downsampled equity curve.
type EquityGroup struct {
	AgentID         int64                  `json:"agent_id"`
	CodeName        string                 `json:"code_name"`
	DisplayName     string                 `json:"display_name"`
	DataPoints      []model.EquitySnapshot `json:"data_points"`
	TotalPoints     int                    `json:"total_points"`
	FirstTimestamp  time.Time              `json:"first_timestamp"`
	LatestTimestamp time.Time              `json:"latest_timestamp"`
}

type equityMessage struct {
	Type        string                 `json:"type"`
	Timestamp   string                 `json:"timestamp"`
	TotalGroups int                    `json:"total_groups"`
	Data        map[string]EquityGroup `json:"data"`
}

// buildEquity reduces each agent's full snapshot history to at most 500
// evenly spaced points. Agents with no history are omitted.
func (r *Registry) buildEquity(ctx context.Context, msgType string) ([]byte, error) {
	agents, err := r.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}

	groups := make(map[string]EquityGroup)
	for _, agent := range agents {
		history, err := r.store.ListEquityHistory(ctx, agent.ID)
		if err != nil {
			return nil, err
		}
		if len(history) == 0 {
			continue
		}

		points := downsample.Series(history, downsample.MaxPoints)
		groups[agentKey(agent.ID)] = EquityGroup{
			AgentID:         agent.ID,
			CodeName:        agent.CodeName,
			DisplayName:     agent.DisplayName,
			DataPoints:      points,
			TotalPoints:     len(points),
			FirstTimestamp:  points[0].CreatedAt,
			LatestTimestamp: points[len(points)-1].CreatedAt,
		}
	}

	return json.Marshal(equityMessage{
		Type:        msgType,
		Timestamp:   isoNow(),
		TotalGroups: len(groups),
		Data:        groups,
	})
}

func agentKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

type echoMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func echoPayload(received string) []byte {
	data, _ := json.Marshal(echoMessage{
		Type:      TypeEcho,
		Message:   "Received: " + received,
		Timestamp: isoNow(),
	})
	return data
}
