package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arenalabs/arena-engine/internal/model"
	"github.com/arenalabs/arena-engine/internal/oracle"
	"github.com/arenalabs/arena-engine/internal/store"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func nd(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d(s), Valid: true}
}

// testSink records everything sent to it and can be told to fail.
type testSink struct {
	mu     sync.Mutex
	msgs   [][]byte
	closed bool
	fail   bool
}

func (s *testSink) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink broken")
	}
	s.msgs = append(s.msgs, data)
	return nil
}

func (s *testSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *testSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func (s *testSink) message(i int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msgs[i]
}

func (s *testSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *testSink) setFail(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = v
}

func testRegistry(t *testing.T) (*Registry, *store.MemoryStore, *oracle.MemoryOracle) {
	t.Helper()
	st := store.NewMemoryStore()
	orc := oracle.NewMemoryOracle()
	r := NewRegistryWithIntervals(st, orc, 10*time.Millisecond, 10*time.Millisecond, 10*time.Millisecond)
	return r, st, orc
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func feedStatus(r *Registry, name string) FeedStatus {
	for _, fs := range r.Status() {
		if fs.Feed == name {
			return fs
		}
	}
	return FeedStatus{}
}

func TestSubscribeStartsAndStopsLoop(t *testing.T) {
	r, _, _ := testRegistry(t)

	if fs := feedStatus(r, FeedCombined); fs.Running {
		t.Fatal("loop running before any subscriber")
	}

	sink := &testSink{}
	h, err := r.Subscribe(context.Background(), FeedCombined, sink)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	fs := feedStatus(r, FeedCombined)
	if !fs.Running || fs.Subscribers != 1 {
		t.Fatalf("after subscribe: running=%v subscribers=%d", fs.Running, fs.Subscribers)
	}

	waitFor(t, func() bool { return sink.count() >= 2 }, "no periodic messages received")

	r.Unsubscribe(h)
	fs = feedStatus(r, FeedCombined)
	if fs.Running || fs.Subscribers != 0 {
		t.Fatalf("after unsubscribe: running=%v subscribers=%d", fs.Running, fs.Subscribers)
	}
	if !sink.isClosed() {
		t.Fatal("sink not closed on unsubscribe")
	}
}

func TestPriceFeedSnapshotBeforePeriodic(t *testing.T) {
	r, _, orc := testRegistry(t)
	orc.Set("AAPL", oracle.Tick{LastPrice: d("187.354"), ChangePct: d("1.25")})

	sink := &testSink{}
	h, err := r.Subscribe(context.Background(), FeedPrice, sink)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer r.Unsubscribe(h)

	if sink.count() == 0 {
		t.Fatal("no snapshot delivered on subscribe")
	}

	var msg priceMessage
	if err := json.Unmarshal(sink.message(0), &msg); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if msg.Type != TypeInitialPrices {
		t.Fatalf("first message type = %q, want %q", msg.Type, TypeInitialPrices)
	}
	tick, ok := msg.Data["AAPL"]
	if !ok {
		t.Fatal("AAPL missing from snapshot")
	}
	if !tick.Price.Equal(d("187.35")) {
		t.Fatalf("price = %s, want 187.35", tick.Price)
	}
	if tick.ChangeDirection != "up" {
		t.Fatalf("direction = %q, want up", tick.ChangeDirection)
	}

	waitFor(t, func() bool { return sink.count() >= 2 }, "no periodic price update")
	var periodic priceMessage
	if err := json.Unmarshal(sink.message(1), &periodic); err != nil {
		t.Fatalf("unmarshal periodic: %v", err)
	}
	if periodic.Type != TypePriceUpdate {
		t.Fatalf("periodic type = %q, want %q", periodic.Type, TypePriceUpdate)
	}
}

func TestFailingSinkDroppedOthersSurvive(t *testing.T) {
	r, _, _ := testRegistry(t)

	good := &testSink{}
	bad := &testSink{}

	hGood, err := r.Subscribe(context.Background(), FeedCombined, good)
	if err != nil {
		t.Fatalf("subscribe good: %v", err)
	}
	defer r.Unsubscribe(hGood)
	if _, err := r.Subscribe(context.Background(), FeedCombined, bad); err != nil {
		t.Fatalf("subscribe bad: %v", err)
	}

	bad.setFail(true)

	waitFor(t, func() bool {
		fs := feedStatus(r, FeedCombined)
		return fs.Subscribers == 1
	}, "failing sink never dropped")

	if !bad.isClosed() {
		t.Fatal("dropped sink not closed")
	}

	fs := feedStatus(r, FeedCombined)
	if !fs.Running {
		t.Fatal("loop stopped despite a surviving subscriber")
	}

	before := good.count()
	waitFor(t, func() bool { return good.count() > before }, "surviving sink stopped receiving")
}

func TestSubscribeUnknownFeed(t *testing.T) {
	r, _, _ := testRegistry(t)
	if _, err := r.Subscribe(context.Background(), "bogus", &testSink{}); err == nil {
		t.Fatal("expected error for unknown feed")
	}
}

func TestCombinedPayloadShape(t *testing.T) {
	r, st, _ := testRegistry(t)

	agent := &model.Agent{CodeName: "quant_7", DisplayName: "Quant Seven", Provider: "acme"}
	st.SeedAgent(agent)
	st.SeedPosition(&model.Position{
		Asset: "AAPL", CodeName: agent.CodeName, AgentID: agent.ID,
		Quantity: nd("10"), LastPrice: nd("185"),
	})
	if err := st.InsertChatEntry(context.Background(), &model.ChatEntry{
		CodeName: agent.CodeName, AgentID: agent.ID,
		InputPrompt: "status?", OutputPrompt: "holding",
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("insert chat: %v", err)
	}

	data, err := r.buildCombined(context.Background())
	if err != nil {
		t.Fatalf("buildCombined: %v", err)
	}

	var msg combinedUpdate
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != TypeCombinedUpdate {
		t.Fatalf("type = %q", msg.Type)
	}
	if msg.TradeUpdates.Type != "trade_updates" || msg.PositionUpdates.Type != "position_updates" || msg.ChatUpdates.Type != "chat_updates" {
		t.Fatal("section type tags wrong")
	}

	positions, ok := msg.PositionUpdates.Data.([]any)
	if !ok || len(positions) != 1 {
		t.Fatalf("position_updates data = %#v, want 1 entry", msg.PositionUpdates.Data)
	}
	trades, ok := msg.TradeUpdates.Data.([]any)
	if !ok || len(trades) != 0 {
		t.Fatalf("trade_updates data = %#v, want empty array", msg.TradeUpdates.Data)
	}
	chat, ok := msg.ChatUpdates.Data.([]any)
	if !ok || len(chat) != 1 {
		t.Fatalf("chat_updates data = %#v, want 1 entry", msg.ChatUpdates.Data)
	}
}

func TestEquityPayloadGroupsAndDownsamples(t *testing.T) {
	r, st, _ := testRegistry(t)

	agent := &model.Agent{CodeName: "quant_7", DisplayName: "Quant Seven"}
	st.SeedAgent(agent)
	idle := &model.Agent{CodeName: "idle_1", DisplayName: "Idle One"}
	st.SeedAgent(idle)

	base := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	const total = 1200
	for i := 0; i < total; i++ {
		if err := st.InsertEquitySnapshot(context.Background(), &model.EquitySnapshot{
			AgentID:      agent.ID,
			CodeName:     agent.CodeName,
			AccountValue: nd("1000"),
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("insert snapshot: %v", err)
		}
	}

	data, err := r.buildEquity(context.Background(), TypeEquityUpdate)
	if err != nil {
		t.Fatalf("buildEquity: %v", err)
	}

	var msg equityMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != TypeEquityUpdate {
		t.Fatalf("type = %q", msg.Type)
	}
	if msg.TotalGroups != 1 {
		t.Fatalf("total_groups = %d, want 1 (agents without history omitted)", msg.TotalGroups)
	}

	group, ok := msg.Data["1"]
	if !ok {
		t.Fatalf("group for agent 1 missing, keys: %v", keys(msg.Data))
	}
	if group.TotalPoints != 500 || len(group.DataPoints) != 500 {
		t.Fatalf("points = %d/%d, want 500", group.TotalPoints, len(group.DataPoints))
	}
	if !group.FirstTimestamp.Equal(base) {
		t.Fatalf("first timestamp = %v, want %v", group.FirstTimestamp, base)
	}
	wantLast := base.Add(time.Duration(total-1) * time.Minute)
	if !group.LatestTimestamp.Equal(wantLast) {
		t.Fatalf("latest timestamp = %v, want %v", group.LatestTimestamp, wantLast)
	}
}

func keys(m map[string]EquityGroup) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestEchoPayload(t *testing.T) {
	var msg echoMessage
	if err := json.Unmarshal(echoPayload("ping"), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != TypeEcho {
		t.Fatalf("type = %q", msg.Type)
	}
	if msg.Message != "Received: ping" {
		t.Fatalf("message = %q", msg.Message)
	}
}

func TestDirection(t *testing.T) {
	cases := []struct {
		change string
		want   string
	}{
		{"2.5", "up"},
		{"-0.01", "down"},
		{"0", "neutral"},
	}
	for _, tc := range cases {
		if got := direction(d(tc.change)); got != tc.want {
			t.Errorf("direction(%s) = %q, want %q", tc.change, got, tc.want)
		}
	}
}
