package broadcast

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/arenalabs/arena-engine/internal/metrics"
	"github.com/arenalabs/arena-engine/internal/oracle"
	"github.com/arenalabs/arena-engine/internal/store"
)

// newWSServer stands up an httptest server with the production middleware
// chain in front of the feed handlers, so upgrades are exercised through
// every writer wrapper a deployed connection passes through.
func newWSServer(t *testing.T, r *Registry) *httptest.Server {
	t.Helper()

	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(metrics.Middleware)

	router.Get("/ws", r.HandleCombinedWS)
	router.Get("/ws/prices", r.HandlePriceWS)
	router.Get("/ws/equity", r.HandleEquityWS)
	router.Get("/ws/status", r.HandleStatus)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func dialWS(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %s: %v (status %d)", path, err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWSMessage(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	return data
}

func TestPriceFeedOverWebSocket(t *testing.T) {
	st := store.NewMemoryStore()
	orc := oracle.NewMemoryOracle()
	orc.Set("AAPL", oracle.Tick{LastPrice: d("187.35"), ChangePct: d("1.25")})

	// Long cadences keep periodic ticks out of the way; the snapshot and the
	// echo are the only messages in flight.
	r := NewRegistryWithIntervals(st, orc, time.Hour, time.Hour, time.Hour)
	srv := newWSServer(t, r)

	conn := dialWS(t, srv, "/ws/prices")

	var snapshot priceMessage
	if err := json.Unmarshal(readWSMessage(t, conn), &snapshot); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if snapshot.Type != TypeInitialPrices {
		t.Fatalf("first message type = %q, want %q", snapshot.Type, TypeInitialPrices)
	}
	if _, ok := snapshot.Data["AAPL"]; !ok {
		t.Fatal("AAPL missing from snapshot")
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write echo request: %v", err)
	}
	var echo echoMessage
	if err := json.Unmarshal(readWSMessage(t, conn), &echo); err != nil {
		t.Fatalf("unmarshal echo: %v", err)
	}
	if echo.Type != TypeEcho || echo.Message != "Received: ping" {
		t.Fatalf("echo = %+v", echo)
	}

	fs := feedStatus(r, FeedPrice)
	if fs.Subscribers != 1 || !fs.Running {
		t.Fatalf("status after connect: %+v", fs)
	}

	conn.Close()
	waitFor(t, func() bool {
		return feedStatus(r, FeedPrice).Subscribers == 0
	}, "subscriber not removed after disconnect")
}

func TestCombinedFeedOverWebSocket(t *testing.T) {
	st := store.NewMemoryStore()
	orc := oracle.NewMemoryOracle()
	r := NewRegistryWithIntervals(st, orc, 10*time.Millisecond, time.Hour, time.Hour)
	srv := newWSServer(t, r)

	conn := dialWS(t, srv, "/ws")

	// No snapshot on the combined feed; the first message is a periodic tick.
	var msg combinedUpdate
	if err := json.Unmarshal(readWSMessage(t, conn), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != TypeCombinedUpdate {
		t.Fatalf("type = %q, want %q", msg.Type, TypeCombinedUpdate)
	}
}

func TestEquityFeedSnapshotOverWebSocket(t *testing.T) {
	st := store.NewMemoryStore()
	orc := oracle.NewMemoryOracle()
	r := NewRegistryWithIntervals(st, orc, time.Hour, time.Hour, time.Hour)
	srv := newWSServer(t, r)

	conn := dialWS(t, srv, "/ws/equity")

	var msg equityMessage
	if err := json.Unmarshal(readWSMessage(t, conn), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != TypeInitialEquity {
		t.Fatalf("type = %q, want %q", msg.Type, TypeInitialEquity)
	}
}
