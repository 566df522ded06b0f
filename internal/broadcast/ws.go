package broadcast

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	readDeadline = 60 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// wsSink adapts a websocket connection to the Sink interface. gorilla/websocket
// allows at most one concurrent writer, so all writes (feed payloads, echoes,
// pings) funnel through one mutex.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSink) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}

func (s *wsSink) Close() error {
	return s.conn.Close()
}

// HandleCombinedWS upgrades the request and attaches it to the combined feed.
func (r *Registry) HandleCombinedWS(w http.ResponseWriter, req *http.Request) {
	r.serveWS(w, req, FeedCombined, false)
}

// HandlePriceWS upgrades the request and attaches it to the price feed. Client
// text messages are echoed back as keep-alives.
func (r *Registry) HandlePriceWS(w http.ResponseWriter, req *http.Request) {
	r.serveWS(w, req, FeedPrice, true)
}

// HandleEquityWS upgrades the request and attaches it to the equity feed.
// Client text messages are echoed back as keep-alives.
func (r *Registry) HandleEquityWS(w http.ResponseWriter, req *http.Request) {
	r.serveWS(w, req, FeedEquity, true)
}

func (r *Registry) serveWS(w http.ResponseWriter, req *http.Request, feedName string, echo bool) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "feed", feedName, "err", err)
		return
	}

	sink := &wsSink{conn: conn}
	handle, err := r.Subscribe(req.Context(), feedName, sink)
	if err != nil {
		slog.Error("ws subscribe failed", "feed", feedName, "err", err)
		conn.Close()
		return
	}

	done := make(chan struct{})

	// Read pump: detects disconnects, refreshes the deadline on pongs, and
	// optionally echoes client text back.
	go func() {
		defer close(done)
		defer r.Unsubscribe(handle)
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(readDeadline))
			return nil
		})
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			conn.SetReadDeadline(time.Now().Add(readDeadline))
			if echo && msgType == websocket.TextMessage {
				if err := sink.Send(echoPayload(string(data))); err != nil {
					return
				}
			}
		}
	}()

	// Ping ticker to keep connections alive through proxies.
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := sink.ping(); err != nil {
					return
				}
			}
		}
	}()
}

// HandleStatus reports per-feed subscriber counts and loop state as JSON.
func (r *Registry) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(statusResponse{
		Timestamp: isoNow(),
		Feeds:     r.Status(),
	}); err != nil {
		slog.Error("status encode failed", "err", err)
	}
}

type statusResponse struct {
	Timestamp string       `json:"timestamp"`
	Feeds     []FeedStatus `json:"feeds"`
}
