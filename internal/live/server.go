// Package live is the optional visualization front of a running
// simulation: a WebSocket feed of depth/trade events plus a small
// read-only JSON API. It never reaches into the engine — the sim
// thread pushes snapshot copies here, and HTTP handlers read only
// those copies.
package live

import (
	"encoding/json"
	"net/http"
	"sync"

	"auctionsim/internal/orderbook"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
)

// recentTradeCap bounds the trade history kept for /api/trades.
const recentTradeCap = 200

// Level is one aggregated price level of a book snapshot.
type Level struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
	Orders   int   `json:"orders"`
}

// BookSnapshot is the published view of the book at one logical time.
type BookSnapshot struct {
	Time int64   `json:"time_ms"`
	Bids []Level `json:"bids"`
	Asks []Level `json:"asks"`
}

// TradeEvent mirrors one engine trade batch.
type TradeEvent struct {
	Seconds float64 `json:"seconds"`
	Price   int64   `json:"price"`
}

// Server broadcasts simulation events over WebSocket and serves the
// latest pushed snapshot over HTTP. It implements the engine's
// visualization sink.
type Server struct {
	hub      *Hub
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	book    BookSnapshot
	trades  []TradeEvent
	lastPx  int64
	started bool
}

func NewServer() *Server {
	s := &Server{
		hub: NewHub(),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return s
}

// AddOrder implements engine.VisualizationSink: one depth change.
func (s *Server) AddOrder(isBuy bool, volumeDelta, price int64) {
	s.hub.Broadcast(map[string]interface{}{
		"type":         "order",
		"is_buy":       isBuy,
		"volume_delta": volumeDelta,
		"price":        price,
	})
}

// AddTrade implements engine.VisualizationSink: one trade batch.
func (s *Server) AddTrade(seconds float64, price int64) {
	s.mu.Lock()
	s.trades = append(s.trades, TradeEvent{Seconds: seconds, Price: price})
	if len(s.trades) > recentTradeCap {
		s.trades = s.trades[len(s.trades)-recentTradeCap:]
	}
	s.lastPx = price
	s.mu.Unlock()

	s.hub.Broadcast(map[string]interface{}{
		"type":    "trade",
		"seconds": seconds,
		"price":   price,
	})
}

// PublishBook replaces the served snapshot. Called from the simulation
// thread between agent actions.
func (s *Server) PublishBook(snap BookSnapshot) {
	s.mu.Lock()
	s.book = snap
	s.started = true
	s.mu.Unlock()

	s.hub.Broadcast(map[string]interface{}{
		"type": "book",
		"book": snap,
	})
}

// SnapshotOrders aggregates side snapshots into price levels for
// publishing. Orders must be sorted best-first, as the engine's side
// snapshots are.
func SnapshotOrders(timeMS int64, bids, asks []*orderbook.Order) BookSnapshot {
	return BookSnapshot{
		Time: timeMS,
		Bids: aggregateLevels(bids),
		Asks: aggregateLevels(asks),
	}
}

func aggregateLevels(orders []*orderbook.Order) []Level {
	levels := make([]Level, 0)
	for _, o := range orders {
		if n := len(levels); n > 0 && levels[n-1].Price == o.Price {
			levels[n-1].Quantity += o.CurrentQuantity
			levels[n-1].Orders++
			continue
		}
		levels = append(levels, Level{Price: o.Price, Quantity: o.CurrentQuantity, Orders: 1})
	}
	return levels
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/book", s.getBook)
		r.Get("/trades", s.getTrades)
		r.Get("/status", s.getStatus)
	})
	r.Get("/ws", s.handleWebSocket)

	return r
}

func (s *Server) getBook(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	snap := s.book
	s.mu.RUnlock()
	writeJSON(w, snap)
}

func (s *Server) getTrades(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	trades := make([]TradeEvent, len(s.trades))
	copy(trades, s.trades)
	s.mu.RUnlock()
	writeJSON(w, trades)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	status := map[string]interface{}{
		"running":    s.started,
		"time_ms":    s.book.Time,
		"last_price": s.lastPx,
		"viewers":    s.hub.ClientCount(),
	}
	s.mu.RUnlock()
	writeJSON(w, status)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	s.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
