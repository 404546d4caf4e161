package marketdata

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lapinex/lapinex/internal/infrastructure/config"
	"github.com/lapinex/lapinex/pkg/metrics"
)

// frame is the wire envelope pushed to websocket clients.
type frame struct {
	Type string      `json:"type"` // "orderbook_diff" | "price_tick"
	Data interface{} `json:"data"`
}

// subscribeRequest is the only message clients send.
type subscribeRequest struct {
	Action  string   `json:"action"` // "subscribe" | "unsubscribe"
	Symbols []string `json:"symbols"`
}

// client is one websocket connection with its symbol subscriptions.
type client struct {
	conn    *websocket.Conn
	send    chan []byte
	symbols map[string]bool
	mu      sync.RWMutex
}

func (c *client) subscribed(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.symbols[symbol]
}

// Hub is a websocket Publisher keyed by bunny symbol.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader
	cfg      config.WSConfig

	mu      sync.RWMutex
	clients map[*client]bool
}

// NewHub creates a websocket hub.
func NewHub(cfg config.WSConfig, logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]bool),
	}
}

// ServeWS upgrades an HTTP request and runs the connection until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{
		conn:    conn,
		send:    make(chan []byte, h.cfg.SendQueueSize),
		symbols: make(map[string]bool),
	}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer h.drop(c)
	c.conn.SetReadLimit(h.cfg.MaxMessageSize)
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req subscribeRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			h.logger.Debug("ignoring malformed subscribe message", zap.Error(err))
			continue
		}
		c.mu.Lock()
		for _, sym := range req.Symbols {
			if req.Action == "unsubscribe" {
				delete(c.symbols, sym)
			} else {
				c.symbols[sym] = true
			}
		}
		c.mu.Unlock()
	}
}

func (h *Hub) writePump(c *client) {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.drop(c)
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
}

// broadcast sends a frame to every client subscribed to symbol. Slow clients
// lose the message rather than stalling the hub.
func (h *Hub) broadcast(symbol string, f frame) {
	payload, err := json.Marshal(f)
	if err != nil {
		h.logger.Error("failed to marshal marketdata frame", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.subscribed(symbol) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			metrics.BroadcastDropped.Inc()
		}
	}
}

// PublishDiff implements Publisher.
func (h *Hub) PublishDiff(ctx context.Context, diff OrderBookDiff) {
	h.broadcast(diff.Symbol, frame{Type: "orderbook_diff", Data: diff})
}

// PublishTick implements Publisher.
func (h *Hub) PublishTick(ctx context.Context, tick PriceTick) {
	h.broadcast(tick.Symbol, frame{Type: "price_tick", Data: tick})
}
