package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/benmeehan/knock-agent/internal/models"
	"github.com/benmeehan/knock-agent/internal/store"
	"github.com/coder/websocket"
	"github.com/rs/zerolog"
)

const (
	clientSendBuffer = 16
	writeTimeout     = 5 * time.Second
	pingInterval     = 30 * time.Second
)

// KnockHub fans store events out to connected WebSocket clients.
type KnockHub struct {
	knocks store.KnockRepository
	logger zerolog.Logger

	mu          sync.RWMutex
	clients     map[*wsClient]struct{}
	unsubscribe func()
}

// NewKnockHub creates a hub over the given store. Call Start to begin relaying.
func NewKnockHub(knocks store.KnockRepository, logger zerolog.Logger) *KnockHub {
	return &KnockHub{
		knocks:  knocks,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Start subscribes to the store.
func (h *KnockHub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.unsubscribe != nil {
		return
	}
	h.unsubscribe = h.knocks.Subscribe(h.broadcast)
}

// Close unsubscribes and disconnects every client.
func (h *KnockHub) Close() {
	h.mu.Lock()
	if h.unsubscribe != nil {
		h.unsubscribe()
		h.unsubscribe = nil
	}
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

// Len returns the number of connected clients.
func (h *KnockHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *KnockHub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *KnockHub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// broadcast runs on the store's mutating goroutine; slow clients lose events.
func (h *KnockHub) broadcast(ev models.KnockEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to serialize knock event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			h.logger.Warn().Str("knock_id", ev.Knock.ID).Msg("WebSocket client too slow, dropping event")
		}
	}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
		done: make(chan struct{}),
	}
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.done) })
}

// run writes queued events until the peer goes away or the hub closes.
func (c *wsClient) run(ctx context.Context) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case b := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, b)
			cancel()
			if err != nil {
				return err
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				return err
			}
		case <-c.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
