package events

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"staking-ledger/internal/domain"
	"staking-ledger/internal/observability"
)

// HubConfig configures websocket streaming.
type HubConfig struct {
	// SendBuffer is the number of events queued per client before it is dropped.
	SendBuffer int
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is how long a client may stay silent (pongs included).
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultHubConfig returns default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SendBuffer:   256,
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Hub is a sink that streams events to websocket clients subscribed to a pool.
type Hub struct {
	config   HubConfig
	upgrader websocket.Upgrader
	logger   *log.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	pool    domain.Pubkey
	conn    *websocket.Conn
	send    chan *domain.Event
	once    sync.Once
	backlog Backlog
	lastSeq uint64 // owned by writeLoop
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// NewHub creates a hub.
func NewHub(config *HubConfig, logger *log.Logger) *Hub {
	cfg := DefaultHubConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		config: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Name implements Sink.
func (h *Hub) Name() string { return "websocket" }

// Publish implements Sink. Clients that cannot keep up are disconnected.
func (h *Hub) Publish(_ context.Context, events []*domain.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		for _, e := range events {
			if e.Pool != c.pool {
				continue
			}
			select {
			case c.send <- e:
			default:
				h.logger.Printf("stream client of pool %s too slow, disconnecting", c.pool)
				delete(h.clients, c)
				c.close()
			}
		}
	}
	observability.SetStreamClients(len(h.clients))
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Backlog loads the committed events of a pool with Seq > afterSeq, in order.
type Backlog func(ctx context.Context, afterSeq uint64) ([]*domain.Event, error)

// Serve upgrades the request and streams events of pool with Seq > afterSeq
// until the client disconnects. The client is registered before the backlog is
// loaded, so no event falls between the two. Live events arrive in commit
// order per process only; when one skips ahead of the last written seq, the
// gap is reloaded from backlog so every event is delivered once and in order.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, pool domain.Pubkey, afterSeq uint64, backlog Backlog) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		return
	}

	c := &client{
		pool:    pool,
		conn:    conn,
		send:    make(chan *domain.Event, h.config.SendBuffer),
		backlog: backlog,
		lastSeq: afterSeq,
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	observability.SetStreamClients(len(h.clients))
	h.mu.Unlock()

	go h.readLoop(c)
	h.writeLoop(r.Context(), c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	observability.SetStreamClients(len(h.clients))
	h.mu.Unlock()
}

// readLoop discards client messages and detects disconnects.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)

	c.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *client) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		h.remove(c)
	}()

	if c.backlog != nil {
		if err := h.catchUp(ctx, c); err != nil {
			h.logger.Printf("stream of pool %s: load backlog: %v", c.pool, err)
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "backlog unavailable"))
			return
		}
	}

	for {
		select {
		case e, ok := <-c.send:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if e.Seq <= c.lastSeq {
				continue
			}
			if e.Seq > c.lastSeq+1 && c.backlog != nil {
				// e was committed, so the log holds everything up to it.
				if err := h.catchUp(ctx, c); err != nil {
					h.logger.Printf("stream of pool %s: reload after seq %d: %v", c.pool, c.lastSeq, err)
					return
				}
				if e.Seq <= c.lastSeq {
					continue
				}
			}
			if err := h.write(c, e); err != nil {
				return
			}
			c.lastSeq = e.Seq
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// catchUp writes the logged events after c.lastSeq.
func (h *Hub) catchUp(ctx context.Context, c *client) error {
	events, err := c.backlog(ctx, c.lastSeq)
	if err != nil {
		return err
	}
	for _, e := range events {
		if e.Seq <= c.lastSeq {
			continue
		}
		if err := h.write(c, e); err != nil {
			return err
		}
		c.lastSeq = e.Seq
	}
	return nil
}

func (h *Hub) write(c *client, e *domain.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	observability.SetStreamClients(0)
}
