package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/assetforge/internal/logging"
	"github.com/conneroisu/assetforge/internal/validation"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 54 * time.Second

	// Messages queued per client before it is dropped as too slow.
	sendBuffer = 64
)

// Message types pushed to browsers.
const (
	MessageBuildSuccess = "build_success"
	MessageCSSUpdate    = "css_update"
	MessageHotUpdate    = "hot_update"
	MessageFullReload   = "full_reload"
	MessageBuildError   = "build_error"
)

// Message is the JSON document sent over /ws.
type Message struct {
	Type string `json:"type"`
	// Styles lists style sheet URLs to refresh.
	Styles []string `json:"styles,omitempty"`
	// Modules lists module IDs to fetch from the hot endpoint.
	Modules  []string  `json:"modules,omitempty"`
	Errors   []Failure `json:"errors,omitempty"`
	Overlay  string    `json:"overlay,omitempty"`
	Duration string    `json:"duration,omitempty"`
	Time     time.Time `json:"time"`
}

// client is one connected browser.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// hub owns the client set. Only run touches the map; everyone else talks to
// it through the channels.
type hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
	running    atomic.Bool
	count      atomic.Int32
	logger     logging.Logger
}

func newHub(logger logging.Logger) *hub {
	return &hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (h *hub) run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		for c := range h.clients {
			delete(h.clients, c)
			close(c.send)
		}
		h.count.Store(0)
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = true
			h.count.Store(int32(len(h.clients)))
			h.logger.Debug(ctx, "client connected", "clients", len(h.clients))

		case c := <-h.unregister:
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
				h.count.Store(int32(len(h.clients)))
				h.logger.Debug(ctx, "client disconnected", "clients", len(h.clients))
			}

		case message := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// Too slow to keep up; the browser reconnects and reloads.
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.count.Store(int32(len(h.clients)))
		}
	}
}

// Broadcast queues msg for every client. Messages are dropped while the hub
// is not running.
func (h *hub) Broadcast(msg Message) {
	if !h.running.Load() {
		return
	}
	if msg.Time.IsZero() {
		msg.Time = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error(context.Background(), err, "cannot encode message", "type", msg.Type)
		data = []byte(`{"type":"` + MessageFullReload + `"}`)
	}

	select {
	case h.broadcast <- data:
	case <-h.done:
	}
}

// Clients returns the number of connected browsers.
func (h *hub) Clients() int { return int(h.count.Load()) }

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if err := validation.ValidateOrigin(r.Header.Get("Origin"), s.cfg.Server.AllowedOrigins); err != nil {
		s.logger.Warn(r.Context(), err, "websocket origin rejected", "origin", r.Header.Get("Origin"))
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The origin was checked above against a wider list than the
		// library's same-host rule.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn(r.Context(), err, "websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	// A page opened while the build is broken shows the overlay at once.
	if f := s.failures.Load(); f != nil {
		if data, err := json.Marshal(s.errorMessage(r.Context(), *f)); err == nil {
			c.send <- data
		}
	}

	select {
	case s.hub.register <- c:
	case <-s.hub.done:
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	// Browsers never send anything; CloseRead handles control frames and
	// cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	c.writePump(ctx)

	select {
	case s.hub.unregister <- c:
	case <-s.hub.done:
	}
}

// writePump sends queued messages and pings until the hub closes send or
// the connection drops.
func (c *client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case message, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
