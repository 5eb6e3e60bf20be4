// Package server streams pipeline events (state transitions, task and
// phase status, gate changes) to UI clients over WebSocket. The hub is an
// event.Sink implementation; publishing never blocks pipeline work.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/SamHATIT/fabrica/config"
	"github.com/SamHATIT/fabrica/pipeline/event"
)

// WebSocket timeout constants following Gorilla best practices
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4 * 1024
)

// sendBuffer bounds per-client queues; slow consumers drop events rather
// than stalling the pipeline.
const sendBuffer = 64

// Hub broadcasts pipeline events to all connected clients.
type Hub struct {
	allowedOrigins []string
	clients        map[*client]bool
	register       chan *client
	unregister     chan *client
	broadcast      chan event.Event
	logger         *zap.SugaredLogger
}

// NewHub creates an event hub. Run must be called before clients connect.
func NewHub(cfg config.ServerConfig, logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hub{
		allowedOrigins: cfg.AllowedOrigins,
		clients:        make(map[*client]bool),
		register:       make(chan *client),
		unregister:     make(chan *client),
		broadcast:      make(chan event.Event, 256),
		logger:         logger,
	}
}

// Publish implements event.Sink. Never blocks: if the hub is saturated
// the event is dropped.
func (h *Hub) Publish(e event.Event) {
	select {
	case h.broadcast <- e:
	default:
		h.logger.Warnw("Event hub saturated, dropping event",
			"kind", e.Kind,
			"execution_id", e.ExecutionID,
		)
	}
}

// Run owns the client set until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				c.close()
				delete(h.clients, c)
			}
			return
		case c := <-h.register:
			h.clients[c] = true
			h.logger.Debugw("Client connected", "client_id", c.id, "clients", len(h.clients))
		case c := <-h.unregister:
			if h.clients[c] {
				delete(h.clients, c)
				c.close()
				h.logger.Debugw("Client disconnected", "client_id", c.id, "clients", len(h.clients))
			}
		case e := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- e:
				default:
					h.logger.Warnw("Client send channel full, dropping event",
						"client_id", c.id)
				}
			}
		}
	}
}

// Handler returns the WebSocket upgrade endpoint.
func (h *Hub) Handler() http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warnw("WebSocket upgrade failed", "error", err, "remote", r.RemoteAddr)
			return
		}

		c := &client{
			hub:  h,
			conn: conn,
			send: make(chan event.Event, sendBuffer),
			id:   fmt.Sprintf("c_%d", time.Now().UnixNano()),
		}
		h.register <- c

		go c.writePump()
		go c.readPump()
	})
}

// checkOrigin allows same-host connections always and cross-origin
// connections only from the configured allow list. An empty list means
// local tooling only.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// ListenAndServe runs the event server until ctx is cancelled.
func (h *Hub) ListenAndServe(ctx context.Context, port int) error {
	if port == 0 {
		port = config.DefaultServerPort
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", h.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go h.Run(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	h.logger.Infow("Event server listening", "port", port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// client is one WebSocket consumer.
type client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan event.Event
	id        string
	closeOnce sync.Once
}

// readPump drains the connection. Clients only consume; inbound traffic
// is limited to control frames.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.hub.logger.Warnw("WebSocket read error", "client_id", c.id, "error", err)
			}
			return
		}
	}
}

// writePump writes events and keepalive pings to the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case e, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(e); err != nil {
				c.hub.logger.Debugw("Event write error", "client_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}
