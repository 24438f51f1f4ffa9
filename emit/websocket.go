package emit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// clientBuffer is the number of messages queued per client before new
	// messages are dropped for that client
	clientBuffer = 8
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

// wsClient is a connected browser renderer
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Hub serves the live bone feed on GET /bones, pushing every message as
// JSON to each connected client
type Hub struct {
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
	clients  map[string]*wsClient
	dropped  atomic.Uint64
	closed   bool
	sync.Mutex
}

// NewHub returns a hub with no clients
func NewHub(log logrus.FieldLogger) *Hub {

	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// renderers are served from other origins
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:     log,
		clients: make(map[string]*wsClient),
	}
}

// ServeHTTP upgrades the request and registers the client
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {

	conn, err := h.upgrader.Upgrade(w, r, nil)

	if err != nil {
		h.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	c := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, clientBuffer),
		done: make(chan struct{}),
	}

	h.Lock()

	if h.closed {
		h.Unlock()
		conn.Close()
		return
	}

	h.clients[c.id] = c
	h.Unlock()

	h.log.WithFields(logrus.Fields{
		"client": c.id,
		"remote": r.RemoteAddr,
	}).Info("WebSocket client connected")

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop discards client messages and removes the client when the
// connection ends
func (h *Hub) readLoop(c *wsClient) {

	defer h.remove(c)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop sends queued messages and keep alive pings
func (h *Hub) writeLoop(c *wsClient) {

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.WithError(err).WithField("client", c.id).Debug("WebSocket write failed")
				h.remove(c)
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil,
				time.Now().Add(writeTimeout)); err != nil {
				h.remove(c)
				return
			}

		case <-c.done:
			return
		}
	}
}

// remove unregisters and closes a client
func (h *Hub) remove(c *wsClient) {
	h.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	h.Unlock()

	c.close()

	if ok {
		h.log.WithField("client", c.id).Info("WebSocket client disconnected")
	}
}

// Publish queues the message for every client.  Clients whose queue is full
// miss the message
func (h *Hub) Publish(ctx context.Context, msg Message) error {

	data, err := Encode(msg, EncodingJSON)

	if err != nil {
		return fmt.Errorf("failed to marshal skeleton message: %w", err)
	}

	h.Lock()
	defer h.Unlock()

	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.dropped.Add(1)
		}
	}

	return nil
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.Lock()
	defer h.Unlock()
	return len(h.clients)
}

// Dropped returns the number of messages clients missed
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close disconnects every client
func (h *Hub) Close() error {
	h.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[string]*wsClient)
	h.Unlock()

	for _, c := range clients {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(time.Second))
		c.close()
	}

	return nil
}
