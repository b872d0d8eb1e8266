package hub

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 45 * time.Second
	pingPeriod     = 15 * time.Second
	maxPayloadSize = 1 << 20
	sendQueueSize  = 64
)

// Role classifies an authenticated connection.
type Role int

const (
	// RoleNone is the state before a successful join.
	RoleNone Role = iota
	// RoleViewer is a read-only connection counted toward capacity.
	RoleViewer
	// RolePresenter is the authoritative connection; exempt from rate
	// limits and allowed to run polls and draw.
	RolePresenter
	// RolePresenterPanel is the presenter's side panel; authenticated but
	// not counted as a viewer.
	RolePresenterPanel
	// RoleChatOnly participates in chat and polls without counting as a
	// viewer.
	RoleChatOnly
)

func (r Role) String() string {
	switch r {
	case RoleViewer:
		return "viewer"
	case RolePresenter:
		return "presenter"
	case RolePresenterPanel:
		return "presenterPanel"
	case RoleChatOnly:
		return "chatOnly"
	default:
		return "none"
	}
}

// Client is one websocket connection and its session metadata. All metadata
// fields are guarded by the hub's mutex.
type Client struct {
	id   string
	conn *websocket.Conn
	hub  *Hub
	send chan []byte
	done chan struct{}

	// writeMu serializes socket writes between the write pump and close
	// frames sent from other goroutines.
	writeMu sync.Mutex

	// Guarded by hub.mu.
	authenticated   bool
	role            Role
	nickname        string
	countedAsViewer bool
	isLocal         bool
}

// ID returns the connection's opaque identifier.
func (c *Client) ID() string { return c.id }

func newClient(h *Hub, conn *websocket.Conn, isLocal bool) *Client {
	return &Client{
		id:      uuid.NewString(),
		conn:    conn,
		hub:     h,
		send:    make(chan []byte, sendQueueSize),
		done:    make(chan struct{}),
		isLocal: isLocal,
	}
}

// isLoopback reports whether the request originates from the local machine.
// Loopback is what qualifies a connection for presenter roles.
func isLoopback(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(strings.TrimPrefix(host, "::ffff:"))
	return ip != nil && ip.IsLoopback()
}

// enqueue queues an already-marshaled frame for delivery. A full queue
// evicts the oldest frame so the freshest state still goes out; a slow
// consumer must never block delivery to others.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
	}
	select {
	case <-c.send:
		if c.hub.metrics != nil {
			c.hub.metrics.DroppedMessages.Inc()
		}
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		if c.hub.metrics != nil {
			c.hub.metrics.DroppedMessages.Inc()
		}
		return false
	}
}

// readPump reads inbound frames and dispatches them to the hub. It exits
// on any read error, which triggers the same cleanup as a graceful close.
func (c *Client) readPump() {
	defer c.hub.dropClient(c)

	c.conn.SetReadLimit(maxPayloadSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var env inboundEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.hub.logger.Warn("malformed frame dropped", "client", c.id, "error", err)
			continue
		}
		c.hub.handleMessage(c, &env)
	}
}

// writePump drains the send queue onto the socket and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// closeWith sends a close frame with the given code and closes the socket.
func (c *Client) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.write(websocket.CloseMessage, msg)
	_ = c.conn.Close()
}
