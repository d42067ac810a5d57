package ws

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/inkfold/inkfold/internal/ratelimit"
	"github.com/inkfold/inkfold/internal/registry"
	"github.com/inkfold/inkfold/internal/room"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 1024 * 1024
	sendBufferSize    = 512
	messagesPerSecond = 100
	messageBurst      = 200
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Limiters are shared per remote host so a reconnecting client keeps
// its bucket.
var limiters = ratelimit.NewClientLimiters(messagesPerSecond, messageBurst)

// limiterKey strips the ephemeral port: every connection carries a
// fresh one, so keying by the full address would never share a bucket.
func limiterKey(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// Client adapts one WebSocket connection to the room.Conn contract.
type Client struct {
	conn        *websocket.Conn
	send        chan []byte
	done        chan struct{}
	stopOnce    sync.Once
	room        *room.Room
	clientID    string
	rateLimiter *ratelimit.Limiter
}

// ServeWs upgrades the request and joins the client to the room named
// by the ?room= query parameter.
func ServeWs(reg *registry.Registry, w http.ResponseWriter, r *http.Request) {
	docID := r.URL.Query().Get("room")
	if docID == "" {
		docID = "default"
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade error:", err)
		return
	}

	client := &Client{
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		done:        make(chan struct{}),
		rateLimiter: limiters.Get(limiterKey(r.RemoteAddr)),
	}

	// Write pump first so the join's sync message can flow out.
	go client.writePump()

	rm, clientID, err := reg.Join(docID, client)
	if err != nil {
		log.Printf("Join failed for room %s: %v", docID, err)
		client.Close(websocket.CloseTryAgainLater, "join failed")
		return
	}
	client.room = rm
	client.clientID = clientID

	go client.readPump()
}

// Send enqueues without blocking. A full buffer means the client is not
// keeping up and is reported as a transport error; the room leaves the
// reaping to this connection's own teardown.
func (c *Client) Send(data []byte) error {
	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

// Close delivers a close frame with the given code and reason, then
// tears the connection down.
func (c *Client) Close(code int, reason string) {
	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(code, reason)
	c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	c.stop()
}

func (c *Client) stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer func() {
		c.room.HandleClose(c)
		c.stop()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		if !c.rateLimiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				log.Printf("⚠️ Rate limit exceeded for client %s in room %s (warning #%d)",
					c.clientID, c.room.DocID(), rateLimitWarnings)
			}
			if rateLimitWarnings > 1000 {
				log.Printf("🚫 Disconnecting client %s for excessive rate limit violations", c.clientID)
				return
			}
			continue
		}

		c.room.HandleMessage(c, message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.stop()
	}()

	for {
		select {
		case <-c.done:
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
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
