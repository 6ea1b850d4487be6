package signaling

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/BioHazard786/Warpcall/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // 64 KB - enough for WebRTC SDP messages

	sendBufferSize = 256
)

// Client is a wrapper for a single websocket connection (a participant).
type Client struct {
	// ID is assigned by the server and stable for the life of the connection.
	ID string

	hub   *Hub
	conn  *websocket.Conn
	codec protocol.Codec

	// send is a buffered channel for all outbound messages.
	// We write to this channel, and a separate goroutine (WritePump)
	// reads from it and writes to the websocket.
	send chan *protocol.Message

	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	roomID string
}

// NewClient wraps conn. A nil conn yields a detached client whose outbound
// messages are only visible through Outbound, which is what tests use.
func NewClient(hub *Hub, conn *websocket.Conn, codec protocol.Codec) *Client {
	if codec == nil {
		codec = protocol.JSONCodec
	}
	return &Client{
		ID:    uuid.NewString(),
		hub:   hub,
		conn:  conn,
		codec: codec,
		send:  make(chan *protocol.Message, sendBufferSize),
		done:  make(chan struct{}),
	}
}

// RoomID returns the room the client has joined, or "".
func (c *Client) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *Client) setRoomID(id string) {
	c.mu.Lock()
	c.roomID = id
	c.mu.Unlock()
}

// Outbound exposes the send queue.
func (c *Client) Outbound() <-chan *protocol.Message {
	return c.send
}

// Done is closed once the client has been shut down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Enqueue queues msg for delivery without blocking. A client whose buffer
// is full is too slow to keep up with signaling and gets disconnected.
func (c *Client) Enqueue(msg *protocol.Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
		slog.Warn("send buffer full, dropping client", "participant", c.ID, "type", msg.Type)
		c.hub.metrics.Dropped.WithLabelValues("slow_client").Inc()
		c.Close()
		return false
	}
}

// Close stops the pumps. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	// When this function exits (e.g., connection closes), unregister the client
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		frameType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Info("read error", "participant", c.ID, "err", err)
			}
			break
		}

		msg, err := protocol.Decode(frameType, data)
		if err != nil {
			slog.Warn("dropping malformed message", "participant", c.ID, "err", err)
			c.hub.metrics.Dropped.WithLabelValues("malformed").Inc()
			continue
		}

		c.hub.Dispatch(c, msg)
	}
}

// WritePump pumps messages from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := protocol.WriteMessage(c.conn, c.codec, message); err != nil {
				slog.Info("write error", "participant", c.ID, "err", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
