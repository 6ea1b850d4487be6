// Package transport is the client side of the signaling connection: a
// reconnecting WebSocket channel that reports its lifecycle as events.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/Warpcall/internal/dns"
	"github.com/BioHazard786/Warpcall/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	eventBufferSize = 64
)

// ErrClosed is returned by Send once the channel has been closed.
var ErrClosed = errors.New("transport closed")

// EventKind identifies a channel event.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventMessage
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	case EventClosed:
		return "closed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is delivered on Events. Message is set for EventMessage; Err
// carries the cause of a disconnect or of a final close.
type Event struct {
	Kind    EventKind
	Message *protocol.Message
	Err     error
}

// Options tune the reconnect policy.
type Options struct {
	// ReconnectAttempts bounds both the first dial and every reconnect.
	ReconnectAttempts int
	ReconnectDelay    time.Duration

	// Dialer overrides the default dialer, which resolves through dns.
	Dialer *websocket.Dialer
}

// Channel manages the WebSocket connection to the signaling server.
// Messages sent while disconnected are queued and written once a
// connection is back.
type Channel struct {
	url    string
	opts   Options
	dialer *websocket.Dialer

	events chan Event

	mu     sync.Mutex
	queue  []*protocol.Message
	conn   *websocket.Conn
	closed bool
	err    error

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New validates serverURL and prepares a channel. Nothing is dialed until
// Open.
func New(serverURL string, opts Options) (*Channel, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be ws or wss", serverURL)
	}

	if opts.ReconnectAttempts < 1 {
		opts.ReconnectAttempts = 1
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			NetDialContext:   dns.NewResolver().DialContext,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	dialer.Subprotocols = protocol.Subprotocols

	return &Channel{
		url:    u.String(),
		opts:   opts,
		dialer: dialer,
		events: make(chan Event, eventBufferSize),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}, nil
}

// Open dials the server. Failing every attempt is fatal: the channel is
// closed and the error returned. On success the channel keeps itself
// connected in the background until Close or until a reconnect gives up.
func (c *Channel) Open(ctx context.Context) error {
	conn, err := c.dial(ctx, false)
	if err != nil {
		c.setErr(err)
		c.shutdown()
		close(c.events)
		return err
	}

	c.wg.Add(1)
	go c.run(ctx, conn)
	return nil
}

// Events returns the event stream. It is closed after EventClosed; the
// close event itself may be dropped when nobody is reading, so consumers
// should also treat a closed stream as EventClosed and consult Err.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Err returns why the channel gave up, or nil after a requested Close.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Channel) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// Send queues msg for delivery.
func (c *Channel) Send(msg *protocol.Message) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.queue = append(c.queue, msg)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close shuts the channel down and waits for the background loop to stop.
// Safe to call more than once.
func (c *Channel) Close() error {
	c.shutdown()
	c.wg.Wait()
	return nil
}

func (c *Channel) shutdown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *Channel) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Channel) run(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()
	defer close(c.events)

	for {
		c.emit(Event{Kind: EventConnected})
		err := c.serve(conn)

		if c.isClosed() {
			c.emit(Event{Kind: EventClosed})
			return
		}

		slog.Warn("signaling connection lost", "err", err)
		c.emit(Event{Kind: EventDisconnected, Err: err})

		conn, err = c.dial(ctx, true)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				err = nil
			}
			c.setErr(err)
			c.shutdown()
			c.emit(Event{Kind: EventClosed, Err: err})
			return
		}
	}
}

// dial tries up to ReconnectAttempts times, waiting ReconnectDelay between
// tries, and before the first one when reconnecting.
func (c *Channel) dial(ctx context.Context, reconnect bool) (*websocket.Conn, error) {
	var lastErr error

	for attempt := 1; attempt <= c.opts.ReconnectAttempts; attempt++ {
		if attempt > 1 || reconnect {
			select {
			case <-time.After(c.opts.ReconnectDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-c.done:
				return nil, ErrClosed
			}
		}

		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err == nil {
			slog.Debug("connected to signaling server", "url", c.url, "attempt", attempt, "subprotocol", conn.Subprotocol())
			return conn, nil
		}

		lastErr = err
		slog.Debug("signaling dial failed", "url", c.url, "attempt", attempt, "err", err)
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", c.opts.ReconnectAttempts, lastErr)
}

// serve pumps one connection until it breaks or the channel closes.
func (c *Channel) serve(conn *websocket.Conn) error {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(conn, protocol.CodecFor(conn.Subprotocol()), stop)
	}()

	err := c.readPump(conn)

	close(stop)
	conn.Close()
	<-writerDone

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	return err
}

// readPump reads messages from the WebSocket connection.
func (c *Channel) readPump(conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		frameType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		msg, err := protocol.Decode(frameType, data)
		if err != nil {
			slog.Warn("dropping malformed message from server", "err", err)
			continue
		}

		c.emit(Event{Kind: EventMessage, Message: msg})
	}
}

// writePump drains the queue to the connection and sends periodic pings.
// A message whose write fails is put back for the next connection.
func (c *Channel) writePump(conn *websocket.Conn, codec protocol.Codec, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		if !c.flush(conn, codec) {
			conn.Close()
			return
		}

		select {
		case <-c.wake:

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}

		case <-stop:
			return

		case <-c.done:
			// Whatever was queued before Close (a leave, say) still goes out.
			c.flush(conn, codec)
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
			return
		}
	}
}

func (c *Channel) flush(conn *websocket.Conn, codec protocol.Codec) bool {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.mu.Unlock()
			return true
		}
		msg := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := protocol.WriteMessage(conn, codec, msg); err != nil {
			slog.Debug("write failed, requeueing", "type", msg.Type, "err", err)
			c.mu.Lock()
			if !c.closed {
				c.queue = append([]*protocol.Message{msg}, c.queue...)
			}
			c.mu.Unlock()
			return false
		}
	}
}

func (c *Channel) emit(ev Event) {
	if ev.Kind == EventClosed {
		select {
		case c.events <- ev:
		default:
			slog.Debug("event buffer full, dropping close event")
		}
		return
	}

	select {
	case c.events <- ev:
	case <-c.done:
	}
}
