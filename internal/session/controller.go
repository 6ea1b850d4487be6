package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BioHazard786/Warpcall/internal/protocol"
	"github.com/BioHazard786/Warpcall/internal/transport"
)

// Transport is the signaling channel the controller drives.
// *transport.Channel implements it.
type Transport interface {
	Open(ctx context.Context) error
	Send(msg *protocol.Message) error
	Events() <-chan transport.Event
	Err() error
	Close() error
}

// ControllerConfig configures a Controller. The session's Sender is the
// transport.
type ControllerConfig struct {
	RoomID    string
	NewEngine EngineFactory
	Media     MediaSource
	Observer  func(Event)
	Logger    *slog.Logger
}

// Controller feeds transport events into a PeerSession and absorbs the
// negotiation errors they produce.
type Controller struct {
	session   *PeerSession
	transport Transport
	log       *slog.Logger
}

// NewController builds the session for one room over t.
func NewController(t Transport, cfg ControllerConfig) (*Controller, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s, err := New(Config{
		RoomID:    cfg.RoomID,
		NewEngine: cfg.NewEngine,
		Sender:    t,
		Media:     cfg.Media,
		Observer:  cfg.Observer,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	return &Controller{
		session:   s,
		transport: t,
		log:       logger.With("room", cfg.RoomID),
	}, nil
}

// Session returns the controlled session.
func (c *Controller) Session() *PeerSession {
	return c.session
}

// Leave closes the session; Run returns shortly after.
func (c *Controller) Leave() {
	c.session.Close()
}

// Run opens the transport and processes events until the session closes
// or ctx is cancelled. Failing to open the transport is returned as a
// failure to join. Otherwise the result is the session's close reason,
// nil for a requested leave.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.session.Start(); err != nil {
		return err
	}

	if err := c.transport.Open(ctx); err != nil {
		c.session.HandleTransportClosed(err)
		return WrapError("join room", err, "could not reach the signaling server")
	}
	defer c.transport.Close()

	events := c.transport.Events()
	for {
		select {
		case <-ctx.Done():
			c.session.Close()
			return nil

		case <-c.session.Done():
			return c.session.Err()

		case ev, ok := <-events:
			if !ok {
				c.session.HandleTransportClosed(c.transport.Err())
				events = nil
				continue
			}
			c.handle(ev)
		}
	}
}

func (c *Controller) handle(ev transport.Event) {
	var err error

	switch ev.Kind {
	case transport.EventConnected:
		err = c.session.HandleConnected()
	case transport.EventDisconnected:
		c.session.HandleDisconnected()
	case transport.EventClosed:
		c.session.HandleTransportClosed(ev.Err)
	case transport.EventMessage:
		err = c.dispatch(ev.Message)
	}

	if err != nil && !errors.Is(err, ErrSessionClosed) {
		c.log.Warn("signaling event not applied", "event", ev.Kind, "err", err)
	}
}

func (c *Controller) dispatch(msg *protocol.Message) error {
	switch msg.Type {
	case protocol.TypeWelcome:
		return c.session.HandleWelcome(msg)
	case protocol.TypePeerReady:
		return c.session.HandlePeerReady(msg)
	case protocol.TypeUserJoined:
		return c.session.HandleUserJoined(msg)
	case protocol.TypeOffer:
		return c.session.HandleOffer(msg)
	case protocol.TypeAnswer:
		return c.session.HandleAnswer(msg)
	case protocol.TypeICECandidate:
		return c.session.HandleCandidate(msg)
	case protocol.TypePeerLeft:
		return c.session.HandlePeerLeft(msg)
	case protocol.TypeError:
		return c.session.HandleServerError(msg)
	default:
		return WrapError("dispatch", ErrUnexpectedSignal, msg.Type)
	}
}
