// Package adapter is the signal-adapter side of the ingest websocket.
// Capture and inference processes use it to stream head-pose samples,
// detector batches and browser focus changes to proctord.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-proctor/pkg/gaze"
	"github.com/teslashibe/go-proctor/pkg/objects"
	"github.com/teslashibe/go-proctor/pkg/protocol"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 5 * time.Second
	replyTimeout     = 5 * time.Second
)

// ErrNotConnected is returned when sending before Connect or after Close.
var ErrNotConnected = errors.New("adapter: not connected")

// Config holds client configuration.
type Config struct {
	URL    string // Base URL of proctord, e.g. ws://localhost:8080
	ID     string // Adapter id; empty lets the server assign one
	Logger *slog.Logger
}

// Client streams signals to the ingest hub over one websocket.
type Client struct {
	config Config
	logger *slog.Logger

	ws   *websocket.Conn
	wsMu sync.Mutex // Serializes writes

	// Session control replies, in order
	replies chan *protocol.Message
	done    chan struct{}

	connected atomic.Bool

	// Callbacks
	OnError   func(protocol.ErrorData) // Signal messages the hub rejected
	OnPong    func(protocol.PongData)
	OnSummary func(protocol.SummaryData) // Final payload when a session ends

	// Stats
	sent     atomic.Uint64
	rejected atomic.Uint64
}

// NewClient creates a client. Call Connect before sending.
func NewClient(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		config:  cfg,
		logger:  cfg.Logger.With("component", "adapter"),
		replies: make(chan *protocol.Message, 8),
		done:    make(chan struct{}),
	}
}

// Endpoint returns the websocket URL the client dials.
func (c *Client) Endpoint() (string, error) {
	u, err := url.Parse(c.config.URL)
	if err != nil {
		return "", fmt.Errorf("adapter: parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("adapter: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/adapter"
	if c.config.ID != "" {
		u.Path += "/" + url.PathEscape(c.config.ID)
	}
	return u.String(), nil
}

// Connect dials the ingest hub and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	endpoint, err := c.Endpoint()
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}
	ws, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("adapter: dial %s: %w", endpoint, err)
	}

	c.ws = ws
	c.connected.Store(true)
	go c.readLoop()

	c.logger.Info("connected", "endpoint", endpoint)
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	if !c.connected.Swap(false) {
		return nil
	}
	c.wsMu.Lock()
	defer c.wsMu.Unlock()

	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	return c.ws.Close()
}

// Done is closed when the read loop exits.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) readLoop() {
	defer func() {
		c.connected.Store(false)
		close(c.done)
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Debug("read loop ended", "error", err)
			}
			return
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			c.logger.Warn("bad message from hub", "error", err)
			continue
		}

		switch msg.Type {
		case protocol.TypeAck:
			c.reply(msg)

		case protocol.TypeError:
			ed, err := msg.GetErrorData()
			if err != nil {
				continue
			}
			if isSessionType(ed.For) {
				c.reply(msg)
				continue
			}
			c.rejected.Add(1)
			c.logger.Warn("message rejected", "for", ed.For, "code", ed.Code, "error", ed.Message)
			if c.OnError != nil {
				c.OnError(*ed)
			}

		case protocol.TypePong:
			if pd, err := msg.GetPongData(); err == nil && c.OnPong != nil {
				c.OnPong(*pd)
			}

		case protocol.TypeSummary:
			sd, err := msg.GetSummaryData()
			if err != nil {
				c.logger.Warn("bad summary from hub", "error", err)
				continue
			}
			if c.OnSummary != nil {
				c.OnSummary(*sd)
			}
		}
	}
}

func (c *Client) reply(msg *protocol.Message) {
	select {
	case c.replies <- msg:
	default:
		c.logger.Warn("dropping unclaimed reply", "type", msg.Type)
	}
}

func isSessionType(t protocol.MessageType) bool {
	return t == protocol.TypeSessionStart || t == protocol.TypeSessionEnd || t == protocol.TypeSessionReset
}

func (c *Client) send(msg *protocol.Message, err error) error {
	if err != nil {
		return err
	}
	if !c.connected.Load() {
		return ErrNotConnected
	}
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	c.wsMu.Lock()
	defer c.wsMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("adapter: write %s: %w", msg.Type, err)
	}
	c.sent.Add(1)
	return nil
}

// session sends a control message and waits for its ack.
func (c *Client) session(ctx context.Context, t protocol.MessageType, at time.Time) (protocol.AckData, error) {
	if err := c.send(protocol.NewSessionMessage(t, at)); err != nil {
		return protocol.AckData{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	select {
	case msg := <-c.replies:
		if msg.Type == protocol.TypeError {
			ed, _ := msg.GetErrorData()
			return protocol.AckData{}, fmt.Errorf("adapter: %s rejected: %s (%s)", t, ed.Message, ed.Code)
		}
		ack, err := msg.GetAckData()
		if err != nil {
			return protocol.AckData{}, err
		}
		return *ack, nil
	case <-c.done:
		return protocol.AckData{}, ErrNotConnected
	case <-ctx.Done():
		return protocol.AckData{}, fmt.Errorf("adapter: waiting for %s ack: %w", t, ctx.Err())
	}
}

// StartSession opens a session and returns its id.
func (c *Client) StartSession(ctx context.Context, at time.Time) (string, error) {
	ack, err := c.session(ctx, protocol.TypeSessionStart, at)
	return ack.SessionID, err
}

// EndSession closes the active session.
func (c *Client) EndSession(ctx context.Context, at time.Time) error {
	_, err := c.session(ctx, protocol.TypeSessionEnd, at)
	return err
}

// ResetSession discards the active session.
func (c *Client) ResetSession(ctx context.Context, at time.Time) error {
	_, err := c.session(ctx, protocol.TypeSessionReset, at)
	return err
}

// SendGaze streams one head-pose sample.
func (c *Client) SendGaze(m gaze.Measurement) error {
	return c.send(protocol.NewGazeMessage(m))
}

// SendObjects streams one detector batch.
func (c *Client) SendObjects(at time.Time, hits []objects.Hit) error {
	return c.send(protocol.NewObjectsMessage(at, hits))
}

// SendTabSwitch reports the browser losing focus.
func (c *Client) SendTabSwitch(at time.Time) error {
	return c.send(protocol.NewTabSwitchMessage(at))
}

// SendTick advances the time-quality clock.
func (c *Client) SendTick(at time.Time) error {
	return c.send(protocol.NewTickMessage(at))
}

// Ping sends a health check. The pong arrives on OnPong.
func (c *Client) Ping(id string) error {
	return c.send(protocol.NewPingMessage(id))
}

// IsConnected reports whether the connection is open.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Stats holds client counters.
type Stats struct {
	Sent     uint64 `json:"sent"`
	Rejected uint64 `json:"rejected"`
}

// Stats returns client counters.
func (c *Client) Stats() Stats {
	return Stats{
		Sent:     c.sent.Load(),
		Rejected: c.rejected.Load(),
	}
}
