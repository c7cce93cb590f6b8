// Package ingest provides the WebSocket hub signal adapters connect to.
//
// Session control messages are applied to the engine directly. Signal
// messages (gaze, objects, tab_switch, tick) become frames stamped with the
// generation they arrived under and are queued for the engine's Run loop.
package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-proctor/pkg/protocol"
	"github.com/teslashibe/go-proctor/pkg/report"
	"github.com/teslashibe/go-proctor/pkg/session"
)

// Engine is the part of the session engine the hub drives.
type Engine interface {
	Start(now time.Time) (string, error)
	End(now time.Time) (report.Payload, error)
	Reset()
	Generation() uint64
}

// AdapterConnection represents a connected signal adapter
type AdapterConnection struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time
	LastSeen  time.Time

	mu sync.Mutex
}

// Send sends a message to the adapter
func (a *AdapterConnection) Send(msg *protocol.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	return a.Conn.WriteMessage(websocket.TextMessage, data)
}

// Hub manages WebSocket connections from signal adapters
type Hub struct {
	engine Engine
	frames chan<- session.Frame
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	adapters map[string]*AdapterConnection

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	framesQueued     atomic.Uint64
	framesDropped    atomic.Uint64
	parseErrors      atomic.Uint64
}

// NewHub creates a hub that queues frames on frames.
func NewHub(engine Engine, frames chan<- session.Frame, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		engine:   engine,
		frames:   frames,
		logger:   logger.With("component", "ingest"),
		now:      time.Now,
		adapters: make(map[string]*AdapterConnection),
	}
}

// RegisterRoutes registers WebSocket routes on a Fiber app
func (h *Hub) RegisterRoutes(app *fiber.App) {
	// WebSocket upgrade middleware
	app.Use("/ws/adapter", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/adapter", websocket.New(h.handleAdapter))
	app.Get("/ws/adapter/:id", websocket.New(h.handleAdapter))
}

// handleAdapter handles an adapter WebSocket connection
func (h *Hub) handleAdapter(c *websocket.Conn) {
	adapterID := c.Params("id")
	if adapterID == "" {
		adapterID = uuid.New().String()
	}

	adapter := &AdapterConnection{
		ID:        adapterID,
		Conn:      c,
		Connected: h.now(),
		LastSeen:  h.now(),
	}

	h.mu.Lock()
	h.adapters[adapterID] = adapter
	count := len(h.adapters)
	h.mu.Unlock()

	h.logger.Info("adapter connected", "adapter", adapterID, "total", count)

	defer func() {
		h.mu.Lock()
		// A reconnect under the same id may already have replaced us.
		if h.adapters[adapterID] == adapter {
			delete(h.adapters, adapterID)
		}
		count := len(h.adapters)
		h.mu.Unlock()

		h.logger.Info("adapter disconnected", "adapter", adapterID, "total", count)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			h.logger.Debug("adapter read error", "adapter", adapterID, "error", err)
			return
		}

		adapter.mu.Lock()
		adapter.LastSeen = h.now()
		adapter.mu.Unlock()

		h.messagesReceived.Add(1)
		if reply := h.handleMessage(adapterID, data); reply != nil {
			h.messagesSent.Add(1)
			if err := adapter.Send(reply); err != nil {
				h.logger.Warn("adapter write error", "adapter", adapterID, "error", err)
				return
			}
		}
	}
}

// handleMessage applies one adapter message and returns the reply, if any.
func (h *Hub) handleMessage(adapterID string, data []byte) *protocol.Message {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		h.parseErrors.Add(1)
		h.logger.Warn("parse error", "adapter", adapterID, "error", err)
		return errorReply("", protocol.CodeBadMessage, err)
	}

	at := msg.Time()
	if at.IsZero() {
		at = h.now()
	}

	switch msg.Type {
	case protocol.TypePing:
		pong, _ := protocol.NewPongMessage(adapterID, msg.Timestamp, h.now().UnixMilli())
		return pong

	case protocol.TypeSessionStart, protocol.TypeSessionEnd, protocol.TypeSessionReset:
		sd, err := msg.GetSessionData()
		if err != nil {
			h.parseErrors.Add(1)
			return errorReply(msg.Type, protocol.CodeBadMessage, err)
		}
		return h.handleSession(adapterID, msg.Type, protocol.At(sd.At, at))

	case protocol.TypeGaze:
		g, err := msg.GetGazeData()
		if err != nil {
			h.parseErrors.Add(1)
			return errorReply(msg.Type, protocol.CodeBadMessage, err)
		}
		m := g.Measurement(at)
		return h.enqueue(msg.Type, session.Frame{At: m.SampledAt, Gaze: &m})

	case protocol.TypeObjects:
		o, err := msg.GetObjectsData()
		if err != nil {
			h.parseErrors.Add(1)
			return errorReply(msg.Type, protocol.CodeBadMessage, err)
		}
		return h.enqueue(msg.Type, session.Frame{At: protocol.At(o.At, at), Hits: o.ObjectHits()})

	case protocol.TypeTabSwitch:
		ts, err := msg.GetTabSwitchData()
		if err != nil {
			h.parseErrors.Add(1)
			return errorReply(msg.Type, protocol.CodeBadMessage, err)
		}
		return h.enqueue(msg.Type, session.Frame{At: protocol.At(ts.At, at), TabSwitch: true})

	case protocol.TypeTick:
		td, err := msg.GetTickData()
		if err != nil {
			h.parseErrors.Add(1)
			return errorReply(msg.Type, protocol.CodeBadMessage, err)
		}
		return h.enqueue(msg.Type, session.Frame{At: protocol.At(td.At, at)})

	default:
		h.logger.Warn("unknown message type", "adapter", adapterID, "type", msg.Type)
		return errorReply(msg.Type, protocol.CodeUnknownType, fmt.Errorf("unknown message type %q", msg.Type))
	}
}

func (h *Hub) handleSession(adapterID string, t protocol.MessageType, at time.Time) *protocol.Message {
	var (
		id  string
		err error
	)
	switch t {
	case protocol.TypeSessionStart:
		id, err = h.engine.Start(at)
	case protocol.TypeSessionEnd:
		_, err = h.engine.End(at)
	case protocol.TypeSessionReset:
		h.engine.Reset()
	}
	if err != nil {
		code := protocol.CodeRejected
		if errors.Is(err, session.ErrNoSession) {
			code = protocol.CodeNoSession
		}
		h.logger.Warn("session message rejected", "adapter", adapterID, "type", t, "error", err)
		return errorReply(t, code, err)
	}

	ack, _ := protocol.NewAckMessage(protocol.AckData{For: t, SessionID: id})
	return ack
}

// enqueue stamps f with the current generation and queues it without
// blocking. A full queue drops the frame.
func (h *Hub) enqueue(t protocol.MessageType, f session.Frame) *protocol.Message {
	f.Generation = h.engine.Generation()
	select {
	case h.frames <- f:
		h.framesQueued.Add(1)
		return nil
	default:
		h.framesDropped.Add(1)
		h.logger.Warn("frame queue full, dropping", "type", t)
		return errorReply(t, protocol.CodeRejected, errors.New("frame queue full"))
	}
}

func errorReply(t protocol.MessageType, code string, err error) *protocol.Message {
	msg, _ := protocol.NewErrorMessage(t, code, err.Error())
	return msg
}

// Broadcast sends a message to all connected adapters
func (h *Hub) Broadcast(msg *protocol.Message) {
	for _, a := range h.GetAdapters() {
		h.messagesSent.Add(1)
		if err := a.Send(msg); err != nil {
			h.logger.Debug("broadcast error", "adapter", a.ID, "error", err)
		}
	}
}

// PublishSummary tells every adapter a session ended and what it scored.
func (h *Hub) PublishSummary(sessionID string, p report.Payload) {
	msg, err := protocol.NewSummaryMessage(sessionID, p)
	if err != nil {
		h.logger.Warn("summary encode failed", "session", sessionID, "error", err)
		return
	}
	h.Broadcast(msg)
}

// GetAdapter returns an adapter connection by ID
func (h *Hub) GetAdapter(adapterID string) *AdapterConnection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.adapters[adapterID]
}

// GetAdapters returns all connected adapters
func (h *Hub) GetAdapters() []*AdapterConnection {
	h.mu.RLock()
	defer h.mu.RUnlock()

	adapters := make([]*AdapterConnection, 0, len(h.adapters))
	for _, a := range h.adapters {
		adapters = append(adapters, a)
	}
	return adapters
}

// AdapterCount returns the number of connected adapters
func (h *Hub) AdapterCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.adapters)
}

// Stats contains hub statistics
type Stats struct {
	AdapterCount     int    `json:"adapter_count"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	FramesQueued     uint64 `json:"frames_queued"`
	FramesDropped    uint64 `json:"frames_dropped"`
	ParseErrors      uint64 `json:"parse_errors"`
}

// GetStats returns hub statistics
func (h *Hub) GetStats() Stats {
	return Stats{
		AdapterCount:     h.AdapterCount(),
		MessagesReceived: h.messagesReceived.Load(),
		MessagesSent:     h.messagesSent.Load(),
		FramesQueued:     h.framesQueued.Load(),
		FramesDropped:    h.framesDropped.Load(),
		ParseErrors:      h.parseErrors.Load(),
	}
}

// AdapterInfo contains info about a connected adapter
type AdapterInfo struct {
	ID        string    `json:"id"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
}

// GetAdapterInfos returns info about all connected adapters
func (h *Hub) GetAdapterInfos() []AdapterInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]AdapterInfo, 0, len(h.adapters))
	for _, a := range h.adapters {
		infos = append(infos, a.Info())
	}
	return infos
}

// Info returns a snapshot of the connection's metadata.
func (a *AdapterConnection) Info() AdapterInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AdapterInfo{
		ID:        a.ID,
		Connected: a.Connected,
		LastSeen:  a.LastSeen,
	}
}

// RegisterAPIRoutes registers API routes for adapter inspection
func (h *Hub) RegisterAPIRoutes(api fiber.Router) {
	adapters := api.Group("/adapters")

	adapters.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"adapters": h.GetAdapterInfos(),
			"count":    h.AdapterCount(),
		})
	})

	adapters.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(h.GetStats())
	})

	adapters.Get("/:id", func(c *fiber.Ctx) error {
		a := h.GetAdapter(c.Params("id"))
		if a == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "adapter not found",
			})
		}
		return c.JSON(a.Info())
	})
}
