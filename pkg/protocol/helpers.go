package protocol

import (
	"time"

	"github.com/teslashibe/go-proctor/pkg/events"
	"github.com/teslashibe/go-proctor/pkg/gaze"
	"github.com/teslashibe/go-proctor/pkg/objects"
	"github.com/teslashibe/go-proctor/pkg/report"
	"github.com/teslashibe/go-proctor/pkg/risk"
)

// SummaryData carries the final payload of a session.
type SummaryData struct {
	SessionID string         `json:"session_id"`
	Payload   report.Payload `json:"payload"`
}

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewSessionMessage creates a session_start, session_end or session_reset message
func NewSessionMessage(msgType MessageType, at time.Time) (*Message, error) {
	return NewMessage(msgType, SessionData{At: Millis(at)})
}

// NewGazeMessage creates a gaze message from a measurement in degrees
func NewGazeMessage(m gaze.Measurement) (*Message, error) {
	return NewMessage(TypeGaze, GazeData{
		Yaw:            m.Yaw,
		Pitch:          m.Pitch,
		Roll:           m.Roll,
		Units:          UnitsDegrees,
		FaceDetected:   m.FaceDetected,
		FaceConfidence: m.FaceConfidence,
		IsCentered:     m.IsCentered,
		SampledAt:      Millis(m.SampledAt),
	})
}

// NewObjectsMessage creates an objects message
func NewObjectsMessage(at time.Time, hits []objects.Hit) (*Message, error) {
	data := ObjectsData{At: Millis(at), Hits: make([]HitData, len(hits))}
	for i, h := range hits {
		data.Hits[i] = HitData{
			Label: h.Label,
			Score: h.Score,
			Box:   &BoxData{X: h.Box.X, Y: h.Box.Y, W: h.Box.W, H: h.Box.H},
		}
	}
	return NewMessage(TypeObjects, data)
}

// NewTabSwitchMessage creates a tab_switch message
func NewTabSwitchMessage(at time.Time) (*Message, error) {
	return NewMessage(TypeTabSwitch, TabSwitchData{At: Millis(at)})
}

// NewTickMessage creates a tick message
func NewTickMessage(at time.Time) (*Message, error) {
	return NewMessage(TypeTick, TickData{At: Millis(at)})
}

// NewAckMessage creates an ack message
func NewAckMessage(data AckData) (*Message, error) {
	return NewMessage(TypeAck, data)
}

// NewErrorMessage creates an error message
func NewErrorMessage(forType MessageType, code, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorData{
		For:     forType,
		Code:    code,
		Message: message,
	})
}

// NewEventMessage creates an event message for dashboards
func NewEventMessage(e events.Event) (*Message, error) {
	return NewMessage(TypeEvent, e)
}

// NewRiskMessage creates a risk message for dashboards
func NewRiskMessage(r risk.Output) (*Message, error) {
	return NewMessage(TypeRisk, RiskData{
		Score: r.Score,
		Level: string(r.Level),
	})
}

// NewSummaryMessage creates a summary message for dashboards
func NewSummaryMessage(sessionID string, p report.Payload) (*Message, error) {
	return NewMessage(TypeSummary, SummaryData{
		SessionID: sessionID,
		Payload:   p,
	})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// At converts Unix milliseconds to a time, using fallback when ms is 0.
func At(ms int64, fallback time.Time) time.Time {
	if ms == 0 {
		return fallback
	}
	return FromMillis(ms)
}

// GetSessionData extracts session data from a message
func (m *Message) GetSessionData() (*SessionData, error) {
	var data SessionData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetGazeData extracts gaze data from a message
func (m *Message) GetGazeData() (*GazeData, error) {
	var data GazeData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Measurement converts the sample to degrees. A missing sample time
// falls back to the given time.
func (g *GazeData) Measurement(fallback time.Time) gaze.Measurement {
	m := gaze.Measurement{
		Yaw:            g.Yaw,
		Pitch:          g.Pitch,
		Roll:           g.Roll,
		FaceDetected:   g.FaceDetected,
		FaceConfidence: g.FaceConfidence,
		IsCentered:     g.IsCentered,
		SampledAt:      At(g.SampledAt, fallback),
	}
	if g.Units == UnitsRadians {
		m.Yaw = gaze.Degrees(g.Yaw)
		m.Pitch = gaze.Degrees(g.Pitch)
		m.Roll = gaze.Degrees(g.Roll)
	}
	return m
}

// GetObjectsData extracts an objects batch from a message
func (m *Message) GetObjectsData() (*ObjectsData, error) {
	var data ObjectsData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// ObjectHits converts the batch to detector hits.
func (o *ObjectsData) ObjectHits() []objects.Hit {
	hits := make([]objects.Hit, len(o.Hits))
	for i, h := range o.Hits {
		hits[i] = objects.Hit{Label: h.Label, Score: h.Score}
		if h.Box != nil {
			hits[i].Box = objects.BoundingBox{X: h.Box.X, Y: h.Box.Y, W: h.Box.W, H: h.Box.H}
		}
	}
	return hits
}

// GetTabSwitchData extracts tab switch data from a message
func (m *Message) GetTabSwitchData() (*TabSwitchData, error) {
	var data TabSwitchData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetTickData extracts tick data from a message
func (m *Message) GetTickData() (*TickData, error) {
	var data TickData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetAckData extracts ack data from a message
func (m *Message) GetAckData() (*AckData, error) {
	var data AckData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetErrorData extracts error data from a message
func (m *Message) GetErrorData() (*ErrorData, error) {
	var data ErrorData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetEvent extracts a logged event from a message
func (m *Message) GetEvent() (*events.Event, error) {
	var data events.Event
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetRiskData extracts risk data from a message
func (m *Message) GetRiskData() (*RiskData, error) {
	var data RiskData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetSummaryData extracts summary data from a message
func (m *Message) GetSummaryData() (*SummaryData, error) {
	var data SummaryData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
