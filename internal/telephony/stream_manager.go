package telephony

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/voice-bridge/internal/observability"
	"github.com/lexiqai/voice-bridge/internal/protocol"
	"github.com/lexiqai/voice-bridge/internal/session"
	"github.com/rs/zerolog"
)

// Frames are one 20 ms payload plus envelope; anything far larger is hostile
const maxMessageBytes = 64 * 1024

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Carriers connect server-to-server without an Origin to check
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// streamManager routes the events of one carrier socket to its sessions
type streamManager struct {
	conn     *Conn
	registry *session.Registry
	logger   zerolog.Logger
}

// HandleMediaStreamWS is the entry point for carrier media-stream websockets
func HandleMediaStreamWS(registry *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := observability.WithCorrelationID("").
			With().
			Str("component", "telephony").
			Str("remote_addr", r.RemoteAddr).
			Logger()

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied to the client
			logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
			return
		}
		ws.SetReadLimit(maxMessageBytes)

		conn := NewConn(ws)
		defer conn.Close()

		logger.Info().Msg("Media stream connected")

		m := &streamManager{
			conn:     conn,
			registry: registry,
			logger:   logger,
		}
		m.readLoop()

		conn.MarkClosed()
		removed := registry.RemoveAllOwnedBy(conn)
		logger.Info().Int("sessions", removed).Msg("Media stream closed")
	}
}

// readLoop handles frames until the socket fails or closes
func (m *streamManager) readLoop() {
	for {
		_, data, err := m.conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			observability.RecordDrop("in", observability.DropMalformed)
			m.logger.Warn().Err(err).Msg("Ignoring malformed frame")
			continue
		}

		m.route(msg)
	}
}

func (m *streamManager) route(msg *protocol.Message) {
	switch msg.Event {
	case protocol.EventConnected:
		m.logger.Debug().Msg("Carrier stream handshake")

	case protocol.EventStart:
		s, err := m.registry.CreateIfAbsent(msg.StreamSid, m.conn)
		if err != nil {
			m.logger.Warn().Err(err).Str("call_id", msg.StreamSid).Msg("Rejecting start")
			return
		}
		m.logger.Info().Str("call_id", msg.StreamSid).Msg("Call started")
		s.Start()

	case protocol.EventMedia:
		s, ok := m.owned(msg.StreamSid)
		if !ok {
			observability.RecordDrop("in", observability.DropNotActive)
			return
		}
		s.PushMedia(msg.Media.Payload, msg.Media.Timestamp)

	case protocol.EventStop:
		if _, ok := m.owned(msg.StreamSid); !ok {
			m.logger.Debug().Str("call_id", msg.StreamSid).Msg("Stop for unknown call")
			return
		}
		m.logger.Info().Str("call_id", msg.StreamSid).Msg("Call stopped")
		m.registry.Remove(msg.StreamSid)

	case protocol.EventMark:
		m.logger.Debug().Str("call_id", msg.StreamSid).Str("mark", markName(msg)).Msg("Carrier mark")

	default:
		m.logger.Debug().Str("event", msg.Event).Msg("Ignoring unknown event")
	}
}

// owned returns the session for callID if this socket carries it
func (m *streamManager) owned(callID string) (*session.Session, bool) {
	s, err := m.registry.Get(callID)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			m.logger.Error().Err(err).Str("call_id", callID).Msg("Session lookup failed")
		}
		return nil, false
	}
	if s.Owner() != session.Telephony(m.conn) {
		m.logger.Warn().Str("call_id", callID).Msg("Ignoring event for a call owned by another stream")
		return nil, false
	}
	return s, true
}

func markName(msg *protocol.Message) string {
	if msg.Mark == nil {
		return ""
	}
	return msg.Mark.Name
}
