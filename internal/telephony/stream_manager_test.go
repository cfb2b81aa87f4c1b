package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/voice-bridge/internal/audio"
	"github.com/lexiqai/voice-bridge/internal/protocol"
	"github.com/lexiqai/voice-bridge/internal/session"
)

// loopbackTransport plays every sent frame straight back as AI audio
type loopbackTransport struct {
	mu     sync.Mutex
	closed bool
	frames chan audio.Frame
}

func newLoopbackTransport() *loopbackTransport {
	return &loopbackTransport{frames: make(chan audio.Frame, 256)}
}

func (t *loopbackTransport) Send(samples []float64, rate int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("closed")
	}
	select {
	case t.frames <- audio.NewFrameFromSamples(samples, rate, time.Now()):
	default:
	}
	return nil
}

func (t *loopbackTransport) Frames() <-chan audio.Frame {
	return t.frames
}

func (t *loopbackTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.frames)
	}
	return nil
}

type loopbackNegotiator struct{}

func (loopbackNegotiator) Negotiate(ctx context.Context, callID string) (session.Transport, error) {
	return newLoopbackTransport(), nil
}

func newTestServer(t *testing.T) (*httptest.Server, *session.Registry) {
	t.Helper()
	registry := session.NewRegistry(loopbackNegotiator{}, session.Options{
		TelephonySampleRate: 8000,
		AISampleRate:        24000,
		FrameBytes:          160,
		MaxPendingFrames:    50,
		MaxPendingAIFrames:  100,
		NegotiationTimeout:  time.Second,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/streams/telephony", HandleMediaStreamWS(registry))
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, registry
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/streams/telephony"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	return ws
}

func send(t *testing.T, ws *websocket.Conn, v interface{}) {
	t.Helper()
	if err := ws.WriteJSON(v); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
}

func read(t *testing.T, ws *websocket.Conn) protocol.Message {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Invalid outbound frame %s: %v", data, err)
	}
	return msg
}

func expectMark(t *testing.T, ws *websocket.Conn, name string) {
	t.Helper()
	msg := read(t, ws)
	if msg.Event != protocol.EventMark || msg.Mark == nil || msg.Mark.Name != name {
		t.Fatalf("Expected %s mark, got %+v", name, msg)
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestMediaStream_CallLifecycle(t *testing.T) {
	server, registry := newTestServer(t)
	ws := dial(t, server)
	defer ws.Close()

	send(t, ws, map[string]string{"event": "connected"})
	send(t, ws, map[string]string{"event": "start", "streamSid": "CA1"})
	expectMark(t, ws, protocol.MarkConnected)

	silence := base64.StdEncoding.EncodeToString(make([]byte, 160))
	for i := 0; i < 50; i++ {
		send(t, ws, map[string]interface{}{
			"event":     "media",
			"streamSid": "CA1",
			"media":     map[string]interface{}{"payload": silence, "track": "inbound", "chunk": i},
		})
	}

	for i := 0; i < 50; i++ {
		msg := read(t, ws)
		if msg.Event != protocol.EventMedia {
			t.Fatalf("Expected media frame %d, got %+v", i, msg)
		}
		if msg.Media.Chunk != int64(i) {
			t.Fatalf("Expected chunk %d, got %d", i, msg.Media.Chunk)
		}
		pcm, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
		if err != nil {
			t.Fatalf("Invalid payload: %v", err)
		}
		if len(pcm) != 160 {
			t.Fatalf("Expected 160-byte frame, got %d", len(pcm))
		}
		if msg.Media.Track != protocol.TrackOutbound {
			t.Errorf("Expected outbound track, got %q", msg.Media.Track)
		}
	}

	send(t, ws, map[string]string{"event": "stop", "streamSid": "CA1"})
	expectMark(t, ws, protocol.MarkDisconnected)

	if _, err := registry.Get("CA1"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after stop, got %v", err)
	}
}

func TestMediaStream_DuplicateStart(t *testing.T) {
	server, registry := newTestServer(t)
	ws := dial(t, server)
	defer ws.Close()

	send(t, ws, map[string]string{"event": "start", "streamSid": "CA1"})
	expectMark(t, ws, protocol.MarkConnected)

	first, err := registry.Get("CA1")
	if err != nil {
		t.Fatalf("Expected session, got %v", err)
	}

	send(t, ws, map[string]string{"event": "start", "streamSid": "CA1"})

	// A round trip through the same socket shows the duplicate was handled
	silence := base64.StdEncoding.EncodeToString(make([]byte, 160))
	send(t, ws, map[string]interface{}{
		"event":     "media",
		"streamSid": "CA1",
		"media":     map[string]interface{}{"payload": silence},
	})
	if msg := read(t, ws); msg.Event != protocol.EventMedia {
		t.Fatalf("Expected media echo, got %+v", msg)
	}

	current, err := registry.Get("CA1")
	if err != nil || current != first {
		t.Error("Expected the first session to remain registered")
	}
	if first.State() != session.StateActive {
		t.Errorf("Expected first session unaffected, got %s", first.State())
	}
}

func TestMediaStream_SocketCloseEndsOwnedSessions(t *testing.T) {
	server, registry := newTestServer(t)
	ws := dial(t, server)

	ids := []string{"CA1", "CA2", "CA3"}
	for _, id := range ids {
		send(t, ws, map[string]string{"event": "start", "streamSid": id})
		expectMark(t, ws, protocol.MarkConnected)
	}

	var sessions []*session.Session
	for _, id := range ids {
		s, err := registry.Get(id)
		if err != nil {
			t.Fatalf("Expected session %s, got %v", id, err)
		}
		sessions = append(sessions, s)
	}

	ws.Close()

	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for %s to close", s.ID())
		}
		if s.State() != session.StateClosed {
			t.Errorf("Expected %s closed, got %s", s.ID(), s.State())
		}
	}
	waitUntil(t, "empty registry", func() bool { return registry.Len() == 0 })
}

func TestMediaStream_MalformedFramesIgnored(t *testing.T) {
	server, _ := newTestServer(t)
	ws := dial(t, server)
	defer ws.Close()

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	send(t, ws, map[string]string{"streamSid": "CA1"})
	send(t, ws, map[string]string{"event": "media", "streamSid": "CA1"})
	send(t, ws, map[string]string{"event": "media", "streamSid": "unknown", "media": "x"})

	send(t, ws, map[string]string{"event": "start", "streamSid": "CA1"})
	expectMark(t, ws, protocol.MarkConnected)
}

func TestMediaStream_EventsForOtherSocketIgnored(t *testing.T) {
	server, registry := newTestServer(t)
	owner := dial(t, server)
	defer owner.Close()
	intruder := dial(t, server)
	defer intruder.Close()

	send(t, owner, map[string]string{"event": "start", "streamSid": "CA1"})
	expectMark(t, owner, protocol.MarkConnected)

	send(t, intruder, map[string]string{"event": "stop", "streamSid": "CA1"})

	// Ordered behind the stop on the intruder's socket
	send(t, intruder, map[string]string{"event": "start", "streamSid": "CB1"})
	expectMark(t, intruder, protocol.MarkConnected)

	s, err := registry.Get("CA1")
	if err != nil {
		t.Fatalf("Expected CA1 to survive, got %v", err)
	}
	if s.State() != session.StateActive {
		t.Errorf("Expected CA1 active, got %s", s.State())
	}
}

func TestConn_WriteAfterMarkClosed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewConn(ws)
		defer conn.Close()

		if !conn.IsOpen() {
			t.Error("Expected new connection to be open")
		}
		conn.MarkClosed()
		if conn.IsOpen() {
			t.Error("Expected connection to report closed")
		}
		if err := conn.WriteJSON(map[string]string{"event": "mark"}); err == nil {
			t.Error("Expected write to fail after MarkClosed")
		}
	}))
	defer server.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("Expected the server to close without writing")
	}
}
