package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lexiqai/voice-bridge/internal/audio"
	"github.com/lexiqai/voice-bridge/internal/observability"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
)

const (
	// PCMU carries G.711 mu-law at a fixed 8 kHz clock
	codecSampleRate = 8000
	codecFrameMs    = 20

	controlChannelLabel = "oai-events"
)

// ErrTransportClosed is returned by Send after the transport was torn down
var ErrTransportClosed = errors.New("transport closed")

// Transport is one established WebRTC connection to the AI endpoint. Audio
// written with Send is encoded onto the outgoing track; audio received on the
// remote track is published on Frames.
type Transport struct {
	callID string
	pc     *webrtc.PeerConnection
	track  *webrtc.TrackLocalStaticSample
	logger zerolog.Logger

	sendMu  sync.Mutex
	chunker *audio.FrameChunker

	queue  *audio.FrameQueue
	frames chan audio.Frame

	done      chan struct{}
	closeOnce sync.Once
	endOnce   sync.Once
}

func newTransport(callID string, queueSize int, logger zerolog.Logger) *Transport {
	t := &Transport{
		callID:  callID,
		logger:  logger,
		chunker: audio.NewFrameChunker(audio.FrameSize(codecSampleRate, codecFrameMs)),
		queue:   audio.NewFrameQueue(queueSize),
		frames:  make(chan audio.Frame),
		done:    make(chan struct{}),
	}
	go t.deliver()
	return t
}

// Send resamples samples to the codec clock and writes them to the outgoing
// track in 20 ms samples. A partial trailing sample is held until the next call.
func (t *Transport) Send(samples []float64, rate int) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	resampled := audio.Resample(samples, rate, codecSampleRate)
	if len(resampled) == 0 {
		return nil
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	for _, pcm := range t.chunker.Push(audio.FloatToPCM16(resampled)) {
		ulaw, err := audio.EncodeMulaw(pcm)
		if err != nil {
			return fmt.Errorf("failed to encode audio: %w", err)
		}
		if t.track == nil {
			continue
		}
		if err := t.track.WriteSample(media.Sample{
			Data:     ulaw,
			Duration: codecFrameMs * time.Millisecond,
		}); err != nil {
			return fmt.Errorf("failed to write sample: %w", err)
		}
	}

	return nil
}

// Frames returns decoded audio received from the AI endpoint. The channel is
// closed when the transport is closed or the connection fails.
func (t *Transport) Frames() <-chan audio.Frame {
	return t.frames
}

// Close tears down the peer connection. It is safe to call more than once.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		t.end()
		if t.pc != nil {
			err = t.pc.Close()
		}
		t.logger.Debug().
			Uint64("dropped_frames", t.queue.Dropped()).
			Int("undelivered_frames", t.queue.Len()).
			Msg("AI transport closed")
	})
	return err
}

// end stops accepting received audio; Frames closes once the backlog drains
func (t *Transport) end() {
	t.endOnce.Do(t.queue.Close)
}

// receive queues one decoded RTP payload for delivery
func (t *Transport) receive(ulaw []byte) {
	if len(ulaw) == 0 {
		return
	}
	frame := audio.NewFrame(audio.DecodeMulaw(ulaw), codecSampleRate, time.Now())
	if evicted := t.queue.Push(frame); evicted {
		observability.RecordDrop("out", observability.DropAIBacklog)
	}
}

// deliver is the only writer of t.frames
func (t *Transport) deliver() {
	defer close(t.frames)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		frame, ok := t.queue.Pop(ctx)
		if !ok {
			return
		}
		select {
		case t.frames <- frame:
		case <-t.done:
			return
		}
	}
}

// readRemote pumps RTP from the remote audio track until it ends
func (t *Transport) readRemote(track *webrtc.TrackRemote) {
	defer t.end()

	if !strings.EqualFold(track.Codec().MimeType, webrtc.MimeTypePCMU) {
		t.logger.Error().
			Str("mime_type", track.Codec().MimeType).
			Msg("Unsupported remote audio codec")
		return
	}

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			t.logger.Debug().Err(err).Msg("Remote audio track ended")
			return
		}
		t.receive(pkt.Payload)
	}
}

// controlEvent is the envelope shared by control-channel messages
type controlEvent struct {
	Type  string `json:"type"`
	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// handleControl logs events received on the control channel
func (t *Transport) handleControl(data []byte) {
	var evt controlEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		t.logger.Debug().Err(err).Msg("Ignoring undecodable control event")
		return
	}

	if evt.Type == "error" && evt.Error != nil {
		t.logger.Warn().
			Str("error_type", evt.Error.Type).
			Str("error_code", evt.Error.Code).
			Str("error_message", evt.Error.Message).
			Msg("AI endpoint reported an error")
		return
	}

	t.logger.Debug().Str("event_type", evt.Type).Msg("Control event")
}
