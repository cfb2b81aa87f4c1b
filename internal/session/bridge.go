package session

import (
	"encoding/base64"
	"time"

	"github.com/lexiqai/voice-bridge/internal/audio"
	"github.com/lexiqai/voice-bridge/internal/observability"
	"github.com/lexiqai/voice-bridge/internal/protocol"
)

// bridgeInbound moves one telephony frame to the AI transport. Failures drop
// the frame; they never end the session.
func (s *Session) bridgeInbound(active *activeState, payload, timestamp string) {
	pcm, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		s.metrics.RecordDrop("in", observability.DropMalformed)
		s.logger.Debug().Err(err).Msg("Dropping undecodable media payload")
		return
	}

	// The carrier timestamp is informational; an unparseable one is left zero
	capturedAt, _ := time.Parse(time.RFC3339Nano, timestamp)
	frame := audio.NewFrame(pcm, s.opts.TelephonySampleRate, capturedAt)

	samples, err := frame.Samples()
	if err != nil {
		s.metrics.RecordDrop("in", observability.DropMalformed)
		s.logger.Debug().Err(err).Msg("Dropping malformed PCM frame")
		return
	}

	resampled := audio.Resample(samples, s.opts.TelephonySampleRate, s.opts.AISampleRate)
	if err := active.transport.Send(resampled, s.opts.AISampleRate); err != nil {
		s.metrics.RecordDrop("in", observability.DropSendFailed)
		s.logger.Debug().Err(err).Msg("Failed to send audio to AI transport")
		return
	}

	s.metrics.RecordFrame("in", len(pcm))
	s.metrics.RecordAudio("in", frame.Duration(), audio.CalculateRMS(samples))
}

// bridgeOutbound converts one AI frame into telephony frames. Every complete
// frame consumes a sequence number; it is written only while the socket is open.
func (s *Session) bridgeOutbound(active *activeState, frame audio.Frame) {
	samples, err := frame.Samples()
	if err != nil {
		s.metrics.RecordDrop("out", observability.DropMalformed)
		s.logger.Debug().Err(err).Msg("Dropping malformed AI frame")
		return
	}

	s.metrics.RecordAudio("out", frame.Duration(), audio.CalculateRMS(samples))

	resampled := audio.Resample(samples, frame.SampleRate(), s.opts.TelephonySampleRate)
	for _, chunk := range active.chunker.Push(audio.FloatToPCM16(resampled)) {
		seq := active.seq
		active.seq++

		msg := protocol.NewMediaMessage(
			s.callID,
			base64.StdEncoding.EncodeToString(chunk),
			seq,
			s.opts.Now().UTC().Format(time.RFC3339Nano),
		)

		if !s.owner.IsOpen() {
			s.metrics.RecordDrop("out", observability.DropSocketClosed)
			continue
		}
		if err := s.owner.WriteJSON(msg); err != nil {
			s.metrics.RecordDrop("out", observability.DropSendFailed)
			s.logger.Debug().Err(err).Msg("Failed to write media to telephony socket")
			continue
		}
		s.metrics.RecordFrame("out", len(chunk))
	}
}
