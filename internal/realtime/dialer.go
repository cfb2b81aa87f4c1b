package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lexiqai/voice-bridge/internal/config"
	"github.com/lexiqai/voice-bridge/internal/observability"
	"github.com/lexiqai/voice-bridge/internal/session"
	"github.com/pion/webrtc/v4"
)

// Signaler performs the HTTP exchanges needed before media can flow
type Signaler interface {
	AcquireCredential(ctx context.Context) (string, error)
	ExchangeDescription(ctx context.Context, localSDP, token string) (string, error)
}

// Dialer establishes AI transports for sessions
type Dialer struct {
	signaling    Signaler
	iceServers   []webrtc.ICEServer
	queueSize    int
	instructions string
	voice        string
}

// NewDialer creates a dialer using signaling for credentials and SDP exchange
func NewDialer(cfg *config.Config, signaling Signaler) *Dialer {
	var iceServers []webrtc.ICEServer
	if len(cfg.ICEServerURLs) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: cfg.ICEServerURLs}}
	}

	return &Dialer{
		signaling:    signaling,
		iceServers:   iceServers,
		queueSize:    cfg.AIFrameQueueSize,
		instructions: cfg.RealtimeInstructions,
		voice:        cfg.RealtimeVoice,
	}
}

// Negotiate acquires a credential, builds a peer connection, and completes the
// offer/answer exchange. ctx bounds the whole negotiation including ICE
// gathering. On error every resource created so far is released.
func (d *Dialer) Negotiate(ctx context.Context, callID string) (session.Transport, error) {
	logger := observability.GetLogger().With().
		Str("component", "transport").
		Str("call_id", callID).
		Logger()

	token, err := d.signaling.AcquireCredential(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire credential: %w", err)
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypePCMU,
			ClockRate: codecSampleRate,
			Channels:  1,
		},
		PayloadType: 0,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("failed to register PCMU codec: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: d.iceServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	t := newTransport(callID, d.queueSize, logger)
	t.pc = pc

	fail := func(err error) (session.Transport, error) {
		_ = t.Close()
		return nil, err
	}

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypePCMU,
		ClockRate: codecSampleRate,
		Channels:  1,
	}, "audio", "voice-bridge-"+callID)
	if err != nil {
		return fail(fmt.Errorf("failed to create audio track: %w", err))
	}
	t.track = track

	transceiver, err := pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to add audio transceiver: %w", err))
	}

	// RTCP must be drained for interceptors to make progress
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := transceiver.Sender().Read(buf); err != nil {
				return
			}
		}
	}()

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		logger.Info().
			Str("mime_type", remote.Codec().MimeType).
			Msg("Remote audio track started")
		go t.readRemote(remote)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug().Str("state", state.String()).Msg("Peer connection state changed")
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			t.end()
		}
	})

	control, err := pc.CreateDataChannel(controlChannelLabel, nil)
	if err != nil {
		return fail(fmt.Errorf("failed to create control channel: %w", err))
	}
	control.OnOpen(func() {
		update, err := d.sessionUpdate()
		if err != nil {
			logger.Error().Err(err).Msg("Failed to encode session update")
			return
		}
		if err := control.SendText(string(update)); err != nil {
			logger.Warn().Err(err).Msg("Failed to send session update")
		}
	})
	control.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.handleControl(msg.Data)
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fail(fmt.Errorf("failed to create offer: %w", err))
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fail(fmt.Errorf("failed to set local description: %w", err))
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return fail(fmt.Errorf("ICE gathering interrupted: %w", ctx.Err()))
	}

	answer, err := d.signaling.ExchangeDescription(ctx, pc.LocalDescription().SDP, token)
	if err != nil {
		return fail(fmt.Errorf("failed to exchange description: %w", err))
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return fail(fmt.Errorf("failed to set remote description: %w", err))
	}

	logger.Info().Msg("AI transport negotiated")
	return t, nil
}

// sessionUpdate builds the first message sent on the control channel
func (d *Dialer) sessionUpdate() ([]byte, error) {
	sess := map[string]interface{}{
		"type":         "realtime",
		"instructions": d.instructions,
		"audio": map[string]interface{}{
			"input": map[string]interface{}{
				"turn_detection": map[string]interface{}{
					"type": "server_vad",
				},
			},
		},
	}
	if d.voice != "" {
		sess["audio"].(map[string]interface{})["output"] = map[string]interface{}{
			"voice": d.voice,
		}
	}

	return json.Marshal(map[string]interface{}{
		"type":    "session.update",
		"session": sess,
	})
}
