// Package protocol defines the JSON messages exchanged with the carrier over
// the media-stream websocket.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event names carried in the "event" field
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
)

// Track names for media payloads
const (
	TrackInbound  = "inbound"
	TrackOutbound = "outbound"
)

// Mark names sent to acknowledge the AI leg
const (
	MarkConnected    = "connected"
	MarkDisconnected = "disconnected"
)

// ErrProtocol marks a frame that does not satisfy the wire contract
var ErrProtocol = errors.New("protocol violation")

// Message is one frame on the media-stream socket
type Message struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid,omitempty"`
	Media     *Media `json:"media,omitempty"`
	Mark      *Mark  `json:"mark,omitempty"`
}

// Media carries one frame of base64 PCM16LE mono audio
type Media struct {
	Payload   string `json:"payload"`
	Track     string `json:"track,omitempty"`
	Chunk     int64  `json:"chunk"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Mark is an out-of-band acknowledgement
type Mark struct {
	Name string `json:"name"`
}

// ParseMessage decodes one websocket frame. Frames that are not JSON, or
// that lack the fields their event requires, fail with ErrProtocol.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	switch msg.Event {
	case "":
		return nil, fmt.Errorf("%w: missing event", ErrProtocol)
	case EventConnected:
		return &msg, nil
	case EventStart, EventStop, EventMark:
		if msg.StreamSid == "" {
			return nil, fmt.Errorf("%w: %s without streamSid", ErrProtocol, msg.Event)
		}
	case EventMedia:
		if msg.StreamSid == "" {
			return nil, fmt.Errorf("%w: media without streamSid", ErrProtocol)
		}
		if msg.Media == nil || msg.Media.Payload == "" {
			return nil, fmt.Errorf("%w: media without payload", ErrProtocol)
		}
	}

	return &msg, nil
}

// NewMediaMessage builds an outbound media envelope
func NewMediaMessage(streamSid, payload string, chunk int64, timestamp string) Message {
	return Message{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media: &Media{
			Payload:   payload,
			Track:     TrackOutbound,
			Chunk:     chunk,
			Timestamp: timestamp,
		},
	}
}

// NewMarkMessage builds an outbound mark acknowledgement
func NewMarkMessage(streamSid, name string) Message {
	return Message{
		Event:     EventMark,
		StreamSid: streamSid,
		Mark:      &Mark{Name: name},
	}
}
