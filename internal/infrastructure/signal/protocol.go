package signal

import (
	"encoding/json"
	"errors"
	"fmt"

	"voicemesh/internal/core/domain"

	"github.com/pion/rtp"
)

// Client-to-server message types.
const (
	TypeJoin      = "join"
	TypeLeave     = "leave"
	TypeSetRole   = "set_role"
	TypeSetMute   = "set_mute"
	TypeHeartbeat = "heartbeat"
)

// TypeError is the server-to-client envelope for control-plane failures.
const TypeError = "error"

type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinPayload struct {
	// SessionID is the session to join, or the requested ID when Create is
	// set. Empty with Create means a server-generated ID.
	SessionID   string `json:"session_id,omitempty"`
	Create      bool   `json:"create,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Token       string `json:"token,omitempty"`
}

type SetRolePayload struct {
	TargetID string `json:"target_id"`
	Role     string `json:"role"`
}

type SetMutePayload struct {
	// TargetID empty means self.
	TargetID string `json:"target_id,omitempty"`
	Muted    bool   `json:"muted"`
}

type ServerMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// EncodeEvent wraps a domain event into the tagged wire envelope.
func EncodeEvent(ev domain.Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", ev.EventType(), err)
	}
	return json.Marshal(ServerMessage{Type: ev.EventType(), Payload: payload})
}

func EncodeError(message string) []byte {
	payload, _ := json.Marshal(ErrorPayload{Message: message})
	data, _ := json.Marshal(ServerMessage{Type: TypeError, Payload: payload})
	return data
}

// Binary websocket messages carry audio: one tag byte followed by a
// marshaled RTP packet. Sequence number, capture timestamp and SSRC live in
// the RTP header; the payload is opaque encoded audio.
const frameAudio byte = 0x01

// AudioPayloadType is the dynamic RTP payload type stamped on relayed audio.
const AudioPayloadType = 111

var ErrBadFrame = errors.New("malformed audio frame")

func EncodeAudioFrame(p *domain.AudioPacket) ([]byte, error) {
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    AudioPayloadType,
			SequenceNumber: p.Sequence,
			Timestamp:      p.Timestamp,
			SSRC:           p.SSRC,
		},
		Payload: p.Payload,
	}
	raw, err := pkt.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audio frame: %w", err)
	}

	out := make([]byte, 0, len(raw)+1)
	out = append(out, frameAudio)
	return append(out, raw...), nil
}

func DecodeAudioFrame(data []byte) (*domain.AudioPacket, error) {
	if len(data) < 2 || data[0] != frameAudio {
		return nil, ErrBadFrame
	}

	var pkt rtp.Packet
	if err := pkt.Unmarshal(data[1:]); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadFrame, err)
	}

	return &domain.AudioPacket{
		SSRC:      pkt.SSRC,
		Sequence:  pkt.SequenceNumber,
		Timestamp: pkt.Timestamp,
		Payload:   pkt.Payload,
	}, nil
}
