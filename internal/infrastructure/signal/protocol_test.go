package signal

import (
	"encoding/json"
	"testing"

	"voicemesh/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEvent_Envelope(t *testing.T) {
	data, err := EncodeEvent(domain.JoinRejected{Reason: "session full"})
	require.NoError(t, err)

	var msg ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "join_rejected", msg.Type)

	var payload domain.JoinRejected
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "session full", payload.Reason)
}

func TestEncodeEvent_RosterPayload(t *testing.T) {
	ev := domain.JoinAccepted{
		SessionID:     "sess_1",
		ParticipantID: "part_1",
		Role:          domain.RoleHost,
		SSRC:          42,
		Roster: []domain.ParticipantInfo{
			{ID: "part_1", DisplayName: "alice", Role: domain.RoleHost, SSRC: 42},
		},
	}
	data, err := EncodeEvent(ev)
	require.NoError(t, err)

	var msg ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "join_accepted", msg.Type)

	var payload domain.JoinAccepted
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, ev, payload)
}

func TestEncodeError(t *testing.T) {
	data := EncodeError("rate limit exceeded")

	var msg ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, TypeError, msg.Type)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "rate limit exceeded", payload.Message)
}

func TestAudioFrame_RoundTrip(t *testing.T) {
	in := &domain.AudioPacket{
		SSRC:      0xdeadbeef,
		Sequence:  4711,
		Timestamp: 960,
		Payload:   []byte{0x01, 0x02, 0x03},
	}

	data, err := EncodeAudioFrame(in)
	require.NoError(t, err)
	assert.Equal(t, frameAudio, data[0])

	out, err := DecodeAudioFrame(data)
	require.NoError(t, err)
	assert.Equal(t, in.SSRC, out.SSRC)
	assert.Equal(t, in.Sequence, out.Sequence)
	assert.Equal(t, in.Timestamp, out.Timestamp)
	assert.Equal(t, in.Payload, out.Payload)
}

func TestDecodeAudioFrame_Malformed(t *testing.T) {
	cases := [][]byte{
		nil,
		{},
		{frameAudio},
		{0x02, 0x00, 0x00},             // unknown tag
		{frameAudio, 0x00},             // truncated RTP header
		{frameAudio, 0xff, 0xff, 0xff}, // garbage header
	}
	for _, data := range cases {
		_, err := DecodeAudioFrame(data)
		assert.ErrorIs(t, err, ErrBadFrame, "input %v", data)
	}
}

func TestClientMessage_JoinPayload(t *testing.T) {
	raw := []byte(`{"type":"join","payload":{"session_id":"sess_1","create":true,"display_name":"alice"}}`)

	var msg ClientMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, TypeJoin, msg.Type)

	var payload JoinPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "sess_1", payload.SessionID)
	assert.True(t, payload.Create)
	assert.Equal(t, "alice", payload.DisplayName)
}
