package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	"voicemesh/internal/core/services"
	"voicemesh/internal/infrastructure/repositories/memory"
	"voicemesh/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServerConfig() Config {
	cfg := DefaultConfig()
	cfg.PingInterval = time.Second
	cfg.PongTimeout = 5 * time.Second
	cfg.ReadTimeout = 5 * time.Second
	cfg.WriteTimeout = time.Second
	cfg.QueueSize = 16
	return cfg
}

func startRelay(t *testing.T, cfg Config) (*Server, ports.SessionService, string) {
	t.Helper()

	log := logger.NewNop().Sugar()
	sessions := memory.NewSessionRepository()
	conns := memory.NewConnectionRegistry()
	auth := services.NewAuthService(false, "", 0)

	srv := NewServer(auth, nil, log, cfg)
	sessionSvc := services.NewSessionService(sessions, conns, srv, nil, nil, log,
		services.SessionConfig{DefaultRole: domain.RoleSpeaker, MaxParticipants: 8})
	router := services.NewAudioRouter(sessions, conns, srv, nil, log)
	srv.Attach(sessionSvc, router)

	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
	t.Cleanup(ts.Close)

	return srv, sessionSvc, "ws" + strings.TrimPrefix(ts.URL, "http")
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, url string) *testClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(msgType string, payload interface{}) {
	c.t.Helper()
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(c.t, err)
		raw = data
	}
	data, err := json.Marshal(ClientMessage{Type: msgType, Payload: raw})
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, data))
}

// expectEvent reads text frames until one of the wanted type arrives,
// skipping unrelated notifications.
func (c *testClient) expectEvent(wantType string) json.RawMessage {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		c.conn.SetReadDeadline(deadline)
		messageType, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err, "waiting for %s", wantType)
		if messageType != websocket.TextMessage {
			continue
		}
		var msg ServerMessage
		require.NoError(c.t, json.Unmarshal(data, &msg))
		if msg.Type == wantType {
			return msg.Payload
		}
	}
	c.t.Fatalf("no %s event before deadline", wantType)
	return nil
}

func (c *testClient) expectBinary() []byte {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		c.conn.SetReadDeadline(deadline)
		messageType, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err, "waiting for binary frame")
		if messageType == websocket.BinaryMessage {
			return data
		}
	}
	c.t.Fatal("no binary frame before deadline")
	return nil
}

func TestServer_JoinCreateFlow(t *testing.T) {
	_, _, url := startRelay(t, testServerConfig())

	alice := dial(t, url)
	alice.send(TypeJoin, JoinPayload{Create: true, DisplayName: "alice"})

	payload := alice.expectEvent("join_accepted")
	var accepted domain.JoinAccepted
	require.NoError(t, json.Unmarshal(payload, &accepted))
	assert.NotEmpty(t, accepted.SessionID)
	assert.Equal(t, domain.RoleHost, accepted.Role)
	assert.NotZero(t, accepted.SSRC)
	assert.Len(t, accepted.Roster, 1)
}

func TestServer_JoinRejectedUnknownSession(t *testing.T) {
	_, _, url := startRelay(t, testServerConfig())

	c := dial(t, url)
	c.send(TypeJoin, JoinPayload{SessionID: "sess_missing", DisplayName: "ghost"})

	payload := c.expectEvent("join_rejected")
	var rejected domain.JoinRejected
	require.NoError(t, json.Unmarshal(payload, &rejected))
	assert.Equal(t, "session not found", rejected.Reason)
}

func TestServer_TwoPartyAudioRelay(t *testing.T) {
	_, _, url := startRelay(t, testServerConfig())

	alice := dial(t, url)
	alice.send(TypeJoin, JoinPayload{Create: true, DisplayName: "alice"})
	var accepted domain.JoinAccepted
	require.NoError(t, json.Unmarshal(alice.expectEvent("join_accepted"), &accepted))

	bob := dial(t, url)
	bob.send(TypeJoin, JoinPayload{SessionID: string(accepted.SessionID), DisplayName: "bob"})
	bob.expectEvent("join_accepted")
	alice.expectEvent("participant_joined")

	// alice speaks, bob hears
	frame, err := EncodeAudioFrame(&domain.AudioPacket{
		Sequence:  1,
		Timestamp: 960,
		Payload:   []byte{0x0b, 0x0e},
	})
	require.NoError(t, err)
	require.NoError(t, alice.conn.WriteMessage(websocket.BinaryMessage, frame))

	data := bob.expectBinary()
	pkt, err := DecodeAudioFrame(data)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), pkt.Sequence)
	assert.Equal(t, accepted.SSRC, pkt.SSRC, "relay stamps the sender's ssrc")
	assert.Equal(t, []byte{0x0b, 0x0e}, pkt.Payload)
}

func TestServer_DisconnectNotifiesPeers(t *testing.T) {
	_, _, url := startRelay(t, testServerConfig())

	alice := dial(t, url)
	alice.send(TypeJoin, JoinPayload{Create: true, DisplayName: "alice"})
	var accepted domain.JoinAccepted
	require.NoError(t, json.Unmarshal(alice.expectEvent("join_accepted"), &accepted))

	bob := dial(t, url)
	bob.send(TypeJoin, JoinPayload{SessionID: string(accepted.SessionID), DisplayName: "bob"})
	bob.expectEvent("join_accepted")
	alice.expectEvent("participant_joined")

	// Abrupt close, no leave message
	bob.conn.Close()

	payload := alice.expectEvent("participant_left")
	var left domain.ParticipantLeft
	require.NoError(t, json.Unmarshal(payload, &left))
	assert.Equal(t, accepted.SessionID, left.SessionID)
}

func TestServer_SessionClosedDeliveredBeforeClose(t *testing.T) {
	_, sessionSvc, url := startRelay(t, testServerConfig())

	alice := dial(t, url)
	alice.send(TypeJoin, JoinPayload{Create: true, DisplayName: "alice"})
	var accepted domain.JoinAccepted
	require.NoError(t, json.Unmarshal(alice.expectEvent("join_accepted"), &accepted))

	bob := dial(t, url)
	bob.send(TypeJoin, JoinPayload{SessionID: string(accepted.SessionID), DisplayName: "bob"})
	bob.expectEvent("join_accepted")
	alice.expectEvent("participant_joined")

	sessionSvc.Shutdown(context.Background())

	// Both sockets get the final event flushed out ahead of the close frame.
	for _, c := range []*testClient{alice, bob} {
		payload := c.expectEvent("session_closed")
		var closed domain.SessionClosed
		require.NoError(t, json.Unmarshal(payload, &closed))
		assert.Equal(t, accepted.SessionID, closed.SessionID)
	}
}

func TestServer_SelfMuteOverWire(t *testing.T) {
	_, _, url := startRelay(t, testServerConfig())

	alice := dial(t, url)
	alice.send(TypeJoin, JoinPayload{Create: true, DisplayName: "alice"})
	var accepted domain.JoinAccepted
	require.NoError(t, json.Unmarshal(alice.expectEvent("join_accepted"), &accepted))

	bob := dial(t, url)
	bob.send(TypeJoin, JoinPayload{SessionID: string(accepted.SessionID), DisplayName: "bob"})
	bob.expectEvent("join_accepted")

	// Empty target means self
	bob.send(TypeSetMute, SetMutePayload{Muted: true})

	payload := alice.expectEvent("mute_changed")
	var changed domain.MuteChanged
	require.NoError(t, json.Unmarshal(payload, &changed))
	assert.True(t, changed.Muted)
	assert.Equal(t, changed.ParticipantID, changed.ChangedBy)
}

func TestServer_UnknownMessageType(t *testing.T) {
	_, _, url := startRelay(t, testServerConfig())

	c := dial(t, url)
	c.send("bogus", nil)

	payload := c.expectEvent(TypeError)
	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(payload, &errPayload))
	assert.Contains(t, errPayload.Message, "unknown message type")
}

func TestServer_ControlRateLimit(t *testing.T) {
	cfg := testServerConfig()
	cfg.RateLimitEnabled = true
	cfg.MessagesPerSecond = 1
	cfg.Burst = 1
	_, _, url := startRelay(t, cfg)

	c := dial(t, url)
	c.send(TypeJoin, JoinPayload{Create: true, DisplayName: "alice"})
	c.expectEvent("join_accepted")

	// Burst spent on the join; the immediate follow-up is limited
	c.send(TypeHeartbeat, nil)

	payload := c.expectEvent(TypeError)
	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(payload, &errPayload))
	assert.Contains(t, errPayload.Message, "rate limit")
}

func TestServer_ConnectionCount(t *testing.T) {
	srv, _, url := startRelay(t, testServerConfig())

	assert.Equal(t, 0, srv.ConnectionCount())

	c := dial(t, url)
	c.send(TypeJoin, JoinPayload{Create: true, DisplayName: "alice"})
	c.expectEvent("join_accepted")
	assert.Equal(t, 1, srv.ConnectionCount())

	c.conn.Close()
	require.Eventually(t, func() bool {
		return srv.ConnectionCount() == 0
	}, 3*time.Second, 20*time.Millisecond)
}
