package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	"voicemesh/internal/core/services"
	"voicemesh/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Config tunes per-connection transport behavior.
type Config struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	QueueSize    int

	// Control-plane rate limiting; audio frames are governed only by the
	// bounded outbound queues.
	RateLimitEnabled  bool
	MessagesPerSecond float64
	Burst             int
}

func DefaultConfig() Config {
	return Config{
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		QueueSize:    64,
	}
}

// Server is the websocket transport adapter. It owns channel identifiers
// and their bounded outbound queues, and implements ports.ChannelWriter for
// the services above it.
type Server struct {
	sessions ports.SessionService
	router   ports.AudioRouter
	auth     services.AuthService
	metrics  ports.Metrics
	logger   *zap.SugaredLogger
	cfg      Config

	mu    sync.RWMutex
	conns map[domain.ChannelID]*clientConn
}

type clientConn struct {
	id    domain.ChannelID
	conn  *websocket.Conn
	queue *outboundQueue

	done      chan struct{}
	closing   chan struct{}
	closeOnce sync.Once
	flushOnce sync.Once

	// Mutated only by the connection's reader goroutine.
	joined        bool
	participantID domain.ParticipantID
}

func (c *clientConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// beginClose asks the write pump to flush what is queued and then close the
// connection, so final events such as SessionClosed still go out before the
// socket drops.
func (c *clientConn) beginClose() {
	c.flushOnce.Do(func() {
		close(c.closing)
	})
}

func NewServer(auth services.AuthService, metrics ports.Metrics, logger *zap.SugaredLogger, cfg Config) *Server {
	return &Server{
		auth:    auth,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		conns:   make(map[domain.ChannelID]*clientConn),
	}
}

// Attach wires the services. Called once during startup; the services
// themselves receive this server as their ports.ChannelWriter.
func (s *Server) Attach(sessions ports.SessionService, router ports.AudioRouter) {
	s.sessions = sessions
	s.router = router
}

func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	channelID := domain.ChannelID(utils.GenerateChannelID())
	cc := &clientConn{
		id:      channelID,
		conn:    conn,
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	cc.queue = newOutboundQueue(s.cfg.QueueSize, func() {
		if s.metrics != nil {
			s.metrics.IncPacketsDropped("backpressure")
		}
	})

	s.mu.Lock()
	s.conns[channelID] = cc
	s.mu.Unlock()

	s.logger.Infow("channel opened", "channel_id", channelID, "remote", r.RemoteAddr)

	defer func() {
		cc.close()
		s.mu.Lock()
		delete(s.conns, channelID)
		s.mu.Unlock()

		// Abrupt disconnects converge on the same teardown path as an
		// explicit leave.
		if err := s.sessions.Teardown(context.Background(), channelID, "transport closed"); err != nil {
			s.logger.Warnw("teardown after disconnect failed", "channel_id", channelID, "error", err)
		}
		s.logger.Infow("channel closed", "channel_id", channelID)
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	go s.writePump(cc)

	var limiter *rate.Limiter
	if s.cfg.RateLimitEnabled {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.Burst)
	}

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("read error", "channel_id", channelID, "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		if messageType == websocket.BinaryMessage {
			packet, err := DecodeAudioFrame(data)
			if err != nil {
				s.logger.Debugw("dropping malformed audio frame", "channel_id", channelID, "error", err)
				continue
			}
			s.router.Route(context.Background(), channelID, packet)
			continue
		}

		if limiter != nil && !limiter.Allow() {
			cc.queue.push(frame{data: EncodeError("rate limit exceeded")})
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			cc.queue.push(frame{data: EncodeError("malformed message")})
			continue
		}
		if err := s.handleControl(context.Background(), cc, msg); err != nil {
			s.logger.Infow("control message failed",
				"channel_id", channelID, "type", msg.Type, "error", err)
			cc.queue.push(frame{data: EncodeError(err.Error())})
		}
	}
}

func (s *Server) handleControl(ctx context.Context, cc *clientConn, msg ClientMessage) error {
	switch msg.Type {
	case TypeJoin:
		return s.handleJoin(ctx, cc, msg)
	case TypeLeave:
		return s.sessions.Leave(ctx, cc.id)
	case TypeSetRole:
		return s.handleSetRole(ctx, cc, msg)
	case TypeSetMute:
		return s.handleSetMute(ctx, cc, msg)
	case TypeHeartbeat:
		return s.sessions.Heartbeat(ctx, cc.id)
	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

func (s *Server) handleJoin(ctx context.Context, cc *clientConn, msg ClientMessage) error {
	if cc.joined {
		return errors.New("already joined")
	}

	var payload JoinPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid join payload: %w", err)
	}
	if !payload.Create && payload.SessionID == "" {
		return errors.New("session_id is required")
	}

	displayName := payload.DisplayName
	owner := false
	if s.auth != nil && s.auth.Enabled() {
		claims, err := s.auth.ValidateToken(payload.Token)
		if err != nil {
			s.SendEvent(cc.id, domain.JoinRejected{Reason: "invalid token"})
			return nil
		}
		if claims.DisplayName != "" {
			displayName = claims.DisplayName
		}
		owner = claims.Owner
	}

	_, p, err := s.sessions.Join(ctx, ports.JoinRequest{
		ChannelID:   cc.id,
		SessionID:   domain.SessionID(payload.SessionID),
		Create:      payload.Create,
		DisplayName: displayName,
		Owner:       owner,
	})
	if err != nil {
		s.SendEvent(cc.id, domain.JoinRejected{Reason: joinRejectReason(err)})
		return nil
	}

	cc.joined = true
	cc.participantID = p.ID
	return nil
}

func (s *Server) handleSetRole(ctx context.Context, cc *clientConn, msg ClientMessage) error {
	var payload SetRolePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid set_role payload: %w", err)
	}
	if payload.TargetID == "" {
		return errors.New("target_id is required")
	}
	return s.sessions.SetRole(ctx, cc.id, domain.ParticipantID(payload.TargetID), domain.Role(payload.Role))
}

func (s *Server) handleSetMute(ctx context.Context, cc *clientConn, msg ClientMessage) error {
	var payload SetMutePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid set_mute payload: %w", err)
	}

	target := domain.ParticipantID(payload.TargetID)
	if target == "" {
		target = cc.participantID
	}
	return s.sessions.SetMute(ctx, cc.id, target, payload.Muted)
}

// writePump drains one connection's queue. A write failure or timeout kills
// only this connection; the reader then unwinds through the teardown path.
func (s *Server) writePump(cc *clientConn) {
	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-cc.done:
			return

		case <-cc.closing:
			s.flushAndClose(cc)
			return

		case f := <-cc.queue.frames:
			messageType := websocket.TextMessage
			if f.binary {
				messageType = websocket.BinaryMessage
			}
			cc.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := cc.conn.WriteMessage(messageType, f.data); err != nil {
				s.logger.Debugw("write failed", "channel_id", cc.id, "error", err)
				cc.close()
				return
			}

		case <-pingTicker.C:
			cc.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := cc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debugw("ping failed", "channel_id", cc.id, "error", err)
				cc.close()
				return
			}
		}
	}
}

// flushAndClose drains the remaining queued frames onto the wire, sends a
// normal-closure frame and tears the connection down. Frames enqueued after
// the drain starts are lost; teardown has already begun at that point.
func (s *Server) flushAndClose(cc *clientConn) {
	for {
		select {
		case f := <-cc.queue.frames:
			messageType := websocket.TextMessage
			if f.binary {
				messageType = websocket.BinaryMessage
			}
			cc.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := cc.conn.WriteMessage(messageType, f.data); err != nil {
				s.logger.Debugw("flush write failed", "channel_id", cc.id, "error", err)
				cc.close()
				return
			}
		default:
			cc.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			cc.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			cc.close()
			return
		}
	}
}

// SendEvent implements ports.ChannelWriter.
func (s *Server) SendEvent(ch domain.ChannelID, ev domain.Event) {
	cc := s.get(ch)
	if cc == nil {
		return
	}
	data, err := EncodeEvent(ev)
	if err != nil {
		s.logger.Errorw("failed to encode event", "event", ev.EventType(), "error", err)
		return
	}
	cc.queue.push(frame{data: data})
}

// SendAudio implements ports.ChannelWriter. The frame is encoded once and
// enqueued per recipient; a full queue drops that recipient's oldest frame
// without affecting the others.
func (s *Server) SendAudio(chs []domain.ChannelID, packet *domain.AudioPacket) {
	data, err := EncodeAudioFrame(packet)
	if err != nil {
		s.logger.Errorw("failed to encode audio frame", "error", err)
		return
	}
	for _, ch := range chs {
		if cc := s.get(ch); cc != nil {
			cc.queue.push(frame{binary: true, data: data})
		}
	}
}

// CloseChannel implements ports.ChannelWriter. The close is graceful: the
// write pump flushes pending frames first, so an event enqueued just before
// this call still reaches the client.
func (s *Server) CloseChannel(ch domain.ChannelID) {
	if cc := s.get(ch); cc != nil {
		cc.beginClose()
	}
}

// ConnectionCount reports currently open channels.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *Server) get(ch domain.ChannelID) *clientConn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conns[ch]
}

func joinRejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return "session not found"
	case errors.Is(err, domain.ErrSessionFull):
		return "session full"
	case errors.Is(err, domain.ErrSessionExists):
		return "session already exists"
	default:
		return "join failed"
	}
}
