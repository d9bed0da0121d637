package realtime

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"ogacraft/api/internal/metrics"
	"ogacraft/api/internal/util"
)

const writeTimeout = 10 * time.Second

// HandlerFunc handles one inbound event. A returned error is logged and
// never reported back to the connection.
type HandlerFunc func(ctx context.Context, session *Session, data json.RawMessage) error

// Server upgrades HTTP requests to WebSocket sessions and dispatches their
// inbound events. Events of one session are handled one at a time, in the
// order they arrive.
type Server struct {
	hub        *Hub
	logger     zerolog.Logger
	sendBuffer int

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewServer(hub *Hub, logger zerolog.Logger, sendBuffer int) *Server {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Server{
		hub:        hub,
		logger:     logger.With().Str("component", "socket").Logger(),
		sendBuffer: sendBuffer,
		handlers:   make(map[string]HandlerFunc),
	}
}

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) Handle(event string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = fn
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	// The HTTP server's read and write timeouts do not apply to a
	// hijacked connection that stays open.
	_ = conn.SetDeadline(time.Time{})

	session := newSession(util.NewID("conn"), conn, s.sendBuffer)
	s.hub.Register(session)
	s.logger.Info().Str("conn_id", session.ID()).Msg("connection opened")

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	go session.writeLoop(s.logger)
	s.readLoop(ctx, session)

	session.close()
	users := s.hub.Unregister(session.ID())
	for _, userID := range users {
		s.logger.Info().Str("conn_id", session.ID()).Str("user_id", userID).Msg("user disconnected")
	}
	s.logger.Info().Str("conn_id", session.ID()).Msg("connection closed")
}

func (s *Server) readLoop(ctx context.Context, session *Session) {
	for {
		data, op, err := wsutil.ReadClientData(session.conn)
		if err != nil {
			return
		}
		if op != ws.OpText {
			continue
		}
		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			s.logger.Warn().Err(err).Str("conn_id", session.ID()).Msg("malformed frame")
			continue
		}
		s.Dispatch(ctx, session, event)
	}
}

// Dispatch runs the handler registered for event.Name.
func (s *Server) Dispatch(ctx context.Context, session *Session, event Event) {
	s.mu.RLock()
	handler, ok := s.handlers[event.Name]
	s.mu.RUnlock()
	if !ok {
		metrics.SocketEvents.WithLabelValues("unknown", "unknown").Inc()
		s.logger.Debug().Str("conn_id", session.ID()).Str("event", event.Name).Msg("unhandled event")
		return
	}

	if err := handler(ctx, session, event.Data); err != nil {
		metrics.SocketEvents.WithLabelValues(event.Name, "error").Inc()
		s.logger.Error().Err(err).
			Str("conn_id", session.ID()).
			Str("user_id", session.UserID()).
			Str("event", event.Name).
			Msg("socket handler failed")
		return
	}
	metrics.SocketEvents.WithLabelValues(event.Name, "ok").Inc()
}

// Session is one WebSocket connection. It is bound to a user id once the
// client authenticates.
type Session struct {
	id   string
	conn net.Conn
	send chan Event

	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.RWMutex
	userID string
}

func newSession(id string, conn net.Conn, buffer int) *Session {
	return &Session{
		id:     id,
		conn:   conn,
		send:   make(chan Event, buffer),
		closed: make(chan struct{}),
	}
}

// NewDetachedSession returns a session with no network connection behind
// it; queued events are readable from Outbox. Used when driving handlers
// directly.
func NewDetachedSession(id string, buffer int) *Session {
	return newSession(id, nil, buffer)
}

func (s *Session) ID() string { return s.id }

func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) SetUserID(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
}

func (s *Session) Send(event Event) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.send <- event:
		return true
	default:
		return false
	}
}

// Outbox exposes the queue of events waiting to be written.
func (s *Session) Outbox() <-chan Event {
	return s.send
}

// Close ends the session. The read loop then exits and the hub forgets
// the connection.
func (s *Session) Close() {
	s.close()
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

func (s *Session) writeLoop(logger zerolog.Logger) {
	for {
		select {
		case <-s.closed:
			return
		case event := <-s.send:
			frame, err := json.Marshal(event)
			if err != nil {
				logger.Error().Err(err).Str("conn_id", s.id).Str("event", event.Name).Msg("encode frame")
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := wsutil.WriteServerMessage(s.conn, ws.OpText, frame); err != nil {
				logger.Debug().Err(err).Str("conn_id", s.id).Msg("write failed, closing")
				s.close()
				return
			}
		}
	}
}
