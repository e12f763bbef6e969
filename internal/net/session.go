package net

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wispim/server/internal/protocol"
	"go.uber.org/zap"
)

// DisconnectFunc runs exactly once when a session's read loop exits, after
// the underlying connection is closed. It is where the registry/lobby/game
// disconnect cascade hangs.
type DisconnectFunc func(s *Session)

// SessionConfig bounds a single connection's resource use.
type SessionConfig struct {
	MaxFrameBytes    int // disconnect when a frame grows past this (0 = unlimited)
	MaxPacketsPerSec int // drop frames beyond this rate (0 = unlimited)
	WriteTimeout     time.Duration
}

// Session represents a single client connection. The read loop reassembles
// frames and dispatches them inline; writes may come from any goroutine and
// are serialized by writeMu so concurrent handlers cannot interleave bytes
// within a frame.
type Session struct {
	ID   uint64
	conn net.Conn

	state   atomic.Int32 // protocol.SessionState stored as int32
	writeMu sync.Mutex   // serializes conn writes

	// Identity fields, set at login. Guarded by mu: broadcast goroutines
	// read them while the owning read loop mutates.
	mu              sync.RWMutex
	username        string
	sessionID       string
	displayName     string
	presence        protocol.Presence
	personalMessage string
	avatarToken     string

	IP string

	registry     *protocol.Registry
	onDisconnect DisconnectFunc
	dcOnce       sync.Once

	cfg SessionConfig

	// Per-second packet rate limiter (readLoop goroutine only, no lock needed)
	pktCount   int
	pktResetAt int64

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	log *zap.Logger
}

func NewSession(conn net.Conn, id uint64, cfg SessionConfig, log *zap.Logger) *Session {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	s := &Session{
		ID:       id,
		conn:     conn,
		IP:       conn.RemoteAddr().String(),
		presence: protocol.PresenceOffline,
		cfg:      cfg,
		closeCh:  make(chan struct{}),
		log:      log.With(zap.Uint64("session", id)),
	}
	s.state.Store(int32(protocol.StateConnected))
	return s
}

func (s *Session) State() protocol.SessionState {
	return protocol.SessionState(s.state.Load())
}

func (s *Session) SetState(st protocol.SessionState) {
	s.state.Store(int32(st))
}

// Start launches the reader goroutine. The registry handles dispatch;
// onDisconnect fires once when the reader exits.
func (s *Session) Start(reg *protocol.Registry, onDisconnect DisconnectFunc) {
	s.registry = reg
	s.onDisconnect = onDisconnect
	go s.readLoop()
}

// ── Identity accessors ─────────────────────────────────────────────

// SetIdentity binds the authenticated user to this session.
func (s *Session) SetIdentity(username, sessionID, displayName string) {
	s.mu.Lock()
	s.username = username
	s.sessionID = sessionID
	s.displayName = displayName
	s.presence = protocol.PresenceOnline
	s.mu.Unlock()
}

func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

func (s *Session) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

func (s *Session) DisplayName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.displayName
}

func (s *Session) Presence() protocol.Presence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.presence
}

func (s *Session) PersonalMessage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.personalMessage
}

func (s *Session) AvatarToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.avatarToken
}

// SetPresence records the user-chosen state and personal message. An empty
// avatar token keeps the current one.
func (s *Session) SetPresence(p protocol.Presence, personalMessage, avatarToken string) {
	s.mu.Lock()
	s.presence = p
	s.personalMessage = personalMessage
	if avatarToken != "" {
		s.avatarToken = avatarToken
	}
	s.mu.Unlock()
}

// ── Outbound ───────────────────────────────────────────────────────

// Send marshals payload into a fresh envelope and writes it.
func (s *Session) Send(t protocol.PacketType, payload any) error {
	env, err := protocol.New(t, payload)
	if err != nil {
		return err
	}
	return s.SendEnvelope(env)
}

// SendGame wraps body under a sub-tagged game message and sends it on the
// given umbrella packet type.
func (s *Session) SendGame(t protocol.PacketType, kind string, body any) error {
	gm, err := protocol.NewGameMessage(kind, body)
	if err != nil {
		return err
	}
	return s.Send(t, gm)
}

// SendError emits an Error envelope; failures beyond that close the session.
func (s *Session) SendError(code, message string) {
	_ = s.Send(protocol.PktError, protocol.ErrorPayload{Code: code, Message: message})
}

// SendEnvelope writes one framed envelope. A write failure marks the session
// dead; the read loop's exit runs the disconnect cascade.
func (s *Session) SendEnvelope(env *protocol.Envelope) error {
	if s.closed.Load() {
		return net.ErrClosed
	}
	wire, err := env.Encode()
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if _, err := s.conn.Write(wire); err != nil {
		if !s.closed.Load() {
			s.log.Debug("write error", zap.Error(err))
		}
		s.Close()
		return err
	}
	return nil
}

// ── Lifecycle ──────────────────────────────────────────────────────

// Close shuts the connection down. Idempotent; the read loop notices and
// fires the disconnect callback.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.SetState(protocol.StateDisconnecting)
		close(s.closeCh)
		s.conn.Close()
	})
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// readLoop reassembles line frames from the TCP stream and dispatches each
// parsed envelope. Malformed frames are dropped without closing the
// connection; oversized accumulation disconnects.
func (s *Session) readLoop() {
	defer s.dcOnce.Do(func() {
		if s.onDisconnect != nil {
			s.onDisconnect(s)
		}
	})
	defer s.Close()

	chunk := make([]byte, 8192)
	var buf []byte

	for {
		select {
		case <-s.closeCh:
			return
		default:
		}

		n, err := s.conn.Read(chunk)
		if err != nil {
			if !s.closed.Load() {
				s.log.Debug("read error", zap.Error(err))
			}
			return
		}

		var frames [][]byte
		buf, frames = AppendFrames(buf, chunk[:n])
		if s.cfg.MaxFrameBytes > 0 && len(buf) > s.cfg.MaxFrameBytes {
			s.log.Warn("frame exceeds size limit, disconnecting",
				zap.Int("buffered", len(buf)),
				zap.Int("limit", s.cfg.MaxFrameBytes),
			)
			return
		}

		for _, frame := range frames {
			if !s.allowPacket() {
				continue
			}
			env, err := protocol.Parse(frame)
			if err != nil {
				s.log.Debug("bad frame dropped", zap.Error(err))
				continue
			}
			if err := s.registry.Dispatch(s, s.State(), env); err != nil {
				if errors.Is(err, protocol.ErrNotAllowed) {
					s.SendError(protocol.ErrCodeAuthRequired, "authentication required")
				}
			}
		}
	}
}

// allowPacket applies the per-second rate limit. Excess frames are dropped
// silently rather than disconnecting, since draw strokes burst legitimately.
func (s *Session) allowPacket() bool {
	if s.cfg.MaxPacketsPerSec <= 0 {
		return true
	}
	now := time.Now().Unix()
	if now != s.pktResetAt {
		s.pktCount = 0
		s.pktResetAt = now
	}
	s.pktCount++
	if s.pktCount > s.cfg.MaxPacketsPerSec {
		if s.pktCount == s.cfg.MaxPacketsPerSec+1 {
			s.log.Warn("packet rate exceeded, dropping", zap.Int("pps", s.pktCount))
		}
		return false
	}
	return true
}
