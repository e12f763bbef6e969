package net

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/wispim/server/internal/protocol"
	"go.uber.org/zap"
)

// Server accepts TCP connections and creates sessions. Each session
// dispatches inbound packets inline on its own read goroutine.
type Server struct {
	listener     net.Listener
	nextID       atomic.Uint64
	registry     *protocol.Registry
	sessCfg      SessionConfig
	onDisconnect DisconnectFunc
	log          *zap.Logger
	closeCh      chan struct{}

	mu       sync.Mutex
	sessions map[uint64]*Session // every live connection, authenticated or not
}

func NewServer(bindAddr string, reg *protocol.Registry, sessCfg SessionConfig, onDisconnect DisconnectFunc, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener:     ln,
		registry:     reg,
		sessCfg:      sessCfg,
		onDisconnect: onDisconnect,
		log:          log,
		closeCh:      make(chan struct{}),
		sessions:     make(map[uint64]*Session),
	}, nil
}

// AcceptLoop runs in its own goroutine. It accepts connections, tracks the
// sessions for shutdown, and starts their read loops.
func (s *Server) AcceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				return // server shutting down
			default:
			}
			s.log.Error("accept failed", zap.Error(err))
			continue
		}

		id := s.nextID.Add(1)
		sess := NewSession(conn, id, s.sessCfg, s.log)

		s.mu.Lock()
		s.sessions[id] = sess
		s.mu.Unlock()

		sess.Start(s.registry, func(dead *Session) {
			s.mu.Lock()
			delete(s.sessions, dead.ID)
			s.mu.Unlock()
			if s.onDisconnect != nil {
				s.onDisconnect(dead)
			}
		})

		s.log.Info(fmt.Sprintf("client connected  session=%d  ip=%s", id, sess.IP))
	}
}

// ConnCount returns the number of live connections, including ones that have
// not authenticated yet.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown stops accepting and closes every live connection.
func (s *Server) Shutdown() {
	close(s.closeCh)
	s.listener.Close()

	s.mu.Lock()
	live := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()

	for _, sess := range live {
		sess.Close()
	}
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
