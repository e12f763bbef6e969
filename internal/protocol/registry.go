package protocol

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrNotAllowed is returned by Dispatch when the packet type exists but is
// not permitted in the session's current state. The transport layer answers
// it with an AUTH_REQUIRED error envelope.
var ErrNotAllowed = errors.New("packet not allowed in session state")

// HandlerFunc is the callback signature for packet handlers.
// The session pointer is passed as an opaque interface to avoid import cycles.
type HandlerFunc func(sess any, env *Envelope)

type handlerEntry struct {
	fn            HandlerFunc
	allowedStates map[SessionState]bool
}

// Registry maps packet types to handlers with state-based access control.
type Registry struct {
	handlers map[PacketType]*handlerEntry
	log      *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[PacketType]*handlerEntry),
		log:      log,
	}
}

// Register maps a packet type to a handler, restricted to the given session states.
func (reg *Registry) Register(t PacketType, states []SessionState, fn HandlerFunc) {
	allowed := make(map[SessionState]bool, len(states))
	for _, s := range states {
		allowed[s] = true
	}
	reg.handlers[t] = &handlerEntry{
		fn:            fn,
		allowedStates: allowed,
	}
}

// Dispatch finds the handler for the envelope's type, validates the session
// state, and calls the handler. Unknown packet types are silently ignored.
func (reg *Registry) Dispatch(sess any, state SessionState, env *Envelope) error {
	reg.log.Debug("packet in",
		zap.Stringer("type", env.T),
		zap.Stringer("state", state),
	)

	entry, ok := reg.handlers[env.T]
	if !ok {
		reg.log.Debug("unknown packet type", zap.Int("type", int(env.T)))
		return nil
	}

	if !entry.allowedStates[state] {
		reg.log.Warn("packet not allowed in state",
			zap.Stringer("type", env.T),
			zap.Stringer("state", state),
		)
		return ErrNotAllowed
	}

	return reg.safeCall(entry.fn, sess, env)
}

// safeCall executes a handler with panic recovery so a single bad packet
// cannot take down the server.
func (reg *Registry) safeCall(fn HandlerFunc, sess any, env *Envelope) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Error("handler panic recovered",
				zap.Stringer("type", env.T),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("handler panic for %s: %v", env.T, rec)
		}
	}()
	fn(sess, env)
	return nil
}
