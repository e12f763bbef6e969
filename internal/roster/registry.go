// Package roster tracks who is online and fans presence out to everyone
// else. The registry enforces the one-live-session-per-user rule; the
// presence broadcaster builds the public record other clients see.
package roster

import (
	"sort"
	"sync"

	"github.com/wispim/server/internal/net"
)

// Registry maps authenticated usernames to their single live session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*net.Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*net.Session)}
}

// Attach installs sess as the live session for its username and returns the
// session it displaced, if any. The caller owns notifying and closing the
// displaced session.
func (r *Registry) Attach(sess *net.Session) *net.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.sessions[sess.Username()]
	if old == sess {
		old = nil
	}
	r.sessions[sess.Username()] = sess
	return old
}

// Detach removes sess if it is still the live session for its username and
// reports whether it was. A displaced session returns false: the username's
// state now belongs to its replacement and must not be torn down.
func (r *Registry) Detach(sess *net.Session) bool {
	username := sess.Username()
	if username == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[username] != sess {
		return false
	}
	delete(r.sessions, username)
	return true
}

// Get returns the live session for username.
func (r *Registry) Get(username string) (*net.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[username]
	return sess, ok
}

// All returns the live sessions sorted by username.
func (r *Registry) All() []*net.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*net.Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username() < out[j].Username() })
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
