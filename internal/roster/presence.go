package roster

import (
	"sync"

	"github.com/wispim/server/internal/net"
	"github.com/wispim/server/internal/protocol"
	"github.com/wispim/server/internal/store"
	"go.uber.org/zap"
)

// GameInfoFunc reports whether a user currently sits in a game, with the
// game id and the human line shown in place of their personal message.
type GameInfoFunc func(username string) (gameID, description string, ok bool)

// Presence builds the public record other clients see for a user and fans
// changes out to every live session. The game managers are consulted
// through an injected callback so this package never imports them.
type Presence struct {
	reg   *Registry
	users *store.Store
	log   *zap.Logger

	mu       sync.RWMutex
	gameInfo GameInfoFunc
}

func NewPresence(reg *Registry, users *store.Store, log *zap.Logger) *Presence {
	return &Presence{reg: reg, users: users, log: log}
}

// SetGameInfo wires the game-overlay provider. Called once at boot, after
// the game managers exist.
func (p *Presence) SetGameInfo(fn GameInfoFunc) {
	p.mu.Lock()
	p.gameInfo = fn
	p.mu.Unlock()
}

func (p *Presence) lookupGame(username string) (string, string, bool) {
	p.mu.RLock()
	fn := p.gameInfo
	p.mu.RUnlock()
	if fn == nil {
		return "", "", false
	}
	return fn(username)
}

// Status builds the user's own record: session-held presence fields plus
// the stored picture id, with the in-game overlay applied.
func (p *Presence) Status(sess *net.Session) protocol.UserStatus {
	st := protocol.UserStatus{
		Username:        sess.Username(),
		DisplayName:     sess.DisplayName(),
		Presence:        sess.Presence(),
		PersonalMessage: sess.PersonalMessage(),
		AvatarToken:     sess.AvatarToken(),
	}
	if u, ok := p.users.Get(sess.Username()); ok {
		st.PictureID = u.PictureID
	}
	if gameID, desc, ok := p.lookupGame(sess.Username()); ok {
		st.IsInGame = true
		st.GameID = gameID
		st.PersonalMessage = desc
	}
	return st
}

// PublicStatus is Status as other users see it: appear-offline reads as
// plain offline.
func (p *Presence) PublicStatus(sess *net.Session) protocol.UserStatus {
	st := p.Status(sess)
	if st.Presence == protocol.PresenceAppearOffline {
		st.Presence = protocol.PresenceOffline
	}
	return st
}

// OfflineStatus builds the gray-row record for a user with no live session.
func (p *Presence) OfflineStatus(username string) protocol.UserStatus {
	st := protocol.UserStatus{
		Username:    username,
		DisplayName: username,
		Presence:    protocol.PresenceOffline,
	}
	if u, ok := p.users.Get(username); ok {
		st.DisplayName = u.DisplayName
		st.PictureID = u.PictureID
		st.AvatarToken = u.AvatarToken
	}
	return st
}

// BroadcastUser fans the user's current public record out to every live
// session except their own. A user with no live session broadcasts as
// offline, which is how sign-off reaches the rosters.
func (p *Presence) BroadcastUser(username string) {
	if sess, ok := p.reg.Get(username); ok {
		p.BroadcastStatus(p.PublicStatus(sess), username)
		return
	}
	p.BroadcastStatus(p.OfflineStatus(username), "")
}

// BroadcastStatus sends st to every live session except the named one.
func (p *Presence) BroadcastStatus(st protocol.UserStatus, except string) {
	for _, sess := range p.reg.All() {
		if sess.Username() == except {
			continue
		}
		sess.Send(protocol.PktPresenceBroadcast, st)
	}
}

// Snapshot builds the full roster for one client: every online user's
// public record plus gray rows for the caller's offline contacts.
func (p *Presence) Snapshot(caller *net.Session) []protocol.UserStatus {
	online := p.reg.All()
	seen := make(map[string]bool, len(online))
	out := make([]protocol.UserStatus, 0, len(online))
	for _, sess := range online {
		out = append(out, p.PublicStatus(sess))
		seen[sess.Username()] = true
	}
	for _, contact := range p.users.Contacts(caller.Username()) {
		if seen[contact] {
			continue
		}
		out = append(out, p.OfflineStatus(contact))
	}
	return out
}
