// Package game holds the turn-based game managers. The lobby-based games
// (drawing, telephone, cards) share one skeleton: a manager owning a lobby
// map and a player index behind a single mutex, with per-game state machines
// layered on top. The head-to-head games (tic-tac-toe, duels) run on a
// pending-invite map instead.
//
// Managers never import the roster: session lookup and presence rebroadcast
// arrive as injected callbacks. Notifications built under a manager lock are
// queued on an outbox and written only after the lock is released, so a slow
// socket can never stall a whole game.
package game

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wispim/server/internal/net"
	"github.com/wispim/server/internal/protocol"
)

// SessionFunc resolves a username to its live session.
type SessionFunc func(username string) (*net.Session, bool)

// PresenceFunc rebroadcasts a user's presence record, picking up the
// in-game overlay. Never call it while holding a manager lock: the presence
// layer calls back into the managers to build the overlay.
type PresenceFunc func(username string)

// ── Outbox ──────────────────────────────────────────────────────────

type outMsg struct {
	to   string
	kind string
	body any
}

// outbox queues game notifications built under a manager lock for delivery
// after the lock is released. Bodies must be snapshots: nothing queued may
// alias mutable manager state.
type outbox struct {
	pkt      protocol.PacketType
	session  SessionFunc
	presence PresenceFunc
	msgs     []outMsg
	pres     []string
}

func (o *outbox) queue(to, kind string, body any) {
	o.msgs = append(o.msgs, outMsg{to: to, kind: kind, body: body})
}

func (o *outbox) queuePresence(username string) {
	o.pres = append(o.pres, username)
}

func (o *outbox) flush() {
	for _, msg := range o.msgs {
		if sess, ok := o.session(msg.to); ok {
			sess.SendGame(o.pkt, msg.kind, msg.body)
		}
	}
	for _, username := range o.pres {
		o.presence(username)
	}
}

// ── Phase timer ─────────────────────────────────────────────────────

// phaseTimer is a cancellable scheduled callback owned by one lobby. Cancel
// is idempotent and race-free against the timer's own firing; callbacks
// re-acquire the manager lock and must verify the lobby's current timer is
// still this one before touching state.
type phaseTimer struct {
	cancel chan struct{}
	once   sync.Once
}

func (pt *phaseTimer) Cancel() {
	pt.once.Do(func() { close(pt.cancel) })
}

// after schedules fn once, d from now.
func after(d time.Duration, fn func(pt *phaseTimer)) *phaseTimer {
	pt := &phaseTimer{cancel: make(chan struct{})}
	go func() {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-pt.cancel:
		case <-t.C:
			fn(pt)
		}
	}()
	return pt
}

// countdown calls tick once a second with the remaining count, stopping at
// zero, on cancel, or when tick returns false.
func countdown(seconds int, tick func(pt *phaseTimer, left int) bool) *phaseTimer {
	pt := &phaseTimer{cancel: make(chan struct{})}
	go func() {
		t := time.NewTicker(time.Second)
		defer t.Stop()
		left := seconds
		for {
			select {
			case <-pt.cancel:
				return
			case <-t.C:
				left--
				if !tick(pt, left) || left <= 0 {
					return
				}
			}
		}
	}()
	return pt
}

// ── Lobby ───────────────────────────────────────────────────────────

// Lobby is the shared room record. Everything here is guarded by the owning
// manager's mutex.
type Lobby struct {
	ID           string
	Name         string
	Host         string
	MaxPlayers   int
	Members      []string
	DisplayNames map[string]string
	Scores       map[string]int
	Started      bool
	Round        int

	// creation parameters, already clamped
	Rounds       int
	RoundSeconds int
	Language     string

	timer *phaseTimer
}

func (l *Lobby) hasMember(username string) bool {
	return l.memberIndex(username) >= 0
}

func (l *Lobby) memberIndex(username string) int {
	for i, m := range l.Members {
		if m == username {
			return i
		}
	}
	return -1
}

func (l *Lobby) removeMember(username string) int {
	i := l.memberIndex(username)
	if i >= 0 {
		l.Members = append(l.Members[:i], l.Members[i+1:]...)
	}
	return i
}

func (l *Lobby) displayName(username string) string {
	if dn := l.DisplayNames[username]; dn != "" {
		return dn
	}
	return username
}

// setTimer replaces the lobby's phase timer, cancelling any previous one.
func (l *Lobby) setTimer(pt *phaseTimer) {
	if l.timer != nil {
		l.timer.Cancel()
	}
	l.timer = pt
}

func (l *Lobby) stopTimer() {
	if l.timer != nil {
		l.timer.Cancel()
		l.timer = nil
	}
}

// state builds the wire descriptor. Everything is copied.
func (l *Lobby) state() protocol.LobbyState {
	names := make(map[string]string, len(l.DisplayNames))
	for k, v := range l.DisplayNames {
		names[k] = v
	}
	return protocol.LobbyState{
		LobbyID:      l.ID,
		Name:         l.Name,
		Host:         l.Host,
		Members:      append([]string(nil), l.Members...),
		DisplayNames: names,
		Scores:       copyScores(l.Scores),
		MaxPlayers:   l.MaxPlayers,
		Started:      l.Started,
		Round:        l.Round,
	}
}

func copyScores(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ── Manager skeleton ────────────────────────────────────────────────

// limits are the per-game creation bounds. Zero-valued request fields take
// the defaults; everything else clamps into range.
type limits struct {
	minPlayers int
	defaultMax int
	maxPlayers int

	defaultRounds int
	maxRounds     int

	defaultSeconds int
	minSeconds     int
	maxSeconds     int

	defaultLanguage string
}

// base is the lobby skeleton embedded by every lobby-based game manager:
// one mutex, the lobby map, the player→lobby index, and the shared
// create/join/leave bookkeeping. Game rules hang off the two hooks, which
// run under the manager lock.
type base struct {
	mu          sync.Mutex
	pkt         protocol.PacketType
	label       string // human game name, used in presence overlays
	lim         limits
	lobbies     map[string]*Lobby
	playerLobby map[string]string
	session     SessionFunc
	presence    PresenceFunc
	log         *zap.Logger

	// onMemberLeft runs after a member of a surviving lobby is removed;
	// idx is the seat the member held. onDestroy runs before an emptied
	// lobby is dropped.
	onMemberLeft func(lb *Lobby, username string, idx int, ob *outbox)
	onDestroy    func(lb *Lobby)
}

func newBase(pkt protocol.PacketType, label string, lim limits, session SessionFunc, presence PresenceFunc, log *zap.Logger) base {
	return base{
		pkt:         pkt,
		label:       label,
		lim:         lim,
		lobbies:     make(map[string]*Lobby),
		playerLobby: make(map[string]string),
		session:     session,
		presence:    presence,
		log:         log,
	}
}

func (m *base) out() *outbox {
	return &outbox{pkt: m.pkt, session: m.session, presence: m.presence}
}

// dispatchShared handles the three lobby operations every game shares and
// reports whether the message was consumed.
func (m *base) dispatchShared(sess *net.Session, msg protocol.GameMessage) bool {
	switch msg.Kind {
	case protocol.KindCreateLobby:
		var req protocol.LobbyCreate
		if msg.Decode(&req) != nil {
			return true
		}
		m.handleCreate(sess, req)
	case protocol.KindJoinLobby:
		var req protocol.LobbyJoin
		if msg.Decode(&req) != nil {
			return true
		}
		m.handleJoin(sess, req.LobbyID)
	case protocol.KindLeaveLobby:
		m.HandleLeave(sess.Username())
	default:
		return false
	}
	return true
}

func (m *base) handleCreate(sess *net.Session, req protocol.LobbyCreate) {
	ob := m.out()
	defer ob.flush()
	m.mu.Lock()
	defer m.mu.Unlock()

	username := sess.Username()
	if _, in := m.playerLobby[username]; in {
		m.log.Debug("create rejected, already in a lobby",
			zap.String("game", m.label), zap.String("user", username))
		return
	}

	name := req.Name
	if name == "" {
		name = fmt.Sprintf("%s's %s", sess.DisplayName(), m.label)
	}
	lang := req.Language
	if lang == "" {
		lang = m.lim.defaultLanguage
	}
	lb := &Lobby{
		ID:           uuid.NewString(),
		Name:         name,
		Host:         username,
		MaxPlayers:   clampDefault(req.MaxPlayers, m.lim.defaultMax, m.lim.minPlayers, m.lim.maxPlayers),
		Members:      []string{username},
		DisplayNames: map[string]string{username: sess.DisplayName()},
		Scores:       make(map[string]int),
		Rounds:       clampDefault(req.Rounds, m.lim.defaultRounds, 1, m.lim.maxRounds),
		RoundSeconds: clampDefault(req.RoundSeconds, m.lim.defaultSeconds, m.lim.minSeconds, m.lim.maxSeconds),
		Language:     lang,
	}
	m.lobbies[lb.ID] = lb
	m.playerLobby[username] = lb.ID

	m.queueLobbyState(lb, ob)
	ob.queuePresence(username)
}

func clampDefault(v, def, lo, hi int) int {
	if v == 0 {
		v = def
	}
	return clamp(v, lo, hi)
}

func (m *base) handleJoin(sess *net.Session, lobbyID string) {
	ob := m.out()
	defer ob.flush()
	m.mu.Lock()
	defer m.mu.Unlock()

	username := sess.Username()
	lb := m.lobbies[lobbyID]
	switch {
	case lb == nil:
		return
	case lb.Started:
		m.log.Debug("join rejected, game already started",
			zap.String("game", m.label), zap.String("user", username))
		return
	case len(lb.Members) >= lb.MaxPlayers:
		return
	}
	if _, in := m.playerLobby[username]; in {
		return
	}

	lb.Members = append(lb.Members, username)
	lb.DisplayNames[username] = sess.DisplayName()
	m.playerLobby[username] = lb.ID

	m.queueLobbyState(lb, ob)
	ob.queuePresence(username)
}

// HandleLeave removes the user from their lobby, if any. Disconnects and
// explicit LeaveLobby messages both land here.
func (m *base) HandleLeave(username string) {
	ob := m.out()
	defer ob.flush()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeUser(username, ob)
}

// OnDisconnect is HandleLeave under the name the disconnect cascade uses.
func (m *base) OnDisconnect(username string) {
	m.HandleLeave(username)
}

// removeUser runs under the manager lock.
func (m *base) removeUser(username string, ob *outbox) {
	id, ok := m.playerLobby[username]
	if !ok {
		return
	}
	lb := m.lobbies[id]
	delete(m.playerLobby, username)
	idx := lb.removeMember(username)
	delete(lb.DisplayNames, username)
	delete(lb.Scores, username)

	if len(lb.Members) == 0 {
		m.destroyLobby(lb)
	} else {
		if lb.Host == username {
			lb.Host = lb.Members[0]
		}
		if m.onMemberLeft != nil {
			m.onMemberLeft(lb, username, idx, ob)
		}
		m.queueLobbyState(lb, ob)
	}
	ob.queuePresence(username)
}

// destroyLobby runs under the manager lock, with no members left to notify.
func (m *base) destroyLobby(lb *Lobby) {
	lb.stopTimer()
	if m.onDestroy != nil {
		m.onDestroy(lb)
	}
	delete(m.lobbies, lb.ID)
}

// lobbyForStart validates the StartGame contract: sent by the host of a
// not-yet-started lobby meeting the minimum head-count. Returns nil when
// any of it fails.
func (m *base) lobbyForStart(username string) *Lobby {
	id, ok := m.playerLobby[username]
	if !ok {
		return nil
	}
	lb := m.lobbies[id]
	if lb == nil || lb.Started || lb.Host != username || len(lb.Members) < m.lim.minPlayers {
		return nil
	}
	return lb
}

// lobbyOf returns the caller's lobby, started or not.
func (m *base) lobbyOf(username string) *Lobby {
	id, ok := m.playerLobby[username]
	if !ok {
		return nil
	}
	return m.lobbies[id]
}

func (m *base) queueLobbyState(lb *Lobby, ob *outbox) {
	st := lb.state()
	for _, member := range lb.Members {
		ob.queue(member, protocol.KindLobbyState, st)
	}
}

// queueToLobby fans one snapshot body out to every member except the named
// one (empty string excludes nobody).
func (m *base) queueToLobby(lb *Lobby, ob *outbox, kind string, body any, except string) {
	for _, member := range lb.Members {
		if member == except {
			continue
		}
		ob.queue(member, kind, body)
	}
}

// GameInfo implements the presence overlay: any lobby membership counts,
// so friends can find and join each other's rooms straight from the roster.
func (m *base) GameInfo(username string) (string, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lb := m.lobbyOf(username)
	if lb == nil {
		return "", "", false
	}
	desc := "Playing " + m.label
	others := make([]string, 0, len(lb.Members)-1)
	for _, member := range lb.Members {
		if member != username {
			others = append(others, lb.displayName(member))
		}
	}
	switch len(others) {
	case 0:
	case 1:
		desc += " with " + others[0]
	default:
		desc += fmt.Sprintf(" with %d players", len(others))
	}
	return lb.ID, desc, true
}

// Lobbies reports how many lobbies the manager holds.
func (m *base) Lobbies() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lobbies)
}
