package game

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wispim/server/internal/net"
	"github.com/wispim/server/internal/protocol"
)

// duelTarget is the round count that wins a match.
const duelTarget = 3

// Duel runs the invite-based rock-paper-scissors match, first to three
// round wins. Both players commit a move blind; the round resolves when the
// second move lands.
type Duel struct {
	mu         sync.Mutex
	session    SessionFunc
	presence   PresenceFunc
	log        *zap.Logger
	invites    map[string]*duelInvite
	games      map[string]*duelGame
	playerGame map[string]string
}

type duelInvite struct {
	id   string
	from string
	to   string
}

type duelGame struct {
	id      string
	players [2]string
	names   [2]string
	moves   [2]string
	scores  [2]int
}

func NewDuel(session SessionFunc, presence PresenceFunc, log *zap.Logger) *Duel {
	return &Duel{
		session:    session,
		presence:   presence,
		log:        log,
		invites:    make(map[string]*duelInvite),
		games:      make(map[string]*duelGame),
		playerGame: make(map[string]string),
	}
}

func (d *Duel) out() *outbox {
	return &outbox{pkt: protocol.PktDuel, session: d.session, presence: d.presence}
}

func (d *Duel) Dispatch(sess *net.Session, msg protocol.GameMessage) {
	switch msg.Kind {
	case protocol.KindInvite:
		var req protocol.DuelInvite
		if msg.Decode(&req) != nil {
			return
		}
		d.handleInvite(sess, req.To)
	case protocol.KindAccept:
		var req protocol.DuelAccept
		if msg.Decode(&req) != nil {
			return
		}
		d.handleAccept(sess, req.GameID)
	case protocol.KindDecline:
		var req protocol.DuelDecline
		if msg.Decode(&req) != nil {
			return
		}
		d.handleDecline(sess.Username(), req.GameID)
	case protocol.KindMove:
		var req protocol.DuelMove
		if msg.Decode(&req) != nil {
			return
		}
		d.handleMove(sess.Username(), req.GameID, req.Move)
	}
}

func (d *Duel) handleInvite(sess *net.Session, to string) {
	from := sess.Username()
	if to == from {
		return
	}
	if _, online := d.session(to); !online {
		return
	}
	ob := d.out()
	defer ob.flush()
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, busy := d.playerGame[from]; busy {
		return
	}
	inv := &duelInvite{id: uuid.NewString(), from: from, to: to}
	d.invites[inv.id] = inv
	ob.queue(to, protocol.KindInvited, protocol.DuelInvited{
		GameID:   inv.id,
		From:     from,
		FromName: sess.DisplayName(),
	})
}

func (d *Duel) handleAccept(sess *net.Session, gameID string) {
	username := sess.Username()
	ob := d.out()
	defer ob.flush()
	d.mu.Lock()
	defer d.mu.Unlock()

	inv := d.invites[gameID]
	if inv == nil || inv.to != username {
		return
	}
	delete(d.invites, gameID)
	if _, busy := d.playerGame[inv.from]; busy {
		return
	}
	if _, busy := d.playerGame[username]; busy {
		return
	}
	fromSess, online := d.session(inv.from)
	if !online {
		return
	}

	g := &duelGame{
		id:      gameID,
		players: [2]string{inv.from, username},
		names:   [2]string{fromSess.DisplayName(), sess.DisplayName()},
	}
	d.games[gameID] = g
	d.playerGame[inv.from] = gameID
	d.playerGame[username] = gameID

	for i := range g.players {
		opp := 1 - i
		ob.queue(g.players[i], protocol.KindStarted, protocol.DuelStarted{
			GameID:       gameID,
			Opponent:     g.players[opp],
			OpponentName: g.names[opp],
			Target:       duelTarget,
		})
		ob.queuePresence(g.players[i])
	}
}

func (d *Duel) handleDecline(username, gameID string) {
	ob := d.out()
	defer ob.flush()
	d.mu.Lock()
	defer d.mu.Unlock()

	inv := d.invites[gameID]
	if inv == nil || inv.to != username {
		return
	}
	delete(d.invites, gameID)
	ob.queue(inv.from, protocol.KindDecline, protocol.DuelDecline{GameID: gameID})
}

func (d *Duel) handleMove(username, gameID, move string) {
	if move != protocol.MoveRock && move != protocol.MovePaper && move != protocol.MoveScissors {
		return
	}
	ob := d.out()
	defer ob.flush()
	d.mu.Lock()
	defer d.mu.Unlock()

	g := d.games[gameID]
	if g == nil {
		return
	}
	i := g.seat(username)
	if i < 0 || g.moves[i] != "" {
		return // first move per round wins
	}
	g.moves[i] = move
	if g.moves[0] == "" || g.moves[1] == "" {
		return
	}

	// Both moves in: score the round.
	winner := ""
	switch {
	case beats(g.moves[0], g.moves[1]):
		g.scores[0]++
		winner = g.players[0]
	case beats(g.moves[1], g.moves[0]):
		g.scores[1]++
		winner = g.players[1]
	}
	for i := range g.players {
		opp := 1 - i
		ob.queue(g.players[i], protocol.KindResult, protocol.DuelResult{
			GameID:   gameID,
			MyMove:   g.moves[i],
			OppMove:  g.moves[opp],
			Winner:   winner,
			MyScore:  g.scores[i],
			OppScore: g.scores[opp],
		})
	}
	g.moves[0], g.moves[1] = "", ""

	if g.scores[0] < duelTarget && g.scores[1] < duelTarget {
		return
	}
	for i := range g.players {
		opp := 1 - i
		ob.queue(g.players[i], protocol.KindGameOver, protocol.DuelGameOver{
			GameID:   gameID,
			Winner:   winner,
			MyScore:  g.scores[i],
			OppScore: g.scores[opp],
		})
	}
	d.dropGame(g, ob)
}

func (g *duelGame) seat(username string) int {
	for i, p := range g.players {
		if p == username {
			return i
		}
	}
	return -1
}

func beats(a, b string) bool {
	return a == protocol.MoveRock && b == protocol.MoveScissors ||
		a == protocol.MoveScissors && b == protocol.MovePaper ||
		a == protocol.MovePaper && b == protocol.MoveRock
}

// dropGame runs under the lock; presence refreshes clear the overlay.
func (d *Duel) dropGame(g *duelGame, ob *outbox) {
	delete(d.games, g.id)
	for _, p := range g.players {
		delete(d.playerGame, p)
		ob.queuePresence(p)
	}
}

// OnDisconnect forfeits any running match to the opponent and quietly
// drops pending invites either way.
func (d *Duel) OnDisconnect(username string) {
	ob := d.out()
	defer ob.flush()
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, inv := range d.invites {
		if inv.from == username || inv.to == username {
			delete(d.invites, id)
		}
	}
	gameID, ok := d.playerGame[username]
	if !ok {
		return
	}
	g := d.games[gameID]
	i := g.seat(username)
	opp := 1 - i
	g.scores[opp] = duelTarget
	ob.queue(g.players[opp], protocol.KindGameOver, protocol.DuelGameOver{
		GameID:   gameID,
		Winner:   g.players[opp],
		MyScore:  g.scores[opp],
		OppScore: g.scores[i],
	})
	d.dropGame(g, ob)
}

// GameInfo implements the presence overlay for running matches.
func (d *Duel) GameInfo(username string) (string, string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	gameID, ok := d.playerGame[username]
	if !ok {
		return "", "", false
	}
	g := d.games[gameID]
	i := g.seat(username)
	return gameID, "Dueling " + g.names[1-i], true
}
