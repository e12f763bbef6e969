package game

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wispim/server/internal/net"
	"github.com/wispim/server/internal/protocol"
)

var tttLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8}, // rows
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8}, // columns
	{0, 4, 8}, {2, 4, 6}, // diagonals
}

// TicTacToe runs invite-based matches on a 3×3 board, with any number of
// onlookers attached to a running game. The inviter plays X and moves first.
type TicTacToe struct {
	mu         sync.Mutex
	session    SessionFunc
	presence   PresenceFunc
	log        *zap.Logger
	invites    map[string]*tttInvite
	games      map[string]*tttGame
	playerGame map[string]string
	spectating map[string]string // spectator → game id
}

type tttInvite struct {
	id   string
	from string
	to   string
}

type tttGame struct {
	id       string
	playerX  string
	playerO  string
	nameX    string
	nameO    string
	board    [9]string
	turn     string
	watchers []string
}

func NewTicTacToe(session SessionFunc, presence PresenceFunc, log *zap.Logger) *TicTacToe {
	return &TicTacToe{
		session:    session,
		presence:   presence,
		log:        log,
		invites:    make(map[string]*tttInvite),
		games:      make(map[string]*tttGame),
		playerGame: make(map[string]string),
		spectating: make(map[string]string),
	}
}

func (t *TicTacToe) out() *outbox {
	return &outbox{pkt: protocol.PktTicTacToe, session: t.session, presence: t.presence}
}

func (t *TicTacToe) Dispatch(sess *net.Session, msg protocol.GameMessage) {
	switch msg.Kind {
	case protocol.KindInvite:
		var req protocol.TTTInvite
		if msg.Decode(&req) != nil {
			return
		}
		t.handleInvite(sess, req.To)
	case protocol.KindAccept:
		var req protocol.TTTAccept
		if msg.Decode(&req) != nil {
			return
		}
		t.handleAccept(sess, req.GameID)
	case protocol.KindDecline:
		var req protocol.TTTDecline
		if msg.Decode(&req) != nil {
			return
		}
		t.handleDecline(sess.Username(), req.GameID)
	case protocol.KindMove:
		var req protocol.TTTMove
		if msg.Decode(&req) != nil {
			return
		}
		t.handleMove(sess.Username(), req.GameID, req.Cell)
	case protocol.KindTTTSpectate:
		var req protocol.TTTSpectate
		if msg.Decode(&req) != nil {
			return
		}
		t.handleSpectate(sess.Username(), req.GameID)
	}
}

func (t *TicTacToe) handleInvite(sess *net.Session, to string) {
	from := sess.Username()
	if to == from {
		return
	}
	if _, online := t.session(to); !online {
		return
	}
	ob := t.out()
	defer ob.flush()
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, busy := t.playerGame[from]; busy {
		return
	}
	inv := &tttInvite{id: uuid.NewString(), from: from, to: to}
	t.invites[inv.id] = inv
	ob.queue(to, protocol.KindInvited, protocol.TTTInvited{
		GameID:   inv.id,
		From:     from,
		FromName: sess.DisplayName(),
	})
}

func (t *TicTacToe) handleAccept(sess *net.Session, gameID string) {
	username := sess.Username()
	ob := t.out()
	defer ob.flush()
	t.mu.Lock()
	defer t.mu.Unlock()

	inv := t.invites[gameID]
	if inv == nil || inv.to != username {
		return
	}
	delete(t.invites, gameID)
	if _, busy := t.playerGame[inv.from]; busy {
		return
	}
	if _, busy := t.playerGame[username]; busy {
		return
	}
	fromSess, online := t.session(inv.from)
	if !online {
		return
	}

	g := &tttGame{
		id:      gameID,
		playerX: inv.from,
		playerO: username,
		nameX:   fromSess.DisplayName(),
		nameO:   sess.DisplayName(),
		turn:    inv.from, // inviter is X and opens
	}
	t.games[gameID] = g
	t.playerGame[inv.from] = gameID
	t.playerGame[username] = gameID

	t.queueState(g, g.snapshot(), ob)
	ob.queuePresence(inv.from)
	ob.queuePresence(username)
}

func (t *TicTacToe) handleDecline(username, gameID string) {
	ob := t.out()
	defer ob.flush()
	t.mu.Lock()
	defer t.mu.Unlock()

	inv := t.invites[gameID]
	if inv == nil || inv.to != username {
		return
	}
	delete(t.invites, gameID)
	ob.queue(inv.from, protocol.KindDecline, protocol.TTTDecline{GameID: gameID})
}

func (t *TicTacToe) handleMove(username, gameID string, cell int) {
	ob := t.out()
	defer ob.flush()
	t.mu.Lock()
	defer t.mu.Unlock()

	g := t.games[gameID]
	if g == nil || g.turn != username || cell < 0 || cell > 8 || g.board[cell] != "" {
		return
	}
	mark, next := "X", g.playerO
	if username == g.playerO {
		mark, next = "O", g.playerX
	}
	g.board[cell] = mark
	g.turn = next

	st := g.snapshot()
	if line, won := g.winLine(mark); won {
		st.Finished = true
		st.Winner = username
		st.WinLine = line
		st.Turn = ""
	} else if g.full() {
		st.Finished = true
		st.Turn = ""
	}
	t.queueState(g, st, ob)
	if st.Finished {
		t.dropGame(g, ob)
	}
}

func (t *TicTacToe) handleSpectate(username, gameID string) {
	ob := t.out()
	defer ob.flush()
	t.mu.Lock()
	defer t.mu.Unlock()

	g := t.games[gameID]
	if g == nil || username == g.playerX || username == g.playerO {
		return
	}
	if prev, ok := t.spectating[username]; ok {
		if prev == gameID {
			ob.queue(username, protocol.KindTTTState, g.snapshot())
			return
		}
		if old := t.games[prev]; old != nil {
			old.dropWatcher(username)
		}
	}
	t.spectating[username] = gameID
	g.watchers = append(g.watchers, username)
	ob.queue(username, protocol.KindTTTState, g.snapshot())
}

func (g *tttGame) dropWatcher(username string) {
	for i, w := range g.watchers {
		if w == username {
			g.watchers = append(g.watchers[:i], g.watchers[i+1:]...)
			return
		}
	}
}

func (g *tttGame) snapshot() protocol.TTTState {
	return protocol.TTTState{
		GameID:  g.id,
		Board:   g.board,
		Turn:    g.turn,
		PlayerX: g.playerX,
		PlayerO: g.playerO,
	}
}

func (g *tttGame) winLine(mark string) ([]int, bool) {
	for _, line := range tttLines {
		if g.board[line[0]] == mark && g.board[line[1]] == mark && g.board[line[2]] == mark {
			return []int{line[0], line[1], line[2]}, true
		}
	}
	return nil, false
}

func (g *tttGame) full() bool {
	for _, c := range g.board {
		if c == "" {
			return false
		}
	}
	return true
}

// queueState fans a snapshot out to both players and every watcher.
func (t *TicTacToe) queueState(g *tttGame, st protocol.TTTState, ob *outbox) {
	ob.queue(g.playerX, protocol.KindTTTState, st)
	ob.queue(g.playerO, protocol.KindTTTState, st)
	for _, w := range g.watchers {
		ob.queue(w, protocol.KindTTTState, st)
	}
}

// dropGame runs under the lock after the final frame is queued.
func (t *TicTacToe) dropGame(g *tttGame, ob *outbox) {
	delete(t.games, g.id)
	delete(t.playerGame, g.playerX)
	delete(t.playerGame, g.playerO)
	for _, w := range g.watchers {
		delete(t.spectating, w)
	}
	ob.queuePresence(g.playerX)
	ob.queuePresence(g.playerO)
}

// OnDisconnect forfeits a running game to the opponent, or just detaches
// the user if they were only watching.
func (t *TicTacToe) OnDisconnect(username string) {
	ob := t.out()
	defer ob.flush()
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, inv := range t.invites {
		if inv.from == username || inv.to == username {
			delete(t.invites, id)
		}
	}
	if gameID, ok := t.spectating[username]; ok {
		delete(t.spectating, username)
		if g := t.games[gameID]; g != nil {
			g.dropWatcher(username)
		}
	}
	gameID, ok := t.playerGame[username]
	if !ok {
		return
	}
	g := t.games[gameID]
	st := g.snapshot()
	st.Finished = true
	st.Turn = ""
	if username == g.playerX {
		st.Winner = g.playerO
	} else {
		st.Winner = g.playerX
	}
	t.queueState(g, st, ob)
	t.dropGame(g, ob)
}

// GameInfo implements the presence overlay for running games.
func (t *TicTacToe) GameInfo(username string) (string, string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	gameID, ok := t.playerGame[username]
	if !ok {
		return "", "", false
	}
	g := t.games[gameID]
	opp := g.nameO
	if username == g.playerO {
		opp = g.nameX
	}
	return gameID, "Playing Tic-Tac-Toe vs " + opp, true
}
