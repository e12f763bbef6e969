package game

import (
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wispim/server/internal/net"
	"github.com/wispim/server/internal/protocol"
	"github.com/wispim/server/internal/words"
)

// interRoundPause is the word-reveal breather between drawing rounds.
const interRoundPause = 3 * time.Second

// DrawGuess runs the drawing game: one member draws a secret word, the rest
// guess in chat against the clock.
type DrawGuess struct {
	base
	words  *words.Table
	rounds map[string]*drawRound // by lobby id
}

type drawRound struct {
	drawerIdx int
	drawer    string
	word      string
	folded    string // language-folded secret for guess comparison
	runes     []rune
	revealed  []bool
	timeLeft  int
	guessed   map[string]bool
	ended     bool // word revealed, waiting out the inter-round pause
}

func NewDrawGuess(tbl *words.Table, defaultLang string, session SessionFunc, presence PresenceFunc, log *zap.Logger) *DrawGuess {
	g := &DrawGuess{
		base: newBase(protocol.PktDrawGuess, "Draw & Guess", limits{
			minPlayers:      2,
			defaultMax:      8,
			maxPlayers:      12,
			defaultRounds:   3,
			maxRounds:       10,
			defaultSeconds:  60,
			minSeconds:      30,
			maxSeconds:      180,
			defaultLanguage: defaultLang,
		}, session, presence, log),
		words:  tbl,
		rounds: make(map[string]*drawRound),
	}
	g.onMemberLeft = g.memberLeft
	g.onDestroy = func(lb *Lobby) { delete(g.rounds, lb.ID) }
	return g
}

func (g *DrawGuess) Dispatch(sess *net.Session, msg protocol.GameMessage) {
	if g.dispatchShared(sess, msg) {
		return
	}
	switch msg.Kind {
	case protocol.KindStartGame:
		g.handleStart(sess.Username())
	case protocol.KindDrawData:
		var req protocol.DrawStroke
		if msg.Decode(&req) != nil {
			return
		}
		g.handleStroke(sess.Username(), req)
	case protocol.KindClearCanvas:
		g.handleClear(sess.Username())
	case protocol.KindChatGuess:
		var req protocol.DrawGuessChat
		if msg.Decode(&req) != nil {
			return
		}
		g.handleGuess(sess.Username(), req.Text)
	}
}

func (g *DrawGuess) handleStart(username string) {
	ob := g.out()
	defer ob.flush()
	g.mu.Lock()
	defer g.mu.Unlock()

	lb := g.lobbyForStart(username)
	if lb == nil {
		return
	}
	lb.Started = true
	lb.Round = 1
	for _, member := range lb.Members {
		lb.Scores[member] = 0
	}
	g.queueLobbyState(lb, ob)
	g.startRound(lb, 0, ob)
}

// startRound runs under the manager lock.
func (g *DrawGuess) startRound(lb *Lobby, drawerIdx int, ob *outbox) {
	word := g.words.Pick(lb.Language)
	r := &drawRound{
		drawerIdx: drawerIdx,
		drawer:    lb.Members[drawerIdx],
		word:      word,
		folded:    words.Fold(lb.Language, word),
		runes:     []rune(word),
		revealed:  make([]bool, len([]rune(word))),
		timeLeft:  lb.RoundSeconds,
		guessed:   make(map[string]bool),
	}
	g.rounds[lb.ID] = r

	lobbyID := lb.ID
	lb.setTimer(countdown(lb.RoundSeconds, func(pt *phaseTimer, left int) bool {
		return g.tickRound(lobbyID, pt, left)
	}))

	g.queueToLobby(lb, ob, protocol.KindClearCanvas, protocol.DrawClear{LobbyID: lb.ID}, "")
	g.queueRoundState(lb, r, ob)
}

// queueRoundState personalizes the snapshot: only the drawer's copy carries
// the secret word.
func (g *DrawGuess) queueRoundState(lb *Lobby, r *drawRound, ob *outbox) {
	st := protocol.DrawRoundState{
		LobbyID:  lb.ID,
		Round:    lb.Round,
		Rounds:   lb.Rounds,
		Drawer:   r.drawer,
		Hint:     r.hint(),
		TimeLeft: r.timeLeft,
		Scores:   copyScores(lb.Scores),
	}
	for _, member := range lb.Members {
		body := st
		if member == r.drawer {
			body.Word = r.word
		}
		ob.queue(member, protocol.KindRoundState, body)
	}
}

func (r *drawRound) hint() string {
	out := make([]rune, len(r.runes))
	for i, c := range r.runes {
		if r.revealed[i] || c == ' ' {
			out[i] = c
		} else {
			out[i] = '_'
		}
	}
	return string(out)
}

// revealHint uncovers max(1, ceil(len/3)) of the still-hidden non-space
// positions.
func (r *drawRound) revealHint() {
	var hidden []int
	for i, c := range r.runes {
		if !r.revealed[i] && c != ' ' {
			hidden = append(hidden, i)
		}
	}
	n := (len(r.runes) + 2) / 3
	if n < 1 {
		n = 1
	}
	if n > len(hidden) {
		n = len(hidden)
	}
	rand.Shuffle(len(hidden), func(i, j int) { hidden[i], hidden[j] = hidden[j], hidden[i] })
	for _, i := range hidden[:n] {
		r.revealed[i] = true
	}
}

func (g *DrawGuess) tickRound(lobbyID string, pt *phaseTimer, left int) bool {
	ob := g.out()
	defer ob.flush()
	g.mu.Lock()
	defer g.mu.Unlock()

	lb := g.lobbies[lobbyID]
	if lb == nil || lb.timer != pt || !lb.Started {
		return false
	}
	r := g.rounds[lobbyID]
	if r == nil || r.ended {
		return false
	}
	r.timeLeft = left

	if left <= 0 {
		g.endRound(lb, r, ob)
		return false
	}
	if left == lb.RoundSeconds/2 {
		r.revealHint()
		g.queueRoundState(lb, r, ob)
		return true
	}
	if left%10 == 0 || left <= 5 {
		g.queueRoundState(lb, r, ob)
	}
	return true
}

func (g *DrawGuess) handleGuess(username, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	ob := g.out()
	defer ob.flush()
	g.mu.Lock()
	defer g.mu.Unlock()

	lb := g.lobbyOf(username)
	if lb == nil {
		return
	}
	r := g.rounds[lb.ID]

	if lb.Started && r != nil && !r.ended {
		// The drawer and anyone who already has the word stay silent for
		// the rest of the round, so the secret can't leak into chat.
		if username == r.drawer || r.guessed[username] {
			return
		}
		if words.Fold(lb.Language, text) == r.folded {
			r.guessed[username] = true
			pts := r.timeLeft * 100 / lb.RoundSeconds
			if pts < 10 {
				pts = 10
			}
			lb.Scores[username] += pts
			lb.Scores[r.drawer] += 25

			g.queueToLobby(lb, ob, protocol.KindCorrectGuess, protocol.DrawCorrectGuess{
				LobbyID: lb.ID,
				User:    username,
				Scores:  copyScores(lb.Scores),
			}, "")
			if g.allGuessed(lb, r) {
				g.endRound(lb, r, ob)
			}
			return
		}
	}

	// Wrong guesses and pre-game chatter relay to the whole room.
	g.queueToLobby(lb, ob, protocol.KindChatGuess, protocol.DrawGuessChat{
		LobbyID: lb.ID,
		From:    username,
		Text:    text,
	}, username)
}

func (g *DrawGuess) allGuessed(lb *Lobby, r *drawRound) bool {
	for _, member := range lb.Members {
		if member != r.drawer && !r.guessed[member] {
			return false
		}
	}
	return true
}

// endRound reveals the word and schedules the advance. Runs under the lock;
// callable from the ticker, the guess path and the leave path.
func (g *DrawGuess) endRound(lb *Lobby, r *drawRound, ob *outbox) {
	if r.ended {
		return
	}
	r.ended = true
	g.queueToLobby(lb, ob, protocol.KindWordReveal, protocol.DrawWordReveal{LobbyID: lb.ID, Word: r.word}, "")

	lobbyID := lb.ID
	lb.setTimer(after(interRoundPause, func(pt *phaseTimer) {
		g.advanceRound(lobbyID, pt)
	}))
}

func (g *DrawGuess) advanceRound(lobbyID string, pt *phaseTimer) {
	ob := g.out()
	defer ob.flush()
	g.mu.Lock()
	defer g.mu.Unlock()

	lb := g.lobbies[lobbyID]
	if lb == nil || lb.timer != pt || !lb.Started {
		return
	}
	r := g.rounds[lobbyID]
	if r == nil {
		return
	}

	next := r.drawerIdx + 1
	if next >= len(lb.Members) || next < 0 {
		next = 0
		lb.Round++
	}
	if lb.Round > lb.Rounds {
		g.endGame(lb, ob, "all rounds played")
		return
	}
	g.startRound(lb, next, ob)
}

// endGame runs under the lock. The lobby survives for a rematch.
func (g *DrawGuess) endGame(lb *Lobby, ob *outbox, reason string) {
	g.queueToLobby(lb, ob, protocol.KindGameOver, protocol.LobbyGameOver{
		LobbyID: lb.ID,
		Winner:  topScorer(lb.Scores),
		Scores:  copyScores(lb.Scores),
		Reason:  reason,
	}, "")
	lb.stopTimer()
	lb.Started = false
	lb.Round = 0
	lb.Scores = make(map[string]int)
	delete(g.rounds, lb.ID)
	g.queueLobbyState(lb, ob)
}

// topScorer returns the unique highest scorer, or "" on a tie.
func topScorer(scores map[string]int) string {
	best, winner, ties := -1, "", 0
	for user, score := range scores {
		switch {
		case score > best:
			best, winner, ties = score, user, 1
		case score == best:
			ties++
		}
	}
	if ties != 1 {
		return ""
	}
	return winner
}

func (g *DrawGuess) handleStroke(username string, req protocol.DrawStroke) {
	ob := g.out()
	defer ob.flush()
	g.mu.Lock()
	defer g.mu.Unlock()

	lb := g.lobbyOf(username)
	r := g.rounds[lobbyIDOf(lb)]
	if lb == nil || !lb.Started || r == nil || r.drawer != username {
		return
	}
	g.queueToLobby(lb, ob, protocol.KindDrawData, protocol.DrawStroke{
		LobbyID: lb.ID,
		From:    username,
		Stroke:  req.Stroke,
	}, username)
}

func (g *DrawGuess) handleClear(username string) {
	ob := g.out()
	defer ob.flush()
	g.mu.Lock()
	defer g.mu.Unlock()

	lb := g.lobbyOf(username)
	r := g.rounds[lobbyIDOf(lb)]
	if lb == nil || !lb.Started || r == nil || r.drawer != username {
		return
	}
	g.queueToLobby(lb, ob, protocol.KindClearCanvas, protocol.DrawClear{LobbyID: lb.ID, From: username}, username)
}

func lobbyIDOf(lb *Lobby) string {
	if lb == nil {
		return ""
	}
	return lb.ID
}

// memberLeft runs under the manager lock after the base removed the member.
func (g *DrawGuess) memberLeft(lb *Lobby, username string, idx int, ob *outbox) {
	if !lb.Started {
		return
	}
	if len(lb.Members) < g.lim.minPlayers {
		g.endGame(lb, ob, "not enough players")
		return
	}
	r := g.rounds[lb.ID]
	if r == nil {
		return
	}
	delete(r.guessed, username)

	if username == r.drawer {
		// The drawer walked out mid-round: reveal, then let the advance
		// land on whoever slid into their seat.
		if !r.ended {
			r.ended = true
			g.queueToLobby(lb, ob, protocol.KindWordReveal, protocol.DrawWordReveal{LobbyID: lb.ID, Word: r.word}, "")
		}
		r.drawerIdx--
		lobbyID := lb.ID
		lb.setTimer(after(interRoundPause, func(pt *phaseTimer) {
			g.advanceRound(lobbyID, pt)
		}))
		return
	}

	if idx >= 0 && idx < r.drawerIdx {
		r.drawerIdx--
	}
	if !r.ended && g.allGuessed(lb, r) {
		g.endRound(lb, r, ob)
	}
}
