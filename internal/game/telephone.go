package game

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/wispim/server/internal/net"
	"github.com/wispim/server/internal/protocol"
)

// telePhases is the number of content phases: write, draw, describe, draw.
const telePhases = 4

// Telephone runs the drawing-telephone game: every player starts a chain
// with a phrase, then the chains rotate through alternating draw and
// describe phases, and the mangled results are revealed at the end.
type Telephone struct {
	base
	games map[string]*teleGame // by lobby id
}

type teleGame struct {
	order  []string // seat order frozen at start
	phase  int
	offset int // chain rotation distance for the current phase

	phrases map[string]string              // chain owner → initial phrase
	chains  map[string][]protocol.TeleStep // chain owner → later steps
	assign  map[string]string              // player → chain owner worked this phase
	pending map[string]string              // player → submission for this phase

	revealing bool
	reveal    int // index into order of the next chain to show
}

func NewTelephone(session SessionFunc, presence PresenceFunc, log *zap.Logger) *Telephone {
	g := &Telephone{
		base: newBase(protocol.PktTelephone, "Telephone", limits{
			minPlayers:      2,
			defaultMax:      8,
			maxPlayers:      10,
			defaultRounds:   1,
			maxRounds:       1,
			defaultSeconds:  45,
			minSeconds:      20,
			maxSeconds:      120,
			defaultLanguage: "en",
		}, session, presence, log),
		games: make(map[string]*teleGame),
	}
	g.onMemberLeft = g.memberLeft
	g.onDestroy = func(lb *Lobby) { delete(g.games, lb.ID) }
	return g
}

func (g *Telephone) Dispatch(sess *net.Session, msg protocol.GameMessage) {
	if g.dispatchShared(sess, msg) {
		return
	}
	switch msg.Kind {
	case protocol.KindStartGame:
		g.handleStart(sess.Username())
	case protocol.KindSubmit:
		var req protocol.TeleSubmit
		if msg.Decode(&req) != nil {
			return
		}
		g.handleSubmit(sess.Username(), req.Content)
	case protocol.KindNextChain:
		g.handleNextChain(sess.Username())
	}
}

func (g *Telephone) handleStart(username string) {
	ob := g.out()
	defer ob.flush()
	g.mu.Lock()
	defer g.mu.Unlock()

	lb := g.lobbyForStart(username)
	if lb == nil {
		return
	}
	lb.Started = true
	tg := &teleGame{
		order:   append([]string(nil), lb.Members...),
		phrases: make(map[string]string),
		chains:  make(map[string][]protocol.TeleStep),
		assign:  make(map[string]string),
		pending: make(map[string]string),
	}
	g.games[lb.ID] = tg

	g.queueLobbyState(lb, ob)
	g.queuePhaseState(lb, tg, ob)
	g.armPhaseTimer(lb, tg)
}

// phaseSeconds gives each phase its deadline: drawing phases get double the
// lobby's configured write time.
func (lb *Lobby) phaseSeconds(phase int) int {
	if stepTypeOf(phase) == protocol.StepDrawing {
		return 2 * lb.RoundSeconds
	}
	return lb.RoundSeconds
}

func stepTypeOf(phase int) string {
	switch phase {
	case 1, 3:
		return protocol.StepDrawing
	case 2:
		return protocol.StepDescription
	default:
		return protocol.StepPhrase
	}
}

func (g *Telephone) armPhaseTimer(lb *Lobby, tg *teleGame) {
	lobbyID := lb.ID
	phase := tg.phase
	lb.setTimer(after(time.Duration(lb.phaseSeconds(phase))*time.Second, func(pt *phaseTimer) {
		g.phaseTimeout(lobbyID, pt, phase)
	}))
}

func (g *Telephone) phaseTimeout(lobbyID string, pt *phaseTimer, phase int) {
	ob := g.out()
	defer ob.flush()
	g.mu.Lock()
	defer g.mu.Unlock()

	lb := g.lobbies[lobbyID]
	if lb == nil || lb.timer != pt || !lb.Started {
		return
	}
	tg := g.games[lobbyID]
	if tg == nil || tg.revealing || tg.phase != phase {
		return
	}
	g.endPhase(lb, tg, ob)
}

// queuePhaseState sends every player a personalized snapshot: the prompt is
// the newest step of the chain assigned to them for this phase.
func (g *Telephone) queuePhaseState(lb *Lobby, tg *teleGame, ob *outbox) {
	submitted := make([]string, 0, len(tg.pending))
	for user := range tg.pending {
		submitted = append(submitted, user)
	}
	sort.Strings(submitted)

	for _, member := range tg.order {
		st := protocol.TelePhaseState{
			LobbyID:   lb.ID,
			Phase:     tg.phase,
			StepType:  stepTypeOf(tg.phase),
			Seconds:   lb.phaseSeconds(tg.phase),
			Submitted: submitted,
		}
		if owner, ok := tg.assign[member]; ok {
			st.Prompt = g.latestStep(tg, owner)
		}
		ob.queue(member, protocol.KindPhaseState, st)
	}
}

// latestStep is the content a worker continues from: the owner's phrase
// until the chain has later steps.
func (g *Telephone) latestStep(tg *teleGame, owner string) string {
	if steps := tg.chains[owner]; len(steps) > 0 {
		return steps[len(steps)-1].Content
	}
	return tg.phrases[owner]
}

func (g *Telephone) handleSubmit(username, content string) {
	ob := g.out()
	defer ob.flush()
	g.mu.Lock()
	defer g.mu.Unlock()

	lb := g.lobbyOf(username)
	if lb == nil || !lb.Started {
		return
	}
	tg := g.games[lb.ID]
	if tg == nil || tg.revealing {
		return
	}
	if _, dup := tg.pending[username]; dup {
		return // first submission wins
	}
	tg.pending[username] = content

	if len(tg.pending) == len(tg.order) {
		g.endPhase(lb, tg, ob)
		return
	}
	g.queuePhaseState(lb, tg, ob)
}

// endPhase commits the phase's submissions (placeholders for anyone who ran
// out the clock) and rotates into the next phase or the reveal. Runs under
// the manager lock.
func (g *Telephone) endPhase(lb *Lobby, tg *teleGame, ob *outbox) {
	stepType := stepTypeOf(tg.phase)
	for _, player := range tg.order {
		content, ok := tg.pending[player]
		if !ok {
			content = placeholderFor(stepType)
		}
		if tg.phase == 0 {
			tg.phrases[player] = content
			continue
		}
		owner := tg.assign[player]
		tg.chains[owner] = append(tg.chains[owner], protocol.TeleStep{
			Author:  player,
			Type:    stepType,
			Content: content,
		})
	}
	tg.pending = make(map[string]string)
	tg.phase++

	if tg.phase >= telePhases {
		g.startReveal(lb, tg, ob)
		return
	}
	g.rotateAssignments(tg)
	g.queuePhaseState(lb, tg, ob)
	g.armPhaseTimer(lb, tg)
}

func placeholderFor(stepType string) string {
	switch stepType {
	case protocol.StepDrawing:
		return ""
	case protocol.StepDescription:
		return "(no description)"
	default:
		return "(no phrase)"
	}
}

// rotateAssignments advances the rotation so nobody ever works their own
// chain: the offset bumps each phase and skips multiples of the head-count.
func (g *Telephone) rotateAssignments(tg *teleGame) {
	n := len(tg.order)
	tg.offset++
	if tg.offset%n == 0 {
		tg.offset++
	}
	for i, player := range tg.order {
		tg.assign[player] = tg.order[(i+tg.offset)%n]
	}
}

func (g *Telephone) startReveal(lb *Lobby, tg *teleGame, ob *outbox) {
	lb.stopTimer()
	tg.revealing = true
	tg.reveal = 0
	g.queueChainResult(lb, tg, ob)
}

// queueChainResult shows chain tg.reveal to the whole lobby, the owner's
// phrase riding as a synthetic first step.
func (g *Telephone) queueChainResult(lb *Lobby, tg *teleGame, ob *outbox) {
	owner := tg.order[tg.reveal]
	steps := make([]protocol.TeleStep, 0, len(tg.chains[owner])+1)
	steps = append(steps, protocol.TeleStep{
		Author:  owner,
		Type:    protocol.StepPhrase,
		Content: tg.phrases[owner],
	})
	steps = append(steps, tg.chains[owner]...)

	g.queueToLobby(lb, ob, protocol.KindChainResult, protocol.TeleChainResult{
		LobbyID: lb.ID,
		Owner:   owner,
		Index:   tg.reveal,
		Total:   len(tg.order),
		Steps:   steps,
	}, "")
}

// handleNextChain pages the reveal; only the host drives it.
func (g *Telephone) handleNextChain(username string) {
	ob := g.out()
	defer ob.flush()
	g.mu.Lock()
	defer g.mu.Unlock()

	lb := g.lobbyOf(username)
	if lb == nil || !lb.Started || lb.Host != username {
		return
	}
	tg := g.games[lb.ID]
	if tg == nil || !tg.revealing {
		return
	}
	tg.reveal++
	if tg.reveal >= len(tg.order) {
		g.endGame(lb, ob, "all chains revealed")
		return
	}
	g.queueChainResult(lb, tg, ob)
}

// endGame runs under the lock; telephone keeps no scores.
func (g *Telephone) endGame(lb *Lobby, ob *outbox, reason string) {
	g.queueToLobby(lb, ob, protocol.KindGameOver, protocol.LobbyGameOver{
		LobbyID: lb.ID,
		Reason:  reason,
	}, "")
	lb.stopTimer()
	lb.Started = false
	delete(g.games, lb.ID)
	g.queueLobbyState(lb, ob)
}

// memberLeft runs under the manager lock. The chains are woven around the
// started head-count, so any departure before the reveal sinks the game;
// during the reveal the show goes on.
func (g *Telephone) memberLeft(lb *Lobby, username string, idx int, ob *outbox) {
	if !lb.Started {
		return
	}
	tg := g.games[lb.ID]
	if tg == nil {
		return
	}
	if !tg.revealing {
		g.endGame(lb, ob, "player left")
	}
}
