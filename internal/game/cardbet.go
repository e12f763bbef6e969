package game

import (
	"math/rand"
	"strconv"

	"go.uber.org/zap"

	"github.com/wispim/server/internal/net"
	"github.com/wispim/server/internal/protocol"
)

// Betting table phases.
const (
	betPhaseBetting = "betting"
	betPhasePlaying = "playing"
	betPhaseDealer  = "dealer"
	betPhaseSettled = "settled"
)

const (
	betStartBalance = 1000
	betMinimum      = 5
)

var (
	betSuits = []string{"hearts", "diamonds", "clubs", "spades"}
	betRanks = []string{"A", "2", "3", "4", "5", "6", "7", "8", "9", "10", "J", "Q", "K"}
)

// CardBet runs the betting card game against a house dealer. Balances live
// for as long as the table does; each round plays from a fresh deck.
type CardBet struct {
	base
	games map[string]*betGame // by lobby id
}

type betGame struct {
	phase   string
	deck    []protocol.BetCard
	dealer  []protocol.BetCard
	order   []string // seat order, compacted as players leave
	turnIdx int
	players map[string]*betPlayer
}

type betPlayer struct {
	balance  int
	bet      int
	placed   bool
	hand     []protocol.BetCard
	standing bool
	busted   bool
	natural  bool
}

func NewCardBet(session SessionFunc, presence PresenceFunc, log *zap.Logger) *CardBet {
	g := &CardBet{
		base: newBase(protocol.PktCardBet, "Card Table", limits{
			minPlayers:      1,
			defaultMax:      5,
			maxPlayers:      7,
			defaultRounds:   1,
			maxRounds:       1,
			defaultSeconds:  60,
			minSeconds:      60,
			maxSeconds:      60,
			defaultLanguage: "en",
		}, session, presence, log),
		games: make(map[string]*betGame),
	}
	g.onMemberLeft = g.memberLeft
	g.onDestroy = func(lb *Lobby) { delete(g.games, lb.ID) }
	return g
}

func (g *CardBet) Dispatch(sess *net.Session, msg protocol.GameMessage) {
	if g.dispatchShared(sess, msg) {
		return
	}
	switch msg.Kind {
	case protocol.KindStartGame:
		g.handleStart(sess.Username())
	case protocol.KindPlaceBet:
		var req protocol.BetPlace
		if msg.Decode(&req) != nil {
			return
		}
		g.handleBet(sess.Username(), req.Amount)
	case protocol.KindHit:
		g.handleHit(sess.Username())
	case protocol.KindStand:
		g.handleStand(sess.Username())
	case protocol.KindNextRound:
		g.handleNextRound(sess.Username())
	}
}

// newBetDeck shuffles one 52-card deck per four seats so a full table can
// never run the shoe dry mid-round.
func newBetDeck(seats int) []protocol.BetCard {
	decks := 1 + (seats-1)/4
	deck := make([]protocol.BetCard, 0, decks*52)
	for d := 0; d < decks; d++ {
		for _, suit := range betSuits {
			for _, rank := range betRanks {
				deck = append(deck, protocol.BetCard{Suit: suit, Rank: rank})
			}
		}
	}
	rand.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })
	return deck
}

// betValue scores a hand, downgrading aces from 11 to 1 while the total
// stays over 21.
func betValue(hand []protocol.BetCard) int {
	total, aces := 0, 0
	for _, c := range hand {
		switch c.Rank {
		case "A":
			total += 11
			aces++
		case "J", "Q", "K":
			total += 10
		default:
			n, _ := strconv.Atoi(c.Rank)
			total += n
		}
	}
	for total > 21 && aces > 0 {
		total -= 10
		aces--
	}
	return total
}

func (g *CardBet) handleStart(username string) {
	ob := g.out()
	defer ob.flush()
	g.mu.Lock()
	defer g.mu.Unlock()

	lb := g.lobbyForStart(username)
	if lb == nil {
		return
	}
	lb.Started = true
	bg := &betGame{
		phase:   betPhaseBetting,
		order:   append([]string(nil), lb.Members...),
		players: make(map[string]*betPlayer),
	}
	for _, member := range lb.Members {
		bg.players[member] = &betPlayer{balance: betStartBalance}
		lb.Scores[member] = 0
	}
	g.games[lb.ID] = bg

	g.queueLobbyState(lb, ob)
	g.queueTable(lb, bg, ob, protocol.KindBettingPhase)
}

func (g *CardBet) handleBet(username string, amount int) {
	ob := g.out()
	defer ob.flush()
	g.mu.Lock()
	defer g.mu.Unlock()

	lb := g.lobbyOf(username)
	if lb == nil || !lb.Started {
		return
	}
	bg := g.games[lb.ID]
	if bg == nil || bg.phase != betPhaseBetting {
		return
	}
	p := bg.players[username]
	if p == nil || p.placed {
		return
	}
	if p.balance < betMinimum {
		amount = p.balance // all in, possibly zero
	} else {
		amount = clamp(amount, betMinimum, p.balance)
	}
	p.bet = amount
	p.balance -= amount
	p.placed = true

	if bg.allPlaced() {
		g.deal(lb, bg, ob)
		return
	}
	g.queueTable(lb, bg, ob, protocol.KindRoundState)
}

func (bg *betGame) allPlaced() bool {
	for _, user := range bg.order {
		if !bg.players[user].placed {
			return false
		}
	}
	return true
}

func (bg *betGame) pop() protocol.BetCard {
	c := bg.deck[0]
	bg.deck = bg.deck[1:]
	return c
}

// deal opens the round once every bet is in: two cards each, two to the
// dealer, naturals locked in. Runs under the lock.
func (g *CardBet) deal(lb *Lobby, bg *betGame, ob *outbox) {
	bg.deck = newBetDeck(len(bg.order))
	bg.dealer = []protocol.BetCard{bg.pop(), bg.pop()}
	for _, user := range bg.order {
		p := bg.players[user]
		p.hand = []protocol.BetCard{bg.pop(), bg.pop()}
		if betValue(p.hand) == 21 {
			p.natural = true
			p.standing = true
		}
	}
	bg.phase = betPhasePlaying
	bg.turnIdx = 0
	g.settleOrContinue(lb, bg, ob)
}

// settleOrContinue moves the turn to the next live hand, or hands the round
// to the dealer when nobody is left to act. Runs under the lock.
func (g *CardBet) settleOrContinue(lb *Lobby, bg *betGame, ob *outbox) {
	for bg.turnIdx < len(bg.order) {
		p := bg.players[bg.order[bg.turnIdx]]
		if !p.standing && !p.busted {
			g.queueTable(lb, bg, ob, protocol.KindRoundState)
			return
		}
		bg.turnIdx++
	}
	g.dealerTurn(lb, bg, ob)
}

func (g *CardBet) handleHit(username string) {
	ob := g.out()
	defer ob.flush()
	g.mu.Lock()
	defer g.mu.Unlock()

	lb, bg, p := g.actionable(username)
	if p == nil {
		return
	}
	p.hand = append(p.hand, bg.pop())
	switch v := betValue(p.hand); {
	case v > 21:
		p.busted = true
		bg.turnIdx++
		g.settleOrContinue(lb, bg, ob)
	case v == 21:
		p.standing = true
		bg.turnIdx++
		g.settleOrContinue(lb, bg, ob)
	default:
		g.queueTable(lb, bg, ob, protocol.KindRoundState)
	}
}

func (g *CardBet) handleStand(username string) {
	ob := g.out()
	defer ob.flush()
	g.mu.Lock()
	defer g.mu.Unlock()

	lb, bg, p := g.actionable(username)
	if p == nil {
		return
	}
	p.standing = true
	bg.turnIdx++
	g.settleOrContinue(lb, bg, ob)
}

// actionable validates a hit/stand: playing phase and the caller's turn.
func (g *CardBet) actionable(username string) (*Lobby, *betGame, *betPlayer) {
	lb := g.lobbyOf(username)
	if lb == nil || !lb.Started {
		return nil, nil, nil
	}
	bg := g.games[lb.ID]
	if bg == nil || bg.phase != betPhasePlaying {
		return nil, nil, nil
	}
	if bg.turnIdx >= len(bg.order) || bg.order[bg.turnIdx] != username {
		return nil, nil, nil
	}
	return lb, bg, bg.players[username]
}

// dealerTurn reveals the hole card, draws to seventeen, then settles. The
// dealer stands on every seventeen. Runs under the lock.
func (g *CardBet) dealerTurn(lb *Lobby, bg *betGame, ob *outbox) {
	bg.phase = betPhaseDealer
	for betValue(bg.dealer) < 17 {
		bg.dealer = append(bg.dealer, bg.pop())
	}
	g.settle(lb, bg, ob)
}

// settle pays the table. Outcome precedence per hand: player bust loses the
// bet no matter what the dealer does; naturals push against each other and
// pay three-to-two otherwise; then dealer bust or the higher value wins.
func (g *CardBet) settle(lb *Lobby, bg *betGame, ob *outbox) {
	bg.phase = betPhaseSettled
	dv := betValue(bg.dealer)
	dealerNatural := len(bg.dealer) == 2 && dv == 21

	outcomes := make(map[string]string, len(bg.order))
	payouts := make(map[string]int, len(bg.order))
	for _, user := range bg.order {
		p := bg.players[user]
		pv := betValue(p.hand)
		credit := 0
		outcome := "lose"
		switch {
		case p.busted:
			outcome = "bust"
		case p.natural && dealerNatural:
			outcome = "push"
			credit = p.bet
		case p.natural:
			outcome = "natural"
			credit = p.bet + p.bet*3/2
		case dealerNatural:
			// outcome stays lose
		case dv > 21 || pv > dv:
			outcome = "win"
			credit = 2 * p.bet
		case pv == dv:
			outcome = "push"
			credit = p.bet
		}
		p.balance += credit
		if outcome == "win" || outcome == "natural" {
			lb.Scores[user]++
		}
		outcomes[user] = outcome
		payouts[user] = credit - p.bet
	}

	players := bg.playerStates()
	for i := range players {
		players[i].Score = lb.Scores[players[i].Username]
	}
	g.queueToLobby(lb, ob, protocol.KindRoundResult, protocol.BetRoundResult{
		LobbyID:     lb.ID,
		Outcomes:    outcomes,
		Payouts:     payouts,
		Dealer:      append([]protocol.BetCard(nil), bg.dealer...),
		DealerValue: dv,
		Players:     players,
	}, "")
	g.queueLobbyState(lb, ob)
}

// handleNextRound resets the table for another hand; the host deals.
func (g *CardBet) handleNextRound(username string) {
	ob := g.out()
	defer ob.flush()
	g.mu.Lock()
	defer g.mu.Unlock()

	lb := g.lobbyOf(username)
	if lb == nil || !lb.Started || lb.Host != username {
		return
	}
	bg := g.games[lb.ID]
	if bg == nil || bg.phase != betPhaseSettled {
		return
	}
	bg.phase = betPhaseBetting
	bg.dealer = nil
	bg.deck = nil
	bg.turnIdx = 0
	for _, p := range bg.players {
		p.bet = 0
		p.placed = false
		p.hand = nil
		p.standing = false
		p.busted = false
		p.natural = false
	}
	g.queueTable(lb, bg, ob, protocol.KindBettingPhase)
}

func (bg *betGame) playerStates() []protocol.BetPlayerState {
	out := make([]protocol.BetPlayerState, 0, len(bg.order))
	for _, user := range bg.order {
		p := bg.players[user]
		out = append(out, protocol.BetPlayerState{
			Username: user,
			Hand:     append([]protocol.BetCard(nil), p.hand...),
			Value:    betValue(p.hand),
			Bet:      p.bet,
			Balance:  p.balance,
			Standing: p.standing,
			Busted:   p.busted,
			Natural:  p.natural,
		})
	}
	return out
}

// queueTable snapshots the open table. The dealer's hole card rides hidden
// until the dealer turn.
func (g *CardBet) queueTable(lb *Lobby, bg *betGame, ob *outbox, kind string) {
	players := bg.playerStates()
	pot := 0
	for _, user := range bg.order {
		pot += bg.players[user].bet
	}
	for i := range players {
		players[i].Score = lb.Scores[players[i].Username]
	}
	dealer := append([]protocol.BetCard(nil), bg.dealer...)
	dealerValue := 0
	if bg.phase == betPhasePlaying && len(dealer) == 2 {
		dealer[1] = protocol.BetCard{Hidden: true}
		dealerValue = betValue(dealer[:1])
	} else if len(dealer) > 0 {
		dealerValue = betValue(dealer)
	}
	turn := ""
	if bg.phase == betPhasePlaying && bg.turnIdx < len(bg.order) {
		turn = bg.order[bg.turnIdx]
	}
	g.queueToLobby(lb, ob, kind, protocol.BetRoundState{
		LobbyID:     lb.ID,
		Phase:       bg.phase,
		Turn:        turn,
		Pot:         pot,
		Dealer:      dealer,
		DealerValue: dealerValue,
		Players:     players,
	}, "")
}

// memberLeft runs under the manager lock; the leaver's bet stays in the
// house. With one seat gone the round may suddenly be complete.
func (g *CardBet) memberLeft(lb *Lobby, username string, idx int, ob *outbox) {
	if !lb.Started {
		return
	}
	bg := g.games[lb.ID]
	if bg == nil {
		return
	}
	for i, user := range bg.order {
		if user == username {
			bg.order = append(bg.order[:i], bg.order[i+1:]...)
			if i < bg.turnIdx {
				bg.turnIdx--
			}
			break
		}
	}
	delete(bg.players, username)
	if len(bg.order) == 0 {
		return
	}
	switch bg.phase {
	case betPhaseBetting:
		if bg.allPlaced() {
			g.deal(lb, bg, ob)
			return
		}
	case betPhasePlaying:
		g.settleOrContinue(lb, bg, ob)
		return
	}
	g.queueTable(lb, bg, ob, protocol.KindRoundState)
}
