package game

import (
	"math/rand"
	"strconv"

	"go.uber.org/zap"

	"github.com/wispim/server/internal/net"
	"github.com/wispim/server/internal/protocol"
)

var cardColors = []string{protocol.ColorRed, protocol.ColorYellow, protocol.ColorGreen, protocol.ColorBlue}

// CardHand runs the shedding card game: match the top card by color or
// value, wilds pick the next color, first empty hand wins.
type CardHand struct {
	base
	games map[string]*cardGame // by lobby id
}

type cardGame struct {
	hands   map[string][]protocol.Card
	deck    []protocol.Card
	discard []protocol.Card // top is the last element
	color   string          // current color, diverges from the top after wilds
	turnIdx int
	dir     int // 1 or -1 through the seat order

	awaitBy   string // player who owes a color choice, turn held
	awaitFour bool   // the awaited wild also deals four
}

func NewCardHand(session SessionFunc, presence PresenceFunc, log *zap.Logger) *CardHand {
	g := &CardHand{
		base: newBase(protocol.PktCardHand, "Cards", limits{
			minPlayers:      2,
			defaultMax:      6,
			maxPlayers:      8,
			defaultRounds:   1,
			maxRounds:       1,
			defaultSeconds:  60,
			minSeconds:      60,
			maxSeconds:      60,
			defaultLanguage: "en",
		}, session, presence, log),
		games: make(map[string]*cardGame),
	}
	g.onMemberLeft = g.memberLeft
	g.onDestroy = func(lb *Lobby) { delete(g.games, lb.ID) }
	return g
}

func (g *CardHand) Dispatch(sess *net.Session, msg protocol.GameMessage) {
	if g.dispatchShared(sess, msg) {
		return
	}
	switch msg.Kind {
	case protocol.KindStartGame:
		g.handleStart(sess.Username())
	case protocol.KindPlayCard:
		var req protocol.CardPlay
		if msg.Decode(&req) != nil {
			return
		}
		g.handlePlay(sess.Username(), req.Index)
	case protocol.KindDrawCard:
		g.handleDraw(sess.Username())
	case protocol.KindChooseColor:
		var req protocol.CardChooseColor
		if msg.Decode(&req) != nil {
			return
		}
		g.handleChooseColor(sess.Username(), req.Color)
	}
}

// newDeck builds the 108-card deck: per color one 0, two of 1–9, two each
// skip/reverse/draw-two, plus four wilds and four wild-fours.
func newDeck() []protocol.Card {
	deck := make([]protocol.Card, 0, 108)
	for _, color := range cardColors {
		deck = append(deck, protocol.Card{Color: color, Value: "0"})
		for v := 1; v <= 9; v++ {
			c := protocol.Card{Color: color, Value: strconv.Itoa(v)}
			deck = append(deck, c, c)
		}
		for _, v := range []string{protocol.ValueSkip, protocol.ValueReverse, protocol.ValueDrawTwo} {
			c := protocol.Card{Color: color, Value: v}
			deck = append(deck, c, c)
		}
	}
	for i := 0; i < 4; i++ {
		deck = append(deck, protocol.Card{Value: protocol.ValueWild})
		deck = append(deck, protocol.Card{Value: protocol.ValueWildFour})
	}
	rand.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })
	return deck
}

func (g *CardHand) handleStart(username string) {
	ob := g.out()
	defer ob.flush()
	g.mu.Lock()
	defer g.mu.Unlock()

	lb := g.lobbyForStart(username)
	if lb == nil {
		return
	}
	cg := &cardGame{
		hands: make(map[string][]protocol.Card),
		deck:  newDeck(),
		dir:   1,
	}
	for _, member := range lb.Members {
		cg.hands[member] = cg.deck[:7:7]
		cg.deck = cg.deck[7:]
	}
	// Flip the start card. A wild-four goes back under the deck; a plain
	// wild start gets a random color so nobody faces a pre-game prompt.
	for cg.deck[0].Value == protocol.ValueWildFour {
		wild := cg.deck[0]
		cg.deck = append(cg.deck[1:], wild)
	}
	start := cg.deck[0]
	cg.deck = cg.deck[1:]
	cg.discard = []protocol.Card{start}
	cg.color = start.Color
	if start.Wild() {
		cg.color = cardColors[rand.Intn(len(cardColors))]
	}

	g.games[lb.ID] = cg
	lb.Started = true

	g.queueLobbyState(lb, ob)
	g.queueHandUpdate(lb, cg, ob)
}

func (cg *cardGame) top() protocol.Card {
	return cg.discard[len(cg.discard)-1]
}

// draw moves up to n cards from the deck into the player's hand, recycling
// the discard pile (minus its top card) when the deck runs dry.
func (cg *cardGame) draw(username string, n int) {
	for i := 0; i < n; i++ {
		if len(cg.deck) == 0 {
			if len(cg.discard) <= 1 {
				return // every card is in a hand
			}
			top := cg.top()
			cg.deck = cg.discard[:len(cg.discard)-1]
			cg.discard = []protocol.Card{top}
			for i := range cg.deck {
				if cg.deck[i].Wild() {
					cg.deck[i].Color = protocol.ColorNone
				}
			}
			rand.Shuffle(len(cg.deck), func(i, j int) { cg.deck[i], cg.deck[j] = cg.deck[j], cg.deck[i] })
		}
		cg.hands[username] = append(cg.hands[username], cg.deck[0])
		cg.deck = cg.deck[1:]
	}
}

func (cg *cardGame) advance(lb *Lobby, steps int) {
	n := len(lb.Members)
	if n == 0 {
		return
	}
	cg.turnIdx = ((cg.turnIdx+cg.dir*steps)%n + n) % n
}

func (cg *cardGame) playable(c protocol.Card) bool {
	return c.Wild() || c.Color == cg.color || c.Value == cg.top().Value
}

func (g *CardHand) handlePlay(username string, index int) {
	ob := g.out()
	defer ob.flush()
	g.mu.Lock()
	defer g.mu.Unlock()

	lb := g.lobbyOf(username)
	if lb == nil || !lb.Started {
		return
	}
	cg := g.games[lb.ID]
	if cg == nil || cg.awaitBy != "" || lb.Members[cg.turnIdx] != username {
		return
	}
	hand := cg.hands[username]
	if index < 0 || index >= len(hand) {
		return
	}
	card := hand[index]
	if !cg.playable(card) {
		return
	}

	cg.hands[username] = append(hand[:index:index], hand[index+1:]...)
	cg.discard = append(cg.discard, card)

	if len(cg.hands[username]) == 0 {
		g.endGame(lb, cg, ob, username, "went out")
		return
	}

	switch card.Value {
	case protocol.ValueWild, protocol.ValueWildFour:
		// Turn is held until the color arrives.
		cg.color = protocol.ColorNone
		cg.awaitBy = username
		cg.awaitFour = card.Value == protocol.ValueWildFour
	case protocol.ValueSkip:
		cg.color = card.Color
		cg.advance(lb, 2)
	case protocol.ValueReverse:
		cg.color = card.Color
		cg.dir = -cg.dir
		if len(lb.Members) == 2 {
			cg.advance(lb, 2) // acts as a skip head-to-head
		} else {
			cg.advance(lb, 1)
		}
	case protocol.ValueDrawTwo:
		cg.color = card.Color
		cg.advance(lb, 1)
		cg.draw(lb.Members[cg.turnIdx], 2)
		cg.advance(lb, 1)
	default:
		cg.color = card.Color
		cg.advance(lb, 1)
	}
	g.queueHandUpdate(lb, cg, ob)
}

func (g *CardHand) handleChooseColor(username, color string) {
	ob := g.out()
	defer ob.flush()
	g.mu.Lock()
	defer g.mu.Unlock()

	lb := g.lobbyOf(username)
	if lb == nil || !lb.Started {
		return
	}
	cg := g.games[lb.ID]
	if cg == nil || cg.awaitBy != username || !validColor(color) {
		return
	}
	cg.resolveColor(lb, color)
	g.queueHandUpdate(lb, cg, ob)
}

func validColor(color string) bool {
	for _, c := range cardColors {
		if c == color {
			return true
		}
	}
	return false
}

// resolveColor finishes a wild play: set the color, stamp it on the wild
// sitting on top of the discard, deal the four if owed, release the turn.
func (cg *cardGame) resolveColor(lb *Lobby, color string) {
	cg.color = color
	cg.discard[len(cg.discard)-1].Color = color
	four := cg.awaitFour
	cg.awaitBy = ""
	cg.awaitFour = false
	if four {
		cg.advance(lb, 1)
		cg.draw(lb.Members[cg.turnIdx], 4)
		cg.advance(lb, 1)
	} else {
		cg.advance(lb, 1)
	}
}

func (g *CardHand) handleDraw(username string) {
	ob := g.out()
	defer ob.flush()
	g.mu.Lock()
	defer g.mu.Unlock()

	lb := g.lobbyOf(username)
	if lb == nil || !lb.Started {
		return
	}
	cg := g.games[lb.ID]
	if cg == nil || cg.awaitBy != "" || lb.Members[cg.turnIdx] != username {
		return
	}
	cg.draw(username, 1)
	cg.advance(lb, 1)
	g.queueHandUpdate(lb, cg, ob)
}

// queueHandUpdate sends each member their own hand plus the shared table
// state. Everything is copied.
func (g *CardHand) queueHandUpdate(lb *Lobby, cg *cardGame, ob *outbox) {
	counts := make(map[string]int, len(cg.hands))
	for user, hand := range cg.hands {
		counts[user] = len(hand)
	}
	turn := ""
	if len(lb.Members) > 0 {
		turn = lb.Members[cg.turnIdx]
	}
	for _, member := range lb.Members {
		ob.queue(member, protocol.KindHandUpdate, protocol.CardHandUpdate{
			LobbyID:       lb.ID,
			Hand:          append([]protocol.Card(nil), cg.hands[member]...),
			Counts:        counts,
			Turn:          turn,
			Top:           cg.top(),
			Color:         cg.color,
			Direction:     cg.dir,
			AwaitingColor: cg.awaitBy != "",
			AwaitingBy:    cg.awaitBy,
			DrawPile:      len(cg.deck),
		})
	}
}

// endGame runs under the lock. Wins accumulate on the lobby scoreboard and
// the room survives for a rematch.
func (g *CardHand) endGame(lb *Lobby, cg *cardGame, ob *outbox, winner, reason string) {
	if winner != "" {
		lb.Scores[winner]++
	}
	g.queueToLobby(lb, ob, protocol.KindGameOver, protocol.LobbyGameOver{
		LobbyID: lb.ID,
		Winner:  winner,
		Scores:  copyScores(lb.Scores),
		Reason:  reason,
	}, "")
	lb.Started = false
	delete(g.games, lb.ID)
	g.queueLobbyState(lb, ob)
}

// memberLeft runs under the manager lock after the base removed the member.
// The leaver's cards go back under the discard top so the deck never starves.
func (g *CardHand) memberLeft(lb *Lobby, username string, idx int, ob *outbox) {
	if !lb.Started {
		return
	}
	cg := g.games[lb.ID]
	if cg == nil {
		return
	}
	if len(lb.Members) < g.lim.minPlayers {
		g.endGame(lb, cg, ob, lb.Members[0], "opponents left")
		return
	}

	hand := cg.hands[username]
	delete(cg.hands, username)
	if len(hand) > 0 {
		top := cg.top()
		cg.discard = append(cg.discard[:len(cg.discard)-1], hand...)
		cg.discard = append(cg.discard, top)
	}

	wasTurn := idx == cg.turnIdx
	if idx >= 0 && idx < cg.turnIdx {
		cg.turnIdx--
	}
	if cg.turnIdx >= len(lb.Members) {
		cg.turnIdx = 0
	}
	// Seat compaction already points turnIdx at the next player when the
	// direction is forward; walking backwards it lands one seat long.
	if wasTurn && cg.dir < 0 {
		cg.advance(lb, 1)
	}
	if cg.awaitBy == username {
		// Leaver owed a color; pick one so the table is never stuck.
		cg.awaitBy = ""
		four := cg.awaitFour
		cg.awaitFour = false
		cg.color = cardColors[rand.Intn(len(cardColors))]
		cg.discard[len(cg.discard)-1].Color = cg.color
		if four {
			cg.draw(lb.Members[cg.turnIdx], 4)
			cg.advance(lb, 1)
		}
	}
	g.queueHandUpdate(lb, cg, ob)
}
