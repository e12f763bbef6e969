package protocol

import "encoding/json"

// GameMessage is the payload of every game umbrella packet: a sub-tagged
// union over per-game message kinds.
type GameMessage struct {
	Kind string          `json:"k"`
	Data json.RawMessage `json:"d,omitempty"`
}

// NewGameMessage marshals body under the given kind tag.
func NewGameMessage(kind string, body any) (GameMessage, error) {
	msg := GameMessage{Kind: kind}
	if body != nil {
		d, err := json.Marshal(body)
		if err != nil {
			return GameMessage{}, err
		}
		msg.Data = d
	}
	return msg, nil
}

// Decode unmarshals the message body into out.
func (m GameMessage) Decode(out any) error {
	if len(m.Data) == 0 {
		return nil
	}
	return json.Unmarshal(m.Data, out)
}

// Message kinds shared by the lobby-based games.
const (
	KindCreateLobby = "CreateLobby"
	KindJoinLobby   = "JoinLobby"
	KindLeaveLobby  = "LeaveLobby"
	KindStartGame   = "StartGame"
	KindLobbyState  = "LobbyState"
	KindGameOver    = "GameOver"
)

// Message kinds for the invite-based head-to-head games.
const (
	KindInvite  = "Invite"
	KindInvited = "Invited"
	KindAccept  = "Accept"
	KindDecline = "Decline"
	KindMove    = "Move"
)

// ── Shared lobby payloads ───────────────────────────────────────────

// LobbyCreate carries per-lobby parameters; zero values take server-side
// defaults and everything is clamped to per-game bounds.
type LobbyCreate struct {
	Name         string `json:"name"`
	MaxPlayers   int    `json:"maxPlayers,omitempty"`
	Rounds       int    `json:"rounds,omitempty"`
	RoundSeconds int    `json:"roundSeconds,omitempty"`
	Language     string `json:"language,omitempty"`
}

type LobbyJoin struct {
	LobbyID string `json:"lobbyId"`
}

type LobbyState struct {
	LobbyID      string            `json:"lobbyId"`
	Name         string            `json:"name"`
	Host         string            `json:"host"`
	Members      []string          `json:"members"`
	DisplayNames map[string]string `json:"displayNames,omitempty"`
	Scores       map[string]int    `json:"scores,omitempty"`
	MaxPlayers   int               `json:"maxPlayers"`
	Started      bool              `json:"started"`
	Round        int               `json:"round,omitempty"`
}

// LobbyGameOver closes a lobby game; Winner is empty when scores decide.
type LobbyGameOver struct {
	LobbyID string         `json:"lobbyId"`
	Winner  string         `json:"winner,omitempty"`
	Scores  map[string]int `json:"scores,omitempty"`
	Reason  string         `json:"reason,omitempty"`
}

// ── Tic-tac-toe (PktTicTacToe) ──────────────────────────────────────

const (
	KindTTTState    = "State"
	KindTTTSpectate = "Spectate"
)

type TTTInvite struct {
	To string `json:"to"`
}

type TTTInvited struct {
	GameID   string `json:"gameId"`
	From     string `json:"from"`
	FromName string `json:"fromName,omitempty"`
}

type TTTAccept struct {
	GameID string `json:"gameId"`
}

type TTTDecline struct {
	GameID string `json:"gameId"`
}

type TTTMove struct {
	GameID string `json:"gameId"`
	Cell   int    `json:"cell"` // 0..8, row-major
}

type TTTSpectate struct {
	GameID string `json:"gameId"`
}

// TTTState is the full board snapshot sent after every accepted move, to
// spectators on attach, and (with Finished set) as the terminal frame.
type TTTState struct {
	GameID   string    `json:"gameId"`
	Board    [9]string `json:"board"` // "", "X" or "O"
	Turn     string    `json:"turn"`  // username to move
	PlayerX  string    `json:"playerX"`
	PlayerO  string    `json:"playerO"`
	Finished bool      `json:"finished"`
	Winner   string    `json:"winner,omitempty"` // empty on draw
	WinLine  []int     `json:"winLine,omitempty"`
}

// ── Draw-and-guess (PktDrawGuess) ───────────────────────────────────

const (
	KindRoundState   = "RoundState"
	KindDrawData     = "DrawData"
	KindClearCanvas  = "ClearCanvas"
	KindChatGuess    = "ChatGuess"
	KindCorrectGuess = "CorrectGuess"
	KindWordReveal   = "WordReveal"
)

// DrawRoundState is personalized: only the drawer's copy carries Word.
type DrawRoundState struct {
	LobbyID  string         `json:"lobbyId"`
	Round    int            `json:"round"`
	Rounds   int            `json:"rounds"`
	Drawer   string         `json:"drawer"`
	Hint     string         `json:"hint"`
	TimeLeft int            `json:"timeLeft"`
	Word     string         `json:"word,omitempty"`
	Scores   map[string]int `json:"scores"`
}

// DrawStroke bytes are opaque to the server; it relays them unmodified to
// every member except the drawer.
type DrawStroke struct {
	LobbyID string          `json:"lobbyId"`
	From    string          `json:"from,omitempty"`
	Stroke  json.RawMessage `json:"stroke"`
}

type DrawClear struct {
	LobbyID string `json:"lobbyId"`
	From    string `json:"from,omitempty"`
}

type DrawGuessChat struct {
	LobbyID string `json:"lobbyId"`
	From    string `json:"from,omitempty"`
	Text    string `json:"text"`
}

type DrawCorrectGuess struct {
	LobbyID string         `json:"lobbyId"`
	User    string         `json:"user"`
	Scores  map[string]int `json:"scores"`
}

type DrawWordReveal struct {
	LobbyID string `json:"lobbyId"`
	Word    string `json:"word"`
}

// ── Telephone (PktTelephone) ────────────────────────────────────────

const (
	KindPhaseState  = "PhaseState"
	KindSubmit      = "Submit"
	KindNextChain   = "NextChain"
	KindChainResult = "ChainResult"
)

// Telephone phase step types.
const (
	StepPhrase      = "phrase"
	StepDrawing     = "drawing"
	StepDescription = "description"
)

type TeleSubmit struct {
	LobbyID string `json:"lobbyId"`
	Content string `json:"content"`
}

// TelePhaseState is personalized: Prompt carries the previous step of the
// player's assigned chain (empty during the write phase).
type TelePhaseState struct {
	LobbyID   string   `json:"lobbyId"`
	Phase     int      `json:"phase"` // 0 write, 1 draw, 2 describe, 3 draw
	StepType  string   `json:"stepType"`
	Seconds   int      `json:"seconds"`
	Prompt    string   `json:"prompt,omitempty"`
	Submitted []string `json:"submitted,omitempty"`
}

type TeleNextChain struct {
	LobbyID string `json:"lobbyId"`
}

type TeleStep struct {
	Author  string `json:"author"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

// TeleChainResult reveals one chain; the owner's initial phrase is prepended
// as a synthetic first step.
type TeleChainResult struct {
	LobbyID string     `json:"lobbyId"`
	Owner   string     `json:"owner"`
	Index   int        `json:"index"`
	Total   int        `json:"total"`
	Steps   []TeleStep `json:"steps"`
}

// ── Card-hand game (PktCardHand) ────────────────────────────────────

const (
	KindPlayCard    = "PlayCard"
	KindDrawCard    = "DrawCard"
	KindChooseColor = "ChooseColor"
	KindHandUpdate  = "HandUpdate"
)

// Card colors and values.
const (
	ColorRed    = "red"
	ColorYellow = "yellow"
	ColorGreen  = "green"
	ColorBlue   = "blue"
	ColorNone   = "" // wilds before a color is chosen

	ValueSkip     = "skip"
	ValueReverse  = "reverse"
	ValueDrawTwo  = "draw2"
	ValueWild     = "wild"
	ValueWildFour = "wild4"
)

type Card struct {
	Color string `json:"color"`
	Value string `json:"value"`
}

// Wild reports whether the card is playable on any color.
func (c Card) Wild() bool {
	return c.Value == ValueWild || c.Value == ValueWildFour
}

type CardPlay struct {
	LobbyID string `json:"lobbyId"`
	Index   int    `json:"index"` // position in the player's own hand
}

type CardDrawReq struct {
	LobbyID string `json:"lobbyId"`
}

type CardChooseColor struct {
	LobbyID string `json:"lobbyId"`
	Color   string `json:"color"`
}

// CardHandUpdate is personalized: Hand holds only the recipient's cards,
// Counts the size of everyone's.
type CardHandUpdate struct {
	LobbyID       string         `json:"lobbyId"`
	Hand          []Card         `json:"hand"`
	Counts        map[string]int `json:"counts"`
	Turn          string         `json:"turn"`
	Top           Card           `json:"top"`
	Color         string         `json:"color"`
	Direction     int            `json:"direction"` // 1 clockwise, -1 reversed
	AwaitingColor bool           `json:"awaitingColor,omitempty"`
	AwaitingBy    string         `json:"awaitingBy,omitempty"`
	DrawPile      int            `json:"drawPile"`
}

// ── Card-betting game (PktCardBet) ──────────────────────────────────

// KindRoundState is shared with draw-and-guess; the umbrella packet type
// disambiguates.
const (
	KindBettingPhase = "BettingPhase"
	KindPlaceBet     = "PlaceBet"
	KindHit          = "Hit"
	KindStand        = "Stand"
	KindRoundResult  = "RoundResult"
	KindNextRound    = "NextRound"
)

type BetCard struct {
	Suit   string `json:"suit,omitempty"` // hearts, diamonds, clubs, spades
	Rank   string `json:"rank,omitempty"` // A, 2..10, J, Q, K
	Hidden bool   `json:"hidden,omitempty"`
}

type BetPlace struct {
	LobbyID string `json:"lobbyId"`
	Amount  int    `json:"amount"`
}

type BetAction struct {
	LobbyID string `json:"lobbyId"`
}

type BetPlayerState struct {
	Username string    `json:"username"`
	Hand     []BetCard `json:"hand"`
	Value    int       `json:"value"`
	Bet      int       `json:"bet"`
	Balance  int       `json:"balance"`
	Score    int       `json:"score"`
	Standing bool      `json:"standing,omitempty"`
	Busted   bool      `json:"busted,omitempty"`
	Natural  bool      `json:"natural,omitempty"`
}

// BetRoundState is the table snapshot; the dealer's hole card rides as
// {Hidden: true} until the dealer turn.
type BetRoundState struct {
	LobbyID     string           `json:"lobbyId"`
	Phase       string           `json:"phase"` // betting, playing, dealer, settled
	Turn        string           `json:"turn,omitempty"`
	Pot         int              `json:"pot"`
	Dealer      []BetCard        `json:"dealer"`
	DealerValue int              `json:"dealerValue"`
	Players     []BetPlayerState `json:"players"`
}

type BetRoundResult struct {
	LobbyID     string            `json:"lobbyId"`
	Outcomes    map[string]string `json:"outcomes"` // win, lose, push, natural, bust
	Payouts     map[string]int    `json:"payouts"`  // net balance change
	Dealer      []BetCard         `json:"dealer"`
	DealerValue int               `json:"dealerValue"`
	Players     []BetPlayerState  `json:"players"`
}

// ── Best-of-N duel (PktDuel) ────────────────────────────────────────

const (
	KindStarted = "Started"
	KindResult  = "Result"

	MoveRock     = "rock"
	MovePaper    = "paper"
	MoveScissors = "scissors"
)

type DuelInvite struct {
	To string `json:"to"`
}

type DuelInvited struct {
	GameID   string `json:"gameId"`
	From     string `json:"from"`
	FromName string `json:"fromName,omitempty"`
}

type DuelAccept struct {
	GameID string `json:"gameId"`
}

type DuelDecline struct {
	GameID string `json:"gameId"`
}

type DuelMove struct {
	GameID string `json:"gameId"`
	Move   string `json:"move"`
}

// DuelStarted tells both players the invite was accepted; Target is the
// round count needed to win the match.
type DuelStarted struct {
	GameID       string `json:"gameId"`
	Opponent     string `json:"opponent"`
	OpponentName string `json:"opponentName,omitempty"`
	Target       int    `json:"target"`
}

// DuelResult is personalized so each player sees the round from their own
// perspective.
type DuelResult struct {
	GameID   string `json:"gameId"`
	MyMove   string `json:"myMove"`
	OppMove  string `json:"oppMove"`
	Winner   string `json:"winner,omitempty"` // username, empty on tie
	MyScore  int    `json:"myScore"`
	OppScore int    `json:"oppScore"`
}

type DuelGameOver struct {
	GameID   string `json:"gameId"`
	Winner   string `json:"winner"`
	MyScore  int    `json:"myScore"`
	OppScore int    `json:"oppScore"`
}

// ── Arena (PktArena) ────────────────────────────────────────────────

const (
	KindArenaJoin  = "Join"
	KindArenaLeave = "Leave"
	KindArenaInput = "Input"
	KindGameInfo   = "GameInfo"
	KindArenaState = "State"
	KindDeath      = "Death"
)

// Arena directions.
const (
	DirUp    = "up"
	DirDown  = "down"
	DirLeft  = "left"
	DirRight = "right"
)

type ArenaInput struct {
	Direction string `json:"dir"`
}

// ArenaCell is one ownership change; empty Owner clears the cell.
type ArenaCell struct {
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Owner string `json:"owner,omitempty"`
}

type ArenaPlayer struct {
	Username  string   `json:"username"`
	X         int      `json:"x"`
	Y         int      `json:"y"`
	Direction string   `json:"dir"`
	Color     string   `json:"color"`
	Trail     [][2]int `json:"trail,omitempty"`
	Score     int      `json:"score"`
}

// ArenaGameInfo is the full snapshot sent to a joining player before it
// enters the broadcast set.
type ArenaGameInfo struct {
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	TickMillis int           `json:"tickMillis"`
	You        string        `json:"you"`
	Cells      []ArenaCell   `json:"cells"`
	Players    []ArenaPlayer `json:"players"`
}

type ArenaState struct {
	Tick    int64         `json:"tick"`
	Players []ArenaPlayer `json:"players"`
	Diffs   []ArenaCell   `json:"diffs,omitempty"`
}

type ArenaDeath struct {
	Username string `json:"username"`
	Reason   string `json:"reason"` // wall, collision, trail, cut
}
