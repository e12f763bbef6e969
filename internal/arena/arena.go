// Package arena runs the territory-painting game: a fixed grid on a shared
// tick loop where every player paints a trail and claims the cells it
// encloses. One goroutine owns the simulation while anyone is on the grid;
// it parks when the last player leaves and restarts on the next join.
package arena

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wispim/server/internal/net"
	"github.com/wispim/server/internal/protocol"
)

const (
	gridW        = 50
	gridH        = 50
	tickInterval = 150 * time.Millisecond
)

var palette = []string{
	"#e6194b", "#3cb44b", "#4363d8", "#f58231", "#911eb4",
	"#46f0f0", "#f032e6", "#bcf60c", "#fabebe", "#008080",
}

// SessionFunc resolves a username to its live session.
type SessionFunc func(username string) (*net.Session, bool)

type player struct {
	username string
	x, y     int
	dir      string
	nextDir  string
	color    string
	trail    [][2]int // cells outside own territory, oldest first
}

type input struct {
	username string
	dir      string
}

// Engine is the arena simulation. The grid maps each cell to its owner's
// username; empty string is unclaimed. Everything is guarded by mu; the
// tick loop snapshots outbound frames under the lock and writes after
// releasing it.
type Engine struct {
	mu      sync.Mutex
	session SessionFunc
	log     *zap.Logger
	grid    []string // y*gridW + x
	players map[string]*player
	order   []string // join order; also the tick processing order
	inputs  []input
	diffs   []protocol.ArenaCell
	tick    int64
	running bool
}

func New(session SessionFunc, log *zap.Logger) *Engine {
	return &Engine{
		session: session,
		log:     log,
		grid:    make([]string, gridW*gridH),
		players: make(map[string]*player),
	}
}

func (e *Engine) Dispatch(sess *net.Session, msg protocol.GameMessage) {
	switch msg.Kind {
	case protocol.KindArenaJoin:
		e.Join(sess.Username())
	case protocol.KindArenaLeave:
		e.Leave(sess.Username())
	case protocol.KindArenaInput:
		var req protocol.ArenaInput
		if msg.Decode(&req) != nil {
			return
		}
		e.Input(sess.Username(), req.Direction)
	}
}

// Join spawns the player and sends them the full grid snapshot. Joining
// twice just resends the snapshot.
func (e *Engine) Join(username string) {
	e.mu.Lock()
	if _, ok := e.players[username]; !ok {
		x, y := e.spawnCell()
		p := &player{
			username: username,
			x:        x,
			y:        y,
			dir:      randomDir(),
			color:    e.pickColor(),
		}
		p.nextDir = p.dir
		e.players[username] = p
		e.order = append(e.order, username)

		// Grant the starter block.
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				e.setOwner(x+dx, y+dy, username)
			}
		}
		if !e.running {
			e.running = true
			go e.loop()
		}
		e.log.Info("arena join", zap.String("user", username), zap.Int("players", len(e.players)))
	}
	snap := e.snapshotFor(username)
	e.mu.Unlock()

	if sess, ok := e.session(username); ok {
		sess.SendGame(protocol.PktArena, protocol.KindGameInfo, snap)
	}
}

// Leave erases the player's territory; trails were never owned so they just
// vanish with the record. Disconnects land here too.
func (e *Engine) Leave(username string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.players[username]; !ok {
		return
	}
	e.clearCells(username)
	e.removePlayer(username)
	e.log.Info("arena leave", zap.String("user", username), zap.Int("players", len(e.players)))
}

// Input queues a direction change; it is validated against the player's
// facing when the tick drains the queue.
func (e *Engine) Input(username, dir string) {
	if dx, dy := delta(dir); dx == 0 && dy == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.players[username]; !ok {
		return
	}
	e.inputs = append(e.inputs, input{username: username, dir: dir})
}

// OnDisconnect is Leave under the name the disconnect cascade uses.
func (e *Engine) OnDisconnect(username string) {
	e.Leave(username)
}

// Players reports the current head-count.
func (e *Engine) Players() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.players)
}

func delta(dir string) (int, int) {
	switch dir {
	case protocol.DirUp:
		return 0, -1
	case protocol.DirDown:
		return 0, 1
	case protocol.DirLeft:
		return -1, 0
	case protocol.DirRight:
		return 1, 0
	}
	return 0, 0
}

func randomDir() string {
	return [...]string{protocol.DirUp, protocol.DirDown, protocol.DirLeft, protocol.DirRight}[rand.Intn(4)]
}

func opposite(a, b string) bool {
	ax, ay := delta(a)
	bx, by := delta(b)
	return ax == -bx && ay == -by
}

func (e *Engine) owner(x, y int) string {
	return e.grid[y*gridW+x]
}

// setOwner records an ownership change and its diff; no-op when unchanged.
func (e *Engine) setOwner(x, y int, owner string) {
	i := y*gridW + x
	if e.grid[i] == owner {
		return
	}
	e.grid[i] = owner
	e.diffs = append(e.diffs, protocol.ArenaCell{X: x, Y: y, Owner: owner})
}

// spawnCell hunts for a free 3×3 interior block; after enough misses the
// center is taken regardless.
func (e *Engine) spawnCell() (int, int) {
	for try := 0; try < 100; try++ {
		x := 2 + rand.Intn(gridW-4)
		y := 2 + rand.Intn(gridH-4)
		if e.blockFree(x, y) {
			return x, y
		}
	}
	return gridW / 2, gridH / 2
}

func (e *Engine) blockFree(x, y int) bool {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if e.owner(x+dx, y+dy) != "" {
				return false
			}
		}
	}
	for _, p := range e.players {
		if p.x >= x-1 && p.x <= x+1 && p.y >= y-1 && p.y <= y+1 {
			return false
		}
	}
	return true
}

func (e *Engine) pickColor() string {
	used := make(map[string]bool, len(e.players))
	for _, p := range e.players {
		used[p.color] = true
	}
	for _, c := range palette {
		if !used[c] {
			return c
		}
	}
	return fmt.Sprintf("#%06x", rand.Intn(0x1000000))
}

func (e *Engine) removePlayer(username string) {
	delete(e.players, username)
	for i, name := range e.order {
		if name == username {
			e.order = append(e.order[:i], e.order[i+1:]...)
			return
		}
	}
}

// clearCells releases everything the player owns, with diffs.
func (e *Engine) clearCells(username string) {
	for i, owner := range e.grid {
		if owner == username {
			e.grid[i] = ""
			e.diffs = append(e.diffs, protocol.ArenaCell{X: i % gridW, Y: i / gridW})
		}
	}
}

func (e *Engine) loop() {
	t := time.NewTicker(tickInterval)
	defer t.Stop()
	for range t.C {
		if !e.step() {
			return
		}
	}
}

type outFrame struct {
	to   string
	kind string
	body any
}

// step advances the simulation one tick and reports whether the loop should
// keep running. All mutation happens under the lock; frames are written
// after it is released.
func (e *Engine) step() bool {
	e.mu.Lock()
	if len(e.players) == 0 {
		e.running = false
		e.mu.Unlock()
		return false
	}
	e.tick++

	// Apply queued inputs, dropping 180° turns.
	for _, in := range e.inputs {
		if p := e.players[in.username]; p != nil && !opposite(p.dir, in.dir) {
			p.nextDir = in.dir
		}
	}
	e.inputs = e.inputs[:0]

	type move struct {
		p      *player
		tx, ty int
	}
	var (
		moves    []move
		deadSeq  []protocol.ArenaDeath
		deadSet  = make(map[string]bool)
		killOnce = func(username, reason string) {
			if !deadSet[username] {
				deadSet[username] = true
				deadSeq = append(deadSeq, protocol.ArenaDeath{Username: username, Reason: reason})
			}
		}
	)

	// Everyone advances one cell per tick; the wall is lethal.
	for _, name := range e.order {
		p := e.players[name]
		p.dir = p.nextDir
		dx, dy := delta(p.dir)
		tx, ty := p.x+dx, p.y+dy
		if tx < 0 || ty < 0 || tx >= gridW || ty >= gridH {
			killOnce(name, "wall")
			continue
		}
		moves = append(moves, move{p: p, tx: tx, ty: ty})
	}

	// Head-on: coinciding targets kill every contender.
	targets := make(map[int][]string, len(moves))
	for _, m := range moves {
		i := m.ty*gridW + m.tx
		targets[i] = append(targets[i], m.p.username)
	}
	for _, names := range targets {
		if len(names) > 1 {
			for _, name := range names {
				killOnce(name, "collision")
			}
		}
	}

	for _, m := range moves {
		if deadSet[m.p.username] {
			continue
		}
		if onTrail(m.p.trail, m.tx, m.ty) {
			killOnce(m.p.username, "trail")
			continue
		}
		if victim := e.trailOwner(m.tx, m.ty, m.p.username); victim != "" && !deadSet[victim] {
			// Cut: the victim's territory and trail fall to the mover.
			killOnce(victim, "cut")
			vp := e.players[victim]
			for i, owner := range e.grid {
				if owner == victim {
					e.setOwner(i%gridW, i/gridW, m.p.username)
				}
			}
			for _, c := range vp.trail {
				e.setOwner(c[0], c[1], m.p.username)
			}
		}
		m.p.x, m.p.y = m.tx, m.ty
		if e.owner(m.tx, m.ty) == m.p.username {
			if len(m.p.trail) > 0 {
				e.closeLoop(m.p)
			}
		} else {
			m.p.trail = append(m.p.trail, [2]int{m.tx, m.ty})
		}
	}

	// Bury the dead: territory reverts, records go, the player hears why.
	frames := make([]outFrame, 0, len(deadSeq)+len(e.players))
	for _, death := range deadSeq {
		e.clearCells(death.Username)
		e.removePlayer(death.Username)
		frames = append(frames, outFrame{to: death.Username, kind: protocol.KindDeath, body: death})
	}

	state := protocol.ArenaState{
		Tick:    e.tick,
		Players: e.playerList(),
		Diffs:   append([]protocol.ArenaCell(nil), e.diffs...),
	}
	e.diffs = e.diffs[:0]
	for _, name := range e.order {
		frames = append(frames, outFrame{to: name, kind: protocol.KindArenaState, body: state})
	}
	e.mu.Unlock()

	for _, f := range frames {
		if sess, ok := e.session(f.to); ok {
			sess.SendGame(protocol.PktArena, f.kind, f.body)
		}
	}
	return true
}

func onTrail(trail [][2]int, x, y int) bool {
	for _, c := range trail {
		if c[0] == x && c[1] == y {
			return true
		}
	}
	return false
}

// trailOwner finds whose trail covers the cell, excluding the mover's own.
func (e *Engine) trailOwner(x, y int, except string) string {
	for _, name := range e.order {
		if name == except {
			continue
		}
		if onTrail(e.players[name].trail, x, y) {
			return name
		}
	}
	return ""
}

// closeLoop claims everything the player's territory plus trail encloses: a
// flood fill from the border marks the outside; unreached cells flip to the
// player, as do the trail cells themselves.
func (e *Engine) closeLoop(p *player) {
	solid := make([]bool, gridW*gridH)
	for i, owner := range e.grid {
		if owner == p.username {
			solid[i] = true
		}
	}
	for _, c := range p.trail {
		solid[c[1]*gridW+c[0]] = true
	}

	reached := make([]bool, gridW*gridH)
	queue := make([]int, 0, 2*(gridW+gridH))
	push := func(x, y int) {
		i := y*gridW + x
		if !solid[i] && !reached[i] {
			reached[i] = true
			queue = append(queue, i)
		}
	}
	for x := 0; x < gridW; x++ {
		push(x, 0)
		push(x, gridH-1)
	}
	for y := 0; y < gridH; y++ {
		push(0, y)
		push(gridW-1, y)
	}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		x, y := i%gridW, i/gridW
		if x > 0 {
			push(x-1, y)
		}
		if x < gridW-1 {
			push(x+1, y)
		}
		if y > 0 {
			push(x, y-1)
		}
		if y < gridH-1 {
			push(x, y+1)
		}
	}

	for i := range e.grid {
		if !solid[i] && !reached[i] {
			e.setOwner(i%gridW, i/gridW, p.username)
		}
	}
	for _, c := range p.trail {
		e.setOwner(c[0], c[1], p.username)
	}
	p.trail = nil
}

// playerList snapshots every player with their live cell count. Runs under
// the lock.
func (e *Engine) playerList() []protocol.ArenaPlayer {
	scores := make(map[string]int, len(e.players))
	for _, owner := range e.grid {
		if owner != "" {
			scores[owner]++
		}
	}
	out := make([]protocol.ArenaPlayer, 0, len(e.order))
	for _, name := range e.order {
		p := e.players[name]
		out = append(out, protocol.ArenaPlayer{
			Username:  name,
			X:         p.x,
			Y:         p.y,
			Direction: p.dir,
			Color:     p.color,
			Trail:     append([][2]int(nil), p.trail...),
			Score:     scores[name],
		})
	}
	return out
}

// snapshotFor builds the full-grid snapshot a joiner needs before the diff
// stream makes sense. Runs under the lock.
func (e *Engine) snapshotFor(username string) protocol.ArenaGameInfo {
	cells := make([]protocol.ArenaCell, 0, 256)
	for i, owner := range e.grid {
		if owner != "" {
			cells = append(cells, protocol.ArenaCell{X: i % gridW, Y: i / gridW, Owner: owner})
		}
	}
	return protocol.ArenaGameInfo{
		Width:      gridW,
		Height:     gridH,
		TickMillis: int(tickInterval / time.Millisecond),
		You:        username,
		Cells:      cells,
		Players:    e.playerList(),
	}
}
