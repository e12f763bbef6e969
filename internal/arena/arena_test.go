package arena

import (
	"bufio"
	"fmt"
	stdnet "net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wispim/server/internal/net"
	"github.com/wispim/server/internal/protocol"
)

// testPeers wires pipe-backed sessions to the engine and records every frame
// each player receives. Pipe writes block until read, so each session gets a
// pump goroutine for the life of the test.
type testPeers struct {
	t  *testing.T
	mu sync.Mutex

	sessions map[string]*net.Session
	frames   map[string][]protocol.GameMessage
	nextID   uint64
}

func newTestPeers(t *testing.T) *testPeers {
	return &testPeers{
		t:        t,
		sessions: make(map[string]*net.Session),
		frames:   make(map[string][]protocol.GameMessage),
	}
}

func (tp *testPeers) session(username string) (*net.Session, bool) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	sess, ok := tp.sessions[username]
	return sess, ok
}

func (tp *testPeers) add(username string) {
	tp.t.Helper()
	client, server := stdnet.Pipe()

	tp.mu.Lock()
	tp.nextID++
	id := tp.nextID
	tp.mu.Unlock()

	sess := net.NewSession(server, id, net.SessionConfig{WriteTimeout: 2 * time.Second}, zap.NewNop())
	sess.SetIdentity(username, fmt.Sprintf("sid-%d", id), username)

	go func() {
		r := bufio.NewReader(client)
		for {
			line, err := r.ReadBytes('\n')
			if err != nil {
				return
			}
			env, err := protocol.Parse(line[:len(line)-1])
			if err != nil {
				continue
			}
			var gm protocol.GameMessage
			if env.Decode(&gm) != nil || gm.Kind == "" {
				continue
			}
			tp.mu.Lock()
			tp.frames[username] = append(tp.frames[username], gm)
			tp.mu.Unlock()
		}
	}()

	tp.t.Cleanup(func() {
		sess.Close()
		client.Close()
	})

	tp.mu.Lock()
	tp.sessions[username] = sess
	tp.mu.Unlock()
}

// waitKind blocks until the newest frame of the given kind seen by username
// satisfies match (nil matches anything) and returns it.
func (tp *testPeers) waitKind(username, kind string, match func(protocol.GameMessage) bool) protocol.GameMessage {
	tp.t.Helper()
	var got protocol.GameMessage
	require.Eventually(tp.t, func() bool {
		tp.mu.Lock()
		defer tp.mu.Unlock()
		for i := len(tp.frames[username]) - 1; i >= 0; i-- {
			if tp.frames[username][i].Kind != kind {
				continue
			}
			if match != nil && !match(tp.frames[username][i]) {
				return false
			}
			got = tp.frames[username][i]
			return true
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "no %s frame for %s", kind, username)
	return got
}

func (tp *testPeers) kindCount(username, kind string) int {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	n := 0
	for _, gm := range tp.frames[username] {
		if gm.Kind == kind {
			n++
		}
	}
	return n
}

// newParkedEngine returns an engine whose tick loop never runs, so tests can
// drive step by hand.
func newParkedEngine(t *testing.T, tp *testPeers) *Engine {
	t.Helper()
	e := New(tp.session, zap.NewNop())
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	return e
}

type placement struct {
	username string
	x, y     int
	dir      string
}

// placeAll rebuilds the whole grid: each player keeps only a fresh 3×3 block
// around the given cell, facing the given way, with no trail. Pending diffs
// are dropped so the next tick reports only what the test causes.
func placeAll(t *testing.T, e *Engine, placements ...placement) {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.grid {
		e.grid[i] = ""
	}
	for _, pl := range placements {
		p := e.players[pl.username]
		require.NotNil(t, p, "placing %s before join", pl.username)
		p.x, p.y = pl.x, pl.y
		p.dir, p.nextDir = pl.dir, pl.dir
		p.trail = nil
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				e.grid[(pl.y+dy)*gridW+(pl.x+dx)] = pl.username
			}
		}
	}
	e.diffs = e.diffs[:0]
}

// waitState blocks until the state frame for the given tick arrives.
func waitState(t *testing.T, tp *testPeers, username string, tick int64) protocol.ArenaState {
	t.Helper()
	gm := tp.waitKind(username, protocol.KindArenaState, func(gm protocol.GameMessage) bool {
		var st protocol.ArenaState
		return gm.Decode(&st) == nil && st.Tick == tick
	})
	var st protocol.ArenaState
	require.NoError(t, gm.Decode(&st))
	return st
}

func waitDeath(t *testing.T, tp *testPeers, username string) protocol.ArenaDeath {
	t.Helper()
	gm := tp.waitKind(username, protocol.KindDeath, nil)
	var d protocol.ArenaDeath
	require.NoError(t, gm.Decode(&d))
	return d
}

func ownedBy(e *Engine, username string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, owner := range e.grid {
		if owner == username {
			n++
		}
	}
	return n
}

func TestJoinGrantsBlockAndSnapshot(t *testing.T) {
	tp := newTestPeers(t)
	tp.add("alice")
	tp.add("bob")
	e := newParkedEngine(t, tp)

	e.Join("alice")
	gm := tp.waitKind("alice", protocol.KindGameInfo, nil)
	var info protocol.ArenaGameInfo
	require.NoError(t, gm.Decode(&info))
	assert.Equal(t, 50, info.Width)
	assert.Equal(t, 50, info.Height)
	assert.Equal(t, 150, info.TickMillis)
	assert.Equal(t, "alice", info.You)
	require.Len(t, info.Cells, 9, "a starter block comes with the spawn")
	for _, c := range info.Cells {
		assert.Equal(t, "alice", c.Owner)
	}
	require.Len(t, info.Players, 1)
	assert.Equal(t, 9, info.Players[0].Score)
	assert.Empty(t, info.Players[0].Trail)
	assert.NotEmpty(t, info.Players[0].Color)

	// A second join is just a snapshot refresh.
	e.Join("alice")
	require.Eventually(t, func() bool {
		return tp.kindCount("alice", protocol.KindGameInfo) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, e.Players())

	// A later joiner sees the whole board, not just themselves.
	placeAll(t, e, placement{username: "alice", x: 10, y: 10, dir: protocol.DirRight})
	e.Join("bob")
	gm = tp.waitKind("bob", protocol.KindGameInfo, nil)
	require.NoError(t, gm.Decode(&info))
	assert.Equal(t, "bob", info.You)
	assert.Len(t, info.Cells, 18)
	counts := make(map[string]int)
	for _, c := range info.Cells {
		counts[c.Owner]++
	}
	assert.Equal(t, map[string]int{"alice": 9, "bob": 9}, counts)
	require.Len(t, info.Players, 2)

	colors := make(map[string]bool)
	e.mu.Lock()
	for _, p := range e.players {
		colors[p.color] = true
	}
	e.mu.Unlock()
	assert.Len(t, colors, 2, "players never share a color")
}

func TestStepMovesAndPaintsTrail(t *testing.T) {
	tp := newTestPeers(t)
	tp.add("alice")
	e := newParkedEngine(t, tp)
	e.Join("alice")
	placeAll(t, e, placement{username: "alice", x: 10, y: 10, dir: protocol.DirRight})

	e.step()
	st := waitState(t, tp, "alice", 1)
	require.Len(t, st.Players, 1)
	assert.Equal(t, 11, st.Players[0].X, "one cell per tick")
	assert.Equal(t, 10, st.Players[0].Y)
	assert.Empty(t, st.Players[0].Trail, "moving inside owned ground leaves no trail")
	assert.Empty(t, st.Diffs)

	e.step()
	st = waitState(t, tp, "alice", 2)
	assert.Equal(t, 12, st.Players[0].X)
	assert.Equal(t, [][2]int{{12, 10}}, st.Players[0].Trail)
	assert.Equal(t, 9, st.Players[0].Score, "trail cells are not territory yet")
}

func TestInputValidation(t *testing.T) {
	tp := newTestPeers(t)
	tp.add("alice")
	e := newParkedEngine(t, tp)
	e.Join("alice")
	placeAll(t, e, placement{username: "alice", x: 10, y: 10, dir: protocol.DirRight})

	e.Input("alice", "diagonal") // not a direction
	e.Input("ghost", protocol.DirUp)
	e.Input("alice", protocol.DirUp)
	e.step()
	st := waitState(t, tp, "alice", 1)
	assert.Equal(t, protocol.DirUp, st.Players[0].Direction)
	assert.Equal(t, 9, st.Players[0].Y)

	// A 180° turn is ignored; the player keeps going.
	e.Input("alice", protocol.DirDown)
	e.step()
	st = waitState(t, tp, "alice", 2)
	assert.Equal(t, protocol.DirUp, st.Players[0].Direction)
	assert.Equal(t, 8, st.Players[0].Y)
	assert.Equal(t, [][2]int{{10, 8}}, st.Players[0].Trail)
}

func TestHeadOnCollisionKillsBoth(t *testing.T) {
	tp := newTestPeers(t)
	tp.add("alice")
	tp.add("bob")
	e := newParkedEngine(t, tp)
	e.Join("alice")
	e.Join("bob")
	placeAll(t, e,
		placement{username: "alice", x: 10, y: 10, dir: protocol.DirRight},
		placement{username: "bob", x: 14, y: 10, dir: protocol.DirLeft},
	)

	e.step() // alice 11,10 and bob 13,10 — still apart
	e.step() // both want 12,10

	assert.Equal(t, "collision", waitDeath(t, tp, "alice").Reason)
	assert.Equal(t, "collision", waitDeath(t, tp, "bob").Reason)
	assert.Equal(t, 0, e.Players())
	assert.Equal(t, 0, ownedBy(e, "alice"), "territory reverts on death")
	assert.Equal(t, 0, ownedBy(e, "bob"))

	e.mu.Lock()
	assert.Empty(t, e.grid[10*gridW+12], "the contested cell stays unclaimed")
	e.mu.Unlock()
}

func TestWallIsLethal(t *testing.T) {
	tp := newTestPeers(t)
	tp.add("alice")
	e := newParkedEngine(t, tp)
	e.Join("alice")
	placeAll(t, e, placement{username: "alice", x: 1, y: 10, dir: protocol.DirLeft})

	e.step() // to 0,10 — the edge is still on the board
	e.step() // off the board

	assert.Equal(t, "wall", waitDeath(t, tp, "alice").Reason)
	assert.Equal(t, 0, e.Players())
}

func TestSelfTrailIsLethal(t *testing.T) {
	tp := newTestPeers(t)
	tp.add("alice")
	e := newParkedEngine(t, tp)
	e.Join("alice")
	placeAll(t, e, placement{username: "alice", x: 10, y: 10, dir: protocol.DirRight})

	e.step() // 11,10 own ground
	e.step() // 12,10 trail
	e.step() // 13,10 trail
	e.Input("alice", protocol.DirDown)
	e.step() // 13,11 trail
	e.Input("alice", protocol.DirLeft)
	e.step() // 12,11 trail
	e.Input("alice", protocol.DirUp)
	e.step() // 12,10 — own trail

	assert.Equal(t, "trail", waitDeath(t, tp, "alice").Reason)
	assert.Equal(t, 0, e.Players())
}

func TestCloseLoopClaimsEnclosedGround(t *testing.T) {
	tp := newTestPeers(t)
	tp.add("alice")
	e := newParkedEngine(t, tp)
	e.Join("alice")
	placeAll(t, e, placement{username: "alice", x: 10, y: 10, dir: protocol.DirRight})

	e.step() // 11,10 own
	e.step() // 12,10 trail
	e.step() // 13,10 trail
	e.Input("alice", protocol.DirDown)
	e.step() // 13,11 trail
	e.step() // 13,12 trail
	e.Input("alice", protocol.DirLeft)
	e.step() // 12,12 trail
	e.step() // 11,12 trail
	e.Input("alice", protocol.DirUp)
	e.step() // 11,11 — back on owned ground, loop closes

	st := waitState(t, tp, "alice", 8)
	assert.Empty(t, st.Players[0].Trail, "the loop is banked")
	assert.Equal(t, 16, st.Players[0].Score, "block, trail and the pocket inside")
	assert.Len(t, st.Diffs, 7, "six trail cells plus the enclosed one")
	assert.Contains(t, st.Diffs, protocol.ArenaCell{X: 12, Y: 11, Owner: "alice"})

	e.mu.Lock()
	assert.Equal(t, "alice", e.grid[11*gridW+12], "the surrounded cell flips")
	e.mu.Unlock()
}

func TestCuttingTrailTransfersEverything(t *testing.T) {
	tp := newTestPeers(t)
	tp.add("alice")
	tp.add("bob")
	e := newParkedEngine(t, tp)
	e.Join("alice") // joins first: processed first each tick
	e.Join("bob")
	placeAll(t, e,
		placement{username: "alice", x: 23, y: 12, dir: protocol.DirUp},
		placement{username: "bob", x: 20, y: 10, dir: protocol.DirRight},
	)
	// Bob is already two cells out of his territory.
	e.mu.Lock()
	bob := e.players["bob"]
	bob.x, bob.y = 23, 10
	bob.trail = [][2]int{{22, 10}, {23, 10}}
	e.mu.Unlock()

	e.step() // alice 23,11 own; bob walks on to 24,10
	e.step() // alice crosses bob's trail at 23,10

	assert.Equal(t, "cut", waitDeath(t, tp, "bob").Reason)
	st := waitState(t, tp, "alice", 2)
	require.Len(t, st.Players, 1)
	assert.Equal(t, 21, st.Players[0].Score, "bob's block and three trail cells change hands")
	assert.Len(t, st.Diffs, 12)
	assert.Equal(t, 0, ownedBy(e, "bob"))
	assert.Equal(t, 21, ownedBy(e, "alice"))
	assert.Equal(t, 1, e.Players())
}

func TestLeaveClearsTerritory(t *testing.T) {
	tp := newTestPeers(t)
	tp.add("alice")
	tp.add("bob")
	e := newParkedEngine(t, tp)
	e.Join("alice")
	e.Join("bob")
	placeAll(t, e,
		placement{username: "alice", x: 10, y: 10, dir: protocol.DirRight},
		placement{username: "bob", x: 20, y: 20, dir: protocol.DirRight},
	)

	e.Leave("bob")
	assert.Equal(t, 1, e.Players())
	assert.Equal(t, 0, ownedBy(e, "bob"))

	// The survivors hear about the freed ground on the next tick.
	e.step()
	st := waitState(t, tp, "alice", 1)
	require.Len(t, st.Players, 1)
	assert.Len(t, st.Diffs, 9)
	for _, c := range st.Diffs {
		assert.Empty(t, c.Owner)
	}

	// Leaving twice is harmless, and unknown names are ignored.
	e.Leave("bob")
	e.Leave("ghost")
	assert.Equal(t, 1, e.Players())
}

func TestLoopParksWhenEmpty(t *testing.T) {
	tp := newTestPeers(t)
	tp.add("alice")
	e := newParkedEngine(t, tp)
	e.Join("alice")
	e.Leave("alice")

	assert.False(t, e.step(), "an empty grid stops the ticker")
	e.mu.Lock()
	assert.False(t, e.running)
	e.mu.Unlock()
}

func TestDisconnectIsLeave(t *testing.T) {
	tp := newTestPeers(t)
	tp.add("alice")
	e := newParkedEngine(t, tp)
	e.Join("alice")

	e.OnDisconnect("alice")
	assert.Equal(t, 0, e.Players())
	assert.Equal(t, 0, ownedBy(e, "alice"))
}
