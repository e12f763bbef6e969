package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wispim/server/internal/arena"
	"github.com/wispim/server/internal/blob"
	"github.com/wispim/server/internal/config"
	"github.com/wispim/server/internal/game"
	gonet "github.com/wispim/server/internal/net"
	"github.com/wispim/server/internal/protocol"
	"github.com/wispim/server/internal/roster"
	"github.com/wispim/server/internal/scripting"
	"github.com/wispim/server/internal/store"
	"github.com/wispim/server/internal/words"
)

// Blob limits small enough to exercise the inline and oversize paths
// without shoving megabytes through a pipe.
const (
	testBlobMax    = 64 << 10
	testBlobInline = 1 << 10
)

// testWire stands up the handler stack the way wispd wires it, but over
// in-memory pipes: a file-backed store and blob dir under t.TempDir(),
// real game managers, and one Session per connected client. Every client
// runs a pump goroutine that logs inbound envelopes, because pipe writes
// block until the far side reads.
type testWire struct {
	t    *testing.T
	deps *Deps
	reg  *protocol.Registry

	mu     sync.Mutex
	frames map[string][]*protocol.Envelope
	seq    uint64
}

func newTestWire(t *testing.T) *testWire {
	return newScriptedWire(t, "")
}

// newScriptedWire additionally installs luaSrc as a chat filter before the
// scripting engine loads.
func newScriptedWire(t *testing.T, luaSrc string) *testWire {
	t.Helper()
	log := zap.NewNop()
	dataDir := t.TempDir()

	cfg, err := config.Load(filepath.Join(dataDir, "missing.toml"))
	require.NoError(t, err)
	cfg.Server.DataDir = dataDir

	backend, err := store.NewFileBackend(dataDir, log)
	require.NoError(t, err)
	users, err := store.New(context.Background(), backend, log)
	require.NoError(t, err)
	t.Cleanup(users.Close)

	blobs, err := blob.Open(filepath.Join(dataDir, "files"), testBlobMax, testBlobInline, log)
	require.NoError(t, err)

	scriptsDir := filepath.Join(dataDir, "scripts")
	if luaSrc != "" {
		require.NoError(t, os.MkdirAll(filepath.Join(scriptsDir, "chat"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(scriptsDir, "chat", "filter.lua"), []byte(luaSrc), 0o644))
	}
	lua, err := scripting.NewEngine(scriptsDir, log)
	require.NoError(t, err)
	t.Cleanup(lua.Close)

	wordTable, err := words.Load("", "en")
	require.NoError(t, err)

	registry := roster.NewRegistry()
	presence := roster.NewPresence(registry, users, log)

	ttt := game.NewTicTacToe(registry.Get, presence.BroadcastUser, log)
	guess := game.NewDrawGuess(wordTable, "en", registry.Get, presence.BroadcastUser, log)
	tele := game.NewTelephone(registry.Get, presence.BroadcastUser, log)
	cards := game.NewCardHand(registry.Get, presence.BroadcastUser, log)
	tables := game.NewCardBet(registry.Get, presence.BroadcastUser, log)
	duel := game.NewDuel(registry.Get, presence.BroadcastUser, log)
	grid := arena.New(registry.Get, log)

	infos := []roster.GameInfoFunc{
		ttt.GameInfo, duel.GameInfo,
		guess.GameInfo, tele.GameInfo, cards.GameInfo, tables.GameInfo,
	}
	presence.SetGameInfo(func(username string) (string, string, bool) {
		for _, fn := range infos {
			if id, desc, ok := fn(username); ok {
				return id, desc, true
			}
		}
		return "", "", false
	})

	reg := protocol.NewRegistry(log)
	deps := &Deps{
		Config:    cfg,
		Log:       log,
		Users:     users,
		Blobs:     blobs,
		Registry:  registry,
		Presence:  presence,
		Scripting: lua,
		TicTacToe: ttt,
		DrawGuess: guess,
		Telephone: tele,
		CardHand:  cards,
		CardBet:   tables,
		Duel:      duel,
		Arena:     grid,
	}
	RegisterAll(reg, deps)

	return &testWire{
		t:      t,
		deps:   deps,
		reg:    reg,
		frames: make(map[string][]*protocol.Envelope),
	}
}

// wireClient is the far end of one session pipe. name keys the frame log
// only; the server learns usernames from Login frames.
type wireClient struct {
	w    *testWire
	name string
	conn net.Conn
	sess *gonet.Session
}

func (w *testWire) connect(name string) *wireClient {
	w.t.Helper()
	client, server := net.Pipe()
	w.seq++
	sess := gonet.NewSession(server, w.seq, gonet.SessionConfig{WriteTimeout: 2 * time.Second}, zap.NewNop())
	c := &wireClient{w: w, name: name, conn: client, sess: sess}
	go c.pump()
	sess.Start(w.reg, func(s *gonet.Session) { HandleDisconnect(s, w.deps) })
	w.t.Cleanup(func() {
		sess.Close()
		client.Close()
	})
	return c
}

func (c *wireClient) pump() {
	r := bufio.NewReader(c.conn)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			return
		}
		env, err := protocol.Parse(line[:len(line)-1])
		if err != nil {
			continue
		}
		c.w.mu.Lock()
		c.w.frames[c.name] = append(c.w.frames[c.name], env)
		c.w.mu.Unlock()
	}
}

// send writes one request frame. The id is caller-chosen so tests can
// assert reply correlation.
func (c *wireClient) send(id string, t protocol.PacketType, payload any) {
	c.w.t.Helper()
	env := &protocol.Envelope{T: t, ID: id, TS: time.Now().UnixMilli()}
	if payload != nil {
		d, err := json.Marshal(payload)
		require.NoError(c.w.t, err)
		env.D = d
	}
	wire, err := env.Encode()
	require.NoError(c.w.t, err)
	c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err = c.conn.Write(wire)
	require.NoError(c.w.t, err)
}

func (c *wireClient) sendGame(t protocol.PacketType, kind string, body any) {
	c.w.t.Helper()
	gm, err := protocol.NewGameMessage(kind, body)
	require.NoError(c.w.t, err)
	c.send("", t, gm)
}

// wait blocks until the newest frame of the given type on c satisfies
// match (nil matches any), then returns it. Matching only the newest frame
// keeps stale fan-out from an earlier action from satisfying a later wait.
func (c *wireClient) wait(t protocol.PacketType, match func(*protocol.Envelope) bool) *protocol.Envelope {
	c.w.t.Helper()
	var out *protocol.Envelope
	require.Eventually(c.w.t, func() bool {
		c.w.mu.Lock()
		defer c.w.mu.Unlock()
		frames := c.w.frames[c.name]
		for i := len(frames) - 1; i >= 0; i-- {
			if frames[i].T != t {
				continue
			}
			if match != nil && !match(frames[i]) {
				return false
			}
			out = frames[i]
			return true
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "no %v frame for %s", t, c.name)
	return out
}

func (c *wireClient) count(t protocol.PacketType) int {
	c.w.mu.Lock()
	defer c.w.mu.Unlock()
	n := 0
	for _, env := range c.w.frames[c.name] {
		if env.T == t {
			n++
		}
	}
	return n
}

// each calls fn with every logged frame of the given type.
func (c *wireClient) each(t protocol.PacketType, fn func(*protocol.Envelope)) {
	c.w.mu.Lock()
	defer c.w.mu.Unlock()
	for _, env := range c.w.frames[c.name] {
		if env.T == t {
			fn(env)
		}
	}
}

// register creates an account without connecting it.
func (w *testWire) register(name string) {
	w.t.Helper()
	_, err := w.deps.Users.Register(context.Background(), name, "hunter2", "", "")
	require.NoError(w.t, err)
}

// join registers the username when needed and logs the client in over the
// wire, returning once the ack lands.
func (w *testWire) join(name string) *wireClient {
	w.t.Helper()
	if _, ok := w.deps.Users.Get(name); !ok {
		w.register(name)
	}
	c := w.connect(name)
	c.send("login-"+name, protocol.PktLogin, protocol.LoginRequest{Username: name, Password: "hunter2"})
	env := c.wait(protocol.PktLoginAck, nil)
	var ack protocol.LoginAck
	require.NoError(w.t, env.Decode(&ack))
	require.True(w.t, ack.Success, "login failed for %s: %s", name, ack.Message)
	return c
}

// makeGroup creates a group straight in the store with the given members.
func (w *testWire) makeGroup(owner, name string, members ...string) string {
	w.t.Helper()
	g, err := w.deps.Users.CreateGroup(context.Background(), owner, name, "")
	require.NoError(w.t, err)
	for _, m := range members {
		_, err := w.deps.Users.AddMember(context.Background(), g.ID, m)
		require.NoError(w.t, err)
	}
	return g.ID
}

// ── Auth ────────────────────────────────────────────────────────────

func TestRegisterLoginFlow(t *testing.T) {
	w := newTestWire(t)
	c := w.connect("alice")

	// Register rides pre-auth.
	c.send("r1", protocol.PktRegister, protocol.RegisterRequest{Username: "Alice", Password: "hunter2"})
	env := c.wait(protocol.PktRegisterAck, nil)
	var rack protocol.RegisterAck
	require.NoError(t, env.Decode(&rack))
	assert.True(t, rack.Success)

	// A duplicate username fails in the ack and the connection survives.
	c.send("r2", protocol.PktRegister, protocol.RegisterRequest{Username: "ALICE", Password: "other"})
	c.wait(protocol.PktRegisterAck, func(e *protocol.Envelope) bool {
		var a protocol.RegisterAck
		return e.Decode(&a) == nil && !a.Success
	})

	// So does a wrong password, without leaking which part was wrong.
	c.send("l1", protocol.PktLogin, protocol.LoginRequest{Username: "alice", Password: "wrong"})
	env = c.wait(protocol.PktLoginAck, nil)
	var lack protocol.LoginAck
	require.NoError(t, env.Decode(&lack))
	assert.False(t, lack.Success)
	assert.Equal(t, "invalid username or password", lack.Message)

	// Success: the ack reuses the request id and carries the own record.
	c.send("l2", protocol.PktLogin, protocol.LoginRequest{Username: "ALICE", Password: "hunter2", DisplayName: "Allie"})
	env = c.wait(protocol.PktLoginAck, func(e *protocol.Envelope) bool {
		var a protocol.LoginAck
		return e.Decode(&a) == nil && a.Success
	})
	assert.Equal(t, "l2", env.ID)
	require.NoError(t, env.Decode(&lack))
	require.NotNil(t, lack.User)
	assert.Equal(t, "alice", lack.User.Username)
	assert.Equal(t, "Allie", lack.User.DisplayName, "per-session display name override")
	assert.Equal(t, protocol.PresenceOnline, lack.User.Presence)

	// The roster snapshot follows the ack.
	env = c.wait(protocol.PktUserList, nil)
	var ul protocol.UserListPayload
	require.NoError(t, env.Decode(&ul))
	require.Len(t, ul.Users, 1)
	assert.Equal(t, "alice", ul.Users[0].Username)

	// Logging in again on the same connection is refused.
	c.send("l3", protocol.PktLogin, protocol.LoginRequest{Username: "alice", Password: "hunter2"})
	c.wait(protocol.PktLoginAck, func(e *protocol.Envelope) bool {
		var a protocol.LoginAck
		return e.Decode(&a) == nil && !a.Success && a.Message == "already logged in"
	})
}

func TestAuthRequiredGate(t *testing.T) {
	w := newTestWire(t)
	c := w.connect("stranger")

	c.send("u1", protocol.PktUserList, nil)
	env := c.wait(protocol.PktError, nil)
	var p protocol.ErrorPayload
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, protocol.ErrCodeAuthRequired, p.Code)

	// Ping stays available pre-auth for connectivity checks.
	c.send("p1", protocol.PktPing, nil)
	env = c.wait(protocol.PktPong, nil)
	assert.Equal(t, "p1", env.ID)
}

func TestLoginDisplacement(t *testing.T) {
	w := newTestWire(t)
	first := w.join("alice")
	bob := w.join("bob")

	// The same account from a second connection kicks the old session.
	second := w.connect("alice2")
	second.send("l1", protocol.PktLogin, protocol.LoginRequest{Username: "alice", Password: "hunter2"})
	second.wait(protocol.PktLoginAck, func(e *protocol.Envelope) bool {
		var a protocol.LoginAck
		return e.Decode(&a) == nil && a.Success
	})

	env := first.wait(protocol.PktError, nil)
	var p protocol.ErrorPayload
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, protocol.ErrCodeKicked, p.Code)
	assert.Equal(t, "signed in from another location", p.Message)
	require.Eventually(t, func() bool { return first.sess.IsClosed() }, 2*time.Second, 5*time.Millisecond)

	// The username now belongs to the replacement.
	got, ok := w.deps.Registry.Get("alice")
	require.True(t, ok)
	assert.Equal(t, second.sess.ID, got.ID)
	assert.Equal(t, 2, w.deps.Registry.Count())

	// The displaced session's teardown must not read as a sign-off: bob
	// sees alice come online again, never offline.
	bob.wait(protocol.PktPresenceBroadcast, func(e *protocol.Envelope) bool {
		var st protocol.UserStatus
		return e.Decode(&st) == nil && st.Username == "alice" && st.Presence == protocol.PresenceOnline
	})
	time.Sleep(50 * time.Millisecond)
	bob.each(protocol.PktPresenceBroadcast, func(env *protocol.Envelope) {
		var st protocol.UserStatus
		if env.Decode(&st) == nil && st.Username == "alice" {
			assert.NotEqual(t, protocol.PresenceOffline, st.Presence)
		}
	})
}

func TestLogoutRunsDisconnectCascade(t *testing.T) {
	w := newTestWire(t)
	alice := w.join("alice")
	bob := w.join("bob")

	alice.send("", protocol.PktLogout, nil)

	bob.wait(protocol.PktPresenceBroadcast, func(e *protocol.Envelope) bool {
		var st protocol.UserStatus
		return e.Decode(&st) == nil && st.Username == "alice" && st.Presence == protocol.PresenceOffline
	})
	assert.True(t, alice.sess.IsClosed())
	assert.Equal(t, 1, w.deps.Registry.Count())
}

func TestDisconnectForfeitsGames(t *testing.T) {
	w := newTestWire(t)
	alice := w.join("alice")
	bob := w.join("bob")

	alice.sendGame(protocol.PktTelephone, protocol.KindCreateLobby, protocol.LobbyCreate{Name: "chains"})
	env := alice.wait(protocol.PktTelephone, func(e *protocol.Envelope) bool {
		var gm protocol.GameMessage
		return e.Decode(&gm) == nil && gm.Kind == protocol.KindLobbyState
	})
	var gm protocol.GameMessage
	require.NoError(t, env.Decode(&gm))
	var st protocol.LobbyState
	require.NoError(t, gm.Decode(&st))

	bob.sendGame(protocol.PktTelephone, protocol.KindJoinLobby, protocol.LobbyJoin{LobbyID: st.LobbyID})
	bob.wait(protocol.PktTelephone, func(e *protocol.Envelope) bool {
		var m protocol.GameMessage
		if e.Decode(&m) != nil || m.Kind != protocol.KindLobbyState {
			return false
		}
		var s protocol.LobbyState
		return m.Decode(&s) == nil && len(s.Members) == 2
	})

	alice.sendGame(protocol.PktTelephone, protocol.KindStartGame, nil)
	bob.wait(protocol.PktTelephone, func(e *protocol.Envelope) bool {
		var m protocol.GameMessage
		return e.Decode(&m) == nil && m.Kind == protocol.KindPhaseState
	})

	// Dropping the connection mid-game forfeits it for the leaver.
	alice.conn.Close()
	bob.wait(protocol.PktTelephone, func(e *protocol.Envelope) bool {
		var m protocol.GameMessage
		if e.Decode(&m) != nil || m.Kind != protocol.KindGameOver {
			return false
		}
		var over protocol.LobbyGameOver
		return m.Decode(&over) == nil && over.Reason == "player left"
	})
	bob.wait(protocol.PktPresenceBroadcast, func(e *protocol.Envelope) bool {
		var s protocol.UserStatus
		return e.Decode(&s) == nil && s.Username == "alice" && s.Presence == protocol.PresenceOffline
	})
}

// ── Game umbrella dispatch ──────────────────────────────────────────

func TestGameUmbrellaRouting(t *testing.T) {
	w := newTestWire(t)
	alice := w.join("alice")

	// A lobby create on the telephone umbrella reaches its manager and the
	// reply comes back on the same packet type.
	alice.sendGame(protocol.PktTelephone, protocol.KindCreateLobby, protocol.LobbyCreate{Name: "wires"})
	env := alice.wait(protocol.PktTelephone, func(e *protocol.Envelope) bool {
		var gm protocol.GameMessage
		return e.Decode(&gm) == nil && gm.Kind == protocol.KindLobbyState
	})
	var gm protocol.GameMessage
	require.NoError(t, env.Decode(&gm))
	var st protocol.LobbyState
	require.NoError(t, gm.Decode(&st))
	assert.Equal(t, "alice", st.Host)
	assert.Equal(t, []string{"alice"}, st.Members)

	// A kindless game frame is dropped without dispatch.
	alice.send("g0", protocol.PktTelephone, protocol.GameMessage{})
	alice.send("p1", protocol.PktPing, nil)
	alice.wait(protocol.PktPong, nil)
	assert.Equal(t, 1, alice.count(protocol.PktTelephone))

	// The arena umbrella reaches its engine.
	alice.sendGame(protocol.PktArena, protocol.KindArenaJoin, nil)
	env = alice.wait(protocol.PktArena, func(e *protocol.Envelope) bool {
		var m protocol.GameMessage
		return e.Decode(&m) == nil && m.Kind == protocol.KindGameInfo
	})
	require.NoError(t, env.Decode(&gm))
	var info protocol.ArenaGameInfo
	require.NoError(t, gm.Decode(&info))
	assert.Equal(t, "alice", info.You)
}
