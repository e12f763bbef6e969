package net

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wispim/server/internal/protocol"
)

func pipeSession(t *testing.T, reg *protocol.Registry, onDisconnect DisconnectFunc) (net.Conn, *Session) {
	t.Helper()
	client, server := net.Pipe()
	sess := NewSession(server, 1, SessionConfig{WriteTimeout: 2 * time.Second}, zap.NewNop())
	sess.Start(reg, onDisconnect)
	t.Cleanup(func() {
		sess.Close()
		client.Close()
	})
	return client, sess
}

func writeLine(t *testing.T, conn net.Conn, line string) {
	t.Helper()
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func readEnvelope(t *testing.T, r *bufio.Reader, conn net.Conn) *protocol.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := r.ReadBytes('\n')
	require.NoError(t, err)
	env, err := protocol.Parse(line[:len(line)-1])
	require.NoError(t, err)
	return env
}

func TestSessionDispatchAndReply(t *testing.T) {
	reg := protocol.NewRegistry(zap.NewNop())
	reg.Register(protocol.PktPing, []protocol.SessionState{protocol.StateConnected, protocol.StateAuthenticated},
		func(sess any, env *protocol.Envelope) {
			s := sess.(*Session)
			_ = s.Send(protocol.PktPong, nil)
		})

	client, _ := pipeSession(t, reg, nil)
	r := bufio.NewReader(client)

	writeLine(t, client, `{"t":1,"id":"p1","ts":1}`)
	env := readEnvelope(t, r, client)
	assert.Equal(t, protocol.PktPong, env.T)
}

func TestSessionRejectsBeforeAuth(t *testing.T) {
	reg := protocol.NewRegistry(zap.NewNop())
	reg.Register(protocol.PktChatMessage, []protocol.SessionState{protocol.StateAuthenticated},
		func(sess any, env *protocol.Envelope) {
			t.Error("handler must not run for unauthenticated session")
		})

	client, _ := pipeSession(t, reg, nil)
	r := bufio.NewReader(client)

	writeLine(t, client, `{"t":12,"id":"m1","ts":1,"d":{"to":"bob","content":"hi"}}`)
	env := readEnvelope(t, r, client)
	require.Equal(t, protocol.PktError, env.T)

	var p protocol.ErrorPayload
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, protocol.ErrCodeAuthRequired, p.Code)
}

func TestSessionSurvivesMalformedFrame(t *testing.T) {
	reg := protocol.NewRegistry(zap.NewNop())
	reg.Register(protocol.PktPing, []protocol.SessionState{protocol.StateConnected},
		func(sess any, env *protocol.Envelope) {
			_ = sess.(*Session).Send(protocol.PktPong, nil)
		})

	client, _ := pipeSession(t, reg, nil)
	r := bufio.NewReader(client)

	writeLine(t, client, "this is not json")
	writeLine(t, client, `{"t":1,"id":"p1","ts":1}`)
	env := readEnvelope(t, r, client)
	assert.Equal(t, protocol.PktPong, env.T)
}

func TestSessionDisconnectCallbackFiresOnce(t *testing.T) {
	fired := make(chan uint64, 2)
	client, sess := pipeSession(t, protocol.NewRegistry(zap.NewNop()), func(s *Session) {
		fired <- s.ID
	})

	client.Close()

	select {
	case id := <-fired:
		assert.Equal(t, uint64(1), id)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback never fired")
	}

	// A second Close must not re-fire the callback.
	sess.Close()
	select {
	case <-fired:
		t.Fatal("disconnect callback fired twice")
	case <-time.After(50 * time.Millisecond):
	}
	assert.True(t, sess.IsClosed())
}

func TestSessionIdentity(t *testing.T) {
	_, sess := pipeSession(t, protocol.NewRegistry(zap.NewNop()), nil)

	assert.Equal(t, protocol.PresenceOffline, sess.Presence())
	sess.SetIdentity("alice", "sid-1", "Alice")
	assert.Equal(t, "alice", sess.Username())
	assert.Equal(t, "sid-1", sess.SessionID())
	assert.Equal(t, protocol.PresenceOnline, sess.Presence())

	sess.SetPresence(protocol.PresenceAway, "brb", "")
	assert.Equal(t, protocol.PresenceAway, sess.Presence())
	assert.Equal(t, "brb", sess.PersonalMessage())
}

func TestDiscoveryRespondsToProbe(t *testing.T) {
	d, err := NewDiscovery(0, "Test Server", 4433, func() int { return 7 }, zap.NewNop())
	require.NoError(t, err)
	defer d.Close()
	go func() { _ = d.Serve() }()

	addr := d.Addr().(*net.UDPAddr)
	client, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: addr.Port})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte(DiscoveryProbe))
	require.NoError(t, err)

	buf := make([]byte, 512)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)

	var reply struct {
		ServerName string
		Port       int
		UserCount  int
	}
	require.NoError(t, json.Unmarshal(buf[:n], &reply))
	assert.Equal(t, "Test Server", reply.ServerName)
	assert.Equal(t, 4433, reply.Port)
	assert.Equal(t, 7, reply.UserCount)
}

func TestDiscoveryIgnoresOtherDatagrams(t *testing.T) {
	d, err := NewDiscovery(0, "Test Server", 4433, func() int { return 0 }, zap.NewNop())
	require.NoError(t, err)
	defer d.Close()
	go func() { _ = d.Serve() }()

	addr := d.Addr().(*net.UDPAddr)
	client, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: addr.Port})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("HELLO"))
	require.NoError(t, err)

	buf := make([]byte, 512)
	client.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	_, err = client.Read(buf)
	assert.Error(t, err)
}
