package handler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wispim/server/internal/protocol"
)

func TestAddContactOnlineTarget(t *testing.T) {
	w := newTestWire(t)
	bob := w.join("bob")
	alice := w.join("alice")

	alice.send("", protocol.PktAddContact, protocol.AddContact{Username: " BOB "})

	// The target hears about the new follower.
	env := bob.wait(protocol.PktContactRequest, nil)
	var req protocol.ContactRequest
	require.NoError(t, env.Decode(&req))
	assert.Equal(t, "alice", req.From)
	assert.Equal(t, "alice", req.DisplayName)

	// The caller gets the target's current record so the new row renders
	// without waiting for the next broadcast.
	env = alice.wait(protocol.PktPresenceBroadcast, func(e *protocol.Envelope) bool {
		var st protocol.UserStatus
		return e.Decode(&st) == nil && st.Username == "bob"
	})
	var st protocol.UserStatus
	require.NoError(t, env.Decode(&st))
	assert.Equal(t, protocol.PresenceOnline, st.Presence)

	assert.Equal(t, []string{"bob"}, w.deps.Users.Contacts("alice"))
}

func TestAddContactOfflineAndUnknown(t *testing.T) {
	w := newTestWire(t)
	w.register("carol")
	alice := w.join("alice")

	// Offline contacts come back as a gray row immediately.
	alice.send("", protocol.PktAddContact, protocol.AddContact{Username: "carol"})
	env := alice.wait(protocol.PktPresenceBroadcast, func(e *protocol.Envelope) bool {
		var st protocol.UserStatus
		return e.Decode(&st) == nil && st.Username == "carol"
	})
	var st protocol.UserStatus
	require.NoError(t, env.Decode(&st))
	assert.Equal(t, protocol.PresenceOffline, st.Presence)
	assert.Equal(t, "carol", st.DisplayName)

	// Unknown targets answer with an error.
	alice.send("", protocol.PktAddContact, protocol.AddContact{Username: "ghost"})
	env = alice.wait(protocol.PktError, nil)
	var p protocol.ErrorPayload
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, protocol.ErrCodeUserNotFound, p.Code)
	assert.Equal(t, "no such user: ghost", p.Message)

	// Self-adds are dropped.
	alice.send("", protocol.PktAddContact, protocol.AddContact{Username: "ALICE"})
	alice.send("p1", protocol.PktPing, nil)
	alice.wait(protocol.PktPong, nil)
	assert.Equal(t, []string{"carol"}, w.deps.Users.Contacts("alice"))
}

func TestRemoveContactIsSilent(t *testing.T) {
	w := newTestWire(t)
	w.register("bob")
	alice := w.join("alice")
	require.NoError(t, w.deps.Users.AddContact(context.Background(), "alice", "bob"))

	alice.send("", protocol.PktRemoveContact, protocol.RemoveContact{Username: "BOB"})
	require.Eventually(t, func() bool {
		return len(w.deps.Users.Contacts("alice")) == 0
	}, 2*time.Second, 5*time.Millisecond)

	// Removing again stays silent too.
	alice.send("", protocol.PktRemoveContact, protocol.RemoveContact{Username: "bob"})
	alice.send("p1", protocol.PktPing, nil)
	alice.wait(protocol.PktPong, nil)
	assert.Zero(t, alice.count(protocol.PktError))
}
