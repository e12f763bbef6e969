// Package handler holds the packet handlers: one function per inbound
// packet type, all sharing one Deps bundle. Handlers run on the owning
// session's read goroutine; anything they broadcast goes through components
// that serialize their own state.
package handler

import (
	"github.com/wispim/server/internal/arena"
	"github.com/wispim/server/internal/blob"
	"github.com/wispim/server/internal/config"
	"github.com/wispim/server/internal/game"
	"github.com/wispim/server/internal/net"
	"github.com/wispim/server/internal/protocol"
	"github.com/wispim/server/internal/roster"
	"github.com/wispim/server/internal/scripting"
	"github.com/wispim/server/internal/store"
	"go.uber.org/zap"
)

// Deps holds shared dependencies injected into all packet handlers.
type Deps struct {
	Config    *config.Config
	Log       *zap.Logger
	Users     *store.Store
	Blobs     *blob.Store
	Registry  *roster.Registry
	Presence  *roster.Presence
	Scripting *scripting.Engine

	TicTacToe *game.TicTacToe
	DrawGuess *game.DrawGuess
	Telephone *game.Telephone
	CardHand  *game.CardHand
	CardBet   *game.CardBet
	Duel      *game.Duel
	Arena     *arena.Engine
}

// RegisterAll registers all packet handlers into the registry.
func RegisterAll(reg *protocol.Registry, deps *Deps) {
	// Pre-auth phase: ping, register and login are all a fresh connection
	// may speak. Ping stays available after login for client keepalives.
	anyState := []protocol.SessionState{protocol.StateConnected, protocol.StateAuthenticated}
	authed := []protocol.SessionState{protocol.StateAuthenticated}

	reg.Register(protocol.PktPing, anyState,
		func(sess any, env *protocol.Envelope) {
			HandlePing(sess.(*net.Session), env)
		},
	)
	reg.Register(protocol.PktRegister, anyState,
		func(sess any, env *protocol.Envelope) {
			HandleRegister(sess.(*net.Session), env, deps)
		},
	)
	reg.Register(protocol.PktLogin, anyState,
		func(sess any, env *protocol.Envelope) {
			HandleLogin(sess.(*net.Session), env, deps)
		},
	)

	reg.Register(protocol.PktLogout, authed,
		func(sess any, env *protocol.Envelope) {
			HandleLogout(sess.(*net.Session), deps)
		},
	)
	reg.Register(protocol.PktUserList, authed,
		func(sess any, env *protocol.Envelope) {
			HandleUserList(sess.(*net.Session), env, deps)
		},
	)
	reg.Register(protocol.PktPresenceUpdate, authed,
		func(sess any, env *protocol.Envelope) {
			HandlePresenceUpdate(sess.(*net.Session), env, deps)
		},
	)

	// Messaging
	reg.Register(protocol.PktChatMessage, authed,
		func(sess any, env *protocol.Envelope) {
			HandleChatMessage(sess.(*net.Session), env, deps)
		},
	)
	reg.Register(protocol.PktChatTyping, authed,
		func(sess any, env *protocol.Envelope) {
			HandleTyping(sess.(*net.Session), env, deps)
		},
	)
	reg.Register(protocol.PktNudge, authed,
		func(sess any, env *protocol.Envelope) {
			HandleNudge(sess.(*net.Session), env, deps)
		},
	)
	reg.Register(protocol.PktStickerSend, authed,
		func(sess any, env *protocol.Envelope) {
			HandleSticker(sess.(*net.Session), env, deps)
		},
	)

	// Contacts
	reg.Register(protocol.PktAddContact, authed,
		func(sess any, env *protocol.Envelope) {
			HandleAddContact(sess.(*net.Session), env, deps)
		},
	)
	reg.Register(protocol.PktRemoveContact, authed,
		func(sess any, env *protocol.Envelope) {
			HandleRemoveContact(sess.(*net.Session), env, deps)
		},
	)

	// Groups
	reg.Register(protocol.PktCreateGroup, authed,
		func(sess any, env *protocol.Envelope) {
			HandleCreateGroup(sess.(*net.Session), env, deps)
		},
	)
	reg.Register(protocol.PktInviteToGroup, authed,
		func(sess any, env *protocol.Envelope) {
			HandleInviteToGroup(sess.(*net.Session), env, deps)
		},
	)
	reg.Register(protocol.PktJoinGroup, authed,
		func(sess any, env *protocol.Envelope) {
			HandleJoinGroup(sess.(*net.Session), env, deps)
		},
	)
	reg.Register(protocol.PktLeaveGroup, authed,
		func(sess any, env *protocol.Envelope) {
			HandleLeaveGroup(sess.(*net.Session), env, deps)
		},
	)
	reg.Register(protocol.PktGroupMessage, authed,
		func(sess any, env *protocol.Envelope) {
			HandleGroupMessage(sess.(*net.Session), env, deps)
		},
	)

	// Files and profile pictures
	reg.Register(protocol.PktFileSend, authed,
		func(sess any, env *protocol.Envelope) {
			HandleFileSend(sess.(*net.Session), env, deps)
		},
	)
	reg.Register(protocol.PktFileRequest, authed,
		func(sess any, env *protocol.Envelope) {
			HandleFileRequest(sess.(*net.Session), env, deps)
		},
	)
	reg.Register(protocol.PktProfilePictureUpdate, authed,
		func(sess any, env *protocol.Envelope) {
			HandleProfilePictureUpdate(sess.(*net.Session), env, deps)
		},
	)
	reg.Register(protocol.PktRequestProfilePic, authed,
		func(sess any, env *protocol.Envelope) {
			HandleRequestProfilePic(sess.(*net.Session), env, deps)
		},
	)

	// Game umbrellas: unwrap the sub-tagged message and hand it to the
	// owning manager.
	registerGame(reg, protocol.PktTicTacToe, deps.TicTacToe.Dispatch)
	registerGame(reg, protocol.PktDrawGuess, deps.DrawGuess.Dispatch)
	registerGame(reg, protocol.PktTelephone, deps.Telephone.Dispatch)
	registerGame(reg, protocol.PktCardHand, deps.CardHand.Dispatch)
	registerGame(reg, protocol.PktCardBet, deps.CardBet.Dispatch)
	registerGame(reg, protocol.PktDuel, deps.Duel.Dispatch)
	registerGame(reg, protocol.PktArena, deps.Arena.Dispatch)
}

func registerGame(reg *protocol.Registry, t protocol.PacketType, dispatch func(*net.Session, protocol.GameMessage)) {
	reg.Register(t, []protocol.SessionState{protocol.StateAuthenticated},
		func(sess any, env *protocol.Envelope) {
			var msg protocol.GameMessage
			if env.Decode(&msg) != nil || msg.Kind == "" {
				return
			}
			dispatch(sess.(*net.Session), msg)
		},
	)
}
