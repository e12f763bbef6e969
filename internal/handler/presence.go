package handler

import (
	"context"

	"github.com/wispim/server/internal/net"
	"github.com/wispim/server/internal/protocol"
)

// HandleUserList re-sends the full roster snapshot on demand.
func HandleUserList(sess *net.Session, env *protocol.Envelope, deps *Deps) {
	payload := protocol.UserListPayload{Users: deps.Presence.Snapshot(sess)}
	if reply, err := protocol.Reply(env, protocol.PktUserList, payload); err == nil {
		sess.SendEnvelope(reply)
	}
}

// HandlePresenceUpdate records the user-chosen state and fans the effective
// record out. The avatar token also persists so it survives relogin.
func HandlePresenceUpdate(sess *net.Session, env *protocol.Envelope, deps *Deps) {
	var req protocol.PresenceUpdate
	if err := env.Decode(&req); err != nil {
		return
	}
	if !req.Presence.Valid() || req.Presence == protocol.PresenceOffline {
		return // offline is what sign-off broadcasts, not a choosable state
	}
	sess.SetPresence(req.Presence, req.PersonalMessage, req.AvatarToken)
	if req.AvatarToken != "" {
		deps.Users.SetAvatar(context.Background(), sess.Username(), req.AvatarToken)
	}
	deps.Presence.BroadcastStatus(deps.Presence.PublicStatus(sess), sess.Username())
}
