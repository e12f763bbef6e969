package handler

import (
	"context"
	"strings"

	"github.com/wispim/server/internal/net"
	"github.com/wispim/server/internal/protocol"
)

// HandleAddContact puts the target on the caller's roster. The target gets a
// notification when online; the caller gets the target's current record so
// the new row renders without waiting for the next broadcast.
func HandleAddContact(sess *net.Session, env *protocol.Envelope, deps *Deps) {
	var req protocol.AddContact
	if err := env.Decode(&req); err != nil {
		return
	}
	owner := sess.Username()
	target := strings.ToLower(strings.TrimSpace(req.Username))
	if target == owner {
		return
	}
	if _, ok := deps.Users.Get(target); !ok {
		sess.SendError(protocol.ErrCodeUserNotFound, "no such user: "+target)
		return
	}
	if err := deps.Users.AddContact(context.Background(), owner, target); err != nil {
		sess.SendError(protocol.ErrCodeUserNotFound, err.Error())
		return
	}

	if tsess, ok := deps.Registry.Get(target); ok {
		tsess.Send(protocol.PktContactRequest, protocol.ContactRequest{
			From:        owner,
			DisplayName: sess.DisplayName(),
		})
		sess.Send(protocol.PktPresenceBroadcast, deps.Presence.PublicStatus(tsess))
	} else {
		sess.Send(protocol.PktPresenceBroadcast, deps.Presence.OfflineStatus(target))
	}
}

// HandleRemoveContact is idempotent and silent; there is nothing to tell the
// removed side.
func HandleRemoveContact(sess *net.Session, env *protocol.Envelope, deps *Deps) {
	var req protocol.RemoveContact
	if err := env.Decode(&req); err != nil {
		return
	}
	deps.Users.RemoveContact(context.Background(), sess.Username(), strings.ToLower(strings.TrimSpace(req.Username)))
}
