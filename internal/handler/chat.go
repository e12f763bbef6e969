package handler

import (
	"strings"

	"go.uber.org/zap"

	"github.com/wispim/server/internal/net"
	"github.com/wispim/server/internal/protocol"
	"github.com/wispim/server/internal/scripting"
)

// HandleChatMessage relays a direct message. Unknown and offline recipients
// look the same from the wire: the message is dropped and the sender gets a
// USER_OFFLINE error (there is no offline inbox).
func HandleChatMessage(sess *net.Session, env *protocol.Envelope, deps *Deps) {
	var req protocol.ChatMessage
	if err := env.Decode(&req); err != nil {
		return
	}
	from := sess.Username()
	to := strings.ToLower(strings.TrimSpace(req.To))

	target, ok := deps.Registry.Get(to)
	if !ok {
		sess.SendError(protocol.ErrCodeUserOffline, to+" is not online")
		return
	}

	content := req.Content
	if deps.Scripting.Enabled() {
		res := deps.Scripting.FilterChat(scripting.ChatContext{From: from, To: to, Text: content})
		if !res.Allow {
			deps.Log.Debug("chat blocked by script", zap.String("from", from), zap.String("to", to))
			return
		}
		content = res.Text
	}

	target.Send(protocol.PktChatMessage, protocol.ChatMessage{From: from, To: to, Content: content})
	if ack, err := protocol.Reply(env, protocol.PktChatMessageDelivered, protocol.ChatDelivered{
		MessageID: env.ID,
		To:        to,
	}); err == nil {
		sess.SendEnvelope(ack)
	}
}

// HandleTyping relays the typing indicator; silence is the failure mode.
func HandleTyping(sess *net.Session, env *protocol.Envelope, deps *Deps) {
	var req protocol.ChatTyping
	if err := env.Decode(&req); err != nil {
		return
	}
	if target, ok := deps.Registry.Get(strings.ToLower(strings.TrimSpace(req.To))); ok {
		target.Send(protocol.PktChatTyping, protocol.ChatTyping{From: sess.Username(), To: req.To})
	}
}

func HandleNudge(sess *net.Session, env *protocol.Envelope, deps *Deps) {
	var req protocol.Nudge
	if err := env.Decode(&req); err != nil {
		return
	}
	to := strings.ToLower(strings.TrimSpace(req.To))
	target, ok := deps.Registry.Get(to)
	if !ok {
		sess.SendError(protocol.ErrCodeUserOffline, to+" is not online")
		return
	}
	target.Send(protocol.PktNudge, protocol.Nudge{From: sess.Username(), To: to})
}

// HandleSticker passes a sticker id through to a user or a whole group; the
// server never interprets the id.
func HandleSticker(sess *net.Session, env *protocol.Envelope, deps *Deps) {
	var req protocol.Sticker
	if err := env.Decode(&req); err != nil {
		return
	}
	from := sess.Username()

	if req.Group {
		group, ok := deps.Users.Group(req.To)
		if !ok || !contains(group.Members, from) {
			return
		}
		out := protocol.Sticker{From: from, To: group.ID, Group: true, StickerID: req.StickerID}
		for _, member := range group.Members {
			if member == from {
				continue
			}
			if target, ok := deps.Registry.Get(member); ok {
				target.Send(protocol.PktStickerSend, out)
			}
		}
		return
	}

	to := strings.ToLower(strings.TrimSpace(req.To))
	target, ok := deps.Registry.Get(to)
	if !ok {
		sess.SendError(protocol.ErrCodeUserOffline, to+" is not online")
		return
	}
	target.Send(protocol.PktStickerSend, protocol.Sticker{From: from, To: to, StickerID: req.StickerID})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
