package handler

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/wispim/server/internal/net"
	"github.com/wispim/server/internal/protocol"
	"github.com/wispim/server/internal/scripting"
	"github.com/wispim/server/internal/store"
)

func groupInfo(g *store.Group) protocol.GroupInfo {
	return protocol.GroupInfo{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		Owner:       g.Owner,
		Members:     g.Members,
	}
}

// broadcastGroup sends payload to every online member except the named one.
func broadcastGroup(deps *Deps, g *store.Group, except string, t protocol.PacketType, payload any) {
	for _, member := range g.Members {
		if member == except {
			continue
		}
		if sess, ok := deps.Registry.Get(member); ok {
			sess.Send(t, payload)
		}
	}
}

// HandleCreateGroup makes the group and fans invites out to any listed
// users who are online.
func HandleCreateGroup(sess *net.Session, env *protocol.Envelope, deps *Deps) {
	var req protocol.CreateGroup
	if err := env.Decode(&req); err != nil {
		return
	}
	owner := sess.Username()
	g, err := deps.Users.CreateGroup(context.Background(), owner, req.Name, req.Description)
	if err != nil {
		sess.Send(protocol.PktCreateGroupAck, protocol.CreateGroupAck{Success: false, Message: err.Error()})
		return
	}
	deps.Log.Info("group created",
		zap.String("group", g.ID),
		zap.String("name", g.Name),
		zap.String("owner", owner),
	)

	info := groupInfo(g)
	if ack, err := protocol.Reply(env, protocol.PktCreateGroupAck, protocol.CreateGroupAck{
		Success: true,
		Group:   &info,
	}); err == nil {
		sess.SendEnvelope(ack)
	}

	invite := protocol.GroupInvite{GroupID: g.ID, From: owner, Name: g.Name}
	for _, raw := range req.Invites {
		to := strings.ToLower(strings.TrimSpace(raw))
		if to == owner {
			continue
		}
		if target, ok := deps.Registry.Get(to); ok {
			target.Send(protocol.PktGroupInviteReceived, invite)
		}
	}
}

// HandleInviteToGroup relays an invite; only members may invite.
func HandleInviteToGroup(sess *net.Session, env *protocol.Envelope, deps *Deps) {
	var req protocol.GroupInvite
	if err := env.Decode(&req); err != nil {
		return
	}
	from := sess.Username()
	g, ok := deps.Users.Group(req.GroupID)
	if !ok || !contains(g.Members, from) {
		return
	}
	to := strings.ToLower(strings.TrimSpace(req.To))
	target, ok := deps.Registry.Get(to)
	if !ok {
		sess.SendError(protocol.ErrCodeUserOffline, to+" is not online")
		return
	}
	target.Send(protocol.PktGroupInviteReceived, protocol.GroupInvite{
		GroupID: g.ID,
		From:    from,
		Name:    g.Name,
	})
}

// HandleJoinGroup adds the caller and tells every member, the joiner
// included, so their clients render the fresh member list.
func HandleJoinGroup(sess *net.Session, env *protocol.Envelope, deps *Deps) {
	var req protocol.JoinGroup
	if err := env.Decode(&req); err != nil {
		return
	}
	username := sess.Username()
	g, err := deps.Users.AddMember(context.Background(), req.GroupID, username)
	if err != nil {
		sess.SendError(protocol.ErrCodeUserNotFound, err.Error())
		return
	}
	broadcastGroup(deps, g, "", protocol.PktGroupMemberUpdate, protocol.GroupMemberUpdate{
		Group: groupInfo(g),
		Event: "joined",
		User:  username,
	})
}

// HandleLeaveGroup removes the caller; the last member out deletes the
// group, otherwise the remaining members hear about the departure.
func HandleLeaveGroup(sess *net.Session, env *protocol.Envelope, deps *Deps) {
	var req protocol.LeaveGroup
	if err := env.Decode(&req); err != nil {
		return
	}
	username := sess.Username()
	g, deleted, err := deps.Users.RemoveMember(context.Background(), req.GroupID, username)
	if err != nil || deleted {
		return
	}
	broadcastGroup(deps, g, "", protocol.PktGroupMemberUpdate, protocol.GroupMemberUpdate{
		Group: groupInfo(g),
		Event: "left",
		User:  username,
	})
}

// HandleGroupMessage fans a message out to the other online members.
func HandleGroupMessage(sess *net.Session, env *protocol.Envelope, deps *Deps) {
	var req protocol.GroupMessage
	if err := env.Decode(&req); err != nil {
		return
	}
	from := sess.Username()
	g, ok := deps.Users.Group(req.GroupID)
	if !ok || !contains(g.Members, from) {
		return
	}

	content := req.Content
	if deps.Scripting.Enabled() {
		res := deps.Scripting.FilterChat(scripting.ChatContext{From: from, Group: g.ID, Text: content})
		if !res.Allow {
			deps.Log.Debug("group chat blocked by script", zap.String("from", from), zap.String("group", g.ID))
			return
		}
		content = res.Text
	}

	broadcastGroup(deps, g, from, protocol.PktGroupMessage, protocol.GroupMessage{
		From:    from,
		GroupID: g.ID,
		Content: content,
	})
}
