package handler

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/wispim/server/internal/net"
	"github.com/wispim/server/internal/protocol"
)

// HandleFileSend stores the upload and notifies the recipients. The ack
// goes to the sender first so their client can key the transfer on the
// blob id before any recipient asks for it.
func HandleFileSend(sess *net.Session, env *protocol.Envelope, deps *Deps) {
	var req protocol.FileSend
	if err := env.Decode(&req); err != nil {
		return
	}
	from := sess.Username()
	if len(req.Data) == 0 {
		sess.Send(protocol.PktFileSendAck, protocol.FileSendAck{Success: false, Message: "empty file"})
		return
	}

	// Resolve recipients before touching the store so a bad target
	// never leaves an orphaned blob behind.
	var recipients []string
	groupID := ""
	if req.Group {
		g, ok := deps.Users.Group(req.To)
		if !ok || !contains(g.Members, from) {
			sess.Send(protocol.PktFileSendAck, protocol.FileSendAck{Success: false, Message: "unknown group"})
			return
		}
		groupID = g.ID
		recipients = g.Members
	} else {
		to := strings.ToLower(strings.TrimSpace(req.To))
		if _, ok := deps.Users.Get(to); !ok {
			sess.Send(protocol.PktFileSendAck, protocol.FileSendAck{Success: false, Message: "unknown recipient"})
			return
		}
		recipients = []string{to}
	}

	m, err := deps.Blobs.Put(req.FileName, req.Mime, req.Data, from)
	if err != nil {
		sess.Send(protocol.PktFileSendAck, protocol.FileSendAck{Success: false, Message: err.Error()})
		return
	}
	deps.Log.Info("file stored",
		zap.String("id", m.ID),
		zap.String("name", m.Name),
		zap.Int64("size", m.Size),
		zap.String("from", from),
	)

	if ack, err := protocol.Reply(env, protocol.PktFileSendAck, protocol.FileSendAck{
		Success: true,
		FileID:  m.ID,
	}); err == nil {
		sess.SendEnvelope(ack)
	}

	notice := protocol.FileReceive{
		From:     from,
		GroupID:  groupID,
		FileID:   m.ID,
		FileName: m.Name,
		Mime:     m.Mime,
		Size:     m.Size,
	}
	if deps.Blobs.InlineEligible(m) {
		notice.Data = req.Data
	}
	for _, to := range recipients {
		if to == from {
			continue
		}
		// Offline recipients fetch later by id; the notification is
		// not queued.
		if target, ok := deps.Registry.Get(to); ok {
			target.Send(protocol.PktFileReceive, notice)
		}
	}
}

// HandleFileRequest serves blob bytes by id.
func HandleFileRequest(sess *net.Session, env *protocol.Envelope, deps *Deps) {
	var req protocol.FileRequest
	if err := env.Decode(&req); err != nil {
		return
	}
	m, ok := deps.Blobs.Meta(req.FileID)
	if !ok {
		if resp, err := protocol.Reply(env, protocol.PktFileData, protocol.FileData{
			FileID: req.FileID,
		}); err == nil {
			sess.SendEnvelope(resp)
		}
		return
	}
	data, ok := deps.Blobs.Read(req.FileID)
	if !ok {
		if resp, err := protocol.Reply(env, protocol.PktFileData, protocol.FileData{
			FileID: req.FileID,
		}); err == nil {
			sess.SendEnvelope(resp)
		}
		return
	}
	if resp, err := protocol.Reply(env, protocol.PktFileData, protocol.FileData{
		FileID:   m.ID,
		Found:    true,
		FileName: m.Name,
		Mime:     m.Mime,
		Data:     data,
	}); err == nil {
		sess.SendEnvelope(resp)
	}
}

// HandleProfilePictureUpdate replaces the caller's picture blob. The old
// blob is deleted once the new one is committed, so a crash between the
// two steps leaves the previous picture intact.
func HandleProfilePictureUpdate(sess *net.Session, env *protocol.Envelope, deps *Deps) {
	var req protocol.ProfilePictureUpdate
	if err := env.Decode(&req); err != nil {
		return
	}
	username := sess.Username()
	if !strings.HasPrefix(req.Mime, "image/") {
		sess.Send(protocol.PktProfilePictureAck, protocol.ProfilePictureAck{
			Success: false, Message: "profile pictures must be images",
		})
		return
	}
	if len(req.Data) == 0 {
		sess.Send(protocol.PktProfilePictureAck, protocol.ProfilePictureAck{
			Success: false, Message: "empty image",
		})
		return
	}

	m, err := deps.Blobs.Put(username+"-avatar", req.Mime, req.Data, username)
	if err != nil {
		sess.Send(protocol.PktProfilePictureAck, protocol.ProfilePictureAck{
			Success: false, Message: err.Error(),
		})
		return
	}
	old, err := deps.Users.SetProfilePicture(context.Background(), username, m.ID)
	if err != nil {
		deps.Blobs.Delete(m.ID)
		sess.Send(protocol.PktProfilePictureAck, protocol.ProfilePictureAck{
			Success: false, Message: err.Error(),
		})
		return
	}
	if old != "" && old != m.ID {
		deps.Blobs.Delete(old)
	}

	if ack, err := protocol.Reply(env, protocol.PktProfilePictureAck, protocol.ProfilePictureAck{
		Success:   true,
		PictureID: m.ID,
	}); err == nil {
		sess.SendEnvelope(ack)
	}
	deps.Presence.BroadcastUser(username)
}

// HandleRequestProfilePic returns another user's picture bytes.
func HandleRequestProfilePic(sess *net.Session, env *protocol.Envelope, deps *Deps) {
	var req protocol.RequestProfilePic
	if err := env.Decode(&req); err != nil {
		return
	}
	username := strings.ToLower(strings.TrimSpace(req.Username))
	miss := protocol.ProfilePicData{Username: username}

	user, ok := deps.Users.Get(username)
	if !ok || user.PictureID == "" {
		if resp, err := protocol.Reply(env, protocol.PktProfilePicData, miss); err == nil {
			sess.SendEnvelope(resp)
		}
		return
	}
	m, ok := deps.Blobs.Meta(user.PictureID)
	if !ok {
		if resp, err := protocol.Reply(env, protocol.PktProfilePicData, miss); err == nil {
			sess.SendEnvelope(resp)
		}
		return
	}
	data, ok := deps.Blobs.Read(user.PictureID)
	if !ok {
		if resp, err := protocol.Reply(env, protocol.PktProfilePicData, miss); err == nil {
			sess.SendEnvelope(resp)
		}
		return
	}
	if resp, err := protocol.Reply(env, protocol.PktProfilePicData, protocol.ProfilePicData{
		Username:  username,
		Found:     true,
		PictureID: m.ID,
		Mime:      m.Mime,
		Data:      data,
	}); err == nil {
		sess.SendEnvelope(resp)
	}
}
