package handler

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wispim/server/internal/net"
	"github.com/wispim/server/internal/protocol"
)

// HandlePing answers with a Pong reusing the request id.
func HandlePing(sess *net.Session, env *protocol.Envelope) {
	if reply, err := protocol.Reply(env, protocol.PktPong, nil); err == nil {
		sess.SendEnvelope(reply)
	}
}

// HandleRegister creates an account. Failures ride in the ack, not an Error
// envelope, and the connection stays open for another try.
func HandleRegister(sess *net.Session, env *protocol.Envelope, deps *Deps) {
	var req protocol.RegisterRequest
	if err := env.Decode(&req); err != nil {
		return
	}
	user, err := deps.Users.Register(context.Background(), req.Username, req.Password, req.DisplayName, req.Email)
	if err != nil {
		sess.Send(protocol.PktRegisterAck, protocol.RegisterAck{Success: false, Message: err.Error()})
		return
	}
	deps.Log.Info("user registered", zap.String("user", user.Username), zap.String("ip", sess.IP))
	sess.Send(protocol.PktRegisterAck, protocol.RegisterAck{Success: true})
}

// HandleLogin authenticates the connection and installs it in the registry,
// displacing any previous session for the same user.
func HandleLogin(sess *net.Session, env *protocol.Envelope, deps *Deps) {
	if sess.State() == protocol.StateAuthenticated {
		sess.Send(protocol.PktLoginAck, protocol.LoginAck{Success: false, Message: "already logged in"})
		return
	}
	var req protocol.LoginRequest
	if err := env.Decode(&req); err != nil {
		return
	}
	user, err := deps.Users.Authenticate(req.Username, req.Password)
	if err != nil {
		// Keep the connection open for another attempt.
		sess.Send(protocol.PktLoginAck, protocol.LoginAck{Success: false, Message: "invalid username or password"})
		return
	}

	displayName := user.DisplayName
	if req.DisplayName != "" {
		displayName = req.DisplayName
	}
	sess.SetIdentity(user.Username, uuid.NewString(), displayName)
	sess.SetPresence(protocol.PresenceOnline, "", user.AvatarToken)
	sess.SetState(protocol.StateAuthenticated)

	if old := deps.Registry.Attach(sess); old != nil {
		old.SendError(protocol.ErrCodeKicked, "signed in from another location")
		old.Close()
	}

	deps.Log.Info("login",
		zap.String("user", user.Username),
		zap.String("ip", sess.IP),
		zap.Int("online", deps.Registry.Count()),
	)

	own := deps.Presence.Status(sess)
	if ack, err := protocol.Reply(env, protocol.PktLoginAck, protocol.LoginAck{Success: true, User: &own}); err == nil {
		sess.SendEnvelope(ack)
	}
	sess.Send(protocol.PktUserList, protocol.UserListPayload{Users: deps.Presence.Snapshot(sess)})
	deps.Presence.BroadcastStatus(deps.Presence.PublicStatus(sess), user.Username)
}

// HandleLogout closes the connection; the read loop's exit runs the full
// disconnect cascade.
func HandleLogout(sess *net.Session, deps *Deps) {
	deps.Log.Info("logout", zap.String("user", sess.Username()))
	sess.Close()
}

// HandleDisconnect is the universal teardown, wired as the session's
// disconnect callback. A displaced session detaches as false and skips the
// cascade: the username's state now belongs to its replacement.
func HandleDisconnect(sess *net.Session, deps *Deps) {
	username := sess.Username()
	if username == "" {
		return // never authenticated
	}
	if !deps.Registry.Detach(sess) {
		return
	}

	deps.TicTacToe.OnDisconnect(username)
	deps.Duel.OnDisconnect(username)
	deps.DrawGuess.OnDisconnect(username)
	deps.Telephone.OnDisconnect(username)
	deps.CardHand.OnDisconnect(username)
	deps.CardBet.OnDisconnect(username)
	deps.Arena.OnDisconnect(username)

	deps.Presence.BroadcastUser(username)
	deps.Log.Info("disconnect",
		zap.String("user", username),
		zap.Int("online", deps.Registry.Count()),
	)
}
