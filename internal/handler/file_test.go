package handler

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wispim/server/internal/protocol"
)

func TestFileSendInlinesSmallImages(t *testing.T) {
	w := newTestWire(t)
	alice := w.join("alice")
	bob := w.join("bob")

	img := bytes.Repeat([]byte{0x89}, 512)
	alice.send("f1", protocol.PktFileSend, protocol.FileSend{
		To: "bob", FileName: "shot.png", Mime: "image/png", Data: img,
	})

	env := alice.wait(protocol.PktFileSendAck, nil)
	assert.Equal(t, "f1", env.ID)
	var ack protocol.FileSendAck
	require.NoError(t, env.Decode(&ack))
	require.True(t, ack.Success)
	require.NotEmpty(t, ack.FileID)

	env = bob.wait(protocol.PktFileReceive, nil)
	var rcv protocol.FileReceive
	require.NoError(t, env.Decode(&rcv))
	assert.Equal(t, "alice", rcv.From)
	assert.Equal(t, ack.FileID, rcv.FileID)
	assert.Equal(t, "shot.png", rcv.FileName)
	assert.Equal(t, int64(len(img)), rcv.Size)
	assert.Equal(t, img, rcv.Data, "small images ride inline")
	assert.Empty(t, rcv.GroupID)
}

func TestFileSendDefersLargePayloads(t *testing.T) {
	w := newTestWire(t)
	alice := w.join("alice")
	bob := w.join("bob")

	data := bytes.Repeat([]byte{0x7a}, 4<<10)
	alice.send("f1", protocol.PktFileSend, protocol.FileSend{
		To: "bob", FileName: "logs.zip", Mime: "application/zip", Data: data,
	})
	env := alice.wait(protocol.PktFileSendAck, nil)
	var ack protocol.FileSendAck
	require.NoError(t, env.Decode(&ack))
	require.True(t, ack.Success)

	env = bob.wait(protocol.PktFileReceive, nil)
	var rcv protocol.FileReceive
	require.NoError(t, env.Decode(&rcv))
	assert.Empty(t, rcv.Data, "non-images arrive as a fetch notice")
	assert.Equal(t, int64(len(data)), rcv.Size)

	// The recipient pulls the bytes by id.
	bob.send("q1", protocol.PktFileRequest, protocol.FileRequest{FileID: rcv.FileID})
	env = bob.wait(protocol.PktFileData, nil)
	assert.Equal(t, "q1", env.ID)
	var fd protocol.FileData
	require.NoError(t, env.Decode(&fd))
	require.True(t, fd.Found)
	assert.Equal(t, "logs.zip", fd.FileName)
	assert.Equal(t, "application/zip", fd.Mime)
	assert.Equal(t, data, fd.Data)

	// Unknown ids answer found=false.
	bob.send("q2", protocol.PktFileRequest, protocol.FileRequest{FileID: "no-such"})
	bob.wait(protocol.PktFileData, func(e *protocol.Envelope) bool {
		var f protocol.FileData
		return e.Decode(&f) == nil && !f.Found && f.FileID == "no-such"
	})
}

func TestFileSendRejectsBadTargetsAndOversize(t *testing.T) {
	w := newTestWire(t)
	alice := w.join("alice")

	// Empty payloads never reach the store.
	alice.send("f1", protocol.PktFileSend, protocol.FileSend{To: "bob", FileName: "x", Mime: "text/plain"})
	alice.wait(protocol.PktFileSendAck, func(e *protocol.Envelope) bool {
		var a protocol.FileSendAck
		return e.Decode(&a) == nil && !a.Success && a.Message == "empty file"
	})

	// Unknown recipients leave no orphaned blob behind.
	alice.send("f2", protocol.PktFileSend, protocol.FileSend{To: "ghost", FileName: "x", Mime: "text/plain", Data: []byte("hi")})
	alice.wait(protocol.PktFileSendAck, func(e *protocol.Envelope) bool {
		var a protocol.FileSendAck
		return e.Decode(&a) == nil && !a.Success && a.Message == "unknown recipient"
	})
	assert.Zero(t, w.deps.Blobs.Count())

	// Oversized uploads fail in the ack.
	w.register("bob")
	big := bytes.Repeat([]byte{1}, testBlobMax+1)
	alice.send("f3", protocol.PktFileSend, protocol.FileSend{To: "bob", FileName: "big.bin", Mime: "application/octet-stream", Data: big})
	alice.wait(protocol.PktFileSendAck, func(e *protocol.Envelope) bool {
		var a protocol.FileSendAck
		return e.Decode(&a) == nil && !a.Success && strings.Contains(a.Message, "limit")
	})
	assert.Zero(t, w.deps.Blobs.Count())
}

func TestFileSendToGroup(t *testing.T) {
	w := newTestWire(t)
	alice := w.join("alice")
	bob := w.join("bob")
	w.register("carol") // member, but offline
	gid := w.makeGroup("alice", "pics", "bob", "carol")

	img := bytes.Repeat([]byte{0x42}, 256)
	alice.send("f1", protocol.PktFileSend, protocol.FileSend{
		To: gid, Group: true, FileName: "cat.jpg", Mime: "image/jpeg", Data: img,
	})
	env := bob.wait(protocol.PktFileReceive, nil)
	var rcv protocol.FileReceive
	require.NoError(t, env.Decode(&rcv))
	assert.Equal(t, gid, rcv.GroupID)
	assert.Equal(t, "alice", rcv.From)
	assert.Equal(t, img, rcv.Data)
	assert.Zero(t, alice.count(protocol.PktFileReceive), "the uploader is not notified")

	// Non-members cannot post files into a group.
	mallory := w.join("mallory")
	mallory.send("f2", protocol.PktFileSend, protocol.FileSend{To: gid, Group: true, FileName: "x", Mime: "image/png", Data: img})
	mallory.wait(protocol.PktFileSendAck, func(e *protocol.Envelope) bool {
		var a protocol.FileSendAck
		return e.Decode(&a) == nil && !a.Success && a.Message == "unknown group"
	})
}

func TestProfilePictureLifecycle(t *testing.T) {
	w := newTestWire(t)
	bob := w.join("bob")
	alice := w.join("alice")

	// Non-images are refused.
	alice.send("", protocol.PktProfilePictureUpdate, protocol.ProfilePictureUpdate{Mime: "text/plain", Data: []byte("x")})
	alice.wait(protocol.PktProfilePictureAck, func(e *protocol.Envelope) bool {
		var a protocol.ProfilePictureAck
		return e.Decode(&a) == nil && !a.Success
	})

	img1 := bytes.Repeat([]byte{0xAA}, 128)
	alice.send("pp1", protocol.PktProfilePictureUpdate, protocol.ProfilePictureUpdate{Mime: "image/png", Data: img1})
	env := alice.wait(protocol.PktProfilePictureAck, func(e *protocol.Envelope) bool {
		var a protocol.ProfilePictureAck
		return e.Decode(&a) == nil && a.Success
	})
	assert.Equal(t, "pp1", env.ID)
	var ack protocol.ProfilePictureAck
	require.NoError(t, env.Decode(&ack))
	firstID := ack.PictureID
	require.NotEmpty(t, firstID)

	// Everyone else hears about the new look.
	bob.wait(protocol.PktPresenceBroadcast, func(e *protocol.Envelope) bool {
		var st protocol.UserStatus
		return e.Decode(&st) == nil && st.Username == "alice" && st.PictureID == firstID
	})

	// Replacing the picture reaps the old blob.
	img2 := bytes.Repeat([]byte{0xBB}, 128)
	alice.send("pp2", protocol.PktProfilePictureUpdate, protocol.ProfilePictureUpdate{Mime: "image/png", Data: img2})
	env = alice.wait(protocol.PktProfilePictureAck, func(e *protocol.Envelope) bool {
		var a protocol.ProfilePictureAck
		return e.Decode(&a) == nil && a.Success && a.PictureID != firstID
	})
	require.NoError(t, env.Decode(&ack))
	assert.False(t, w.deps.Blobs.Exists(firstID), "the replaced blob is reaped")
	assert.True(t, w.deps.Blobs.Exists(ack.PictureID))
	u, ok := w.deps.Users.Get("alice")
	require.True(t, ok)
	assert.Equal(t, ack.PictureID, u.PictureID)

	// Anyone can fetch the picture by username.
	bob.send("rp1", protocol.PktRequestProfilePic, protocol.RequestProfilePic{Username: "ALICE"})
	env = bob.wait(protocol.PktProfilePicData, nil)
	assert.Equal(t, "rp1", env.ID)
	var pic protocol.ProfilePicData
	require.NoError(t, env.Decode(&pic))
	require.True(t, pic.Found)
	assert.Equal(t, "alice", pic.Username)
	assert.Equal(t, ack.PictureID, pic.PictureID)
	assert.Equal(t, "image/png", pic.Mime)
	assert.Equal(t, img2, pic.Data)

	// Users without a picture answer found=false.
	bob.send("rp2", protocol.PktRequestProfilePic, protocol.RequestProfilePic{Username: "bob"})
	bob.wait(protocol.PktProfilePicData, func(e *protocol.Envelope) bool {
		var p protocol.ProfilePicData
		return e.Decode(&p) == nil && !p.Found && p.Username == "bob"
	})
}
