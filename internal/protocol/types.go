package protocol

import "fmt"

// PacketType identifies the payload schema of an envelope. Values are fixed
// wire constants; never renumber.
type PacketType int

const (
	// Core
	PktPing                 PacketType = 1
	PktPong                 PacketType = 2
	PktRegister             PacketType = 3
	PktRegisterAck          PacketType = 4
	PktLogin                PacketType = 5
	PktLoginAck             PacketType = 6
	PktLogout               PacketType = 7
	PktError                PacketType = 8
	PktUserList             PacketType = 9
	PktPresenceUpdate       PacketType = 10
	PktPresenceBroadcast    PacketType = 11
	PktChatMessage          PacketType = 12
	PktChatMessageDelivered PacketType = 13
	PktChatTyping           PacketType = 14
	PktNudge                PacketType = 15
	PktStickerSend          PacketType = 16

	// Groups
	PktCreateGroup         PacketType = 20
	PktCreateGroupAck      PacketType = 21
	PktInviteToGroup       PacketType = 22
	PktGroupInviteReceived PacketType = 23
	PktJoinGroup           PacketType = 24
	PktLeaveGroup          PacketType = 25
	PktGroupMemberUpdate   PacketType = 26
	PktGroupMessage        PacketType = 27

	// Contacts
	PktAddContact     PacketType = 30
	PktContactRequest PacketType = 31
	PktRemoveContact  PacketType = 32

	// Files and profile pictures
	PktFileSend             PacketType = 40
	PktFileSendAck          PacketType = 41
	PktFileReceive          PacketType = 42
	PktFileRequest          PacketType = 43
	PktFileData             PacketType = 44
	PktProfilePictureUpdate PacketType = 45
	PktProfilePictureAck    PacketType = 46
	PktRequestProfilePic    PacketType = 47
	PktProfilePicData       PacketType = 48

	// Game umbrellas; payload is a GameMessage sub-tagged on its Kind.
	PktTicTacToe PacketType = 60
	PktDrawGuess PacketType = 61
	PktTelephone PacketType = 62
	PktCardHand  PacketType = 63
	PktCardBet   PacketType = 64
	PktDuel      PacketType = 65
	PktArena     PacketType = 66
)

var packetNames = map[PacketType]string{
	PktPing:                 "Ping",
	PktPong:                 "Pong",
	PktRegister:             "Register",
	PktRegisterAck:          "RegisterAck",
	PktLogin:                "Login",
	PktLoginAck:             "LoginAck",
	PktLogout:               "Logout",
	PktError:                "Error",
	PktUserList:             "UserList",
	PktPresenceUpdate:       "PresenceUpdate",
	PktPresenceBroadcast:    "PresenceBroadcast",
	PktChatMessage:          "ChatMessage",
	PktChatMessageDelivered: "ChatMessageDelivered",
	PktChatTyping:           "ChatTyping",
	PktNudge:                "Nudge",
	PktStickerSend:          "StickerSend",
	PktCreateGroup:          "CreateGroup",
	PktCreateGroupAck:       "CreateGroupAck",
	PktInviteToGroup:        "InviteToGroup",
	PktGroupInviteReceived:  "GroupInviteReceived",
	PktJoinGroup:            "JoinGroup",
	PktLeaveGroup:           "LeaveGroup",
	PktGroupMemberUpdate:    "GroupMemberUpdate",
	PktGroupMessage:         "GroupMessage",
	PktAddContact:           "AddContact",
	PktContactRequest:       "ContactRequest",
	PktRemoveContact:        "RemoveContact",
	PktFileSend:             "FileSend",
	PktFileSendAck:          "FileSendAck",
	PktFileReceive:          "FileReceive",
	PktFileRequest:          "FileRequest",
	PktFileData:             "FileData",
	PktProfilePictureUpdate: "ProfilePictureUpdate",
	PktProfilePictureAck:    "ProfilePictureAck",
	PktRequestProfilePic:    "RequestProfilePic",
	PktProfilePicData:       "ProfilePicData",
	PktTicTacToe:            "TicTacToe",
	PktDrawGuess:            "DrawGuess",
	PktTelephone:            "Telephone",
	PktCardHand:             "CardHand",
	PktCardBet:              "CardBet",
	PktDuel:                 "Duel",
	PktArena:                "Arena",
}

func (t PacketType) String() string {
	if name, ok := packetNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", int(t))
}

// SessionState represents the connection's protocol phase.
type SessionState int

const (
	StateConnected     SessionState = iota // accepted, not yet logged in
	StateAuthenticated                     // logged in
	StateDisconnecting
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "Connected"
	case StateAuthenticated:
		return "Authenticated"
	case StateDisconnecting:
		return "Disconnecting"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Presence is the user-chosen availability state.
type Presence string

const (
	PresenceOnline        Presence = "online"
	PresenceAway          Presence = "away"
	PresenceBusy          Presence = "busy"
	PresenceAppearOffline Presence = "appear_offline"
	PresenceOffline       Presence = "offline"
)

// Valid reports whether p is one of the five wire states.
func (p Presence) Valid() bool {
	switch p {
	case PresenceOnline, PresenceAway, PresenceBusy, PresenceAppearOffline, PresenceOffline:
		return true
	}
	return false
}

// Error codes carried by Error envelopes.
const (
	ErrCodeAuthRequired = "AUTH_REQUIRED"
	ErrCodeKicked       = "KICKED"
	ErrCodeUserOffline  = "USER_OFFLINE"
	ErrCodeUserNotFound = "USER_NOT_FOUND"
)
