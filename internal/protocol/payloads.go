package protocol

// ── Auth ────────────────────────────────────────────────────────────

type RegisterRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
}

type RegisterAck struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type LoginRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName,omitempty"` // per-session override
}

type LoginAck struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	User    *UserStatus `json:"user,omitempty"` // caller's own record on success
}

// ErrorPayload travels in Error envelopes. Failed login/register/file-send
// reply through their own acks instead.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// ── Presence ────────────────────────────────────────────────────────

// UserStatus is the effective presence record fanned out to clients. While
// the user sits in a turn-based game, PersonalMessage carries the
// "Playing X with Y" overlay and IsInGame/GameID are set.
type UserStatus struct {
	Username        string   `json:"username"`
	DisplayName     string   `json:"displayName"`
	Presence        Presence `json:"presence"`
	PersonalMessage string   `json:"personalMessage,omitempty"`
	AvatarToken     string   `json:"avatar,omitempty"`
	PictureID       string   `json:"pictureId,omitempty"`
	IsInGame        bool     `json:"isInGame,omitempty"`
	GameID          string   `json:"gameId,omitempty"`
}

type UserListPayload struct {
	Users []UserStatus `json:"users"`
}

type PresenceUpdate struct {
	Presence        Presence `json:"presence"`
	PersonalMessage string   `json:"personalMessage"`
	AvatarToken     string   `json:"avatar,omitempty"`
}

// ── Messaging ───────────────────────────────────────────────────────

// ChatMessage is sent by a client with To set; the server relays a copy with
// From stamped. From is always the lowercased username, never a display name.
type ChatMessage struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to"`
	Content string `json:"content"`
}

type ChatDelivered struct {
	MessageID string `json:"messageId"` // envelope id of the original ChatMessage
	To        string `json:"to"`
}

type ChatTyping struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
}

type Nudge struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
}

type Sticker struct {
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
	Group     bool   `json:"group,omitempty"` // To names a group id
	StickerID string `json:"stickerId"`
}

// ── Groups ──────────────────────────────────────────────────────────

type GroupInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Owner       string   `json:"owner"`
	Members     []string `json:"members"`
}

type CreateGroup struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Invites     []string `json:"invites,omitempty"`
}

type CreateGroupAck struct {
	Success bool       `json:"success"`
	Message string     `json:"message,omitempty"`
	Group   *GroupInfo `json:"group,omitempty"`
}

type GroupInvite struct {
	GroupID string `json:"groupId"`
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Name    string `json:"name,omitempty"` // group name, stamped on relay
}

type JoinGroup struct {
	GroupID string `json:"groupId"`
}

type LeaveGroup struct {
	GroupID string `json:"groupId"`
}

// GroupMemberUpdate is broadcast to remaining members whenever membership
// changes. Event is "created", "joined" or "left".
type GroupMemberUpdate struct {
	Group GroupInfo `json:"group"`
	Event string    `json:"event"`
	User  string    `json:"user"`
}

type GroupMessage struct {
	From    string `json:"from,omitempty"`
	GroupID string `json:"groupId"`
	Content string `json:"content"`
}

// ── Contacts ────────────────────────────────────────────────────────

type AddContact struct {
	Username string `json:"username"`
}

type ContactRequest struct {
	From        string `json:"from"`
	DisplayName string `json:"displayName,omitempty"`
}

type RemoveContact struct {
	Username string `json:"username"`
}

// ── Files ───────────────────────────────────────────────────────────

// FileSend uploads bytes for a user or group target. Data is base64 on the
// wire (encoding/json handles the []byte conversion).
type FileSend struct {
	To       string `json:"to"`
	Group    bool   `json:"group,omitempty"`
	FileName string `json:"fileName"`
	Mime     string `json:"mime"`
	Data     []byte `json:"data"`
}

type FileSendAck struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	FileID  string `json:"fileId,omitempty"`
}

// FileReceive notifies a recipient. Data is present only when the blob is an
// image under the inline threshold; otherwise the client fetches it with a
// FileRequest.
type FileReceive struct {
	From     string `json:"from"`
	GroupID  string `json:"groupId,omitempty"`
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
	Mime     string `json:"mime"`
	Size     int64  `json:"size"`
	Data     []byte `json:"data,omitempty"`
}

type FileRequest struct {
	FileID string `json:"fileId"`
}

type FileData struct {
	FileID   string `json:"fileId"`
	Found    bool   `json:"found"`
	FileName string `json:"fileName,omitempty"`
	Mime     string `json:"mime,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

type ProfilePictureUpdate struct {
	Mime string `json:"mime"`
	Data []byte `json:"data"`
}

type ProfilePictureAck struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	PictureID string `json:"pictureId,omitempty"`
}

type RequestProfilePic struct {
	Username string `json:"username"`
}

type ProfilePicData struct {
	Username  string `json:"username"`
	Found     bool   `json:"found"`
	PictureID string `json:"pictureId,omitempty"`
	Mime      string `json:"mime,omitempty"`
	Data      []byte `json:"data,omitempty"`
}
