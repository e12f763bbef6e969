package store

// User is a registered account. Username is the lowercase map key; the
// display name keeps whatever casing the user typed.
type User struct {
	Username     string   `json:"username"`
	PasswordHash string   `json:"password_hash"`
	DisplayName  string   `json:"display_name"`
	Email        string   `json:"email,omitempty"`
	AvatarToken  string   `json:"avatar,omitempty"`
	PictureID    string   `json:"picture_id,omitempty"`
	Contacts     []string `json:"contacts,omitempty"`
	Groups       []string `json:"groups,omitempty"`
	CreatedAt    int64    `json:"created_at"` // unix ms
}

func (u *User) clone() *User {
	c := *u
	c.Contacts = append([]string(nil), u.Contacts...)
	c.Groups = append([]string(nil), u.Groups...)
	return &c
}

// Group is a named multi-user conversation. Members keeps join order; the
// first remaining member inherits ownership when the owner leaves.
type Group struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Owner       string   `json:"owner"`
	Members     []string `json:"members"`
	CreatedAt   int64    `json:"created_at"` // unix ms
}

func (g *Group) clone() *Group {
	c := *g
	c.Members = append([]string(nil), g.Members...)
	return &c
}

func (g *Group) hasMember(username string) bool {
	for _, m := range g.Members {
		if m == username {
			return true
		}
	}
	return false
}
