package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUsernameTaken  = errors.New("username already taken")
	ErrBadCredentials = errors.New("invalid username or password")
	ErrUserNotFound   = errors.New("user not found")
	ErrGroupNotFound  = errors.New("group not found")
	ErrNotMember      = errors.New("not a group member")
)

// dummyHash keeps Authenticate doing one bcrypt comparison whether or not
// the username exists, so lookups can't be told apart by timing.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("-"), bcrypt.DefaultCost)

// Backend persists users and groups. The Store calls it while holding its
// own lock, so implementations see writes in a consistent order and do not
// need their own cross-entity locking.
type Backend interface {
	LoadAll(ctx context.Context) (map[string]*User, map[string]*Group, error)
	SaveUser(ctx context.Context, u *User) error
	SaveGroup(ctx context.Context, g *Group) error
	DeleteGroup(ctx context.Context, id string) error
	Close()
}

// Store is the identity store: registered users, their contact lists, and
// groups. All state lives in memory; every mutation writes through to the
// backend before the lock is released. A backend failure is logged and the
// in-memory mutation stands, so a flaky disk degrades durability rather
// than taking the server down mid-session.
type Store struct {
	mu      sync.Mutex
	users   map[string]*User
	groups  map[string]*Group
	backend Backend
	log     *zap.Logger
}

func New(ctx context.Context, backend Backend, log *zap.Logger) (*Store, error) {
	users, groups, err := backend.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load store: %w", err)
	}
	if users == nil {
		users = make(map[string]*User)
	}
	if groups == nil {
		groups = make(map[string]*Group)
	}
	return &Store{
		users:   users,
		groups:  groups,
		backend: backend,
		log:     log,
	}, nil
}

func (s *Store) Close() {
	s.backend.Close()
}

// NormalizeUsername lowercases and validates a username: at least three
// runes, no whitespace.
func NormalizeUsername(raw string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if utf8.RuneCountInString(name) < 3 {
		return "", errors.New("username must be at least 3 characters")
	}
	for _, r := range name {
		if unicode.IsSpace(r) {
			return "", errors.New("username must not contain spaces")
		}
	}
	return name, nil
}

// Register creates a new account. The username is stored lowercase; a
// blank display name falls back to the typed username.
func (s *Store) Register(ctx context.Context, username, password, displayName, email string) (*User, error) {
	name, err := NormalizeUsername(username)
	if err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(password) < 4 {
		return nil, errors.New("password must be at least 4 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if displayName == "" {
		displayName = strings.TrimSpace(username)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[name]; exists {
		return nil, ErrUsernameTaken
	}
	u := &User{
		Username:     name,
		PasswordHash: string(hash),
		DisplayName:  displayName,
		Email:        email,
		CreatedAt:    time.Now().UnixMilli(),
	}
	s.users[name] = u
	s.persistUser(ctx, u)
	return u.clone(), nil
}

// Authenticate verifies a username/password pair.
func (s *Store) Authenticate(username, password string) (*User, error) {
	name := strings.ToLower(strings.TrimSpace(username))

	s.mu.Lock()
	u, ok := s.users[name]
	var hash string
	if ok {
		hash = u.PasswordHash
	}
	s.mu.Unlock()

	if !ok {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrBadCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrBadCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[name].clone(), nil
}

// Get returns a copy of the user, or ok=false.
func (s *Store) Get(username string) (*User, bool) {
	name := strings.ToLower(strings.TrimSpace(username))
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[name]
	if !ok {
		return nil, false
	}
	return u.clone(), true
}

// Users returns copies of every registered user sorted by username.
func (s *Store) Users() []*User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// AddContact adds target to owner's contact list. Idempotent.
func (s *Store) AddContact(ctx context.Context, owner, target string) error {
	owner = strings.ToLower(strings.TrimSpace(owner))
	target = strings.ToLower(strings.TrimSpace(target))

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[owner]
	if !ok {
		return ErrUserNotFound
	}
	if _, ok := s.users[target]; !ok {
		return ErrUserNotFound
	}
	for _, c := range u.Contacts {
		if c == target {
			return nil
		}
	}
	u.Contacts = append(u.Contacts, target)
	s.persistUser(ctx, u)
	return nil
}

// RemoveContact removes target from owner's contact list. Idempotent.
func (s *Store) RemoveContact(ctx context.Context, owner, target string) error {
	owner = strings.ToLower(strings.TrimSpace(owner))
	target = strings.ToLower(strings.TrimSpace(target))

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[owner]
	if !ok {
		return ErrUserNotFound
	}
	for i, c := range u.Contacts {
		if c == target {
			u.Contacts = append(u.Contacts[:i], u.Contacts[i+1:]...)
			s.persistUser(ctx, u)
			return nil
		}
	}
	return nil
}

// Contacts returns a copy of the user's contact list.
func (s *Store) Contacts(username string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil
	}
	return append([]string(nil), u.Contacts...)
}

// CreateGroup makes a group with the owner as its first member.
func (s *Store) CreateGroup(ctx context.Context, owner, name, description string) (*Group, error) {
	owner = strings.ToLower(strings.TrimSpace(owner))
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("group name must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[owner]
	if !ok {
		return nil, ErrUserNotFound
	}
	g := &Group{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(name),
		Description: description,
		Owner:       owner,
		Members:     []string{owner},
		CreatedAt:   time.Now().UnixMilli(),
	}
	s.groups[g.ID] = g
	u.Groups = append(u.Groups, g.ID)
	s.persistGroup(ctx, g)
	s.persistUser(ctx, u)
	return g.clone(), nil
}

// Group returns a copy of the group, or ok=false.
func (s *Store) Group(id string) (*Group, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, false
	}
	return g.clone(), true
}

// Groups returns copies of every group sorted by name.
func (s *Store) Groups() []*Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// GroupsOf returns copies of every group the user belongs to.
func (s *Store) GroupsOf(username string) []*Group {
	username = strings.ToLower(strings.TrimSpace(username))
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return nil
	}
	out := make([]*Group, 0, len(u.Groups))
	for _, id := range u.Groups {
		if g, ok := s.groups[id]; ok {
			out = append(out, g.clone())
		}
	}
	return out
}

// AddMember joins a user to a group. Idempotent.
func (s *Store) AddMember(ctx context.Context, groupID, username string) (*Group, error) {
	username = strings.ToLower(strings.TrimSpace(username))

	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return nil, ErrGroupNotFound
	}
	u, ok := s.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	if g.hasMember(username) {
		return g.clone(), nil
	}
	g.Members = append(g.Members, username)
	u.Groups = append(u.Groups, g.ID)
	s.persistGroup(ctx, g)
	s.persistUser(ctx, u)
	return g.clone(), nil
}

// RemoveMember takes a user out of a group. The last member leaving deletes
// the group; a departing owner hands the group to the first remaining
// member. Returns the post-removal group copy (nil when deleted).
func (s *Store) RemoveMember(ctx context.Context, groupID, username string) (*Group, bool, error) {
	username = strings.ToLower(strings.TrimSpace(username))

	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return nil, false, ErrGroupNotFound
	}
	if !g.hasMember(username) {
		return nil, false, ErrNotMember
	}

	for i, m := range g.Members {
		if m == username {
			g.Members = append(g.Members[:i], g.Members[i+1:]...)
			break
		}
	}
	if u, ok := s.users[username]; ok {
		for i, id := range u.Groups {
			if id == g.ID {
				u.Groups = append(u.Groups[:i], u.Groups[i+1:]...)
				break
			}
		}
		s.persistUser(ctx, u)
	}

	if len(g.Members) == 0 {
		delete(s.groups, g.ID)
		if err := s.backend.DeleteGroup(ctx, g.ID); err != nil {
			s.log.Error("delete group", zap.String("group", g.ID), zap.Error(err))
		}
		return nil, true, nil
	}
	if g.Owner == username {
		g.Owner = g.Members[0]
	}
	s.persistGroup(ctx, g)
	return g.clone(), false, nil
}

// SetProfilePicture swaps the user's picture blob id and returns the
// previous one so the caller can reap the old blob.
func (s *Store) SetProfilePicture(ctx context.Context, username, pictureID string) (string, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return "", ErrUserNotFound
	}
	old := u.PictureID
	u.PictureID = pictureID
	s.persistUser(ctx, u)
	return old, nil
}

// SetAvatar records the presence avatar token so it survives relogin.
func (s *Store) SetAvatar(ctx context.Context, username, token string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return ErrUserNotFound
	}
	if u.AvatarToken == token {
		return nil
	}
	u.AvatarToken = token
	s.persistUser(ctx, u)
	return nil
}

func (s *Store) persistUser(ctx context.Context, u *User) {
	if err := s.backend.SaveUser(ctx, u); err != nil {
		s.log.Error("persist user", zap.String("user", u.Username), zap.Error(err))
	}
}

func (s *Store) persistGroup(ctx context.Context, g *Group) {
	if err := s.backend.SaveGroup(ctx, g); err != nil {
		s.log.Error("persist group", zap.String("group", g.ID), zap.Error(err))
	}
}
