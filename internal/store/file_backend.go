package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
)

const (
	usersFile  = "users.json"
	groupsFile = "groups.json"
)

// fileBackend persists users and groups as JSON documents in the data
// directory. Every save rewrites the whole document through a tmp+rename, so
// a crash mid-write leaves the previous document intact. At messenger scale
// the tables are small enough that full rewrites beat an append log.
type fileBackend struct {
	dir    string
	users  map[string]*User
	groups map[string]*Group
	log    *zap.Logger
}

// NewFileBackend opens (or creates) the JSON-file backend rooted at dir.
func NewFileBackend(dir string, log *zap.Logger) (Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return &fileBackend{
		dir:    dir,
		users:  make(map[string]*User),
		groups: make(map[string]*Group),
		log:    log,
	}, nil
}

type usersDoc struct {
	Users []*User `json:"users"`
}

type groupsDoc struct {
	Groups []*Group `json:"groups"`
}

// LoadAll reads both documents. Missing or unreadable files start the
// corresponding collection empty rather than failing the boot.
func (b *fileBackend) LoadAll(ctx context.Context) (map[string]*User, map[string]*Group, error) {
	var udoc usersDoc
	if b.readDoc(usersFile, &udoc) {
		for _, u := range udoc.Users {
			b.users[u.Username] = u
		}
	}
	var gdoc groupsDoc
	if b.readDoc(groupsFile, &gdoc) {
		for _, g := range gdoc.Groups {
			b.groups[g.ID] = g
		}
	}
	return b.users, b.groups, nil
}

// readDoc reports whether the document was read and parsed. A missing file
// is silent; a corrupt one is logged and treated as absent.
func (b *fileBackend) readDoc(name string, out any) bool {
	path := filepath.Join(b.dir, name)
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			b.log.Warn("persistence file unreadable, starting empty",
				zap.String("file", path), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		b.log.Warn("persistence file corrupt, starting empty",
			zap.String("file", path), zap.Error(err))
		return false
	}
	return true
}

func (b *fileBackend) SaveUser(ctx context.Context, u *User) error {
	b.users[u.Username] = u
	return b.flushUsers()
}

func (b *fileBackend) SaveGroup(ctx context.Context, g *Group) error {
	b.groups[g.ID] = g
	return b.flushGroups()
}

func (b *fileBackend) DeleteGroup(ctx context.Context, id string) error {
	delete(b.groups, id)
	return b.flushGroups()
}

func (b *fileBackend) Close() {}

func (b *fileBackend) flushUsers() error {
	doc := usersDoc{Users: make([]*User, 0, len(b.users))}
	for _, u := range b.users {
		doc.Users = append(doc.Users, u)
	}
	sort.Slice(doc.Users, func(i, j int) bool { return doc.Users[i].Username < doc.Users[j].Username })
	return b.writeDoc(usersFile, doc)
}

func (b *fileBackend) flushGroups() error {
	doc := groupsDoc{Groups: make([]*Group, 0, len(b.groups))}
	for _, g := range b.groups {
		doc.Groups = append(doc.Groups, g)
	}
	sort.Slice(doc.Groups, func(i, j int) bool { return doc.Groups[i].ID < doc.Groups[j].ID })
	return b.writeDoc(groupsFile, doc)
}

func (b *fileBackend) writeDoc(name string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	path := filepath.Join(b.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
