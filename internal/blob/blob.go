// Package blob is the transferred-file store. Every upload becomes an
// immutable blob addressed by a server-generated id: the bytes live at
// <dir>/<id> and a JSON sidecar <id>.json carries the metadata. Replacing
// content always mints a new id, so client caches keyed on blob id can
// never serve stale bytes.
package blob

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Meta describes one stored blob.
type Meta struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Mime       string `json:"mime"`
	Size       int64  `json:"size"`
	Uploader   string `json:"uploader"`
	UploadedAt int64  `json:"uploaded_at"` // unix ms
}

const sidecarExt = ".json"

// Store holds blobs on disk with an in-memory metadata index rebuilt from
// the sidecars at startup.
type Store struct {
	mu     sync.Mutex
	dir    string
	meta   map[string]*Meta
	max    int64
	inline int64
	log    *zap.Logger
}

// Open scans dir and rebuilds the index. Blobs whose bytes are missing
// (a crash between the two writes) are dropped from the index.
func Open(dir string, maxBytes, inlineBytes int64, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir %s: %w", dir, err)
	}
	s := &Store{
		dir:    dir,
		meta:   make(map[string]*Meta),
		max:    maxBytes,
		inline: inlineBytes,
		log:    log,
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan blob dir %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), sidecarExt) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		m := &Meta{}
		if err := json.Unmarshal(raw, m); err != nil || m.ID == "" {
			log.Warn("blob sidecar unreadable, skipping", zap.String("file", e.Name()))
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, m.ID)); err != nil {
			log.Warn("blob bytes missing, skipping", zap.String("id", m.ID))
			continue
		}
		s.meta[m.ID] = m
	}
	return s, nil
}

// Put stores a new blob and returns its metadata.
func (s *Store) Put(name, mime string, data []byte, uploader string) (*Meta, error) {
	if int64(len(data)) > s.max {
		return nil, fmt.Errorf("file is %d bytes; the limit is %d", len(data), s.max)
	}
	m := &Meta{
		ID:         uuid.NewString(),
		Name:       filepath.Base(name),
		Mime:       mime,
		Size:       int64(len(data)),
		Uploader:   uploader,
		UploadedAt: time.Now().UnixMilli(),
	}
	if err := os.WriteFile(filepath.Join(s.dir, m.ID), data, 0o644); err != nil {
		return nil, fmt.Errorf("write blob %s: %w", m.ID, err)
	}
	// Sidecar second: an orphan byte file without one is skipped at scan.
	raw, _ := json.Marshal(m)
	if err := os.WriteFile(filepath.Join(s.dir, m.ID+sidecarExt), raw, 0o644); err != nil {
		os.Remove(filepath.Join(s.dir, m.ID))
		return nil, fmt.Errorf("write blob sidecar %s: %w", m.ID, err)
	}

	s.mu.Lock()
	s.meta[m.ID] = m
	s.mu.Unlock()
	return m, nil
}

// Meta returns the metadata for id.
func (s *Store) Meta(id string) (*Meta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meta[id]
	if !ok {
		return nil, false
	}
	cp := *m
	return &cp, true
}

// Read returns the blob bytes.
func (s *Store) Read(id string) ([]byte, bool) {
	if _, ok := s.Meta(id); !ok {
		return nil, false
	}
	data, err := os.ReadFile(filepath.Join(s.dir, id))
	if err != nil {
		s.log.Warn("blob bytes unreadable", zap.String("id", id), zap.Error(err))
		return nil, false
	}
	return data, true
}

// Exists reports whether id is known.
func (s *Store) Exists(id string) bool {
	_, ok := s.Meta(id)
	return ok
}

// Delete removes the blob and its sidecar. Unknown ids are a no-op.
func (s *Store) Delete(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	delete(s.meta, id)
	s.mu.Unlock()
	os.Remove(filepath.Join(s.dir, id))
	os.Remove(filepath.Join(s.dir, id+sidecarExt))
}

// InlineEligible reports whether the blob should ride base64-inlined in the
// delivery notification: images at or under the inline threshold.
func (s *Store) InlineEligible(m *Meta) bool {
	return strings.HasPrefix(m.Mime, "image/") && m.Size <= s.inline
}

// MaxBytes is the per-blob size cap.
func (s *Store) MaxBytes() int64 { return s.max }

// Count returns the number of indexed blobs.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.meta)
}

// Bytes returns the total indexed payload size.
func (s *Store) Bytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.meta {
		n += m.Size
	}
	return n
}
