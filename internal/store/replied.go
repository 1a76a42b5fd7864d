// Package store owns the bot's durable state: the replied-id log, the
// append-only journals, and the API token file.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// RepliedStore is the append-only set of post ids already answered. It is
// loaded once at startup and rewritten atomically after every successful
// reply; an id in this set is never replied to again, across restarts.
type RepliedStore struct {
	mu   sync.Mutex
	path string
	ids  map[int64]struct{}
}

// OpenReplied loads the replied-id log from path. A missing or corrupt file
// yields an empty set; corruption is not fatal because the worst case is a
// duplicate reply, which the platform tolerates better than a crash loop.
func OpenReplied(path string) (*RepliedStore, error) {
	s := &RepliedStore{path: path, ids: make(map[int64]struct{})}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read replied log: %w", err)
	}

	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		return s, nil
	}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s, nil
}

// Contains reports whether id has already been replied to.
func (s *RepliedStore) Contains(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of replied ids.
func (s *RepliedStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Add records id as replied and persists the set. The write error propagates:
// losing this write risks a duplicate reply after a restart, so callers must
// not swallow it.
func (s *RepliedStore) Add(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = struct{}{}
	return s.persistLocked()
}

// persistLocked serializes the set to a temp file in the same directory,
// fsyncs it, then renames it over the canonical file. A crash mid-write
// leaves the old file intact.
func (s *RepliedStore) persistLocked() error {
	ids := make([]int64, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal replied ids: %w", err)
	}

	return atomicWrite(s.path, data)
}

// atomicWrite writes data to path via a temp file, fsync, and rename.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
