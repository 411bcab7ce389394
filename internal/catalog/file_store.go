package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileStore keeps one JSON file per key in a cache directory
type FileStore struct {
	dir string
	now func() time.Time
}

// NewFileStore creates a store rooted at dir, creating it when missing
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("catalog cache directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create catalog cache directory: %w", err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

// Get reads the entry for key. Expired or unreadable files count as misses.
func (s *FileStore) Get(_ context.Context, key string) (*Entry, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog cache %s: %w", key, err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, nil
	}
	if entry.Expired(s.now()) {
		return nil, nil
	}
	return &entry, nil
}

// Put writes the entry atomically via a rename
func (s *FileStore) Put(_ context.Context, entry *Entry) error {
	if entry == nil {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode catalog cache %s: %w", entry.Key, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".catalog-*")
	if err != nil {
		return fmt.Errorf("write catalog cache %s: %w", entry.Key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write catalog cache %s: %w", entry.Key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write catalog cache %s: %w", entry.Key, err)
	}
	return os.Rename(tmp.Name(), s.path(entry.Key))
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, fileName(key))
}

// fileName maps a cache key to a safe file name
func fileName(key string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, key)
	return safe + ".json"
}
