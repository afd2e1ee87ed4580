package dedup

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore persists fingerprints as one hex digest per line, appended per
// batch. Line-oriented appends keep batch persistence O(new items) instead
// of rewriting the whole set.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore roots the cache file under dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create dedup cache dir %s: %w", dir, err)
	}
	return &FileStore{path: filepath.Join(dir, "fingerprints.txt")}, nil
}

// Load reads the full fingerprint set. Malformed lines are skipped; a
// missing file is an empty cache.
func (s *FileStore) Load(_ context.Context) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]struct{}{}, nil
		}
		return nil, fmt.Errorf("open dedup cache %s: %w", s.path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			seen[line] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dedup cache %s: %w", s.path, err)
	}
	return seen, nil
}

// Save appends the new fingerprints.
func (s *FileStore) Save(_ context.Context, added []string) error {
	if len(added) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open dedup cache %s: %w", s.path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	w := bufio.NewWriter(f)
	for _, fp := range added {
		if _, err := w.WriteString(fp + "\n"); err != nil {
			return fmt.Errorf("append dedup cache: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush dedup cache: %w", err)
	}
	return nil
}
