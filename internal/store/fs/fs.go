// Package fs implements filesystem-backed evidence and run-state stores.
package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"ctiharvest/internal/intel"
)

// feedNamePattern keeps feed names usable as directory and file names.
var feedNamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Config captures the parameters for filesystem-backed stores.
type Config struct {
	// DataDir is the root directory under which evidence/ and state/ live.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
}

// EvidenceStore writes one JSON audit file per feed run under
// <data_dir>/evidence/<feed>/<feed>_<timestamp>.json.
type EvidenceStore struct {
	baseDir string
}

// NewEvidenceStore creates the evidence store, ensuring its root exists and
// is writable.
func NewEvidenceStore(cfg Config) (*EvidenceStore, error) {
	base, err := ensureDir(cfg, "evidence")
	if err != nil {
		return nil, err
	}
	return &EvidenceStore{baseDir: base}, nil
}

// Append writes the raw payload of one run and returns the file path.
// Evidence files are never modified or overwritten after being written.
func (s *EvidenceStore) Append(_ context.Context, feedName string, at time.Time, payload any) (string, error) {
	if !feedNamePattern.MatchString(feedName) {
		return "", fmt.Errorf("invalid feed name %q", feedName)
	}
	dir := filepath.Join(s.baseDir, feedName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create evidence directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s.json", feedName, at.UTC().Format("20060102T150405Z"))
	path := filepath.Join(dir, name)
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal evidence payload: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create evidence file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return "", fmt.Errorf("write evidence file: %w", err)
	}
	return path, nil
}

// RunStateStore keeps one small JSON record per feed under
// <data_dir>/state/<feed>.json.
type RunStateStore struct {
	baseDir string
}

// NewRunStateStore creates the run-state store, ensuring its root exists.
func NewRunStateStore(cfg Config) (*RunStateStore, error) {
	base, err := ensureDir(cfg, "state")
	if err != nil {
		return nil, err
	}
	return &RunStateStore{baseDir: base}, nil
}

// Load reads a feed's run state. A missing record is a zero state, not an
// error; a corrupt record is an error so the caller can decide.
func (s *RunStateStore) Load(_ context.Context, feedName string) (intel.RunState, error) {
	if !feedNamePattern.MatchString(feedName) {
		return intel.RunState{}, fmt.Errorf("invalid feed name %q", feedName)
	}
	data, err := os.ReadFile(filepath.Join(s.baseDir, feedName+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return intel.RunState{}, nil
		}
		return intel.RunState{}, fmt.Errorf("read run state: %w", err)
	}
	var state intel.RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return intel.RunState{}, fmt.Errorf("decode run state: %w", err)
	}
	return state, nil
}

// Save writes a feed's run state atomically via rename.
func (s *RunStateStore) Save(_ context.Context, feedName string, state intel.RunState) error {
	if !feedNamePattern.MatchString(feedName) {
		return fmt.Errorf("invalid feed name %q", feedName)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}
	final := filepath.Join(s.baseDir, feedName+".json")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write run state: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("replace run state: %w", err)
	}
	return nil
}

func ensureDir(cfg Config, sub string) (string, error) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		return "", fmt.Errorf("data directory is required")
	}
	dir := filepath.Join(cfg.DataDir, sub)
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return "", fmt.Errorf("create %s directory: %w", sub, mkErr)
		}
	case err != nil:
		return "", fmt.Errorf("stat %s directory: %w", sub, err)
	case !info.IsDir():
		return "", fmt.Errorf("%s path is not a directory", sub)
	}
	return dir, nil
}
