package logging

import (
	"testing"

	"go.uber.org/zap"
)

func TestNewBuildsBothModes(t *testing.T) {
	t.Parallel()

	for _, development := range []bool{true, false} {
		logger, err := New(development)
		if err != nil {
			t.Fatalf("New(%v) error = %v", development, err)
		}
		if logger == nil {
			t.Fatalf("New(%v) returned nil logger", development)
		}
		logger.Info("logger ready")
		_ = logger.Sync()
	}
}

func TestForFeedTagsChildLogger(t *testing.T) {
	t.Parallel()

	base := zap.NewNop()
	child := ForFeed(base, "cisa_kev")
	if child == nil {
		t.Fatal("expected child logger")
	}
	if child == base {
		t.Fatal("expected a distinct child logger")
	}
}

func TestForFeedToleratesNilBase(t *testing.T) {
	t.Parallel()

	child := ForFeed(nil, "malpedia")
	if child == nil {
		t.Fatal("expected a usable fallback logger")
	}
	child.Info("no-op")
}
