package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	loaded  map[string]struct{}
	loadErr error
	saved   [][]string
}

func (s *stubStore) Load(_ context.Context) (map[string]struct{}, error) {
	return s.loaded, s.loadErr
}

func (s *stubStore) Save(_ context.Context, added []string) error {
	s.saved = append(s.saved, added)
	return nil
}

func TestAdmitOncePerFingerprint(t *testing.T) {
	t.Parallel()

	d := New(context.Background(), nil, nil)
	assert.True(t, d.Admit("fp-1"))
	assert.False(t, d.Admit("fp-1"))
	assert.True(t, d.Admit("fp-2"))
	assert.False(t, d.Admit(""))
	assert.Equal(t, 2, d.Size())
}

func TestNewSeedsFromStore(t *testing.T) {
	t.Parallel()

	store := &stubStore{loaded: map[string]struct{}{"cached": {}}}
	d := New(context.Background(), store, nil)

	assert.False(t, d.Admit("cached"))
	assert.True(t, d.Admit("fresh"))
}

func TestNewTreatsUnreadableCacheAsEmpty(t *testing.T) {
	t.Parallel()

	store := &stubStore{loadErr: errors.New("corrupt cache")}
	d := New(context.Background(), store, nil)

	assert.Equal(t, 0, d.Size())
	assert.True(t, d.Admit("fp-1"))
}

func TestDeduplicatePreservesOrderAndPersistsOnce(t *testing.T) {
	t.Parallel()

	store := &stubStore{}
	d := New(context.Background(), store, nil)

	items := []string{"a", "b", "a", "c", "b"}
	unique := Deduplicate(context.Background(), d, items, func(s string) string { return s })

	assert.Equal(t, []string{"a", "b", "c"}, unique)
	require.Len(t, store.saved, 1)
	assert.Equal(t, []string{"a", "b", "c"}, store.saved[0])

	// A second identical batch admits nothing and does not touch the store.
	unique = Deduplicate(context.Background(), d, items, func(s string) string { return s })
	assert.Empty(t, unique)
	assert.Len(t, store.saved, 1)
}

func TestDeduplicateKeepsKeylessItems(t *testing.T) {
	t.Parallel()

	d := New(context.Background(), nil, nil)
	items := []string{"", "a", ""}
	unique := Deduplicate(context.Background(), d, items, func(s string) string { return s })

	// Keyless items pass through untracked.
	assert.Equal(t, []string{"", "a", ""}, unique)
	assert.Equal(t, 1, d.Size())
}
