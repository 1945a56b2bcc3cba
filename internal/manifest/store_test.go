package manifest

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssmlaudio/pkg/contract"
	"ssmlaudio/plugins/writer/filesystem"
)

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	w, err := filesystem.New(&filesystem.Options{OutputDir: dir})
	require.NoError(t, err)
	return New(w), dir
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s, dir := newStore(t)
	m := contract.NewManifest()
	m.Title = "Guide"
	m.Add("h1", "guide/intro.ssml")
	m.Add("h2", "guide/intro.1.ssml")
	require.NoError(t, s.Save(context.Background(), "guide/intro", m))

	raw, err := os.ReadFile(filepath.Join(dir, "guide", "intro.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"hashes":{"h1":"guide/intro.ssml","h2":"guide/intro.1.ssml"},"sequence":["h1","h2"],"title":"Guide"}`, string(raw))

	got, err := s.Load("guide/intro")
	require.NoError(t, err)
	assert.Equal(t, m, got)

	_, ok := s.ModTime("guide/intro")
	assert.True(t, ok)
	_, ok = s.ModTime("missing")
	assert.False(t, ok)
}

func TestSaveEmptyManifest(t *testing.T) {
	s, dir := newStore(t)
	require.NoError(t, s.Save(context.Background(), "empty", contract.Manifest{}))
	raw, err := os.ReadFile(filepath.Join(dir, "empty.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"hashes":{},"sequence":[],"title":""}`, string(raw))
}

func TestLoadAllFailsFast(t *testing.T) {
	s, dir := newStore(t)
	require.NoError(t, s.Save(context.Background(), "a", contract.NewManifest()))

	_, err := s.LoadAll([]string{"a", "missing"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644))
	_, err = s.LoadAll([]string{"a", "broken"})
	assert.ErrorIs(t, err, contract.ErrManifestInvalid)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "dangling.json"), []byte(`{"hashes":{},"sequence":["x"],"title":""}`), 0o644))
	_, err = s.Load("dangling")
	assert.ErrorIs(t, err, contract.ErrManifestInvalid)

	all, err := s.LoadAll([]string{"a"})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestListAndOrphans(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	for _, d := range []string{"index", "guide/a", "guide/b"} {
		require.NoError(t, s.Save(ctx, d, contract.NewManifest()))
	}
	docs, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"guide/a", "guide/b", "index"}, docs)

	orphans, err := s.Orphans([]string{"index", "guide/a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"guide/b"}, orphans)

	require.NoError(t, s.Remove(ctx, "guide/b"))
	docs, err = s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"guide/a", "index"}, docs)
}

func TestListMissingRoot(t *testing.T) {
	w, err := filesystem.New(&filesystem.Options{OutputDir: filepath.Join(t.TempDir(), "nope")})
	require.NoError(t, err)
	docs, err := New(w).List()
	require.NoError(t, err)
	assert.Empty(t, docs)
}
