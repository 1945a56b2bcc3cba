package assembly

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssmlaudio/internal/cache"
	"ssmlaudio/pkg/contract"
	"ssmlaudio/plugins/writer/filesystem"
)

type recTool struct {
	mu   sync.Mutex
	reqs []contract.ConcatRequest
	fail map[string]bool
}

func (r *recTool) Concat(_ context.Context, req contract.ConcatRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	if r.fail[req.Meta.Title] {
		return contract.ErrToolFailed
	}
	return os.WriteFile(req.Output, []byte("track"), 0o644)
}

type failingRemover struct{ contract.Writer }

func (failingRemover) Remove(context.Context, string) error { return os.ErrPermission }

func setup(t *testing.T, hashes ...string) (*Assembler, *recTool, string, string) {
	t.Helper()
	out := t.TempDir()
	work := filepath.Join(out, "_temp")
	w, err := filesystem.New(&filesystem.Options{OutputDir: work})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(work, 0o755))
	for _, h := range hashes {
		require.NoError(t, os.WriteFile(filepath.Join(work, h+".mp3"), []byte(h), 0o644))
	}
	tool := &recTool{fail: map[string]bool{}}
	a := &Assembler{
		Tool: tool,
		Work: w,
		Settings: Settings{
			WorkDir: work, OutDir: out, Ext: "mp3",
			Album: "Manual", Author: "ACME", Genre: "Audio Book", Year: "2024",
			Tracks: map[string]int{"index": 1, "guide/intro": 2},
		},
	}
	return a, tool, work, out
}

func TestRunConcatenatesTargetsInSequence(t *testing.T) {
	a, tool, work, out := setup(t, "h1", "h2", "h3", "old")
	plan := cache.Plan{
		Targets: []cache.Target{
			{Doc: "guide/intro", Title: "Intro", Sequence: []string{"h2", "h1"}},
			{Doc: "index", Title: "Home", Sequence: []string{"h3"}},
		},
		ToEvict: []string{"old"},
	}
	res := a.Run(context.Background(), plan, nil)
	assert.True(t, res.OK())
	assert.Equal(t, []string{"guide/intro", "index"}, res.Built)
	assert.Equal(t, []string{"old"}, res.Evicted)
	assert.NoFileExists(t, filepath.Join(work, "old.mp3"))
	assert.FileExists(t, filepath.Join(out, "guide", "intro.mp3"))

	require.Len(t, tool.reqs, 2)
	r := tool.reqs[0]
	assert.Equal(t, []string{"h2.mp3", "h1.mp3"}, r.Inputs)
	assert.Equal(t, work, r.WorkDir)
	assert.Equal(t, contract.TrackMeta{Album: "Manual", Author: "ACME", Title: "Intro", Track: 2, Genre: "Audio Book", Year: "2024"}, r.Meta)
}

func TestRunSkipsTargetsWithFailedOrMissingArtifacts(t *testing.T) {
	a, tool, _, _ := setup(t, "h1", "h2")
	plan := cache.Plan{Targets: []cache.Target{
		{Doc: "a", Title: "A", Sequence: []string{"h1", "bad"}},
		{Doc: "b", Title: "B", Sequence: []string{"h1", "gone"}},
		{Doc: "c", Title: "C", Sequence: []string{"h2"}},
	}}
	res := a.Run(context.Background(), plan, map[string]error{"bad": errors.New("boom")})
	assert.False(t, res.OK())
	assert.Equal(t, []string{"c"}, res.Built)
	require.Len(t, res.Skipped, 2)
	assert.True(t, errors.Is(res.Skipped["a"], contract.ErrArtifactMissing))
	assert.True(t, errors.Is(res.Skipped["b"], contract.ErrArtifactMissing))
	assert.Len(t, tool.reqs, 1)
}

func TestRunToolFailureDoesNotStopOthers(t *testing.T) {
	a, tool, _, _ := setup(t, "h1")
	tool.fail["A"] = true
	plan := cache.Plan{Targets: []cache.Target{
		{Doc: "a", Title: "A", Sequence: []string{"h1"}},
		{Doc: "b", Title: "B", Sequence: []string{"h1"}},
	}}
	res := a.Run(context.Background(), plan, nil)
	assert.Equal(t, []string{"b"}, res.Built)
	assert.True(t, errors.Is(res.Failed["a"], contract.ErrToolFailed))
}

func TestEvictErrorsAreCollected(t *testing.T) {
	a, _, work, _ := setup(t, "x")
	a.Work = failingRemover{a.Work}
	res := a.Run(context.Background(), cache.Plan{ToEvict: []string{"x"}}, nil)
	assert.True(t, res.OK())
	assert.Empty(t, res.Evicted)
	assert.True(t, errors.Is(res.EvictErrs["x"], os.ErrPermission))
	assert.FileExists(t, filepath.Join(work, "x.mp3"))
}

func TestRunCanceled(t *testing.T) {
	a, tool, _, _ := setup(t, "h1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := a.Run(ctx, cache.Plan{Targets: []cache.Target{{Doc: "a", Sequence: []string{"h1"}}}}, nil)
	assert.True(t, errors.Is(res.Failed["a"], context.Canceled))
	assert.Empty(t, tool.reqs)
}

func TestDocOrder(t *testing.T) {
	tree := map[string][]string{
		"index":    {"guide/a", "guide/b", "ref"},
		"guide/a":  {"guide/a1", "ref"},
		"guide/a1": {"index"},
		"ref":      {"missing"},
	}
	inc := func(doc string) ([]string, error) {
		if doc == "missing" {
			return nil, os.ErrNotExist
		}
		return tree[doc], nil
	}
	got := DocOrder("index", inc)
	assert.Equal(t, []string{"index", "guide/a", "guide/a1", "ref", "missing", "guide/b"}, got)
}

func TestTrackNumbers(t *testing.T) {
	order := []string{"index", "a", "b"}
	got := TrackNumbers(order, []string{"b", "zeta", "index", "orphan"})
	assert.Equal(t, map[string]int{"index": 1, "b": 3, "orphan": 4, "zeta": 5}, got)
}

func TestParseCopyright(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	y, a := ParseCopyright("2019, ACME Corp", now)
	assert.Equal(t, "2019", y)
	assert.Equal(t, "ACME Corp", a)

	y, a = ParseCopyright("ACME", now)
	assert.Equal(t, "2026", y)
	assert.Empty(t, a)
}

func TestOutputPath(t *testing.T) {
	s := Settings{OutDir: "/out", Ext: ".mp3"}
	assert.Equal(t, filepath.Join("/out", "guide", "intro.mp3"), s.OutputPath("guide/intro"))
}
