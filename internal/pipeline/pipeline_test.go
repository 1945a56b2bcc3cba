package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssmlaudio/internal/ssml"
	"ssmlaudio/pkg/contract"
	concatasm "ssmlaudio/plugins/assembler/concat"
	rfs "ssmlaudio/plugins/reader/filesystem"
	"ssmlaudio/plugins/source/markdown"
	"ssmlaudio/plugins/synthesizer/mock"
	wfs "ssmlaudio/plugins/writer/filesystem"
)

const (
	indexMD   = "# Book\n\nWelcome to the book.\n\n```{toctree}\nchapter\n```\n"
	chapterMD = "# Chapter\n\nFirst part.\n\n## Details\n\nSecond part.\n"
)

type env struct {
	root  string
	src   string
	audio string
	comp  Components
	set   Settings
	synth *mock.Client
}

func newEnv(t testing.TB) *env {
	t.Helper()
	root := t.TempDir()
	e := &env{root: root, src: filepath.Join(root, "src"), audio: filepath.Join(root, "out", "audio")}
	require.NoError(t, os.MkdirAll(e.src, 0o755))
	past := time.Now().Add(-time.Hour)
	writeSrcAt(t, e, "index.md", indexMD, past)
	writeSrcAt(t, e, "chapter.md", chapterMD, past)

	ssmlW, err := wfs.New(&wfs.Options{OutputDir: filepath.Join(root, "out", "ssml")})
	require.NoError(t, err)
	workW, err := wfs.New(&wfs.Options{OutputDir: filepath.Join(e.audio, "_temp")})
	require.NoError(t, err)
	e.synth, err = mock.New(nil)
	require.NoError(t, err)
	asm, err := concatasm.New(nil)
	require.NoError(t, err)

	e.comp = Components{
		Reader:    rfs.New(nil),
		Source:    markdown.New(),
		SSML:      ssmlW,
		Work:      workW,
		Synth:     e.synth,
		Assembler: asm,
	}
	e.set = Settings{
		SourceDir:   e.src,
		MasterDoc:   "index",
		Project:     "Book",
		Copyright:   "2021, Jane Roe",
		SSML:        ssml.DefaultOptions(),
		AudioDir:    e.audio,
		Apply:       "*",
		VoiceID:     "Joanna",
		Ext:         "mp3",
		Genre:       "Audio Book",
		Concurrency: 2,
		Backoff:     time.Millisecond,
		Now:         func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
		TTSName:     "mock",
	}
	return e
}

// writeSrc 模拟编辑：修改时间晚于已有 manifest。
func writeSrc(t testing.TB, e *env, name, body string) {
	t.Helper()
	writeSrcAt(t, e, name, body, time.Now().Add(time.Minute))
}

func writeSrcAt(t testing.TB, e *env, name, body string, mt time.Time) {
	t.Helper()
	p := filepath.Join(e.src, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	require.NoError(t, os.Chtimes(p, mt, mt))
}

func trackOf(t *testing.T, path string) byte {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(b), 128)
	tag := b[len(b)-128:]
	require.Equal(t, "TAG", string(tag[:3]))
	return tag[126]
}

func TestRunFirstBuildSynthesizesEverything(t *testing.T) {
	e := newEnv(t)
	sum, err := Run(context.Background(), e.comp, e.set, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"chapter", "index"}, sum.Built)
	require.NotEmpty(t, sum.Plan.ToSynthesize)
	assert.Equal(t, sum.Plan.ToSynthesize, sum.Synth.Done)
	assert.Equal(t, len(sum.Plan.ToSynthesize), e.synth.Calls())
	assert.Empty(t, sum.Plan.ToEvict)
	assert.ElementsMatch(t, []string{"chapter", "index"}, sum.Assembly.Built)

	for _, h := range sum.Plan.ToSynthesize {
		assert.FileExists(t, filepath.Join(e.audio, "_temp", h+".mp3"))
	}
	assert.Equal(t, byte(1), trackOf(t, filepath.Join(e.audio, "index.mp3")))
	assert.Equal(t, byte(2), trackOf(t, filepath.Join(e.audio, "chapter.mp3")))
	assert.FileExists(t, filepath.Join(e.root, "out", "ssml", "index.json"))

	for _, text := range e.synth.Texts() {
		assert.True(t, strings.HasPrefix(text, "<speak"), text)
	}
}

func TestRunIsIncremental(t *testing.T) {
	e := newEnv(t)
	_, err := Run(context.Background(), e.comp, e.set, nil)
	require.NoError(t, err)
	calls := e.synth.Calls()

	// 无变更：不重建、不合成，音轨号仍来自按需解析的文档
	sum, err := Run(context.Background(), e.comp, e.set, nil)
	require.NoError(t, err)
	assert.Empty(t, sum.Built)
	assert.Empty(t, sum.Plan.ToSynthesize)
	assert.Equal(t, calls, e.synth.Calls())
	assert.Equal(t, byte(2), trackOf(t, filepath.Join(e.audio, "chapter.mp3")))

	// 修改一个段落：只合成变化的 chunk，旧产物被清理
	writeSrc(t, e, "chapter.md", strings.Replace(chapterMD, "Second part.", "Second part, revised.", 1))
	sum, err = Run(context.Background(), e.comp, e.set, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"chapter"}, sum.Built)
	require.Len(t, sum.Plan.ToSynthesize, 1)
	assert.Equal(t, calls+1, e.synth.Calls())
	require.Len(t, sum.Assembly.Evicted, 1)
	assert.NoFileExists(t, filepath.Join(e.audio, "_temp", sum.Assembly.Evicted[0]+".mp3"))
}

func TestRunForceRebuildsWithoutResynthesis(t *testing.T) {
	e := newEnv(t)
	_, err := Run(context.Background(), e.comp, e.set, nil)
	require.NoError(t, err)
	calls := e.synth.Calls()

	e.set.Force = true
	sum, err := Run(context.Background(), e.comp, e.set, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"chapter", "index"}, sum.Built)
	assert.Empty(t, sum.Plan.ToSynthesize)
	assert.Equal(t, calls, e.synth.Calls())
}

func TestRunRebuildsWhenSSMLOptionsChange(t *testing.T) {
	e := newEnv(t)
	_, err := Run(context.Background(), e.comp, e.set, nil)
	require.NoError(t, err)

	// 源文件未变，仅改段落后停顿：全部文档重建，chunk 内容变化需重新合成
	e.set.SSML.BreakAfterParagraph = 250
	sum, err := Run(context.Background(), e.comp, e.set, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"chapter", "index"}, sum.Built)
	assert.NotEmpty(t, sum.Plan.ToSynthesize)
	assert.NotEmpty(t, sum.Plan.ToEvict)

	// 选项稳定后回到增量
	sum, err = Run(context.Background(), e.comp, e.set, nil)
	require.NoError(t, err)
	assert.Empty(t, sum.Built)
	assert.Empty(t, sum.Plan.ToSynthesize)
}

func TestRunSkipsUnresolvableInclude(t *testing.T) {
	e := newEnv(t)
	writeSrc(t, e, "index.md", "# Book\n\nWelcome.\n\n```{toctree}\n../../outside\nchapter\n```\n")
	sum, err := Run(context.Background(), e.comp, e.set, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"chapter", "index"}, sum.Built)
	assert.Empty(t, sum.BuildFailed)
	assert.Equal(t, byte(2), trackOf(t, filepath.Join(e.audio, "chapter.mp3")))
}

func TestRunRemovedDocumentEvictsArtifacts(t *testing.T) {
	e := newEnv(t)
	first, err := Run(context.Background(), e.comp, e.set, nil)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(e.src, "chapter.md")))
	sum, err := Run(context.Background(), e.comp, e.set, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"chapter"}, sum.Removed)
	assert.NoFileExists(t, filepath.Join(e.root, "out", "ssml", "chapter.json"))
	assert.NotEmpty(t, sum.Assembly.Evicted)
	assert.Less(t, len(sum.Plan.AllHashes), len(first.Plan.AllHashes))
	assert.Equal(t, []string{"index"}, sum.Assembly.Built)
}

type failOn struct {
	contract.Synthesizer
	needle string
}

func (f failOn) Synthesize(ctx context.Context, req contract.SynthesisRequest) (io.ReadCloser, error) {
	if strings.Contains(req.Text, f.needle) {
		return nil, errors.New("voice rejected")
	}
	return f.Synthesizer.Synthesize(ctx, req)
}

func TestRunFailedHashSkipsOnlyItsTarget(t *testing.T) {
	e := newEnv(t)
	e.comp.Synth = failOn{Synthesizer: e.synth, needle: "Second part"}
	sum, err := Run(context.Background(), e.comp, e.set, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, contract.ErrArtifactMissing)
	assert.Len(t, sum.Synth.Failed, 1)
	assert.Equal(t, []string{"index"}, sum.Assembly.Built)
	assert.Contains(t, sum.Assembly.Skipped, "chapter")
	assert.NoFileExists(t, filepath.Join(e.audio, "chapter.mp3"))

	// 恢复后只补合成失败的 hash
	e.comp.Synth = e.synth
	calls := e.synth.Calls()
	sum, err = Run(context.Background(), e.comp, e.set, nil)
	require.NoError(t, err)
	assert.Len(t, sum.Plan.ToSynthesize, 1)
	assert.Equal(t, calls+1, e.synth.Calls())
	assert.FileExists(t, filepath.Join(e.audio, "chapter.mp3"))
}

func TestRunApplyPatternSelectsTargets(t *testing.T) {
	e := newEnv(t)
	e.set.Apply = "chap*"
	sum, err := Run(context.Background(), e.comp, e.set, nil)
	require.NoError(t, err)
	require.Len(t, sum.Plan.Targets, 1)
	assert.Equal(t, "chapter", sum.Plan.Targets[0].Doc)
	assert.NoFileExists(t, filepath.Join(e.audio, "index.mp3"))

	e.set.Apply = ""
	sum, err = Run(context.Background(), e.comp, e.set, nil)
	require.NoError(t, err)
	assert.Empty(t, sum.Plan.Targets)
	assert.Empty(t, sum.Plan.ToSynthesize)
}

func TestRunStopsAfterPhase(t *testing.T) {
	e := newEnv(t)
	e.set.Until = PhaseBuild
	e.comp.Synth, e.comp.Assembler, e.comp.Work = nil, nil, nil
	sum, err := Run(context.Background(), e.comp, e.set, nil)
	require.NoError(t, err)
	assert.Len(t, sum.Built, 2)
	assert.Empty(t, sum.Plan.Targets)

	e = newEnv(t)
	e.set.Until = PhasePlan
	sum, err = Run(context.Background(), e.comp, e.set, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, sum.Plan.ToSynthesize)
	assert.Zero(t, e.synth.Calls())
	assert.NoDirExists(t, filepath.Join(e.audio, "_temp"))

	e = newEnv(t)
	e.set.Until = PhaseSynth
	sum, err = Run(context.Background(), e.comp, e.set, nil)
	require.NoError(t, err)
	assert.Equal(t, len(sum.Plan.ToSynthesize), e.synth.Calls())
	assert.Empty(t, sum.Assembly.Built)
	assert.NoFileExists(t, filepath.Join(e.audio, "index.mp3"))
}

func TestRunCorruptManifestAbortsBeforeEviction(t *testing.T) {
	e := newEnv(t)
	_, err := Run(context.Background(), e.comp, e.set, nil)
	require.NoError(t, err)
	entries, err := os.ReadDir(filepath.Join(e.audio, "_temp"))
	require.NoError(t, err)

	// 源文件不变，manifest 被破坏；保持其 mtime 晚于源文件以免被重建
	p := filepath.Join(e.root, "out", "ssml", "chapter.json")
	require.NoError(t, os.WriteFile(p, []byte("{not json"), 0o644))
	future := time.Now().Add(2 * time.Hour)
	require.NoError(t, os.Chtimes(p, future, future))

	_, err = Run(context.Background(), e.comp, e.set, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, contract.ErrManifestInvalid)
	after, err := os.ReadDir(filepath.Join(e.audio, "_temp"))
	require.NoError(t, err)
	assert.Len(t, after, len(entries))
}

func TestRunBuildFailureIsolated(t *testing.T) {
	e := newEnv(t)
	writeSrc(t, e, "broken.md", "# Broken\n\nbody\n")
	// chunk 目录位置被普通文件占用，写入失败
	require.NoError(t, os.MkdirAll(e.comp.SSML.Root(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(e.comp.SSML.Root(), "broken"+ssml.ChunkDirSuffix), nil, 0o644))
	sum, err := Run(context.Background(), e.comp, e.set, nil)
	require.Error(t, err)
	assert.Contains(t, sum.BuildFailed, "broken")
	assert.Equal(t, []string{"chapter", "index"}, sum.Built)
	assert.ElementsMatch(t, []string{"chapter", "index"}, sum.Assembly.Built)
}

func TestRunCanceled(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, e.comp, e.set, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSanity(t *testing.T) {
	e := newEnv(t)
	cases := map[string]func(c *Components, s *Settings){
		"no reader":      func(c *Components, s *Settings) { c.Reader = nil },
		"no synth":       func(c *Components, s *Settings) { c.Synth = nil },
		"no assembler":   func(c *Components, s *Settings) { c.Assembler = nil },
		"no master":      func(c *Components, s *Settings) { s.MasterDoc = "" },
		"no ext":         func(c *Components, s *Settings) { s.Ext = "" },
		"zero threshold": func(c *Components, s *Settings) { s.SSML.Threshold = 0 },
		"neg retries":    func(c *Components, s *Settings) { s.MaxRetries = -1 },
	}
	for name, mut := range cases {
		t.Run(name, func(t *testing.T) {
			c, s := e.comp, e.set
			mut(&c, &s)
			_, err := Run(context.Background(), c, s, nil)
			assert.ErrorIs(t, err, contract.ErrInvalidInput)
		})
	}
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "all", PhaseAll.String())
	assert.Equal(t, "synth", PhaseSynth.String())
	assert.Equal(t, "phase(9)", Phase(9).String())
}
