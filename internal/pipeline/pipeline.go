package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"ssmlaudio/internal/assembly"
	"ssmlaudio/internal/cache"
	"ssmlaudio/internal/diag"
	"ssmlaudio/internal/manifest"
	"ssmlaudio/internal/rate"
	"ssmlaudio/internal/ssml"
	"ssmlaudio/internal/synth"
	"ssmlaudio/pkg/contract"
)

// - 阶段顺序：构建 → 清点 → 差集 → 合成 → 拼接 → 清理；每阶段的输入只来自磁盘上的 manifest 与产物。
// - 并发：仅合成阶段并发（Executor），其余阶段串行。
// - 失败隔离：单文档/单 hash/单目标失败不影响其他项；汇总后以 errors.Join 返回。
// - 清理：只在全部 manifest 成功加载后计算，且在拼接之后执行。

// Components 聚合运行所需的原子组件。
type Components struct {
	Reader    contract.Reader
	Source    contract.Source
	SSML      contract.Writer // 根为 SSML 输出目录：chunk 与 manifest
	Work      contract.Writer // 根为音频工作目录：<hash>.<ext> 产物
	Synth     contract.Synthesizer
	Assembler contract.Assembler
}

// Phase: 运行截止阶段。零值表示完整流程。
type Phase int

const (
	PhaseAll Phase = iota
	PhaseBuild
	PhasePlan
	PhaseSynth
)

var phaseNames = [...]string{PhaseAll: "all", PhaseBuild: "build", PhasePlan: "plan", PhaseSynth: "synth"}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Settings 运行期配置。
type Settings struct {
	SourceDir string
	MasterDoc string
	Project   string // 专辑名
	Copyright string // "YYYY, Author"
	SSML      ssml.Options

	AudioDir string // 音轨输出目录
	Apply    string // 目标文档模式（fnmatch）；空串不匹配任何文档
	VoiceID  string
	Ext      string
	Genre    string
	Verify   bool

	Concurrency int
	MaxRetries  int
	Backoff     time.Duration
	Gate        rate.Gate

	Until   Phase
	Force   bool
	Now     func() time.Time
	TTSName string
}

// Summary: 单次运行的结果汇总。
type Summary struct {
	Built       []string
	BuildFailed map[string]error
	Removed     []string
	Plan        cache.Plan
	Synth       synth.Report
	Assembly    assembly.Result
}

// Run 执行完整流水线并返回汇总；运行级错误（配置、manifest 加载）直接返回，
// 单项失败合并进返回的错误。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Summary, error) {
	sum := Summary{BuildFailed: map[string]error{}}
	if err := sanity(comp, set); err != nil {
		return sum, fmt.Errorf("sanity: %w", err)
	}
	term := diag.GetTerminal()
	runStart := time.Now()
	conc := set.Concurrency
	if conc < 1 {
		conc = synth.DefaultConcurrency()
	}
	term.RunStart(conc, set.TTSName)
	ok := false
	defer func() { term.RunFinish(ok, time.Since(runStart)) }()

	store := manifest.New(comp.SSML)

	files, err := comp.Reader.Walk(ctx, set.SourceDir, comp.Source.Extensions())
	if err != nil {
		logErr(logger, "reader", err, "")
		return sum, fmt.Errorf("walk %s: %w", set.SourceDir, err)
	}
	parsed := map[string]*contract.Document{}
	fingerprint := set.SSML.Fingerprint()

	// 1) 构建过期文档
	term.PhaseStart("build", len(files))
	known := make([]string, 0, len(files))
	for _, f := range files {
		known = append(known, f.Name)
		if err := ctx.Err(); err != nil {
			term.PhaseFinish(false)
			return sum, err
		}
		if !set.Force && !outdated(store, f, fingerprint) {
			term.Step(false)
			continue
		}
		doc, err := buildDoc(ctx, comp, set, store, f, logger)
		if doc != nil {
			parsed[f.Name] = doc
		}
		if err != nil {
			sum.BuildFailed[f.Name] = err
			term.Step(true)
			continue
		}
		sum.Built = append(sum.Built, f.Name)
		term.Step(false)
	}
	term.PhaseFinish(len(sum.BuildFailed) == 0)

	// 2) 删除已不存在源文档的 manifest
	orphans, err := store.Orphans(known)
	if err != nil {
		logErr(logger, "manifest", err, "")
		return sum, fmt.Errorf("list manifests: %w", err)
	}
	for _, d := range orphans {
		if err := store.Remove(ctx, d); err != nil {
			logErr(logger, "manifest", err, d)
			return sum, fmt.Errorf("remove manifest %s: %w", d, err)
		}
		sum.Removed = append(sum.Removed, d)
		if logger != nil {
			logger.Info("manifest", "removed", map[string]string{"doc": d})
		}
	}
	buildErr := joinDocs(sum.BuildFailed, "build")
	if set.Until == PhaseBuild {
		ok = buildErr == nil
		return sum, buildErr
	}

	// 3) 差集（任一 manifest 加载失败即终止，避免误清理）
	docs, err := store.List()
	if err != nil {
		logErr(logger, "manifest", err, "")
		return sum, fmt.Errorf("list manifests: %w", err)
	}
	manifests, err := store.LoadAll(docs)
	if err != nil {
		logErr(logger, "manifest", err, "")
		return sum, fmt.Errorf("load manifests: %w", err)
	}
	workDir := comp.Work.Root()
	existing, err := cache.ScanArtifacts(workDir, set.Ext)
	if err != nil {
		logErr(logger, "cache", err, "")
		return sum, fmt.Errorf("scan artifacts: %w", err)
	}
	sum.Plan = cache.Diff(manifests, set.Apply, existing)
	if logger != nil {
		logger.Info("cache", "plan", map[string]string{
			"targets":    fmt.Sprintf("%d", len(sum.Plan.Targets)),
			"synthesize": fmt.Sprintf("%d", len(sum.Plan.ToSynthesize)),
			"evict":      fmt.Sprintf("%d", len(sum.Plan.ToEvict)),
		})
	}
	if set.Until == PhasePlan {
		ok = buildErr == nil
		return sum, buildErr
	}

	// 4) 合成
	tasks := make([]synth.Task, 0, len(sum.Plan.ToSynthesize))
	for _, h := range sum.Plan.ToSynthesize {
		tasks = append(tasks, synth.Task{Hash: h, File: sum.Plan.HashToFile[h]})
	}
	ssmlRoot := comp.SSML.Root()
	exec := &synth.Executor{
		Synth:  comp.Synth,
		Gate:   set.Gate,
		Writer: comp.Work,
		ReadChunk: func(file string) ([]byte, error) {
			return os.ReadFile(filepath.Join(ssmlRoot, filepath.FromSlash(file)))
		},
		VoiceID:     set.VoiceID,
		Format:      set.Ext,
		Ext:         set.Ext,
		Concurrency: conc,
		MaxRetries:  set.MaxRetries,
		Backoff:     set.Backoff,
		Verify:      set.Verify,
		Logger:      logger,
		Terminal:    term,
	}
	term.PhaseStart("synth", len(tasks))
	sum.Synth = exec.Run(ctx, tasks)
	synthErr := sum.Synth.Err()
	term.PhaseFinish(synthErr == nil)
	if set.Until == PhaseSynth {
		err := errors.Join(buildErr, synthErr)
		ok = err == nil
		return sum, err
	}

	// 5) 拼接与清理
	now := time.Now
	if set.Now != nil {
		now = set.Now
	}
	year, author := assembly.ParseCopyright(set.Copyright, now())
	targets := make([]string, 0, len(sum.Plan.Targets))
	for _, t := range sum.Plan.Targets {
		targets = append(targets, t.Doc)
	}
	order := assembly.DocOrder(set.MasterDoc, includeLookup(ctx, comp, files, parsed))
	asm := &assembly.Assembler{
		Tool: comp.Assembler,
		Work: comp.Work,
		Settings: assembly.Settings{
			WorkDir: workDir,
			OutDir:  set.AudioDir,
			Ext:     set.Ext,
			Album:   set.Project,
			Author:  author,
			Genre:   set.Genre,
			Year:    year,
			Tracks:  assembly.TrackNumbers(order, targets),
		},
		Logger:   logger,
		Terminal: term,
	}
	term.PhaseStart("assemble", len(sum.Plan.Targets))
	sum.Assembly = asm.Run(ctx, sum.Plan, sum.Synth.Failed)
	term.PhaseFinish(sum.Assembly.OK())

	err = errors.Join(buildErr, synthErr, joinDocs(sum.Assembly.Skipped, "skip"), joinDocs(sum.Assembly.Failed, "assemble"))
	ok = err == nil
	return sum, err
}

// outdated: manifest 缺失、源文件比 manifest 新，或 SSML 选项指纹不一致。
// manifest 无法读取时不在此判定，留给差集阶段报错。
func outdated(store *manifest.Store, f contract.SourceFile, fingerprint string) bool {
	mt, ok := store.ModTime(f.Name)
	if !ok || f.ModTime.After(mt) {
		return true
	}
	m, err := store.Load(f.Name)
	if err != nil {
		return false
	}
	return m.Options != fingerprint
}

func buildDoc(ctx context.Context, comp Components, set Settings, store *manifest.Store, f contract.SourceFile, logger *diag.Logger) (*contract.Document, error) {
	var tm *diag.Timer
	if logger != nil {
		tm = logger.StartWith("build", "document", f.Name, "")
	}
	start := time.Now()
	doc, err := parseDoc(ctx, comp, f)
	if err != nil {
		logErrSince(logger, "build", err, f.Name, &start)
		return nil, err
	}
	if logger != nil {
		for _, w := range doc.Warnings {
			logger.Warn("build", "include_skipped", w, f.Name, "")
		}
	}
	m, err := ssml.NewBuilder(set.SSML, comp.SSML).Build(ctx, doc)
	if err != nil {
		logErrSince(logger, "build", err, f.Name, &start)
		return doc, fmt.Errorf("translate %s: %w", f.Name, err)
	}
	if err := store.Save(ctx, f.Name, m); err != nil {
		logErrSince(logger, "build", err, f.Name, &start)
		return doc, err
	}
	tm.Finish("document", int64(len(m.Sequence)))
	diag.IncOp("build", "finish", "success")
	diag.ObserveDuration("build", "document", time.Since(start).Milliseconds())
	return doc, nil
}

func parseDoc(ctx context.Context, comp Components, f contract.SourceFile) (*contract.Document, error) {
	rc, err := comp.Reader.Open(ctx, f.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Path, err)
	}
	defer rc.Close()
	doc, err := comp.Source.Parse(ctx, f.Name, rc)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.Name, err)
	}
	if doc.ModTime.IsZero() {
		doc.ModTime = f.ModTime
	}
	return doc, nil
}

// includeLookup 优先使用本轮已解析的文档；其余文档按需重新解析并缓存。
func includeLookup(ctx context.Context, comp Components, files []contract.SourceFile, parsed map[string]*contract.Document) assembly.IncludeFunc {
	byName := make(map[string]contract.SourceFile, len(files))
	for _, f := range files {
		byName[f.Name] = f
	}
	return func(doc string) ([]string, error) {
		if d, ok := parsed[doc]; ok {
			return d.Includes, nil
		}
		f, ok := byName[doc]
		if !ok {
			return nil, fmt.Errorf("%w: unknown document %s", contract.ErrInvalidInput, doc)
		}
		d, err := parseDoc(ctx, comp, f)
		if err != nil {
			return nil, err
		}
		parsed[doc] = d
		return d.Includes, nil
	}
}

// joinDocs 按键排序合并错误。
func joinDocs(m map[string]error, verb string) error {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	errs := make([]error, 0, len(keys))
	for _, k := range keys {
		errs = append(errs, fmt.Errorf("%s %s: %w", verb, k, m[k]))
	}
	return errors.Join(errs...)
}

func logErr(logger *diag.Logger, comp string, err error, doc string) {
	logErrSince(logger, comp, err, doc, nil)
}

func logErrSince(logger *diag.Logger, comp string, err error, doc string, start *time.Time) {
	code := diag.Classify(err)
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
	if logger != nil {
		logger.ErrorWith(comp, string(code), err.Error(), start, doc, "")
	}
}

func sanity(comp Components, set Settings) error {
	if comp.Reader == nil || comp.Source == nil || comp.SSML == nil {
		return fmt.Errorf("%w: reader/source/ssml writer required", contract.ErrInvalidInput)
	}
	if set.Until != PhaseBuild && comp.Work == nil {
		return fmt.Errorf("%w: work writer required", contract.ErrInvalidInput)
	}
	if (set.Until == PhaseAll || set.Until == PhaseSynth) && comp.Synth == nil {
		return fmt.Errorf("%w: synthesizer required", contract.ErrInvalidInput)
	}
	if set.Until == PhaseAll {
		if comp.Assembler == nil {
			return fmt.Errorf("%w: assembler required", contract.ErrInvalidInput)
		}
		if set.MasterDoc == "" || set.AudioDir == "" {
			return fmt.Errorf("%w: master doc and audio dir required", contract.ErrInvalidInput)
		}
	}
	if set.Ext == "" {
		return fmt.Errorf("%w: audio extension required", contract.ErrInvalidInput)
	}
	if set.SSML.Threshold <= 0 {
		return fmt.Errorf("%w: chunk threshold must be > 0", contract.ErrInvalidInput)
	}
	if set.Concurrency < 0 || set.MaxRetries < 0 {
		return fmt.Errorf("%w: concurrency/max_retries must be >= 0", contract.ErrInvalidInput)
	}
	return nil
}
