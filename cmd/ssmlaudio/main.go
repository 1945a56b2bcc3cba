package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	cfgpkg "ssmlaudio/internal/config"
	"ssmlaudio/internal/diag"
	"ssmlaudio/internal/pipeline"
	"ssmlaudio/internal/watch"
	rfs "ssmlaudio/plugins/reader/filesystem"
)

var (
	pipelineRun = pipeline.Run
	watchRun    = watch.Watch
)

// 退出码：0 成功；1 运行期失败（任一文档/hash/目标失败）；3 配置/装配失败。
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 3
)

type cliFlags struct {
	config      string
	tts         string
	concurrency int
	maxRetries  int
	apply       string
	force       bool
	status      bool
	watch       bool
	metricsFile string
	logLevel    string
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）。
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		fprintf(os.Stderr, "提示：.env 读取失败（已跳过）：%v\n", err)
	}
	code := exitOK
	root := newRootCmd(&code)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		if code == exitOK {
			code = exitConfig
		}
	}
	return code
}

func newRootCmd(code *int) *cobra.Command {
	f := &cliFlags{}
	phaseCmd := func(phase pipeline.Phase) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			*code = execute(cmd, phase, f)
			return nil
		}
	}
	root := &cobra.Command{
		Use:           "ssmlaudio",
		Short:         "将文档树增量构建为 SSML chunk 并合成有声书音轨",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          phaseCmd(pipeline.PhaseAll),
	}
	bindFlags(root.PersistentFlags(), f)

	root.AddCommand(
		&cobra.Command{Use: "run", Short: "完整流程：构建 → 合成 → 拼接 → 清理", Args: cobra.NoArgs, RunE: phaseCmd(pipeline.PhaseAll)},
		&cobra.Command{Use: "build", Short: "仅构建 SSML chunk 与 manifest", Args: cobra.NoArgs, RunE: phaseCmd(pipeline.PhaseBuild)},
		&cobra.Command{Use: "plan", Short: "构建并输出合成/清理计划（不合成）", Args: cobra.NoArgs, RunE: phaseCmd(pipeline.PhasePlan)},
		&cobra.Command{Use: "synth", Short: "构建并合成缺失产物（不拼接）", Args: cobra.NoArgs, RunE: phaseCmd(pipeline.PhaseSynth)},
		&cobra.Command{
			Use:   "init-config [dir]",
			Short: "在目录中生成 ssmlaudio.json 与 .env 模板（已存在则不覆盖）",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				dir := "."
				if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
					dir = strings.TrimSpace(args[0])
				}
				*code = initConfig(cmd, dir)
				return nil
			},
		},
	)
	return root
}

// bindFlags 注册全局旗标。
func bindFlags(pf *pflag.FlagSet, f *cliFlags) {
	pf.StringVar(&f.config, "config", "", "配置文件路径（JSON/YAML）；缺省查找 ./ssmlaudio.{json,yaml,yml}")
	pf.StringVar(&f.tts, "tts", "", "provider 名称（覆盖配置）")
	pf.IntVar(&f.concurrency, "concurrency", 0, "合成并发度（覆盖配置）")
	pf.IntVar(&f.maxRetries, "max-retries", 0, "单个 hash 最大重试次数（覆盖配置；0 表示不重试）")
	pf.StringVar(&f.apply, "apply", "", "生成音轨的文档模式（fnmatch，覆盖配置；空串不生成）")
	pf.BoolVar(&f.force, "force", false, "忽略修改时间，重建全部文档")
	pf.BoolVar(&f.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
	pf.BoolVar(&f.watch, "watch", false, "首轮完成后监听源目录并增量重建")
	pf.StringVar(&f.metricsFile, "metrics-file", "", "运行结束时写出 Prometheus 文本格式指标")
	pf.StringVar(&f.logLevel, "log-level", "", "日志级别 debug|info|error（覆盖配置）")
}

func initConfig(cmd *cobra.Command, dir string) int {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fprintf(cmd.ErrOrStderr(), "生成默认配置失败: %v\n", err)
		return exitConfig
	}
	if err := writeConfig(filepath.Join(dir, "ssmlaudio.json"), cfgpkg.DefaultTemplateConfig()); err != nil {
		fprintf(cmd.ErrOrStderr(), "生成默认配置失败: %v\n", err)
		return exitConfig
	}
	if err := writeDotEnv(filepath.Join(dir, ".env")); err != nil {
		fprintf(cmd.ErrOrStderr(), "提示：.env 生成失败（已跳过）：%v\n", err)
	}
	return exitOK
}

// loadConfig 按优先级合并：Defaults < 配置文件 < ENV < CLI。
func loadConfig(cmd *cobra.Command, f *cliFlags) (cfgpkg.Config, error) {
	cfg := cfgpkg.Defaults()

	path := f.config
	if path == "" {
		path = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	raw := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_JSON")
	if path == "" && raw == "" {
		path = cfgpkg.FindFile(".")
	}
	switch {
	case raw != "" && path == "":
		base, err := cfgpkg.LoadJSON("", []byte(raw))
		if err != nil {
			return cfg, err
		}
		cfg = cfgpkg.Merge(cfg, base)
	case path != "":
		base, err := cfgpkg.Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = cfgpkg.Merge(cfg, base)
	}

	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, err
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	cfg = cfgpkg.Merge(cfg, cliOverlay(cmd.Flags(), f))
	// 空串具有语义（不生成音轨），不经 Merge
	if cmd.Flags().Changed("apply") {
		cfg.Audio.ApplyDocnames = f.apply
	}
	return cfg, nil
}

// cliOverlay 仅收集显式给出的旗标。
func cliOverlay(fl *pflag.FlagSet, f *cliFlags) cfgpkg.Config {
	over := cfgpkg.Config{MaxRetries: -1}
	if fl.Changed("tts") {
		over.TTS = f.tts
	}
	if fl.Changed("concurrency") {
		over.Concurrency = f.concurrency
	}
	if fl.Changed("max-retries") {
		over.MaxRetries = f.maxRetries
	}
	if fl.Changed("log-level") {
		over.Logging.Level = f.logLevel
	}
	return over
}

func execute(cmd *cobra.Command, phase pipeline.Phase, f *cliFlags) int {
	start := time.Now()
	corrID := uuid.NewString()
	stderr := cmd.ErrOrStderr()
	logger := diag.NewLogger(corrID, "info")
	defer func() { _ = logger.Close() }()

	cfg, err := loadConfig(cmd, f)
	if err != nil {
		fprintf(stderr, "配置解析失败: %v\n", err)
		logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
		return exitConfig
	}
	if err := cfgpkg.Validate(cfg); err != nil {
		fprintf(stderr, "配置校验失败: %v\n", err)
		_ = dumpConfig(stderr, cfg)
		logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
		return exitConfig
	}

	// 使用最终配置中的日志级别重建 logger
	_ = logger.Close()
	logger = diag.NewLogger(corrID, cfg.Logging.Level)

	paths := cfgpkg.PathsOf(cfg)
	for _, dir := range []string{paths.SSML, paths.Work} {
		if err := preflightCheckOutputDir(dir); err != nil {
			fprintf(stderr, "输出目录不可写或无法创建: %v\n", err)
			logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
			return exitConfig
		}
	}

	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		fprintf(stderr, "装配失败: %v\n", err)
		logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
		return exitConfig
	}
	set.Until = phase
	set.Force = f.force

	// 终端信息提示（非日志）：按 CLI 启用，默认开启
	diag.SetTerminal(diag.NewTerminal(os.Stderr, f.status))
	defer diag.SetTerminal(nil)

	logger.DebugStart("config", "effective", "", "", effectiveKV(cfg, phase))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	code := runOnce(ctx, cmd.OutOrStdout(), stderr, comp, set, logger, start)
	if f.watch && ctx.Err() == nil {
		code = watchLoop(ctx, cmd.OutOrStdout(), stderr, cfg, comp, set, logger)
	}
	if f.metricsFile != "" {
		if err := diag.WriteMetrics(f.metricsFile); err != nil {
			fprintf(stderr, "指标写出失败: %v\n", err)
		}
	}
	return code
}

func runOnce(ctx context.Context, stdout, stderr io.Writer, comp pipeline.Components, set pipeline.Settings, logger *diag.Logger, start time.Time) int {
	t := logger.Start("pipeline", "run")
	sum, err := pipelineRun(ctx, comp, set, logger)
	printSummary(stdout, set.Until, sum)
	if err != nil {
		code := string(diag.Classify(err))
		logger.Error("pipeline", code, "first error", &start)
		diag.IncOp("pipeline", "error", "error")
		if code != string(diag.CodeUnknown) {
			diag.IncError("pipeline", code)
		}
		if !errors.Is(err, context.Canceled) {
			fprintf(stderr, "运行失败: %v\n", err)
		}
		return exitRuntime
	}
	t.Finish("run", int64(len(sum.Plan.Targets)))
	diag.IncOp("pipeline", "finish", "success")
	diag.ObserveDuration("pipeline", "finish", time.Since(start).Milliseconds())
	return exitOK
}

// watchLoop 阻塞直到中断；每批变化触发一次增量运行，返回最后一次运行的退出码。
func watchLoop(ctx context.Context, stdout, stderr io.Writer, cfg cfgpkg.Config, comp pipeline.Components, set pipeline.Settings, logger *diag.Logger) int {
	paths := cfgpkg.PathsOf(cfg)
	skip := map[string]struct{}{}
	for _, d := range []string{paths.SSML, paths.Audio} {
		if abs, err := filepath.Abs(d); err == nil {
			skip[abs] = struct{}{}
		}
	}
	excluded := map[string]struct{}{}
	for _, n := range rfs.DefaultExcludeDirs {
		excluded[strings.ToLower(n)] = struct{}{}
	}
	opts := watch.Options{
		Exts:   comp.Source.Extensions(),
		Logger: logger,
		Skip: func(dir string) bool {
			if _, ok := excluded[strings.ToLower(filepath.Base(dir))]; ok {
				return true
			}
			abs, err := filepath.Abs(dir)
			if err != nil {
				return false
			}
			_, ok := skip[abs]
			return ok
		},
	}
	code := exitOK
	fprintf(stderr, "[watch] %s\n", cfg.SourceDir)
	err := watchRun(ctx, cfg.SourceDir, opts, func(ctx context.Context, changed []string) error {
		code = runOnce(ctx, stdout, stderr, comp, set, logger, time.Now())
		if code != exitOK {
			return fmt.Errorf("rebuild after %d change(s) failed", len(changed))
		}
		return nil
	})
	if err != nil {
		fprintf(stderr, "监听失败: %v\n", err)
		return exitRuntime
	}
	return code
}

func printSummary(w io.Writer, phase pipeline.Phase, sum pipeline.Summary) {
	fprintf(w, "build: built=%d failed=%d removed=%d\n", len(sum.Built), len(sum.BuildFailed), len(sum.Removed))
	if phase == pipeline.PhaseBuild {
		return
	}
	fprintf(w, "plan: %s\n", sum.Plan.Summary())
	if phase == pipeline.PhasePlan {
		for _, t := range sum.Plan.Targets {
			fprintf(w, "  target %s (%d chunks)\n", t.Doc, len(t.Sequence))
		}
		return
	}
	fprintf(w, "synth: done=%d failed=%d\n", len(sum.Synth.Done), len(sum.Synth.Failed))
	if phase == pipeline.PhaseSynth {
		return
	}
	fprintf(w, "assemble: built=%d skipped=%d failed=%d evicted=%d\n",
		len(sum.Assembly.Built), len(sum.Assembly.Skipped), len(sum.Assembly.Failed), len(sum.Assembly.Evicted))
}

// effectiveKV: 调试输出的运行时配置（不含密钥）。
func effectiveKV(cfg cfgpkg.Config, phase pipeline.Phase) map[string]string {
	kv := map[string]string{
		"phase":       phase.String(),
		"source_dir":  cfg.SourceDir,
		"out_dir":     cfg.OutDir,
		"master_doc":  cfg.MasterDoc,
		"concurrency": fmt.Sprintf("%d", cfg.Concurrency),
		"max_retries": fmt.Sprintf("%d", cfg.MaxRetries),
		"tts":         cfg.TTS,
		"apply":       cfg.Audio.ApplyDocnames,
		"voice_id":    cfg.Audio.VoiceID,
		"reader":      cfg.Components.Reader,
		"source":      cfg.Components.Source,
		"writer":      cfg.Components.Writer,
		"assembler":   cfg.Components.Assembler,
	}
	if p, ok := cfg.Provider[cfg.TTS]; ok {
		kv["provider_client"] = p.Client
		kv["provider_rps"] = fmt.Sprintf("%g", p.Limits.RPS)
		// 解析常见无敏感项
		var s struct {
			BaseURL  string `json:"base_url"`
			Endpoint string `json:"endpoint"`
			Model    string `json:"model"`
		}
		_ = json.Unmarshal(p.Options, &s)
		if s.BaseURL != "" {
			kv["base_url"] = s.BaseURL
		}
		if s.Endpoint != "" {
			kv["endpoint"] = s.Endpoint
		}
		if s.Model != "" {
			kv["model"] = s.Model
		}
	}
	return kv
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(w io.Writer, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, _ = w.Write(append([]byte("有效配置:\n"), b...))
	_, _ = w.Write([]byte("\n"))
	return nil
}

func writeConfig(path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = os.Stdout.Write(append(b, '\n'))
		return err
	}
	// 不覆盖已存在文件
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(b); err != nil {
		return err
	}
	_, _ = f.Write([]byte("\n"))
	return nil
}

// writeDotEnv 生成 .env 模板（若文件已存在则跳过）。
func writeDotEnv(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.WriteString(cfgpkg.EnvTemplate)
	return err
}

// preflightCheckOutputDir: 启动前检查输出目录可写性。
// - 目录存在：尝试创建并删除临时文件；
// - 目录不存在：沿父目录向上找到首个存在的目录并检查可写性。
func preflightCheckOutputDir(dir string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil
	}
	if st, err := os.Stat(dir); err == nil {
		if !st.IsDir() {
			return fmt.Errorf("路径存在但不是目录: %s", dir)
		}
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	parent := filepath.Dir(filepath.Clean(dir))
	if parent == dir {
		return fmt.Errorf("无法确定父目录: %s", dir)
	}
	return preflightCheckOutputDir(parent)
}
