package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"ssmlaudio/internal/pipeline"
	"ssmlaudio/internal/rate"
	"ssmlaudio/internal/ssml"
	"ssmlaudio/pkg/contract"
	"ssmlaudio/pkg/registry"
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("config: %w: %s", contract.ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Validate 对最小必要边界做静态校验（输入为合并后的最终配置）。
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.SourceDir) == "" || strings.TrimSpace(cfg.OutDir) == "" {
		return invalid("source_dir/out_dir empty")
	}
	if strings.TrimSpace(cfg.MasterDoc) == "" {
		return invalid("master_doc empty")
	}
	if cfg.Concurrency < 0 {
		return invalid("concurrency must be >= 0")
	}
	if cfg.MaxRetries < 0 {
		return invalid("max_retries must be >= 0")
	}
	if _, err := SSMLOptions(cfg); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Audio.OutputFolder) == "" {
		return invalid("audio.output_folder empty")
	}
	if strings.TrimSpace(cfg.Audio.WorkSubdir) == "" || filepath.IsAbs(cfg.Audio.WorkSubdir) {
		return invalid("audio.work_subdir must be a relative path")
	}
	if strings.TrimSpace(strings.TrimPrefix(cfg.Audio.Extension, ".")) == "" {
		return invalid("audio.extension empty")
	}
	if cfg.TTS == "" {
		return invalid("tts not set")
	}
	prov, ok := cfg.Provider[cfg.TTS]
	if !ok {
		return invalid("provider %q not found", cfg.TTS)
	}
	if prov.Client == "" {
		return invalid("provider %q missing client", cfg.TTS)
	}
	if prov.Limits.RPS < 0 || prov.Limits.Burst < 0 {
		return invalid("provider %q limits must be >= 0", cfg.TTS)
	}
	if prov.Limits.Burst > 1 {
		return invalid("provider %q limits.burst must be 0 or 1 (got %d)", cfg.TTS, prov.Limits.Burst)
	}
	if registry.Synthesizer[prov.Client] == nil {
		return invalid("synthesizer %q not registered (have %v)", prov.Client, registry.Names(registry.Synthesizer))
	}
	d := Defaults().Components
	if name := effName(cfg.Components.Reader, d.Reader); registry.Reader[name] == nil {
		return invalid("reader %q not registered", name)
	}
	if name := effName(cfg.Components.Source, d.Source); registry.Source[name] == nil {
		return invalid("source %q not registered (have %v)", name, registry.Names(registry.Source))
	}
	if name := effName(cfg.Components.Writer, d.Writer); registry.Writer[name] == nil {
		return invalid("writer %q not registered", name)
	}
	if name := effName(cfg.Components.Assembler, d.Assembler); registry.Assembler[name] == nil {
		return invalid("assembler %q not registered (have %v)", name, registry.Names(registry.Assembler))
	}
	return nil
}

// SSMLOptions 将配置转换为翻译器选项并校验取值。
func SSMLOptions(cfg Config) (ssml.Options, error) {
	s := cfg.SSML
	if strings.TrimSpace(s.Language) == "" {
		return ssml.Options{}, invalid("ssml.language empty")
	}
	if len(s.BreakAroundSectionTitle) == 0 {
		return ssml.Options{}, invalid("ssml.break_around_section_title empty")
	}
	for i, v := range s.BreakAroundSectionTitle {
		if v < 0 {
			return ssml.Options{}, invalid("ssml.break_around_section_title[%d] < 0", i)
		}
	}
	if len(s.EmphasisSectionTitle) == 0 {
		return ssml.Options{}, invalid("ssml.emphasis_section_title empty")
	}
	if strings.TrimSpace(s.ParagraphSpeed) == "" {
		return ssml.Options{}, invalid("ssml.paragraph_speed empty")
	}
	if s.ChunkThreshold <= 0 {
		return ssml.Options{}, invalid("ssml.chunk_threshold must be > 0")
	}
	pause := 0
	if s.BreakAfterParagraph != nil {
		pause = *s.BreakAfterParagraph
	}
	if pause < 0 {
		return ssml.Options{}, invalid("ssml.break_after_paragraph < 0")
	}
	skip := map[ssml.Region]bool{}
	for name, on := range s.SkipBlock {
		r, err := ssml.ParseRegion(name)
		if err != nil {
			return ssml.Options{}, fmt.Errorf("config: ssml.skip_block: %w", err)
		}
		skip[r] = on
	}
	return ssml.Options{
		Language:            s.Language,
		SkipBlock:           skip,
		BreakAroundTitle:    append([]int(nil), s.BreakAroundSectionTitle...),
		EmphasisTitle:       cloneStrings(s.EmphasisSectionTitle),
		BreakAfterParagraph: pause,
		ParagraphSpeed:      s.ParagraphSpeed,
		Threshold:           s.ChunkThreshold,
	}, nil
}

// Paths: 由配置推导的输出目录。
type Paths struct {
	SSML  string // chunk 与 manifest
	Audio string // 音轨
	Work  string // 合成产物
}

func PathsOf(cfg Config) Paths {
	audio := cfg.Audio.OutputFolder
	return Paths{SSML: cfg.OutDir, Audio: audio, Work: filepath.Join(audio, cfg.Audio.WorkSubdir)}
}

// Assemble 构造 Components 与 Settings（含按 provider 限额构造的 Gate）。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	opts, err := SSMLOptions(cfg)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}

	d := Defaults().Components
	rn := effName(cfg.Components.Reader, d.Reader)
	sn := effName(cfg.Components.Source, d.Source)
	wn := effName(cfg.Components.Writer, d.Writer)
	an := effName(cfg.Components.Assembler, d.Assembler)
	paths := PathsOf(cfg)

	rraw, err := withKey(cfg.Options.Reader, "skip_dirs", []string{paths.SSML, paths.Audio})
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("reader %s: %w", rn, err)
	}
	r, err := registry.Reader[rn](rraw)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("reader %s: %w", rn, err)
	}
	src, err := registry.Source[sn](cfg.Options.Source)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("source %s: %w", sn, err)
	}
	ssmlW, err := newWriter(wn, cfg.Options.Writer, paths.SSML)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	workW, err := newWriter(wn, cfg.Options.Writer, paths.Work)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	asm, err := registry.Assembler[an](cfg.Options.Assembler)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("assembler %s: %w", an, err)
	}
	prov := cfg.Provider[cfg.TTS]
	syn, err := registry.Synthesizer[prov.Client](prov.Options)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("synthesizer %s: %w", prov.Client, err)
	}

	comp := pipeline.Components{
		Reader:    r,
		Source:    src,
		SSML:      ssmlW,
		Work:      workW,
		Synth:     syn,
		Assembler: asm,
	}
	set := pipeline.Settings{
		SourceDir:   cfg.SourceDir,
		MasterDoc:   cfg.MasterDoc,
		Project:     cfg.Project,
		Copyright:   cfg.Copyright,
		SSML:        opts,
		AudioDir:    paths.Audio,
		Apply:       cfg.Audio.ApplyDocnames,
		VoiceID:     cfg.Audio.VoiceID,
		Ext:         strings.TrimPrefix(cfg.Audio.Extension, "."),
		Genre:       cfg.Audio.Genre,
		Verify:      cfg.Audio.Verify,
		Concurrency: cfg.Concurrency,
		MaxRetries:  cfg.MaxRetries,
		Gate:        rate.NewGate(rate.Limits{RPS: prov.Limits.RPS}, nil),
		TTSName:     cfg.TTS,
	}
	return comp, set, nil
}

// withKey 在原样 options 上覆盖单个键。
func withKey(raw json.RawMessage, key string, val any) (json.RawMessage, error) {
	m := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
	}
	if m == nil {
		// "null"
		m = map[string]any{}
	}
	m[key] = val
	return json.Marshal(m)
}

// newWriter 以 dir 覆盖 writer options 中的 output_dir。
func newWriter(name string, raw json.RawMessage, dir string) (contract.Writer, error) {
	b, err := withKey(raw, "output_dir", dir)
	if err != nil {
		return nil, fmt.Errorf("writer %s: %w", name, err)
	}
	w, err := registry.Writer[name](b)
	if err != nil {
		return nil, fmt.Errorf("writer %s: %w", name, err)
	}
	return w, nil
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
