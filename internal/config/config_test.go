package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"ssmlaudio/internal/pipeline"
	"ssmlaudio/internal/ssml"
	"ssmlaudio/pkg/contract"
)

// 解析完整 JSON 配置并与默认值合并
func TestLoadJSON(t *testing.T) {
	cfg, err := LoadJSON("../../testdata/config/basic.json", nil)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.TTS != "google" || cfg.Components.Assembler != "concat" {
		t.Fatalf("字段映射错误: %+v", cfg)
	}
	if cfg.MaxRetries != -1 {
		t.Fatalf("缺省 max_retries 应为未设置(-1)，实得 %d", cfg.MaxRetries)
	}
	m := Merge(Defaults(), cfg)
	if m.MaxRetries != 2 {
		t.Fatalf("未设置时应保留默认重试次数，实得 %d", m.MaxRetries)
	}
	if m.SSML.Language != "en-GB" || m.SSML.ChunkThreshold != 600 {
		t.Fatalf("SSML 覆盖错误: %+v", m.SSML)
	}
	if m.SSML.BreakAfterParagraph == nil || *m.SSML.BreakAfterParagraph != 0 {
		t.Fatalf("显式 0 应覆盖默认停顿")
	}
	if m.SSML.SkipBlock["table"] || !m.SSML.SkipBlock["comment"] {
		t.Fatalf("skip_block 应按键合并: %v", m.SSML.SkipBlock)
	}
	if m.Audio.VoiceID != "en-GB-Wavenet-B" || m.Audio.OutputFolder != "polly" {
		t.Fatalf("audio 合并错误: %+v", m.Audio)
	}
	if _, ok := m.Provider["mock"]; !ok {
		t.Fatalf("默认 provider 应保留")
	}
	if err := Validate(m); err != nil {
		t.Fatalf("校验失败: %v", err)
	}
}

// YAML 与 JSON 走同一严格解码
func TestLoadYAML(t *testing.T) {
	cfg, err := Load("../../testdata/config/basic.yaml")
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.MasterDoc != "contents" || cfg.MaxRetries != 0 || !cfg.Audio.Verify {
		t.Fatalf("字段映射错误: %+v", cfg)
	}
	p := cfg.Provider["mock"]
	if p.Limits.RPS != 2.5 || p.Limits.Burst != 1 || string(p.Options) != `{"frames":2}` {
		t.Fatalf("provider 映射错误: %+v (%s)", p, p.Options)
	}
	m := Merge(Defaults(), cfg)
	if m.MaxRetries != 0 {
		t.Fatalf("显式 0 应覆盖默认重试次数")
	}
	if err := Validate(m); err != nil {
		t.Fatalf("校验失败: %v", err)
	}
	if _, err := LoadYAML("", []byte("ssml:\n  bogus: 1\n")); err == nil {
		t.Fatal("YAML 未知字段应失败")
	}
	if _, err := LoadYAML("", []byte("a: [\n")); err == nil {
		t.Fatal("非法 YAML 应失败")
	}
}

// 含非法字段
func TestLoadJSONUnknown(t *testing.T) {
	if _, err := LoadJSON("", []byte(`{"unknown":1}`)); err == nil {
		t.Fatalf("应当返回错误")
	}
	if _, err := LoadJSON("", nil); err == nil {
		t.Fatalf("无来源应当返回错误")
	}
}

func TestFindFile(t *testing.T) {
	dir := t.TempDir()
	if got := FindFile(dir); got != "" {
		t.Fatalf("空目录应返回空串，实得 %q", got)
	}
	p := filepath.Join(dir, "ssmlaudio.yaml")
	if err := os.WriteFile(p, []byte("tts: mock\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := FindFile(dir); got != p {
		t.Fatalf("期望 %q 实得 %q", p, got)
	}
	j := filepath.Join(dir, "ssmlaudio.json")
	if err := os.WriteFile(j, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := FindFile(dir); got != j {
		t.Fatalf("JSON 优先，实得 %q", got)
	}
}

// ENV 覆盖部分字段
func TestEnvOverlay(t *testing.T) {
	env := []string{
		"SSMLAUDIO_SOURCE_DIR=docs",
		"SSMLAUDIO_CONCURRENCY=3",
		"SSMLAUDIO_TTS=openai",
		"SSMLAUDIO_APPLY_DOCNAMES=*",
		"SSMLAUDIO_COMPONENTS_ASSEMBLER=concat",
		"SSMLAUDIO_PROVIDER__openai__CLIENT=openai",
		"SSMLAUDIO_PROVIDER__openai__LIMITS_RPS=0.5",
		`SSMLAUDIO_PROVIDER__openai__OPTIONS_JSON={"api_key":"x"}`,
		"SSMLAUDIO_PROVIDER__mock__CLIENT=",
		"OTHER_TTS=ignored",
	}
	over, err := EnvOverlay(env)
	if err != nil {
		t.Fatalf("EnvOverlay 错误: %v", err)
	}
	if over.TTS != "openai" || over.Concurrency != 3 || over.SourceDir != "docs" || over.Audio.ApplyDocnames != "*" {
		t.Fatalf("覆盖结果不正确: %+v", over)
	}
	if over.MaxRetries != -1 {
		t.Fatalf("未设置 MAX_RETRIES 应为 -1")
	}
	p := over.Provider["openai"]
	if p.Client != "openai" || p.Limits.RPS != 0.5 || string(p.Options) != `{"api_key":"x"}` {
		t.Fatalf("provider 覆盖错误: %+v", p)
	}
	if _, ok := over.Provider["mock"]; ok {
		t.Fatalf("空值不应产生 provider 覆盖")
	}

	m := Merge(Defaults(), over)
	if m.Components.Assembler != "concat" || m.Provider["mock"].Client != "mock" {
		t.Fatalf("合并错误: %+v", m)
	}
}

func TestEnvOverlayInvalid(t *testing.T) {
	for _, kv := range []string{
		"SSMLAUDIO_CONCURRENCY=many",
		"SSMLAUDIO_MAX_RETRIES=x",
		"SSMLAUDIO_PROVIDER__g__LIMITS_RPS=fast",
		"SSMLAUDIO_PROVIDER__g__OPTIONS_JSON={bad",
	} {
		if _, err := EnvOverlay([]string{kv}); err == nil {
			t.Fatalf("%s 应失败", kv)
		}
	}
}

func TestMergeProviderFields(t *testing.T) {
	base := Defaults()
	base.Provider["google"] = Provider{Client: "google", Options: []byte(`{"api_key":"a"}`), Limits: Limits{RPS: 10}}
	over := Config{MaxRetries: -1, Provider: map[string]Provider{"google": {Limits: Limits{Burst: 1}}}}
	m := Merge(base, over)
	g := m.Provider["google"]
	if g.Client != "google" || g.Limits.RPS != 10 || g.Limits.Burst != 1 || string(g.Options) != `{"api_key":"a"}` {
		t.Fatalf("provider 字段合并错误: %+v", g)
	}
	if _, ok := base.Provider["google"]; !ok {
		t.Fatal("base 不应被修改")
	}
}

// 补充覆盖: Defaults 与 cloneRaw
func TestDefaultsClone(t *testing.T) {
	d := Defaults()
	if d.Components.Reader != "fs" || d.Audio.WorkSubdir != "_temp" || d.SSML.ChunkThreshold != 900 {
		t.Fatalf("默认值错误: %+v", d)
	}
	if err := Validate(d); err != nil {
		t.Fatalf("默认配置应通过校验: %v", err)
	}
	src := []byte("abc")
	dst := cloneRaw(src)
	src[0] = 'x'
	if string(dst) != "abc" {
		t.Fatalf("cloneRaw 未复制")
	}
}

// Validate 错误分支
func TestValidateErrors(t *testing.T) {
	if err := Validate(Config{}); err == nil {
		t.Fatal("空配置应失败")
	}
	cases := map[string]func(*Config){
		"language":     func(c *Config) { c.SSML.Language = " " },
		"breaks empty": func(c *Config) { c.SSML.BreakAroundSectionTitle = nil },
		"breaks neg":   func(c *Config) { c.SSML.BreakAroundSectionTitle = []int{100, -1} },
		"emphasis":     func(c *Config) { c.SSML.EmphasisSectionTitle = nil },
		"speed":        func(c *Config) { c.SSML.ParagraphSpeed = "" },
		"threshold":    func(c *Config) { c.SSML.ChunkThreshold = 0 },
		"pause":        func(c *Config) { n := -5; c.SSML.BreakAfterParagraph = &n },
		"skip block":   func(c *Config) { c.SSML.SkipBlock = map[string]bool{"figure": true} },
		"output":       func(c *Config) { c.Audio.OutputFolder = "" },
		"work abs":     func(c *Config) { c.Audio.WorkSubdir = "/tmp/x" },
		"extension":    func(c *Config) { c.Audio.Extension = "." },
		"provider":     func(c *Config) { c.TTS = "polly" },
		"client":       func(c *Config) { c.Provider["mock"] = Provider{} },
		"client reg":   func(c *Config) { c.Provider["mock"] = Provider{Client: "polly"} },
		"rps":          func(c *Config) { c.Provider["mock"] = Provider{Client: "mock", Limits: Limits{RPS: -1}} },
		"burst":        func(c *Config) { c.Provider["mock"] = Provider{Client: "mock", Limits: Limits{RPS: 2, Burst: 2}} },
		"source":       func(c *Config) { c.Components.Source = "rst" },
		"assembler":    func(c *Config) { c.Components.Assembler = "sox" },
		"retries":      func(c *Config) { c.MaxRetries = -1 },
		"concurrency":  func(c *Config) { c.Concurrency = -2 },
		"master":       func(c *Config) { c.MasterDoc = "" },
	}
	for name, mut := range cases {
		cfg := Defaults()
		mut(&cfg)
		err := Validate(cfg)
		if err == nil {
			t.Fatalf("%s: 应失败", name)
		}
		if !errors.Is(err, contract.ErrInvalidInput) {
			t.Fatalf("%s: 应包装 ErrInvalidInput: %v", name, err)
		}
	}
}

func TestSSMLOptions(t *testing.T) {
	cfg := Defaults()
	cfg.SSML.SkipBlock = map[string]bool{"table": false, "codeblock": true}
	opts, err := SSMLOptions(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if opts.SkipBlock[ssml.RegionTable] || !opts.SkipBlock[ssml.RegionCodeBlock] {
		t.Fatalf("skip_block 转换错误: %v", opts.SkipBlock)
	}
	if opts.BreakAfterParagraph != 1000 || opts.Threshold != 900 || opts.Language != "en-US" {
		t.Fatalf("选项转换错误: %+v", opts)
	}
	cfg.SSML.BreakAfterParagraph = nil
	opts, err = SSMLOptions(cfg)
	if err != nil || opts.BreakAfterParagraph != 0 {
		t.Fatalf("nil 停顿应为 0: %+v %v", opts, err)
	}
}

func TestAssemble(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultTemplateConfig()
	cfg.SourceDir = dir
	cfg.OutDir = filepath.Join(dir, "_build", "ssml")
	cfg.Audio.OutputFolder = filepath.Join(dir, "polly")
	cfg.Audio.ApplyDocnames = "*"
	cfg.Concurrency = 3
	cfg.Provider["mock"] = Provider{Client: "mock", Limits: Limits{RPS: 20}}

	comp, set, err := Assemble(cfg)
	if err != nil {
		t.Fatalf("装配失败: %v", err)
	}
	if comp.Reader == nil || comp.Source == nil || comp.Synth == nil || comp.Assembler == nil {
		t.Fatalf("组件缺失: %+v", comp)
	}
	if comp.SSML.Root() != cfg.OutDir {
		t.Fatalf("SSML 根目录错误: %s", comp.SSML.Root())
	}
	if comp.Work.Root() != filepath.Join(dir, "polly", "_temp") {
		t.Fatalf("工作目录错误: %s", comp.Work.Root())
	}
	if set.AudioDir != cfg.Audio.OutputFolder || set.Apply != "*" || set.Concurrency != 3 || set.Ext != "mp3" {
		t.Fatalf("Settings 错误: %+v", set)
	}
	if set.Gate == nil || set.TTSName != "mock" || set.Until != pipeline.PhaseAll {
		t.Fatalf("Gate/TTS 未设置: %+v", set)
	}
	if !set.Gate.Try() {
		t.Fatal("首个时间槽应立即可用")
	}
	if set.Gate.Try() {
		t.Fatal("20rps 下紧接的第二次应被节流")
	}
}

func TestAssembleRejectsBadOptions(t *testing.T) {
	cfg := Defaults()
	cfg.Options.Reader = []byte(`{"bogus":true}`)
	if _, _, err := Assemble(cfg); err == nil {
		t.Fatal("reader 未知选项应失败")
	}
	cfg = Defaults()
	cfg.Options.Writer = []byte(`[1]`)
	if _, _, err := Assemble(cfg); err == nil {
		t.Fatal("writer 非对象选项应失败")
	}
	cfg = Defaults()
	cfg.TTS = "google"
	cfg.Provider["google"] = Provider{Client: "google", Options: []byte(`{"api_key_env":"SSMLAUDIO_TEST_UNSET_KEY"}`)}
	if _, _, err := Assemble(cfg); err == nil {
		t.Fatal("缺少 api key 应失败")
	}
}

func TestTemplateValid(t *testing.T) {
	cfg := DefaultTemplateConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("模板应通过校验: %v", err)
	}
	for _, name := range []string{"mock", "google", "openai", "yandex"} {
		if cfg.Provider[name].Client != name {
			t.Fatalf("模板缺少 provider %s", name)
		}
	}
	if cfg.Components.Assembler != "concat" {
		t.Fatalf("模板应使用 concat 拼接")
	}
}
