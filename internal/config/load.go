package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix: 环境变量前缀。
const EnvPrefix = "SSMLAUDIO_"

// DefaultFiles: 未显式指定时按顺序查找的配置文件名。
var DefaultFiles = []string{"ssmlaudio.json", "ssmlaudio.yaml", "ssmlaudio.yml"}

// Defaults 返回带有安全默认值的 Config 雏形。
func Defaults() Config {
	pause := 1000
	return Config{
		SourceDir:  ".",
		OutDir:     filepath.Join("_build", "ssml"),
		MasterDoc:  "index",
		MaxRetries: 2,
		TTS:        "mock",
		Logging:    Logging{Level: "info"},
		SSML: SSML{
			Language:                "en-US",
			SkipBlock:               map[string]bool{"comment": true, "table": true, "codeblock": true},
			BreakAroundSectionTitle: []int{2000, 1600, 1000, 1000, 1000, 1000},
			EmphasisSectionTitle:    []string{"none", "none", "none", "none", "none", "none"},
			BreakAfterParagraph:     &pause,
			ParagraphSpeed:          "default",
			ChunkThreshold:          900,
		},
		Audio: Audio{
			OutputFolder: "polly",
			VoiceID:      "Joanna",
			Extension:    "mp3",
			Genre:        "Audio Book",
			WorkSubdir:   "_temp",
		},
		Components: Components{
			Reader:    "fs",
			Source:    "markdown",
			Writer:    "fs",
			Assembler: "ffmpeg",
		},
		Provider: map[string]Provider{
			"mock": {Client: "mock"},
		},
	}
}

// FindFile 在 dir 中查找默认配置文件；不存在返回空串。
func FindFile(dir string) string {
	for _, name := range DefaultFiles {
		p := filepath.Join(dir, name)
		if st, err := os.Stat(p); err == nil && st.Mode().IsRegular() {
			return p
		}
	}
	return ""
}

// Load 按扩展名选择 JSON 或 YAML 解析。
func Load(path string) (Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(path, nil)
	default:
		return LoadJSON(path, nil)
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
// 缺省的 max_retries 解析为 -1（未设置），由 Merge 保留下层值。
func LoadJSON(path string, raw []byte) (Config, error) {
	cfg := Config{MaxRetries: -1}
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LoadYAML 解析 YAML：先解为通用结构，再转 JSON 走同一严格解码。
func LoadYAML(path string, raw []byte) (Config, error) {
	if len(raw) == 0 {
		if path == "" {
			return Config{}, errors.New("no config source provided")
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		raw = b
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return Config{}, fmt.Errorf("config: yaml: %w", err)
	}
	if tree == nil {
		tree = map[string]any{}
	}
	js, err := json.Marshal(tree)
	if err != nil {
		return Config{}, fmt.Errorf("config: yaml: %w", err)
	}
	return LoadJSON("", js)
}

// Merge 按优先级合并（后者覆盖前者）。
// 标量/字符串/原样 JSON 为"替换"；SkipBlock 与 Provider 按键合并。
func Merge(base, over Config) Config {
	out := base
	setStr(&out.SourceDir, over.SourceDir)
	setStr(&out.OutDir, over.OutDir)
	setStr(&out.MasterDoc, over.MasterDoc)
	setStr(&out.Project, over.Project)
	setStr(&out.Copyright, over.Copyright)
	setStr(&out.TTS, over.TTS)
	if over.Concurrency != 0 {
		out.Concurrency = over.Concurrency
	}
	// MaxRetries 的 0 具有语义（禁用重试）；约定 <0 视为未覆盖。
	if over.MaxRetries >= 0 {
		out.MaxRetries = over.MaxRetries
	}
	setStr(&out.Logging.Level, over.Logging.Level)

	// SSML
	setStr(&out.SSML.Language, over.SSML.Language)
	if len(over.SSML.SkipBlock) > 0 {
		m := make(map[string]bool, len(out.SSML.SkipBlock)+len(over.SSML.SkipBlock))
		for k, v := range out.SSML.SkipBlock {
			m[k] = v
		}
		for k, v := range over.SSML.SkipBlock {
			m[k] = v
		}
		out.SSML.SkipBlock = m
	}
	if len(over.SSML.BreakAroundSectionTitle) > 0 {
		out.SSML.BreakAroundSectionTitle = append([]int(nil), over.SSML.BreakAroundSectionTitle...)
	}
	if len(over.SSML.EmphasisSectionTitle) > 0 {
		out.SSML.EmphasisSectionTitle = cloneStrings(over.SSML.EmphasisSectionTitle)
	}
	if over.SSML.BreakAfterParagraph != nil {
		v := *over.SSML.BreakAfterParagraph
		out.SSML.BreakAfterParagraph = &v
	}
	setStr(&out.SSML.ParagraphSpeed, over.SSML.ParagraphSpeed)
	if over.SSML.ChunkThreshold != 0 {
		out.SSML.ChunkThreshold = over.SSML.ChunkThreshold
	}

	// Audio
	setStr(&out.Audio.OutputFolder, over.Audio.OutputFolder)
	setStr(&out.Audio.ApplyDocnames, over.Audio.ApplyDocnames)
	setStr(&out.Audio.VoiceID, over.Audio.VoiceID)
	setStr(&out.Audio.Extension, over.Audio.Extension)
	setStr(&out.Audio.Genre, over.Audio.Genre)
	setStr(&out.Audio.WorkSubdir, over.Audio.WorkSubdir)
	if over.Audio.Verify {
		out.Audio.Verify = true
	}

	// 组件名（空不覆盖）
	setStr(&out.Components.Reader, over.Components.Reader)
	setStr(&out.Components.Source, over.Components.Source)
	setStr(&out.Components.Writer, over.Components.Writer)
	setStr(&out.Components.Assembler, over.Components.Assembler)

	// Provider（按键合并；同名字段非零者覆盖）
	if len(over.Provider) > 0 {
		m := make(map[string]Provider, len(out.Provider)+len(over.Provider))
		for k, v := range out.Provider {
			m[k] = v
		}
		for k, v := range over.Provider {
			m[k] = mergeProvider(m[k], v)
		}
		out.Provider = m
	}

	// Options（完整替换对应键）
	if len(over.Options.Reader) > 0 {
		out.Options.Reader = cloneRaw(over.Options.Reader)
	}
	if len(over.Options.Source) > 0 {
		out.Options.Source = cloneRaw(over.Options.Source)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}
	if len(over.Options.Assembler) > 0 {
		out.Options.Assembler = cloneRaw(over.Options.Assembler)
	}
	return out
}

func mergeProvider(base, over Provider) Provider {
	out := base
	setStr(&out.Client, over.Client)
	if len(over.Options) > 0 {
		out.Options = cloneRaw(over.Options)
	}
	if over.Limits.RPS != 0 {
		out.Limits.RPS = over.Limits.RPS
	}
	if over.Limits.Burst != 0 {
		out.Limits.Burst = over.Limits.Burst
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 SSMLAUDIO_；集合之外的键忽略；数值解析失败返回错误。
// 支持：SOURCE_DIR, OUT_DIR, MASTER_DOC, PROJECT, COPYRIGHT, TTS, CONCURRENCY, MAX_RETRIES,
// APPLY_DOCNAMES, VOICE_ID, OUTPUT_FOLDER, LANGUAGE, LOG_LEVEL, COMPONENTS_*
// 以及 PROVIDER__<name>__CLIENT / PROVIDER__<name>__LIMITS_{RPS,BURST} / PROVIDER__<name>__OPTIONS_JSON
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	// -1 表示未设置，以便 Merge 能区分"未覆盖"和"显式设置为 0"。
	over.MaxRetries = -1
	prov := map[string]Provider{}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		nk := strings.TrimPrefix(kv[:eq], EnvPrefix)
		val := strings.TrimSpace(kv[eq+1:])
		switch nk {
		case "SOURCE_DIR":
			over.SourceDir = val
		case "OUT_DIR":
			over.OutDir = val
		case "MASTER_DOC":
			over.MasterDoc = val
		case "PROJECT":
			over.Project = val
		case "COPYRIGHT":
			over.Copyright = val
		case "TTS":
			over.TTS = val
		case "CONCURRENCY":
			v, err := atoi(val)
			if err != nil {
				return over, fmt.Errorf("config: %s: %w", kv[:eq], err)
			}
			over.Concurrency = v
		case "MAX_RETRIES":
			v, err := atoi(val)
			if err != nil {
				return over, fmt.Errorf("config: %s: %w", kv[:eq], err)
			}
			over.MaxRetries = v
		case "APPLY_DOCNAMES":
			over.Audio.ApplyDocnames = val
		case "VOICE_ID":
			over.Audio.VoiceID = val
		case "OUTPUT_FOLDER":
			over.Audio.OutputFolder = val
		case "LANGUAGE":
			over.SSML.Language = val
		case "LOG_LEVEL":
			over.Logging.Level = val
		case "COMPONENTS_READER":
			over.Components.Reader = val
		case "COMPONENTS_SOURCE":
			over.Components.Source = val
		case "COMPONENTS_WRITER":
			over.Components.Writer = val
		case "COMPONENTS_ASSEMBLER":
			over.Components.Assembler = val
		default:
			// provider.* 路径：PROVIDER__name__FOO
			if !strings.HasPrefix(nk, "PROVIDER__") {
				continue
			}
			parts := strings.Split(nk, "__")
			if len(parts) < 3 || strings.TrimSpace(parts[1]) == "" {
				continue
			}
			name := strings.TrimSpace(parts[1])
			p := prov[name]
			changed := false
			switch strings.Join(parts[2:], "__") {
			case "CLIENT":
				if val != "" {
					p.Client = val
					changed = true
				}
			case "LIMITS_RPS":
				v, err := strconv.ParseFloat(val, 64)
				if err != nil {
					return over, fmt.Errorf("config: %s: %w", kv[:eq], err)
				}
				p.Limits.RPS = v
				changed = true
			case "LIMITS_BURST":
				v, err := atoi(val)
				if err != nil {
					return over, fmt.Errorf("config: %s: %w", kv[:eq], err)
				}
				p.Limits.Burst = v
				changed = true
			case "OPTIONS_JSON":
				// 空值视为未设置，避免清空现有配置
				if val != "" {
					if !json.Valid([]byte(val)) {
						return over, fmt.Errorf("config: %s: invalid json", kv[:eq])
					}
					p.Options = json.RawMessage(val)
					changed = true
				}
			}
			if changed {
				prov[name] = p
			}
		}
	}
	if len(prov) > 0 {
		over.Provider = prov
	}
	return over, nil
}

func setStr(dst *string, v string) {
	if t := strings.TrimSpace(v); t != "" {
		*dst = t
	}
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
