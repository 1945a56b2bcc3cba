package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON/YAML 使用 snake_case；未知字段在解析期失败。
type Config struct {
	SourceDir string `json:"source_dir"`
	OutDir    string `json:"out_dir"` // SSML chunk 与 manifest 输出目录
	MasterDoc string `json:"master_doc"`
	Project   string `json:"project"`
	Copyright string `json:"copyright"`

	// Concurrency: 合成并发度；0 表示 min(32, NumCPU+4)。
	Concurrency int `json:"concurrency"`
	// MaxRetries: 单个 hash 的最大重试次数（>=0）。0 表示不重试。
	MaxRetries int     `json:"max_retries"`
	Logging    Logging `json:"logging"`

	SSML  SSML  `json:"ssml"`
	Audio Audio `json:"audio"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// TTS Provider 选择与定义。
	TTS      string              `json:"tts"`
	Provider map[string]Provider `json:"provider"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
}

// SSML: 翻译器参数。
type SSML struct {
	Language                string          `json:"language"`
	SkipBlock               map[string]bool `json:"skip_block"`
	BreakAroundSectionTitle []int           `json:"break_around_section_title"`
	EmphasisSectionTitle    []string        `json:"emphasis_section_title"`
	// BreakAfterParagraph: 毫秒；nil 表示未设置，0 表示不插入。
	BreakAfterParagraph *int   `json:"break_after_paragraph"`
	ParagraphSpeed      string `json:"paragraph_speed"`
	ChunkThreshold      int    `json:"chunk_threshold"`
}

// Audio: 合成与音轨输出参数。
type Audio struct {
	OutputFolder  string `json:"output_folder"`
	ApplyDocnames string `json:"apply_docnames"` // fnmatch 模式；空串不生成任何音轨
	VoiceID       string `json:"voice_id"`
	Extension     string `json:"extension"`
	Genre         string `json:"genre"`
	Verify        bool   `json:"verify"`
	WorkSubdir    string `json:"work_subdir"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader    string `json:"reader"`
	Source    string `json:"source"`
	Writer    string `json:"writer"`
	Assembler string `json:"assembler"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader    json.RawMessage `json:"reader"`
	Source    json.RawMessage `json:"source"`
	Writer    json.RawMessage `json:"writer"`
	Assembler json.RawMessage `json:"assembler"`
}

// Provider: 命名 provider 定义（client 实现 + options + 限额）。
type Provider struct {
	Client  string          `json:"client"`
	Options json.RawMessage `json:"options"`
	Limits  Limits          `json:"limits"`
}

// Limits: 限流配置（仅承载；执行位于 rate.Gate）。Burst 仅接受 0 或 1。
type Limits struct {
	RPS   float64 `json:"rps"`
	Burst int     `json:"burst"`
}
