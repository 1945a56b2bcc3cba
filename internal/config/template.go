package config

import "encoding/json"

// DefaultTemplateConfig 返回一个"可运行"的默认配置模板：
// - 使用 mock 合成与 concat 拼接（本地/离线调试不依赖外部服务与 ffmpeg）；
// - 列出全部内置 provider 及其选项键，值为空/默认；
// - 选项给出安全中性默认值。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := d
	cfg.Components.Assembler = "concat"
	cfg.Provider = map[string]Provider{
		"mock": {
			Client:  "mock",
			Options: json.RawMessage(`{"frames": 4, "response_mode": "silence"}`),
		},
		"google": {
			Client: "google",
			Options: json.RawMessage(`{
  "base_url": "",
  "api_key_env": "GOOGLE_TTS_API_KEY",
  "api_key": "",
  "language_code": "",
  "speaking_rate": 0,
  "timeout_seconds": 60,
  "extra_headers": {}
}`),
			Limits: Limits{RPS: 10, Burst: 1},
		},
		"openai": {
			Client: "openai",
			Options: json.RawMessage(`{
  "base_url": "",
  "model": "tts-1",
  "api_key_env": "OPENAI_API_KEY",
  "api_key": "",
  "speed": 0,
  "timeout_seconds": 60
}`),
			Limits: Limits{RPS: 1, Burst: 1},
		},
		"yandex": {
			Client: "yandex",
			Options: json.RawMessage(`{
  "endpoint": "",
  "api_key_env": "YANDEX_API_KEY",
  "api_key": "",
  "folder_id": "",
  "model": "general",
  "speed": 0
}`),
			Limits: Limits{RPS: 5, Burst: 1},
		},
	}
	// Options：包含所有键（值可为空/默认），确保键存在。
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "exclude_dir_names": ["_build", ".git", "node_modules"],
  "follow_symlinks": false
}`)
	// markdown/doctree 当前无配置项，保持空对象
	cfg.Options.Source = json.RawMessage(`{}`)
	// output_dir 由装配阶段按用途注入
	cfg.Options.Writer = json.RawMessage(`{
  "atomic": true,
  "buf_size": 65536
}`)
	cfg.Options.Assembler = json.RawMessage(`{"no_tag": false}`)
	return cfg
}

// EnvTemplate: init-config 写出的 .env 模板。
const EnvTemplate = `# ssmlaudio 环境变量（不覆盖已存在的进程环境）
# SSMLAUDIO_TTS=mock
# SSMLAUDIO_SOURCE_DIR=.
# SSMLAUDIO_OUT_DIR=_build/ssml
# SSMLAUDIO_APPLY_DOCNAMES=*
# SSMLAUDIO_VOICE_ID=Joanna
# SSMLAUDIO_CONCURRENCY=0
# SSMLAUDIO_MAX_RETRIES=2
# SSMLAUDIO_LOG_LEVEL=info
# SSMLAUDIO_PROVIDER__google__LIMITS_RPS=10
GOOGLE_TTS_API_KEY=
OPENAI_API_KEY=
YANDEX_API_KEY=
`
