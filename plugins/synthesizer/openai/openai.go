// Package openai 通过 OpenAI 语音接口（/audio/speech）合成。
// 该接口不接受 SSML：请求前将标记还原为纯文本。
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"ssmlaudio/internal/ssml"
	"ssmlaudio/pkg/contract"
)

// Options: 最小必需配置。
type Options struct {
	BaseURL        string  `json:"base_url"`        // 例如 https://api.openai.com/v1
	Model          string  `json:"model"`           // 默认 tts-1
	APIKeyEnv      string  `json:"api_key_env"`     // 优先从环境变量读取
	APIKey         string  `json:"api_key"`         // 明文传入（不推荐，按需用于测试）
	Speed          float64 `json:"speed"`           // 0.25..4，0 表示默认
	TimeoutSeconds int     `json:"timeout_seconds"` // client 级超时（秒）
}

func (o *Options) defaults() {
	if o.Model == "" {
		o.Model = string(goopenai.TTSModel1)
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "OPENAI_API_KEY"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
}

type Client struct {
	api   *goopenai.Client
	model string
	speed float64
}

// New 从原样 JSON 选项构造客户端。
func New(raw json.RawMessage) (*Client, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("openai options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("openai: %w: missing api key", contract.ErrInvalidInput)
	}
	cfg := goopenai.DefaultConfig(key)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second}
	return &Client{api: goopenai.NewClientWithConfig(cfg), model: opts.Model, speed: opts.Speed}, nil
}

// upstreamError 实现 net.Error 与 contract.UpstreamError。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("openai upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

func format(f string) goopenai.SpeechResponseFormat {
	switch strings.ToLower(f) {
	case "opus", "ogg":
		return goopenai.SpeechResponseFormatOpus
	case "aac":
		return goopenai.SpeechResponseFormatAac
	case "flac":
		return goopenai.SpeechResponseFormatFlac
	default:
		return goopenai.SpeechResponseFormatMp3
	}
}

// Synthesize 实现 contract.Synthesizer。
func (c *Client) Synthesize(ctx context.Context, r contract.SynthesisRequest) (io.ReadCloser, error) {
	input := r.Text
	if !strings.EqualFold(r.TextType, "text") {
		input = ssml.PlainText(input)
	}
	if input == "" {
		return nil, fmt.Errorf("openai: %w: empty input", contract.ErrInvalidInput)
	}
	voice := r.VoiceID
	if voice == "" {
		voice = string(goopenai.VoiceAlloy)
	}
	resp, err := c.api.CreateSpeech(ctx, goopenai.CreateSpeechRequest{
		Model:          goopenai.SpeechModel(c.model),
		Input:          input,
		Voice:          goopenai.SpeechVoice(voice),
		ResponseFormat: format(r.OutputFormat),
		Speed:          c.speed,
	})
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return resp, nil
}

func mapError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	status, msg := 0, ""
	var ae *goopenai.APIError
	var re *goopenai.RequestError
	switch {
	case errors.As(err, &ae):
		status, msg = ae.HTTPStatusCode, ae.Message
	case errors.As(err, &re):
		status, msg = re.HTTPStatusCode, re.Error()
	default:
		return err
	}
	if status == http.StatusTooManyRequests {
		return fmt.Errorf("openai: %s: %w", msg, contract.ErrRateLimited)
	}
	return upstreamError{status: status, msg: msg}
}

var _ contract.Synthesizer = (*Client)(nil)
