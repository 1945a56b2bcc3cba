// Package google 调用 Cloud Text-to-Speech REST 接口（text:synthesize）。
package google

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"ssmlaudio/pkg/contract"
)

// Options: 最小必需配置。
type Options struct {
	BaseURL        string            `json:"base_url"`        // 默认 https://texttospeech.googleapis.com/v1
	APIKeyEnv      string            `json:"api_key_env"`     // 优先从环境变量读取
	APIKey         string            `json:"api_key"`         // 明文传入（不推荐，按需用于测试）
	LanguageCode   string            `json:"language_code"`   // 为空时从 voice 名推断（如 en-US-Wavenet-D → en-US）
	SpeakingRate   float64           `json:"speaking_rate"`   // 0 表示服务端默认
	TimeoutSeconds int               `json:"timeout_seconds"` // client 级超时（秒）
	ExtraHeaders   map[string]string `json:"extra_headers"`
}

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = "https://texttospeech.googleapis.com/v1"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "GOOGLE_TTS_API_KEY"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
}

type Client struct {
	url    string
	apiKey string
	lang   string
	rate   float64
	extraH map[string]string
	do     func(*http.Request) (*http.Response, error)
}

// New 从原样 JSON 选项构造客户端。
func New(raw json.RawMessage) (*Client, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("google options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("google: %w: missing api key", contract.ErrInvalidInput)
	}
	hc := &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second}
	return &Client{
		url:    strings.TrimRight(opts.BaseURL, "/") + "/text:synthesize",
		apiKey: key,
		lang:   opts.LanguageCode,
		rate:   opts.SpeakingRate,
		extraH: opts.ExtraHeaders,
		do:     hc.Do,
	}, nil
}

type gInput struct {
	SSML string `json:"ssml,omitempty"`
	Text string `json:"text,omitempty"`
}
type gVoice struct {
	LanguageCode string `json:"languageCode"`
	Name         string `json:"name,omitempty"`
}
type gAudioConfig struct {
	AudioEncoding string  `json:"audioEncoding"`
	SpeakingRate  float64 `json:"speakingRate,omitempty"`
}
type gReq struct {
	Input       gInput       `json:"input"`
	Voice       gVoice       `json:"voice"`
	AudioConfig gAudioConfig `json:"audioConfig"`
}
type gResp struct {
	AudioContent string `json:"audioContent"`
}

// upstreamError 实现 net.Error 与 contract.UpstreamError。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("google upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

// languageOf: en-US-Wavenet-D → en-US。
func languageOf(voice string) string {
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) >= 2 {
		return parts[0] + "-" + parts[1]
	}
	return "en-US"
}

func encoding(format string) string {
	switch strings.ToLower(format) {
	case "ogg", "ogg_opus", "opus":
		return "OGG_OPUS"
	case "wav", "linear16", "pcm":
		return "LINEAR16"
	default:
		return "MP3"
	}
}

// Synthesize 实现 contract.Synthesizer。
func (c *Client) Synthesize(ctx context.Context, r contract.SynthesisRequest) (io.ReadCloser, error) {
	body := gReq{
		Voice:       gVoice{LanguageCode: c.lang, Name: r.VoiceID},
		AudioConfig: gAudioConfig{AudioEncoding: encoding(r.OutputFormat), SpeakingRate: c.rate},
	}
	if body.Voice.LanguageCode == "" {
		body.Voice.LanguageCode = languageOf(r.VoiceID)
	}
	if strings.EqualFold(r.TextType, "text") {
		body.Input.Text = r.Text
	} else {
		body.Input.SSML = r.Text
	}
	raw, err := json.Marshal(&body)
	if err != nil {
		return nil, fmt.Errorf("encode: %v: %w", err, contract.ErrInvalidInput)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("new request: %v: %w", err, contract.ErrInvalidInput)
	}
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.extraH {
		if k == "" {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := c.do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, contract.ErrRateLimited
	}
	if resp.StatusCode/100 != 2 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, upstreamError{status: resp.StatusCode, msg: strings.TrimSpace(string(slurp))}
	}
	var gr gResp
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("decode: %w", contract.ErrResponseInvalid)
	}
	audio, err := base64.StdEncoding.DecodeString(gr.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("audio content: %w", contract.ErrResponseInvalid)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: empty audio content", contract.ErrResponseInvalid)
	}
	return io.NopCloser(bytes.NewReader(audio)), nil
}

var _ contract.Synthesizer = (*Client)(nil)
