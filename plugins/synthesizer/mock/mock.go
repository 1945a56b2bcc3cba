package mock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"ssmlaudio/internal/audio"
	"ssmlaudio/pkg/contract"
)

// Options: 离线调试配置（可选）。
type Options struct {
	// Frames: 每次返回的静音帧数，默认 4。
	Frames int `json:"frames"`
	// ResponseMode: 响应模式。
	//  - "" / "silence": 返回可解码的静音 mp3；
	//  - "echo": 返回请求文本字节（不可解码，仅用于检查请求内容）；
	//  - "empty": 返回空音频。
	ResponseMode string `json:"response_mode,omitempty"`
}

// Client: 确定性的本地合成器，记录请求次数与文本。
type Client struct {
	frames int
	mode   string
	calls  atomic.Int64

	mu    sync.Mutex
	texts []string
}

func New(raw json.RawMessage) (*Client, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("mock options: %w", err)
		}
	}
	if o.Frames <= 0 {
		o.Frames = 4
	}
	mode := strings.TrimSpace(o.ResponseMode)
	if mode == "" {
		mode = "silence"
	}
	switch mode {
	case "silence", "echo", "empty":
	default:
		return nil, fmt.Errorf("mock: %w: response_mode %q", contract.ErrInvalidInput, mode)
	}
	return &Client{frames: o.Frames, mode: mode}, nil
}

// Synthesize 实现 contract.Synthesizer。
func (c *Client) Synthesize(ctx context.Context, req contract.SynthesisRequest) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.calls.Add(1)
	c.mu.Lock()
	c.texts = append(c.texts, req.Text)
	c.mu.Unlock()
	switch c.mode {
	case "echo":
		return io.NopCloser(strings.NewReader(req.Text)), nil
	case "empty":
		return io.NopCloser(bytes.NewReader(nil)), nil
	default:
		return io.NopCloser(bytes.NewReader(audio.Silence(c.frames))), nil
	}
}

// Calls 返回累计调用次数。
func (c *Client) Calls() int { return int(c.calls.Load()) }

// Texts 返回收到的请求文本副本（按调用顺序）。
func (c *Client) Texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

var _ contract.Synthesizer = (*Client)(nil)
