package flaky

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"sync/atomic"

	"ssmlaudio/internal/audio"
	"ssmlaudio/pkg/contract"
)

// Options 定义可选项。
type Options struct {
	// FailFirst: 前 N 次调用返回 ErrRateLimited，默认 1。
	FailFirst int `json:"fail_first"`
	// LogPath: 调试用日志文件，记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
}

// Client 是带状态的合成器：前 FailFirst 次调用限流，之后返回静音 mp3。
type Client struct {
	failFirst int32
	logPath   string
	count     atomic.Int32
}

func New(raw json.RawMessage) (*Client, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, err
		}
	}
	if o.FailFirst <= 0 {
		o.FailFirst = 1
	}
	return &Client{failFirst: int32(o.FailFirst), logPath: o.LogPath}, nil
}

func (c *Client) log(s string) {
	if c.logPath == "" {
		return
	}
	// 追加写入，忽略错误。
	_ = appendFile(c.logPath, s+"\n")
}

func appendFile(path, s string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s)
	return err
}

// Synthesize 实现 contract.Synthesizer。
func (c *Client) Synthesize(ctx context.Context, req contract.SynthesisRequest) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.count.Add(1) <= c.failFirst {
		c.log("rate_limited")
		return nil, contract.ErrRateLimited
	}
	c.log("ok")
	return io.NopCloser(bytes.NewReader(audio.Silence(2))), nil
}

var _ contract.Synthesizer = (*Client)(nil)
