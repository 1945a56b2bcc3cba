// Package ffmpeg 调用外部 ffmpeg 以流拷贝方式拼接 mp3 片段并写入标签。
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"ssmlaudio/pkg/contract"
)

// Options: 可选配置。
type Options struct {
	// Binary: ffmpeg 可执行文件，默认从 PATH 查找 "ffmpeg"。
	Binary string `json:"binary"`
	// ExtraArgs: 追加在输出路径之前的参数（例如 "-loglevel error"）。
	ExtraArgs []string `json:"extra_args"`
}

type Assembler struct {
	bin   string
	extra []string
	run   func(*exec.Cmd) error
}

func New(raw json.RawMessage) (*Assembler, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("ffmpeg options: %w", err)
		}
	}
	if o.Binary == "" {
		o.Binary = "ffmpeg"
	}
	return &Assembler{bin: o.Binary, extra: o.ExtraArgs, run: func(c *exec.Cmd) error { return c.Run() }}, nil
}

// Args 构造参数列表（不含可执行文件名）。
func (a *Assembler) Args(req contract.ConcatRequest) []string {
	args := []string{"-y", "-i", "concat:" + strings.Join(req.Inputs, "|"), "-c", "copy",
		"-metadata", "album=" + req.Meta.Album,
		"-metadata", "author=" + req.Meta.Author,
		"-metadata", "title=" + req.Meta.Title,
		"-metadata", "track=" + strconv.Itoa(req.Meta.Track),
		"-metadata", "genre=" + req.Meta.Genre,
		"-metadata", "year=" + req.Meta.Year,
	}
	args = append(args, a.extra...)
	return append(args, req.Output)
}

// Concat 实现 contract.Assembler；工作目录为 req.WorkDir。
func (a *Assembler) Concat(ctx context.Context, req contract.ConcatRequest) error {
	if len(req.Inputs) == 0 || req.Output == "" {
		return fmt.Errorf("ffmpeg: %w: empty inputs or output", contract.ErrInvalidInput)
	}
	cmd := exec.CommandContext(ctx, a.bin, a.Args(req)...)
	cmd.Dir = req.WorkDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := a.run(cmd); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, ok := err.(*exec.ExitError); ok {
			return fmt.Errorf("%w: ffmpeg: %v: %s", contract.ErrToolFailed, err, tail(stderr.String(), 512))
		}
		return err
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

var _ contract.Assembler = (*Assembler)(nil)
