// Package concat 以纯 Go 拼接 mp3 帧：去除各片段的 ID3 标签后顺序连接，末尾写入 ID3v1 标签。
// 不依赖外部工具；适用于无 ffmpeg 的环境。
package concat

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"ssmlaudio/internal/audio"
	"ssmlaudio/pkg/contract"
)

// Options: 可选配置。
type Options struct {
	// NoTag: 不写入 ID3v1 标签。
	NoTag bool `json:"no_tag"`
}

type Assembler struct{ noTag bool }

func New(raw json.RawMessage) (*Assembler, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("concat options: %w", err)
		}
	}
	return &Assembler{noTag: o.NoTag}, nil
}

// Concat 实现 contract.Assembler；输出经临时文件原子替换。
func (a *Assembler) Concat(ctx context.Context, req contract.ConcatRequest) (err error) {
	if len(req.Inputs) == 0 || req.Output == "" {
		return fmt.Errorf("concat: %w: empty inputs or output", contract.ErrInvalidInput)
	}
	out := req.Output
	if !filepath.IsAbs(out) {
		out = filepath.Join(req.WorkDir, out)
	}
	dir := filepath.Dir(out)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".concat-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	for _, in := range req.Inputs {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := os.ReadFile(filepath.Join(req.WorkDir, in))
		if err != nil {
			return err
		}
		frames, err := audio.StripTags(b)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", contract.ErrToolFailed, in, err)
		}
		if _, err := tmp.Write(frames); err != nil {
			return err
		}
	}
	if !a.noTag {
		if _, err := tmp.Write(audio.ID3v1(req.Meta)); err != nil {
			return err
		}
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), out)
}

var _ contract.Assembler = (*Assembler)(nil)
