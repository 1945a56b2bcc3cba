// Package assembly 将合成产物按 manifest 序列拼接为每个目标文档的音轨，并清理未引用产物。
package assembly

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"ssmlaudio/internal/cache"
	"ssmlaudio/internal/diag"
	"ssmlaudio/internal/synth"
	"ssmlaudio/pkg/contract"
)

// Settings: 音轨输出与标签配置。
type Settings struct {
	WorkDir string // 产物目录（绝对路径）
	OutDir  string // 音轨输出根目录
	Ext     string
	Album   string
	Author  string
	Genre   string
	Year    string
	Tracks  map[string]int
}

// Assembler 顺序处理目标；拼接工具与产物清理通过接口注入。
type Assembler struct {
	Tool     contract.Assembler
	Work     contract.Writer // 根为 WorkDir，用于清理
	Settings Settings
	Logger   *diag.Logger
	Terminal *diag.Terminal
}

// Result: 拼接与清理结果。
type Result struct {
	Built     []string
	Skipped   map[string]error // 缺少产物的目标
	Failed    map[string]error // 拼接工具失败的目标
	Evicted   []string
	EvictErrs map[string]error
}

// OK 表示没有目标失败或被跳过（清理错误不计）。
func (r Result) OK() bool { return len(r.Skipped) == 0 && len(r.Failed) == 0 }

// OutputPath: <OutDir>/<doc>.<ext>。
func (s Settings) OutputPath(doc string) string {
	return filepath.Join(s.OutDir, filepath.FromSlash(doc)+"."+ext(s.Ext))
}

// Run 拼接 plan 中的全部目标，随后清理 plan.ToEvict。
// failed 为本轮合成失败的 hash；引用这些 hash 或磁盘缺失产物的目标被跳过。
func (a *Assembler) Run(ctx context.Context, plan cache.Plan, failed map[string]error) Result {
	res := Result{Skipped: map[string]error{}, Failed: map[string]error{}, EvictErrs: map[string]error{}}
	for _, t := range plan.Targets {
		if err := ctx.Err(); err != nil {
			res.Failed[t.Doc] = err
			a.Terminal.Step(true)
			continue
		}
		if err := a.check(t, failed); err != nil {
			res.Skipped[t.Doc] = err
			if a.Logger != nil {
				a.Logger.Warn("assembly", string(diag.Classify(err)), err.Error(), t.Doc, "")
			}
			a.Terminal.Step(true)
			continue
		}
		if err := a.concat(ctx, t); err != nil {
			res.Failed[t.Doc] = err
			a.Terminal.Step(true)
			continue
		}
		res.Built = append(res.Built, t.Doc)
		a.Terminal.Step(false)
	}
	a.evict(ctx, plan.ToEvict, &res)
	return res
}

func (a *Assembler) check(t cache.Target, failed map[string]error) error {
	for _, h := range t.Sequence {
		if err, ok := failed[h]; ok {
			return fmt.Errorf("%w: %s failed: %v", contract.ErrArtifactMissing, h, err)
		}
		p := filepath.Join(a.Settings.WorkDir, synth.ArtifactName(h, ext(a.Settings.Ext)))
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %s", contract.ErrArtifactMissing, h)
		}
	}
	return nil
}

func (a *Assembler) concat(ctx context.Context, t cache.Target) error {
	inputs := make([]string, 0, len(t.Sequence))
	for _, h := range t.Sequence {
		inputs = append(inputs, synth.ArtifactName(h, ext(a.Settings.Ext)))
	}
	out := a.Settings.OutputPath(t.Doc)
	var tm *diag.Timer
	if a.Logger != nil {
		tm = a.Logger.StartWith("assembly", "concat", t.Doc, "")
	}
	start := time.Now()
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		a.fail(t.Doc, err, &start)
		return err
	}
	req := contract.ConcatRequest{
		WorkDir: a.Settings.WorkDir,
		Inputs:  inputs,
		Output:  out,
		Meta: contract.TrackMeta{
			Album:  a.Settings.Album,
			Author: a.Settings.Author,
			Title:  t.Title,
			Track:  a.Settings.Tracks[t.Doc],
			Genre:  a.Settings.Genre,
			Year:   a.Settings.Year,
		},
	}
	if err := a.Tool.Concat(ctx, req); err != nil {
		a.fail(t.Doc, err, &start)
		return fmt.Errorf("concat %s: %w", path.Base(out), err)
	}
	tm.Finish("concat", int64(len(inputs)))
	diag.IncOp("assembly", "finish", "success")
	diag.ObserveDuration("assembly", "concat", time.Since(start).Milliseconds())
	return nil
}

// evict 删除未引用产物；失败仅记录。
func (a *Assembler) evict(ctx context.Context, hashes []string, res *Result) {
	hs := append([]string(nil), hashes...)
	sort.Strings(hs)
	for _, h := range hs {
		name := synth.ArtifactName(h, ext(a.Settings.Ext))
		if err := a.Work.Remove(ctx, name); err != nil {
			res.EvictErrs[h] = err
			if a.Logger != nil {
				a.Logger.Warn("assembly", string(diag.Classify(err)), "evict failed: "+err.Error(), "", h)
			}
			continue
		}
		res.Evicted = append(res.Evicted, h)
	}
	if len(res.Evicted) > 0 && a.Logger != nil {
		a.Logger.Info("assembly", "evicted", map[string]string{"count": fmt.Sprintf("%d", len(res.Evicted))})
	}
}

func (a *Assembler) fail(doc string, err error, start *time.Time) {
	code := diag.Classify(err)
	if a.Logger != nil {
		a.Logger.ErrorWith("assembly", string(code), err.Error(), start, doc, "")
	}
	diag.IncOp("assembly", "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError("assembly", string(code))
	}
}

func ext(e string) string {
	if e == "" {
		return "mp3"
	}
	if e[0] == '.' {
		return e[1:]
	}
	return e
}
