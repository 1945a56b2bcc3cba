// Package synth 并发执行缺失产物的语音合成。
//
// 每个 hash 独立成败：单个失败不取消其余任务；每次尝试（含重试）先过共享闸门。
package synth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ssmlaudio/internal/audio"
	"ssmlaudio/internal/diag"
	"ssmlaudio/internal/rate"
	"ssmlaudio/pkg/contract"
)

// Task: 一个待合成的 hash 及其 chunk 文件名（相对 SSML 目录）。
type Task struct {
	Hash string
	File string
}

// Executor 持有合成所需的全部依赖；零值字段按默认处理。
type Executor struct {
	Synth     contract.Synthesizer
	Gate      rate.Gate
	Writer    contract.Writer // 产物写入（根为工作目录）
	ReadChunk func(file string) ([]byte, error)

	VoiceID  string
	TextType string
	Format   string
	Ext      string

	Concurrency int
	MaxRetries  int
	Backoff     time.Duration
	Verify      bool

	Logger   *diag.Logger
	Terminal *diag.Terminal
}

// Report: 合成结果。Done 已排序。
type Report struct {
	Done   []string
	Failed map[string]error
}

// Err 按 hash 排序合并失败原因；全部成功返回 nil。
func (r Report) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	keys := make([]string, 0, len(r.Failed))
	for h := range r.Failed {
		keys = append(keys, h)
	}
	sort.Strings(keys)
	errs := make([]error, 0, len(keys))
	for _, h := range keys {
		errs = append(errs, fmt.Errorf("synthesize %s: %w", h, r.Failed[h]))
	}
	return errors.Join(errs...)
}

// DefaultConcurrency: min(32, NumCPU+4)。
func DefaultConcurrency() int {
	n := runtime.NumCPU() + 4
	if n > 32 {
		n = 32
	}
	return n
}

// ArtifactName: <hash>.<ext>。
func ArtifactName(hash, ext string) string {
	return hash + "." + strings.TrimPrefix(ext, ".")
}

// Run 合成全部任务并等待完成。ctx 取消后未开始的任务记为失败。
func (e *Executor) Run(ctx context.Context, tasks []Task) Report {
	rep := Report{Failed: map[string]error{}}
	if len(tasks) == 0 {
		return rep
	}
	if e.Synth == nil || e.Writer == nil || e.ReadChunk == nil {
		for _, t := range tasks {
			rep.Failed[t.Hash] = fmt.Errorf("%w: executor not configured", contract.ErrInvalidInput)
		}
		return rep
	}
	gate := e.Gate
	if gate == nil {
		gate = rate.Unlimited()
	}
	conc := e.Concurrency
	if conc < 1 {
		conc = DefaultConcurrency()
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(conc)
	for _, t := range tasks {
		t := t
		if err := ctx.Err(); err != nil {
			mu.Lock()
			rep.Failed[t.Hash] = err
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			err := e.one(ctx, gate, t)
			mu.Lock()
			if err != nil {
				rep.Failed[t.Hash] = err
			} else {
				rep.Done = append(rep.Done, t.Hash)
			}
			mu.Unlock()
			e.Terminal.Step(err != nil)
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(rep.Done)
	return rep
}

func (e *Executor) one(ctx context.Context, gate rate.Gate, t Task) error {
	text, err := e.ReadChunk(t.File)
	if err != nil {
		e.fail(t, err, nil)
		return fmt.Errorf("read chunk %s: %w", t.File, err)
	}
	req := contract.SynthesisRequest{
		Text:         string(text),
		VoiceID:      e.VoiceID,
		TextType:     orDefault(e.TextType, "ssml"),
		OutputFormat: orDefault(e.Format, "mp3"),
	}
	attempts := e.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	backoff := e.Backoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := gate.Wait(ctx); err != nil {
			e.fail(t, err, nil)
			return err
		}
		var tm *diag.Timer
		if e.Logger != nil {
			tm = e.Logger.StartWithKV("synth", "synthesize", t.File, t.Hash, map[string]string{
				"attempt": fmt.Sprintf("%d", attempt+1),
			})
		}
		b, err := e.fetch(ctx, req)
		if err == nil {
			if err = e.Writer.Write(ctx, ArtifactName(t.Hash, orDefault(e.Ext, "mp3")), bytes.NewReader(b)); err != nil {
				err = fmt.Errorf("write artifact: %w", err)
				e.fail(t, err, nil)
				return err
			}
			tm.Finish("synthesize", int64(len(b)))
			diag.IncOp("synth", "finish", "success")
			return nil
		}
		lastErr = err
		e.fail(t, err, upstreamKV(err))
		if attempt+1 < attempts && shouldRetry(err) {
			if serr := sleepWithCtx(ctx, backoff*time.Duration(attempt+1)); serr != nil {
				return serr
			}
			continue
		}
		break
	}
	return lastErr
}

// fetch 调用上游并读取完整音频；空音频或校验失败视为协议错误。
func (e *Executor) fetch(ctx context.Context, req contract.SynthesisRequest) ([]byte, error) {
	rc, err := e.Synth.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty audio", contract.ErrResponseInvalid)
	}
	if e.Verify {
		if err := audio.Validate(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (e *Executor) fail(t Task, err error, kv map[string]string) {
	code := diag.Classify(err)
	if e.Logger != nil {
		e.Logger.ErrorWithKV("synth", string(code), err.Error(), nil, t.File, t.Hash, kv)
	}
	diag.IncOp("synth", "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError("synth", string(code))
	}
}

// shouldRetry: 限流、网络、上游 5xx 与无效响应重试；取消与其他错误不重试。
func shouldRetry(err error) bool {
	switch diag.Classify(err) {
	case diag.CodeRateLimit, diag.CodeNetwork, diag.CodeProtocol:
		return true
	case diag.CodeUpstream:
		var ue contract.UpstreamError
		if errors.As(err, &ue) {
			return ue.UpstreamStatus() >= 500
		}
	}
	return false
}

func upstreamKV(err error) map[string]string {
	var ue contract.UpstreamError
	if !errors.As(err, &ue) {
		return nil
	}
	kv := map[string]string{"status": fmt.Sprintf("%d", ue.UpstreamStatus())}
	if m := strings.TrimSpace(ue.UpstreamMessage()); m != "" {
		if len(m) > 200 {
			m = m[:200]
		}
		kv["upstream_msg"] = m
	}
	return kv
}

func orDefault(s, d string) string {
	if strings.TrimSpace(s) == "" {
		return d
	}
	return s
}

func sleepWithCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
