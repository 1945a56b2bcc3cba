package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// 日志文件名：当前文件 ssmlaudio.jsonl，历史文件 ssmlaudio.<n>.jsonl（n 越大越旧）。
const (
	logBase = "ssmlaudio"
	logExt  = ".jsonl"
)

// RotateOptions: 轮转策略。零值字段使用默认值。
type RotateOptions struct {
	MaxBytes int64 // 单文件上限；默认 10MiB
	Keep     int   // 保留的历史文件数；默认 5
}

// RotatingFile 以 JSON Lines 追加日志；超过 MaxBytes 时逐级后移历史文件，
// 超出 Keep 的最旧文件被删除。
type RotatingFile struct {
	dir  string
	opts RotateOptions

	mu   sync.Mutex
	f    *os.File
	size int64
}

func NewRotatingFile(dir string, opts RotateOptions) *RotatingFile {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 10 * 1024 * 1024
	}
	if opts.Keep <= 0 {
		opts.Keep = 5
	}
	return &RotatingFile{dir: dir, opts: opts}
}

// CurrentPath 返回当前写入的文件路径。
func (w *RotatingFile) CurrentPath() string { return filepath.Join(w.dir, logBase+logExt) }

func (w *RotatingFile) backupPath(n int) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s.%d%s", logBase, n, logExt))
}

// WriteLine 写入一行（自动补换行）。单行超过上限时仍整行写入，不拆分。
func (w *RotatingFile) WriteLine(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.open(); err != nil {
		return err
	}
	need := int64(len(b) + 1)
	if w.size > 0 && w.size+need > w.opts.MaxBytes {
		if err := w.shift(); err != nil {
			return err
		}
	}
	line := make([]byte, 0, need)
	line = append(append(line, b...), '\n')
	n, err := w.f.Write(line)
	w.size += int64(n)
	return err
}

func (w *RotatingFile) open() error {
	if w.f != nil {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.CurrentPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f, w.size = f, st.Size()
	return nil
}

// shift: 关闭当前文件，.<k> -> .<k+1>，当前 -> .1，再重新打开。
func (w *RotatingFile) shift() error {
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	if err := os.Remove(w.backupPath(w.opts.Keep)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("drop oldest log: %w", err)
	}
	for k := w.opts.Keep - 1; k >= 1; k-- {
		if err := os.Rename(w.backupPath(k), w.backupPath(k+1)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("shift log %d: %w", k, err)
		}
	}
	if err := os.Rename(w.CurrentPath(), w.backupPath(1)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rotate log: %w", err)
	}
	return w.open()
}

// Close 关闭当前文件；之后的写入会重新打开。
func (w *RotatingFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}
