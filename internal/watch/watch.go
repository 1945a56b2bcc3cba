// Package watch 监听源目录变化并以去抖方式触发重建。
package watch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"ssmlaudio/internal/diag"
)

// DefaultDebounce: 最后一次变化后等待的时长。
const DefaultDebounce = 300 * time.Millisecond

// Options: 监听配置。
type Options struct {
	Debounce time.Duration
	// Exts: 仅这些扩展名的文件触发重建（含点，不区分大小写）；为空时任意文件触发。
	Exts []string
	// Skip: 返回 true 的目录不监听（例如位于源目录内的输出目录）。
	Skip func(dir string) bool
	// Logger: 可选；回调错误与监听错误记录为 error 事件。
	Logger *diag.Logger
}

// Handler 接收一批去重排序后的变化路径。返回的错误仅记录，不终止监听。
type Handler func(ctx context.Context, changed []string) error

// Watch 递归监听 root，阻塞直到 ctx 结束；ctx 取消时返回 nil。
// 新建的子目录自动加入监听；隐藏目录忽略。
func Watch(ctx context.Context, root string, opts Options, fn Handler) error {
	if fn == nil {
		return errors.New("watch: nil handler")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	exts := map[string]struct{}{}
	for _, e := range opts.Exts {
		exts[strings.ToLower(e)] = struct{}{}
	}
	if err := addRecursive(w, root, opts.Skip); err != nil {
		return err
	}
	if opts.Logger != nil {
		opts.Logger.Info("watch", "watching", map[string]string{"root": root})
	}

	pending := map[string]struct{}{}
	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if st, err := os.Stat(ev.Name); err == nil && st.IsDir() {
					if !hidden(filepath.Base(ev.Name)) && (opts.Skip == nil || !opts.Skip(ev.Name)) {
						_ = addRecursive(w, ev.Name, opts.Skip)
					}
					continue
				}
			}
			if !relevant(ev, exts) {
				continue
			}
			pending[ev.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}
			timerC = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if opts.Logger != nil {
				opts.Logger.Error("watch", string(diag.Classify(err)), err.Error(), nil)
			}
		case <-timerC:
			timerC = nil
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			sort.Strings(changed)
			pending = map[string]struct{}{}
			start := time.Now()
			if err := fn(ctx, changed); err != nil && opts.Logger != nil {
				opts.Logger.Error("watch", string(diag.Classify(err)), err.Error(), &start)
			}
		}
	}
}

func relevant(ev fsnotify.Event, exts map[string]struct{}) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	if hidden(filepath.Base(ev.Name)) {
		return false
	}
	if len(exts) == 0 {
		return true
	}
	_, ok := exts[strings.ToLower(filepath.Ext(ev.Name))]
	return ok
}

func addRecursive(w *fsnotify.Watcher, root string, skip func(string) bool) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && (hidden(d.Name()) || (skip != nil && skip(p))) {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}

func hidden(name string) bool { return strings.HasPrefix(name, ".") && name != "." && name != ".." }
