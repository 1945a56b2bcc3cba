package filesystem

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ssmlaudio/pkg/contract"
)

// DefaultExcludeDirs: 默认跳过的目录基名。
var DefaultExcludeDirs = []string{"_build", ".git", "node_modules"}

// Options 为 FileSystem Reader 的可选配置（最小必要）。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// ExcludeDirNames: 扫描时跳过这些目录名（基名匹配，不区分大小写）。
	// 为空时使用 DefaultExcludeDirs。
	ExcludeDirNames []string `json:"exclude_dir_names"`
	// FollowSymlinks: 跟随指向常规文件的符号链接；目录链接始终忽略。
	FollowSymlinks bool `json:"follow_symlinks"`
	// SkipDirs: 按路径跳过的目录（例如位于源目录内的输出目录；通常由装配阶段注入）。
	SkipDirs []string `json:"skip_dirs,omitempty"`
}

// FileSystem 实现基于本地目录的源文件发现。
type FileSystem struct {
	bufSize    int
	excludeDir map[string]struct{}
	skipAbs    map[string]struct{}
	follow     bool
}

// New 创建 FileSystem Reader。
func New(opts *Options) *FileSystem {
	const defaultBuf = 64 * 1024
	b := defaultBuf
	names := DefaultExcludeDirs
	r := &FileSystem{excludeDir: map[string]struct{}{}, skipAbs: map[string]struct{}{}}
	if opts != nil {
		if opts.BufSize > 0 {
			b = opts.BufSize
		}
		if len(opts.ExcludeDirNames) > 0 {
			names = opts.ExcludeDirNames
		}
		r.follow = opts.FollowSymlinks
		for _, d := range opts.SkipDirs {
			if abs, err := filepath.Abs(d); err == nil {
				r.skipAbs[abs] = struct{}{}
			}
		}
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		r.excludeDir[strings.ToLower(name)] = struct{}{}
	}
	r.bufSize = b
	return r
}

// Walk 扫描 root 下扩展名属于 exts 的文件，按文档名排序返回。
// 隐藏文件/目录（以 . 开头）跳过。
func (r *FileSystem) Walk(ctx context.Context, root string, exts []string) ([]contract.SourceFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &os.PathError{Op: "walk", Path: root, Err: contract.ErrPathInvalid}
	}
	want := map[string]struct{}{}
	for _, e := range exts {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		want[e] = struct{}{}
	}
	var out []contract.SourceFile
	seen := map[string]string{}
	if err := r.walkDir(ctx, root, root, want, seen, &out); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *FileSystem) walkDir(ctx context.Context, root, dir string, want map[string]struct{}, seen map[string]string, out *[]contract.SourceFile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	// 稳定顺序：字典序
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		p := filepath.Join(dir, name)
		if e.IsDir() {
			if _, skip := r.excludeDir[strings.ToLower(name)]; skip {
				continue
			}
			if abs, err := filepath.Abs(p); err == nil {
				if _, skip := r.skipAbs[abs]; skip {
					continue
				}
			}
			if err := r.walkDir(ctx, root, p, want, seen, out); err != nil {
				return err
			}
			continue
		}
		if _, ok := want[strings.ToLower(filepath.Ext(name))]; !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			if !r.follow {
				continue
			}
			t, err := os.Stat(p)
			if err != nil {
				return err
			}
			if !t.Mode().IsRegular() {
				continue
			}
			info = t
		} else if !info.Mode().IsRegular() {
			continue
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		doc, err := contract.NormalizeDocName(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		// 同名不同扩展名：取字典序靠前者
		if _, dup := seen[doc]; dup {
			continue
		}
		seen[doc] = p
		*out = append(*out, contract.SourceFile{Name: doc, Path: p, ModTime: info.ModTime()})
	}
	return nil
}

// Open 打开源文件（带缓冲）。
func (r *FileSystem) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return newBufferedCloser(f, r.bufSize), nil
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufferedCloser(c io.ReadCloser, bufSize int) *bufferedCloser {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }
