// Package manifest 负责单文档 manifest（<doc>.json）的读写与清点。
package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ssmlaudio/pkg/contract"
)

// Ext: manifest 文件后缀。
const Ext = ".json"

// Store: manifest 存储。写入经 Writer 原子落盘；读取直接访问 Writer.Root()。
type Store struct {
	W contract.Writer
}

func New(w contract.Writer) *Store { return &Store{W: w} }

func (s *Store) path(doc string) string {
	return filepath.Join(s.W.Root(), filepath.FromSlash(doc)+Ext)
}

// Save 覆盖写入文档的 manifest。
func (s *Store) Save(ctx context.Context, doc string, m contract.Manifest) error {
	if m.Hashes == nil {
		m.Hashes = map[string]string{}
	}
	if m.Sequence == nil {
		m.Sequence = []string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := s.W.Write(ctx, doc+Ext, bytes.NewReader(b)); err != nil {
		return fmt.Errorf("write manifest %s: %w", doc+Ext, err)
	}
	return nil
}

// Load 读取单个 manifest；文件缺失返回 fs.ErrNotExist 包装错误。
func (s *Store) Load(doc string) (contract.Manifest, error) {
	p := s.path(doc)
	b, err := os.ReadFile(p)
	if err != nil {
		return contract.Manifest{}, fmt.Errorf("read manifest %s: %w", p, err)
	}
	var m contract.Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return contract.Manifest{}, fmt.Errorf("%w: %s: %v", contract.ErrManifestInvalid, p, err)
	}
	if m.Hashes == nil {
		m.Hashes = map[string]string{}
	}
	if err := m.Validate(); err != nil {
		return contract.Manifest{}, fmt.Errorf("%s: %w", p, err)
	}
	return m, nil
}

// LoadAll 读取全部文档的 manifest；任一失败即返回（部分存活集不可用于清理判定）。
func (s *Store) LoadAll(docs []string) (map[string]contract.Manifest, error) {
	out := make(map[string]contract.Manifest, len(docs))
	for _, d := range docs {
		m, err := s.Load(d)
		if err != nil {
			return nil, err
		}
		out[d] = m
	}
	return out, nil
}

// ModTime 返回 manifest 的修改时间；不存在时返回零值与 false。
func (s *Store) ModTime(doc string) (time.Time, bool) {
	st, err := os.Stat(s.path(doc))
	if err != nil {
		return time.Time{}, false
	}
	return st.ModTime(), true
}

// Remove 删除文档的 manifest（不存在不视为错误）。
func (s *Store) Remove(ctx context.Context, doc string) error {
	return s.W.Remove(ctx, doc+Ext)
}

// List 扫描根目录下所有 manifest 对应的文档名（排序）。
func (s *Store) List() ([]string, error) {
	root := s.W.Root()
	var docs []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == root {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), Ext) || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		docs = append(docs, strings.TrimSuffix(filepath.ToSlash(rel), Ext))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(docs)
	return docs, nil
}

// Orphans 返回磁盘上存在、但已不在 known 中的文档 manifest。
func (s *Store) Orphans(known []string) ([]string, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(known))
	for _, k := range known {
		set[k] = struct{}{}
	}
	var out []string
	for _, d := range all {
		if _, ok := set[d]; !ok {
			out = append(out, d)
		}
	}
	return out, nil
}
