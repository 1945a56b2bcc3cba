// Package cache 计算增量合成所需的标记-清除差集。
//
// 标记：所有 manifest 的 hash 并集（全语料存活集）；
// 清除：磁盘上未被任何 manifest 引用的产物。
// 只有目标文档所需的 hash 决定合成集合，清理则始终按全语料判定。
package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ssmlaudio/pkg/contract"
)

// Target: 被选中生成音轨的文档。
type Target struct {
	Doc      string
	Title    string
	Sequence []string
}

// Plan: 一次差集计算的结果；所有切片均已排序。
type Plan struct {
	AllHashes    []string
	Needed       []string
	ToSynthesize []string
	ToEvict      []string
	HashToFile   map[string]string
	Targets      []Target
}

// Diff 计算合成与清理集合。
// ToSynthesize = Needed − existing；ToEvict = existing − AllHashes。
func Diff(manifests map[string]contract.Manifest, pattern string, existing map[string]struct{}) Plan {
	all := map[string]struct{}{}
	needed := map[string]struct{}{}
	h2f := map[string]string{}

	docs := make([]string, 0, len(manifests))
	for d := range manifests {
		docs = append(docs, d)
	}
	sort.Strings(docs)

	var targets []Target
	for _, d := range docs {
		m := manifests[d]
		for h, f := range m.Hashes {
			all[h] = struct{}{}
			if _, ok := h2f[h]; !ok {
				h2f[h] = f
			}
		}
		if !Match(pattern, d) {
			continue
		}
		targets = append(targets, Target{Doc: d, Title: m.Title, Sequence: append([]string(nil), m.Sequence...)})
		for h := range m.Hashes {
			needed[h] = struct{}{}
		}
	}

	p := Plan{HashToFile: h2f, Targets: targets}
	p.AllHashes = sortedKeys(all)
	p.Needed = sortedKeys(needed)
	for _, h := range p.Needed {
		if _, ok := existing[h]; !ok {
			p.ToSynthesize = append(p.ToSynthesize, h)
		}
	}
	for _, h := range sortedKeys(existing) {
		if _, ok := all[h]; !ok {
			p.ToEvict = append(p.ToEvict, h)
		}
	}
	return p
}

// Summary: 便于 CLI 输出的计数摘要。
func (p Plan) Summary() string {
	return fmt.Sprintf("targets=%d all=%d needed=%d synthesize=%d evict=%d",
		len(p.Targets), len(p.AllHashes), len(p.Needed), len(p.ToSynthesize), len(p.ToEvict))
}

// ScanArtifacts 返回工作目录中已存在产物的 hash 集合（仅统计 *.ext 普通文件）。
// 目录不存在视为空集。
func ScanArtifacts(dir, ext string) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return out, nil
		}
		return nil, err
	}
	suffix := "." + strings.TrimPrefix(ext, ".")
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") || filepath.Ext(name) != suffix {
			continue
		}
		out[strings.TrimSuffix(name, suffix)] = struct{}{}
	}
	return out, nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
