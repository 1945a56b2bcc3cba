// Package doctree 读取预先序列化的文档树（JSON 或 YAML）。
//
// 格式：
//
//	{"includes": ["intro", "/api/index"], "root": {"kind": "document", "children": [...]}}
//
// includes 与 include 节点中的条目按 contract.ResolveInclude 解析。
package doctree

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"ssmlaudio/pkg/contract"
)

type file struct {
	Includes []string       `json:"includes" yaml:"includes"`
	Root     *contract.Node `json:"root" yaml:"root"`
}

// Source 实现 contract.Source。
type Source struct{}

func New() *Source { return &Source{} }

func (*Source) Extensions() []string { return []string{".json", ".yaml", ".yml"} }

// Parse 按 name 的来源格式解码；YAML 以首个非空字符不是 '{' 判定。
func (*Source) Parse(ctx context.Context, name string, r io.Reader) (*contract.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	var f file
	if strings.HasPrefix(strings.TrimSpace(string(raw)), "{") {
		dec := json.NewDecoder(strings.NewReader(string(raw)))
		dec.DisallowUnknownFields()
		err = dec.Decode(&f)
	} else {
		err = yaml.Unmarshal(raw, &f)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", contract.ErrInvalidInput, name, err)
	}
	if f.Root == nil {
		f.Root = &contract.Node{Kind: contract.KindDocument}
	}
	doc := &contract.Document{Name: name, Root: f.Root}
	seen := map[string]bool{}
	// 无法解析的条目记入 Warnings 并跳过，其余包含照常保留
	add := func(entry string) (string, bool) {
		d, err := contract.ResolveInclude(name, entry)
		if err != nil {
			doc.Warnings = append(doc.Warnings, fmt.Sprintf("include %q: %v", entry, err))
			return "", false
		}
		if !seen[d] {
			seen[d] = true
			doc.Includes = append(doc.Includes, d)
		}
		return d, true
	}
	for _, e := range f.Includes {
		add(e)
	}
	resolveNodes(f.Root, add)
	return doc, nil
}

func resolveNodes(n *contract.Node, add func(string) (string, bool)) {
	if n == nil {
		return
	}
	if n.Kind == contract.KindInclude {
		kept := n.Includes[:0]
		for _, e := range n.Includes {
			if d, ok := add(e); ok {
				kept = append(kept, d)
			}
		}
		n.Includes = kept
	}
	for _, c := range n.Children {
		resolveNodes(c, add)
	}
}

// Encode 将文档树以 JSON 序列化（用于生成测试夹具）。
func Encode(w io.Writer, doc *contract.Document) error {
	rel := make([]string, 0, len(doc.Includes))
	for _, d := range doc.Includes {
		rel = append(rel, "/"+path.Clean(d))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(file{Includes: rel, Root: doc.Root})
}
