// Package markdown 将 Markdown（GFM）源文件解析为文档树。
//
// 标题按级别嵌套为 section；```{toctree} 围栏代码块作为目录引用；
// HTML 注释块映射为 comment；GFM 表格映射为 table。
package markdown

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"ssmlaudio/pkg/contract"
)

var (
	parserOnce sync.Once
	parserMD   goldmark.Markdown
)

func md() goldmark.Markdown {
	parserOnce.Do(func() {
		parserMD = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return parserMD
}

// Source 实现 contract.Source。
type Source struct{}

// New 返回 Markdown 源。
func New() *Source { return &Source{} }

// Extensions 返回可解析的扩展名。
func (*Source) Extensions() []string { return []string{".md", ".markdown"} }

// Parse 解析一个文档；name 为规范化后的文档名（用于解析相对引用）。
func (*Source) Parse(ctx context.Context, name string, r io.Reader) (*contract.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	root := md().Parser().Parse(text.NewReader(src))
	c := &converter{src: src, doc: name}
	tree := &contract.Node{Kind: contract.KindDocument}
	c.sections(root, tree)
	return &contract.Document{Name: name, Root: tree, Includes: c.includes, Warnings: c.warnings}, nil
}

type converter struct {
	src      []byte
	doc      string
	includes []string
	seen     map[string]bool
	warnings []string
}

type openSection struct {
	level int
	node  *contract.Node
}

// sections 将平铺的块序列按标题级别嵌套。
func (c *converter) sections(root ast.Node, doc *contract.Node) {
	var stack []openSection
	parent := func() *contract.Node {
		if len(stack) == 0 {
			return doc
		}
		return stack[len(stack)-1].node
	}
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok {
			for len(stack) > 0 && stack[len(stack)-1].level >= h.Level {
				stack = stack[:len(stack)-1]
			}
			title := &contract.Node{Kind: contract.KindTitle, Children: []*contract.Node{textNode(c.inline(h))}}
			sec := &contract.Node{Kind: contract.KindSection, Children: []*contract.Node{title}}
			p := parent()
			p.Children = append(p.Children, sec)
			stack = append(stack, openSection{level: h.Level, node: sec})
			continue
		}
		if b := c.block(n); b != nil {
			p := parent()
			p.Children = append(p.Children, b)
		}
	}
}

// block 转换一个块级节点；无语音内容的节点返回 nil。
func (c *converter) block(n ast.Node) *contract.Node {
	switch n.Kind() {
	case ast.KindParagraph, ast.KindTextBlock:
		s := c.inline(n)
		if strings.TrimSpace(s) == "" {
			return nil
		}
		return &contract.Node{Kind: contract.KindParagraph, Children: []*contract.Node{textNode(s)}}
	case ast.KindHeading:
		// 嵌套在列表/引用中的标题按段落处理
		return &contract.Node{Kind: contract.KindParagraph, Children: []*contract.Node{textNode(c.inline(n))}}
	case ast.KindList, ast.KindListItem, ast.KindBlockquote:
		return c.container(n)
	case ast.KindFencedCodeBlock:
		fc := n.(*ast.FencedCodeBlock)
		lang := strings.TrimSpace(string(fc.Language(c.src)))
		body := c.lines(n)
		if lang == "{toctree}" || lang == "toctree" {
			return c.toctree(body)
		}
		return &contract.Node{Kind: contract.KindCodeBlock, Children: []*contract.Node{textNode(body)}}
	case ast.KindCodeBlock:
		return &contract.Node{Kind: contract.KindCodeBlock, Children: []*contract.Node{textNode(c.lines(n))}}
	case ast.KindHTMLBlock:
		hb := n.(*ast.HTMLBlock)
		if hb.HTMLBlockType != ast.HTMLBlockType2 {
			return nil
		}
		raw := c.lines(n)
		if hb.HasClosure() {
			raw += string(hb.ClosureLine.Value(c.src))
		}
		body := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "<!--")), "-->"))
		if body == "" {
			return nil
		}
		return &contract.Node{Kind: contract.KindComment, Children: []*contract.Node{textNode(body)}}
	case extast.KindTable:
		return c.table(n)
	}
	return nil
}

func (c *converter) container(n ast.Node) *contract.Node {
	out := &contract.Node{Kind: contract.KindContainer}
	for ch := n.FirstChild(); ch != nil; ch = ch.NextSibling() {
		if b := c.block(ch); b != nil {
			out.Children = append(out.Children, b)
		}
	}
	if len(out.Children) == 0 {
		return nil
	}
	return out
}

// table 每行一个段落，单元格以空格连接。
func (c *converter) table(n ast.Node) *contract.Node {
	out := &contract.Node{Kind: contract.KindTable}
	for row := n.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			if s := strings.TrimSpace(c.inline(cell)); s != "" {
				cells = append(cells, s)
			}
		}
		if len(cells) == 0 {
			continue
		}
		out.Children = append(out.Children, &contract.Node{
			Kind:     contract.KindParagraph,
			Children: []*contract.Node{textNode(strings.Join(cells, " "))},
		})
	}
	return out
}

// toctree 解析目录条目：忽略 :option: 行与空行；支持 "Title <path>" 写法。
func (c *converter) toctree(body string) *contract.Node {
	node := &contract.Node{Kind: contract.KindInclude}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if i := strings.LastIndex(line, "<"); i >= 0 && strings.HasSuffix(line, ">") {
			line = strings.TrimSpace(line[i+1 : len(line)-1])
		}
		doc, err := contract.ResolveInclude(c.doc, line)
		if err != nil {
			// 尽力而为：跳过该条目，保留其余包含
			c.warnings = append(c.warnings, fmt.Sprintf("toctree entry %q: %v", line, err))
			continue
		}
		node.Includes = append(node.Includes, doc)
		if c.seen == nil {
			c.seen = map[string]bool{}
		}
		if !c.seen[doc] {
			c.seen[doc] = true
			c.includes = append(c.includes, doc)
		}
	}
	return node
}

// inline 拼接行内文本；软换行视为空格。
func (c *converter) inline(n ast.Node) string {
	var b strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := node.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(c.src))
			if v.SoftLineBreak() || v.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(v.Value)
		case *ast.AutoLink:
			b.Write(v.Label(c.src))
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

func (c *converter) lines(n ast.Node) string {
	var b bytes.Buffer
	ls := n.Lines()
	for i := 0; i < ls.Len(); i++ {
		seg := ls.At(i)
		b.Write(seg.Value(c.src))
	}
	return strings.TrimRight(b.String(), "\n")
}

func textNode(s string) *contract.Node {
	return &contract.Node{Kind: contract.KindText, Text: s}
}
