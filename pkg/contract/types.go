package contract

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

// NodeKind: 文档树节点种类（封闭集合）。
// 翻译器按种类查表分派，不依赖动态方法查找。
type NodeKind int

const (
	KindContainer NodeKind = iota
	KindDocument
	KindSection
	KindTitle
	KindParagraph
	KindText
	KindTable
	KindCodeBlock
	KindComment
	KindInclude
)

var kindNames = [...]string{
	KindContainer: "container",
	KindDocument:  "document",
	KindSection:   "section",
	KindTitle:     "title",
	KindParagraph: "paragraph",
	KindText:      "text",
	KindTable:     "table",
	KindCodeBlock: "codeblock",
	KindComment:   "comment",
	KindInclude:   "include",
}

func (k NodeKind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseNodeKind 解析小写名称；未知名称返回 ErrInvalidInput。
func ParseNodeKind(s string) (NodeKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range kindNames {
		if n == s {
			return NodeKind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown node kind %q", ErrInvalidInput, s)
}

func (k NodeKind) MarshalText() ([]byte, error) {
	if k < 0 || int(k) >= len(kindNames) {
		return nil, fmt.Errorf("%w: node kind %d", ErrInvalidInput, int(k))
	}
	return []byte(kindNames[k]), nil
}

func (k *NodeKind) UnmarshalText(b []byte) error {
	v, err := ParseNodeKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Node: 文档树节点。
// Text 仅对 KindText 有意义；Includes 仅对 KindInclude 有意义（已解析为文档名）。
type Node struct {
	Kind     NodeKind `json:"kind"`
	Text     string   `json:"text,omitempty"`
	Children []*Node  `json:"children,omitempty"`
	Includes []string `json:"includes,omitempty"`
}

// AsText 拼接所有后代文本节点。
func (n *Node) AsText() string {
	if n == nil {
		return ""
	}
	var b bytes.Buffer
	n.appendText(&b)
	return b.String()
}

func (n *Node) appendText(b *bytes.Buffer) {
	if n.Kind == KindText {
		b.WriteString(n.Text)
	}
	for _, c := range n.Children {
		if c != nil {
			c.appendText(b)
		}
	}
}

// Document: 单个源文档的解析结果。
type Document struct {
	Name     string
	Root     *Node
	Includes []string // 按出现顺序收集的包含文档名（已去重）
	ModTime  time.Time
	Warnings []string // 解析时被跳过的条目（如无法解析的包含路径）
}

// SourceFile: Reader 发现的源文件。
type SourceFile struct {
	Name    string // 规范化文档名（无扩展名，正斜杠）
	Path    string // 本地可打开路径
	ModTime time.Time
}
