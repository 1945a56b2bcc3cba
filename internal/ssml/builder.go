// Package ssml 将文档树翻译为按长度切分的 SSML chunk 文件，并产出单文档 manifest。
package ssml

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"ssmlaudio/internal/segment"
	"ssmlaudio/pkg/contract"
)

// Builder: 单文档翻译入口。Build 之间不共享可变状态。
type Builder struct {
	opts Options
	w    contract.Writer
}

func NewBuilder(opts Options, w contract.Writer) *Builder {
	return &Builder{opts: opts, w: w}
}

// Build 遍历文档树，写出 chunk 文件并返回 manifest。
// chunk 写入失败立即中止本文档，错误携带文件路径。
func (b *Builder) Build(ctx context.Context, doc *contract.Document) (contract.Manifest, error) {
	if doc == nil || doc.Root == nil {
		return contract.Manifest{}, fmt.Errorf("%w: nil document", contract.ErrInvalidInput)
	}
	t := &translator{
		ctx:      ctx,
		opts:     b.opts,
		w:        b.w,
		doc:      doc.Name,
		manifest: contract.NewManifest(),
		counts:   make([]int, 8),
		emitted:  map[string]int{},
		regions:  []Region{RegionRegular},
	}
	t.manifest.Options = b.opts.Fingerprint()
	if err := t.walk(doc.Root); err != nil {
		return contract.Manifest{}, err
	}
	// 根节点不是 Document 时补一次收尾 flush
	if doc.Root.Kind != contract.KindDocument {
		if err := t.flush(); err != nil {
			return contract.Manifest{}, err
		}
	}
	return t.manifest, nil
}

type handler struct {
	enter func(*translator, *contract.Node) error
	leave func(*translator, *contract.Node) error
}

// handlers: 按节点种类查表分派；缺省种类仅递归子节点。
var handlers = map[contract.NodeKind]handler{
	contract.KindDocument:  {leave: (*translator).leaveDocument},
	contract.KindSection:   {enter: (*translator).enterSection, leave: (*translator).leaveSection},
	contract.KindTitle:     {enter: (*translator).enterTitle, leave: (*translator).leaveTitle},
	contract.KindParagraph: {enter: (*translator).enterParagraph},
	contract.KindText:      {enter: (*translator).visitText},
	contract.KindTable:     {enter: pushRegion(RegionTable), leave: popRegion},
	contract.KindCodeBlock: {enter: pushRegion(RegionCodeBlock), leave: popRegion},
	contract.KindComment:   {enter: pushRegion(RegionComment), leave: popRegion},
}

type translator struct {
	ctx      context.Context
	opts     Options
	w        contract.Writer
	doc      string
	manifest contract.Manifest
	acc      segment.Accumulator
	depth    int
	counts   []int
	emitted  map[string]int // 章节编号 → 已输出 chunk 数
	regions  []Region
	titled   bool
}

func (t *translator) walk(n *contract.Node) error {
	if n == nil {
		return nil
	}
	h := handlers[n.Kind]
	if h.enter != nil {
		if err := h.enter(t, n); err != nil {
			return err
		}
	}
	for _, c := range n.Children {
		if err := t.walk(c); err != nil {
			return err
		}
	}
	if h.leave != nil {
		return h.leave(t, n)
	}
	return nil
}

func (t *translator) active() bool {
	return !t.opts.SkipBlock[t.regions[len(t.regions)-1]]
}

func pushRegion(r Region) func(*translator, *contract.Node) error {
	return func(t *translator, _ *contract.Node) error {
		t.regions = append(t.regions, r)
		return nil
	}
}

func popRegion(t *translator, _ *contract.Node) error {
	if len(t.regions) > 1 {
		t.regions = t.regions[:len(t.regions)-1]
	}
	return nil
}

func (t *translator) leaveDocument(*contract.Node) error { return t.flush() }

func (t *translator) enterSection(*contract.Node) error {
	if err := t.flush(); err != nil {
		return err
	}
	if t.depth >= len(t.counts) {
		t.counts = append(t.counts, make([]int, t.depth-len(t.counts)+1)...)
	}
	t.counts[t.depth]++
	for i := t.depth + 1; i < len(t.counts); i++ {
		t.counts[i] = 0
	}
	t.depth++
	return nil
}

func (t *translator) leaveSection(*contract.Node) error {
	if err := t.flush(); err != nil {
		return err
	}
	if t.depth > 0 {
		t.depth--
	}
	return nil
}

func (t *translator) enterTitle(n *contract.Node) error {
	if !t.titled {
		t.manifest.Title = n.AsText()
		t.titled = true
	}
	level := t.depth - 1
	if ms, ok := t.opts.titleBreak(level); ok {
		t.acc.Add(contract.Fragment{Join: contract.JoinAfter, Text: breakTag(ms)})
	}
	if e := t.opts.titleEmphasis(level); e != "" {
		t.acc.Add(contract.Fragment{Join: contract.JoinAfter, Text: `<emphasis level="` + escapeAttr(e) + `">`})
	}
	return nil
}

func (t *translator) leaveTitle(*contract.Node) error {
	level := t.depth - 1
	if ms, ok := t.opts.titleBreak(level); ok {
		t.acc.Add(contract.Fragment{Join: contract.JoinBefore, Text: breakTag(ms)})
	}
	if e := t.opts.titleEmphasis(level); e != "" {
		t.acc.Add(contract.Fragment{Join: contract.JoinBefore, Text: `</emphasis>`})
	}
	return nil
}

func (t *translator) enterParagraph(*contract.Node) error {
	if t.active() && t.opts.BreakAfterParagraph > 0 {
		t.acc.Add(contract.Fragment{Join: contract.JoinBefore, Text: breakTag(t.opts.BreakAfterParagraph)})
	}
	return nil
}

func (t *translator) visitText(n *contract.Node) error {
	if !t.active() || n.Text == "" {
		return nil
	}
	t.acc.Add(contract.Fragment{Length: utf8.RuneCountInString(n.Text), Text: Escape(n.Text)})
	return nil
}

// sectionNumber: 当前深度的祖先章节序号（不含顶层标题章节）。
func (t *translator) sectionNumber() string {
	if t.depth <= 1 {
		return ""
	}
	parts := make([]string, 0, t.depth-1)
	for _, c := range t.counts[1:t.depth] {
		parts = append(parts, strconv.Itoa(c))
	}
	return strings.Join(parts, ".")
}

// flush 切分当前缓冲并写出 chunk 文件。
func (t *translator) flush() error {
	chunks := t.acc.Flush(t.opts.Threshold)
	if len(chunks) == 0 {
		return nil
	}
	if err := t.ctx.Err(); err != nil {
		return err
	}
	sec := t.sectionNumber()
	prior := t.emitted[sec]
	numbered := prior > 0 || len(chunks) > 1
	for i, c := range chunks {
		body := segment.Render(c)
		hash := Hash(body)
		name := ChunkName(t.doc, sec, prior+i+1, numbered)
		content := Wrap(t.opts.Language, t.opts.ParagraphSpeed, body)
		if err := t.w.Write(t.ctx, name, strings.NewReader(content)); err != nil {
			return fmt.Errorf("write chunk %s: %w", name, err)
		}
		t.manifest.Add(hash, name)
	}
	t.emitted[sec] = prior + len(chunks)
	return nil
}
