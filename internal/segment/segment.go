// Package segment 将片段序列切分为受长度约束的 chunk。
//
// 切点规则：
//   - 边界 L|R 可切当且仅当 L 不是 JoinAfter、R 不是 JoinBefore，且切点之前含有文本；
//   - 当文本片段 f 到来且 count+len(f) 超过阈值时，在 pending∪{f} 中取最靠后的可切边界；
//   - 长度为 0 的控制标记本身不触发切分；
//   - 单个超长片段独立成块，不在片段内部切分。
package segment

import (
	"strings"

	"ssmlaudio/pkg/contract"
)

// DefaultThreshold: 单个 chunk 的默认字符上限。
const DefaultThreshold = 900

// Accumulator: 当前文档/章节待切分的片段缓冲（单线程使用）。
type Accumulator struct {
	frags []contract.Fragment
}

func (a *Accumulator) Add(f contract.Fragment) { a.frags = append(a.frags, f) }

func (a *Accumulator) Len() int { return len(a.frags) }

// Flush 切分并清空缓冲；空缓冲返回 nil。
func (a *Accumulator) Flush(threshold int) [][]contract.Fragment {
	if len(a.frags) == 0 {
		return nil
	}
	out := Split(a.frags, threshold)
	a.frags = nil
	return out
}

// Split 按阈值与粘连约束切分片段序列。
func Split(frags []contract.Fragment, threshold int) [][]contract.Fragment {
	if len(frags) == 0 {
		return nil
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	var (
		out     [][]contract.Fragment
		pending []contract.Fragment
		count   int
	)
	for _, f := range frags {
		if f.Length > 0 && count > 0 && count+f.Length > threshold {
			if k := cutPoint(pending, f); k > 0 {
				out = append(out, clone(pending[:k]))
				pending = append(pending[:0:0], pending[k:]...)
				count = Length(pending)
			}
		}
		pending = append(pending, f)
		count += f.Length
	}
	if len(pending) > 0 {
		out = append(out, pending)
	}
	return out
}

// cutPoint 返回 pending 中最靠后的可切位置 k（切在 pending[k-1] 与 pending[k] 之间，
// k==len(pending) 表示切在 next 之前）；无可切位置返回 0。
func cutPoint(pending []contract.Fragment, next contract.Fragment) int {
	prefix := make([]int, len(pending)+1)
	for i, f := range pending {
		prefix[i+1] = prefix[i] + f.Length
	}
	for k := len(pending); k >= 1; k-- {
		left := pending[k-1]
		right := next
		if k < len(pending) {
			right = pending[k]
		}
		if left.Join == contract.JoinAfter || right.Join == contract.JoinBefore {
			continue
		}
		if prefix[k] > 0 {
			return k
		}
	}
	return 0
}

// Render 拼接 chunk 的渲染文本。
func Render(chunk []contract.Fragment) string {
	var b strings.Builder
	for _, f := range chunk {
		b.WriteString(f.Text)
	}
	return b.String()
}

// Length 汇总 chunk 的字符数。
func Length(chunk []contract.Fragment) int {
	n := 0
	for _, f := range chunk {
		n += f.Length
	}
	return n
}

func clone(in []contract.Fragment) []contract.Fragment {
	return append([]contract.Fragment(nil), in...)
}
