package assembly

import (
	"regexp"
	"sort"
	"strconv"
	"time"
)

// IncludeFunc 返回文档的目录引用（按出现顺序）。
type IncludeFunc func(doc string) ([]string, error)

// DocOrder 从主文档出发做深度优先遍历，得到全局文档顺序。
// 已访问文档跳过；读取引用失败的文档视为叶子。
func DocOrder(master string, includes IncludeFunc) []string {
	order := []string{master}
	seen := map[string]bool{master: true}
	var walk func(doc string)
	walk = func(doc string) {
		incs, err := includes(doc)
		if err != nil {
			return
		}
		for _, inc := range incs {
			if seen[inc] {
				continue
			}
			seen[inc] = true
			order = append(order, inc)
			walk(inc)
		}
	}
	walk(master)
	return order
}

// TrackNumbers: 目标文档的音轨号为其在 order 中的 1 基位置；
// 不可从主文档到达的目标按名称顺序排在遍历之后。
func TrackNumbers(order []string, targets []string) map[string]int {
	pos := make(map[string]int, len(order))
	for i, d := range order {
		pos[d] = i + 1
	}
	out := make(map[string]int, len(targets))
	var rest []string
	for _, t := range targets {
		if n, ok := pos[t]; ok {
			out[t] = n
		} else {
			rest = append(rest, t)
		}
	}
	sort.Strings(rest)
	for i, t := range rest {
		out[t] = len(order) + i + 1
	}
	return out
}

var copyrightRe = regexp.MustCompile(`^(\d{4}), (.*)`)

// ParseCopyright 从 "YYYY, Author" 提取年份与作者；不匹配时年份取 now 的年份、作者为空。
func ParseCopyright(s string, now time.Time) (year, author string) {
	if m := copyrightRe.FindStringSubmatch(s); m != nil {
		return m[1], m[2]
	}
	return strconv.Itoa(now.Year()), ""
}
