package cache

import (
	"regexp"
	"strings"
	"sync"
)

var (
	patMu    sync.Mutex
	patCache = map[string]*regexp.Regexp{}
)

// Match 以 fnmatch 语义匹配文档名：* ? [seq] [!seq]，作用于整个名称（* 可跨越 '/'）。
// 空模式不匹配任何文档。
func Match(pattern, doc string) bool {
	if pattern == "" {
		return false
	}
	return compile(pattern).MatchString(doc)
}

func compile(pattern string) *regexp.Regexp {
	patMu.Lock()
	defer patMu.Unlock()
	if re, ok := patCache[pattern]; ok {
		return re
	}
	re := regexp.MustCompile(translate(pattern))
	patCache[pattern] = re
	return re
}

// translate 将 fnmatch 模式转换为锚定正则；未闭合的 '[' 按字面量处理。
func translate(pat string) string {
	var b strings.Builder
	b.WriteString(`(?s)^`)
	rs := []rune(pat)
	for i := 0; i < len(rs); i++ {
		c := rs[i]
		switch c {
		case '*':
			b.WriteString(`.*`)
		case '?':
			b.WriteString(`.`)
		case '[':
			j := i + 1
			if j < len(rs) && rs[j] == '!' {
				j++
			}
			if j < len(rs) && rs[j] == ']' {
				j++
			}
			for j < len(rs) && rs[j] != ']' {
				j++
			}
			if j >= len(rs) {
				b.WriteString(`\[`)
				continue
			}
			body := string(rs[i+1 : j])
			i = j
			neg := strings.HasPrefix(body, "!")
			if neg {
				body = body[1:]
			}
			body = strings.ReplaceAll(body, `\`, `\\`)
			body = strings.ReplaceAll(body, `[`, `\[`)
			if strings.HasPrefix(body, "^") {
				body = `\` + body
			}
			b.WriteByte('[')
			if neg {
				b.WriteByte('^')
			}
			b.WriteString(body)
			b.WriteByte(']')
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString(`$`)
	return b.String()
}
