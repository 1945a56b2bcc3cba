package ssml

import (
	"html"
	"regexp"
	"strings"
)

var (
	tagRe   = regexp.MustCompile(`<[^>]*>`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// PlainText 去除标记并还原实体，供不接受 SSML 的合成后端使用。
func PlainText(markup string) string {
	s := tagRe.ReplaceAllString(markup, " ")
	s = html.UnescapeString(s)
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
