package ssml

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
)

// Hash 返回 chunk 正文（不含 <speak> 包裹）的 blake3-256 十六进制摘要。
func Hash(body string) string {
	sum := blake3.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// Wrap 用 <speak> 根元素包裹 chunk 正文；语速非 medium 时追加 <prosody>。
func Wrap(language, speed, body string) string {
	var b strings.Builder
	b.Grow(len(body) + 64)
	b.WriteString(`<speak xml:lang="`)
	b.WriteString(escapeAttr(language))
	b.WriteString(`">`)
	prosody := speed != SpeedMedium
	if prosody {
		b.WriteString(`<prosody rate="`)
		b.WriteString(escapeAttr(speed))
		b.WriteString(`">`)
	}
	b.WriteString(body)
	if prosody {
		b.WriteString(`</prosody>`)
	}
	b.WriteString(`</speak>`)
	return b.String()
}

// ChunkDirSuffix: 每个文档的 chunk 独占目录 <doc>.chunks/。
const ChunkDirSuffix = ".chunks"

// ChunkName 生成 chunk 文件名：<doc>.chunks/<section|0>[-<index>].ssml
// 目录由文档名唯一确定，基名只含章节序号与计数，不同文档的文件名不会重合。
func ChunkName(doc, section string, index int, numbered bool) string {
	base := section
	if base == "" {
		base = "0"
	}
	if numbered {
		base += "-" + strconv.Itoa(index)
	}
	return doc + ChunkDirSuffix + "/" + base + ".ssml"
}

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

var attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

// Escape 转义文本中的 XML 特殊字符（& < >）。
func Escape(s string) string { return textEscaper.Replace(s) }

func escapeAttr(s string) string { return attrEscaper.Replace(s) }

func breakTag(ms int) string { return `<break time="` + strconv.Itoa(ms) + `ms" />` }
