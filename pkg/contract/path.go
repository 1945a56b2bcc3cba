package contract

import (
	"fmt"
	"path"
	"strings"
)

// NormalizeDocName 将相对源文件路径规范化为文档名。
// 规则：
// - 统一为正斜杠并清理 . / ..
// - 仅去除源文件扩展名（SourceExtensions），其余点号视为文档名的一部分
// - 拒绝空、绝对路径与越出根目录的路径
func NormalizeDocName(p string) (string, error) {
	s := strings.ReplaceAll(p, "\\", "/")
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: empty", ErrPathInvalid)
	}
	if strings.HasPrefix(s, "/") || (len(s) > 1 && s[1] == ':') {
		return "", fmt.Errorf("%w: absolute %q", ErrPathInvalid, p)
	}
	s = path.Clean(s)
	if s == "." || s == ".." || strings.HasPrefix(s, "../") {
		return "", fmt.Errorf("%w: escapes root %q", ErrPathInvalid, p)
	}
	return TrimSourceExt(s), nil
}

// SourceExtensions: 各 Source 插件可接受的扩展名（小写）。
var SourceExtensions = []string{".md", ".markdown", ".json", ".yaml", ".yml"}

// TrimSourceExt 去除已知源文件扩展名；"chapter/v1.2" 之类保持原样。
func TrimSourceExt(s string) string {
	ext := path.Ext(s)
	if ext == "" || ext == s || strings.HasSuffix(s, "/"+ext) {
		return s
	}
	low := strings.ToLower(ext)
	for _, e := range SourceExtensions {
		if low == e {
			return strings.TrimSuffix(s, ext)
		}
	}
	return s
}

// ResolveInclude 解析包含条目：以 '/' 开头相对根目录，否则相对当前文档所在目录。
// 结果按 NormalizeDocName 规范化；仅去除源文件扩展名。
func ResolveInclude(current, entry string) (string, error) {
	e := strings.TrimSpace(strings.ReplaceAll(entry, "\\", "/"))
	if e == "" {
		return "", fmt.Errorf("%w: empty include", ErrPathInvalid)
	}
	if strings.HasPrefix(e, "/") {
		return NormalizeDocName(strings.TrimLeft(e, "/"))
	}
	return NormalizeDocName(path.Join(path.Dir(current), e))
}
