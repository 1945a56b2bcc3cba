package contract

import (
	"context"
	"io"
)

// Reader: 源文件发现与读取。
// 约束：
// 1) Walk 返回稳定排序的文件列表（按文档名）；
// 2) 文档名规范化、去平台差异；
// 3) 不做解析，仅提供字节流；
// 4) 不在内部起并发。
type Reader interface {
	Walk(ctx context.Context, root string, exts []string) ([]SourceFile, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// Source: 将源文件字节解析为文档树。
// 实现为纯计算；Includes 必须已按 ResolveInclude 规范化。
type Source interface {
	Extensions() []string
	Parse(ctx context.Context, name string, r io.Reader) (*Document, error)
}
