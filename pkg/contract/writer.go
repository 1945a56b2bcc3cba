package contract

import (
	"context"
	"io"
)

// Writer: 将字节流持久化到某个根目录下的相对路径。
// 约束：
//  1. 同一路径单写者；
//  2. 流式写入，按字节透传；
//  3. ctx 取消/超时需尽快返回；
//  4. 错误直接上抛（不做重试/回退）。
type Writer interface {
	Write(ctx context.Context, rel string, r io.Reader) error
	// Remove 删除相对路径；目标不存在不视为错误。
	Remove(ctx context.Context, rel string) error
	// Root 返回写入根目录（用于读取侧定位同一文件）。
	Root() string
}
