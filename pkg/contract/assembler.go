package contract

import "context"

// TrackMeta: 输出音轨的标签元数据。
type TrackMeta struct {
	Album  string
	Author string
	Title  string
	Track  int
	Genre  string
	Year   string
}

// ConcatRequest: 一个目标文档的拼接请求。
// Inputs 为 WorkDir 下的产物文件名，按 manifest 序列排列。
type ConcatRequest struct {
	WorkDir string
	Inputs  []string
	Output  string
	Meta    TrackMeta
}

// Assembler: 外部拼接工具（不重新编码）。
// 约束：
//  1. 同步执行，返回前输出文件已完整写出；
//  2. 非零退出返回 ErrToolFailed；
//  3. 不修改输入产物。
type Assembler interface {
	Concat(ctx context.Context, req ConcatRequest) error
}
