package contract

import "errors"

// 最小错误分类（用于上层策略判定与日志分类）。
var (
	// ErrPathInvalid: 标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrInvalidInput: 配置或输入不合法。
	ErrInvalidInput = errors.New("invalid input")
	// ErrRateLimited: 上游限流（可重试）。
	ErrRateLimited = errors.New("rate limited")
	// ErrResponseInvalid: 上游返回的音频不可用（空/无法解码）。
	ErrResponseInvalid = errors.New("response invalid")
	// ErrManifestInvalid: manifest 无法解析或内容不一致。
	ErrManifestInvalid = errors.New("manifest invalid")
	// ErrToolFailed: 外部拼接工具非零退出。
	ErrToolFailed = errors.New("tool failed")
	// ErrArtifactMissing: 目标所需的合成产物不存在。
	ErrArtifactMissing = errors.New("artifact missing")
)
