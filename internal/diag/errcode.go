package diag

import (
	"context"
	"errors"
	"net"
	"os"
	"os/exec"
	"time"

	"ssmlaudio/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeNetwork   Code = "network"
	CodeUpstream  Code = "upstream"
	CodeProtocol  Code = "protocol"
	CodeInvariant Code = "invariant"
	CodeRateLimit Code = "rate_limit"
	CodeManifest  Code = "manifest"
	CodeTool      Code = "tool"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
)

// Classify 将错误归为最小分类。
// 仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	if errors.Is(err, contract.ErrRateLimited) {
		return CodeRateLimit
	}
	if errors.Is(err, contract.ErrResponseInvalid) {
		return CodeProtocol
	}
	if errors.Is(err, contract.ErrManifestInvalid) {
		return CodeManifest
	}
	if errors.Is(err, contract.ErrToolFailed) {
		return CodeTool
	}
	var xerr *exec.Error
	if errors.As(err, &xerr) {
		return CodeTool
	}
	if errors.Is(err, contract.ErrInvalidInput) ||
		errors.Is(err, contract.ErrPathInvalid) ||
		errors.Is(err, contract.ErrArtifactMissing) {
		return CodeInvariant
	}
	var uerr contract.UpstreamError
	if errors.As(err, &uerr) {
		return CodeUpstream
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}

// NowUTC 返回 RFC3339 UTC 时间字符串（用于结构化日志字段 ts）。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
