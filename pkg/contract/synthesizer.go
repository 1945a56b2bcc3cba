package contract

import (
	"context"
	"io"
)

// SynthesisRequest: 单次语音合成请求。
type SynthesisRequest struct {
	Text         string // 完整 chunk 标记（含 <speak> 根元素）
	VoiceID      string
	TextType     string // "ssml"
	OutputFormat string // "mp3"
}

// Synthesizer: 外部 TTS 服务。
// 单次调用、同步返回音频字节流；调用方负责 Close。
// 限流返回 ErrRateLimited；其他上游错误建议实现 UpstreamError。
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (io.ReadCloser, error)
}
