// Package yandex 通过 Yandex SpeechKit v3 gRPC 接口（UtteranceSynthesis）合成。
// v3 接口不接受 SSML：请求前将标记还原为纯文本。
package yandex

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	tts "github.com/yandex-cloud/go-genproto/yandex/cloud/ai/tts/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"ssmlaudio/internal/ssml"
	"ssmlaudio/pkg/contract"
)

// DefaultEndpoint: SpeechKit v3 公共端点。
const DefaultEndpoint = "tts.api.cloud.yandex.net:443"

// Options: 最小必需配置。
type Options struct {
	Endpoint  string  `json:"endpoint"`
	APIKeyEnv string  `json:"api_key_env"` // 默认 YANDEX_API_KEY
	APIKey    string  `json:"api_key"`
	FolderID  string  `json:"folder_id"`
	Model     string  `json:"model"` // 默认 general
	Speed     float64 `json:"speed"` // 0 表示默认
}

type Client struct {
	client   tts.SynthesizerClient
	conn     *grpc.ClientConn
	apiKey   string
	folderID string
	model    string
	speed    float64
}

// New 建立 TLS gRPC 连接（惰性拨号）。
func New(raw json.RawMessage) (*Client, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("yandex options: %w", err)
		}
	}
	if o.Endpoint == "" {
		o.Endpoint = DefaultEndpoint
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "YANDEX_API_KEY"
	}
	key := o.APIKey
	if key == "" {
		key = os.Getenv(o.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("yandex: %w: missing api key", contract.ErrInvalidInput)
	}
	creds := credentials.NewTLS(&tls.Config{})
	conn, err := grpc.Dial(o.Endpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("yandex: connect %s: %w", o.Endpoint, err)
	}
	c := newWithClient(tts.NewSynthesizerClient(conn), key, o)
	c.conn = conn
	return c, nil
}

func newWithClient(sc tts.SynthesizerClient, key string, o Options) *Client {
	if o.Model == "" {
		o.Model = "general"
	}
	return &Client{client: sc, apiKey: key, folderID: o.FolderID, model: o.Model, speed: o.Speed}
}

// Close 关闭底层连接。
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// upstreamError 实现 contract.UpstreamError；状态码按 HTTP 语义映射。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("yandex upstream %d: %s", e.status, e.msg) }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

func (c *Client) buildRequest(text, voice, format string) *tts.UtteranceSynthesisRequest {
	req := &tts.UtteranceSynthesisRequest{}
	req.SetModel(c.model)
	req.SetText(text)

	var hints []*tts.Hints
	if voice != "" {
		h := &tts.Hints{}
		h.SetVoice(voice)
		hints = append(hints, h)
	}
	if c.speed > 0 {
		h := &tts.Hints{}
		h.SetSpeed(c.speed)
		hints = append(hints, h)
	}
	req.SetHints(hints)

	container := &tts.ContainerAudio{}
	switch strings.ToLower(format) {
	case "wav":
		container.SetContainerAudioType(tts.ContainerAudio_WAV)
	case "ogg", "opus":
		container.SetContainerAudioType(tts.ContainerAudio_OGG_OPUS)
	default:
		container.SetContainerAudioType(tts.ContainerAudio_MP3)
	}
	spec := &tts.AudioFormatOptions{}
	spec.SetContainerAudio(container)
	req.SetOutputAudioSpec(spec)
	req.SetLoudnessNormalizationType(tts.UtteranceSynthesisRequest_LUFS)
	return req
}

// Synthesize 实现 contract.Synthesizer：读取完整流后返回。
func (c *Client) Synthesize(ctx context.Context, r contract.SynthesisRequest) (io.ReadCloser, error) {
	text := r.Text
	if !strings.EqualFold(r.TextType, "text") {
		text = ssml.PlainText(text)
	}
	if text == "" {
		return nil, fmt.Errorf("yandex: %w: empty input", contract.ErrInvalidInput)
	}
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Api-Key "+c.apiKey)
	if c.folderID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-folder-id", c.folderID)
	}
	stream, err := c.client.UtteranceSynthesis(ctx, c.buildRequest(text, r.VoiceID, r.OutputFormat))
	if err != nil {
		return nil, mapError(ctx, err)
	}
	var buf bytes.Buffer
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, mapError(ctx, err)
		}
		if chunk := resp.GetAudioChunk(); chunk != nil {
			buf.Write(chunk.GetData())
		}
	}
	return io.NopCloser(&buf), nil
}

func mapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.ResourceExhausted:
		return fmt.Errorf("yandex: %s: %w", st.Message(), contract.ErrRateLimited)
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return upstreamError{status: http.StatusGatewayTimeout, msg: st.Message()}
	case codes.Unavailable:
		return upstreamError{status: http.StatusServiceUnavailable, msg: st.Message()}
	case codes.Internal, codes.Unknown, codes.Aborted:
		return upstreamError{status: http.StatusInternalServerError, msg: st.Message()}
	case codes.Unauthenticated:
		return upstreamError{status: http.StatusUnauthorized, msg: st.Message()}
	case codes.PermissionDenied:
		return upstreamError{status: http.StatusForbidden, msg: st.Message()}
	default:
		return upstreamError{status: http.StatusBadRequest, msg: st.Message()}
	}
}

var _ contract.Synthesizer = (*Client)(nil)
