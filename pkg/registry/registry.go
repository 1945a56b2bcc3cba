package registry

import (
	"bytes"
	"encoding/json"
	"sort"

	"ssmlaudio/pkg/contract"
	acat "ssmlaudio/plugins/assembler/concat"
	affm "ssmlaudio/plugins/assembler/ffmpeg"
	rfs "ssmlaudio/plugins/reader/filesystem"
	sdt "ssmlaudio/plugins/source/doctree"
	smd "ssmlaudio/plugins/source/markdown"
	flaky "ssmlaudio/plugins/synthesizer/flaky"
	ggl "ssmlaudio/plugins/synthesizer/google"
	mock "ssmlaudio/plugins/synthesizer/mock"
	oai "ssmlaudio/plugins/synthesizer/openai"
	ydx "ssmlaudio/plugins/synthesizer/yandex"
	wfs "ssmlaudio/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewSource 工厂签名：接收原样 JSON Options。
type NewSource func(raw json.RawMessage) (contract.Source, error)

// NewSynthesizer 工厂签名：接收原样 JSON Options。
type NewSynthesizer func(raw json.RawMessage) (contract.Synthesizer, error)

// NewAssembler 工厂签名：接收原样 JSON Options。
type NewAssembler func(raw json.RawMessage) (contract.Assembler, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 本地目录扫描
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Source 工厂注册表。
var Source = map[string]NewSource{
	"markdown": func(raw json.RawMessage) (contract.Source, error) { return smd.New(), nil },
	"doctree":  func(raw json.RawMessage) (contract.Source, error) { return sdt.New(), nil },
}

// Synthesizer 工厂注册表。
var Synthesizer = map[string]NewSynthesizer{
	"google": func(raw json.RawMessage) (contract.Synthesizer, error) { return ggl.New(raw) },
	"openai": func(raw json.RawMessage) (contract.Synthesizer, error) { return oai.New(raw) },
	"yandex": func(raw json.RawMessage) (contract.Synthesizer, error) { return ydx.New(raw) },
	"mock":   func(raw json.RawMessage) (contract.Synthesizer, error) { return mock.New(raw) },
	"flaky":  func(raw json.RawMessage) (contract.Synthesizer, error) { return flaky.New(raw) },
}

// Assembler 工厂注册表。
var Assembler = map[string]NewAssembler{
	// ffmpeg: 外部工具流拷贝拼接
	"ffmpeg": func(raw json.RawMessage) (contract.Assembler, error) { return affm.New(raw) },
	// concat: 纯 Go 帧拼接 + ID3v1
	"concat": func(raw json.RawMessage) (contract.Assembler, error) { return acat.New(raw) },
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（覆盖写/原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}

// Names 返回注册表键（排序），用于帮助与错误信息。
func Names[F any](m map[string]F) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
