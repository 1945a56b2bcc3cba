// Package audio 提供 mp3 产物的探测、校验与最小帧操作。
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hajimehoshi/go-mp3"

	"ssmlaudio/pkg/contract"
)

// Info 为解码后的流信息（go-mp3 输出固定为 16bit 双声道）。
type Info struct {
	SampleRate int
	Length     int64 // 解码后 PCM 字节数；不可 Seek 时为 -1
	Duration   time.Duration
}

const bytesPerFrame = 4

// Probe 解析 mp3 头并估算时长。
func Probe(r io.Reader) (Info, error) {
	d, err := mp3.NewDecoder(r)
	if err != nil {
		return Info{}, fmt.Errorf("%w: decode mp3: %v", contract.ErrResponseInvalid, err)
	}
	info := Info{SampleRate: d.SampleRate(), Length: d.Length()}
	if info.SampleRate > 0 && info.Length > 0 {
		samples := info.Length / bytesPerFrame
		info.Duration = time.Duration(samples) * time.Second / time.Duration(info.SampleRate)
	}
	return info, nil
}

// Validate 要求 b 可解码且包含至少一帧音频。
func Validate(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("%w: empty audio", contract.ErrResponseInvalid)
	}
	info, err := Probe(bytes.NewReader(b))
	if err != nil {
		return err
	}
	if info.Length == 0 {
		return fmt.Errorf("%w: no audio frames", contract.ErrResponseInvalid)
	}
	return nil
}

// MPEG-1 Layer III, 128kbps, 44.1kHz, 无 CRC, 无填充：417 字节/帧。
var silentHeader = [4]byte{0xFF, 0xFB, 0x90, 0x00}

const silentFrameSize = 417

// Silence 生成 n 帧静音 mp3（侧信息全零）。
func Silence(n int) []byte {
	if n <= 0 {
		n = 1
	}
	out := make([]byte, 0, n*silentFrameSize)
	frame := make([]byte, silentFrameSize)
	copy(frame, silentHeader[:])
	for i := 0; i < n; i++ {
		out = append(out, frame...)
	}
	return out
}

var errShortTag = errors.New("truncated id3 tag")

// StripTags 去除前导 ID3v2 与尾随 ID3v1 标签，返回纯帧数据。
func StripTags(b []byte) ([]byte, error) {
	if len(b) >= 10 && string(b[:3]) == "ID3" {
		size := int(b[6]&0x7f)<<21 | int(b[7]&0x7f)<<14 | int(b[8]&0x7f)<<7 | int(b[9]&0x7f)
		end := 10 + size
		if b[5]&0x10 != 0 {
			end += 10 // footer
		}
		if end > len(b) {
			return nil, errShortTag
		}
		b = b[end:]
	}
	if len(b) >= 128 && string(b[len(b)-128:len(b)-125]) == "TAG" {
		b = b[:len(b)-128]
	}
	return b, nil
}

// genres 为 ID3v1 流派编号（Winamp 扩展表的子集）。
var genres = map[string]byte{
	"speech":     101,
	"audiobook":  183,
	"audio book": 183,
	"podcast":    186,
}

// ID3v1 生成 128 字节 ID3v1.1 标签。
func ID3v1(meta contract.TrackMeta) []byte {
	tag := make([]byte, 128)
	copy(tag[0:3], "TAG")
	putField(tag[3:33], meta.Title)
	putField(tag[33:63], meta.Author)
	putField(tag[63:93], meta.Album)
	putField(tag[93:97], meta.Year)
	// 97..124 为注释，125 为 0，126 为音轨号
	if meta.Track > 0 && meta.Track < 256 {
		tag[126] = byte(meta.Track)
	}
	tag[127] = 0xFF
	if g, ok := genres[lower(meta.Genre)]; ok {
		tag[127] = g
	}
	return tag
}

func putField(dst []byte, s string) {
	b := []byte(s)
	if len(b) > len(dst) {
		b = b[:len(dst)]
	}
	copy(dst, b)
}

func lower(s string) string { return string(bytes.ToLower([]byte(s))) }
