package ssml

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"

	"ssmlaudio/internal/segment"
	"ssmlaudio/pkg/contract"
)

// Region: 可被跳过的块区域种类。
type Region uint8

const (
	RegionRegular Region = iota
	RegionTable
	RegionCodeBlock
	RegionComment
)

var regionNames = [...]string{
	RegionRegular:   "regular",
	RegionTable:     "table",
	RegionCodeBlock: "codeblock",
	RegionComment:   "comment",
}

func (r Region) String() string {
	if int(r) < len(regionNames) {
		return regionNames[r]
	}
	return fmt.Sprintf("region(%d)", r)
}

// ParseRegion 解析区域名称（table/codeblock/comment）。
func ParseRegion(s string) (Region, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range regionNames {
		if n == s && Region(i) != RegionRegular {
			return Region(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown skip block %q", contract.ErrInvalidInput, s)
}

// SpeedMedium: 该语速不输出 <prosody> 包裹。
const SpeedMedium = "medium"

// Options: 翻译器的不可变配置，按值传递。
type Options struct {
	Language            string
	SkipBlock           map[Region]bool
	BreakAroundTitle    []int    // 按标题深度（0 起）
	EmphasisTitle       []string // 按标题深度；"none" 表示不强调
	BreakAfterParagraph int      // 毫秒；<=0 不插入
	ParagraphSpeed      string
	Threshold           int
}

func DefaultOptions() Options {
	return Options{
		Language:            "en-US",
		SkipBlock:           map[Region]bool{RegionTable: true, RegionCodeBlock: true, RegionComment: true},
		BreakAroundTitle:    []int{2000, 1600, 1000, 1000, 1000, 1000},
		EmphasisTitle:       []string{"none", "none", "none", "none", "none", "none"},
		BreakAfterParagraph: 1000,
		ParagraphSpeed:      "default",
		Threshold:           segment.DefaultThreshold,
	}
}

// Fingerprint 返回选项的稳定摘要（JSON 编码后取 blake3 前 8 字节）。
// map 键在编码时排序，结果与字段赋值顺序无关。
func (o Options) Fingerprint() string {
	b, err := json.Marshal(o)
	if err != nil {
		return ""
	}
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:8])
}

// titleBreak 返回给定深度的停顿时长；深度按数组范围夹取。
func (o Options) titleBreak(level int) (int, bool) {
	if len(o.BreakAroundTitle) == 0 {
		return 0, false
	}
	return o.BreakAroundTitle[clamp(level, len(o.BreakAroundTitle))], true
}

func (o Options) titleEmphasis(level int) string {
	if len(o.EmphasisTitle) == 0 {
		return ""
	}
	e := strings.TrimSpace(o.EmphasisTitle[clamp(level, len(o.EmphasisTitle))])
	if e == "none" {
		return ""
	}
	return e
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
