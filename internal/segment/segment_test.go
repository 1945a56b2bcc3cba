package segment

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"ssmlaudio/pkg/contract"
)

func text(n int) contract.Fragment {
	return contract.Fragment{Length: n, Join: contract.Regular, Text: strings.Repeat("a", n)}
}

func token(j contract.JoinPolicy, s string) contract.Fragment {
	return contract.Fragment{Join: j, Text: s}
}

// 两个段落 600 + 500：段落 break 跟随前文，第二段独立成块。
func TestSplitTwoParagraphs(t *testing.T) {
	brk := token(contract.JoinBefore, `<break time="1000ms" />`)
	frags := []contract.Fragment{brk, text(600), brk, text(500)}
	got := Split(frags, 900)
	require.Len(t, got, 2)
	require.Equal(t, []contract.Fragment{brk, text(600), brk}, got[0])
	require.Equal(t, []contract.Fragment{text(500)}, got[1])
}

func TestSplitKeepsTitleOpenerWithText(t *testing.T) {
	open := token(contract.JoinAfter, `<break time="2000ms" />`)
	emph := token(contract.JoinAfter, `<emphasis level="strong">`)
	closeEmph := token(contract.JoinBefore, `</emphasis>`)
	frags := []contract.Fragment{text(800), open, emph, text(200), closeEmph}
	got := Split(frags, 900)
	require.Len(t, got, 2)
	require.Equal(t, []contract.Fragment{text(800)}, got[0])
	require.Equal(t, []contract.Fragment{open, emph, text(200), closeEmph}, got[1])
}

func TestSplitEdgeCases(t *testing.T) {
	require.Nil(t, Split(nil, 900))

	// 单个超长片段独立成块
	got := Split([]contract.Fragment{text(1200)}, 900)
	require.Len(t, got, 1)
	require.Equal(t, 1200, Length(got[0]))

	got = Split([]contract.Fragment{text(100), text(1200), text(100)}, 900)
	require.Len(t, got, 3)

	// 控制标记不触发切分
	only := []contract.Fragment{token(contract.JoinAfter, "<a>"), token(contract.JoinBefore, "<b>")}
	require.Len(t, Split(only, 1), 1)

	// 恰好等于阈值不切
	require.Len(t, Split([]contract.Fragment{text(450), text(450)}, 900), 1)

	// 非正阈值回退默认
	require.Len(t, Split([]contract.Fragment{text(500), text(500)}, 0), 2)
}

func TestAccumulatorFlush(t *testing.T) {
	var a Accumulator
	require.Nil(t, a.Flush(900))
	a.Add(text(10))
	a.Add(text(20))
	require.Equal(t, 2, a.Len())
	got := a.Flush(900)
	require.Len(t, got, 1)
	require.Equal(t, strings.Repeat("a", 30), Render(got[0]))
	require.Equal(t, 0, a.Len())
}

// 随机序列：验证粘连完整性、尺寸上界与内容守恒。
func TestSplitProperties(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	policies := []contract.JoinPolicy{contract.Regular, contract.JoinBefore, contract.JoinAfter}
	for iter := 0; iter < 2000; iter++ {
		n := 1 + r.Intn(30)
		threshold := 50 + r.Intn(300)
		frags := make([]contract.Fragment, 0, n)
		for i := 0; i < n; i++ {
			if r.Intn(2) == 0 {
				frags = append(frags, text(1+r.Intn(400)))
			} else {
				frags = append(frags, token(policies[r.Intn(3)], "<t/>"))
			}
		}
		chunks := Split(frags, threshold)

		var flat []contract.Fragment
		for ci, c := range chunks {
			require.NotEmpty(t, c)
			texts := 0
			for _, f := range c {
				if f.Length > 0 {
					texts++
				}
			}
			if Length(c) > threshold {
				require.Equal(t, 1, texts, "超出阈值的 chunk 只能包含单个文本片段")
			}
			if ci > 0 {
				require.NotEqual(t, contract.JoinBefore, c[0].Join, "JoinBefore 与前一片段被分开")
				prev := chunks[ci-1]
				require.NotEqual(t, contract.JoinAfter, prev[len(prev)-1].Join, "JoinAfter 与后一片段被分开")
			}
			flat = append(flat, c...)
		}
		require.Equal(t, frags, flat)
	}
}
