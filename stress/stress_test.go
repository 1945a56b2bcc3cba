package stress

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	cfgpkg "ssmlaudio/internal/config"
	"ssmlaudio/internal/pipeline"
)

const (
	docs       = 24
	paragraphs = 12
)

// baseConfig 构造可运行的离线配置：mock 合成 + concat 拼接。
func baseConfig(src, root string) cfgpkg.Config {
	cfg := cfgpkg.DefaultTemplateConfig()
	cfg.SourceDir = src
	cfg.OutDir = filepath.Join(root, "ssml")
	cfg.Audio.OutputFolder = filepath.Join(root, "polly")
	cfg.Audio.ApplyDocnames = "*"
	cfg.Logging.Level = "error"
	cfg.TTS = "mock"
	cfg.SSML.ChunkThreshold = 300
	return cfg
}

// runPipeline 执行完整流水线。
func runPipeline(cfg cfgpkg.Config) (pipeline.Summary, error) {
	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		return pipeline.Summary{}, err
	}
	return pipeline.Run(context.Background(), comp, set, nil)
}

// TestStress 在不同并发度下运行流水线并记录延迟统计。
func TestStress(t *testing.T) {
	if testing.Short() {
		t.Skip("stress")
	}
	src := t.TempDir()
	if err := writeBook(src); err != nil {
		t.Fatalf("write book: %v", err)
	}
	levels := []int{1, 8, 16, 32}
	for _, conc := range levels {
		t.Run(fmt.Sprintf("concurrency_%d", conc), func(t *testing.T) {
			const runs = 3
			successes := 0
			latencies := make([]time.Duration, 0, runs)
			for i := 0; i < runs; i++ {
				cfg := baseConfig(src, t.TempDir())
				cfg.Concurrency = conc
				start := time.Now()
				sum, err := runPipeline(cfg)
				dur := time.Since(start)
				if err != nil {
					t.Errorf("run %d: %v", i, err)
					continue
				}
				if len(sum.Assembly.Built) != docs {
					t.Errorf("run %d: assembled %d of %d", i, len(sum.Assembly.Built), docs)
					continue
				}
				successes++
				latencies = append(latencies, dur)
			}
			if successes == 0 {
				t.Fatalf("全部运行失败")
			}
			sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
			var total time.Duration
			for _, d := range latencies {
				total += d
			}
			avg := total / time.Duration(len(latencies))
			idx := int(math.Ceil(float64(len(latencies))*0.95)) - 1
			if idx < 0 {
				idx = 0
			}
			p95 := latencies[idx]
			t.Logf("并发%d 成功率%.2f 平均%v 95%%延迟%v", conc, float64(successes)/float64(runs), avg, p95)
		})
	}
}

// writeBook 生成 index 与 docs-1 篇章节，index 的目录引用全部章节。
func writeBook(dir string) error {
	var toc strings.Builder
	toc.WriteString("# Stress Book\n\nGenerated.\n\n```{toctree}\n")
	for d := 1; d < docs; d++ {
		name := fmt.Sprintf("part%02d", d)
		toc.WriteString(name + "\n")
		var b strings.Builder
		fmt.Fprintf(&b, "# Part %d\n\n", d)
		for p := 0; p < paragraphs; p++ {
			if p%4 == 0 {
				fmt.Fprintf(&b, "## Section %d.%d\n\n", d, p/4+1)
			}
			fmt.Fprintf(&b, "Paragraph %d of part %d. The quick brown fox jumps over the lazy dog near river bend %d.\n\n", p, d, p*d)
		}
		if err := os.WriteFile(filepath.Join(dir, name+".md"), []byte(b.String()), 0o644); err != nil {
			return err
		}
	}
	toc.WriteString("```\n")
	return os.WriteFile(filepath.Join(dir, "index.md"), []byte(toc.String()), 0o644)
}
