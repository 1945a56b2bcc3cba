package diag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 进程内指标注册表（不对外暴露 HTTP 端点；可按需落盘为文本格式）。
// - ssmlaudio_ops_total{comp,stage,result}
// - ssmlaudio_errors_total{comp,code}
// - ssmlaudio_stage_duration_ms{comp,stage}
var (
	Registry = prometheus.NewRegistry()

	opsTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "ssmlaudio_ops_total",
		Help: "Operations by component, stage and result.",
	}, []string{"comp", "stage", "result"})

	errorsTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "ssmlaudio_errors_total",
		Help: "Classified errors by component.",
	}, []string{"comp", "code"})

	stageDuration = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ssmlaudio_stage_duration_ms",
		Help:    "Stage duration in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	}, []string{"comp", "stage"})
)

// IncOp 累加操作计数（result=success|error|skip）。
func IncOp(comp, stage, result string) {
	opsTotal.WithLabelValues(comp, stage, result).Inc()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	errorsTotal.WithLabelValues(comp, code).Inc()
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	stageDuration.WithLabelValues(comp, stage).Observe(float64(durMS))
}

// WriteMetrics 以 Prometheus 文本格式写出当前指标（原子替换目标文件）。
func WriteMetrics(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
