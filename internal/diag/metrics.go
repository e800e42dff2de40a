package diag

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 指标注册在私有 registry 上，经 WriteMetrics 以 textfile 形式导出：
// - docrunner_op_total{comp,stage,result}
// - docrunner_error_total{comp,code}
// - docrunner_op_duration_ms{comp,stage}
// - docrunner_blocks_total{kind}
var (
	regMu    sync.Mutex
	registry *prometheus.Registry

	opTotal    *prometheus.CounterVec
	errorTotal *prometheus.CounterVec
	opDuration *prometheus.HistogramVec
	blockTotal *prometheus.CounterVec
)

func init() { ResetMetrics() }

// ResetMetrics 重建 registry 与全部指标（每次运行或测试开始时调用）。
func ResetMetrics() {
	regMu.Lock()
	defer regMu.Unlock()
	registry = prometheus.NewRegistry()
	f := promauto.With(registry)
	opTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "docrunner_op_total",
		Help: "Pipeline operations by component, stage and result",
	}, []string{"comp", "stage", "result"})
	errorTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "docrunner_error_total",
		Help: "Errors by component and classification code",
	}, []string{"comp", "code"})
	opDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docrunner_op_duration_ms",
		Help:    "Stage duration in milliseconds",
		Buckets: []float64{1, 5, 25, 100, 500, 2500, 10000, 60000},
	}, []string{"comp", "stage"})
	blockTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "docrunner_blocks_total",
		Help: "Code blocks seen, by kind (extracted|hidden_lines|entries)",
	}, []string{"kind"})
}

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	regMu.Lock()
	defer regMu.Unlock()
	opTotal.WithLabelValues(comp, stage, result).Inc()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	regMu.Lock()
	defer regMu.Unlock()
	errorTotal.WithLabelValues(comp, code).Inc()
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	regMu.Lock()
	defer regMu.Unlock()
	opDuration.WithLabelValues(comp, stage).Observe(float64(durMS))
}

// AddBlocks 累加块级计数。
func AddBlocks(kind string, n int) {
	if n <= 0 {
		return
	}
	regMu.Lock()
	defer regMu.Unlock()
	blockTotal.WithLabelValues(kind).Add(float64(n))
}

// WriteMetrics 以 node-exporter textfile 格式原子写出当前指标。
func WriteMetrics(path string) error {
	regMu.Lock()
	reg := registry
	regMu.Unlock()
	return prometheus.WriteToTextfile(path, reg)
}
