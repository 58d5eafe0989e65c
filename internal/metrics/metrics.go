// Package metrics 暴露 offline-hub 的 Prometheus 计数器。
// 所有计数器注册在私有 Registry 上，避免与进程内其他组件冲突；
// Recorder 为 nil 时所有方法均为空操作，便于测试直接传 nil。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "offline_hub"

// 刷新结果标签取值。
const (
	RefreshUpdated = "updated"
	RefreshFailed  = "failed"
	RefreshSkipped = "skipped"
	RefreshDenied  = "throttled"
)

// 安装结果标签取值。
const (
	InstallSucceeded = "succeeded"
	InstallFailed    = "failed"
)

// Recorder 汇总所有计数器。
type Recorder struct {
	registry *prometheus.Registry

	fetches   *prometheus.CounterVec
	refreshes *prometheus.CounterVec
	installs  *prometheus.CounterVec
	evictions *prometheus.CounterVec
}

// NewRecorder 创建 Recorder 并注册 Go 运行时与进程指标。
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Intercepted fetches by site, request kind and response source.",
		}, []string{"site", "kind", "source"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Background asset refreshes by outcome.",
		}, []string{"site", "result"}),
		installs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "install_total",
			Help:      "Install attempts by outcome.",
		}, []string{"site", "result"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evicted_namespaces_total",
			Help:      "Stale cache namespaces deleted during activation.",
		}, []string{"site"}),
	}
	reg.MustRegister(
		r.fetches,
		r.refreshes,
		r.installs,
		r.evictions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry 返回私有 Registry，供 /-/metrics 导出。
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) ObserveFetch(site, kind, source string) {
	if r == nil {
		return
	}
	r.fetches.WithLabelValues(site, kind, source).Inc()
}

func (r *Recorder) ObserveRefresh(site, result string) {
	if r == nil {
		return
	}
	r.refreshes.WithLabelValues(site, result).Inc()
}

func (r *Recorder) ObserveInstall(site, result string) {
	if r == nil {
		return
	}
	r.installs.WithLabelValues(site, result).Inc()
}

// ObserveEviction 按删除的命名空间数量累加。
func (r *Recorder) ObserveEviction(site string, count int) {
	if r == nil || count <= 0 {
		return
	}
	r.evictions.WithLabelValues(site).Add(float64(count))
}
