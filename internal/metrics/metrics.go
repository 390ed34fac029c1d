package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fpagent/pkg/fingerprint"
)

var (
	IdentifyRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fpagent_identify_requests_total",
		Help: "Total identification requests by outcome kind",
	}, []string{"kind"})
	IdentifyDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fpagent_identify_duration_ms",
		Help:    "Identification duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	})
	IdentificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fpagent_identifications_total",
		Help: "Successful identifications by result shape",
	}, []string{"shape"})
	NewVisitorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fpagent_new_visitors_total",
		Help: "Total visitors seen for the first time",
	})
	VisitorIndexHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fpagent_visitor_index_hits_total",
		Help: "Total visitor index hits",
	})
	VisitorIndexMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fpagent_visitor_index_misses_total",
		Help: "Total visitor index misses",
	})
	GeoLookupDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fpagent_geo_lookup_duration_ms",
		Help:    "Geo database lookup duration in milliseconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 50},
	}, []string{"db"})
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fpagent_rate_limited_total",
		Help: "Total requests rejected by the per-token rate limiter",
	})
	DebugEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fpagent_debug_events_total",
		Help: "Agent debug events by name",
	}, []string{"event"})
)

func init() {
	prometheus.MustRegister(IdentifyRequestsTotal)
	prometheus.MustRegister(IdentifyDurationMs)
	prometheus.MustRegister(IdentificationsTotal)
	prometheus.MustRegister(NewVisitorsTotal)
	prometheus.MustRegister(VisitorIndexHitsTotal)
	prometheus.MustRegister(VisitorIndexMissesTotal)
	prometheus.MustRegister(GeoLookupDurationMs)
	prometheus.MustRegister(RateLimitedTotal)
	prometheus.MustRegister(DebugEventsTotal)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标到 /metrics 路径，供 Prometheus 抓取；在主入口挂载。
func Handler() http.Handler { return promhttp.Handler() }

// DebugOutput：按事件编号计数的调试输出，可与其它输出一起组合进 Multicast
func DebugOutput() fingerprint.DebugOutput {
	return func(ev fingerprint.DebugEvent) error {
		DebugEventsTotal.WithLabelValues(fingerprint.EventName(ev.E)).Inc()
		return nil
	}
}

// WriteTextfile：把已注册指标以文本格式原子写入 path，供 node_exporter textfile 收集器读取
// 背景：fpctl 为短生命周期进程，无法被抓取。
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
