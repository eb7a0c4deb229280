package rest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal 按协议方法和结果统计请求数
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "testkit",
		Subsystem: "dispatcher",
		Name:      "requests_total",
		Help:      "Total side server requests by method and result",
	}, []string{"method", "result"})

	// requestSeconds 请求处理耗时，工具方法只计提交耗时
	requestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "testkit",
		Subsystem: "dispatcher",
		Name:      "request_seconds",
		Help:      "Side server request handling latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	// toolSeconds 工具实际执行耗时
	toolSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "testkit",
		Subsystem: "tool",
		Name:      "execute_seconds",
		Help:      "Tool execution latency by tool and result",
		Buckets:   []float64{0.005, 0.05, 0.25, 1, 5, 30, 120},
	}, []string{"tool", "result"})

	// interceptorLoadsTotal 拦截器加载结果
	interceptorLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "testkit",
		Subsystem: "interceptor",
		Name:      "loads_total",
		Help:      "Interceptor compile attempts by result",
	}, []string{"result"})
)

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "fail"
}
