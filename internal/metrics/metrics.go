package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	enabled  bool
	initOnce sync.Once

	// HTTP指标
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	// 业务指标
	abiResolveTotal    *prometheus.CounterVec
	proxyDetectTotal   *prometheus.CounterVec
	searchChainTotal   *prometheus.CounterVec
	explorerProxyTotal *prometheus.CounterVec
	upstreamDuration   *prometheus.HistogramVec
	errorsTotal        *prometheus.CounterVec
)

// Init 初始化指标，重复调用只注册一次
func Init(enabledFlag bool) {
	enabled = enabledFlag
	if !enabled {
		return
	}

	initOnce.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abiscope_http_requests_total",
				Help: "HTTP请求总数",
			},
			[]string{"method", "path", "status"},
		)

		httpDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "abiscope_http_request_duration_seconds",
				Help:    "HTTP请求耗时",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		)

		abiResolveTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abiscope_abi_resolve_total",
				Help: "ABI解析次数，按来源与结果分类",
			},
			[]string{"chain", "source", "result"},
		)

		proxyDetectTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abiscope_proxy_detect_total",
				Help: "代理检测结果，按策略分类",
			},
			[]string{"chain", "strategy"},
		)

		searchChainTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abiscope_search_chain_total",
				Help: "各链合约搜索请求结果",
			},
			[]string{"chain", "result"},
		)

		explorerProxyTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abiscope_explorer_proxy_total",
				Help: "区块浏览器代理请求结果",
			},
			[]string{"status"},
		)

		upstreamDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "abiscope_upstream_duration_seconds",
				Help:    "外部服务请求耗时",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		)

		errorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abiscope_errors_total",
				Help: "面向用户的错误，按类型与组件分类",
			},
			[]string{"type", "component"},
		)
	})
}

// Enabled 是否启用
func Enabled() bool {
	return enabled
}

// Handler Prometheus指标HTTP处理器
func Handler() http.Handler {
	if !enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.Handler()
}

// GinMiddleware 记录请求数与耗时；路径使用路由模板避免高基数
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// ABIResolve 记录一次ABI解析
func ABIResolve(chainID uint64, source, result string) {
	if !enabled {
		return
	}
	abiResolveTotal.WithLabelValues(strconv.FormatUint(chainID, 10), source, result).Inc()
}

// ProxyDetect 记录代理检测所用策略
func ProxyDetect(chainID uint64, strategy string) {
	if !enabled {
		return
	}
	proxyDetectTotal.WithLabelValues(strconv.FormatUint(chainID, 10), strategy).Inc()
}

// SearchChain 记录单条链的搜索结果
func SearchChain(chainID uint64, result string) {
	if !enabled {
		return
	}
	searchChainTotal.WithLabelValues(strconv.FormatUint(chainID, 10), result).Inc()
}

// ExplorerProxy 记录代理请求结果
func ExplorerProxy(status int) {
	if !enabled {
		return
	}
	explorerProxyTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

// ObserveUpstream 记录外部服务耗时
func ObserveUpstream(service string, start time.Time) {
	if !enabled {
		return
	}
	upstreamDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())
}

// RecordError 记录一次面向用户的错误
func RecordError(errorType, component string) {
	if !enabled {
		return
	}
	errorsTotal.WithLabelValues(errorType, component).Inc()
}
