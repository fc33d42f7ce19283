// Пакет metrics — Prometheus-метрики бота и HTTP-гейта.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tgflix_http_requests_total",
		Help: "HTTP-запросы к гейту.",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tgflix_http_request_duration_seconds",
		Help:    "Длительность HTTP-запросов к гейту.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	// AccessOutcomes — результаты redeem/extend/checkAccess.
	AccessOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tgflix_access_outcomes_total",
		Help: "Исходы операций контроля доступа.",
	}, []string{"op", "outcome"})

	// IngestResults — admitted / duplicate / failed.
	IngestResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tgflix_ingest_items_total",
		Help: "Обработанные элементы очереди индексации.",
	}, []string{"result"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tgflix_ingest_queue_depth",
		Help: "Текущая длина очереди индексации.",
	})

	// SweepRuns — запуски фоновых задач по результату.
	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tgflix_sweep_runs_total",
		Help: "Запуски фоновых задач.",
	}, []string{"job", "result"})

	Deliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tgflix_deliveries_total",
		Help: "Выданные пользователям файлы.",
	})
)

// Middleware собирает счётчик и гистограмму по шаблону маршрута.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
