package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registrations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aanmelden", Name: "registrations_total", Help: "Registration attempts by result",
	}, []string{"result"})
	Deregistrations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aanmelden", Name: "deregistrations_total", Help: "Deregistration attempts by result",
	}, []string{"result"})
	MacEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aanmelden", Name: "mac_events_total", Help: "Processed mac join events by outcome",
	}, []string{"outcome"})
	NotificationsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aanmelden", Name: "notifications_published_total", Help: "Page update events delivered",
	}, []string{"event"})
	NotificationsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "aanmelden", Name: "notifications_dropped_total", Help: "Page update events dropped on a full buffer",
	})
	NotificationsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "aanmelden", Name: "notifications_failed_total", Help: "Page update events the backend rejected",
	})
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "aanmelden", Name: "mac_queue_depth", Help: "MAC events waiting for the worker",
	})
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aanmelden", Name: "http_requests_total", Help: "HTTP requests by route and status",
	}, []string{"method", "route", "status"})
	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "aanmelden", Name: "http_request_duration_seconds", Help: "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
	DBPing = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "aanmelden", Name: "db_ping_seconds", Help: "DB ping latency",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		Registrations, Deregistrations, MacEvents, QueueDepth,
		NotificationsPublished, NotificationsDropped, NotificationsFailed,
		HTTPRequests, HTTPDuration, DBPing,
	)
}

func Handler() http.Handler { return promhttp.Handler() }

func ObserveDBPing(d time.Duration) { DBPing.Observe(d.Seconds()) }

// GinMiddleware records request count and latency per matched route.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
