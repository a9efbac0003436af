package server

import (
	"net/http"
	"strconv"

	"github.com/Gokhulnath/Manus/internal/agent"
	"github.com/Gokhulnath/Manus/internal/messaging"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Metrics holds the backend's Prometheus collectors on a private registry.
type Metrics struct {
	registry    *prometheus.Registry
	requests    *prometheus.CounterVec
	turns       *prometheus.CounterVec
	analysed    prometheus.Counter
	turnSeconds prometheus.Histogram
}

// NewMetrics creates the collectors. Message counts are read from db on
// every scrape.
func NewMetrics(db *gorm.DB) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "manus_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "manus_agent_turns_total",
			Help: "User messages processed by the agent, by outcome.",
		}, []string{"outcome"}),
		analysed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "manus_agent_analyses_total",
			Help: "Analyse messages written by the agent.",
		}),
		turnSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "manus_agent_turn_seconds",
			Help:    "Time the agent spent on one user message.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(
		m.requests,
		m.turns,
		m.analysed,
		m.turnSeconds,
		collectors.NewGoCollector(),
	)
	if db != nil {
		m.registry.MustRegister(newMessageCollector(db))
	}
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTurn records one agent result. It fits agent.WorkerOpts.OnProcessed.
func (m *Metrics) ObserveTurn(r agent.Result) {
	outcome := "completed"
	if r.Err != nil {
		outcome = "failed"
	}
	m.turns.WithLabelValues(outcome).Inc()
	m.analysed.Add(float64(r.Analysed))
	m.turnSeconds.Observe(r.Elapsed.Seconds())
}

func (m *Metrics) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// messageCollector reports stored messages grouped by task and status.
type messageCollector struct {
	db   *gorm.DB
	desc *prometheus.Desc
}

func newMessageCollector(db *gorm.DB) *messageCollector {
	return &messageCollector{
		db: db,
		desc: prometheus.NewDesc("manus_messages",
			"Stored messages by task and status.",
			[]string{"task", "status"}, nil),
	}
}

func (c *messageCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *messageCollector) Collect(ch chan<- prometheus.Metric) {
	counts, err := messaging.CountByStatus(c.db)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.desc, err)
		return
	}
	for _, sc := range counts {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue,
			float64(sc.Count), string(sc.Task), string(sc.Status))
	}
}
