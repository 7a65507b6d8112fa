// Package observability provides structured logging and Prometheus metrics.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configures telemetry.
type Config struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // json, console
}

// Telemetry bundles the logger and metrics for SOC Tower.
type Telemetry struct {
	logger  *zap.Logger
	metrics *Metrics
	config  Config
}

// Metrics holds Prometheus metrics for SOC Tower.
type Metrics struct {
	// Aggregation metrics
	AggregationRequests *prometheus.CounterVec
	AggregationDuration prometheus.Histogram
	IncidentsReturned   prometheus.Histogram

	// Vendor fetch metrics
	VendorFetches      *prometheus.CounterVec
	VendorFetchSeconds *prometheus.HistogramVec

	// Event cache metrics
	EventCacheReads     *prometheus.CounterVec
	EventCacheRefreshes *prometheus.CounterVec

	// API metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates a Telemetry instance.
func New(cfg Config) (*Telemetry, error) {
	t := &Telemetry{config: cfg}

	logger, err := t.initLogger()
	if err != nil {
		return nil, err
	}
	t.logger = logger
	t.metrics = t.initMetrics()

	return t, nil
}

// Logger returns the service logger.
func (t *Telemetry) Logger() *zap.Logger { return t.logger }

// Metrics returns the metric set.
func (t *Telemetry) Metrics() *Metrics { return t.metrics }

// MetricsHandler serves the Prometheus scrape endpoint.
func (t *Telemetry) MetricsHandler() http.Handler { return promhttp.Handler() }

// Shutdown flushes buffered log entries.
func (t *Telemetry) Shutdown() {
	_ = t.logger.Sync()
}

// initLogger initializes structured logging.
func (t *Telemetry) initLogger() (*zap.Logger, error) {
	var config zap.Config

	if t.config.LogFormat == "console" {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	switch t.config.LogLevel {
	case "debug":
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	config.InitialFields = map[string]interface{}{
		"service":     t.config.ServiceName,
		"version":     t.config.ServiceVersion,
		"environment": t.config.Environment,
	}

	return config.Build()
}

// initMetrics initializes Prometheus metrics.
func (t *Telemetry) initMetrics() *Metrics {
	namespace := "soctower"

	return &Metrics{
		AggregationRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "aggregation_requests_total",
				Help:      "Total aggregation requests by result",
			},
			[]string{"status"},
		),
		AggregationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "aggregation_duration_seconds",
				Help:      "End-to-end aggregation duration",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			},
		),
		IncidentsReturned: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "aggregation_incidents_returned",
				Help:      "Incidents per aggregation response before pagination",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
		VendorFetches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "vendor_fetches_total",
				Help:      "Vendor incident fetches by vendor and status",
			},
			[]string{"vendor", "status"},
		),
		VendorFetchSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "vendor_fetch_duration_seconds",
				Help:      "Vendor fetch duration by vendor",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"vendor"},
		),
		EventCacheReads: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "event_cache_reads_total",
				Help:      "Event cache reads by outcome (hit, miss)",
			},
			[]string{"outcome"},
		),
		EventCacheRefreshes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "event_cache_refreshes_total",
				Help:      "Event cache refreshes by status",
			},
			[]string{"status"},
		),
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration by route",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"route"},
		),
	}
}
