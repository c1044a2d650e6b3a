package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type Outcome string

const (
	Success                  Outcome       = "success"
	Error                    Outcome       = "error"
	MetricRequestTimeout     time.Duration = 5 * time.Second
	MetricRequestIdleTimeout time.Duration = 10 * time.Second
)

func (o Outcome) String() string {
	return string(o)
}

var (
	once                      sync.Once
	metricsRouter             *chi.Mux
	operationDuration         *prometheus.HistogramVec
	strategyCallLatency       *prometheus.HistogramVec
	pollerDurationHistogram   *prometheus.HistogramVec
	sharePriceGauge           *prometheus.GaugeVec
	totalAssetsGauge          *prometheus.GaugeVec
	totalSharesGauge          *prometheus.GaugeVec
	distributionCounter       prometheus.Counter
	rebalanceCounter          prometheus.Counter
	harvestedYieldCounter     *prometheus.CounterVec
	queuePublishErrorCounter  prometheus.Counter
	rebalanceDeviationGauge   *prometheus.GaugeVec
	dbLatency                 *prometheus.HistogramVec
)

// Init initializes the metrics package.
func Init(metricsPort int) {
	once.Do(func() {
		initMetricsRouter(metricsPort)
		registerMetrics()
	})
}

// initMetricsRouter initializes the metrics router.
func initMetricsRouter(metricsPort int) {
	metricsRouter = chi.NewRouter()
	metricsRouter.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})
	metricsRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	// Create a custom server with timeout settings
	metricsAddr := fmt.Sprintf(":%d", metricsPort)
	server := &http.Server{
		Addr:         metricsAddr,
		Handler:      metricsRouter,
		ReadTimeout:  MetricRequestTimeout,
		WriteTimeout: MetricRequestTimeout,
		IdleTimeout:  MetricRequestIdleTimeout,
	}

	// Start the server in a separate goroutine
	go func() {
		log.Printf("Starting metrics server on %s", metricsAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msgf("Error starting metrics server on %s", metricsAddr)
		}
	}()
}

// registerMetrics initializes and registers the Prometheus metrics.
func registerMetrics() {
	defaultHistogramBucketsSeconds := []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5}

	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_operation_duration_seconds",
			Help:    "Histogram of accounting operation durations in seconds.",
			Buckets: defaultHistogramBucketsSeconds,
		},
		[]string{"component", "operation", "outcome"},
	)

	strategyCallLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "strategy_call_latency_seconds",
			Help:    "Histogram of strategy collaborator call durations in seconds.",
			Buckets: defaultHistogramBucketsSeconds,
		},
		[]string{"strategy", "method", "status"},
	)

	pollerDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poller_duration_seconds",
			Help:    "Histogram of poller run durations in seconds.",
			Buckets: defaultHistogramBucketsSeconds,
		},
		[]string{"poller", "status"},
	)

	sharePriceGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "share_price_asset_units",
			Help: "Asset units backing one full share, per component.",
		},
		[]string{"component"},
	)

	totalAssetsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "total_assets_units",
			Help: "Total assets under management in smallest asset units, per component.",
		},
		[]string{"component"},
	)

	totalSharesGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "total_shares",
			Help: "Total outstanding shares, per component.",
		},
		[]string{"component"},
	)

	distributionCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "yield_distributions_total",
			Help: "The total number of executed yield distributions.",
		},
	)

	rebalanceCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "portfolio_rebalances_total",
			Help: "The total number of executed portfolio rebalances.",
		},
	)

	harvestedYieldCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvested_yield_units_total",
			Help: "Cumulative harvested yield in smallest asset units, per component.",
		},
		[]string{"component"},
	)

	queuePublishErrorCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_publish_error_count",
			Help: "The total number of errors when publishing events to the queue.",
		},
	)

	rebalanceDeviationGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rebalance_deviation_bp",
			Help: "Absolute deviation between actual and target weight in basis points, per position.",
		},
		[]string{"position"},
	)

	dbLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_latency_seconds",
			Help:    "Histogram of db call durations in seconds.",
			Buckets: defaultHistogramBucketsSeconds,
		},
		[]string{"method", "status"},
	)

	prometheus.MustRegister(
		operationDuration,
		strategyCallLatency,
		pollerDurationHistogram,
		sharePriceGauge,
		totalAssetsGauge,
		totalSharesGauge,
		distributionCounter,
		rebalanceCounter,
		harvestedYieldCounter,
		queuePublishErrorCounter,
		rebalanceDeviationGauge,
		dbLatency,
	)
}

func RecordOperationDuration(component, operation string, duration time.Duration, failure bool) {
	if operationDuration == nil {
		return
	}
	outcome := Success
	if failure {
		outcome = Error
	}
	operationDuration.WithLabelValues(component, operation, outcome.String()).
		Observe(duration.Seconds())
}

func RecordStrategyCallLatency(strategyName, method string, duration time.Duration, failure bool) {
	if strategyCallLatency == nil {
		return
	}
	strategyCallLatency.WithLabelValues(strategyName, method, strconv.FormatBool(failure)).
		Observe(duration.Seconds())
}

// RecordPollerDuration wraps a poll method with duration and outcome metrics.
func RecordPollerDuration(pollerName string, f func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		start := time.Now()
		err := f(ctx)

		if pollerDurationHistogram != nil {
			outcome := Success
			if err != nil {
				outcome = Error
			}
			pollerDurationHistogram.WithLabelValues(pollerName, outcome.String()).
				Observe(time.Since(start).Seconds())
		}
		return err
	}
}

func RecordSharePrice(component string, price float64) {
	if sharePriceGauge == nil {
		return
	}
	sharePriceGauge.WithLabelValues(component).Set(price)
}

func RecordTotals(component string, totalAssets, totalShares float64) {
	if totalAssetsGauge == nil || totalSharesGauge == nil {
		return
	}
	totalAssetsGauge.WithLabelValues(component).Set(totalAssets)
	totalSharesGauge.WithLabelValues(component).Set(totalShares)
}

func IncDistributions() {
	if distributionCounter != nil {
		distributionCounter.Inc()
	}
}

func IncRebalances() {
	if rebalanceCounter != nil {
		rebalanceCounter.Inc()
	}
}

func AddHarvestedYield(component string, units float64) {
	if harvestedYieldCounter != nil {
		harvestedYieldCounter.WithLabelValues(component).Add(units)
	}
}

func RecordQueuePublishError() {
	if queuePublishErrorCounter != nil {
		queuePublishErrorCounter.Inc()
	}
}

func RecordRebalanceDeviation(position string, deviationBp float64) {
	if rebalanceDeviationGauge == nil {
		return
	}
	rebalanceDeviationGauge.WithLabelValues(position).Set(deviationBp)
}

func ObserveDbLatency(method string, duration time.Duration, failure bool) {
	if dbLatency == nil {
		return
	}
	dbLatency.WithLabelValues(method, strconv.FormatBool(failure)).
		Observe(duration.Seconds())
}
