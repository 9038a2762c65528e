package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeIgnored   = "ignored"
	OutcomeDuplicate = "duplicate"

	ChannelRazorpay = "razorpay"
	ChannelBankUPI  = "bank_upi"
	ChannelPoller   = "status_poll"
	ChannelCSV      = "csv"
	ChannelProvider = "provider"
)

// Metrics exposes application-level instruments.
type Metrics struct {
	webhookEvents    *prometheus.CounterVec
	rechargeOutcomes *prometheus.CounterVec
	walletRefunds    prometheus.Counter
	jobRuns          *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	processingAge    prometheus.Gauge
	fundsParked      prometheus.Counter
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// Default returns the singleton metrics registry backed by the default
// prometheus registerer.
func Default() *Metrics {
	metricsOnce.Do(func() {
		metrics = New(prometheus.DefaultRegisterer)
	})
	return metrics
}

// ResetForTest resets the singleton for tests.
func ResetForTest() {
	metricsOnce = sync.Once{}
	metrics = nil
}

func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fastag_webhook_events_total",
			Help: "Payment confirmation events by intake channel and outcome.",
		}, []string{"channel", "outcome"}),
		rechargeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fastag_recharge_outcomes_total",
			Help: "Recharge attempts by provider and terminal outcome.",
		}, []string{"provider", "outcome"}),
		walletRefunds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fastag_wallet_refunds_total",
			Help: "Wallet refund credits posted after failed recharges.",
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fastag_job_runs_total",
			Help: "Background job runs by job name and outcome.",
		}, []string{"job", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fastag_job_duration_seconds",
			Help:    "Background job run duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		processingAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fastag_processing_oldest_age_seconds",
			Help: "Age of the oldest transaction stuck in PROCESSING.",
		}),
		fundsParked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fastag_provider_funds_parked_total",
			Help: "Recharges parked on insufficient provider float.",
		}),
	}

	registerer.MustRegister(
		m.webhookEvents,
		m.rechargeOutcomes,
		m.walletRefunds,
		m.jobRuns,
		m.jobDuration,
		m.processingAge,
		m.fundsParked,
	)
	return m
}

// RecordWebhookEvent increments confirmation intake counts.
func (m *Metrics) RecordWebhookEvent(channel, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalize(channel), normalize(outcome)).Inc()
}

// RecordRechargeOutcome increments recharge terminal-state counts.
func (m *Metrics) RecordRechargeOutcome(provider, outcome string) {
	if m == nil {
		return
	}
	m.rechargeOutcomes.WithLabelValues(normalize(provider), normalize(outcome)).Inc()
}

// RecordWalletRefund increments refund credit counts.
func (m *Metrics) RecordWalletRefund() {
	if m == nil {
		return
	}
	m.walletRefunds.Inc()
}

// RecordFundsParked increments the parked-recharge count.
func (m *Metrics) RecordFundsParked() {
	if m == nil {
		return
	}
	m.fundsParked.Inc()
}

// RecordJobRun records a background job run with its duration.
func (m *Metrics) RecordJobRun(job, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(normalize(job), normalize(outcome)).Inc()
	m.jobDuration.WithLabelValues(normalize(job)).Observe(seconds)
}

// SetProcessingOldestAge publishes the stuck-PROCESSING watermark.
func (m *Metrics) SetProcessingOldestAge(seconds float64) {
	if m == nil {
		return
	}
	m.processingAge.Set(seconds)
}

func normalize(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "unknown"
	}
	return v
}
