package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector exported by the node
type Metrics struct {
	Fills              prometheus.Counter
	Cancels            prometheus.Counter
	Deposits           *prometheus.CounterVec // kind: native|token
	Withdrawals        *prometheus.CounterVec // kind: native|token
	Invocations        *prometheus.CounterVec // entry, result: ok|error
	InvocationDuration *prometheus.HistogramVec
	PendingTransfers   prometheus.Gauge
}

// New registers the collectors with reg. Pass a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Fills: f.NewCounter(prometheus.CounterOpts{
			Name: "orionex_fills_total",
			Help: "Matched order pairs settled",
		}),
		Cancels: f.NewCounter(prometheus.CounterOpts{
			Name: "orionex_cancels_total",
			Help: "Orders cancelled by their owner",
		}),
		Deposits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orionex_deposits_total",
			Help: "Ledger credits from deposits",
		}, []string{"kind"}),
		Withdrawals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orionex_withdrawals_total",
			Help: "Ledger debits from withdrawals",
		}, []string{"kind"}),
		Invocations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orionex_invocations_total",
			Help: "Contract entry point invocations",
		}, []string{"entry", "result"}),
		InvocationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orionex_invocation_duration_seconds",
			Help:    "Time spent executing and committing an invocation",
			Buckets: prometheus.DefBuckets,
		}, []string{"entry"}),
		PendingTransfers: f.NewGauge(prometheus.GaugeOpts{
			Name: "orionex_pending_transfers",
			Help: "External transfers initiated but not yet settled",
		}),
	}
}

// ObserveInvocation records the outcome of one entry point call. Safe on nil.
func (m *Metrics) ObserveInvocation(entry string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Invocations.WithLabelValues(entry, result).Inc()
	m.InvocationDuration.WithLabelValues(entry).Observe(time.Since(start).Seconds())
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingTransfers.Set(float64(n))
}

func (m *Metrics) Fill() {
	if m != nil {
		m.Fills.Inc()
	}
}

func (m *Metrics) Cancel() {
	if m != nil {
		m.Cancels.Inc()
	}
}

func (m *Metrics) Deposit(kind string) {
	if m != nil {
		m.Deposits.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Withdrawal(kind string) {
	if m != nil {
		m.Withdrawals.WithLabelValues(kind).Inc()
	}
}
