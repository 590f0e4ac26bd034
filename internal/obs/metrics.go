package obs

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics groups the collectors for bill creation, callbacks and gateway calls.
type PaymentMetrics struct {
	BillsTotal      *prometheus.CounterVec
	CallbacksTotal  *prometheus.CounterVec
	GatewayDuration *prometheus.HistogramVec
}

// NewPaymentMetrics registers the payment collectors on reg (the default registerer when nil).
func NewPaymentMetrics(namespace string, reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &PaymentMetrics{
		BillsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bills_total",
			Help:      "Bill creation attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		CallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_reports_total",
			Help:      "Gateway callbacks, redirects and status queries by outcome.",
		}, []string{"provider", "source", "outcome"}),
		GatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_ms",
			Help:      "Outbound gateway request latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"provider", "op", "status"}),
	}
	m.BillsTotal = mustRegister(reg, m.BillsTotal)
	m.CallbacksTotal = mustRegister(reg, m.CallbacksTotal)
	m.GatewayDuration = mustRegister(reg, m.GatewayDuration)
	return m
}

func (m *PaymentMetrics) BillCreated(provider, outcome string) {
	m.BillsTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *PaymentMetrics) CallbackHandled(provider, source, outcome string) {
	m.CallbacksTotal.WithLabelValues(provider, source, outcome).Inc()
}

// ObserveGatewayCall records one outbound request. statusCode 0 means no response.
func (m *PaymentMetrics) ObserveGatewayCall(provider, op string, statusCode int, elapsed time.Duration) {
	status := "error"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	m.GatewayDuration.WithLabelValues(provider, op, status).Observe(DurationMillis(elapsed))
}

// DurationMillis converts a duration to milliseconds for metric observation.
func DurationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// mustRegister returns the already registered collector when there is one.
func mustRegister[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(fmt.Errorf("register collector: %w", err))
	}
	return c
}
