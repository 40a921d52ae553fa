package signer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/status-im/hwsigner-go/deviceerror"
)

const metricsSubsystem = "hwsigner"

const (
	outcomeSuccess  = "success"
	outcomeFailure  = "failure"
	outcomeRejected = "rejected"
	outcomeDropped  = "dropped"
)

type signerMetrics struct {
	operations *prometheus.CounterVec
	failures   *prometheus.CounterVec
}

func initMetrics(registerer prometheus.Registerer) (*signerMetrics, error) {
	m := &signerMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "operations_total",
			Help: "Device operations by outcome", Subsystem: metricsSubsystem}, []string{"operation", "outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "failures_total",
			Help: "Failed device operations by cause", Subsystem: metricsSubsystem}, []string{"operation", "cause"}),
	}

	if registerer == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{m.operations, m.failures} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *signerMetrics) observe(operation, outcome string) {
	m.operations.WithLabelValues(operation, outcome).Inc()
}

func (m *signerMetrics) failure(operation string, cause deviceerror.Cause) {
	m.operations.WithLabelValues(operation, outcomeFailure).Inc()
	m.failures.WithLabelValues(operation, cause.String()).Inc()
}
