// Package metrics exports the monitor's observable state as Prometheus
// gauges and counters.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/monad-tools/activeset-monitor/pkg/lifecycle"
	"github.com/monad-tools/activeset-monitor/pkg/resilient"
	"github.com/monad-tools/activeset-monitor/pkg/types"
	"github.com/monad-tools/activeset-monitor/pkg/uptime"
)

const defaultPrefix = "activeset"

type Exporter struct {
	registry *prometheus.Registry

	active        *prometheus.GaugeVec
	confidence    *prometheus.GaugeVec
	roundDiff     *prometheus.GaugeVec
	uptimePercent *prometheus.GaugeVec
	timeoutCount  *prometheus.GaugeVec
	state         *prometheus.GaugeVec
	networkRound  *prometheus.GaugeVec
	breakerState  *prometheus.GaugeVec
	breakerFails  *prometheus.GaugeVec

	transitions   *prometheus.CounterVec
	alerts        *prometheus.CounterVec
	checkDuration prometheus.Histogram
}

func NewExporter(prefix string) *Exporter {
	if prefix == "" {
		prefix = defaultPrefix
	}

	e := &Exporter{
		registry: prometheus.NewRegistry(),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_validator_active",
			Help: "Whether the validator is in the active set (1=active, 0=inactive)",
		}, []string{"network", "validator"}),
		confidence: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_validator_confidence",
			Help: "Confidence in the active verdict (3=high, 2=medium, 1=low, 0=unknown)",
		}, []string{"network", "validator"}),
		roundDiff: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_validator_round_diff",
			Help: "Rounds behind the network reference",
		}, []string{"network", "validator"}),
		uptimePercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_validator_uptime_percent",
			Help: "Share of consensus events the validator finalized (0-100)",
		}, []string{"network", "validator"}),
		timeoutCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_validator_timeout_count",
			Help: "Cumulative consensus timeout events",
		}, []string{"network", "validator"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_validator_lifecycle_state",
			Help: "Lifecycle state (0=new, 1=active, 2=inactive)",
		}, []string{"network", "validator"}),
		networkRound: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_network_round",
			Help: "Resolved network round reference",
		}, []string{"network"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half_open, 2=open)",
		}, []string{"network"}),
		breakerFails: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_breaker_failures",
			Help: "Consecutive failures recorded by the circuit breaker",
		}, []string{"network"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_lifecycle_transitions_total",
			Help: "Lifecycle transitions observed",
		}, []string{"network", "validator", "from", "to"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_alerts_total",
			Help: "Alerts dispatched by type",
		}, []string{"type"}),
		checkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    prefix + "_check_duration_seconds",
			Help:    "Duration of one full monitoring cycle",
			Buckets: prometheus.DefBuckets,
		}),
	}

	e.registry.MustRegister(
		e.active, e.confidence, e.roundDiff, e.uptimePercent, e.timeoutCount,
		e.state, e.networkRound, e.breakerState, e.breakerFails,
		e.transitions, e.alerts, e.checkDuration,
	)
	return e
}

// Registry exposes the exporter's registry for the HTTP handler.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

func (e *Exporter) ObserveCheck(duration time.Duration) {
	e.checkDuration.Observe(duration.Seconds())
}

func (e *Exporter) SetStatus(network types.Network, validator string, record *uptime.StatusRecord, state lifecycle.State) {
	labels := prometheus.Labels{"network": network.String(), "validator": validator}

	e.state.With(labels).Set(stateCode(state))
	if record == nil {
		e.confidence.With(labels).Set(confidenceCode(types.ConfidenceUnknown))
		return
	}

	activeVal := 0.0
	if record.IsActive {
		activeVal = 1.0
	}
	e.active.With(labels).Set(activeVal)
	e.confidence.With(labels).Set(confidenceCode(record.Confidence))
	e.uptimePercent.With(labels).Set(record.UptimePercent)
	e.timeoutCount.With(labels).Set(float64(record.TimeoutCount))
	if record.RoundDiff != nil {
		e.roundDiff.With(labels).Set(float64(*record.RoundDiff))
	}
	if record.NetworkRound != nil {
		e.networkRound.With(prometheus.Labels{"network": network.String()}).Set(float64(*record.NetworkRound))
	}
}

func (e *Exporter) SetBreaker(network types.Network, state resilient.BreakerState, failures int) {
	labels := prometheus.Labels{"network": network.String()}
	e.breakerState.With(labels).Set(breakerCode(state))
	e.breakerFails.With(labels).Set(float64(failures))
}

func (e *Exporter) RecordTransition(network types.Network, transition *lifecycle.Transition) {
	e.transitions.With(prometheus.Labels{
		"network":   network.String(),
		"validator": transition.ValidatorName,
		"from":      string(transition.From),
		"to":        string(transition.To),
	}).Inc()
}

func (e *Exporter) RecordAlert(alertType string) {
	e.alerts.With(prometheus.Labels{"type": alertType}).Inc()
}

func stateCode(state lifecycle.State) float64 {
	switch state {
	case lifecycle.StateActive:
		return 1
	case lifecycle.StateInactive:
		return 2
	}
	return 0
}

func confidenceCode(confidence types.Confidence) float64 {
	switch confidence {
	case types.ConfidenceHigh:
		return 3
	case types.ConfidenceMedium:
		return 2
	case types.ConfidenceLow:
		return 1
	}
	return 0
}

func breakerCode(state resilient.BreakerState) float64 {
	switch state {
	case resilient.StateOpen:
		return 2
	case resilient.StateHalfOpen:
		return 1
	}
	return 0
}
