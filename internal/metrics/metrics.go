// ABOUTME: Prometheus collectors for subscription and reconciliation activity
// ABOUTME: Registered on the default registry and served by the gateway's /metrics route

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sweep outcomes used as the SweepsTotal label.
const (
	OutcomeOK         = "ok"
	OutcomeListFailed = "list_failed"
)

var (
	// ExtensionsTotal counts durable subscription extensions.
	ExtensionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentgate",
		Subsystem: "subscription",
		Name:      "extensions_total",
		Help:      "Total successful subscription extensions.",
	})

	// PeriodsPurchasedTotal counts billing periods added across all extensions.
	PeriodsPurchasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentgate",
		Subsystem: "subscription",
		Name:      "periods_purchased_total",
		Help:      "Total billing periods added by extensions.",
	})

	// GuardRejectionsTotal counts operations refused because the subscription was over.
	GuardRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentgate",
		Subsystem: "subscription",
		Name:      "guard_rejections_total",
		Help:      "Operations rejected because the caller's subscription is over.",
	})

	// SweepsTotal counts reconciliation sweeps by outcome.
	SweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentgate",
		Subsystem: "reconcile",
		Name:      "sweeps_total",
		Help:      "Total reconciliation sweeps by outcome.",
	}, []string{"outcome"})

	// AgentsStoppedTotal counts agents stopped by sweeps.
	AgentsStoppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentgate",
		Subsystem: "reconcile",
		Name:      "agents_stopped_total",
		Help:      "Agents stopped because their owner's subscription was over.",
	})

	// StopFailuresTotal counts stop requests the runtime refused or never answered.
	StopFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentgate",
		Subsystem: "reconcile",
		Name:      "stop_failures_total",
		Help:      "Stop requests issued by sweeps that failed.",
	})

	// SweepDuration tracks how long each sweep takes.
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "agentgate",
		Subsystem: "reconcile",
		Name:      "sweep_duration_seconds",
		Help:      "Reconciliation sweep duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	})
)
