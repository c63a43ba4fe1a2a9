// Package metrics exposes Prometheus counters for breakdown reporting and
// resolution.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Close outcomes recorded by RecordClose.
const (
	OutcomeClosed        = "closed"
	OutcomeAlreadyClosed = "already_closed"
	OutcomeNotFound      = "not_found"
	OutcomeError         = "error"
)

// Sync operations recorded by RecordSyncFailure.
const (
	OpArchive    = "archive"
	OpSheetAdd   = "sheet_append"
	OpSheetFind  = "sheet_find"
	OpSheetClose = "sheet_update"
	OpNotify     = "notify"
)

// Metrics holds the bot's Prometheus collectors.
type Metrics struct {
	ReportsTotal      *prometheus.CounterVec
	ClosesTotal       *prometheus.CounterVec
	SyncFailuresTotal *prometheus.CounterVec
	FlowsCancelled    *prometheus.CounterVec
}

// New creates and registers the collectors on the default registry.
// Registration happens once per process; later calls return the same set.
//
// Metrics:
//   - breakdown_reports_total{machine}
//   - breakdown_closes_total{outcome}
//   - breakdown_sync_failures_total{op}
//   - breakdown_flows_cancelled_total{flow}
func New() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			ReportsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "breakdown_reports_total",
					Help: "Total number of breakdowns reported",
				},
				[]string{"machine"},
			),
			ClosesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "breakdown_closes_total",
					Help: "Total number of close attempts by outcome",
				},
				[]string{"outcome"},
			),
			SyncFailuresTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "breakdown_sync_failures_total",
					Help: "Total number of failed archive, sheet and notification calls",
				},
				[]string{"op"},
			),
			FlowsCancelled: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "breakdown_flows_cancelled_total",
					Help: "Total number of report or resolution flows cancelled by the user",
				},
				[]string{"flow"}, // "report" or "fix"
			),
		}
	})
	return globalMetrics
}

// RecordReport counts a completed report for machine.
func (m *Metrics) RecordReport(machine string) {
	if m == nil {
		return
	}
	m.ReportsTotal.WithLabelValues(machine).Inc()
}

// RecordClose counts a close attempt with the given outcome.
func (m *Metrics) RecordClose(outcome string) {
	if m == nil {
		return
	}
	m.ClosesTotal.WithLabelValues(outcome).Inc()
}

// RecordSyncFailure counts a failed best-effort side effect.
func (m *Metrics) RecordSyncFailure(op string) {
	if m == nil {
		return
	}
	m.SyncFailuresTotal.WithLabelValues(op).Inc()
}

// RecordCancel counts a cancelled flow.
func (m *Metrics) RecordCancel(flow string) {
	if m == nil {
		return
	}
	m.FlowsCancelled.WithLabelValues(flow).Inc()
}
