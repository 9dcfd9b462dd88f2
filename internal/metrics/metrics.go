// Package metrics exposes Prometheus counters for CMC responses and
// revocations.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mdean75/cmc"
)

// Metrics counts audit events and forwards them to the wrapped auditor.
type Metrics struct {
	next cmc.Auditor

	responses   *prometheus.CounterVec
	statuses    *prometheus.CounterVec
	revocations *prometheus.CounterVec
	requests    *prometheus.HistogramVec
}

var _ cmc.Auditor = (*Metrics)(nil)

// New registers the collectors with reg. next may be nil.
func New(reg prometheus.Registerer, next cmc.Auditor) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		next: next,
		responses: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cmc_responses_total",
				Help: "Total number of CMC responses sent",
			},
			[]string{"mode"},
		),
		statuses: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cmc_response_statuses_total",
				Help: "Total number of status controls in full responses",
			},
			[]string{"status"},
		),
		revocations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cmc_revocations_processed_total",
				Help: "Total number of revokeRequest controls processed",
			},
			[]string{"outcome", "reason"},
		),
		requests: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cmc_http_request_duration_seconds",
				Help:    "CMC HTTP request duration distribution",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "code"},
		),
	}
}

func (m *Metrics) Audit(ctx context.Context, ev cmc.AuditEvent) {
	switch ev.Type {
	case cmc.AuditCMCResponseSent:
		m.responses.WithLabelValues(string(ev.Mode)).Inc()
		for _, s := range ev.Statuses {
			m.statuses.WithLabelValues(s.String()).Inc()
		}
	case cmc.AuditCertStatusChangeRequestProcessed:
		m.revocations.WithLabelValues(string(ev.Outcome), ev.Reason.String()).Inc()
	}
	if m.next != nil {
		m.next.Audit(ctx, ev)
	}
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(route string, code int, d time.Duration) {
	m.requests.WithLabelValues(route, strconv.Itoa(code)).Observe(d.Seconds())
}
