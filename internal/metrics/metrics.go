package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fishfry/internal/order"
)

type Registry struct {
	reg *prometheus.Registry

	WebhookReceived  *prometheus.CounterVec // by status code
	WebhookPublished prometheus.Counter

	DocumentsWritten *prometheus.CounterVec // by kind (created, updated)
	MergesSkipped    prometheus.Counter

	RulesExecuted *prometheus.CounterVec // by rule
	RuleFailures  *prometheus.CounterVec // by rule
	SyncSeconds   prometheus.Histogram

	LabelsRendered prometheus.Counter
	EventsDropped  prometheus.Counter
	OrdersUpserted prometheus.Counter

	PrintJobs *prometheus.CounterVec // by reprint

	Consumed *prometheus.CounterVec // by topic and outcome

	Applied            prometheus.Counter
	Skipped            prometheus.Counter
	TTRSec             prometheus.Gauge
	LastManifestAgeSec prometheus.Gauge
	SnapshotDocuments  prometheus.Gauge
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	m := &Registry{
		reg: r,
		WebhookReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fishfry_webhook_requests_total",
		}, []string{"code"}),
		WebhookPublished: prometheus.NewCounter(prometheus.CounterOpts{Name: "fishfry_webhook_published_total"}),
		DocumentsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fishfry_documents_written_total",
		}, []string{"kind"}),
		MergesSkipped: prometheus.NewCounter(prometheus.CounterOpts{Name: "fishfry_merges_skipped_total"}),
		RulesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fishfry_rules_executed_total",
		}, []string{"rule"}),
		RuleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fishfry_rule_failures_total",
		}, []string{"rule"}),
		SyncSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fishfry_sync_seconds",
			Buckets: prometheus.DefBuckets,
		}),
		LabelsRendered: prometheus.NewCounter(prometheus.CounterOpts{Name: "fishfry_labels_rendered_total"}),
		EventsDropped:  prometheus.NewCounter(prometheus.CounterOpts{Name: "fishfry_stale_events_dropped_total"}),
		OrdersUpserted: prometheus.NewCounter(prometheus.CounterOpts{Name: "fishfry_orders_upserted_total"}),
		PrintJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fishfry_print_jobs_total",
		}, []string{"reprint"}),
		Consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fishfry_consumed_messages_total",
		}, []string{"topic", "outcome"}),
		Applied:            prometheus.NewCounter(prometheus.CounterOpts{Name: "fishfry_replay_applied_total"}),
		Skipped:            prometheus.NewCounter(prometheus.CounterOpts{Name: "fishfry_replay_skipped_total"}),
		TTRSec:             prometheus.NewGauge(prometheus.GaugeOpts{Name: "fishfry_recovery_ttr_seconds"}),
		LastManifestAgeSec: prometheus.NewGauge(prometheus.GaugeOpts{Name: "fishfry_last_manifest_age_seconds"}),
		SnapshotDocuments:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "fishfry_snapshot_documents"}),
	}
	r.MustRegister(
		m.WebhookReceived, m.WebhookPublished,
		m.DocumentsWritten, m.MergesSkipped,
		m.RulesExecuted, m.RuleFailures, m.SyncSeconds,
		m.LabelsRendered, m.EventsDropped, m.OrdersUpserted,
		m.PrintJobs, m.Consumed,
		m.Applied, m.Skipped, m.TTRSec, m.LastManifestAgeSec, m.SnapshotDocuments,
	)
	return m
}

// RuleHook counts rule executions and failures.
func (r *Registry) RuleHook(id order.RuleID, _ bool, err error) {
	r.RulesExecuted.WithLabelValues(id.String()).Inc()
	if err != nil {
		r.RuleFailures.WithLabelValues(id.String()).Inc()
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
