// Package metrics holds Kiko's Prometheus collectors. A nil *Metrics is
// valid and records nothing, so components can be built without metrics in
// tests and offline tools.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kiko"

// Metrics is the set of collectors shared by the pipeline, chat service and
// LLM client.
type Metrics struct {
	screened      *prometheus.CounterVec
	blocked       *prometheus.CounterVec
	piiDetected   *prometheus.CounterVec
	unsafeOutputs prometheus.Counter
	replies       *prometheus.CounterVec
	llmRequests   *prometheus.CounterVec
	llmLatency    prometheus.Histogram
}

// New registers the collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		screened: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_screened_total",
			Help:      "Inbound messages screened, by outcome",
		}, []string{"outcome"}),
		blocked: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "security_blocks_total",
			Help:      "Inbound messages blocked, by pipeline stage",
		}, []string{"reason"}),
		piiDetected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pii_detections_total",
			Help:      "PII occurrences redacted from inbound messages, by kind",
		}, []string{"kind"}),
		unsafeOutputs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unsafe_model_outputs_total",
			Help:      "Model replies replaced by the output sanitizer",
		}),
		replies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Replies sent, by intent",
		}, []string{"intent"}),
		llmRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Language model calls, by status",
		}, []string{"status"}),
		llmLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Language model call latency",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
}

// Screened counts one screening outcome ("allowed" or "blocked").
func (m *Metrics) Screened(outcome string) {
	if m == nil {
		return
	}
	m.screened.WithLabelValues(outcome).Inc()
}

// Blocked counts a block by reason.
func (m *Metrics) Blocked(reason string) {
	if m == nil {
		return
	}
	m.blocked.WithLabelValues(reason).Inc()
}

// PIIDetected counts one detected PII kind.
func (m *Metrics) PIIDetected(kind string) {
	if m == nil {
		return
	}
	m.piiDetected.WithLabelValues(kind).Inc()
}

// UnsafeOutput counts a sanitized model reply.
func (m *Metrics) UnsafeOutput() {
	if m == nil {
		return
	}
	m.unsafeOutputs.Inc()
}

// Reply counts a reply by intent.
func (m *Metrics) Reply(intent string) {
	if m == nil {
		return
	}
	m.replies.WithLabelValues(intent).Inc()
}

// LLMRequest records one model call.
func (m *Metrics) LLMRequest(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.llmRequests.WithLabelValues(status).Inc()
	m.llmLatency.Observe(d.Seconds())
}
