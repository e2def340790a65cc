// Package metrics exposes Prometheus collectors for the ledger, reconciliation,
// actuator and camera subsystems. Every method is safe on a nil *Registry so
// components can run without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lostfound"

// Registry owns a private Prometheus registry and the collectors registered on it.
type Registry struct {
	reg *prometheus.Registry

	evidenceStored  prometheus.Counter
	evidenceSkipped *prometheus.CounterVec
	claimsDeleted   prometheus.Counter
	ledgerClaims    prometheus.Gauge
	ledgerImages    prometheus.Gauge
	indexedHashes   prometheus.Gauge
	reconciliations *prometheus.CounterVec
	actuatorCmds    *prometheus.CounterVec
	actuatorLatency prometheus.Histogram
	releases        *prometheus.CounterVec
	framesPublished prometheus.Counter
	frameRejects    prometheus.Counter
	cameraReconnect prometheus.Counter
	streamClients   prometheus.Gauge
	httpRequests    *prometheus.CounterVec
}

// New creates a Registry with Go runtime and process collectors attached.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		evidenceStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "evidence_stored_total",
			Help: "Evidence images written to storage.",
		}),
		evidenceSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "evidence_skipped_total",
			Help: "Uploaded images dropped from a batch, by reason.",
		}, []string{"reason"}),
		claimsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "claims_deleted_total",
			Help: "Claims removed from the ledger.",
		}),
		ledgerClaims: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ledger_claims",
			Help: "Claims currently held in the ledger.",
		}),
		ledgerImages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ledger_images",
			Help: "Evidence images referenced by the ledger.",
		}),
		indexedHashes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "dedup_index_hashes",
			Help: "Content hashes held in the dedup index.",
		}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconciliations_total",
			Help: "Found-item reconciliation attempts, by outcome.",
		}, []string{"outcome"}),
		actuatorCmds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "actuator_commands_total",
			Help: "Relay commands issued, by category, value and outcome.",
		}, []string{"category", "value", "outcome"}),
		actuatorLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "actuator_command_seconds",
			Help:    "Relay command round-trip latency.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "release_sequences_total",
			Help: "Release sequences, by phase and outcome.",
		}, []string{"phase", "outcome"}),
		framesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "camera_frames_published_total",
			Help: "Frames published by the frame broker.",
		}),
		frameRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "camera_frames_rejected_total",
			Help: "Frames read from the source that failed JPEG validation.",
		}),
		cameraReconnect: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "camera_reconnects_total",
			Help: "Times the frame broker reopened the camera source.",
		}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "camera_stream_clients",
			Help: "Active MJPEG stream consumers.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "API requests, by route pattern and status code class.",
		}, []string{"route", "code"}),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.evidenceStored, r.evidenceSkipped, r.claimsDeleted,
		r.ledgerClaims, r.ledgerImages, r.indexedHashes,
		r.reconciliations, r.actuatorCmds, r.actuatorLatency, r.releases,
		r.framesPublished, r.frameRejects, r.cameraReconnect, r.streamClients,
		r.httpRequests,
	)
	return r
}

// Gatherer exposes the underlying registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

// Handler serves the Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) EvidenceStored(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.evidenceStored.Add(float64(n))
}

func (r *Registry) EvidenceSkipped(reason string) {
	if r == nil {
		return
	}
	r.evidenceSkipped.WithLabelValues(reason).Inc()
}

func (r *Registry) ClaimDeleted() {
	if r == nil {
		return
	}
	r.claimsDeleted.Inc()
}

// LedgerSize records the current ledger and index sizes.
func (r *Registry) LedgerSize(claims, images, hashes int) {
	if r == nil {
		return
	}
	r.ledgerClaims.Set(float64(claims))
	r.ledgerImages.Set(float64(images))
	r.indexedHashes.Set(float64(hashes))
}

func (r *Registry) Reconciliation(outcome string) {
	if r == nil {
		return
	}
	r.reconciliations.WithLabelValues(outcome).Inc()
}

// ActuatorCommand records one relay call and its latency in seconds.
func (r *Registry) ActuatorCommand(category, value, outcome string, seconds float64) {
	if r == nil {
		return
	}
	r.actuatorCmds.WithLabelValues(category, value, outcome).Inc()
	r.actuatorLatency.Observe(seconds)
}

// Release records a release sequence phase ("open" or "relock").
func (r *Registry) Release(phase, outcome string) {
	if r == nil {
		return
	}
	r.releases.WithLabelValues(phase, outcome).Inc()
}

func (r *Registry) FramePublished() {
	if r == nil {
		return
	}
	r.framesPublished.Inc()
}

func (r *Registry) FrameRejected() {
	if r == nil {
		return
	}
	r.frameRejects.Inc()
}

func (r *Registry) CameraReconnect() {
	if r == nil {
		return
	}
	r.cameraReconnect.Inc()
}

// StreamClients adjusts the active stream consumer gauge by delta.
func (r *Registry) StreamClients(delta int) {
	if r == nil {
		return
	}
	r.streamClients.Add(float64(delta))
}

// HTTPRequest counts an API request by route pattern and status class.
func (r *Registry) HTTPRequest(route string, status int) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(route, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
