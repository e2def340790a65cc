package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistryCounters(t *testing.T) {
	r := New()

	r.EvidenceStored(3)
	r.EvidenceStored(0)
	if got := testutil.ToFloat64(r.evidenceStored); got != 3 {
		t.Fatalf("expected stored counter 3, got %f", got)
	}

	r.EvidenceSkipped("duplicate")
	r.EvidenceSkipped("duplicate")
	if got := testutil.ToFloat64(r.evidenceSkipped.WithLabelValues("duplicate")); got != 2 {
		t.Fatalf("expected duplicate skips 2, got %f", got)
	}

	r.LedgerSize(2, 5, 5)
	if got := testutil.ToFloat64(r.indexedHashes); got != 5 {
		t.Fatalf("expected index gauge 5, got %f", got)
	}

	r.ActuatorCommand("phone", "off", "ok", 0.01)
	if got := testutil.ToFloat64(r.actuatorCmds.WithLabelValues("phone", "off", "ok")); got != 1 {
		t.Fatalf("expected actuator counter 1, got %f", got)
	}
	if samples := testutil.CollectAndCount(r.actuatorLatency); samples != 1 {
		t.Fatalf("expected latency histogram to record 1 sample, got %d", samples)
	}

	r.StreamClients(2)
	r.StreamClients(-1)
	if got := testutil.ToFloat64(r.streamClients); got != 1 {
		t.Fatalf("expected one stream client, got %f", got)
	}

	r.HTTPRequest("GET /claims", http.StatusNotFound)
	if got := testutil.ToFloat64(r.httpRequests.WithLabelValues("GET /claims", "4xx")); got != 1 {
		t.Fatalf("expected 4xx request counted, got %f", got)
	}
}

func TestNilRegistryIsSafe(t *testing.T) {
	var r *Registry
	r.EvidenceStored(1)
	r.EvidenceSkipped("size")
	r.ClaimDeleted()
	r.LedgerSize(1, 1, 1)
	r.Reconciliation("linked")
	r.ActuatorCommand("phone", "on", "ok", 0)
	r.Release("open", "ok")
	r.FramePublished()
	r.FrameRejected()
	r.CameraReconnect()
	r.StreamClients(1)
	r.HTTPRequest("GET /status", 200)
	if _, err := r.Gatherer().Gather(); err != nil {
		t.Fatalf("gather on nil registry: %v", err)
	}
}

func TestHandlerExposition(t *testing.T) {
	r := New()
	r.Reconciliation("linked")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `lostfound_reconciliations_total{outcome="linked"} 1`) {
		t.Fatalf("exposition missing reconciliation counter:\n%s", rec.Body.String())
	}
}
