package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"brokerage-mail-ingestor/internal/models"
)

func TestObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRun(ResultSuccess, 2*time.Second)
	m.ObserveRun(ResultFailed, time.Second)
	m.ObserveMessage(models.CaseCreated, nil)
	m.ObserveMessage(models.CaseCreated, nil)
	m.ObserveMessage(models.CaseSkipped, nil)
	m.ObserveMessage("", errors.New("boom"))

	if got := testutil.ToFloat64(m.runs.WithLabelValues(ResultSuccess)); got != 1 {
		t.Errorf("success runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.messages.WithLabelValues(string(models.CaseCreated))); got != 2 {
		t.Errorf("created messages = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.messages.WithLabelValues(OutcomeError)); got != 1 {
		t.Errorf("error messages = %v, want 1", got)
	}

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "ingest_run_duration_seconds_count 2") {
		t.Errorf("histogram not exported:\n%s", rec.Body.String())
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveRun(ResultSuccess, time.Second)
	m.ObserveMessage(models.CaseLinked, nil)
}
