package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordTurn("chat", "DIRECT", "", time.Second)
	m.RecordStage("decide", time.Millisecond)
	m.RecordFailure("generation_failure")
	m.RecordDecision("SEARCH", "standard", false)
	m.RecordCache("response", "get", "hit")
	m.RecordProvider("tts", "elevenlabs", "ok")
	m.CallStarted()
	m.CallEnded()
	m.RecordWebhook("recording", "ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("nil handler status = %d, want 404", rec.Code)
	}
}

func TestRecordTurnAndFailures(t *testing.T) {
	m := New("")

	m.RecordTurn("phone", "SEARCH", "multi_hop", 2*time.Second)
	m.RecordTurn("phone", "SEARCH", "multi_hop", time.Second)
	m.RecordFailure("synthesis_failure")
	m.RecordFailure("")

	if got := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("phone", "SEARCH", "multi_hop")); got != 2 {
		t.Errorf("turns_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.FailuresTotal.WithLabelValues("synthesis_failure")); got != 1 {
		t.Errorf("turn_failures_total = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.FailuresTotal); n != 1 {
		t.Errorf("failure series = %d, want 1 (empty kind ignored)", n)
	}
}

func TestActiveCallsGauge(t *testing.T) {
	m := New("test")
	m.CallStarted()
	m.CallStarted()
	m.CallEnded()
	if got := testutil.ToFloat64(m.ActiveCalls); got != 1 {
		t.Errorf("active_calls = %v, want 1", got)
	}
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := New("twin")
	m.RecordCache("greeting", "get", "miss")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `twin_cache_operations_total{category="greeting",op="get",result="miss"} 1`) {
		t.Errorf("metrics output missing cache counter:\n%s", body)
	}
}
