package observability

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	m.RecordResolve(OutcomeCreated, 20*time.Millisecond)
	m.RecordResolve(OutcomeCreated, 5*time.Millisecond)
	m.RecordResolve(OutcomeAliasHit, time.Millisecond)
	m.RecordGeocode(OutcomeNotFound)
	m.RecordValidation(OutcomeRejected)
	m.RecordMention(OutcomeDuplicate)
	m.RecordCache("master", true)

	if got := testutil.ToFloat64(m.resolveTotal.WithLabelValues(OutcomeCreated)); got != 2 {
		t.Errorf("expected 2 created, got %v", got)
	}
	if got := testutil.ToFloat64(m.geocodeTotal.WithLabelValues(OutcomeNotFound)); got != 1 {
		t.Errorf("expected 1 geocode not_found, got %v", got)
	}
	if got := testutil.ToFloat64(m.cacheTotal.WithLabelValues("master", "hit")); got != 1 {
		t.Errorf("expected 1 cache hit, got %v", got)
	}
}

func TestMetrics_DoubleRegisterFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewMetrics(reg); err != nil {
		t.Fatal(err)
	}
	if _, err := NewMetrics(reg); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordResolve(OutcomeCreated, time.Second)
	m.RecordGeocode(OutcomeSuccess)
	m.RecordValidation(OutcomeAccepted)
	m.RecordMention(OutcomeRecorded)
	m.RecordCache("master", false)
}

func TestMetrics_Handler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, _ := NewMetrics(reg)
	m.RecordMention(OutcomeRecorded)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), `placemaster_mentions_total{outcome="recorded"} 1`) {
		t.Errorf("expected mentions counter in output, got:\n%s", rec.Body.String())
	}
}

func TestInitTracing_ExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), nil, TracingConfig{ServiceName: "test", Writer: &buf})
	if err != nil {
		t.Fatalf("InitTracing failed: %v", err)
	}

	_, span := Tracer().Start(context.Background(), "resolve")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if !strings.Contains(buf.String(), `"Name":"resolve"`) {
		t.Errorf("expected exported span, got %q", buf.String())
	}
}
