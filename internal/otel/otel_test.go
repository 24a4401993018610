package otel

import (
	"context"
	"testing"
	"time"
)

func TestInit_Disabled(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if p.Tracer == nil || p.Meter == nil {
		t.Fatal("expected noop tracer and meter")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestInit_NoneExporter(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: true, Exporter: "none"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())
	if p.TracerProvider == nil {
		t.Fatal("expected a real tracer provider")
	}
	_, span := StartSpan(context.Background(), p.Tracer, "iteration", AttrAgentID.String("a1"))
	span.End()
}

func TestInit_UnknownExporter(t *testing.T) {
	if _, err := Init(context.Background(), Config{Enabled: true, Exporter: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestMetrics_RecordAndNil(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: true, Exporter: "none"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ctx := context.Background()
	m.Iteration(ctx, "a1")
	m.Fault(ctx, "a1", true)
	m.Outcome(ctx, "a1", "mine", "success", time.Second)
	m.DetachedExecution(ctx, "a1", "mine")
	m.Pacing(ctx, "a1", 500*time.Millisecond)
	m.QueueReject(ctx, "AUTH")

	var none *Metrics
	none.Iteration(ctx, "a1")
	none.Outcome(ctx, "a1", "mine", "failed", time.Second)
}
