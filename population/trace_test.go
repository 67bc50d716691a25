package population

import (
	"context"
	"reflect"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracedOrganismsEmitSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	e, err := New(testConfig(4, 4), Options{Seed: 42, CPU: idleCPU, Tracer: tp.Tracer("test")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Close)

	ids := fill(t, e, 0, 5)
	e.AppendTraces(ids[0])

	if _, err := e.RunUpdate(context.Background()); err != nil {
		t.Fatalf("RunUpdate: %v", err)
	}

	spans := sr.Ended()
	if len(spans) == 0 {
		t.Fatal("no spans recorded for traced organism")
	}
	want := attribute.Int64("organism.id", int64(ids[0]))
	for _, s := range spans {
		if s.Name() != "organism.step" {
			t.Errorf("span name = %q, want organism.step", s.Name())
		}
		found := false
		for _, kv := range s.Attributes() {
			if kv == want {
				found = true
			}
		}
		if !found {
			t.Errorf("span attributes %v missing %v", s.Attributes(), want)
		}
	}
}

func TestTraceSamplingDoesNotChangeResults(t *testing.T) {
	cfg := testConfig(8, 8)
	cfg.Birth.Method = "random"
	plain := runConfig(t, cfg, 11)

	traced := cfg.Clone()
	traced.Trace.Enabled = true
	traced.Trace.SampleInterval = 1
	traced.Trace.SampleSize = 3
	traced.Trace.Mode = "random"
	got := runConfig(t, traced, 11)

	if len(got.Traces) == 0 {
		t.Fatal("trace sampling selected no organisms")
	}
	if !reflect.DeepEqual(plain.Organisms, got.Organisms) {
		t.Errorf("trace sampling changed the population: %d vs %d organisms",
			len(plain.Organisms), len(got.Organisms))
	}
}

func TestRandomTraceRequestsDoNotChangeResults(t *testing.T) {
	run := func(sample bool) Snapshot {
		e := newEngine(t, testConfig(6, 6), copier)
		fill(t, e, 0)
		for range 10 {
			if sample {
				e.SetRandomTraceQ(2)
				e.SetRandomPreyTraceQ(1)
			}
			if _, err := e.RunUpdate(context.Background()); err != nil {
				t.Fatal(err)
			}
		}
		return e.Snapshot()
	}
	if a, b := run(false), run(true); !reflect.DeepEqual(a.Organisms, b.Organisms) {
		t.Error("explicit trace requests changed the population")
	}
}
