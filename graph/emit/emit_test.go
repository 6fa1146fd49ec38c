package emit

import (
	"bytes"
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func sampleEvent(step int, nodeID, msg string) Event {
	return Event{
		RunID:  "run-001",
		Step:   step,
		NodeID: nodeID,
		Msg:    msg,
		Meta:   map[string]interface{}{"state": "executing", "attempt": 0},
	}
}

func TestLogEmitter(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		NewLogEmitter(&buf, false).Emit(sampleEvent(3, "sum", "node_execute"))

		want := "node_execute run=run-001 step=3 node=sum attempt=0 state=executing\n"
		if buf.String() != want {
			t.Errorf("text line = %q, want %q", buf.String(), want)
		}
	})

	t.Run("text quotes values", func(t *testing.T) {
		var buf bytes.Buffer
		NewLogEmitter(&buf, false).Emit(Event{
			RunID: "r",
			Msg:   "node_error",
			Meta:  map[string]interface{}{"error": "agent failed: boom", "inputs": []any{1, "a"}},
		})

		want := `node_error run=r step=0 error="agent failed: boom" inputs=[1,"a"]` + "\n"
		if buf.String() != want {
			t.Errorf("text line = %q, want %q", buf.String(), want)
		}
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		NewLogEmitter(&buf, true).Emit(sampleEvent(1, "a", "node_injected"))

		var line struct {
			Event  string                 `json:"event"`
			RunID  string                 `json:"run_id"`
			Step   int                    `json:"step"`
			NodeID string                 `json:"node_id"`
			Meta   map[string]interface{} `json:"meta"`
		}
		if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
			t.Fatalf("invalid JSON line %q: %v", buf.String(), err)
		}
		if line.NodeID != "a" || line.Event != "node_injected" || line.RunID != "run-001" || line.Step != 1 {
			t.Errorf("unexpected line %+v", line)
		}
		if line.Meta["state"] != "executing" {
			t.Errorf("meta = %v", line.Meta)
		}
	})

	t.Run("json unencodable meta", func(t *testing.T) {
		var buf bytes.Buffer
		NewLogEmitter(&buf, true).Emit(Event{Msg: "node_callback", Meta: map[string]interface{}{"ch": make(chan int)}})
		if !strings.Contains(buf.String(), "unencodable meta") || !json.Valid(bytes.TrimSpace(buf.Bytes())) {
			t.Errorf("unexpected fallback line %q", buf.String())
		}
	})

	t.Run("concurrent writers do not interleave", func(t *testing.T) {
		var buf bytes.Buffer
		e := NewLogEmitter(&buf, true)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				e.Emit(sampleEvent(i, "n", "node_callback"))
			}()
		}
		wg.Wait()

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 20 {
			t.Fatalf("expected 20 lines, got %d", len(lines))
		}
		for _, l := range lines {
			if !json.Valid([]byte(l)) {
				t.Errorf("corrupt line %q", l)
			}
		}
	})
}

func TestBufferedEmitter(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(sampleEvent(1, "a", "node_injected"))
	b.Emit(sampleEvent(2, "sum", "node_execute"))
	b.Emit(sampleEvent(3, "sum", "node_callback"))
	b.Emit(Event{RunID: "other", Step: 1, NodeID: "x", Msg: "node_error"})

	if got := len(b.GetHistory("run-001")); got != 3 {
		t.Errorf("expected 3 events, got %d", got)
	}
	if got := b.GetHistory("missing"); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil history, got %v", got)
	}

	sum := b.GetHistoryWithFilter("run-001", HistoryFilter{NodeID: "sum"})
	if len(sum) != 2 {
		t.Errorf("expected 2 sum events, got %d", len(sum))
	}

	minStep, maxStep := 2, 2
	mid := b.GetHistoryWithFilter("run-001", HistoryFilter{MinStep: &minStep, MaxStep: &maxStep})
	if len(mid) != 1 || mid[0].Msg != "node_execute" {
		t.Errorf("step filter returned %v", mid)
	}

	if ids := b.RunIDs(); !reflect.DeepEqual(ids, []string{"other", "run-001"}) {
		t.Errorf("RunIDs() = %v", ids)
	}

	if got := b.GetHistoryWithFilter("run-001", HistoryFilter{State: "executing"}); len(got) != 3 {
		t.Errorf("state filter returned %d events", len(got))
	}

	fork := 1
	b.Emit(Event{RunID: "run-001/each#1", NodeID: "up", Msg: "node_callback", Meta: map[string]interface{}{"fork_index": 1}})
	b.Emit(Event{RunID: "run-001/each#0", NodeID: "up", Msg: "node_callback", Meta: map[string]interface{}{"fork_index": 0}})
	if got := b.GetHistoryWithFilter("run-001/each#1", HistoryFilter{ForkIndex: &fork}); len(got) != 1 {
		t.Errorf("fork filter returned %d events", len(got))
	}
	if got := b.GetHistoryWithFilter("run-001/each#0", HistoryFilter{ForkIndex: &fork}); len(got) != 0 {
		t.Errorf("fork filter matched the wrong fork: %v", got)
	}
	if got := b.Children("run-001"); !reflect.DeepEqual(got, []string{"run-001/each#0", "run-001/each#1"}) {
		t.Errorf("Children() = %v", got)
	}

	b.Clear("run-001")
	if len(b.GetHistory("run-001")) != 0 || len(b.GetHistory("other")) != 1 {
		t.Error("Clear(runID) should remove only that run")
	}
	b.Clear("")
	if len(b.GetHistory("other")) != 0 {
		t.Error("Clear(\"\") should remove everything")
	}
}

func TestMultiEmitter(t *testing.T) {
	a, b := NewBufferedEmitter(), NewBufferedEmitter()
	m := NewMultiEmitter(a, nil, b, NewNullEmitter())
	if len(m) != 3 {
		t.Fatalf("expected nil emitter to be dropped, got %d", len(m))
	}
	m.Emit(sampleEvent(1, "a", "node_injected"))
	if len(a.GetHistory("run-001")) != 1 || len(b.GetHistory("run-001")) != 1 {
		t.Error("event not fanned out")
	}
}

func TestOTelEmitter(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	emitter := NewOTelEmitter(tp.Tracer("test"))

	ev := sampleEvent(4, "sum", "node_error")
	ev.Meta["error"] = "boom"
	ev.Meta["fork_index"] = 2
	ev.Meta["tokens"] = int64(12)
	emitter.Emit(ev)

	if err := emitter.EmitBatch(context.Background(), []Event{
		sampleEvent(5, "sum", "node_execute"),
		sampleEvent(6, "sum", "node_callback"),
	}); err != nil {
		t.Fatalf("EmitBatch failed: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}

	first := spans[0]
	if first.Name != "node_error" {
		t.Errorf("span name = %q", first.Name)
	}
	if first.Status.Code != codes.Error || first.Status.Description != "boom" {
		t.Errorf("status = %+v", first.Status)
	}

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range first.Attributes {
		attrs[kv.Key] = kv.Value
	}
	if attrs["agentgraph.run_id"].AsString() != "run-001" {
		t.Errorf("run_id = %v", attrs["agentgraph.run_id"])
	}
	if attrs["agentgraph.step"].AsInt64() != 4 {
		t.Errorf("step = %v", attrs["agentgraph.step"])
	}
	if attrs["agentgraph.fork_index"].AsInt64() != 2 {
		t.Errorf("fork_index = %v", attrs["agentgraph.fork_index"])
	}
	if attrs["agentgraph.state"].AsString() != "executing" {
		t.Errorf("state = %v", attrs["agentgraph.state"])
	}
	if attrs["tokens"].AsInt64() != 12 {
		t.Errorf("tokens = %v", attrs["tokens"])
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := emitter.EmitBatch(ctx, []Event{sampleEvent(7, "x", "node_execute")}); err == nil {
		t.Error("expected EmitBatch to honor a cancelled context")
	}
}

func TestOTelEmitterFlush(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	emitter := NewOTelEmitter(otel.Tracer("test"))
	emitter.Emit(sampleEvent(1, "a", "node_execute"))
	emitter.Emit(sampleEvent(2, "a", "node_callback"))

	if err := emitter.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if got := len(exporter.GetSpans()); got != 2 {
		t.Errorf("expected 2 exported spans after Flush, got %d", got)
	}
}
