package trace

import (
	"context"
	"testing"
)

func TestStartSpan_Disabled(t *testing.T) {
	if Enabled() {
		t.Skip("tracing initialised by another test")
	}
	ctx := context.Background()
	got, span := StartSpan(ctx, "noop")
	defer span.End()

	if got != ctx {
		t.Error("expected context to be returned unchanged when tracing is disabled")
	}
	if _, _, ok := Fields(got); ok {
		t.Error("expected no trace fields for a no-op span")
	}
}

func TestInit_DisabledIsNoop(t *testing.T) {
	if err := Init("test", false); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
