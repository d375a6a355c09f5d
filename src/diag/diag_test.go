package diag

import (
	"strings"
	"testing"
)

func TestTraceNamesItsCaller(t *testing.T) {
	tr := Trace(0)
	if tr == "" {
		t.Fatal("expected a non-empty trace")
	}
	if !strings.Contains(tr, "TestTraceNamesItsCaller") {
		t.Fatalf("expected the trace to name the calling function, got:\n%s", tr)
	}
	if !strings.Contains(tr, "diag_test.go") {
		t.Fatalf("expected the trace to name the calling file, got:\n%s", tr)
	}
	if strings.Contains(tr, "Trace (") {
		t.Fatalf("expected Trace itself to be omitted from the chain, got:\n%s", tr)
	}
}

func TestTraceSkipsFrames(t *testing.T) {
	inner := func() string { return Trace(1) }
	tr := inner()
	if strings.Contains(tr, "TestTraceSkipsFrames.func") {
		t.Fatalf("expected the skipped frame to be omitted, got:\n%s", tr)
	}
	if !strings.Contains(tr, "TestTraceSkipsFrames") {
		t.Fatalf("expected the trace to start at the skipping function's caller, got:\n%s", tr)
	}
}
