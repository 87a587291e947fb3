package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestCheckReportsUsageLine(t *testing.T) {
	stub := writeStub(t, t.TempDir(), "echo 'LOST: Open-source Star Tracker'\necho 'usage: lost <database|pipeline> [options]' >&2\nexit 1\n")

	status := Check(context.Background(), stub)
	if !status.Available {
		t.Fatalf("expected engine available, got %+v", status)
	}
	if status.Path != stub {
		t.Fatalf("expected path %s, got %s", stub, status.Path)
	}
	if status.Version != "LOST: Open-source Star Tracker" {
		t.Fatalf("unexpected version line %q", status.Version)
	}
}

func TestCheckMissingEngine(t *testing.T) {
	status := Check(context.Background(), filepath.Join(t.TempDir(), "lost"))
	if status.Available {
		t.Fatalf("missing engine reported available")
	}
	if !errors.Is(status.Error, ErrLaunch) {
		t.Fatalf("expected ErrLaunch, got %v", status.Error)
	}
}

func TestExtractVersion(t *testing.T) {
	cases := map[string]string{
		"lost version 0.3\nusage":     "lost version 0.3",
		"\n\n  first line \nsecond\n": "first line",
		"":                            "unknown",
	}
	for in, want := range cases {
		if got := extractVersion(in); got != want {
			t.Errorf("extractVersion(%q) = %q, want %q", in, got, want)
		}
	}
}
