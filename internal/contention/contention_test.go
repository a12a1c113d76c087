package contention

import (
	"bytes"
	"context"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mschirtzinger/docsync/internal/docstore"
	"github.com/mschirtzinger/docsync/internal/docstore/memory"
	"github.com/mschirtzinger/docsync/internal/docstore/sqlite"
	"github.com/mschirtzinger/docsync/internal/odm"
)

func quiet() odm.CollectionOption {
	return odm.WithLogger(log.New(&bytes.Buffer{}, "", 0))
}

func TestRunLosesNoUpdates(t *testing.T) {
	tests := []struct {
		name string
		open func(t *testing.T) docstore.Client
	}{
		{"memory", func(t *testing.T) docstore.Client {
			c := memory.New()
			t.Cleanup(func() { c.Close() })
			return c
		}},
		{"sqlite", func(t *testing.T) docstore.Client {
			s, err := sqlite.Open(filepath.Join(t.TempDir(), "contention.db"))
			if err != nil {
				t.Fatalf("Failed to open store: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := Options{Writers: 6, Rounds: 15}
			report, err := Run(context.Background(), tt.open(t), opts, quiet())
			if err != nil {
				t.Fatalf("Run() error: %v", err)
			}

			if lost := report.Verify(); len(lost) > 0 {
				t.Errorf("lost updates:\n%s", strings.Join(lost, "\n"))
			}
			if report.Latency.Saves != opts.Writers*opts.Rounds {
				t.Errorf("Saves = %d, want %d", report.Latency.Saves, opts.Writers*opts.Rounds)
			}
			if report.Retries() < 0 || report.MaxAttempts < 1 {
				t.Errorf("Retries() = %d, MaxAttempts = %d", report.Retries(), report.MaxAttempts)
			}

			var out bytes.Buffer
			report.Print(&out)
			if !strings.Contains(out.String(), report.ID) {
				t.Errorf("Print() output does not name the document:\n%s", out.String())
			}
		})
	}
}

func TestRunRetryLimit(t *testing.T) {
	client := memory.New()
	defer client.Close()

	// One writer never contends, so a limit of one round trip suffices.
	report, err := Run(context.Background(), client, Options{Writers: 1, Rounds: 5, RetryLimit: 1}, quiet())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.Retries() != 0 {
		t.Errorf("Retries() = %d, want 0", report.Retries())
	}
	if lost := report.Verify(); len(lost) > 0 {
		t.Errorf("lost updates: %v", lost)
	}
}

func TestRunRejectsEmptyRun(t *testing.T) {
	client := memory.New()
	defer client.Close()

	for _, opts := range []Options{{Writers: 0, Rounds: 1}, {Writers: 1, Rounds: 0}} {
		if _, err := Run(context.Background(), client, opts, quiet()); err == nil {
			t.Errorf("Run(%+v) succeeded", opts)
		}
	}
}

func TestVerifyReportsLostUpdates(t *testing.T) {
	r := &Report{
		Options: Options{Writers: 2, Rounds: 1},
		Final: docstore.Document{
			"counter": int64(1),
			"peak":    mark(1, 0),
			"label":   "w0-0",
			"events":  []any{"w0-0"},
			"writers": map[string]any{"w0": int64(1)},
		},
	}
	want := []string{
		"counter = 1, want 2",
		"1 events, want 2",
		"writers.w1 = <nil>, want 1",
	}
	if diff := cmp.Diff(want, r.Verify()); diff != "" {
		t.Errorf("Verify() mismatch (-want +got):\n%s", diff)
	}
}

func TestComputeLatencyStats(t *testing.T) {
	var durations []time.Duration
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}

	got := computeLatencyStats(durations)
	want := LatencyStats{
		Min:   time.Millisecond,
		Max:   100 * time.Millisecond,
		Mean:  50500 * time.Microsecond,
		P50:   51 * time.Millisecond,
		P95:   96 * time.Millisecond,
		P99:   100 * time.Millisecond,
		Saves: 100,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("computeLatencyStats() mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(LatencyStats{}, computeLatencyStats(nil)); diff != "" {
		t.Errorf("empty stats mismatch (-want +got):\n%s", diff)
	}
}
