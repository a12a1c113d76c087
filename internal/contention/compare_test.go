package contention

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"
)

func report(latency time.Duration, saves, attempts int, elapsed time.Duration) *Report {
	return &Report{
		Elapsed:  elapsed,
		Attempts: attempts,
		Latency: LatencyStats{
			Min: latency, P50: latency, Mean: latency,
			P95: latency, P99: latency, Max: latency,
			Saves: saves,
		},
	}
}

func TestCompare(t *testing.T) {
	fast := Labeled{"memory", report(1*time.Millisecond, 100, 110, time.Second)}
	slow := Labeled{"sqlite", report(4*time.Millisecond, 100, 140, 2*time.Second)}

	c := Compare(fast, slow)
	for _, m := range latencyMetrics {
		if math.Abs(c.Latency[m]-75) > 1e-9 {
			t.Errorf("Latency[%s] = %v, want 75", m, c.Latency[m])
		}
	}
	if c.Throughput != 100 {
		t.Errorf("Throughput = %v, want 100", c.Throughput)
	}
	// 10 retries against 40.
	if c.RetryReduction != 75 {
		t.Errorf("RetryReduction = %v, want 75", c.RetryReduction)
	}
	if c.Winner != "memory" || c.Wins["memory"] != 8 || c.Wins["sqlite"] != 0 {
		t.Errorf("Winner = %s, Wins = %v", c.Winner, c.Wins)
	}

	var buf bytes.Buffer
	c.Print(&buf)
	for _, want := range []string{"P95", "+75.0%", "Saves/s", "Overall: memory"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("Print() output missing %q:\n%s", want, buf.String())
		}
	}
}

func TestCompareTie(t *testing.T) {
	a := Labeled{"a", report(time.Millisecond, 10, 10, time.Second)}
	b := Labeled{"b", report(time.Millisecond, 10, 10, time.Second)}

	c := Compare(a, b)
	if c.Winner != "tie" {
		t.Errorf("Winner = %s, want tie", c.Winner)
	}
	if (&Report{}).Throughput() != 0 {
		t.Error("Throughput() of an empty report is not 0")
	}
}
