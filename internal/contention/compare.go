package contention

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Labeled is a report tagged with the backend it ran against.
type Labeled struct {
	Label  string
	Report *Report
}

// Comparison sets two runs with the same options side by side.
type Comparison struct {
	A, B Labeled

	// Latency holds the improvement of A over B per metric, in percent.
	// Positive means A was faster.
	Latency map[string]float64
	// Throughput is the improvement in saves per second of A over B.
	Throughput float64
	// RetryReduction is how many fewer retries A needed, in percent.
	RetryReduction float64
	Wins           map[string]int
	Winner         string // A.Label, B.Label or "tie"
}

// latencyMetrics lists the compared latency statistics in display order.
var latencyMetrics = []string{"min", "p50", "mean", "p95", "p99", "max"}

func (s LatencyStats) metric(name string) time.Duration {
	switch name {
	case "min":
		return s.Min
	case "p50":
		return s.P50
	case "mean":
		return s.Mean
	case "p95":
		return s.P95
	case "p99":
		return s.P99
	case "max":
		return s.Max
	}
	return 0
}

// Throughput returns saves per second.
func (r *Report) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Latency.Saves) / r.Elapsed.Seconds()
}

// Compare scores a against b.
func Compare(a, b Labeled) *Comparison {
	c := &Comparison{
		A:       a,
		B:       b,
		Latency: make(map[string]float64, len(latencyMetrics)),
		Wins:    map[string]int{},
	}
	score := func(improvement float64) {
		switch {
		case improvement > 0:
			c.Wins[a.Label]++
		case improvement < 0:
			c.Wins[b.Label]++
		}
	}

	for _, m := range latencyMetrics {
		c.Latency[m] = improvement(
			a.Report.Latency.metric(m).Seconds(),
			b.Report.Latency.metric(m).Seconds(),
		)
		score(c.Latency[m])
	}

	if bt := b.Report.Throughput(); bt > 0 {
		c.Throughput = (a.Report.Throughput() - bt) / bt * 100
	}
	score(c.Throughput)

	c.RetryReduction = improvement(float64(a.Report.Retries()), float64(b.Report.Retries()))
	score(c.RetryReduction)

	switch {
	case c.Wins[a.Label] > c.Wins[b.Label]:
		c.Winner = a.Label
	case c.Wins[b.Label] > c.Wins[a.Label]:
		c.Winner = b.Label
	default:
		c.Winner = "tie"
	}
	return c
}

// improvement is the percentage by which a is lower than b.
func improvement(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return (b - a) / b * 100
}

// Print writes the comparison as a table to w.
func (c *Comparison) Print(w io.Writer) {
	line := strings.Repeat("-", 60)
	fmt.Fprintf(w, "%-10s | %-12s | %-12s | %s\n", "Metric", c.A.Label, c.B.Label, "Difference")
	fmt.Fprintln(w, line)
	for _, m := range latencyMetrics {
		fmt.Fprintf(w, "%-10s | %-12v | %-12v | %s\n", strings.ToUpper(m),
			c.A.Report.Latency.metric(m), c.B.Report.Latency.metric(m), signed(c.Latency[m]))
	}
	fmt.Fprintf(w, "%-10s | %-12.1f | %-12.1f | %s\n", "Saves/s",
		c.A.Report.Throughput(), c.B.Report.Throughput(), signed(c.Throughput))
	fmt.Fprintf(w, "%-10s | %-12d | %-12d | %s\n", "Retries",
		c.A.Report.Retries(), c.B.Report.Retries(), signed(c.RetryReduction))
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "Wins: %s %d, %s %d. Overall: %s\n",
		c.A.Label, c.Wins[c.A.Label], c.B.Label, c.Wins[c.B.Label], c.Winner)
}

func signed(v float64) string {
	if v > 0 {
		return fmt.Sprintf("+%.1f%%", v)
	}
	return fmt.Sprintf("%.1f%%", v)
}
