// Package contention measures how document saves behave when many writers
// change the same document at once.
//
// Every writer holds its own copy of one shared document and, per round,
// increments a counter, raises a high-water mark, appends to a log, bumps
// its own map entry and overwrites a label, then saves. Guarded writes that
// lose to another writer are retried by Save, so after the run the stored
// document must account for every round.
package contention

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mschirtzinger/docsync/internal/docstore"
	"github.com/mschirtzinger/docsync/internal/odm"
	"github.com/mschirtzinger/docsync/internal/odm/update"
)

// Schema is the shape of the contended document.
var Schema = odm.MustSchema("Contention",
	odm.Int("counter", odm.Default(0)),
	odm.Int("peak", odm.Default(0)),
	odm.String("label"),
	odm.ListOf("events", odm.String("")),
	odm.MapOf("writers", odm.Int("")),
)

// Options controls a run.
type Options struct {
	Writers int
	Rounds  int // saves per writer
	// RetryLimit is passed to every save. Zero retries until the write lands.
	RetryLimit int
}

// DefaultOptions returns a small but contended run.
func DefaultOptions() Options {
	return Options{Writers: 8, Rounds: 25}
}

// LatencyStats captures save latencies.
type LatencyStats struct {
	Min   time.Duration
	Max   time.Duration
	Mean  time.Duration
	P50   time.Duration // Median
	P95   time.Duration
	P99   time.Duration
	Saves int
}

// Report is the outcome of a run.
type Report struct {
	Options  Options
	ID       string
	Elapsed  time.Duration
	Latency  LatencyStats
	Attempts int // round trips over all saves
	// MaxAttempts is the largest number of round trips a single save needed.
	MaxAttempts int
	// Final is the stored document after every writer finished.
	Final docstore.Document
}

// Retries returns the round trips spent on lost guards.
func (r *Report) Retries() int {
	return r.Attempts - r.Latency.Saves
}

// Run inserts a fresh document into the Contention collection of client and
// lets opts.Writers writers save opts.Rounds rounds each against it.
func Run(ctx context.Context, client docstore.Client, opts Options, collOpts ...odm.CollectionOption) (*Report, error) {
	if opts.Writers < 1 || opts.Rounds < 1 {
		return nil, fmt.Errorf("writers and rounds must be positive")
	}

	coll := odm.NewCollection(client, Schema, collOpts...)
	seed, err := coll.New(nil)
	if err != nil {
		return nil, err
	}
	if err := seed.Save(ctx, 0); err != nil {
		return nil, fmt.Errorf("failed to insert document: %w", err)
	}
	id := seed.ID()

	var mu sync.Mutex
	var durations []time.Duration
	var attempts, maxAttempts int

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < opts.Writers; w++ {
		g.Go(func() error {
			doc, err := coll.Get(gctx, id)
			if err != nil {
				return fmt.Errorf("writer %d: %w", w, err)
			}
			key := writerKey(w)

			local := make([]time.Duration, 0, opts.Rounds)
			localAttempts, localMax := 0, 0
			for r := 0; r < opts.Rounds; r++ {
				if err := step(doc, key, w, r); err != nil {
					return fmt.Errorf("writer %d round %d: %w", w, r, err)
				}
				saveStart := time.Now()
				report, err := doc.Sync(gctx, opts.RetryLimit)
				local = append(local, time.Since(saveStart))
				if err != nil {
					return fmt.Errorf("writer %d round %d: %w", w, r, err)
				}
				localAttempts += report.Attempts
				localMax = max(localMax, report.Attempts)
			}

			mu.Lock()
			durations = append(durations, local...)
			attempts += localAttempts
			maxAttempts = max(maxAttempts, localMax)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	final, err := coll.Store().FindOne(ctx, docstore.Filter{docstore.IDKey: id})
	if err != nil {
		return nil, fmt.Errorf("failed to read final document: %w", err)
	}

	return &Report{
		Options:     opts,
		ID:          id,
		Elapsed:     elapsed,
		Latency:     computeLatencyStats(durations),
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		Final:       final,
	}, nil
}

// step applies one round of changes for writer w.
func step(doc *odm.Document, key string, w, r int) error {
	if err := doc.Set("counter", update.Inc(1)); err != nil {
		return err
	}
	if err := doc.Set("peak", update.Max(mark(w, r))); err != nil {
		return err
	}
	event := fmt.Sprintf("%s-%d", key, r)
	if err := doc.Set("label", event); err != nil {
		return err
	}
	if err := doc.Append("events", event); err != nil {
		return err
	}
	if r == 0 {
		return doc.Set("writers."+key, 1)
	}
	return doc.Set("writers."+key, update.Inc(1))
}

func writerKey(w int) string { return fmt.Sprintf("w%d", w) }

// mark is the high-water value writer w reports in round r.
func mark(w, r int) int64 { return int64(r*1000 + w) }

// Verify checks that the final document reflects every round of every
// writer and returns a description of each lost update.
func (r *Report) Verify() []string {
	var lost []string
	total := int64(r.Options.Writers * r.Options.Rounds)

	if got := r.Final["counter"]; got != total {
		lost = append(lost, fmt.Sprintf("counter = %v, want %d", got, total))
	}
	if got, want := r.Final["peak"], mark(r.Options.Writers-1, r.Options.Rounds-1); got != want {
		lost = append(lost, fmt.Sprintf("peak = %v, want %d", got, want))
	}

	events, _ := r.Final["events"].([]any)
	if int64(len(events)) != total {
		lost = append(lost, fmt.Sprintf("%d events, want %d", len(events), total))
	}
	seen := make(map[any]bool, len(events))
	for _, e := range events {
		if seen[e] {
			lost = append(lost, fmt.Sprintf("event %v recorded twice", e))
		}
		seen[e] = true
	}
	if label := r.Final["label"]; !seen[label] {
		lost = append(lost, fmt.Sprintf("label %v is not a recorded event", label))
	}

	writers, _ := r.Final["writers"].(map[string]any)
	for w := 0; w < r.Options.Writers; w++ {
		key := writerKey(w)
		if got := writers[key]; got != int64(r.Options.Rounds) {
			lost = append(lost, fmt.Sprintf("writers.%s = %v, want %d", key, got, r.Options.Rounds))
		}
	}
	return lost
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) LatencyStats {
	if len(durations) == 0 {
		return LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return LatencyStats{
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / time.Duration(len(durations)),
		P50:   sorted[len(sorted)*50/100],
		P95:   sorted[len(sorted)*95/100],
		P99:   sorted[len(sorted)*99/100],
		Saves: len(durations),
	}
}

// Print writes a human readable summary of the report to w.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "Contention on %s:\n", r.ID)
	fmt.Fprintf(w, "  Writers:       %d x %d rounds\n", r.Options.Writers, r.Options.Rounds)
	fmt.Fprintf(w, "  Elapsed:       %v\n", r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  Saves:         %d\n", r.Latency.Saves)
	fmt.Fprintf(w, "  Retries:       %d (max %d round trips for one save)\n", r.Retries(), r.MaxAttempts)
	fmt.Fprintf(w, "Save latency:\n")
	fmt.Fprintf(w, "  Min:           %v\n", r.Latency.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", r.Latency.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", r.Latency.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", r.Latency.P95)
	fmt.Fprintf(w, "  P99:           %v\n", r.Latency.P99)
	fmt.Fprintf(w, "  Max:           %v\n", r.Latency.Max)
}
