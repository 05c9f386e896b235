// Package bench drives synthetic load against a shard and reports simple
// throughput and latency figures. The CLI exposes it for acceptance runs
// against real backends.
package bench

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rizalgowandy/materialize/internal/persist"
)

// Options shape a benchmark run.
type Options struct {
	// Batches is the number of appends the writer performs.
	Batches int
	// RowsPerBatch is the number of updates per append.
	RowsPerBatch int
	// ValueBytes is the payload size of each value.
	ValueBytes int
	// Snapshots is the number of snapshot reads taken (snapshot and
	// round-trip runs).
	Snapshots int
	// Readers is the number of concurrent snapshot readers.
	Readers int
}

// Defaults fills unset fields with usable values.
func (o *Options) Defaults() {
	if o.Batches == 0 {
		o.Batches = 100
	}
	if o.RowsPerBatch == 0 {
		o.RowsPerBatch = 1000
	}
	if o.ValueBytes == 0 {
		o.ValueBytes = 64
	}
	if o.Snapshots == 0 {
		o.Snapshots = 20
	}
	if o.Readers == 0 {
		o.Readers = 4
	}
}

// Result summarizes one run.
type Result struct {
	Elapsed    time.Duration
	Rows       int
	Bytes      int64
	Operations int
	// P50 and P99 hold per-operation latency percentiles where the run
	// measures individual operations.
	P50 time.Duration
	P99 time.Duration
}

func (r Result) String() string {
	sec := r.Elapsed.Seconds()
	if sec == 0 {
		sec = 1
	}
	s := fmt.Sprintf("%d ops, %d rows, %.1f MiB in %v (%.0f rows/s, %.1f MiB/s)",
		r.Operations, r.Rows, float64(r.Bytes)/(1<<20), r.Elapsed.Round(time.Millisecond),
		float64(r.Rows)/sec, float64(r.Bytes)/(1<<20)/sec)
	if r.P50 > 0 {
		s += fmt.Sprintf(", p50=%v p99=%v", r.P50.Round(time.Microsecond), r.P99.Round(time.Microsecond))
	}
	return s
}

func percentiles(durations []time.Duration) (p50, p99 time.Duration) {
	if len(durations) == 0 {
		return 0, 0
	}
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)*50/100], sorted[len(sorted)*99/100]
}

func makeRows(rng *rand.Rand, n, valueBytes int, ts uint64) []persist.Update {
	rows := make([]persist.Update, n)
	for i := range rows {
		value := make([]byte, valueBytes)
		rng.Read(value)
		rows[i] = persist.Update{
			Key:   []byte(fmt.Sprintf("key-%012d", rng.Intn(n*4))),
			Value: value,
			Time:  ts,
			Diff:  1,
		}
	}
	return rows
}

// Write measures sustained append throughput for a single writer.
func Write(ctx context.Context, shard *persist.Shard, opts Options) (Result, error) {
	opts.Defaults()
	w, err := shard.NewWriter(ctx)
	if err != nil {
		return Result{}, err
	}
	rng := rand.New(rand.NewSource(1))

	var latencies []time.Duration
	var bytes int64
	start := time.Now()
	for i := 0; i < opts.Batches; i++ {
		ts := uint64(i + 1)
		rows := makeRows(rng, opts.RowsPerBatch, opts.ValueBytes, ts)
		for _, r := range rows {
			bytes += int64(len(r.Key) + len(r.Value))
		}
		opStart := time.Now()
		if _, err := w.Append(ctx, rows, ts+1); err != nil {
			return Result{}, fmt.Errorf("bench: append %d: %w", i, err)
		}
		latencies = append(latencies, time.Since(opStart))
	}
	p50, p99 := percentiles(latencies)
	return Result{
		Elapsed:    time.Since(start),
		Rows:       opts.Batches * opts.RowsPerBatch,
		Bytes:      bytes,
		Operations: opts.Batches,
		P50:        p50,
		P99:        p99,
	}, nil
}

// Snapshot loads the shard with data, then measures snapshot read latency
// across concurrent readers.
func Snapshot(ctx context.Context, shard *persist.Shard, opts Options) (Result, error) {
	opts.Defaults()
	if _, err := Write(ctx, shard, opts); err != nil {
		return Result{}, err
	}
	asOf := uint64(opts.Batches)

	perReader := opts.Snapshots / opts.Readers
	if perReader == 0 {
		perReader = 1
	}
	latC := make(chan time.Duration, perReader*opts.Readers)
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for r := 0; r < opts.Readers; r++ {
		g.Go(func() error {
			for i := 0; i < perReader; i++ {
				opStart := time.Now()
				snap, err := shard.Snapshot(gctx, asOf)
				if err != nil {
					return err
				}
				if _, err := snap.Collect(gctx); err != nil {
					snap.Close(context.WithoutCancel(gctx))
					return err
				}
				if err := snap.Close(gctx); err != nil {
					return err
				}
				latC <- time.Since(opStart)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	close(latC)
	var latencies []time.Duration
	for d := range latC {
		latencies = append(latencies, d)
	}
	p50, p99 := percentiles(latencies)
	return Result{
		Elapsed:    time.Since(start),
		Rows:       opts.Batches * opts.RowsPerBatch,
		Operations: len(latencies),
		P50:        p50,
		P99:        p99,
	}, nil
}

// RoundTrip measures commit-to-visibility latency: one writer appends while
// a listener clocks how long each batch takes to arrive.
func RoundTrip(ctx context.Context, shard *persist.Shard, opts Options) (Result, error) {
	opts.Defaults()
	l, err := shard.Listen(ctx, 0)
	if err != nil {
		return Result{}, err
	}
	defer l.Close(context.WithoutCancel(ctx))

	committed := make(chan time.Time, opts.Batches)
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w, err := shard.NewWriter(gctx)
		if err != nil {
			return err
		}
		rng := rand.New(rand.NewSource(2))
		for i := 0; i < opts.Batches; i++ {
			ts := uint64(i + 1)
			rows := makeRows(rng, opts.RowsPerBatch, opts.ValueBytes, ts)
			if _, err := w.Append(gctx, rows, ts+1); err != nil {
				return err
			}
			committed <- time.Now()
		}
		close(committed)
		return nil
	})

	var latencies []time.Duration
	var rows int
	g.Go(func() error {
		for at := range committed {
			ev, err := l.Next(gctx)
			if err != nil {
				return err
			}
			rows += len(ev.Updates)
			latencies = append(latencies, time.Since(at))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	p50, p99 := percentiles(latencies)
	return Result{
		Elapsed:    time.Since(start),
		Rows:       rows,
		Operations: len(latencies),
		P50:        p50,
		P99:        p99,
	}, nil
}
