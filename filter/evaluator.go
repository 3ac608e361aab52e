package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// EvaluatorOption configures an evaluator
type EvaluatorOption func(*ConcurrentEvaluator)

// WithWorkers sets the number of worker goroutines
func WithWorkers(workers int) EvaluatorOption {
	return func(e *ConcurrentEvaluator) {
		if workers > 0 {
			e.workerCount = workers
		}
	}
}

// WithBatchSize sets the batch size for chunked processing
func WithBatchSize(size int) EvaluatorOption {
	return func(e *ConcurrentEvaluator) {
		if size > 0 {
			e.batchSize = size
		}
	}
}

// ConcurrentEvaluator evaluates filters over record lists in chunks
type ConcurrentEvaluator struct {
	workerCount int
	batchSize   int
}

// NewConcurrentEvaluator creates a new concurrent evaluator
func NewConcurrentEvaluator(opts ...EvaluatorOption) *ConcurrentEvaluator {
	e := &ConcurrentEvaluator{
		workerCount: runtime.GOMAXPROCS(0),
		batchSize:   100,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Evaluate returns the records matching filter, in input order.
// The first evaluation error aborts the run.
func (e *ConcurrentEvaluator) Evaluate(ctx context.Context, filter CompiledFilter, records []Record) ([]Record, error) {
	if len(records) == 0 {
		return []Record{}, nil
	}

	// For small lists, don't bother with concurrency
	if len(records) < e.batchSize {
		return evaluateChunk(ctx, filter, records)
	}

	return e.evaluateConcurrent(ctx, filter, records)
}

// EvaluateBatch evaluates several named filters against the same records
func (e *ConcurrentEvaluator) EvaluateBatch(ctx context.Context, filters map[string]CompiledFilter, records []Record) (map[string][]Record, error) {
	results := make(map[string][]Record, len(filters))
	if len(filters) == 0 {
		return results, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workerCount)

	var mu sync.Mutex
	for name, filter := range filters {
		g.Go(func() error {
			matches, err := e.Evaluate(ctx, filter, records)
			if err != nil {
				return fmt.Errorf("filter '%s': %w", name, err)
			}

			mu.Lock()
			results[name] = matches
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *ConcurrentEvaluator) evaluateConcurrent(ctx context.Context, filter CompiledFilter, records []Record) ([]Record, error) {
	chunkSize := max(len(records)/e.workerCount, e.batchSize)
	chunks := (len(records) + chunkSize - 1) / chunkSize

	// Each chunk writes only its own slot, so order is kept without locking
	results := make([][]Record, chunks)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workerCount)

	for i := range chunks {
		start := i * chunkSize
		end := min(start+chunkSize, len(records))

		g.Go(func() error {
			matches, err := evaluateChunk(ctx, filter, records[start:end])
			if err != nil {
				return err
			}
			results[i] = matches
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, matches := range results {
		total += len(matches)
	}

	all := make([]Record, 0, total)
	for _, matches := range results {
		all = append(all, matches...)
	}
	return all, nil
}

func evaluateChunk(ctx context.Context, filter CompiledFilter, records []Record) ([]Record, error) {
	matches := make([]Record, 0, len(records)/10)
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := filter.Match(record)
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, record)
		}
	}
	return matches, nil
}

// DecodeRecords turns raw API entities into records
func DecodeRecords(raw []json.RawMessage) ([]Record, error) {
	records := make([]Record, 0, len(raw))
	for i, item := range raw {
		var r Record
		if err := json.Unmarshal(item, &r); err != nil {
			return nil, fmt.Errorf("failed to decode record %d: %w", i, err)
		}
		records = append(records, r)
	}
	return records, nil
}
