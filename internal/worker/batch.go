package worker

import (
	"context"
	"fmt"

	"github.com/ppiankov/placemaster/internal/model"
	"github.com/ppiankov/placemaster/internal/pipeline"
)

// SpanProcessor resolves and records a single span
type SpanProcessor interface {
	ProcessSpan(ctx context.Context, span model.Span) (*pipeline.Outcome, error)
}

// SpanJob represents one span to ingest
type SpanJob struct {
	Index     int
	Span      model.Span
	Processor SpanProcessor
}

// Execute executes the span job
func (j *SpanJob) Execute(ctx context.Context) Result {
	outcome, err := j.Processor.ProcessSpan(ctx, j.Span)
	return &SpanResult{
		Index:   j.Index,
		Span:    j.Span,
		Outcome: outcome,
		Error:   err,
	}
}

// SpanResult represents the result of a span job
type SpanResult struct {
	Index   int
	Span    model.Span
	Outcome *pipeline.Outcome
	Error   error
}

// GetError returns the error from the span result
func (r *SpanResult) GetError() error {
	return r.Error
}

// BatchProcessor ingests many spans concurrently
type BatchProcessor struct {
	processor   SpanProcessor
	concurrency int

	// OnResult, when set, is called from the collecting goroutine as each span finishes
	OnResult func(*SpanResult)
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(processor SpanProcessor, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		processor:   processor,
		concurrency: concurrency,
	}
}

// ProcessSpans processes spans concurrently and returns results in input order.
// Spans not started before ctx is cancelled get a result carrying ctx's error.
func (b *BatchProcessor) ProcessSpans(ctx context.Context, spans []model.Span) []*SpanResult {
	results := make([]*SpanResult, len(spans))
	if len(spans) == 0 {
		return results
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	go func() {
		defer pool.Close()
		for i, span := range spans {
			job := &SpanJob{Index: i, Span: span, Processor: b.processor}
			if err := pool.Submit(job); err != nil {
				return
			}
		}
	}()

	for r := range pool.Results() {
		res := r.(*SpanResult)
		results[res.Index] = res
		if b.OnResult != nil {
			b.OnResult(res)
		}
	}

	for i, res := range results {
		if res == nil {
			err := ctx.Err()
			if err == nil {
				err = context.Canceled
			}
			results[i] = &SpanResult{
				Index:   i,
				Span:    spans[i],
				Outcome: &pipeline.Outcome{SpanID: spans[i].SpanID, Text: spans[i].Text, Status: pipeline.StatusFailed, Err: err},
				Error:   err,
			}
		}
	}

	return results
}

// ProcessFiles reads span files and processes their spans concurrently
func (b *BatchProcessor) ProcessFiles(ctx context.Context, paths ...string) ([]*SpanResult, error) {
	spans, err := pipeline.LoadSpans(ctx, paths...)
	if err != nil {
		return nil, fmt.Errorf("read spans: %w", err)
	}

	return b.ProcessSpans(ctx, spans), nil
}

// Outcomes extracts the pipeline outcomes from results
func Outcomes(results []*SpanResult) []*pipeline.Outcome {
	out := make([]*pipeline.Outcome, 0, len(results))
	for _, r := range results {
		if r.Outcome != nil {
			out = append(out, r.Outcome)
		}
	}
	return out
}
