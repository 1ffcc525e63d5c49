package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/placemaster/internal/extract"
	"github.com/ppiankov/placemaster/internal/model"
)

// Summary aggregates outcomes of an ingestion run
type Summary struct {
	Processed      int `json:"processed"`
	CreatedMasters int `json:"created_masters"`
	Recorded       int `json:"recorded"`
	Duplicates     int `json:"duplicates"`
	Rejected       int `json:"rejected"`
	Invalid        int `json:"invalid"`
	Failed         int `json:"failed"`
	Verified       int `json:"verified"`
	Retries        int `json:"retries"`
}

// Add counts one outcome
func (s *Summary) Add(o *Outcome) {
	if o == nil {
		return
	}
	s.Processed++
	if o.Created {
		s.CreatedMasters++
	}
	if o.Attempts > 1 {
		s.Retries += o.Attempts - 1
	}
	if o.Verified != nil && *o.Verified {
		s.Verified++
	}
	switch o.Status {
	case StatusRecorded:
		s.Recorded++
	case StatusDuplicate:
		s.Duplicates++
	case StatusRejected:
		s.Rejected++
	case StatusInvalid:
		s.Invalid++
	case StatusFailed:
		s.Failed++
	}
}

// Summarize aggregates a set of outcomes
func Summarize(outcomes []*Outcome) Summary {
	var s Summary
	for _, o := range outcomes {
		s.Add(o)
	}
	return s
}

func (s Summary) String() string {
	return fmt.Sprintf("processed=%d created=%d recorded=%d duplicate=%d rejected=%d invalid=%d failed=%d",
		s.Processed, s.CreatedMasters, s.Recorded, s.Duplicates, s.Rejected, s.Invalid, s.Failed)
}

// maxParallelReads bounds concurrent file reads in LoadSpans
const maxParallelReads = 4

// LoadSpans reads span files concurrently and returns their spans in path order,
// dropping repeats of the same span across files.
func LoadSpans(ctx context.Context, paths ...string) ([]model.Span, error) {
	perFile := make([][]model.Span, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelReads)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			spans, err := extract.ReadSpans(path)
			if err != nil {
				return err
			}
			perFile[i] = spans
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var all []model.Span
	for _, spans := range perFile {
		for _, s := range spans {
			key := extract.SpanKey(s)
			if seen[key] {
				continue
			}
			seen[key] = true
			all = append(all, s)
		}
	}
	return all, nil
}
