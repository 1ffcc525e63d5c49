// Package pipeline turns extracted spans into resolved masters and recorded mentions.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ppiankov/placemaster/internal/logging"
	"github.com/ppiankov/placemaster/internal/mention"
	"github.com/ppiankov/placemaster/internal/model"
	"github.com/ppiankov/placemaster/internal/oracle"
	"github.com/ppiankov/placemaster/internal/resolve"
)

// Resolver maps a raw place name to its master
type Resolver interface {
	Resolve(ctx context.Context, raw, sentence string) (resolve.Result, error)
}

// Recorder persists mentions of resolved masters
type Recorder interface {
	RecordSpan(ctx context.Context, masterID string, span model.Span) (mention.Receipt, error)
	AttachVerification(ctx context.Context, mentionID string, verified bool, confidence float64) error
}

// MasterReader loads a master by id, used to hand new masters to the projector
type MasterReader interface {
	GetMaster(ctx context.Context, id string) (*model.MasterPlace, error)
}

// Projector receives every master created during ingestion (e.g. a graph export)
type Projector interface {
	MasterCreated(ctx context.Context, master *model.MasterPlace) error
}

// Status is the per-span ingestion result
type Status string

const (
	StatusRecorded  Status = "recorded"
	StatusDuplicate Status = "duplicate"
	StatusRejected  Status = "rejected"
	StatusInvalid   Status = "invalid"
	StatusFailed    Status = "failed"
)

// Outcome describes what happened to one span
type Outcome struct {
	SpanID    string `json:"span_id"`
	Text      string `json:"text"`
	MasterID  string `json:"master_id,omitempty"`
	Created   bool   `json:"created"`
	MentionID string `json:"mention_id,omitempty"`
	Status    Status `json:"status"`
	Attempts  int    `json:"attempts"`
	Verified  *bool  `json:"verified,omitempty"`
	Err       error  `json:"-"`
}

// Options configures a Pipeline. Every field is optional.
type Options struct {
	// Verifier re-checks each new mention in its sentence context
	Verifier  oracle.Validator
	Projector Projector
	Masters   MasterReader
	Retry     oracle.RetryPolicy
	Logger    *logging.Logger
}

// Pipeline orchestrates resolve, record and the optional follow-up steps for each span
type Pipeline struct {
	resolver  Resolver
	recorder  Recorder
	verifier  oracle.Validator
	projector Projector
	masters   MasterReader
	retry     oracle.RetryPolicy
	log       *logging.Logger
}

// New creates a pipeline
func New(r Resolver, rec Recorder, opts Options) *Pipeline {
	retry := opts.Retry
	if retry.MaxAttempts <= 0 {
		retry = oracle.DefaultRetryPolicy()
	}
	return &Pipeline{
		resolver:  r,
		recorder:  rec,
		verifier:  opts.Verifier,
		projector: opts.Projector,
		masters:   opts.Masters,
		retry:     retry,
		log:       logging.OrNop(opts.Logger).With("component", "pipeline"),
	}
}

// ProcessSpan resolves a span and records the mention.
// Rejected and invalid spans are reported in the outcome and do not return an error.
// The returned error is non-nil only for failures the caller should see (store errors,
// exhausted retries, cancellation).
func (p *Pipeline) ProcessSpan(ctx context.Context, span model.Span) (*Outcome, error) {
	out := &Outcome{SpanID: span.SpanID, Text: span.Text}

	var res resolve.Result
	err := oracle.Retry(ctx, p.retry, func(ctx context.Context) error {
		out.Attempts++
		var rerr error
		// Transient oracle failures unwrap to oracle.TransientError, which Retry retries
		res, rerr = p.resolver.Resolve(ctx, span.Text, span.Context)
		return rerr
	})

	switch {
	case err == nil:
	case errors.Is(err, resolve.ErrRejectedPlace):
		out.Status = StatusRejected
		p.log.Debug("span rejected", "span_id", span.SpanID, "text", span.Text)
		return out, nil
	case errors.Is(err, resolve.ErrInvalidInput):
		out.Status = StatusInvalid
		p.log.Debug("span invalid", "span_id", span.SpanID, "text", span.Text)
		return out, nil
	default:
		out.Status = StatusFailed
		out.Err = err
		return out, fmt.Errorf("resolve %q: %w", span.Text, err)
	}

	out.MasterID = res.MasterID
	out.Created = res.Created
	if res.Created {
		p.project(ctx, res.MasterID)
	}

	receipt, err := p.recorder.RecordSpan(ctx, res.MasterID, span)
	if err != nil {
		if errors.Is(err, mention.ErrInvalidMention) {
			out.Status = StatusInvalid
			out.Err = err
			return out, nil
		}
		out.Status = StatusFailed
		out.Err = err
		return out, fmt.Errorf("record %q: %w", span.Text, err)
	}
	out.MentionID = receipt.MentionID
	if receipt.Duplicate {
		out.Status = StatusDuplicate
		return out, nil
	}
	out.Status = StatusRecorded

	if p.verifier != nil {
		p.verify(ctx, span, out)
	}
	return out, nil
}

// verify checks a new mention in its sentence. Failures are logged only.
func (p *Pipeline) verify(ctx context.Context, span model.Span, out *Outcome) {
	v, err := p.verifier.Validate(ctx, span.Text, span.Context)
	if err != nil {
		p.log.Warn("mention verification failed", "mention_id", out.MentionID, "error", err)
		return
	}
	if v == nil {
		return
	}
	if err := p.recorder.AttachVerification(ctx, out.MentionID, v.IsValid, v.Confidence); err != nil {
		p.log.Warn("store verification failed", "mention_id", out.MentionID, "error", err)
		return
	}
	verified := v.IsValid
	out.Verified = &verified
}

func (p *Pipeline) project(ctx context.Context, masterID string) {
	if p.projector == nil || p.masters == nil {
		return
	}
	master, err := p.masters.GetMaster(ctx, masterID)
	if err != nil {
		p.log.Warn("load master for projection failed", "master_id", masterID, "error", err)
		return
	}
	if err := p.projector.MasterCreated(ctx, master); err != nil {
		p.log.Warn("projection failed", "master_id", masterID, "error", err)
	}
}
