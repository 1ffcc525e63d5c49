// Package mention persists place mentions and keeps master usage statistics
// consistent with them.
package mention

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ppiankov/placemaster/internal/logging"
	"github.com/ppiankov/placemaster/internal/model"
	"github.com/ppiankov/placemaster/internal/observability"
	"github.com/ppiankov/placemaster/internal/store"
)

// ErrInvalidMention is returned for a mention with missing ids, text or a bad position
var ErrInvalidMention = errors.New("invalid mention")

// Store is the persistence the recorder needs
type Store interface {
	RecordMention(ctx context.Context, m *model.Mention, at time.Time) (string, bool, error)
	FindMention(ctx context.Context, spanID, masterID, matchedText string) (*model.Mention, error)
	AttachVerification(ctx context.Context, mentionID string, v model.Verification) error
}

// Receipt is the outcome of recording a mention
type Receipt struct {
	MentionID string
	Duplicate bool // The triple was already recorded, usage unchanged
}

// Recorder records mentions idempotently on (span_id, master_id, matched_text)
type Recorder struct {
	store   Store
	log     *logging.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// NewRecorder creates a recorder over st. log and metrics may be nil.
func NewRecorder(st Store, log *logging.Logger, metrics *observability.Metrics) *Recorder {
	return &Recorder{
		store:   st,
		log:     logging.OrNop(log).With("component", "mention"),
		metrics: metrics,
		tracer:  observability.Tracer(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Record stores a mention and returns its id. Recording the same triple again returns
// the existing id without touching usage statistics.
func (r *Recorder) Record(ctx context.Context, masterID, spanID, matchedText string, pos model.Position, meta model.ExtractionMeta) (string, error) {
	rec, err := r.record(ctx, masterID, spanID, matchedText, pos, meta)
	return rec.MentionID, err
}

// RecordSpan records span as a mention of masterID
func (r *Recorder) RecordSpan(ctx context.Context, masterID string, span model.Span) (Receipt, error) {
	return r.record(ctx, masterID, span.SpanID, span.Text, span.Position(), span.Meta())
}

func (r *Recorder) record(ctx context.Context, masterID, spanID, matchedText string, pos model.Position, meta model.ExtractionMeta) (Receipt, error) {
	ctx, span := r.tracer.Start(ctx, "record", trace.WithAttributes(
		attribute.String("mention.span_id", spanID),
		attribute.String("mention.master_id", masterID),
	))
	defer span.End()

	if err := validate(masterID, spanID, matchedText, pos, meta); err != nil {
		r.metrics.RecordMention(observability.OutcomeInvalid)
		span.SetStatus(codes.Error, "invalid")
		return Receipt{}, err
	}

	m := &model.Mention{
		SpanID:               spanID,
		MasterID:             masterID,
		MatchedText:          matchedText,
		StartPosition:        pos.Start,
		EndPosition:          pos.End,
		ExtractionConfidence: meta.Confidence,
		ExtractionMethod:     meta.Method,
	}

	id, created, err := r.store.RecordMention(ctx, m, r.now())
	if errors.Is(err, store.ErrConflict) {
		// Concurrent insert of the same triple committed first
		existing, findErr := r.store.FindMention(ctx, spanID, masterID, matchedText)
		if findErr != nil {
			err = fmt.Errorf("re-read mention after conflict: %w", findErr)
		} else {
			id, created, err = existing.ID, false, nil
		}
	}
	if err != nil {
		r.metrics.RecordMention(observability.OutcomeError)
		span.RecordError(err)
		span.SetStatus(codes.Error, "record failed")
		return Receipt{}, fmt.Errorf("record mention %s/%s: %w", spanID, masterID, err)
	}

	if created {
		r.metrics.RecordMention(observability.OutcomeRecorded)
		r.log.Debug("mention recorded", "mention_id", id, "span_id", spanID, "master_id", masterID)
	} else {
		r.metrics.RecordMention(observability.OutcomeDuplicate)
		r.log.Debug("duplicate mention", "mention_id", id, "span_id", spanID)
	}
	span.SetAttributes(attribute.Bool("mention.duplicate", !created))
	return Receipt{MentionID: id, Duplicate: !created}, nil
}

// AttachVerification stores the result of a context check on a recorded mention
func (r *Recorder) AttachVerification(ctx context.Context, mentionID string, verified bool, confidence float64) error {
	if confidence < 0 || confidence > 1 {
		return fmt.Errorf("%w: verification confidence %v outside [0,1]", ErrInvalidMention, confidence)
	}
	return r.store.AttachVerification(ctx, mentionID, model.Verification{
		Verified:   verified,
		Confidence: confidence,
		At:         r.now(),
	})
}

func validate(masterID, spanID, matchedText string, pos model.Position, meta model.ExtractionMeta) error {
	switch {
	case strings.TrimSpace(masterID) == "":
		return fmt.Errorf("%w: empty master id", ErrInvalidMention)
	case strings.TrimSpace(spanID) == "":
		return fmt.Errorf("%w: empty span id", ErrInvalidMention)
	case strings.TrimSpace(matchedText) == "":
		return fmt.Errorf("%w: empty matched text", ErrInvalidMention)
	case pos.Start < 0 || pos.End < pos.Start:
		return fmt.Errorf("%w: position [%d,%d)", ErrInvalidMention, pos.Start, pos.End)
	case meta.Confidence != nil && (*meta.Confidence < 0 || *meta.Confidence > 1):
		return fmt.Errorf("%w: extraction confidence %v", ErrInvalidMention, *meta.Confidence)
	}
	return nil
}
