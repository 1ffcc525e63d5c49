package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/placemaster/internal/mention"
	"github.com/ppiankov/placemaster/internal/model"
	"github.com/ppiankov/placemaster/internal/oracle"
	"github.com/ppiankov/placemaster/internal/resolve"
	"github.com/ppiankov/placemaster/internal/store"
)

var fastRetry = oracle.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}

type scriptedResolver struct {
	calls atomic.Int32
	errs  []error // Returned on successive calls, then success
	res   resolve.Result
}

func (s *scriptedResolver) Resolve(_ context.Context, raw, _ string) (resolve.Result, error) {
	n := int(s.calls.Add(1)) - 1
	if n < len(s.errs) && s.errs[n] != nil {
		return resolve.Result{}, s.errs[n]
	}
	return s.res, nil
}

func newIntegration(t *testing.T, verifier oracle.Validator, projector Projector) (*Pipeline, *store.Store) {
	t.Helper()
	st, err := store.Open(model.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "pm.db") + "?_busy_timeout=5000",
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	r := resolve.New(st, resolve.Options{
		Validator: oracle.ValidatorFunc(func(ctx context.Context, name, sentence string) (*oracle.Validation, error) {
			if name == "走る" {
				return &oracle.Validation{IsValid: false, Confidence: 0.9, Reasoning: "verb"}, nil
			}
			return &oracle.Validation{IsValid: true, Confidence: 0.9}, nil
		}),
	})
	p := New(r, mention.NewRecorder(st, nil, nil), Options{
		Verifier:  verifier,
		Projector: projector,
		Masters:   st,
		Retry:     fastRetry,
	})
	return p, st
}

func TestProcessSpan_RecordsAndDeduplicates(t *testing.T) {
	var buf bytes.Buffer
	proj := NewJSONLProjector(&buf)
	p, st := newIntegration(t, nil, proj)
	ctx := context.Background()

	span := model.Span{SpanID: "s1", Text: "東京", Start: 0, End: 2, Context: "東京に行った"}
	out, err := p.ProcessSpan(ctx, span)
	require.NoError(t, err)
	assert.Equal(t, StatusRecorded, out.Status)
	assert.True(t, out.Created)
	assert.NotEmpty(t, out.MentionID)
	assert.Equal(t, 1, out.Attempts)

	again, err := p.ProcessSpan(ctx, span)
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, again.Status)
	assert.Equal(t, out.MasterID, again.MasterID)
	assert.Equal(t, out.MentionID, again.MentionID)
	assert.False(t, again.Created)

	master, err := st.GetMaster(ctx, out.MasterID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), master.UsageCount)

	assert.Equal(t, 1, proj.Count())
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, out.MasterID, line["id"])
	assert.Equal(t, "東京", line["display_name"])
}

func TestProcessSpan_RejectedIsSkipped(t *testing.T) {
	p, _ := newIntegration(t, nil, nil)

	out, err := p.ProcessSpan(context.Background(), model.Span{SpanID: "s1", Text: "走る", Start: 0, End: 2})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, out.Status)
	assert.Empty(t, out.MentionID)
}

func TestProcessSpan_InvalidIsSkipped(t *testing.T) {
	p, _ := newIntegration(t, nil, nil)

	out, err := p.ProcessSpan(context.Background(), model.Span{SpanID: "s1", Text: "   ", Start: 0, End: 3})
	require.NoError(t, err)
	assert.Equal(t, StatusInvalid, out.Status)
}

func TestProcessSpan_Verification(t *testing.T) {
	var calls atomic.Int32
	verifier := oracle.ValidatorFunc(func(ctx context.Context, name, sentence string) (*oracle.Validation, error) {
		calls.Add(1)
		return &oracle.Validation{IsValid: sentence != "京都駅で東京ばな奈を買った", Confidence: 0.8}, nil
	})
	p, st := newIntegration(t, verifier, nil)
	ctx := context.Background()

	out, err := p.ProcessSpan(ctx, model.Span{SpanID: "s1", Text: "東京", Start: 4, End: 6, Context: "京都駅で東京ばな奈を買った"})
	require.NoError(t, err)
	require.NotNil(t, out.Verified)
	assert.False(t, *out.Verified)

	m, err := st.GetMention(ctx, out.MentionID)
	require.NoError(t, err)
	require.NotNil(t, m.VerificationTimestamp)
	assert.False(t, m.Verified)
	require.NotNil(t, m.VerificationConfidence)
	assert.InDelta(t, 0.8, *m.VerificationConfidence, 1e-9)

	// Duplicates are not verified again
	_, err = p.ProcessSpan(ctx, model.Span{SpanID: "s1", Text: "東京", Start: 4, End: 6, Context: "京都駅で東京ばな奈を買った"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestProcessSpan_RetriesTransient(t *testing.T) {
	transient := &resolve.TransientOracleError{Oracle: "validation", Err: oracle.Transient("openai", 503, errors.New("unavailable"))}
	r := &scriptedResolver{
		errs: []error{transient, transient},
		res:  resolve.Result{MasterID: "m1", Created: true},
	}
	rec := &fakeRecorder{}
	p := New(r, rec, Options{Retry: fastRetry})

	out, err := p.ProcessSpan(context.Background(), model.Span{SpanID: "s1", Text: "札幌", End: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, StatusRecorded, out.Status)
	assert.Equal(t, "m1", rec.lastMaster)
}

func TestProcessSpan_RetriesExhausted(t *testing.T) {
	transient := &resolve.TransientOracleError{Oracle: "validation", Err: oracle.Transient("openai", 429, errors.New("rate limited"))}
	r := &scriptedResolver{errs: []error{transient, transient, transient, transient}}
	p := New(r, &fakeRecorder{}, Options{Retry: fastRetry})

	out, err := p.ProcessSpan(context.Background(), model.Span{SpanID: "s1", Text: "札幌", End: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, resolve.ErrTransientOracle)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, 3, out.Attempts)
}

func TestProcessSpan_PermanentErrorNotRetried(t *testing.T) {
	r := &scriptedResolver{errs: []error{errors.New("disk full")}}
	p := New(r, &fakeRecorder{}, Options{Retry: fastRetry})

	out, err := p.ProcessSpan(context.Background(), model.Span{SpanID: "s1", Text: "札幌", End: 2})
	require.Error(t, err)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, StatusFailed, out.Status)
}

type fakeRecorder struct {
	lastMaster string
}

func (f *fakeRecorder) RecordSpan(_ context.Context, masterID string, span model.Span) (mention.Receipt, error) {
	f.lastMaster = masterID
	return mention.Receipt{MentionID: "mention-" + span.SpanID}, nil
}

func (f *fakeRecorder) AttachVerification(context.Context, string, bool, float64) error {
	return nil
}

func TestSummarize(t *testing.T) {
	yes := true
	s := Summarize([]*Outcome{
		{Status: StatusRecorded, Created: true, Attempts: 2, Verified: &yes},
		{Status: StatusDuplicate, Attempts: 1},
		{Status: StatusRejected, Attempts: 1},
		{Status: StatusInvalid},
		{Status: StatusFailed, Attempts: 3},
		nil,
	})
	assert.Equal(t, Summary{
		Processed:      5,
		CreatedMasters: 1,
		Recorded:       1,
		Duplicates:     1,
		Rejected:       1,
		Invalid:        1,
		Failed:         1,
		Verified:       1,
		Retries:        3,
	}, s)
	assert.Contains(t, s.String(), "processed=5")
}

func TestLoadSpans(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.jsonl")
	b := filepath.Join(dir, "b.tsv")
	require.NoError(t, os.WriteFile(a, []byte(strings.Join([]string{
		`{"span_id": "s1", "text": "東京", "start": 0, "end": 2}`,
		`{"span_id": "s2", "text": "大阪", "start": 0, "end": 2}`,
	}, "\n")), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("s2\t大阪\t0\t2\ns3\t福岡\t0\t2\n"), 0o644))

	spans, err := LoadSpans(context.Background(), a, b)
	require.NoError(t, err)
	require.Len(t, spans, 3)
	assert.Equal(t, []string{"東京", "大阪", "福岡"}, []string{spans[0].Text, spans[1].Text, spans[2].Text})

	_, err = LoadSpans(context.Background(), a, filepath.Join(dir, "missing.jsonl"))
	assert.Error(t, err)
}
