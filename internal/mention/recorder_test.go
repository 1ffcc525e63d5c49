package mention

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/placemaster/internal/model"
	"github.com/ppiankov/placemaster/internal/observability"
	"github.com/ppiankov/placemaster/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "mentions.db") + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	s, err := store.Open(model.DatabaseConfig{Driver: "sqlite", DSN: dsn}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newMaster(t *testing.T, s *store.Store, key string) string {
	t.Helper()
	m := &model.MasterPlace{NormalizedName: key, DisplayName: key}
	require.NoError(t, s.CreateMaster(context.Background(), m))
	return m.ID
}

func TestRecord_Idempotent(t *testing.T) {
	s := newTestStore(t)
	r := NewRecorder(s, nil, nil)
	ctx := context.Background()
	masterID := newMaster(t, s, "東京")

	conf := 0.9
	meta := model.ExtractionMeta{Confidence: &conf, Method: "ginza"}

	first, err := r.Record(ctx, masterID, "s1", "東京", model.Position{Start: 0, End: 2}, meta)
	require.NoError(t, err)
	second, err := r.Record(ctx, masterID, "s1", "東京", model.Position{Start: 0, End: 2}, meta)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	m, err := s.GetMaster(ctx, masterID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, m.UsageCount)
	require.NotNil(t, m.FirstUsedAt)
	require.NotNil(t, m.LastUsedAt)

	stored, err := s.GetMention(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "ginza", stored.ExtractionMethod)
	require.NotNil(t, stored.ExtractionConfidence)
	assert.InDelta(t, 0.9, *stored.ExtractionConfidence, 1e-9)
}

func TestRecordSpan_DistinctTextsCount(t *testing.T) {
	s := newTestStore(t)
	r := NewRecorder(s, nil, nil)
	ctx := context.Background()
	masterID := newMaster(t, s, "東京")

	spans := []model.Span{
		{SpanID: "s1", Text: "東京", Start: 0, End: 2},
		{SpanID: "s1", Text: "東京都", Start: 5, End: 8},
		{SpanID: "s2", Text: "とうきょう", Start: 0, End: 5},
		{SpanID: "s2", Text: "とうきょう", Start: 0, End: 5},
	}
	var dups int
	for _, sp := range spans {
		rec, err := r.RecordSpan(ctx, masterID, sp)
		require.NoError(t, err)
		if rec.Duplicate {
			dups++
		}
	}
	assert.Equal(t, 1, dups)

	m, err := s.GetMaster(ctx, masterID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, m.UsageCount)

	n, err := s.CountMentions(ctx, masterID)
	require.NoError(t, err)
	assert.Equal(t, m.UsageCount, n)
}

func TestRecord_ConcurrentRetries(t *testing.T) {
	s := newTestStore(t)
	r := NewRecorder(s, nil, nil)
	ctx := context.Background()
	masterID := newMaster(t, s, "大阪")

	texts := []string{"大阪", "大坂", "おおさか"}
	var wg sync.WaitGroup
	errs := make(chan error, len(texts)*6)
	for attempt := 0; attempt < 6; attempt++ {
		for _, text := range texts {
			wg.Add(1)
			go func(text string) {
				defer wg.Done()
				_, err := r.Record(ctx, masterID, "span-7", text, model.Position{Start: 0, End: len([]rune(text))}, model.ExtractionMeta{})
				errs <- err
			}(text)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	m, err := s.GetMaster(ctx, masterID)
	require.NoError(t, err)
	assert.EqualValues(t, len(texts), m.UsageCount)
}

func TestRecord_Validation(t *testing.T) {
	s := newTestStore(t)
	r := NewRecorder(s, nil, nil)
	ctx := context.Background()
	masterID := newMaster(t, s, "京都")
	bad := 1.5

	tests := []struct {
		name     string
		masterID string
		spanID   string
		text     string
		pos      model.Position
		meta     model.ExtractionMeta
	}{
		{"empty master", "", "s1", "京都", model.Position{}, model.ExtractionMeta{}},
		{"empty span", masterID, " ", "京都", model.Position{}, model.ExtractionMeta{}},
		{"empty text", masterID, "s1", "", model.Position{}, model.ExtractionMeta{}},
		{"negative start", masterID, "s1", "京都", model.Position{Start: -1, End: 2}, model.ExtractionMeta{}},
		{"end before start", masterID, "s1", "京都", model.Position{Start: 3, End: 2}, model.ExtractionMeta{}},
		{"confidence out of range", masterID, "s1", "京都", model.Position{}, model.ExtractionMeta{Confidence: &bad}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Record(ctx, tt.masterID, tt.spanID, tt.text, tt.pos, tt.meta)
			assert.ErrorIs(t, err, ErrInvalidMention)
		})
	}
}

func TestRecord_UnknownMaster(t *testing.T) {
	s := newTestStore(t)
	r := NewRecorder(s, nil, nil)

	_, err := r.Record(context.Background(), "missing", "s1", "東京", model.Position{}, model.ExtractionMeta{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAttachVerification(t *testing.T) {
	s := newTestStore(t)
	r := NewRecorder(s, nil, nil)
	ctx := context.Background()
	masterID := newMaster(t, s, "神戸")

	id, err := r.Record(ctx, masterID, "s1", "神戸", model.Position{Start: 0, End: 2}, model.ExtractionMeta{})
	require.NoError(t, err)
	require.NoError(t, r.AttachVerification(ctx, id, true, 0.8))

	m, err := s.GetMention(ctx, id)
	require.NoError(t, err)
	assert.True(t, m.Verified)
	require.NotNil(t, m.VerificationConfidence)
	assert.InDelta(t, 0.8, *m.VerificationConfidence, 1e-9)

	assert.ErrorIs(t, r.AttachVerification(ctx, id, true, 2), ErrInvalidMention)
	assert.ErrorIs(t, r.AttachVerification(ctx, "missing", true, 0.5), store.ErrNotFound)
}

func TestRecord_Metrics(t *testing.T) {
	s := newTestStore(t)
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics(reg)
	require.NoError(t, err)
	r := NewRecorder(s, nil, metrics)
	ctx := context.Background()
	masterID := newMaster(t, s, "奈良")

	for i := 0; i < 2; i++ {
		_, err := r.Record(ctx, masterID, "s1", "奈良", model.Position{Start: 0, End: 2}, model.ExtractionMeta{})
		require.NoError(t, err)
	}

	n, err := testutil.GatherAndCount(reg, "placemaster_mentions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
