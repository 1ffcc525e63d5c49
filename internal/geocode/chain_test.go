package geocode

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/placemaster/internal/model"
	"github.com/ppiankov/placemaster/internal/oracle"
)

type stubProvider struct {
	name  string
	res   *oracle.GeocodeResult
	err   error
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Geocode(ctx context.Context, name string) (*oracle.GeocodeResult, error) {
	s.calls++
	return s.res, s.err
}

func TestChain_FirstMatchWins(t *testing.T) {
	a := &stubProvider{name: "a", err: oracle.ErrNotFound}
	b := &stubProvider{name: "b", res: &oracle.GeocodeResult{Source: "b"}}
	c := &stubProvider{name: "c", res: &oracle.GeocodeResult{Source: "c"}}

	res, err := NewChain(nil, a, b, c).Geocode(context.Background(), "東京")
	require.NoError(t, err)
	assert.Equal(t, "b", res.Source)
	assert.Equal(t, 0, c.calls)
}

func TestChain_TransientBeatsNotFound(t *testing.T) {
	transient := oracle.Transient("a", 503, errors.New("down"))
	a := &stubProvider{name: "a", err: transient}
	b := &stubProvider{name: "b", err: oracle.ErrNotFound}

	_, err := NewChain(nil, a, b).Geocode(context.Background(), "東京")
	assert.True(t, oracle.IsTransient(err))
	assert.Equal(t, 1, b.calls)
}

func TestChain_AllMiss(t *testing.T) {
	a := &stubProvider{name: "a", err: oracle.ErrNotFound}

	_, err := NewChain(nil, a).Geocode(context.Background(), "東京")
	assert.ErrorIs(t, err, oracle.ErrNotFound)

	_, err = NewChain(nil).Geocode(context.Background(), "東京")
	assert.ErrorIs(t, err, oracle.ErrNotFound)
}

func TestChain_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := &stubProvider{name: "a", err: context.Canceled}
	b := &stubProvider{name: "b", res: &oracle.GeocodeResult{}}

	_, err := NewChain(nil, a, b).Geocode(ctx, "東京")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, b.calls)
}

func TestNew_FromConfig(t *testing.T) {
	cfg := model.DefaultConfig().Geocoding

	// No Google key: only nominatim remains
	g, err := New(cfg, model.ProxyConfig{}, nil)
	require.NoError(t, err)
	chain, ok := g.(*Chain)
	require.True(t, ok)
	assert.Equal(t, []string{"nominatim"}, chain.Providers())

	cfg.GoogleAPIKey = "key"
	g, err = New(cfg, model.ProxyConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"google", "nominatim"}, g.(*Chain).Providers())

	cfg.Providers = nil
	g, err = New(cfg, model.ProxyConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, g)

	cfg.Providers = []string{"mapbox"}
	_, err = New(cfg, model.ProxyConfig{}, nil)
	assert.Error(t, err)
}
