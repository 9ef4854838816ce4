package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/accafreeze-engine/internal/cache"
	"github.com/yourorg/accafreeze-engine/internal/circuitbreaker"
	"github.com/yourorg/accafreeze-engine/internal/model"
)

func testOptions(url string) Options {
	opts := DefaultOptions()
	opts.BaseURL = url
	opts.APIKey = "secret"
	opts.RetryMax = 0
	opts.RetryWaitMin = time.Millisecond
	opts.RetryWaitMax = time.Millisecond
	opts.RateLimit = 0
	opts.Breaker = circuitbreaker.Thresholds{MaxConsecutiveFailures: 2, MaxPrice: 1000}
	return opts
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newProviderServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/fixtures", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "2026-04-11", r.URL.Query().Get("date"))
		writeJSON(w, map[string]interface{}{
			"data": []model.Fixture{
				{ID: "fx-1", HomeTeam: "t-1", AwayTeam: "t-2", SeasonID: "s-1"},
			},
		})
	})
	mux.HandleFunc("/teams/t-1/stats", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "s-1", r.URL.Query().Get("season"))
		writeJSON(w, map[string]interface{}{
			"data": map[string]interface{}{
				"season": map[string]int{"games_played": 20, "scored": 34, "conceded": 18, "points": 41},
			},
		})
	})
	mux.HandleFunc("/seasons/s-1/standings", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"data": []map[string]interface{}{
				{"team_id": "t-1", "rank": 2},
				{"team_id": "t-2", "rank": 17},
			},
		})
	})
	mux.HandleFunc("/fixtures/fx-1/odds", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"data": []model.OddsQuote{
				{Bookmaker: "alpha", MarketID: "5", Label: "Over", Price: 2.05},
			},
		})
	})
	mux.HandleFunc("/fixtures/fx-bad/odds", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"data": []model.OddsQuote{
				{Bookmaker: "alpha", MarketID: "5", Label: "Over", Price: 50000},
			},
		})
	})
	mux.HandleFunc("/fixtures/fx-down/odds", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})
	return httptest.NewServer(mux)
}

func TestHTTPProvider_Endpoints(t *testing.T) {
	srv := newProviderServer(t)
	defer srv.Close()

	p := NewHTTPProvider(testOptions(srv.URL))
	ctx := context.Background()

	fixtures, err := p.Fixtures(ctx, time.Date(2026, 4, 11, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, fixtures, 1)
	assert.Equal(t, "fx-1", fixtures[0].ID)

	stats, err := p.TeamStats(ctx, "t-1", "s-1")
	require.NoError(t, err)
	assert.Equal(t, "t-1", stats.TeamID)
	require.NotNil(t, stats.Season)
	assert.Equal(t, 34, stats.Season.Scored)
	assert.Nil(t, stats.Form)

	ranks, err := p.Standings(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"t-1": 2, "t-2": 17}, ranks)

	quotes, err := p.Odds(ctx, "fx-1")
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, 2.05, quotes[0].Price)
}

func TestHTTPProvider_NotFound(t *testing.T) {
	srv := newProviderServer(t)
	defer srv.Close()

	p := NewHTTPProvider(testOptions(srv.URL))
	_, err := p.TeamStats(context.Background(), "t-404", "s-1")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, circuitbreaker.StateClosed, p.Breakers()[EndpointTeamStats].GetState())
}

func TestHTTPProvider_BreakerOpensOnFailures(t *testing.T) {
	srv := newProviderServer(t)
	defer srv.Close()

	p := NewHTTPProvider(testOptions(srv.URL))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := p.Odds(ctx, "fx-down")
		require.Error(t, err)
	}
	assert.Equal(t, circuitbreaker.StateOpen, p.Breakers()[EndpointOdds].GetState())

	_, err := p.Odds(ctx, "fx-1")
	assert.True(t, errors.Is(err, circuitbreaker.ErrOpen))

	// Other endpoints keep working
	_, err = p.Standings(ctx, "s-1")
	assert.NoError(t, err)
}

func TestHTTPProvider_CorruptOddsTripBreaker(t *testing.T) {
	srv := newProviderServer(t)
	defer srv.Close()

	p := NewHTTPProvider(testOptions(srv.URL))
	_, err := p.Odds(context.Background(), "fx-bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "price exceeds maximum threshold")
	assert.Equal(t, circuitbreaker.StateOpen, p.Breakers()[EndpointOdds].GetState())
}

type countingProvider struct {
	odds  int32
	stats int32
	ranks int32
}

func (c *countingProvider) Fixtures(context.Context, time.Time) ([]model.Fixture, error) {
	return []model.Fixture{{ID: "fx-1"}}, nil
}

func (c *countingProvider) TeamStats(_ context.Context, teamID, _ string) (model.TeamStats, error) {
	atomic.AddInt32(&c.stats, 1)
	return model.TeamStats{TeamID: teamID, Form: &model.TeamSample{GamesPlayed: 5, Scored: 9}}, nil
}

func (c *countingProvider) Standings(context.Context, string) (map[string]int, error) {
	atomic.AddInt32(&c.ranks, 1)
	return map[string]int{"t-1": 1}, nil
}

func (c *countingProvider) Odds(context.Context, string) ([]model.OddsQuote, error) {
	atomic.AddInt32(&c.odds, 1)
	return []model.OddsQuote{{Bookmaker: "alpha", MarketID: "8", Label: "Yes", Price: 1.8}}, nil
}

func TestCachedProvider(t *testing.T) {
	inner := &countingProvider{}
	now := time.Date(2026, 4, 11, 9, 0, 0, 0, time.UTC)
	clock := cache.WithClock(func() time.Time { return now })

	p := NewCachedProvider(inner, Caches{
		Odds:      cache.New("odds", cache.NewMemoryStore(), clock),
		Form:      cache.New("form", cache.NewMemoryStore(), clock),
		Standings: cache.New("standings", cache.NewMemoryStore(), clock),
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		quotes, err := p.Odds(ctx, "fx-1")
		require.NoError(t, err)
		assert.Equal(t, 1.8, quotes[0].Price)

		stats, err := p.TeamStats(ctx, "t-1", "s-1")
		require.NoError(t, err)
		assert.Equal(t, 9, stats.Form.Scored)

		ranks, err := p.Standings(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, 1, ranks["t-1"])
	}
	assert.Equal(t, int32(1), inner.odds)
	assert.Equal(t, int32(1), inner.stats)
	assert.Equal(t, int32(1), inner.ranks)

	// Odds expire long before form and standings
	now = now.Add(20 * time.Minute)
	_, _ = p.Odds(ctx, "fx-1")
	_, _ = p.TeamStats(ctx, "t-1", "s-1")
	_, _ = p.Standings(ctx, "s-1")
	assert.Equal(t, int32(2), inner.odds)
	assert.Equal(t, int32(1), inner.stats)
	assert.Equal(t, int32(1), inner.ranks)

	fixtures, err := p.Fixtures(ctx, now)
	require.NoError(t, err)
	assert.Len(t, fixtures, 1)
}

func TestCachedProvider_NoCaches(t *testing.T) {
	inner := &countingProvider{}
	p := NewCachedProvider(inner, Caches{})
	ctx := context.Background()

	_, _ = p.Odds(ctx, "fx-1")
	_, _ = p.Odds(ctx, "fx-1")
	assert.Equal(t, int32(2), inner.odds)
}
