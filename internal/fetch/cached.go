package fetch

import (
	"context"
	"time"

	"github.com/yourorg/accafreeze-engine/internal/cache"
	"github.com/yourorg/accafreeze-engine/internal/model"
)

// Caches groups the TTL caches used by CachedProvider. A nil cache disables
// caching for that data kind.
type Caches struct {
	Odds      *cache.Cache
	Form      *cache.Cache
	Standings *cache.Cache
}

// CachedProvider decorates a Provider with TTL caches. Fixture lists are
// never cached.
type CachedProvider struct {
	inner  Provider
	caches Caches
}

// NewCachedProvider wraps inner
func NewCachedProvider(inner Provider, caches Caches) *CachedProvider {
	return &CachedProvider{inner: inner, caches: caches}
}

// Fixtures passes through to the wrapped provider
func (p *CachedProvider) Fixtures(ctx context.Context, date time.Time) ([]model.Fixture, error) {
	return p.inner.Fixtures(ctx, date)
}

// TeamStats reads team statistics through the form cache
func (p *CachedProvider) TeamStats(ctx context.Context, teamID, seasonID string) (model.TeamStats, error) {
	if p.caches.Form == nil {
		return p.inner.TeamStats(ctx, teamID, seasonID)
	}
	return cache.GetOrCompute(ctx, p.caches.Form, "team:"+seasonID+":"+teamID, cache.FormTTL,
		func(ctx context.Context) (model.TeamStats, error) {
			return p.inner.TeamStats(ctx, teamID, seasonID)
		})
}

// Standings reads the table through the standings cache
func (p *CachedProvider) Standings(ctx context.Context, seasonID string) (map[string]int, error) {
	if p.caches.Standings == nil {
		return p.inner.Standings(ctx, seasonID)
	}
	return cache.GetOrCompute(ctx, p.caches.Standings, "standings:"+seasonID, cache.StandingsTTL,
		func(ctx context.Context) (map[string]int, error) {
			return p.inner.Standings(ctx, seasonID)
		})
}

// Odds reads quotes through the odds cache
func (p *CachedProvider) Odds(ctx context.Context, fixtureID string) ([]model.OddsQuote, error) {
	if p.caches.Odds == nil {
		return p.inner.Odds(ctx, fixtureID)
	}
	return cache.GetOrCompute(ctx, p.caches.Odds, "odds:"+fixtureID, cache.OddsTTL,
		func(ctx context.Context) ([]model.OddsQuote, error) {
			return p.inner.Odds(ctx, fixtureID)
		})
}
