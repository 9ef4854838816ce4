// Package fetch retrieves fixtures, team statistics, standings and odds from
// the data provider.
package fetch

import (
	"context"
	"errors"
	"time"

	"github.com/yourorg/accafreeze-engine/internal/model"
)

// ErrNotFound is returned when the provider has no data for a resource
var ErrNotFound = errors.New("not found at provider")

// Provider defines the interface of a fixture and odds data source
type Provider interface {
	// Fixtures lists the fixtures kicking off on the given day
	Fixtures(ctx context.Context, date time.Time) ([]model.Fixture, error)

	// TeamStats returns the season and recent-form samples of a team
	TeamStats(ctx context.Context, teamID, seasonID string) (model.TeamStats, error)

	// Standings maps team ids to league positions
	Standings(ctx context.Context, seasonID string) (map[string]int, error)

	// Odds returns every bookmaker quote for a fixture
	Odds(ctx context.Context, fixtureID string) ([]model.OddsQuote, error)
}
