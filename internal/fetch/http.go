package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/accafreeze-engine/internal/circuitbreaker"
	"github.com/yourorg/accafreeze-engine/internal/metrics"
	"github.com/yourorg/accafreeze-engine/internal/model"
)

// Endpoint names, also used as breaker names and metric labels
const (
	EndpointFixtures  = "fixtures"
	EndpointTeamStats = "team_stats"
	EndpointStandings = "standings"
	EndpointOdds      = "odds"
)

// Options configures the HTTP provider
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// RateLimit is the sustained request rate per second, Burst the bucket size
	RateLimit float64
	Burst     int

	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	Breaker    circuitbreaker.Thresholds
	ResetDelay time.Duration

	Metrics *metrics.Metrics
}

// DefaultOptions returns the default provider settings
func DefaultOptions() Options {
	return Options{
		Timeout:      10 * time.Second,
		RateLimit:    5,
		Burst:        10,
		RetryMax:     3,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 3 * time.Second,
		Breaker:      circuitbreaker.DefaultThresholds(),
		ResetDelay:   5 * time.Minute,
	}
}

// HTTPProvider talks to the provider's REST API
type HTTPProvider struct {
	baseURL  string
	apiKey   string
	timeout  time.Duration
	client   *retryablehttp.Client
	limiter  *rate.Limiter
	breakers map[string]*circuitbreaker.CircuitBreaker
	metrics  *metrics.Metrics
}

// NewHTTPProvider creates a provider client with retries, rate limiting and
// one circuit breaker per endpoint
func NewHTTPProvider(opts Options) *HTTPProvider {
	c := retryablehttp.NewClient()
	c.RetryMax = opts.RetryMax
	c.RetryWaitMin = opts.RetryWaitMin
	c.RetryWaitMax = opts.RetryWaitMax
	c.Logger = nil

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	p := &HTTPProvider{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		apiKey:   opts.APIKey,
		timeout:  opts.Timeout,
		client:   c,
		limiter:  rate.NewLimiter(limit, burst),
		breakers: make(map[string]*circuitbreaker.CircuitBreaker),
		metrics:  opts.Metrics,
	}

	for _, name := range []string{EndpointFixtures, EndpointTeamStats, EndpointStandings, EndpointOdds} {
		cb := circuitbreaker.New(name, opts.Breaker)
		if opts.ResetDelay > 0 {
			cb.WithResetDelay(opts.ResetDelay)
		}
		p.breakers[name] = cb
	}
	return p
}

// Breakers returns the circuit breaker of every endpoint
func (p *HTTPProvider) Breakers() map[string]*circuitbreaker.CircuitBreaker {
	return p.breakers
}

// Fixtures lists the fixtures of a day
func (p *HTTPProvider) Fixtures(ctx context.Context, date time.Time) ([]model.Fixture, error) {
	q := url.Values{"date": {date.Format("2006-01-02")}}
	var resp struct {
		Data []model.Fixture `json:"data"`
	}
	if err := p.get(ctx, EndpointFixtures, "/fixtures?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// TeamStats returns the statistics samples of a team
func (p *HTTPProvider) TeamStats(ctx context.Context, teamID, seasonID string) (model.TeamStats, error) {
	path := fmt.Sprintf("/teams/%s/stats?%s", url.PathEscape(teamID), url.Values{"season": {seasonID}}.Encode())
	var resp struct {
		Data model.TeamStats `json:"data"`
	}
	if err := p.get(ctx, EndpointTeamStats, path, &resp); err != nil {
		return model.TeamStats{}, err
	}
	if resp.Data.TeamID == "" {
		resp.Data.TeamID = teamID
	}
	return resp.Data, nil
}

// Standings returns the league positions of a season
func (p *HTTPProvider) Standings(ctx context.Context, seasonID string) (map[string]int, error) {
	var resp struct {
		Data []struct {
			TeamID string `json:"team_id"`
			Rank   int    `json:"rank"`
		} `json:"data"`
	}
	if err := p.get(ctx, EndpointStandings, "/seasons/"+url.PathEscape(seasonID)+"/standings", &resp); err != nil {
		return nil, err
	}

	ranks := make(map[string]int, len(resp.Data))
	for _, row := range resp.Data {
		ranks[row.TeamID] = row.Rank
	}
	return ranks, nil
}

// Odds returns the bookmaker quotes of a fixture. Implausible prices trip the
// odds breaker.
func (p *HTTPProvider) Odds(ctx context.Context, fixtureID string) ([]model.OddsQuote, error) {
	var resp struct {
		Data []model.OddsQuote `json:"data"`
	}
	if err := p.get(ctx, EndpointOdds, "/fixtures/"+url.PathEscape(fixtureID)+"/odds", &resp); err != nil {
		return nil, err
	}

	cb := p.breakers[EndpointOdds]
	if err := cb.CheckQuotes(resp.Data); err != nil {
		p.recordState(cb)
		p.metrics.ProviderError(EndpointOdds)
		return nil, fmt.Errorf("rejected odds for fixture %s: %w", fixtureID, err)
	}
	return resp.Data, nil
}

// get performs one guarded request and decodes the JSON body into out
func (p *HTTPProvider) get(ctx context.Context, endpoint, path string, out interface{}) error {
	cb := p.breakers[endpoint]
	if err := cb.Allow(); err != nil {
		p.metrics.ProviderError(endpoint)
		return err
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	err := p.do(ctx, path, out)
	switch {
	case err == nil, isNotFound(err):
		cb.RecordSuccess()
	default:
		cb.RecordFailure(err)
		p.metrics.ProviderError(endpoint)
		logrus.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"path":     path,
			"error":    err,
		}).Warn("Provider request failed")
	}
	p.recordState(cb)
	return err
}

func (p *HTTPProvider) do(ctx context.Context, path string, out interface{}) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	logrus.WithField("path", path).Debug("Fetching from provider")
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("error fetching %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func (p *HTTPProvider) recordState(cb *circuitbreaker.CircuitBreaker) {
	p.metrics.BreakerState(cb.Name(), int(cb.GetState()))
}
