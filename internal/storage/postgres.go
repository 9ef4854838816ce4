package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/accafreeze-engine/internal/model"
)

// Schema creates the predictions table
const Schema = `
CREATE TABLE IF NOT EXISTS published_predictions (
	fixture_id   TEXT PRIMARY KEY,
	lambda_home  DOUBLE PRECISION NOT NULL,
	lambda_away  DOUBLE PRECISION NOT NULL,
	market_id    TEXT NOT NULL,
	probability  DOUBLE PRECISION NOT NULL,
	odds         DOUBLE PRECISION NOT NULL,
	ev_adjusted  DOUBLE PRECISION NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL,
	checksum     TEXT NOT NULL,
	published_at TIMESTAMPTZ NOT NULL,
	is_frozen    BOOLEAN NOT NULL DEFAULT FALSE,
	result       TEXT,
	profit_loss  DOUBLE PRECISION NOT NULL DEFAULT 0,
	frozen_at    TIMESTAMPTZ
)`

const selectColumns = `fixture_id, lambda_home, lambda_away, market_id, probability, odds,
	ev_adjusted, confidence, checksum, published_at, is_frozen, result, profit_loss, frozen_at`

// PostgresStore is a HistoryStore backed by PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects to dsn, verifies the connection and ensures the
// schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := NewPostgresStore(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logrus.Info("Connected to PostgreSQL history store")
	return s, nil
}

// NewPostgresStore wraps an existing connection pool
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the schema if needed
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close releases the connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping checks connectivity
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get implements HistoryStore
func (s *PostgresStore) Get(ctx context.Context, fixtureID string) (model.PublishedPrediction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM published_predictions WHERE fixture_id = $1`, fixtureID)
	p, err := scanPrediction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PublishedPrediction{}, ErrNotFound
	}
	if err != nil {
		return model.PublishedPrediction{}, fmt.Errorf("failed to load prediction %s: %w", fixtureID, err)
	}
	return p, nil
}

// PutIfAbsent implements HistoryStore
func (s *PostgresStore) PutIfAbsent(ctx context.Context, p model.PublishedPrediction) (model.PublishedPrediction, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO published_predictions
			(fixture_id, lambda_home, lambda_away, market_id, probability, odds,
			 ev_adjusted, confidence, checksum, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (fixture_id) DO NOTHING`,
		p.FixtureID, p.LambdaHome, p.LambdaAway, string(p.MarketID), p.Probability, p.Odds,
		p.EVAdjusted, p.Confidence, p.Checksum, p.PublishedAt.UTC(),
	)
	if err != nil {
		return model.PublishedPrediction{}, false, fmt.Errorf("failed to insert prediction %s: %w", p.FixtureID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return model.PublishedPrediction{}, false, fmt.Errorf("failed to read insert result: %w", err)
	}

	stored, err := s.Get(ctx, p.FixtureID)
	if err != nil {
		return model.PublishedPrediction{}, false, err
	}
	return stored, n == 1, nil
}

// UpdateFreeze implements HistoryStore
func (s *PostgresStore) UpdateFreeze(ctx context.Context, fixtureID, result string, profitLoss float64, frozenAt time.Time) (model.PublishedPrediction, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE published_predictions
		SET is_frozen = TRUE, result = $2, profit_loss = $3, frozen_at = $4
		WHERE fixture_id = $1 AND is_frozen = FALSE`,
		fixtureID, result, profitLoss, frozenAt.UTC(),
	)
	if err != nil {
		return model.PublishedPrediction{}, false, fmt.Errorf("failed to freeze prediction %s: %w", fixtureID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return model.PublishedPrediction{}, false, fmt.Errorf("failed to read update result: %w", err)
	}

	stored, err := s.Get(ctx, fixtureID)
	if err != nil {
		return model.PublishedPrediction{}, false, err
	}
	return stored, n == 1, nil
}

// List implements HistoryStore
func (s *PostgresStore) List(ctx context.Context) ([]model.PublishedPrediction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM published_predictions ORDER BY published_at, fixture_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list predictions: %w", err)
	}
	defer rows.Close()

	var out []model.PublishedPrediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPrediction(sc scanner) (model.PublishedPrediction, error) {
	var (
		p        model.PublishedPrediction
		marketID string
		result   sql.NullString
		frozenAt sql.NullTime
	)
	err := sc.Scan(&p.FixtureID, &p.LambdaHome, &p.LambdaAway, &marketID, &p.Probability, &p.Odds,
		&p.EVAdjusted, &p.Confidence, &p.Checksum, &p.PublishedAt, &p.IsFrozen, &result, &p.ProfitLoss, &frozenAt)
	if err != nil {
		return p, err
	}

	p.MarketID = model.MarketID(marketID)
	p.PublishedAt = p.PublishedAt.UTC()
	p.Result = result.String
	if frozenAt.Valid {
		at := frozenAt.Time.UTC()
		p.FrozenAt = &at
	}
	return p, nil
}
