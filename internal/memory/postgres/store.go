// Package postgres persists long-term user facts.
//
// Unlike the in-process rolling store, facts here survive restarts: things
// like a user's city, job or favourite game, extracted by the analyzer and
// folded into future prompts. The store is optional; the bot runs without it
// when no DSN is configured.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// maxFactsPerUser caps stored facts; the oldest are pruned past the cap.
const maxFactsPerUser = 50

// factWindow is how many recent facts a prompt gets.
const factWindow = 10

// Store is a pgx-backed fact store. Safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database, verifies the connection and runs migrations.
// The caller owns the store and must Close it.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres: dsn must not be empty")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS user_facts (
			id         BIGSERIAL PRIMARY KEY,
			user_id    TEXT        NOT NULL,
			username   TEXT        NOT NULL,
			fact       TEXT        NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_user_facts_user ON user_facts (user_id, created_at DESC);
	`)
	return err
}

// Remember stores one fact about the user and prunes anything past the cap.
func (s *Store) Remember(ctx context.Context, userID, username, fact string) error {
	if fact == "" {
		return nil
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_facts (user_id, username, fact) VALUES ($1, $2, $3)`,
		userID, username, fact)
	if err != nil {
		return fmt.Errorf("postgres: insert fact: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		DELETE FROM user_facts
		WHERE user_id = $1 AND id NOT IN (
			SELECT id FROM user_facts
			WHERE user_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		)`, userID, maxFactsPerUser)
	if err != nil {
		return fmt.Errorf("postgres: prune facts: %w", err)
	}
	return nil
}

// Facts returns the most recent facts about the user, newest first.
func (s *Store) Facts(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT fact FROM user_facts
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, factWindow)
	if err != nil {
		return nil, fmt.Errorf("postgres: query facts: %w", err)
	}
	defer rows.Close()

	var facts []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, fmt.Errorf("postgres: scan fact: %w", err)
		}
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate facts: %w", err)
	}
	return facts, nil
}

// Ping verifies the database connection. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
