package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	openAttempts = 5
	openBackoff  = time.Second
)

// Open connects through the pgx stdlib driver. Postgres often comes up after
// the API in local stacks, so transient ping failures are retried a few times
// before giving up with ErrUnavailable.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	var pingErr error
	for attempt := 1; attempt <= openAttempts; attempt++ {
		if pingErr = db.PingContext(ctx); pingErr == nil {
			return db, nil
		}
		if !isTransient(pingErr) || attempt == openAttempts {
			break
		}
		select {
		case <-ctx.Done():
			db.Close()
			return nil, wrap("ping db", ctx.Err())
		case <-time.After(time.Duration(attempt) * openBackoff):
		}
	}
	db.Close()
	return nil, wrap("ping db", pingErr)
}
