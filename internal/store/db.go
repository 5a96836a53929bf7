package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"aanmelden/internal/metrics"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB opens a Postgres pool and verifies it answers.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	d := &DB{Client: db}
	return d, d.Ping(ctx)
}

// Ping checks connectivity and records the latency.
func (d *DB) Ping(ctx context.Context) error {
	start := time.Now()
	err := d.Client.PingContext(ctx)
	metrics.ObserveDBPing(time.Since(start))
	return err
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
