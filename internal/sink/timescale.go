package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/chaz8081/sensor-gateway/internal/reading"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// TimescaleSink inserts one row per reading into a Timescale hypertable
// (or any Postgres table) with fields and tags as jsonb.
type TimescaleSink struct {
	db        *sql.DB
	tableName string
	insert    string
}

// OpenTimescale connects with the pgx driver and verifies the connection.
func OpenTimescale(ctx context.Context, url, table string) (*TimescaleSink, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("sink: open timescale: %w", err)
	}
	s, err := NewTimescaleSink(db, table)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sink: timescale unreachable: %w", err)
	}
	return s, nil
}

// NewTimescaleSink wraps an open database.
func NewTimescaleSink(db *sql.DB, table string) (*TimescaleSink, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("sink: invalid table name %q", table)
	}
	return &TimescaleSink{
		db:        db,
		tableName: table,
		insert:    "INSERT INTO " + table + " (time, measurement, fields, tags) VALUES ($1, $2, $3, $4)",
	}, nil
}

func (t *TimescaleSink) Name() string { return "timescaledb" }

// EnsureTable creates the table if missing and converts it to a hypertable
// when the timescaledb extension is installed.
func (t *TimescaleSink) EnsureTable(ctx context.Context) error {
	ddl := "CREATE TABLE IF NOT EXISTS " + t.tableName + ` (
	time        TIMESTAMPTZ NOT NULL,
	measurement TEXT        NOT NULL,
	fields      JSONB       NOT NULL,
	tags        JSONB       NOT NULL DEFAULT '{}'
)`
	if _, err := t.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("sink: create table %s: %w", t.tableName, err)
	}

	var hasTimescale bool
	err := t.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb')").Scan(&hasTimescale)
	if err != nil {
		return fmt.Errorf("sink: check timescaledb extension: %w", err)
	}
	if !hasTimescale {
		return nil
	}
	if _, err := t.db.ExecContext(ctx,
		"SELECT create_hypertable($1, 'time', if_not_exists => TRUE)", t.tableName); err != nil {
		return fmt.Errorf("sink: create hypertable %s: %w", t.tableName, err)
	}
	return nil
}

func (t *TimescaleSink) Health(ctx context.Context) error {
	if err := t.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sink: timescale ping: %w", err)
	}
	return nil
}

func (t *TimescaleSink) Write(ctx context.Context, r reading.Reading) error {
	fields, err := json.Marshal(r.Fields())
	if err != nil {
		return Permanent("timescaledb", fmt.Errorf("marshal fields: %w", err))
	}
	tags, err := json.Marshal(r.Tags())
	if err != nil {
		return Permanent("timescaledb", fmt.Errorf("marshal tags: %w", err))
	}

	if _, err := t.db.ExecContext(ctx, t.insert, r.Time(), r.Measurement(), fields, tags); err != nil {
		return classifyPostgres(err)
	}
	return nil
}

func (t *TimescaleSink) Close() error {
	return t.db.Close()
}

// classifyPostgres keys off the SQLSTATE class. Connection exceptions,
// insufficient resources, operator intervention and serialization failures
// are transient; data and constraint errors are permanent.
func classifyPostgres(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := pgErr.Code
		switch {
		case strings.HasPrefix(code, "08"),
			strings.HasPrefix(code, "53"),
			strings.HasPrefix(code, "57P"),
			code == "40001", code == "40P01":
			return Transient("timescaledb", err)
		default:
			return Permanent("timescaledb", err)
		}
	}
	return Transient("timescaledb", err)
}

var (
	_ Sink          = (*TimescaleSink)(nil)
	_ HealthChecker = (*TimescaleSink)(nil)
)
