package sinks

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"regexp"

	"github.com/lib/pq"

	"github.com/airframesio/epias-extractor/cmd/epias"
)

// DefaultPostgresTable receives the records when no table is configured.
const DefaultPostgresTable = "epias_generation"

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig holds the connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	Table    string
}

// ConnString renders a lib/pq keyword/value connection string.
func (c PostgresConfig) ConnString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, sslMode)
}

// PostgresSink stores one JSONB row per record. Rows of a job key are replaced
// on every publish.
type PostgresSink struct {
	db     *sql.DB
	table  string
	logger *slog.Logger
}

// OpenPostgres connects and pings the database.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.ConnString())
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// NewPostgresSink writes into table, which must be a plain identifier.
func NewPostgresSink(db *sql.DB, table string, logger *slog.Logger) (*PostgresSink, error) {
	if table == "" {
		table = DefaultPostgresTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name: %q", table)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &PostgresSink{db: db, table: table, logger: logger}, nil
}

func (s *PostgresSink) Name() string {
	return "postgres"
}

func (s *PostgresSink) ensureTable(ctx context.Context) error {
	//nolint:gosec // Table name is quoted with pq.QuoteIdentifier
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		job_key TEXT NOT NULL,
		plant_id BIGINT,
		recorded_at TIMESTAMPTZ,
		total DOUBLE PRECISION,
		payload JSONB NOT NULL,
		loaded_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, pq.QuoteIdentifier(s.table))
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	return nil
}

// Publish replaces the rows of the batch's job key in one transaction.
func (s *PostgresSink) Publish(ctx context.Context, batch *Batch) (err error) {
	if err := s.ensureTable(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	quoted := pq.QuoteIdentifier(s.table)
	//nolint:gosec // Table name is quoted with pq.QuoteIdentifier
	deleted, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE job_key = $1", quoted), batch.Key)
	if err != nil {
		return fmt.Errorf("failed to clear previous rows: %w", err)
	}
	if n, _ := deleted.RowsAffected(); n > 0 {
		s.logger.Debug(fmt.Sprintf("  🧹 Replaced %d rows of %s", n, batch.Key))
	}

	//nolint:gosec // Table name is quoted with pq.QuoteIdentifier
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (job_key, plant_id, recorded_at, total, payload) VALUES ($1, $2, $3, $4, $5)", quoted))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	var plant any
	if batch.PlantID != nil {
		plant = *batch.PlantID
	}
	for i, record := range batch.Records {
		payload, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to encode record %d: %w", i, err)
		}
		var recordedAt, total any
		if t, ok := epias.RecordTime(record); ok {
			recordedAt = t
		}
		if f, ok := epias.Float(record["total"]); ok {
			total = f
		}
		if _, err := stmt.ExecContext(ctx, batch.Key, plant, recordedAt, total, string(payload)); err != nil {
			return fmt.Errorf("failed to insert record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}
