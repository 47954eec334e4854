// Package storage - postgres.go
// PostgreSQL implementation of EventRepository, selected with NEEDS_JOURNAL_DRIVER=postgres.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// InitPostgres opens a PostgreSQL pool and creates the journal schema.
func InitPostgres(dsn string, maxOpen, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	schemas := []string{
		`CREATE TABLE IF NOT EXISTS event_log (
			id UUID PRIMARY KEY,
			run_id UUID NOT NULL,
			seq BIGINT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			event_type TEXT NOT NULL,
			character_id TEXT,
			buff_id TEXT,
			tick BIGINT NOT NULL,
			payload JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_log_character_id ON event_log(character_id)`,
		`CREATE INDEX IF NOT EXISTS idx_event_log_event_type ON event_log(event_type)`,
	}
	for _, query := range schemas {
		if _, err := db.Exec(query); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schemas: %w", err)
		}
	}

	return db, nil
}

// PostgresEventRepository implements EventRepository using PostgreSQL.
type PostgresEventRepository struct {
	db *sql.DB
}

// NewPostgresEventRepository creates a new PostgreSQL event repository.
func NewPostgresEventRepository(db *sql.DB) *PostgresEventRepository {
	return &PostgresEventRepository{db: db}
}

// Append inserts a new event into the immutable journal.
func (r *PostgresEventRepository) Append(ctx context.Context, event EventRecord) error {
	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO event_log (id, run_id, seq, timestamp, event_type, character_id, buff_id, tick, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.ExecContext(ctx, query,
		event.ID,
		event.RunID,
		event.Seq,
		event.Timestamp,
		event.EventType,
		nullable(event.CharacterID),
		nullable(event.BuffID),
		event.Tick,
		payloadJSON,
	)

	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// GetByCharacterID retrieves a character's journal, oldest first.
func (r *PostgresEventRepository) GetByCharacterID(ctx context.Context, characterID string, limit int) ([]EventRecord, error) {
	query := `
		SELECT id, run_id, seq, timestamp, event_type, character_id, buff_id, tick, payload
		FROM (
			SELECT * FROM event_log
			WHERE character_id = $1
			ORDER BY timestamp DESC, seq DESC
			LIMIT $2
		) recent
		ORDER BY timestamp ASC, seq ASC
	`

	var lim interface{}
	if limit > 0 {
		lim = limit
	}
	return r.queryEvents(ctx, query, characterID, lim)
}

// GetByEventType retrieves all events of a specific type.
func (r *PostgresEventRepository) GetByEventType(ctx context.Context, eventType string) ([]EventRecord, error) {
	query := `
		SELECT id, run_id, seq, timestamp, event_type, character_id, buff_id, tick, payload
		FROM event_log
		WHERE event_type = $1
		ORDER BY timestamp ASC, seq ASC
	`

	return r.queryEvents(ctx, query, eventType)
}

// Count returns the number of journalled events.
func (r *PostgresEventRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_log`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// Close releases the pool.
func (r *PostgresEventRepository) Close() error {
	return r.db.Close()
}

// queryEvents is a helper to execute queries and scan results.
func (r *PostgresEventRepository) queryEvents(ctx context.Context, query string, args ...interface{}) ([]EventRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := make([]EventRecord, 0)
	for rows.Next() {
		var e EventRecord
		var payloadJSON []byte
		var characterID, buffID sql.NullString

		err := rows.Scan(
			&e.ID,
			&e.RunID,
			&e.Seq,
			&e.Timestamp,
			&e.EventType,
			&characterID,
			&buffID,
			&e.Tick,
			&payloadJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		e.CharacterID = characterID.String
		e.BuffID = buffID.String

		if err := json.Unmarshal(payloadJSON, &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}

		events = append(events, e)
	}

	return events, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Ensure PostgresEventRepository implements EventRepository
var _ EventRepository = (*PostgresEventRepository)(nil)
