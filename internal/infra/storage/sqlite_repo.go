package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const sqliteColumns = `id, run_id, seq, timestamp, event_type, character_id, buff_id, tick, payload`

// SQLiteEventRepository implements EventRepository for SQLite.
type SQLiteEventRepository struct {
	db *sql.DB
}

func NewSQLiteEventRepository(db *sql.DB) *SQLiteEventRepository {
	return &SQLiteEventRepository{db: db}
}

func (r *SQLiteEventRepository) Append(ctx context.Context, event EventRecord) error {
	payloadBytes, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `INSERT INTO events (` + sqliteColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		event.ID, event.RunID, event.Seq, event.Timestamp, event.EventType,
		event.CharacterID, event.BuffID, event.Tick, string(payloadBytes),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (r *SQLiteEventRepository) getMany(ctx context.Context, query string, args ...interface{}) ([]EventRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := make([]EventRecord, 0)
	for rows.Next() {
		var e EventRecord
		var payloadStr string
		err := rows.Scan(
			&e.ID, &e.RunID, &e.Seq, &e.Timestamp, &e.EventType,
			&e.CharacterID, &e.BuffID, &e.Tick, &payloadStr,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(payloadStr), &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// sqliteOrdered selects events with a run_order column: runs sort by when they were
// first written, events within a run by seq. Journal workers write concurrently,
// so rowid alone does not follow seq.
const sqliteOrdered = `SELECT e.id AS id, e.run_id AS run_id, e.seq AS seq, e.timestamp AS timestamp,
		e.event_type AS event_type, e.character_id AS character_id, e.buff_id AS buff_id,
		e.tick AS tick, e.payload AS payload, r.run_order AS run_order
	FROM events e
	JOIN (SELECT run_id, MIN(rowid) AS run_order FROM events GROUP BY run_id) r ON r.run_id = e.run_id`

func (r *SQLiteEventRepository) GetByCharacterID(ctx context.Context, characterID string, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite treats a negative LIMIT as unbounded
	}
	query := `SELECT ` + sqliteColumns + ` FROM (
		` + sqliteOrdered + ` WHERE e.character_id = ?
		ORDER BY r.run_order DESC, e.seq DESC LIMIT ?
	) ORDER BY run_order ASC, seq ASC`
	return r.getMany(ctx, query, characterID, limit)
}

func (r *SQLiteEventRepository) GetByEventType(ctx context.Context, eventType string) ([]EventRecord, error) {
	query := `SELECT ` + sqliteColumns + ` FROM (
		` + sqliteOrdered + ` WHERE e.event_type = ?
	) ORDER BY run_order ASC, seq ASC`
	return r.getMany(ctx, query, eventType)
}

func (r *SQLiteEventRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

func (r *SQLiteEventRepository) Close() error {
	return r.db.Close()
}

var _ EventRepository = (*SQLiteEventRepository)(nil)
