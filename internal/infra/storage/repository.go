// Package storage provides the persistence layer for the simulation server.
// This package implements the repository pattern to keep the domain pure.
// The journal is an audit trail: it is written, read for history, and never replayed into state.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MRamiBalles/needsim/internal/events"
	"github.com/google/uuid"
)

// EventRecord mirrors the domain event structure for persistence.
type EventRecord struct {
	ID          string                 `json:"id" db:"id"`
	RunID       string                 `json:"run_id" db:"run_id"`
	Seq         int64                  `json:"seq" db:"seq"`
	Timestamp   time.Time              `json:"timestamp" db:"timestamp"`
	EventType   string                 `json:"event_type" db:"event_type"`
	CharacterID string                 `json:"character_id" db:"character_id"`
	BuffID      string                 `json:"buff_id" db:"buff_id"`
	Tick        int64                  `json:"tick" db:"tick"`
	Payload     map[string]interface{} `json:"payload" db:"payload"`
}

// NewEventRecord flattens a domain event. The payload round-trips through JSON
// so every driver stores the same document.
func NewEventRecord(runID string, e events.Event) (EventRecord, error) {
	rec := EventRecord{
		ID:          e.ID,
		RunID:       runID,
		Seq:         int64(e.Seq),
		Timestamp:   e.Timestamp.UTC(),
		EventType:   string(e.Type),
		CharacterID: e.CharacterID,
		BuffID:      e.BuffID,
		Tick:        e.Tick,
		Payload:     map[string]interface{}{},
	}
	if e.Payload == nil {
		return rec, nil
	}
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return rec, fmt.Errorf("failed to marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, &rec.Payload); err != nil {
		return rec, fmt.Errorf("payload is not an object: %w", err)
	}
	return rec, nil
}

// EventRepository defines the interface for event persistence.
type EventRepository interface {
	// Append adds a new event to the immutable journal.
	Append(ctx context.Context, event EventRecord) error

	// GetByCharacterID retrieves the newest limit events concerning a character, oldest first.
	// A non-positive limit returns everything.
	GetByCharacterID(ctx context.Context, characterID string, limit int) ([]EventRecord, error)

	// GetByEventType retrieves all events of a specific type.
	GetByEventType(ctx context.Context, eventType string) ([]EventRecord, error)

	// Count returns the number of journalled events.
	Count(ctx context.Context) (int64, error)

	// Close releases the underlying connection pool.
	Close() error
}

// Journal adapts an EventRepository to the event log's persister interface.
// Every process run gets its own run id, since sequence numbers restart at 1.
type Journal struct {
	repo    EventRepository
	runID   string
	timeout time.Duration
}

// NewJournal wraps repo. Each write is bounded by timeout.
func NewJournal(repo EventRepository, timeout time.Duration) *Journal {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Journal{repo: repo, runID: uuid.NewString(), timeout: timeout}
}

// RunID identifies this process in the journal.
func (j *Journal) RunID() string {
	return j.runID
}

// Repository exposes the wrapped repository for history queries.
func (j *Journal) Repository() EventRepository {
	return j.repo
}

// Append implements events.EventPersister.
func (j *Journal) Append(e events.Event) error {
	rec, err := NewEventRecord(j.runID, e)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.repo.Append(ctx, rec)
}

var _ events.EventPersister = (*Journal)(nil)
