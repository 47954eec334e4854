// Package events provides the simulation's event log.
// Every mutation the engine performs is recorded as an immutable, sequenced event.
package events

import (
	"sync"
	"time"

	"github.com/MRamiBalles/needsim/internal/domain/character"
	"github.com/google/uuid"
)

// EventType defines the category of a simulation event.
type EventType string

const (
	EventTypeCharacterAdded   EventType = "CHARACTER_ADDED"
	EventTypeCharacterRemoved EventType = "CHARACTER_REMOVED"
	EventTypeBuffApplied      EventType = "BUFF_APPLIED"
	EventTypeBuffRejected     EventType = "BUFF_REJECTED"
	EventTypeBuffRemoved      EventType = "BUFF_REMOVED"
	EventTypeBuffStackLost    EventType = "BUFF_STACK_LOST"
	EventTypeBuffExpired      EventType = "BUFF_EXPIRED"
	EventTypeTick             EventType = "TICK"
)

// Known reports whether t is one of the event types above.
func (t EventType) Known() bool {
	switch t {
	case EventTypeCharacterAdded, EventTypeCharacterRemoved,
		EventTypeBuffApplied, EventTypeBuffRejected, EventTypeBuffRemoved,
		EventTypeBuffStackLost, EventTypeBuffExpired, EventTypeTick:
		return true
	}
	return false
}

// CharacterPayload describes a character entering or leaving the store.
type CharacterPayload struct {
	Name       string              `json:"name"`
	Properties character.NeedState `json:"properties"`
}

// BuffPayload details a buff change.
type BuffPayload struct {
	Stacks    int    `json:"stacks"`
	Requested int    `json:"requested,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// TickPayload summarizes one simulation pass.
type TickPayload struct {
	Characters int     `json:"characters"`
	LatencyMS  float64 `json:"latency_ms"`
}

// Event represents an immutable record of something that happened in the simulation.
type Event struct {
	ID          string      `json:"id"`
	Seq         uint64      `json:"seq"`
	Timestamp   time.Time   `json:"timestamp"`
	Type        EventType   `json:"type"`
	CharacterID string      `json:"character_id,omitempty"`
	BuffID      string      `json:"buff_id,omitempty"`
	Tick        int64       `json:"tick"`
	Payload     interface{} `json:"payload,omitempty"`
}

// EventPersister defines how an event is durably stored.
type EventPersister interface {
	Append(event Event) error
}

// Filter narrows a Query. Zero fields match everything.
type Filter struct {
	CharacterID string
	BuffID      string
	Type        EventType
	Since       uint64 // only events with Seq > Since
	Limit       int    // most recent N after filtering; 0 means no limit
}

func (f Filter) match(e *Event) bool {
	if e.Seq <= f.Since {
		return false
	}
	if f.CharacterID != "" && e.CharacterID != f.CharacterID {
		return false
	}
	if f.BuffID != "" && e.BuffID != f.BuffID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	return true
}

// DefaultCapacity is used when NewEventLog is given a non-positive capacity.
const DefaultCapacity = 4096

// EventLog is the in-memory append-only log of simulation events.
// It keeps the most recent capacity events in a ring; older ones survive only in the persister.
type EventLog struct {
	mu        sync.RWMutex
	ring      []Event
	start     int
	size      int
	lastSeq   uint64
	persister EventPersister
}

// NewEventLog creates a new event log with an optional persister.
func NewEventLog(capacity int, persister EventPersister) *EventLog {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &EventLog{
		ring:      make([]Event, capacity),
		persister: persister,
	}
}

// Append stamps the event with a sequence number, an id and a timestamp when missing,
// stores it and hands it to the persister. The stamped event is returned.
func (el *EventLog) Append(event Event) Event {
	el.mu.Lock()
	el.lastSeq++
	event.Seq = el.lastSeq
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	idx := (el.start + el.size) % len(el.ring)
	el.ring[idx] = event
	if el.size < len(el.ring) {
		el.size++
	} else {
		el.start = (el.start + 1) % len(el.ring)
	}
	el.mu.Unlock()

	// The persister must not block; Writer queues the event for its workers.
	if el.persister != nil {
		_ = el.persister.Append(event)
	}
	return event
}

// LastSeq returns the sequence number of the newest event, or 0 when empty.
func (el *EventLog) LastSeq() uint64 {
	el.mu.RLock()
	defer el.mu.RUnlock()
	return el.lastSeq
}

// Len returns how many events are currently retained.
func (el *EventLog) Len() int {
	el.mu.RLock()
	defer el.mu.RUnlock()
	return el.size
}

// Query returns retained events matching f, oldest first.
func (el *EventLog) Query(f Filter) []Event {
	el.mu.RLock()
	defer el.mu.RUnlock()

	result := make([]Event, 0)
	for i := 0; i < el.size; i++ {
		e := &el.ring[(el.start+i)%len(el.ring)]
		if f.match(e) {
			result = append(result, *e)
		}
	}
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[len(result)-f.Limit:]
	}
	return result
}

// Since returns every retained event newer than seq.
func (el *EventLog) Since(seq uint64) []Event {
	return el.Query(Filter{Since: seq})
}

// GetByCharacter returns all retained events concerning a character.
func (el *EventLog) GetByCharacter(characterID string) []Event {
	return el.Query(Filter{CharacterID: characterID})
}

// Replay returns the full retained history.
func (el *EventLog) Replay() []Event {
	return el.Query(Filter{})
}
