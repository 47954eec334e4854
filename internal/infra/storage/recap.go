// Package storage - recap.go
// Character history built from the journal.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/MRamiBalles/needsim/internal/events"
	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
)

// Recapper turns journalled events into a readable character history.
// It is used for:
// 1. The history endpoint shown to operators
// 2. Auditing which actions a character received and which were rejected
type Recapper struct {
	eventRepo EventRepository
	now       func() time.Time
}

// NewRecapper creates a new recapper.
func NewRecapper(eventRepo EventRepository) *Recapper {
	return &Recapper{eventRepo: eventRepo, now: time.Now}
}

// RecapEvent is a simplified event for the history view.
type RecapEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Ago       string    `json:"ago"`
	Tick      int64     `json:"tick"`
	EventType string    `json:"event_type"`
	BuffID    string    `json:"buff_id,omitempty"`
	Summary   string    `json:"summary"` // Human-readable description
	Impact    string    `json:"impact"`  // "RELIEF", "DRAIN", "NEUTRAL"
}

// Recap is the history of one character.
type Recap struct {
	CharacterID string         `json:"character_id"`
	Events      []RecapEvent   `json:"events"`
	Applied     map[string]int `json:"applied"`
	Rejected    int            `json:"rejected"`
	Expired     int            `json:"expired"`
}

// History builds the recap from the newest limit journal entries.
func (r *Recapper) History(ctx context.Context, characterID string, limit int) (*Recap, error) {
	records, err := r.eventRepo.GetByCharacterID(ctx, characterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events for character: %w", err)
	}

	now := r.now()
	recap := &Recap{
		CharacterID: characterID,
		Events:      make([]RecapEvent, 0, len(records)),
		Applied:     make(map[string]int),
	}
	for _, e := range records {
		switch events.EventType(e.EventType) {
		case events.EventTypeBuffApplied:
			recap.Applied[e.BuffID]++
		case events.EventTypeBuffRejected:
			recap.Rejected++
		case events.EventTypeBuffExpired:
			recap.Expired++
		}

		recap.Events = append(recap.Events, RecapEvent{
			Timestamp: e.Timestamp,
			Ago:       humanize.RelTime(e.Timestamp, now, "ago", "from now"),
			Tick:      e.Tick,
			EventType: e.EventType,
			BuffID:    e.BuffID,
			Summary:   summarizeEvent(e),
			Impact:    determineImpact(e),
		})
	}
	return recap, nil
}

// summarizeEvent creates a human-readable summary.
func summarizeEvent(e EventRecord) string {
	switch events.EventType(e.EventType) {
	case events.EventTypeCharacterAdded:
		return fmt.Sprintf("%v joined the simulation", e.Payload["name"])
	case events.EventTypeCharacterRemoved:
		return fmt.Sprintf("%v left the simulation", e.Payload["name"])
	case events.EventTypeBuffApplied:
		return fmt.Sprintf("%s applied, now %v %s", e.BuffID, e.Payload["stacks"],
			english.PluralWord(intOf(e.Payload["stacks"]), "stack", ""))
	case events.EventTypeBuffRejected:
		return fmt.Sprintf("%s rejected: %v", e.BuffID, e.Payload["reason"])
	case events.EventTypeBuffRemoved:
		return fmt.Sprintf("%s removed", e.BuffID)
	case events.EventTypeBuffStackLost:
		return fmt.Sprintf("%s lost a stack, %v left", e.BuffID, e.Payload["stacks"])
	case events.EventTypeBuffExpired:
		return fmt.Sprintf("%s wore off", e.BuffID)
	default:
		return e.EventType
	}
}

// determineImpact classifies the event impact.
func determineImpact(e EventRecord) string {
	switch events.EventType(e.EventType) {
	case events.EventTypeBuffApplied:
		return "RELIEF"
	case events.EventTypeBuffExpired, events.EventTypeBuffStackLost:
		return "DRAIN"
	default:
		return "NEUTRAL"
	}
}

func intOf(v interface{}) int {
	if f, ok := v.(float64); ok {
		return int(f)
	}
	return 0
}
