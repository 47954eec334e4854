package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MRamiBalles/needsim/internal/domain/character"
	"github.com/MRamiBalles/needsim/internal/domain/rules"
	"github.com/MRamiBalles/needsim/internal/events"
)

// Server to client message types.
const (
	MsgInitialState = "INITIAL_STATE"
	MsgStateUpdate  = "STATE_UPDATE"
	MsgEvent        = "EVENT"
)

// Client to server message types.
const (
	MsgAction     = "ACTION"
	MsgRemoveBuff = "REMOVE_BUFF"
)

// ServerMessage is the envelope for everything pushed to clients.
type ServerMessage struct {
	Type      string      `json:"type"`
	Tick      int64       `json:"tick"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"` // Unix milliseconds
}

func encode(msgType string, tick int64, data interface{}) ([]byte, error) {
	return json.Marshal(ServerMessage{
		Type:      msgType,
		Tick:      tick,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

// ClientMessage is an incoming command from the frontend.
type ClientMessage struct {
	Type        string `json:"type"`
	CharacterID string `json:"characterId"`
	Action      string `json:"action,omitempty"` // buff id for ACTION
	Stacks      *int   `json:"stacks,omitempty"`
	BuffID      string `json:"buffId,omitempty"` // for REMOVE_BUFF
}

var errMalformed = errors.New("malformed message")

// parseClientMessage decodes and validates a frame. Anything it rejects never reaches the engine.
func parseClientMessage(raw []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if msg.CharacterID == "" {
		return msg, fmt.Errorf("%w: missing characterId", errMalformed)
	}
	switch msg.Type {
	case MsgAction:
		if msg.Action == "" {
			return msg, fmt.Errorf("%w: missing action", errMalformed)
		}
		if msg.Stacks != nil && *msg.Stacks < 1 {
			return msg, fmt.Errorf("%w: stacks must be at least 1", errMalformed)
		}
	case MsgRemoveBuff:
		if msg.BuffID == "" {
			return msg, fmt.Errorf("%w: missing buffId", errMalformed)
		}
	default:
		return msg, fmt.Errorf("%w: unknown type %q", errMalformed, msg.Type)
	}
	return msg, nil
}

// StacksOrDefault returns the requested stacks, defaulting to one.
func (m ClientMessage) StacksOrDefault() int {
	if m.Stacks == nil {
		return 1
	}
	return *m.Stacks
}

// Simulation is the engine surface the transport depends on.
type Simulation interface {
	AddCharacter(c *character.Character, buffs ...string) error
	RemoveCharacter(id string) error
	ApplyBuff(id, buffID string, stacks int) error
	RemoveBuff(id, buffID string) (bool, error)
	GetBuff(id, buffID string) (character.BuffInstance, bool, error)
	Snapshot(id string) (character.Snapshot, error)
	Snapshots() []character.Snapshot
	Catalog() *rules.Catalog
	NaturalEffects() []rules.NaturalEffectRule
	ActiveNaturalEffects(id string) ([]string, error)
	TickNumber() int64
	TickRate() time.Duration
	SetTickRate(rate time.Duration) error
	Running() bool
}

// broadcastable reports whether an event is pushed to clients as EVENT.
// Ticks are already conveyed by STATE_UPDATE.
func broadcastable(e events.Event) bool {
	return e.Type != events.EventTypeTick
}
