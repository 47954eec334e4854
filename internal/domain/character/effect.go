package character

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Operation is how an effect value combines with the accumulated velocity.
type Operation string

const (
	OpAdd      Operation = "add"
	OpMultiply Operation = "multiply"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	return op == OpAdd || op == OpMultiply
}

// Apply combines value into current according to op. Unknown operations leave current untouched.
func (op Operation) Apply(current, value float64) float64 {
	switch op {
	case OpAdd:
		return current + value
	case OpMultiply:
		return current * value
	}
	return current
}

// Effect is a single velocity modifier carried by a buff.
type Effect struct {
	Target    Need      `json:"property"`
	Value     float64   `json:"value"`
	Operation Operation `json:"operation"`
}

// Duration is a remaining tick count, or infinite for permanent buffs.
type Duration struct {
	ticks    int
	infinite bool
}

// Ticks returns a finite duration of n ticks.
func Ticks(n int) Duration {
	return Duration{ticks: n}
}

// Infinite returns a duration that never decays.
func Infinite() Duration {
	return Duration{infinite: true}
}

// IsInfinite reports whether d never decays.
func (d Duration) IsInfinite() bool {
	return d.infinite
}

// Remaining returns the finite tick count. It is meaningless for infinite durations.
func (d Duration) Remaining() int {
	return d.ticks
}

func (d Duration) String() string {
	if d.infinite {
		return "infinite"
	}
	return strconv.Itoa(d.ticks)
}

// MarshalJSON encodes infinite durations as null.
func (d Duration) MarshalJSON() ([]byte, error) {
	if d.infinite {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(d.ticks)), nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = Infinite()
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	*d = Ticks(n)
	return nil
}

// BuffInstance is a buff currently held by a character.
type BuffInstance struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Stacks    int      `json:"stacks"`
	MaxStacks int      `json:"maxStacks"`
	Duration  Duration `json:"duration"`
	Effects   []Effect `json:"effects"`
}

// Clone returns a deep copy of b.
func (b *BuffInstance) Clone() BuffInstance {
	out := *b
	out.Effects = append([]Effect(nil), b.Effects...)
	return out
}
