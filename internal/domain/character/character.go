package character

import "time"

// Character is a simulated entity whose needs drift over time.
type Character struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Properties NeedState       `json:"properties"`
	Velocities NeedState       `json:"velocities"`
	Buffs      []*BuffInstance `json:"buffs"`
}

// New creates a character with the given starting properties, clamped to the valid range.
// Velocities start at zero and the buff list is empty.
func New(id, name string, properties NeedState) *Character {
	properties.Clamp(MinProperty, MaxProperty)
	return &Character{
		ID:         id,
		Name:       name,
		Properties: properties,
		Buffs:      []*BuffInstance{},
	}
}

// FindBuff returns the index of the buff with the given id, or -1.
func (c *Character) FindBuff(id string) int {
	for i, b := range c.Buffs {
		if b.ID == id {
			return i
		}
	}
	return -1
}

// Snapshot is an immutable copy of a character's state, safe to share across goroutines.
type Snapshot struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Properties NeedState      `json:"properties"`
	Velocities NeedState      `json:"velocities"`
	Buffs      []BuffInstance `json:"buffs"`
	Tick       int64          `json:"tick"`
	TakenAt    time.Time      `json:"taken_at"`
}

// Snapshot copies the character state. The caller must hold whatever lock guards c.
func (c *Character) Snapshot(tick int64) Snapshot {
	buffs := make([]BuffInstance, len(c.Buffs))
	for i, b := range c.Buffs {
		buffs[i] = b.Clone()
	}
	return Snapshot{
		ID:         c.ID,
		Name:       c.Name,
		Properties: c.Properties,
		Velocities: c.Velocities,
		Buffs:      buffs,
		Tick:       tick,
		TakenAt:    time.Now(),
	}
}
