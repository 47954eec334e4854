// Package character defines the core domain entities for simulated characters.
// This package is PURE and must NOT import any infrastructure packages (network, events, platform).
package character

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Need identifies one of the bounded character attributes.
type Need int

const (
	Sleepiness Need = iota
	Hunger
	Thirst
	Toilet
	Dirtiness
	Pain
	Discomfort

	// NeedCount is the number of needs tracked per character.
	NeedCount = int(Discomfort) + 1
)

// Property and velocity bounds.
const (
	MinProperty = 0.0
	MaxProperty = 10.0
	MaxVelocity = 1.0
)

var needNames = [NeedCount]string{
	Sleepiness: "sleepiness",
	Hunger:     "hunger",
	Thirst:     "thirst",
	Toilet:     "toilet",
	Dirtiness:  "dirtiness",
	Pain:       "pain",
	Discomfort: "discomfort",
}

// Needs returns every need in canonical order.
func Needs() []Need {
	all := make([]Need, NeedCount)
	for i := range all {
		all[i] = Need(i)
	}
	return all
}

func (n Need) String() string {
	if !n.Valid() {
		return "need(" + strconv.Itoa(int(n)) + ")"
	}
	return needNames[n]
}

// Valid reports whether n is one of the known needs.
func (n Need) Valid() bool {
	return n >= 0 && int(n) < NeedCount
}

// ParseNeed resolves a need from its lowercase name.
func ParseNeed(name string) (Need, error) {
	for i, candidate := range needNames {
		if candidate == name {
			return Need(i), nil
		}
	}
	return 0, fmt.Errorf("unknown need %q", name)
}

func (n Need) MarshalJSON() ([]byte, error) {
	if !n.Valid() {
		return nil, fmt.Errorf("cannot marshal %s", n)
	}
	return json.Marshal(n.String())
}

func (n *Need) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseNeed(name)
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// Percentage maps a property value in [0, 10] onto [0, 100].
func Percentage(value float64) float64 {
	return value * 100 / (MaxProperty - MinProperty)
}

// NeedState holds one value per need. It is used both for properties and velocities.
type NeedState [NeedCount]float64

// Get returns the value for a need.
func (s NeedState) Get(n Need) float64 {
	return s[n]
}

// Set assigns the value for a need.
func (s *NeedState) Set(n Need, v float64) {
	s[n] = v
}

// Reset zeroes every component.
func (s *NeedState) Reset() {
	*s = NeedState{}
}

// Clamp bounds every component to [lo, hi].
func (s *NeedState) Clamp(lo, hi float64) {
	for i, v := range s {
		s[i] = clamp(v, lo, hi)
	}
}

// Add integrates delta into s component-wise.
func (s *NeedState) Add(delta NeedState) {
	for i, v := range delta {
		s[i] += v
	}
}

// Within reports whether every component lies in [lo, hi].
func (s NeedState) Within(lo, hi float64) bool {
	for _, v := range s {
		if v < lo || v > hi {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the state as an object keyed by need name, in canonical order.
func (s NeedState) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, v := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(needNames[i]))
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts a partial object; omitted needs stay at zero.
func (s *NeedState) UnmarshalJSON(data []byte) error {
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out NeedState
	for name, v := range raw {
		n, err := ParseNeed(name)
		if err != nil {
			return err
		}
		out[n] = v
	}
	*s = out
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
