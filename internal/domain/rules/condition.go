package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/MRamiBalles/needsim/internal/domain/character"
)

// Comparator compares a need percentage against a threshold.
type Comparator string

const (
	GreaterThan    Comparator = ">"
	GreaterOrEqual Comparator = ">="
	LessThan       Comparator = "<"
	LessOrEqual    Comparator = "<="
)

func (c Comparator) compare(left, right float64) bool {
	switch c {
	case GreaterThan:
		return left > right
	case GreaterOrEqual:
		return left >= right
	case LessThan:
		return left < right
	case LessOrEqual:
		return left <= right
	}
	return false
}

// Valid reports whether c is a known comparator.
func (c Comparator) Valid() bool {
	switch c {
	case GreaterThan, GreaterOrEqual, LessThan, LessOrEqual:
		return true
	}
	return false
}

// ConditionKind tags the variant held by a Condition.
type ConditionKind string

const (
	KindAlways  ConditionKind = "always"
	KindCompare ConditionKind = "compare"
	KindAny     ConditionKind = "any"
	KindAll     ConditionKind = "all"
)

// Condition is a predicate over a character's properties, expressed as data.
// Thresholds are percentages of the property range (0-100).
type Condition struct {
	Kind       ConditionKind
	Need       character.Need
	Comparator Comparator
	Threshold  float64
	Terms      []Condition
}

// Always is a condition that always holds.
func Always() Condition {
	return Condition{Kind: KindAlways}
}

// Compare builds a single-need comparison.
func Compare(need character.Need, cmp Comparator, thresholdPercent float64) Condition {
	return Condition{Kind: KindCompare, Need: need, Comparator: cmp, Threshold: thresholdPercent}
}

// Above holds when the need's percentage is strictly greater than the threshold.
func Above(need character.Need, thresholdPercent float64) Condition {
	return Compare(need, GreaterThan, thresholdPercent)
}

// Below holds when the need's percentage is strictly less than the threshold.
func Below(need character.Need, thresholdPercent float64) Condition {
	return Compare(need, LessThan, thresholdPercent)
}

// Any holds when at least one term holds.
func Any(terms ...Condition) Condition {
	return Condition{Kind: KindAny, Terms: terms}
}

// All holds when every term holds.
func All(terms ...Condition) Condition {
	return Condition{Kind: KindAll, Terms: terms}
}

// Eval evaluates the condition against a property state.
func (c Condition) Eval(props character.NeedState) bool {
	switch c.Kind {
	case KindAlways, "":
		return true
	case KindCompare:
		return c.Comparator.compare(character.Percentage(props.Get(c.Need)), c.Threshold)
	case KindAny:
		for _, t := range c.Terms {
			if t.Eval(props) {
				return true
			}
		}
		return false
	case KindAll:
		for _, t := range c.Terms {
			if !t.Eval(props) {
				return false
			}
		}
		return true
	}
	return false
}

// Validate checks the condition tree for unknown kinds, needs and comparators.
func (c Condition) Validate() error {
	switch c.Kind {
	case KindAlways, "":
		return nil
	case KindCompare:
		if !c.Need.Valid() {
			return fmt.Errorf("condition references %s", c.Need)
		}
		if !c.Comparator.Valid() {
			return fmt.Errorf("unknown comparator %q", c.Comparator)
		}
		return nil
	case KindAny, KindAll:
		if len(c.Terms) == 0 {
			return fmt.Errorf("%s condition without terms", c.Kind)
		}
		for _, t := range c.Terms {
			if err := t.Validate(); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown condition kind %q", c.Kind)
}

// String renders the condition as a readable expression, e.g. "hunger > 15% && hunger <= 50%".
func (c Condition) String() string {
	return c.render(false)
}

func (c Condition) render(nested bool) string {
	switch c.Kind {
	case KindAlways, "":
		return "always"
	case KindCompare:
		return c.Need.String() + " " + string(c.Comparator) + " " + strconv.FormatFloat(c.Threshold, 'g', -1, 64) + "%"
	case KindAny, KindAll:
		sep := " || "
		if c.Kind == KindAll {
			sep = " && "
		}
		parts := make([]string, len(c.Terms))
		for i, t := range c.Terms {
			parts[i] = t.render(true)
		}
		out := strings.Join(parts, sep)
		if nested && len(parts) > 1 {
			out = "(" + out + ")"
		}
		return out
	}
	return string(c.Kind)
}

type conditionJSON struct {
	Kind       ConditionKind   `json:"kind"`
	Need       *character.Need `json:"need,omitempty"`
	Comparator Comparator      `json:"comparator,omitempty"`
	Threshold  *float64        `json:"threshold,omitempty"`
	Terms      []Condition     `json:"terms,omitempty"`
}

// MarshalJSON encodes only the fields meaningful for the condition's kind.
func (c Condition) MarshalJSON() ([]byte, error) {
	out := conditionJSON{Kind: c.Kind}
	if out.Kind == "" {
		out.Kind = KindAlways
	}
	switch out.Kind {
	case KindCompare:
		need, threshold := c.Need, c.Threshold
		out.Need = &need
		out.Comparator = c.Comparator
		out.Threshold = &threshold
	case KindAny, KindAll:
		out.Terms = c.Terms
	}
	return json.Marshal(out)
}

func (c *Condition) UnmarshalJSON(data []byte) error {
	var in conditionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	out := Condition{Kind: in.Kind, Comparator: in.Comparator, Terms: in.Terms}
	if in.Need != nil {
		out.Need = *in.Need
	}
	if in.Threshold != nil {
		out.Threshold = *in.Threshold
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*c = out
	return nil
}
