// Package rules contains the static buff and natural-effect tables that drive the simulation.
// This package is PURE and must NOT import any infrastructure packages.
package rules

import (
	"errors"
	"fmt"

	"github.com/MRamiBalles/needsim/internal/domain/character"
)

// BuffDefinition is the immutable template a BuffInstance is created from.
type BuffDefinition struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	MaxStacks int                `json:"maxStacks"`
	Duration  character.Duration `json:"duration"`
	Effects   []character.Effect `json:"effects"`
}

// NaturalEffectEntry is one velocity contribution of a natural effect.
// When Source is set the value is scaled by that property's current value.
type NaturalEffectEntry struct {
	Target    character.Need      `json:"target"`
	Value     float64             `json:"value"`
	Operation character.Operation `json:"operation"`
	Source    *character.Need     `json:"source,omitempty"`
	Condition *Condition          `json:"condition,omitempty"`
}

// Contribution returns the value this entry applies for the given properties.
func (e NaturalEffectEntry) Contribution(props character.NeedState) float64 {
	if e.Source == nil {
		return e.Value
	}
	return e.Value * props.Get(*e.Source)
}

// Applies reports whether the entry's own condition holds (absent means always).
func (e NaturalEffectEntry) Applies(props character.NeedState) bool {
	return e.Condition == nil || e.Condition.Eval(props)
}

// NaturalEffectRule is a condition-triggered passive interaction between needs.
type NaturalEffectRule struct {
	ID          string               `json:"id"`
	Description string               `json:"description"`
	Condition   Condition            `json:"condition"`
	Effects     []NaturalEffectEntry `json:"effects"`
}

// Catalog is the read-only set of rule tables injected into the engine.
// It must not be mutated after construction.
type Catalog struct {
	buffOrder []string
	buffs     map[string]BuffDefinition
	natural   []NaturalEffectRule
}

// NewCatalog builds and validates a catalog. Buff order is preserved for listing.
func NewCatalog(buffs []BuffDefinition, natural []NaturalEffectRule) (*Catalog, error) {
	c := &Catalog{
		buffOrder: make([]string, 0, len(buffs)),
		buffs:     make(map[string]BuffDefinition, len(buffs)),
		natural:   append([]NaturalEffectRule(nil), natural...),
	}
	for _, def := range buffs {
		if _, dup := c.buffs[def.ID]; dup {
			return nil, fmt.Errorf("duplicate buff %q", def.ID)
		}
		c.buffs[def.ID] = def
		c.buffOrder = append(c.buffOrder, def.ID)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Buff looks up a buff definition by id.
func (c *Catalog) Buff(id string) (BuffDefinition, bool) {
	def, ok := c.buffs[id]
	return def, ok
}

// Buffs returns every buff definition in declaration order.
func (c *Catalog) Buffs() []BuffDefinition {
	out := make([]BuffDefinition, 0, len(c.buffOrder))
	for _, id := range c.buffOrder {
		out = append(out, c.buffs[id])
	}
	return out
}

// NaturalEffects returns the natural-effect rules in evaluation order.
func (c *Catalog) NaturalEffects() []NaturalEffectRule {
	return append([]NaturalEffectRule(nil), c.natural...)
}

// Validate checks every definition and rule.
func (c *Catalog) Validate() error {
	var errs []error
	for _, id := range c.buffOrder {
		def := c.buffs[id]
		if def.ID == "" {
			errs = append(errs, errors.New("buff with empty id"))
		}
		if def.MaxStacks < 1 {
			errs = append(errs, fmt.Errorf("buff %q: maxStacks must be positive, got %d", id, def.MaxStacks))
		}
		if !def.Duration.IsInfinite() && def.Duration.Remaining() < 1 {
			errs = append(errs, fmt.Errorf("buff %q: duration must be positive, got %d", id, def.Duration.Remaining()))
		}
		for _, eff := range def.Effects {
			if err := validateEffect(eff.Target, eff.Operation); err != nil {
				errs = append(errs, fmt.Errorf("buff %q: %w", id, err))
			}
		}
	}

	seen := make(map[string]bool, len(c.natural))
	for _, rule := range c.natural {
		if seen[rule.ID] {
			errs = append(errs, fmt.Errorf("duplicate natural effect %q", rule.ID))
		}
		seen[rule.ID] = true
		if err := rule.Condition.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("natural effect %q: %w", rule.ID, err))
		}
		for _, entry := range rule.Effects {
			if err := validateEffect(entry.Target, entry.Operation); err != nil {
				errs = append(errs, fmt.Errorf("natural effect %q: %w", rule.ID, err))
			}
			if entry.Source != nil && !entry.Source.Valid() {
				errs = append(errs, fmt.Errorf("natural effect %q: source %s", rule.ID, *entry.Source))
			}
			if entry.Condition != nil {
				if err := entry.Condition.Validate(); err != nil {
					errs = append(errs, fmt.Errorf("natural effect %q: %w", rule.ID, err))
				}
			}
		}
	}
	return errors.Join(errs...)
}

func validateEffect(target character.Need, op character.Operation) error {
	if !target.Valid() {
		return fmt.Errorf("effect targets %s", target)
	}
	if !op.Valid() {
		return fmt.Errorf("unknown operation %q", op)
	}
	return nil
}
