package engine

import (
	"github.com/MRamiBalles/needsim/internal/domain/character"
	"github.com/MRamiBalles/needsim/internal/domain/rules"
)

// EffectEngine derives per-tick velocities from buffs and natural effects.
type EffectEngine struct {
	catalog *rules.Catalog
}

// NewEffectEngine creates an effect engine backed by catalog.
func NewEffectEngine(catalog *rules.Catalog) *EffectEngine {
	return &EffectEngine{catalog: catalog}
}

// ComputeVelocities recomputes c.Velocities from scratch and returns them.
// Buff effects apply first in buff order, then natural effects in catalog order.
// The result depends only on the character state and the catalog.
func (e *EffectEngine) ComputeVelocities(c *character.Character) character.NeedState {
	var v character.NeedState

	for _, inst := range c.Buffs {
		stacks := float64(inst.Stacks)
		for _, eff := range inst.Effects {
			v.Set(eff.Target, eff.Operation.Apply(v.Get(eff.Target), eff.Value*stacks))
		}
	}

	props := c.Properties
	for _, rule := range e.catalog.NaturalEffects() {
		if !rule.Condition.Eval(props) {
			continue
		}
		for _, entry := range rule.Effects {
			if !entry.Applies(props) {
				continue
			}
			v.Set(entry.Target, entry.Operation.Apply(v.Get(entry.Target), entry.Contribution(props)))
		}
	}

	v.Clamp(-character.MaxVelocity, character.MaxVelocity)
	c.Velocities = v
	return v
}

// ActiveRules lists the natural effects whose condition holds for props.
func (e *EffectEngine) ActiveRules(props character.NeedState) []string {
	active := make([]string, 0)
	for _, rule := range e.catalog.NaturalEffects() {
		if rule.Condition.Eval(props) {
			active = append(active, rule.ID)
		}
	}
	return active
}
