package rules

import (
	"fmt"

	"github.com/MRamiBalles/needsim/internal/domain/character"
)

// AliveBuffID is the permanent buff every character carries from creation.
const AliveBuffID = "alive"

// Action buff ids accepted from players.
const (
	BuffSleep  = "sleep"
	BuffEat    = "eat"
	BuffDrink  = "drink"
	BuffClean  = "clean"
	BuffHeal   = "heal"
	BuffRest   = "rest"
	BuffToilet = "toilet"
)

// BaselineGrowth is the per-tick increase the alive buff applies to every need.
const BaselineGrowth = 0.08

const actionMaxStacks = 3

// DefaultBuffs returns the stock buff catalogue.
func DefaultBuffs() []BuffDefinition {
	alive := make([]character.Effect, 0, character.NeedCount)
	for _, n := range character.Needs() {
		alive = append(alive, add(n, BaselineGrowth))
	}

	return []BuffDefinition{
		{ID: AliveBuffID, Name: "Alive", MaxStacks: 1, Duration: character.Infinite(), Effects: alive},

		// Action buffs outweigh baseline growth for the needs they target.
		action(BuffSleep, "Sleeping", 4, add(character.Sleepiness, -0.35), add(character.Pain, -0.10)),
		action(BuffEat, "Eating", 3, add(character.Hunger, -0.45), add(character.Toilet, 0.15)),
		action(BuffDrink, "Drinking", 3, add(character.Thirst, -0.50), add(character.Toilet, 0.20)),
		action(BuffClean, "Cleaning", 3, add(character.Dirtiness, -0.70), add(character.Discomfort, -0.15)),
		action(BuffHeal, "Healing", 3, add(character.Pain, -0.50), add(character.Discomfort, -0.10)),
		action(BuffRest, "Resting", 2, add(character.Discomfort, -0.25)),
		action(BuffToilet, "Toilet", 4, add(character.Toilet, -0.60), add(character.Discomfort, -0.20)),
	}
}

func action(id, name string, duration int, effects ...character.Effect) BuffDefinition {
	return BuffDefinition{
		ID:        id,
		Name:      name,
		MaxStacks: actionMaxStacks,
		Duration:  character.Ticks(duration),
		Effects:   effects,
	}
}

func add(target character.Need, value float64) character.Effect {
	return character.Effect{Target: target, Value: value, Operation: character.OpAdd}
}

// discomfortSources are the needs whose fill level produces discomfort.
var discomfortSources = []character.Need{
	character.Sleepiness,
	character.Hunger,
	character.Thirst,
	character.Toilet,
	character.Dirtiness,
	character.Pain,
}

type discomfortTier struct {
	id          string
	description string
	lower       float64 // exclusive, percent
	upper       float64 // inclusive, percent; 0 means unbounded
	value       float64
	painValue   float64
}

var discomfortTiers = []discomfortTier{
	{"minor_discomfort", "Very minor discomfort for 15%-50% filled needs", 15, 50, 0.005, 0.008},
	{"low_discomfort", "Low discomfort for 50%-85% filled needs", 50, 85, 0.02, 0.03},
	{"high_discomfort", "High discomfort for 85%-100% filled needs", 85, 0, 0.25, 0.27},
}

func (t discomfortTier) rule() NaturalEffectRule {
	triggers := make([]Condition, 0, len(discomfortSources))
	entries := make([]NaturalEffectEntry, 0, len(discomfortSources))
	for _, src := range discomfortSources {
		triggers = append(triggers, Above(src, t.lower))

		entryCond := Above(src, t.lower)
		if t.upper > 0 {
			entryCond = All(Above(src, t.lower), Compare(src, LessOrEqual, t.upper))
		}
		value := t.value
		if src == character.Pain {
			value = t.painValue
		}
		entries = append(entries, NaturalEffectEntry{
			Target:    character.Discomfort,
			Value:     value,
			Operation: character.OpAdd,
			Source:    needPtr(src),
			Condition: &entryCond,
		})
	}
	return NaturalEffectRule{ID: t.id, Description: t.description, Condition: Any(triggers...), Effects: entries}
}

// crossRule builds a single-entry interaction between two needs.
func crossRule(id, description string, cond Condition, target character.Need, value float64, scaled bool) NaturalEffectRule {
	entry := NaturalEffectEntry{Target: target, Value: value, Operation: character.OpAdd}
	if scaled {
		entry.Source = needPtr(cond.Need)
	}
	return NaturalEffectRule{ID: id, Description: description, Condition: cond, Effects: []NaturalEffectEntry{entry}}
}

// DefaultNaturalEffects returns the stock natural-effect rules in evaluation order.
func DefaultNaturalEffects() []NaturalEffectRule {
	out := make([]NaturalEffectRule, 0, len(discomfortTiers)+8)
	for _, tier := range discomfortTiers {
		out = append(out, tier.rule())
	}

	return append(out,
		crossRule("sleepiness_+_pain_-", "High sleepiness decreases pain",
			Above(character.Sleepiness, 60), character.Pain, -0.03, true),
		crossRule("hunger_+_sleepiness_-", "High hunger decreases sleepiness",
			Above(character.Hunger, 70), character.Sleepiness, -0.02, true),
		crossRule("thirst_+_dirtiness_+", "High thirst increases dirtiness",
			Above(character.Thirst, 70), character.Dirtiness, 0.01, true),
		crossRule("thirst_-_toilet_+", "Low thirst increases toilet",
			Below(character.Thirst, 30), character.Toilet, 0.02, false),
		crossRule("toilet_+_sleepiness_-", "High toilet decreases sleepiness",
			Above(character.Toilet, 70), character.Sleepiness, -0.01, true),
		crossRule("toilet_+_thirst_-", "High toilet decreases thirst",
			Above(character.Toilet, 70), character.Thirst, -0.01, true),
		crossRule("pain_+_thirst_+", "High pain increases thirst",
			Above(character.Pain, 60), character.Thirst, 0.01, true),
		crossRule("pain_+_sleepiness_-", "High pain decreases sleepiness",
			Above(character.Pain, 60), character.Sleepiness, -0.02, true),
	)
}

// DefaultCatalog returns the stock rule tables. It panics if they fail validation.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultBuffs(), DefaultNaturalEffects())
	if err != nil {
		panic(fmt.Sprintf("rules: default catalog invalid: %v", err))
	}
	return c
}

func needPtr(n character.Need) *character.Need {
	return &n
}
