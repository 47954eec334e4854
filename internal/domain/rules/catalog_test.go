package rules

import (
	"testing"

	"github.com/MRamiBalles/needsim/internal/domain/character"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()

	alive, ok := c.Buff(AliveBuffID)
	if !ok {
		t.Fatal("alive buff missing")
	}
	if !alive.Duration.IsInfinite() || alive.MaxStacks != 1 {
		t.Errorf("alive should be a single infinite stack, got %+v", alive)
	}
	if len(alive.Effects) != character.NeedCount {
		t.Errorf("alive should drive all %d needs, got %d effects", character.NeedCount, len(alive.Effects))
	}

	for _, id := range []string{BuffSleep, BuffEat, BuffDrink, BuffClean, BuffHeal, BuffRest, BuffToilet} {
		def, ok := c.Buff(id)
		if !ok {
			t.Errorf("buff %q missing", id)
			continue
		}
		if def.Duration.IsInfinite() || def.Duration.Remaining() < 2 || def.Duration.Remaining() > 4 {
			t.Errorf("buff %q: duration %s outside 2-4 ticks", id, def.Duration)
		}
		if def.MaxStacks != 3 {
			t.Errorf("buff %q: maxStacks %d, want 3", id, def.MaxStacks)
		}
		hasNegative := false
		for _, e := range def.Effects {
			if e.Value < 0 {
				hasNegative = true
			}
		}
		if !hasNegative {
			t.Errorf("buff %q counteracts nothing", id)
		}
	}

	if got := len(c.Buffs()); got != 8 {
		t.Errorf("expected 8 buffs, got %d", got)
	}
	if got := len(c.NaturalEffects()); got != 11 {
		t.Errorf("expected 3 tiers + 8 cross rules, got %d", got)
	}
}

func TestDiscomfortTierBands(t *testing.T) {
	rules := DefaultNaturalEffects()
	minor, low, high := rules[0], rules[1], rules[2]

	var props character.NeedState
	props.Set(character.Hunger, 9.0)

	if !minor.Condition.Eval(props) {
		t.Error("minor tier trigger should fire for 90% hunger")
	}
	for _, e := range minor.Effects {
		if *e.Source == character.Hunger && e.Applies(props) {
			t.Error("minor tier hunger entry must not apply above 50%")
		}
	}
	for _, e := range low.Effects {
		if *e.Source == character.Hunger && e.Applies(props) {
			t.Error("low tier hunger entry must not apply above 85%")
		}
	}

	found := false
	for _, e := range high.Effects {
		if *e.Source == character.Hunger {
			found = true
			if !e.Applies(props) {
				t.Error("high tier hunger entry should apply at 90%")
			}
			if got := e.Contribution(props); got != 0.25*9.0 {
				t.Errorf("contribution = %v, want %v", got, 0.25*9.0)
			}
		}
	}
	if !found {
		t.Fatal("high tier has no hunger entry")
	}
}

func TestNewCatalogValidation(t *testing.T) {
	tests := []struct {
		name  string
		buffs []BuffDefinition
	}{
		{"zero max stacks", []BuffDefinition{{ID: "x", MaxStacks: 0, Duration: character.Ticks(1)}}},
		{"zero duration", []BuffDefinition{{ID: "x", MaxStacks: 1, Duration: character.Ticks(0)}}},
		{"duplicate", []BuffDefinition{
			{ID: "x", MaxStacks: 1, Duration: character.Ticks(1)},
			{ID: "x", MaxStacks: 1, Duration: character.Ticks(1)},
		}},
		{"bad operation", []BuffDefinition{{ID: "x", MaxStacks: 1, Duration: character.Ticks(1),
			Effects: []character.Effect{{Target: character.Hunger, Value: 1, Operation: "pow"}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCatalog(tt.buffs, nil); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
