package engine

import (
	"fmt"

	"github.com/MRamiBalles/needsim/internal/domain/character"
	"github.com/MRamiBalles/needsim/internal/domain/rules"
)

// BuffManager applies, removes and decays buff instances against a catalog.
// Callers must hold the character's lock.
type BuffManager struct {
	catalog *rules.Catalog
}

// NewBuffManager creates a manager backed by catalog.
func NewBuffManager(catalog *rules.Catalog) *BuffManager {
	return &BuffManager{catalog: catalog}
}

// Apply adds stacks of a buff. Reapplying refreshes the duration and adds stacks up to the cap.
// On error the character is left untouched.
func (m *BuffManager) Apply(c *character.Character, buffID string, stacks int) error {
	def, ok := m.catalog.Buff(buffID)
	if !ok {
		return fmt.Errorf("apply %q: %w", buffID, ErrUnknownBuff)
	}
	if stacks < 1 {
		return fmt.Errorf("apply %q with %d stacks: %w", buffID, stacks, ErrInvalidStacks)
	}

	if i := c.FindBuff(buffID); i >= 0 {
		inst := c.Buffs[i]
		inst.Stacks = min(inst.Stacks+stacks, def.MaxStacks)
		inst.Duration = def.Duration
		return nil
	}

	c.Buffs = append(c.Buffs, &character.BuffInstance{
		ID:        def.ID,
		Name:      def.Name,
		Stacks:    min(stacks, def.MaxStacks),
		MaxStacks: def.MaxStacks,
		Duration:  def.Duration,
		Effects:   append([]character.Effect(nil), def.Effects...),
	})
	return nil
}

// Remove deletes the buff instance and reports whether one existed.
func (m *BuffManager) Remove(c *character.Character, buffID string) bool {
	i := c.FindBuff(buffID)
	if i < 0 {
		return false
	}
	buffs := make([]*character.BuffInstance, 0, len(c.Buffs)-1)
	buffs = append(buffs, c.Buffs[:i]...)
	c.Buffs = append(buffs, c.Buffs[i+1:]...)
	return true
}

// Get returns the live instance of a buff.
func (m *BuffManager) Get(c *character.Character, buffID string) (*character.BuffInstance, bool) {
	i := c.FindBuff(buffID)
	if i < 0 {
		return nil, false
	}
	return c.Buffs[i], true
}

// StackLoss records a buff that lost a stack but survived.
type StackLoss struct {
	BuffID    string
	Remaining int
}

// DecayReport lists what a decay pass changed.
type DecayReport struct {
	StackLost []StackLoss
	Expired   []string
	// Orphaned holds instances whose definition is missing from the catalog.
	Orphaned []string
}

// Empty reports whether the pass changed nothing beyond counting down durations.
func (r DecayReport) Empty() bool {
	return len(r.StackLost) == 0 && len(r.Expired) == 0 && len(r.Orphaned) == 0
}

// Decay counts finite durations down by one tick. A stack is lost once the
// duration passes zero, so the final tick of a stack still takes effect.
// Survivors keep their relative order.
func (m *BuffManager) Decay(c *character.Character) DecayReport {
	var report DecayReport
	survivors := make([]*character.BuffInstance, 0, len(c.Buffs))

	for _, inst := range c.Buffs {
		def, ok := m.catalog.Buff(inst.ID)
		if !ok {
			report.Orphaned = append(report.Orphaned, inst.ID)
			continue
		}
		if inst.Duration.IsInfinite() {
			survivors = append(survivors, inst)
			continue
		}

		remaining := inst.Duration.Remaining() - 1
		if remaining > -1 {
			inst.Duration = character.Ticks(remaining)
			survivors = append(survivors, inst)
			continue
		}

		inst.Stacks--
		if inst.Stacks <= 0 {
			report.Expired = append(report.Expired, inst.ID)
			continue
		}
		inst.Duration = def.Duration
		report.StackLost = append(report.StackLost, StackLoss{BuffID: inst.ID, Remaining: inst.Stacks})
		survivors = append(survivors, inst)
	}

	c.Buffs = survivors
	return report
}
