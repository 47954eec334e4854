package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MRamiBalles/needsim/internal/domain/character"
	"github.com/MRamiBalles/needsim/internal/domain/rules"
	"github.com/MRamiBalles/needsim/internal/events"
	"github.com/MRamiBalles/needsim/internal/platform/logger"
	"github.com/MRamiBalles/needsim/internal/platform/metrics"
	"go.uber.org/zap"
)

// SnapshotCache holds the most recent snapshot of each character for lock-free reads.
type SnapshotCache interface {
	Put(s character.Snapshot)
	Get(id string) (character.Snapshot, bool)
	Remove(id string)
}

// TickObserver is called after every tick with the post-tick snapshots in store order.
type TickObserver func(tick int64, snapshots []character.Snapshot)

// Options tunes an Engine. Zero values select defaults.
type Options struct {
	TickRate  time.Duration
	Collector *metrics.Collector
	Cache     SnapshotCache
}

// Engine is the central orchestrator that wires the character store to the rule tables
// and reports every mutation to the event log.
type Engine struct {
	catalog   *rules.Catalog
	store     *Store
	buffs     *BuffManager
	effects   *EffectEngine
	ticker    *Ticker
	eventLog  *events.EventLog
	logger    *logger.Logger
	collector *metrics.Collector
	cache     SnapshotCache

	tickMu     sync.Mutex // serializes tick passes
	stateMu    sync.RWMutex
	tickNumber int64

	obsMu     sync.RWMutex
	observers []TickObserver
}

// NewEngine initializes the simulation around an immutable catalog.
func NewEngine(catalog *rules.Catalog, eventLog *events.EventLog, log *logger.Logger, opts Options) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	if opts.Collector == nil {
		opts.Collector = metrics.Get()
	}
	e := &Engine{
		catalog:   catalog,
		store:     NewStore(),
		buffs:     NewBuffManager(catalog),
		effects:   NewEffectEngine(catalog),
		eventLog:  eventLog,
		logger:    log,
		collector: opts.Collector,
		cache:     opts.Cache,
	}
	e.ticker = NewTicker(opts.TickRate, e.Tick, log)
	return e
}

// Start runs the simulation clock until ctx is done or Stop is called. It blocks.
func (e *Engine) Start(ctx context.Context) {
	e.logger.Info("Starting simulation engine",
		zap.Int("characters", e.store.Len()),
		zap.Int("buffs", len(e.catalog.Buffs())),
		zap.Int("natural_effects", len(e.catalog.NaturalEffects())))
	e.ticker.Start(ctx)
}

// Stop halts the simulation clock.
func (e *Engine) Stop() {
	e.ticker.Stop()
}

// SetTickRate changes the clock interval.
func (e *Engine) SetTickRate(rate time.Duration) error {
	return e.ticker.SetTickRate(rate)
}

// TickRate returns the clock interval.
func (e *Engine) TickRate() time.Duration {
	return e.ticker.Rate()
}

// Running reports whether the clock is running.
func (e *Engine) Running() bool {
	return e.ticker.Running()
}

// TickNumber returns how many ticks have completed.
func (e *Engine) TickNumber() int64 {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.tickNumber
}

// Catalog exposes the rule tables.
func (e *Engine) Catalog() *rules.Catalog {
	return e.catalog
}

// NaturalEffects returns the natural-effect catalogue for introspection.
func (e *Engine) NaturalEffects() []rules.NaturalEffectRule {
	return e.catalog.NaturalEffects()
}

// EventLog exposes the event log for replay endpoints.
func (e *Engine) EventLog() *events.EventLog {
	return e.eventLog
}

// OnTick registers an observer for post-tick snapshots.
func (e *Engine) OnTick(observer TickObserver) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.observers = append(e.observers, observer)
}

// AddCharacter registers a new character. The given buffs are attached with one
// stack each before the character becomes visible, so no tick can observe it
// without them. An unknown buff rejects the whole call.
func (e *Engine) AddCharacter(c *character.Character, buffs ...string) error {
	applied := make([]events.Event, 0, len(buffs))
	for _, buffID := range buffs {
		if err := e.buffs.Apply(c, buffID, 1); err != nil {
			return fmt.Errorf("add %q: %w", c.ID, err)
		}
		inst, _ := e.buffs.Get(c, buffID)
		applied = append(applied, events.Event{
			Type:        events.EventTypeBuffApplied,
			CharacterID: c.ID,
			BuffID:      buffID,
			Payload:     events.BuffPayload{Stacks: inst.Stacks, Requested: 1},
		})
	}

	if err := e.store.Add(c); err != nil {
		return err
	}
	payload := events.CharacterPayload{Name: c.Name}
	if entry, ok := e.store.Get(c.ID); ok {
		entry.Do(func(c *character.Character) {
			payload.Properties = c.Properties
			e.cacheSnapshot(c)
		})
	}

	e.emit(events.Event{Type: events.EventTypeCharacterAdded, CharacterID: c.ID, Payload: payload})
	for _, ev := range applied {
		e.collector.RecordBuffApplied()
		e.emit(ev)
	}
	e.logger.Info("Character registered", zap.String("character_id", c.ID), zap.String("name", c.Name))
	return nil
}

// RemoveCharacter deletes a character from the simulation.
func (e *Engine) RemoveCharacter(id string) error {
	entry, ok := e.store.Get(id)
	if !ok {
		return fmt.Errorf("remove %q: %w", id, ErrCharacterNotFound)
	}

	// Retiring under the character lock keeps an in-flight tick or action
	// from writing the snapshot back after the cache is cleared.
	var payload events.CharacterPayload
	retired := entry.retire(func(c *character.Character) {
		payload = events.CharacterPayload{Name: c.Name, Properties: c.Properties}
		if e.cache != nil {
			e.cache.Remove(id)
		}
	})
	if !retired {
		return fmt.Errorf("remove %q: %w", id, ErrCharacterNotFound)
	}
	e.store.Remove(id)

	e.emit(events.Event{Type: events.EventTypeCharacterRemoved, CharacterID: id, Payload: payload})
	e.logger.Info("Character removed", zap.String("character_id", id))
	return nil
}

// ApplyBuff adds stacks of a buff to a character. Unknown buffs return ErrUnknownBuff
// and leave the character untouched; callers that drop them silently still get the
// rejection recorded here.
func (e *Engine) ApplyBuff(id, buffID string, stacks int) error {
	entry, ok := e.store.Get(id)
	if !ok {
		return fmt.Errorf("apply %q to %q: %w", buffID, id, ErrCharacterNotFound)
	}

	var (
		err    error
		result int
	)
	live := entry.Do(func(c *character.Character) {
		if err = e.buffs.Apply(c, buffID, stacks); err != nil {
			return
		}
		inst, _ := e.buffs.Get(c, buffID)
		result = inst.Stacks
		e.cacheSnapshot(c)
	})
	if !live {
		return fmt.Errorf("apply %q to %q: %w", buffID, id, ErrCharacterNotFound)
	}

	if err != nil {
		e.collector.RecordBuffRejected()
		e.emit(events.Event{
			Type:        events.EventTypeBuffRejected,
			CharacterID: id,
			BuffID:      buffID,
			Payload:     events.BuffPayload{Requested: stacks, Reason: err.Error()},
		})
		e.logger.Debug("Buff rejected",
			zap.String("character_id", id),
			zap.String("buff_id", buffID),
			zap.Error(err))
		return err
	}

	e.collector.RecordBuffApplied()
	e.emit(events.Event{
		Type:        events.EventTypeBuffApplied,
		CharacterID: id,
		BuffID:      buffID,
		Payload:     events.BuffPayload{Stacks: result, Requested: stacks},
	})
	return nil
}

// RemoveBuff deletes a buff instance and reports whether one existed.
func (e *Engine) RemoveBuff(id, buffID string) (bool, error) {
	entry, ok := e.store.Get(id)
	if !ok {
		return false, fmt.Errorf("remove %q from %q: %w", buffID, id, ErrCharacterNotFound)
	}

	var removed bool
	live := entry.Do(func(c *character.Character) {
		removed = e.buffs.Remove(c, buffID)
		if removed {
			e.cacheSnapshot(c)
		}
	})
	if !live {
		return false, fmt.Errorf("remove %q from %q: %w", buffID, id, ErrCharacterNotFound)
	}

	if removed {
		e.collector.RecordBuffRemoved()
		e.emit(events.Event{Type: events.EventTypeBuffRemoved, CharacterID: id, BuffID: buffID})
	}
	return removed, nil
}

// GetBuff returns a copy of a character's buff instance.
func (e *Engine) GetBuff(id, buffID string) (character.BuffInstance, bool, error) {
	entry, ok := e.store.Get(id)
	if !ok {
		return character.BuffInstance{}, false, fmt.Errorf("get %q from %q: %w", buffID, id, ErrCharacterNotFound)
	}

	var (
		inst  character.BuffInstance
		found bool
	)
	live := entry.Do(func(c *character.Character) {
		if held, ok := e.buffs.Get(c, buffID); ok {
			inst, found = held.Clone(), true
		}
	})
	if !live {
		return character.BuffInstance{}, false, fmt.Errorf("get %q from %q: %w", buffID, id, ErrCharacterNotFound)
	}
	return inst, found, nil
}

// Snapshot returns the current state of one character.
func (e *Engine) Snapshot(id string) (character.Snapshot, error) {
	if e.cache != nil {
		if s, ok := e.cache.Get(id); ok {
			return s, nil
		}
	}
	entry, ok := e.store.Get(id)
	if !ok {
		return character.Snapshot{}, fmt.Errorf("snapshot %q: %w", id, ErrCharacterNotFound)
	}
	var s character.Snapshot
	if !entry.Do(func(c *character.Character) {
		s = e.cacheSnapshot(c)
	}) {
		return character.Snapshot{}, fmt.Errorf("snapshot %q: %w", id, ErrCharacterNotFound)
	}
	return s, nil
}

// Snapshots returns the state of every character in store order.
func (e *Engine) Snapshots() []character.Snapshot {
	tick := e.TickNumber()
	entries := e.store.List()
	out := make([]character.Snapshot, 0, len(entries))
	for _, entry := range entries {
		entry.Do(func(c *character.Character) {
			out = append(out, c.Snapshot(tick))
		})
	}
	return out
}

// ActiveNaturalEffects lists the natural effects currently triggered for a character.
func (e *Engine) ActiveNaturalEffects(id string) ([]string, error) {
	entry, ok := e.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("natural effects for %q: %w", id, ErrCharacterNotFound)
	}
	var props character.NeedState
	if !entry.Do(func(c *character.Character) {
		props = c.Properties
	}) {
		return nil, fmt.Errorf("natural effects for %q: %w", id, ErrCharacterNotFound)
	}
	return e.effects.ActiveRules(props), nil
}

// Tick advances every character by one step: decay buffs, recompute velocities,
// integrate and clamp. Each character is processed under its own lock; characters
// removed while the pass is running are skipped.
func (e *Engine) Tick() {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	start := time.Now()
	tick := e.TickNumber() + 1
	entries := e.store.List()
	snapshots := make([]character.Snapshot, 0, len(entries))
	pending := make([]events.Event, 0)

	for _, entry := range entries {
		var report DecayReport
		live := entry.Do(func(c *character.Character) {
			report = e.buffs.Decay(c)
			e.effects.ComputeVelocities(c)
			c.Properties.Add(c.Velocities)
			c.Properties.Clamp(character.MinProperty, character.MaxProperty)
			s := c.Snapshot(tick)
			if e.cache != nil {
				e.cache.Put(s)
			}
			snapshots = append(snapshots, s)
		})
		if !live {
			// Removed after the pass started.
			continue
		}
		if !report.Empty() {
			pending = append(pending, e.decayEvents(entry.ID(), tick, report)...)
		}
		if e.logger.DebugEnabled() {
			s := snapshots[len(snapshots)-1]
			e.logger.Debug("Character state",
				zap.Int64("tick", tick),
				zap.String("character_id", s.ID),
				zap.Any("properties", s.Properties),
				zap.Any("velocities", s.Velocities),
				zap.Int("buffs", len(s.Buffs)))
		}
	}

	e.stateMu.Lock()
	e.tickNumber = tick
	e.stateMu.Unlock()

	for _, ev := range pending {
		e.emit(ev)
	}

	latency := time.Since(start)
	e.collector.RecordTick(latency, len(snapshots))
	e.emit(events.Event{
		Type: events.EventTypeTick,
		Tick: tick,
		Payload: events.TickPayload{
			Characters: len(snapshots),
			LatencyMS:  float64(latency) / float64(time.Millisecond),
		},
	})

	e.obsMu.RLock()
	observers := append([]TickObserver(nil), e.observers...)
	e.obsMu.RUnlock()
	for _, observe := range observers {
		observe(tick, snapshots)
	}
}

func (e *Engine) decayEvents(id string, tick int64, report DecayReport) []events.Event {
	out := make([]events.Event, 0, len(report.StackLost)+len(report.Expired))
	for _, loss := range report.StackLost {
		out = append(out, events.Event{
			Type:        events.EventTypeBuffStackLost,
			CharacterID: id,
			BuffID:      loss.BuffID,
			Tick:        tick,
			Payload:     events.BuffPayload{Stacks: loss.Remaining},
		})
	}
	for _, buffID := range report.Expired {
		out = append(out, events.Event{
			Type:        events.EventTypeBuffExpired,
			CharacterID: id,
			BuffID:      buffID,
			Tick:        tick,
		})
	}
	if len(report.Expired) > 0 {
		e.collector.RecordBuffExpired(len(report.Expired))
	}
	for _, buffID := range report.Orphaned {
		e.logger.Error("Buff instance has no definition in the catalog, dropped",
			zap.String("character_id", id),
			zap.String("buff_id", buffID),
			zap.Int64("tick", tick))
		out = append(out, events.Event{
			Type:        events.EventTypeBuffExpired,
			CharacterID: id,
			BuffID:      buffID,
			Tick:        tick,
			Payload:     events.BuffPayload{Reason: "missing definition"},
		})
	}
	return out
}

// cacheSnapshot must be called with the character's lock held.
func (e *Engine) cacheSnapshot(c *character.Character) character.Snapshot {
	s := c.Snapshot(e.TickNumber())
	if e.cache != nil {
		e.cache.Put(s)
	}
	return s
}

func (e *Engine) emit(ev events.Event) {
	if e.eventLog == nil {
		return
	}
	if ev.Tick == 0 {
		ev.Tick = e.TickNumber()
	}
	e.eventLog.Append(ev)
}

// IsNotFound reports whether err means the character does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCharacterNotFound)
}
