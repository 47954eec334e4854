package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/MRamiBalles/needsim/internal/domain/character"
	"github.com/MRamiBalles/needsim/internal/domain/rules"
	"github.com/MRamiBalles/needsim/internal/events"
	"github.com/MRamiBalles/needsim/internal/platform/logger"
	"github.com/MRamiBalles/needsim/internal/platform/metrics"
)

func newTestEngine(t *testing.T, catalog *rules.Catalog) (*Engine, *events.EventLog) {
	t.Helper()
	el := events.NewEventLog(1024, nil)
	e := NewEngine(catalog, el, logger.Nop(), Options{Collector: metrics.NewCollector()})
	return e, el
}

func addCharacter(t *testing.T, e *Engine, id string, props character.NeedState, buffs ...string) {
	t.Helper()
	if err := e.AddCharacter(character.New(id, id, props)); err != nil {
		t.Fatalf("AddCharacter(%s): %v", id, err)
	}
	for _, b := range buffs {
		if err := e.ApplyBuff(id, b, 1); err != nil {
			t.Fatalf("ApplyBuff(%s, %s): %v", id, b, err)
		}
	}
}

func snapshot(t *testing.T, e *Engine, id string) character.Snapshot {
	t.Helper()
	s, err := e.Snapshot(id)
	if err != nil {
		t.Fatalf("Snapshot(%s): %v", id, err)
	}
	return s
}

func TestRangesHoldAfterEveryTick(t *testing.T) {
	e, _ := newTestEngine(t, rules.DefaultCatalog())
	rng := rand.New(rand.NewSource(42))
	buffs := rules.DefaultCatalog().Buffs()

	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		var props character.NeedState
		for _, n := range character.Needs() {
			props.Set(n, rng.Float64()*10)
		}
		addCharacter(t, e, id, props, rules.AliveBuffID)
	}

	for tick := 0; tick < 300; tick++ {
		id := ids[rng.Intn(len(ids))]
		_ = e.ApplyBuff(id, buffs[rng.Intn(len(buffs))].ID, 1+rng.Intn(3))
		e.Tick()

		for _, s := range e.Snapshots() {
			if !s.Properties.Within(character.MinProperty, character.MaxProperty) {
				t.Fatalf("tick %d: %s properties out of range: %v", tick, s.ID, s.Properties)
			}
			if !s.Velocities.Within(-character.MaxVelocity, character.MaxVelocity) {
				t.Fatalf("tick %d: %s velocities out of range: %v", tick, s.ID, s.Velocities)
			}
			for _, b := range s.Buffs {
				if b.Stacks < 1 || b.Stacks > b.MaxStacks {
					t.Fatalf("tick %d: %s buff %s has %d stacks", tick, s.ID, b.ID, b.Stacks)
				}
			}
		}
	}
}

func TestBuffRemovedAfterDurationPlusOneTicks(t *testing.T) {
	e, _ := newTestEngine(t, rules.DefaultCatalog())
	addCharacter(t, e, "a", character.NeedState{}, rules.BuffSleep)

	for i := 1; i <= 4; i++ {
		e.Tick()
		if _, ok, _ := e.GetBuff("a", rules.BuffSleep); !ok {
			t.Fatalf("sleep gone after %d ticks, want 5", i)
		}
	}
	e.Tick()
	if _, ok, _ := e.GetBuff("a", rules.BuffSleep); ok {
		t.Fatal("sleep still present after 5 ticks")
	}
}

func aliveOnlyCatalog(t *testing.T) *rules.Catalog {
	t.Helper()
	c, err := rules.NewCatalog(rules.DefaultBuffs(), nil)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return c
}

func ticksToSaturate(t *testing.T) int {
	e, _ := newTestEngine(t, aliveOnlyCatalog(t))
	addCharacter(t, e, "a", character.NeedState{}, rules.AliveBuffID)

	for n := 1; n <= 1000; n++ {
		e.Tick()
		s := snapshot(t, e, "a")
		if !s.Properties.Within(0, 10) {
			t.Fatalf("tick %d out of range: %v", n, s.Properties)
		}
		saturated := true
		for _, need := range character.Needs() {
			if s.Properties.Get(need) != 10 {
				saturated = false
			}
		}
		if saturated {
			return n
		}
	}
	t.Fatal("alive never saturated")
	return 0
}

func TestAliveAloneSaturates(t *testing.T) {
	first := ticksToSaturate(t)
	if first < 125 || first > 126 {
		t.Errorf("saturated after %d ticks, want about 125", first)
	}
	if again := ticksToSaturate(t); again != first {
		t.Errorf("not reproducible: %d then %d", first, again)
	}
}

func TestHungerDrivesDiscomfortScenario(t *testing.T) {
	e, _ := newTestEngine(t, rules.DefaultCatalog())
	var props character.NeedState
	props.Set(character.Hunger, 9.0)
	props.Set(character.Discomfort, 4.2)
	addCharacter(t, e, "a", props)

	e.Tick()
	s := snapshot(t, e, "a")
	if got := s.Velocities.Get(character.Discomfort); got != 1 {
		t.Errorf("discomfort velocity = %v, want 1", got)
	}
	if got := s.Properties.Get(character.Discomfort); !approx(got, 5.2) {
		t.Errorf("discomfort = %v, want 5.2", got)
	}
}

func TestDiscomfortCapsAtTen(t *testing.T) {
	e, _ := newTestEngine(t, rules.DefaultCatalog())
	var props character.NeedState
	props.Set(character.Hunger, 9.0)
	props.Set(character.Discomfort, 9.5)
	addCharacter(t, e, "a", props)

	e.Tick()
	if got := snapshot(t, e, "a").Properties.Get(character.Discomfort); got != 10 {
		t.Errorf("discomfort = %v, want 10", got)
	}
}

func TestEatScenario(t *testing.T) {
	e, el := newTestEngine(t, rules.DefaultCatalog())
	var props character.NeedState
	props.Set(character.Hunger, 5.0)
	addCharacter(t, e, "a", props, rules.BuffEat)

	for i := 0; i < 3; i++ {
		e.Tick()
	}
	if got := snapshot(t, e, "a").Properties.Get(character.Hunger); !approx(got, 5.0-3*0.45) {
		t.Errorf("hunger after 3 ticks = %v, want 3.65", got)
	}
	if _, ok, _ := e.GetBuff("a", rules.BuffEat); !ok {
		t.Fatal("eat gone before tick 4")
	}

	e.Tick()
	if _, ok, _ := e.GetBuff("a", rules.BuffEat); ok {
		t.Fatal("eat still present at tick 4")
	}
	expired := el.Query(events.Filter{CharacterID: "a", Type: events.EventTypeBuffExpired})
	if len(expired) != 1 || expired[0].BuffID != rules.BuffEat || expired[0].Tick != 4 {
		t.Errorf("expiry events = %+v", expired)
	}
}

func TestUnknownBuffLeavesStateUnchanged(t *testing.T) {
	e, el := newTestEngine(t, rules.DefaultCatalog())
	addCharacter(t, e, "a", character.NeedState{1, 2, 3, 4, 5, 6, 7}, rules.AliveBuffID, rules.BuffDrink)
	e.Tick()

	before, _ := json.Marshal(stripTime(snapshot(t, e, "a")))
	err := e.ApplyBuff("a", "teleport", 2)
	after, _ := json.Marshal(stripTime(snapshot(t, e, "a")))

	if !errors.Is(err, ErrUnknownBuff) {
		t.Errorf("err = %v, want ErrUnknownBuff", err)
	}
	if string(before) != string(after) {
		t.Errorf("state changed:\n%s\n%s", before, after)
	}
	rejected := el.Query(events.Filter{Type: events.EventTypeBuffRejected})
	if len(rejected) != 1 || rejected[0].BuffID != "teleport" {
		t.Errorf("rejected events = %+v", rejected)
	}
}

func stripTime(s character.Snapshot) character.Snapshot {
	s.TakenAt = time.Time{}
	return s
}

func TestCharacterNotFound(t *testing.T) {
	e, _ := newTestEngine(t, rules.DefaultCatalog())

	if err := e.ApplyBuff("ghost", rules.BuffEat, 1); !IsNotFound(err) {
		t.Errorf("ApplyBuff err = %v", err)
	}
	if _, err := e.RemoveBuff("ghost", rules.BuffEat); !IsNotFound(err) {
		t.Errorf("RemoveBuff err = %v", err)
	}
	if _, _, err := e.GetBuff("ghost", rules.BuffEat); !IsNotFound(err) {
		t.Errorf("GetBuff err = %v", err)
	}
	if err := e.RemoveCharacter("ghost"); !IsNotFound(err) {
		t.Errorf("RemoveCharacter err = %v", err)
	}
	if _, err := e.Snapshot("ghost"); !IsNotFound(err) {
		t.Errorf("Snapshot err = %v", err)
	}
	if _, err := e.ActiveNaturalEffects("ghost"); !IsNotFound(err) {
		t.Errorf("ActiveNaturalEffects err = %v", err)
	}
}

func TestAddRemoveCharacter(t *testing.T) {
	e, el := newTestEngine(t, rules.DefaultCatalog())
	addCharacter(t, e, "a", character.NeedState{})
	addCharacter(t, e, "b", character.NeedState{})

	if err := e.AddCharacter(character.New("a", "dup", character.NeedState{})); !errors.Is(err, ErrDuplicateCharacter) {
		t.Errorf("duplicate err = %v", err)
	}
	if err := e.RemoveCharacter("a"); err != nil {
		t.Fatalf("RemoveCharacter: %v", err)
	}

	snaps := e.Snapshots()
	if len(snaps) != 1 || snaps[0].ID != "b" {
		t.Errorf("Snapshots = %+v", snaps)
	}
	if n := len(el.Query(events.Filter{Type: events.EventTypeCharacterAdded})); n != 2 {
		t.Errorf("added events = %d", n)
	}
	if n := len(el.Query(events.Filter{Type: events.EventTypeCharacterRemoved, CharacterID: "a"})); n != 1 {
		t.Errorf("removed events = %d", n)
	}
}

func TestRemoveBuff(t *testing.T) {
	e, el := newTestEngine(t, rules.DefaultCatalog())
	addCharacter(t, e, "a", character.NeedState{}, rules.AliveBuffID, rules.BuffHeal)

	removed, err := e.RemoveBuff("a", rules.BuffHeal)
	if err != nil || !removed {
		t.Fatalf("RemoveBuff = %v, %v", removed, err)
	}
	removed, _ = e.RemoveBuff("a", rules.BuffHeal)
	if removed {
		t.Error("second RemoveBuff reported removal")
	}
	if n := len(el.Query(events.Filter{Type: events.EventTypeBuffRemoved})); n != 1 {
		t.Errorf("removed events = %d, want 1", n)
	}
}

func TestStackLossEmitsEvent(t *testing.T) {
	e, el := newTestEngine(t, rules.DefaultCatalog())
	addCharacter(t, e, "a", character.NeedState{})
	if err := e.ApplyBuff("a", rules.BuffRest, 2); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		e.Tick()
	}
	lost := el.Query(events.Filter{Type: events.EventTypeBuffStackLost})
	if len(lost) != 1 {
		t.Fatalf("stack lost events = %d", len(lost))
	}
	if p, ok := lost[0].Payload.(events.BuffPayload); !ok || p.Stacks != 1 {
		t.Errorf("payload = %+v", lost[0].Payload)
	}
}

func TestOrphanedBuffDropped(t *testing.T) {
	e, el := newTestEngine(t, rules.DefaultCatalog())
	c := character.New("a", "A", character.NeedState{})
	c.Buffs = append(c.Buffs, &character.BuffInstance{ID: "retired", Name: "Retired", Stacks: 1, MaxStacks: 1, Duration: character.Infinite()})
	if err := e.AddCharacter(c); err != nil {
		t.Fatal(err)
	}

	e.Tick()
	if s := snapshot(t, e, "a"); len(s.Buffs) != 0 {
		t.Errorf("orphan survived: %+v", s.Buffs)
	}
	if n := len(el.Query(events.Filter{BuffID: "retired"})); n != 1 {
		t.Errorf("orphan events = %d", n)
	}
}

func TestTickObserversAndEvents(t *testing.T) {
	e, el := newTestEngine(t, rules.DefaultCatalog())
	addCharacter(t, e, "a", character.NeedState{}, rules.AliveBuffID)
	addCharacter(t, e, "b", character.NeedState{}, rules.AliveBuffID)

	var (
		mu    sync.Mutex
		ticks []int64
		sizes []int
	)
	e.OnTick(func(tick int64, snaps []character.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		ticks = append(ticks, tick)
		sizes = append(sizes, len(snaps))
	})

	e.Tick()
	e.Tick()

	if len(ticks) != 2 || ticks[0] != 1 || ticks[1] != 2 || sizes[0] != 2 {
		t.Errorf("observer saw ticks %v sizes %v", ticks, sizes)
	}
	if e.TickNumber() != 2 {
		t.Errorf("TickNumber = %d", e.TickNumber())
	}
	tickEvents := el.Query(events.Filter{Type: events.EventTypeTick})
	if len(tickEvents) != 2 || tickEvents[1].Tick != 2 {
		t.Errorf("tick events = %+v", tickEvents)
	}
}

func TestActiveNaturalEffects(t *testing.T) {
	e, _ := newTestEngine(t, rules.DefaultCatalog())
	var props character.NeedState
	props.Set(character.Pain, 7)
	props.Set(character.Thirst, 5)
	addCharacter(t, e, "a", props)

	active, err := e.ActiveNaturalEffects("a")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"minor_discomfort": true, "low_discomfort": true, "pain_+_thirst_+": true, "pain_+_sleepiness_-": true}
	if len(active) != len(want) {
		t.Fatalf("active = %v", active)
	}
	for _, id := range active {
		if !want[id] {
			t.Errorf("unexpected active rule %s", id)
		}
	}
}

type mapCache struct {
	mu sync.Mutex
	m  map[string]character.Snapshot
}

func (c *mapCache) Put(s character.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[s.ID] = s
}

func (c *mapCache) Get(id string) (character.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.m[id]
	return s, ok
}

func (c *mapCache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, id)
}

func TestSnapshotCacheTracksMutations(t *testing.T) {
	cache := &mapCache{m: make(map[string]character.Snapshot)}
	e := NewEngine(rules.DefaultCatalog(), events.NewEventLog(16, nil), logger.Nop(), Options{Cache: cache, Collector: metrics.NewCollector()})
	addCharacter(t, e, "a", character.NeedState{}, rules.AliveBuffID)

	e.Tick()
	if s, ok := cache.Get("a"); !ok || s.Tick != 1 {
		t.Fatalf("cache after tick = %+v, %v", s, ok)
	}

	_ = e.ApplyBuff("a", rules.BuffEat, 1)
	if s, _ := cache.Get("a"); len(s.Buffs) != 2 {
		t.Errorf("cache missed buff apply: %+v", s.Buffs)
	}

	_ = e.RemoveCharacter("a")
	if _, ok := cache.Get("a"); ok {
		t.Error("cache kept removed character")
	}
}

func TestConcurrentActionsAndTicks(t *testing.T) {
	e, _ := newTestEngine(t, rules.DefaultCatalog())
	addCharacter(t, e, "a", character.NeedState{5, 5, 5, 5, 5, 5, 5}, rules.AliveBuffID)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			ids := []string{rules.BuffEat, rules.BuffDrink, rules.BuffSleep, rules.BuffRest}
			for i := 0; i < 200; i++ {
				_ = e.ApplyBuff("a", ids[(i+w)%len(ids)], 1)
				_, _ = e.RemoveBuff("a", ids[(i+w+1)%len(ids)])
			}
		}(w)
	}
	for i := 0; i < 100; i++ {
		e.Tick()
	}
	wg.Wait()

	s := snapshot(t, e, "a")
	if !s.Properties.Within(0, 10) || !s.Velocities.Within(-1, 1) {
		t.Errorf("state out of range: %+v", s)
	}
}

func TestEngineClock(t *testing.T) {
	e, _ := newTestEngine(t, rules.DefaultCatalog())
	if err := e.SetTickRate(5 * time.Millisecond); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		e.Start(ctx)
		close(done)
	}()

	for e.TickNumber() < 3 && ctx.Err() == nil {
		time.Sleep(time.Millisecond)
	}
	e.Stop()
	<-done

	if e.TickNumber() < 3 {
		t.Errorf("clock advanced %d ticks", e.TickNumber())
	}
	if e.Running() {
		t.Error("clock still running after Stop")
	}
}

// hookCache runs onPut after every cached snapshot.
type hookCache struct {
	*mapCache
	onPut func(s character.Snapshot)
}

func (c *hookCache) Put(s character.Snapshot) {
	c.mapCache.Put(s)
	if c.onPut != nil {
		c.onPut(s)
	}
}

func TestRemovedDuringTickStaysRemoved(t *testing.T) {
	cache := &hookCache{mapCache: &mapCache{m: make(map[string]character.Snapshot)}}
	e := NewEngine(rules.DefaultCatalog(), events.NewEventLog(64, nil), logger.Nop(), Options{Cache: cache, Collector: metrics.NewCollector()})
	addCharacter(t, e, "a", character.NeedState{}, rules.AliveBuffID)
	addCharacter(t, e, "x", character.NeedState{}, rules.AliveBuffID)

	var once sync.Once
	cache.onPut = func(s character.Snapshot) {
		if s.ID == "a" && s.Tick == 1 {
			once.Do(func() {
				if err := e.RemoveCharacter("x"); err != nil {
					t.Errorf("RemoveCharacter: %v", err)
				}
			})
		}
	}

	var broadcast []string
	e.OnTick(func(_ int64, snaps []character.Snapshot) {
		for _, s := range snaps {
			broadcast = append(broadcast, s.ID)
		}
	})
	e.Tick()

	if len(broadcast) != 1 || broadcast[0] != "a" {
		t.Errorf("tick observed %v, want [a]", broadcast)
	}
	if _, ok := cache.Get("x"); ok {
		t.Error("tick wrote the removed character back into the cache")
	}
	if _, err := e.Snapshot("x"); !IsNotFound(err) {
		t.Errorf("Snapshot(x) err = %v, want not found", err)
	}
	if err := e.ApplyBuff("x", rules.BuffEat, 1); !IsNotFound(err) {
		t.Errorf("ApplyBuff(x) err = %v, want not found", err)
	}
	if err := e.RemoveCharacter("x"); !IsNotFound(err) {
		t.Errorf("second RemoveCharacter err = %v, want not found", err)
	}
}

func TestRetiredEntryRejectsAccess(t *testing.T) {
	s := NewStore()
	if err := s.Add(character.New("a", "a", character.NeedState{})); err != nil {
		t.Fatal(err)
	}
	entry, _ := s.Get("a")
	if !entry.retire(func(*character.Character) {}) {
		t.Fatal("first retire failed")
	}
	if entry.retire(func(*character.Character) {}) {
		t.Error("entry retired twice")
	}
	called := false
	if entry.Do(func(*character.Character) { called = true }) || called {
		t.Error("Do ran on a retired entry")
	}
}

func TestAddCharacterAttachesBuffsBeforeVisible(t *testing.T) {
	e, el := newTestEngine(t, rules.DefaultCatalog())
	if err := e.AddCharacter(character.New("a", "a", character.NeedState{}), rules.AliveBuffID); err != nil {
		t.Fatal(err)
	}

	s := snapshot(t, e, "a")
	if len(s.Buffs) != 1 || s.Buffs[0].ID != rules.AliveBuffID {
		t.Errorf("buffs at creation = %+v", s.Buffs)
	}
	got := el.Query(events.Filter{CharacterID: "a"})
	if len(got) != 2 || got[0].Type != events.EventTypeCharacterAdded || got[1].Type != events.EventTypeBuffApplied {
		t.Errorf("events = %+v", got)
	}

	err := e.AddCharacter(character.New("b", "b", character.NeedState{}), rules.AliveBuffID, "fly")
	if !errors.Is(err, ErrUnknownBuff) {
		t.Fatalf("err = %v, want ErrUnknownBuff", err)
	}
	if _, err := e.Snapshot("b"); !IsNotFound(err) {
		t.Error("character with an unknown buff was added")
	}
}
