// Package test holds headless simulation scenarios.
// Each scenario drives a real engine tick by tick, with no clock and no
// transport, and checks an observable property of the run.
package test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/MRamiBalles/needsim/internal/domain/character"
	"github.com/MRamiBalles/needsim/internal/domain/rules"
	"github.com/MRamiBalles/needsim/internal/engine"
	"github.com/MRamiBalles/needsim/internal/events"
	"github.com/MRamiBalles/needsim/internal/platform/logger"
	"github.com/MRamiBalles/needsim/internal/platform/metrics"
)

const epsilon = 1e-9

// TestResult captures the outcome of each scenario.
type TestResult struct {
	ScenarioName string
	Input        string
	Expected     string
	Actual       string
	Passed       bool
	Reason       string
}

// Scenario is one headless run.
type Scenario struct {
	Name  string
	Input string
	Run   func(ctx context.Context, h *Harness) TestResult
}

// Harness owns a fresh engine per scenario.
type Harness struct {
	Engine   *engine.Engine
	EventLog *events.EventLog
	logger   *logger.Logger
}

// NewHarness builds an engine over the stock catalog with no clock running.
func NewHarness(log *logger.Logger) *Harness {
	el := events.NewEventLog(events.DefaultCapacity, nil)
	return &Harness{
		Engine:   engine.NewEngine(rules.DefaultCatalog(), el, log, engine.Options{Collector: metrics.NewCollector()}),
		EventLog: el,
		logger:   log,
	}
}

// Spawn adds a character carrying one stack of each given buff.
func (h *Harness) Spawn(id string, props character.NeedState, buffs ...string) error {
	return h.Engine.AddCharacter(character.New(id, id, props), buffs...)
}

// Ticks advances the simulation n times.
func (h *Harness) Ticks(n int) {
	for i := 0; i < n; i++ {
		h.Engine.Tick()
	}
}

// Suite runs scenarios and collects their results.
type Suite struct {
	logger    *logger.Logger
	scenarios []Scenario
	results   []TestResult
}

// NewSuite returns a suite loaded with the stock scenarios.
func NewSuite(log *logger.Logger) *Suite {
	return &Suite{logger: log, scenarios: DefaultScenarios()}
}

// RunAll executes every scenario on its own harness.
func (s *Suite) RunAll(ctx context.Context) {
	for _, sc := range s.scenarios {
		if ctx.Err() != nil {
			return
		}
		fmt.Println("\n" + strings.Repeat("=", 60))
		fmt.Printf("🧪 SCENARIO: %s\n", sc.Name)
		fmt.Println(strings.Repeat("=", 60))

		result := sc.Run(ctx, NewHarness(s.logger))
		result.ScenarioName = sc.Name
		result.Input = sc.Input
		s.results = append(s.results, result)

		fmt.Printf("   Input:    %s\n", result.Input)
		fmt.Printf("   Expected: %s\n", result.Expected)
		fmt.Printf("   Actual:   %s\n", result.Actual)
		if result.Passed {
			fmt.Println("✅ PASSED")
		} else {
			fmt.Println("❌ FAILED: " + result.Reason)
		}
	}
}

// GetResults returns all scenario results.
func (s *Suite) GetResults() []TestResult {
	return s.results
}

// DefaultScenarios returns the stock scenario list.
func DefaultScenarios() []Scenario {
	return []Scenario{
		{Name: "Bounds under random actions", Input: "4 characters, 300 ticks, random buffs", Run: boundsScenario},
		{Name: "Alive saturation", Input: "alive only, all needs at 0", Run: saturationScenario},
		{Name: "Hunger drives discomfort", Input: "hunger 9, discomfort 4.2, 1 tick", Run: discomfortScenario},
		{Name: "Eat grace tick", Input: "eat x1 on hunger 5, 4 ticks", Run: eatScenario},
		{Name: "Unknown buff dropped", Input: "ACTION fly", Run: unknownBuffScenario},
	}
}

func fail(expected, actual, reason string) TestResult {
	return TestResult{Expected: expected, Actual: actual, Reason: reason}
}

func pass(expected, actual string) TestResult {
	return TestResult{Expected: expected, Actual: actual, Passed: true}
}

func boundsScenario(ctx context.Context, h *Harness) TestResult {
	const expected = "properties in [0,10], velocities in [-1,1] after every tick"
	rng := rand.New(rand.NewSource(7))
	actions := []string{rules.BuffSleep, rules.BuffEat, rules.BuffDrink, rules.BuffClean, rules.BuffHeal, rules.BuffRest, rules.BuffToilet}

	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		var props character.NeedState
		for _, n := range character.Needs() {
			props.Set(n, rng.Float64()*10)
		}
		if err := h.Spawn(id, props, rules.AliveBuffID); err != nil {
			return fail(expected, err.Error(), "spawn failed")
		}
	}

	for tick := 1; tick <= 300; tick++ {
		if ctx.Err() != nil {
			return fail(expected, "cancelled", ctx.Err().Error())
		}
		if rng.Intn(3) == 0 {
			id := ids[rng.Intn(len(ids))]
			_ = h.Engine.ApplyBuff(id, actions[rng.Intn(len(actions))], 1+rng.Intn(3))
		}
		h.Engine.Tick()
		for _, s := range h.Engine.Snapshots() {
			for _, n := range character.Needs() {
				p, v := s.Properties.Get(n), s.Velocities.Get(n)
				if p < character.MinProperty || p > character.MaxProperty || math.Abs(v) > character.MaxVelocity {
					return fail(expected, fmt.Sprintf("tick %d %s %s p=%v v=%v", tick, s.ID, n, p, v), "bounds violated")
				}
			}
		}
	}
	return pass(expected, "300 ticks within bounds")
}

func saturationScenario(ctx context.Context, h *Harness) TestResult {
	const expected = "every need reaches 10 within 126 ticks"
	if err := h.Spawn("a", character.NeedState{}, rules.AliveBuffID); err != nil {
		return fail(expected, err.Error(), "spawn failed")
	}
	for tick := 1; tick <= 200; tick++ {
		h.Engine.Tick()
		s, err := h.Engine.Snapshot("a")
		if err != nil {
			return fail(expected, err.Error(), "snapshot failed")
		}
		saturated := true
		for _, n := range character.Needs() {
			saturated = saturated && s.Properties.Get(n) == character.MaxProperty
		}
		if saturated {
			if tick > 126 {
				return fail(expected, fmt.Sprintf("saturated at tick %d", tick), "too slow")
			}
			return pass(expected, fmt.Sprintf("saturated at tick %d", tick))
		}
	}
	return fail(expected, "not saturated after 200 ticks", "needs never filled")
}

func discomfortScenario(ctx context.Context, h *Harness) TestResult {
	const expected = "discomfort velocity 1, discomfort 5.2"
	var props character.NeedState
	props.Set(character.Hunger, 9)
	props.Set(character.Discomfort, 4.2)
	if err := h.Spawn("a", props); err != nil {
		return fail(expected, err.Error(), "spawn failed")
	}
	h.Ticks(1)
	s, _ := h.Engine.Snapshot("a")
	v, p := s.Velocities.Get(character.Discomfort), s.Properties.Get(character.Discomfort)
	actual := fmt.Sprintf("discomfort velocity %v, discomfort %v", v, p)
	if v != 1 || math.Abs(p-5.2) > epsilon {
		return fail(expected, actual, "high discomfort tier not applied")
	}
	return pass(expected, actual)
}

func eatScenario(ctx context.Context, h *Harness) TestResult {
	const expected = "hunger 3.65 after 3 ticks, eat expired at tick 4"
	var props character.NeedState
	props.Set(character.Hunger, 5)
	if err := h.Spawn("a", props, rules.BuffEat); err != nil {
		return fail(expected, err.Error(), "spawn failed")
	}
	h.Ticks(3)
	s, _ := h.Engine.Snapshot("a")
	hunger := s.Properties.Get(character.Hunger)
	if math.Abs(hunger-3.65) > epsilon {
		return fail(expected, fmt.Sprintf("hunger %v", hunger), "eat effect wrong")
	}
	if _, ok, _ := h.Engine.GetBuff("a", rules.BuffEat); !ok {
		return fail(expected, "eat gone at tick 3", "grace tick missing")
	}

	h.Ticks(1)
	expired := h.EventLog.Query(events.Filter{CharacterID: "a", Type: events.EventTypeBuffExpired})
	if len(expired) != 1 || expired[0].Tick != 4 {
		return fail(expected, fmt.Sprintf("%d expiry events", len(expired)), "eat did not expire at tick 4")
	}
	return pass(expected, fmt.Sprintf("hunger %.2f, expired at tick %d", hunger, expired[0].Tick))
}

func unknownBuffScenario(ctx context.Context, h *Harness) TestResult {
	const expected = "ErrUnknownBuff, no buff attached, BUFF_REJECTED logged"
	if err := h.Spawn("a", character.NeedState{}, rules.AliveBuffID); err != nil {
		return fail(expected, err.Error(), "spawn failed")
	}
	err := h.Engine.ApplyBuff("a", "fly", 1)
	if !errors.Is(err, engine.ErrUnknownBuff) {
		return fail(expected, fmt.Sprintf("err = %v", err), "unknown buff accepted")
	}
	if _, ok, _ := h.Engine.GetBuff("a", "fly"); ok {
		return fail(expected, "fly attached", "unknown buff attached")
	}
	rejected := h.EventLog.Query(events.Filter{Type: events.EventTypeBuffRejected})
	if len(rejected) != 1 {
		return fail(expected, fmt.Sprintf("%d rejections", len(rejected)), "rejection not logged")
	}
	return pass(expected, "dropped and logged")
}
