package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MRamiBalles/needsim/internal/platform/logger"
	"go.uber.org/zap"
)

// DefaultTickRate is how often the simulation advances.
const DefaultTickRate = 1 * time.Second

// Ticker manages the simulation heartbeat.
// It does NOT know about characters - it only calls onTick at a fixed rate.
type Ticker struct {
	onTick func()
	logger *logger.Logger

	mu       sync.Mutex
	rate     time.Duration
	running  bool
	rateChan chan struct{}
	stopChan chan struct{} // closed to end the current run; nil when idle
}

// NewTicker creates a ticker. A non-positive rate falls back to DefaultTickRate.
func NewTicker(rate time.Duration, onTick func(), log *logger.Logger) *Ticker {
	if rate <= 0 {
		rate = DefaultTickRate
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Ticker{
		onTick:   onTick,
		logger:   log,
		rate:     rate,
		rateChan: make(chan struct{}, 1),
	}
}

// Start runs the loop until ctx is done or Stop is called. It blocks.
// Only one loop runs at a time: calling Start while running returns at once.
// A stopped ticker can be started again.
func (t *Ticker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		t.logger.Warn("Simulation ticker already running, Start ignored")
		return
	}
	stop := make(chan struct{})
	t.running = true
	t.stopChan = stop
	rate := t.rate
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		if t.stopChan == stop {
			t.stopChan = nil
			t.running = false
		}
		t.mu.Unlock()
	}()

	t.logger.Info("Simulation ticker started", zap.Duration("rate", rate))

	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Simulation ticker stopped by context")
			return
		case <-stop:
			t.logger.Info("Simulation ticker stopped manually")
			return
		case <-t.rateChan:
			rate = t.Rate()
			ticker.Reset(rate)
			t.logger.Info("Tick rate changed", zap.Duration("rate", rate))
		case <-ticker.C:
			t.onTick()
		}
	}
}

// Stop ends the current run. It is a no-op when the ticker is idle.
func (t *Ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopChan != nil {
		close(t.stopChan)
		t.stopChan = nil
	}
	t.running = false
}

// SetTickRate changes the interval, taking effect immediately on a running ticker.
func (t *Ticker) SetTickRate(rate time.Duration) error {
	if rate <= 0 {
		return fmt.Errorf("tick rate must be positive, got %s", rate)
	}
	t.mu.Lock()
	t.rate = rate
	t.mu.Unlock()

	select {
	case t.rateChan <- struct{}{}:
	default:
	}
	return nil
}

// Rate returns the current interval.
func (t *Ticker) Rate() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rate
}

// Running reports whether Start is executing.
func (t *Ticker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}
