package events

import (
	"context"
	"sync"
	"time"

	"github.com/MRamiBalles/needsim/internal/platform/logger"
	"github.com/MRamiBalles/needsim/internal/platform/metrics"
	"go.uber.org/zap"
)

// Writer persists events asynchronously through a bounded queue drained by
// a fixed set of workers. Events arriving while the queue is full are dropped.
type Writer struct {
	sink      EventPersister
	queue     chan Event
	workers   int
	skip      map[EventType]bool
	log       *logger.Logger
	collector *metrics.Collector

	mu      sync.Mutex
	dropped int64
}

// NewWriter wraps sink. Events of the skipped types are never written.
func NewWriter(sink EventPersister, buffer, workers int, log *logger.Logger, collector *metrics.Collector, skip ...EventType) *Writer {
	if buffer <= 0 {
		buffer = 1
	}
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	if collector == nil {
		collector = metrics.Get()
	}
	w := &Writer{
		sink:      sink,
		queue:     make(chan Event, buffer),
		workers:   workers,
		skip:      make(map[EventType]bool, len(skip)),
		log:       log,
		collector: collector,
	}
	for _, t := range skip {
		w.skip[t] = true
	}
	return w
}

// Append enqueues the event without blocking.
func (w *Writer) Append(event Event) error {
	if w.skip[event.Type] {
		return nil
	}
	select {
	case w.queue <- event:
	default:
		w.mu.Lock()
		w.dropped++
		dropped := w.dropped
		w.mu.Unlock()
		w.log.Warn("Journal queue full, event dropped",
			zap.String("type", string(event.Type)),
			zap.Uint64("seq", event.Seq),
			zap.Int64("dropped_total", dropped))
	}
	return nil
}

// Dropped returns how many events were discarded because the queue was full.
func (w *Writer) Dropped() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// Run drains the queue until ctx is done, then flushes what is left.
func (w *Writer) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case e := <-w.queue:
					w.write(e)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	wg.Wait()

	for {
		select {
		case e := <-w.queue:
			w.write(e)
		default:
			return nil
		}
	}
}

func (w *Writer) write(e Event) {
	start := time.Now()
	err := w.sink.Append(e)
	w.collector.RecordEventWrite(time.Since(start), err)
	if err != nil {
		w.log.Error("Journal write failed",
			zap.String("type", string(e.Type)),
			zap.Uint64("seq", e.Seq),
			zap.Error(err))
	}
}
