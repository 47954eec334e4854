// Package metrics provides observability for the simulation server.
package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Collector gathers performance metrics.
type Collector struct {
	// Tick metrics
	TickCount      int64
	TickLatencySum int64 // nanoseconds
	TickLatencyMax int64
	LastTickTime   time.Time
	Characters     int64

	// Buff metrics
	BuffsApplied  int64
	BuffsRejected int64
	BuffsRemoved  int64
	BuffsExpired  int64

	// Journal metrics
	EventsWritten    int64
	EventWriteLatSum int64
	EventWriteLatMax int64
	EventWriteErrors int64

	// WebSocket metrics
	WSConnectionsActive int64
	WSMessagesIn        int64
	WSMessagesOut       int64
	WSErrors            int64
	WSRejected          int64

	// System
	StartTime time.Time
	mu        sync.RWMutex
}

// Global collector instance
var collector = NewCollector()

// NewCollector returns an empty collector. Most callers use Get.
func NewCollector() *Collector {
	return &Collector{StartTime: time.Now()}
}

// Get returns the global collector.
func Get() *Collector {
	return collector
}

func storeMax(addr *int64, v int64) {
	for {
		cur := atomic.LoadInt64(addr)
		if v <= cur || atomic.CompareAndSwapInt64(addr, cur, v) {
			return
		}
	}
}

// RecordTick records a tick cycle completion.
func (c *Collector) RecordTick(latency time.Duration, characters int) {
	atomic.AddInt64(&c.TickCount, 1)
	atomic.AddInt64(&c.TickLatencySum, int64(latency))
	storeMax(&c.TickLatencyMax, int64(latency))
	atomic.StoreInt64(&c.Characters, int64(characters))

	c.mu.Lock()
	c.LastTickTime = time.Now()
	c.mu.Unlock()
}

// RecordBuffApplied counts a successful buff application.
func (c *Collector) RecordBuffApplied() {
	atomic.AddInt64(&c.BuffsApplied, 1)
}

// RecordBuffRejected counts an action naming an unknown buff.
func (c *Collector) RecordBuffRejected() {
	atomic.AddInt64(&c.BuffsRejected, 1)
}

// RecordBuffRemoved counts an explicit buff removal.
func (c *Collector) RecordBuffRemoved() {
	atomic.AddInt64(&c.BuffsRemoved, 1)
}

// RecordBuffExpired counts buffs that decayed away.
func (c *Collector) RecordBuffExpired(n int) {
	atomic.AddInt64(&c.BuffsExpired, int64(n))
}

// RecordEventWrite records an event write to the journal.
func (c *Collector) RecordEventWrite(latency time.Duration, err error) {
	atomic.AddInt64(&c.EventsWritten, 1)
	atomic.AddInt64(&c.EventWriteLatSum, int64(latency))
	storeMax(&c.EventWriteLatMax, int64(latency))

	if err != nil {
		atomic.AddInt64(&c.EventWriteErrors, 1)
	}
}

// RecordWSConnection records WebSocket connection changes.
func (c *Collector) RecordWSConnection(delta int64) {
	atomic.AddInt64(&c.WSConnectionsActive, delta)
}

// RecordWSMessage records WebSocket messages.
func (c *Collector) RecordWSMessage(incoming bool) {
	if incoming {
		atomic.AddInt64(&c.WSMessagesIn, 1)
	} else {
		atomic.AddInt64(&c.WSMessagesOut, 1)
	}
}

// RecordWSError records a WebSocket error.
func (c *Collector) RecordWSError() {
	atomic.AddInt64(&c.WSErrors, 1)
}

// RecordWSRejected records a malformed or rate-limited client message.
func (c *Collector) RecordWSRejected() {
	atomic.AddInt64(&c.WSRejected, 1)
}

// Snapshot returns current metrics as a map.
func (c *Collector) Snapshot() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tickCount := atomic.LoadInt64(&c.TickCount)
	eventsWritten := atomic.LoadInt64(&c.EventsWritten)

	var tickAvg, eventAvg float64
	if tickCount > 0 {
		tickAvg = float64(atomic.LoadInt64(&c.TickLatencySum)) / float64(tickCount) / 1e6 // ms
	}
	if eventsWritten > 0 {
		eventAvg = float64(atomic.LoadInt64(&c.EventWriteLatSum)) / float64(eventsWritten) / 1e6
	}

	lastTick := ""
	if !c.LastTickTime.IsZero() {
		lastTick = c.LastTickTime.Format(time.RFC3339)
	}

	return map[string]interface{}{
		"uptime_seconds": time.Since(c.StartTime).Seconds(),
		"uptime":         humanize.RelTime(c.StartTime, time.Now(), "", ""),

		"tick": map[string]interface{}{
			"count":          tickCount,
			"avg_latency_ms": tickAvg,
			"max_latency_ms": float64(atomic.LoadInt64(&c.TickLatencyMax)) / 1e6,
			"last_tick":      lastTick,
			"characters":     atomic.LoadInt64(&c.Characters),
		},

		"buffs": map[string]interface{}{
			"applied":  atomic.LoadInt64(&c.BuffsApplied),
			"rejected": atomic.LoadInt64(&c.BuffsRejected),
			"removed":  atomic.LoadInt64(&c.BuffsRemoved),
			"expired":  atomic.LoadInt64(&c.BuffsExpired),
		},

		"events": map[string]interface{}{
			"written":          eventsWritten,
			"avg_write_lat_ms": eventAvg,
			"max_write_lat_ms": float64(atomic.LoadInt64(&c.EventWriteLatMax)) / 1e6,
			"errors":           atomic.LoadInt64(&c.EventWriteErrors),
		},

		"websocket": map[string]interface{}{
			"active_connections": atomic.LoadInt64(&c.WSConnectionsActive),
			"messages_in":        atomic.LoadInt64(&c.WSMessagesIn),
			"messages_out":       atomic.LoadInt64(&c.WSMessagesOut),
			"errors":             atomic.LoadInt64(&c.WSErrors),
			"rejected":           atomic.LoadInt64(&c.WSRejected),
		},
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		json.NewEncoder(w).Encode(c.Snapshot())
	}
}

// Handler serves the global collector as JSON.
func Handler() http.HandlerFunc {
	return collector.Handler()
}

// PrometheusHandler serves the global collector in Prometheus text format.
func PrometheusHandler() http.HandlerFunc {
	return collector.PrometheusHandler()
}

// PrometheusHandler returns metrics in Prometheus format.
func (c *Collector) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		// Tick metrics
		fmt.Fprintf(w, "# HELP needs_tick_count Total tick cycles\n")
		fmt.Fprintf(w, "# TYPE needs_tick_count counter\n")
		fmt.Fprintf(w, "needs_tick_count %d\n\n", atomic.LoadInt64(&c.TickCount))

		fmt.Fprintf(w, "# HELP needs_tick_latency_max_ms Maximum tick latency\n")
		fmt.Fprintf(w, "# TYPE needs_tick_latency_max_ms gauge\n")
		fmt.Fprintf(w, "needs_tick_latency_max_ms %.2f\n\n", float64(atomic.LoadInt64(&c.TickLatencyMax))/1e6)

		fmt.Fprintf(w, "# HELP needs_characters Characters simulated in the last tick\n")
		fmt.Fprintf(w, "# TYPE needs_characters gauge\n")
		fmt.Fprintf(w, "needs_characters %d\n\n", atomic.LoadInt64(&c.Characters))

		// Buff metrics
		fmt.Fprintf(w, "# HELP needs_buffs_total Buff lifecycle transitions\n")
		fmt.Fprintf(w, "# TYPE needs_buffs_total counter\n")
		fmt.Fprintf(w, "needs_buffs_total{result=\"applied\"} %d\n", atomic.LoadInt64(&c.BuffsApplied))
		fmt.Fprintf(w, "needs_buffs_total{result=\"rejected\"} %d\n", atomic.LoadInt64(&c.BuffsRejected))
		fmt.Fprintf(w, "needs_buffs_total{result=\"removed\"} %d\n", atomic.LoadInt64(&c.BuffsRemoved))
		fmt.Fprintf(w, "needs_buffs_total{result=\"expired\"} %d\n\n", atomic.LoadInt64(&c.BuffsExpired))

		// Journal metrics
		fmt.Fprintf(w, "# HELP needs_events_written Total events written to the journal\n")
		fmt.Fprintf(w, "# TYPE needs_events_written counter\n")
		fmt.Fprintf(w, "needs_events_written %d\n\n", atomic.LoadInt64(&c.EventsWritten))

		fmt.Fprintf(w, "# HELP needs_event_write_errors Total journal write errors\n")
		fmt.Fprintf(w, "# TYPE needs_event_write_errors counter\n")
		fmt.Fprintf(w, "needs_event_write_errors %d\n\n", atomic.LoadInt64(&c.EventWriteErrors))

		// WebSocket metrics
		fmt.Fprintf(w, "# HELP needs_ws_connections Active WebSocket connections\n")
		fmt.Fprintf(w, "# TYPE needs_ws_connections gauge\n")
		fmt.Fprintf(w, "needs_ws_connections %d\n\n", atomic.LoadInt64(&c.WSConnectionsActive))

		fmt.Fprintf(w, "# HELP needs_ws_messages_total Total WebSocket messages\n")
		fmt.Fprintf(w, "# TYPE needs_ws_messages_total counter\n")
		fmt.Fprintf(w, "needs_ws_messages_total{direction=\"in\"} %d\n", atomic.LoadInt64(&c.WSMessagesIn))
		fmt.Fprintf(w, "needs_ws_messages_total{direction=\"out\"} %d\n\n", atomic.LoadInt64(&c.WSMessagesOut))

		fmt.Fprintf(w, "# HELP needs_ws_rejected_total Client messages rejected at the transport\n")
		fmt.Fprintf(w, "# TYPE needs_ws_rejected_total counter\n")
		fmt.Fprintf(w, "needs_ws_rejected_total %d\n", atomic.LoadInt64(&c.WSRejected))
	}
}
