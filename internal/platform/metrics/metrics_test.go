package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCollectorSnapshot(t *testing.T) {
	c := NewCollector()
	c.RecordTick(2*time.Millisecond, 3)
	c.RecordTick(4*time.Millisecond, 3)
	c.RecordBuffApplied()
	c.RecordBuffRejected()
	c.RecordBuffExpired(2)
	c.RecordEventWrite(time.Millisecond, errors.New("disk full"))

	snap := c.Snapshot()
	tick := snap["tick"].(map[string]interface{})
	if tick["count"].(int64) != 2 {
		t.Errorf("tick count = %v", tick["count"])
	}
	if tick["max_latency_ms"].(float64) != 4 {
		t.Errorf("max latency = %v", tick["max_latency_ms"])
	}
	if tick["avg_latency_ms"].(float64) != 3 {
		t.Errorf("avg latency = %v", tick["avg_latency_ms"])
	}
	if tick["characters"].(int64) != 3 {
		t.Errorf("characters = %v", tick["characters"])
	}

	buffs := snap["buffs"].(map[string]interface{})
	if buffs["expired"].(int64) != 2 || buffs["rejected"].(int64) != 1 {
		t.Errorf("buff counters = %v", buffs)
	}
	events := snap["events"].(map[string]interface{})
	if events["errors"].(int64) != 1 {
		t.Errorf("event errors = %v", events["errors"])
	}
}

func TestPrometheusHandler(t *testing.T) {
	c := NewCollector()
	c.RecordWSMessage(true)
	c.RecordWSMessage(false)
	c.RecordWSMessage(false)

	rec := httptest.NewRecorder()
	c.PrometheusHandler()(rec, httptest.NewRequest("GET", "/metrics/prometheus", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`needs_ws_messages_total{direction="in"} 1`,
		`needs_ws_messages_total{direction="out"} 2`,
		"needs_tick_count 0",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in output:\n%s", want, body)
		}
	}
}
