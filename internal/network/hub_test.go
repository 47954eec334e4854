package network

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MRamiBalles/needsim/internal/domain/character"
	"github.com/MRamiBalles/needsim/internal/domain/rules"
	"github.com/MRamiBalles/needsim/internal/events"
	"github.com/MRamiBalles/needsim/internal/platform/optimization"
)

func TestParseClientMessage(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		stacks  int
	}{
		{"action", `{"type":"ACTION","characterId":"c1","action":"eat"}`, false, 1},
		{"action with stacks", `{"type":"ACTION","characterId":"c1","action":"eat","stacks":3}`, false, 3},
		{"unknown buff passes the boundary", `{"type":"ACTION","characterId":"c1","action":"fly"}`, false, 1},
		{"remove", `{"type":"REMOVE_BUFF","characterId":"c1","buffId":"eat"}`, false, 1},
		{"not json", `eat please`, true, 0},
		{"missing character", `{"type":"ACTION","action":"eat"}`, true, 0},
		{"missing action", `{"type":"ACTION","characterId":"c1"}`, true, 0},
		{"zero stacks", `{"type":"ACTION","characterId":"c1","action":"eat","stacks":0}`, true, 0},
		{"missing buff id", `{"type":"REMOVE_BUFF","characterId":"c1"}`, true, 0},
		{"unknown type", `{"type":"VOTE","characterId":"c1"}`, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := parseClientMessage([]byte(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, errMalformed) {
					t.Fatalf("err = %v, want errMalformed", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if msg.StacksOrDefault() != tt.stacks {
				t.Errorf("stacks = %d, want %d", msg.StacksOrDefault(), tt.stacks)
			}
		})
	}
}

func TestClientRateLimit(t *testing.T) {
	c := &Client{hub: &Hub{tuning: &optimization.Config{MaxMessagesPerSecond: 3}}}
	start := time.Unix(1000, 0)

	for i := 0; i < 3; i++ {
		if !c.allow(start.Add(time.Duration(i) * 100 * time.Millisecond)) {
			t.Fatalf("message %d rejected", i)
		}
	}
	if c.allow(start.Add(500 * time.Millisecond)) {
		t.Error("fourth message in the window allowed")
	}
	if !c.allow(start.Add(1100 * time.Millisecond)) {
		t.Error("new window should reset the count")
	}
}

func TestBroadcastable(t *testing.T) {
	if broadcastable(events.Event{Type: events.EventTypeTick}) {
		t.Error("ticks should not be broadcast as events")
	}
	if !broadcastable(events.Event{Type: events.EventTypeBuffExpired}) {
		t.Error("expiry should be broadcast")
	}
}

type wireMessage struct {
	Type      string          `json:"type"`
	Tick      int64           `json:"tick"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

func readUntil(t *testing.T, conn *websocket.Conn, msgType string) wireMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", msgType, err)
		}
		if msg.Type == msgType {
			return msg
		}
	}
}

func TestWebSocketSession(t *testing.T) {
	s := newTestServer(t, nil, nil)
	s.do(t, http.MethodPost, "/api/characters", `{"id":"hero","name":"Hero"}`)

	srv := httptest.NewServer(s.mux)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	initial := readUntil(t, conn, MsgInitialState)
	var snaps []character.Snapshot
	if err := json.Unmarshal(initial.Data, &snaps); err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 || snaps[0].ID != "hero" || initial.Timestamp == 0 {
		t.Fatalf("initial state = %+v", initial)
	}

	frames := []string{
		`{"type":"ACTION","characterId":"hero","action":"fly"}`,
		`{"type":"ACTION","characterId":"ghost","action":"eat"}`,
		`garbage`,
		`{"type":"ACTION","characterId":"hero","action":"eat","stacks":2}`,
	}
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if inst, ok, _ := s.engine.GetBuff("hero", rules.BuffEat); ok {
			if inst.Stacks != 2 {
				t.Fatalf("eat stacks = %d", inst.Stacks)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("ACTION never applied")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok, _ := s.engine.GetBuff("hero", "fly"); ok {
		t.Error("unknown buff attached")
	}

	s.engine.Tick()
	update := readUntil(t, conn, MsgStateUpdate)
	if update.Tick != 1 {
		t.Errorf("update tick = %d", update.Tick)
	}
	if err := json.Unmarshal(update.Data, &snaps); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, b := range snaps[0].Buffs {
		found = found || b.ID == rules.BuffEat
	}
	if !found {
		t.Errorf("update missing eat buff: %+v", snaps[0].Buffs)
	}
}

func TestServeWsRejectsWhenFull(t *testing.T) {
	s := newTestServer(t, nil, nil)
	s.hub.tuning = &optimization.Config{MaxClients: 0, MaxMessagesPerSecond: 1, ClientSendBuffer: 1}

	rec := s.do(t, http.MethodGet, "/ws", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
