package network

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MRamiBalles/needsim/internal/domain/character"
	"github.com/MRamiBalles/needsim/internal/domain/rules"
	"github.com/MRamiBalles/needsim/internal/engine"
	"github.com/MRamiBalles/needsim/internal/events"
	"github.com/MRamiBalles/needsim/internal/infra/storage"
	"github.com/MRamiBalles/needsim/internal/platform/logger"
	"github.com/MRamiBalles/needsim/internal/platform/metrics"
	"github.com/MRamiBalles/needsim/internal/platform/optimization"
)

type testServer struct {
	engine   *engine.Engine
	eventLog *events.EventLog
	hub      *Hub
	mux      *http.ServeMux
}

func newTestServer(t *testing.T, recap *storage.Recapper, persister events.EventPersister) *testServer {
	t.Helper()
	collector := metrics.NewCollector()
	el := events.NewEventLog(256, persister)
	eng := engine.NewEngine(rules.DefaultCatalog(), el, logger.Nop(), engine.Options{Collector: collector})
	hub := NewHub(eng, el, logger.Nop(), optimization.LowResourceConfig(), collector)
	eng.OnTick(hub.BroadcastState)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	mux := http.NewServeMux()
	NewAPI(eng, hub, NewReplayHandler(el, logger.Nop()), recap, logger.Nop()).RegisterRoutes(mux)
	return &testServer{engine: eng, eventLog: el, hub: hub, mux: mux}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestCreateAndFetchCharacter(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := s.do(t, http.MethodPost, "/api/characters", `{"id":"hero","name":"Hero","properties":{"hunger":3}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body %s", rec.Code, rec.Body)
	}
	var created character.Snapshot
	decodeBody(t, rec, &created)
	if created.Properties.Get(character.Hunger) != 3 || len(created.Buffs) != 1 || created.Buffs[0].ID != rules.AliveBuffID {
		t.Errorf("created = %+v", created)
	}

	if rec := s.do(t, http.MethodPost, "/api/characters", `{"id":"hero","name":"Again"}`); rec.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/api/characters", `{"name":""}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing name status = %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/api/characters", `{"name":"X","properties":{"mood":1}}`); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown need status = %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/api/characters", `{"name":"Anon"}`)
	var anon character.Snapshot
	decodeBody(t, rec, &anon)
	if anon.ID == "" {
		t.Error("generated id empty")
	}

	rec = s.do(t, http.MethodGet, "/api/characters", "")
	var list struct {
		Characters []character.Snapshot `json:"characters"`
	}
	decodeBody(t, rec, &list)
	if len(list.Characters) != 2 || list.Characters[0].ID != "hero" {
		t.Errorf("list = %+v", list.Characters)
	}

	if rec := s.do(t, http.MethodGet, "/api/characters/hero", ""); rec.Code != http.StatusOK {
		t.Errorf("get status = %d", rec.Code)
	}
	if rec := s.do(t, http.MethodDelete, "/api/characters/hero", ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/api/characters/hero", ""); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", rec.Code)
	}
}

func TestActionEndpoint(t *testing.T) {
	s := newTestServer(t, nil, nil)
	s.do(t, http.MethodPost, "/api/characters", `{"id":"hero","name":"Hero"}`)

	tests := []struct {
		name    string
		path    string
		body    string
		status  int
		applied bool
		stacks  int
	}{
		{"apply", "/api/characters/hero/action", `{"action":"eat"}`, http.StatusOK, true, 1},
		{"stack", "/api/characters/hero/action", `{"action":"eat","stacks":5}`, http.StatusOK, true, 3},
		{"unknown buff dropped", "/api/characters/hero/action", `{"action":"fly"}`, http.StatusOK, false, 0},
		{"missing character", "/api/characters/ghost/action", `{"action":"eat"}`, http.StatusNotFound, false, 0},
		{"missing action", "/api/characters/hero/action", `{}`, http.StatusBadRequest, false, 0},
		{"zero stacks", "/api/characters/hero/action", `{"action":"eat","stacks":0}`, http.StatusBadRequest, false, 0},
		{"malformed", "/api/characters/hero/action", `{"action":`, http.StatusBadRequest, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body)
			}
			if tt.status != http.StatusOK {
				return
			}
			var resp actionResponse
			decodeBody(t, rec, &resp)
			if !resp.Success || resp.Applied != tt.applied {
				t.Errorf("resp = %+v", resp)
			}
			if tt.applied && (resp.Current == nil || resp.Current.Stacks != tt.stacks) {
				t.Errorf("current = %+v, want %d stacks", resp.Current, tt.stacks)
			}
		})
	}
}

func TestBuffEndpoints(t *testing.T) {
	s := newTestServer(t, nil, nil)
	s.do(t, http.MethodPost, "/api/characters", `{"id":"hero","name":"Hero"}`)
	s.do(t, http.MethodPost, "/api/characters/hero/action", `{"action":"heal","stacks":2}`)

	rec := s.do(t, http.MethodGet, "/api/characters/hero/buffs/heal", "")
	var inst character.BuffInstance
	decodeBody(t, rec, &inst)
	if inst.Stacks != 2 || inst.Duration.Remaining() != 3 {
		t.Errorf("heal = %+v", inst)
	}

	if rec := s.do(t, http.MethodGet, "/api/characters/hero/buffs/eat", ""); rec.Code != http.StatusNotFound {
		t.Errorf("inactive buff status = %d", rec.Code)
	}

	rec = s.do(t, http.MethodDelete, "/api/characters/hero/buffs/heal", "")
	var removed map[string]bool
	decodeBody(t, rec, &removed)
	if !removed["removed"] {
		t.Error("heal not removed")
	}
	if rec := s.do(t, http.MethodDelete, "/api/characters/ghost/buffs/heal", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing character status = %d", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/api/buffs", "")
	var catalog []rules.BuffDefinition
	decodeBody(t, rec, &catalog)
	if len(catalog) != 8 || catalog[0].ID != rules.AliveBuffID {
		t.Errorf("catalog = %+v", catalog)
	}
}

func TestNaturalEffectsEndpoint(t *testing.T) {
	s := newTestServer(t, nil, nil)
	s.do(t, http.MethodPost, "/api/characters", `{"id":"hero","name":"Hero","properties":{"hunger":9}}`)

	rec := s.do(t, http.MethodGet, "/api/natural-effects?character=hero", "")
	var views []struct {
		ID            string          `json:"id"`
		ConditionText string          `json:"condition_text"`
		Condition     json.RawMessage `json:"condition"`
		Active        *bool           `json:"active"`
	}
	decodeBody(t, rec, &views)
	if len(views) != 11 {
		t.Fatalf("views = %d", len(views))
	}
	if views[2].ID != "high_discomfort" || views[2].Active == nil || !*views[2].Active {
		t.Errorf("high_discomfort = %+v", views[2])
	}
	if views[3].Active == nil || *views[3].Active {
		t.Errorf("%s should be inactive", views[3].ID)
	}
	if views[4].ConditionText != "hunger > 70%" {
		t.Errorf("condition text = %q", views[4].ConditionText)
	}

	rec = s.do(t, http.MethodGet, "/api/natural-effects", "")
	var plain []naturalEffectView
	decodeBody(t, rec, &plain)
	if len(plain) != 11 || plain[0].Active != nil {
		t.Error("active flag present without a character")
	}

	if rec := s.do(t, http.MethodGet, "/api/natural-effects?character=ghost", ""); rec.Code != http.StatusNotFound {
		t.Errorf("ghost status = %d", rec.Code)
	}
}

func TestClockEndpoint(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := s.do(t, http.MethodPost, "/api/clock", `{"tick_rate":"250ms"}`)
	var clock clockResponse
	decodeBody(t, rec, &clock)
	if clock.TickRate != "250ms" {
		t.Errorf("clock = %+v", clock)
	}
	if s.engine.TickRate() != 250*time.Millisecond {
		t.Errorf("engine rate = %s", s.engine.TickRate())
	}

	for _, body := range []string{`{"tick_rate":"soon"}`, `{"tick_rate":"0s"}`, `{"tick_rate":"-1s"}`} {
		if rec := s.do(t, http.MethodPost, "/api/clock", body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d", body, rec.Code)
		}
	}

	s.engine.Tick()
	rec = s.do(t, http.MethodGet, "/api/clock", "")
	decodeBody(t, rec, &clock)
	if clock.Tick != 1 || clock.Running {
		t.Errorf("clock = %+v", clock)
	}
}

func TestEventReplayEndpoint(t *testing.T) {
	s := newTestServer(t, nil, nil)
	s.do(t, http.MethodPost, "/api/characters", `{"id":"hero","name":"Hero"}`)
	s.do(t, http.MethodPost, "/api/characters/hero/action", `{"action":"fly"}`)
	s.engine.Tick()

	rec := s.do(t, http.MethodGet, "/api/events?character=hero", "")
	var resp ReplayResponse
	decodeBody(t, rec, &resp)
	// CHARACTER_ADDED, BUFF_APPLIED(alive), BUFF_REJECTED
	if resp.TotalEvents != 3 {
		t.Fatalf("events = %+v", resp.Events)
	}

	rec = s.do(t, http.MethodGet, "/api/events?type=BUFF_REJECTED", "")
	decodeBody(t, rec, &resp)
	if resp.TotalEvents != 1 || resp.Events[0].BuffID != "fly" {
		t.Errorf("rejected = %+v", resp.Events)
	}

	rec = s.do(t, http.MethodGet, "/api/events?since=3", "")
	decodeBody(t, rec, &resp)
	if resp.TotalEvents != 1 || resp.Events[0].Type != events.EventTypeTick {
		t.Errorf("since = %+v", resp.Events)
	}

	eventID := resp.Events[0].ID
	if rec := s.do(t, http.MethodGet, "/api/events/"+eventID, ""); rec.Code != http.StatusOK {
		t.Errorf("detail status = %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/api/events/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing detail status = %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/api/events/stats", ""); rec.Code != http.StatusOK {
		t.Errorf("stats status = %d", rec.Code)
	}

	for _, q := range []string{"type=VOTE", "since=x", "limit=-2"} {
		if rec := s.do(t, http.MethodGet, "/api/events?"+q, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d", q, rec.Code)
		}
	}
}

func TestHistoryEndpoint(t *testing.T) {
	disabled := newTestServer(t, nil, nil)
	if rec := disabled.do(t, http.MethodGet, "/api/characters/hero/history", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled journal status = %d", rec.Code)
	}

	db, err := storage.InitSQLite(filepath.Join(t.TempDir(), "needs.db"), 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	repo := storage.NewSQLiteEventRepository(db)
	t.Cleanup(func() { repo.Close() })

	s := newTestServer(t, storage.NewRecapper(repo), storage.NewJournal(repo, time.Second))
	s.do(t, http.MethodPost, "/api/characters", `{"id":"hero","name":"Hero"}`)
	s.do(t, http.MethodPost, "/api/characters/hero/action", `{"action":"eat"}`)

	rec := s.do(t, http.MethodGet, "/api/characters/hero/history", "")
	var recap storage.Recap
	decodeBody(t, rec, &recap)
	if len(recap.Events) != 3 || recap.Applied["eat"] != 1 || recap.Applied[rules.AliveBuffID] != 1 {
		t.Errorf("recap = %+v", recap)
	}
}
