package network

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MRamiBalles/needsim/internal/domain/character"
	"github.com/MRamiBalles/needsim/internal/domain/rules"
	"github.com/MRamiBalles/needsim/internal/engine"
	"github.com/MRamiBalles/needsim/internal/infra/storage"
	"github.com/MRamiBalles/needsim/internal/platform/logger"
)

// API serves the HTTP surface of the simulation.
type API struct {
	sim     Simulation
	recap   *storage.Recapper // nil when the journal is disabled
	logger  *logger.Logger
	replay  *ReplayHandler
	hub     *Hub
	maxBody int64
}

// NewAPI wires the handlers. recap may be nil.
func NewAPI(sim Simulation, hub *Hub, replay *ReplayHandler, recap *storage.Recapper, log *logger.Logger) *API {
	return &API{
		sim:     sim,
		recap:   recap,
		logger:  log,
		replay:  replay,
		hub:     hub,
		maxBody: 64 << 10,
	}
}

// RegisterRoutes sets up every HTTP route on mux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/characters", a.handleListCharacters)
	mux.HandleFunc("POST /api/characters", a.handleCreateCharacter)
	mux.HandleFunc("GET /api/characters/{id}", a.handleGetCharacter)
	mux.HandleFunc("DELETE /api/characters/{id}", a.handleDeleteCharacter)
	mux.HandleFunc("POST /api/characters/{id}/action", a.handleAction)
	mux.HandleFunc("GET /api/characters/{id}/buffs/{buff}", a.handleGetBuff)
	mux.HandleFunc("DELETE /api/characters/{id}/buffs/{buff}", a.handleRemoveBuff)
	mux.HandleFunc("GET /api/characters/{id}/history", a.handleHistory)
	mux.HandleFunc("GET /api/buffs", a.handleBuffs)
	mux.HandleFunc("GET /api/natural-effects", a.handleNaturalEffects)
	mux.HandleFunc("GET /api/clock", a.handleGetClock)
	mux.HandleFunc("POST /api/clock", a.handleSetClock)
	if a.replay != nil {
		a.replay.RegisterRoutes(mux)
	}
	if a.hub != nil {
		mux.HandleFunc("GET /ws", a.hub.ServeWs)
	}
}

func (a *API) handleListCharacters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tick":       a.sim.TickNumber(),
		"characters": a.sim.Snapshots(),
	})
}

type createCharacterRequest struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	Properties *character.NeedState `json:"properties"`
}

func (a *API) handleCreateCharacter(w http.ResponseWriter, r *http.Request) {
	var req createCharacterRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		jsonError(w, "Missing name", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	var props character.NeedState
	if req.Properties != nil {
		props = *req.Properties
	}

	if err := a.sim.AddCharacter(character.New(req.ID, req.Name, props), rules.AliveBuffID); err != nil {
		if errors.Is(err, engine.ErrDuplicateCharacter) {
			jsonError(w, "Character already exists", http.StatusConflict)
			return
		}
		a.internalError(w, err)
		return
	}

	snap, err := a.sim.Snapshot(req.ID)
	if err != nil {
		a.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (a *API) handleGetCharacter(w http.ResponseWriter, r *http.Request) {
	snap, err := a.sim.Snapshot(r.PathValue("id"))
	if err != nil {
		a.engineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleDeleteCharacter(w http.ResponseWriter, r *http.Request) {
	if err := a.sim.RemoveCharacter(r.PathValue("id")); err != nil {
		a.engineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type actionRequest struct {
	Action string `json:"action"`
	Stacks *int   `json:"stacks"`
}

type actionResponse struct {
	Success bool                    `json:"success"`
	Buff    string                  `json:"buff"`
	Applied bool                    `json:"applied"`
	Current *character.BuffInstance `json:"current,omitempty"`
}

func (a *API) handleAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req actionRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Action == "" {
		jsonError(w, "Missing action", http.StatusBadRequest)
		return
	}
	stacks := 1
	if req.Stacks != nil {
		stacks = *req.Stacks
	}
	if stacks < 1 {
		jsonError(w, "stacks must be at least 1", http.StatusBadRequest)
		return
	}

	err := a.sim.ApplyBuff(id, req.Action, stacks)
	switch {
	case errors.Is(err, engine.ErrUnknownBuff):
		// Unknown buffs are dropped, not failed.
		writeJSON(w, http.StatusOK, actionResponse{Success: true, Buff: req.Action})
		return
	case err != nil:
		a.engineError(w, err)
		return
	}

	resp := actionResponse{Success: true, Buff: req.Action, Applied: true}
	if inst, ok, _ := a.sim.GetBuff(id, req.Action); ok {
		resp.Current = &inst
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetBuff(w http.ResponseWriter, r *http.Request) {
	inst, ok, err := a.sim.GetBuff(r.PathValue("id"), r.PathValue("buff"))
	if err != nil {
		a.engineError(w, err)
		return
	}
	if !ok {
		jsonError(w, "Buff not active", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (a *API) handleRemoveBuff(w http.ResponseWriter, r *http.Request) {
	removed, err := a.sim.RemoveBuff(r.PathValue("id"), r.PathValue("buff"))
	if err != nil {
		a.engineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	if a.recap == nil {
		jsonError(w, "Journal disabled", http.StatusServiceUnavailable)
		return
	}
	limit, ok := queryInt(w, r, "limit", 100)
	if !ok {
		return
	}
	recap, err := a.recap.History(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		a.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recap)
}

func (a *API) handleBuffs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.sim.Catalog().Buffs())
}

// naturalEffectView is a natural effect rule with its condition rendered for display.
type naturalEffectView struct {
	rules.NaturalEffectRule
	ConditionText string `json:"condition_text"`
	Active        *bool  `json:"active,omitempty"`
}

func (a *API) handleNaturalEffects(w http.ResponseWriter, r *http.Request) {
	var active map[string]bool
	if id := r.URL.Query().Get("character"); id != "" {
		ids, err := a.sim.ActiveNaturalEffects(id)
		if err != nil {
			a.engineError(w, err)
			return
		}
		active = make(map[string]bool, len(ids))
		for _, ruleID := range ids {
			active[ruleID] = true
		}
	}

	natural := a.sim.NaturalEffects()
	views := make([]naturalEffectView, 0, len(natural))
	for _, rule := range natural {
		view := naturalEffectView{NaturalEffectRule: rule, ConditionText: rule.Condition.String()}
		if active != nil {
			on := active[rule.ID]
			view.Active = &on
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

type clockResponse struct {
	Tick     int64  `json:"tick"`
	TickRate string `json:"tick_rate"`
	Running  bool   `json:"running"`
}

func (a *API) clock() clockResponse {
	return clockResponse{
		Tick:     a.sim.TickNumber(),
		TickRate: a.sim.TickRate().String(),
		Running:  a.sim.Running(),
	}
}

func (a *API) handleGetClock(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.clock())
}

func (a *API) handleSetClock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TickRate string `json:"tick_rate"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	rate, err := time.ParseDuration(req.TickRate)
	if err != nil {
		jsonError(w, "Invalid tick_rate", http.StatusBadRequest)
		return
	}
	if err := a.sim.SetTickRate(rate); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.logger.Info("Tick rate updated via API", zap.Duration("rate", rate))
	writeJSON(w, http.StatusOK, a.clock())
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, a.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		jsonError(w, "Invalid payload: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (a *API) engineError(w http.ResponseWriter, err error) {
	if engine.IsNotFound(err) {
		jsonError(w, "Character not found", http.StatusNotFound)
		return
	}
	a.internalError(w, err)
}

func (a *API) internalError(w http.ResponseWriter, err error) {
	a.logger.Error("API request failed", zap.Error(err))
	jsonError(w, "Internal error", http.StatusInternalServerError)
}

func queryInt(w http.ResponseWriter, r *http.Request, key string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		jsonError(w, "Invalid "+key, http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// jsonError sends an error response.
func jsonError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
