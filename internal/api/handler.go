package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/alice/internal/agent"
	"github.com/nidhogg/alice/internal/provider"
	"github.com/nidhogg/alice/internal/sim"
	"github.com/nidhogg/alice/internal/store"
	"go.uber.org/zap"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	engine  *sim.Engine
	router  *provider.Router
	history store.History
	logger  *zap.Logger
}

// NewHandler creates a new API handler. router and history may be nil.
func NewHandler(engine *sim.Engine, router *provider.Router, history store.History, logger *zap.Logger) *Handler {
	return &Handler{
		engine:  engine,
		router:  router,
		history: history,
		logger:  logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Get("/agents", h.listAgents)
		r.Post("/agents", h.createAgent)
		r.Get("/agents/{name}", h.getAgent)
		r.Get("/agents/{name}/memories", h.getMemories)
		r.Get("/agents/{name}/beliefs", h.getBeliefs)
		r.Get("/agents/{name}/knowledge", h.getAgentKnowledge)
		r.Get("/agents/{name}/stats", h.getStats)
		r.Post("/agents/{name}/reflect", h.reflect)

		r.Get("/knowledge", h.listKnowledge)
		r.Get("/providers", h.listProviders)

		r.Post("/turns", h.advanceTurn)
		r.Post("/observations", h.injectObservation)
		r.Get("/state", h.getState)
		r.Post("/run", h.startRun)
		r.Delete("/run", h.stopRun)

		r.Get("/runs", h.listRuns)
		r.Get("/runs/{id}/transcript", h.getTranscript)
		r.Get("/transcript/ws", h.transcriptWS)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "run": h.engine.RunID()})
}

// agentView is the public shape of a resident. Hidden details are counted,
// never listed.
type agentView struct {
	Name          string        `json:"name"`
	Kind          agent.Kind    `json:"kind"`
	Age           int           `json:"age"`
	Sex           string        `json:"sex"`
	MemorySize    int           `json:"memory_size"`
	Location      string        `json:"location,omitempty"`
	Identity      string        `json:"identity,omitempty"`
	Concept       agent.Concept `json:"concept"`
	HiddenDetails int           `json:"hidden_details"`
	Memories      int           `json:"memories"`
	CreatedAt     time.Time     `json:"created_at"`
}

func (h *Handler) view(a *agent.Agent) agentView {
	v := agentView{
		Name:          a.Name,
		Kind:          a.Kind,
		Age:           a.Age,
		Sex:           a.Sex,
		MemorySize:    a.MemorySize,
		Location:      h.engine.World().Places.Location(a.Name),
		Concept:       a.Concept(),
		HiddenDetails: a.HiddenDetailCount(),
		Memories:      a.Memory.Len(),
		CreatedAt:     a.CreatedAt,
	}
	if hp := a.Human(); hp != nil {
		v.Identity = hp.Identity
	}
	return v
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*agent.Agent, bool) {
	a, ok := h.engine.World().Residents.Get(chi.URLParam(r, "name"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return nil, false
	}
	return a, true
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	agents := h.engine.World().Residents.List()
	out := make([]agentView, 0, len(agents))
	for _, a := range agents {
		out = append(out, h.view(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) createAgent(w http.ResponseWriter, r *http.Request) {
	var p agent.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	a, err := h.engine.CreateAgent(p)
	switch {
	case errors.Is(err, agent.ErrAgentExists):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	case err != nil:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, h.view(a))
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	a, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.view(a))
}

func (h *Handler) getMemories(w http.ResponseWriter, r *http.Request) {
	a, ok := h.lookup(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 20)
	if q := r.URL.Query().Get("query"); q != "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"query":    q,
			"relevant": a.Memory.Relevant(r.Context(), q, limit),
		})
		return
	}
	writeJSON(w, http.StatusOK, a.Memory.RecentEntries(limit))
}

func (h *Handler) getBeliefs(w http.ResponseWriter, r *http.Request) {
	a, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.Beliefs.Snapshot())
}

func (h *Handler) getAgentKnowledge(w http.ResponseWriter, r *http.Request) {
	a, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mastery":  a.Mastery.Snapshot(),
		"mastered": a.MasteredKnowledge(h.engine.World().Knowledge),
	})
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	a, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.engine.World().Tally.Get(a.Name))
}

func (h *Handler) reflect(w http.ResponseWriter, r *http.Request) {
	a, ok := h.lookup(w, r)
	if !ok {
		return
	}
	res, err := h.engine.Reflect(r.Context(), a.Name)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) listKnowledge(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.World().Knowledge.List())
}

func (h *Handler) listProviders(w http.ResponseWriter, r *http.Request) {
	type providerView struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Default bool   `json:"default"`
	}
	out := []providerView{}
	if h.router != nil {
		def := h.router.DefaultID()
		for _, p := range h.router.ListProviders() {
			out = append(out, providerView{ID: p.ID(), Name: p.Name(), Default: p.ID() == def})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) advanceTurn(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.AdvanceTurn(r.Context())
	switch {
	case errors.Is(err, sim.ErrTerminated):
		writeJSON(w, http.StatusConflict, map[string]interface{}{"error": err.Error(), "state": res.State})
		return
	case errors.Is(err, sim.ErrNoActors):
		writeJSON(w, http.StatusPreconditionFailed, map[string]string{"error": err.Error()})
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) injectObservation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}
	h.engine.InjectObservation(req.Text)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "injected"})
}

func (h *Handler) getState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run":     h.engine.RunID(),
		"now":     h.engine.World().Clock.Now(),
		"running": h.engine.Running(),
		"state":   h.engine.State(),
	})
}

func (h *Handler) startRun(w http.ResponseWriter, r *http.Request) {
	// the run outlives the request
	err := h.engine.Start(context.Background())
	switch {
	case errors.Is(err, sim.ErrRunning):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	case err != nil:
		writeJSON(w, http.StatusPreconditionFailed, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "running", "run": h.engine.RunID()})
}

func (h *Handler) stopRun(w http.ResponseWriter, r *http.Request) {
	h.engine.Stop()
	writeJSON(w, http.StatusOK, h.engine.State())
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "history not configured"})
		return
	}
	runs, err := h.history.Runs(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) getTranscript(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "history not configured"})
		return
	}
	lines, err := h.history.Lines(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", 500))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, lines)
}

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
