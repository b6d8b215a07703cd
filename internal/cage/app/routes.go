package app

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// registerOperatorRoutes wires the endpoints cagectl drives on top of the
// health server's built-in /health and /status.
func (a *App) registerOperatorRoutes() {
	a.healthServer.Handle("/pool", http.HandlerFunc(a.handlePool))
	a.healthServer.Handle("/events", http.HandlerFunc(a.handleEvents))
	a.healthServer.Handle("/drain", http.HandlerFunc(a.handleDrain))
}

func (a *App) handlePool(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.reg.List())
}

func (a *App) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := a.reg.ListEvents(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// handleDrain force-destroys the container assigned to a session rather
// than returning it to the warm pool, for operators evicting a single
// misbehaving session without touching the rest of the fleet.
func (a *App) handleDrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Session string `json:"session"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Session == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "session is required"})
		return
	}

	if err := a.mgr.Release(r.Context(), req.Session, false); err != nil {
		slog.Warn("drain failed", "session", req.Session, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session": req.Session, "status": "drained"})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("app: failed to encode JSON response", "err", err)
	}
}
