// Package api provides read-only HTTP handlers over the transition journal.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ayusman/thumbswitch/internal/store"
)

// RunsHandler serves journaled runs and their transitions.
type RunsHandler struct {
	store *store.Store
}

// NewRunsHandler creates a new RunsHandler with the given store.
func NewRunsHandler(s *store.Store) *RunsHandler {
	return &RunsHandler{store: s}
}

// ServeHTTP routes /api/runs, /api/runs/{id} and /api/runs/{id}/transitions.
func (h *RunsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/runs")
	path = strings.Trim(path, "/")

	if path == "" {
		h.list(w, r)
		return
	}

	id, rest, _ := strings.Cut(path, "/")
	switch rest {
	case "":
		h.get(w, r, id)
	case "transitions":
		h.transitions(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

type runResponse struct {
	ID         string `json:"id"`
	PinID      int    `json:"pin_id"`
	Driver     string `json:"driver"`
	HoldMs     int64  `json:"hold_ms"`
	StartedAt  string `json:"started_at"`
	StoppedAt  string `json:"stopped_at,omitempty"`
	FinalLevel string `json:"final_level,omitempty"`
	Cause      string `json:"cause,omitempty"`
}

type listRunsResponse struct {
	Runs []runResponse `json:"runs"`
}

type transitionResponse struct {
	Sequence int    `json:"sequence"`
	Label    string `json:"label"`
	From     string `json:"from"`
	To       string `json:"to"`
	At       string `json:"at"`
}

type listTransitionsResponse struct {
	RunID       string               `json:"run_id"`
	Transitions []transitionResponse `json:"transitions"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toRunResponse(run *store.Run) runResponse {
	resp := runResponse{
		ID:         run.ID,
		PinID:      run.PinID,
		Driver:     run.Driver,
		HoldMs:     run.Hold.Milliseconds(),
		StartedAt:  run.StartedAt.Format(time.RFC3339Nano),
		FinalLevel: run.FinalLevel,
		Cause:      run.Cause,
	}
	if !run.StoppedAt.IsZero() {
		resp.StoppedAt = run.StoppedAt.Format(time.RFC3339Nano)
	}
	return resp
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func (h *RunsHandler) list(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.Runs().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	response := listRunsResponse{Runs: make([]runResponse, 0, len(runs))}
	for _, run := range runs {
		response.Runs = append(response.Runs, toRunResponse(run))
	}

	writeJSON(w, http.StatusOK, response)
}

func (h *RunsHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	run, err := h.store.Runs().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	writeJSON(w, http.StatusOK, toRunResponse(run))
}

func (h *RunsHandler) transitions(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := h.store.Runs().GetByID(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	list, err := h.store.Transitions().ListByRun(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transitions")
		return
	}

	response := listTransitionsResponse{
		RunID:       id,
		Transitions: make([]transitionResponse, 0, len(list)),
	}
	for _, t := range list {
		response.Transitions = append(response.Transitions, transitionResponse{
			Sequence: t.Sequence,
			Label:    t.Label,
			From:     t.From,
			To:       t.To,
			At:       t.At.Format(time.RFC3339Nano),
		})
	}

	writeJSON(w, http.StatusOK, response)
}
