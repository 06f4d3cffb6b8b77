package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/inkpress-ai/inkpress/internal/run"
	"github.com/inkpress-ai/inkpress/internal/server"
)

// RunsHandler exposes the run lifecycle over HTTP JSON
type RunsHandler struct {
	svc    *server.Service
	logger *zap.Logger
}

func NewRunsHandler(svc *server.Service, logger *zap.Logger) *RunsHandler {
	return &RunsHandler{svc: svc, logger: logger}
}

// RegisterRoutes attaches the run endpoints to the mux
func (h *RunsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/runs", h.createRun)
	mux.HandleFunc("GET /api/v1/runs/{id}", h.getRun)
	mux.HandleFunc("GET /api/v1/runs/{id}/logs", h.getRunLogs)
	mux.HandleFunc("POST /api/v1/runs/{id}/execute", h.executeRun)
	mux.HandleFunc("POST /api/v1/runs/{id}/feedback", h.executeFeedback)
	mux.HandleFunc("GET /healthz", h.health)
}

func (h *RunsHandler) createRun(w http.ResponseWriter, r *http.Request) {
	var req server.CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Document) == "" {
		writeError(w, http.StatusBadRequest, "document is required")
		return
	}

	created, err := h.svc.CreateRun(r.Context(), req)
	if err != nil {
		h.logger.Error("Run creation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create run")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *RunsHandler) getRun(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *RunsHandler) getRunLogs(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id": doc.ID,
		"logs":   doc.Logs,
	})
}

func (h *RunsHandler) executeRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if err := h.svc.Execute(r.Context(), runID); err != nil {
		h.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID,
		"status": string(run.StatusRunning),
	})
}

type feedbackRequest struct {
	Stage    string `json:"stage"`
	Feedback string `json:"feedback"`
}

func (h *RunsHandler) executeFeedback(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !run.FeedbackStages[run.Stage(req.Stage)] {
		writeError(w, http.StatusBadRequest, "invalid feedback stage: "+req.Stage)
		return
	}

	if err := h.svc.ExecuteWithFeedback(r.Context(), runID, req.Stage, req.Feedback); err != nil {
		h.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID,
		"status": string(run.StatusRunning),
		"stage":  req.Stage,
	})
}

func (h *RunsHandler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *RunsHandler) writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, run.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case errors.Is(err, run.ErrRunActive):
		writeError(w, http.StatusConflict, "run already has an execution in flight")
	default:
		h.logger.Error("Run request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
