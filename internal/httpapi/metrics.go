package httpapi

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/inkpress-ai/inkpress/internal/db"
)

// MetricsHandler serves aggregate run metrics from the telemetry sink.
// When the sink is not configured the endpoints report 503.
type MetricsHandler struct {
	sink   *db.Client
	logger *zap.Logger
}

func NewMetricsHandler(sink *db.Client, logger *zap.Logger) *MetricsHandler {
	return &MetricsHandler{sink: sink, logger: logger}
}

// RegisterRoutes attaches the metrics endpoints to the mux
func (h *MetricsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/metrics/summary", h.summary)
	mux.HandleFunc("GET /api/v1/metrics/runs", h.recentRuns)
}

func (h *MetricsHandler) summary(w http.ResponseWriter, r *http.Request) {
	if h.sink == nil {
		writeError(w, http.StatusServiceUnavailable, "telemetry sink not configured")
		return
	}
	summary, err := h.sink.MetricsSummary(r.Context())
	if err != nil {
		h.logger.Error("Metrics summary failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to build metrics summary")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *MetricsHandler) recentRuns(w http.ResponseWriter, r *http.Request) {
	if h.sink == nil {
		writeError(w, http.StatusServiceUnavailable, "telemetry sink not configured")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	runs, err := h.sink.RecentRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("Recent runs query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list recent runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}
