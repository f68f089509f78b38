package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/aigoflow/crash-insight/internal/services"
	"github.com/aigoflow/crash-insight/pkg/client"
)

// HealthText is the body of GET /.
const HealthText = "🦙 LLM Inference API is running!"

const maxBodyBytes = 1 << 20

type InferenceHandler struct {
	inferenceService *services.InferenceService
}

func NewInferenceHandler(inferenceService *services.InferenceService) *InferenceHandler {
	return &InferenceHandler{
		inferenceService: inferenceService,
	}
}

func (h *InferenceHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/infer", h.handleInfer)
	mux.HandleFunc("/logs", h.handleLogs)
	mux.HandleFunc("/stats", h.handleStats)
	mux.HandleFunc("/", h.handleHealth)
}

func (h *InferenceHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(HealthText))
}

func (h *InferenceHandler) handleInfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, services.ErrInvalidJSON.Error())
		return
	}

	req, err := services.DecodeInferRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	response, err := h.inferenceService.ProcessInference(r.Context(), req, "http.infer")
	switch {
	case errors.Is(err, services.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, services.ErrQueueFull.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, response.Error)
		return
	}

	writeJSON(w, http.StatusOK, response.Reply())
}

func (h *InferenceHandler) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}

	logs, err := h.inferenceService.GetRequestLogs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get logs: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, logs)
}

type statsReply struct {
	Queue    services.QueueStats `json:"queue"`
	Requests map[string]int      `json:"requests"`
}

func (h *InferenceHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.inferenceService.RequestCounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to count requests: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, statsReply{Queue: h.inferenceService.Stats(), Requests: counts})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, client.ErrorReply{Error: msg})
}
