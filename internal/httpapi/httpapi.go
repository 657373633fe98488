// Package httpapi serves the optional read-only status API and the
// Prometheus metrics endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/auto_ytdlp/internal/logctx"
	"github.com/italolelis/auto_ytdlp/internal/storage"
	"github.com/italolelis/auto_ytdlp/internal/task"
	"github.com/italolelis/auto_ytdlp/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// TaskSource exposes the tasks of the current session.
type TaskSource interface {
	Snapshot() []task.Task
	Stats() task.Stats
}

// Stopper stops the running downloads.
type Stopper interface {
	Stop(ctx context.Context) error
}

type Handler struct {
	tasks     TaskSource
	stopper   Stopper
	history   storage.DownloadReadRepository
	telemetry *telemetry.Telemetry
}

// NewHandler creates the API handler. history and tel may be nil.
func NewHandler(tasks TaskSource, stopper Stopper, history storage.DownloadReadRepository, tel *telemetry.Telemetry) *Handler {
	return &Handler{
		tasks:     tasks,
		stopper:   stopper,
		history:   history,
		telemetry: tel,
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(h.telemetry).Middleware)

	r.Get("/healthz", h.HandleHealth)
	r.Get("/tasks", h.HandleTasks)
	r.Get("/stats", h.HandleStats)
	r.Get("/history", h.HandleHistory)
	r.Post("/stop", h.HandleStop)
	r.Method(http.MethodGet, "/metrics", h.telemetry.Handler())

	return otelhttp.NewHandler(r, "status-api")
}

type taskResponse struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	Status      string     `json:"status"`
	ErrorDetail string     `json:"error_detail,omitempty"`
	ContentID   string     `json:"content_id,omitempty"`
	Title       string     `json:"title,omitempty"`
	Attempt     int        `json:"attempt"`
	QueuedAt    time.Time  `json:"queued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

type statsResponse struct {
	Queued      int `json:"queued"`
	Downloading int `json:"downloading"`
	Completed   int `json:"completed"`
	Error       int `json:"error"`
	Cancelled   int `json:"cancelled"`
	Skipped     int `json:"skipped"`
	Total       int `json:"total"`
}

type historyResponse struct {
	Downloads []historyEntry `json:"downloads"`
	Counts    map[string]int `json:"counts"`
}

type historyEntry struct {
	TaskID      string    `json:"task_id"`
	SessionID   string    `json:"session_id"`
	URL         string    `json:"url"`
	ContentID   string    `json:"content_id,omitempty"`
	Title       string    `json:"title,omitempty"`
	Status      string    `json:"status"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	Attempt     int       `json:"attempt"`
	Bytes       int64     `json:"bytes"`
	FinishedAt  time.Time `json:"finished_at"`
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) HandleTasks(w http.ResponseWriter, r *http.Request) {
	snapshot := h.tasks.Snapshot()
	status := r.URL.Query().Get("status")

	resp := make([]taskResponse, 0, len(snapshot))

	for _, t := range snapshot {
		if status != "" && t.Status.String() != status {
			continue
		}

		resp = append(resp, toTaskResponse(t))
	}

	writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	s := h.tasks.Stats()

	writeJSON(r.Context(), w, http.StatusOK, statsResponse{
		Queued:      s.Queued,
		Downloading: s.Downloading,
		Completed:   s.Completed,
		Error:       s.Error,
		Cancelled:   s.Cancelled,
		Skipped:     s.Skipped,
		Total:       s.Total(),
	})
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.history == nil {
		http.Error(w, "download history is disabled", http.StatusNotFound)

		return
	}

	limit := defaultHistoryLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)

			return
		}

		limit = min(n, maxHistoryLimit)
	}

	records, err := h.history.GetDownloads(ctx, limit)
	if err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to read download history", "err", err)
		http.Error(w, "failed to read download history", http.StatusInternalServerError)

		return
	}

	counts, err := h.history.CountByStatus(ctx)
	if err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to count download history", "err", err)
		http.Error(w, "failed to read download history", http.StatusInternalServerError)

		return
	}

	resp := historyResponse{Downloads: make([]historyEntry, 0, len(records)), Counts: counts}
	for _, rec := range records {
		resp.Downloads = append(resp.Downloads, historyEntry{
			TaskID:      rec.TaskID,
			SessionID:   rec.SessionID,
			URL:         rec.URL,
			ContentID:   rec.ContentID,
			Title:       rec.Title,
			Status:      rec.Status,
			ErrorDetail: rec.ErrorDetail,
			Attempt:     rec.Attempt,
			Bytes:       rec.Bytes,
			FinishedAt:  rec.FinishedAt,
		})
	}

	writeJSON(ctx, w, http.StatusOK, resp)
}

// HandleStop requests a stop and returns without waiting for it.
func (h *Handler) HandleStop(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("stop requested through the api", "request_id", telemetry.GetRequestID(ctx))

	go func() {
		if err := h.stopper.Stop(ctx); err != nil {
			logger.Error("failed to stop downloads", "err", err)
		}
	}()

	writeJSON(r.Context(), w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func toTaskResponse(t task.Task) taskResponse {
	resp := taskResponse{
		ID:          t.ID,
		URL:         t.URL,
		Status:      t.Status.String(),
		ErrorDetail: t.ErrorDetail,
		ContentID:   t.ContentID,
		Title:       t.Title,
		Attempt:     t.Attempt,
		QueuedAt:    t.QueuedAt,
	}

	if !t.StartedAt.IsZero() {
		resp.StartedAt = &t.StartedAt
	}

	if !t.FinishedAt.IsZero() {
		resp.FinishedAt = &t.FinishedAt
	}

	return resp
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to encode response", "err", err)
	}
}
