// cluster.go: обработчики /cluster-api/v1: очередь, принтер, материалы.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/cura-connect/internal/api/errors"
	"github.com/bigkaa/goartstore/cura-connect/internal/domain/jobstate"
	"github.com/bigkaa/goartstore/cura-connect/internal/preview"
)

// QueuedList: единственный список, в котором можно переставлять задания.
const QueuedList = "queued"

// ClusterHandler обслуживает очередь заданий.
type ClusterHandler struct {
	queue    Queue
	previews Previews
	logger   *slog.Logger
}

// NewClusterHandler создаёт обработчик очереди.
func NewClusterHandler(queue Queue, previews Previews, logger *slog.Logger) *ClusterHandler {
	return &ClusterHandler{
		queue:    queue,
		previews: previews,
		logger:   logger.With(slog.String("component", "cluster_api")),
	}
}

// Printers обрабатывает GET /printers.
func (h *ClusterHandler) Printers(w http.ResponseWriter, r *http.Request) {
	printers, err := h.queue.Printers(r.Context())
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, printers)
}

// PrintJobs обрабатывает GET /print_jobs.
func (h *ClusterHandler) PrintJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.queue.PrintJobs(r.Context())
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// Materials обрабатывает GET /materials.
func (h *ClusterHandler) Materials(w http.ResponseWriter, r *http.Request) {
	materials, err := h.queue.Materials(r.Context())
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, materials)
}

type moveRequest struct {
	List       string `json:"list"`
	ToPosition *int   `json:"to_position"`
}

// Move обрабатывает POST /print_jobs/{uuid}/action/move.
func (h *ClusterHandler) Move(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	raw, err := decodeJSON(r, &req)
	if err != nil {
		badPayload(w, r, h.logger, raw, err)
		return
	}
	if req.List != QueuedList {
		badPayload(w, r, h.logger, raw, errors.New(`поле list должно быть "queued"`))
		return
	}
	if req.ToPosition == nil {
		badPayload(w, r, h.logger, raw, errors.New("не задано поле to_position"))
		return
	}

	if err := h.queue.Move(r.Context(), chi.URLParam(r, "uuid"), *req.ToPosition); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type actionRequest struct {
	Action string `json:"action"`
}

// Action обрабатывает PUT /print_jobs/{uuid}/action.
func (h *ClusterHandler) Action(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	raw, err := decodeJSON(r, &req)
	if err != nil {
		badPayload(w, r, h.logger, raw, err)
		return
	}
	action, err := jobstate.ParseAction(req.Action)
	if err != nil {
		badPayload(w, r, h.logger, raw, err)
		return
	}

	if err := h.queue.Control(r.Context(), chi.URLParam(r, "uuid"), action); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Force обрабатывает PUT /print_jobs/{uuid}: переопределение
// конфигурации не поддерживается.
func (h *ClusterHandler) Force(w http.ResponseWriter, _ *http.Request) {
	apierrors.NotImplemented(w, "переопределение конфигурации задания не поддерживается")
}

// Delete обрабатывает DELETE /print_jobs/{uuid}.
func (h *ClusterHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Delete(r.Context(), chi.URLParam(r, "uuid")); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PreviewImage обрабатывает GET /print_jobs/{uuid}/preview_image.
func (h *ClusterHandler) PreviewImage(w http.ResponseWriter, r *http.Request) {
	path, err := h.queue.JobPath(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}

	img, err := h.previews.Get(path)
	switch {
	case err == nil:
	case errors.Is(err, preview.ErrNoThumbnail), errors.Is(err, os.ErrNotExist):
		apierrors.WriteError(w, http.StatusNotFound, "NO_PREVIEW", "у задания нет миниатюры")
		return
	default:
		h.logger.Error("Ошибка чтения миниатюры",
			slog.String("path", path),
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "ошибка чтения миниатюры")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}
