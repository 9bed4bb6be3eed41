// handler.go: таблица маршрутов протокола и общие помощники.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/cura-connect/internal/api/errors"
	"github.com/bigkaa/goartstore/cura-connect/internal/domain/jobstate"
	"github.com/bigkaa/goartstore/cura-connect/internal/domain/model"
	"github.com/bigkaa/goartstore/cura-connect/internal/server"
	"github.com/bigkaa/goartstore/cura-connect/internal/service"
)

// Префиксы протокола.
const (
	ClusterAPI = "/cluster-api/v1"
	PrinterAPI = "/api/v1"
)

// maxJSONBody: предельный размер JSON-тела команды.
const maxJSONBody = 64 * 1024

// Queue: операции очереди, нужные обработчикам.
type Queue interface {
	PrintJobs(ctx context.Context) ([]model.PrintJob, error)
	Printers(ctx context.Context) ([]model.PrinterStatus, error)
	Materials(ctx context.Context) ([]model.Material, error)
	Move(ctx context.Context, jobUUID string, to int) error
	Delete(ctx context.Context, jobUUID string) error
	Control(ctx context.Context, jobUUID string, action jobstate.Action) error
	JobPath(ctx context.Context, jobUUID string) (string, error)
}

// Uploader: приём multipart-загрузок.
type Uploader interface {
	UploadPrintJobs(ctx context.Context, params service.UploadParams) (*service.UploadResult, error)
	UploadMaterials(ctx context.Context, params service.UploadParams) (*service.UploadResult, error)
}

// Previews: источник миниатюр заданий.
type Previews interface {
	Get(path string) ([]byte, error)
}

// Routes возвращает таблицу маршрутов протокола и служебных endpoints.
// POST загрузок принимается и со слэшем, и без него.
func Routes(cluster *ClusterHandler, uploads *UploadHandler, system *SystemHandler, health *HealthHandler) []server.Route {
	return []server.Route{
		{Method: http.MethodGet, Pattern: ClusterAPI + "/printers", Handler: cluster.Printers},
		{Method: http.MethodGet, Pattern: ClusterAPI + "/print_jobs", Handler: cluster.PrintJobs},
		{Method: http.MethodGet, Pattern: ClusterAPI + "/materials", Handler: cluster.Materials},
		{Method: http.MethodGet, Pattern: ClusterAPI + "/print_jobs/{uuid}/preview_image", Handler: cluster.PreviewImage},

		{Method: http.MethodPost, Pattern: ClusterAPI + "/print_jobs/", Handler: uploads.PrintJobs},
		{Method: http.MethodPost, Pattern: ClusterAPI + "/print_jobs", Handler: uploads.PrintJobs},
		{Method: http.MethodPost, Pattern: ClusterAPI + "/materials/", Handler: uploads.Materials},
		{Method: http.MethodPost, Pattern: ClusterAPI + "/materials", Handler: uploads.Materials},

		{Method: http.MethodPost, Pattern: ClusterAPI + "/print_jobs/{uuid}/action/move", Handler: cluster.Move},
		{Method: http.MethodPut, Pattern: ClusterAPI + "/print_jobs/{uuid}/action", Handler: cluster.Action},
		{Method: http.MethodPut, Pattern: ClusterAPI + "/print_jobs/{uuid}", Handler: cluster.Force},
		{Method: http.MethodDelete, Pattern: ClusterAPI + "/print_jobs/{uuid}", Handler: cluster.Delete},

		{Method: http.MethodGet, Pattern: PrinterAPI + "/system", Handler: system.System},

		{Method: http.MethodGet, Pattern: "/health/live", Handler: health.HealthLive, Probe: true},
		{Method: http.MethodGet, Pattern: "/health/ready", Handler: health.HealthReady, Probe: true},
	}
}

// writeJSON записывает v с заданным статусом.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON читает тело запроса в dst. Неизвестные поля допускаются,
// данные после объекта считаются ошибкой.
func decodeJSON(r *http.Request, dst any) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody+1))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения тела: %w", err)
	}
	if len(raw) > maxJSONBody {
		return nil, errors.New("тело запроса слишком большое")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(dst); err != nil {
		return raw, fmt.Errorf("некорректный JSON: %w", err)
	}
	if dec.More() {
		return raw, errors.New("лишние данные после JSON-объекта")
	}
	return raw, nil
}

// badPayload логирует отклонённое тело и отвечает 400. Само тело
// в ответ не попадает.
func badPayload(w http.ResponseWriter, r *http.Request, logger *slog.Logger, raw []byte, err error) {
	logger.Warn("Отклонено тело запроса",
		slog.String("path", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("payload", string(raw)),
		slog.String("error", err.Error()),
	)
	apierrors.ValidationError(w, err.Error())
}

// fail логирует ошибку сервиса вместе с адресом клиента и пишет ответ.
func fail(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	level := slog.LevelWarn
	if service.KindOf(err) == service.KindInternal {
		level = slog.LevelError
	}
	logger.LogAttrs(r.Context(), level, "Ошибка обработки запроса",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("error", err.Error()),
	)
	apierrors.FromService(w, err)
}
