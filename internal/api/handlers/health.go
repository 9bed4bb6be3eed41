// health.go: обработчики health endpoints.
package handlers

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/goartstore/cura-connect/internal/config"
)

// statusFail: статус "fail" в health checks.
const statusFail = "fail"

// engineCheckTimeout: сколько ждать ответа движка в /health/ready.
const engineCheckTimeout = 2 * time.Second

// ClientMonitor сообщает, опрашивает ли клиент API.
type ClientMonitor interface {
	Connected() bool
}

// DependencyHealth: состояние внешних зависимостей (MJPEG-стример).
type DependencyHealth interface {
	Health() map[string]bool
}

// HealthParams: параметры HealthHandler. Nil-поля пропускаются.
type HealthParams struct {
	// DataDirs: каталоги загрузок для проверки записи
	DataDirs []string
	// Ping проверяет, что движок отвечает на команды
	Ping   func(ctx context.Context) error
	Client ClientMonitor
	Deps   DependencyHealth
}

// HealthHandler реализует /health/live и /health/ready.
type HealthHandler struct {
	version string
	params  HealthParams
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(params HealthParams) *HealthHandler {
	return &HealthHandler{
		version: config.Version,
		params:  params,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, пока процесс жив, и признак подключённого клиента.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "cura-connect",
	}
	if h.params.Client != nil {
		resp["client_connected"] = h.params.Client.Connected()
	}
	writeJSON(w, http.StatusOK, resp)
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: каталоги загрузок, движок, MJPEG-стример (некритично).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK
	checks := map[string]any{}

	for _, dir := range h.params.DataDirs {
		check := checkWritable(dir)
		checks["filesystem:"+filepath.Base(dir)] = check
		if check["status"] != "ok" {
			overallStatus = statusFail
			httpStatus = http.StatusServiceUnavailable
		}
	}

	if h.params.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), engineCheckTimeout)
		err := h.params.Ping(ctx)
		cancel()
		if err != nil {
			checks["engine"] = map[string]any{"status": statusFail, "message": err.Error()}
			overallStatus = statusFail
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["engine"] = map[string]any{"status": "ok"}
		}
	}

	if h.params.Deps != nil {
		for name, healthy := range h.params.Deps.Health() {
			if healthy {
				checks[name] = map[string]any{"status": "ok"}
				continue
			}
			checks[name] = map[string]any{"status": statusFail}
			if overallStatus != statusFail {
				overallStatus = "degraded"
			}
		}
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "cura-connect",
		"checks":    checks,
	})
}

// checkWritable проверяет доступность каталога на запись.
func checkWritable(dir string) map[string]any {
	testFile := filepath.Join(dir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": "Каталог недоступен для записи: " + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{"status": "ok"}
}
