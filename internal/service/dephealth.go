// dephealth.go: мониторинг зависимостей через topologymetrics SDK.
//
// Эмулятор зависит от внешнего MJPEG-стримера (камера), на который
// перенаправляются запросы ?action=stream|snapshot. Если задан
// CC_MJPEG_URL, его доступность проверяется HTTP checker-ом SDK.
//
// Метрики публикуются на /metrics вместе с остальными:
//   - app_dependency_health
//   - app_dependency_latency_seconds
//   - app_dependency_status
//   - app_dependency_status_detail
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks" // регистрация HTTP checker-а
	"github.com/prometheus/client_golang/prometheus"
)

// MJPEGDependency: имя зависимости в метриках.
const MJPEGDependency = "mjpeg-streamer"

// DephealthParams: параметры мониторинга.
type DephealthParams struct {
	// Name: имя вершины графа (уникальное имя принтера)
	Name string
	// Group: группа в метриках (CC_DEPHEALTH_GROUP)
	Group string
	// URL: адрес MJPEG-стримера (CC_MJPEG_URL)
	URL           string
	CheckInterval time.Duration
	// Registerer: nil означает глобальный registry
	Registerer prometheus.Registerer
}

// DephealthService: мониторинг MJPEG-стримера.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга.
func NewDephealthService(params DephealthParams, logger *slog.Logger) (*DephealthService, error) {
	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
		dephealth.HTTP(MJPEGDependency,
			dephealth.FromURL(params.URL),
			dephealth.CheckInterval(params.CheckInterval),
			// Без камеры принтер работает, зависимость некритична
			dephealth.Critical(false),
		),
	}
	if params.Registerer != nil {
		opts = append(opts, dephealth.WithRegisterer(params.Registerer))
	}

	dh, err := dephealth.New(params.Name, params.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает проверку.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает состояние зависимостей.
// Ключ: "имя:хост:порт", значение: true если доступна.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
