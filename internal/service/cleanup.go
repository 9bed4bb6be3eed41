// cleanup.go: фоновая очистка каталогов загрузок.
//
// Удаляет:
//  1. незавершённые *.part файлы старше maxAge (оборванные загрузки)
//  2. sidecar *.meta.json, файл данных которых уже удалён
//
// Запускается как горутина с периодическим тикером (CC_CLEANUP_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/cura-connect/internal/storage/filestore"
	"github.com/bigkaa/goartstore/cura-connect/internal/storage/sidecar"
)

var (
	cleanupRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cc_cleanup_runs_total",
		Help: "Общее количество запусков очистки",
	})

	cleanupRemovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cc_cleanup_removed_total",
		Help: "Количество файлов, удалённых очисткой",
	}, []string{"type"})

	cleanupDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cc_cleanup_duration_seconds",
		Help:    "Длительность очистки в секундах",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)

// CleanupResult: результат одного запуска очистки.
type CleanupResult struct {
	// Parts: удалённые незавершённые загрузки
	Parts int
	// Sidecars: удалённые осиротевшие sidecar
	Sidecars int
	Errors   int
	Duration time.Duration
}

// CleanupService: фоновая очистка каталогов загрузок.
type CleanupService struct {
	stores   []*filestore.FileStore
	interval time.Duration
	maxAge   time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCleanupService создаёт сервис очистки для каталогов stores.
func NewCleanupService(
	stores []*filestore.FileStore,
	interval time.Duration,
	maxAge time.Duration,
	logger *slog.Logger,
) *CleanupService {
	return &CleanupService{
		stores:   stores,
		interval: interval,
		maxAge:   maxAge,
		logger:   logger.With(slog.String("component", "cleanup")),
		now:      time.Now,
	}
}

// Start запускает фоновую горутину очистки.
func (cs *CleanupService) Start(ctx context.Context) {
	csCtx, cancel := context.WithCancel(ctx)
	cs.cancel = cancel
	cs.done = make(chan struct{})

	go cs.run(csCtx)

	cs.logger.Info("Очистка запущена",
		slog.String("interval", cs.interval.String()),
		slog.String("part_max_age", cs.maxAge.String()),
	)
}

// Stop останавливает фоновую очистку.
func (cs *CleanupService) Stop() {
	if cs.cancel != nil {
		cs.cancel()
		<-cs.done
	}
	cs.logger.Info("Очистка остановлена")
}

func (cs *CleanupService) run(ctx context.Context) {
	defer close(cs.done)

	// Первый запуск сразу после старта: хвосты предыдущего процесса
	cs.RunOnce()

	ticker := time.NewTicker(cs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cs.RunOnce()
		}
	}
}

// RunOnce выполняет один проход очистки.
func (cs *CleanupService) RunOnce() *CleanupResult {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	start := time.Now()
	result := &CleanupResult{}
	before := cs.now().Add(-cs.maxAge)

	for _, store := range cs.stores {
		parts, err := store.StaleParts(before)
		if err != nil {
			cs.logger.Error("Ошибка поиска незавершённых загрузок",
				slog.String("dir", store.Dir()),
				slog.String("error", err.Error()),
			)
			result.Errors++
		}
		for _, name := range parts {
			if err := store.Delete(name); err != nil {
				cs.logger.Warn("Не удалось удалить незавершённую загрузку",
					slog.String("file", name),
					slog.String("error", err.Error()),
				)
				result.Errors++
				continue
			}
			result.Parts++
			cleanupRemovedTotal.WithLabelValues("part").Inc()
		}

		orphans, err := sidecar.Orphans(store.Dir())
		if err != nil {
			cs.logger.Error("Ошибка поиска осиротевших sidecar",
				slog.String("dir", store.Dir()),
				slog.String("error", err.Error()),
			)
			result.Errors++
		}
		for _, o := range orphans {
			if err := sidecar.Delete(o); err != nil {
				cs.logger.Warn("Не удалось удалить sidecar",
					slog.String("file", filepath.Base(o)),
					slog.String("error", err.Error()),
				)
				result.Errors++
				continue
			}
			result.Sidecars++
			cleanupRemovedTotal.WithLabelValues("sidecar").Inc()
		}
	}

	result.Duration = time.Since(start)
	cleanupRunsTotal.Inc()
	cleanupDurationSeconds.Observe(result.Duration.Seconds())

	if result.Parts > 0 || result.Sidecars > 0 || result.Errors > 0 {
		cs.logger.Info("Очистка завершена",
			slog.Int("parts", result.Parts),
			slog.Int("sidecars", result.Sidecars),
			slog.Int("errors", result.Errors),
			slog.String("duration", result.Duration.String()),
		)
	}
	return result
}
