// Пакет server: HTTP-сервер эмулятора с явной таблицей маршрутов
// и graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apierrors "github.com/bigkaa/goartstore/cura-connect/internal/api/errors"
	"github.com/bigkaa/goartstore/cura-connect/internal/api/middleware"
	"github.com/bigkaa/goartstore/cura-connect/internal/config"
)

// Route: строка таблицы маршрутов.
type Route struct {
	Method  string
	Pattern string
	Handler http.HandlerFunc
	// Probe: служебный маршрут (health), не отмечает активность клиента
	Probe bool
}

// RouterParams: параметры роутера.
type RouterParams struct {
	Routes   []Route
	Liveness *middleware.Liveness
	// MJPEGPort: порт стримера для ?action=stream|snapshot
	MJPEGPort int
	Logger    *slog.Logger
}

// NewRouter собирает chi-роутер из таблицы маршрутов.
// Неизвестный путь и неподдерживаемый метод дают 404 с JSON-ошибкой.
func NewRouter(p RouterParams) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestLogger(p.Logger))
	router.Use(middleware.Metrics())
	router.Use(middleware.StreamRedirect(p.MJPEGPort))

	notFound := func(w http.ResponseWriter, r *http.Request) {
		apierrors.NotFound(w, fmt.Sprintf("маршрут не найден: %s %s", r.Method, r.URL.Path))
	}
	router.NotFound(notFound)
	router.MethodNotAllowed(notFound)

	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	router.Group(func(r chi.Router) {
		for _, rt := range p.Routes {
			if rt.Probe {
				r.Method(rt.Method, rt.Pattern, rt.Handler)
			}
		}
	})
	router.Group(func(r chi.Router) {
		if p.Liveness != nil {
			r.Use(p.Liveness.Middleware)
		}
		for _, rt := range p.Routes {
			if !rt.Probe {
				r.Method(rt.Method, rt.Pattern, rt.Handler)
			}
		}
	})

	return router
}

// Server: HTTP-сервер эмулятора.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с готовым обработчиком.
func New(cfg *config.Config, logger *slog.Logger, handler http.Handler) *Server {
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     handler,
		ReadTimeout: 5 * time.Minute,
		// Загрузка G-code может идти долго, таймаут только на заголовки
		ReadHeaderTimeout: 30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM)
// или отмены ctx. Затем выполняется graceful shutdown с таймаутом
// CC_SHUTDOWN_TIMEOUT.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен", slog.String("addr", s.httpServer.Addr))

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Контекст отменён, остановка сервера")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
