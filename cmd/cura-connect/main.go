// Точка входа cura-connect: эмулятор сетевого принтера для слайсера.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/bigkaa/goartstore/cura-connect/internal/api/handlers"
	"github.com/bigkaa/goartstore/cura-connect/internal/api/middleware"
	"github.com/bigkaa/goartstore/cura-connect/internal/config"
	"github.com/bigkaa/goartstore/cura-connect/internal/discovery"
	"github.com/bigkaa/goartstore/cura-connect/internal/domain/model"
	"github.com/bigkaa/goartstore/cura-connect/internal/engine"
	"github.com/bigkaa/goartstore/cura-connect/internal/preview"
	"github.com/bigkaa/goartstore/cura-connect/internal/server"
	"github.com/bigkaa/goartstore/cura-connect/internal/service"
	"github.com/bigkaa/goartstore/cura-connect/internal/storage/filestore"
)

func main() {
	flags := pflag.NewFlagSet("cura-connect", pflag.ContinueOnError)
	envFile := flags.String("env-file", "", "файл с переменными CC_* (по умолчанию .env, если есть)")
	showVersion := flags.BoolP("version", "v", false, "показать версию и выйти")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Ошибка аргументов: %v\n", err)
		os.Exit(2)
	}
	if *showVersion {
		fmt.Println("cura-connect", config.Version)
		return
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	logger := config.SetupLogger(cfg)
	logger.Info("cura-connect запускается",
		slog.String("version", config.Version),
		slog.String("printer", cfg.PrinterName),
		slog.String("uuid", cfg.PrinterUUID),
		slog.Int("port", cfg.Port),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Ошибка запуска", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("cura-connect остановлен")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Каталоги загрузок
	gcodes, err := filestore.New(filepath.Join(cfg.DataDir, "gcodes"), cfg.OverwriteUploads)
	if err != nil {
		return fmt.Errorf("каталог G-code: %w", err)
	}
	// Профиль материала с тем же GUID заменяет предыдущий
	materials, err := filestore.New(filepath.Join(cfg.DataDir, "materials"), true)
	if err != nil {
		return fmt.Errorf("каталог материалов: %w", err)
	}

	// 2. Движок
	state, err := newEngineState(cfg)
	if err != nil {
		return err
	}
	loop := engine.NewLoop(state, cfg.EngineTick, logger)
	loop.Start(ctx)
	defer loop.Stop()

	// 3. Сервисы
	queue := service.NewQueueService(loop, service.PrinterIdentity{
		UUID:            cfg.PrinterUUID,
		FriendlyName:    cfg.PrinterName,
		UniqueName:      cfg.PrinterUniqueName,
		FirmwareVersion: cfg.FirmwareVersion,
		MachineVariant:  cfg.MachineVariant,
	}, logger)
	uploads := service.NewUploadService(gcodes, materials, queue, loop, logger)

	cleanup := service.NewCleanupService(
		[]*filestore.FileStore{gcodes, materials},
		cfg.CleanupInterval, cfg.PartMaxAge, logger,
	)
	cleanup.Start(ctx)
	defer cleanup.Stop()

	// 4. topologymetrics: только если известен адрес стримера
	var deps handlers.DependencyHealth
	if cfg.MJPEGURL != "" {
		dephealthSvc, dhErr := service.NewDephealthService(service.DephealthParams{
			Name:          cfg.PrinterUniqueName,
			Group:         cfg.DephealthGroup,
			URL:           cfg.MJPEGURL,
			CheckInterval: cfg.DephealthCheckInterval,
		}, logger)
		if dhErr != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга стримера",
				slog.String("error", dhErr.Error()),
			)
		} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		} else {
			deps = dephealthSvc
			defer dephealthSvc.Stop()
		}
	}

	// 5. Discovery: адрес нужен и для статуса принтера, и для анонса
	announcer := startDiscovery(ctx, cfg, queue, logger)
	defer func() {
		// Фоновый запуск анонса должен увидеть отмену раньше Stop
		cancel()
		announcer.Stop()
	}()

	// 6. HTTP
	liveness := middleware.NewLiveness(cfg.LivenessThreshold)
	routes := handlers.Routes(
		handlers.NewClusterHandler(queue, preview.NewCache(cfg.PreviewCacheSize, cfg.PreviewCacheTTL), logger),
		handlers.NewUploadHandler(uploads, logger),
		handlers.NewSystemHandler(systemStatus(cfg)),
		handlers.NewHealthHandler(handlers.HealthParams{
			DataDirs: []string{gcodes.Dir(), materials.Dir()},
			Ping: func(ctx context.Context) error {
				return loop.Call(ctx, func(*engine.State) error { return nil })
			},
			Client: liveness,
			Deps:   deps,
		}),
	)
	router := server.NewRouter(server.RouterParams{
		Routes:    routes,
		Liveness:  liveness,
		MJPEGPort: cfg.MJPEGPort,
		Logger:    logger,
	})

	return server.New(cfg, logger, router).Run(ctx)
}

// newEngineState создаёт состояние движка из профиля или по умолчанию.
func newEngineState(cfg *config.Config) (*engine.State, error) {
	if cfg.EngineProfile == "" {
		state := engine.NewState(cfg.Extruders)
		state.SetAutostart(cfg.EngineAutostart)
		return state, nil
	}

	profile, err := engine.LoadProfile(cfg.EngineProfile)
	if err != nil {
		return nil, err
	}
	state, err := engine.NewStateFromProfile(profile, cfg.Extruders)
	if err != nil {
		return nil, fmt.Errorf("профиль %s: %w", cfg.EngineProfile, err)
	}
	// Переменная окружения включает автостарт поверх профиля
	if cfg.EngineAutostart {
		state.SetAutostart(true)
	}
	return state, nil
}

// startDiscovery в фоне дожидается адреса, сообщает его очереди
// и публикует сервис, если discovery включён.
func startDiscovery(ctx context.Context, cfg *config.Config, queue *service.QueueService, logger *slog.Logger) discovery.Announcer {
	var announcer discovery.Announcer = discovery.Noop{}
	props := discovery.Properties{
		Name:            cfg.PrinterName,
		Machine:         cfg.MachineBOM,
		FirmwareVersion: cfg.FirmwareVersion,
		Host:            cfg.PrinterUniqueName,
		Port:            cfg.Port,
	}
	mdns := discovery.NewMDNSAnnouncer(discovery.MDNSConfig{
		Properties:    props,
		Service:       cfg.DiscoveryService,
		Interface:     cfg.DiscoveryInterface,
		RetryInterval: cfg.DiscoveryRetryInterval,
	}, logger)
	if cfg.DiscoveryEnabled {
		announcer = mdns
	} else {
		logger.Info("Discovery отключён")
	}

	go func() {
		addr, err := discovery.WaitForAddress(ctx,
			discovery.InterfaceAddress(cfg.DiscoveryInterface), cfg.DiscoveryRetryInterval)
		if err != nil {
			logger.Warn("Сетевой адрес не получен", slog.String("error", err.Error()))
			return
		}
		queue.SetIPAddress(addr)
		logger.Info("Сетевой адрес получен", slog.String("address", addr))

		if !cfg.DiscoveryEnabled {
			return
		}
		mdns.SetAddress(addr)
		if err := mdns.Start(ctx); err != nil && !errors.Is(err, discovery.ErrStopped) {
			logger.Error("Ошибка публикации сервиса", slog.String("error", err.Error()))
		}
	}()

	return announcer
}

// systemStatus собирает ответ /api/v1/system из конфигурации.
func systemStatus(cfg *config.Config) model.SystemStatus {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = cfg.PrinterUniqueName
	}
	// BOM не обязан быть числом, тогда typeid остаётся 0
	typeID, _ := strconv.Atoi(cfg.MachineBOM)

	return model.SystemStatus{
		GUID:     cfg.PrinterUUID,
		Firmware: cfg.FirmwareVersion,
		Hostname: hostname,
		Name:     cfg.PrinterUniqueName,
		Platform: "Linux",
		Variant:  cfg.MachineVariant,
		Hardware: model.SystemHardware{TypeID: typeID},
	}
}
