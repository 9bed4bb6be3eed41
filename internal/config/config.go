// Пакет config: загрузка и валидация конфигурации эмулятора
// из переменных окружения CC_*.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации.
type Config struct {
	// Порт HTTP-сервера. Слайсер обращается на 80
	Port int
	// Каталог данных: gcodes/ и materials/ внутри
	DataDir string
	// Перезаписывать файлы с совпадающими именами вместо -N суффикса
	OverwriteUploads bool

	// Идентичность принтера
	PrinterName       string
	PrinterUniqueName string
	PrinterUUID       string
	FirmwareVersion   string
	MachineVariant    string
	MachineBOM        string

	// Порт MJPEG-стримера для ?action=stream|snapshot
	MJPEGPort int
	// URL стримера для проверки доступности (опционально)
	MJPEGURL string

	// Порог признака подключённого клиента
	LivenessThreshold time.Duration

	// Движок
	EngineTick      time.Duration
	EngineProfile   string
	EngineAutostart bool
	Extruders       int

	// Discovery
	DiscoveryEnabled       bool
	DiscoveryService       string
	DiscoveryInterface     string
	DiscoveryRetryInterval time.Duration

	// Кэш миниатюр
	PreviewCacheSize int
	PreviewCacheTTL  time.Duration

	// Очистка .part и осиротевших sidecar
	CleanupInterval time.Duration
	PartMaxAge      time.Duration

	// Мониторинг зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	DephealthGroup         string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// LoadDotEnv загружает переменные из файла path, не перекрывая уже
// заданные. Пустой path означает ".env" в текущем каталоге; его
// отсутствие не ошибка.
func LoadDotEnv(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("ошибка загрузки %s: %w", path, err)
	}
	return nil
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// CC_PORT: порт HTTP-сервера (по умолчанию 80)
	cfg.Port, err = getEnvInt("CC_PORT", 80)
	if err != nil {
		return nil, fmt.Errorf("CC_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("CC_PORT: значение %d вне диапазона 1-65535", cfg.Port)
	}

	// CC_DATA_DIR: обязательный
	cfg.DataDir, err = getEnvRequired("CC_DATA_DIR")
	if err != nil {
		return nil, err
	}

	cfg.OverwriteUploads, err = getEnvBool("CC_OVERWRITE_UPLOADS", false)
	if err != nil {
		return nil, fmt.Errorf("CC_OVERWRITE_UPLOADS: %w", err)
	}

	cfg.PrinterName = getEnvDefault("CC_PRINTER_NAME", "Super sayan printer")
	// Уникальное имя по умолчанию выводится из отображаемого
	cfg.PrinterUniqueName = getEnvDefault("CC_PRINTER_UNIQUE_NAME", uniqueName(cfg.PrinterName))

	// CC_PRINTER_UUID: генерируется при старте, если не задан
	cfg.PrinterUUID = getEnvDefault("CC_PRINTER_UUID", "")
	if cfg.PrinterUUID == "" {
		cfg.PrinterUUID = uuid.NewString()
	} else {
		parsed, perr := uuid.Parse(cfg.PrinterUUID)
		if perr != nil {
			return nil, fmt.Errorf("CC_PRINTER_UUID: некорректный UUID %q", cfg.PrinterUUID)
		}
		cfg.PrinterUUID = parsed.String()
	}

	cfg.FirmwareVersion = getEnvDefault("CC_FIRMWARE_VERSION", "5.2.11")
	cfg.MachineVariant = getEnvDefault("CC_MACHINE_VARIANT", "Ultimaker 3")
	cfg.MachineBOM = getEnvDefault("CC_MACHINE_BOM", "213482")

	cfg.MJPEGPort, err = getEnvInt("CC_MJPEG_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("CC_MJPEG_PORT: %w", err)
	}
	if cfg.MJPEGPort < 1 || cfg.MJPEGPort > 65535 {
		return nil, fmt.Errorf("CC_MJPEG_PORT: значение %d вне диапазона 1-65535", cfg.MJPEGPort)
	}
	cfg.MJPEGURL = getEnvDefault("CC_MJPEG_URL", "")

	cfg.LivenessThreshold, err = getEnvPositiveDuration("CC_LIVENESS_THRESHOLD", 5*time.Second)
	if err != nil {
		return nil, err
	}

	// CC_ENGINE_TICK: шаг симуляции движка (по умолчанию 1s)
	cfg.EngineTick, err = getEnvPositiveDuration("CC_ENGINE_TICK", time.Second)
	if err != nil {
		return nil, err
	}
	cfg.EngineProfile = getEnvDefault("CC_ENGINE_PROFILE", "")
	cfg.EngineAutostart, err = getEnvBool("CC_ENGINE_AUTOSTART", false)
	if err != nil {
		return nil, fmt.Errorf("CC_ENGINE_AUTOSTART: %w", err)
	}
	cfg.Extruders, err = getEnvInt("CC_EXTRUDERS", 2)
	if err != nil {
		return nil, fmt.Errorf("CC_EXTRUDERS: %w", err)
	}
	if cfg.Extruders < 1 || cfg.Extruders > 8 {
		return nil, fmt.Errorf("CC_EXTRUDERS: значение %d вне диапазона 1-8", cfg.Extruders)
	}

	cfg.DiscoveryEnabled, err = getEnvBool("CC_DISCOVERY_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("CC_DISCOVERY_ENABLED: %w", err)
	}
	cfg.DiscoveryService = getEnvDefault("CC_DISCOVERY_SERVICE", "_ultimaker._tcp")
	if !strings.HasPrefix(cfg.DiscoveryService, "_") || !strings.Contains(cfg.DiscoveryService, "._") {
		return nil, fmt.Errorf("CC_DISCOVERY_SERVICE: недопустимый тип сервиса %q, ожидается _имя._tcp", cfg.DiscoveryService)
	}
	cfg.DiscoveryInterface = getEnvDefault("CC_DISCOVERY_INTERFACE", "")
	cfg.DiscoveryRetryInterval, err = getEnvPositiveDuration("CC_DISCOVERY_RETRY_INTERVAL", 2*time.Second)
	if err != nil {
		return nil, err
	}

	cfg.PreviewCacheSize, err = getEnvInt("CC_PREVIEW_CACHE_SIZE", 64)
	if err != nil {
		return nil, fmt.Errorf("CC_PREVIEW_CACHE_SIZE: %w", err)
	}
	if cfg.PreviewCacheSize <= 0 {
		return nil, errors.New("CC_PREVIEW_CACHE_SIZE: значение должно быть положительным")
	}
	cfg.PreviewCacheTTL, err = getEnvPositiveDuration("CC_PREVIEW_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, err
	}

	cfg.CleanupInterval, err = getEnvPositiveDuration("CC_CLEANUP_INTERVAL", time.Hour)
	if err != nil {
		return nil, err
	}
	cfg.PartMaxAge, err = getEnvPositiveDuration("CC_PART_MAX_AGE", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	cfg.DephealthCheckInterval, err = getEnvPositiveDuration("CC_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.DephealthGroup = getEnvDefault("CC_DEPHEALTH_GROUP", "cura-connect")

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("CC_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("CC_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("CC_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("CC_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.ShutdownTimeout, err = getEnvPositiveDuration("CC_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// uniqueName приводит отображаемое имя к виду super_sayan_printer.
func uniqueName(name string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// getEnvPositiveDuration как getEnvDuration, но требует значение > 0.
// Ошибка уже содержит имя переменной.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: значение должно быть положительным", key)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
