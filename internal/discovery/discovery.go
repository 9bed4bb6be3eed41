// Пакет discovery публикует принтер в локальной сети через mDNS/DNS-SD,
// чтобы слайсер нашёл HTTP-интерфейс без ручной настройки.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

// Значения по умолчанию.
const (
	DefaultService = "_ultimaker._tcp"
	DefaultDomain  = "local."
)

var (
	// ErrNoAddress: подходящий IPv4-адрес пока не найден.
	ErrNoAddress = errors.New("нет IPv4-адреса кроме loopback")
	// ErrStopped: Start вызван после Stop.
	ErrStopped = errors.New("анонс уже остановлен")
)

// Announcer публикует сервис до вызова Stop.
type Announcer interface {
	Start(ctx context.Context) error
	Stop()
}

// Properties: свойства, которые клиент читает из TXT-записи.
type Properties struct {
	Type            string
	Name            string
	Machine         string
	FirmwareVersion string
	// Host: имя хоста в A-записи, без домена
	Host string
	// Address: IPv4-адрес; пустой означает автоопределение
	Address string
	Port    int
}

// TXT возвращает TXT-запись сервиса.
func (p Properties) TXT() []string {
	typ := p.Type
	if typ == "" {
		typ = "printer"
	}
	return []string{
		"type=" + typ,
		"name=" + p.Name,
		"machine=" + p.Machine,
		"firmware_version=" + p.FirmwareVersion,
	}
}

// WaitForAddress вызывает lookup с интервалом interval, пока не получит
// адрес или не закончится ctx.
func WaitForAddress(ctx context.Context, lookup func() (string, error), interval time.Duration) (string, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		addr, err := lookup()
		if err == nil {
			if ip := net.ParseIP(addr); ip != nil && !ip.IsLoopback() && ip.To4() != nil {
				return addr, nil
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// InterfaceAddress возвращает функцию поиска первого IPv4-адреса,
// не являющегося loopback. Пустое name означает любой интерфейс.
func InterfaceAddress(name string) func() (string, error) {
	return func() (string, error) {
		ifaces, err := selectInterfaces(name)
		if err != nil {
			return "", err
		}
		for _, iface := range ifaces {
			if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
				continue
			}
			addrs, err := iface.Addrs()
			if err != nil {
				continue
			}
			for _, a := range addrs {
				ipnet, ok := a.(*net.IPNet)
				if !ok || ipnet.IP.IsLoopback() {
					continue
				}
				if ip4 := ipnet.IP.To4(); ip4 != nil {
					return ip4.String(), nil
				}
			}
		}
		return "", ErrNoAddress
	}
}

func selectInterfaces(name string) ([]net.Interface, error) {
	if name == "" {
		return net.Interfaces()
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("интерфейс %s: %w", name, err)
	}
	return []net.Interface{*iface}, nil
}

// MDNSConfig: параметры MDNSAnnouncer.
type MDNSConfig struct {
	Properties Properties
	Service    string
	Domain     string
	// Interface: сетевой интерфейс (пустой означает все)
	Interface string
	// RetryInterval: интервал ожидания сетевого адреса
	RetryInterval time.Duration
}

// MDNSAnnouncer публикует сервис через zeroconf.
type MDNSAnnouncer struct {
	cfg    MDNSConfig
	lookup func() (string, error)
	logger *slog.Logger

	mu      sync.Mutex
	server  *zeroconf.Server
	stopped bool
}

// NewMDNSAnnouncer создаёт анонсер.
func NewMDNSAnnouncer(cfg MDNSConfig, logger *slog.Logger) *MDNSAnnouncer {
	if cfg.Service == "" {
		cfg.Service = DefaultService
	}
	if cfg.Domain == "" {
		cfg.Domain = DefaultDomain
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 2 * time.Second
	}
	return &MDNSAnnouncer{
		cfg:    cfg,
		lookup: InterfaceAddress(cfg.Interface),
		logger: logger.With(slog.String("component", "discovery")),
	}
}

// SetAddress задаёт адрес анонса, Start тогда не ждёт интерфейс.
// Вызывается до Start.
func (a *MDNSAnnouncer) SetAddress(addr string) {
	a.cfg.Properties.Address = addr
}

// Start дожидается сетевого адреса и регистрирует сервис.
// Блокируется до появления адреса. После Stop возвращает ErrStopped
// и ничего не публикует.
func (a *MDNSAnnouncer) Start(ctx context.Context) error {
	if a.isStopped() {
		return ErrStopped
	}
	props := a.cfg.Properties

	if props.Address == "" {
		a.logger.Info("Ожидание сетевого адреса", slog.String("interface", a.cfg.Interface))
		addr, err := WaitForAddress(ctx, a.lookup, a.cfg.RetryInterval)
		if err != nil {
			return fmt.Errorf("адрес для анонса не получен: %w", err)
		}
		props.Address = addr
	}

	var ifaces []net.Interface
	if a.cfg.Interface != "" {
		selected, err := selectInterfaces(a.cfg.Interface)
		if err != nil {
			return err
		}
		ifaces = selected
	}

	server, err := zeroconf.RegisterProxy(
		props.Name, a.cfg.Service, a.cfg.Domain, props.Port,
		props.Host, []string{props.Address}, props.TXT(), ifaces,
	)
	if err != nil {
		return fmt.Errorf("ошибка регистрации mDNS: %w", err)
	}
	a.mu.Lock()
	if a.stopped {
		// Stop успел выполниться, пока шла регистрация
		a.mu.Unlock()
		server.Shutdown()
		return ErrStopped
	}
	a.server = server
	a.mu.Unlock()

	a.logger.Info("Сервис опубликован",
		slog.String("service", a.cfg.Service),
		slog.String("name", props.Name),
		slog.String("address", props.Address),
		slog.Int("port", props.Port),
	)
	return nil
}

// Stop снимает публикацию и запрещает последующие Start.
func (a *MDNSAnnouncer) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
	a.logger.Info("Публикация mDNS снята")
}

func (a *MDNSAnnouncer) isStopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}

// Noop ничего не публикует.
type Noop struct{}

func (Noop) Start(context.Context) error { return nil }

func (Noop) Stop() {}
