package preview

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cc_preview_cache_hits_total",
		Help: "Количество попаданий в кэш миниатюр",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cc_preview_cache_misses_total",
		Help: "Количество промахов кэша миниатюр",
	})
)

// entry: результат извлечения. png == nil означает, что миниатюры нет.
type entry struct {
	png []byte
}

// Cache: LRU-кэш миниатюр с TTL. Ключ: путь и mtime файла, поэтому
// перезаписанный файл получает новую запись.
type Cache struct {
	lru     *expirable.LRU[string, entry]
	extract func(path string) ([]byte, error)
}

// NewCache создаёт кэш на size записей с временем жизни ttl.
func NewCache(size int, ttl time.Duration) *Cache {
	return &Cache{
		lru:     expirable.NewLRU[string, entry](size, nil, ttl),
		extract: extractFile,
	}
}

// Get возвращает PNG миниатюры файла path.
// Отсутствие миниатюры тоже кэшируется и возвращается как ErrNoThumbnail.
func (c *Cache) Get(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла задания: %w", err)
	}
	key := path + "@" + strconv.FormatInt(info.ModTime().UnixNano(), 10)

	if e, ok := c.lru.Get(key); ok {
		cacheHitsTotal.Inc()
		return found(e)
	}
	cacheMissesTotal.Inc()

	img, err := c.extract(path)
	switch {
	case err == nil:
		c.lru.Add(key, entry{png: img})
	case errors.Is(err, ErrNoThumbnail):
		c.lru.Add(key, entry{})
	default:
		return nil, err
	}
	return found(entry{png: img})
}

// Len возвращает число записей в кэше.
func (c *Cache) Len() int {
	return c.lru.Len()
}

func found(e entry) ([]byte, error) {
	if e.png == nil {
		return nil, ErrNoThumbnail
	}
	return e.png, nil
}

func extractFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия файла задания: %w", err)
	}
	defer f.Close()
	return Extract(f)
}
