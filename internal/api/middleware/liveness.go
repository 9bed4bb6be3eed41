// liveness.go: признак подключённого клиента.
// Слайсер опрашивает очередь каждые пару секунд, поэтому свежий
// успешный запрос означает, что клиент на связи.
package middleware

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultLivenessThreshold: допустимый интервал между запросами клиента.
const DefaultLivenessThreshold = 5 * time.Second

var clientConnected = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "cc_client_connected",
	Help: "1, если клиент обращался к API в пределах порога",
})

// Liveness хранит момент последнего успешно обработанного запроса.
type Liveness struct {
	last      atomic.Int64
	threshold time.Duration
	now       func() time.Time
}

// NewLiveness создаёт флаг с порогом threshold
// (DefaultLivenessThreshold при threshold <= 0).
func NewLiveness(threshold time.Duration) *Liveness {
	if threshold <= 0 {
		threshold = DefaultLivenessThreshold
	}
	return &Liveness{threshold: threshold, now: time.Now}
}

// Touch отмечает успешный запрос.
func (l *Liveness) Touch() {
	l.last.Store(l.now().UnixNano())
	clientConnected.Set(1)
}

// Connected сообщает, был ли успешный запрос не позже threshold назад.
func (l *Liveness) Connected() bool {
	last := l.last.Load()
	if last == 0 {
		return false
	}
	ok := l.now().Sub(time.Unix(0, last)) < l.threshold
	if ok {
		clientConnected.Set(1)
	} else {
		clientConnected.Set(0)
	}
	return ok
}

// Middleware отмечает запросы, завершившиеся статусом ниже 400.
func (l *Liveness) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rec := serveRecorded(next, w, r); rec.status < http.StatusBadRequest {
			l.Touch()
		}
	})
}
