// logging.go: журнал обращений к API.
package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// accessLevel выбирает уровень записи журнала. Слайсер опрашивает
// очередь GET-запросами каждые пару секунд, их успешные ответы
// уходят на DEBUG.
func accessLevel(method string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	case method == http.MethodGet:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// RequestLogger пишет по одной записи на запрос с адресом клиента.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := serveRecorded(next, w, r)

			logger.LogAttrs(r.Context(), accessLevel(r.Method, rec.status), "HTTP запрос",
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Int64("bytes", rec.bytes),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
