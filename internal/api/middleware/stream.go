package middleware

import (
	"net"
	"net/http"
	"net/url"
	"strconv"
)

// StreamRedirect перенаправляет GET-запросы с ?action=stream или
// ?action=snapshot на MJPEG-стример того же хоста.
// Путь запроса не учитывается.
func StreamRedirect(mjpegPort int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			action := r.URL.Query().Get("action")
			if r.Method != http.MethodGet || (action != "stream" && action != "snapshot") {
				next.ServeHTTP(w, r)
				return
			}

			host := r.Host
			if h, _, err := net.SplitHostPort(r.Host); err == nil {
				host = h
			}
			target := url.URL{
				Scheme:   "http",
				Host:     net.JoinHostPort(host, strconv.Itoa(mjpegPort)),
				Path:     "/",
				RawQuery: "action=" + action,
			}
			http.Redirect(w, r, target.String(), http.StatusFound)
		})
	}
}
