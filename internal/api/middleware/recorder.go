package middleware

import "net/http"

// statusRecorder запоминает код ответа и число записанных байт тела.
// Код фиксируется один раз: повторный WriteHeader net/http всё равно
// игнорирует, а Write без WriteHeader означает 200.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

// serveRecorded пропускает запрос через next и возвращает то, что
// обработчик ответил.
func serveRecorded(next http.Handler, w http.ResponseWriter, r *http.Request) *statusRecorder {
	rec := &statusRecorder{ResponseWriter: w}
	next.ServeHTTP(rec, r)
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	return rec
}

func (rec *statusRecorder) WriteHeader(code int) {
	if rec.status == 0 {
		rec.status = code
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += int64(n)
	return n, err
}

// Unwrap нужен http.ResponseController (Flush, дедлайны).
func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}
