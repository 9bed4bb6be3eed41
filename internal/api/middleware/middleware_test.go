package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/cluster-api/v1/print_jobs", "/cluster-api/v1/print_jobs"},
		{"/cluster-api/v1/print_jobs/", "/cluster-api/v1/print_jobs/"},
		{"/cluster-api/v1/print_jobs/8f0d1a3c-1111-4222-8333-944455556666", "/cluster-api/v1/print_jobs/{id}"},
		{"/cluster-api/v1/print_jobs/8f0d1a3c-1111-4222-8333-944455556666/action/move", "/cluster-api/v1/print_jobs/{id}/action/move"},
		{"/cluster-api/v1/print_jobs/not-a-uuid/action", "/cluster-api/v1/print_jobs/not-a-uuid/action"},
		{"/health/live", "/health/live"},
	}

	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, ожидалось %q", tt.path, got, tt.want)
		}
	}
}

func TestRequestLogger_Level(t *testing.T) {
	tests := []struct {
		name   string
		method string
		status int
		want   string
	}{
		{"успешный GET", http.MethodGet, http.StatusOK, "level=DEBUG"},
		{"успешный POST", http.MethodPost, http.StatusOK, "level=INFO"},
		{"404", http.MethodGet, http.StatusNotFound, "level=WARN"},
		{"500", http.MethodPut, http.StatusInternalServerError, "level=ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			req := httptest.NewRequest(tt.method, "/cluster-api/v1/printers", nil)
			req.RemoteAddr = "192.168.1.20:51000"
			h.ServeHTTP(httptest.NewRecorder(), req)

			out := buf.String()
			if !strings.Contains(out, tt.want) {
				t.Errorf("ожидался %s в %q", tt.want, out)
			}
			if !strings.Contains(out, "remote_addr=192.168.1.20:51000") {
				t.Errorf("нет remote_addr в %q", out)
			}
		})
	}
}

func TestServeRecorded(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
		wantBytes  int64
	}{
		{
			name:       "Write без WriteHeader",
			handler:    func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("hello")) },
			wantStatus: http.StatusOK,
			wantBytes:  5,
		},
		{
			name: "повторный WriteHeader",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusAccepted)
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "пустой ответ",
			handler:    func(http.ResponseWriter, *http.Request) {},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serveRecorded(tt.handler, httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
			if rec.status != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.status, tt.wantStatus)
			}
			if rec.bytes != tt.wantBytes {
				t.Errorf("bytes = %d, want %d", rec.bytes, tt.wantBytes)
			}
		})
	}
}

func TestLiveness(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewLiveness(5 * time.Second)
	l.now = func() time.Time { return now }

	if l.Connected() {
		t.Fatal("до первого запроса клиент не подключён")
	}

	status := http.StatusOK
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
	serve := func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}

	serve()
	if !l.Connected() {
		t.Error("после успешного запроса клиент подключён")
	}

	now = now.Add(4 * time.Second)
	if !l.Connected() {
		t.Error("4s меньше порога")
	}

	now = now.Add(2 * time.Second)
	if l.Connected() {
		t.Error("6s больше порога")
	}

	status = http.StatusNotFound
	serve()
	if l.Connected() {
		t.Error("неуспешный запрос не обновляет флаг")
	}
}

func TestStreamRedirect(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := StreamRedirect(8080)(next)

	tests := []struct {
		name     string
		method   string
		target   string
		host     string
		status   int
		location string
	}{
		{"stream", http.MethodGet, "/?action=stream", "192.168.1.50", http.StatusFound, "http://192.168.1.50:8080/?action=stream"},
		{"snapshot с портом", http.MethodGet, "/webcam/?action=snapshot", "printer.local:80", http.StatusFound, "http://printer.local:8080/?action=snapshot"},
		{"другое действие", http.MethodGet, "/?action=other", "192.168.1.50", http.StatusTeapot, ""},
		{"не GET", http.MethodPost, "/?action=stream", "192.168.1.50", http.StatusTeapot, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			req.Host = tt.host
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("статус %d, ожидался %d", rec.Code, tt.status)
			}
			if got := rec.Header().Get("Location"); got != tt.location {
				t.Errorf("Location = %q, ожидалось %q", got, tt.location)
			}
		})
	}
}
