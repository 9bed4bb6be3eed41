package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/cura-connect/internal/api/middleware"
	"github.com/bigkaa/goartstore/cura-connect/internal/domain/model"
	"github.com/bigkaa/goartstore/cura-connect/internal/engine"
	"github.com/bigkaa/goartstore/cura-connect/internal/preview"
	"github.com/bigkaa/goartstore/cura-connect/internal/server"
	"github.com/bigkaa/goartstore/cura-connect/internal/service"
	"github.com/bigkaa/goartstore/cura-connect/internal/storage/filestore"
)

const (
	testPrinterUUID = "8f0d1a3c-1111-4222-8333-944455556666"
	testBoundary    = "cura-boundary-0123456789"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testEnv: полный стек эмулятора поверх движка без тикера.
type testEnv struct {
	srv      *httptest.Server
	loop     *engine.Loop
	liveness *middleware.Liveness
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := testLogger()
	dir := t.TempDir()

	loop := engine.NewLoop(engine.NewState(2), 0, logger)
	loop.Start(context.Background())
	t.Cleanup(loop.Stop)

	gcodes, err := filestore.New(filepath.Join(dir, "gcodes"), false)
	if err != nil {
		t.Fatal(err)
	}
	materials, err := filestore.New(filepath.Join(dir, "materials"), true)
	if err != nil {
		t.Fatal(err)
	}

	queue := service.NewQueueService(loop, service.PrinterIdentity{
		UUID:            testPrinterUUID,
		FriendlyName:    "Super sayan printer",
		UniqueName:      "super_sayan_printer",
		FirmwareVersion: "5.2.11",
	}, logger)
	uploads := service.NewUploadService(gcodes, materials, queue, loop, logger)
	liveness := middleware.NewLiveness(time.Minute)

	routes := Routes(
		NewClusterHandler(queue, preview.NewCache(8, time.Minute), logger),
		NewUploadHandler(uploads, logger),
		NewSystemHandler(model.SystemStatus{GUID: testPrinterUUID, Firmware: "5.2.11", Name: "super_sayan_printer"}),
		NewHealthHandler(HealthParams{DataDirs: []string{gcodes.Dir()}, Client: liveness}),
	)
	handler := server.NewRouter(server.RouterParams{
		Routes:    routes,
		Liveness:  liveness,
		MJPEGPort: 8080,
		Logger:    logger,
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, loop: loop, liveness: liveness}
}

func (e *testEnv) do(t *testing.T, method, path, contentType string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) upload(t *testing.T, owner, filename, content string) *http.Response {
	t.Helper()
	var b bytes.Buffer
	if owner != "" {
		b.WriteString("--" + testBoundary + "\r\n")
		b.WriteString(`Content-Disposition: form-data; name="owner"` + "\r\n\r\n" + owner + "\r\n")
	}
	b.WriteString("--" + testBoundary + "\r\n")
	b.WriteString(`Content-Disposition: form-data; name="file"; filename="` + filename + `"` + "\r\n")
	b.WriteString("Content-Type: application/octet-stream\r\n\r\n")
	b.WriteString(content + "\r\n--" + testBoundary + "--\r\n")
	return e.do(t, http.MethodPost, ClusterAPI+"/print_jobs/", "multipart/form-data; boundary="+testBoundary, b.Bytes())
}

func (e *testEnv) jobs(t *testing.T) []model.PrintJob {
	t.Helper()
	resp := e.do(t, http.MethodGet, ClusterAPI+"/print_jobs", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET print_jobs: статус %d", resp.StatusCode)
	}
	var jobs []model.PrintJob
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		t.Fatalf("декодирование print_jobs: %v", err)
	}
	return jobs
}

func wantStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: статус %d, ожидался %d, тело %s",
			resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body)
	}
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("тело ошибки не JSON: %v", err)
	}
	return body.Error.Code
}

// TestEndToEnd: пустая очередь, загрузка, задание в очереди.
func TestEndToEnd(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.do(t, http.MethodGet, ClusterAPI+"/print_jobs", "", nil)
	wantStatus(t, resp, http.StatusOK)
	raw, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(raw)) != "[]" {
		t.Fatalf("пустая очередь должна быть [], получено %s", raw)
	}

	wantStatus(t, env.upload(t, "alice", "model.gcode", ";TIME:120\nG28\nG1 X10\n"), http.StatusOK)

	jobs := env.jobs(t)
	if len(jobs) != 1 {
		t.Fatalf("ожидалось 1 задание, получено %d", len(jobs))
	}
	job := jobs[0]
	if job.Name != "model.gcode" || job.Status != model.JobQueued || job.Started {
		t.Errorf("неожиданное задание: name=%q status=%q started=%v", job.Name, job.Status, job.Started)
	}
	if job.Owner != "alice" {
		t.Errorf("owner = %q", job.Owner)
	}
	if len(job.UUID) != 36 {
		t.Errorf("uuid = %q", job.UUID)
	}

	if !env.liveness.Connected() {
		t.Error("после запросов клиент должен считаться подключённым")
	}
}

func TestPrinters(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.do(t, http.MethodGet, ClusterAPI+"/printers", "", nil)
	wantStatus(t, resp, http.StatusOK)

	var printers []model.PrinterStatus
	if err := json.NewDecoder(resp.Body).Decode(&printers); err != nil {
		t.Fatal(err)
	}
	if len(printers) != 1 {
		t.Fatalf("ожидался массив из одного принтера, получено %d", len(printers))
	}
	if printers[0].UUID != testPrinterUUID || printers[0].Status != model.PrinterIdle {
		t.Errorf("неожиданный статус: %+v", printers[0])
	}
}

func TestUnknownRoutes(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/cluster-api/v1/unknown"},
		{http.MethodPatch, ClusterAPI + "/printers"},
		{http.MethodGet, ClusterAPI + "/print_jobs/" + testPrinterUUID + "/action"},
		{http.MethodPost, PrinterAPI + "/system"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp := env.do(t, tt.method, tt.path, "", nil)
			wantStatus(t, resp, http.StatusNotFound)
			if code := errorCode(t, resp); code != "NOT_FOUND" {
				t.Errorf("code = %q", code)
			}
		})
	}
}

func TestUploadWithoutTrailingSlash(t *testing.T) {
	env := setupTestEnv(t)

	body := "--" + testBoundary + "\r\n" +
		`Content-Disposition: form-data; name="file"; filename="cube.gcode"` + "\r\n\r\n" +
		"G28\r\n--" + testBoundary + "--\r\n"
	resp := env.do(t, http.MethodPost, ClusterAPI+"/print_jobs", "multipart/form-data; boundary="+testBoundary, []byte(body))
	wantStatus(t, resp, http.StatusOK)

	if jobs := env.jobs(t); len(jobs) != 1 || jobs[0].Name != "cube.gcode" {
		t.Errorf("задание не поставлено: %+v", jobs)
	}
}

func TestUpload_BadContentType(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		name        string
		contentType string
	}{
		{"json", "application/json"},
		{"без boundary", "multipart/form-data"},
		{"пустой", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, ClusterAPI+"/print_jobs/", tt.contentType, []byte("{}"))
			wantStatus(t, resp, http.StatusBadRequest)
		})
	}
}

func TestMove(t *testing.T) {
	env := setupTestEnv(t)
	for _, n := range []string{"a.gcode", "b.gcode", "c.gcode", "d.gcode"} {
		wantStatus(t, env.upload(t, "", n, "G28"), http.StatusOK)
	}
	jobs := env.jobs(t)
	movePath := ClusterAPI + "/print_jobs/" + jobs[0].UUID + "/action/move"

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"некорректный JSON", movePath, `{"list":`, http.StatusBadRequest},
		{"не тот список", movePath, `{"list":"printed","to_position":1}`, http.StatusBadRequest},
		{"не целое", movePath, `{"list":"queued","to_position":1.5}`, http.StatusBadRequest},
		{"строка", movePath, `{"list":"queued","to_position":"1"}`, http.StatusBadRequest},
		{"нет позиции", movePath, `{"list":"queued"}`, http.StatusBadRequest},
		{"вне очереди", movePath, `{"list":"queued","to_position":9}`, http.StatusBadRequest},
		{"неизвестный uuid", ClusterAPI + "/print_jobs/00000000-0000-4000-8000-000000000000/action/move", `{"list":"queued","to_position":1}`, http.StatusNotFound},
		{"успех", movePath, `{"list":"queued","to_position":2}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, tt.path, "application/json", []byte(tt.body))
			wantStatus(t, resp, tt.want)
		})
	}

	after := env.jobs(t)
	var names []string
	for _, j := range after {
		names = append(names, j.Name)
	}
	if strings.Join(names, ",") != "b.gcode,c.gcode,a.gcode,d.gcode" {
		t.Errorf("порядок после move: %v", names)
	}
}

func TestAction(t *testing.T) {
	env := setupTestEnv(t)
	wantStatus(t, env.upload(t, "", "a.gcode", "G28"), http.StatusOK)
	wantStatus(t, env.upload(t, "", "b.gcode", "G28"), http.StatusOK)
	jobs := env.jobs(t)

	action := func(uuid, body string) *http.Response {
		return env.do(t, http.MethodPut, ClusterAPI+"/print_jobs/"+uuid+"/action", "application/json", []byte(body))
	}

	wantStatus(t, action(jobs[0].UUID, `{"action":"explode"}`), http.StatusBadRequest)
	wantStatus(t, action(jobs[0].UUID, `not json`), http.StatusBadRequest)
	wantStatus(t, action(jobs[1].UUID, `{"action":"print"}`), http.StatusBadRequest)
	wantStatus(t, action("00000000-0000-4000-8000-000000000000", `{"action":"print"}`), http.StatusNotFound)

	wantStatus(t, action(jobs[0].UUID, `{"action":"print"}`), http.StatusNoContent)
	wantStatus(t, action(jobs[0].UUID, `{"action":"pause"}`), http.StatusNoContent)

	resp := action(jobs[0].UUID, `{"action":"pause"}`)
	wantStatus(t, resp, http.StatusBadRequest)
	if code := errorCode(t, resp); code != "INVALID_TRANSITION" {
		t.Errorf("code = %q", code)
	}

	head := env.jobs(t)[0]
	if head.Status != model.JobPausing || !head.Started {
		t.Errorf("голова: status=%q started=%v", head.Status, head.Started)
	}
}

func TestForceNotImplemented(t *testing.T) {
	env := setupTestEnv(t)
	resp := env.do(t, http.MethodPut, ClusterAPI+"/print_jobs/"+testPrinterUUID, "application/json", []byte(`{"force":true}`))
	wantStatus(t, resp, http.StatusNotImplemented)
}

func TestDelete(t *testing.T) {
	env := setupTestEnv(t)
	wantStatus(t, env.upload(t, "", "a.gcode", "G28"), http.StatusOK)
	wantStatus(t, env.upload(t, "", "b.gcode", "G28"), http.StatusOK)
	wantStatus(t, env.upload(t, "", "c.gcode", "G28"), http.StatusOK)
	jobs := env.jobs(t)

	// Движок изменился без ведома клиента
	err := env.loop.Call(context.Background(), func(st *engine.State) error {
		_, err := st.Remove(0)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	resp := env.do(t, http.MethodDelete, ClusterAPI+"/print_jobs/"+jobs[1].UUID, "", nil)
	wantStatus(t, resp, http.StatusConflict)
	if code := errorCode(t, resp); code != "QUEUE_DESYNC" {
		t.Errorf("code = %q", code)
	}

	// После повторного чтения очереди удаление проходит
	fresh := env.jobs(t)
	wantStatus(t, env.do(t, http.MethodDelete, ClusterAPI+"/print_jobs/"+fresh[0].UUID, "", nil), http.StatusNoContent)
	wantStatus(t, env.do(t, http.MethodDelete, ClusterAPI+"/print_jobs/"+fresh[0].UUID, "", nil), http.StatusNotFound)

	if left := env.jobs(t); len(left) != 1 || left[0].Name != "c.gcode" {
		t.Errorf("осталось: %+v", left)
	}
}

func TestPreviewImage(t *testing.T) {
	env := setupTestEnv(t)

	png := append([]byte("\x89PNG\r\n\x1a\n"), []byte("thumb")...)
	gcode := "; thumbnail begin 16x16 20\n; " + base64.StdEncoding.EncodeToString(png) +
		"\n; thumbnail end\nG28\n"
	wantStatus(t, env.upload(t, "", "thumb.gcode", gcode), http.StatusOK)
	wantStatus(t, env.upload(t, "", "plain.gcode", "G28"), http.StatusOK)
	jobs := env.jobs(t)

	resp := env.do(t, http.MethodGet, ClusterAPI+"/print_jobs/"+jobs[0].UUID+"/preview_image", "", nil)
	wantStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	got, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(got, png) {
		t.Errorf("миниатюра не совпадает: %q", got)
	}

	wantStatus(t, env.do(t, http.MethodGet, ClusterAPI+"/print_jobs/"+jobs[1].UUID+"/preview_image", "", nil), http.StatusNotFound)
	wantStatus(t, env.do(t, http.MethodGet, ClusterAPI+"/print_jobs/00000000-0000-4000-8000-000000000000/preview_image", "", nil), http.StatusNotFound)

	// Рассинхронизация: голова очереди заменена в движке
	err := env.loop.Call(context.Background(), func(st *engine.State) error {
		_, err := st.Remove(0)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	wantStatus(t, env.do(t, http.MethodGet, ClusterAPI+"/print_jobs/"+jobs[0].UUID+"/preview_image", "", nil), http.StatusConflict)
}

func TestSystemAndStream(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.do(t, http.MethodGet, PrinterAPI+"/system", "", nil)
	wantStatus(t, resp, http.StatusOK)
	var sys model.SystemStatus
	if err := json.NewDecoder(resp.Body).Decode(&sys); err != nil {
		t.Fatal(err)
	}
	if sys.GUID != testPrinterUUID || sys.Firmware != "5.2.11" {
		t.Errorf("system: %+v", sys)
	}

	resp = env.do(t, http.MethodGet, "/?action=stream", "", nil)
	wantStatus(t, resp, http.StatusFound)
	if loc := resp.Header.Get("Location"); !strings.HasSuffix(loc, ":8080/?action=stream") {
		t.Errorf("Location = %q", loc)
	}
}

func TestHealth(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.do(t, http.MethodGet, "/health/live", "", nil)
	wantStatus(t, resp, http.StatusOK)
	var live map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&live); err != nil {
		t.Fatal(err)
	}
	// Health-запросы не отмечают клиента
	if live["client_connected"] != false {
		t.Errorf("client_connected = %v", live["client_connected"])
	}

	wantStatus(t, env.do(t, http.MethodGet, "/health/ready", "", nil), http.StatusOK)
}
