package sidecar

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/cura-connect/internal/domain/model"
)

// testMeta создаёт тестовую идентичность.
func testMeta() *model.JobMeta {
	return &model.JobMeta{
		UUID:             "7d3b6c2e-1f4a-4b8e-9c0d-2a1b3c4d5e6f",
		Filename:         "cube-1.gcode",
		OriginalFilename: "cube.gcode",
		Owner:            "Артур",
		CreatedAt:        time.Date(2026, 2, 21, 15, 4, 5, 123456000, time.UTC),
	}
}

// TestWriteAndRead проверяет запись и чтение *.meta.json.
func TestWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	meta := testMeta()
	path := Path(filepath.Join(dir, "cube-1.gcode"))

	if err := Write(path, meta); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}

	if got.UUID != meta.UUID {
		t.Errorf("UUID: ожидалось %q, получено %q", meta.UUID, got.UUID)
	}
	if got.Owner != meta.Owner {
		t.Errorf("Owner: ожидалось %q, получено %q", meta.Owner, got.Owner)
	}
	if !got.CreatedAt.Equal(meta.CreatedAt) {
		t.Errorf("CreatedAt: ожидалось %v, получено %v", meta.CreatedAt, got.CreatedAt)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("временный файл не должен существовать после записи")
	}
}

// TestWrite_TooLarge проверяет ограничение размера.
func TestWrite_TooLarge(t *testing.T) {
	meta := testMeta()
	meta.Owner = strings.Repeat("x", maxSize)

	err := Write(Path(filepath.Join(t.TempDir(), "big.gcode")), meta)
	if err == nil {
		t.Fatal("ожидалась ошибка превышения размера")
	}
}

// TestRead_Invalid проверяет ошибку на невалидном JSON.
func TestRead_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.gcode"+Suffix)
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Read(path); err == nil {
		t.Error("ожидалась ошибка десериализации")
	}
}

// TestPaths проверяет преобразования путей.
func TestPaths(t *testing.T) {
	if got := Path("/data/cube.gcode"); got != "/data/cube.gcode.meta.json" {
		t.Errorf("Path: получено %q", got)
	}
	if got := DataPath("/data/cube.gcode.meta.json"); got != "/data/cube.gcode" {
		t.Errorf("DataPath: получено %q", got)
	}
	if !IsSidecar("cube.gcode.meta.json") {
		t.Error("IsSidecar: ожидалось true")
	}
	if IsSidecar("cube.gcode") {
		t.Error("IsSidecar: ожидалось false")
	}
}

// TestDelete проверяет удаление, в том числе повторное.
func TestDelete(t *testing.T) {
	path := Path(filepath.Join(t.TempDir(), "cube.gcode"))
	if err := Write(path, testMeta()); err != nil {
		t.Fatal(err)
	}

	if err := Delete(path); err != nil {
		t.Fatalf("ошибка удаления: %v", err)
	}
	if err := Delete(path); err != nil {
		t.Errorf("повторное удаление не должно быть ошибкой: %v", err)
	}
}

// TestOrphans проверяет поиск *.meta.json без файла данных.
func TestOrphans(t *testing.T) {
	dir := t.TempDir()

	kept := filepath.Join(dir, "kept.gcode")
	if err := os.WriteFile(kept, []byte("G28"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := Write(Path(kept), testMeta()); err != nil {
		t.Fatal(err)
	}
	orphan := Path(filepath.Join(dir, "gone.gcode"))
	if err := Write(orphan, testMeta()); err != nil {
		t.Fatal(err)
	}

	got, err := Orphans(dir)
	if err != nil {
		t.Fatalf("ошибка Orphans: %v", err)
	}
	if len(got) != 1 || got[0] != orphan {
		t.Errorf("ожидался [%s], получено %v", orphan, got)
	}
}
