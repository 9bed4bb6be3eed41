// Пакет sidecar: файлы идентичности загруженных заданий (*.meta.json).
// Рядом с каждым принятым G-code файлом лежит <file>.meta.json с uuid,
// временем создания и владельцем. Запись атомарная: temp → fsync → rename.
package sidecar

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/goartstore/cura-connect/internal/domain/model"
)

// Suffix: суффикс файла идентичности.
const Suffix = ".meta.json"

// maxSize: предел размера *.meta.json (4 КБ).
const maxSize = 4096

// Path возвращает путь к *.meta.json для файла данных.
// Пример: "/data/cube.gcode" → "/data/cube.gcode.meta.json"
func Path(dataFilePath string) string {
	return dataFilePath + Suffix
}

// DataPath возвращает путь к файлу данных по пути *.meta.json.
func DataPath(sidecarPath string) string {
	return strings.TrimSuffix(sidecarPath, Suffix)
}

// IsSidecar проверяет, является ли путь файлом идентичности.
func IsSidecar(path string) bool {
	return strings.HasSuffix(path, Suffix)
}

// Write атомарно записывает meta в path.
func Write(path string, meta *model.JobMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации: %w", err)
	}

	if len(data) > maxSize {
		return fmt.Errorf("размер %s (%d байт) превышает максимум (%d байт)", filepath.Base(path), len(data), maxSize)
	}

	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// Read читает *.meta.json.
func Read(path string) (*model.JobMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения %s: %w", path, err)
	}

	var meta model.JobMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("ошибка десериализации %s: %w", path, err)
	}

	return &meta, nil
}

// Delete удаляет *.meta.json. Отсутствие файла не ошибка.
func Delete(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления %s: %w", path, err)
	}
	return nil
}

// Orphans возвращает пути *.meta.json в dir, у которых нет файла данных.
func Orphans(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+Suffix))
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования каталога %s: %w", dir, err)
	}

	var orphans []string
	for _, path := range matches {
		if _, err := os.Stat(DataPath(path)); os.IsNotExist(err) {
			orphans = append(orphans, path)
		}
	}
	return orphans, nil
}
