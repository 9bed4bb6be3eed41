// Пакет filestore: каталоги загрузок на диске.
// Выделяет уникальные имена для входящих файлов, создаёт временные
// *.part файлы и атомарно переименовывает их после записи.
package filestore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// PartSuffix: суффикс файла, который ещё пишется.
const PartSuffix = ".part"

// FileStore: один каталог загрузок (G-code или материалы).
type FileStore struct {
	// dir: корневой каталог
	dir string
	// overwrite: перезаписывать существующие файлы вместо выбора нового имени
	overwrite bool
	namer     *UniqueNamer
}

// New создаёт FileStore. Каталог создаётся, если не существует.
func New(dir string, overwrite bool) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать каталог %s: %w", dir, err)
	}

	return &FileStore{
		dir:       dir,
		overwrite: overwrite,
		namer:     NewUniqueNamer(),
	}, nil
}

// Dir возвращает путь к каталогу.
func (fs *FileStore) Dir() string {
	return fs.dir
}

// FullPath возвращает абсолютный путь для имени файла.
// Компоненты каталогов в имени отбрасываются.
func (fs *FileStore) FullPath(name string) string {
	return filepath.Join(fs.dir, filepath.Base(name))
}

// Target возвращает путь, по которому будет записан файл с объявленным
// именем name. При overwrite == false путь уникален в пределах запуска.
func (fs *FileStore) Target(name string) string {
	path := fs.FullPath(name)
	if fs.overwrite {
		return path
	}
	return fs.namer.Next(path)
}

// Exists проверяет существование файла.
func (fs *FileStore) Exists(name string) bool {
	_, err := os.Stat(fs.FullPath(name))
	return err == nil
}

// Delete удаляет файл. Отсутствие файла не считается ошибкой.
func (fs *FileStore) Delete(name string) error {
	err := os.Remove(fs.FullPath(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", name, err)
	}
	return nil
}

// StaleParts возвращает *.part файлы, не изменявшиеся с момента before.
// Такие файлы остаются после прерванных загрузок.
func (fs *FileStore) StaleParts(before time.Time) ([]string, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения каталога %s: %w", fs.dir, err)
	}

	var stale []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), PartSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(before) {
			stale = append(stale, entry.Name())
		}
	}

	sort.Strings(stale)
	return stale, nil
}

// PartFile: файл, записываемый во временный <final>.part.
// После Commit данные доступны по итоговому пути.
type PartFile struct {
	f       *os.File
	tmpPath string
	final   string
	written int64
}

// CreatePart открывает <final>.part на запись.
func CreatePart(final string) (*PartFile, error) {
	tmpPath := final + PartSuffix
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	return &PartFile{f: f, tmpPath: tmpPath, final: final}, nil
}

// Write пишет данные во временный файл.
func (p *PartFile) Write(b []byte) (int, error) {
	n, err := p.f.Write(b)
	p.written += int64(n)
	return n, err
}

// Size возвращает количество записанных байт.
func (p *PartFile) Size() int64 {
	return p.written
}

// Path возвращает итоговый путь файла.
func (p *PartFile) Path() string {
	return p.final
}

// Commit: fsync → close → атомарный rename в итоговый путь.
// При ошибке временный файл удаляется.
func (p *PartFile) Commit() error {
	if err := p.f.Sync(); err != nil {
		p.f.Close()
		os.Remove(p.tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := p.f.Close(); err != nil {
		os.Remove(p.tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(p.tmpPath, p.final); err != nil {
		os.Remove(p.tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

// Abort закрывает и удаляет временный файл.
func (p *PartFile) Abort() {
	p.f.Close()
	os.Remove(p.tmpPath)
}
