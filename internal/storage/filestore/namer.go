package filestore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// UniqueNamer выдаёт пути, не совпадающие ни с существующими файлами,
// ни с путями, выданными ранее в этом запуске.
//
// Для /dir/model.gcode последовательность: model.gcode (если свободен),
// model-1.gcode, model-2.gcode, ... Индекс для одного базового пути
// только растёт и не используется повторно.
type UniqueNamer struct {
	mu       sync.Mutex
	reserved map[string]struct{}
	last     map[string]int // базовый путь → последний выданный индекс
}

// NewUniqueNamer создаёт пустой UniqueNamer.
func NewUniqueNamer() *UniqueNamer {
	return &UniqueNamer{
		reserved: make(map[string]struct{}),
		last:     make(map[string]int),
	}
}

// Next возвращает свободный путь для path и резервирует его.
func (n *UniqueNamer) Next(path string) string {
	n.mu.Lock()
	defer n.mu.Unlock()

	last, seen := n.last[path]
	if !seen && n.free(path) {
		n.last[path] = 0
		n.reserved[path] = struct{}{}
		return path
	}

	ext := filepath.Ext(path)
	root := strings.TrimSuffix(path, ext)

	for i := last + 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d%s", root, i, ext)
		if n.free(candidate) {
			n.last[path] = i
			n.reserved[candidate] = struct{}{}
			return candidate
		}
	}
}

// free: путь не выдан в этом запуске и не существует на диске
// (включая незавершённый *.part).
func (n *UniqueNamer) free(path string) bool {
	if _, ok := n.reserved[path]; ok {
		return false
	}
	if _, err := os.Lstat(path); !os.IsNotExist(err) {
		return false
	}
	if _, err := os.Lstat(path + PartSuffix); !os.IsNotExist(err) {
		return false
	}
	return true
}
