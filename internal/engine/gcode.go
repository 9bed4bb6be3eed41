package engine

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Области файла, в которых слайсеры пишут оценку времени:
// Cura в заголовке, PrusaSlicer и производные в конце файла.
const (
	headScanBytes = 1 << 20
	tailScanBytes = 64 << 10
)

// estimatedTimeRe: "; estimated printing time (normal mode) = 1d 2h 3m 4s".
var estimatedTimeRe = regexp.MustCompile(`^;\s*estimated printing time(?: \(normal mode\))?\s*=\s*(.+)$`)

// ReadEstimate читает оценку времени печати из G-code файла, секунды.
// Возвращает 0, если оценки в файле нет.
func ReadEstimate(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("ошибка открытия G-code: %w", err)
	}
	defer f.Close()

	if est, ok := scanEstimate(io.LimitReader(f, headScanBytes)); ok {
		return est, nil
	}

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("ошибка stat G-code: %w", err)
	}
	if info.Size() <= headScanBytes {
		return 0, nil
	}

	offset := info.Size() - tailScanBytes
	if offset < headScanBytes {
		offset = headScanBytes
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("ошибка чтения конца G-code: %w", err)
	}
	est, _ := scanEstimate(f)
	return est, nil
}

// scanEstimate ищет строку с оценкой времени.
func scanEstimate(r io.Reader) (float64, bool) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 64<<10)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, ";") {
			continue
		}
		if v, ok := strings.CutPrefix(line, ";TIME:"); ok {
			if sec, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && sec > 0 {
				return sec, true
			}
			continue
		}
		if m := estimatedTimeRe.FindStringSubmatch(line); m != nil {
			if sec, ok := parseDuration(m[1]); ok {
				return sec, true
			}
		}
	}
	return 0, false
}

// parseDuration разбирает "1d 2h 3m 4s" в секунды.
func parseDuration(s string) (float64, bool) {
	units := map[byte]float64{'d': 86400, 'h': 3600, 'm': 60, 's': 1}

	var total float64
	found := false
	for _, field := range strings.Fields(s) {
		if len(field) < 2 {
			return 0, false
		}
		mul, ok := units[field[len(field)-1]]
		if !ok {
			return 0, false
		}
		n, err := strconv.Atoi(field[:len(field)-1])
		if err != nil {
			return 0, false
		}
		total += float64(n) * mul
		found = true
	}
	return total, found && total > 0
}
