// Пакет preview извлекает PNG-миниатюры, которые слайсеры встраивают
// в заголовок G-code:
//
//	; thumbnail begin 300x300 12345
//	; iVBORw0KGgoAAAANSUhEUgAA...
//	; thumbnail end
//
// Если миниатюр несколько, возвращается самая большая по площади.
package preview

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// ErrNoThumbnail: в файле нет корректной миниатюры.
var ErrNoThumbnail = errors.New("миниатюра не найдена")

// maxLine: предельная длина строки G-code при сканировании.
const maxLine = 1 << 20

var (
	beginRe = regexp.MustCompile(`^;\s*thumbnail(?:_PNG)?\s+begin\s+(\d+)x(\d+)\s+(\d+)`)
	endRe   = regexp.MustCompile(`^;\s*thumbnail(?:_PNG)?\s+end`)

	pngSignature = []byte("\x89PNG\r\n\x1a\n")
)

// Extract читает заголовок G-code из r и возвращает PNG наибольшей
// миниатюры. Сканирование заканчивается на первой команде G-code:
// миниатюры лежат только в блоке комментариев в начале файла.
func Extract(r io.Reader) ([]byte, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	var (
		best     []byte
		bestArea int
		inBlock  bool
		area     int
		sb       strings.Builder
	)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, ";") {
			break
		}

		if m := beginRe.FindStringSubmatch(line); m != nil {
			w, _ := strconv.Atoi(m[1])
			h, _ := strconv.Atoi(m[2])
			inBlock, area = true, w*h
			sb.Reset()
			continue
		}
		if !inBlock {
			continue
		}
		if endRe.MatchString(line) {
			inBlock = false
			img, err := decode(sb.String())
			if err != nil || area <= bestArea {
				continue
			}
			best, bestArea = img, area
			continue
		}
		sb.WriteString(strings.TrimSpace(strings.TrimPrefix(line, ";")))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения G-code: %w", err)
	}

	if best == nil {
		return nil, ErrNoThumbnail
	}
	return best, nil
}

func decode(s string) ([]byte, error) {
	img, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(img, pngSignature) {
		return nil, errors.New("не PNG")
	}
	return img, nil
}
