package preview

import (
	"bytes"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

// fakePNG возвращает байты с сигнатурой PNG и меткой.
func fakePNG(tag string) []byte {
	return append(append([]byte{}, pngSignature...), []byte(tag)...)
}

// thumbnailBlock кодирует img в блок комментариев по 20 символов в строке.
func thumbnailBlock(w, h int, img []byte) string {
	enc := base64.StdEncoding.EncodeToString(img)
	var sb strings.Builder
	sb.WriteString("; thumbnail begin ")
	sb.WriteString(strconv.Itoa(w) + "x" + strconv.Itoa(h) + " " + strconv.Itoa(len(enc)) + "\n")
	for len(enc) > 20 {
		sb.WriteString("; " + enc[:20] + "\n")
		enc = enc[20:]
	}
	sb.WriteString("; " + enc + "\n")
	sb.WriteString("; thumbnail end\n;\n")
	return sb.String()
}

func TestExtract(t *testing.T) {
	small := fakePNG("small")
	large := fakePNG("large-thumbnail")

	tests := []struct {
		name    string
		gcode   string
		want    []byte
		wantErr error
	}{
		{
			name:  "одна миниатюра",
			gcode: ";FLAVOR:Marlin\n" + thumbnailBlock(16, 16, small) + "G28\n",
			want:  small,
		},
		{
			name:  "побеждает наибольшая",
			gcode: thumbnailBlock(300, 300, large) + thumbnailBlock(16, 16, small) + "G28\n",
			want:  large,
		},
		{
			name:    "нет миниатюры",
			gcode:   ";FLAVOR:Marlin\n;TIME:100\nG28\n",
			wantErr: ErrNoThumbnail,
		},
		{
			name:    "миниатюра после тела игнорируется",
			gcode:   "G28\n" + thumbnailBlock(16, 16, small),
			wantErr: ErrNoThumbnail,
		},
		{
			name:    "не PNG",
			gcode:   thumbnailBlock(16, 16, []byte("GIF89a")) + "G28\n",
			wantErr: ErrNoThumbnail,
		},
		{
			name:    "испорченный base64",
			gcode:   "; thumbnail begin 16x16 8\n; @@@@@@@@\n; thumbnail end\nG28\n",
			wantErr: ErrNoThumbnail,
		},
		{
			name:  "PrusaSlicer thumbnail_PNG",
			gcode: strings.ReplaceAll(thumbnailBlock(16, 16, small), "thumbnail ", "thumbnail_PNG ") + "G28\n",
			want:  small,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(strings.NewReader(tt.gcode))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ожидалась ошибка %v, получено %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("получено %q, ожидалось %q", got, tt.want)
			}
		})
	}
}

func writeGcode(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

// TestCache_KeyedByMtime проверяет попадание в кэш и сброс при
// перезаписи файла.
func TestCache_KeyedByMtime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.gcode")
	first := fakePNG("first")
	second := fakePNG("second")
	base := time.Now().Add(-time.Hour)

	writeGcode(t, path, thumbnailBlock(16, 16, first)+"G28\n", base)

	c := NewCache(8, time.Minute)
	calls := 0
	c.extract = func(p string) ([]byte, error) {
		calls++
		return extractFile(p)
	}

	for i := 0; i < 3; i++ {
		got, err := c.Get(path)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !bytes.Equal(got, first) {
			t.Fatalf("получено %q", got)
		}
	}
	if calls != 1 {
		t.Errorf("извлечений %d, ожидалось 1", calls)
	}

	writeGcode(t, path, thumbnailBlock(16, 16, second)+"G28\n", base.Add(time.Minute))
	got, err := c.Get(path)
	if err != nil {
		t.Fatalf("Get после перезаписи: %v", err)
	}
	if !bytes.Equal(got, second) {
		t.Errorf("после перезаписи получено %q", got)
	}
	if calls != 2 {
		t.Errorf("извлечений %d, ожидалось 2", calls)
	}
}

func TestCache_NoThumbnailCached(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.gcode")
	writeGcode(t, path, ";TIME:10\nG28\n", time.Now())

	c := NewCache(8, time.Minute)
	for i := 0; i < 2; i++ {
		if _, err := c.Get(path); !errors.Is(err, ErrNoThumbnail) {
			t.Fatalf("ожидалась ErrNoThumbnail, получено %v", err)
		}
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, ожидалось 1", c.Len())
	}
}

func TestCache_MissingFile(t *testing.T) {
	c := NewCache(8, time.Minute)
	_, err := c.Get(filepath.Join(t.TempDir(), "nope.gcode"))
	if err == nil || errors.Is(err, ErrNoThumbnail) {
		t.Fatalf("ожидалась ошибка файловой системы, получено %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ожидалась os.ErrNotExist, получено %v", err)
	}
}
