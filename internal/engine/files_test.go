package engine

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestReadEstimate проверяет чтение оценки времени из разных слайсеров.
func TestReadEstimate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    float64
	}{
		{"Cura", ";FLAVOR:Marlin\n;TIME:6320\nG28\n", 6320},
		{"PrusaSlicer", "G28\n; estimated printing time (normal mode) = 1h 2m 3s\n", 3723},
		{"с днями", "; estimated printing time = 1d 0h 0m 10s\n", 86410},
		{"без оценки", "G28\nG1 X10\n", 0},
		{"битое значение", ";TIME:abc\nG28\n", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "a.gcode", tt.content)
			got, err := ReadEstimate(path)
			if err != nil {
				t.Fatalf("ReadEstimate: %v", err)
			}
			if got != tt.want {
				t.Errorf("ожидалось %v, получено %v", tt.want, got)
			}
		})
	}
}

// TestReadEstimate_Tail проверяет поиск оценки в конце большого файла.
func TestReadEstimate_Tail(t *testing.T) {
	body := strings.Repeat("G1 X1 Y1\n", (headScanBytes/9)+100) +
		"; estimated printing time (normal mode) = 10m 0s\n"
	path := writeFile(t, t.TempDir(), "big.gcode", body)

	got, err := ReadEstimate(path)
	if err != nil {
		t.Fatalf("ReadEstimate: %v", err)
	}
	if got != 600 {
		t.Errorf("ожидалось 600, получено %v", got)
	}
}

// TestReadEstimate_Missing проверяет ошибку для отсутствующего файла.
func TestReadEstimate_Missing(t *testing.T) {
	if _, err := ReadEstimate(filepath.Join(t.TempDir(), "none.gcode")); err == nil {
		t.Error("ожидалась ошибка")
	}
}

const pla = `<?xml version="1.0" encoding="UTF-8"?>
<fdmmaterial xmlns="http://www.ultimaker.com/material" version="1.3">
  <metadata>
    <name>
      <brand>Generic</brand>
      <material>PLA</material>
      <color>Generic</color>
    </name>
    <GUID>506c9f0d-e3aa-4bd4-b2d2-23e2425b1aa9</GUID>
    <version>20</version>
    <color_code>#ffc924</color_code>
  </metadata>
</fdmmaterial>
`

// TestReadMaterialFile проверяет разбор профиля fdm_material.
func TestReadMaterialFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "generic_pla"+MaterialSuffix, pla)

	info, err := ReadMaterialFile(path)
	if err != nil {
		t.Fatalf("ReadMaterialFile: %v", err)
	}

	want := MaterialInfo{
		GUID:     "506c9f0d-e3aa-4bd4-b2d2-23e2425b1aa9",
		Brand:    "Generic",
		Color:    "Generic",
		Material: "PLA",
		Version:  20,
	}
	if info != want {
		t.Errorf("ожидалось %+v, получено %+v", want, info)
	}
}

// TestParseMaterial_Invalid проверяет отказ на некорректных профилях.
func TestParseMaterial_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"не XML", "G28\n"},
		{"другой корень", "<material><metadata/></material>"},
		{"без GUID", `<fdmmaterial><metadata><version>1</version></metadata></fdmmaterial>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMaterial(strings.NewReader(tt.doc)); !errors.Is(err, ErrInvalidMaterial) {
				t.Errorf("ожидалась ErrInvalidMaterial, получено %v", err)
			}
		})
	}
}

// TestProfile проверяет загрузку профиля симулятора.
func TestProfile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "engine.yaml", `
extruders: 2
autostart: true
materials:
  - guid: g1
    brand: Generic
    material: PLA
    color: White
    version: 3
loaded:
  - ""
  - g1
`)

	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}

	s, err := NewStateFromProfile(p, 1)
	if err != nil {
		t.Fatalf("NewStateFromProfile: %v", err)
	}
	if !s.autostart {
		t.Error("autostart не применён")
	}

	snap := s.Snapshot()
	if len(snap.Loaded) != 2 {
		t.Fatalf("ожидалось 2 экструдера, получено %d", len(snap.Loaded))
	}
	if snap.Loaded[0] != nil || snap.Loaded[1] == nil || snap.Loaded[1].Color != "White" {
		t.Errorf("неожиданные материалы: %+v", snap.Loaded)
	}
}

// TestProfile_Validate проверяет ошибки профиля.
func TestProfile_Validate(t *testing.T) {
	tests := []struct {
		name string
		p    Profile
	}{
		{"отрицательные экструдеры", Profile{Extruders: -1}},
		{"материал без guid", Profile{Materials: []ProfileMaterial{{Brand: "x"}}}},
		{"неизвестный загруженный", Profile{Extruders: 1, Loaded: []string{"nope"}}},
		{"лишние загруженные", Profile{
			Extruders: 1,
			Materials: []ProfileMaterial{{GUID: "g"}},
			Loaded:    []string{"g", "g"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.p.Validate(); err == nil {
				t.Error("ожидалась ошибка")
			}
		})
	}
}

// TestLoadProfile_Invalid проверяет ошибку разбора YAML.
func TestLoadProfile_Invalid(t *testing.T) {
	path := writeFile(t, t.TempDir(), "engine.yaml", "extruders: [1, 2\n")
	if _, err := LoadProfile(path); err == nil {
		t.Error("ожидалась ошибка разбора")
	}
}
