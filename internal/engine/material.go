package engine

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// MaterialSuffix: расширение файлов профилей материалов Cura.
const MaterialSuffix = ".xml.fdm_material"

// ErrInvalidMaterial: файл не является профилем fdm_material.
var ErrInvalidMaterial = errors.New("некорректный профиль материала")

// fdmMaterial: нужная часть документа fdm_material.
// Теги без пространства имён совпадают с любым xmlns.
type fdmMaterial struct {
	XMLName  xml.Name `xml:"fdmmaterial"`
	Metadata struct {
		Name struct {
			Brand    string `xml:"brand"`
			Material string `xml:"material"`
			Color    string `xml:"color"`
		} `xml:"name"`
		GUID    string `xml:"GUID"`
		Version int    `xml:"version"`
	} `xml:"metadata"`
}

// ParseMaterial читает профиль материала из r.
func ParseMaterial(r io.Reader) (MaterialInfo, error) {
	var doc fdmMaterial
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return MaterialInfo{}, fmt.Errorf("%w: %v", ErrInvalidMaterial, err)
	}

	info := MaterialInfo{
		GUID:     strings.TrimSpace(doc.Metadata.GUID),
		Brand:    strings.TrimSpace(doc.Metadata.Name.Brand),
		Color:    strings.TrimSpace(doc.Metadata.Name.Color),
		Material: strings.TrimSpace(doc.Metadata.Name.Material),
		Version:  doc.Metadata.Version,
	}
	if info.GUID == "" {
		return MaterialInfo{}, fmt.Errorf("%w: пустой GUID", ErrInvalidMaterial)
	}
	return info, nil
}

// ReadMaterialFile читает профиль материала из файла.
func ReadMaterialFile(path string) (MaterialInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return MaterialInfo{}, fmt.Errorf("ошибка открытия профиля материала: %w", err)
	}
	defer f.Close()
	return ParseMaterial(f)
}
