package engine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile: начальное состояние симулятора из YAML файла.
//
//	extruders: 2
//	autostart: true
//	materials:
//	  - guid: 506c9f0d-e3aa-4bd4-b2d2-23e2425b1aa9
//	    brand: Generic
//	    material: PLA
//	    color: Generic
//	    version: 20
//	loaded:
//	  - 506c9f0d-e3aa-4bd4-b2d2-23e2425b1aa9
type Profile struct {
	Extruders int               `yaml:"extruders"`
	Autostart bool              `yaml:"autostart"`
	Materials []ProfileMaterial `yaml:"materials"`
	// Loaded: GUID материала по индексу экструдера, "" для пустого
	Loaded []string `yaml:"loaded"`
}

// ProfileMaterial: материал каталога в профиле.
type ProfileMaterial struct {
	GUID     string `yaml:"guid"`
	Brand    string `yaml:"brand"`
	Material string `yaml:"material"`
	Color    string `yaml:"color"`
	Version  int    `yaml:"version"`
}

// LoadProfile читает профиль из YAML файла.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения профиля движка: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("ошибка разбора профиля движка: %w", err)
	}
	return &p, nil
}

// Validate проверяет согласованность профиля.
func (p *Profile) Validate() error {
	if p.Extruders < 0 {
		return fmt.Errorf("extruders: отрицательное значение %d", p.Extruders)
	}
	known := make(map[string]bool, len(p.Materials))
	for i, m := range p.Materials {
		if m.GUID == "" {
			return fmt.Errorf("materials[%d]: guid обязателен", i)
		}
		known[m.GUID] = true
	}
	if p.Extruders > 0 && len(p.Loaded) > p.Extruders {
		return fmt.Errorf("loaded: %d материалов на %d экструдеров", len(p.Loaded), p.Extruders)
	}
	for i, guid := range p.Loaded {
		if guid != "" && !known[guid] {
			return fmt.Errorf("loaded[%d]: материал %s отсутствует в materials", i, guid)
		}
	}
	return nil
}

// NewStateFromProfile создаёт состояние по профилю.
// extruders используется, если в профиле число экструдеров не задано.
func NewStateFromProfile(p *Profile, extruders int) (*State, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Extruders > 0 {
		extruders = p.Extruders
	}
	if len(p.Loaded) > extruders {
		return nil, fmt.Errorf("loaded: %d материалов на %d экструдеров", len(p.Loaded), extruders)
	}

	s := NewState(extruders)
	s.SetAutostart(p.Autostart)
	for _, m := range p.Materials {
		s.AddMaterial(MaterialInfo{
			GUID:     m.GUID,
			Brand:    m.Brand,
			Color:    m.Color,
			Material: m.Material,
			Version:  m.Version,
		})
	}
	for i, guid := range p.Loaded {
		if err := s.LoadMaterial(i, guid); err != nil {
			return nil, err
		}
	}
	return s, nil
}
