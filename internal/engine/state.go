package engine

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/bigkaa/goartstore/cura-connect/internal/domain/jobstate"
)

var (
	// ErrDesync: позиция в очереди движка занята другим заданием.
	ErrDesync = errors.New("очередь движка изменилась")
	// ErrOutOfRange: индекс вне очереди.
	ErrOutOfRange = errors.New("индекс вне очереди")
	// ErrNotCurrent: действие над заданием, которое не печатается.
	ErrNotCurrent = errors.New("задание не является текущим")
	// ErrUnknownMaterial: GUID отсутствует в каталоге.
	ErrUnknownMaterial = errors.New("неизвестный материал")
	// ErrActiveJob: текущее задание уже печатается и не может сменить позицию.
	ErrActiveJob = errors.New("текущее задание активно")
)

// Job: задание в очереди движка.
type Job struct {
	ID    int64
	Path  string
	State jobstate.EngineState
	// Printed: напечатанное время, секунды
	Printed float64
	// Estimate: оценка полного времени печати, секунды; 0 если неизвестна
	Estimate float64
}

// Name возвращает basename файла задания.
func (j Job) Name() string {
	return filepath.Base(j.Path)
}

// Remaining возвращает оставшееся время печати.
// ok == false, если оценка неизвестна.
func (j Job) Remaining() (float64, bool) {
	if j.Estimate <= 0 {
		return 0, false
	}
	if r := j.Estimate - j.Printed; r > 0 {
		return r, true
	}
	return 0, true
}

// MaterialInfo: профиль материала в каталоге движка.
type MaterialInfo struct {
	GUID     string
	Brand    string
	Color    string
	Material string
	Version  int
}

// State: состояние симулятора. Изменяется только внутри Loop.
type State struct {
	jobs      []Job
	extruders []string // GUID загруженного материала, "" для пустого слота
	catalog   map[string]MaterialInfo
	order     []string // GUID в порядке добавления
	nextID    int64
	autostart bool
}

// NewState создаёт пустое состояние с заданным числом экструдеров.
func NewState(extruders int) *State {
	if extruders < 1 {
		extruders = 1
	}
	return &State{
		extruders: make([]string, extruders),
		catalog:   make(map[string]MaterialInfo),
		nextID:    1,
	}
}

// SetAutostart: при true задание в голове очереди начинает печать
// на ближайшем тике без действия print.
func (s *State) SetAutostart(on bool) {
	s.autostart = on
}

// Jobs возвращает копию очереди.
func (s *State) Jobs() []Job {
	return append([]Job(nil), s.jobs...)
}

// Current возвращает задание в голове очереди.
func (s *State) Current() (Job, bool) {
	if len(s.jobs) == 0 {
		return Job{}, false
	}
	return s.jobs[0], true
}

// AddJob ставит файл в конец очереди.
func (s *State) AddJob(path string, estimate float64) Job {
	job := Job{
		ID:       s.nextID,
		Path:     path,
		State:    jobstate.Queued,
		Estimate: estimate,
	}
	s.nextID++
	s.jobs = append(s.jobs, job)
	return job
}

// Verify проверяет, что в позиции index стоит задание с именем name.
func (s *State) Verify(index int, name string) error {
	if index < 0 || index >= len(s.jobs) {
		return fmt.Errorf("%w: позиция %d, в очереди %d", ErrDesync, index, len(s.jobs))
	}
	if got := s.jobs[index].Name(); got != name {
		return fmt.Errorf("%w: в позиции %d %q вместо %q", ErrDesync, index, got, name)
	}
	return nil
}

// Move переставляет задание из позиции from в позицию to.
// Голову очереди нельзя сменить, пока текущее задание не в состоянии queued.
func (s *State) Move(from, to int) error {
	if from < 0 || from >= len(s.jobs) || to < 0 || to >= len(s.jobs) {
		return fmt.Errorf("%w: %d → %d, в очереди %d", ErrOutOfRange, from, to, len(s.jobs))
	}
	if from != to && (from == 0 || to == 0) && s.jobs[0].State != jobstate.Queued {
		return fmt.Errorf("%w: %s в состоянии %s", ErrActiveJob, s.jobs[0].Name(), s.jobs[0].State)
	}
	job := s.jobs[from]
	s.jobs = append(s.jobs[:from], s.jobs[from+1:]...)
	s.jobs = append(s.jobs[:to], append([]Job{job}, s.jobs[to:]...)...)
	return nil
}

// Remove удаляет задание из позиции index.
func (s *State) Remove(index int) (Job, error) {
	if index < 0 || index >= len(s.jobs) {
		return Job{}, fmt.Errorf("%w: %d, в очереди %d", ErrOutOfRange, index, len(s.jobs))
	}
	job := s.jobs[index]
	s.jobs = append(s.jobs[:index], s.jobs[index+1:]...)
	return job, nil
}

// Control применяет действие к заданию в позиции index.
// Управлять можно только текущим заданием (index 0).
func (s *State) Control(index int, a jobstate.Action) (jobstate.EngineState, error) {
	if index != 0 {
		return "", ErrNotCurrent
	}
	if len(s.jobs) == 0 {
		return "", fmt.Errorf("%w: очередь пуста", ErrOutOfRange)
	}
	next, err := jobstate.Next(s.jobs[0].State, a)
	if err != nil {
		return "", err
	}
	s.jobs[0].State = next
	return next, nil
}

// Advance продвигает симуляцию на dt секунд.
//
// Завершённое задание снимается с головы очереди на следующем тике,
// чтобы клиент успел увидеть финальный статус.
func (s *State) Advance(dt float64) {
	if len(s.jobs) == 0 {
		return
	}
	head := &s.jobs[0]

	switch {
	case jobstate.IsTerminal(head.State):
		s.jobs = s.jobs[1:]
	case head.State == jobstate.Printing:
		head.Printed += dt
		if head.Estimate > 0 && head.Printed >= head.Estimate {
			head.Printed = head.Estimate
			head.State = jobstate.Done
		}
	case head.State == jobstate.Queued && s.autostart:
		head.State = jobstate.Printing
	default:
		if next, ok := jobstate.Settle(head.State); ok {
			head.State = next
		}
	}
}

// AddMaterial добавляет профиль в каталог. Повторный GUID обновляет
// профиль, если версия не меньше известной.
func (s *State) AddMaterial(info MaterialInfo) {
	old, ok := s.catalog[info.GUID]
	if !ok {
		s.order = append(s.order, info.GUID)
	} else if info.Version < old.Version {
		return
	}
	s.catalog[info.GUID] = info
}

// LoadMaterial загружает материал из каталога в экструдер.
func (s *State) LoadMaterial(extruder int, guid string) error {
	if extruder < 0 || extruder >= len(s.extruders) {
		return fmt.Errorf("%w: экструдер %d", ErrOutOfRange, extruder)
	}
	if guid == "" {
		s.extruders[extruder] = ""
		return nil
	}
	if _, ok := s.catalog[guid]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMaterial, guid)
	}
	s.extruders[extruder] = guid
	return nil
}

// Snapshot: неизменяемая копия состояния для чтения вне Loop.
type Snapshot struct {
	Jobs []Job
	// Loaded: материал каждого экструдера; nil для пустого слота
	Loaded []*MaterialInfo
	// Catalog: материалы в порядке добавления
	Catalog []MaterialInfo
}

// Snapshot копирует состояние.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		Jobs:    s.Jobs(),
		Loaded:  make([]*MaterialInfo, len(s.extruders)),
		Catalog: make([]MaterialInfo, 0, len(s.order)),
	}
	for i, guid := range s.extruders {
		if info, ok := s.catalog[guid]; ok && guid != "" {
			m := info
			snap.Loaded[i] = &m
		}
	}
	for _, guid := range s.order {
		snap.Catalog = append(snap.Catalog, s.catalog[guid])
	}
	return snap
}

// Current возвращает задание в голове очереди снимка.
func (s Snapshot) Current() (Job, bool) {
	if len(s.Jobs) == 0 {
		return Job{}, false
	}
	return s.Jobs[0], true
}
