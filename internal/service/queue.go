// queue.go: сверка очереди заданий с движком печати.
//
// QueueService хранит локальное представление очереди (PrintJob с uuid),
// статус принтера и список материалов. Источник истины: очередь движка.
// На каждом чтении локальный список перестраивается по снимку движка:
//   - задание движка сопоставляется с первым несопоставленным локальным
//     заданием с тем же именем файла и сохраняет его uuid и created_at
//   - несопоставленное задание движка получает идентичность из sidecar
//     или новый uuid
//   - несопоставленные локальные задания отбрасываются
//
// Изменяющие операции (move, delete, action) находят позицию задания
// по последнему известному локальному списку и перепроверяют её внутри
// движка. Несовпадение имени: Conflict без изменений. Недопустимое
// действие или перестановка при печатающейся голове: BadRequest.
package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/cura-connect/internal/domain/jobstate"
	"github.com/bigkaa/goartstore/cura-connect/internal/domain/model"
	"github.com/bigkaa/goartstore/cura-connect/internal/engine"
	"github.com/bigkaa/goartstore/cura-connect/internal/storage/sidecar"
)

// unknownRemaining: добавка к прошедшему времени, когда оценки нет.
const unknownRemaining = 10000

var (
	printJobsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cc_print_jobs",
		Help: "Количество заданий в очереди по статусу",
	}, []string{"status"})

	queueOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cc_queue_operations_total",
		Help: "Количество операций над очередью",
	}, []string{"operation", "result"})

	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cc_reconcile_duration_seconds",
		Help:    "Длительность сверки очереди с движком в секундах",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
)

// Executor выполняет функцию в контексте движка.
type Executor interface {
	Call(ctx context.Context, fn func(*engine.State) error) error
}

// PrinterIdentity: неизменяемые свойства принтера.
type PrinterIdentity struct {
	UUID            string
	FriendlyName    string
	UniqueName      string
	FirmwareVersion string
	MachineVariant  string
}

// queueEntry: локальное задание и путь к его файлу.
type queueEntry struct {
	job  model.PrintJob
	path string
}

// QueueService: сверка очереди и статусов.
type QueueService struct {
	exec   Executor
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	entries   []queueEntry
	printer   model.PrinterStatus
	materials []model.Material
	known     map[string]bool // GUID уже добавленных материалов
}

// NewQueueService создаёт сервис очереди.
func NewQueueService(exec Executor, id PrinterIdentity, logger *slog.Logger) *QueueService {
	variant := id.MachineVariant
	if variant == "" {
		variant = model.DefaultMachineVariant
	}
	return &QueueService{
		exec:   exec,
		logger: logger.With(slog.String("component", "queue")),
		now:    time.Now,
		printer: model.PrinterStatus{
			Enabled:         true,
			FirmwareVersion: id.FirmwareVersion,
			FriendlyName:    id.FriendlyName,
			MachineVariant:  variant,
			Status:          model.PrinterIdle,
			UniqueName:      id.UniqueName,
			UUID:            id.UUID,
			Configuration:   []model.ExtruderConfiguration{},
		},
		materials: []model.Material{},
		known:     make(map[string]bool),
	}
}

// SetIPAddress задаёт адрес, сообщаемый в статусе принтера.
func (s *QueueService) SetIPAddress(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.printer.IPAddress = ip
}

// PrintJobs сверяет очередь с движком и возвращает копию списка заданий.
func (s *QueueService) PrintJobs(ctx context.Context) ([]model.PrintJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refresh(ctx); err != nil {
		return nil, err
	}

	out := make([]model.PrintJob, len(s.entries))
	for i := range s.entries {
		out[i] = s.entries[i].job.Clone()
	}
	return out, nil
}

// Printers возвращает статус единственного принтера.
func (s *QueueService) Printers(ctx context.Context) ([]model.PrinterStatus, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.printer.Configuration = configurationOf(snap)
	s.printer.Status = model.PrinterIdle
	if cur, ok := snap.Current(); ok && jobstate.IsPrinting(cur.State) {
		s.printer.Status = model.PrinterPrinting
	}

	return []model.PrinterStatus{s.printer.Clone()}, nil
}

// Materials дополняет список материалами, обнаруженными в каталоге
// движка. Материалы не удаляются до конца работы процесса.
func (s *QueueService) Materials(ctx context.Context) ([]model.Material, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range snap.Catalog {
		if s.known[m.GUID] {
			continue
		}
		s.known[m.GUID] = true
		s.materials = append(s.materials, model.Material{GUID: m.GUID, Version: m.Version})
	}
	return append([]model.Material{}, s.materials...), nil
}

// Submit ставит файл в очередь движка.
func (s *QueueService) Submit(ctx context.Context, path string) error {
	estimate, err := engine.ReadEstimate(path)
	if err != nil {
		s.logger.Warn("Не удалось прочитать оценку времени",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}

	var job engine.Job
	err = s.exec.Call(ctx, func(st *engine.State) error {
		job = st.AddJob(path, estimate)
		return nil
	})
	if err != nil {
		queueOperationsTotal.WithLabelValues("submit", "error").Inc()
		return errInternal(err, "не удалось поставить %s в очередь", filepath.Base(path))
	}

	queueOperationsTotal.WithLabelValues("submit", "ok").Inc()
	s.logger.Info("Задание поставлено в очередь",
		slog.String("name", job.Name()),
		slog.Float64("estimate_s", estimate),
	)
	return nil
}

// Move переставляет задание в позицию to очереди.
func (s *QueueService) Move(ctx context.Context, jobUUID string, to int) error {
	return s.mutate(ctx, "move", jobUUID, func(st *engine.State, index int, name string) error {
		if to < 0 || to >= len(st.Jobs()) {
			return errBadRequest("INVALID_POSITION",
				"позиция %d вне очереди из %d заданий", to, len(st.Jobs()))
		}
		if err := st.Move(index, to); err != nil {
			if errors.Is(err, engine.ErrActiveJob) {
				return errBadRequest("JOB_ACTIVE", "текущее задание уже печатается")
			}
			return errBadRequest("INVALID_POSITION", "%v", err)
		}
		return nil
	})
}

// Delete удаляет задание из очереди.
func (s *QueueService) Delete(ctx context.Context, jobUUID string) error {
	return s.mutate(ctx, "delete", jobUUID, func(st *engine.State, index int, name string) error {
		_, err := st.Remove(index)
		return err
	})
}

// Control применяет действие к текущему заданию.
func (s *QueueService) Control(ctx context.Context, jobUUID string, action jobstate.Action) error {
	return s.mutate(ctx, "action_"+string(action), jobUUID, func(st *engine.State, index int, name string) error {
		if index != 0 {
			return errBadRequest("NOT_CURRENT_JOB",
				"задание %s не является текущим", name)
		}
		if _, err := st.Control(index, action); err != nil {
			var te *jobstate.TransitionError
			if errors.As(err, &te) {
				return errBadRequest(te.Code, "%s", te.Message)
			}
			return err
		}
		return nil
	})
}

// JobPath возвращает путь к файлу задания. Позиция задания
// перепроверяется в движке.
func (s *QueueService) JobPath(ctx context.Context, jobUUID string) (string, error) {
	var path string
	err := s.mutate(ctx, "", jobUUID, func(st *engine.State, index int, name string) error {
		path = st.Jobs()[index].Path
		return nil
	})
	return path, err
}

// mutate находит задание по uuid и выполняет fn в контексте движка
// после проверки, что в позиции index стоит тот же файл.
// operation == "" не учитывается в метриках и не вызывает сверку.
func (s *QueueService) mutate(
	ctx context.Context,
	operation string,
	jobUUID string,
	fn func(st *engine.State, index int, name string) error,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.mutateLocked(ctx, jobUUID, fn)

	if operation != "" {
		result := "ok"
		if err != nil {
			result = KindOf(err).String()
		}
		queueOperationsTotal.WithLabelValues(operation, result).Inc()

		if err == nil {
			// Локальный список повторяет изменение движка
			if rerr := s.refresh(ctx); rerr != nil {
				s.logger.Warn("Сверка после изменения не выполнена",
					slog.String("operation", operation),
					slog.String("error", rerr.Error()),
				)
			}
			s.logger.Info("Операция над очередью выполнена",
				slog.String("operation", operation),
				slog.String("job_uuid", jobUUID),
			)
		}
	}
	return err
}

func (s *QueueService) mutateLocked(
	ctx context.Context,
	jobUUID string,
	fn func(st *engine.State, index int, name string) error,
) error {
	index := -1
	for i := range s.entries {
		if s.entries[i].job.UUID == jobUUID {
			index = i
			break
		}
	}
	if index < 0 {
		return errNotFound("JOB_NOT_FOUND", "задание %s не найдено", jobUUID)
	}
	name := s.entries[index].job.Name

	err := s.exec.Call(ctx, func(st *engine.State) error {
		if err := st.Verify(index, name); err != nil {
			return errConflict("QUEUE_DESYNC", err,
				"очередь движка изменилась, обновите список заданий")
		}
		return fn(st, index, name)
	})
	if err == nil {
		return nil
	}

	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return errInternal(err, "ошибка движка")
}

// snapshot получает копию состояния движка.
func (s *QueueService) snapshot(ctx context.Context) (engine.Snapshot, error) {
	var snap engine.Snapshot
	err := s.exec.Call(ctx, func(st *engine.State) error {
		snap = st.Snapshot()
		return nil
	})
	if err != nil {
		return engine.Snapshot{}, errInternal(err, "движок недоступен")
	}
	return snap, nil
}

// refresh перестраивает локальный список по снимку движка.
// Вызывается под s.mu.
func (s *QueueService) refresh(ctx context.Context) error {
	start := time.Now()

	snap, err := s.snapshot(ctx)
	if err != nil {
		return err
	}
	s.reconcile(snap)

	reconcileDurationSeconds.Observe(time.Since(start).Seconds())
	return nil
}

// reconcile применяет снимок движка к локальному списку.
func (s *QueueService) reconcile(snap engine.Snapshot) {
	used := make([]bool, len(s.entries))
	inUse := make(map[string]bool, len(snap.Jobs))
	next := make([]queueEntry, 0, len(snap.Jobs))

	for _, ej := range snap.Jobs {
		name := ej.Name()

		matched := -1
		for i := range s.entries {
			if !used[i] && s.entries[i].job.Name == name {
				matched = i
				break
			}
		}

		var entry queueEntry
		if matched >= 0 {
			used[matched] = true
			entry = s.entries[matched]
			entry.path = ej.Path
		} else {
			entry = s.newEntry(ej, snap, inUse)
			s.logger.Debug("Новое задание в очереди движка",
				slog.String("name", name),
				slog.String("uuid", entry.job.UUID),
			)
		}

		entry.job.Status = jobstate.ProtocolStatus(ej.State)
		inUse[entry.job.UUID] = true
		next = append(next, entry)
	}

	if len(next) > 0 {
		head := &next[0].job
		cur := snap.Jobs[0]

		elapsed := int(cur.Printed)
		head.TimeElapsed = elapsed
		if remaining, ok := cur.Remaining(); ok {
			head.TimeTotal = elapsed + int(remaining)
		} else {
			head.TimeTotal = elapsed + unknownRemaining
		}
		head.AssignedTo = s.printer.UUID
		if cur.State == jobstate.Printing {
			head.Started = true
		}
	}

	s.entries = next
	s.updateGauge()
}

// newEntry создаёт локальное задание для задания движка без пары.
// Идентичность берётся из sidecar, если он есть и его uuid свободен.
func (s *QueueService) newEntry(ej engine.Job, snap engine.Snapshot, inUse map[string]bool) queueEntry {
	name := ej.Name()
	id := ""
	created := s.now()
	owner := ""

	meta, err := sidecar.Read(sidecar.Path(ej.Path))
	switch {
	case err == nil && meta.Filename == name && meta.UUID != "" && !inUse[meta.UUID] && !s.hasUUID(meta.UUID):
		id = meta.UUID
		created = meta.CreatedAt
		owner = meta.Owner
	case err != nil && !errors.Is(err, os.ErrNotExist):
		s.logger.Warn("Некорректный sidecar задания",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
	}
	if id == "" {
		id = uuid.NewString()
	}

	return queueEntry{
		path: ej.Path,
		job: model.PrintJob{
			CreatedAt:                    model.FormatTime(created),
			MachineVariant:               s.printer.MachineVariant,
			Name:                         name,
			Status:                       model.JobQueued,
			TimeTotal:                    int(ej.Estimate),
			UUID:                         id,
			Owner:                        owner,
			Configuration:                configurationOf(snap),
			Constraints:                  []string{},
			ConfigurationChangesRequired: []model.ConfigurationChange{},
		},
	}
}

// hasUUID: uuid занят одним из текущих локальных заданий.
func (s *QueueService) hasUUID(id string) bool {
	for i := range s.entries {
		if s.entries[i].job.UUID == id {
			return true
		}
	}
	return false
}

func (s *QueueService) updateGauge() {
	printJobsGauge.Reset()
	for i := range s.entries {
		printJobsGauge.WithLabelValues(string(s.entries[i].job.Status)).Inc()
	}
}

// configurationOf строит конфигурацию экструдеров по загруженным
// материалам. Пустые слоты пропускаются.
func configurationOf(snap engine.Snapshot) []model.ExtruderConfiguration {
	out := []model.ExtruderConfiguration{}
	for i, m := range snap.Loaded {
		if m == nil {
			continue
		}
		out = append(out, model.ExtruderConfiguration{
			ExtruderIndex: i,
			Material: &model.MaterialConfiguration{
				GUID:     m.GUID,
				Brand:    m.Brand,
				Color:    m.Color,
				Material: m.Material,
			},
		})
	}
	return out
}
