// upload.go: приём файлов заданий и профилей материалов.
//
// Тело multipart разбирается потоково, файлы пишутся прямо в каталог
// загрузок. Для G-code рядом с файлом сохраняется sidecar с uuid и owner,
// затем файл ставится в очередь движка. Профили материалов разбираются
// и добавляются в каталог движка.
package service

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/cura-connect/internal/domain/model"
	"github.com/bigkaa/goartstore/cura-connect/internal/engine"
	"github.com/bigkaa/goartstore/cura-connect/internal/storage/filestore"
	"github.com/bigkaa/goartstore/cura-connect/internal/storage/mimeparser"
	"github.com/bigkaa/goartstore/cura-connect/internal/storage/sidecar"
)

// OwnerField: поле формы с именем владельца задания.
const OwnerField = "owner"

var uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cc_uploads_total",
	Help: "Количество загрузок по типу и результату",
}, []string{"kind", "result"})

// UploadParams: тело multipart-запроса.
type UploadParams struct {
	Body     io.Reader
	Boundary string
	// Length: Content-Length, отрицательное значение если неизвестен
	Length int64
}

// UploadResult: результат загрузки.
type UploadResult struct {
	// Files: имена записанных файлов
	Files []string
	// Jobs: идентичность поставленных в очередь заданий
	Jobs []model.JobMeta
	// Materials: GUID добавленных материалов
	Materials []string
}

// UploadService: приём загрузок.
type UploadService struct {
	gcodes    *filestore.FileStore
	materials *filestore.FileStore
	queue     *QueueService
	exec      Executor
	logger    *slog.Logger
	now       func() time.Time
}

// NewUploadService создаёт сервис загрузок.
func NewUploadService(
	gcodes *filestore.FileStore,
	materials *filestore.FileStore,
	queue *QueueService,
	exec Executor,
	logger *slog.Logger,
) *UploadService {
	return &UploadService{
		gcodes:    gcodes,
		materials: materials,
		queue:     queue,
		exec:      exec,
		logger:    logger.With(slog.String("component", "upload")),
		now:       time.Now,
	}
}

// UploadPrintJobs принимает G-code файлы и ставит их в очередь.
func (u *UploadService) UploadPrintJobs(ctx context.Context, params UploadParams) (*UploadResult, error) {
	res, err := u.parse(params, u.gcodes)
	if err != nil {
		uploadsTotal.WithLabelValues("print_job", "error").Inc()
		return nil, err
	}

	owner, _ := res.Value(OwnerField)
	out := &UploadResult{}

	for i, path := range res.Files {
		meta := model.JobMeta{
			UUID:             uuid.NewString(),
			Filename:         filepath.Base(path),
			OriginalFilename: res.Declared[i],
			Owner:            owner,
			CreatedAt:        u.now().UTC(),
		}
		if err := sidecar.Write(sidecar.Path(path), &meta); err != nil {
			// Без sidecar задание получит новый uuid при сверке
			u.logger.Warn("Не удалось сохранить sidecar",
				slog.String("file", meta.Filename),
				slog.String("error", err.Error()),
			)
		}

		if err := u.queue.Submit(ctx, path); err != nil {
			uploadsTotal.WithLabelValues("print_job", "error").Inc()
			// Файлы, не попавшие в очередь, удаляются вместе с sidecar
			var rest []string
			for _, p := range res.Files[i:] {
				rest = append(rest, p, sidecar.Path(p))
			}
			removeAll(rest)
			u.logger.Warn("Загрузка прервана",
				slog.Int("queued", i),
				slog.Int("removed", len(res.Files)-i),
				slog.String("error", err.Error()),
			)
			return nil, err
		}

		out.Files = append(out.Files, meta.Filename)
		out.Jobs = append(out.Jobs, meta)
		uploadsTotal.WithLabelValues("print_job", "ok").Inc()

		u.logger.Info("Задание загружено",
			slog.String("file", meta.Filename),
			slog.String("declared", meta.OriginalFilename),
			slog.String("owner", owner),
		)
	}

	if len(res.Files) == 0 {
		uploadsTotal.WithLabelValues("print_job", "empty").Inc()
		return nil, errBadRequest("NO_FILE", "в запросе нет поля %q с файлом", mimeparser.FileFieldName)
	}
	return out, nil
}

// UploadMaterials принимает профили материалов и добавляет их в каталог
// движка.
func (u *UploadService) UploadMaterials(ctx context.Context, params UploadParams) (*UploadResult, error) {
	res, err := u.parse(params, u.materials)
	if err != nil {
		uploadsTotal.WithLabelValues("material", "error").Inc()
		return nil, err
	}
	if len(res.Files) == 0 {
		uploadsTotal.WithLabelValues("material", "empty").Inc()
		return nil, errBadRequest("NO_FILE", "в запросе нет поля %q с файлом", mimeparser.FileFieldName)
	}

	// Разбор профилей до обращения к движку
	infos := make([]engine.MaterialInfo, 0, len(res.Files))
	for _, path := range res.Files {
		info, err := engine.ReadMaterialFile(path)
		if err != nil {
			removeAll(res.Files)
			uploadsTotal.WithLabelValues("material", "invalid").Inc()
			return nil, errBadRequest("INVALID_MATERIAL", "%s: %v", filepath.Base(path), err)
		}
		infos = append(infos, info)
	}

	err = u.exec.Call(ctx, func(st *engine.State) error {
		for _, info := range infos {
			st.AddMaterial(info)
		}
		return nil
	})
	if err != nil {
		uploadsTotal.WithLabelValues("material", "error").Inc()
		return nil, errInternal(err, "движок недоступен")
	}

	out := &UploadResult{}
	for i, info := range infos {
		out.Files = append(out.Files, filepath.Base(res.Files[i]))
		out.Materials = append(out.Materials, info.GUID)
		uploadsTotal.WithLabelValues("material", "ok").Inc()

		u.logger.Info("Материал загружен",
			slog.String("file", filepath.Base(res.Files[i])),
			slog.String("guid", info.GUID),
			slog.Int("version", info.Version),
		)
	}
	return out, nil
}

// parse разбирает тело в каталог store.
func (u *UploadService) parse(params UploadParams, store *filestore.FileStore) (*mimeparser.Result, error) {
	if params.Boundary == "" {
		return nil, errBadRequest("INVALID_MULTIPART", "не указана граница multipart")
	}

	p := mimeparser.New(params.Body, params.Boundary, params.Length, store.Dir(),
		mimeparser.WithTarget(store.Target),
	)
	res, err := p.Parse()
	if err == nil {
		return res, nil
	}

	// Файлы, записанные до сбоя, парсер уже удалил
	u.logger.Warn("Ошибка разбора multipart",
		slog.String("error", err.Error()),
	)
	return nil, &Error{Kind: KindInternal, Code: "UPLOAD_FAILED", Message: err.Error(), Err: err}
}

func removeAll(paths []string) {
	for _, p := range paths {
		os.Remove(p)
	}
}
