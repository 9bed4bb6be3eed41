// uploads.go: приём G-code и профилей материалов (multipart/form-data).
package handlers

import (
	"context"
	"log/slog"
	"mime"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/cura-connect/internal/api/errors"
	"github.com/bigkaa/goartstore/cura-connect/internal/service"
)

// UploadHandler обслуживает POST /print_jobs/ и /materials/.
type UploadHandler struct {
	uploads Uploader
	logger  *slog.Logger
}

// NewUploadHandler создаёт обработчик загрузок.
func NewUploadHandler(uploads Uploader, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{
		uploads: uploads,
		logger:  logger.With(slog.String("component", "upload_api")),
	}
}

// uploadedJob: задание в ответе на загрузку.
type uploadedJob struct {
	UUID  string `json:"uuid"`
	Name  string `json:"name"`
	Owner string `json:"owner,omitempty"`
}

type uploadResponse struct {
	Files     []string      `json:"files"`
	Jobs      []uploadedJob `json:"print_jobs,omitempty"`
	Materials []string      `json:"materials,omitempty"`
}

// PrintJobs принимает G-code и ставит его в очередь.
func (h *UploadHandler) PrintJobs(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.uploads.UploadPrintJobs)
}

// Materials принимает профили материалов.
func (h *UploadHandler) Materials(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.uploads.UploadMaterials)
}

func (h *UploadHandler) handle(
	w http.ResponseWriter,
	r *http.Request,
	upload func(context.Context, service.UploadParams) (*service.UploadResult, error),
) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		apierrors.ValidationError(w, "ожидается Content-Type multipart/form-data")
		return
	}
	boundary := params["boundary"]
	if boundary == "" {
		apierrors.ValidationError(w, "в Content-Type нет параметра boundary")
		return
	}

	res, err := upload(r.Context(), service.UploadParams{
		Body:     r.Body,
		Boundary: boundary,
		Length:   r.ContentLength,
	})
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}

	resp := uploadResponse{Files: res.Files, Materials: res.Materials}
	for _, meta := range res.Jobs {
		resp.Jobs = append(resp.Jobs, uploadedJob{UUID: meta.UUID, Name: meta.Filename, Owner: meta.Owner})
	}
	writeJSON(w, http.StatusOK, resp)
}
