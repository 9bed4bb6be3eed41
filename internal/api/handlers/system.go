// system.go: обработчик GET /api/v1/system.
package handlers

import (
	"net/http"

	"github.com/bigkaa/goartstore/cura-connect/internal/domain/model"
)

// SystemHandler отдаёт неизменную информацию о принтере.
type SystemHandler struct {
	status model.SystemStatus
}

// NewSystemHandler создаёт обработчик системных endpoints.
func NewSystemHandler(status model.SystemStatus) *SystemHandler {
	return &SystemHandler{status: status}
}

// System обрабатывает GET /api/v1/system.
func (h *SystemHandler) System(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.status)
}
