// Пакет errors: ответы с ошибками в едином формате
// {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками идут через WriteError.
package errors //nolint:revive // конфликт имени со stdlib, пакет импортируется под псевдонимом

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/bigkaa/goartstore/cura-connect/internal/service"
)

// Коды ошибок уровня HTTP. Коды сервисного слоя передаются как есть.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeNotImplemented  = "NOT_IMPLEMENTED"
	CodeInternalError   = "INTERNAL_ERROR"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки.
// statusCode: HTTP статус, code: машиночитаемый код, message: описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// ValidationError: 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound: 404 ресурс или маршрут не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Conflict: 409 очередь изменилась, клиенту нужно перечитать её.
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// NotImplemented: 501 функция протокола не поддерживается.
func NotImplemented(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotImplemented, CodeNotImplemented, message)
}

// InternalError: 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}

// StatusOf возвращает HTTP статус для ошибки сервисного слоя.
func StatusOf(kind service.Kind) int {
	switch kind {
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindBadRequest:
		return http.StatusBadRequest
	case service.KindConflict:
		return http.StatusConflict
	case service.KindNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// FromService записывает ответ для ошибки сервисного слоя.
// Единственное место, где Kind превращается в HTTP статус.
// Текст внутренних ошибок наружу не отдаётся.
func FromService(w http.ResponseWriter, err error) {
	var se *service.Error
	if !stderrors.As(err, &se) {
		InternalError(w, "внутренняя ошибка")
		return
	}

	message := se.Message
	if se.Kind == service.KindInternal {
		message = "внутренняя ошибка"
	}
	code := se.Code
	if code == "" {
		code = CodeInternalError
	}
	WriteError(w, StatusOf(se.Kind), code, message)
}
