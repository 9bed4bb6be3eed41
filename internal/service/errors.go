// Пакет service: бизнес-логика эмулятора Cura Connect.
// errors.go: типизированные ошибки сервисного слоя.
//
// Сервисы возвращают *Error с Kind. Преобразование Kind в HTTP-статус
// выполняется только в internal/api/errors.
package service

import (
	"errors"
	"fmt"
)

// Kind: категория ошибки сервиса.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindBadRequest
	KindConflict
	KindNotImplemented
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindBadRequest:
		return "bad_request"
	case KindConflict:
		return "conflict"
	case KindNotImplemented:
		return "not_implemented"
	default:
		return "internal"
	}
}

// Error: ошибка сервиса с категорией и машиночитаемым кодом.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf возвращает категорию err. Ошибки не из сервиса считаются
// внутренними.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

func errNotFound(code, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: fmt.Sprintf(format, args...)}
}

func errBadRequest(code, format string, args ...any) *Error {
	return &Error{Kind: KindBadRequest, Code: code, Message: fmt.Sprintf(format, args...)}
}

func errConflict(code string, err error, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func errInternal(err error, format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Code: "INTERNAL_ERROR", Message: fmt.Sprintf(format, args...), Err: err}
}
