package domain

import (
	"errors"
	"fmt"
)

// Виды доменных ошибок. Сравнивать через errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrOutOfStock = errors.New("out of stock")
	ErrNotFound   = errors.New("not found")
)

// Error доменная ошибка: вид + сообщение для пользователя
type Error struct {
	kind error
	msg  string
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return e.kind }

// Kind возвращает один из ErrValidation, ErrOutOfStock, ErrNotFound
func (e *Error) Kind() error { return e.kind }

func Validationf(format string, args ...any) error {
	return &Error{kind: ErrValidation, msg: fmt.Sprintf(format, args...)}
}

func OutOfStockf(format string, args ...any) error {
	return &Error{kind: ErrOutOfStock, msg: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) error {
	return &Error{kind: ErrNotFound, msg: fmt.Sprintf(format, args...)}
}

// IsDomainError true для любой ошибки из таксономии выше
func IsDomainError(err error) bool {
	var de *Error
	return errors.As(err, &de)
}
