package service

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrValidation            = errors.New("validation failed")
	ErrPaymentProvider       = errors.New("payment provider error")
	ErrMalformedNotification = errors.New("malformed notification")
	ErrInvalidInput          = errors.New("invalid input")
)

// Error ошибка сервиса; Kind это один из sentinel-ов выше, по нему выбирается HTTP статус
type Error struct {
	Kind    error
	Message string
	ID      string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Kind.Error() + ": " + e.Err.Error()
	}
	return e.Kind.Error()
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

func notFound(what, id string) *Error {
	return &Error{Kind: ErrNotFound, ID: id, Message: fmt.Sprintf("No %s for this id: %s", what, id)}
}

func validationFailed(err error) *Error {
	return &Error{Kind: ErrValidation, Message: err.Error(), Err: err}
}
