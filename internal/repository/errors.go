package repository

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicate — повторная вставка с тем же client_ref (идемпотентная отправка).
	ErrDuplicate = errors.New("duplicate")
	// ErrQuotaExceeded — лимит консультации исчерпан (сообщения или минуты звонка).
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrForbidden     = errors.New("forbidden")
	// ErrConflict — недопустимый переход статуса или конкурирующая запись.
	ErrConflict = errors.New("conflict")
)
