package domain

import "errors"

// Таксономия ошибок ядра. Транспорты маппят их в свои коды (HTTP, gRPC, WS error frame).
var (
	// нет/невалидный/просроченный токен
	ErrUnauthenticated = errors.New("unauthenticated")
	// не участник группы или не в комнате
	ErrForbidden  = errors.New("forbidden")
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	// identity store не ответил вовремя
	ErrTimeout  = errors.New("lookup timed out")
	ErrConflict = errors.New("already exists")
	// нарушен двусторонний инвариант членства
	ErrInconsistent = errors.New("membership inconsistent")
)

// Code возвращает стабильный код ошибки для клиентов.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return "auth_error"
	case errors.Is(err, ErrForbidden):
		return "authorization_error"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}
