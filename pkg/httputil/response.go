package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cwrk-planet/aidchat/internal/domain"
	"github.com/cwrk-planet/aidchat/pkg/logger"
)

type envelope map[string]any

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json response failed", slog.Any("err", err))
	}
}

func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Error: унифицированная ошибка: {"error": message, "code": code}.
func Error(w http.ResponseWriter, status int, code, msg string) {
	JSON(w, status, envelope{"error": msg, "code": code})
}

// StatusOf маппит таксономию ошибок в HTTP статус.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WriteError пишет ошибку; внутренние детали наружу не отдаются.
func WriteError(ctx context.Context, w http.ResponseWriter, err error) {
	status := StatusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.FromContext(ctx).Error("request failed", slog.Any("err", err))
		msg = "internal error"
	}
	Error(w, status, domain.Code(err), msg)
}

// DecodeJSON читает тело запроса; ошибка разбора: ErrValidation.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid json", domain.ErrValidation)
	}
	return nil
}
