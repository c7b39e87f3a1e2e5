package utils

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/chronoledger/internal/model/ledger"
)

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message})
}

// RespondServiceError 按账本错误类型选择状态码
func RespondServiceError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	RespondError(w, status, err.Error())
}

// StatusFor maps ledger errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ledger.ErrSessionNotFound), errors.Is(err, ledger.ErrPageNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, ledger.ErrDuplicateCommit), errors.Is(err, ledger.ErrDuplicatePage), errors.Is(err, ledger.ErrNotResponse):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrNoActiveSession):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
