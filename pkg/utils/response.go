package utils

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

// RespondError 发送错误响应，并用请求日志记下状态码和原因
func RespondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	logger := hlog.FromRequest(r)
	event := logger.Warn()
	if status >= http.StatusInternalServerError {
		event = logger.Error()
	}
	event.Int("status", status).Str("reason", message).Msg("request rejected")

	RespondJSON(w, status, map[string]string{"error": message})
}
