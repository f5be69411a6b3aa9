package api

import (
	"encoding/json"
	"net/http"

	"github.com/petrzlen/vocode-telephony/internal/calls"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// errorResponse keeps the {"detail": ...} shape clients of the service already parse.
type errorResponse struct {
	Detail string `json:"detail"`
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, calls.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, calls.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, calls.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusCode(err)
	event := log.Warn()
	if code == http.StatusInternalServerError {
		event = log.Error()
	}
	event.Err(err).Int("status", code).Str("path", r.URL.Path).Msg("request failed")
	writeDetail(w, code, err.Error())
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, errorResponse{Detail: detail})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("cannot write response")
	}
}

func writeXML(w http.ResponseWriter, contentType string, body string) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(body)); err != nil {
		log.Debug().Err(err).Msg("cannot write response")
	}
}
