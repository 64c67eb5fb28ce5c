package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"telego/internal/apperr"
	"telego/internal/gateway/backend"
	"telego/internal/logx"
)

const bodyLimit = 1 << 20

type errResponse struct {
	Error string `json:"error"`
}

func reqID(ctx context.Context) string {
	if id := middleware.GetReqID(ctx); id != "" {
		return id
	}
	return "-"
}

func writeJSON(logger logx.Logger, w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		logger.Warn("json encode failed", logx.String("request_id", reqID(r.Context())), logx.Err(err))
	}
}

func writeError(logger logx.Logger, w http.ResponseWriter, r *http.Request, status int, msg string) {
	logger.Debug("http error",
		logx.String("request_id", reqID(r.Context())),
		logx.Int("status", status),
		logx.String("msg", msg),
	)
	writeJSON(logger, w, r, status, errResponse{Error: msg})
}

// writeFailure maps an application error to its status code. Unknown
// errors are logged and hidden behind a generic message.
func writeFailure(logger logx.Logger, w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, apperr.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrUnauthorized), errors.Is(err, apperr.ErrNoSession):
		status = http.StatusUnauthorized
	case errors.Is(err, apperr.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, backend.ErrNetwork):
		writeError(logger, w, r, http.StatusBadGateway, backend.ErrNetwork.Error())
		return
	default:
		logger.Error("request failed", logx.String("request_id", reqID(r.Context())), logx.Err(err))
		writeError(logger, w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeError(logger, w, r, status, err.Error())
}

func decodeJSON[T any](logger logx.Logger, w http.ResponseWriter, r *http.Request, dst *T) bool {
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		writeError(logger, w, r, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := dec.Decode(new(struct{})); err != io.EOF {
		writeError(logger, w, r, http.StatusBadRequest, "invalid json: trailing data")
		return false
	}
	return true
}
