package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"telego/internal/apperr"
)

// ErrNetwork wraps transport failures (DNS, refused connections, timeouts).
var ErrNetwork = errors.New("backend unreachable")

// StatusError is a non-2xx response that has no sentinel mapping.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend returned %d", e.Code)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Detail)
}

// errorFromResponse maps a status code and body to the error taxonomy.
func errorFromResponse(code int, body []byte) error {
	detail := parseDetail(body)
	var sentinel error
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		sentinel = apperr.ErrUnauthorized
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		sentinel = apperr.ErrInvalid
	case http.StatusNotFound:
		sentinel = apperr.ErrNotFound
	case http.StatusConflict:
		sentinel = apperr.ErrConflict
	default:
		return &StatusError{Code: code, Detail: detail}
	}
	if detail == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, detail)
}

// parseDetail extracts the backend's "detail" field, which is either a
// string or a list of validation errors with a "msg" each.
func parseDetail(body []byte) string {
	var env struct {
		Detail json.RawMessage `json:"detail"`
	}
	if len(body) == 0 || json.Unmarshal(body, &env) != nil || len(env.Detail) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(env.Detail, &s) == nil {
		return s
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if json.Unmarshal(env.Detail, &items) == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return string(env.Detail)
}
