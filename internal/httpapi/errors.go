package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"access.org/internal/access"
)

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleAccessError maps domain errors onto HTTP responses. AuthError codes
// pass through so clients can branch on them.
func handleAccessError(w http.ResponseWriter, r *http.Request, err error) {
	var authErr *access.AuthError
	switch {
	case errors.As(err, &authErr):
		writeError(w, r, http.StatusUnauthorized, authErr.Code)
	case errors.Is(err, access.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, access.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, access.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, access.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, access.ErrConstraint):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, access.ErrConfiguration):
		writeError(w, r, http.StatusInternalServerError, "service misconfigured")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}
