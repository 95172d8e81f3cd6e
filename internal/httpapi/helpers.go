package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"carebridge.org/internal/audit"
	"carebridge.org/internal/messaging"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

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

// parsePage reads limit/offset query parameters with the store defaults.
func parsePage(r *http.Request) (messaging.Page, error) {
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 0, 1, 100)
	if err != nil {
		return messaging.Page{}, errors.New("limit must be an integer between 1 and 100")
	}
	offset, err := parsePositiveInt(r.URL.Query().Get("offset"), 0, 0, 1<<30)
	if err != nil {
		return messaging.Page{}, errors.New("offset must be a non-negative integer")
	}
	return messaging.Page{Limit: limit, Offset: offset}, nil
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < min || val > max {
		return 0, errors.New("out of range")
	}
	return val, nil
}

// handleMessagingError maps orchestrator errors to HTTP statuses. Upstream
// failures become 502: the request may succeed on retry once the dependency
// recovers.
func handleMessagingError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, messaging.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, messaging.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "conversation not found")
	case errors.Is(err, messaging.ErrUpstream):
		writeError(w, r, http.StatusBadGateway, "upstream dependency failed")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
