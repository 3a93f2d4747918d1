package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/aaronlmathis/voltwatch/internal/dashboard"
	"github.com/aaronlmathis/voltwatch/internal/telemetry"
)

// Utility functions

// writeJSON writes v as the JSON response body
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error body
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message, "status": "error"})
}

// statusForError maps dashboard and upstream errors to HTTP status codes. Any
// other failure is an upstream one.
func statusForError(err error) int {
	switch {
	case errors.Is(err, dashboard.ErrNoDeviceSelected):
		return http.StatusConflict
	case errors.Is(err, dashboard.ErrInvalidSelection):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// parseFieldsParam splits a comma separated list of field names and maps each
// to its canonical name
func parseFieldsParam(param string) []string {
	if strings.TrimSpace(param) == "" {
		return nil
	}

	var fields []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(param, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		field := telemetry.CanonicalField(part)
		if !seen[field] {
			seen[field] = true
			fields = append(fields, field)
		}
	}
	return fields
}

// parseIntParam parses an integer parameter within [min, max]; an empty
// parameter yields defaultValue
func parseIntParam(param string, defaultValue, lo, hi int) (int, error) {
	if param == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(param)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", param)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%d is outside %d-%d", n, lo, hi)
	}
	return n, nil
}
