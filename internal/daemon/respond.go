package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"cosflow/internal/api"
	"cosflow/internal/logging"
	"cosflow/internal/services"
	"cosflow/internal/textutil"
)

func errorBody(message, kind, field string) api.ErrorResponse {
	return api.ErrorResponse{Error: message, Kind: kind, Field: field}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// statusFor maps an error's marker to an HTTP status.
func statusFor(err error) int {
	switch services.Kind(err) {
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindInvalidState:
		return http.StatusConflict
	case services.KindValidation:
		return http.StatusUnprocessableEntity
	case services.KindDecode:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusFor(err)
	kind := services.Kind(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), logger), "request failed", "http_request_failed",
			logging.String("path", r.URL.Path),
			logging.Error(err),
		)
		message = "internal error"
	}
	writeJSON(w, status, errorBody(message, kind, services.FieldOf(err)))
}

func badRequest(message string, err error) error {
	return services.Wrap(services.ErrDecode, "http", "decode request", message, err)
}

// decodeJSON reads a single JSON object, rejecting unknown fields.
func decodeJSON(r io.Reader, dst any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("empty body", nil)
		}
		if msg := err.Error(); strings.HasPrefix(msg, "json: unknown field ") {
			field := strings.Trim(strings.TrimPrefix(msg, "json: unknown field "), `"`)
			return services.InvalidField(field, "unknown field")
		}
		return badRequest("invalid json", err)
	}
	if dec.More() {
		return badRequest("trailing data after json object", nil)
	}
	return nil
}

// writeFile serves stored content inline with its media type and filename.
func writeFile(w http.ResponseWriter, mimeType, fileName string, content []byte) {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", fmt.Sprint(len(content)))
	if disposition := mime.FormatMediaType("inline", map[string]string{"filename": textutil.SanitizeFileName(fileName)}); disposition != "" {
		w.Header().Set("Content-Disposition", disposition)
	} else {
		w.Header().Set("Content-Disposition", "inline")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}
