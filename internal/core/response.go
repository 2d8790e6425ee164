package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"omnirelay/internal/types"
)

// APIResponse is the standard success envelope for all v1 endpoints.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   interface{} `json:"error,omitempty"`
}

// APIErrorResponse is the standard error envelope.
type APIErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine-readable error code, a human-readable
// message, and optional structured details.
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// JSON writes a success envelope with the given status code.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

// Error maps any error to the standard error envelope. AppErrors carry their
// own code, message, and HTTP status; anything else becomes an opaque 500.
func Error(w http.ResponseWriter, logger *slog.Logger, err error) {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		appErr = types.NewAppError(types.ErrCodeInternalUnexpected, "an unexpected error occurred", err)
	}

	status := appErr.Code.HTTPStatus()
	if status >= http.StatusInternalServerError && logger != nil {
		logger.Error("internal error serving request", "code", appErr.Code, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Code:    string(appErr.Code),
			Message: appErr.Message,
			Details: appErr.Details,
		},
	})
}

// maxRequestBody bounds typed request bodies. Raw gateway payloads with media
// previews stay well under this.
const maxRequestBody = 1 << 20

// DecodeJSON strictly decodes a request body into dst: unknown fields are
// rejected, bodies are capped at 1MB, and trailing content is an error.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body, err := ReadBody(w, r)
	if err != nil {
		return err
	}
	return DecodeJSONBytes(body, dst)
}

// ReadBody reads a capped request body for handlers that inspect the payload
// shape before committing to a target type.
func ReadBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, mapDecodeError(err)
	}
	return body, nil
}

// DecodeJSONBytes applies the same strict decoding rules as DecodeJSON to an
// already-read body.
func DecodeJSONBytes(body []byte, dst interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return mapDecodeError(err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return types.NewAppError(types.ErrCodeValidationInvalidBody, "request body must contain a single JSON object", nil)
	}

	return nil
}

func mapDecodeError(err error) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	var maxBytesErr *http.MaxBytesError

	switch {
	case errors.As(err, &syntaxErr):
		return types.NewAppError(types.ErrCodeValidationInvalidBody,
			fmt.Sprintf("request body contains malformed JSON (at position %d)", syntaxErr.Offset), err)

	case errors.Is(err, io.ErrUnexpectedEOF):
		return types.NewAppError(types.ErrCodeValidationInvalidBody, "request body contains malformed JSON", err)

	case errors.As(err, &typeErr):
		return types.NewAppError(types.ErrCodeValidationInvalidBody,
			fmt.Sprintf("request body contains an invalid value for the %q field", typeErr.Field), err)

	case strings.HasPrefix(err.Error(), "json: unknown field "):
		field := strings.TrimPrefix(err.Error(), "json: unknown field ")
		return types.NewAppError(types.ErrCodeValidationInvalidBody,
			fmt.Sprintf("request body contains unknown field %s", field), err)

	case errors.Is(err, io.EOF):
		return types.NewAppError(types.ErrCodeValidationInvalidBody, "request body must not be empty", err)

	case errors.As(err, &maxBytesErr):
		return types.NewAppError(types.ErrCodeValidationInvalidBody,
			fmt.Sprintf("request body must not exceed %d bytes", maxBytesErr.Limit), err)

	default:
		return types.NewAppError(types.ErrCodeValidationInvalidBody, "request body could not be decoded", err)
	}
}
