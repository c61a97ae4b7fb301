package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrToolUnavailable  = errors.New("tool unavailable")
	ErrTimeout          = errors.New("timeout")
	ErrExternalTool     = errors.New("external tool error")
	ErrEmptyOutput      = errors.New("empty output")
	ErrIntegrity        = errors.New("integrity error")
	ErrConversionFailed = errors.New("conversion failed")
	ErrMalformedJob     = errors.New("malformed job record")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrConfiguration    = errors.New("configuration error")
	ErrTransient        = errors.New("transient failure")
	ErrUnavailable      = errors.New("service unavailable")
)

// ErrTooLarge marks validation failures caused by input size. It matches
// ErrValidation as well so callers that only care about the class keep working.
var ErrTooLarge = fmt.Errorf("%w: input too large", ErrValidation)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Recoverable reports whether a primary conversion failure may be retried on
// the fallback path instead of failing the request.
func Recoverable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrValidation):
		return false
	case errors.Is(err, ErrToolUnavailable),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrExternalTool),
		errors.Is(err, ErrEmptyOutput),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrIntegrity):
		return true
	default:
		return false
	}
}

// HTTPStatus maps an error marker to the transport status returned to clients.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Describe returns the short classification used in logs and metrics labels.
func Describe(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrToolUnavailable):
		return "tool_unavailable"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrEmptyOutput):
		return "empty_output"
	case errors.Is(err, ErrIntegrity):
		return "integrity"
	case errors.Is(err, ErrConversionFailed):
		return "conversion_failed"
	case errors.Is(err, ErrExternalTool):
		return "external_tool"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
