package slm

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx answer from the SLM service. Code preserves the
// service's numeric status so response handlers can match it against the
// listing and import code tables.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("slm: status %d", e.Code)
	}
	return fmt.Sprintf("slm: status %d: %s", e.Code, e.Message)
}

// newAPIError builds an APIError from a response, pulling the message out of
// the error body when one is present.
func newAPIError(resp *http.Response) *APIError {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error_description"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	return &APIError{Code: resp.StatusCode, Message: msg}
}

// ErrorCode extracts the service status code from an error chain. ok is
// false for transport-level failures that never reached the service.
func ErrorCode(err error) (code int, ok bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	return 0, false
}
