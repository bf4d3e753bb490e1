package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/mixlab/mixlab/sdk/go/headers"
)

// ErrNoRefreshToken is returned when a request is rejected with 401 and the
// session holds no refresh token to renew with. No network call is made.
var ErrNoRefreshToken = errors.New("sdk: no refresh token available")

// errRenewalInProgress marks the enqueue path inside the coordinator. It never
// reaches callers.
var errRenewalInProgress = errors.New("sdk: renewal in progress")

// APIError captures a non-2xx API response. Anything other than a recoverable
// 401 reaches the caller as an APIError, untouched.
type APIError struct {
	Status    int
	Detail    string
	RequestID string
	Fields    []FieldError
}

// FieldError represents a validation failure for a single field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e APIError) Error() string {
	if e.Detail == "" {
		e.Detail = http.StatusText(e.Status)
	}
	return fmt.Sprintf("sdk: http %d: %s", e.Status, e.Detail)
}

// IsUnauthorized reports whether err is an APIError with status 401.
func IsUnauthorized(err error) bool {
	var apiErr APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// RenewalFailedError is returned to every caller waiting on a renewal that did
// not succeed. The session has been logged out by the time it is returned.
type RenewalFailedError struct {
	Cause error
}

func (e *RenewalFailedError) Error() string {
	if e.Cause == nil {
		return "sdk: session renewal failed"
	}
	return "sdk: session renewal failed: " + e.Cause.Error()
}

func (e *RenewalFailedError) Unwrap() error { return e.Cause }

// IsRenewalFailed reports whether err came from a failed session renewal.
func IsRenewalFailed(err error) bool {
	var target *RenewalFailedError
	return errors.As(err, &target)
}

// ConfigError reports an invalid client configuration.
type ConfigError struct {
	Reason string
}

func (e ConfigError) Error() string { return "sdk: invalid config: " + e.Reason }

// TransportErrorKind classifies network-level failures.
type TransportErrorKind string

const (
	TransportErrorTimeout  TransportErrorKind = "timeout"
	TransportErrorCanceled TransportErrorKind = "canceled"
	TransportErrorOther    TransportErrorKind = "other"
)

// TransportError wraps failures that happened before a response was received.
type TransportError struct {
	Kind    TransportErrorKind
	Message string
	Cause   error
}

func (e TransportError) Error() string {
	if e.Cause == nil {
		return "sdk: " + e.Message
	}
	return fmt.Sprintf("sdk: %s: %v", e.Message, e.Cause)
}

func (e TransportError) Unwrap() error { return e.Cause }

func classifyTransportErrorKind(err error) TransportErrorKind {
	if errors.Is(err, context.Canceled) {
		return TransportErrorCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TransportErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TransportErrorTimeout
	}
	return TransportErrorOther
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	apiErr := APIError{Status: resp.StatusCode, RequestID: resp.Header.Get(headers.RequestID)}
	if len(data) == 0 {
		apiErr.Detail = resp.Status
		return apiErr
	}
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || len(payload.Detail) == 0 {
		apiErr.Detail = strings.TrimSpace(string(data))
		return apiErr
	}
	var detail string
	if err := json.Unmarshal(payload.Detail, &detail); err == nil {
		apiErr.Detail = detail
		return apiErr
	}
	var items []struct {
		Loc []any  `json:"loc"`
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(payload.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			field := make([]string, 0, len(it.Loc))
			for _, part := range it.Loc {
				field = append(field, fmt.Sprint(part))
			}
			apiErr.Fields = append(apiErr.Fields, FieldError{Field: strings.Join(field, "."), Message: it.Msg})
			msgs = append(msgs, it.Msg)
		}
		apiErr.Detail = strings.Join(msgs, "; ")
		return apiErr
	}
	apiErr.Detail = string(payload.Detail)
	return apiErr
}
