// Package dracoon provides an HTTP client for the DRACOON REST API and its
// direct-to-S3 data plane, with retry, pagination, and error classification.
package dracoon

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, dracoon.ErrNotFound) to check.
var (
	ErrBadRequest            = errors.New("dracoon: bad request")
	ErrUnauthorized          = errors.New("dracoon: unauthorized")
	ErrForbidden             = errors.New("dracoon: forbidden")
	ErrNotFound              = errors.New("dracoon: not found")
	ErrConflict              = errors.New("dracoon: conflict")
	ErrGone                  = errors.New("dracoon: resource gone")
	ErrThrottled             = errors.New("dracoon: throttled")
	ErrServerError           = errors.New("dracoon: server error")
	ErrMissingClientID       = errors.New("dracoon: missing client id")
	ErrMissingClientSecret   = errors.New("dracoon: missing client secret")
	ErrMissingBaseURL        = errors.New("dracoon: missing base url")
	ErrInvalidURL            = errors.New("dracoon: invalid url")
	ErrInvalidPath           = errors.New("dracoon: invalid path")
	ErrConnectionFailed      = errors.New("dracoon: connection failed")
	ErrNotConnected          = errors.New("dracoon: session not connected")
	ErrMissingArgument       = errors.New("dracoon: missing argument")
	ErrInvalidAccount        = errors.New("dracoon: invalid account")
)

// AuthError represents an OAuth2 error response from /oauth/token or /oauth/revoke.
type AuthError struct {
	ErrorCode        string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e *AuthError) Error() string {
	if e.ErrorDescription != "" {
		return fmt.Sprintf("dracoon: auth error %q: %s", e.ErrorCode, e.ErrorDescription)
	}

	return fmt.Sprintf("dracoon: auth error %q", e.ErrorCode)
}

// HTTPError wraps a sentinel error with the HTTP status code and the API's
// JSON error body for debugging.
type HTTPError struct {
	StatusCode int
	Message    string
	DebugInfo  string
	ErrorCode  int
	Err        error // sentinel, for errors.Is()
}

// apiErrorBody is the DRACOON JSON API error shape: {code, message, debugInfo?, errorCode?}.
type apiErrorBody struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	DebugInfo string `json:"debugInfo"`
	ErrorCode int    `json:"errorCode"`
}

func (e *HTTPError) Error() string {
	if e.DebugInfo != "" {
		return fmt.Sprintf("dracoon: HTTP %d: %s (%s)", e.StatusCode, e.Message, e.DebugInfo)
	}

	return fmt.Sprintf("dracoon: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// S3Error represents a non-2xx response from a presigned S3 URL, decoded from
// the XML error body S3-compatible stores return.
type S3Error struct {
	StatusCode   int
	Code         string `xml:"Code"`
	Message      string `xml:"Message"`
	RequestID    string `xml:"RequestId"`
	HostID       string `xml:"HostId"`
	ArgumentName string `xml:"ArgumentName"`
}

func (e *S3Error) Error() string {
	return fmt.Sprintf("dracoon: s3 HTTP %d: %s: %s (request %s)", e.StatusCode, e.Code, e.Message, e.RequestID)
}

// decodeHTTPError reads and classifies a non-2xx JSON API response body
// into an *HTTPError. A malformed body never panics; the decode failure
// becomes part of the error message instead.
func decodeHTTPError(statusCode int, body io.Reader) *HTTPError {
	raw, readErr := io.ReadAll(body)

	httpErr := &HTTPError{
		StatusCode: statusCode,
		Err:        classifyStatus(statusCode),
	}

	if readErr != nil {
		httpErr.Message = fmt.Sprintf("(failed to read response body: %s)", readErr)
		return httpErr
	}

	var apiErr apiErrorBody
	if err := json.Unmarshal(raw, &apiErr); err != nil {
		httpErr.Message = fmt.Sprintf("(failed to decode error body: %s) raw=%s", err, string(raw))
		return httpErr
	}

	httpErr.Message = apiErr.Message
	httpErr.DebugInfo = apiErr.DebugInfo
	httpErr.ErrorCode = apiErr.Code

	if httpErr.ErrorCode == 0 {
		httpErr.ErrorCode = apiErr.ErrorCode
	}

	return httpErr
}

// decodeS3Error reads and parses a non-2xx XML response from a presigned S3 URL.
func decodeS3Error(statusCode int, body io.Reader) *S3Error {
	raw, readErr := io.ReadAll(body)

	s3Err := &S3Error{StatusCode: statusCode}
	if readErr != nil {
		s3Err.Message = fmt.Sprintf("(failed to read response body: %s)", readErr)
		return s3Err
	}

	if err := xml.Unmarshal(raw, s3Err); err != nil {
		s3Err.Message = fmt.Sprintf("(failed to decode xml error body: %s) raw=%s", err, string(raw))
	}

	s3Err.StatusCode = statusCode

	return s3Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusGone:
		return ErrGone
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried
// (transient errors only).
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
