package gqlerrors

import "fmt"

// HTTPError is a transport-level failure thrown past the pipeline to the
// HTTP-query coordinator, which maps it to a status code and headers. The
// body is the message itself unless IsGraphQLError marks it as an already
// serialized GraphQL response.
type HTTPError struct {
	StatusCode     int
	Message        string
	IsGraphQLError bool
	Headers        map[string]string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d: %s", e.StatusCode, e.Message)
}

// NewHTTPError builds a plain-text transport error.
func NewHTTPError(status int, message string) *HTTPError {
	return &HTTPError{StatusCode: status, Message: message}
}

// NewMethodNotAllowed builds a 405 carrying the Allow header.
func NewMethodNotAllowed(message, allow string) *HTTPError {
	return &HTTPError{
		StatusCode: 405,
		Message:    message,
		Headers:    map[string]string{"Allow": allow},
	}
}

// ConfigurationError is fatal at construction time and never
// per-request-recoverable.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}
