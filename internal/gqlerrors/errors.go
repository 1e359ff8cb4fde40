// Package gqlerrors defines the error envelope returned in GraphQL responses
// and the classification codes the pipeline attaches to each failure class.
package gqlerrors

import (
	"errors"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Machine-readable codes carried in error extensions.
const (
	CodeParseFailed                = "GRAPHQL_PARSE_FAILED"
	CodeValidationFailed           = "GRAPHQL_VALIDATION_FAILED"
	CodeBadUserInput               = "BAD_USER_INPUT"
	CodePersistedQueryNotFound     = "PERSISTED_QUERY_NOT_FOUND"
	CodePersistedQueryNotSupported = "PERSISTED_QUERY_NOT_SUPPORTED"
	CodeInternal                   = "INTERNAL_SERVER_ERROR"
)

// Location is a line/column position in the query source.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// QueryError is the uniform error shape placed into a response's errors list.
type QueryError struct {
	Message    string         `json:"message"`
	Locations  []Location     `json:"locations,omitempty"`
	Path       ast.Path       `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`

	err error
}

func (e *QueryError) Error() string { return e.Message }

func (e *QueryError) Unwrap() error { return e.err }

// Code returns the classification code, or empty when unclassified.
func (e *QueryError) Code() string {
	if e == nil || e.Extensions == nil {
		return ""
	}
	code, _ := e.Extensions["code"].(string)
	return code
}

func newWithCode(code, message string) *QueryError {
	return &QueryError{
		Message:    message,
		Extensions: map[string]any{"code": code},
	}
}

// NewSyntaxError classifies a parse failure from the query parser.
func NewSyntaxError(err error) *QueryError {
	qe := fromError(err)
	qe.setCode(CodeParseFailed)
	return qe
}

// NewValidationErrors classifies validator output, one entry per rule failure.
func NewValidationErrors(list gqlerror.List) []*QueryError {
	out := make([]*QueryError, 0, len(list))
	for _, gqlErr := range list {
		qe := fromGqlerror(gqlErr)
		qe.setCode(CodeValidationFailed)
		out = append(out, qe)
	}
	return out
}

// NewInvalidRequest marks a malformed or incomplete request.
func NewInvalidRequest(format string, args ...any) *QueryError {
	return newWithCode(CodeBadUserInput, fmt.Sprintf(format, args...))
}

// NewPersistedQueryNotFound signals the client must retry with the full query.
func NewPersistedQueryNotFound() *QueryError {
	return newWithCode(CodePersistedQueryNotFound, "PersistedQueryNotFound")
}

// NewPersistedQueryNotSupported signals no persisted-query store is configured.
func NewPersistedQueryNotSupported() *QueryError {
	return newWithCode(CodePersistedQueryNotSupported, "PersistedQueryNotSupported")
}

// NewExecutionError classifies an error thrown while executing the operation,
// as opposed to field errors already shaped by the execution engine.
func NewExecutionError(err error) *QueryError {
	qe := fromError(err)
	qe.setCode(CodeInternal)
	return qe
}

// NewInternalError classifies an unexpected failure inside the pipeline.
func NewInternalError(err error) *QueryError {
	qe := fromError(err)
	qe.setCode(CodeInternal)
	return qe
}

func (e *QueryError) setCode(code string) {
	if e.Extensions == nil {
		e.Extensions = map[string]any{}
	}
	if _, exists := e.Extensions["code"]; !exists {
		e.Extensions["code"] = code
	}
}

// fromError converts any error into a QueryError, preserving locations and
// path when the underlying error is a gqlerror.
func fromError(err error) *QueryError {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe
	}
	var gqlErr *gqlerror.Error
	if errors.As(err, &gqlErr) {
		return fromGqlerror(gqlErr)
	}
	return &QueryError{Message: err.Error(), err: err}
}

func fromGqlerror(gqlErr *gqlerror.Error) *QueryError {
	qe := &QueryError{
		Message: gqlErr.Message,
		Path:    gqlErr.Path,
		err:     gqlErr,
	}
	for _, loc := range gqlErr.Locations {
		qe.Locations = append(qe.Locations, Location{Line: loc.Line, Column: loc.Column})
	}
	if len(gqlErr.Extensions) > 0 {
		qe.Extensions = make(map[string]any, len(gqlErr.Extensions))
		for k, v := range gqlErr.Extensions {
			qe.Extensions[k] = v
		}
	}
	return qe
}

// IsPersistedQueryError reports whether the error is one of the APQ protocol
// accommodations that must keep a 200 status on single requests.
func IsPersistedQueryError(e *QueryError) bool {
	code := e.Code()
	return code == CodePersistedQueryNotFound || code == CodePersistedQueryNotSupported
}

// Mask hides internal error details unless debug is enabled. Classified
// non-internal errors pass through untouched.
func Mask(e *QueryError, debug bool) *QueryError {
	if debug || e.Code() != CodeInternal {
		return e
	}
	masked := &QueryError{
		Message:   "Internal server error",
		Locations: e.Locations,
		Path:      e.Path,
		Extensions: map[string]any{
			"code": CodeInternal,
		},
		err: e.err,
	}
	return masked
}

// WithException attaches debug detail under extensions.exception.
func (e *QueryError) WithException(detail map[string]any) *QueryError {
	if e.Extensions == nil {
		e.Extensions = map[string]any{}
	}
	e.Extensions["exception"] = detail
	return e
}
