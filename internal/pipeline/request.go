package pipeline

import (
	"net/http"

	"github.com/graphrelay/graphrelay/internal/apq"
	"github.com/graphrelay/graphrelay/internal/datasource"
)

// Request is the immutable input for one operation. It is created once per
// incoming operation and never mutated after parsing.
type Request struct {
	// Query is the literal query text. Empty when the operation arrives as a
	// persisted-query hash.
	Query         string
	OperationName string
	Variables     map[string]any
	// Extensions is the raw extensions block.
	Extensions map[string]any
	// PersistedQuery is the decoded persistedQuery extension, if present.
	PersistedQuery *apq.Extension

	// Transport metadata.
	Method string
	URL    string
	Header http.Header
}

// IsReadOnly reports whether the transport marked this request as a
// read-only (GET) request, which restricts it to query operations.
func (r *Request) IsReadOnly() bool {
	return r.Method == http.MethodGet
}

// OperationContext is the application-defined context value for one request:
// caller-owned Values plus the fields the pipeline is allowed to add.
// DataSources is reserved for the pipeline; callers must leave it nil.
type OperationContext struct {
	Values      map[string]any
	DataSources map[string]datasource.DataSource
}

// Clone makes a per-request shallow copy so mutations (such as attaching
// data sources) cannot leak across requests sharing one configured context.
func (c *OperationContext) Clone() *OperationContext {
	if c == nil {
		return &OperationContext{}
	}
	out := &OperationContext{
		DataSources: c.DataSources,
	}
	if c.Values != nil {
		out.Values = make(map[string]any, len(c.Values))
		for k, v := range c.Values {
			out.Values[k] = v
		}
	}
	return out
}
