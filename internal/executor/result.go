package executor

import "github.com/graphrelay/graphrelay/internal/gqlerrors"

// Result is the outcome of executing one operation. Field errors are already
// shaped; they are not exceptions. HasData distinguishes "data": null from an
// absent data key (request errors produce no data at all).
type Result struct {
	Data    map[string]any
	HasData bool
	Errors  []*gqlerrors.QueryError
}
