// Package datasource wires auxiliary per-request stateful helpers into the
// execution context exactly once per request.
package datasource

import (
	"context"
	"fmt"
)

// DataSource is any request-scoped helper exposed to resolvers. Helpers that
// need per-request setup implement Initializer.
type DataSource any

// Initializer is the optional setup capability of a DataSource.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Factory builds a fresh set of data sources. It is invoked once per request
// so no instance state leaks across requests.
type Factory func() map[string]DataSource

// Initialize creates the request's data sources and runs their initializers.
// An initializer failure aborts the whole set; data sources are wired before
// any resolver runs, so a partial set is never observable.
func Initialize(ctx context.Context, factory Factory) (map[string]DataSource, error) {
	if factory == nil {
		return nil, nil
	}
	sources := factory()
	for name, ds := range sources {
		init, ok := ds.(Initializer)
		if !ok {
			continue
		}
		if err := init.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("initialize data source %q: %w", name, err)
		}
	}
	return sources, nil
}
