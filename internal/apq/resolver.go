// Package apq implements the automatic persisted query protocol: clients may
// send a SHA-256 hash instead of the full query text after registering the
// pair once. Lookups and registrations go through a pluggable KeyValueStore.
package apq

import (
	"context"

	log "github.com/jensneuse/abstractlogger"

	"github.com/graphrelay/graphrelay/internal/eventbus"
	"github.com/graphrelay/graphrelay/internal/events"
	"github.com/graphrelay/graphrelay/internal/gqlerrors"
)

// KeyPrefix namespaces persisted-query entries in the store.
const KeyPrefix = "apq:"

// SupportedVersion is the only persisted-query protocol version accepted.
const SupportedVersion = 1

// Extension is the persistedQuery block of a request's extensions.
type Extension struct {
	Version    int    `json:"version"`
	Sha256Hash string `json:"sha256Hash"`
}

// Resolution is the outcome of resolving a request's query text.
type Resolution struct {
	// Query is the literal query text to parse.
	Query string
	// Hash is the fingerprint of Query.
	Hash string
	// Hit is true when the text was retrieved from the store by hash.
	Hit bool
	// Register is true when a hash+text pair was accepted for registration.
	Register bool
}

// Resolver applies the persisted-query protocol to incoming requests.
// A nil store means the protocol is not supported.
type Resolver struct {
	store KeyValueStore
	log   log.Logger
}

// NewResolver builds a Resolver. store may be nil; logger must not be nil
// (use abstractlogger.NoopLogger).
func NewResolver(store KeyValueStore, logger log.Logger) *Resolver {
	return &Resolver{store: store, log: logger}
}

// Resolve determines the query text for a request, consulting or updating the
// store per the protocol. Registration writes are fire-and-forget: they never
// delay or fail the response.
func (r *Resolver) Resolve(ctx context.Context, query string, ext *Extension) (Resolution, *gqlerrors.QueryError) {
	if ext == nil {
		if query == "" {
			return Resolution{}, gqlerrors.NewInvalidRequest("Must provide query string.")
		}
		return Resolution{Query: query, Hash: Fingerprint(query)}, nil
	}

	if r.store == nil {
		return Resolution{}, gqlerrors.NewPersistedQueryNotSupported()
	}
	if ext.Version != SupportedVersion {
		return Resolution{}, gqlerrors.NewInvalidRequest("Unsupported persisted query version.")
	}
	if ext.Sha256Hash == "" {
		if query == "" {
			return Resolution{}, gqlerrors.NewInvalidRequest("Must provide query string.")
		}
		return Resolution{Query: query, Hash: Fingerprint(query)}, nil
	}

	if query == "" {
		stored, ok, err := r.store.Get(ctx, KeyPrefix+ext.Sha256Hash)
		if err != nil {
			r.log.Error("apq: persisted query lookup failed",
				log.String("hash", ext.Sha256Hash),
				log.Error(err),
			)
			return Resolution{}, gqlerrors.NewPersistedQueryNotFound()
		}
		if !ok {
			return Resolution{}, gqlerrors.NewPersistedQueryNotFound()
		}
		eventbus.Publish(ctx, events.PersistedQueryHit{Hash: ext.Sha256Hash})
		return Resolution{Query: stored, Hash: ext.Sha256Hash, Hit: true}, nil
	}

	if Fingerprint(query) != ext.Sha256Hash {
		return Resolution{}, gqlerrors.NewInvalidRequest("provided sha does not match query")
	}

	eventbus.Publish(ctx, events.PersistedQueryRegister{Hash: ext.Sha256Hash})
	r.storeAsync(ctx, ext.Sha256Hash, query)
	return Resolution{Query: query, Hash: ext.Sha256Hash, Register: true}, nil
}

// storeAsync writes the registration in a detached goroutine. A slow or
// failing store backend must not add request latency or cause request
// failure, so errors are only logged and published.
func (r *Resolver) storeAsync(ctx context.Context, hash, query string) {
	bg := context.WithoutCancel(ctx)
	go func() {
		if err := r.store.Set(bg, KeyPrefix+hash, query); err != nil {
			r.log.Error("apq: failed to store persisted query",
				log.String("hash", hash),
				log.Error(err),
			)
			eventbus.Publish(bg, events.PersistedQueryWriteFailure{Hash: hash, Err: err})
		}
	}()
}
