// Package cachecontrol collects per-field cache hints during execution and
// aggregates them into response-level HTTP cache directives.
package cachecontrol

import (
	"fmt"
	"strconv"
	"sync"

	language "github.com/graphrelay/graphrelay/internal/language"
)

// Scope restricts who may cache a response.
type Scope string

const (
	ScopePublic  Scope = "PUBLIC"
	ScopePrivate Scope = "PRIVATE"
)

// Hint is a single field's cacheability annotation.
type Hint struct {
	MaxAge int
	Scope  Scope
}

// Config controls cache-control computation for a handler.
type Config struct {
	// Enabled turns hint collection and header computation on.
	Enabled bool
	// DefaultMaxAge applies to root and object-typed fields without an
	// explicit hint. Zero leaves unhinted fields uncacheable.
	DefaultMaxAge int
	// IncludeExtensions adds the collected hints to response extensions.
	IncludeExtensions bool
}

// Policy is the aggregate over all hints collected for one response.
type Policy struct {
	MaxAge    int
	Scope     Scope
	Cacheable bool
}

// HeaderValue renders the Cache-Control header for a cacheable policy.
func (p Policy) HeaderValue() string {
	scope := "public"
	if p.Scope == ScopePrivate {
		scope = "private"
	}
	return fmt.Sprintf("max-age=%d, %s", p.MaxAge, scope)
}

// PathHint pairs a hint with the response path it was recorded at, for the
// cacheControl response extension.
type PathHint struct {
	Path   language.Path `json:"path"`
	MaxAge int           `json:"maxAge"`
	Scope  Scope         `json:"scope"`
}

// Collector accumulates hints for a single response. It is request-scoped;
// the mutex only covers resolvers that fan out internally.
type Collector struct {
	mu    sync.Mutex
	hints []PathHint
}

func NewCollector() *Collector { return &Collector{} }

// Add records a hint at the given response path.
func (c *Collector) Add(path language.Path, h Hint) {
	if h.Scope == "" {
		h.Scope = ScopePublic
	}
	c.mu.Lock()
	c.hints = append(c.hints, PathHint{Path: path, MaxAge: h.MaxAge, Scope: h.Scope})
	c.mu.Unlock()
}

// Hints returns the recorded hints in collection order.
func (c *Collector) Hints() []PathHint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]PathHint(nil), c.hints...)
}

// Overall aggregates the collected hints. The response max-age is the minimum
// across all hints; any zero max-age marks the whole response uncacheable, as
// does an empty hint set. Scope is private as soon as one hint is private.
func (c *Collector) Overall() Policy {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.hints) == 0 {
		return Policy{}
	}
	policy := Policy{MaxAge: c.hints[0].MaxAge, Scope: ScopePublic, Cacheable: true}
	for _, h := range c.hints {
		if h.MaxAge == 0 {
			return Policy{Scope: policy.Scope}
		}
		if h.MaxAge < policy.MaxAge {
			policy.MaxAge = h.MaxAge
		}
		if h.Scope == ScopePrivate {
			policy.Scope = ScopePrivate
		}
	}
	return policy
}

// HintForField reads the @cacheControl directive for a field. The field
// definition takes precedence; otherwise the directive on the field's return
// type applies. defaultMaxAge fills in for hinted fields without maxAge and
// for unhinted composite fields.
func HintForField(schema *language.Schema, def *language.FieldDefinition, defaultMaxAge int) (Hint, bool) {
	if def == nil {
		return Hint{}, false
	}
	if h, ok := hintFromDirective(def.Directives.ForName("cacheControl"), defaultMaxAge); ok {
		return h, true
	}
	if typeDef := schema.Types[def.Type.Name()]; typeDef != nil {
		if h, ok := hintFromDirective(typeDef.Directives.ForName("cacheControl"), defaultMaxAge); ok {
			return h, true
		}
		// Composite fields without any hint inherit the default so that an
		// unannotated object in the middle of a query pins the response to
		// the configured floor (or marks it uncacheable when zero).
		if typeDef.Kind == language.Object || typeDef.Kind == language.Interface || typeDef.Kind == language.Union {
			return Hint{MaxAge: defaultMaxAge}, true
		}
	}
	return Hint{}, false
}

func hintFromDirective(d *language.Directive, defaultMaxAge int) (Hint, bool) {
	if d == nil {
		return Hint{}, false
	}
	h := Hint{MaxAge: defaultMaxAge, Scope: ScopePublic}
	if arg := d.Arguments.ForName("maxAge"); arg != nil && arg.Value != nil {
		if n, err := strconv.Atoi(arg.Value.Raw); err == nil {
			h.MaxAge = n
		}
	}
	if arg := d.Arguments.ForName("scope"); arg != nil && arg.Value != nil {
		if Scope(arg.Value.Raw) == ScopePrivate {
			h.Scope = ScopePrivate
		}
	}
	return h, true
}

// Extension is the value placed under response extensions when
// IncludeExtensions is set.
func (c *Collector) Extension() map[string]any {
	hints := c.Hints()
	if len(hints) == 0 {
		return nil
	}
	return map[string]any{
		"version": 1,
		"hints":   hints,
	}
}
