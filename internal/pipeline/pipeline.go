// Package pipeline orchestrates one GraphQL request through its stages:
// resolve the query text (persisted queries), parse, validate, resolve the
// target operation, execute, and format the response. Plugins observe and may
// veto stages through lifecycle hooks; every GraphQL-shaped outcome, success
// or failure, passes through the format stage exactly once.
package pipeline

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/jensneuse/abstractlogger"

	"github.com/graphrelay/graphrelay/internal/apq"
	"github.com/graphrelay/graphrelay/internal/cachecontrol"
	"github.com/graphrelay/graphrelay/internal/datasource"
	"github.com/graphrelay/graphrelay/internal/eventbus"
	"github.com/graphrelay/graphrelay/internal/events"
	"github.com/graphrelay/graphrelay/internal/executor"
	"github.com/graphrelay/graphrelay/internal/gqlerrors"
	"github.com/graphrelay/graphrelay/internal/language"
	"github.com/graphrelay/graphrelay/internal/lifecycle"
)

// RootValueFunc computes the execution root from the parsed document. Use it
// when the root depends on the incoming operation.
type RootValueFunc func(doc *language.QueryDocument) any

// FormatErrorFunc rewrites one response error before it is sent.
type FormatErrorFunc func(*gqlerrors.QueryError) *gqlerrors.QueryError

// FormatResponseFunc rewrites the whole response before it is sent. Returning
// nil keeps the original response.
type FormatResponseFunc func(*Response, *RequestContext) *Response

// Config assembles a Pipeline.
type Config struct {
	Schema    *language.Schema
	Resolvers executor.ResolverMap

	// TypeResolver resolves concrete types for interface and union values.
	TypeResolver executor.TypeResolver
	// FieldResolver replaces the default source resolver for fields absent
	// from the resolver map.
	FieldResolver executor.Resolver
	// RootValue seeds execution. Either a plain value or a RootValueFunc.
	RootValue any

	// ValidationRules run after the standard rules.
	ValidationRules []language.ValidationRule

	Plugins []*Plugin

	// PersistedQueryStore enables the persisted-query protocol. Nil rejects
	// persisted-query requests as unsupported.
	PersistedQueryStore apq.KeyValueStore

	CacheControl cachecontrol.Config

	// DataSources, when set, builds a fresh data source map per request and
	// attaches it to the operation context before any resolver runs.
	DataSources datasource.Factory

	FormatError    FormatErrorFunc
	FormatResponse FormatResponseFunc

	// Debug exposes internal error messages instead of masking them.
	Debug bool

	Logger log.Logger
}

// Pipeline processes GraphQL requests. It is immutable after New and safe for
// concurrent use.
type Pipeline struct {
	cfg    Config
	engine *executor.Engine
	apq    *apq.Resolver
	log    log.Logger
}

// New validates the configuration and builds a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Schema == nil {
		return nil, gqlerrors.NewConfigurationError("schema is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NoopLogger
	}
	var opts []executor.Option
	if cfg.TypeResolver != nil {
		opts = append(opts, executor.WithTypeResolver(cfg.TypeResolver))
	}
	if cfg.FieldResolver != nil {
		opts = append(opts, executor.WithFieldResolver(cfg.FieldResolver))
	}
	return &Pipeline{
		cfg:    cfg,
		engine: executor.New(cfg.Schema, cfg.Resolvers, opts...),
		apq:    apq.NewResolver(cfg.PersistedQueryStore, cfg.Logger),
		log:    cfg.Logger,
	}, nil
}

// Run processes one request. The returned RequestContext always carries a
// Response when the error is nil. A non-nil error is a transport-level
// rejection (*gqlerrors.HTTPError) or an internal setup failure; neither has
// a GraphQL response body and neither reaches the format stage.
func (p *Pipeline) Run(ctx context.Context, req *Request, opCtx *OperationContext) (*RequestContext, error) {
	start := time.Now()

	rc := &RequestContext{
		Request: req,
		Context: opCtx.Clone(),
		Logger:  p.log,
		eventID: uuid.NewString(),
	}
	if p.cfg.CacheControl.Enabled {
		rc.CacheHints = cachecontrol.NewCollector()
	}

	if p.cfg.DataSources != nil {
		if rc.Context.DataSources != nil {
			return nil, gqlerrors.NewConfigurationError("operation context must not preset data sources when a factory is configured")
		}
		sources, err := datasource.Initialize(ctx, p.cfg.DataSources)
		if err != nil {
			return nil, err
		}
		rc.Context.DataSources = sources
	}

	d, err := lifecycle.NewDispatcher(p.cfg.Plugins, rc)
	if err != nil {
		return nil, err
	}

	// Resolve the query text. Persisted-query failures are protocol
	// accommodations, not request errors; they still format normally.
	resolution, qerr := p.apq.Resolve(ctx, req.Query, req.PersistedQuery)
	if qerr != nil {
		return p.fail(ctx, d, rc, start, qerr), nil
	}
	rc.QueryText = resolution.Query
	rc.QueryHash = resolution.Hash
	rc.PersistedQueryHit = resolution.Hit
	rc.PersistedQueryRegister = resolution.Register

	endParsing := d.ParsingDidStart(rc)
	doc, perr := language.ParseQuery(resolution.Query)
	if perr != nil {
		qe := gqlerrors.NewSyntaxError(perr)
		endParsing(qe)
		return p.fail(ctx, d, rc, start, qe), nil
	}
	endParsing(nil)
	rc.Document = doc

	endValidation := d.ValidationDidStart(rc)
	if list := language.Validate(p.cfg.Schema, doc, p.cfg.ValidationRules...); len(list) > 0 {
		qes := gqlerrors.NewValidationErrors(list)
		endValidation(validationFailure(qes))
		return p.fail(ctx, d, rc, start, qes...), nil
	}
	endValidation(nil)

	op := doc.Operations.ForName(req.OperationName)
	if op == nil && req.OperationName == "" && len(doc.Operations) == 1 {
		op = doc.Operations[0]
	}
	if op == nil {
		if req.OperationName == "" {
			return p.fail(ctx, d, rc, start,
				gqlerrors.NewInvalidRequest("Must provide operation name if query contains multiple operations.")), nil
		}
		return p.fail(ctx, d, rc, start,
			gqlerrors.NewInvalidRequest("Unknown operation named %q.", req.OperationName)), nil
	}
	rc.Operation = op
	if op.Name != "" {
		name := op.Name
		rc.OperationName = &name
	}

	if derr := d.DidResolveOperation(rc); derr != nil {
		return p.fail(ctx, d, rc, start, gqlerrors.NewExecutionError(derr)), nil
	}

	// Read-only transports may not run side-effecting operations. This is a
	// transport rejection: no GraphQL body, no format stage.
	if req.IsReadOnly() && op.Operation != language.Query {
		return nil, gqlerrors.NewMethodNotAllowed(
			"GET supports only query operation", http.MethodPost)
	}

	eventbus.Publish(ctx, events.OperationStart{
		ID:            rc.eventID,
		Query:         rc.QueryText,
		OperationName: req.OperationName,
		OperationType: string(op.Operation),
	})

	endExecution := d.ExecutionDidStart(rc)
	result, eerr := p.engine.Execute(ctx, executor.ExecuteParams{
		Document:      doc,
		Operation:     op,
		Variables:     req.Variables,
		Root:          p.rootValue(doc),
		CacheHints:    rc.CacheHints,
		DefaultMaxAge: p.cfg.CacheControl.DefaultMaxAge,
	})
	if eerr != nil {
		qe := gqlerrors.Mask(gqlerrors.NewExecutionError(eerr), p.cfg.Debug)
		if p.cfg.Debug {
			qe.WithException(map[string]any{"message": eerr.Error()})
		}
		endExecution(qe)
		return p.fail(ctx, d, rc, start, qe), nil
	}
	endExecution(nil)

	rc.Response = &Response{
		Data:    anyData(result),
		HasData: result.HasData,
		Errors:  result.Errors,
	}
	p.format(ctx, d, rc, start)
	return rc, nil
}

func (p *Pipeline) rootValue(doc *language.QueryDocument) any {
	switch rv := p.cfg.RootValue.(type) {
	case nil:
		return nil
	case RootValueFunc:
		return rv(doc)
	case func(*language.QueryDocument) any:
		return rv(doc)
	default:
		return rv
	}
}

// fail short-circuits the remaining stages with a request error. The response
// still passes through the format stage so plugins and formatters always see
// the final body.
func (p *Pipeline) fail(ctx context.Context, d *lifecycle.Dispatcher[*RequestContext], rc *RequestContext, start time.Time, errs ...*gqlerrors.QueryError) *RequestContext {
	rc.Response = &Response{Errors: errs}
	p.format(ctx, d, rc, start)
	return rc
}

// format is the single exit point for GraphQL-shaped outcomes. It notifies
// error observers, computes the cache policy, applies formatters, and fires
// WillSendResponse last so plugins see the exact response the client gets.
func (p *Pipeline) format(ctx context.Context, d *lifecycle.Dispatcher[*RequestContext], rc *RequestContext, start time.Time) {
	resp := rc.Response

	if resp.HasErrors() {
		// Error observers are advisory. A failing observer must not replace
		// the real response, so its error is only logged.
		if derr := d.DidEncounterErrors(rc); derr != nil {
			p.log.Error("pipeline: DidEncounterErrors hook failed", log.Error(derr))
		}
	}

	if rc.CacheHints != nil {
		rc.CachePolicy = rc.CacheHints.Overall()
		if p.cfg.CacheControl.IncludeExtensions {
			if ext := rc.CacheHints.Extension(); ext != nil {
				resp.AddExtension("cacheControl", ext)
			}
		}
	}

	if p.cfg.FormatError != nil && len(resp.Errors) > 0 {
		formatted := make([]*gqlerrors.QueryError, 0, len(resp.Errors))
		for _, qe := range resp.Errors {
			if out := p.cfg.FormatError(qe); out != nil {
				formatted = append(formatted, out)
			}
		}
		resp.Errors = formatted
	}

	if p.cfg.FormatResponse != nil {
		if out := p.cfg.FormatResponse(resp, rc); out != nil {
			rc.Response = out
			resp = out
		}
	}

	if werr := d.WillSendResponse(rc); werr != nil {
		p.log.Error("pipeline: WillSendResponse hook failed", log.Error(werr))
	}

	eventbus.Publish(ctx, events.OperationFinish{
		ID:            rc.eventID,
		Query:         rc.QueryText,
		OperationName: rc.Request.OperationName,
		OperationType: rc.OperationType(),
		Errors:        errorSlice(rc.Response.Errors),
		Duration:      time.Since(start),
	})
}

func validationFailure(qes []*gqlerrors.QueryError) error {
	joined := make([]error, len(qes))
	for i, qe := range qes {
		joined[i] = qe
	}
	return errors.Join(joined...)
}

func errorSlice(qes []*gqlerrors.QueryError) []error {
	if len(qes) == 0 {
		return nil
	}
	out := make([]error, len(qes))
	for i, qe := range qes {
		out[i] = qe
	}
	return out
}

func anyData(result *executor.Result) any {
	if !result.HasData || result.Data == nil {
		return nil
	}
	return result.Data
}
