// Package server exposes a GraphQL pipeline over HTTP. It parses GET and
// POST requests (single and batched), runs each operation through the
// pipeline, and maps outcomes to status codes, headers, and JSON bodies.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/jensneuse/abstractlogger"

	"github.com/graphrelay/graphrelay/internal/apq"
	"github.com/graphrelay/graphrelay/internal/eventbus"
	"github.com/graphrelay/graphrelay/internal/events"
	"github.com/graphrelay/graphrelay/internal/gqlerrors"
	"github.com/graphrelay/graphrelay/internal/pipeline"
	"github.com/graphrelay/graphrelay/internal/reqid"
)

// ContextFunc builds the operation context for one request. Returning an
// error rejects the request with a 500 before any operation runs.
type ContextFunc func(r *http.Request) (*pipeline.OperationContext, error)

// Handler is an http.Handler that serves a GraphQL endpoint.
type Handler struct {
	pipe *pipeline.Pipeline
	opt  Options
	log  log.Logger
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// GraphiQL enables the in-browser IDE when true.
	GraphiQL bool

	// Context builds the per-request operation context. When nil, a fresh
	// empty context is used for every request.
	Context ContextFunc

	Logger log.Logger
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithContext(f ContextFunc) Option  { return func(o *Options) { o.Context = f } }
func WithGraphiQL(enable bool) Option   { return func(o *Options) { o.GraphiQL = enable } }
func WithLogger(l log.Logger) Option    { return func(o *Options) { o.Logger = l } }

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates a GraphQL HTTP handler around a pipeline.
func New(pipe *pipeline.Pipeline, opts ...Option) (*Handler, error) {
	if pipe == nil {
		return nil, gqlerrors.NewConfigurationError("pipeline is required")
	}
	op := Options{Timeout: 10 * time.Second, GraphiQL: true, Logger: log.NoopLogger}
	for _, f := range opts {
		f(&op)
	}
	return &Handler{pipe: pipe, opt: op, log: op.Logger}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, _ = reqid.NewContext(ctx)
	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: status, Duration: time.Since(start)})
	}()

	if r.Method == http.MethodOptions {
		if len(h.opt.CORS.AllowedOrigins) > 0 {
			setCORSHeaders(w, r, h.opt.CORS)
		}
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		w.Header().Set("Allow", "GET, POST")
		writeText(w, status, "Only GET and POST requests are supported.")
		return
	}

	// Serve the in-browser IDE when enabled and the client expects HTML.
	if r.Method == http.MethodGet && h.opt.GraphiQL && acceptsHTML(r.Header.Get("Accept")) && r.URL.Query().Get("query") == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(graphiqlPage)
		return
	}

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}

	single, batch, herr := parseRequest(r, h.opt.MaxBodyBytes)
	if herr != nil {
		status = herr.StatusCode
		writeHTTPError(w, herr)
		return
	}

	opCtx, cerr := h.operationContext(r)
	if cerr != nil {
		h.log.Error("server: context function failed", log.Error(cerr))
		// A classified non-internal failure (auth, bad input) is the client's
		// fault; anything else stays an opaque 500.
		var qe *gqlerrors.QueryError
		if errors.As(cerr, &qe) && qe.Code() != "" && qe.Code() != gqlerrors.CodeInternal {
			status = http.StatusBadRequest
			h.writeJSON(w, status, &pipeline.Response{Errors: []*gqlerrors.QueryError{qe}})
			return
		}
		status = http.StatusInternalServerError
		writeText(w, status, "Internal server error")
		return
	}

	if batch != nil {
		// Batched requests always return 200; each slot carries its own
		// success or failure independently.
		results := make([]*pipeline.Response, len(batch))
		var wg sync.WaitGroup
		for i := range batch {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = h.executeOne(ctx, batch[i], opCtx)
			}(i)
		}
		wg.Wait()
		h.writeJSON(w, status, results)
		return
	}

	rc, err := h.pipe.Run(ctx, single, opCtx)
	if err != nil {
		var httpErr *gqlerrors.HTTPError
		if errors.As(err, &httpErr) {
			status = httpErr.StatusCode
			writeHTTPError(w, httpErr)
			return
		}
		h.log.Error("server: pipeline failed", log.Error(err))
		status = http.StatusInternalServerError
		writeText(w, status, "Internal server error")
		return
	}

	status = responseStatus(rc.Response)
	if rc.CachePolicy.Cacheable {
		w.Header().Set("Cache-Control", rc.CachePolicy.HeaderValue())
	}
	h.writeJSON(w, status, rc.Response)
}

// executeOne runs one batch member. Transport rejections and internal
// failures are folded into the slot's GraphQL errors since a batch has a
// single status line for all members.
func (h *Handler) executeOne(ctx context.Context, req *pipeline.Request, opCtx *pipeline.OperationContext) *pipeline.Response {
	rc, err := h.pipe.Run(ctx, req, opCtx)
	if err != nil {
		var httpErr *gqlerrors.HTTPError
		if errors.As(err, &httpErr) {
			return &pipeline.Response{Errors: []*gqlerrors.QueryError{
				gqlerrors.NewInvalidRequest("%s", httpErr.Message),
			}}
		}
		h.log.Error("server: pipeline failed", log.Error(err))
		return &pipeline.Response{Errors: []*gqlerrors.QueryError{
			gqlerrors.NewInternalError(err),
		}}
	}
	return rc.Response
}

func (h *Handler) operationContext(r *http.Request) (*pipeline.OperationContext, error) {
	if h.opt.Context == nil {
		return nil, nil
	}
	return h.opt.Context(r)
}

// responseStatus maps a single response to its HTTP status. A response with
// errors and no data is a request failure, except persisted-query protocol
// accommodations which must stay 200 so clients retry with the full query.
func responseStatus(resp *pipeline.Response) int {
	if resp.HasData || !resp.HasErrors() {
		return http.StatusOK
	}
	for _, qe := range resp.Errors {
		if !gqlerrors.IsPersistedQueryError(qe) {
			return http.StatusBadRequest
		}
	}
	return http.StatusOK
}

// ------------------ Request parsing ------------------

type wireRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

func (wr wireRequest) toPipeline(r *http.Request) *pipeline.Request {
	req := &pipeline.Request{
		Query:         wr.Query,
		OperationName: wr.OperationName,
		Variables:     wr.Variables,
		Extensions:    wr.Extensions,
		Method:        r.Method,
		URL:           r.URL.String(),
		Header:        r.Header,
	}
	if raw, ok := wr.Extensions["persistedQuery"]; ok {
		if ext := decodePersistedQuery(raw); ext != nil {
			req.PersistedQuery = ext
		}
	}
	return req
}

func decodePersistedQuery(raw any) *apq.Extension {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var ext apq.Extension
	if err := json.Unmarshal(b, &ext); err != nil {
		return nil
	}
	return &ext
}

func parseRequest(r *http.Request, maxBody int64) (*pipeline.Request, []*pipeline.Request, *gqlerrors.HTTPError) {
	if r.Method == http.MethodGet {
		return parseGetRequest(r)
	}

	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return nil, nil, gqlerrors.NewHTTPError(http.StatusUnsupportedMediaType, "unsupported Content-Type")
	}

	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, gqlerrors.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}
	defer r.Body.Close()
	if maxBody > 0 && int64(len(body)) > maxBody {
		return nil, nil, gqlerrors.NewHTTPError(http.StatusRequestEntityTooLarge, "body too large")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		// A missing POST body is a server-side integration problem, not a
		// malformed query.
		return nil, nil, gqlerrors.NewHTTPError(http.StatusInternalServerError, "POST body missing.")
	}

	if body[0] == '[' {
		var arr []wireRequest
		if err := json.Unmarshal(body, &arr); err != nil {
			return nil, nil, gqlerrors.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
		}
		if len(arr) == 0 {
			return nil, nil, gqlerrors.NewHTTPError(http.StatusBadRequest, "empty batch")
		}
		batch := make([]*pipeline.Request, len(arr))
		for i, wr := range arr {
			batch[i] = wr.toPipeline(r)
		}
		return nil, batch, nil
	}

	var wr wireRequest
	if err := json.Unmarshal(body, &wr); err != nil {
		return nil, nil, gqlerrors.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	return wr.toPipeline(r), nil, nil
}

// parseGetRequest reads the operation from the query string. variables and
// extensions arrive JSON-encoded inside their parameters.
func parseGetRequest(r *http.Request) (*pipeline.Request, []*pipeline.Request, *gqlerrors.HTTPError) {
	q := r.URL.Query()
	wr := wireRequest{
		Query:         q.Get("query"),
		OperationName: q.Get("operationName"),
	}
	if v := q.Get("variables"); v != "" {
		if err := json.Unmarshal([]byte(v), &wr.Variables); err != nil {
			return nil, nil, gqlerrors.NewHTTPError(http.StatusBadRequest, "Variables are invalid JSON.")
		}
	}
	if e := q.Get("extensions"); e != "" {
		if err := json.Unmarshal([]byte(e), &wr.Extensions); err != nil {
			return nil, nil, gqlerrors.NewHTTPError(http.StatusBadRequest, "Extensions are invalid JSON.")
		}
	}
	if wr.Query == "" && wr.Extensions == nil {
		return nil, nil, gqlerrors.NewHTTPError(http.StatusBadRequest, "GET query missing.")
	}
	return wr.toPipeline(r), nil, nil
}

// ------------------ Response writing ------------------

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if h.opt.Pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		h.log.Error("server: response encoding failed", log.Error(err))
		writeText(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func writeHTTPError(w http.ResponseWriter, herr *gqlerrors.HTTPError) {
	for k, v := range herr.Headers {
		w.Header().Set(k, v)
	}
	if herr.IsGraphQLError {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(herr.StatusCode)
		_, _ = io.WriteString(w, herr.Message)
		return
	}
	writeText(w, herr.StatusCode, herr.Message)
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg+"\n")
}

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func acceptsHTML(accept string) bool {
	if accept == "" {
		return false
	}
	for _, p := range strings.Split(accept, ",") {
		p = strings.TrimSpace(p)
		if strings.HasPrefix(p, "text/html") || p == "*/*" {
			return true
		}
	}
	return false
}
