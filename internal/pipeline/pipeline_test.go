package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/graphrelay/graphrelay/internal/apq"
	"github.com/graphrelay/graphrelay/internal/cachecontrol"
	"github.com/graphrelay/graphrelay/internal/datasource"
	"github.com/graphrelay/graphrelay/internal/executor"
	"github.com/graphrelay/graphrelay/internal/gqlerrors"
	"github.com/graphrelay/graphrelay/internal/language"
)

const testSDL = `
type Query {
  testString: String
  fail: String
  cached: String @cacheControl(maxAge: 60)
  secret: String @cacheControl(maxAge: 30, scope: PRIVATE)
}

type Mutation {
  bump: Int
}
`

func testResolvers() executor.ResolverMap {
	return executor.ResolverMap{
		"Query.testString": func(p executor.ResolveParams) (any, error) {
			return "it works", nil
		},
		"Query.fail": func(p executor.ResolveParams) (any, error) {
			return nil, errors.New("resolver blew up")
		},
		"Query.cached": func(p executor.ResolveParams) (any, error) {
			return "cached", nil
		},
		"Query.secret": func(p executor.ResolveParams) (any, error) {
			return "secret", nil
		},
		"Mutation.bump": func(p executor.ResolveParams) (any, error) {
			return 1, nil
		},
	}
}

func mustPipeline(t *testing.T, mutate func(*Config)) *Pipeline {
	t.Helper()
	schema, err := language.LoadSchema("test.graphql", testSDL)
	if err != nil {
		t.Fatalf("load schema: %v", err)
	}
	cfg := Config{Schema: schema, Resolvers: testResolvers()}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p
}

func run(t *testing.T, p *Pipeline, req *Request) *RequestContext {
	t.Helper()
	rc, err := p.Run(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rc.Response == nil {
		t.Fatal("no response on request context")
	}
	return rc
}

func errorCodes(resp *Response) []string {
	var codes []string
	for _, qe := range resp.Errors {
		codes = append(codes, qe.Code())
	}
	return codes
}

func TestQueryExecutes(t *testing.T) {
	p := mustPipeline(t, nil)
	rc := run(t, p, &Request{Query: "{ testString }", Method: http.MethodPost})

	if len(rc.Response.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", rc.Response.Errors)
	}
	want := map[string]any{"testString": "it works"}
	if diff := cmp.Diff(want, rc.Response.Data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
	if !rc.Response.HasData {
		t.Error("expected HasData")
	}
	if rc.QueryHash != apq.Fingerprint("{ testString }") {
		t.Errorf("unexpected query hash %q", rc.QueryHash)
	}
}

func TestParseFailure(t *testing.T) {
	p := mustPipeline(t, nil)
	rc := run(t, p, &Request{Query: "{ testString", Method: http.MethodPost})

	if rc.Response.HasData {
		t.Error("parse failure must not produce data")
	}
	if diff := cmp.Diff([]string{gqlerrors.CodeParseFailed}, errorCodes(rc.Response)); diff != "" {
		t.Errorf("codes mismatch (-want +got):\n%s", diff)
	}
}

func TestValidationFailure(t *testing.T) {
	p := mustPipeline(t, nil)
	rc := run(t, p, &Request{Query: "{ nope }", Method: http.MethodPost})

	if rc.Response.HasData {
		t.Error("validation failure must not produce data")
	}
	for _, code := range errorCodes(rc.Response) {
		if code != gqlerrors.CodeValidationFailed {
			t.Errorf("unexpected code %q", code)
		}
	}
	if len(rc.Response.Errors) == 0 {
		t.Fatal("expected validation errors")
	}
}

func TestOperationSelection(t *testing.T) {
	p := mustPipeline(t, nil)
	query := "query A { testString } query B { cached }"

	rc := run(t, p, &Request{Query: query, OperationName: "B", Method: http.MethodPost})
	want := map[string]any{"cached": "cached"}
	if diff := cmp.Diff(want, rc.Response.Data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
	if rc.OperationName == nil || *rc.OperationName != "B" {
		t.Errorf("operation name not resolved: %v", rc.OperationName)
	}

	rc = run(t, p, &Request{Query: query, Method: http.MethodPost})
	if diff := cmp.Diff([]string{gqlerrors.CodeBadUserInput}, errorCodes(rc.Response)); diff != "" {
		t.Errorf("missing-name codes mismatch (-want +got):\n%s", diff)
	}

	rc = run(t, p, &Request{Query: query, OperationName: "C", Method: http.MethodPost})
	if diff := cmp.Diff([]string{gqlerrors.CodeBadUserInput}, errorCodes(rc.Response)); diff != "" {
		t.Errorf("unknown-name codes mismatch (-want +got):\n%s", diff)
	}
}

func TestAnonymousOperationResolves(t *testing.T) {
	p := mustPipeline(t, nil)
	rc := run(t, p, &Request{Query: "{ testString }", Method: http.MethodPost})
	if rc.OperationName != nil {
		t.Errorf("anonymous operation must leave OperationName nil, got %q", *rc.OperationName)
	}
	if rc.OperationType() != "query" {
		t.Errorf("unexpected operation type %q", rc.OperationType())
	}
}

func TestGetMutationRejectedBeforeExecution(t *testing.T) {
	executed := false
	p := mustPipeline(t, func(cfg *Config) {
		cfg.Resolvers["Mutation.bump"] = func(pr executor.ResolveParams) (any, error) {
			executed = true
			return 1, nil
		}
	})

	rc, err := p.Run(context.Background(), &Request{
		Query:  "mutation { bump }",
		Method: http.MethodGet,
	}, nil)
	if rc != nil {
		t.Error("transport rejection must not return a request context")
	}
	var httpErr *gqlerrors.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", httpErr.StatusCode)
	}
	if got := httpErr.Headers["Allow"]; got != http.MethodPost {
		t.Errorf("Allow = %q, want POST", got)
	}
	if executed {
		t.Error("mutation resolver ran despite rejection")
	}
}

func TestPersistedQueryRoundTrip(t *testing.T) {
	store, err := apq.NewLRUStore(apq.DefaultStoreSize)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	p := mustPipeline(t, func(cfg *Config) {
		cfg.PersistedQueryStore = store
	})

	query := "{ testString }"
	hash := apq.Fingerprint(query)
	ext := &apq.Extension{Version: apq.SupportedVersion, Sha256Hash: hash}

	// Hash-only before registration.
	rc := run(t, p, &Request{PersistedQuery: ext, Method: http.MethodPost})
	if diff := cmp.Diff([]string{gqlerrors.CodePersistedQueryNotFound}, errorCodes(rc.Response)); diff != "" {
		t.Fatalf("miss codes mismatch (-want +got):\n%s", diff)
	}

	// Registration carries both text and hash.
	rc = run(t, p, &Request{Query: query, PersistedQuery: ext, Method: http.MethodPost})
	if len(rc.Response.Errors) != 0 {
		t.Fatalf("registration failed: %v", rc.Response.Errors)
	}
	if !rc.PersistedQueryRegister {
		t.Error("expected register flag")
	}

	// The write is asynchronous.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok, _ := store.Get(context.Background(), apq.KeyPrefix+hash); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("registration write never landed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Hash-only after registration.
	rc = run(t, p, &Request{PersistedQuery: ext, Method: http.MethodPost})
	if len(rc.Response.Errors) != 0 {
		t.Fatalf("hit failed: %v", rc.Response.Errors)
	}
	if !rc.PersistedQueryHit {
		t.Error("expected hit flag")
	}
	if rc.QueryText != query {
		t.Errorf("resolved text = %q, want %q", rc.QueryText, query)
	}
	want := map[string]any{"testString": "it works"}
	if diff := cmp.Diff(want, rc.Response.Data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestPersistedQueryNotSupported(t *testing.T) {
	p := mustPipeline(t, nil)
	rc := run(t, p, &Request{
		PersistedQuery: &apq.Extension{Version: apq.SupportedVersion, Sha256Hash: apq.Fingerprint("{ testString }")},
		Method:         http.MethodPost,
	})
	if diff := cmp.Diff([]string{gqlerrors.CodePersistedQueryNotSupported}, errorCodes(rc.Response)); diff != "" {
		t.Errorf("codes mismatch (-want +got):\n%s", diff)
	}
}

func TestListenerOrderAndShortCircuit(t *testing.T) {
	var calls []string
	record := func(name string) *Plugin {
		return &Plugin{RequestDidStart: func(rc *RequestContext) *RequestListener {
			calls = append(calls, name+":requestDidStart")
			return &RequestListener{
				ParsingDidStart: func(rc *RequestContext) EndFunc {
					calls = append(calls, name+":parsingDidStart")
					return func(err error) { calls = append(calls, name+":parsingDidEnd") }
				},
				ValidationDidStart: func(rc *RequestContext) EndFunc {
					calls = append(calls, name+":validationDidStart")
					return func(err error) { calls = append(calls, name+":validationDidEnd") }
				},
				DidResolveOperation: func(rc *RequestContext) error {
					calls = append(calls, name+":didResolveOperation")
					return nil
				},
				ExecutionDidStart: func(rc *RequestContext) EndFunc {
					calls = append(calls, name+":executionDidStart")
					return func(err error) { calls = append(calls, name+":executionDidEnd") }
				},
				WillSendResponse: func(rc *RequestContext) error {
					calls = append(calls, name+":willSendResponse")
					return nil
				},
			}
		}}
	}
	p := mustPipeline(t, func(cfg *Config) {
		cfg.Plugins = []*Plugin{record("p1"), record("p2")}
	})

	run(t, p, &Request{Query: "{ testString }", Method: http.MethodPost})

	want := []string{
		"p1:requestDidStart", "p2:requestDidStart",
		"p1:parsingDidStart", "p2:parsingDidStart",
		"p1:parsingDidEnd", "p2:parsingDidEnd",
		"p1:validationDidStart", "p2:validationDidStart",
		"p1:validationDidEnd", "p2:validationDidEnd",
		"p1:didResolveOperation", "p2:didResolveOperation",
		"p1:executionDidStart", "p2:executionDidStart",
		"p1:executionDidEnd", "p2:executionDidEnd",
		"p1:willSendResponse", "p2:willSendResponse",
	}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Errorf("call order mismatch (-want +got):\n%s", diff)
	}
}

func TestDidResolveOperationVeto(t *testing.T) {
	executed := false
	p := mustPipeline(t, func(cfg *Config) {
		cfg.Resolvers["Query.testString"] = func(pr executor.ResolveParams) (any, error) {
			executed = true
			return "nope", nil
		}
		cfg.Plugins = []*Plugin{{RequestDidStart: func(rc *RequestContext) *RequestListener {
			return &RequestListener{
				DidResolveOperation: func(rc *RequestContext) error {
					return errors.New("operation depth exceeded")
				},
			}
		}}}
	})

	rc := run(t, p, &Request{Query: "{ testString }", Method: http.MethodPost})
	if executed {
		t.Error("execution ran despite veto")
	}
	if rc.Response.HasData {
		t.Error("vetoed request must not carry data")
	}
	if len(rc.Response.Errors) != 1 || rc.Response.Errors[0].Message != "operation depth exceeded" {
		t.Errorf("unexpected errors: %v", rc.Response.Errors)
	}
}

func TestWillSendResponseSeesFailures(t *testing.T) {
	var seen []*Response
	p := mustPipeline(t, func(cfg *Config) {
		cfg.Plugins = []*Plugin{{RequestDidStart: func(rc *RequestContext) *RequestListener {
			return &RequestListener{
				WillSendResponse: func(rc *RequestContext) error {
					seen = append(seen, rc.Response)
					return nil
				},
			}
		}}}
	})

	run(t, p, &Request{Query: "{ testString", Method: http.MethodPost})
	run(t, p, &Request{Query: "{ testString }", Method: http.MethodPost})

	if len(seen) != 2 {
		t.Fatalf("willSendResponse fired %d times, want 2", len(seen))
	}
	if !seen[0].HasErrors() || seen[0].HasData {
		t.Error("first response should be the parse failure")
	}
	if seen[1].HasErrors() || !seen[1].HasData {
		t.Error("second response should be the success")
	}
}

func TestCachePolicyAndExtension(t *testing.T) {
	p := mustPipeline(t, func(cfg *Config) {
		cfg.CacheControl = cachecontrol.Config{Enabled: true, IncludeExtensions: true}
	})

	rc := run(t, p, &Request{Query: "{ cached secret }", Method: http.MethodPost})
	if !rc.CachePolicy.Cacheable {
		t.Fatal("expected cacheable policy")
	}
	if rc.CachePolicy.MaxAge != 30 {
		t.Errorf("maxAge = %d, want 30", rc.CachePolicy.MaxAge)
	}
	if rc.CachePolicy.Scope != cachecontrol.ScopePrivate {
		t.Errorf("scope = %q, want PRIVATE", rc.CachePolicy.Scope)
	}
	if rc.Response.Extensions["cacheControl"] == nil {
		t.Error("cacheControl extension missing")
	}

	// An unhinted field makes the response uncacheable.
	rc = run(t, p, &Request{Query: "{ cached testString }", Method: http.MethodPost})
	if rc.CachePolicy.Cacheable {
		t.Error("unhinted field must not be cacheable")
	}
}

func TestFormatters(t *testing.T) {
	p := mustPipeline(t, func(cfg *Config) {
		cfg.FormatError = func(qe *gqlerrors.QueryError) *gqlerrors.QueryError {
			qe.Message = "redacted"
			return qe
		}
		cfg.FormatResponse = func(resp *Response, rc *RequestContext) *Response {
			resp.AddExtension("requestHash", rc.QueryHash)
			return resp
		}
	})

	rc := run(t, p, &Request{Query: "{ fail }", Method: http.MethodPost})
	if len(rc.Response.Errors) != 1 || rc.Response.Errors[0].Message != "redacted" {
		t.Errorf("formatError not applied: %v", rc.Response.Errors)
	}
	if rc.Response.Extensions["requestHash"] != apq.Fingerprint("{ fail }") {
		t.Error("formatResponse not applied")
	}
}

type testDataSource struct {
	initialized bool
	failWith    error
}

func (d *testDataSource) Initialize(ctx context.Context) error {
	d.initialized = true
	return d.failWith
}

func TestDataSourcesAttachedPerRequest(t *testing.T) {
	var created []*testDataSource
	p := mustPipeline(t, func(cfg *Config) {
		cfg.Resolvers["Query.testString"] = func(pr executor.ResolveParams) (any, error) {
			return "it works", nil
		}
		cfg.DataSources = func() map[string]datasource.DataSource {
			ds := &testDataSource{}
			created = append(created, ds)
			return map[string]datasource.DataSource{"api": ds}
		}
		cfg.Plugins = []*Plugin{{RequestDidStart: func(rc *RequestContext) *RequestListener {
			return &RequestListener{
				DidResolveOperation: func(rc *RequestContext) error {
					if rc.Context.DataSources["api"] == nil {
						return errors.New("data source missing")
					}
					return nil
				},
			}
		}}}
	})

	run(t, p, &Request{Query: "{ testString }", Method: http.MethodPost})
	run(t, p, &Request{Query: "{ testString }", Method: http.MethodPost})

	if len(created) != 2 {
		t.Fatalf("factory ran %d times, want once per request", len(created))
	}
	if created[0] == created[1] {
		t.Error("data source instance shared across requests")
	}
	for i, ds := range created {
		if !ds.initialized {
			t.Errorf("data source %d never initialized", i)
		}
	}
}

func TestDataSourcesConflictRejected(t *testing.T) {
	p := mustPipeline(t, func(cfg *Config) {
		cfg.DataSources = func() map[string]datasource.DataSource {
			return map[string]datasource.DataSource{"api": &testDataSource{}}
		}
	})

	preset := &OperationContext{DataSources: map[string]datasource.DataSource{"api": &testDataSource{}}}
	_, err := p.Run(context.Background(), &Request{Query: "{ testString }", Method: http.MethodPost}, preset)
	var cfgErr *gqlerrors.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestOperationContextIsolation(t *testing.T) {
	shared := &OperationContext{Values: map[string]any{"tenant": "a"}}
	p := mustPipeline(t, func(cfg *Config) {
		cfg.Plugins = []*Plugin{{RequestDidStart: func(rc *RequestContext) *RequestListener {
			return &RequestListener{
				DidResolveOperation: func(rc *RequestContext) error {
					rc.Context.Values["touched"] = true
					return nil
				},
			}
		}}}
	})

	rc, err := p.Run(context.Background(), &Request{Query: "{ testString }", Method: http.MethodPost}, shared)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rc.Context == shared {
		t.Fatal("request context must not share the configured operation context")
	}
	if _, leaked := shared.Values["touched"]; leaked {
		t.Error("per-request mutation leaked into the shared context")
	}
}

func TestResponseMarshalShapes(t *testing.T) {
	cases := []struct {
		name string
		resp *Response
		want string
	}{
		{
			name: "data only",
			resp: &Response{Data: map[string]any{"a": 1}, HasData: true},
			want: `{"data":{"a":1}}`,
		},
		{
			name: "explicit null data",
			resp: &Response{HasData: true, Errors: []*gqlerrors.QueryError{{Message: "boom"}}},
			want: `{"data":null,"errors":[{"message":"boom"}]}`,
		},
		{
			name: "request error omits data",
			resp: &Response{Errors: []*gqlerrors.QueryError{{Message: "bad"}}},
			want: `{"errors":[{"message":"bad"}]}`,
		},
		{
			name: "extensions",
			resp: &Response{Data: map[string]any{}, HasData: true, Extensions: map[string]any{"k": "v"}},
			want: `{"data":{},"extensions":{"k":"v"}}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := json.Marshal(tc.resp)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(got) != tc.want {
				t.Errorf("marshal = %s, want %s", got, tc.want)
			}

			again, err := json.Marshal(tc.resp)
			if err != nil {
				t.Fatalf("second marshal: %v", err)
			}
			if !bytes.Equal(got, again) {
				t.Errorf("marshal not idempotent: %s then %s", got, again)
			}

			var back Response
			if err := json.Unmarshal(got, &back); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if back.HasData != tc.resp.HasData {
				t.Errorf("HasData round trip = %v, want %v", back.HasData, tc.resp.HasData)
			}
		})
	}
}
