package pipeline

import (
	log "github.com/jensneuse/abstractlogger"

	"github.com/graphrelay/graphrelay/internal/cachecontrol"
	"github.com/graphrelay/graphrelay/internal/language"
	"github.com/graphrelay/graphrelay/internal/lifecycle"
)

// Plugin hooks into the request lifecycle. See the lifecycle package for
// dispatch ordering guarantees.
type Plugin = lifecycle.Plugin[*RequestContext]

// RequestListener holds one plugin's hooks for one request.
type RequestListener = lifecycle.RequestListener[*RequestContext]

// EndFunc closes out a did-start stage hook.
type EndFunc = lifecycle.EndFunc

// RequestContext accumulates per-request state as the request moves through
// the pipeline stages. Plugins receive the same instance at every hook, so a
// later hook observes everything earlier stages produced.
type RequestContext struct {
	Request *Request

	// Document is set after parsing succeeds.
	Document *language.QueryDocument
	// Operation is set after the target operation is resolved.
	Operation *language.OperationDefinition
	// OperationName is set alongside Operation. It is nil for anonymous
	// operations; the pointer distinguishes "resolved, unnamed" from the
	// request's possibly empty OperationName field.
	OperationName *string

	// Context carries caller values and the request's data sources.
	Context *OperationContext

	// Response is populated by the execute and format stages. It is non-nil
	// from the first failure (or successful execution) onward.
	Response *Response

	// QueryText is the resolved query text, whether it arrived literally or
	// was retrieved from the persisted-query store.
	QueryText string
	// QueryHash is the SHA-256 fingerprint of QueryText.
	QueryHash string
	// PersistedQueryHit is true when the query text came from the store.
	PersistedQueryHit bool
	// PersistedQueryRegister is true when this request registered its text.
	PersistedQueryRegister bool

	// eventID correlates this operation's start and finish events. Batched
	// requests share one request ID, so events carry their own.
	eventID string

	// CacheHints collects field cache annotations during execution. Nil when
	// cache control is disabled.
	CacheHints *cachecontrol.Collector
	// CachePolicy is the aggregate computed in the format stage.
	CachePolicy cachecontrol.Policy

	Logger log.Logger
}

// OperationType returns the resolved operation's type, or empty before the
// operation is resolved.
func (rc *RequestContext) OperationType() string {
	if rc.Operation == nil {
		return ""
	}
	return string(rc.Operation.Operation)
}
