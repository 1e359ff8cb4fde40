package executor

import (
	"context"
	"fmt"
	"reflect"

	"github.com/graphrelay/graphrelay/internal/cachecontrol"
	"github.com/graphrelay/graphrelay/internal/gqlerrors"
	language "github.com/graphrelay/graphrelay/internal/language"
)

// Engine executes operations against one schema and resolver map. It is
// stateless across requests and safe for concurrent use.
type Engine struct {
	schema        *language.Schema
	resolvers     ResolverMap
	typeResolver  TypeResolver
	fieldResolver Resolver
}

// Option configures an Engine.
type Option func(*Engine)

// WithTypeResolver sets the concrete-type resolver for interface and union
// values. Without one, values are inspected for a __typename key.
func WithTypeResolver(tr TypeResolver) Option {
	return func(e *Engine) { e.typeResolver = tr }
}

// WithFieldResolver replaces the default source resolver used for fields
// absent from the resolver map.
func WithFieldResolver(r Resolver) Option {
	return func(e *Engine) { e.fieldResolver = r }
}

// New creates an Engine.
func New(schema *language.Schema, resolvers ResolverMap, opts ...Option) *Engine {
	e := &Engine{
		schema:        schema,
		resolvers:     resolvers,
		fieldResolver: DefaultResolver,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteParams is one operation's execution input. Variables are raw client
// values; coercion against the operation's variable definitions happens here.
type ExecuteParams struct {
	Document  *language.QueryDocument
	Operation *language.OperationDefinition
	Variables map[string]any
	Root      any

	// CacheHints receives per-field cache annotations when non-nil.
	CacheHints    *cachecontrol.Collector
	DefaultMaxAge int
}

type execState struct {
	engine    *Engine
	schema    *language.Schema
	document  *language.QueryDocument
	operation *language.OperationDefinition
	variables map[string]any
	ctx       context.Context
	hints     *cachecontrol.Collector
	defaultMA int
	errors    []*gqlerrors.QueryError
	errPaths  map[string]struct{}
}

// Execute runs one operation. The returned error is an engine-level failure
// (resolver panic, missing root type); field errors land in Result.Errors.
func (e *Engine) Execute(ctx context.Context, p ExecuteParams) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("panic during execution: %v", r)
		}
	}()

	variables, verr := language.VariableValues(e.schema, p.Operation, p.Variables)
	if verr != nil {
		qe := gqlerrors.NewInvalidRequest("%s", verr.Error())
		return &Result{Errors: []*gqlerrors.QueryError{qe}}, nil
	}

	var rootType *language.Definition
	switch p.Operation.Operation {
	case language.Query:
		rootType = e.schema.Query
	case language.Mutation:
		rootType = e.schema.Mutation
	case language.Subscription:
		rootType = e.schema.Subscription
	}
	if rootType == nil {
		return nil, fmt.Errorf("schema has no %s root type", p.Operation.Operation)
	}

	state := &execState{
		engine:    e,
		schema:    e.schema,
		document:  p.Document,
		operation: p.Operation,
		variables: variables,
		ctx:       ctx,
		hints:     p.CacheHints,
		defaultMA: p.DefaultMaxAge,
		errPaths:  map[string]struct{}{},
	}

	data := state.executeSelectionSet(rootType, p.Operation.SelectionSet, p.Root, nil)
	return &Result{Data: data, HasData: true, Errors: state.errors}, nil
}

// executeSelectionSet resolves a grouped selection set against one object
// value. It returns nil when a non-null child nullified the whole object.
func (s *execState) executeSelectionSet(objectType *language.Definition, selectionSet language.SelectionSet, objectValue any, path language.Path) map[string]any {
	grouped := s.collectFields(objectType, selectionSet)
	result := make(map[string]any, len(grouped.fields))

	for _, group := range grouped.fields {
		fieldPath := appendPath(path, language.PathName(group.ResponseName))
		field := group.Fields[0]

		if field.Name == "__typename" {
			result[group.ResponseName] = objectType.Name
			continue
		}

		fieldDef := objectType.Fields.ForName(field.Name)
		if fieldDef == nil {
			s.addErrorf(fieldPath, "Cannot query field %q on type %q.", field.Name, objectType.Name)
			continue
		}

		value := s.executeField(objectType, fieldDef, group.Fields, objectValue, fieldPath)

		if fieldDef.Type.NonNull && isNullish(value) {
			if len(path) > 0 {
				// Propagate the null to the nearest nullable ancestor.
				return nil
			}
			result[group.ResponseName] = nil
			continue
		}
		if isNullish(value) {
			result[group.ResponseName] = nil
		} else {
			result[group.ResponseName] = value
		}
	}
	return result
}

func (s *execState) executeField(objectType *language.Definition, fieldDef *language.FieldDefinition, fields []*language.Field, source any, path language.Path) any {
	field := fields[0]

	args, err := coerceArguments(fieldDef, field, s.variables)
	if err != nil {
		s.addError(path, err)
		return nil
	}

	info := &ResolveInfo{
		FieldName:  field.Name,
		Alias:      field.Alias,
		Path:       path,
		Field:      field,
		Definition: fieldDef,
		Operation:  s.operation,
		Schema:     s.schema,
		collector:  s.hints,
	}

	resolver := s.engine.resolvers[objectType.Name+"."+field.Name]
	if resolver == nil {
		resolver = s.engine.fieldResolver
	}

	value, err := resolver(ResolveParams{Context: s.ctx, Source: source, Args: args, Info: info})

	s.recordCacheHint(info)

	if err != nil {
		s.addError(path, err)
		return nil
	}
	return s.completeValue(fieldDef.Type, fields, value, path)
}

// recordCacheHint adds the field's cache annotation: a resolver-set hint wins
// over the schema's @cacheControl directive.
func (s *execState) recordCacheHint(info *ResolveInfo) {
	if s.hints == nil {
		return
	}
	if info.hintSet {
		s.hints.Add(info.Path, info.hint)
		return
	}
	if h, ok := cachecontrol.HintForField(s.schema, info.Definition, s.defaultMA); ok {
		s.hints.Add(info.Path, h)
		return
	}
	// Root fields without any hint still pin the response to the default,
	// which is uncacheable when no default is configured.
	if len(info.Path) == 1 {
		s.hints.Add(info.Path, cachecontrol.Hint{MaxAge: s.defaultMA})
	}
}

func (s *execState) completeValue(typ *language.Type, fields []*language.Field, result any, path language.Path) any {
	if isNullish(result) {
		if typ.NonNull && !s.hasErrorAt(path) {
			s.addErrorf(path, "Cannot return null for non-nullable field %s.", pathString(path))
		}
		return nil
	}

	if typ.Elem != nil && typ.NamedType == "" {
		return s.completeListValue(typ, fields, result, path)
	}

	def := s.schema.Types[typ.NamedType]
	if def == nil {
		s.addErrorf(path, "Unknown type %q.", typ.NamedType)
		return nil
	}

	switch def.Kind {
	case language.Scalar, language.Enum:
		return serializeLeaf(result)
	case language.Object:
		return s.completeObjectValue(def, fields, result, path)
	case language.Interface, language.Union:
		return s.completeAbstractValue(def, fields, result, path)
	default:
		s.addErrorf(path, "Cannot complete value of unexpected kind %s.", def.Kind)
		return nil
	}
}

func (s *execState) completeListValue(listType *language.Type, fields []*language.Field, result any, path language.Path) any {
	items, ok := toSlice(result)
	if !ok {
		s.addErrorf(path, "Expected list value, got %T.", result)
		return nil
	}
	completed := make([]any, len(items))
	for i, item := range items {
		itemPath := appendPath(path, language.PathIndex(i))
		v := s.completeValue(listType.Elem, fields, item, itemPath)
		if listType.Elem.NonNull && isNullish(v) {
			// A null element in a non-null list nullifies the list itself.
			return nil
		}
		completed[i] = v
	}
	return completed
}

func (s *execState) completeObjectValue(objectType *language.Definition, fields []*language.Field, result any, path language.Path) any {
	sub := mergeSelectionSets(fields)
	return s.executeSelectionSet(objectType, sub, result, path)
}

func (s *execState) completeAbstractValue(abstractType *language.Definition, fields []*language.Field, result any, path language.Path) any {
	typeName := ""
	if s.engine.typeResolver != nil {
		typeName = s.engine.typeResolver(result)
	} else if m, ok := result.(map[string]any); ok {
		typeName, _ = m["__typename"].(string)
	}
	if typeName == "" {
		s.addErrorf(path, "Cannot resolve concrete type for %s %q.", abstractType.Kind, abstractType.Name)
		return nil
	}
	objectType := s.schema.Types[typeName]
	if objectType == nil || objectType.Kind != language.Object {
		s.addErrorf(path, "Abstract type %q resolved to non-object type %q.", abstractType.Name, typeName)
		return nil
	}
	return s.completeObjectValue(objectType, fields, result, path)
}

func (s *execState) addError(path language.Path, err error) {
	qe := gqlerrors.NewExecutionError(err)
	qe.Path = path
	s.errors = append(s.errors, qe)
	s.errPaths[pathString(path)] = struct{}{}
}

func (s *execState) addErrorf(path language.Path, format string, args ...any) {
	qe := gqlerrors.NewExecutionError(fmt.Errorf(format, args...))
	qe.Path = path
	s.errors = append(s.errors, qe)
	s.errPaths[pathString(path)] = struct{}{}
}

func (s *execState) hasErrorAt(path language.Path) bool {
	_, ok := s.errPaths[pathString(path)]
	return ok
}

func appendPath(path language.Path, elem any) language.Path {
	out := make(language.Path, len(path)+1)
	copy(out, path)
	switch v := elem.(type) {
	case language.PathName:
		out[len(path)] = v
	case language.PathIndex:
		out[len(path)] = v
	default:
		out[len(path)] = language.PathName(fmt.Sprint(v))
	}
	return out
}

func pathString(path language.Path) string {
	return path.String()
}

// isNullish treats nil interfaces and typed-nil pointers/maps/slices as null.
func isNullish(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func toSlice(v any) ([]any, bool) {
	if direct, ok := v.([]any); ok {
		return direct, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

// serializeLeaf passes JSON-safe values through and stringifies the rest.
func serializeLeaf(v any) any {
	switch v.(type) {
	case string, bool, int, int32, int64, float32, float64, []byte, nil:
		return v
	default:
		if s, ok := v.(fmt.Stringer); ok {
			return s.String()
		}
		return v
	}
}
