package executor

import (
	"context"
	"reflect"
	"strings"

	"github.com/graphrelay/graphrelay/internal/cachecontrol"
	language "github.com/graphrelay/graphrelay/internal/language"
)

// Resolver produces the value of one field.
type Resolver func(p ResolveParams) (any, error)

// ResolverMap maps "Type.field" to a resolver. Fields without an entry fall
// back to the default source resolver.
type ResolverMap map[string]Resolver

// TypeResolver returns the concrete object type name for a value of an
// interface or union type.
type TypeResolver func(value any) string

// ResolveParams carries everything a resolver may need.
type ResolveParams struct {
	Context context.Context
	Source  any
	Args    map[string]any
	Info    *ResolveInfo
}

// ResolveInfo describes the field being resolved.
type ResolveInfo struct {
	FieldName  string
	Alias      string
	Path       language.Path
	Field      *language.Field
	Definition *language.FieldDefinition
	Operation  *language.OperationDefinition
	Schema     *language.Schema

	collector *cachecontrol.Collector
	hint      cachecontrol.Hint
	hintSet   bool
}

// SetCacheHint overrides the field's static cache hint for this request.
// It is a no-op when cache-control computation is disabled.
func (i *ResolveInfo) SetCacheHint(h cachecontrol.Hint) {
	if i.collector == nil {
		return
	}
	i.hint = h
	i.hintSet = true
}

// DefaultResolver reads the field from the source value: map entries by
// response name, struct fields by name or json tag, and niladic funcs by
// calling them.
func DefaultResolver(p ResolveParams) (any, error) {
	name := p.Info.FieldName
	switch source := p.Source.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return callIfFunc(source[name]), nil
	}

	v := reflect.ValueOf(p.Source)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, nil
	}
	t := v.Type()
	for idx := 0; idx < t.NumField(); idx++ {
		f := t.Field(idx)
		if !f.IsExported() {
			continue
		}
		tag := strings.Split(f.Tag.Get("json"), ",")[0]
		if tag == name || (tag == "" && strings.EqualFold(f.Name, name)) {
			return callIfFunc(v.Field(idx).Interface()), nil
		}
	}
	return nil, nil
}

func callIfFunc(v any) any {
	switch fn := v.(type) {
	case func() any:
		return fn()
	case func() string:
		return fn()
	default:
		return v
	}
}
