// Package language wraps the gqlparser library behind the small surface the
// pipeline needs: parsing, schema loading, and validation. The pipeline treats
// GraphQL syntax and validation as a solved problem owned by this dependency.
package language

import (
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"
)

// ValidationRule is an additional validation pass run after the standard
// rules. Custom rules never replace the defaults; their errors are appended.
type ValidationRule func(schema *Schema, doc *QueryDocument) gqlerror.List

func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func ParseSchema(name, source string) (*SchemaDocument, error) {
	doc, err := parser.ParseSchema(&ast.Source{Name: name, Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// LoadSchema builds an executable schema from SDL. The cacheControl directive
// is declared up front so schemas may annotate fields without redefining it.
func LoadSchema(name, source string) (*Schema, error) {
	return gqlparser.LoadSchema(
		&ast.Source{Name: "cachecontrol.graphql", Input: cacheControlSDL, BuiltIn: true},
		&ast.Source{Name: name, Input: source},
	)
}

const cacheControlSDL = `
enum CacheControlScope { PUBLIC PRIVATE }
directive @cacheControl(maxAge: Int, scope: CacheControlScope) on FIELD_DEFINITION | OBJECT | INTERFACE
`

// Validate runs the standard validation rules and then any extra rules,
// concatenating all errors in order.
func Validate(schema *Schema, doc *QueryDocument, extra ...ValidationRule) gqlerror.List {
	errs := validator.Validate(schema, doc)
	for _, rule := range extra {
		if rule == nil {
			continue
		}
		errs = append(errs, rule(schema, doc)...)
	}
	return errs
}

// VariableValues coerces raw variable values against the operation's variable
// definitions.
func VariableValues(schema *Schema, op *OperationDefinition, variables map[string]any) (map[string]any, error) {
	coerced, err := validator.VariableValues(schema, op, variables)
	if err != nil {
		return nil, err
	}
	return coerced, nil
}
