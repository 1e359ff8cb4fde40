package executor

import (
	language "github.com/graphrelay/graphrelay/internal/language"
)

// collectedFieldMap preserves field order from the original query.
type collectedFieldMap struct {
	fields []collectedField
	index  map[string]int
}

type collectedField struct {
	ResponseName string
	Fields       []*language.Field
}

func newCollectedFieldMap() *collectedFieldMap {
	return &collectedFieldMap{index: make(map[string]int)}
}

func (cfm *collectedFieldMap) add(responseName string, field *language.Field) {
	if idx, exists := cfm.index[responseName]; exists {
		cfm.fields[idx].Fields = append(cfm.fields[idx].Fields, field)
		return
	}
	cfm.index[responseName] = len(cfm.fields)
	cfm.fields = append(cfm.fields, collectedField{
		ResponseName: responseName,
		Fields:       []*language.Field{field},
	})
}

// collectFields flattens a selection set into response-name groups, honoring
// @skip/@include and fragment type conditions.
func (s *execState) collectFields(objectType *language.Definition, selectionSet language.SelectionSet) *collectedFieldMap {
	grouped := newCollectedFieldMap()
	s.collectFieldsImpl(objectType, selectionSet, grouped, map[string]bool{})
	return grouped
}

func (s *execState) collectFieldsImpl(objectType *language.Definition, selectionSet language.SelectionSet, grouped *collectedFieldMap, visited map[string]bool) {
	for _, selection := range selectionSet {
		switch sel := selection.(type) {
		case *language.Field:
			if !s.shouldIncludeNode(sel.Directives) {
				continue
			}
			responseName := sel.Alias
			if responseName == "" {
				responseName = sel.Name
			}
			grouped.add(responseName, sel)

		case *language.InlineFragment:
			if !s.shouldIncludeNode(sel.Directives) {
				continue
			}
			if !s.fragmentApplies(sel.TypeCondition, objectType) {
				continue
			}
			s.collectFieldsImpl(objectType, sel.SelectionSet, grouped, visited)

		case *language.FragmentSpread:
			if !s.shouldIncludeNode(sel.Directives) {
				continue
			}
			if visited[sel.Name] {
				continue
			}
			visited[sel.Name] = true
			def := s.document.Fragments.ForName(sel.Name)
			if def == nil {
				continue
			}
			if !s.fragmentApplies(def.TypeCondition, objectType) {
				continue
			}
			if !s.shouldIncludeNode(def.Directives) {
				continue
			}
			s.collectFieldsImpl(objectType, def.SelectionSet, grouped, visited)
		}
	}
}

// fragmentApplies reports whether a fragment's type condition matches the
// object type, directly or through an interface/union membership.
func (s *execState) fragmentApplies(typeCondition string, objectType *language.Definition) bool {
	if typeCondition == "" || typeCondition == objectType.Name {
		return true
	}
	for _, possible := range s.schema.PossibleTypes[typeCondition] {
		if possible.Name == objectType.Name {
			return true
		}
	}
	return false
}

func (s *execState) shouldIncludeNode(directives language.DirectiveList) bool {
	if skip := directives.ForName("skip"); skip != nil {
		if cond, ok := s.directiveBool(skip, "if"); ok && cond {
			return false
		}
	}
	if include := directives.ForName("include"); include != nil {
		if cond, ok := s.directiveBool(include, "if"); ok && !cond {
			return false
		}
	}
	return true
}

func (s *execState) directiveBool(d *language.Directive, argName string) (bool, bool) {
	arg := d.Arguments.ForName(argName)
	if arg == nil || arg.Value == nil {
		return false, false
	}
	v, err := arg.Value.Value(s.variables)
	if err != nil {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// mergeSelectionSets concatenates the sub-selections of a field group.
func mergeSelectionSets(fields []*language.Field) language.SelectionSet {
	var merged language.SelectionSet
	for _, f := range fields {
		merged = append(merged, f.SelectionSet...)
	}
	return merged
}
