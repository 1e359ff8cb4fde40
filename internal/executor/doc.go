// Package executor evaluates a GraphQL operation against an executable
// schema and a resolver map.
//
// Execution follows the GraphQL specification's ExecuteSelectionSet order:
// fields resolve in query declaration order, depth-first, with fragment
// spreads flattened during field collection. Resolver errors become located
// field errors; non-null violations propagate null to the nearest nullable
// ancestor. Panics inside resolvers abort the operation and surface as a
// single execution error from Execute.
package executor
