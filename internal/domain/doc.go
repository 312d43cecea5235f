// Package domain defines the core business types for the campaign send pipeline.
//
// Types in this package are value objects shared by the services,
// repositories, transport and HTTP layers. They carry no database or HTTP
// dependencies.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Validation methods are allowed (they're pure functions on the type)
package domain
