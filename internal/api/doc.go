// Package api defines the wire-format types and read projections served by
// the HTTP layer and rendered by the CLI.
//
// # Key Types
//
// GroupSummary / GroupDetail: document groups with linked operators, document
// metadata (never content), missing required slots and the circulated flag.
//
// Circulation: one evaluation round with its task map keyed by task type.
//
// Assignment / Revision: per-user review work and the revision history of a
// group.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Enum values are sent both as their stored
// integer and as display text from the shared tables in internal/store.
// Timestamps use RFC3339 with milliseconds.
package api
