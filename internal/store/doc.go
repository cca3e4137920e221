// Package store persists document groups, evidence uploads, merged artifacts,
// circulations, tasks, and revisions in SQLite.
//
// The Store manages the database connection, schema initialization, and busy
// retries. Row-level operations are shared between Store (single statements)
// and Tx (inside InTx) so workflow code can compose several writes into one
// all-or-nothing transaction. Status enums and their display text live here so
// every projection renders the same labels.
//
// Schema changes bump the version in schema.go.
package store
