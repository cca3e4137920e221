// Package preflight provides readiness checks for the filesystem paths,
// database, and external services that cosflow depends on.
//
// The CLI "cosflow doctor" command runs RunAll and renders the results; the
// daemon logs a failing check at startup but keeps serving.
package preflight
