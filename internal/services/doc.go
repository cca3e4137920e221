// Package services defines shared utilities consumed by the workflow
// components and the transport layer.
//
// Key responsibilities:
//   - Context helpers that stamp group IDs, acting users, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so failures can be
//     classified (not found, invalid state, decode, validation) without string
//     matching.
//
// Use these helpers when wiring new workflow logic so error handling and
// observability stay uniform across the system.
package services
