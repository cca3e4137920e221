// Package daemon coordinates the long-running cosflow process.
//
// It wires the store, the group lifecycle and evaluation services, and the
// notification hub behind an HTTP API and a websocket event stream, with
// flock-based locking to prevent multiple instances against one data
// directory. Requests are authenticated with HS256 bearer tokens whose claims
// carry the user id and role; role gates are enforced per route.
//
// Keep orchestration here: workflow rules live in internal/lifecycle and
// internal/evaluation while the daemon focuses on startup, shutdown and the
// transport.
package daemon
