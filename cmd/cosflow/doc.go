// Command cosflow runs the COS document-approval daemon and offers direct
// access to the workflow from the shell.
//
// "cosflow serve" starts the HTTP API in the foreground; "start", "stop" and
// "status" manage a detached daemon. Every other command opens the workflow
// database directly, so it works with or without a running daemon. Mutating
// commands act on behalf of the user given with --as.
package main
