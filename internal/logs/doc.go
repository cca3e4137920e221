// Package logs reads the daemon log file for `cosflow logs`.
//
// Tail returns the last lines of the file together with the byte offset where
// reading stopped, so follow mode can resume from there without re-reading.
// Lines can be narrowed to a single document group; both the JSON and the
// console log formats are understood.
package logs
