// Package textutil normalizes user-supplied file names so they are safe to
// store, echo back in Content-Disposition headers, and write to disk.
package textutil
