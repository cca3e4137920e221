// Package lifecycle manages document groups before circulation: creation,
// evidence uploads, operator links, and the derived Draft, Incomplete and
// Ready statuses.
package lifecycle
