// Package evaluation runs the multi-party sign-off of a merged change order
// sheet: circulation start, review tasks in pipeline order, and the revision
// loop between reviewers and the issuer.
package evaluation
