package merge

import (
	"sort"

	"cosflow/internal/store"
)

const unknownPriority = 99

var docPriority = map[store.DocType]int{
	store.DocCOS:    1,
	store.DocPFM:    2,
	store.DocWGS:    3,
	store.DocMO:     4,
	store.DocOthers: 5,
}

// Priority returns the merge position class of a document type.
func Priority(t store.DocType) int {
	if p, ok := docPriority[t]; ok {
		return p
	}
	return unknownPriority
}

// Order returns docs sorted by type priority, then upload time, then row id.
// The input slice is not modified.
func Order(docs []store.Document) []store.Document {
	out := append([]store.Document(nil), docs...)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := Priority(out[i].DocType), Priority(out[j].DocType)
		if pi != pj {
			return pi < pj
		}
		if !out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].UploadedAt.Before(out[j].UploadedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
