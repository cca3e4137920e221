// Package merge builds the canonical merged PDF for a document group.
//
// Uploads are ordered by type (COS, PFM, WGS, MO, OTHERS) then upload time;
// images become single centred pages and PDFs pass through. Linked operator
// certificates are decoded and appended last. Fragments that cannot be decoded
// or parsed are logged and skipped so one bad file never blocks the group.
package merge
