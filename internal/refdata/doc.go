// Package refdata loads reference data (users, operators and their
// certificates) from YAML seed files into the workflow store.
//
// Certificates are stored pre-merged: every file listed for one certificate
// is converted to PDF where needed and combined before being base64 encoded.
// Seeding is idempotent; users and operators are upserted and identical
// certificates are not inserted twice.
package refdata
