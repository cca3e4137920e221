package testsupport

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"cosflow/internal/config"
	"cosflow/internal/store"
)

// Standard cast seeded by SeedUsers.
const (
	AdminID      int64 = 1
	IssuerID     int64 = 10
	CheckerID    int64 = 20
	ApproverID   int64 = 30
	QACheckerID  int64 = 40
	QAApproverID int64 = 50
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// SeedUsers inserts one user per workflow role.
func SeedUsers(t testing.TB, st *store.Store) {
	t.Helper()

	users := []store.User{
		{ID: AdminID, Username: "admin", FirstName: "Ada", FullName: "Ada Admin", Role: store.RoleAdmin},
		{ID: IssuerID, Username: "issuer", FirstName: "Ina", FullName: "Ina Issuer", Role: store.RoleIssuer},
		{ID: CheckerID, Username: "checker", FirstName: "Chen", FullName: "Chen Checker", Role: store.RoleChecker},
		{ID: ApproverID, Username: "approver", FirstName: "Ari", FullName: "Ari Approver", Role: store.RoleApprover},
		{ID: QACheckerID, Username: "qachecker", FirstName: "Quinn", FullName: "Quinn QA", Role: store.RoleQAChecker},
		{ID: QAApproverID, Username: "qaapprover", FirstName: "Qiu", FullName: "Qiu QA Approver", Role: store.RoleQAApprover},
	}
	for _, u := range users {
		if err := st.UpsertUser(context.Background(), u); err != nil {
			t.Fatalf("UpsertUser %d: %v", u.ID, err)
		}
	}
}

// SeedCertificate registers an operator with a certificate whose payload is
// the base64 encoding of pdf. It returns the certificate id.
func SeedCertificate(t testing.TB, st *store.Store, nik, name string, pdf []byte) int64 {
	t.Helper()

	ctx := context.Background()
	if err := st.UpsertOperator(ctx, store.Operator{NIK: nik, Name: name, Line: "L1"}); err != nil {
		t.Fatalf("UpsertOperator: %v", err)
	}
	id, err := st.InsertCertificate(ctx, nik, base64.StdEncoding.EncodeToString(pdf), "", time.Now())
	if err != nil {
		t.Fatalf("InsertCertificate: %v", err)
	}
	return id
}

// MustCreateGroup inserts a Draft group created by actor.
func MustCreateGroup(t testing.TB, st *store.Store, id string, actor int64) {
	t.Helper()

	if _, err := st.InsertGroup(context.Background(), id, actor, time.Now()); err != nil {
		t.Fatalf("InsertGroup %q: %v", id, err)
	}
}
