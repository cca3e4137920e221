package store_test

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"cosflow/internal/services"
	"cosflow/internal/store"
	"cosflow/internal/testsupport"

	_ "modernc.org/sqlite"
)

func openSeeded(t *testing.T) *store.Store {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.SeedUsers(t, st)
	return st
}

func TestOpenReusesExistingSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	testsupport.SeedUsers(t, st)
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	user, err := reopened.GetUser(context.Background(), testsupport.IssuerID)
	if err != nil {
		t.Fatalf("GetUser after reopen: %v", err)
	}
	if user.DisplayName() != "Ina Issuer" {
		t.Fatalf("unexpected user: %#v", user)
	}
}

func TestOpenMigratesVersionOneDatabase(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	path := st.Path()
	testsupport.SeedCertificate(t, st, "NIK-7", "Sari", []byte("%PDF-old"))
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	for _, stmt := range []string{
		"DROP INDEX idx_operator_certificates_digest",
		"ALTER TABLE operator_certificates DROP COLUMN source_digest",
		"UPDATE schema_version SET version = 1",
	} {
		if _, err := raw.Exec(stmt); err != nil {
			t.Fatalf("downgrade %q: %v", stmt, err)
		}
	}
	if err := raw.Close(); err != nil {
		t.Fatalf("close raw: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	if _, found, err := reopened.FindCertificate(ctx, "NIK-7", ""); err != nil || found {
		t.Fatalf("empty digest must not match: found=%v err=%v", found, err)
	}
	id, err := reopened.InsertCertificate(ctx, "NIK-7", "JVBERi1uZXc=", "abc123", time.Now())
	if err != nil {
		t.Fatalf("InsertCertificate after migration: %v", err)
	}
	got, found, err := reopened.FindCertificate(ctx, "NIK-7", "abc123")
	if err != nil || !found || got != id {
		t.Fatalf("FindCertificate: id=%d found=%v err=%v, want %d", got, found, err, id)
	}
	if _, err := reopened.InsertCertificate(ctx, "NIK-7", "JVBERi1uZXc=", "abc123", time.Now()); err == nil {
		t.Fatal("expected duplicate digest for the same operator to be rejected")
	}
}

func TestInsertGroupIsIdempotent(t *testing.T) {
	st := openSeeded(t)
	ctx := context.Background()

	created, err := st.InsertGroup(ctx, "COS-001", testsupport.IssuerID, time.Now())
	if err != nil || !created {
		t.Fatalf("first InsertGroup: created=%v err=%v", created, err)
	}
	created, err = st.InsertGroup(ctx, "COS-001", testsupport.AdminID, time.Now())
	if err != nil {
		t.Fatalf("second InsertGroup: %v", err)
	}
	if created {
		t.Fatal("expected second insert to report existing group")
	}
	group, err := st.GetGroup(ctx, "COS-001")
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if group.Status != store.GroupDraft || group.CreatedBy != testsupport.IssuerID {
		t.Fatalf("unexpected group: %#v", group)
	}
}

func TestGetGroupMissingIsNotFound(t *testing.T) {
	st := openSeeded(t)
	_, err := st.GetGroup(context.Background(), "COS-404")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := st.SetGroupStatus(context.Background(), "COS-404", store.GroupReady, 0, time.Now()); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found on status update, got %v", err)
	}
}

func TestUpsertDocumentReplacesFixedSlot(t *testing.T) {
	st := openSeeded(t)
	ctx := context.Background()
	testsupport.MustCreateGroup(t, st, "COS-001", testsupport.IssuerID)

	first := store.DocumentInput{DocType: store.DocPFM, FileName: "pfm-v1.pdf", MimeType: "application/pdf", Content: []byte("v1")}
	second := store.DocumentInput{DocType: store.DocPFM, FileName: "pfm-v2.pdf", MimeType: "application/pdf", Content: []byte("version-2")}

	id1, replaced, err := st.UpsertDocument(ctx, "COS-001", first, testsupport.IssuerID, time.Now())
	if err != nil || replaced {
		t.Fatalf("first upsert: replaced=%v err=%v", replaced, err)
	}
	id2, replaced, err := st.UpsertDocument(ctx, "COS-001", second, testsupport.IssuerID, time.Now())
	if err != nil || !replaced {
		t.Fatalf("second upsert: replaced=%v err=%v", replaced, err)
	}
	if id1 != id2 {
		t.Fatalf("expected slot row to be reused, got %d and %d", id1, id2)
	}

	docs, err := st.ListDocuments(ctx, "COS-001")
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected one PFM row, got %d", len(docs))
	}
	doc, err := st.GetDocument(ctx, "COS-001", id2)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.FileName != "pfm-v2.pdf" || !bytes.Equal(doc.Content, []byte("version-2")) || doc.Size != int64(len("version-2")) {
		t.Fatalf("expected second upload to win, got %#v", doc)
	}
}

func TestUpsertDocumentOthersKeyedByFileName(t *testing.T) {
	st := openSeeded(t)
	ctx := context.Background()
	testsupport.MustCreateGroup(t, st, "COS-002", testsupport.IssuerID)

	uploads := []store.DocumentInput{
		{DocType: store.DocOthers, FileName: "a.png", MimeType: "image/png", Content: []byte("a")},
		{DocType: store.DocOthers, FileName: "b.png", MimeType: "image/png", Content: []byte("b")},
		{DocType: store.DocOthers, FileName: "a.png", MimeType: "image/png", Content: []byte("a2")},
	}
	for _, in := range uploads {
		if _, _, err := st.UpsertDocument(ctx, "COS-002", in, testsupport.IssuerID, time.Now()); err != nil {
			t.Fatalf("UpsertDocument %s: %v", in.FileName, err)
		}
	}
	docs, err := st.ListDocuments(ctx, "COS-002")
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected two OTHERS rows, got %d", len(docs))
	}
	types, err := st.PresentDocTypes(ctx, "COS-002")
	if err != nil {
		t.Fatalf("PresentDocTypes: %v", err)
	}
	if len(types) != 1 || types[0] != store.DocOthers {
		t.Fatalf("unexpected present types: %v", types)
	}
}

func TestGetDocumentWithoutContentIsNotFound(t *testing.T) {
	st := openSeeded(t)
	ctx := context.Background()
	testsupport.MustCreateGroup(t, st, "COS-003", testsupport.IssuerID)

	id, _, err := st.UpsertDocument(ctx, "COS-003", store.DocumentInput{DocType: store.DocMO, FileName: "mo.pdf", MimeType: "application/pdf"}, 0, time.Now())
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	if _, err := st.GetDocument(ctx, "COS-003", id); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for empty content, got %v", err)
	}
	if _, err := st.GetDocument(ctx, "COS-003", id+100); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for missing row, got %v", err)
	}
}

func TestMergedArtifactUpsertPreservesID(t *testing.T) {
	st := openSeeded(t)
	ctx := context.Background()
	testsupport.MustCreateGroup(t, st, "COS-004", testsupport.IssuerID)

	first, err := st.UpsertMergedArtifact(ctx, "COS-004", []byte("%PDF-1"), 2, time.Now())
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second, err := st.UpsertMergedArtifact(ctx, "COS-004", []byte("%PDF-2"), 3, time.Now())
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected artifact id to survive regeneration, got %d then %d", first.ID, second.ID)
	}
	if second.FragmentCount != 3 || string(second.Content) != "%PDF-2" {
		t.Fatalf("unexpected artifact: %#v", second)
	}
}

func TestAvailableForEvaluationExcludesCirculatedGroups(t *testing.T) {
	st := openSeeded(t)
	ctx := context.Background()

	for _, id := range []string{"COS-010", "COS-011", "COS-012"} {
		testsupport.MustCreateGroup(t, st, id, testsupport.IssuerID)
	}
	// COS-010 ready with artifact, COS-011 ready with artifact, COS-012 ready without artifact.
	for _, id := range []string{"COS-010", "COS-011", "COS-012"} {
		if err := st.SetGroupStatus(ctx, id, store.GroupReady, testsupport.IssuerID, time.Now()); err != nil {
			t.Fatalf("SetGroupStatus %s: %v", id, err)
		}
	}
	artifact, err := st.UpsertMergedArtifact(ctx, "COS-010", []byte("%PDF"), 1, time.Now())
	if err != nil {
		t.Fatalf("UpsertMergedArtifact: %v", err)
	}
	if _, err := st.UpsertMergedArtifact(ctx, "COS-011", []byte("%PDF"), 1, time.Now()); err != nil {
		t.Fatalf("UpsertMergedArtifact: %v", err)
	}

	available, err := st.AvailableForEvaluation(ctx)
	if err != nil {
		t.Fatalf("AvailableForEvaluation: %v", err)
	}
	if len(available) != 2 {
		t.Fatalf("expected two available groups, got %#v", available)
	}

	if _, err := st.InsertCirculation(ctx, store.Circulation{
		ArtifactID: artifact.ID,
		Status:     store.CirculationWaitingChecker,
		CreatedBy:  testsupport.IssuerID,
	}); err != nil {
		t.Fatalf("InsertCirculation: %v", err)
	}
	// Regenerating after circulation must not make the group available again.
	if _, err := st.UpsertMergedArtifact(ctx, "COS-010", []byte("%PDF-new"), 2, time.Now()); err != nil {
		t.Fatalf("regenerate: %v", err)
	}

	available, err = st.AvailableForEvaluation(ctx)
	if err != nil {
		t.Fatalf("AvailableForEvaluation: %v", err)
	}
	if len(available) != 1 || available[0].GroupID != "COS-011" {
		t.Fatalf("expected only COS-011 available, got %#v", available)
	}
	circulated, err := st.IsCirculated(ctx, "COS-010")
	if err != nil || !circulated {
		t.Fatalf("expected COS-010 circulated: %v %v", circulated, err)
	}
}

func TestInTxRollsBackOnForeignKeyFailure(t *testing.T) {
	st := openSeeded(t)
	ctx := context.Background()
	testsupport.MustCreateGroup(t, st, "COS-020", testsupport.IssuerID)
	artifact, err := st.UpsertMergedArtifact(ctx, "COS-020", []byte("%PDF"), 1, time.Now())
	if err != nil {
		t.Fatalf("UpsertMergedArtifact: %v", err)
	}

	err = st.InTx(ctx, func(tx *store.Tx) error {
		circID, err := tx.InsertCirculation(ctx, store.Circulation{ArtifactID: artifact.ID, Status: store.CirculationNew, CreatedBy: testsupport.IssuerID})
		if err != nil {
			return err
		}
		if _, err := tx.InsertTask(ctx, store.Task{CirculationID: circID, Type: store.TaskIssued, Assignee: testsupport.IssuerID, Status: store.TaskDone}); err != nil {
			return err
		}
		_, err = tx.InsertTask(ctx, store.Task{CirculationID: circID, Type: store.TaskApprove, Assignee: 9999, Status: store.TaskNew})
		return err
	})
	if err == nil {
		t.Fatal("expected foreign key failure for unknown assignee")
	}

	circulated, err := st.IsCirculated(ctx, "COS-020")
	if err != nil {
		t.Fatalf("IsCirculated: %v", err)
	}
	if circulated {
		t.Fatal("expected circulation insert to be rolled back")
	}
	all, err := st.ListCirculations(ctx)
	if err != nil {
		t.Fatalf("ListCirculations: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no circulations, got %d", len(all))
	}
}

func TestLinkOperatorCertificateDedupes(t *testing.T) {
	st := openSeeded(t)
	ctx := context.Background()
	testsupport.MustCreateGroup(t, st, "COS-030", testsupport.IssuerID)
	certID := testsupport.SeedCertificate(t, st, "NIK-1", "Budi", []byte("%PDF-cert"))

	added, err := st.LinkOperatorCertificate(ctx, "COS-030", certID, time.Now())
	if err != nil || !added {
		t.Fatalf("first link: added=%v err=%v", added, err)
	}
	added, err = st.LinkOperatorCertificate(ctx, "COS-030", certID, time.Now())
	if err != nil || added {
		t.Fatalf("second link: added=%v err=%v", added, err)
	}

	linked, err := st.LinkedOperators(ctx, "COS-030")
	if err != nil {
		t.Fatalf("LinkedOperators: %v", err)
	}
	if len(linked) != 1 || linked[0].Name != "Budi" {
		t.Fatalf("unexpected linked operators: %#v", linked)
	}
	awaiting, err := st.GroupsAwaitingUploads(ctx)
	if err != nil {
		t.Fatalf("GroupsAwaitingUploads: %v", err)
	}
	if len(awaiting) != 1 || awaiting[0].ID != "COS-030" || awaiting[0].OperatorCount != 1 {
		t.Fatalf("unexpected awaiting list: %#v", awaiting)
	}
}

func TestUsersByRoles(t *testing.T) {
	st := openSeeded(t)
	users, err := st.UsersByRoles(context.Background(), store.EligibleRoles(store.TaskCheck))
	if err != nil {
		t.Fatalf("UsersByRoles: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected checker and approver eligible for CHECK, got %#v", users)
	}
}

func TestStatusDisplayText(t *testing.T) {
	if got := store.GroupReady.String(); got != "Complete - Ready to Approve" {
		t.Fatalf("unexpected ready text %q", got)
	}
	if store.GroupReady.Tone() != "green" {
		t.Fatalf("unexpected tone %q", store.GroupReady.Tone())
	}
	for status := store.CirculationNew; status <= store.CirculationCompleted; status++ {
		if !status.Valid() {
			t.Fatalf("expected circulation status %d to be valid", status)
		}
	}
	if store.CirculationStatus(11).Valid() {
		t.Fatal("expected status 11 to be invalid")
	}
}
