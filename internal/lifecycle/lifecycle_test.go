package lifecycle_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"cosflow/internal/lifecycle"
	"cosflow/internal/logging"
	"cosflow/internal/merge"
	"cosflow/internal/notifications"
	"cosflow/internal/services"
	"cosflow/internal/store"
	"cosflow/internal/testsupport"
)

type recorder struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (r *recorder) Publish(_ context.Context, evt notifications.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) kinds() []notifications.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notifications.Kind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

type stubMerger struct {
	calls  int
	err    error
	result *merge.Result
}

func (m *stubMerger) Regenerate(_ context.Context, groupID string) (*merge.Result, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &merge.Result{GroupID: groupID}, nil
}

type fixture struct {
	svc    *lifecycle.Service
	store  *store.Store
	merger *stubMerger
	events *recorder
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.SeedUsers(t, st)
	f := &fixture{store: st, merger: &stubMerger{}, events: &recorder{}}
	f.svc = lifecycle.NewService(st, f.merger, f.events, cfg, logging.NewNop())
	return f
}

func pdfUpload(docType string) lifecycle.Upload {
	return lifecycle.Upload{DocType: docType, FileName: strings.ToLower(docType) + ".pdf", MimeType: "application/pdf", Content: []byte("%PDF-1.4 " + docType)}
}

func TestDeriveStatusOverAllSubsets(t *testing.T) {
	slots := lifecycle.RequiredSlots
	for mask := 0; mask < 1<<len(slots); mask++ {
		var present []store.DocType
		for i, slot := range slots {
			if mask&(1<<i) != 0 {
				present = append(present, slot)
			}
		}
		want := store.GroupIncomplete
		switch len(present) {
		case 0:
			want = store.GroupDraft
		case len(slots):
			want = store.GroupReady
		}
		if got := lifecycle.DeriveStatus(present); got != want {
			t.Fatalf("subset %v: got %v, want %v", present, got, want)
		}
		// OTHERS never changes the outcome beyond leaving Draft.
		withOthers := append(append([]store.DocType(nil), present...), store.DocOthers)
		if got := lifecycle.DeriveStatus(withOthers); len(present) > 0 && got != want {
			t.Fatalf("subset %v + OTHERS: got %v, want %v", present, got, want)
		}
	}
}

func TestMissingSlots(t *testing.T) {
	missing := lifecycle.MissingSlots([]store.DocType{store.DocCOS, store.DocMO})
	if len(missing) != 2 || missing[0] != store.DocPFM || missing[1] != store.DocWGS {
		t.Fatalf("unexpected missing slots %v", missing)
	}
}

func TestNormalizeGroupID(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: " COS-001 ", want: "COS-001"},
		{in: "cos_2024.07", want: "cos_2024.07"},
		{in: "", wantErr: true},
		{in: "../etc", wantErr: true},
		{in: "has space", wantErr: true},
		{in: strings.Repeat("a", 65), wantErr: true},
	}
	for _, tc := range cases {
		got, err := lifecycle.NormalizeGroupID(tc.in)
		if tc.wantErr {
			if services.FieldOf(err) != "group_id" {
				t.Fatalf("%q: expected group_id field error, got %v", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: got %q, %v", tc.in, got, err)
		}
	}
}

func TestCreateOrTouchIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	group, created, err := f.svc.CreateOrTouch(ctx, "COS-001", testsupport.IssuerID, nil)
	if err != nil || !created {
		t.Fatalf("first CreateOrTouch: created=%v err=%v", created, err)
	}
	if group.Status != store.GroupDraft || group.CreatedBy != testsupport.IssuerID {
		t.Fatalf("unexpected group %+v", group)
	}

	again, created, err := f.svc.CreateOrTouch(ctx, "COS-001", testsupport.AdminID, nil)
	if err != nil || created {
		t.Fatalf("second CreateOrTouch: created=%v err=%v", created, err)
	}
	if again.CreatedBy != testsupport.IssuerID || !again.CreatedAt.Equal(group.CreatedAt) {
		t.Fatalf("created fields changed: %+v", again)
	}
	if kinds := f.events.kinds(); len(kinds) != 1 || kinds[0] != notifications.KindGroupCreated {
		t.Fatalf("unexpected events %v", kinds)
	}
}

func TestCreateOrTouchLinksCertificatesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cert := testsupport.SeedCertificate(t, f.store, "N100", "Op One", []byte("%PDF"))

	if _, _, err := f.svc.CreateOrTouch(ctx, "COS-001", testsupport.IssuerID, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := f.svc.CreateOrTouch(ctx, "COS-001", testsupport.AdminID, []int64{cert, cert}); err != nil {
		t.Fatalf("link: %v", err)
	}
	group, err := f.store.GetGroup(ctx, "COS-001")
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if group.UpdatedBy != testsupport.AdminID {
		t.Fatalf("expected link to touch updated_by, got %d", group.UpdatedBy)
	}
	linked, err := f.store.LinkedOperators(ctx, "COS-001")
	if err != nil || len(linked) != 1 {
		t.Fatalf("expected one linked operator, got %d (%v)", len(linked), err)
	}
	kinds := f.events.kinds()
	if len(kinds) != 2 || kinds[1] != notifications.KindGroupUpdated {
		t.Fatalf("unexpected events %v", kinds)
	}
}

func TestCreateOrTouchRejectsUnknownCertificate(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.CreateOrTouch(context.Background(), "COS-001", testsupport.IssuerID, []int64{404})
	if services.FieldOf(err) != "addOperatorCertificates" {
		t.Fatalf("expected field error, got %v", err)
	}
	if _, err := f.store.GetGroup(context.Background(), "COS-001"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("failed create must roll back, got %v", err)
	}
}

func TestUploadDocumentsDrivesStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.UploadDocuments(ctx, "COS-001", testsupport.IssuerID, []lifecycle.Upload{pdfUpload("COS"), pdfUpload("PFM")})
	if err != nil {
		t.Fatalf("first upload: %v", err)
	}
	if !res.Created || res.Group.Status != store.GroupIncomplete {
		t.Fatalf("expected new incomplete group, got created=%v status=%v", res.Created, res.Group.Status)
	}

	res, err = f.svc.UploadDocuments(ctx, "COS-001", testsupport.IssuerID, []lifecycle.Upload{pdfUpload("MO"), pdfUpload("WGS")})
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}
	if res.Group.Status != store.GroupReady {
		t.Fatalf("expected ready, got %v", res.Group.Status)
	}
	if f.merger.calls != 2 {
		t.Fatalf("expected merge after each batch, got %d", f.merger.calls)
	}
	kinds := f.events.kinds()
	if kinds[0] != notifications.KindGroupCreated || kinds[1] != notifications.KindDocumentsUploaded {
		t.Fatalf("unexpected events %v", kinds)
	}
}

func TestUploadReplacesFixedSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := pdfUpload("COS")
	second := lifecycle.Upload{DocType: "cos", FileName: "cos-v2.pdf", Content: []byte("%PDF-1.4 v2")}

	if _, err := f.svc.UploadDocuments(ctx, "COS-001", testsupport.IssuerID, []lifecycle.Upload{first}); err != nil {
		t.Fatalf("first: %v", err)
	}
	res, err := f.svc.UploadDocuments(ctx, "COS-001", testsupport.IssuerID, []lifecycle.Upload{second})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !res.Stored[0].Replaced {
		t.Fatal("expected fixed slot to be replaced")
	}
	docs, err := f.store.DocumentsWithContent(ctx, "COS-001")
	if err != nil {
		t.Fatalf("DocumentsWithContent: %v", err)
	}
	if len(docs) != 1 || string(docs[0].Content) != "%PDF-1.4 v2" {
		t.Fatalf("expected single replaced row, got %d rows", len(docs))
	}
	if docs[0].MimeType != "application/pdf" {
		t.Fatalf("expected mime from extension, got %q", docs[0].MimeType)
	}
}

func TestUploadValidation(t *testing.T) {
	f := newFixture(t, testsupport.WithUploadLimit(1))
	ctx := context.Background()

	_, err := f.svc.UploadDocuments(ctx, "COS-001", testsupport.IssuerID, []lifecycle.Upload{{DocType: "INVOICE", FileName: "x.pdf", Content: []byte("x")}})
	if !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("unknown type: expected invalid state, got %v", err)
	}

	_, err = f.svc.UploadDocuments(ctx, "COS-001", testsupport.IssuerID, []lifecycle.Upload{{DocType: "COS", FileName: "x.pdf"}})
	if services.FieldOf(err) != "uploads[0].content" {
		t.Fatalf("empty content: got %v", err)
	}

	big := lifecycle.Upload{DocType: "COS", FileName: "big.pdf", Content: testsupport.Bytes(1<<20 + 1)}
	_, err = f.svc.UploadDocuments(ctx, "COS-001", testsupport.IssuerID, []lifecycle.Upload{pdfUpload("PFM"), big})
	if services.FieldOf(err) != "uploads[1].content" {
		t.Fatalf("oversize: got %v", err)
	}

	if _, err := f.store.GetGroup(ctx, "COS-001"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("rejected batches must not create the group, got %v", err)
	}
}

func TestUploadKeepsDocumentsWhenMergeFails(t *testing.T) {
	f := newFixture(t)
	f.merger.err = services.Wrap(services.ErrValidation, "merge", "assemble", "too many fragments", nil)
	ctx := context.Background()

	res, err := f.svc.UploadDocuments(ctx, "COS-001", testsupport.IssuerID, []lifecycle.Upload{pdfUpload("COS")})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected merge error, got %v", err)
	}
	if res == nil || len(res.Stored) != 1 {
		t.Fatalf("expected stored result alongside merge error, got %+v", res)
	}
	present, err := f.store.PresentDocTypes(ctx, "COS-001")
	if err != nil || len(present) != 1 {
		t.Fatalf("upload should stay committed: %v %v", present, err)
	}
}

func TestUploadAfterCirculationKeepsStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uploads := []lifecycle.Upload{pdfUpload("COS"), pdfUpload("PFM"), pdfUpload("MO"), pdfUpload("WGS")}
	if _, err := f.svc.UploadDocuments(ctx, "COS-001", testsupport.IssuerID, uploads); err != nil {
		t.Fatalf("upload: %v", err)
	}

	err := f.store.InTx(ctx, func(tx *store.Tx) error {
		artifact, err := tx.UpsertMergedArtifact(ctx, "COS-001", []byte("%PDF"), 4, time.Now())
		if err != nil {
			return err
		}
		if _, err := tx.InsertCirculation(ctx, store.Circulation{ArtifactID: artifact.ID, Status: store.CirculationWaitingChecker, CreatedAt: time.Now(), CreatedBy: testsupport.IssuerID}); err != nil {
			return err
		}
		return tx.SetGroupStatus(ctx, "COS-001", store.GroupWaitingApproval, testsupport.IssuerID, time.Now())
	})
	if err != nil {
		t.Fatalf("circulate: %v", err)
	}

	res, err := f.svc.UploadDocuments(ctx, "COS-001", testsupport.AdminID, []lifecycle.Upload{{DocType: "OTHERS", FileName: "late.png", Content: []byte("png")}})
	if err != nil {
		t.Fatalf("late upload: %v", err)
	}
	if res.Group.Status != store.GroupWaitingApproval || res.Group.UpdatedBy != testsupport.AdminID {
		t.Fatalf("expected circulated status kept and touch applied, got %+v", res.Group)
	}
	circulated, err := f.svc.IsAlreadyCirculated(ctx, "COS-001")
	if err != nil || !circulated {
		t.Fatalf("IsAlreadyCirculated = %v, %v", circulated, err)
	}
}

func TestDecodeGroupPatch(t *testing.T) {
	patch, err := lifecycle.DecodeGroupPatchBytes([]byte(`{"addOperatorCertificates":[1,2]}`))
	if err != nil || len(patch.AddOperatorCertificates) != 2 {
		t.Fatalf("decode: %+v %v", patch, err)
	}
	_, err = lifecycle.DecodeGroupPatchBytes([]byte(`{"status":3}`))
	if services.FieldOf(err) != "status" {
		t.Fatalf("expected unknown field error, got %v", err)
	}
	_, err = lifecycle.DecodeGroupPatchBytes(nil)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty body, got %v", err)
	}
}

func TestApplyPatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cert := testsupport.SeedCertificate(t, f.store, "N200", "Op Two", []byte("%PDF"))

	if _, err := f.svc.ApplyPatch(ctx, "COS-404", testsupport.IssuerID, lifecycle.GroupPatch{AddOperatorCertificates: []int64{cert}}); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	testsupport.MustCreateGroup(t, f.store, "COS-001", testsupport.IssuerID)
	if _, err := f.svc.ApplyPatch(ctx, "COS-001", testsupport.IssuerID, lifecycle.GroupPatch{}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty patch, got %v", err)
	}
	group, err := f.svc.ApplyPatch(ctx, "COS-001", testsupport.AdminID, lifecycle.GroupPatch{AddOperatorCertificates: []int64{cert}})
	if err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	if group.UpdatedBy != testsupport.AdminID {
		t.Fatalf("expected touch by admin, got %d", group.UpdatedBy)
	}
}
