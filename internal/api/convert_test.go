package api_test

import (
	"testing"
	"time"

	"cosflow/internal/api"
	"cosflow/internal/merge"
	"cosflow/internal/store"
)

func TestFromCirculationKeysTasksByType(t *testing.T) {
	created := time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("WIB", 7*3600))
	circ := store.CirculationSummary{
		Circulation: store.Circulation{
			ID:         3,
			GroupID:    "COS-001",
			ArtifactID: 8,
			Status:     store.CirculationWaitingChecker,
			CreatedAt:  created,
			CreatedBy:  10,
		},
		IssuerName: "Ina Issuer",
	}
	tasks := []store.TaskAssignment{
		{Task: store.Task{ID: 1, Type: store.TaskCheck, Assignee: 20, Status: store.TaskPending}, AssigneeName: "Cahya"},
		{Task: store.Task{ID: 2, Type: store.TaskApprove, Assignee: 30, Status: store.TaskNew}},
	}

	got := api.FromCirculation(circ, tasks)
	if got.IssuerID != 10 || got.IssuerName != "Ina Issuer" {
		t.Fatalf("unexpected issuer %d %q", got.IssuerID, got.IssuerName)
	}
	if got.StatusText != "Waiting Checker" {
		t.Fatalf("unexpected status text %q", got.StatusText)
	}
	if got.CreatedAt != "2026-03-03T22:06:07.000Z" {
		t.Fatalf("expected UTC timestamp, got %q", got.CreatedAt)
	}
	if got.UpdatedAt != "" {
		t.Fatalf("expected empty zero time, got %q", got.UpdatedAt)
	}
	check, ok := got.Tasks["CHECK"]
	if !ok || check.AssigneeID != 20 || check.AssigneeName != "Cahya" {
		t.Fatalf("unexpected CHECK task %#v", check)
	}
	if _, ok := got.Tasks["APPROVE"]; !ok || len(got.Tasks) != 2 {
		t.Fatalf("unexpected task map %#v", got.Tasks)
	}
}

func TestFromMergeResult(t *testing.T) {
	if api.FromMergeResult(nil) != nil {
		t.Fatal("expected nil report for nil result")
	}
	res := &merge.Result{
		PDF:   []byte("%PDF-1.7"),
		Pages: 3,
		Fragments: []merge.Fragment{
			{Source: merge.SourceDocument, DocumentID: 1, DocType: store.DocCOS, FileName: "cos.pdf", Pages: 2},
			{Source: merge.SourceCertificate, CertificateID: 9, Pages: 1},
		},
		Skipped: []merge.Skipped{{Fragment: merge.Fragment{Source: merge.SourceCertificate, CertificateID: 4}, Reason: "empty"}},
	}
	got := api.FromMergeResult(res)
	if got.Pages != 3 || got.Bytes != len(res.PDF) || len(got.Fragments) != 2 {
		t.Fatalf("unexpected report %#v", got)
	}
	if got.Fragments[1].Source != "certificate" || got.Fragments[1].CertificateID != 9 {
		t.Fatalf("unexpected certificate fragment %#v", got.Fragments[1])
	}
	if len(got.Skipped) != 1 || got.Skipped[0].Fragment != "certificate#4" {
		t.Fatalf("unexpected skipped %#v", got.Skipped)
	}
}
