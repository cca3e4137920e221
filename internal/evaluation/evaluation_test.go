package evaluation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cosflow/internal/evaluation"
	"cosflow/internal/logging"
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

func (r *recorder) last() notifications.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func setup(t *testing.T) (*evaluation.Service, *store.Store, *recorder) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.SeedUsers(t, st)
	events := &recorder{}
	return evaluation.NewService(st, events, logging.NewNop()), st, events
}

// readyGroup creates a group with every required slot and a merged artifact.
func readyGroup(t *testing.T, st *store.Store, id string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	testsupport.MustCreateGroup(t, st, id, testsupport.IssuerID)
	for _, dt := range []store.DocType{store.DocCOS, store.DocPFM, store.DocWGS, store.DocMO} {
		in := store.DocumentInput{DocType: dt, FileName: string(dt) + ".pdf", MimeType: "application/pdf", Content: []byte("%PDF " + string(dt))}
		if _, _, err := st.UpsertDocument(ctx, id, in, testsupport.IssuerID, now); err != nil {
			t.Fatalf("UpsertDocument: %v", err)
		}
	}
	if err := st.SetGroupStatus(ctx, id, store.GroupReady, testsupport.IssuerID, now); err != nil {
		t.Fatalf("SetGroupStatus: %v", err)
	}
	if _, err := st.UpsertMergedArtifact(ctx, id, []byte("%PDF merged"), 4, now); err != nil {
		t.Fatalf("UpsertMergedArtifact: %v", err)
	}
}

func fullAssignments() evaluation.Assignments {
	return evaluation.Assignments{
		Check:     testsupport.CheckerID,
		Approve:   testsupport.ApproverID,
		QACheck:   testsupport.QACheckerID,
		QAApprove: testsupport.QAApproverID,
	}
}

func tasksByType(t *testing.T, st *store.Store, circulationID int64) map[store.TaskType]store.Task {
	t.Helper()
	tasks, err := st.TasksForCirculation(context.Background(), circulationID)
	if err != nil {
		t.Fatalf("TasksForCirculation: %v", err)
	}
	out := make(map[store.TaskType]store.Task, len(tasks))
	for _, task := range tasks {
		out[task.Type] = task
	}
	return out
}

func TestStartCirculationCreatesTasks(t *testing.T) {
	svc, st, events := setup(t)
	readyGroup(t, st, "COS-001")

	circ, err := svc.StartCirculation(context.Background(), "COS-001", testsupport.IssuerID, fullAssignments())
	if err != nil {
		t.Fatalf("StartCirculation: %v", err)
	}
	if circ.Status != store.CirculationWaitingChecker || circ.Note != "Issued complete document" || circ.Issuer() != testsupport.IssuerID {
		t.Fatalf("unexpected circulation %+v", circ)
	}
	tasks := tasksByType(t, st, circ.ID)
	if len(tasks) != 5 {
		t.Fatalf("expected 5 tasks, got %d", len(tasks))
	}
	if tasks[store.TaskIssued].Status != store.TaskDone || tasks[store.TaskCheck].Status != store.TaskPending || tasks[store.TaskApprove].Status != store.TaskNew {
		t.Fatalf("unexpected task statuses %+v", tasks)
	}
	group, err := st.GetGroup(context.Background(), "COS-001")
	if err != nil || group.Status != store.GroupWaitingApproval {
		t.Fatalf("group status = %v, %v", group.Status, err)
	}
	if evt := events.last(); evt.Kind != notifications.KindCirculationStarted || evt.GroupID != "COS-001" {
		t.Fatalf("unexpected event %+v", evt)
	}
}

func TestStartCirculationInitialStatusFollowsFirstAssignee(t *testing.T) {
	svc, st, _ := setup(t)
	readyGroup(t, st, "COS-002")
	readyGroup(t, st, "COS-003")
	ctx := context.Background()

	circ, err := svc.StartCirculation(ctx, "COS-002", testsupport.IssuerID, evaluation.Assignments{QACheck: testsupport.QACheckerID})
	if err != nil {
		t.Fatalf("StartCirculation: %v", err)
	}
	if circ.Status != store.CirculationWaitingQAChecker {
		t.Fatalf("expected waiting QA checker, got %v", circ.Status)
	}
	if tasks := tasksByType(t, st, circ.ID); tasks[store.TaskQACheck].Status != store.TaskNew {
		t.Fatalf("only CHECK starts pending, QA_CHECK got %v", tasks[store.TaskQACheck].Status)
	}
	done, err := svc.CompleteTask(ctx, "COS-002", testsupport.QACheckerID)
	if err != nil {
		t.Fatalf("CompleteTask on a NEW first stage: %v", err)
	}
	if done.Status != store.CirculationCompleted {
		t.Fatalf("expected Completed, got %v", done.Status)
	}

	circ, err = svc.StartCirculation(ctx, "COS-003", testsupport.IssuerID, evaluation.Assignments{})
	if err != nil {
		t.Fatalf("StartCirculation without reviewers: %v", err)
	}
	if circ.Status != store.CirculationNew {
		t.Fatalf("expected New, got %v", circ.Status)
	}
}

func TestStartCirculationPreconditions(t *testing.T) {
	svc, st, _ := setup(t)
	ctx := context.Background()

	if _, err := svc.StartCirculation(ctx, "COS-404", testsupport.IssuerID, fullAssignments()); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("unknown group: %v", err)
	}

	testsupport.MustCreateGroup(t, st, "COS-010", testsupport.IssuerID)
	if _, err := svc.StartCirculation(ctx, "COS-010", testsupport.IssuerID, fullAssignments()); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("missing artifact: %v", err)
	}

	if _, err := st.UpsertMergedArtifact(ctx, "COS-010", []byte("%PDF"), 1, time.Now()); err != nil {
		t.Fatalf("UpsertMergedArtifact: %v", err)
	}
	if _, err := svc.StartCirculation(ctx, "COS-010", testsupport.IssuerID, fullAssignments()); !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("draft group: %v", err)
	}

	readyGroup(t, st, "COS-011")
	if _, err := svc.StartCirculation(ctx, "COS-011", testsupport.IssuerID, fullAssignments()); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := svc.StartCirculation(ctx, "COS-011", testsupport.IssuerID, fullAssignments()); !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("second start: %v", err)
	}
}

func TestStartCirculationIsAtomic(t *testing.T) {
	svc, st, _ := setup(t)
	readyGroup(t, st, "COS-001")
	ctx := context.Background()

	bad := fullAssignments()
	bad.QAApprove = 9999
	_, err := svc.StartCirculation(ctx, "COS-001", testsupport.IssuerID, bad)
	if services.FieldOf(err) != "assignments.qaApprove" {
		t.Fatalf("expected qaApprove field error, got %v", err)
	}
	if _, err := st.LatestCirculation(ctx, "COS-001"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("no circulation should remain, got %v", err)
	}
	group, err := st.GetGroup(ctx, "COS-001")
	if err != nil || group.Status != store.GroupReady {
		t.Fatalf("group should stay ready: %v %v", group.Status, err)
	}
	available, err := st.AvailableForEvaluation(ctx)
	if err != nil || len(available) != 1 {
		t.Fatalf("group should still be available: %d %v", len(available), err)
	}
}

func TestStartCirculationRejectsIneligibleRole(t *testing.T) {
	svc, st, _ := setup(t)
	readyGroup(t, st, "COS-001")

	_, err := svc.StartCirculation(context.Background(), "COS-001", testsupport.IssuerID, evaluation.Assignments{Approve: testsupport.CheckerID})
	if services.FieldOf(err) != "assignments.approve" {
		t.Fatalf("expected approve field error, got %v", err)
	}
}

func TestRequestRevision(t *testing.T) {
	svc, st, events := setup(t)
	readyGroup(t, st, "COS-001")
	ctx := context.Background()
	circ, err := svc.StartCirculation(ctx, "COS-001", testsupport.IssuerID, fullAssignments())
	if err != nil {
		t.Fatalf("StartCirculation: %v", err)
	}

	rev, err := svc.RequestRevision(ctx, "COS-001", testsupport.CheckerID, evaluation.RevisionInput{
		Description: "fix page 2",
		FileName:    "markup.png",
		Content:     []byte("png"),
	})
	if err != nil {
		t.Fatalf("RequestRevision: %v", err)
	}
	if rev.GiveTo != testsupport.IssuerID || rev.Status != store.RevisionNew || !rev.HasFile || rev.MimeType != "image/png" {
		t.Fatalf("unexpected revision %+v", rev)
	}
	latest, err := st.LatestCirculation(ctx, "COS-001")
	if err != nil {
		t.Fatalf("LatestCirculation: %v", err)
	}
	if latest.Status != store.CirculationRevisionFromChecker || latest.Note != "Checker sent revision" || latest.UpdatedBy != testsupport.CheckerID {
		t.Fatalf("unexpected circulation %+v", latest)
	}
	tasks := tasksByType(t, st, circ.ID)
	if tasks[store.TaskCheck].Status != store.TaskRevisionRequested || tasks[store.TaskIssued].Status != store.TaskRevisionForwarded {
		t.Fatalf("unexpected task statuses %+v", tasks)
	}
	if evt := events.last(); evt.Kind != notifications.KindRevisionRequested || evt.Field("description") != "fix page 2" {
		t.Fatalf("unexpected event %+v", evt)
	}
}

func TestRequestRevisionUsesRequesterStage(t *testing.T) {
	svc, st, _ := setup(t)
	readyGroup(t, st, "COS-001")
	ctx := context.Background()
	if _, err := svc.StartCirculation(ctx, "COS-001", testsupport.IssuerID, fullAssignments()); err != nil {
		t.Fatalf("StartCirculation: %v", err)
	}
	if _, err := svc.RequestRevision(ctx, "COS-001", testsupport.QAApproverID, evaluation.RevisionInput{Description: "sign"}); err != nil {
		t.Fatalf("RequestRevision: %v", err)
	}
	latest, err := st.LatestCirculation(ctx, "COS-001")
	if err != nil || latest.Status != store.CirculationRevisionFromQAApproval {
		t.Fatalf("expected revision from QA approval, got %v (%v)", latest.Status, err)
	}
}

func TestRequestRevisionRejections(t *testing.T) {
	svc, st, _ := setup(t)
	readyGroup(t, st, "COS-001")
	ctx := context.Background()

	if _, err := svc.RequestRevision(ctx, "COS-001", testsupport.CheckerID, evaluation.RevisionInput{Description: "x"}); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("no circulation: %v", err)
	}
	if _, err := svc.StartCirculation(ctx, "COS-001", testsupport.IssuerID, evaluation.Assignments{Check: testsupport.CheckerID}); err != nil {
		t.Fatalf("StartCirculation: %v", err)
	}
	if _, err := svc.RequestRevision(ctx, "COS-001", testsupport.ApproverID, evaluation.RevisionInput{Description: "x"}); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("not your task: %v", err)
	}
	if _, err := svc.RequestRevision(ctx, "COS-001", testsupport.IssuerID, evaluation.RevisionInput{Description: "x"}); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("issuer has no review task: %v", err)
	}
	if _, err := svc.RequestRevision(ctx, "COS-001", testsupport.CheckerID, evaluation.RevisionInput{Description: "  "}); services.FieldOf(err) != "description" {
		t.Fatalf("blank description: %v", err)
	}
}

func TestResolveRevision(t *testing.T) {
	svc, st, _ := setup(t)
	readyGroup(t, st, "COS-001")
	ctx := context.Background()
	circ, err := svc.StartCirculation(ctx, "COS-001", testsupport.IssuerID, fullAssignments())
	if err != nil {
		t.Fatalf("StartCirculation: %v", err)
	}
	rev, err := svc.RequestRevision(ctx, "COS-001", testsupport.CheckerID, evaluation.RevisionInput{Description: "fix"})
	if err != nil {
		t.Fatalf("RequestRevision: %v", err)
	}

	if _, err := svc.ResolveRevision(ctx, rev.ID, testsupport.CheckerID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("only the recipient may resolve: %v", err)
	}
	resolved, err := svc.ResolveRevision(ctx, rev.ID, testsupport.IssuerID)
	if err != nil {
		t.Fatalf("ResolveRevision: %v", err)
	}
	if resolved.Status != store.RevisionWaitingCheck {
		t.Fatalf("expected waiting check, got %v", resolved.Status)
	}
	if _, err := svc.ResolveRevision(ctx, rev.ID, testsupport.IssuerID); !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("second resolve: %v", err)
	}
	tasks := tasksByType(t, st, circ.ID)
	if tasks[store.TaskCheck].Status != store.TaskPending || tasks[store.TaskIssued].Status != store.TaskDone {
		t.Fatalf("unexpected task statuses %+v", tasks)
	}
	latest, err := st.LatestCirculation(ctx, "COS-001")
	if err != nil || latest.Status != store.CirculationWaitingChecker {
		t.Fatalf("expected waiting checker, got %v (%v)", latest.Status, err)
	}
}

func TestConcurrentRevisionsStayOpenUntilResolved(t *testing.T) {
	svc, st, _ := setup(t)
	readyGroup(t, st, "COS-001")
	ctx := context.Background()
	circ, err := svc.StartCirculation(ctx, "COS-001", testsupport.IssuerID, fullAssignments())
	if err != nil {
		t.Fatalf("StartCirculation: %v", err)
	}
	checkRev, err := svc.RequestRevision(ctx, "COS-001", testsupport.CheckerID, evaluation.RevisionInput{Description: "fix torque"})
	if err != nil {
		t.Fatalf("checker RequestRevision: %v", err)
	}
	approveRev, err := svc.RequestRevision(ctx, "COS-001", testsupport.ApproverID, evaluation.RevisionInput{Description: "missing signature"})
	if err != nil {
		t.Fatalf("approver RequestRevision: %v", err)
	}

	if _, err := svc.ResolveRevision(ctx, checkRev.ID, testsupport.IssuerID); err != nil {
		t.Fatalf("ResolveRevision: %v", err)
	}
	tasks := tasksByType(t, st, circ.ID)
	if tasks[store.TaskIssued].Status != store.TaskRevisionForwarded {
		t.Fatalf("issued task should wait for the approver revision, got %v", tasks[store.TaskIssued].Status)
	}
	if tasks[store.TaskCheck].Status != store.TaskPending || tasks[store.TaskApprove].Status != store.TaskRevisionRequested {
		t.Fatalf("unexpected task statuses %+v", tasks)
	}
	latest, err := st.LatestCirculation(ctx, "COS-001")
	if err != nil || latest.Status != store.CirculationRevisionFromApprover {
		t.Fatalf("expected revision from approver, got %v (%v)", latest.Status, err)
	}

	got, err := svc.CompleteTask(ctx, "COS-001", testsupport.CheckerID)
	if err != nil {
		t.Fatalf("checker CompleteTask: %v", err)
	}
	if got.Status != store.CirculationRevisionFromApprover {
		t.Fatalf("expected revision from approver after check, got %v", got.Status)
	}
	tasks = tasksByType(t, st, circ.ID)
	if tasks[store.TaskApprove].Status != store.TaskRevisionRequested {
		t.Fatalf("approve task lost its revision state: %v", tasks[store.TaskApprove].Status)
	}
	pending, err := st.GetRevision(ctx, approveRev.ID)
	if err != nil || pending.Status != store.RevisionNew {
		t.Fatalf("approver revision should still be open: %v %v", pending, err)
	}
	if _, err := svc.CompleteTask(ctx, "COS-001", testsupport.ApproverID); !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("approver completed with an open revision: %v", err)
	}

	if _, err := svc.ResolveRevision(ctx, approveRev.ID, testsupport.IssuerID); err != nil {
		t.Fatalf("ResolveRevision approver: %v", err)
	}
	tasks = tasksByType(t, st, circ.ID)
	if tasks[store.TaskIssued].Status != store.TaskDone || tasks[store.TaskApprove].Status != store.TaskPending {
		t.Fatalf("unexpected task statuses after last resolve %+v", tasks)
	}
	got, err = svc.CompleteTask(ctx, "COS-001", testsupport.ApproverID)
	if err != nil || got.Status != store.CirculationWaitingQAChecker {
		t.Fatalf("approver CompleteTask: %v %v", got, err)
	}
}

func TestCompleteTaskOrdering(t *testing.T) {
	svc, st, _ := setup(t)
	readyGroup(t, st, "COS-001")
	ctx := context.Background()
	if _, err := svc.StartCirculation(ctx, "COS-001", testsupport.IssuerID, fullAssignments()); err != nil {
		t.Fatalf("StartCirculation: %v", err)
	}

	if _, err := svc.CompleteTask(ctx, "COS-001", testsupport.ApproverID); !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("approver before checker: %v", err)
	}
	if _, err := svc.CompleteTask(ctx, "COS-001", testsupport.AdminID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("unassigned user: %v", err)
	}
	if _, err := svc.RequestRevision(ctx, "COS-001", testsupport.CheckerID, evaluation.RevisionInput{Description: "fix"}); err != nil {
		t.Fatalf("RequestRevision: %v", err)
	}
	if _, err := svc.CompleteTask(ctx, "COS-001", testsupport.CheckerID); !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("outstanding revision: %v", err)
	}
}

// TestCirculationEndToEnd walks COS-001 from upload-ready to Completed.
func TestCirculationEndToEnd(t *testing.T) {
	svc, st, events := setup(t)
	readyGroup(t, st, "COS-001")
	ctx := context.Background()

	circ, err := svc.StartCirculation(ctx, "COS-001", testsupport.IssuerID, fullAssignments())
	if err != nil {
		t.Fatalf("StartCirculation: %v", err)
	}
	rev, err := svc.RequestRevision(ctx, "COS-001", testsupport.CheckerID, evaluation.RevisionInput{Description: "wrong torque value"})
	if err != nil {
		t.Fatalf("RequestRevision: %v", err)
	}
	if _, err := svc.ResolveRevision(ctx, rev.ID, testsupport.IssuerID); err != nil {
		t.Fatalf("ResolveRevision: %v", err)
	}

	steps := []struct {
		actor int64
		want  store.CirculationStatus
	}{
		{testsupport.CheckerID, store.CirculationWaitingApproval},
		{testsupport.ApproverID, store.CirculationWaitingQAChecker},
		{testsupport.QACheckerID, store.CirculationWaitingQAApproval},
		{testsupport.QAApproverID, store.CirculationCompleted},
	}
	for _, step := range steps {
		got, err := svc.CompleteTask(ctx, "COS-001", step.actor)
		if err != nil {
			t.Fatalf("CompleteTask(%d): %v", step.actor, err)
		}
		if got.Status != step.want {
			t.Fatalf("after user %d: got %v, want %v", step.actor, got.Status, step.want)
		}
	}

	for typ, task := range tasksByType(t, st, circ.ID) {
		if task.Status != store.TaskDone {
			t.Fatalf("%s task not done: %v", typ, task.Status)
		}
	}
	checked, err := st.GetRevision(ctx, rev.ID)
	if err != nil || checked.Status != store.RevisionDone {
		t.Fatalf("revision should be done after checker completes: %v %v", checked, err)
	}
	if evt := events.last(); evt.Kind != notifications.KindTaskCompleted || evt.Field("circulationStatus") != "10" {
		t.Fatalf("unexpected final event %+v", evt)
	}
	if _, err := svc.CompleteTask(ctx, "COS-001", testsupport.QAApproverID); !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("completing a finished circulation: %v", err)
	}
	if _, err := svc.RequestRevision(ctx, "COS-001", testsupport.CheckerID, evaluation.RevisionInput{Description: "late"}); !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("revision on completed circulation: %v", err)
	}
}
