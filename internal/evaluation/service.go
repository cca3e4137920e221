package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"cosflow/internal/logging"
	"cosflow/internal/notifications"
	"cosflow/internal/services"
	"cosflow/internal/store"
)

const issueNote = "Issued complete document"

// Assignments names the reviewer for each stage. Zero leaves a stage unassigned.
type Assignments struct {
	Check     int64 `json:"check,omitempty"`
	Approve   int64 `json:"approve,omitempty"`
	QACheck   int64 `json:"qaCheck,omitempty"`
	QAApprove int64 `json:"qaApprove,omitempty"`
}

// ByType returns the assigned user per task type in pipeline order.
func (a Assignments) ByType() []Assignment {
	all := []Assignment{
		{Type: store.TaskCheck, UserID: a.Check},
		{Type: store.TaskApprove, UserID: a.Approve},
		{Type: store.TaskQACheck, UserID: a.QACheck},
		{Type: store.TaskQAApprove, UserID: a.QAApprove},
	}
	out := all[:0]
	for _, as := range all {
		if as.UserID != 0 {
			out = append(out, as)
		}
	}
	return out
}

// Assignment pairs a task type with its assignee.
type Assignment struct {
	Type   store.TaskType
	UserID int64
}

// RevisionInput is a reviewer's change request with an optional attachment.
type RevisionInput struct {
	Description string
	FileName    string
	MimeType    string
	Content     []byte
}

// Service drives circulations, tasks and revisions.
type Service struct {
	store     *store.Store
	publisher notifications.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewService wires the evaluation workflow. A nil publisher discards events.
func NewService(st *store.Store, publisher notifications.Publisher, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = notifications.Discard
	}
	return &Service{
		store:     st,
		publisher: publisher,
		logger:    logging.NewComponentLogger(logger, "evaluation"),
		now:       time.Now,
	}
}

// StartCirculation issues a Ready group's merged artifact to the assigned
// reviewers. Everything is written in one transaction.
func (s *Service) StartCirculation(ctx context.Context, groupID string, issuer int64, assignments Assignments) (*store.Circulation, error) {
	now := s.now()
	assigned := assignments.ByType()
	var circ *store.Circulation

	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		group, err := tx.GetGroup(ctx, groupID)
		if err != nil {
			return err
		}
		artifact, err := tx.GetMergedArtifact(ctx, groupID)
		if err != nil {
			return err
		}
		circulated, err := tx.IsCirculated(ctx, groupID)
		if err != nil {
			return err
		}
		if circulated {
			return services.Wrap(services.ErrInvalidState, "evaluation", "start circulation",
				fmt.Sprintf("group %q is already circulated", groupID), nil)
		}
		if group.Status != store.GroupReady {
			return services.Wrap(services.ErrInvalidState, "evaluation", "start circulation",
				fmt.Sprintf("group %q is %s, not %s", groupID, group.Status, store.GroupReady), nil)
		}

		status := store.CirculationNew
		if len(assigned) > 0 {
			status = WaitingStatus(assigned[0].Type)
		}
		id, err := tx.InsertCirculation(ctx, store.Circulation{
			ArtifactID: artifact.ID,
			Status:     status,
			Note:       issueNote,
			CreatedAt:  now,
			CreatedBy:  issuer,
		})
		if err != nil {
			return constraintError(err, "issuer", "unknown issuer")
		}
		if _, err := tx.InsertTask(ctx, store.Task{CirculationID: id, Type: store.TaskIssued, Assignee: issuer, Status: store.TaskDone, CreatedAt: now}); err != nil {
			return constraintError(err, "issuer", "unknown issuer")
		}
		for _, as := range assigned {
			field := assignmentField(as.Type)
			taskStatus := store.TaskNew
			if as.Type == store.TaskCheck {
				taskStatus = store.TaskPending
			}
			if _, err := tx.InsertTask(ctx, store.Task{CirculationID: id, Type: as.Type, Assignee: as.UserID, Status: taskStatus, CreatedAt: now}); err != nil {
				return constraintError(err, field, fmt.Sprintf("unknown user %d", as.UserID))
			}
			if err := checkEligible(ctx, tx, as, field); err != nil {
				return err
			}
		}
		if err := tx.SetGroupStatus(ctx, groupID, store.GroupWaitingApproval, issuer, now); err != nil {
			return err
		}
		circ, err = tx.GetCirculation(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	logging.WithContext(services.WithGroupID(ctx, groupID), s.logger).Info("circulation started",
		logging.CirculationID(circ.ID),
		logging.ActorID(issuer),
		logging.Int("reviewers", len(assigned)),
		logging.String("status", circ.Status.String()),
	)
	s.publish(ctx, notifications.KindCirculationStarted, circ, issuer, nil)
	return circ, nil
}

func assignmentField(t store.TaskType) string {
	switch t {
	case store.TaskCheck:
		return "assignments.check"
	case store.TaskApprove:
		return "assignments.approve"
	case store.TaskQACheck:
		return "assignments.qaCheck"
	case store.TaskQAApprove:
		return "assignments.qaApprove"
	}
	return "assignments"
}

func checkEligible(ctx context.Context, tx *store.Tx, as Assignment, field string) error {
	user, err := tx.GetUser(ctx, as.UserID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return services.InvalidField(field, fmt.Sprintf("unknown user %d", as.UserID))
		}
		return err
	}
	for _, role := range store.EligibleRoles(as.Type) {
		if user.Role == role {
			return nil
		}
	}
	return services.InvalidField(field, fmt.Sprintf("%s cannot hold a %s task", user.Role, as.Type))
}

func constraintError(err error, field, reason string) error {
	if store.IsConstraintViolation(err) {
		return services.InvalidField(field, reason)
	}
	return err
}

// RequestRevision records a reviewer's change request against the group's
// latest circulation and hands it to the issuer.
func (s *Service) RequestRevision(ctx context.Context, groupID string, requester int64, in RevisionInput) (*store.Revision, error) {
	description := strings.TrimSpace(in.Description)
	if description == "" {
		return nil, services.InvalidField("description", "required")
	}
	fileName := strings.TrimSpace(filepath.Base(strings.ReplaceAll(in.FileName, "\\", "/")))
	if len(in.Content) > 0 && (fileName == "" || fileName == "." || fileName == "/") {
		return nil, services.InvalidField("fileName", "required with an attachment")
	}
	mimeType := ""
	if len(in.Content) > 0 {
		mimeType = attachmentMimeType(in.MimeType, fileName)
	} else {
		fileName = ""
	}

	now := s.now()
	var (
		circ     *store.Circulation
		revision *store.Revision
		task     store.Task
	)
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		circ, err = tx.LatestCirculation(ctx, groupID)
		if err != nil {
			return err
		}
		tasks, err := tx.TasksForCirculation(ctx, circ.ID)
		if err != nil {
			return err
		}
		var found bool
		for _, t := range reviewTasks(tasks) {
			if t.Assignee == requester {
				task, found = t, true
				break
			}
		}
		if !found {
			return services.Wrap(services.ErrNotFound, "evaluation", "request revision",
				fmt.Sprintf("user %d has no task on group %q (not your task)", requester, groupID), nil)
		}
		if circ.Status == store.CirculationCompleted {
			return services.Wrap(services.ErrInvalidState, "evaluation", "request revision",
				fmt.Sprintf("circulation %d is completed", circ.ID), nil)
		}
		issued, ok := issuedTask(tasks)
		if !ok {
			return services.Wrap(services.ErrInvalidState, "evaluation", "request revision",
				fmt.Sprintf("circulation %d has no issued task", circ.ID), nil)
		}

		id, err := tx.InsertRevision(ctx, store.Revision{
			TaskID:      task.ID,
			Description: description,
			FileName:    fileName,
			MimeType:    mimeType,
			FileContent: in.Content,
			Status:      store.RevisionNew,
			CreatedAt:   now,
			CreatedBy:   requester,
			GiveTo:      circ.Issuer(),
		})
		if err != nil {
			return err
		}
		note := fmt.Sprintf("%s sent revision", stageLabel(task.Type))
		if err := tx.UpdateCirculationStatus(ctx, circ.ID, RevisionStatus(task.Type), note, requester, now); err != nil {
			return err
		}
		if err := tx.UpdateTaskStatus(ctx, task.ID, store.TaskRevisionRequested, now); err != nil {
			return err
		}
		if err := tx.UpdateTaskStatus(ctx, issued.ID, store.TaskRevisionForwarded, now); err != nil {
			return err
		}
		if revision, err = tx.GetRevision(ctx, id); err != nil {
			return err
		}
		circ, err = tx.GetCirculation(ctx, circ.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	logging.WithContext(services.WithGroupID(ctx, groupID), s.logger).Info("revision requested",
		logging.CirculationID(circ.ID),
		logging.Int64("revision_id", revision.ID),
		logging.String("task_type", string(task.Type)),
		logging.ActorID(requester),
		logging.Int64("give_to", revision.GiveTo),
	)
	s.publish(ctx, notifications.KindRevisionRequested, circ, requester, map[string]any{
		"revisionId":  revision.ID,
		"taskType":    string(task.Type),
		"description": description,
	})
	return revision, nil
}

func attachmentMimeType(declared, name string) string {
	if mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(declared)); err == nil {
		return mediaType
	}
	if guessed := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); guessed != "" {
		if mediaType, _, err := mime.ParseMediaType(guessed); err == nil {
			return mediaType
		}
	}
	return "application/octet-stream"
}

// ResolveRevision marks a revision as addressed by its recipient and hands the
// task back to the reviewer who raised it.
func (s *Service) ResolveRevision(ctx context.Context, revisionID, actor int64) (*store.Revision, error) {
	now := s.now()
	var (
		circ     *store.Circulation
		revision *store.Revision
		task     *store.Task
	)
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		revision, err = tx.GetRevision(ctx, revisionID)
		if err != nil {
			return err
		}
		if revision.GiveTo != actor {
			return services.Wrap(services.ErrNotFound, "evaluation", "resolve revision",
				fmt.Sprintf("revision %d is not addressed to user %d", revisionID, actor), nil)
		}
		if revision.Status != store.RevisionNew {
			return services.Wrap(services.ErrInvalidState, "evaluation", "resolve revision",
				fmt.Sprintf("revision %d is %s", revisionID, revision.Status), nil)
		}
		if task, err = tx.GetTask(ctx, revision.TaskID); err != nil {
			return err
		}
		if circ, err = tx.GetCirculation(ctx, task.CirculationID); err != nil {
			return err
		}
		tasks, err := tx.TasksForCirculation(ctx, circ.ID)
		if err != nil {
			return err
		}

		if err := tx.UpdateRevisionStatus(ctx, revision.ID, store.RevisionWaitingCheck, now); err != nil {
			return err
		}
		open, err := openRevisions(ctx, tx, tasks)
		if err != nil {
			return err
		}
		if open[task.ID] == 0 {
			if err := tx.UpdateTaskStatus(ctx, task.ID, store.TaskPending, now); err != nil {
				return err
			}
		}
		// ISSUED returns to DONE only once no revision is left open.
		if issued, ok := issuedTask(tasks); ok && len(open) == 0 {
			if err := tx.UpdateTaskStatus(ctx, issued.ID, store.TaskDone, now); err != nil {
				return err
			}
		}
		note := fmt.Sprintf("Revision resolved for %s", stageLabel(task.Type))
		if err := s.advance(ctx, tx, circ.ID, note, actor, now); err != nil {
			return err
		}
		if revision, err = tx.GetRevision(ctx, revision.ID); err != nil {
			return err
		}
		circ, err = tx.GetCirculation(ctx, circ.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	logging.WithContext(services.WithGroupID(ctx, circ.GroupID), s.logger).Info("revision resolved",
		logging.CirculationID(circ.ID),
		logging.Int64("revision_id", revision.ID),
		logging.String("task_type", string(task.Type)),
		logging.ActorID(actor),
	)
	s.publish(ctx, notifications.KindRevisionResolved, circ, actor, map[string]any{
		"revisionId": revision.ID,
		"taskType":   string(task.Type),
	})
	return revision, nil
}

// CompleteTask finishes the actor's active review task and advances the
// circulation to the next assigned stage, or to Completed after the last one.
func (s *Service) CompleteTask(ctx context.Context, groupID string, actor int64) (*store.Circulation, error) {
	now := s.now()
	var (
		circ *store.Circulation
		done store.Task
	)
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		circ, err = tx.LatestCirculation(ctx, groupID)
		if err != nil {
			return err
		}
		tasks, err := tx.TasksForCirculation(ctx, circ.ID)
		if err != nil {
			return err
		}
		review := reviewTasks(tasks)
		mine := false
		for _, t := range review {
			if t.Assignee == actor {
				mine = true
				break
			}
		}
		if !mine {
			return services.Wrap(services.ErrNotFound, "evaluation", "complete task",
				fmt.Sprintf("user %d has no task on group %q (not your task)", actor, groupID), nil)
		}
		active, ok := activeTask(tasks)
		if !ok {
			return services.Wrap(services.ErrInvalidState, "evaluation", "complete task",
				fmt.Sprintf("circulation %d is completed", circ.ID), nil)
		}
		if active.Assignee != actor {
			return services.Wrap(services.ErrInvalidState, "evaluation", "complete task",
				fmt.Sprintf("task not active: waiting for %s", stageLabel(active.Type)), nil)
		}
		if active.Status == store.TaskRevisionRequested {
			return services.Wrap(services.ErrInvalidState, "evaluation", "complete task",
				fmt.Sprintf("%s task has an outstanding revision", active.Type), nil)
		}
		done = active

		if err := tx.UpdateTaskStatus(ctx, active.ID, store.TaskDone, now); err != nil {
			return err
		}
		revisions, err := tx.RevisionsForTask(ctx, active.ID)
		if err != nil {
			return err
		}
		for _, rev := range revisions {
			if rev.Status == store.RevisionWaitingCheck {
				if err := tx.UpdateRevisionStatus(ctx, rev.ID, store.RevisionDone, now); err != nil {
					return err
				}
			}
		}

		note := "Evaluation completed"
		for _, t := range review {
			if t.ID == active.ID || t.Status == store.TaskDone {
				continue
			}
			note = fmt.Sprintf("%s completed", stageLabel(active.Type))
			// A stage already waiting on a revision keeps that status.
			if t.Status == store.TaskNew {
				if err := tx.UpdateTaskStatus(ctx, t.ID, store.TaskPending, now); err != nil {
					return err
				}
			}
			break
		}
		if err := s.advance(ctx, tx, circ.ID, note, actor, now); err != nil {
			return err
		}
		circ, err = tx.GetCirculation(ctx, circ.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	logging.WithContext(services.WithGroupID(ctx, groupID), s.logger).Info("task completed",
		logging.CirculationID(circ.ID),
		logging.String("task_type", string(done.Type)),
		logging.ActorID(actor),
		logging.String("status", circ.Status.String()),
	)
	s.publish(ctx, notifications.KindTaskCompleted, circ, actor, map[string]any{
		"taskType":          string(done.Type),
		"circulationStatus": int(circ.Status),
	})
	return circ, nil
}

// advance writes the circulation status implied by its tasks and open revisions.
func (s *Service) advance(ctx context.Context, tx *store.Tx, circulationID int64, note string, actor int64, at time.Time) error {
	tasks, err := tx.TasksForCirculation(ctx, circulationID)
	if err != nil {
		return err
	}
	open, err := openRevisions(ctx, tx, tasks)
	if err != nil {
		return err
	}
	return tx.UpdateCirculationStatus(ctx, circulationID, progressStatus(tasks, open), note, actor, at)
}

// openRevisions counts NEW revisions per review task. Tasks without one are absent.
func openRevisions(ctx context.Context, tx *store.Tx, tasks []store.Task) (map[int64]int, error) {
	open := make(map[int64]int)
	for _, t := range reviewTasks(tasks) {
		revisions, err := tx.RevisionsForTask(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		for _, rev := range revisions {
			if rev.Status == store.RevisionNew {
				open[t.ID]++
			}
		}
	}
	return open, nil
}

func (s *Service) publish(ctx context.Context, kind notifications.Kind, circ *store.Circulation, actor int64, fields map[string]any) {
	evt := notifications.NewEvent(kind, circ.GroupID).With("circulationId", circ.ID)
	for k, v := range fields {
		evt = evt.With(k, v)
	}
	evt.Status = int(circ.Status)
	evt.StatusText = circ.Status.String()
	evt.ActorID = actor
	s.publisher.Publish(ctx, evt)
}
