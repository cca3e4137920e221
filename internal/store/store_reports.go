package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"cosflow/internal/services"
)

// displayNameSQL mirrors User.DisplayName for a users alias.
func displayNameSQL(alias string) string {
	return fmt.Sprintf("COALESCE(NULLIF(%[1]s.full_name, ''), NULLIF(%[1]s.first_name, ''), %[1]s.username, '')", alias)
}

// GroupSummary is a list-view row for a document group.
type GroupSummary struct {
	Group
	OperatorCount int
	CreatorName   string
	UpdaterName   string
}

func (o ops) listGroupSummaries(ctx context.Context, where string, args ...any) ([]GroupSummary, error) {
	query := `SELECT g.id, g.status, g.created_at, g.updated_at, g.created_by, g.updated_by,
		(SELECT COUNT(1) FROM group_operators gl WHERE gl.group_id = g.id),
		` + displayNameSQL("cu") + `, ` + displayNameSQL("uu") + `
		FROM document_groups g
		LEFT JOIN users cu ON cu.id = g.created_by
		LEFT JOIN users uu ON uu.id = g.updated_by`
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY g.updated_at DESC, g.id"

	rows, err := o.q.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var out []GroupSummary
	for rows.Next() {
		var (
			s                  GroupSummary
			status             int
			created, updated   sql.NullString
			createdBy, updater sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &status, &created, &updated, &createdBy, &updater, &s.OperatorCount, &s.CreatorName, &s.UpdaterName); err != nil {
			return nil, err
		}
		s.Status = GroupStatus(status)
		s.CreatedAt = parseTime(created)
		s.UpdatedAt = parseTime(updated)
		s.CreatedBy = createdBy.Int64
		s.UpdatedBy = updater.Int64
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListGroups returns group summaries, optionally limited to groups created on
// or after since.
func (o ops) ListGroups(ctx context.Context, since time.Time) ([]GroupSummary, error) {
	if since.IsZero() {
		return o.listGroupSummaries(ctx, "")
	}
	return o.listGroupSummaries(ctx, "g.created_at >= ?", formatTime(since))
}

// GetGroupSummary returns the summary of one group.
func (o ops) GetGroupSummary(ctx context.Context, id string) (*GroupSummary, error) {
	rows, err := o.listGroupSummaries(ctx, "g.id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, services.Wrap(services.ErrNotFound, "store", "get group", fmt.Sprintf("group %q", id), nil)
	}
	return &rows[0], nil
}

// GroupsAwaitingUploads returns groups with linked operators whose required
// evidence is still missing.
func (o ops) GroupsAwaitingUploads(ctx context.Context) ([]GroupSummary, error) {
	return o.listGroupSummaries(ctx,
		"g.status IN (?, ?) AND EXISTS (SELECT 1 FROM group_operators gl WHERE gl.group_id = g.id)",
		int(GroupDraft), int(GroupIncomplete))
}

// AvailableGroup is a group that may be put into circulation.
type AvailableGroup struct {
	GroupID       string
	Status        GroupStatus
	ArtifactID    int64
	FragmentCount int
	GeneratedAt   time.Time
	UpdatedAt     time.Time
	UpdaterName   string
}

// AvailableForEvaluation lists Ready groups that have a merged artifact and
// no circulation referencing any artifact of the group.
func (o ops) AvailableForEvaluation(ctx context.Context) ([]AvailableGroup, error) {
	rows, err := o.q.QueryContext(ensureContext(ctx),
		`SELECT g.id, g.status, m.id, m.fragment_count, m.generated_at, g.updated_at, `+displayNameSQL("uu")+`
		 FROM document_groups g
		 JOIN merged_artifacts m ON m.group_id = g.id
		 LEFT JOIN users uu ON uu.id = g.updated_by
		 WHERE g.status = ?
		   AND NOT EXISTS (
		       SELECT 1 FROM circulations c
		       JOIN merged_artifacts ma ON ma.id = c.artifact_id
		       WHERE ma.group_id = g.id)
		 ORDER BY g.updated_at DESC, g.id`, int(GroupReady))
	if err != nil {
		return nil, fmt.Errorf("available for evaluation: %w", err)
	}
	defer rows.Close()

	var out []AvailableGroup
	for rows.Next() {
		var (
			a                  AvailableGroup
			status             int
			generated, updated sql.NullString
		)
		if err := rows.Scan(&a.GroupID, &status, &a.ArtifactID, &a.FragmentCount, &generated, &updated, &a.UpdaterName); err != nil {
			return nil, err
		}
		a.Status = GroupStatus(status)
		a.GeneratedAt = parseTime(generated)
		a.UpdatedAt = parseTime(updated)
		out = append(out, a)
	}
	return out, rows.Err()
}

// TaskAssignment is a task with its assignee's display name.
type TaskAssignment struct {
	Task
	AssigneeName string
}

// CirculationTasks lists a circulation's tasks with assignee names.
func (o ops) CirculationTasks(ctx context.Context, circulationID int64) ([]TaskAssignment, error) {
	rows, err := o.q.QueryContext(ensureContext(ctx),
		"SELECT "+taskColumns+", "+displayNameSQL("u")+` FROM eval_tasks t
		 LEFT JOIN users u ON u.id = t.assignee
		 WHERE t.circulation_id = ? ORDER BY t.id`, circulationID)
	if err != nil {
		return nil, fmt.Errorf("circulation tasks %d: %w", circulationID, err)
	}
	defer rows.Close()

	var out []TaskAssignment
	for rows.Next() {
		var (
			a                TaskAssignment
			taskType         string
			status           int
			created, updated sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.CirculationID, &taskType, &a.Assignee, &status, &created, &updated, &a.AssigneeName); err != nil {
			return nil, err
		}
		a.Type = TaskType(taskType)
		a.Status = TaskStatus(status)
		a.CreatedAt = parseTime(created)
		a.UpdatedAt = parseTime(updated)
		out = append(out, a)
	}
	return out, rows.Err()
}

// CirculationSummary is a circulation with issuer and last editor names.
type CirculationSummary struct {
	Circulation
	IssuerName  string
	UpdaterName string
}

func (o ops) listCirculations(ctx context.Context, where string, args ...any) ([]CirculationSummary, error) {
	query := "SELECT " + circulationColumns + ", " + displayNameSQL("iu") + ", " + displayNameSQL("uu") + `
		FROM circulations c
		JOIN merged_artifacts m ON m.id = c.artifact_id
		LEFT JOIN users iu ON iu.id = c.created_by
		LEFT JOIN users uu ON uu.id = c.updated_by`
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY c.created_at DESC, c.id DESC"

	rows, err := o.q.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list circulations: %w", err)
	}
	defer rows.Close()

	var out []CirculationSummary
	for rows.Next() {
		var (
			s                CirculationSummary
			status           int
			created, updated sql.NullString
			updatedBy        sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &s.ArtifactID, &s.GroupID, &status, &s.Note, &created, &s.CreatedBy, &updated, &updatedBy, &s.IssuerName, &s.UpdaterName); err != nil {
			return nil, err
		}
		s.Status = CirculationStatus(status)
		s.CreatedAt = parseTime(created)
		s.UpdatedAt = parseTime(updated)
		s.UpdatedBy = updatedBy.Int64
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListCirculations returns every circulation, newest first.
func (o ops) ListCirculations(ctx context.Context) ([]CirculationSummary, error) {
	return o.listCirculations(ctx, "")
}

// CirculationsForGroup returns a group's circulations, newest first.
func (o ops) CirculationsForGroup(ctx context.Context, groupID string) ([]CirculationSummary, error) {
	return o.listCirculations(ctx, "m.group_id = ?", groupID)
}

// Assignment is a task assigned to a user together with its circulation context.
type Assignment struct {
	Task
	GroupID           string
	CirculationStatus CirculationStatus
	IssuerID          int64
	IssuerName        string
	CirculatedAt      time.Time
}

// AssignedEvaluations lists reviewer tasks assigned to a user, newest circulation first.
func (o ops) AssignedEvaluations(ctx context.Context, userID int64) ([]Assignment, error) {
	rows, err := o.q.QueryContext(ensureContext(ctx),
		"SELECT "+taskColumns+", m.group_id, c.status, c.created_by, "+displayNameSQL("iu")+`, c.created_at
		 FROM eval_tasks t
		 JOIN circulations c ON c.id = t.circulation_id
		 JOIN merged_artifacts m ON m.id = c.artifact_id
		 LEFT JOIN users iu ON iu.id = c.created_by
		 WHERE t.assignee = ? AND t.task_type <> ?
		 ORDER BY c.created_at DESC, t.id DESC`, userID, string(TaskIssued))
	if err != nil {
		return nil, fmt.Errorf("assigned evaluations for %d: %w", userID, err)
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		var (
			a                        Assignment
			taskType                 string
			status, circStatus       int
			created, updated, circAt sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.CirculationID, &taskType, &a.Assignee, &status, &created, &updated,
			&a.GroupID, &circStatus, &a.IssuerID, &a.IssuerName, &circAt); err != nil {
			return nil, err
		}
		a.Type = TaskType(taskType)
		a.Status = TaskStatus(status)
		a.CreatedAt = parseTime(created)
		a.UpdatedAt = parseTime(updated)
		a.CirculationStatus = CirculationStatus(circStatus)
		a.CirculatedAt = parseTime(circAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// RevisionSummary is a revision with the requesting task and party names.
type RevisionSummary struct {
	Revision
	CirculationID int64
	TaskType      TaskType
	RequesterName string
	GiveToName    string
}

// RevisionsForGroup lists revisions raised in any circulation of the group, newest first.
func (o ops) RevisionsForGroup(ctx context.Context, groupID string) ([]RevisionSummary, error) {
	rows, err := o.q.QueryContext(ensureContext(ctx),
		"SELECT "+revisionMetaColumns+", t.circulation_id, t.task_type, "+displayNameSQL("ru")+", "+displayNameSQL("gu")+`
		 FROM eval_revisions r
		 JOIN eval_tasks t ON t.id = r.task_id
		 JOIN circulations c ON c.id = t.circulation_id
		 JOIN merged_artifacts m ON m.id = c.artifact_id
		 LEFT JOIN users ru ON ru.id = r.created_by
		 LEFT JOIN users gu ON gu.id = r.give_to
		 WHERE m.group_id = ?
		 ORDER BY r.created_at DESC, r.id DESC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("revisions for %q: %w", groupID, err)
	}
	defer rows.Close()

	var out []RevisionSummary
	for rows.Next() {
		var (
			s                  RevisionSummary
			fileName, mimeType sql.NullString
			status             int
			created, updated   sql.NullString
			taskType           string
		)
		if err := rows.Scan(&s.ID, &s.TaskID, &s.Description, &fileName, &mimeType, &s.HasFile, &status, &created, &s.CreatedBy, &s.GiveTo, &updated,
			&s.CirculationID, &taskType, &s.RequesterName, &s.GiveToName); err != nil {
			return nil, err
		}
		s.FileName = fileName.String
		s.MimeType = mimeType.String
		s.Status = RevisionStatus(status)
		s.CreatedAt = parseTime(created)
		s.UpdatedAt = parseTime(updated)
		s.TaskType = TaskType(taskType)
		out = append(out, s)
	}
	return out, rows.Err()
}
