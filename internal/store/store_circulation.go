package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cosflow/internal/services"
)

// InsertCirculation records a new circulation. CreatedBy is the issuer.
func (o ops) InsertCirculation(ctx context.Context, c Circulation) (int64, error) {
	created := formatTime(c.CreatedAt)
	res, err := o.exec(ctx,
		`INSERT INTO circulations (artifact_id, status, note, created_at, created_by, updated_at, updated_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ArtifactID, int(c.Status), c.Note, created, c.CreatedBy, created, c.CreatedBy,
	)
	if err != nil {
		return 0, fmt.Errorf("insert circulation: %w", err)
	}
	return res.LastInsertId()
}

// UpdateCirculationStatus moves a circulation and records who moved it and why.
func (o ops) UpdateCirculationStatus(ctx context.Context, id int64, status CirculationStatus, note string, actor int64, at time.Time) error {
	if !status.Valid() {
		return services.Wrap(services.ErrValidation, "store", "update circulation", fmt.Sprintf("unknown status %d", int(status)), nil)
	}
	res, err := o.exec(ctx,
		"UPDATE circulations SET status = ?, note = ?, updated_at = ?, updated_by = ? WHERE id = ?",
		int(status), note, formatTime(at), nullableID(actor), id,
	)
	if err != nil {
		return fmt.Errorf("update circulation %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.Wrap(services.ErrNotFound, "store", "update circulation", fmt.Sprintf("circulation %d", id), nil)
	}
	return nil
}

// LatestCirculation returns the most recent circulation of a group.
func (o ops) LatestCirculation(ctx context.Context, groupID string) (*Circulation, error) {
	row := o.q.QueryRowContext(ensureContext(ctx),
		`SELECT `+circulationColumns+`
		 FROM circulations c
		 JOIN merged_artifacts m ON m.id = c.artifact_id
		 WHERE m.group_id = ?
		 ORDER BY c.created_at DESC, c.id DESC
		 LIMIT 1`, groupID)
	c, err := scanCirculation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "store", "latest circulation", fmt.Sprintf("group %q has not been circulated", groupID), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("latest circulation for %q: %w", groupID, err)
	}
	return c, nil
}

// GetCirculation fetches one circulation by id.
func (o ops) GetCirculation(ctx context.Context, id int64) (*Circulation, error) {
	row := o.q.QueryRowContext(ensureContext(ctx),
		`SELECT `+circulationColumns+`
		 FROM circulations c
		 JOIN merged_artifacts m ON m.id = c.artifact_id
		 WHERE c.id = ?`, id)
	c, err := scanCirculation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "store", "get circulation", fmt.Sprintf("circulation %d", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get circulation %d: %w", id, err)
	}
	return c, nil
}

// InsertTask records a task. Assignee must reference an existing user.
func (o ops) InsertTask(ctx context.Context, t Task) (int64, error) {
	ts := formatTime(t.CreatedAt)
	res, err := o.exec(ctx,
		`INSERT INTO eval_tasks (circulation_id, task_type, assignee, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.CirculationID, string(t.Type), t.Assignee, int(t.Status), ts, ts,
	)
	if err != nil {
		return 0, fmt.Errorf("insert %s task: %w", t.Type, err)
	}
	return res.LastInsertId()
}

// UpdateTaskStatus sets a task's status.
func (o ops) UpdateTaskStatus(ctx context.Context, id int64, status TaskStatus, at time.Time) error {
	res, err := o.exec(ctx, "UPDATE eval_tasks SET status = ?, updated_at = ? WHERE id = ?", int(status), formatTime(at), id)
	if err != nil {
		return fmt.Errorf("update task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.Wrap(services.ErrNotFound, "store", "update task", fmt.Sprintf("task %d", id), nil)
	}
	return nil
}

// TasksForCirculation lists a circulation's tasks in insertion order.
func (o ops) TasksForCirculation(ctx context.Context, circulationID int64) ([]Task, error) {
	rows, err := o.q.QueryContext(ensureContext(ctx),
		"SELECT "+taskColumns+" FROM eval_tasks t WHERE t.circulation_id = ? ORDER BY t.id", circulationID)
	if err != nil {
		return nil, fmt.Errorf("tasks for circulation %d: %w", circulationID, err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// GetTask loads one task by id.
func (o ops) GetTask(ctx context.Context, id int64) (*Task, error) {
	row := o.q.QueryRowContext(ensureContext(ctx), "SELECT "+taskColumns+" FROM eval_tasks t WHERE t.id = ?", id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "store", "get task", fmt.Sprintf("task %d", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return t, nil
}

// InsertRevision records a revision request.
func (o ops) InsertRevision(ctx context.Context, r Revision) (int64, error) {
	ts := formatTime(r.CreatedAt)
	res, err := o.exec(ctx,
		`INSERT INTO eval_revisions (task_id, description, file_name, file_content, mime_type, status, created_at, created_by, give_to, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.TaskID, r.Description, nullableString(r.FileName), nullableBytes(r.FileContent), nullableString(r.MimeType),
		int(r.Status), ts, r.CreatedBy, r.GiveTo, ts,
	)
	if err != nil {
		return 0, fmt.Errorf("insert revision: %w", err)
	}
	return res.LastInsertId()
}

// UpdateRevisionStatus sets a revision's status.
func (o ops) UpdateRevisionStatus(ctx context.Context, id int64, status RevisionStatus, at time.Time) error {
	res, err := o.exec(ctx, "UPDATE eval_revisions SET status = ?, updated_at = ? WHERE id = ?", int(status), formatTime(at), id)
	if err != nil {
		return fmt.Errorf("update revision %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.Wrap(services.ErrNotFound, "store", "update revision", fmt.Sprintf("revision %d", id), nil)
	}
	return nil
}

// GetRevision loads a revision including any attached file.
func (o ops) GetRevision(ctx context.Context, id int64) (*Revision, error) {
	row := o.q.QueryRowContext(ensureContext(ctx),
		"SELECT "+revisionMetaColumns+", r.file_content FROM eval_revisions r WHERE r.id = ?", id)
	var (
		r                  Revision
		fileName, mimeType sql.NullString
		status             int
		created, updated   sql.NullString
	)
	err := row.Scan(&r.ID, &r.TaskID, &r.Description, &fileName, &mimeType, &r.HasFile, &status, &created, &r.CreatedBy, &r.GiveTo, &updated, &r.FileContent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "store", "get revision", fmt.Sprintf("revision %d", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get revision %d: %w", id, err)
	}
	r.FileName = fileName.String
	r.MimeType = mimeType.String
	r.Status = RevisionStatus(status)
	r.CreatedAt = parseTime(created)
	r.UpdatedAt = parseTime(updated)
	return &r, nil
}

// RevisionsForTask lists revisions raised against a task, oldest first.
func (o ops) RevisionsForTask(ctx context.Context, taskID int64) ([]Revision, error) {
	rows, err := o.q.QueryContext(ensureContext(ctx),
		"SELECT "+revisionMetaColumns+" FROM eval_revisions r WHERE r.task_id = ? ORDER BY r.id", taskID)
	if err != nil {
		return nil, fmt.Errorf("revisions for task %d: %w", taskID, err)
	}
	defer rows.Close()

	var revisions []Revision
	for rows.Next() {
		r, err := scanRevisionMeta(rows)
		if err != nil {
			return nil, err
		}
		revisions = append(revisions, *r)
	}
	return revisions, rows.Err()
}
