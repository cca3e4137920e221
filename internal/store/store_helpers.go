package store

import (
	"database/sql"
	"errors"
	"time"
)

type rowScanner interface{ Scan(dest ...any) error }

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func parseTime(value sql.NullString) time.Time {
	if !value.Valid {
		return time.Time{}
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableID(value int64) any {
	if value <= 0 {
		return nil
	}
	return value
}

func nullableBytes(value []byte) any {
	if len(value) == 0 {
		return nil
	}
	return value
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

const groupColumns = "id, status, created_at, updated_at, created_by, updated_by"

func scanGroup(scanner rowScanner) (*Group, error) {
	var (
		g                  Group
		status             int
		created, updated   sql.NullString
		createdBy, updater sql.NullInt64
	)
	if err := scanner.Scan(&g.ID, &status, &created, &updated, &createdBy, &updater); err != nil {
		return nil, err
	}
	g.Status = GroupStatus(status)
	g.CreatedAt = parseTime(created)
	g.UpdatedAt = parseTime(updated)
	g.CreatedBy = createdBy.Int64
	g.UpdatedBy = updater.Int64
	return &g, nil
}

const documentMetaColumns = "id, group_id, doc_type, file_name, mime_type, COALESCE(length(content), 0), uploaded_at, uploaded_by"

func scanDocumentMeta(scanner rowScanner) (*Document, error) {
	var (
		d          Document
		docType    string
		uploadedAt sql.NullString
		uploadedBy sql.NullInt64
	)
	if err := scanner.Scan(&d.ID, &d.GroupID, &docType, &d.FileName, &d.MimeType, &d.Size, &uploadedAt, &uploadedBy); err != nil {
		return nil, err
	}
	d.DocType = DocType(docType)
	d.UploadedAt = parseTime(uploadedAt)
	d.UploadedBy = uploadedBy.Int64
	return &d, nil
}

const circulationColumns = "c.id, c.artifact_id, m.group_id, c.status, c.note, c.created_at, c.created_by, c.updated_at, c.updated_by"

func scanCirculation(scanner rowScanner) (*Circulation, error) {
	var (
		c                Circulation
		status           int
		created, updated sql.NullString
		updatedBy        sql.NullInt64
	)
	if err := scanner.Scan(&c.ID, &c.ArtifactID, &c.GroupID, &status, &c.Note, &created, &c.CreatedBy, &updated, &updatedBy); err != nil {
		return nil, err
	}
	c.Status = CirculationStatus(status)
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	c.UpdatedBy = updatedBy.Int64
	return &c, nil
}

const taskColumns = "t.id, t.circulation_id, t.task_type, t.assignee, t.status, t.created_at, t.updated_at"

func scanTask(scanner rowScanner) (*Task, error) {
	var (
		t                Task
		taskType         string
		status           int
		created, updated sql.NullString
	)
	if err := scanner.Scan(&t.ID, &t.CirculationID, &taskType, &t.Assignee, &status, &created, &updated); err != nil {
		return nil, err
	}
	t.Type = TaskType(taskType)
	t.Status = TaskStatus(status)
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	return &t, nil
}

const revisionMetaColumns = "r.id, r.task_id, r.description, r.file_name, r.mime_type, r.file_content IS NOT NULL, r.status, r.created_at, r.created_by, r.give_to, r.updated_at"

func scanRevisionMeta(scanner rowScanner) (*Revision, error) {
	var (
		r                  Revision
		fileName, mimeType sql.NullString
		hasFile            bool
		status             int
		created, updated   sql.NullString
	)
	if err := scanner.Scan(&r.ID, &r.TaskID, &r.Description, &fileName, &mimeType, &hasFile, &status, &created, &r.CreatedBy, &r.GiveTo, &updated); err != nil {
		return nil, err
	}
	r.FileName = fileName.String
	r.MimeType = mimeType.String
	r.HasFile = hasFile
	r.Status = RevisionStatus(status)
	r.CreatedAt = parseTime(created)
	r.UpdatedAt = parseTime(updated)
	return &r, nil
}

const userColumns = "id, username, first_name, full_name, role_id"

func scanUser(scanner rowScanner) (*User, error) {
	var (
		u    User
		role int
	)
	if err := scanner.Scan(&u.ID, &u.Username, &u.FirstName, &u.FullName, &role); err != nil {
		return nil, err
	}
	u.Role = Role(role)
	return &u, nil
}
