package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cosflow/internal/services"
)

// GetGroup loads a document group by identifier.
func (o ops) GetGroup(ctx context.Context, id string) (*Group, error) {
	row := o.q.QueryRowContext(ensureContext(ctx), "SELECT "+groupColumns+" FROM document_groups WHERE id = ?", id)
	group, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "store", "get group", fmt.Sprintf("group %q", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get group %q: %w", id, err)
	}
	return group, nil
}

// InsertGroup creates a group in Draft status. It reports false when the group
// already existed, leaving the existing row untouched.
func (o ops) InsertGroup(ctx context.Context, id string, actor int64, at time.Time) (bool, error) {
	ts := formatTime(at)
	res, err := o.exec(ctx,
		`INSERT INTO document_groups (id, status, created_at, updated_at, created_by, updated_by)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, int(GroupDraft), ts, ts, nullableID(actor), nullableID(actor),
	)
	if err != nil {
		return false, fmt.Errorf("insert group %q: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert group %q: %w", id, err)
	}
	return affected == 1, nil
}

// TouchGroup stamps the last-edit fields of a group.
func (o ops) TouchGroup(ctx context.Context, id string, actor int64, at time.Time) error {
	return o.updateGroup(ctx, "touch group",
		"UPDATE document_groups SET updated_at = ?, updated_by = COALESCE(?, updated_by) WHERE id = ?",
		id, formatTime(at), nullableID(actor), id)
}

// SetGroupStatus writes the group status along with the last-edit fields.
func (o ops) SetGroupStatus(ctx context.Context, id string, status GroupStatus, actor int64, at time.Time) error {
	if !status.Valid() {
		return services.Wrap(services.ErrValidation, "store", "set group status", fmt.Sprintf("unknown status %d", int(status)), nil)
	}
	return o.updateGroup(ctx, "set group status",
		"UPDATE document_groups SET status = ?, updated_at = ?, updated_by = COALESCE(?, updated_by) WHERE id = ?",
		id, int(status), formatTime(at), nullableID(actor), id)
}

func (o ops) updateGroup(ctx context.Context, operation, query, id string, args ...any) error {
	res, err := o.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s %q: %w", operation, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %q: %w", operation, id, err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "store", operation, fmt.Sprintf("group %q", id), nil)
	}
	return nil
}

// LinkOperatorCertificate attaches an operator certificate to a group. It
// reports false when the link already existed.
func (o ops) LinkOperatorCertificate(ctx context.Context, groupID string, certificateID int64, at time.Time) (bool, error) {
	res, err := o.exec(ctx,
		`INSERT INTO group_operators (group_id, certificate_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(group_id, certificate_id) DO NOTHING`,
		groupID, certificateID, formatTime(at),
	)
	if err != nil {
		return false, fmt.Errorf("link certificate %d to %q: %w", certificateID, groupID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("link certificate %d to %q: %w", certificateID, groupID, err)
	}
	return affected == 1, nil
}

// UpsertDocument stores an upload in its slot. Fixed types replace the
// group's existing row of that type; OTHERS replace only a row with the same
// file name. It returns the row id and whether an existing row was replaced.
func (o ops) UpsertDocument(ctx context.Context, groupID string, in DocumentInput, actor int64, at time.Time) (int64, bool, error) {
	ctx = ensureContext(ctx)
	lookup := "SELECT id FROM group_documents WHERE group_id = ? AND doc_type = ?"
	args := []any{groupID, string(in.DocType)}
	if in.DocType == DocOthers {
		lookup += " AND file_name = ?"
		args = append(args, in.FileName)
	}

	var existing int64
	err := o.q.QueryRowContext(ctx, lookup, args...).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := o.exec(ctx,
			`INSERT INTO group_documents (group_id, doc_type, file_name, content, mime_type, uploaded_at, uploaded_by)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			groupID, string(in.DocType), in.FileName, in.Content, in.MimeType, formatTime(at), nullableID(actor),
		)
		if err != nil {
			return 0, false, fmt.Errorf("insert %s document for %q: %w", in.DocType, groupID, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("insert %s document for %q: %w", in.DocType, groupID, err)
		}
		return id, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("lookup %s document for %q: %w", in.DocType, groupID, err)
	}

	if _, err := o.exec(ctx,
		`UPDATE group_documents
		 SET file_name = ?, content = ?, mime_type = ?, uploaded_at = ?, uploaded_by = ?
		 WHERE id = ?`,
		in.FileName, in.Content, in.MimeType, formatTime(at), nullableID(actor), existing,
	); err != nil {
		return 0, false, fmt.Errorf("replace %s document for %q: %w", in.DocType, groupID, err)
	}
	return existing, true, nil
}

// PresentDocTypes returns the distinct types uploaded to a group.
func (o ops) PresentDocTypes(ctx context.Context, groupID string) ([]DocType, error) {
	rows, err := o.q.QueryContext(ensureContext(ctx),
		"SELECT DISTINCT doc_type FROM group_documents WHERE group_id = ? ORDER BY doc_type", groupID)
	if err != nil {
		return nil, fmt.Errorf("present doc types for %q: %w", groupID, err)
	}
	defer rows.Close()

	var types []DocType
	for rows.Next() {
		var dt string
		if err := rows.Scan(&dt); err != nil {
			return nil, err
		}
		types = append(types, DocType(dt))
	}
	return types, rows.Err()
}

// ListDocuments returns document metadata for a group without content.
func (o ops) ListDocuments(ctx context.Context, groupID string) ([]Document, error) {
	rows, err := o.q.QueryContext(ensureContext(ctx),
		"SELECT "+documentMetaColumns+" FROM group_documents WHERE group_id = ? ORDER BY uploaded_at, id", groupID)
	if err != nil {
		return nil, fmt.Errorf("list documents for %q: %w", groupID, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocumentMeta(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// DocumentsWithContent returns every document of a group including bytes, in
// storage order. Callers impose their own ordering.
func (o ops) DocumentsWithContent(ctx context.Context, groupID string) ([]Document, error) {
	rows, err := o.q.QueryContext(ensureContext(ctx),
		"SELECT "+documentMetaColumns+", content FROM group_documents WHERE group_id = ? ORDER BY id", groupID)
	if err != nil {
		return nil, fmt.Errorf("load documents for %q: %w", groupID, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			d          Document
			docType    string
			uploadedAt sql.NullString
			uploadedBy sql.NullInt64
		)
		if err := rows.Scan(&d.ID, &d.GroupID, &docType, &d.FileName, &d.MimeType, &d.Size, &uploadedAt, &uploadedBy, &d.Content); err != nil {
			return nil, err
		}
		d.DocType = DocType(docType)
		d.UploadedAt = parseTime(uploadedAt)
		d.UploadedBy = uploadedBy.Int64
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// GetDocument fetches one document with its content. Missing rows and rows
// without content both report not found.
func (o ops) GetDocument(ctx context.Context, groupID string, docID int64) (*Document, error) {
	row := o.q.QueryRowContext(ensureContext(ctx),
		"SELECT "+documentMetaColumns+", content FROM group_documents WHERE group_id = ? AND id = ?", groupID, docID)
	var (
		d          Document
		docType    string
		uploadedAt sql.NullString
		uploadedBy sql.NullInt64
	)
	err := row.Scan(&d.ID, &d.GroupID, &docType, &d.FileName, &d.MimeType, &d.Size, &uploadedAt, &uploadedBy, &d.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "store", "get document", fmt.Sprintf("document %d in group %q", docID, groupID), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get document %d: %w", docID, err)
	}
	if len(d.Content) == 0 {
		return nil, services.Wrap(services.ErrNotFound, "store", "get document", fmt.Sprintf("document %d has no content", docID), nil)
	}
	d.DocType = DocType(docType)
	d.UploadedAt = parseTime(uploadedAt)
	d.UploadedBy = uploadedBy.Int64
	return &d, nil
}

// LinkedOperators lists operator certificates attached to a group in link order.
func (o ops) LinkedOperators(ctx context.Context, groupID string) ([]LinkedOperator, error) {
	rows, err := o.q.QueryContext(ensureContext(ctx),
		`SELECT gl.id, gl.certificate_id, c.nik, COALESCE(op.name, ''), COALESCE(op.line, ''), gl.created_at
		 FROM group_operators gl
		 JOIN operator_certificates c ON c.id = gl.certificate_id
		 LEFT JOIN operators op ON op.nik = c.nik
		 WHERE gl.group_id = ?
		 ORDER BY gl.id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("linked operators for %q: %w", groupID, err)
	}
	defer rows.Close()

	var linked []LinkedOperator
	for rows.Next() {
		var (
			l        LinkedOperator
			linkedAt sql.NullString
		)
		if err := rows.Scan(&l.LinkID, &l.CertificateID, &l.NIK, &l.Name, &l.Line, &linkedAt); err != nil {
			return nil, err
		}
		l.LinkedAt = parseTime(linkedAt)
		linked = append(linked, l)
	}
	return linked, rows.Err()
}

// CertificatesForGroup returns the certificate payloads linked to a group in link order.
func (o ops) CertificatesForGroup(ctx context.Context, groupID string) ([]OperatorCertificate, error) {
	rows, err := o.q.QueryContext(ensureContext(ctx),
		`SELECT c.id, c.nik, c.merged_pdf, c.created_at
		 FROM group_operators gl
		 JOIN operator_certificates c ON c.id = gl.certificate_id
		 WHERE gl.group_id = ?
		 ORDER BY gl.id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("certificates for %q: %w", groupID, err)
	}
	defer rows.Close()

	var certs []OperatorCertificate
	for rows.Next() {
		var (
			c       OperatorCertificate
			created sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.NIK, &c.MergedPDF, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = parseTime(created)
		certs = append(certs, c)
	}
	return certs, rows.Err()
}
