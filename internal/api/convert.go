package api

import (
	"time"

	"cosflow/internal/lifecycle"
	"cosflow/internal/merge"
	"cosflow/internal/store"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// FromGroupSummary converts a store summary row.
func FromGroupSummary(s store.GroupSummary) GroupSummary {
	return GroupSummary{
		ID:            s.ID,
		Status:        int(s.Status),
		StatusText:    s.Status.String(),
		StatusTone:    s.Status.Tone(),
		OperatorCount: s.OperatorCount,
		CreatedAt:     formatTime(s.CreatedAt),
		CreatedBy:     s.CreatedBy,
		CreatedByName: s.CreatorName,
		UpdatedAt:     formatTime(s.UpdatedAt),
		UpdatedBy:     s.UpdatedBy,
		UpdatedByName: s.UpdaterName,
	}
}

// FromGroupSummaries converts a list of summaries.
func FromGroupSummaries(rows []store.GroupSummary) []GroupSummary {
	out := make([]GroupSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, FromGroupSummary(row))
	}
	return out
}

// FromGroup converts a bare group without display names.
func FromGroup(g *store.Group) GroupSummary {
	if g == nil {
		return GroupSummary{}
	}
	return FromGroupSummary(store.GroupSummary{Group: *g})
}

// FromDocument converts upload metadata.
func FromDocument(d store.Document) Document {
	return Document{
		ID:         d.ID,
		DocType:    string(d.DocType),
		FileName:   d.FileName,
		MimeType:   d.MimeType,
		Size:       d.Size,
		UploadedAt: formatTime(d.UploadedAt),
		UploadedBy: d.UploadedBy,
	}
}

// FromLinkedOperator converts a group operator link.
func FromLinkedOperator(op store.LinkedOperator) LinkedOperator {
	return LinkedOperator{
		CertificateID: op.CertificateID,
		NIK:           op.NIK,
		Name:          op.Name,
		Line:          op.Line,
		LinkedAt:      formatTime(op.LinkedAt),
	}
}

// FromAvailableGroup converts an evaluation candidate.
func FromAvailableGroup(g store.AvailableGroup) AvailableGroup {
	return AvailableGroup{
		GroupID:       g.GroupID,
		Status:        int(g.Status),
		StatusText:    g.Status.String(),
		ArtifactID:    g.ArtifactID,
		FragmentCount: g.FragmentCount,
		GeneratedAt:   formatTime(g.GeneratedAt),
		UpdatedAt:     formatTime(g.UpdatedAt),
		UpdatedByName: g.UpdaterName,
	}
}

// FromTaskAssignment converts a task row with its assignee name.
func FromTaskAssignment(t store.TaskAssignment) Task {
	return Task{
		ID:           t.ID,
		Type:         string(t.Type),
		AssigneeID:   t.Assignee,
		AssigneeName: t.AssigneeName,
		Status:       int(t.Status),
		StatusText:   t.Status.String(),
		UpdatedAt:    formatTime(t.UpdatedAt),
	}
}

// FromCirculation converts a circulation and builds its task map. Each task
// type occurs at most once per circulation.
func FromCirculation(c store.CirculationSummary, tasks []store.TaskAssignment) Circulation {
	out := Circulation{
		ID:            c.ID,
		GroupID:       c.GroupID,
		ArtifactID:    c.ArtifactID,
		Status:        int(c.Status),
		StatusText:    c.Status.String(),
		Note:          c.Note,
		IssuerID:      c.Issuer(),
		IssuerName:    c.IssuerName,
		CreatedAt:     formatTime(c.CreatedAt),
		UpdatedAt:     formatTime(c.UpdatedAt),
		UpdatedByName: c.UpdaterName,
		Tasks:         make(map[string]Task, len(tasks)),
	}
	for _, t := range tasks {
		out.Tasks[string(t.Type)] = FromTaskAssignment(t)
	}
	return out
}

// FromAssignment converts a user's assigned task.
func FromAssignment(a store.Assignment) Assignment {
	return Assignment{
		Task:                  FromTaskAssignment(store.TaskAssignment{Task: a.Task}),
		GroupID:               a.GroupID,
		CirculationID:         a.CirculationID,
		CirculationStatus:     int(a.CirculationStatus),
		CirculationStatusText: a.CirculationStatus.String(),
		IssuerID:              a.IssuerID,
		IssuerName:            a.IssuerName,
		CirculatedAt:          formatTime(a.CirculatedAt),
	}
}

// FromRevision converts a revision without report context.
func FromRevision(r store.Revision) Revision {
	return Revision{
		ID:          r.ID,
		TaskID:      r.TaskID,
		Description: r.Description,
		FileName:    r.FileName,
		MimeType:    r.MimeType,
		HasFile:     r.HasFile,
		Status:      int(r.Status),
		StatusText:  r.Status.String(),
		CreatedAt:   formatTime(r.CreatedAt),
		CreatedBy:   r.CreatedBy,
		GiveTo:      r.GiveTo,
		UpdatedAt:   formatTime(r.UpdatedAt),
	}
}

// FromRevisionSummary converts a revision report row.
func FromRevisionSummary(r store.RevisionSummary) Revision {
	out := FromRevision(r.Revision)
	out.CirculationID = r.CirculationID
	out.TaskType = string(r.TaskType)
	out.RequesterName = r.RequesterName
	out.GiveToName = r.GiveToName
	return out
}

// FromUser converts a user row.
func FromUser(u store.User) User {
	return User{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName(),
		RoleID:      int(u.Role),
		Role:        u.Role.String(),
	}
}

// FromMergeResult converts a merge manifest. Nil yields nil.
func FromMergeResult(r *merge.Result) *MergeReport {
	if r == nil {
		return nil
	}
	out := &MergeReport{
		Fragments: make([]MergeFragment, 0, len(r.Fragments)),
		Pages:     r.Pages,
		Bytes:     len(r.PDF),
	}
	for _, f := range r.Fragments {
		out.Fragments = append(out.Fragments, MergeFragment{
			Source:        string(f.Source),
			DocumentID:    f.DocumentID,
			CertificateID: f.CertificateID,
			DocType:       string(f.DocType),
			FileName:      f.FileName,
			Pages:         f.Pages,
		})
	}
	for _, s := range r.Skipped {
		out.Skipped = append(out.Skipped, MergeSkipped{Fragment: s.Fragment.Label(), Reason: s.Reason})
	}
	return out
}

// FromUploadResult converts a committed upload batch.
func FromUploadResult(r *lifecycle.UploadResult) UploadResponse {
	out := UploadResponse{
		Group:   FromGroup(r.Group),
		Created: r.Created,
		Stored:  make([]Document, 0, len(r.Stored)),
		Merged:  FromMergeResult(r.Merge),
	}
	for _, s := range r.Stored {
		out.Stored = append(out.Stored, Document{ID: s.ID, DocType: string(s.DocType), FileName: s.FileName})
	}
	if r.MergeErr != nil {
		out.MergeErr = r.MergeErr.Error()
	}
	return out
}
