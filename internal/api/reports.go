package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"cosflow/internal/lifecycle"
	"cosflow/internal/services"
	"cosflow/internal/store"
)

// ReportReader abstracts the store queries behind the read projections.
type ReportReader interface {
	ListGroups(ctx context.Context, since time.Time) ([]store.GroupSummary, error)
	GetGroupSummary(ctx context.Context, id string) (*store.GroupSummary, error)
	GroupsAwaitingUploads(ctx context.Context) ([]store.GroupSummary, error)
	LinkedOperators(ctx context.Context, groupID string) ([]store.LinkedOperator, error)
	ListDocuments(ctx context.Context, groupID string) ([]store.Document, error)
	PresentDocTypes(ctx context.Context, groupID string) ([]store.DocType, error)
	GetMergedArtifact(ctx context.Context, groupID string) (*store.MergedArtifact, error)
	IsCirculated(ctx context.Context, groupID string) (bool, error)
	AvailableForEvaluation(ctx context.Context) ([]store.AvailableGroup, error)
	ListCirculations(ctx context.Context) ([]store.CirculationSummary, error)
	CirculationsForGroup(ctx context.Context, groupID string) ([]store.CirculationSummary, error)
	CirculationTasks(ctx context.Context, circulationID int64) ([]store.TaskAssignment, error)
	AssignedEvaluations(ctx context.Context, userID int64) ([]store.Assignment, error)
	RevisionsForGroup(ctx context.Context, groupID string) ([]store.RevisionSummary, error)
	UsersByRoles(ctx context.Context, roles []store.Role) ([]store.User, error)
}

// ReportService exposes read-only projections as API DTOs.
type ReportService struct {
	store ReportReader
}

// NewReportService constructs a ReportService around the provided reader.
func NewReportService(reader ReportReader) *ReportService {
	if reader == nil {
		return nil
	}
	return &ReportService{store: reader}
}

// ParseSince validates the YYYY-MM-DD group list filter. Empty means no filter.
func ParseSince(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(sinceLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, services.InvalidField("since", "expected YYYY-MM-DD")
	}
	return t, nil
}

// ListGroups returns group summaries created on or after since.
func (s *ReportService) ListGroups(ctx context.Context, since string) ([]GroupSummary, error) {
	from, err := ParseSince(since)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListGroups(ctx, from)
	if err != nil {
		return nil, err
	}
	return FromGroupSummaries(rows), nil
}

// AwaitingUploads lists groups with linked operators still missing evidence.
func (s *ReportService) AwaitingUploads(ctx context.Context) ([]GroupSummary, error) {
	rows, err := s.store.GroupsAwaitingUploads(ctx)
	if err != nil {
		return nil, err
	}
	return FromGroupSummaries(rows), nil
}

// GroupDetail assembles the full view of one group.
func (s *ReportService) GroupDetail(ctx context.Context, groupID string) (*GroupDetail, error) {
	summary, err := s.store.GetGroupSummary(ctx, groupID)
	if err != nil {
		return nil, err
	}
	operators, err := s.store.LinkedOperators(ctx, groupID)
	if err != nil {
		return nil, err
	}
	docs, err := s.store.ListDocuments(ctx, groupID)
	if err != nil {
		return nil, err
	}
	present, err := s.store.PresentDocTypes(ctx, groupID)
	if err != nil {
		return nil, err
	}
	circulated, err := s.store.IsCirculated(ctx, groupID)
	if err != nil {
		return nil, err
	}

	detail := &GroupDetail{
		Group:      FromGroupSummary(*summary),
		Operators:  make([]LinkedOperator, 0, len(operators)),
		Documents:  make([]Document, 0, len(docs)),
		Missing:    []string{},
		Circulated: circulated,
	}
	for _, op := range operators {
		detail.Operators = append(detail.Operators, FromLinkedOperator(op))
	}
	for _, doc := range docs {
		detail.Documents = append(detail.Documents, FromDocument(doc))
	}
	for _, t := range lifecycle.MissingSlots(present) {
		detail.Missing = append(detail.Missing, string(t))
	}
	artifact, err := s.store.GetMergedArtifact(ctx, groupID)
	switch {
	case err == nil:
		detail.Merged = &MergedInfo{ID: artifact.ID, FragmentCount: artifact.FragmentCount, GeneratedAt: formatTime(artifact.GeneratedAt)}
	case !errors.Is(err, services.ErrNotFound):
		return nil, err
	}
	return detail, nil
}

// AvailableForEvaluation lists groups that can be circulated.
func (s *ReportService) AvailableForEvaluation(ctx context.Context) ([]AvailableGroup, error) {
	rows, err := s.store.AvailableForEvaluation(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]AvailableGroup, 0, len(rows))
	for _, row := range rows {
		out = append(out, FromAvailableGroup(row))
	}
	return out, nil
}

// Circulations lists every circulation with its task map, newest first.
func (s *ReportService) Circulations(ctx context.Context) ([]Circulation, error) {
	rows, err := s.store.ListCirculations(ctx)
	if err != nil {
		return nil, err
	}
	return s.withTasks(ctx, rows)
}

// CirculationDetail returns the latest circulation of a group.
func (s *ReportService) CirculationDetail(ctx context.Context, groupID string) (*Circulation, error) {
	rows, err := s.store.CirculationsForGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, services.Wrap(services.ErrNotFound, "api", "circulation detail", "group "+groupID+" has not been circulated", nil)
	}
	out, err := s.withTasks(ctx, rows[:1])
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

func (s *ReportService) withTasks(ctx context.Context, rows []store.CirculationSummary) ([]Circulation, error) {
	out := make([]Circulation, 0, len(rows))
	for _, row := range rows {
		tasks, err := s.store.CirculationTasks(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, FromCirculation(row, tasks))
	}
	return out, nil
}

// AssignedEvaluations lists review tasks assigned to a user.
func (s *ReportService) AssignedEvaluations(ctx context.Context, userID int64) ([]Assignment, error) {
	rows, err := s.store.AssignedEvaluations(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Assignment, 0, len(rows))
	for _, row := range rows {
		out = append(out, FromAssignment(row))
	}
	return out, nil
}

// Revisions lists a group's revisions, newest first.
func (s *ReportService) Revisions(ctx context.Context, groupID string) ([]Revision, error) {
	rows, err := s.store.RevisionsForGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	out := make([]Revision, 0, len(rows))
	for _, row := range rows {
		out = append(out, FromRevisionSummary(row))
	}
	return out, nil
}

// UsersByRoles lists assignment candidates holding any of roles.
func (s *ReportService) UsersByRoles(ctx context.Context, roles []store.Role) ([]User, error) {
	for _, r := range roles {
		if !r.Valid() {
			return nil, services.InvalidField("roles", "unknown role "+r.String())
		}
	}
	rows, err := s.store.UsersByRoles(ctx, roles)
	if err != nil {
		return nil, err
	}
	out := make([]User, 0, len(rows))
	for _, row := range rows {
		out = append(out, FromUser(row))
	}
	return out, nil
}
