package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cosflow/internal/services"
)

// UpsertMergedArtifact replaces the group's merged PDF in place. The row id is
// preserved across regenerations so circulations keep pointing at it.
func (o ops) UpsertMergedArtifact(ctx context.Context, groupID string, content []byte, fragments int, at time.Time) (*MergedArtifact, error) {
	ctx = ensureContext(ctx)
	if len(content) == 0 {
		return nil, services.Wrap(services.ErrValidation, "store", "upsert merged artifact", "empty content", nil)
	}
	ts := formatTime(at)
	if _, err := o.exec(ctx,
		`INSERT INTO merged_artifacts (group_id, content, fragment_count, generated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(group_id) DO UPDATE SET
		     content = excluded.content,
		     fragment_count = excluded.fragment_count,
		     generated_at = excluded.generated_at`,
		groupID, content, fragments, ts,
	); err != nil {
		return nil, fmt.Errorf("upsert merged artifact for %q: %w", groupID, err)
	}
	return o.GetMergedArtifact(ctx, groupID)
}

// GetMergedArtifact loads the group's merged PDF.
func (o ops) GetMergedArtifact(ctx context.Context, groupID string) (*MergedArtifact, error) {
	var (
		a         MergedArtifact
		generated sql.NullString
	)
	err := o.q.QueryRowContext(ensureContext(ctx),
		"SELECT id, group_id, content, fragment_count, generated_at FROM merged_artifacts WHERE group_id = ?", groupID,
	).Scan(&a.ID, &a.GroupID, &a.Content, &a.FragmentCount, &generated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "store", "get merged artifact", fmt.Sprintf("no merged artifact for group %q", groupID), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get merged artifact for %q: %w", groupID, err)
	}
	a.GeneratedAt = parseTime(generated)
	return &a, nil
}

// DeleteMergedArtifact drops the group's merged PDF so no stale content
// outlives its sources. An artifact a circulation points at is kept and
// reported as ErrInvalidState.
func (o ops) DeleteMergedArtifact(ctx context.Context, groupID string) (bool, error) {
	ctx = ensureContext(ctx)
	circulated, err := o.IsCirculated(ctx, groupID)
	if err != nil {
		return false, err
	}
	if circulated {
		return false, services.Wrap(services.ErrInvalidState, "store", "delete merged artifact",
			fmt.Sprintf("artifact of group %q is referenced by a circulation", groupID), nil)
	}
	res, err := o.exec(ctx, "DELETE FROM merged_artifacts WHERE group_id = ?", groupID)
	if err != nil {
		return false, fmt.Errorf("delete merged artifact for %q: %w", groupID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete merged artifact for %q: %w", groupID, err)
	}
	return n > 0, nil
}

// IsCirculated reports whether any circulation references an artifact of the group.
func (o ops) IsCirculated(ctx context.Context, groupID string) (bool, error) {
	var count int
	err := o.q.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1) FROM circulations c
		 JOIN merged_artifacts m ON m.id = c.artifact_id
		 WHERE m.group_id = ?`, groupID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check circulation for %q: %w", groupID, err)
	}
	return count > 0, nil
}
