package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"cosflow/internal/config"
	"cosflow/internal/logging"
	"cosflow/internal/merge"
	"cosflow/internal/notifications"
	"cosflow/internal/services"
	"cosflow/internal/store"
)

// Merger regenerates a group's merged artifact.
type Merger interface {
	Regenerate(ctx context.Context, groupID string) (*merge.Result, error)
}

// Service owns group creation, uploads and pre-circulation status.
type Service struct {
	store          *store.Store
	merger         Merger
	publisher      notifications.Publisher
	logger         *slog.Logger
	maxUploadBytes int64
	now            func() time.Time
}

// NewService wires the lifecycle service. A nil publisher discards events.
func NewService(st *store.Store, merger Merger, publisher notifications.Publisher, cfg *config.Config, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = notifications.Discard
	}
	return &Service{
		store:          st,
		merger:         merger,
		publisher:      publisher,
		logger:         logging.NewComponentLogger(logger, "lifecycle"),
		maxUploadBytes: cfg.MaxUploadBytes(),
		now:            time.Now,
	}
}

var groupIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// NormalizeGroupID trims and validates a group identifier.
func NormalizeGroupID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", services.InvalidField("group_id", "required")
	}
	if !groupIDPattern.MatchString(id) {
		return "", services.InvalidField("group_id", "use letters, digits, '.', '_' or '-' (max 64)")
	}
	return id, nil
}

// CreateOrTouch creates the group when missing and links any operator
// certificates. It reports whether the group was created.
func (s *Service) CreateOrTouch(ctx context.Context, groupID string, actor int64, certificateIDs []int64) (*store.Group, bool, error) {
	groupID, err := NormalizeGroupID(groupID)
	if err != nil {
		return nil, false, err
	}
	now := s.now()

	var (
		created bool
		linked  int
		group   *store.Group
	)
	err = s.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		created, err = tx.InsertGroup(ctx, groupID, actor, now)
		if err != nil {
			return err
		}
		linked, err = linkCertificates(ctx, tx, groupID, certificateIDs, now)
		if err != nil {
			return err
		}
		if linked > 0 && !created {
			if err := tx.TouchGroup(ctx, groupID, actor, now); err != nil {
				return err
			}
		}
		group, err = tx.GetGroup(ctx, groupID)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	logger := s.groupLogger(ctx, groupID)
	switch {
	case created:
		logger.Info("group created", logging.ActorID(actor), logging.Int("operators", linked))
		s.publish(ctx, notifications.KindGroupCreated, group, actor)
	case linked > 0:
		logger.Info("operators linked", logging.ActorID(actor), logging.Int("operators", linked))
		s.publish(ctx, notifications.KindGroupUpdated, group, actor)
	}
	return group, created, nil
}

func linkCertificates(ctx context.Context, tx *store.Tx, groupID string, ids []int64, at time.Time) (int, error) {
	linked := 0
	for _, id := range ids {
		if id <= 0 {
			return 0, services.InvalidField("addOperatorCertificates", fmt.Sprintf("invalid certificate id %d", id))
		}
		if _, err := tx.GetCertificate(ctx, id); err != nil {
			if errors.Is(err, services.ErrNotFound) {
				return 0, services.InvalidField("addOperatorCertificates", fmt.Sprintf("unknown certificate %d", id))
			}
			return 0, err
		}
		added, err := tx.LinkOperatorCertificate(ctx, groupID, id, at)
		if err != nil {
			return 0, err
		}
		if added {
			linked++
		}
	}
	return linked, nil
}

// IsAlreadyCirculated reports whether any circulation references the group.
func (s *Service) IsAlreadyCirculated(ctx context.Context, groupID string) (bool, error) {
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		return false, err
	}
	return s.store.IsCirculated(ctx, groupID)
}

// Regenerate rebuilds the merged artifact and announces it.
func (s *Service) Regenerate(ctx context.Context, groupID string, actor int64) (*merge.Result, error) {
	result, err := s.merger.Regenerate(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !result.Empty() {
		evt := notifications.NewEvent(notifications.KindMergeGenerated, groupID).
			With("fragments", len(result.Fragments)).
			With("pages", result.Pages).
			With("skipped", len(result.Skipped))
		evt.ActorID = actor
		s.publisher.Publish(ctx, evt)
	}
	return result, nil
}

func (s *Service) publish(ctx context.Context, kind notifications.Kind, group *store.Group, actor int64) {
	evt := notifications.NewEvent(kind, group.ID)
	evt.Status = int(group.Status)
	evt.StatusText = group.Status.String()
	evt.ActorID = actor
	s.publisher.Publish(ctx, evt)
}

func (s *Service) groupLogger(ctx context.Context, groupID string) *slog.Logger {
	return logging.WithContext(services.WithGroupID(ctx, groupID), s.logger)
}
