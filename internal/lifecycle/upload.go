package lifecycle

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"cosflow/internal/logging"
	"cosflow/internal/merge"
	"cosflow/internal/notifications"
	"cosflow/internal/services"
	"cosflow/internal/store"
	"cosflow/internal/textutil"
)

const defaultMimeType = "application/octet-stream"

// Upload is one declared file of an upload batch.
type Upload struct {
	DocType  string
	FileName string
	MimeType string
	Content  []byte
}

// UploadResult summarises a committed upload batch.
type UploadResult struct {
	Group    *store.Group
	Created  bool
	Stored   []StoredDocument
	Merge    *merge.Result
	MergeErr error
}

// StoredDocument is the slot an upload landed in.
type StoredDocument struct {
	ID       int64
	DocType  store.DocType
	FileName string
	Replaced bool
}

func (s *Service) validateUpload(index int, up Upload) (store.DocumentInput, error) {
	field := func(name string) string { return fmt.Sprintf("uploads[%d].%s", index, name) }

	docType, ok := store.ParseDocType(up.DocType)
	if !ok {
		return store.DocumentInput{}, services.Wrap(services.ErrInvalidState, "lifecycle", "upload",
			fmt.Sprintf("unknown document type %q", up.DocType), nil)
	}
	name := textutil.NormalizeFileName(up.FileName)
	if name == "" {
		return store.DocumentInput{}, services.InvalidField(field("fileName"), "required")
	}
	if len(up.Content) == 0 {
		return store.DocumentInput{}, services.InvalidField(field("content"), "empty file")
	}
	if s.maxUploadBytes > 0 && int64(len(up.Content)) > s.maxUploadBytes {
		return store.DocumentInput{}, services.InvalidField(field("content"),
			fmt.Sprintf("%d bytes exceeds limit of %d", len(up.Content), s.maxUploadBytes))
	}
	return store.DocumentInput{
		DocType:  docType,
		FileName: name,
		MimeType: resolveMimeType(up.MimeType, name),
		Content:  up.Content,
	}, nil
}

func resolveMimeType(declared, name string) string {
	if declared = strings.TrimSpace(declared); declared != "" {
		if mediaType, _, err := mime.ParseMediaType(declared); err == nil {
			return mediaType
		}
	}
	if guessed := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); guessed != "" {
		if mediaType, _, err := mime.ParseMediaType(guessed); err == nil {
			return mediaType
		}
	}
	return defaultMimeType
}

// UploadDocuments validates and stores a batch of uploads, recomputes the
// group status and regenerates the merged artifact. The group is created on
// first upload. Storage is all-or-nothing; a merge failure after commit is
// reported in the result and as the returned error while the uploads stay.
func (s *Service) UploadDocuments(ctx context.Context, groupID string, actor int64, uploads []Upload) (*UploadResult, error) {
	groupID, err := NormalizeGroupID(groupID)
	if err != nil {
		return nil, err
	}
	if len(uploads) == 0 {
		return nil, services.InvalidField("uploads", "at least one file is required")
	}
	inputs := make([]store.DocumentInput, 0, len(uploads))
	for i, up := range uploads {
		in, err := s.validateUpload(i, up)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
	}

	now := s.now()
	result := &UploadResult{}
	err = s.store.InTx(ctx, func(tx *store.Tx) error {
		created, err := tx.InsertGroup(ctx, groupID, actor, now)
		if err != nil {
			return err
		}
		result.Created = created
		for _, in := range inputs {
			id, replaced, err := tx.UpsertDocument(ctx, groupID, in, actor, now)
			if err != nil {
				return err
			}
			result.Stored = append(result.Stored, StoredDocument{ID: id, DocType: in.DocType, FileName: in.FileName, Replaced: replaced})
		}
		if _, err := RecomputeStatus(ctx, tx, groupID, actor, now); err != nil {
			return err
		}
		result.Group, err = tx.GetGroup(ctx, groupID)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger := s.groupLogger(ctx, groupID)
	logger.Info("documents uploaded",
		logging.Int("count", len(result.Stored)),
		logging.String("status", result.Group.Status.String()),
		logging.ActorID(actor),
	)
	if result.Created {
		s.publish(ctx, notifications.KindGroupCreated, result.Group, actor)
	}
	evt := notifications.NewEvent(notifications.KindDocumentsUploaded, groupID).With("count", len(result.Stored))
	evt.Status = int(result.Group.Status)
	evt.StatusText = result.Group.Status.String()
	evt.ActorID = actor
	s.publisher.Publish(ctx, evt)

	result.Merge, result.MergeErr = s.Regenerate(ctx, groupID, actor)
	if result.MergeErr != nil {
		logging.ErrorWithContext(logger, "merge after upload failed", "merge_failed",
			logging.Error(result.MergeErr),
			logging.String(logging.FieldErrorHint, "fix or remove the offending uploads, then run group merge"),
		)
		return result, result.MergeErr
	}
	return result, nil
}
