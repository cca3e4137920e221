package lifecycle

import (
	"context"
	"time"

	"cosflow/internal/store"
)

// RequiredSlots are the document types a group needs before it can circulate.
var RequiredSlots = []store.DocType{store.DocCOS, store.DocPFM, store.DocMO, store.DocWGS}

// DeriveStatus maps the set of present document types to a pre-circulation
// group status.
func DeriveStatus(present []store.DocType) store.GroupStatus {
	if len(present) == 0 {
		return store.GroupDraft
	}
	if len(MissingSlots(present)) == 0 {
		return store.GroupReady
	}
	return store.GroupIncomplete
}

// MissingSlots lists required types absent from present, in RequiredSlots order.
func MissingSlots(present []store.DocType) []store.DocType {
	have := make(map[store.DocType]struct{}, len(present))
	for _, t := range present {
		have[t] = struct{}{}
	}
	var missing []store.DocType
	for _, t := range RequiredSlots {
		if _, ok := have[t]; !ok {
			missing = append(missing, t)
		}
	}
	return missing
}

// RecomputeStatus writes the derived status of a group inside tx. Once the
// group has been circulated its status belongs to the evaluation workflow and
// only the last-edit fields are stamped.
func RecomputeStatus(ctx context.Context, tx *store.Tx, groupID string, actor int64, at time.Time) (store.GroupStatus, error) {
	circulated, err := tx.IsCirculated(ctx, groupID)
	if err != nil {
		return 0, err
	}
	if circulated {
		if err := tx.TouchGroup(ctx, groupID, actor, at); err != nil {
			return 0, err
		}
		group, err := tx.GetGroup(ctx, groupID)
		if err != nil {
			return 0, err
		}
		return group.Status, nil
	}

	present, err := tx.PresentDocTypes(ctx, groupID)
	if err != nil {
		return 0, err
	}
	status := DeriveStatus(present)
	if err := tx.SetGroupStatus(ctx, groupID, status, actor, at); err != nil {
		return 0, err
	}
	return status, nil
}
