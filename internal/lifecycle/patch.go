package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"cosflow/internal/services"
	"cosflow/internal/store"
)

// GroupPatch is the set of mutable group attributes.
type GroupPatch struct {
	AddOperatorCertificates []int64 `json:"addOperatorCertificates"`
}

// DecodeGroupPatch parses a JSON patch, rejecting unknown fields.
func DecodeGroupPatch(r io.Reader) (GroupPatch, error) {
	var patch GroupPatch
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		if errors.Is(err, io.EOF) {
			return patch, services.InvalidField("body", "empty patch")
		}
		if msg := err.Error(); strings.HasPrefix(msg, "json: unknown field ") {
			field := strings.Trim(strings.TrimPrefix(msg, "json: unknown field "), `"`)
			return patch, services.InvalidField(field, "unknown field")
		}
		return patch, services.InvalidField("body", err.Error())
	}
	if dec.More() {
		return patch, services.InvalidField("body", "trailing data after patch")
	}
	return patch, nil
}

// DecodeGroupPatchBytes is DecodeGroupPatch over a byte slice.
func DecodeGroupPatchBytes(data []byte) (GroupPatch, error) {
	return DecodeGroupPatch(bytes.NewReader(data))
}

// ApplyPatch applies an explicit group edit.
func (s *Service) ApplyPatch(ctx context.Context, groupID string, actor int64, patch GroupPatch) (*store.Group, error) {
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	if len(patch.AddOperatorCertificates) == 0 {
		return nil, services.InvalidField("addOperatorCertificates", fmt.Sprintf("nothing to change on group %q", groupID))
	}
	group, _, err := s.CreateOrTouch(ctx, groupID, actor, patch.AddOperatorCertificates)
	return group, err
}
